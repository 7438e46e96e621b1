package patches

import "modcompat/internal/facts"

// Pattern ids.
const (
	PatternCollision          = "PATCH_COLLISION"
	PatternTransformStack     = "PATCH_BODY_TRANSFORM_STACK"
	PatternSkipConflict       = "PATCH_SKIP_CONFLICT"
	PatternInheritanceOverlap = "PATCH_INHERITANCE_OVERLAP"
	PatternOrderingCycle      = "PATCH_ORDERING_CYCLE"
)

// Options configures the patch analyzer.
type Options struct {
	// DefaultPriority separates High from Medium skip conflicts.
	DefaultPriority int `json:"defaultPriority" mapstructure:"defaultPriority"`
	// ClassEntityTypes are definition types that model code classes; their
	// parentName links form the class hierarchy.
	ClassEntityTypes []string `json:"classEntityTypes" mapstructure:"classEntityTypes"`
	// MinIdentifierLength is the shortest before/after identifier matched
	// against mod names.
	MinIdentifierLength int `json:"minIdentifierLength" mapstructure:"minIdentifierLength"`
}

// DefaultOptions returns the default patch analyzer configuration.
func DefaultOptions() Options {
	return Options{
		DefaultPriority:     facts.DefaultPatchPriority,
		ClassEntityTypes:    []string{"class"},
		MinIdentifierLength: 3,
	}
}

// Entry is one patch in a simulated execution order.
type Entry struct {
	ModID          string                 `json:"modId"`
	PatchID        string                 `json:"patchId"`
	PatchContainer string                 `json:"patchContainer"`
	Kind           facts.InterceptionKind `json:"interceptionKind"`
	Priority       int                    `json:"priority"`
	LoadOrder      int                    `json:"loadOrder"`
	SequenceIndex  int                    `json:"sequenceIndex"`
	CanVeto        bool                   `json:"canVetoOriginal,omitempty"`
}

// ExecutionOrder is the simulated order of every patch on one target
// method. The original body runs between the body transforms and the
// After patches.
type ExecutionOrder struct {
	TargetEntityType string  `json:"targetEntityType"`
	TargetMethodName string  `json:"targetMethodName"`
	Entries          []Entry `json:"entries"`
}

// Target returns "Type.Method".
func (o ExecutionOrder) Target() string {
	return o.TargetEntityType + "." + o.TargetMethodName
}

// ByKind returns the entries of one interception kind in execution order.
func (o ExecutionOrder) ByKind(kind facts.InterceptionKind) []Entry {
	var out []Entry
	for _, e := range o.Entries {
		if e.Kind == kind {
			out = append(out, e)
		}
	}
	return out
}

// Priorities returns the priorities of one kind in execution order.
func (o ExecutionOrder) Priorities(kind facts.InterceptionKind) []int {
	var out []int
	for _, e := range o.ByKind(kind) {
		out = append(out, e.Priority)
	}
	return out
}

// SkippedBy returns the entries that do not run when the entry at index
// vetoes: later Before patches and the body transforms, which only exist
// inside the skipped original body.
func (o ExecutionOrder) SkippedBy(index int) []Entry {
	if index < 0 || index >= len(o.Entries) || o.Entries[index].Kind != facts.Before {
		return nil
	}
	var out []Entry
	for _, e := range o.Entries[index+1:] {
		if e.Kind == facts.Before || e.Kind == facts.BodyTransform {
			out = append(out, e)
		}
	}
	return out
}
