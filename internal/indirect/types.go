package indirect

import (
	"modcompat/internal/facts"
	"modcompat/internal/findings"
	"modcompat/internal/refgraph"
)

// Pattern ids, one per rule.
const (
	PatternDeletedEntityReferenced     = "INDIRECT_DELETED_ENTITY_REFERENCED"
	PatternBrokenInheritanceChain      = "INDIRECT_BROKEN_INHERITANCE_CHAIN"
	PatternConflictingBaseValues       = "INDIRECT_CONFLICTING_BASE_VALUES"
	PatternOrphanedEffectApplication   = "INDIRECT_ORPHANED_EFFECT_APPLICATION"
	PatternTransitivePropertyOverride  = "INDIRECT_TRANSITIVE_PROPERTY_OVERRIDE"
	PatternSharedInheritanceMod        = "INDIRECT_SHARED_INHERITANCE_MODIFICATION"
	PatternDependencyRemovedTransitive = "INDIRECT_DEPENDENCY_REMOVED_TRANSITIVELY"
	PatternAdditiveStacking            = "INDIRECT_ADDITIVE_STACKING"
	PatternRelatedGroupModification    = "INDIRECT_RELATED_GROUP_MODIFICATION"
)

// Options configures the indirect rules.
type Options struct {
	// EffectEntityTypes are entity types that represent applied effects.
	EffectEntityTypes []string `json:"effectEntityTypes" mapstructure:"effectEntityTypes"`
	// ApplyEffectTags are reference context tags meaning "applies effect".
	ApplyEffectTags []string `json:"applyEffectTags" mapstructure:"applyEffectTags"`
	// GroupMemberTag marks membership edges from a member to its group.
	GroupMemberTag string `json:"groupMemberTag" mapstructure:"groupMemberTag"`
	// SharedRootMinDependents is how many inheriting definitions make a
	// root definition "shared".
	SharedRootMinDependents int `json:"sharedRootMinDependents" mapstructure:"sharedRootMinDependents"`
	// DisabledRules lists pattern ids to skip.
	DisabledRules []string `json:"disabledRules" mapstructure:"disabledRules"`
}

// DefaultOptions returns the default rule configuration.
func DefaultOptions() Options {
	return Options{
		EffectEntityTypes:       []string{"buff"},
		ApplyEffectTags:         []string{facts.TagGrantsBuff, "appliesBuff"},
		GroupMemberTag:          facts.TagGroupMember,
		SharedRootMinDependents: 5,
	}
}

// Rule is one pure pattern matcher over the facts and the closure.
type Rule struct {
	ID          string
	Tier        findings.Severity
	Description string
	Eval        func(in *Input) []findings.Finding
}

// Result is the outcome of one indirect analysis.
type Result struct {
	Findings []findings.Finding
	// Failed lists rules that faulted; their findings are absent.
	Failed []findings.Diagnostic
}

// Input is the read-only view every rule evaluates against, with indexes
// shared by the rules.
type Input struct {
	Snap    *facts.Snapshot
	Closure *refgraph.Closure
	Opts    Options

	opsByDef  map[string][]facts.Operation
	removedBy map[string]map[string]bool
	incoming  map[string][]facts.ReferenceEdge
}

// NewInput indexes the snapshot for rule evaluation.
func NewInput(snap *facts.Snapshot, closure *refgraph.Closure, opts Options) *Input {
	in := &Input{
		Snap:      snap,
		Closure:   closure,
		Opts:      opts,
		opsByDef:  make(map[string][]facts.Operation),
		removedBy: make(map[string]map[string]bool),
		incoming:  make(map[string][]facts.ReferenceEdge),
	}
	for _, e := range snap.Edges {
		if !snap.DefinitionExists(e.SourceDefinitionID) {
			continue
		}
		if d, ok := snap.Resolve(facts.EntityKey{Type: e.TargetEntityType, Name: e.TargetEntityName}); ok && d.ID != e.SourceDefinitionID {
			in.incoming[d.ID] = append(in.incoming[d.ID], e)
		}
	}
	for _, op := range snap.Operations {
		d, ok := in.Target(op)
		if !ok {
			continue
		}
		in.opsByDef[d.ID] = append(in.opsByDef[d.ID], op)
		if op.Kind == facts.OpRemove && op.TargetsWholeEntity() {
			if in.removedBy[d.ID] == nil {
				in.removedBy[d.ID] = make(map[string]bool)
			}
			in.removedBy[d.ID][op.ModID] = true
		}
	}
	return in
}

// Target resolves the definition an operation addresses.
func (in *Input) Target(op facts.Operation) (facts.Definition, bool) {
	if op.TargetEntityName == "" {
		return facts.Definition{}, false
	}
	return in.Snap.Resolve(op.EntityKey())
}

// Ops returns the operations addressing a definition.
func (in *Input) Ops(defID string) []facts.Operation {
	return in.opsByDef[defID]
}

// EditorsOf returns the mods other than exclude with any operation on the
// definition, in operation order.
func (in *Input) EditorsOf(defID, exclude string) []string {
	seen := make(map[string]bool)
	var mods []string
	for _, op := range in.opsByDef[defID] {
		if op.ModID == exclude || seen[op.ModID] {
			continue
		}
		seen[op.ModID] = true
		mods = append(mods, op.ModID)
	}
	return mods
}

// Incoming returns the direct reference edges resolving to a definition.
// Implicit extends edges are not included.
func (in *Input) Incoming(defID string) []facts.ReferenceEdge {
	return in.incoming[defID]
}

// RemovedBy reports whether mod removes the whole definition.
func (in *Input) RemovedBy(defID, mod string) bool {
	return in.removedBy[defID][mod]
}

// Removals returns every whole-entity Remove operation with its resolved
// definition.
func (in *Input) Removals() []Removal {
	var out []Removal
	for _, op := range in.Snap.Operations {
		if op.Kind != facts.OpRemove || !op.TargetsWholeEntity() {
			continue
		}
		if d, ok := in.Target(op); ok {
			out = append(out, Removal{Op: op, Def: d})
		}
	}
	return out
}

// Removal pairs a whole-entity Remove with its target definition.
type Removal struct {
	Op  facts.Operation
	Def facts.Definition
}

func (in *Input) isEffectType(entityType string) bool {
	return contains(in.Opts.EffectEntityTypes, entityType)
}

func (in *Input) isApplyTag(tag string) bool {
	return contains(in.Opts.ApplyEffectTags, tag)
}

func contains(list []string, s string) bool {
	for _, v := range list {
		if v == s {
			return true
		}
	}
	return false
}
