// Package facts defines the records produced by the extraction front end
// (mods, definitions, overlay operations, reference edges, binary patches,
// method facts) and the read-only Snapshot the analyzers share.
package facts

import (
	"fmt"
	"strconv"

	"modcompat/internal/selector"
)

// OperationKind is the overlay instruction type.
type OperationKind string

const (
	OpSet             OperationKind = "Set"
	OpAppend          OperationKind = "Append"
	OpRemove          OperationKind = "Remove"
	OpInsertBefore    OperationKind = "InsertBefore"
	OpInsertAfter     OperationKind = "InsertAfter"
	OpSetAttribute    OperationKind = "SetAttribute"
	OpRemoveAttribute OperationKind = "RemoveAttribute"
)

// IsRemoving reports whether the kind deletes its target.
func (k OperationKind) IsRemoving() bool {
	return k == OpRemove || k == OpRemoveAttribute
}

// IsModifying reports whether the kind adds or changes content.
func (k OperationKind) IsModifying() bool {
	switch k {
	case OpSet, OpAppend, OpSetAttribute, OpInsertBefore, OpInsertAfter:
		return true
	}
	return false
}

// IsAdditive reports whether the kind only adds siblings or children.
func (k OperationKind) IsAdditive() bool {
	return k == OpAppend || k == OpInsertBefore || k == OpInsertAfter
}

// Reference context tags with meaning to the analyzers. The front end may
// emit others; they participate in the closure like any edge.
const (
	TagExtends          = "extends"
	TagGrantsBuff       = "grantsBuff"
	TagLootEntry        = "lootEntry"
	TagRecipeIngredient = "recipeIngredient"
	TagGroupMember      = "groupMember"
)

// SourceLocation points at the file and line a fact was extracted from.
type SourceLocation struct {
	File string `json:"file,omitempty" yaml:"file,omitempty" toml:"file,omitempty"`
	Line int    `json:"line,omitempty" yaml:"line,omitempty" toml:"line,omitempty"`
}

func (l SourceLocation) String() string {
	if l.File == "" {
		return ""
	}
	if l.Line > 0 {
		return l.File + ":" + strconv.Itoa(l.Line)
	}
	return l.File
}

// Mod is one independently authored set of overlays and/or patches.
type Mod struct {
	ID               string `json:"id" yaml:"id" toml:"id" validate:"required"`
	Name             string `json:"name" yaml:"name" toml:"name" validate:"required"`
	LoadOrder        int    `json:"loadOrder" yaml:"loadOrder" toml:"loadOrder"`
	HasDataOverlay   bool   `json:"hasDataOverlay" yaml:"hasDataOverlay" toml:"hasDataOverlay"`
	HasBinaryPatches bool   `json:"hasBinaryPatches" yaml:"hasBinaryPatches" toml:"hasBinaryPatches"`
}

// EntityKey identifies a definition by type and name.
type EntityKey struct {
	Type string
	Name string
}

func (k EntityKey) String() string {
	if k.Type == "" {
		return k.Name
	}
	return k.Type + ":" + k.Name
}

// Definition is one content definition in the base data or a mod.
type Definition struct {
	ID         string         `json:"id" yaml:"id" toml:"id" validate:"required"`
	EntityType string         `json:"entityType" yaml:"entityType" toml:"entityType" validate:"required"`
	Name       string         `json:"name" yaml:"name" toml:"name" validate:"required"`
	Source     SourceLocation `json:"source,omitempty" yaml:"source,omitempty" toml:"source,omitempty"`
	ParentName string         `json:"parentName,omitempty" yaml:"parentName,omitempty" toml:"parentName,omitempty"`
}

// Key returns the (entityType, name) identity of the definition.
func (d Definition) Key() EntityKey {
	return EntityKey{Type: d.EntityType, Name: d.Name}
}

// EffectKind distinguishes passive modifiers from triggered actions.
type EffectKind string

const (
	EffectPassive   EffectKind = "passive"
	EffectTriggered EffectKind = "triggered"
)

// EffectContext describes the named effect an operation addresses.
type EffectContext struct {
	Kind      EffectKind `json:"kind" yaml:"kind" toml:"kind" validate:"required,oneof=passive triggered"`
	OwnerType string     `json:"ownerType" yaml:"ownerType" toml:"ownerType"`
	OwnerName string     `json:"ownerName" yaml:"ownerName" toml:"ownerName"`

	// passive modifiers
	EffectName string `json:"effectName,omitempty" yaml:"effectName,omitempty" toml:"effectName,omitempty"`
	// Operation is the modifier type in effect after this edit, e.g.
	// base_add, perc_add, base_set, perc_set, base_subtract.
	Operation string `json:"operation,omitempty" yaml:"operation,omitempty" toml:"operation,omitempty"`
	Value     string `json:"value,omitempty" yaml:"value,omitempty" toml:"value,omitempty"`
	// EditedAttribute names which part of the modifier this edit changes:
	// "operation", "value", "both" or empty when unknown.
	EditedAttribute string `json:"editedAttribute,omitempty" yaml:"editedAttribute,omitempty" toml:"editedAttribute,omitempty"`

	// triggered actions
	ActionType     string `json:"actionType,omitempty" yaml:"actionType,omitempty" toml:"actionType,omitempty"`
	TargetVariable string `json:"targetVariable,omitempty" yaml:"targetVariable,omitempty" toml:"targetVariable,omitempty"`
	Arithmetic     string `json:"arithmetic,omitempty" yaml:"arithmetic,omitempty" toml:"arithmetic,omitempty"`
}

// Operation is a single overlay instruction contributed by one mod.
type Operation struct {
	ModID             string         `json:"modId" yaml:"modId" toml:"modId" validate:"required"`
	Kind              OperationKind  `json:"kind" yaml:"kind" toml:"kind" validate:"required,oneof=Set Append Remove InsertBefore InsertAfter SetAttribute RemoveAttribute"`
	RawSelector       string         `json:"rawSelector" yaml:"rawSelector" toml:"rawSelector" validate:"required"`
	CanonicalSelector string         `json:"canonicalSelector,omitempty" yaml:"canonicalSelector,omitempty" toml:"canonicalSelector,omitempty"`
	SelectorHash      string         `json:"selectorHash,omitempty" yaml:"selectorHash,omitempty" toml:"selectorHash,omitempty"`
	SelectorError     string         `json:"selectorError,omitempty" yaml:"selectorError,omitempty" toml:"selectorError,omitempty"`
	TargetFile        string         `json:"targetFile,omitempty" yaml:"targetFile,omitempty" toml:"targetFile,omitempty"`
	TargetEntityType  string         `json:"targetEntityType,omitempty" yaml:"targetEntityType,omitempty" toml:"targetEntityType,omitempty"`
	TargetEntityName  string         `json:"targetEntityName,omitempty" yaml:"targetEntityName,omitempty" toml:"targetEntityName,omitempty"`
	PropertyName      string         `json:"propertyName,omitempty" yaml:"propertyName,omitempty" toml:"propertyName,omitempty"`
	NewValue          *string        `json:"newValue,omitempty" yaml:"newValue,omitempty" toml:"newValue,omitempty"`
	Source            SourceLocation `json:"source,omitempty" yaml:"source,omitempty" toml:"source,omitempty"`
	Effect            *EffectContext `json:"effectContext,omitempty" yaml:"effectContext,omitempty" toml:"effectContext,omitempty"`
}

// ConflictKey is the file-scoped grouping key for same-target analysis.
func (o Operation) ConflictKey() string {
	return selector.ComputeScopedConflictKey(o.TargetFile, o.CanonicalSelector, string(o.Kind))
}

// EntityKey returns the targeted entity, if the front end resolved one.
func (o Operation) EntityKey() EntityKey {
	return EntityKey{Type: o.TargetEntityType, Name: o.TargetEntityName}
}

// TargetsWholeEntity reports whether the operation addresses an entity
// itself rather than one of its properties.
func (o Operation) TargetsWholeEntity() bool {
	return o.TargetEntityName != "" && o.PropertyName == ""
}

// ValidSelector reports whether the selector passed grammar validation.
func (o Operation) ValidSelector() bool {
	return o.SelectorError == ""
}

// Value returns the new value or the empty string.
func (o Operation) Value() string {
	if o.NewValue == nil {
		return ""
	}
	return *o.NewValue
}

// Target describes the operation target for explanations.
func (o Operation) Target() string {
	if o.TargetEntityName == "" {
		return o.CanonicalSelector
	}
	if o.PropertyName != "" {
		return o.EntityKey().String() + "." + o.PropertyName
	}
	return o.EntityKey().String()
}

// ReferenceEdge is a direct typed dependency from a definition to an entity.
type ReferenceEdge struct {
	SourceDefinitionID string `json:"sourceDefinitionId" yaml:"sourceDefinitionId" toml:"sourceDefinitionId" validate:"required"`
	TargetEntityType   string `json:"targetEntityType,omitempty" yaml:"targetEntityType,omitempty" toml:"targetEntityType,omitempty"`
	TargetEntityName   string `json:"targetEntityName" yaml:"targetEntityName" toml:"targetEntityName" validate:"required"`
	ContextTag         string `json:"contextTag" yaml:"contextTag" toml:"contextTag" validate:"required"`
	// ModID is the mod that contributed the referencing definition; empty
	// for the base dataset.
	ModID string `json:"modId,omitempty" yaml:"modId,omitempty" toml:"modId,omitempty"`
}

// InterceptionKind is how a binary patch hooks its target method.
type InterceptionKind string

const (
	Before           InterceptionKind = "Before"
	After            InterceptionKind = "After"
	BodyTransform    InterceptionKind = "BodyTransform"
	ExceptionHandler InterceptionKind = "ExceptionHandler"
)

// DefaultPatchPriority is the priority of a patch that declares none.
const DefaultPatchPriority = 400

// Patch is one binary interception patch.
type Patch struct {
	ID                 string           `json:"id,omitempty" yaml:"id,omitempty" toml:"id,omitempty"`
	ModID              string           `json:"modId" yaml:"modId" toml:"modId" validate:"required"`
	PatchContainerName string           `json:"patchContainerName" yaml:"patchContainerName" toml:"patchContainerName" validate:"required"`
	TargetEntityType   string           `json:"targetEntityType" yaml:"targetEntityType" toml:"targetEntityType" validate:"required"`
	TargetMethodName   string           `json:"targetMethodName" yaml:"targetMethodName" toml:"targetMethodName" validate:"required"`
	InterceptionKind   InterceptionKind `json:"interceptionKind" yaml:"interceptionKind" toml:"interceptionKind" validate:"required,oneof=Before After BodyTransform ExceptionHandler"`
	Priority           *int             `json:"priority,omitempty" yaml:"priority,omitempty" toml:"priority,omitempty"`
	BeforeIDs          []string         `json:"beforeIds,omitempty" yaml:"beforeIds,omitempty" toml:"beforeIds,omitempty"`
	AfterIDs           []string         `json:"afterIds,omitempty" yaml:"afterIds,omitempty" toml:"afterIds,omitempty"`
	CanVetoOriginal    bool             `json:"canVetoOriginal" yaml:"canVetoOriginal" toml:"canVetoOriginal"`
	MutatesReturnValue bool             `json:"mutatesReturnValue" yaml:"mutatesReturnValue" toml:"mutatesReturnValue"`
	MutatesSharedState bool             `json:"mutatesSharedState" yaml:"mutatesSharedState" toml:"mutatesSharedState"`
	IsGuarded          bool             `json:"isGuarded" yaml:"isGuarded" toml:"isGuarded"`
	GuardDescription   string           `json:"guardDescription,omitempty" yaml:"guardDescription,omitempty" toml:"guardDescription,omitempty"`
	IsDynamic          bool             `json:"isDynamic" yaml:"isDynamic" toml:"isDynamic"`
	ParameterSignature string           `json:"parameterSignature,omitempty" yaml:"parameterSignature,omitempty" toml:"parameterSignature,omitempty"`
	Source             SourceLocation   `json:"source,omitempty" yaml:"source,omitempty" toml:"source,omitempty"`
}

// PriorityValue returns the declared priority or DefaultPatchPriority.
func (p Patch) PriorityValue() int {
	if p.Priority == nil {
		return DefaultPatchPriority
	}
	return *p.Priority
}

// Target returns "Type.Method".
func (p Patch) Target() string {
	return p.TargetEntityType + "." + p.TargetMethodName
}

func (p Patch) defaultID() string {
	return fmt.Sprintf("%s/%s/%s/%s", p.ModID, p.PatchContainerName, p.InterceptionKind, p.Target())
}

// MethodFact is a code-side fact about a method of the base program.
type MethodFact struct {
	TypeName           string `json:"typeName" yaml:"typeName" toml:"typeName" validate:"required"`
	MethodName         string `json:"methodName" yaml:"methodName" toml:"methodName" validate:"required"`
	ParameterSignature string `json:"parameterSignature,omitempty" yaml:"parameterSignature,omitempty" toml:"parameterSignature,omitempty"`
	IsAbstract         bool   `json:"isAbstract" yaml:"isAbstract" toml:"isAbstract"`
	IsVirtual          bool   `json:"isVirtual" yaml:"isVirtual" toml:"isVirtual"`
	CallerCount        int    `json:"callerCount" yaml:"callerCount" toml:"callerCount"`
	IsEntryPoint       bool   `json:"isEntryPoint" yaml:"isEntryPoint" toml:"isEntryPoint"`
}

// Target returns "Type.Method".
func (m MethodFact) Target() string {
	return m.TypeName + "." + m.MethodName
}

// Bundle is the complete fact set for one analysis run, as decoded from the
// extraction front end.
type Bundle struct {
	Mods        []Mod           `json:"mods" yaml:"mods" toml:"mods" validate:"dive"`
	Definitions []Definition    `json:"definitions" yaml:"definitions" toml:"definitions" validate:"dive"`
	Operations  []Operation     `json:"operations" yaml:"operations" toml:"operations" validate:"dive"`
	Edges       []ReferenceEdge `json:"referenceEdges" yaml:"referenceEdges" toml:"referenceEdges" validate:"dive"`
	Patches     []Patch         `json:"patches" yaml:"patches" toml:"patches" validate:"dive"`
	Methods     []MethodFact    `json:"methods" yaml:"methods" toml:"methods" validate:"dive"`
}
