// Package testutil provides builders for fact snapshots used across the
// analyzer tests.
package testutil

import (
	"os"
	"path/filepath"
	"runtime"
	"testing"

	"modcompat/internal/facts"
)

// SnapshotBuilder assembles a fact bundle fluently.
type SnapshotBuilder struct {
	bundle facts.Bundle
}

// NewSnapshotBuilder creates an empty builder.
func NewSnapshotBuilder() *SnapshotBuilder {
	return &SnapshotBuilder{}
}

// Mod adds a mod with the given load order; the name equals the id.
func (b *SnapshotBuilder) Mod(id string, loadOrder int) *SnapshotBuilder {
	b.bundle.Mods = append(b.bundle.Mods, facts.Mod{
		ID:             id,
		Name:           id,
		LoadOrder:      loadOrder,
		HasDataOverlay: true,
	})
	return b
}

// NamedMod adds a mod whose display name differs from its id.
func (b *SnapshotBuilder) NamedMod(id, name string, loadOrder int) *SnapshotBuilder {
	b.bundle.Mods = append(b.bundle.Mods, facts.Mod{ID: id, Name: name, LoadOrder: loadOrder, HasDataOverlay: true})
	return b
}

// Def adds a definition.
func (b *SnapshotBuilder) Def(id, entityType, name, parent string) *SnapshotBuilder {
	b.bundle.Definitions = append(b.bundle.Definitions, facts.Definition{
		ID:         id,
		EntityType: entityType,
		Name:       name,
		ParentName: parent,
	})
	return b
}

// Edge adds a reference edge.
func (b *SnapshotBuilder) Edge(sourceID, targetType, targetName, tag string) *SnapshotBuilder {
	b.bundle.Edges = append(b.bundle.Edges, facts.ReferenceEdge{
		SourceDefinitionID: sourceID,
		TargetEntityType:   targetType,
		TargetEntityName:   targetName,
		ContextTag:         tag,
	})
	return b
}

// Op adds an overlay operation.
func (b *SnapshotBuilder) Op(op facts.Operation) *SnapshotBuilder {
	b.bundle.Operations = append(b.bundle.Operations, op)
	return b
}

// Set adds a Set operation on an entity property.
func (b *SnapshotBuilder) Set(modID, entityType, name, property, value string) *SnapshotBuilder {
	return b.Op(facts.Operation{
		ModID:            modID,
		Kind:             facts.OpSet,
		RawSelector:      PropertySelector(entityType, name, property),
		TargetEntityType: entityType,
		TargetEntityName: name,
		PropertyName:     property,
		NewValue:         Str(value),
	})
}

// Append adds an Append operation under an entity.
func (b *SnapshotBuilder) Append(modID, entityType, name, value string) *SnapshotBuilder {
	return b.Op(facts.Operation{
		ModID:            modID,
		Kind:             facts.OpAppend,
		RawSelector:      EntitySelector(entityType, name),
		TargetEntityType: entityType,
		TargetEntityName: name,
		NewValue:         Str(value),
	})
}

// Remove adds a Remove operation on a whole entity.
func (b *SnapshotBuilder) Remove(modID, entityType, name string) *SnapshotBuilder {
	return b.Op(facts.Operation{
		ModID:            modID,
		Kind:             facts.OpRemove,
		RawSelector:      EntitySelector(entityType, name),
		TargetEntityType: entityType,
		TargetEntityName: name,
	})
}

// Patch adds a binary patch.
func (b *SnapshotBuilder) Patch(p facts.Patch) *SnapshotBuilder {
	b.bundle.Patches = append(b.bundle.Patches, p)
	return b
}

// Method adds a method fact.
func (b *SnapshotBuilder) Method(m facts.MethodFact) *SnapshotBuilder {
	b.bundle.Methods = append(b.bundle.Methods, m)
	return b
}

// Bundle returns a copy of the assembled bundle.
func (b *SnapshotBuilder) Bundle() *facts.Bundle {
	cp := b.bundle
	return &cp
}

// Build validates the bundle and returns its snapshot, failing the test on
// invalid facts.
func (b *SnapshotBuilder) Build(t *testing.T) *facts.Snapshot {
	t.Helper()
	if err := facts.Validate(&b.bundle); err != nil {
		t.Fatalf("invalid test bundle: %v", err)
	}
	return facts.NewSnapshot(&b.bundle)
}

// EntitySelector returns the overlay selector for an entity.
func EntitySelector(entityType, name string) string {
	return "/" + entityType + "s/" + entityType + "[@name='" + name + "']"
}

// PropertySelector returns the overlay selector for an entity property.
func PropertySelector(entityType, name, property string) string {
	return EntitySelector(entityType, name) + "/property[@name='" + property + "']/@value"
}

// Str returns a pointer to s.
func Str(s string) *string { return &s }

// Int returns a pointer to n.
func Int(n int) *int { return &n }

// TestdataPath returns the absolute path of a file under the repository's
// testdata directory.
func TestdataPath(t *testing.T, name string) string {
	t.Helper()
	_, file, _, ok := runtime.Caller(0)
	if !ok {
		t.Fatal("Failed to get caller information")
	}
	path := filepath.Join(filepath.Dir(file), "..", "..", "testdata", name)
	if _, err := os.Stat(path); err != nil {
		t.Fatalf("testdata file not found: %s", path)
	}
	return path
}
