package facts

import (
	"sort"
	"strings"

	"modcompat/internal/selector"
)

// Snapshot is the immutable fact set one analysis run works on. Analyzers
// only read from it, so it may be shared across goroutines.
type Snapshot struct {
	Mods        []Mod
	Definitions []Definition
	Operations  []Operation
	Edges       []ReferenceEdge
	Patches     []Patch
	Methods     []MethodFact

	modIdx    map[string]int
	defIdx    map[string]int
	keyIdx    map[EntityKey]int
	nameIdx   map[string][]int
	methodIdx map[string]int
}

// NewSnapshot copies the bundle into a snapshot, canonicalizes every
// operation selector and fills derived fields (patch ids).
func NewSnapshot(b *Bundle) *Snapshot {
	s := &Snapshot{
		Mods:        append([]Mod(nil), b.Mods...),
		Definitions: append([]Definition(nil), b.Definitions...),
		Operations:  append([]Operation(nil), b.Operations...),
		Edges:       append([]ReferenceEdge(nil), b.Edges...),
		Patches:     append([]Patch(nil), b.Patches...),
		Methods:     append([]MethodFact(nil), b.Methods...),
	}
	for i := range s.Operations {
		CanonicalizeOperation(&s.Operations[i])
	}
	for i := range s.Patches {
		if s.Patches[i].ID == "" {
			s.Patches[i].ID = s.Patches[i].defaultID()
		}
	}
	s.index()
	return s
}

// CanonicalizeOperation fills the canonical selector, its hash and the
// syntax error (if any) from the raw selector.
func CanonicalizeOperation(op *Operation) {
	res := selector.Canonicalize(op.RawSelector)
	op.CanonicalSelector = res.Canonical
	op.SelectorHash = res.Hash
	op.SelectorError = res.SyntaxError
}

func (s *Snapshot) index() {
	s.modIdx = make(map[string]int, len(s.Mods))
	for i, m := range s.Mods {
		s.modIdx[m.ID] = i
	}
	s.defIdx = make(map[string]int, len(s.Definitions))
	s.keyIdx = make(map[EntityKey]int, len(s.Definitions))
	s.nameIdx = make(map[string][]int, len(s.Definitions))
	for i, d := range s.Definitions {
		s.defIdx[d.ID] = i
		if _, dup := s.keyIdx[d.Key()]; !dup {
			s.keyIdx[d.Key()] = i
		}
		s.nameIdx[d.Name] = append(s.nameIdx[d.Name], i)
	}
	s.methodIdx = make(map[string]int, len(s.Methods))
	for i, m := range s.Methods {
		s.methodIdx[m.Target()] = i
	}
}

// Mod returns the mod with the given id.
func (s *Snapshot) Mod(id string) (Mod, bool) {
	i, ok := s.modIdx[id]
	if !ok {
		return Mod{}, false
	}
	return s.Mods[i], true
}

// ModExists reports whether id names a mod in the snapshot.
func (s *Snapshot) ModExists(id string) bool {
	_, ok := s.modIdx[id]
	return ok
}

// LoadOrder returns the load order of a mod, or -1 for unknown mods.
func (s *Snapshot) LoadOrder(modID string) int {
	if m, ok := s.Mod(modID); ok {
		return m.LoadOrder
	}
	return -1
}

// ModName returns the display name of a mod, falling back to its id.
func (s *Snapshot) ModName(modID string) string {
	if m, ok := s.Mod(modID); ok && m.Name != "" {
		return m.Name
	}
	return modID
}

// Definition returns the definition with the given id.
func (s *Snapshot) Definition(id string) (Definition, bool) {
	i, ok := s.defIdx[id]
	if !ok {
		return Definition{}, false
	}
	return s.Definitions[i], true
}

// DefinitionExists reports whether id names a definition in the snapshot.
func (s *Snapshot) DefinitionExists(id string) bool {
	_, ok := s.defIdx[id]
	return ok
}

// Resolve finds the definition for an entity key. An empty type resolves by
// name when exactly one definition carries that name.
func (s *Snapshot) Resolve(key EntityKey) (Definition, bool) {
	if key.Type != "" {
		i, ok := s.keyIdx[key]
		if !ok {
			return Definition{}, false
		}
		return s.Definitions[i], true
	}
	idx := s.nameIdx[key.Name]
	if len(idx) != 1 {
		return Definition{}, false
	}
	return s.Definitions[idx[0]], true
}

// Method returns the method fact for Type.Method.
func (s *Snapshot) Method(typeName, methodName string) (MethodFact, bool) {
	i, ok := s.methodIdx[typeName+"."+methodName]
	if !ok {
		return MethodFact{}, false
	}
	return s.Methods[i], true
}

// ModIDs returns all mod ids in load order.
func (s *Snapshot) ModIDs() []string {
	mods := append([]Mod(nil), s.Mods...)
	sort.SliceStable(mods, func(i, j int) bool { return mods[i].LoadOrder < mods[j].LoadOrder })
	ids := make([]string, len(mods))
	for i, m := range mods {
		ids[i] = m.ID
	}
	return ids
}

// FindMods resolves names or ids (case-insensitive) to mod ids. Unknown
// names are returned separately.
func (s *Snapshot) FindMods(names []string) (ids []string, unknown []string) {
	for _, n := range names {
		found := false
		for _, m := range s.Mods {
			if strings.EqualFold(m.ID, n) || strings.EqualFold(m.Name, n) {
				ids = append(ids, m.ID)
				found = true
				break
			}
		}
		if !found {
			unknown = append(unknown, n)
		}
	}
	return ids, unknown
}

// Restrict returns a snapshot containing only the given mods and the facts
// they contribute. Base definitions and base reference edges are kept.
func (s *Snapshot) Restrict(modIDs []string) *Snapshot {
	keep := make(map[string]bool, len(modIDs))
	for _, id := range modIDs {
		keep[id] = true
	}

	r := &Snapshot{
		Definitions: s.Definitions,
		Methods:     s.Methods,
	}
	for _, m := range s.Mods {
		if keep[m.ID] {
			r.Mods = append(r.Mods, m)
		}
	}
	for _, op := range s.Operations {
		if keep[op.ModID] {
			r.Operations = append(r.Operations, op)
		}
	}
	for _, e := range s.Edges {
		if e.ModID == "" || keep[e.ModID] {
			r.Edges = append(r.Edges, e)
		}
	}
	for _, p := range s.Patches {
		if keep[p.ModID] {
			r.Patches = append(r.Patches, p)
		}
	}
	r.index()
	return r
}
