// Package relevance ranks findings by how much the conflicting content
// matters: how connected it is, what kind of entity it is, how many mods
// reach it and what its names suggest.
package relevance

import (
	"log/slog"
	"strings"

	"modcompat/internal/facts"
	"modcompat/internal/findings"
	"modcompat/internal/refgraph"
)

// Item is the set of signals a score is computed from.
type Item struct {
	Names             []string `json:"names"`
	EntityTypes       []string `json:"entityTypes"`
	Usage             int      `json:"usage"`
	EntryPoint        bool     `json:"entryPoint"`
	BinaryPatched     bool     `json:"binaryPatched"`
	OverlayReferenced bool     `json:"overlayReferenced"`
	ModCodeReferenced bool     `json:"modCodeReferenced"`
	Unreachable       bool     `json:"unreachable"`
}

// Score is a weighted relevance score with its sub-scores.
type Score struct {
	Connectivity      float64 `json:"connectivity"`
	EntityType        float64 `json:"entityType"`
	ModCrossReference float64 `json:"modCrossReference"`
	Keyword           float64 `json:"keyword"`
	ArtifactPenalty   float64 `json:"artifactPenalty"`
	Total             float64 `json:"total"`
}

// Scored pairs a finding id with its score.
type Scored struct {
	FindingID string `json:"findingId"`
	Score     Score  `json:"score"`
}

// Scorer computes relevance scores with one profile.
type Scorer struct {
	profile *Profile
	logger  *slog.Logger
}

// NewScorer creates a scorer. A nil profile selects DefaultProfile.
func NewScorer(profile *Profile, logger *slog.Logger) *Scorer {
	if profile == nil {
		profile = DefaultProfile()
	}
	return &Scorer{profile: profile, logger: logger}
}

// Profile returns the active profile.
func (s *Scorer) Profile() *Profile {
	return s.profile
}

// Score combines the sub-scores of one item.
func (s *Scorer) Score(item Item) Score {
	p := s.profile
	var sc Score

	usage := float64(item.Usage) * p.Connectivity.PerUse
	if usage > p.Connectivity.UsageCap {
		usage = p.Connectivity.UsageCap
	}
	if item.EntryPoint {
		usage += p.Connectivity.EntryPoint
	}
	sc.Connectivity = connectivityRange.clamp(usage)

	for _, t := range item.EntityTypes {
		if v, ok := p.EntityTypes[strings.ToLower(t)]; ok && v > sc.EntityType {
			sc.EntityType = v
		}
	}
	sc.EntityType = entityTypeRange.clamp(sc.EntityType)

	var xref float64
	if item.BinaryPatched {
		xref += p.CrossReference.BinaryPatch
	}
	if item.OverlayReferenced {
		xref += p.CrossReference.DataOverlay
	}
	if item.ModCodeReferenced {
		xref += p.CrossReference.ModCode
	}
	sc.ModCrossReference = crossReferenceRange.clamp(xref)

	text := strings.ToLower(strings.Join(item.Names, " "))
	var kw float64
	for _, k := range p.Keywords {
		if strings.Contains(text, strings.ToLower(k.Word)) {
			kw += k.Points * k.Multiplier
		}
	}
	sc.Keyword = keywordRange.clamp(kw)

	var penalty float64
	if item.Unreachable {
		penalty += p.Penalties.Unreachable
	}
	if strings.Contains(text, "debug") || strings.Contains(text, "test") {
		penalty += p.Penalties.DebugOrTest
	}
	if strings.Contains(text, "todo") || strings.Contains(text, "fixme") {
		penalty += p.Penalties.TodoNote
	}
	sc.ArtifactPenalty = penaltyRange.clamp(penalty)

	total := sc.Connectivity*p.Weights.Connectivity +
		sc.EntityType*p.Weights.EntityType +
		sc.ModCrossReference*p.Weights.ModCrossReference +
		sc.Keyword*p.Weights.Keyword +
		sc.ArtifactPenalty
	sc.Total = p.Total.clamp(total)
	return sc
}

// ScoreFindings scores every finding against the facts it names.
func (s *Scorer) ScoreFindings(snap *facts.Snapshot, closure *refgraph.Closure, fs []findings.Finding) []Scored {
	idx := newIndex(snap, closure)
	out := make([]Scored, 0, len(fs))
	for _, f := range fs {
		out = append(out, Scored{FindingID: f.ID, Score: s.Score(idx.item(f))})
	}
	s.logger.Debug("Scored findings", "count", len(out), "profile", s.profile.Name)
	return out
}

// ItemForFinding derives the scoring signals of one finding.
func ItemForFinding(snap *facts.Snapshot, closure *refgraph.Closure, f findings.Finding) Item {
	return newIndex(snap, closure).item(f)
}

// index holds the per-run lookups used to derive items.
type index struct {
	snap       *facts.Snapshot
	closure    *refgraph.Closure
	patches    map[string]facts.Patch
	patchedBy  map[string]bool
	overlayed  map[string]bool
	modCodeRef map[string]bool
}

func newIndex(snap *facts.Snapshot, closure *refgraph.Closure) *index {
	if closure == nil {
		closure = refgraph.NewClosure(nil)
	}
	idx := &index{
		snap:       snap,
		closure:    closure,
		patches:    make(map[string]facts.Patch, len(snap.Patches)),
		patchedBy:  make(map[string]bool),
		overlayed:  make(map[string]bool),
		modCodeRef: make(map[string]bool),
	}
	for _, p := range snap.Patches {
		idx.patches[p.ID] = p
		idx.patchedBy[p.TargetEntityType] = true
	}
	for _, op := range snap.Operations {
		if op.TargetEntityName == "" {
			continue
		}
		if d, ok := snap.Resolve(op.EntityKey()); ok {
			idx.overlayed[d.ID] = true
		}
	}
	for _, e := range snap.Edges {
		if e.ModID == "" {
			continue
		}
		if d, ok := snap.Resolve(facts.EntityKey{Type: e.TargetEntityType, Name: e.TargetEntityName}); ok {
			idx.modCodeRef[d.ID] = true
		}
	}
	return idx
}

func (idx *index) item(f findings.Finding) Item {
	var it Item
	if f.Category == findings.CategoryPatch {
		it.BinaryPatched = true
	}
	for _, id := range f.Participants.Entities {
		if d, ok := idx.snap.Definition(id); ok {
			it.Names = append(it.Names, d.Name)
			it.EntityTypes = append(it.EntityTypes, d.EntityType)
			it.Usage += idx.closure.DependentCount(d.ID)
			if idx.patchedBy[d.Name] {
				it.BinaryPatched = true
			}
			if idx.overlayed[d.ID] {
				it.OverlayReferenced = true
			}
			if idx.modCodeRef[d.ID] {
				it.ModCodeReferenced = true
			}
			continue
		}
		if p, ok := idx.patches[id]; ok {
			it.Names = append(it.Names, p.PatchContainerName, p.TargetEntityType, p.TargetMethodName)
			it.BinaryPatched = true
			if m, ok := idx.snap.Method(p.TargetEntityType, p.TargetMethodName); ok {
				it.Usage += m.CallerCount
				it.EntryPoint = it.EntryPoint || m.IsEntryPoint
				if m.CallerCount == 0 && !m.IsEntryPoint {
					it.Unreachable = true
				}
			}
			if d, ok := idx.snap.Resolve(facts.EntityKey{Name: p.TargetEntityType}); ok {
				it.EntityTypes = append(it.EntityTypes, d.EntityType)
			}
			continue
		}
		it.Names = append(it.Names, id)
	}
	return it
}
