// Package direct finds conflicts visible at the raw overlay-operation level:
// several mods writing the same location, edits to something another mod
// removes, and entities many mods fight over.
package direct

import (
	"context"
	"fmt"
	"log/slog"
	"sort"
	"strings"

	"modcompat/internal/facts"
	"modcompat/internal/findings"
	"modcompat/internal/selector"
)

// Analyzer runs the direct conflict rules.
type Analyzer struct {
	opts   Options
	logger *slog.Logger
}

// NewAnalyzer creates a direct conflict analyzer.
func NewAnalyzer(opts Options, logger *slog.Logger) *Analyzer {
	return &Analyzer{opts: opts, logger: logger}
}

// Name identifies the analyzer in diagnostics.
func (a *Analyzer) Name() string { return "direct" }

// Analyze runs every direct rule against the snapshot.
func (a *Analyzer) Analyze(ctx context.Context, snap *facts.Snapshot) ([]findings.Finding, error) {
	var out []findings.Finding
	out = append(out, a.SameTargetCollisions(snap)...)
	if err := ctx.Err(); err != nil {
		return nil, err
	}
	out = append(out, a.DestructiveConflicts(snap)...)
	out = append(out, a.ContestedEntities(snap)...)

	a.logger.Debug("Direct analysis complete",
		"operations", len(snap.Operations),
		"findings", len(out),
	)
	return out, nil
}

type keyGroup struct {
	key string
	ops []facts.Operation
}

// groupByKey groups operations by file-scoped conflict key, in order of
// first appearance.
func groupByKey(ops []facts.Operation) []keyGroup {
	idx := make(map[string]int)
	var groups []keyGroup
	for _, op := range ops {
		k := op.ConflictKey()
		i, ok := idx[k]
		if !ok {
			i = len(groups)
			idx[k] = i
			groups = append(groups, keyGroup{key: k})
		}
		groups[i].ops = append(groups[i].ops, op)
	}
	return groups
}

func distinctMods(ops []facts.Operation) []string {
	seen := make(map[string]bool)
	var mods []string
	for _, op := range ops {
		if !seen[op.ModID] {
			seen[op.ModID] = true
			mods = append(mods, op.ModID)
		}
	}
	return mods
}

// winningOp returns the operation applied last: the one from the mod with
// the highest load order, and the last of that mod's operations.
func winningOp(snap *facts.Snapshot, ops []facts.Operation) facts.Operation {
	best := ops[0]
	for _, op := range ops[1:] {
		if snap.LoadOrder(op.ModID) >= snap.LoadOrder(best.ModID) {
			best = op
		}
	}
	return best
}

// Classify decides how the writes in one conflict-key group relate. More
// than one distinct non-null value is a real conflict. Otherwise a group
// made only of Append/Insert operations is complementary.
func Classify(ops []facts.Operation) Classification {
	additive := true
	values := make(map[string]bool)
	for _, op := range ops {
		if !op.Kind.IsAdditive() {
			additive = false
		}
		if op.NewValue != nil {
			values[*op.NewValue] = true
		}
	}
	switch {
	case len(values) > 1:
		return RealConflict
	case additive:
		return Complementary
	default:
		return SameValue
	}
}

func (a *Analyzer) baseSeverity(ops []facts.Operation) findings.Severity {
	for _, op := range ops {
		if op.Kind.IsRemoving() {
			return findings.SeverityHigh
		}
	}
	for _, op := range ops {
		if a.opts.isCoreType(op.TargetEntityType) || a.opts.isReserved(op.TargetEntityName) {
			return findings.SeverityMedium
		}
	}
	return findings.SeverityLow
}

func allValid(ops ...facts.Operation) bool {
	for _, op := range ops {
		if !op.ValidSelector() {
			return false
		}
	}
	return true
}

func entityRefs(snap *facts.Snapshot, ops []facts.Operation) []string {
	var refs []string
	for _, op := range ops {
		refs = append(refs, entityRef(snap, op))
	}
	return refs
}

// entityRef names an operation target by definition id when it resolves,
// by entity key otherwise, and by canonical selector as a last resort.
func entityRef(snap *facts.Snapshot, op facts.Operation) string {
	if op.TargetEntityName == "" {
		return op.CanonicalSelector
	}
	if d, ok := snap.Resolve(op.EntityKey()); ok {
		return d.ID
	}
	return op.EntityKey().String()
}

// SameTargetCollisions reports conflict-key groups written by two or more
// mods, one finding per group.
func (a *Analyzer) SameTargetCollisions(snap *facts.Snapshot) []findings.Finding {
	var out []findings.Finding
	for _, g := range groupByKey(snap.Operations) {
		mods := distinctMods(g.ops)
		if len(mods) < 2 {
			continue
		}
		class := Classify(g.ops)
		conf := findings.ConfidenceHigh
		switch class {
		case Complementary:
			conf = findings.ConfidenceMedium
		case SameValue:
			conf = findings.ConfidenceLow
		}
		if !allValid(g.ops...) {
			conf = conf.Downgrade()
		}

		win := winningOp(snap, g.ops)
		values := make(map[string]string, len(g.ops))
		for _, op := range g.ops {
			values[op.ModID] = op.Value()
		}

		explanation := fmt.Sprintf("%d mods write %s (%s): %s; %s loads last and wins",
			len(mods), g.ops[0].CanonicalSelector, describeKinds(g.ops), strings.ToLower(string(class)), snap.ModName(win.ModID))

		f := findings.New(PatternSameTarget, findings.CategoryDirect, a.baseSeverity(g.ops), conf,
			mods, entityRefs(snap, g.ops), g.key, explanation).
			With("classification", string(class)).
			With("selector", g.ops[0].CanonicalSelector).
			With("winner", win.ModID).
			With("winningValue", win.Value()).
			With("values", values)
		if g.ops[0].TargetFile != "" {
			f = f.With("targetFile", g.ops[0].TargetFile)
		}
		out = append(out, f)
	}
	return out
}

func describeKinds(ops []facts.Operation) string {
	seen := make(map[facts.OperationKind]bool)
	var kinds []string
	for _, op := range ops {
		if !seen[op.Kind] {
			seen[op.Kind] = true
			kinds = append(kinds, string(op.Kind))
		}
	}
	sort.Strings(kinds)
	return strings.Join(kinds, "/")
}

// destroys reports whether remover deletes the location editor writes:
// both address the same key, the removed node is an ancestor of the edited
// one, or the whole edited entity is removed.
func destroys(remover, editor facts.Operation) bool {
	if remover.TargetFile != editor.TargetFile {
		return false
	}
	if remover.ConflictKey() == editor.ConflictKey() {
		return remover.PropertyName == "" || editor.PropertyName == "" || remover.PropertyName == editor.PropertyName
	}
	if remover.Kind != facts.OpRemove {
		return false
	}
	if selector.IsPrefixPath(remover.CanonicalSelector, editor.CanonicalSelector) {
		return true
	}
	return remover.TargetsWholeEntity() && remover.EntityKey() == editor.EntityKey()
}

// DestructiveConflicts reports edits from one mod to locations another mod
// removes. Pairs are reported once per (editor mod, remover mod, removed
// location).
func (a *Analyzer) DestructiveConflicts(snap *facts.Snapshot) []findings.Finding {
	var removers, editors []facts.Operation
	for _, op := range snap.Operations {
		switch {
		case op.Kind.IsRemoving():
			removers = append(removers, op)
		case op.Kind.IsModifying():
			editors = append(editors, op)
		}
	}

	type pairKey struct{ editor, remover, key string }
	type pair struct {
		remover facts.Operation
		edits   []facts.Operation
	}
	var order []pairKey
	pairs := make(map[pairKey]*pair)
	for _, r := range removers {
		for _, e := range editors {
			if e.ModID == r.ModID || !destroys(r, e) {
				continue
			}
			k := pairKey{editor: e.ModID, remover: r.ModID, key: r.ConflictKey()}
			p, ok := pairs[k]
			if !ok {
				p = &pair{remover: r}
				pairs[k] = p
				order = append(order, k)
			}
			p.edits = append(p.edits, e)
		}
	}

	var out []findings.Finding
	for _, k := range order {
		p := pairs[k]
		editorOrder, removerOrder := snap.LoadOrder(k.editor), snap.LoadOrder(k.remover)
		outcome, winner := EditorWins, k.editor
		if removerOrder > editorOrder {
			outcome, winner = RemoverWins, k.remover
		}

		conf := findings.ConfidenceHigh
		if !allValid(append([]facts.Operation{p.remover}, p.edits...)...) {
			conf = conf.Downgrade()
		}

		var explanation string
		if outcome == RemoverWins {
			explanation = fmt.Sprintf("%s edits %s but %s (later in load order) removes %s; the edit is lost",
				snap.ModName(k.editor), p.edits[0].Target(), snap.ModName(k.remover), p.remover.Target())
		} else {
			explanation = fmt.Sprintf("%s removes %s but %s (later in load order) edits %s; the edit targets a missing node or re-creates it",
				snap.ModName(k.remover), p.remover.Target(), snap.ModName(k.editor), p.edits[0].Target())
		}

		entities := append([]string{entityRef(snap, p.remover)}, entityRefs(snap, p.edits)...)
		f := findings.New(PatternEditVsRemove, findings.CategoryDirect, findings.SeverityHigh, conf,
			[]string{k.editor, k.remover}, entities, k.key, explanation).
			With("outcome", string(outcome)).
			With("winner", winner).
			With("editor", k.editor).
			With("remover", k.remover).
			With("removedSelector", p.remover.CanonicalSelector)
		out = append(out, f)
	}
	return out
}

// ContestedEntities reports entities touched by two or more mods, one
// finding per entity, with severity equal to its risk.
func (a *Analyzer) ContestedEntities(snap *facts.Snapshot) []findings.Finding {
	idx := make(map[facts.EntityKey]int)
	type group struct {
		key facts.EntityKey
		ops []facts.Operation
	}
	var groups []group
	for _, op := range snap.Operations {
		if op.TargetEntityName == "" {
			continue
		}
		k := op.EntityKey()
		i, ok := idx[k]
		if !ok {
			i = len(groups)
			idx[k] = i
			groups = append(groups, group{key: k})
		}
		groups[i].ops = append(groups[i].ops, op)
	}

	var out []findings.Finding
	for _, g := range groups {
		mods := distinctMods(g.ops)
		if len(mods) < 2 {
			continue
		}
		risk := a.EntityRisk(g.key, g.ops)

		var removers []string
		counts := make(map[string]int)
		for _, op := range g.ops {
			counts[op.ModID]++
			if op.Kind.IsRemoving() {
				removers = append(removers, op.ModID)
			}
		}

		explanation := fmt.Sprintf("%s is modified by %d mods (%d operations)", g.key, len(mods), len(g.ops))
		if len(removers) > 0 {
			explanation += "; at least one removes it while others edit it"
		}

		f := findings.New(PatternContestedEntity, findings.CategoryDirect, risk, findings.ConfidenceHigh,
			mods, []string{entityRef(snap, g.ops[0])}, g.key.String(), explanation).
			With("risk", string(risk)).
			With("operationsByMod", counts)
		if len(removers) > 0 {
			f = f.With("removers", removers)
		}
		out = append(out, f)
	}
	return out
}

// EntityRisk rates an entity touched by several mods: High when it is
// both removed and edited, Medium when three or more mods touch it or its
// name has a reserved prefix, Low otherwise.
func (a *Analyzer) EntityRisk(key facts.EntityKey, ops []facts.Operation) findings.Severity {
	removing, other := false, false
	for _, op := range ops {
		if op.Kind.IsRemoving() {
			removing = true
		} else {
			other = true
		}
	}
	switch {
	case removing && other:
		return findings.SeverityHigh
	case len(distinctMods(ops)) >= 3 || a.opts.isReserved(key.Name):
		return findings.SeverityMedium
	default:
		return findings.SeverityLow
	}
}

// Winners returns the load-order winner of every conflict-key group
// written by more than one mod.
func (a *Analyzer) Winners(snap *facts.Snapshot) []Winner {
	var out []Winner
	for _, g := range groupByKey(snap.Operations) {
		mods := distinctMods(g.ops)
		if len(mods) < 2 {
			continue
		}
		win := winningOp(snap, g.ops)
		var overridden []string
		for _, m := range mods {
			if m != win.ModID {
				overridden = append(overridden, m)
			}
		}
		sort.Strings(overridden)
		out = append(out, Winner{
			ConflictKey: g.key,
			Selector:    win.CanonicalSelector,
			TargetFile:  win.TargetFile,
			ModID:       win.ModID,
			LoadOrder:   snap.LoadOrder(win.ModID),
			Kind:        string(win.Kind),
			Value:       win.NewValue,
			Overridden:  overridden,
		})
	}
	return out
}
