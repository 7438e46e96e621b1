// Package effects detects semantic conflicts between mods editing the same
// named modifier effect or triggered-action variable.
package effects

import (
	"context"
	"fmt"
	"log/slog"
	"sort"
	"strings"

	"modcompat/internal/facts"
	"modcompat/internal/findings"
)

// Analyzer runs the effect conflict rules.
type Analyzer struct {
	logger *slog.Logger
}

// NewAnalyzer creates an effect conflict analyzer.
func NewAnalyzer(logger *slog.Logger) *Analyzer {
	return &Analyzer{logger: logger}
}

// Name identifies the analyzer in diagnostics.
func (a *Analyzer) Name() string { return "effects" }

type effectKey struct {
	ownerType, ownerName, effect string
}

func (k effectKey) owner() string {
	if k.ownerType == "" {
		return k.ownerName
	}
	return k.ownerType + ":" + k.ownerName
}

// ownerRef returns the definition id of the owner, or its type:name form
// when no single definition matches.
func ownerRef(snap *facts.Snapshot, ownerType, ownerName string) string {
	if d, ok := snap.Resolve(facts.EntityKey{Type: ownerType, Name: ownerName}); ok {
		return d.ID
	}
	return effectKey{ownerType: ownerType, ownerName: ownerName}.owner()
}

type edit struct {
	op    facts.Operation
	scale Scale
	fam   Family
}

type effectGroup struct {
	key   effectKey
	edits []edit
}

func (g effectGroup) mods() []string {
	seen := make(map[string]bool)
	var out []string
	for _, e := range g.edits {
		if !seen[e.op.ModID] {
			seen[e.op.ModID] = true
			out = append(out, e.op.ModID)
		}
	}
	return out
}

func (g effectGroup) contributions() []Contribution {
	out := make([]Contribution, 0, len(g.edits))
	for _, e := range g.edits {
		out = append(out, Contribution{
			ModID:     e.op.ModID,
			Operation: e.op.Effect.Operation,
			Value:     e.op.Effect.Value,
			Edited:    e.op.Effect.EditedAttribute,
		})
	}
	return out
}

func (g effectGroup) confidence(base findings.Confidence) findings.Confidence {
	for _, e := range g.edits {
		if !e.op.ValidSelector() {
			return base.Downgrade()
		}
	}
	return base
}

// Analyze runs every effect rule against the snapshot.
func (a *Analyzer) Analyze(ctx context.Context, snap *facts.Snapshot) ([]findings.Finding, error) {
	passive, triggered := a.group(snap.Operations)

	var out []findings.Finding
	for _, g := range passive {
		if err := ctx.Err(); err != nil {
			return nil, err
		}
		if len(g.mods()) >= 2 {
			out = append(out, a.operationMismatch(snap, g)...)
			out = append(out, a.setVersusAdd(snap, g)...)
			out = append(out, a.additiveStacking(snap, g)...)
			out = append(out, a.scaleMix(snap, g)...)
		}
		out = append(out, a.partialEdits(snap, g)...)
	}
	for _, g := range triggered {
		out = append(out, a.triggerVariable(snap, g)...)
	}

	a.logger.Debug("Effect analysis complete",
		"passiveEffects", len(passive),
		"triggerVariables", len(triggered),
		"findings", len(out),
	)
	return out, nil
}

// group buckets effect operations: passive modifiers by owner and effect
// name, triggered actions by target variable across all owners.
func (a *Analyzer) group(ops []facts.Operation) (passive, triggered []effectGroup) {
	pIdx := make(map[effectKey]int)
	tIdx := make(map[string]int)
	for _, op := range ops {
		ec := op.Effect
		if ec == nil {
			continue
		}
		switch ec.Kind {
		case facts.EffectPassive:
			if ec.EffectName == "" {
				continue
			}
			k := effectKey{ownerType: ec.OwnerType, ownerName: ec.OwnerName, effect: ec.EffectName}
			i, ok := pIdx[k]
			if !ok {
				i = len(passive)
				pIdx[k] = i
				passive = append(passive, effectGroup{key: k})
			}
			scale, fam := ParseOperation(ec.Operation)
			passive[i].edits = append(passive[i].edits, edit{op: op, scale: scale, fam: fam})
		case facts.EffectTriggered:
			if ec.TargetVariable == "" {
				continue
			}
			i, ok := tIdx[ec.TargetVariable]
			if !ok {
				i = len(triggered)
				tIdx[ec.TargetVariable] = i
				triggered = append(triggered, effectGroup{key: effectKey{effect: ec.TargetVariable}})
			}
			_, fam := ParseOperation(ec.Arithmetic)
			triggered[i].edits = append(triggered[i].edits, edit{op: op, fam: fam})
		}
	}
	return passive, triggered
}

func (a *Analyzer) newFinding(snap *facts.Snapshot, pattern string, sev findings.Severity, conf findings.Confidence, g effectGroup, mods []string, explanation string) findings.Finding {
	return findings.New(pattern, findings.CategoryEffect, sev, conf, mods, []string{ownerRef(snap, g.key.ownerType, g.key.ownerName)},
		g.key.owner()+"#"+g.key.effect, explanation).
		With("effect", g.key.effect).
		With("owner", g.key.owner()).
		With("contributions", g.contributions())
}

// operationMismatch: two or more mods change the operation type of the
// same effect to different values.
func (a *Analyzer) operationMismatch(snap *facts.Snapshot, g effectGroup) []findings.Finding {
	byMod := make(map[string]string)
	values := make(map[string]bool)
	for _, e := range g.edits {
		edited := strings.ToLower(e.op.Effect.EditedAttribute)
		if edited != "operation" && edited != "both" {
			continue
		}
		if e.op.Effect.Operation == "" {
			continue
		}
		byMod[e.op.ModID] = e.op.Effect.Operation
		values[strings.ToLower(e.op.Effect.Operation)] = true
	}
	if len(byMod) < 2 || len(values) < 2 {
		return nil
	}
	mods := sortedKeys(byMod)
	parts := make([]string, 0, len(mods))
	for _, m := range mods {
		parts = append(parts, fmt.Sprintf("%s uses %s", snap.ModName(m), byMod[m]))
	}
	return []findings.Finding{a.newFinding(snap, PatternOperationMismatch, findings.SeverityHigh, g.confidence(findings.ConfidenceHigh), g, mods,
		fmt.Sprintf("%s on %s has incompatible operation types: %s", g.key.effect, g.key.owner(), strings.Join(parts, ", ")))}
}

// setVersusAdd: one mod sets an absolute value while another adds to it.
func (a *Analyzer) setVersusAdd(snap *facts.Snapshot, g effectGroup) []findings.Finding {
	setters, adders := make(map[string]bool), make(map[string]bool)
	lastSet, lastAdd := -1, -1
	for _, e := range g.edits {
		lo := snap.LoadOrder(e.op.ModID)
		switch e.fam {
		case FamilySet:
			setters[e.op.ModID] = true
			lastSet = max(lastSet, lo)
		case FamilyAdd:
			adders[e.op.ModID] = true
			lastAdd = max(lastAdd, lo)
		}
	}
	if len(setters) == 0 || len(adders) == 0 {
		return nil
	}
	mods := union(setters, adders)
	if len(mods) < 2 {
		return nil
	}
	outcome := AddAppliedAfter
	if lastSet > lastAdd {
		outcome = SetWins
	}
	f := a.newFinding(snap, PatternSetVsAdd, findings.SeverityHigh, g.confidence(findings.ConfidenceHigh), g, mods,
		fmt.Sprintf("%s on %s is both set to an exact value and added to by different mods (%s)", g.key.effect, g.key.owner(), outcome))
	return []findings.Finding{f.With("outcome", string(outcome))}
}

// additiveStacking: two or more mods add to the same effect.
func (a *Analyzer) additiveStacking(snap *facts.Snapshot, g effectGroup) []findings.Finding {
	adders := make(map[string]bool)
	for _, e := range g.edits {
		if e.fam == FamilyAdd {
			adders[e.op.ModID] = true
		}
	}
	if len(adders) < 2 {
		return nil
	}
	mods := sortedKeys(adders)
	return []findings.Finding{a.newFinding(snap, PatternAdditiveStacking, findings.SeverityMedium, g.confidence(findings.ConfidenceMedium), g, mods,
		fmt.Sprintf("%d mods add to %s on %s; the values stack, verify intent", len(mods), g.key.effect, g.key.owner()))}
}

// scaleMix: mods modify the same effect with both absolute and percentage
// modifiers.
func (a *Analyzer) scaleMix(snap *facts.Snapshot, g effectGroup) []findings.Finding {
	base, perc := make(map[string]bool), make(map[string]bool)
	for _, e := range g.edits {
		switch e.scale {
		case ScaleBase:
			base[e.op.ModID] = true
		case ScalePercent:
			perc[e.op.ModID] = true
		}
	}
	if len(base) == 0 || len(perc) == 0 {
		return nil
	}
	mods := union(base, perc)
	if len(mods) < 2 {
		return nil
	}
	return []findings.Finding{a.newFinding(snap, PatternScaleMix, findings.SeverityMedium, g.confidence(findings.ConfidenceMedium), g, mods,
		fmt.Sprintf("%s on %s mixes absolute and percentage modifiers across mods; percentages may amplify the absolute changes", g.key.effect, g.key.owner()))}
}

// partialEdits: a mod changes only the operation or only the value of an
// effect modifier.
func (a *Analyzer) partialEdits(snap *facts.Snapshot, g effectGroup) []findings.Finding {
	var out []findings.Finding
	for _, e := range g.edits {
		edited := strings.ToLower(e.op.Effect.EditedAttribute)
		var what, kept string
		switch edited {
		case "operation":
			what, kept = "operation type", "value"
		case "value":
			what, kept = "value", "operation type"
		default:
			continue
		}
		single := effectGroup{key: g.key, edits: []edit{e}}
		out = append(out, a.newFinding(snap, PatternPartialEdit, findings.SeverityMedium, single.confidence(findings.ConfidenceMedium), single, []string{e.op.ModID},
			fmt.Sprintf("%s changes only the %s of %s on %s and keeps the original %s", snap.ModName(e.op.ModID), what, g.key.effect, g.key.owner(), kept)))
	}
	return out
}

// triggerVariable: several mods write the same triggered-action variable.
func (a *Analyzer) triggerVariable(snap *facts.Snapshot, g effectGroup) []findings.Finding {
	mods := g.mods()
	if len(mods) < 2 {
		return nil
	}
	multiply, set, other := false, false, false
	for _, e := range g.edits {
		switch e.fam {
		case FamilyMultiply:
			multiply = true
			other = true
		case FamilySet:
			set = true
		default:
			other = true
		}
	}

	sev := findings.SeverityLow
	reason := "several mods write it"
	switch {
	case multiply:
		sev = findings.SeverityHigh
		reason = "a multiplicative update compounds with the other mods' writes"
	case set && other:
		sev = findings.SeverityMedium
		reason = "one mod sets it outright while another updates it"
	}

	var owners []string
	for _, e := range g.edits {
		owners = append(owners, ownerRef(snap, e.op.Effect.OwnerType, e.op.Effect.OwnerName))
	}
	f := findings.New(PatternTriggerVariable, findings.CategoryEffect, sev, g.confidence(findings.ConfidenceMedium), mods, owners,
		"var#"+g.key.effect,
		fmt.Sprintf("triggered actions from %d mods modify variable %s: %s", len(mods), g.key.effect, reason)).
		With("variable", g.key.effect).
		With("contributions", triggerContributions(g))
	return []findings.Finding{f}
}

func triggerContributions(g effectGroup) []Contribution {
	out := make([]Contribution, 0, len(g.edits))
	for _, e := range g.edits {
		out = append(out, Contribution{
			ModID:     e.op.ModID,
			Operation: e.op.Effect.Arithmetic,
			Value:     e.op.Effect.Value,
			Edited:    e.op.Effect.ActionType,
		})
	}
	return out
}

func sortedKeys[V any](m map[string]V) []string {
	out := make([]string, 0, len(m))
	for k := range m {
		out = append(out, k)
	}
	sort.Strings(out)
	return out
}

func union(a, b map[string]bool) []string {
	m := make(map[string]bool, len(a)+len(b))
	for k := range a {
		m[k] = true
	}
	for k := range b {
		m[k] = true
	}
	return sortedKeys(m)
}
