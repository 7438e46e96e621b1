// Package patches detects conflicts between binary interception patches and
// simulates the order in which patches on one method execute.
package patches

import (
	"context"
	"fmt"
	"log/slog"
	"strings"

	"modcompat/internal/facts"
	"modcompat/internal/findings"
)

// Analyzer runs the patch conflict rules.
type Analyzer struct {
	opts   Options
	logger *slog.Logger
}

// NewAnalyzer creates a patch conflict analyzer.
func NewAnalyzer(opts Options, logger *slog.Logger) *Analyzer {
	return &Analyzer{opts: opts, logger: logger}
}

// Name identifies the analyzer in diagnostics.
func (a *Analyzer) Name() string { return "patches" }

// Analyze runs every patch rule against the snapshot.
func (a *Analyzer) Analyze(ctx context.Context, snap *facts.Snapshot) ([]findings.Finding, error) {
	groups := groupByTarget(snap.Patches)

	var out []findings.Finding
	for _, g := range groups {
		if err := ctx.Err(); err != nil {
			return nil, err
		}
		order := ExecutionOrder{
			TargetEntityType: g.typeName,
			TargetMethodName: g.method,
			Entries:          Order(g.patches, snap.LoadOrder),
		}
		out = append(out, a.collision(snap, g, order)...)
		out = append(out, a.transformStack(snap, order)...)
		out = append(out, a.skipConflicts(snap, order)...)
		out = append(out, a.orderingCycles(snap, g)...)
	}
	out = append(out, a.inheritanceOverlap(snap, groups)...)

	a.logger.Debug("Patch analysis complete",
		"targets", len(groups),
		"patches", len(snap.Patches),
		"findings", len(out),
	)
	return out, nil
}

func distinctMods(ps []facts.Patch) []string {
	seen := make(map[string]bool)
	var out []string
	for _, p := range ps {
		if !seen[p.ModID] {
			seen[p.ModID] = true
			out = append(out, p.ModID)
		}
	}
	return out
}

func patchIDs(ps []facts.Patch) []string {
	out := make([]string, len(ps))
	for i, p := range ps {
		out[i] = p.ID
	}
	return out
}

// confidence is lowered when a patch decides at runtime whether it
// applies, or applies only under a guard.
func confidence(ps []facts.Patch) findings.Confidence {
	conf := findings.ConfidenceHigh
	for _, p := range ps {
		if p.IsDynamic {
			return findings.ConfidenceLow
		}
		if p.IsGuarded {
			conf = findings.ConfidenceMedium
		}
	}
	return conf
}

// distinctOverloads reports whether every mod patches a different,
// declared overload of the target.
func distinctOverloads(ps []facts.Patch) bool {
	owner := make(map[string]string)
	for _, p := range ps {
		if p.ParameterSignature == "" {
			return false
		}
		if m, ok := owner[p.ParameterSignature]; ok && m != p.ModID {
			return false
		}
		owner[p.ParameterSignature] = p.ModID
	}
	return len(owner) > 1
}

// CollisionSeverity grades a same-target collision.
func CollisionSeverity(ps []facts.Patch) findings.Severity {
	mods := len(distinctMods(ps))
	transforms, veto := 0, false
	for _, p := range ps {
		if p.InterceptionKind == facts.BodyTransform {
			transforms++
		}
		if p.CanVetoOriginal && p.InterceptionKind == facts.Before {
			veto = true
		}
	}

	var sev findings.Severity
	switch {
	case transforms >= 2:
		sev = findings.SeverityCritical
	case veto && mods >= 2:
		sev = findings.SeverityHigh
	case mods >= 3:
		sev = findings.SeverityMedium
	default:
		sev = findings.SeverityLow
	}
	if distinctOverloads(ps) {
		sev = sev.Downgrade()
	}
	return sev
}

// collision: two or more mods patch the same method.
func (a *Analyzer) collision(snap *facts.Snapshot, g targetGroup, order ExecutionOrder) []findings.Finding {
	mods := distinctMods(g.patches)
	if len(mods) < 2 {
		return nil
	}
	sev := CollisionSeverity(g.patches)
	kinds := make(map[string]int)
	for _, p := range g.patches {
		kinds[string(p.InterceptionKind)]++
	}
	names := make([]string, len(mods))
	for i, m := range mods {
		names[i] = snap.ModName(m)
	}
	f := findings.New(PatternCollision, findings.CategoryPatch, sev, confidence(g.patches),
		mods, patchIDs(g.patches), order.Target(),
		fmt.Sprintf("%d mods patch %s (%s)", len(mods), order.Target(), strings.Join(names, ", "))).
		With("target", order.Target()).
		With("kinds", kinds).
		With("executionOrder", order.Entries)
	if distinctOverloads(g.patches) {
		f = f.With("distinctOverloads", true)
	}
	return []findings.Finding{f}
}

// transformStack: body transforms from different mods rewrite the same
// method; they are applied in order and do not compose safely.
func (a *Analyzer) transformStack(snap *facts.Snapshot, order ExecutionOrder) []findings.Finding {
	transforms := order.ByKind(facts.BodyTransform)
	mods := make(map[string]bool)
	for _, e := range transforms {
		mods[e.ModID] = true
	}
	if len(mods) < 2 {
		return nil
	}
	var modIDs, ids, steps []string
	for _, e := range transforms {
		modIDs = append(modIDs, e.ModID)
		ids = append(ids, e.PatchID)
		steps = append(steps, fmt.Sprintf("%s:%s(%d)", snap.ModName(e.ModID), e.PatchContainer, e.Priority))
	}
	f := findings.New(PatternTransformStack, findings.CategoryPatch, findings.SeverityCritical, findings.ConfidenceHigh,
		modIDs, ids, order.Target(),
		fmt.Sprintf("%d body transforms rewrite %s; applied in order %s", len(transforms), order.Target(), strings.Join(steps, " -> "))).
		With("target", order.Target()).
		With("transforms", transforms)
	return []findings.Finding{f}
}

// skipConflicts: a veto-capable Before patch shares its target with at
// least one other patch.
func (a *Analyzer) skipConflicts(snap *facts.Snapshot, order ExecutionOrder) []findings.Finding {
	if len(order.Entries) < 2 {
		return nil
	}
	var out []findings.Finding
	for i, e := range order.Entries {
		if !e.CanVeto {
			continue
		}
		sev := findings.SeverityMedium
		if e.Priority > a.opts.DefaultPriority {
			sev = findings.SeverityHigh
		}
		skipped := order.SkippedBy(i)
		stillRun := len(order.Entries) - i - 1 - len(skipped)
		mods := []string{e.ModID}
		ids := []string{e.PatchID}
		for _, o := range order.Entries {
			mods = append(mods, o.ModID)
			ids = append(ids, o.PatchID)
		}
		f := findings.New(PatternSkipConflict, findings.CategoryPatch, sev, findings.ConfidenceMedium,
			mods, ids, order.Target()+"#"+e.PatchID,
			fmt.Sprintf("%s can veto %s at priority %d; when it does, the original body and %d later Before/BodyTransform patch(es) are skipped, while %d After/ExceptionHandler patch(es) still run",
				snap.ModName(e.ModID), order.Target(), e.Priority, len(skipped), stillRun)).
			With("vetoPatch", e.PatchID).
			With("priority", e.Priority).
			With("sequenceIndex", e.SequenceIndex).
			With("skipped", skipped).
			With("stillRun", stillRun)
		out = append(out, f)
	}
	return out
}

// classHierarchy returns the ancestor names of a class, nearest first.
func (a *Analyzer) classHierarchy(snap *facts.Snapshot, name string) []string {
	var out []string
	seen := map[string]bool{name: true}
	for cur := name; ; {
		def, ok := a.classDef(snap, cur)
		if !ok || def.ParentName == "" || seen[def.ParentName] {
			return out
		}
		seen[def.ParentName] = true
		out = append(out, def.ParentName)
		cur = def.ParentName
	}
}

func (a *Analyzer) classDef(snap *facts.Snapshot, name string) (facts.Definition, bool) {
	for _, t := range a.opts.ClassEntityTypes {
		if d, ok := snap.Resolve(facts.EntityKey{Type: t, Name: name}); ok {
			return d, true
		}
	}
	return facts.Definition{}, false
}

// inheritanceOverlap: different mods patch the same method name on a class
// and one of its ancestors.
func (a *Analyzer) inheritanceOverlap(snap *facts.Snapshot, groups []targetGroup) []findings.Finding {
	byTarget := make(map[[2]string][]facts.Patch, len(groups))
	for _, g := range groups {
		byTarget[[2]string{g.typeName, g.method}] = g.patches
	}

	var out []findings.Finding
	for _, g := range groups {
		for _, ancestor := range a.classHierarchy(snap, g.typeName) {
			base, ok := byTarget[[2]string{ancestor, g.method}]
			if !ok {
				continue
			}
			all := append(append([]facts.Patch{}, base...), g.patches...)
			if !crossMod(base, g.patches) {
				continue
			}
			conf := findings.ConfidenceLow
			if m, ok := snap.Method(ancestor, g.method); ok && (m.IsAbstract || m.IsVirtual) {
				conf = findings.ConfidenceMedium
			}
			f := findings.New(PatternInheritanceOverlap, findings.CategoryPatch, findings.SeverityMedium, conf,
				distinctMods(all), patchIDs(all), ancestor+"."+g.method+">"+g.typeName,
				fmt.Sprintf("%s.%s and %s.%s are both patched; %s inherits from %s so the patches may apply to the same call",
					ancestor, g.method, g.typeName, g.method, g.typeName, ancestor)).
				With("baseType", ancestor).
				With("derivedType", g.typeName).
				With("method", g.method)
			out = append(out, f)
		}
	}
	return out
}

func crossMod(a, b []facts.Patch) bool {
	for _, p := range a {
		for _, q := range b {
			if p.ModID != q.ModID {
				return true
			}
		}
	}
	return false
}

// declares reports whether any identifier in ids names the mod, matching
// case-insensitively by substring containment in either direction.
func (a *Analyzer) declares(ids []string, mod facts.Mod) bool {
	names := []string{strings.ToLower(mod.ID), strings.ToLower(mod.Name)}
	for _, id := range ids {
		id = strings.ToLower(strings.TrimSpace(id))
		if len(id) < a.opts.MinIdentifierLength {
			continue
		}
		for _, n := range names {
			if len(n) < a.opts.MinIdentifierLength {
				continue
			}
			if strings.Contains(id, n) || strings.Contains(n, id) {
				return true
			}
		}
	}
	return false
}

// orderingCycles: two patches on one target carry ordering declarations
// naming each other's mods. Reciprocal before/after pairs and
// contradictory pairs (each before the other, or each after the other)
// are both reported.
func (a *Analyzer) orderingCycles(snap *facts.Snapshot, g targetGroup) []findings.Finding {
	type pair struct{ a, b string }
	seen := make(map[pair]bool)
	var out []findings.Finding
	for i, p := range g.patches {
		pm, _ := snap.Mod(p.ModID)
		for _, q := range g.patches[i+1:] {
			if q.ModID == p.ModID {
				continue
			}
			qm, _ := snap.Mod(q.ModID)
			var kind string
			switch {
			case a.declares(p.BeforeIDs, qm) && a.declares(q.AfterIDs, pm),
				a.declares(q.BeforeIDs, pm) && a.declares(p.AfterIDs, qm):
				kind = "reciprocal"
			case a.declares(p.BeforeIDs, qm) && a.declares(q.BeforeIDs, pm):
				kind = "both-before"
			case a.declares(p.AfterIDs, qm) && a.declares(q.AfterIDs, pm):
				kind = "both-after"
			default:
				continue
			}
			k := pair{p.ModID, q.ModID}
			if k.a > k.b {
				k = pair{k.b, k.a}
			}
			if seen[k] {
				continue
			}
			seen[k] = true

			target := p.Target()
			f := findings.New(PatternOrderingCycle, findings.CategoryPatch, findings.SeverityHigh, findings.ConfidenceHigh,
				[]string{p.ModID, q.ModID}, []string{p.ID, q.ID}, target+"#"+k.a+"|"+k.b,
				fmt.Sprintf("%s and %s declare ordering constraints against each other on %s (%s)",
					snap.ModName(p.ModID), snap.ModName(q.ModID), target, kind)).
				With("target", target).
				With("kind", kind)
			out = append(out, f)
		}
	}
	return out
}
