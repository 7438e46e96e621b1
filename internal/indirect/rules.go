package indirect

import (
	"fmt"
	"sort"
	"strings"

	"modcompat/internal/facts"
	"modcompat/internal/findings"
)

// Rules returns the built-in rule set, high tier first.
func Rules() []Rule {
	return []Rule{
		{PatternDeletedEntityReferenced, findings.SeverityHigh,
			"a removed entity is still referenced by the base data or another mod", deletedEntityReferenced},
		{PatternBrokenInheritanceChain, findings.SeverityHigh,
			"a mod removes or restructures a parent that other definitions inherit from", brokenInheritanceChain},
		{PatternConflictingBaseValues, findings.SeverityHigh,
			"two mods set the same property of an entity to different values", conflictingBaseValues},
		{PatternOrphanedEffectApplication, findings.SeverityHigh,
			"a mod removes an effect that is still applied elsewhere", orphanedEffectApplication},
		{PatternTransitivePropertyOverride, findings.SeverityMedium,
			"a property edit on an ancestor reaches a definition another mod edits", transitivePropertyOverride},
		{PatternSharedInheritanceMod, findings.SeverityMedium,
			"several mods edit a root definition with many inheriting dependents", sharedInheritanceModification},
		{PatternDependencyRemovedTransitive, findings.SeverityMedium,
			"a definition another mod edits depends on a removed entity through a longer path", dependencyRemovedTransitively},
		{PatternAdditiveStacking, findings.SeverityLow,
			"several mods append to the same target", additiveStacking},
		{PatternRelatedGroupModification, findings.SeverityLow,
			"several mods touch members of the same group", relatedGroupModification},
	}
}

func newFinding(pattern string, sev findings.Severity, conf findings.Confidence, mods, defs []string, key, explanation string) findings.Finding {
	return findings.New(pattern, findings.CategoryIndirect, sev, conf, mods, defs, key, explanation)
}

func confidenceFor(base findings.Confidence, ops ...facts.Operation) findings.Confidence {
	for _, op := range ops {
		if !op.ValidSelector() {
			return base.Downgrade()
		}
	}
	return base
}

func modNames(in *Input, mods []string) string {
	names := make([]string, len(mods))
	for i, m := range mods {
		names[i] = in.Snap.ModName(m)
	}
	return strings.Join(names, ", ")
}

// deletedEntityReferenced: a removed definition keeps incoming references
// from the base data or other mods. Effect applications are left to
// orphanedEffectApplication.
func deletedEntityReferenced(in *Input) []findings.Finding {
	var out []findings.Finding
	for _, r := range in.Removals() {
		var refs []facts.ReferenceEdge
		for _, e := range in.Incoming(r.Def.ID) {
			if e.ContextTag == facts.TagExtends || e.ModID == r.Op.ModID || in.RemovedBy(e.SourceDefinitionID, r.Op.ModID) {
				continue
			}
			if in.isEffectType(r.Def.EntityType) && in.isApplyTag(e.ContextTag) {
				continue
			}
			refs = append(refs, e)
		}
		if len(refs) == 0 {
			continue
		}

		mods := []string{r.Op.ModID}
		defs := []string{r.Def.ID}
		tags := make(map[string]bool)
		for _, e := range refs {
			if e.ModID != "" {
				mods = append(mods, e.ModID)
			}
			defs = append(defs, e.SourceDefinitionID)
			tags[e.ContextTag] = true
		}
		f := newFinding(PatternDeletedEntityReferenced, findings.SeverityHigh, confidenceFor(findings.ConfidenceHigh, r.Op),
			mods, defs, r.Def.ID,
			fmt.Sprintf("%s removes %s but %d definition(s) still reference it (%s)",
				in.Snap.ModName(r.Op.ModID), r.Def.Key(), len(refs), strings.Join(sortedSet(tags), ", "))).
			With("references", len(refs)).
			With("transitiveDependents", in.Closure.DependentCount(r.Def.ID))
		out = append(out, f)
	}
	return out
}

// structural reports whether an operation changes the shape of its target
// rather than a property value.
func structural(op facts.Operation) bool {
	switch op.Kind {
	case facts.OpRemove:
		return true
	case facts.OpAppend, facts.OpInsertBefore, facts.OpInsertAfter, facts.OpRemoveAttribute:
		return op.PropertyName == ""
	}
	return false
}

// brokenInheritanceChain: a mod removes a parent definition (children at
// any depth lose what they inherit), or structurally edits an ancestor two
// or more extends hops above a child another mod edits.
func brokenInheritanceChain(in *Input) []findings.Finding {
	type key struct{ mod, parent, child string }
	seen := make(map[key]bool)
	var out []findings.Finding

	for _, op := range in.Snap.Operations {
		if !structural(op) {
			continue
		}
		parent, ok := in.Target(op)
		if !ok {
			continue
		}
		removal := op.Kind == facts.OpRemove && op.TargetsWholeEntity()

		for _, row := range in.Closure.To(parent.ID) {
			if !row.ExtendsOnly() {
				continue
			}
			editors := in.EditorsOf(row.SourceID, op.ModID)
			if !removal && (row.Depth < 2 || len(editors) == 0) {
				continue
			}
			if in.RemovedBy(row.SourceID, op.ModID) {
				continue
			}
			k := key{op.ModID, parent.ID, row.SourceID}
			if seen[k] {
				continue
			}
			seen[k] = true

			child, _ := in.Snap.Definition(row.SourceID)
			conf := findings.ConfidenceHigh
			if removal && row.Depth > 1 && len(editors) == 0 {
				conf = findings.ConfidenceMedium
			}
			action := "restructures"
			if removal {
				action = "removes"
			}
			explanation := fmt.Sprintf("%s %s %s, which %s inherits from (%d extends hop(s))",
				in.Snap.ModName(op.ModID), action, parent.Key(), child.Key(), row.Depth)
			if len(editors) > 0 {
				explanation += fmt.Sprintf("; %s edit(s) %s", modNames(in, editors), child.Key())
			}
			f := newFinding(PatternBrokenInheritanceChain, findings.SeverityHigh, confidenceFor(conf, op),
				append([]string{op.ModID}, editors...), []string{parent.ID, row.SourceID}, parent.ID+">"+row.SourceID, explanation).
				With("depth", row.Depth).
				With("parent", parent.ID).
				With("child", row.SourceID)
			out = append(out, f)
		}
	}
	return out
}

// conflictingBaseValues: mods Set the same entity property to different
// literal values.
func conflictingBaseValues(in *Input) []findings.Finding {
	type key struct {
		def, property string
	}
	groups := make(map[key][]facts.Operation)
	var order []key
	for _, op := range in.Snap.Operations {
		if (op.Kind != facts.OpSet && op.Kind != facts.OpSetAttribute) || op.PropertyName == "" || op.NewValue == nil {
			continue
		}
		d, ok := in.Target(op)
		if !ok {
			continue
		}
		k := key{d.ID, op.PropertyName}
		if _, ok := groups[k]; !ok {
			order = append(order, k)
		}
		groups[k] = append(groups[k], op)
	}

	var out []findings.Finding
	for _, k := range order {
		ops := groups[k]
		values := make(map[string]string)
		distinct := make(map[string]bool)
		for _, op := range ops {
			values[op.ModID] = *op.NewValue
			distinct[*op.NewValue] = true
		}
		if len(values) < 2 || len(distinct) < 2 {
			continue
		}
		mods := sortedKeys(values)
		def, _ := in.Snap.Definition(k.def)
		parts := make([]string, len(mods))
		for i, m := range mods {
			parts[i] = fmt.Sprintf("%s=%q", in.Snap.ModName(m), values[m])
		}
		f := newFinding(PatternConflictingBaseValues, findings.SeverityHigh, confidenceFor(findings.ConfidenceHigh, ops...),
			mods, []string{k.def}, k.def+"."+k.property,
			fmt.Sprintf("%s.%s is set to different values: %s", def.Key(), k.property, strings.Join(parts, ", "))).
			With("property", k.property).
			With("values", values)
		out = append(out, f)
	}
	return out
}

// orphanedEffectApplication: a removed effect definition is still applied
// through an apply-effect reference.
func orphanedEffectApplication(in *Input) []findings.Finding {
	var out []findings.Finding
	for _, r := range in.Removals() {
		if !in.isEffectType(r.Def.EntityType) {
			continue
		}
		mods := []string{r.Op.ModID}
		defs := []string{r.Def.ID}
		n := 0
		for _, e := range in.Incoming(r.Def.ID) {
			if !in.isApplyTag(e.ContextTag) || e.ModID == r.Op.ModID || in.RemovedBy(e.SourceDefinitionID, r.Op.ModID) {
				continue
			}
			n++
			if e.ModID != "" {
				mods = append(mods, e.ModID)
			}
			defs = append(defs, e.SourceDefinitionID)
		}
		if n == 0 {
			continue
		}
		f := newFinding(PatternOrphanedEffectApplication, findings.SeverityHigh, confidenceFor(findings.ConfidenceHigh, r.Op),
			mods, defs, r.Def.ID,
			fmt.Sprintf("%s removes effect %s but %d definition(s) still apply it", in.Snap.ModName(r.Op.ModID), r.Def.Key(), n)).
			With("applications", n)
		out = append(out, f)
	}
	return out
}

// transitivePropertyOverride: a property edit on an ancestor two or more
// extends hops up propagates to a definition another mod edits directly.
func transitivePropertyOverride(in *Input) []findings.Finding {
	type key struct{ mod, ancestor, child string }
	seen := make(map[key]bool)
	var out []findings.Finding
	for _, op := range in.Snap.Operations {
		if op.PropertyName == "" || !op.Kind.IsModifying() {
			continue
		}
		anc, ok := in.Target(op)
		if !ok {
			continue
		}
		for _, row := range in.Closure.To(anc.ID) {
			if row.Depth < 2 || !row.ExtendsOnly() {
				continue
			}
			editors := in.EditorsOf(row.SourceID, op.ModID)
			if len(editors) == 0 {
				continue
			}
			k := key{op.ModID, anc.ID, row.SourceID}
			if seen[k] {
				continue
			}
			seen[k] = true
			child, _ := in.Snap.Definition(row.SourceID)
			f := newFinding(PatternTransitivePropertyOverride, findings.SeverityMedium, confidenceFor(findings.ConfidenceMedium, op),
				append([]string{op.ModID}, editors...), []string{anc.ID, row.SourceID}, anc.ID+"."+op.PropertyName+">"+row.SourceID,
				fmt.Sprintf("%s sets %s on %s, inherited by %s (%d hops) which %s also edit(s)",
					in.Snap.ModName(op.ModID), op.PropertyName, anc.Key(), child.Key(), row.Depth, modNames(in, editors))).
				With("property", op.PropertyName).
				With("depth", row.Depth)
			out = append(out, f)
		}
	}
	return out
}

// sharedInheritanceModification: two or more mods edit a root definition
// inherited by at least SharedRootMinDependents definitions.
func sharedInheritanceModification(in *Input) []findings.Finding {
	var out []findings.Finding
	for _, d := range in.Snap.Definitions {
		if d.ParentName != "" {
			continue
		}
		mods := in.EditorsOf(d.ID, "")
		if len(mods) < 2 {
			continue
		}
		dependents := 0
		for _, row := range in.Closure.To(d.ID) {
			if row.ExtendsOnly() {
				dependents++
			}
		}
		if dependents < in.Opts.SharedRootMinDependents {
			continue
		}
		f := newFinding(PatternSharedInheritanceMod, findings.SeverityMedium, confidenceFor(findings.ConfidenceMedium, in.Ops(d.ID)...),
			mods, []string{d.ID}, d.ID,
			fmt.Sprintf("%s is inherited by %d definitions and edited by %d mods (%s)", d.Key(), dependents, len(mods), modNames(in, mods))).
			With("dependents", dependents)
		out = append(out, f)
	}
	return out
}

// dependencyRemovedTransitively: a definition another mod edits reaches a
// removed definition through two or more hops that are not all extends.
func dependencyRemovedTransitively(in *Input) []findings.Finding {
	var out []findings.Finding
	for _, r := range in.Removals() {
		for _, row := range in.Closure.To(r.Def.ID) {
			if row.Depth < 2 || row.ExtendsOnly() || in.RemovedBy(row.SourceID, r.Op.ModID) {
				continue
			}
			editors := in.EditorsOf(row.SourceID, r.Op.ModID)
			if len(editors) == 0 {
				continue
			}
			src, _ := in.Snap.Definition(row.SourceID)
			f := newFinding(PatternDependencyRemovedTransitive, findings.SeverityMedium, confidenceFor(findings.ConfidenceMedium, r.Op),
				append([]string{r.Op.ModID}, editors...), []string{r.Def.ID, row.SourceID}, r.Def.ID+"<"+row.SourceID,
				fmt.Sprintf("%s removes %s; %s (edited by %s) depends on it through %d hops (%s)",
					in.Snap.ModName(r.Op.ModID), r.Def.Key(), src.Key(), modNames(in, editors), row.Depth, strings.Join(row.Tags, ", "))).
				With("depth", row.Depth).
				With("tags", row.Tags)
			out = append(out, f)
		}
	}
	return out
}

// additiveStacking: two or more mods append to the same target.
func additiveStacking(in *Input) []findings.Finding {
	type group struct {
		def string
		ops []facts.Operation
	}
	idx := make(map[string]int)
	var groups []group
	for _, op := range in.Snap.Operations {
		if !op.Kind.IsAdditive() {
			continue
		}
		k, def := op.ConflictKey(), ""
		if d, ok := in.Target(op); ok {
			k, def = "def:"+d.ID, d.ID
		}
		i, ok := idx[k]
		if !ok {
			i = len(groups)
			idx[k] = i
			groups = append(groups, group{def: def})
		}
		groups[i].ops = append(groups[i].ops, op)
	}

	var out []findings.Finding
	for _, g := range groups {
		mods := make(map[string]int)
		for _, op := range g.ops {
			mods[op.ModID]++
		}
		if len(mods) < 2 {
			continue
		}
		target := g.ops[0].Target()
		var defs []string
		if g.def != "" {
			defs = []string{g.def}
		}
		f := newFinding(PatternAdditiveStacking, findings.SeverityLow, confidenceFor(findings.ConfidenceHigh, g.ops...),
			sortedKeys(mods), defs, target,
			fmt.Sprintf("%d mods append to %s; all additions apply in load order", len(mods), target)).
			With("appendsByMod", mods)
		out = append(out, f)
	}
	return out
}

// relatedGroupModification: two or more mods touch members of the same
// group (or the group itself).
func relatedGroupModification(in *Input) []findings.Finding {
	members := make(map[string][]string)
	var groups []string
	for _, e := range in.Snap.Edges {
		if e.ContextTag != in.Opts.GroupMemberTag {
			continue
		}
		g, ok := in.Snap.Resolve(facts.EntityKey{Type: e.TargetEntityType, Name: e.TargetEntityName})
		if !ok || !in.Snap.DefinitionExists(e.SourceDefinitionID) {
			continue
		}
		if _, ok := members[g.ID]; !ok {
			groups = append(groups, g.ID)
		}
		members[g.ID] = append(members[g.ID], e.SourceDefinitionID)
	}

	var out []findings.Finding
	for _, gid := range groups {
		touched := make(map[string]bool)
		modSet := make(map[string]bool)
		for _, id := range append([]string{gid}, members[gid]...) {
			for _, op := range in.Ops(id) {
				modSet[op.ModID] = true
				touched[id] = true
			}
		}
		if len(modSet) < 2 {
			continue
		}
		g, _ := in.Snap.Definition(gid)
		mods := sortedSet(modSet)
		f := newFinding(PatternRelatedGroupModification, findings.SeverityLow, findings.ConfidenceMedium,
			mods, sortedSet(touched), gid,
			fmt.Sprintf("%d mods modify members of group %s (%s)", len(mods), g.Key(), modNames(in, mods))).
			With("members", len(members[gid]))
		out = append(out, f)
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

func sortedSet(m map[string]bool) []string {
	return sortedKeys(m)
}
