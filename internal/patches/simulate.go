package patches

import (
	"sort"

	"modcompat/internal/facts"
)

// phase is the position of each interception kind around the original
// body.
var phase = map[facts.InterceptionKind]int{
	facts.Before:           0,
	facts.BodyTransform:    1,
	facts.After:            2,
	facts.ExceptionHandler: 3,
}

// descending reports whether a kind runs higher priorities first. Before
// and body transforms do; After and exception handlers run the lowest
// priority first.
func descending(kind facts.InterceptionKind) bool {
	return kind == facts.Before || kind == facts.BodyTransform
}

// Order sorts patches on a single target into execution order and assigns
// sequence indexes. Equal priorities fall back to load order, then to the
// patch container name.
func Order(ps []facts.Patch, loadOrder func(modID string) int) []Entry {
	entries := make([]Entry, 0, len(ps))
	for _, p := range ps {
		entries = append(entries, Entry{
			ModID:          p.ModID,
			PatchID:        p.ID,
			PatchContainer: p.PatchContainerName,
			Kind:           p.InterceptionKind,
			Priority:       p.PriorityValue(),
			LoadOrder:      loadOrder(p.ModID),
			CanVeto:        p.CanVetoOriginal && p.InterceptionKind == facts.Before,
		})
	}

	sort.SliceStable(entries, func(i, j int) bool {
		a, b := entries[i], entries[j]
		if phase[a.Kind] != phase[b.Kind] {
			return phase[a.Kind] < phase[b.Kind]
		}
		if a.Priority != b.Priority {
			if descending(a.Kind) {
				return a.Priority > b.Priority
			}
			return a.Priority < b.Priority
		}
		if a.LoadOrder != b.LoadOrder {
			return a.LoadOrder < b.LoadOrder
		}
		return a.PatchContainer < b.PatchContainer
	})
	for i := range entries {
		entries[i].SequenceIndex = i
	}
	return entries
}

// SimulateExecutionOrder returns the execution order of every patch on
// one target method. ok is false when nothing patches the target.
func SimulateExecutionOrder(snap *facts.Snapshot, targetEntityType, targetMethodName string) (ExecutionOrder, bool) {
	var ps []facts.Patch
	for _, p := range snap.Patches {
		if p.TargetEntityType == targetEntityType && p.TargetMethodName == targetMethodName {
			ps = append(ps, p)
		}
	}
	if len(ps) == 0 {
		return ExecutionOrder{}, false
	}
	return ExecutionOrder{
		TargetEntityType: targetEntityType,
		TargetMethodName: targetMethodName,
		Entries:          Order(ps, snap.LoadOrder),
	}, true
}

// AllExecutionOrders simulates every patched target, sorted by target.
func AllExecutionOrders(snap *facts.Snapshot) []ExecutionOrder {
	groups := groupByTarget(snap.Patches)
	out := make([]ExecutionOrder, 0, len(groups))
	for _, g := range groups {
		out = append(out, ExecutionOrder{
			TargetEntityType: g.typeName,
			TargetMethodName: g.method,
			Entries:          Order(g.patches, snap.LoadOrder),
		})
	}
	sort.Slice(out, func(i, j int) bool { return out[i].Target() < out[j].Target() })
	return out
}

type targetGroup struct {
	typeName, method string
	patches          []facts.Patch
}

func groupByTarget(ps []facts.Patch) []targetGroup {
	idx := make(map[[2]string]int)
	var groups []targetGroup
	for _, p := range ps {
		k := [2]string{p.TargetEntityType, p.TargetMethodName}
		i, ok := idx[k]
		if !ok {
			i = len(groups)
			idx[k] = i
			groups = append(groups, targetGroup{typeName: p.TargetEntityType, method: p.TargetMethodName})
		}
		groups[i].patches = append(groups[i].patches, p)
	}
	return groups
}
