// Package refgraph builds the depth-bounded transitive closure of the
// reference graph between content definitions.
package refgraph

import (
	"modcompat/internal/facts"
)

// Link is one resolved direct edge.
type Link struct {
	Target string
	Tag    string
}

type edgeKey struct {
	from, to, tag string
}

// Graph is the resolved direct reference graph. Adjacency lists keep
// insertion order: the implicit extends edge first, then reference edges in
// input order.
type Graph struct {
	nodes []string
	adj   map[string][]Link
	seen  map[edgeKey]bool

	// Dropped counts edges whose source or target did not resolve.
	Dropped int
}

// NewGraph creates an empty graph.
func NewGraph() *Graph {
	return &Graph{
		adj:  make(map[string][]Link),
		seen: make(map[edgeKey]bool),
	}
}

// AddEdge adds a directed edge, ignoring self-loops and duplicates.
func (g *Graph) AddEdge(from, to, tag string) {
	if from == to {
		return
	}
	k := edgeKey{from: from, to: to, tag: tag}
	if g.seen[k] {
		return
	}
	g.seen[k] = true
	if _, ok := g.adj[from]; !ok {
		g.nodes = append(g.nodes, from)
	}
	g.adj[from] = append(g.adj[from], Link{Target: to, Tag: tag})
}

// Links returns the outgoing edges of a node.
func (g *Graph) Links(from string) []Link {
	return g.adj[from]
}

// Sources returns every node with outgoing edges, in insertion order.
func (g *Graph) Sources() []string {
	return g.nodes
}

// EdgeCount returns the number of distinct direct edges.
func (g *Graph) EdgeCount() int {
	n := 0
	for _, links := range g.adj {
		n += len(links)
	}
	return n
}

type resolver struct {
	byKey  map[facts.EntityKey]string
	byName map[string][]string
}

func newResolver(defs []facts.Definition) *resolver {
	r := &resolver{
		byKey:  make(map[facts.EntityKey]string, len(defs)),
		byName: make(map[string][]string, len(defs)),
	}
	for _, d := range defs {
		if _, dup := r.byKey[d.Key()]; !dup {
			r.byKey[d.Key()] = d.ID
		}
		r.byName[d.Name] = append(r.byName[d.Name], d.ID)
	}
	return r
}

func (r *resolver) resolve(entityType, name string) (string, bool) {
	if entityType != "" {
		id, ok := r.byKey[facts.EntityKey{Type: entityType, Name: name}]
		return id, ok
	}
	if ids := r.byName[name]; len(ids) == 1 {
		return ids[0], true
	}
	return "", false
}

// Build resolves definitions and reference edges into a Graph. Each
// definition with a parent name gets an implicit extends edge to the
// definition of the same type with that name. Unresolvable edges are
// counted in Dropped.
func Build(defs []facts.Definition, edges []facts.ReferenceEdge) *Graph {
	g := NewGraph()
	r := newResolver(defs)
	known := make(map[string]bool, len(defs))
	for _, d := range defs {
		known[d.ID] = true
	}

	for _, d := range defs {
		if d.ParentName == "" {
			continue
		}
		parent, ok := r.resolve(d.EntityType, d.ParentName)
		if !ok {
			g.Dropped++
			continue
		}
		g.AddEdge(d.ID, parent, facts.TagExtends)
	}

	for _, e := range edges {
		if !known[e.SourceDefinitionID] {
			g.Dropped++
			continue
		}
		target, ok := r.resolve(e.TargetEntityType, e.TargetEntityName)
		if !ok {
			g.Dropped++
			continue
		}
		g.AddEdge(e.SourceDefinitionID, target, e.ContextTag)
	}
	return g
}
