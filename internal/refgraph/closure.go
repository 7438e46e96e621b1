package refgraph

import (
	"context"
	"log/slog"
	"runtime"
	"sort"
	"time"

	"golang.org/x/sync/errgroup"

	"modcompat/internal/facts"
	"modcompat/internal/slogutil"
)

// MaxDepth is the default traversal bound.
const MaxDepth = 10

// PathStep is one hop of a transitive path: the context tag of the edge
// taken and the definition it reached.
type PathStep struct {
	Tag          string `json:"tag"`
	DefinitionID string `json:"definitionId"`
}

// TransitiveEdge is one closure row: target is reachable from source in
// Depth hops along Path.
type TransitiveEdge struct {
	SourceID string     `json:"sourceId"`
	TargetID string     `json:"targetId"`
	Depth    int        `json:"depth"`
	Path     []PathStep `json:"path"`
	// Tags is the sorted, de-duplicated set of context tags on Path.
	Tags []string `json:"distinctContextTags"`
}

// HasTag reports whether the path crosses an edge with the given tag.
func (e TransitiveEdge) HasTag(tag string) bool {
	i := sort.SearchStrings(e.Tags, tag)
	return i < len(e.Tags) && e.Tags[i] == tag
}

func distinctTags(path []PathStep) []string {
	seen := make(map[string]bool, len(path))
	tags := make([]string, 0, len(path))
	for _, s := range path {
		if !seen[s.Tag] {
			seen[s.Tag] = true
			tags = append(tags, s.Tag)
		}
	}
	sort.Strings(tags)
	return tags
}

// ExtendsOnly reports whether every hop is an inheritance edge.
func (e TransitiveEdge) ExtendsOnly() bool {
	return len(e.Tags) == 1 && e.Tags[0] == facts.TagExtends
}

// Options configures closure construction.
type Options struct {
	MaxDepth int
	Workers  int
}

// DefaultOptions returns the default traversal bound and one worker per CPU.
func DefaultOptions() Options {
	return Options{
		MaxDepth: MaxDepth,
		Workers:  runtime.NumCPU(),
	}
}

// Builder computes reference closures.
type Builder struct {
	logger *slog.Logger
	opts   Options
}

// NewBuilder creates a closure builder.
func NewBuilder(logger *slog.Logger, opts Options) *Builder {
	if opts.MaxDepth <= 0 {
		opts.MaxDepth = MaxDepth
	}
	if opts.Workers <= 0 {
		opts.Workers = 1
	}
	return &Builder{logger: logger, opts: opts}
}

// BuildClosure builds the closure with default options.
func BuildClosure(ctx context.Context, defs []facts.Definition, edges []facts.ReferenceEdge) (*Closure, error) {
	return NewBuilder(slogutil.NewDiscardLogger(), DefaultOptions()).Build(ctx, defs, edges)
}

// Build resolves the direct graph and runs one breadth-first traversal per
// source definition. Traversals are independent and run on a bounded
// worker pool; results are concatenated in source id order.
func (b *Builder) Build(ctx context.Context, defs []facts.Definition, edges []facts.ReferenceEdge) (*Closure, error) {
	start := time.Now()
	g := Build(defs, edges)

	sources := append([]string(nil), g.Sources()...)
	sort.Strings(sources)

	results := make([][]TransitiveEdge, len(sources))
	eg, gctx := errgroup.WithContext(ctx)
	eg.SetLimit(b.opts.Workers)
	for i, src := range sources {
		eg.Go(func() error {
			if err := gctx.Err(); err != nil {
				return err
			}
			results[i] = traverse(g, src, b.opts.MaxDepth)
			return nil
		})
	}
	if err := eg.Wait(); err != nil {
		return nil, err
	}

	var rows []TransitiveEdge
	for _, r := range results {
		rows = append(rows, r...)
	}
	c := NewClosure(rows)

	b.logger.Debug("Built reference closure",
		"definitions", len(defs),
		"directEdges", g.EdgeCount(),
		"droppedEdges", g.Dropped,
		"rows", len(rows),
		"duration", time.Since(start),
	)
	return c, nil
}

type visit struct {
	prev  string
	tag   string
	depth int
}

// traverse walks breadth-first from src. Each reachable definition is
// recorded once, at the depth it was first discovered; adjacency order
// decides between paths of equal length.
func traverse(g *Graph, src string, maxDepth int) []TransitiveEdge {
	visited := map[string]visit{src: {}}
	queue := []string{src}
	var order []string

	for len(queue) > 0 {
		cur := queue[0]
		queue = queue[1:]
		d := visited[cur].depth
		if d >= maxDepth {
			continue
		}
		for _, l := range g.Links(cur) {
			if _, seen := visited[l.Target]; seen {
				continue
			}
			visited[l.Target] = visit{prev: cur, tag: l.Tag, depth: d + 1}
			order = append(order, l.Target)
			queue = append(queue, l.Target)
		}
	}

	rows := make([]TransitiveEdge, 0, len(order))
	for _, target := range order {
		v := visited[target]
		path := make([]PathStep, v.depth)
		node := target
		for i := v.depth - 1; i >= 0; i-- {
			nv := visited[node]
			path[i] = PathStep{Tag: nv.tag, DefinitionID: node}
			node = nv.prev
		}
		rows = append(rows, TransitiveEdge{
			SourceID: src,
			TargetID: target,
			Depth:    v.depth,
			Path:     path,
			Tags:     distinctTags(path),
		})
	}
	return rows
}

// Closure is the set of closure rows with lookup indexes.
type Closure struct {
	Edges []TransitiveEdge

	bySource map[string][]int
	byTarget map[string][]int
	pairs    map[[2]string]int
}

// NewClosure indexes a set of closure rows.
func NewClosure(rows []TransitiveEdge) *Closure {
	c := &Closure{
		Edges:    rows,
		bySource: make(map[string][]int),
		byTarget: make(map[string][]int),
		pairs:    make(map[[2]string]int, len(rows)),
	}
	for i, e := range rows {
		c.bySource[e.SourceID] = append(c.bySource[e.SourceID], i)
		c.byTarget[e.TargetID] = append(c.byTarget[e.TargetID], i)
		c.pairs[[2]string{e.SourceID, e.TargetID}] = i
	}
	return c
}

// Len returns the number of closure rows.
func (c *Closure) Len() int {
	if c == nil {
		return 0
	}
	return len(c.Edges)
}

// From returns every row starting at source.
func (c *Closure) From(source string) []TransitiveEdge {
	return c.pick(c.bySource[source])
}

// To returns every row ending at target, i.e. its dependents.
func (c *Closure) To(target string) []TransitiveEdge {
	return c.pick(c.byTarget[target])
}

// Lookup returns the row for a (source, target) pair.
func (c *Closure) Lookup(source, target string) (TransitiveEdge, bool) {
	i, ok := c.pairs[[2]string{source, target}]
	if !ok {
		return TransitiveEdge{}, false
	}
	return c.Edges[i], true
}

// DependentCount returns how many definitions transitively reach target.
func (c *Closure) DependentCount(target string) int {
	return len(c.byTarget[target])
}

// Ancestors returns the rows from child that follow inheritance only.
func (c *Closure) Ancestors(child string) []TransitiveEdge {
	var out []TransitiveEdge
	for _, e := range c.From(child) {
		if e.ExtendsOnly() {
			out = append(out, e)
		}
	}
	return out
}

// Stats summarizes a closure.
type Stats struct {
	Rows     int         `json:"rows"`
	Sources  int         `json:"sources"`
	Targets  int         `json:"targets"`
	MaxDepth int         `json:"maxDepth"`
	ByDepth  map[int]int `json:"byDepth"`
}

// Stats computes row counts per depth.
func (c *Closure) Stats() Stats {
	s := Stats{
		Rows:    len(c.Edges),
		Sources: len(c.bySource),
		Targets: len(c.byTarget),
		ByDepth: make(map[int]int),
	}
	for _, e := range c.Edges {
		s.ByDepth[e.Depth]++
		if e.Depth > s.MaxDepth {
			s.MaxDepth = e.Depth
		}
	}
	return s
}

func (c *Closure) pick(idx []int) []TransitiveEdge {
	out := make([]TransitiveEdge, len(idx))
	for i, j := range idx {
		out[i] = c.Edges[j]
	}
	return out
}
