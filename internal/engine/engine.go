// Package engine runs one analysis pass: it loads the facts, builds the
// reference closure, runs every conflict analyzer, validates and scores the
// findings and persists the result.
package engine

import (
	"context"
	"fmt"
	"log/slog"
	"time"

	"github.com/google/uuid"
	"golang.org/x/sync/errgroup"

	"modcompat/internal/direct"
	"modcompat/internal/effects"
	apperrors "modcompat/internal/errors"
	"modcompat/internal/facts"
	"modcompat/internal/findings"
	"modcompat/internal/indirect"
	"modcompat/internal/patches"
	"modcompat/internal/refgraph"
	"modcompat/internal/relevance"
	"modcompat/internal/storage"
)

// Options configures every stage of a run.
type Options struct {
	Graph    refgraph.Options
	Direct   direct.Options
	Indirect indirect.Options
	Patches  patches.Options
	// Profile is the scoring profile; nil selects the built-in one.
	Profile *relevance.Profile
}

// DefaultOptions returns the default options of every stage.
func DefaultOptions() Options {
	return Options{
		Graph:    refgraph.DefaultOptions(),
		Direct:   direct.DefaultOptions(),
		Indirect: indirect.DefaultOptions(),
		Patches:  patches.DefaultOptions(),
	}
}

// Store is the fact store a run reads from and writes to.
type Store interface {
	facts.Source
	facts.IDChecker
	ReplaceClosure(c *refgraph.Closure) error
	SaveRun(run *storage.RunRecord) error
}

// Result is everything one run produced.
type Result struct {
	RunID           string                   `json:"runId"`
	StartedAt       time.Time                `json:"startedAt"`
	CompletedAt     time.Time                `json:"completedAt"`
	ModFilter       []string                 `json:"modFilter,omitempty"`
	Findings        []findings.Finding       `json:"findings"`
	Scores          []relevance.Scored       `json:"scores"`
	Diagnostics     []findings.Diagnostic    `json:"diagnostics,omitempty"`
	Dropped         int                      `json:"dropped"`
	Summary         findings.Summary         `json:"summary"`
	Winners         []direct.Winner          `json:"winners,omitempty"`
	ExecutionOrders []patches.ExecutionOrder `json:"executionOrders,omitempty"`
	Closure         *refgraph.Closure        `json:"-"`
	Metrics         []storage.AnalyzerMetric `json:"-"`
}

// ScoreOf returns the score of a finding, if it was scored.
func (r *Result) ScoreOf(findingID string) (relevance.Score, bool) {
	for _, s := range r.Scores {
		if s.FindingID == findingID {
			return s.Score, true
		}
	}
	return relevance.Score{}, false
}

// Record converts the result into the stored run record.
func (r *Result) Record() *storage.RunRecord {
	return &storage.RunRecord{
		ID:          r.RunID,
		StartedAt:   r.StartedAt,
		CompletedAt: r.CompletedAt,
		ModFilter:   r.ModFilter,
		Findings:    r.Findings,
		Scores:      r.Scores,
		Diagnostics: r.Diagnostics,
		Dropped:     r.Dropped,
		ClosureRows: r.Closure.Len(),
		Metrics:     r.Metrics,
	}
}

// Engine orchestrates analysis runs.
type Engine struct {
	store  Store
	logger *slog.Logger

	builder  *refgraph.Builder
	direct   *direct.Analyzer
	effects  *effects.Analyzer
	indirect *indirect.Analyzer
	patches  *patches.Analyzer
	scorer   *relevance.Scorer

	now   func() time.Time
	runID func() string
}

// New creates an engine over store. store may be nil for Analyze-only use.
func New(store Store, opts Options, logger *slog.Logger) *Engine {
	return &Engine{
		store:    store,
		logger:   logger,
		builder:  refgraph.NewBuilder(logger, opts.Graph),
		direct:   direct.NewAnalyzer(opts.Direct, logger),
		effects:  effects.NewAnalyzer(logger),
		indirect: indirect.NewAnalyzer(opts.Indirect, logger),
		patches:  patches.NewAnalyzer(opts.Patches, logger),
		scorer:   relevance.NewScorer(opts.Profile, logger),
		now:      time.Now,
		runID:    func() string { return uuid.New().String() },
	}
}

// WithRunID fixes the id of the following runs instead of generating one.
func (e *Engine) WithRunID(id string) *Engine {
	e.runID = func() string { return id }
	return e
}

// WithIndirectRules replaces the indirect rule set.
func (e *Engine) WithIndirectRules(rules []indirect.Rule) *Engine {
	e.indirect.WithRules(rules)
	return e
}

// Run loads the stored facts, analyzes them and persists the closure and
// the run. When mods is non-empty only those mods (by id or name) are
// analyzed against the base data.
func (e *Engine) Run(ctx context.Context, mods []string) (*Result, error) {
	if e.store == nil {
		return nil, apperrors.New(apperrors.InternalError, "engine has no fact store", nil)
	}

	snap, err := e.store.LoadSnapshot()
	if err != nil {
		return nil, apperrors.New(apperrors.FactsUnavailable, "failed to load facts", err)
	}
	if len(snap.Mods) == 0 {
		return nil, apperrors.New(apperrors.FactsUnavailable, "no mods imported", nil)
	}

	var filter []string
	if len(mods) > 0 {
		ids, unknown := snap.FindMods(mods)
		if len(unknown) > 0 {
			return nil, apperrors.New(apperrors.TargetNotFound, fmt.Sprintf("unknown mods: %v", unknown), nil).
				WithDetails(map[string]interface{}{"known": snap.ModIDs()})
		}
		filter = ids
		snap = snap.Restrict(ids)
	}

	res, err := e.Analyze(ctx, snap, e.store)
	if err != nil {
		return nil, err
	}
	res.ModFilter = filter

	if err := e.store.ReplaceClosure(res.Closure); err != nil {
		return nil, apperrors.New(apperrors.StoreWriteFailed, "failed to persist closure", err)
	}
	if err := e.store.SaveRun(res.Record()); err != nil {
		return nil, apperrors.New(apperrors.StoreWriteFailed, "failed to persist run", err)
	}

	e.logger.Info("Analysis run complete",
		"run", res.RunID,
		"findings", len(res.Findings),
		"dropped", res.Dropped,
		"diagnostics", len(res.Diagnostics),
		"closureRows", res.Closure.Len(),
		"duration", res.CompletedAt.Sub(res.StartedAt),
	)
	return res, nil
}

// outcome is what one analyzer contributed to a run.
type outcome struct {
	name     string
	findings []findings.Finding
	diags    []findings.Diagnostic
	duration time.Duration
	failed   bool
}

// Analyze runs every analysis stage over snap without writing anything.
// Indirect findings are validated against checker when it is non-nil. A
// failing analyzer becomes a diagnostic; only cancellation aborts the run.
func (e *Engine) Analyze(ctx context.Context, snap *facts.Snapshot, checker facts.IDChecker) (*Result, error) {
	res := &Result{
		RunID:     e.runID(),
		StartedAt: e.now(),
	}

	closure, err := e.builder.Build(ctx, snap.Definitions, snap.Edges)
	if err != nil {
		return nil, err
	}
	res.Closure = closure

	outcomes := e.runAnalyzers(ctx, snap, closure)
	if err := ctx.Err(); err != nil {
		return nil, err
	}

	var all []findings.Finding
	for _, o := range outcomes {
		fs := o.findings
		if o.name == e.indirect.Name() && checker != nil {
			var dropped int
			fs, dropped = indirect.ValidateParticipants(fs, checker, e.logger)
			res.Dropped += dropped
		}
		all = append(all, fs...)
		res.Diagnostics = append(res.Diagnostics, o.diags...)
		res.Metrics = append(res.Metrics, storage.AnalyzerMetric{
			Analyzer:   o.name,
			Findings:   len(fs),
			DurationMs: o.duration.Milliseconds(),
			Failed:     o.failed,
		})
	}

	all = dedupe(all)
	findings.Sort(all)
	res.Findings = all
	res.Scores = e.scorer.ScoreFindings(snap, closure, all)
	res.Summary = findings.Summarize(all)
	res.Winners = e.direct.Winners(snap)
	res.ExecutionOrders = patches.AllExecutionOrders(snap)
	res.CompletedAt = e.now()
	return res, nil
}

// runAnalyzers runs the four analyzers concurrently. They only read the
// snapshot and the closure.
func (e *Engine) runAnalyzers(ctx context.Context, snap *facts.Snapshot, closure *refgraph.Closure) []outcome {
	type job struct {
		name string
		fn   func() ([]findings.Finding, []findings.Diagnostic, error)
	}
	jobs := []job{
		{e.direct.Name(), func() ([]findings.Finding, []findings.Diagnostic, error) {
			fs, err := e.direct.Analyze(ctx, snap)
			return fs, nil, err
		}},
		{e.effects.Name(), func() ([]findings.Finding, []findings.Diagnostic, error) {
			fs, err := e.effects.Analyze(ctx, snap)
			return fs, nil, err
		}},
		{e.indirect.Name(), func() ([]findings.Finding, []findings.Diagnostic, error) {
			r, err := e.indirect.Analyze(ctx, snap, closure)
			return r.Findings, r.Failed, err
		}},
		{e.patches.Name(), func() ([]findings.Finding, []findings.Diagnostic, error) {
			fs, err := e.patches.Analyze(ctx, snap)
			return fs, nil, err
		}},
	}

	outcomes := make([]outcome, len(jobs))
	var eg errgroup.Group
	for i, j := range jobs {
		eg.Go(func() error {
			start := time.Now()
			var fs []findings.Finding
			var diags []findings.Diagnostic
			err := findings.Guard(func() error {
				var ferr error
				fs, diags, ferr = j.fn()
				return ferr
			})

			o := outcome{name: j.name, duration: time.Since(start), diags: diags}
			if err != nil {
				o.failed = true
				o.diags = append(o.diags, findings.Diagnostic{
					Analyzer: j.name,
					Code:     string(apperrors.AnalyzerFailed),
					Message:  err.Error(),
				})
				if ctx.Err() == nil {
					e.logger.Warn("Analyzer failed", "analyzer", j.name, "error", err.Error())
				}
			} else {
				o.findings = fs
			}
			outcomes[i] = o
			return nil
		})
	}
	_ = eg.Wait()
	return outcomes
}

// dedupe drops repeated finding ids, keeping the first.
func dedupe(fs []findings.Finding) []findings.Finding {
	seen := make(map[string]bool, len(fs))
	out := make([]findings.Finding, 0, len(fs))
	for _, f := range fs {
		if seen[f.ID] {
			continue
		}
		seen[f.ID] = true
		out = append(out, f)
	}
	return out
}
