// Package indirect finds conflicts that only appear through the reference
// graph: removals, inheritance edits and shared-value edits whose effect
// reaches definitions other mods depend on.
package indirect

import (
	"context"
	"fmt"
	"log/slog"
	"time"

	"modcompat/internal/facts"
	"modcompat/internal/findings"
	"modcompat/internal/refgraph"
)

// Analyzer evaluates the indirect rule set.
type Analyzer struct {
	opts   Options
	rules  []Rule
	logger *slog.Logger
}

// NewAnalyzer creates an indirect analyzer with the built-in rules.
func NewAnalyzer(opts Options, logger *slog.Logger) *Analyzer {
	return &Analyzer{opts: opts, rules: Rules(), logger: logger}
}

// WithRules replaces the rule set. Used by tests and embedders that add
// project-specific rules.
func (a *Analyzer) WithRules(rules []Rule) *Analyzer {
	a.rules = rules
	return a
}

// Name identifies the analyzer in diagnostics.
func (a *Analyzer) Name() string { return "indirect" }

// Analyze evaluates every enabled rule. A rule that faults is reported in
// Result.Failed and contributes no findings; the other rules still run.
func (a *Analyzer) Analyze(ctx context.Context, snap *facts.Snapshot, closure *refgraph.Closure) (Result, error) {
	if closure == nil {
		closure = refgraph.NewClosure(nil)
	}
	in := NewInput(snap, closure, a.opts)

	var res Result
	for _, rule := range a.rules {
		if err := ctx.Err(); err != nil {
			return res, err
		}
		if contains(a.opts.DisabledRules, rule.ID) {
			a.logger.Debug("Skipping disabled rule", "rule", rule.ID)
			continue
		}

		start := time.Now()
		var found []findings.Finding
		err := findings.Guard(func() error {
			found = rule.Eval(in)
			return nil
		})
		if err != nil {
			a.logger.Warn("Indirect rule failed",
				"rule", rule.ID,
				"error", err.Error(),
			)
			res.Failed = append(res.Failed, findings.Diagnostic{
				Analyzer: a.Name(),
				Rule:     rule.ID,
				Code:     "RULE_FAILED",
				Message:  fmt.Sprintf("rule %s failed: %v", rule.ID, err),
			})
			continue
		}

		a.logger.Debug("Indirect rule evaluated",
			"rule", rule.ID,
			"findings", len(found),
			"duration", time.Since(start).String(),
		)
		res.Findings = append(res.Findings, found...)
	}
	return res, nil
}
