package envelope

import (
	"encoding/json"
	"fmt"
	"testing"
	"time"

	"modcompat/internal/findings"
	"modcompat/internal/storage"
)

func TestScoreToTier(t *testing.T) {
	tests := []struct {
		score float64
		want  ConfidenceTier
	}{
		{1.0, TierHigh},
		{0.90, TierHigh},
		{0.89, TierMedium},
		{0.65, TierMedium},
		{0.64, TierLow},
		{0.30, TierLow},
		{0.29, TierSpeculative},
		{0.0, TierSpeculative},
	}

	for _, tt := range tests {
		got := ScoreToTier(tt.score)
		if got != tt.want {
			t.Errorf("ScoreToTier(%v) = %q, want %q", tt.score, got, tt.want)
		}
	}
}

func TestFindingConfidence(t *testing.T) {
	tests := []struct {
		name  string
		confs []findings.Confidence
		want  float64
	}{
		{"no findings", nil, 1.0},
		{"all high", []findings.Confidence{findings.ConfidenceHigh, findings.ConfidenceHigh}, 1.0},
		{"one medium", []findings.Confidence{findings.ConfidenceMedium}, 0.75},
		{"high and medium", []findings.Confidence{findings.ConfidenceHigh, findings.ConfidenceMedium}, 0.875},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			var fs []findings.Finding
			for _, c := range tt.confs {
				fs = append(fs, findings.Finding{Confidence: c})
			}
			if got := FindingConfidence(fs); got != tt.want {
				t.Errorf("FindingConfidence() = %v, want %v", got, tt.want)
			}
		})
	}
}

func TestBuilderBasic(t *testing.T) {
	resp := New().
		Data(map[string]string{"key": "value"}).
		Build()

	if resp.SchemaVersion != CurrentSchemaVersion {
		t.Errorf("SchemaVersion = %q, want %q", resp.SchemaVersion, CurrentSchemaVersion)
	}

	data, ok := resp.Data.(map[string]string)
	if !ok {
		t.Fatalf("Data type = %T, want map[string]string", resp.Data)
	}
	if data["key"] != "value" {
		t.Errorf("Data[key] = %q, want %q", data["key"], "value")
	}
}

func TestBuilderFromRun(t *testing.T) {
	completed := time.Date(2026, 3, 1, 12, 0, 0, 0, time.UTC)
	high := []findings.Finding{{Confidence: findings.ConfidenceHigh}}

	tests := []struct {
		name     string
		run      *storage.RunSummary
		fs       []findings.Finding
		wantTier ConfidenceTier
		warnings int
		reasons  []string
	}{
		{
			name:     "clean run",
			run:      &storage.RunSummary{ID: "run-1", CompletedAt: completed, ClosureRows: 4},
			fs:       high,
			wantTier: TierHigh,
		},
		{
			name:     "medium findings",
			run:      &storage.RunSummary{ID: "run-2"},
			fs:       []findings.Finding{{Confidence: findings.ConfidenceMedium}},
			wantTier: TierMedium,
		},
		{
			name: "failed analyzer",
			run: &storage.RunSummary{ID: "run-3", Diagnostics: []findings.Diagnostic{
				{Analyzer: "patches", Code: "ANALYZER_FAILED", Message: "panic: boom"},
			}},
			fs:       high,
			wantTier: TierMedium,
			warnings: 1,
			reasons:  []string{"analyzer-failures"},
		},
		{
			name: "many failures and dropped findings",
			run: &storage.RunSummary{ID: "run-4", DroppedCount: 2, Diagnostics: []findings.Diagnostic{
				{Analyzer: "patches", Code: "ANALYZER_FAILED", Message: "a"},
				{Analyzer: "effects", Code: "ANALYZER_FAILED", Message: "b"},
				{Analyzer: "indirect", Rule: "I1", Code: "ANALYZER_FAILED", Message: "c"},
			}},
			fs:       high,
			wantTier: TierSpeculative,
			warnings: 3,
			reasons:  []string{"analyzer-failures", "dropped-findings"},
		},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			resp := New().Data(nil).FromRun(tt.run, tt.fs).Build()

			if resp.Meta == nil || resp.Meta.Provenance == nil || resp.Meta.Confidence == nil {
				t.Fatal("FromRun() should set provenance and confidence")
			}
			if resp.Meta.Provenance.RunID != tt.run.ID {
				t.Errorf("RunID = %q, want %q", resp.Meta.Provenance.RunID, tt.run.ID)
			}
			if got := resp.Meta.Confidence.Tier; got != tt.wantTier {
				t.Errorf("Tier = %q (score %v), want %q", got, resp.Meta.Confidence.Score, tt.wantTier)
			}
			if len(resp.Warnings) != tt.warnings {
				t.Errorf("Warnings = %d, want %d", len(resp.Warnings), tt.warnings)
			}
			if len(resp.Meta.Confidence.Reasons) != len(tt.reasons) {
				t.Fatalf("Reasons = %v, want %v", resp.Meta.Confidence.Reasons, tt.reasons)
			}
			for i, r := range tt.reasons {
				if resp.Meta.Confidence.Reasons[i] != r {
					t.Errorf("Reasons[%d] = %q, want %q", i, resp.Meta.Confidence.Reasons[i], r)
				}
			}
		})
	}
}

func TestBuilderFromRunFormatsCompletion(t *testing.T) {
	run := &storage.RunSummary{
		ID:          "run-1",
		CompletedAt: time.Date(2026, 3, 1, 12, 0, 0, 0, time.UTC),
		ModFilter:   []string{"modA"},
	}
	resp := New().FromRun(run, nil).Build()

	if got := resp.Meta.Provenance.CompletedAt; got != "2026-03-01T12:00:00Z" {
		t.Errorf("CompletedAt = %q", got)
	}
	if len(resp.Meta.Provenance.ModFilter) != 1 {
		t.Errorf("ModFilter = %v", resp.Meta.Provenance.ModFilter)
	}
}

func TestBuilderFromRunNil(t *testing.T) {
	resp := New().
		Data(nil).
		FromRun(nil, nil).
		Build()

	if resp.Meta != nil {
		t.Error("Meta should be nil when run is nil")
	}
}

func TestBuilderWithTruncation(t *testing.T) {
	resp := New().
		Data(nil).
		WithTruncation(false, 10, 100, "limit").
		Build()
	if resp.Meta != nil {
		t.Error("Meta should be nil when not truncated")
	}

	resp = New().
		Data(nil).
		WithTruncation(true, 10, 100, "limit").
		Build()
	if resp.Meta == nil || resp.Meta.Truncation == nil {
		t.Fatal("Truncation should not be nil")
	}
	tr := resp.Meta.Truncation
	if !tr.IsTruncated || tr.Shown != 10 || tr.Total != 100 || tr.Reason != "limit" {
		t.Errorf("Truncation = %+v", tr)
	}
}

func TestBuilderWarning(t *testing.T) {
	resp := New().
		Data(nil).
		Warning("first warning").
		WarningWithCode("W001", "coded warning").
		Build()

	if len(resp.Warnings) != 2 {
		t.Fatalf("Warnings count = %d, want 2", len(resp.Warnings))
	}

	if resp.Warnings[0].Message != "first warning" {
		t.Errorf("Warnings[0].Message = %q, want %q", resp.Warnings[0].Message, "first warning")
	}
	if resp.Warnings[0].Code != "" {
		t.Errorf("Warnings[0].Code = %q, want empty", resp.Warnings[0].Code)
	}

	if resp.Warnings[1].Code != "W001" {
		t.Errorf("Warnings[1].Code = %q, want %q", resp.Warnings[1].Code, "W001")
	}
}

func TestBuilderError(t *testing.T) {
	resp := New().
		Data(nil).
		Error(nil).
		Build()
	if resp.Error != nil {
		t.Error("Error should be nil when no error passed")
	}

	resp = New().
		Data(nil).
		Error(fmt.Errorf("mod not found")).
		Build()
	if resp.Error == nil {
		t.Fatal("Error should not be nil")
	}
	if *resp.Error != "mod not found" {
		t.Errorf("Error = %q, want %q", *resp.Error, "mod not found")
	}
}

func TestBuilderSuggestCalls(t *testing.T) {
	resp := New().
		Data(nil).
		SuggestCalls(map[string]string{
			"simulate EntityAlive.OnUpdateLive": "Inspect the patch order",
			"findings --min-severity=high":      "Show the serious findings",
		}).
		Build()

	if len(resp.SuggestedNextCalls) != 2 {
		t.Fatalf("SuggestedNextCalls count = %d, want 2", len(resp.SuggestedNextCalls))
	}

	// Sorted by command
	call := resp.SuggestedNextCalls[0]
	if call.Command != "findings" {
		t.Errorf("SuggestedNextCalls[0].Command = %q, want %q", call.Command, "findings")
	}
	if call.Params["min-severity"] != "high" {
		t.Errorf("Params[min-severity] = %v, want %q", call.Params["min-severity"], "high")
	}
	if call.Reason != "Show the serious findings" {
		t.Errorf("Reason = %q", call.Reason)
	}

	call = resp.SuggestedNextCalls[1]
	if call.Command != "simulate" || call.Params["target"] != "EntityAlive.OnUpdateLive" {
		t.Errorf("SuggestedNextCalls[1] = %+v", call)
	}
}

func TestParseCommand(t *testing.T) {
	tests := []struct {
		name    string
		line    string
		command string
		params  map[string]interface{}
	}{
		{
			name:    "simple positional",
			line:    "search gunBase",
			command: "search",
			params:  map[string]interface{}{"query": "gunBase"},
		},
		{
			name:    "flag parameter",
			line:    "findings --pattern=D2",
			command: "findings",
			params:  map[string]interface{}{"pattern": "D2"},
		},
		{
			name:    "boolean flag and positional",
			line:    "export --include-closure report.json",
			command: "export",
			params:  map[string]interface{}{"include-closure": true, "arg": "report.json"},
		},
		{
			name: "empty line",
			line: "",
		},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			got := ParseCommand(tt.line)

			if tt.command == "" {
				if got != nil {
					t.Errorf("ParseCommand(%q) = %v, want nil", tt.line, got)
				}
				return
			}
			if got == nil {
				t.Fatalf("ParseCommand(%q) = nil, want non-nil", tt.line)
			}
			if got.Command != tt.command {
				t.Errorf("Command = %q, want %q", got.Command, tt.command)
			}
			for k, v := range tt.params {
				if got.Params[k] != v {
					t.Errorf("Params[%q] = %v, want %v", k, got.Params[k], v)
				}
			}
		})
	}
}

func TestOperational(t *testing.T) {
	resp := Operational(map[string]bool{"valid": true})

	if resp.SchemaVersion != CurrentSchemaVersion {
		t.Errorf("SchemaVersion = %q, want %q", resp.SchemaVersion, CurrentSchemaVersion)
	}
	if resp.Meta == nil || resp.Meta.Confidence == nil {
		t.Fatal("Meta.Confidence should not be nil")
	}
	if resp.Meta.Confidence.Score != 1.0 || resp.Meta.Confidence.Tier != TierHigh {
		t.Errorf("Confidence = %+v", resp.Meta.Confidence)
	}
}

func TestResponseJSONSerialization(t *testing.T) {
	resp := New().
		Data(map[string]string{"foo": "bar"}).
		Warning("test warning").
		FromRun(&storage.RunSummary{ID: "run-9"}, nil).
		Build()

	jsonBytes, err := json.Marshal(resp)
	if err != nil {
		t.Fatalf("json.Marshal failed: %v", err)
	}

	var parsed Response
	if err := json.Unmarshal(jsonBytes, &parsed); err != nil {
		t.Fatalf("json.Unmarshal failed: %v", err)
	}

	if parsed.SchemaVersion != CurrentSchemaVersion {
		t.Errorf("SchemaVersion = %q, want %q", parsed.SchemaVersion, CurrentSchemaVersion)
	}
	if len(parsed.Warnings) != 1 {
		t.Errorf("Warnings count = %d, want 1", len(parsed.Warnings))
	}
	if parsed.Meta == nil || parsed.Meta.Provenance == nil || parsed.Meta.Provenance.RunID != "run-9" {
		t.Fatalf("Meta = %+v", parsed.Meta)
	}
}
