package errors

import (
	"errors"
	"strings"
	"testing"
)

func TestNew(t *testing.T) {
	cause := errors.New("no such table")
	err := New(FactsUnavailable, "no facts imported", cause)

	if err.Code != FactsUnavailable {
		t.Errorf("Code = %v, want %v", err.Code, FactsUnavailable)
	}
	if err.Message != "no facts imported" {
		t.Errorf("Message = %q, want %q", err.Message, "no facts imported")
	}
	if len(err.SuggestedFixes) != 1 || !strings.Contains(err.SuggestedFixes[0].Command, "import") {
		t.Errorf("SuggestedFixes = %+v", err.SuggestedFixes)
	}
}

func TestAppError_Error(t *testing.T) {
	tests := []struct {
		name      string
		code      ErrorCode
		message   string
		cause     error
		wantParts []string
	}{
		{
			name:      "with cause",
			code:      StoreWriteFailed,
			message:   "failed to persist findings",
			cause:     errors.New("database is locked"),
			wantParts: []string{"STORE_WRITE_FAILED", "failed to persist findings", "database is locked"},
		},
		{
			name:      "without cause",
			code:      TargetNotFound,
			message:   "unknown mod 'foo'",
			cause:     nil,
			wantParts: []string{"TARGET_NOT_FOUND", "unknown mod 'foo'"},
		},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			got := New(tt.code, tt.message, tt.cause).Error()
			for _, part := range tt.wantParts {
				if !strings.Contains(got, part) {
					t.Errorf("Error() = %q, want to contain %q", got, part)
				}
			}
		})
	}
}

func TestAppError_Unwrap(t *testing.T) {
	cause := errors.New("root cause")
	err := New(InternalError, "something went wrong", cause)

	if !errors.Is(err, cause) {
		t.Errorf("errors.Is(err, cause) = false, want true")
	}

	var appErr *AppError
	if !errors.As(error(err), &appErr) || appErr.Code != InternalError {
		t.Errorf("errors.As() failed to extract AppError")
	}

	if New(ConfigInvalid, "bad", nil).Unwrap() != nil {
		t.Errorf("Unwrap() on error without cause should return nil")
	}
}

func TestWithDetails(t *testing.T) {
	err := New(FactsInvalid, "invalid bundle", nil).WithDetails([]string{"mods[0].id failed \"required\""})
	problems, ok := err.Details.([]string)
	if !ok || len(problems) != 1 {
		t.Errorf("Details = %#v", err.Details)
	}
}

func TestGetSuggestedFixes(t *testing.T) {
	tests := []struct {
		code ErrorCode
		want int
	}{
		{FactsUnavailable, 1},
		{ConfigInvalid, 2},
		{InternalError, 0},
	}
	for _, tt := range tests {
		t.Run(string(tt.code), func(t *testing.T) {
			if got := len(GetSuggestedFixes(tt.code)); got != tt.want {
				t.Errorf("len(GetSuggestedFixes(%s)) = %d, want %d", tt.code, got, tt.want)
			}
		})
	}
}
