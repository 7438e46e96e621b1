package errors

import (
	"fmt"
)

// ErrorCode represents stable error codes for all failure modes
type ErrorCode string

const (
	// FactsUnavailable indicates no facts have been imported yet
	FactsUnavailable ErrorCode = "FACTS_UNAVAILABLE"
	// FactsInvalid indicates a fact bundle failed validation
	FactsInvalid ErrorCode = "FACTS_INVALID"
	// StoreWriteFailed indicates a fact store transaction failed
	StoreWriteFailed ErrorCode = "STORE_WRITE_FAILED"
	// AnalyzerFailed indicates an analyzer or rule faulted during a run
	AnalyzerFailed ErrorCode = "ANALYZER_FAILED"
	// ConfigInvalid indicates invalid configuration
	ConfigInvalid ErrorCode = "CONFIG_INVALID"
	// TargetNotFound indicates an unknown mod, definition or patch target
	TargetNotFound ErrorCode = "TARGET_NOT_FOUND"
	// InternalError indicates unexpected error
	InternalError ErrorCode = "INTERNAL_ERROR"
)

// FixActionType represents the type of fix action
type FixActionType string

const (
	// RunCommand suggests running a command
	RunCommand FixActionType = "run-command"
	// EditConfig suggests changing a configuration value
	EditConfig FixActionType = "edit-config"
)

// FixAction represents a suggested fix for an error
type FixAction struct {
	Type        FixActionType `json:"type"`
	Command     string        `json:"command,omitempty"`
	Safe        bool          `json:"safe,omitempty"`
	Description string        `json:"description,omitempty"`
}

// AppError is an error with a stable code and suggested fixes
type AppError struct {
	Code           ErrorCode   `json:"code"`
	Message        string      `json:"message"`
	Details        interface{} `json:"details,omitempty"`
	SuggestedFixes []FixAction `json:"suggestedFixes,omitempty"`
	cause          error       // Underlying error (not exported to JSON)
}

// New creates an AppError with the default fixes for its code
func New(code ErrorCode, message string, cause error) *AppError {
	return &AppError{
		Code:           code,
		Message:        message,
		cause:          cause,
		SuggestedFixes: GetSuggestedFixes(code),
	}
}

// Error implements the error interface
func (e *AppError) Error() string {
	if e.cause != nil {
		return fmt.Sprintf("[%s] %s: %v", e.Code, e.Message, e.cause)
	}
	return fmt.Sprintf("[%s] %s", e.Code, e.Message)
}

// Unwrap returns the underlying error
func (e *AppError) Unwrap() error {
	return e.cause
}

// WithDetails adds details to the error
func (e *AppError) WithDetails(details interface{}) *AppError {
	e.Details = details
	return e
}

// ErrorActions maps error codes to suggested fix actions
var ErrorActions = map[ErrorCode][]FixAction{
	FactsUnavailable: {
		{
			Type:        RunCommand,
			Command:     "modcompat import <bundle>",
			Safe:        true,
			Description: "Import a fact bundle produced by the extraction front end",
		},
	},
	FactsInvalid: {
		{
			Type:        RunCommand,
			Command:     "modcompat import --dry-run <bundle>",
			Safe:        true,
			Description: "List every validation problem in the bundle",
		},
	},
	ConfigInvalid: {
		{
			Type:        RunCommand,
			Command:     "modcompat config show",
			Safe:        true,
			Description: "Show the effective configuration",
		},
		{
			Type:        EditConfig,
			Description: "Fix the reported field in .modcompat/config.json",
		},
	},
	AnalyzerFailed: {
		{
			Type:        RunCommand,
			Command:     "modcompat analyze -vv",
			Safe:        true,
			Description: "Re-run with debug logging to see the failing rule",
		},
	},
}

// GetSuggestedFixes returns suggested fixes for an error code
func GetSuggestedFixes(code ErrorCode) []FixAction {
	if fixes, ok := ErrorActions[code]; ok {
		return fixes
	}
	return nil
}
