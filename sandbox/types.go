package sandbox

import "time"

// Category classifies a validation error.
type Category string

const (
	// CategorySyntax marks code the structural analyzer could not parse.
	CategorySyntax Category = "syntax"
	// CategoryImport marks attempts to reach the host module system.
	CategoryImport Category = "import"
	// CategoryForbidden marks forbidden constructs: matched patterns,
	// dangerous member access, eval and Function-constructor use.
	CategoryForbidden Category = "forbidden_construct"
	// CategoryGlobal marks references to identifiers that are neither
	// declared in-source nor allow-listed.
	CategoryGlobal Category = "global"
)

// ValidationError is a single finding of the security validator.
type ValidationError struct {
	Category Category `json:"category"`
	Message  string   `json:"message"`
	// Line and Column are 1-based; zero means unknown.
	Line   int `json:"line,omitempty"`
	Column int `json:"column,omitempty"`
}

// ValidationResult is the outcome of validating one piece of code.
// Errors and Warnings preserve discovery order.
type ValidationResult struct {
	Valid    bool              `json:"valid"`
	Errors   []ValidationError `json:"errors,omitempty"`
	Warnings []string          `json:"warnings,omitempty"`
}

// NewValidationResult creates a valid, empty result.
func NewValidationResult() *ValidationResult {
	return &ValidationResult{Valid: true}
}

// AddError records an error and marks the result invalid.
func (r *ValidationResult) AddError(err ValidationError) {
	r.Valid = false
	r.Errors = append(r.Errors, err)
}

// AddWarning records a non-fatal finding.
func (r *ValidationResult) AddWarning(warning string) {
	r.Warnings = append(r.Warnings, warning)
}

// Diagnostic is a single finding of the static check stage.
type Diagnostic struct {
	Message string `json:"message"`
	// Line is 1-based and relative to the caller's source, after preamble
	// remapping. Zero means unknown.
	Line   int `json:"line,omitempty"`
	Column int `json:"column,omitempty"`
}

// TypeCheckResult is the outcome of the static check stage.
type TypeCheckResult struct {
	Valid       bool         `json:"valid"`
	Diagnostics []Diagnostic `json:"diagnostics,omitempty"`
}

// ExecutionResult is the outcome of a successful execution.
type ExecutionResult struct {
	// Value is the exported (Go-native) result of the sandboxed code.
	Value any `json:"value"`
	// Duration is the wall-clock time the execution took.
	Duration time.Duration `json:"duration"`
}
