package sandbox

import (
	"fmt"
	"strings"
	"time"
)

// The pipeline surfaces exactly one typed error per failed stage. All of
// them are recoverable; none crash the host process, and no stage retries
// on its own.

// TranspilationError reports source that could not be lowered to executable
// form.
type TranspilationError struct {
	Message string
}

func (e *TranspilationError) Error() string {
	return fmt.Sprintf("transpilation failed: %s", e.Message)
}

// TypeCheckError reports diagnostics from the static check stage.
type TypeCheckError struct {
	Diagnostics []Diagnostic
}

func (e *TypeCheckError) Error() string {
	if len(e.Diagnostics) == 0 {
		return "type check failed"
	}
	parts := make([]string, 0, len(e.Diagnostics))
	for _, d := range e.Diagnostics {
		if d.Line > 0 {
			parts = append(parts, fmt.Sprintf("%d:%d %s", d.Line, d.Column, d.Message))
		} else {
			parts = append(parts, d.Message)
		}
	}
	return fmt.Sprintf("type check failed: %s", strings.Join(parts, "; "))
}

// SecurityViolation reports code the validator rejected. It carries only
// the violation descriptions, never internal analysis state.
type SecurityViolation struct {
	Errors []ValidationError
}

func (e *SecurityViolation) Error() string {
	if len(e.Errors) == 0 {
		return "security validation failed"
	}
	parts := make([]string, 0, len(e.Errors))
	for _, v := range e.Errors {
		if v.Line > 0 {
			parts = append(parts, fmt.Sprintf("[%s] %d:%d %s", v.Category, v.Line, v.Column, v.Message))
		} else {
			parts = append(parts, fmt.Sprintf("[%s] %s", v.Category, v.Message))
		}
	}
	return fmt.Sprintf("security validation failed: %s", strings.Join(parts, "; "))
}

// ExecutionError reports a throw inside the sandboxed code or during
// wrapper setup.
type ExecutionError struct {
	Message string
	// Stack is the script-level stack trace when one is available.
	Stack string
	Cause error
}

func (e *ExecutionError) Error() string {
	return fmt.Sprintf("execution failed: %s", e.Message)
}

func (e *ExecutionError) Unwrap() error {
	return e.Cause
}

// TimeoutError reports an execution that exceeded its wall-clock budget.
// The computation is not forcibly terminated beyond a best-effort runtime
// interrupt; it may keep consuming resources in the background.
type TimeoutError struct {
	Timeout time.Duration
}

func (e *TimeoutError) Error() string {
	return fmt.Sprintf("execution timed out after %s", e.Timeout)
}

// LimitExceededError reports a source rejected by the size gate before any
// pipeline stage ran.
type LimitExceededError struct {
	// Unit is "bytes" or "tokens".
	Unit   string
	Limit  int
	Actual int
}

func (e *LimitExceededError) Error() string {
	return fmt.Sprintf("source exceeds limit: %d %s (max %d)", e.Actual, e.Unit, e.Limit)
}
