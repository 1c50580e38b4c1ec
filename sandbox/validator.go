package sandbox

import (
	"fmt"
	"regexp"
	"strings"

	"github.com/dop251/goja/parser"
	"go.uber.org/zap"

	"github.com/BaSui01/codemode/config"
)

// Module-boundary syntax probes, consulted only after a failed parse.
// The parser that guards execution has no ES-module mode, so real
// import/export-from syntax can never produce a valid tree; on a
// successful parse any textual match is inside a string, comment or
// template literal and must not be reported.
var (
	staticImportRe  = regexp.MustCompile(`(?m)^[ \t]*import\s`)
	dynamicImportRe = regexp.MustCompile(`\bimport\s*\(`)
	exportFromRe    = regexp.MustCompile(`(?m)^[ \t]*export\s+(\*|\{[^}]*\})\s*from\b`)
)

// Validator is the security core: whitelist-based static policy
// enforcement. Code is accepted iff every capability it could exercise is
// one the configuration explicitly grants.
//
// Validate is total: it never throws and never executes its input. It
// holds no state across calls; every invocation builds a fresh symbol
// table, so one author's code can never influence another's validation.
type Validator struct {
	logger *zap.Logger
}

// NewValidator creates a validator.
func NewValidator(logger *zap.Logger) *Validator {
	if logger == nil {
		logger = zap.NewNop()
	}
	return &Validator{logger: logger.With(zap.String("component", "validator"))}
}

// Validate analyzes code against cfg and reports every violation found.
//
// Phase 1 tests the raw text against the configured forbidden patterns.
// Phase 2 parses the code and walks the tree for module-boundary escapes,
// dangerous member access and closed-world identifier resolution. A failed
// parse is classified as a module-boundary escape when the text carries
// import/export syntax, and as a syntax error otherwise. Phase 1 findings
// are fatal but do not suppress phase 2; all errors accumulate into one
// ordered result.
//
// Known limitation, preserved deliberately: the analysis is purely
// syntactic. A member key computed at runtime (such as "constr"+"uctor")
// is not caught; heuristics that guess at runtime values would introduce
// false positives and are out of scope.
func (v *Validator) Validate(code string, cfg config.SandboxConfig) *ValidationResult {
	result := NewValidationResult()

	// Phase 1: fast rejection on raw text.
	for _, pattern := range cfg.ForbiddenPatterns {
		re, err := regexp.Compile(pattern)
		if err != nil {
			result.AddWarning(fmt.Sprintf("invalid forbidden pattern %q: %v", pattern, err))
			continue
		}
		if loc := re.FindStringIndex(code); loc != nil {
			line, col := offsetPosition(code, loc[0])
			result.AddError(ValidationError{
				Category: CategoryForbidden,
				Message:  fmt.Sprintf("forbidden pattern matched: %s", pattern),
				Line:     line,
				Column:   col,
			})
		}
	}

	// Phase 2: structural analysis.
	prog, err := parser.ParseFile(nil, "module.js", code, 0)
	if err != nil {
		if !moduleSyntaxErrors(code, result) {
			verr := ValidationError{Category: CategorySyntax, Message: err.Error()}
			if list, ok := err.(parser.ErrorList); ok && len(list) > 0 {
				verr.Message = list[0].Message
				verr.Line = list[0].Position.Line
				verr.Column = list[0].Position.Column
			}
			result.AddError(verr)
		}
		return result
	}

	a := newAnalysis(prog, []string{cfg.ContextName, "module", "exports", "undefined"})
	a.run()

	allowed := make(map[string]struct{}, len(cfg.AllowedGlobals))
	for _, name := range cfg.AllowedGlobals {
		allowed[name] = struct{}{}
	}
	for _, verr := range a.resolve(allowed) {
		result.AddError(verr)
	}

	if !result.Valid {
		v.logger.Debug("validation rejected code",
			zap.Int("errors", len(result.Errors)),
			zap.Int("code_length", len(code)))
	}
	return result
}

// moduleSyntaxErrors runs the textual module-boundary probes over
// unparseable code and records an import-category error per match. It
// reports whether any probe matched.
func moduleSyntaxErrors(code string, result *ValidationResult) bool {
	matched := false
	for _, probe := range []struct {
		re  *regexp.Regexp
		msg string
	}{
		{staticImportRe, "static import is not allowed"},
		{dynamicImportRe, "dynamic import() is not allowed"},
		{exportFromRe, "export ... from is not allowed"},
	} {
		if loc := probe.re.FindStringIndex(code); loc != nil {
			matched = true
			line, col := offsetPosition(code, loc[0])
			result.AddError(ValidationError{
				Category: CategoryImport,
				Message:  probe.msg,
				Line:     line,
				Column:   col,
			})
		}
	}
	return matched
}

// offsetPosition converts a byte offset into 1-based line and column by
// counting newlines up to the offset.
func offsetPosition(code string, offset int) (line, column int) {
	if offset > len(code) {
		offset = len(code)
	}
	prefix := code[:offset]
	line = strings.Count(prefix, "\n") + 1
	if i := strings.LastIndexByte(prefix, '\n'); i >= 0 {
		column = offset - i
	} else {
		column = offset + 1
	}
	return line, column
}
