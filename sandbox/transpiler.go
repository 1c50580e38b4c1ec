package sandbox

import (
	"fmt"
	"strings"

	"github.com/evanw/esbuild/pkg/api"
)

// Transpiler lowers type-annotated, module-syntax author text into plain
// executable script: type annotations and generics are erased, enums become
// runtime objects, and ES module syntax is rewritten into a CommonJS-shaped
// module record the executor's wrapper understands.
type Transpiler struct {
	target api.Target
}

// NewTranspiler creates a transpiler targeting ES2020.
func NewTranspiler() *Transpiler {
	return &Transpiler{target: api.ES2020}
}

// Transpile converts source to executable script text. It is a pure
// function of its input and never panics; any input esbuild cannot lower
// yields a *TranspilationError.
func (t *Transpiler) Transpile(source string) (code string, err error) {
	defer func() {
		if r := recover(); r != nil {
			err = &TranspilationError{Message: fmt.Sprintf("transform panic: %v", r)}
		}
	}()

	result := api.Transform(source, api.TransformOptions{
		Loader:     api.LoaderTS,
		Format:     api.FormatCommonJS,
		Target:     t.target,
		Sourcefile: "module.ts",
		LogLevel:   api.LogLevelSilent,
	})

	if len(result.Errors) > 0 {
		return "", &TranspilationError{Message: formatMessages(result.Errors)}
	}

	return string(result.Code), nil
}

func formatMessages(msgs []api.Message) string {
	parts := make([]string, 0, len(msgs))
	for _, m := range msgs {
		if m.Location != nil {
			parts = append(parts, fmt.Sprintf("%d:%d %s", m.Location.Line, m.Location.Column, m.Text))
		} else {
			parts = append(parts, m.Text)
		}
	}
	return strings.Join(parts, "; ")
}
