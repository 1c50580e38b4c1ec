package sandbox

import (
	"fmt"
	"strings"
	"testing"

	"github.com/stretchr/testify/require"
	"pgregory.net/rapid"
)

// identGen produces lowercase identifiers that can never collide with a
// keyword, the allowlist or the wrapper's safe names: no reserved word and
// no default global starts with "q".
func identGen() *rapid.Generator[string] {
	return rapid.StringMatching(`q[a-z0-9]{2,7}`)
}

// A reference to any undeclared lowercase identifier is always rejected
// with a global-category error, regardless of surrounding declarations.
func TestValidator_PropertyUndeclaredAlwaysRejected(t *testing.T) {
	v := NewValidator(nil)

	rapid.Check(t, func(t *rapid.T) {
		name := identGen().Draw(t, "name")
		decls := rapid.IntRange(0, 5).Draw(t, "decls")

		var b strings.Builder
		for i := 0; i < decls; i++ {
			fmt.Fprintf(&b, "const d%d = %d;\n", i, i)
		}
		fmt.Fprintf(&b, "%s;\n", name)

		result := v.Validate(b.String(), testSandboxConfig())
		require.False(t, result.Valid)
		require.True(t, hasCategory(result, CategoryGlobal), "errors: %v", result.Errors)
	})
}

// Declaring a name anywhere in the module makes every reference to it
// valid, in any order.
func TestValidator_PropertyDeclaredAlwaysAccepted(t *testing.T) {
	v := NewValidator(nil)

	rapid.Check(t, func(t *rapid.T) {
		name := identGen().Draw(t, "name")
		declareFirst := rapid.Bool().Draw(t, "declareFirst")

		decl := fmt.Sprintf("const %s = 1;", name)
		use := fmt.Sprintf("const out = %s + 1;", name)

		code := decl + "\n" + use
		if !declareFirst {
			code = fmt.Sprintf("function f() { return %s; }\n%s", name, decl)
		}

		result := v.Validate(code, testSandboxConfig())
		require.True(t, result.Valid, "code:\n%s\nerrors: %v", code, result.Errors)
	})
}

// Adding a name to the allowlist is exactly what makes a bare reference to
// it pass.
func TestValidator_PropertyAllowlistControlsResolution(t *testing.T) {
	v := NewValidator(nil)

	rapid.Check(t, func(t *rapid.T) {
		name := identGen().Draw(t, "name")
		code := fmt.Sprintf("%s(1, 2);", name)

		cfg := testSandboxConfig()
		denied := v.Validate(code, cfg)
		require.False(t, denied.Valid)

		cfg.AllowedGlobals = append(cfg.AllowedGlobals, name)
		granted := v.Validate(code, cfg)
		require.True(t, granted.Valid, "errors: %v", granted.Errors)
	})
}

// Validation never mutates shared state: shuffled repetitions of the same
// inputs always reproduce the same verdicts.
func TestValidator_PropertyStateless(t *testing.T) {
	v := NewValidator(nil)

	rapid.Check(t, func(t *rapid.T) {
		name := identGen().Draw(t, "name")
		good := fmt.Sprintf("const %s = 1; %s + 1;", name, name)
		bad := fmt.Sprintf("%s;", name)

		cfg := testSandboxConfig()
		require.True(t, v.Validate(good, cfg).Valid)
		require.False(t, v.Validate(bad, cfg).Valid)
		require.True(t, v.Validate(good, cfg).Valid)
	})
}
