package sandbox

import (
	"strings"

	"github.com/evanw/esbuild/pkg/api"
	"go.uber.org/zap"

	"github.com/BaSui01/codemode/config"
)

// TypeChecker is the optional pre-execution static gate. When disabled it
// is an explicit, cheap bypass; when enabled it checks the caller's source
// against the declared capability shape with zero tolerance for
// diagnostics.
//
// The check builds one isolated compilation unit per call:
//
//	builtinDeclarations + "\n" + preamble + "\n" + source
//
// and feeds it to the TypeScript front end. Diagnostic lines are reported
// against the concatenated unit, so the checker subtracts the prefix line
// count before returning them; anything remapping to a line below 1
// originated in the declarations or the preamble and is silently dropped.
//
// The front end reports parse and lowering diagnostics, not full type
// inference: a call passing arguments of the wrong type to a declared
// capability passes the gate. Treat the check as a syntax and shape gate
// over the annotated source, not as proof the code matches the preamble.
// Security does not rest here; the Validator and the Executor's capability
// injection do not trust this stage.
//
// TypeChecker holds no state across calls.
type TypeChecker struct {
	logger *zap.Logger
}

// NewTypeChecker creates a type checker.
func NewTypeChecker(logger *zap.Logger) *TypeChecker {
	if logger == nil {
		logger = zap.NewNop()
	}
	return &TypeChecker{logger: logger.With(zap.String("component", "typecheck"))}
}

// Check analyzes source against cfg. It never executes the input.
func (t *TypeChecker) Check(source string, cfg config.TypeCheckConfig) *TypeCheckResult {
	if !cfg.Enabled {
		return &TypeCheckResult{Valid: true}
	}

	prefix := builtinDeclarations + "\n" + cfg.Preamble + "\n"
	unit := prefix + source
	prefixLines := strings.Count(prefix, "\n")

	result := api.Transform(unit, api.TransformOptions{
		Loader:     api.LoaderTS,
		Format:     api.FormatCommonJS,
		Target:     targetFromOptions(cfg.CompilerOptions),
		Sourcefile: "typecheck.ts",
		LogLevel:   api.LogLevelSilent,
	})

	res := &TypeCheckResult{Valid: true}
	for _, msg := range result.Errors {
		d := Diagnostic{Message: msg.Text}
		if msg.Location != nil {
			line := msg.Location.Line - prefixLines
			if line < 1 {
				// The diagnostic points into the declaration prefix, not
				// the caller's code. It must never surface.
				continue
			}
			d.Line = line
			d.Column = msg.Location.Column
		}
		res.Valid = false
		res.Diagnostics = append(res.Diagnostics, d)
	}

	if !res.Valid {
		t.logger.Debug("type check failed", zap.Int("diagnostics", len(res.Diagnostics)))
	}
	return res
}

func targetFromOptions(opts map[string]string) api.Target {
	switch strings.ToLower(opts["target"]) {
	case "es2015", "es6":
		return api.ES2015
	case "es2016":
		return api.ES2016
	case "es2017":
		return api.ES2017
	case "es2018":
		return api.ES2018
	case "es2019":
		return api.ES2019
	case "es2021":
		return api.ES2021
	case "es2022":
		return api.ES2022
	case "esnext":
		return api.ESNext
	default:
		return api.ES2020
	}
}

// builtinDeclarations mirrors exactly the runtime intrinsics the executor's
// safe-global allowlist exposes (see config.DefaultAllowedGlobals) -- never
// more. The declarations are type-only text: they are never executed and
// never appear in transpiled output.
const builtinDeclarations = `// Built-in declaration surface for sandboxed modules.
interface SandboxConsole {
	log(...args: unknown[]): void;
	info(...args: unknown[]): void;
	warn(...args: unknown[]): void;
	error(...args: unknown[]): void;
	debug(...args: unknown[]): void;
}
declare var console: SandboxConsole;
declare var NaN: number;
declare var Infinity: number;
declare function parseInt(text: string, radix?: number): number;
declare function parseFloat(text: string): number;
declare function isNaN(value: unknown): boolean;
declare function isFinite(value: unknown): boolean;
declare function encodeURIComponent(text: string): string;
declare function decodeURIComponent(text: string): string;
declare var Object: {
	keys(o: object): string[];
	values(o: object): unknown[];
	entries(o: object): [string, unknown][];
	assign(target: object, ...sources: object[]): object;
	freeze<T>(o: T): Readonly<T>;
	fromEntries(entries: Iterable<readonly [string, unknown]>): object;
};
declare var Array: {
	isArray(value: unknown): boolean;
	from<T>(iterable: Iterable<T> | ArrayLike<T>): T[];
	of<T>(...items: T[]): T[];
};
declare var String: {
	(value?: unknown): string;
	fromCharCode(...codes: number[]): string;
};
declare var Number: {
	(value?: unknown): number;
	isInteger(value: unknown): boolean;
	isFinite(value: unknown): boolean;
	parseFloat(text: string): number;
	parseInt(text: string, radix?: number): number;
	MAX_SAFE_INTEGER: number;
	MIN_SAFE_INTEGER: number;
};
declare var Boolean: { (value?: unknown): boolean };
declare var Math: {
	abs(x: number): number;
	ceil(x: number): number;
	floor(x: number): number;
	max(...values: number[]): number;
	min(...values: number[]): number;
	pow(base: number, exponent: number): number;
	random(): number;
	round(x: number): number;
	sqrt(x: number): number;
	trunc(x: number): number;
	PI: number;
	E: number;
};
declare var JSON: {
	parse(text: string): unknown;
	stringify(value: unknown, replacer?: unknown, space?: string | number): string;
};
declare var Date: {
	new (value?: number | string): { getTime(): number; toISOString(): string };
	now(): number;
};
declare var RegExp: { new (pattern: string, flags?: string): { test(s: string): boolean } };
declare var Error: { new (message?: string): { name: string; message: string; stack?: string } };
declare var TypeError: typeof Error;
declare var RangeError: typeof Error;
declare var SyntaxError: typeof Error;
declare var Map: { new <K, V>(entries?: readonly (readonly [K, V])[]): {
	get(key: K): V | undefined;
	set(key: K, value: V): unknown;
	has(key: K): boolean;
	delete(key: K): boolean;
	size: number;
} };
declare var Set: { new <T>(values?: readonly T[]): {
	add(value: T): unknown;
	has(value: T): boolean;
	delete(value: T): boolean;
	size: number;
} };
declare var WeakMap: { new (): object };
declare var WeakSet: { new (): object };
declare var Symbol: { (description?: string): symbol; iterator: symbol };
declare var Promise: {
	new <T>(executor: (resolve: (value: T) => void, reject: (reason?: unknown) => void) => void): PromiseLike<T>;
	resolve<T>(value: T): PromiseLike<T>;
	reject(reason?: unknown): PromiseLike<never>;
	all(values: readonly unknown[]): PromiseLike<unknown[]>;
};`
