package sandbox

import (
	"context"
	"errors"
	"fmt"
	"strings"
	"time"

	"github.com/dop251/goja"
	"github.com/google/uuid"
	"go.uber.org/zap"
	"go.uber.org/zap/zapcore"

	"github.com/BaSui01/codemode/config"
)

// errPromisePending marks an async result that can never settle: the
// runtime has no event loop, so a promise still pending after the job
// queue drained will stay pending forever. The evaluation goroutine goes
// quiet and the timeout path decides the outcome.
var errPromisePending = errors.New("promise pending")

// errInterrupted is the value handed to the runtime interrupt on timeout.
var errInterrupted = errors.New("execution interrupted")

// Executor evaluates validated code inside a fresh script runtime with a
// single injected capability context, racing the evaluation against a
// wall-clock budget.
//
// The runtime exposes ECMAScript intrinsics plus a console bridged to the
// logger; it has no host capabilities of its own. Everything the sandboxed
// code can affect outside its own heap flows through the capability
// context the caller supplies.
type Executor struct {
	logger *zap.Logger
}

// NewExecutor creates an executor.
func NewExecutor(logger *zap.Logger) *Executor {
	if logger == nil {
		logger = zap.NewNop()
	}
	return &Executor{logger: logger.With(zap.String("component", "executor"))}
}

type outcome struct {
	value goja.Value
	err   error
}

// Execute runs code with capability injected as the single context
// argument. The code is wrapped in a fresh, strict-mode module-like
// record; its default export (or, failing that, the whole export surface)
// is the designated export, and a callable export is invoked with exactly
// one argument.
//
// The evaluation races a timer armed for cfg.Timeout. A capacity-one
// channel is the single-fire settlement guard: whichever side settles
// first wins, and the loser's eventual completion is discarded rather than
// delivered twice. On timeout the runtime is interrupted best effort and
// *TimeoutError is returned; the abandoned computation may keep running in
// the background, which is an accepted property of the design.
func (e *Executor) Execute(ctx context.Context, code string, capability any, cfg config.SandboxConfig) (*ExecutionResult, error) {
	start := time.Now()
	id := uuid.NewString()

	prog, err := goja.Compile("module.js", wrapModule(code, cfg.ContextName), false)
	if err != nil {
		// Validated code should always compile; surface the failure as an
		// execution fault rather than a host panic.
		return nil, &ExecutionError{Message: fmt.Sprintf("wrapper setup failed: %v", err), Cause: err}
	}

	vm := goja.New()
	e.installConsole(vm, id)

	done := make(chan outcome, 1)
	go func() {
		defer func() {
			if r := recover(); r != nil {
				done <- outcome{err: fmt.Errorf("runtime panic: %v", r)}
			}
		}()
		value, err := e.invoke(vm, prog, capability)
		if errors.Is(err, errPromisePending) {
			// Nothing can settle this promise; leave the race to the timer.
			return
		}
		done <- outcome{value: value, err: err}
	}()

	timer := time.NewTimer(cfg.Timeout)
	defer timer.Stop()

	select {
	case out := <-done:
		if out.err != nil {
			execErr := normalizeThrow(out.err)
			e.logger.Debug("execution failed",
				zap.String("execution_id", id),
				zap.String("error", execErr.Message))
			return nil, execErr
		}
		result := &ExecutionResult{Duration: time.Since(start)}
		if out.value != nil {
			result.Value = out.value.Export()
		}
		e.logger.Debug("execution completed",
			zap.String("execution_id", id),
			zap.Duration("duration", result.Duration))
		return result, nil

	case <-timer.C:
		vm.Interrupt(errInterrupted)
		e.logger.Warn("execution timed out",
			zap.String("execution_id", id),
			zap.Duration("timeout", cfg.Timeout))
		return nil, &TimeoutError{Timeout: cfg.Timeout}

	case <-ctx.Done():
		vm.Interrupt(errInterrupted)
		return nil, &ExecutionError{Message: "execution canceled", Cause: ctx.Err()}
	}
}

// invoke runs the wrapper, locates the designated export and calls it.
func (e *Executor) invoke(vm *goja.Runtime, prog *goja.Program, capability any) (goja.Value, error) {
	wrapperVal, err := vm.RunProgram(prog)
	if err != nil {
		return nil, err
	}
	wrapper, ok := goja.AssertFunction(wrapperVal)
	if !ok {
		return nil, fmt.Errorf("module wrapper is not callable")
	}

	module := vm.NewObject()
	exports := vm.NewObject()
	if err := module.Set("exports", exports); err != nil {
		return nil, err
	}

	ctxVal := goja.Undefined()
	if capability != nil {
		ctxVal = vm.ToValue(capability)
	}

	exported, err := wrapper(goja.Undefined(), module, exports, ctxVal)
	if err != nil {
		return nil, err
	}

	target := exported
	if obj, ok := exported.(*goja.Object); ok {
		if d := obj.Get("default"); d != nil && !goja.IsUndefined(d) {
			target = d
		}
	}

	fn, ok := goja.AssertFunction(target)
	if !ok {
		// Non-callable export surface is the result itself.
		return target, nil
	}

	result, err := fn(goja.Undefined(), ctxVal)
	if err != nil {
		return nil, err
	}
	return e.settle(result)
}

// settle resolves a possibly asynchronous result. The job queue has fully
// drained by the time the call returns, so a promise is either settled or
// unsettleable.
func (e *Executor) settle(value goja.Value) (goja.Value, error) {
	p, ok := value.Export().(*goja.Promise)
	if !ok {
		return value, nil
	}
	switch p.State() {
	case goja.PromiseStateFulfilled:
		return p.Result(), nil
	case goja.PromiseStateRejected:
		reason := p.Result()
		return nil, fmt.Errorf("promise rejected: %s", valueString(reason))
	default:
		return nil, errPromisePending
	}
}

// normalizeThrow converts any evaluation failure into *ExecutionError.
func normalizeThrow(err error) *ExecutionError {
	var ex *goja.Exception
	if errors.As(err, &ex) {
		return &ExecutionError{
			Message: valueString(ex.Value()),
			Stack:   ex.String(),
			Cause:   err,
		}
	}
	return &ExecutionError{Message: err.Error(), Cause: err}
}

func valueString(v goja.Value) string {
	if v == nil {
		return "undefined"
	}
	return v.String()
}

// wrapModule builds the fresh module-like record around the executable
// text. The wrapper returns module.exports so reassignment inside the code
// is honored, and it binds the capability context under its configured
// parameter name. It runs strict: in sloppy mode a plain function call
// would substitute the global object for an undefined this, handing the
// code an unvalidated path to every intrinsic.
func wrapModule(code, contextName string) string {
	return fmt.Sprintf("(function(module, exports, %s) {\"use strict\";\n%s\n;return module.exports;\n})", contextName, code)
}

// installConsole bridges the sandbox console to the structured logger.
func (e *Executor) installConsole(vm *goja.Runtime, executionID string) {
	logger := e.logger.With(zap.String("execution_id", executionID))
	console := vm.NewObject()
	levels := map[string]zapcore.Level{
		"debug": zapcore.DebugLevel,
		"log":   zapcore.InfoLevel,
		"info":  zapcore.InfoLevel,
		"warn":  zapcore.WarnLevel,
		"error": zapcore.ErrorLevel,
	}
	for name, level := range levels {
		lvl := level
		_ = console.Set(name, func(call goja.FunctionCall) goja.Value {
			parts := make([]string, 0, len(call.Arguments))
			for _, arg := range call.Arguments {
				parts = append(parts, valueString(arg))
			}
			logger.Log(lvl, strings.Join(parts, " "))
			return goja.Undefined()
		})
	}
	_ = vm.Set("console", console)
}
