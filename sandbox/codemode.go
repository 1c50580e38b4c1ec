package sandbox

import (
	"context"
	"crypto/sha256"
	"encoding/hex"
	"fmt"
	"sort"
	"strings"
	"time"

	"github.com/google/uuid"
	"github.com/pkoukk/tiktoken-go"
	"go.opentelemetry.io/otel"
	"go.opentelemetry.io/otel/attribute"
	"go.opentelemetry.io/otel/trace"
	"go.uber.org/zap"
	"golang.org/x/sync/singleflight"
	"golang.org/x/time/rate"

	"github.com/BaSui01/codemode/audit"
	"github.com/BaSui01/codemode/config"
	"github.com/BaSui01/codemode/internal/cache"
	"github.com/BaSui01/codemode/internal/metrics"
)

const instrumentationName = "github.com/BaSui01/codemode/sandbox"

// CodeMode composes the four pipeline stages. Run evaluates a source
// module end to end; Compile runs everything up to execution once and
// yields a CompiledModule that repeats only the execution step per call.
//
// Invocations are independent: no mutable state is shared between
// concurrent Run/Compile/Execute calls except what the caller's own
// capability callbacks close over.
type CodeMode struct {
	cfg    *config.Config
	logger *zap.Logger

	transpiler *Transpiler
	checker    *TypeChecker
	validator  *Validator
	executor   *Executor

	store     cache.Store
	collector *metrics.Collector
	auditor   audit.Store
	limiter   *rate.Limiter
	tokenizer *tiktoken.Tiktoken
	tracer    trace.Tracer

	compileGroup singleflight.Group
}

// Option configures a CodeMode instance.
type Option func(*CodeMode)

// WithLogger sets the logger. Defaults to a no-op logger.
func WithLogger(logger *zap.Logger) Option {
	return func(cm *CodeMode) { cm.logger = logger }
}

// WithCacheStore sets the compiled-module cache backend, overriding the
// one built from configuration.
func WithCacheStore(store cache.Store) Option {
	return func(cm *CodeMode) { cm.store = store }
}

// WithMetrics sets the metrics collector.
func WithMetrics(collector *metrics.Collector) Option {
	return func(cm *CodeMode) { cm.collector = collector }
}

// WithAuditStore sets the execution audit store, overriding the one built
// from configuration.
func WithAuditStore(store audit.Store) Option {
	return func(cm *CodeMode) { cm.auditor = store }
}

// New creates a CodeMode pipeline from cfg.
func New(cfg *config.Config, opts ...Option) (*CodeMode, error) {
	if cfg == nil {
		cfg = config.DefaultConfig()
	}
	if err := cfg.Validate(); err != nil {
		return nil, err
	}

	cm := &CodeMode{
		cfg:    cfg,
		logger: zap.NewNop(),
		tracer: otel.Tracer(instrumentationName),
	}
	for _, opt := range opts {
		opt(cm)
	}

	cm.transpiler = NewTranspiler()
	cm.checker = NewTypeChecker(cm.logger)
	cm.validator = NewValidator(cm.logger)
	cm.executor = NewExecutor(cm.logger)

	if cfg.Sandbox.RateLimitRPS > 0 {
		burst := cfg.Sandbox.RateLimitBurst
		if burst <= 0 {
			burst = 1
		}
		cm.limiter = rate.NewLimiter(rate.Limit(cfg.Sandbox.RateLimitRPS), burst)
	}

	if cm.store == nil && cfg.Cache.Enabled {
		store, err := cache.New(cfg.Cache, cm.logger)
		if err != nil {
			return nil, fmt.Errorf("failed to build cache store: %w", err)
		}
		cm.store = store
	}

	if cm.auditor == nil && cfg.Audit.Enabled {
		store, err := audit.Open(cfg.Audit, cm.logger)
		if err != nil {
			return nil, fmt.Errorf("failed to open audit store: %w", err)
		}
		cm.auditor = store
	}

	if cfg.Limits.MaxSourceTokens > 0 {
		encoding := cfg.Limits.TokenEncoding
		if encoding == "" {
			encoding = "cl100k_base"
		}
		enc, err := tiktoken.GetEncoding(encoding)
		if err != nil {
			return nil, fmt.Errorf("failed to load token encoding %q: %w", encoding, err)
		}
		cm.tokenizer = enc
	}

	return cm, nil
}

// Close releases the optional backends.
func (cm *CodeMode) Close() error {
	var firstErr error
	if cm.store != nil {
		if err := cm.store.Close(); err != nil {
			firstErr = err
		}
	}
	if cm.auditor != nil {
		if err := cm.auditor.Close(); err != nil && firstErr == nil {
			firstErr = err
		}
	}
	return firstErr
}

// =============================================================================
// Per-call overrides
// =============================================================================

type runSettings struct {
	sandbox   config.SandboxConfig
	typeCheck config.TypeCheckConfig
}

// RunOption overrides configuration for a single Run or Compile call.
type RunOption func(*runSettings)

// WithTimeout overrides the execution budget.
func WithTimeout(d time.Duration) RunOption {
	return func(s *runSettings) { s.sandbox.Timeout = d }
}

// WithAllowedGlobals replaces the allowlist.
func WithAllowedGlobals(names ...string) RunOption {
	return func(s *runSettings) { s.sandbox.AllowedGlobals = names }
}

// WithForbiddenPatterns replaces the fast-reject pattern list.
func WithForbiddenPatterns(patterns ...string) RunOption {
	return func(s *runSettings) { s.sandbox.ForbiddenPatterns = patterns }
}

// WithTypeCheck toggles the static check stage.
func WithTypeCheck(enabled bool) RunOption {
	return func(s *runSettings) { s.typeCheck.Enabled = enabled }
}

// WithPreamble sets the type-only capability declarations for the static
// check.
func WithPreamble(preamble string) RunOption {
	return func(s *runSettings) { s.typeCheck.Preamble = preamble }
}

func (cm *CodeMode) settings(opts []RunOption) runSettings {
	s := runSettings{
		sandbox:   cm.cfg.Sandbox,
		typeCheck: cm.cfg.TypeCheck,
	}
	// Copy the slices so per-call overrides never alias shared config.
	s.sandbox.AllowedGlobals = append([]string(nil), s.sandbox.AllowedGlobals...)
	s.sandbox.ForbiddenPatterns = append([]string(nil), s.sandbox.ForbiddenPatterns...)
	for _, opt := range opts {
		opt(&s)
	}
	return s
}

// =============================================================================
// Run
// =============================================================================

// Run executes source with capability injected as the single context
// argument. Stages run in order -- static check (if enabled), transpile,
// validate, execute -- and the first failure short-circuits the rest with
// its typed error: *LimitExceededError, *TypeCheckError,
// *TranspilationError, *SecurityViolation, *ExecutionError or
// *TimeoutError.
func (cm *CodeMode) Run(ctx context.Context, source string, capability any, opts ...RunOption) (*ExecutionResult, error) {
	s := cm.settings(opts)

	ctx, span := cm.tracer.Start(ctx, "codemode.run",
		trace.WithAttributes(attribute.Int("source_bytes", len(source))))
	defer span.End()

	if err := cm.checkLimits(source); err != nil {
		cm.record(ctx, "", audit.OutcomeLimitExceeded, err, 0)
		return nil, err
	}
	if cm.limiter != nil {
		if err := cm.limiter.Wait(ctx); err != nil {
			return nil, &ExecutionError{Message: "run canceled while rate limited", Cause: err}
		}
	}

	code, err := cm.prepare(ctx, source, s)
	if err != nil {
		cm.record(ctx, "", outcomeForError(err), err, 0)
		return nil, err
	}

	hash := contentHash(code)
	result, err := cm.execute(ctx, code, capability, s.sandbox)
	if err != nil {
		cm.record(ctx, hash, outcomeForError(err), err, 0)
		return nil, err
	}
	cm.record(ctx, hash, audit.OutcomeOK, nil, result.Duration)
	return result, nil
}

// prepare runs every stage short of execution and returns the validated
// executable text.
func (cm *CodeMode) prepare(ctx context.Context, source string, s runSettings) (string, error) {
	_, span := cm.tracer.Start(ctx, "codemode.prepare")
	defer span.End()

	if s.typeCheck.Enabled {
		stageStart := time.Now()
		check := cm.checker.Check(source, s.typeCheck)
		cm.recordStage(metrics.StageTypeCheck, check.Valid, stageStart)
		if !check.Valid {
			return "", &TypeCheckError{Diagnostics: check.Diagnostics}
		}
	}

	stageStart := time.Now()
	code, err := cm.transpiler.Transpile(source)
	cm.recordStage(metrics.StageTranspile, err == nil, stageStart)
	if err != nil {
		return "", err
	}

	stageStart = time.Now()
	validation := cm.validator.Validate(code, s.sandbox)
	cm.recordStage(metrics.StageValidate, validation.Valid, stageStart)
	if !validation.Valid {
		cm.logger.Warn("security validation rejected module",
			zap.Int("violations", len(validation.Errors)))
		return "", &SecurityViolation{Errors: validation.Errors}
	}

	return code, nil
}

func (cm *CodeMode) execute(ctx context.Context, code string, capability any, sandboxCfg config.SandboxConfig) (*ExecutionResult, error) {
	ctx, span := cm.tracer.Start(ctx, "codemode.execute")
	defer span.End()

	stageStart := time.Now()
	result, err := cm.executor.Execute(ctx, code, capability, sandboxCfg)
	cm.recordStage(metrics.StageExecute, err == nil, stageStart)

	if cm.collector != nil {
		switch err.(type) {
		case nil:
			cm.collector.RecordExecution("ok", result.Duration)
		case *TimeoutError:
			cm.collector.RecordExecution("timeout", time.Since(stageStart))
		default:
			cm.collector.RecordExecution("error", time.Since(stageStart))
		}
	}
	return result, err
}

// =============================================================================
// Compile
// =============================================================================

// CompiledModule pairs validated executable text with its content identity
// and a bound execute operation. It owns no external resources; discard it
// when done.
type CompiledModule struct {
	// Code is the final executable text.
	Code string
	// Hash is the SHA-256 hex digest of Code: stable for identical text,
	// different for any change.
	Hash string

	cm         *CodeMode
	sandboxCfg config.SandboxConfig
}

// Execute runs the compiled module with capability as the single context
// argument, repeating only the execution stage.
func (m *CompiledModule) Execute(ctx context.Context, capability any) (*ExecutionResult, error) {
	result, err := m.cm.execute(ctx, m.Code, capability, m.sandboxCfg)
	if err != nil {
		m.cm.record(ctx, m.Hash, outcomeForError(err), err, 0)
		return nil, err
	}
	m.cm.record(ctx, m.Hash, audit.OutcomeOK, nil, result.Duration)
	return result, nil
}

// Compile runs static check, transpilation and validation once and returns
// a reusable module. Repeated execution pays only the executor cost, e.g.
// the same tool definition evaluated once per conversation turn.
//
// Concurrent compiles of the same source and configuration are
// deduplicated, and compiled text is served from the cache store when one
// is configured.
func (cm *CodeMode) Compile(ctx context.Context, source string, opts ...RunOption) (*CompiledModule, error) {
	s := cm.settings(opts)

	ctx, span := cm.tracer.Start(ctx, "codemode.compile",
		trace.WithAttributes(attribute.Int("source_bytes", len(source))))
	defer span.End()

	if err := cm.checkLimits(source); err != nil {
		return nil, err
	}

	key := compileKey(source, s)

	if cm.store != nil {
		if code, ok, err := cm.store.Get(ctx, key); err == nil && ok {
			if cm.collector != nil {
				cm.collector.RecordCacheHit("compiled_module")
			}
			return cm.module(code, s), nil
		}
		if cm.collector != nil {
			cm.collector.RecordCacheMiss("compiled_module")
		}
	}

	v, err, _ := cm.compileGroup.Do(key, func() (any, error) {
		code, err := cm.prepare(ctx, source, s)
		if err != nil {
			return nil, err
		}
		if cm.store != nil {
			if err := cm.store.Set(ctx, key, code, cm.cfg.Cache.TTL); err != nil {
				cm.logger.Warn("failed to cache compiled module", zap.Error(err))
			}
		}
		return code, nil
	})
	if err != nil {
		return nil, err
	}

	return cm.module(v.(string), s), nil
}

func (cm *CodeMode) module(code string, s runSettings) *CompiledModule {
	return &CompiledModule{
		Code:       code,
		Hash:       contentHash(code),
		cm:         cm,
		sandboxCfg: s.sandbox,
	}
}

// =============================================================================
// Helpers
// =============================================================================

func (cm *CodeMode) checkLimits(source string) error {
	limits := cm.cfg.Limits
	if limits.MaxSourceBytes > 0 && len(source) > limits.MaxSourceBytes {
		return &LimitExceededError{Unit: "bytes", Limit: limits.MaxSourceBytes, Actual: len(source)}
	}
	if cm.tokenizer != nil && limits.MaxSourceTokens > 0 {
		count := len(cm.tokenizer.Encode(source, nil, nil))
		if count > limits.MaxSourceTokens {
			return &LimitExceededError{Unit: "tokens", Limit: limits.MaxSourceTokens, Actual: count}
		}
	}
	return nil
}

func (cm *CodeMode) recordStage(stage string, ok bool, start time.Time) {
	if cm.collector == nil {
		return
	}
	outcome := "ok"
	if !ok {
		outcome = "error"
	}
	cm.collector.RecordStage(stage, outcome, time.Since(start))
}

func (cm *CodeMode) record(ctx context.Context, hash, outcome string, err error, duration time.Duration) {
	if cm.auditor == nil {
		return
	}
	rec := &audit.Record{
		ID:         uuid.NewString(),
		CodeHash:   hash,
		Outcome:    outcome,
		DurationMS: duration.Milliseconds(),
	}
	if err != nil {
		rec.Error = err.Error()
	}
	if appendErr := cm.auditor.Append(ctx, rec); appendErr != nil {
		cm.logger.Warn("failed to record audit entry", zap.Error(appendErr))
	}
}

func outcomeForError(err error) string {
	switch err.(type) {
	case *TimeoutError:
		return audit.OutcomeTimeout
	case *SecurityViolation:
		return audit.OutcomeSecurityViolation
	case *TypeCheckError:
		return audit.OutcomeTypeCheckError
	case *TranspilationError:
		return audit.OutcomeTranspileError
	case *LimitExceededError:
		return audit.OutcomeLimitExceeded
	default:
		return audit.OutcomeExecutionError
	}
}

// contentHash is the deterministic content identity of executable text.
func contentHash(code string) string {
	sum := sha256.Sum256([]byte(code))
	return hex.EncodeToString(sum[:])
}

// compileKey fingerprints source plus every setting that affects the
// compiled artifact, so a config change can never serve a stale verdict.
func compileKey(source string, s runSettings) string {
	h := sha256.New()
	h.Write([]byte(source))
	h.Write([]byte{0})
	h.Write([]byte(strings.Join(s.sandbox.AllowedGlobals, ",")))
	h.Write([]byte{0})
	h.Write([]byte(strings.Join(s.sandbox.ForbiddenPatterns, ",")))
	h.Write([]byte{0})
	h.Write([]byte(s.sandbox.ContextName))
	h.Write([]byte{0})
	if s.typeCheck.Enabled {
		h.Write([]byte("tc:" + s.typeCheck.Preamble))
		opts := make([]string, 0, len(s.typeCheck.CompilerOptions))
		for k, v := range s.typeCheck.CompilerOptions {
			opts = append(opts, k+"="+v)
		}
		sort.Strings(opts)
		for _, opt := range opts {
			h.Write([]byte{0})
			h.Write([]byte(opt))
		}
	}
	return "codemode:compiled:" + hex.EncodeToString(h.Sum(nil))
}
