// Package codemode provides a top-level convenience entry point for running
// model-authored scripts in the sandbox pipeline with minimal boilerplate.
//
// Usage:
//
//	import "github.com/BaSui01/codemode"
//
//	cm, err := codemode.New(nil)
//	result, err := cm.Run(ctx, source, capability)
//
// This is a thin wrapper around [sandbox.New]; both produce identical
// results. Use this package when you prefer the shorter import path.
package codemode

import (
	"github.com/BaSui01/codemode/config"
	"github.com/BaSui01/codemode/sandbox"
)

// CodeMode is the sandbox pipeline. See [sandbox.CodeMode].
type CodeMode = sandbox.CodeMode

// CompiledModule is a reusable compiled script. See [sandbox.CompiledModule].
type CompiledModule = sandbox.CompiledModule

// ExecutionResult carries the settled value of a run.
type ExecutionResult = sandbox.ExecutionResult

// Option configures the pipeline created by [New].
type Option = sandbox.Option

// RunOption overrides configuration for a single call.
type RunOption = sandbox.RunOption

// Typed pipeline failures, re-exported for errors.As without importing
// sandbox/.
type (
	TranspilationError = sandbox.TranspilationError
	TypeCheckError     = sandbox.TypeCheckError
	SecurityViolation  = sandbox.SecurityViolation
	ExecutionError     = sandbox.ExecutionError
	TimeoutError       = sandbox.TimeoutError
	LimitExceededError = sandbox.LimitExceededError
)

// New creates a sandbox pipeline. A nil cfg uses [config.DefaultConfig].
func New(cfg *config.Config, opts ...Option) (*CodeMode, error) {
	return sandbox.New(cfg, opts...)
}

// DefaultConfig returns the baseline configuration.
func DefaultConfig() *config.Config {
	return config.DefaultConfig()
}

// Re-export the common options so callers never need to import sandbox/.

// WithLogger sets a custom zap logger.
var WithLogger = sandbox.WithLogger

// WithMetrics sets a Prometheus metrics collector.
var WithMetrics = sandbox.WithMetrics

// WithTimeout overrides the execution budget for a single call.
var WithTimeout = sandbox.WithTimeout

// WithTypeCheck toggles the static check stage for a single call.
var WithTypeCheck = sandbox.WithTypeCheck

// WithPreamble sets the capability declarations for the static check.
var WithPreamble = sandbox.WithPreamble
