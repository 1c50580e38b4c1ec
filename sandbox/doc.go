// Package sandbox provides capability-scoped execution of untrusted,
// LLM-authored script modules.
//
// A source module travels through a four-stage pipeline: an optional static
// check, transpilation of the author syntax to plain executable script,
// whitelist-based security validation, and timeboxed evaluation with a
// single injected capability context. The orchestrator (CodeMode) composes
// the stages for one-shot Run calls and for the compile-once-execute-many
// path (Compile / CompiledModule).
//
// The sandbox is a static gate over a shared-heap evaluator, not an OS or
// VM boundary. The validator accepts code only if every capability it could
// exercise is one the configuration explicitly grants; a computation that
// slips past the gate (see the documented computed-member-key limitation)
// or that ignores the interrupt signal can still consume host resources.
package sandbox
