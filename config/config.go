// Package config defines the configuration surface for the CodeMode sandbox
// pipeline: execution limits, the validator allowlist, the optional static
// check, and the optional cache and audit backends.
//
// Loading priority: defaults -> YAML file -> environment variables.
package config

import (
	"fmt"
	"strings"
	"time"
)

// Config is the complete CodeMode configuration.
type Config struct {
	// Sandbox controls validation and execution of untrusted code.
	Sandbox SandboxConfig `yaml:"sandbox" env:"SANDBOX"`

	// TypeCheck controls the optional pre-execution static check.
	TypeCheck TypeCheckConfig `yaml:"typecheck" env:"TYPECHECK"`

	// Limits bounds the size of author-supplied sources.
	Limits LimitsConfig `yaml:"limits" env:"LIMITS"`

	// Cache configures the compiled-module cache.
	Cache CacheConfig `yaml:"cache" env:"CACHE"`

	// Audit configures the execution audit log.
	Audit AuditConfig `yaml:"audit" env:"AUDIT"`
}

// SandboxConfig configures the security validator and the executor.
type SandboxConfig struct {
	// Timeout is the wall-clock budget for a single execution.
	Timeout time.Duration `yaml:"timeout" env:"TIMEOUT"`

	// AllowedGlobals lists identifier names sandboxed code may reference
	// without declaring them. Anything outside this list (and the in-source
	// declarations) is rejected by the validator.
	AllowedGlobals []string `yaml:"allowed_globals" env:"ALLOWED_GLOBALS"`

	// ForbiddenPatterns are regular expressions tested against the raw code
	// text before any structural analysis. A match is fatal.
	ForbiddenPatterns []string `yaml:"forbidden_patterns" env:"FORBIDDEN_PATTERNS"`

	// ContextName is the parameter name under which the capability context
	// is injected into sandboxed code.
	ContextName string `yaml:"context_name" env:"CONTEXT_NAME"`

	// RateLimitRPS throttles Run calls when > 0.
	RateLimitRPS float64 `yaml:"rate_limit_rps" env:"RATE_LIMIT_RPS"`

	// RateLimitBurst is the burst size for the rate limiter.
	RateLimitBurst int `yaml:"rate_limit_burst" env:"RATE_LIMIT_BURST"`
}

// TypeCheckConfig configures the optional static check stage.
type TypeCheckConfig struct {
	// Enabled turns the stage on. When false the check is a no-op that
	// always passes.
	Enabled bool `yaml:"enabled" env:"ENABLED"`

	// Preamble holds type-only declarations describing the capability
	// context's shape. It is prepended to the source for checking and is
	// never executed or transpiled into the output.
	Preamble string `yaml:"preamble" env:"PREAMBLE"`

	// CompilerOptions carries compiler-like switches. Recognized keys:
	// "target" (ES language level, e.g. "es2020").
	CompilerOptions map[string]string `yaml:"compiler_options" env:"-"`
}

// LimitsConfig bounds author-supplied sources before the pipeline runs.
type LimitsConfig struct {
	// MaxSourceBytes rejects sources larger than this many bytes. 0 disables.
	MaxSourceBytes int `yaml:"max_source_bytes" env:"MAX_SOURCE_BYTES"`

	// MaxSourceTokens rejects sources whose token count exceeds this budget.
	// 0 disables. Token counts use TokenEncoding.
	MaxSourceTokens int `yaml:"max_source_tokens" env:"MAX_SOURCE_TOKENS"`

	// TokenEncoding is the tiktoken encoding used for MaxSourceTokens.
	TokenEncoding string `yaml:"token_encoding" env:"TOKEN_ENCODING"`
}

// CacheConfig configures the compiled-module cache.
type CacheConfig struct {
	// Enabled turns compiled-module caching on.
	Enabled bool `yaml:"enabled" env:"ENABLED"`

	// Backend selects the store: "memory" or "redis".
	Backend string `yaml:"backend" env:"BACKEND"`

	// TTL is how long a compiled module stays cached.
	TTL time.Duration `yaml:"ttl" env:"TTL"`

	// MaxEntries caps the in-memory store.
	MaxEntries int `yaml:"max_entries" env:"MAX_ENTRIES"`

	// Redis connection settings, used when Backend is "redis".
	Redis RedisConfig `yaml:"redis" env:"REDIS"`
}

// RedisConfig holds Redis connection settings.
type RedisConfig struct {
	Addr     string `yaml:"addr" env:"ADDR"`
	Password string `yaml:"password" env:"PASSWORD"`
	DB       int    `yaml:"db" env:"DB"`
	PoolSize int    `yaml:"pool_size" env:"POOL_SIZE"`
}

// AuditConfig configures the execution audit log.
type AuditConfig struct {
	// Enabled turns audit recording on.
	Enabled bool `yaml:"enabled" env:"ENABLED"`

	// Driver selects the database: "sqlite", "postgres" or "mysql".
	Driver string `yaml:"driver" env:"DRIVER"`

	// DSN is the connection string for the selected driver.
	DSN string `yaml:"dsn" env:"DSN"`
}

// Validate checks the configuration for values the pipeline cannot work with.
func (c *Config) Validate() error {
	var errs []string

	if c.Sandbox.Timeout <= 0 {
		errs = append(errs, "sandbox timeout must be positive")
	}
	if c.Sandbox.ContextName == "" {
		errs = append(errs, "sandbox context_name must not be empty")
	}
	if c.Sandbox.RateLimitRPS < 0 {
		errs = append(errs, "rate_limit_rps must not be negative")
	}
	if c.Limits.MaxSourceBytes < 0 || c.Limits.MaxSourceTokens < 0 {
		errs = append(errs, "source limits must not be negative")
	}
	if c.Cache.Enabled && c.Cache.Backend != "memory" && c.Cache.Backend != "redis" {
		errs = append(errs, fmt.Sprintf("unknown cache backend %q", c.Cache.Backend))
	}
	if c.Audit.Enabled {
		switch c.Audit.Driver {
		case "sqlite", "postgres", "mysql":
		default:
			errs = append(errs, fmt.Sprintf("unknown audit driver %q", c.Audit.Driver))
		}
	}

	if len(errs) > 0 {
		return fmt.Errorf("config validation errors: %s", strings.Join(errs, "; "))
	}
	return nil
}
