package config

import "time"

// DefaultConfig returns the default CodeMode configuration.
func DefaultConfig() *Config {
	return &Config{
		Sandbox:   DefaultSandboxConfig(),
		TypeCheck: DefaultTypeCheckConfig(),
		Limits:    DefaultLimitsConfig(),
		Cache:     DefaultCacheConfig(),
		Audit:     DefaultAuditConfig(),
	}
}

// DefaultSandboxConfig returns secure sandbox defaults.
func DefaultSandboxConfig() SandboxConfig {
	return SandboxConfig{
		Timeout:           5 * time.Second,
		AllowedGlobals:    DefaultAllowedGlobals(),
		ForbiddenPatterns: nil,
		ContextName:       "context",
		RateLimitRPS:      0,
		RateLimitBurst:    0,
	}
}

// DefaultAllowedGlobals returns the intrinsic names the executor's runtime
// exposes to sandboxed code. The validator exempts exactly these names from
// the closed-world check; the type checker declares exactly these names and
// nothing else.
func DefaultAllowedGlobals() []string {
	return []string{
		"Array",
		"Boolean",
		"Date",
		"Error",
		"Infinity",
		"JSON",
		"Map",
		"Math",
		"NaN",
		"Number",
		"Object",
		"Promise",
		"RangeError",
		"RegExp",
		"Set",
		"String",
		"Symbol",
		"SyntaxError",
		"TypeError",
		"WeakMap",
		"WeakSet",
		"console",
		"decodeURIComponent",
		"encodeURIComponent",
		"isFinite",
		"isNaN",
		"parseFloat",
		"parseInt",
	}
}

// DefaultTypeCheckConfig returns the static check defaults (disabled).
func DefaultTypeCheckConfig() TypeCheckConfig {
	return TypeCheckConfig{
		Enabled:         false,
		Preamble:        "",
		CompilerOptions: map[string]string{},
	}
}

// DefaultLimitsConfig returns source size limits suitable for LLM-produced
// script modules.
func DefaultLimitsConfig() LimitsConfig {
	return LimitsConfig{
		MaxSourceBytes:  256 * 1024,
		MaxSourceTokens: 0,
		TokenEncoding:   "cl100k_base",
	}
}

// DefaultCacheConfig returns cache defaults (disabled, in-memory).
func DefaultCacheConfig() CacheConfig {
	return CacheConfig{
		Enabled:    false,
		Backend:    "memory",
		TTL:        time.Hour,
		MaxEntries: 1024,
		Redis: RedisConfig{
			Addr:     "localhost:6379",
			Password: "",
			DB:       0,
			PoolSize: 10,
		},
	}
}

// DefaultAuditConfig returns audit defaults (disabled, sqlite).
func DefaultAuditConfig() AuditConfig {
	return AuditConfig{
		Enabled: false,
		Driver:  "sqlite",
		DSN:     "codemode_audit.db",
	}
}
