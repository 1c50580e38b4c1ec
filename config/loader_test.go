// Loader and default configuration tests.
package config

import (
	"errors"
	"os"
	"path/filepath"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

// --- Defaults ---

func TestDefaultConfig(t *testing.T) {
	cfg := DefaultConfig()

	assert.Equal(t, 5*time.Second, cfg.Sandbox.Timeout)
	assert.Equal(t, "context", cfg.Sandbox.ContextName)
	assert.NotEmpty(t, cfg.Sandbox.AllowedGlobals)
	assert.Empty(t, cfg.Sandbox.ForbiddenPatterns)
	assert.Zero(t, cfg.Sandbox.RateLimitRPS)

	assert.False(t, cfg.TypeCheck.Enabled)
	assert.Empty(t, cfg.TypeCheck.Preamble)

	assert.Equal(t, 256*1024, cfg.Limits.MaxSourceBytes)
	assert.Zero(t, cfg.Limits.MaxSourceTokens)
	assert.Equal(t, "cl100k_base", cfg.Limits.TokenEncoding)

	assert.False(t, cfg.Cache.Enabled)
	assert.Equal(t, "memory", cfg.Cache.Backend)
	assert.Equal(t, time.Hour, cfg.Cache.TTL)
	assert.Equal(t, "localhost:6379", cfg.Cache.Redis.Addr)

	assert.False(t, cfg.Audit.Enabled)
	assert.Equal(t, "sqlite", cfg.Audit.Driver)
}

func TestDefaultAllowedGlobals(t *testing.T) {
	globals := DefaultAllowedGlobals()

	for _, name := range []string{"Object", "Array", "JSON", "Math", "Promise", "console", "parseInt"} {
		assert.Contains(t, globals, name)
	}
	// Host surfaces must never be ambient.
	for _, name := range []string{"require", "process", "globalThis", "eval", "Function", "setTimeout"} {
		assert.NotContains(t, globals, name)
	}
}

func TestDefaultConfigValidates(t *testing.T) {
	require.NoError(t, DefaultConfig().Validate())
}

// --- Validate ---

func TestConfig_Validate(t *testing.T) {
	tests := []struct {
		name    string
		mutate  func(*Config)
		wantErr string
	}{
		{
			name:    "zero timeout",
			mutate:  func(c *Config) { c.Sandbox.Timeout = 0 },
			wantErr: "timeout",
		},
		{
			name:    "empty context name",
			mutate:  func(c *Config) { c.Sandbox.ContextName = "" },
			wantErr: "context_name",
		},
		{
			name:    "negative rate limit",
			mutate:  func(c *Config) { c.Sandbox.RateLimitRPS = -1 },
			wantErr: "rate_limit_rps",
		},
		{
			name:    "negative source limit",
			mutate:  func(c *Config) { c.Limits.MaxSourceBytes = -1 },
			wantErr: "limits",
		},
		{
			name: "unknown cache backend",
			mutate: func(c *Config) {
				c.Cache.Enabled = true
				c.Cache.Backend = "memcached"
			},
			wantErr: "cache backend",
		},
		{
			name: "unknown audit driver",
			mutate: func(c *Config) {
				c.Audit.Enabled = true
				c.Audit.Driver = "oracle"
			},
			wantErr: "audit driver",
		},
		{
			name: "disabled backends are not validated",
			mutate: func(c *Config) {
				c.Cache.Backend = "memcached"
				c.Audit.Driver = "oracle"
			},
		},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			cfg := DefaultConfig()
			tt.mutate(cfg)
			err := cfg.Validate()
			if tt.wantErr == "" {
				assert.NoError(t, err)
				return
			}
			require.Error(t, err)
			assert.Contains(t, err.Error(), tt.wantErr)
		})
	}
}

// --- Loader ---

func TestLoader_LoadDefaults(t *testing.T) {
	cfg, err := NewLoader().Load()
	require.NoError(t, err)
	require.NotNil(t, cfg)

	assert.Equal(t, 5*time.Second, cfg.Sandbox.Timeout)
	assert.Equal(t, "context", cfg.Sandbox.ContextName)
}

func TestLoader_LoadFromYAML(t *testing.T) {
	tmpDir := t.TempDir()
	configPath := filepath.Join(tmpDir, "codemode.yaml")

	yamlContent := `
sandbox:
  timeout: 2s
  context_name: "capabilities"
  allowed_globals: ["Math", "JSON"]
  forbidden_patterns: ["\\bsetTimeout\\b"]
  rate_limit_rps: 5
  rate_limit_burst: 2

typecheck:
  enabled: true
  preamble: "declare const tools: { add(a: number, b: number): number };"

limits:
  max_source_bytes: 8192

cache:
  enabled: true
  backend: "memory"
  ttl: 10m
  max_entries: 64

audit:
  enabled: true
  driver: "sqlite"
  dsn: ":memory:"
`
	require.NoError(t, os.WriteFile(configPath, []byte(yamlContent), 0644))

	cfg, err := NewLoader().WithConfigPath(configPath).Load()
	require.NoError(t, err)

	assert.Equal(t, 2*time.Second, cfg.Sandbox.Timeout)
	assert.Equal(t, "capabilities", cfg.Sandbox.ContextName)
	assert.Equal(t, []string{"Math", "JSON"}, cfg.Sandbox.AllowedGlobals)
	assert.Equal(t, []string{`\bsetTimeout\b`}, cfg.Sandbox.ForbiddenPatterns)
	assert.Equal(t, 5.0, cfg.Sandbox.RateLimitRPS)
	assert.Equal(t, 2, cfg.Sandbox.RateLimitBurst)

	assert.True(t, cfg.TypeCheck.Enabled)
	assert.Contains(t, cfg.TypeCheck.Preamble, "declare const tools")

	assert.Equal(t, 8192, cfg.Limits.MaxSourceBytes)

	assert.True(t, cfg.Cache.Enabled)
	assert.Equal(t, 10*time.Minute, cfg.Cache.TTL)
	assert.Equal(t, 64, cfg.Cache.MaxEntries)

	assert.True(t, cfg.Audit.Enabled)
	assert.Equal(t, ":memory:", cfg.Audit.DSN)
}

func TestLoader_MissingFileUsesDefaults(t *testing.T) {
	cfg, err := NewLoader().WithConfigPath("/nonexistent/codemode.yaml").Load()
	require.NoError(t, err)
	assert.Equal(t, 5*time.Second, cfg.Sandbox.Timeout)
}

func TestLoader_MalformedYAML(t *testing.T) {
	tmpDir := t.TempDir()
	configPath := filepath.Join(tmpDir, "bad.yaml")
	require.NoError(t, os.WriteFile(configPath, []byte("sandbox: [not a map"), 0644))

	_, err := NewLoader().WithConfigPath(configPath).Load()
	require.Error(t, err)
}

func TestLoader_EnvOverrides(t *testing.T) {
	t.Setenv("CODEMODE_SANDBOX_TIMEOUT", "750ms")
	t.Setenv("CODEMODE_SANDBOX_CONTEXT_NAME", "caps")
	t.Setenv("CODEMODE_SANDBOX_ALLOWED_GLOBALS", "Math, JSON")
	t.Setenv("CODEMODE_LIMITS_MAX_SOURCE_BYTES", "4096")
	t.Setenv("CODEMODE_CACHE_ENABLED", "true")
	t.Setenv("CODEMODE_CACHE_REDIS_ADDR", "redis.internal:6379")

	cfg, err := NewLoader().Load()
	require.NoError(t, err)

	assert.Equal(t, 750*time.Millisecond, cfg.Sandbox.Timeout)
	assert.Equal(t, "caps", cfg.Sandbox.ContextName)
	assert.Equal(t, []string{"Math", "JSON"}, cfg.Sandbox.AllowedGlobals)
	assert.Equal(t, 4096, cfg.Limits.MaxSourceBytes)
	assert.True(t, cfg.Cache.Enabled)
	assert.Equal(t, "redis.internal:6379", cfg.Cache.Redis.Addr)
}

func TestLoader_EnvOverridesFile(t *testing.T) {
	tmpDir := t.TempDir()
	configPath := filepath.Join(tmpDir, "codemode.yaml")
	require.NoError(t, os.WriteFile(configPath, []byte("sandbox:\n  timeout: 2s\n"), 0644))
	t.Setenv("CODEMODE_SANDBOX_TIMEOUT", "3s")

	cfg, err := NewLoader().WithConfigPath(configPath).Load()
	require.NoError(t, err)
	assert.Equal(t, 3*time.Second, cfg.Sandbox.Timeout)
}

func TestLoader_CustomEnvPrefix(t *testing.T) {
	t.Setenv("MYAPP_SANDBOX_TIMEOUT", "1s")

	cfg, err := NewLoader().WithEnvPrefix("MYAPP").Load()
	require.NoError(t, err)
	assert.Equal(t, time.Second, cfg.Sandbox.Timeout)
}

func TestLoader_InvalidEnvValue(t *testing.T) {
	t.Setenv("CODEMODE_SANDBOX_TIMEOUT", "not-a-duration")

	_, err := NewLoader().Load()
	require.Error(t, err)
}

func TestLoader_CustomValidator(t *testing.T) {
	sentinel := errors.New("needs a forbidden pattern")
	_, err := NewLoader().
		WithValidator(func(c *Config) error {
			if len(c.Sandbox.ForbiddenPatterns) == 0 {
				return sentinel
			}
			return nil
		}).
		Load()
	require.Error(t, err)
	assert.ErrorIs(t, err, sentinel)
}

func TestLoader_ValidationFailureSurfaces(t *testing.T) {
	tmpDir := t.TempDir()
	configPath := filepath.Join(tmpDir, "codemode.yaml")
	require.NoError(t, os.WriteFile(configPath, []byte("sandbox:\n  context_name: \"\"\n"), 0644))

	_, err := NewLoader().WithConfigPath(configPath).Load()
	require.Error(t, err)
	assert.Contains(t, err.Error(), "context_name")
}

func TestMustLoad(t *testing.T) {
	cfg := MustLoad("/nonexistent/codemode.yaml")
	assert.NotNil(t, cfg)

	tmpDir := t.TempDir()
	configPath := filepath.Join(tmpDir, "broken.yaml")
	require.NoError(t, os.WriteFile(configPath, []byte("sandbox:\n  timeout: -1s\n"), 0644))
	assert.Panics(t, func() { MustLoad(configPath) })
}
