package config

import (
	"os"
	"path/filepath"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestDefaults(t *testing.T) {
	cfg := Default()
	require.NoError(t, cfg.Validate())
	assert.Equal(t, "linchub", cfg.Service.Name)
	assert.Equal(t, MissingKeyPool, cfg.Actors.MissingKeyPolicy)
	assert.Equal(t, "default", cfg.Actors.DefaultKey)
	assert.Equal(t, 10*time.Second, cfg.Steps.Timeout.Std())
	assert.Equal(t, 2, cfg.Steps.Retries.Limit)
	assert.Equal(t, BackoffExponential, cfg.Steps.Retries.Backoff)
}

func TestFromYAMLOverrides(t *testing.T) {
	cfg, err := FromYAML([]byte(`
server:
  addr: ":9090"
actors:
  missing_key_policy: reject
steps:
  timeout: 2s
  retries:
    limit: 5
    delay: 50ms
    backoff: constant
rate_limit:
  rps: 0
`))
	require.NoError(t, err)
	assert.Equal(t, ":9090", cfg.Server.Addr)
	assert.Equal(t, MissingKeyReject, cfg.Actors.MissingKeyPolicy)
	assert.Equal(t, 2*time.Second, cfg.Steps.Timeout.Std())
	assert.Equal(t, 5, cfg.Steps.Retries.Limit)
	assert.Equal(t, 50*time.Millisecond, cfg.Steps.Retries.Delay.Std())
	assert.Equal(t, BackoffConstant, cfg.Steps.Retries.Backoff)
	assert.Zero(t, cfg.RateLimit.RPS)
	// untouched sections keep defaults
	assert.Equal(t, "linchub", cfg.Service.Name)
	assert.Equal(t, 512, cfg.Cache.MaxEntries)
}

func TestFromYAMLErrors(t *testing.T) {
	cases := map[string]string{
		"bad yaml":        `server: [`,
		"bad duration":    "steps:\n  timeout: fast",
		"bad policy":      "actors:\n  missing_key_policy: drop",
		"empty pool key":  "actors:\n  default_key: \"\"",
		"negative limit":  "steps:\n  retries:\n    limit: -1",
		"bad backoff":     "steps:\n  retries:\n    backoff: jitter",
		"negative rps":    "rate_limit:\n  rps: -1",
		"negative cache":  "cache:\n  max_entries: -5",
	}
	for name, yml := range cases {
		t.Run(name, func(t *testing.T) {
			_, err := FromYAML([]byte(yml))
			assert.Error(t, err)
		})
	}
}

func TestLoad(t *testing.T) {
	dir := t.TempDir()

	cfg, err := Load(dir)
	require.NoError(t, err)
	assert.Equal(t, Default(), cfg)

	require.NoError(t, os.WriteFile(filepath.Join(dir, "linchub.yml"), []byte("server:\n  addr: \":7007\"\n"), 0o644))
	cfg, err = Load(dir)
	require.NoError(t, err)
	assert.Equal(t, ":7007", cfg.Server.Addr)
}

func TestGenerateDefaultRoundtrip(t *testing.T) {
	cfg, err := FromYAML([]byte(GenerateDefault()))
	require.NoError(t, err)
	assert.Equal(t, Default(), cfg)
}
