package config

import (
	"os"
	"path/filepath"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestLoadAppliesDefaultsWithNoFile(t *testing.T) {
	cfg, err := Load("")
	require.NoError(t, err)
	assert.Equal(t, 3, cfg.Retry)
	assert.Equal(t, 5, cfg.GlobalConcurrency)
}

func TestLoadParsesYAMLFile(t *testing.T) {
	dir := t.TempDir()
	p := filepath.Join(dir, "cfg.yaml")
	require.NoError(t, os.WriteFile(p, []byte(`
retry: 5
timeout_seconds: 20
enabled_sites: ["dmm", "missav"]
field_priority:
  title: ["missav", "dmm"]
`), 0o644))

	cfg, err := Load(p)
	require.NoError(t, err)
	assert.Equal(t, 5, cfg.Retry)
	assert.Equal(t, 20, cfg.TimeoutSeconds)
	assert.Equal(t, []string{"dmm", "missav"}, cfg.EnabledSites)
	assert.Equal(t, []string{"missav", "dmm"}, cfg.FieldPriority["title"])
}

func TestLoadAppliesEnvOverrides(t *testing.T) {
	t.Setenv("MDCX_RETRY", "7")
	t.Setenv("MDCX_PROXY", "socks5://127.0.0.1:1080")

	cfg, err := Load("")
	require.NoError(t, err)
	assert.Equal(t, 7, cfg.Retry)
	assert.Equal(t, "socks5://127.0.0.1:1080", cfg.Proxy)
}

func TestValidateRejectsZeroRetry(t *testing.T) {
	cfg := Default()
	cfg.Retry = 0
	assert.Error(t, cfg.Validate())
}

func TestValidateRejectsNegativeSODRatio(t *testing.T) {
	cfg := Default()
	cfg.SODImageSizeRatio = -1
	assert.Error(t, cfg.Validate())
}
