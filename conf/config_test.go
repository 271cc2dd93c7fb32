package conf

import (
	"os"
	"path/filepath"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

const sampleIni = `
[sgv]
page_size       = 8192
max_order       = 6
hi_watermark    = 2048
lo_watermark    = 1024
purge_interval  = 30s

[stats]
bind-address    = 127.0.0.1
port            = 5566

[log]
level           = debug
`

func writeSample(t *testing.T, content string) string {
	t.Helper()
	path := filepath.Join(t.TempDir(), "sgv.ini")
	require.NoError(t, os.WriteFile(path, []byte(content), 0644))
	return path
}

func TestLoadConfig(t *testing.T) {
	path := writeSample(t, sampleIni)

	cfg, err := NewCfg().Load(&CommandLineArgs{ConfigPath: path})
	require.NoError(t, err)

	assert.Equal(t, 8192, cfg.PageSize)
	assert.Equal(t, 6, cfg.MaxOrder)
	assert.Equal(t, 2048, cfg.HiWatermark)
	assert.Equal(t, 1024, cfg.LoWatermark)
	assert.Equal(t, 30*time.Second, cfg.PurgeIntervalDuration)
	assert.Equal(t, "127.0.0.1", cfg.BindAddress)
	assert.Equal(t, 5566, cfg.Port)
	assert.Equal(t, "debug", cfg.LogLevel)
}

func TestLoadConfigDefaults(t *testing.T) {
	path := writeSample(t, "[sgv]\n")

	cfg, err := NewCfg().Load(&CommandLineArgs{ConfigPath: path})
	require.NoError(t, err)

	assert.Equal(t, 4096, cfg.PageSize)
	assert.Equal(t, 10, cfg.MaxOrder)
	assert.Equal(t, 60*time.Second, cfg.PurgeIntervalDuration)
}

func TestLoadConfigRejectsBadWatermarks(t *testing.T) {
	path := writeSample(t, "[sgv]\nhi_watermark = 10\nlo_watermark = 20\n")

	_, err := NewCfg().Load(&CommandLineArgs{ConfigPath: path})
	assert.Error(t, err)
}

func TestLoadConfigRejectsBadPageSize(t *testing.T) {
	path := writeSample(t, "[sgv]\npage_size = 1000\n")

	_, err := NewCfg().Load(&CommandLineArgs{ConfigPath: path})
	assert.Error(t, err)
}

func TestLoadConfigMissingFile(t *testing.T) {
	_, err := NewCfg().Load(&CommandLineArgs{ConfigPath: "/no/such/sgv.ini"})
	assert.Error(t, err)
}
