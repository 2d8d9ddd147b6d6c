package config

import (
	"os"
	"path/filepath"
	"testing"

	"github.com/spf13/viper"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestLoad_ExplicitFile(t *testing.T) {
	viper.Reset()
	t.Cleanup(viper.Reset)

	dir := t.TempDir()
	cfgFile := filepath.Join(dir, "config.yaml")
	content := `
home: /srv/fsu
storage:
  type: s3
  s3:
    bucket: backups
history:
  driver: json
protect:
  rules: ["*.key", "/etc"]
`
	require.NoError(t, os.WriteFile(cfgFile, []byte(content), 0o644))

	used, err := Load(cfgFile)
	require.NoError(t, err)
	assert.Equal(t, cfgFile, used)

	assert.Equal(t, "s3", viper.GetString("storage.type"))
	assert.Equal(t, "backups", viper.GetString("storage.s3.bucket"))
	assert.Equal(t, "zstd", viper.GetString("storage.compression"), "默认值仍然生效")
	assert.Equal(t, []string{"*.key", "/etc"}, viper.GetStringSlice("protect.rules"))
	assert.Equal(t, "/srv/fsu", Home())
	assert.Equal(t, "/srv/fsu/history.json", HistoryPath())
}

func TestLoad_EnvOverride(t *testing.T) {
	viper.Reset()
	t.Cleanup(viper.Reset)
	t.Setenv("HOME", t.TempDir())
	t.Chdir(t.TempDir())
	t.Setenv("FSU_HISTORY_DRIVER", "postgres")
	t.Setenv("FSU_DATABASE_PORT", "6543")

	used, err := Load("")
	require.NoError(t, err)
	assert.Empty(t, used, "没有配置文件")

	assert.Equal(t, "postgres", viper.GetString("history.driver"))
	assert.Equal(t, 6543, viper.GetInt("database.port"))
	assert.Equal(t, "disk", viper.GetString("storage.type"))
	assert.Equal(t, filepath.Join(Home(), "history.db"), HistoryPath())
}

func TestLoad_Malformed(t *testing.T) {
	viper.Reset()
	t.Cleanup(viper.Reset)

	cfgFile := filepath.Join(t.TempDir(), "config.yaml")
	require.NoError(t, os.WriteFile(cfgFile, []byte("storage: [unclosed"), 0o644))

	_, err := Load(cfgFile)
	assert.ErrorContains(t, err, "fatal error config file")
}

func TestDefaultFile_Parses(t *testing.T) {
	viper.Reset()
	t.Cleanup(viper.Reset)

	cfgFile := filepath.Join(t.TempDir(), "config.yaml")
	require.NoError(t, os.WriteFile(cfgFile, []byte(DefaultFile), 0o644))

	_, err := Load(cfgFile)
	require.NoError(t, err)
	assert.Equal(t, "sqlite", viper.GetString("history.driver"))
	assert.Empty(t, viper.GetStringSlice("protect.rules"))
}
