package cmd

import (
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/dbsmedya/ctsync/internal/config"
)

func TestGetConfigFile(t *testing.T) {
	originalCfgFile := cfgFile
	defer func() {
		cfgFile = originalCfgFile
	}()

	tests := []struct {
		name     string
		cfgValue string
		want     string
	}{
		{name: "empty", cfgValue: "", want: ""},
		{name: "custom config file", cfgValue: "/path/to/custom.yaml", want: "/path/to/custom.yaml"},
		{name: "config file with spaces", cfgValue: "/path/to/my config.yaml", want: "/path/to/my config.yaml"},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			cfgFile = tt.cfgValue
			assert.Equal(t, tt.want, GetConfigFile())
		})
	}
}

func TestGetCLIOverrides(t *testing.T) {
	originalLogLevel := logLevel
	originalLogFormat := logFormat
	defer func() {
		logLevel = originalLogLevel
		logFormat = originalLogFormat
	}()

	logLevel = "debug"
	logFormat = "json"
	assert.Equal(t, config.Overrides{LogLevel: "debug", LogFormat: "json"}, GetCLIOverrides())

	logLevel = ""
	logFormat = ""
	assert.Equal(t, config.Overrides{}, GetCLIOverrides())
}

func TestLoadConfig(t *testing.T) {
	writeConfig(t, testConfigContent)

	cfg, log, err := loadConfig(config.Overrides{LogLevel: "warn", Workers: 8})
	require.NoError(t, err)
	require.NotNil(t, log)
	assert.Equal(t, "warn", cfg.Logging.Level)
	assert.Equal(t, 8, cfg.Workers)
	require.Len(t, cfg.ReplicationSets, 1)
	assert.Len(t, cfg.ReplicationSets[0].Destinations, 2)
}

func TestLoadConfig_Invalid(t *testing.T) {
	writeConfig(t, `replication_sets:
  - name: sales
    source:
      name: erp
      driver: mysql
      connection_string: "root@tcp(localhost)/erp"
`)

	_, _, err := loadConfig(config.Overrides{})
	var verrs config.ValidationErrors
	require.ErrorAs(t, err, &verrs)
	assert.Contains(t, err.Error(), "source must be a sqlserver database")
}

func TestLoadConfig_Missing(t *testing.T) {
	original := cfgFile
	defer func() { cfgFile = original }()
	cfgFile = "/tmp/nonexistent_ctsync_config.yaml"

	_, _, err := loadConfig(config.Overrides{})
	assert.ErrorContains(t, err, "failed to load config")
}

func TestSelectSets(t *testing.T) {
	cfg := config.DefaultConfig()
	cfg.ReplicationSets = []config.ReplicationSet{{Name: "a"}, {Name: "b"}}

	all, err := selectSets(cfg, "")
	require.NoError(t, err)
	assert.Len(t, all, 2)

	one, err := selectSets(cfg, "b")
	require.NoError(t, err)
	require.Len(t, one, 1)
	assert.Equal(t, "b", one[0].Name)

	_, err = selectSets(cfg, "c")
	assert.ErrorContains(t, err, `replication set "c" not found`)
}
