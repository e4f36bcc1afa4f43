package config

import (
	"fmt"
	"os"
	"path/filepath"
	"regexp"
	"strings"

	"github.com/spf13/viper"
)

// Load reads configuration from the specified file path.
// YAML is the default format; a .json extension switches to JSON. Environment
// variables in connection strings are substituted after unmarshalling.
func Load(configPath string) (*Config, error) {
	v := viper.New()

	v.SetConfigFile(configPath)
	v.SetConfigType(configType(configPath))

	if err := v.ReadInConfig(); err != nil {
		return nil, fmt.Errorf("failed to read config file: %w", err)
	}

	return LoadFromViper(v)
}

// LoadFromViper creates a Config from an existing Viper instance.
// Useful for testing or when Viper is configured externally.
func LoadFromViper(v *viper.Viper) (*Config, error) {
	cfg := DefaultConfig()

	if err := v.Unmarshal(cfg); err != nil {
		return nil, fmt.Errorf("failed to unmarshal config: %w", err)
	}

	substituteEnvVars(cfg)

	return cfg, nil
}

func configType(path string) string {
	switch strings.ToLower(filepath.Ext(path)) {
	case ".json":
		return "json"
	case ".toml":
		return "toml"
	default:
		return "yaml"
	}
}

// envVarPattern matches ${VAR_NAME} or $VAR_NAME patterns
var envVarPattern = regexp.MustCompile(`\$\{([^}]+)\}|\$([A-Za-z_][A-Za-z0-9_]*)`)

// substituteEnvVars replaces ${VAR_NAME} patterns with environment variable values.
func substituteEnvVars(cfg *Config) {
	for i := range cfg.ReplicationSets {
		rs := &cfg.ReplicationSets[i]
		rs.Source.ConnectionString = expandEnvVar(rs.Source.ConnectionString)
		for j := range rs.Destinations {
			rs.Destinations[j].ConnectionString = expandEnvVar(rs.Destinations[j].ConnectionString)
		}
	}

	cfg.Logging.Output = expandEnvVar(cfg.Logging.Output)
	cfg.Metrics.ListenAddress = expandEnvVar(cfg.Metrics.ListenAddress)
}

// expandEnvVar expands environment variables in the format ${VAR} or $VAR.
// Unknown variables are left untouched.
func expandEnvVar(s string) string {
	return envVarPattern.ReplaceAllStringFunc(s, func(match string) string {
		var varName string
		if strings.HasPrefix(match, "${") {
			varName = match[2 : len(match)-1]
		} else {
			varName = match[1:]
		}

		if value, exists := os.LookupEnv(varName); exists {
			return value
		}
		return match
	})
}

// ApplyOverrides applies CLI flag overrides to the configuration.
// Only non-zero/non-empty values are applied.
func (c *Config) ApplyOverrides(o Overrides) {
	if o.LogLevel != "" {
		c.Logging.Level = o.LogLevel
	}
	if o.LogFormat != "" {
		c.Logging.Format = o.LogFormat
	}
	if o.DryRun {
		c.DryRun = true
	}
	if o.Loop {
		c.Loop = true
	}
	if o.Interval > 0 {
		c.Interval = o.Interval
	}
	if o.Timeout > 0 {
		c.Timeout = o.Timeout
	}
	if o.Workers > 0 {
		c.Workers = o.Workers
	}
}

// Overrides carries CLI values that take precedence over the configuration file.
type Overrides struct {
	LogLevel  string
	LogFormat string
	DryRun    bool
	Loop      bool
	Interval  int
	Timeout   int
	Workers   int
}
