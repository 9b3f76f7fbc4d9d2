// Package config provides service settings, duration parsing, and validation
// errors shared by the mobu packages.
package config

import (
	"fmt"
	"strings"
	"time"

	"github.com/spf13/viper"
)

// EnvPrefix is the prefix of every environment variable mobu reads.
const EnvPrefix = "MOBU"

// Settings is the process configuration of the mobu service.
type Settings struct {
	// ListenAddress is the address of the control surface.
	ListenAddress string `mapstructure:"listen_address"`

	// EnvironmentURL is the base URL of the notebook platform.
	EnvironmentURL string `mapstructure:"environment_url"`

	// GafaelfawrToken is the admin token used to issue user credentials.
	// When empty, a static development issuer is used.
	GafaelfawrToken string `mapstructure:"gafaelfawr_token"`

	// SlackWebhook receives the periodic status digest and failure alerts.
	SlackWebhook string `mapstructure:"slack_webhook"`

	// StatusSchedule is a cron spec for the status digest.
	StatusSchedule string `mapstructure:"status_schedule"`

	// AutostartPath points to a YAML file of flocks created at startup.
	AutostartPath string `mapstructure:"autostart_path"`

	// NotebookPath is the directory NotebookRunner reads notebooks from.
	NotebookPath string `mapstructure:"notebook_path"`

	// LogLevel is a zerolog level name.
	LogLevel string `mapstructure:"log_level"`

	// LogFormat is "json" or "console".
	LogFormat string `mapstructure:"log_format"`

	// HTTPTimeout bounds every protocol-client HTTP call.
	HTTPTimeout time.Duration `mapstructure:"http_timeout"`

	// StopGracePeriod bounds how long a stopping monkey may spend on cleanup.
	StopGracePeriod time.Duration `mapstructure:"stop_grace_period"`
}

// DefaultSettings returns sensible defaults for a local deployment.
func DefaultSettings() Settings {
	return Settings{
		ListenAddress:   ":8080",
		EnvironmentURL:  "http://localhost:8000",
		StatusSchedule:  "@every 1h",
		LogLevel:        "info",
		LogFormat:       "json",
		HTTPTimeout:     30 * time.Second,
		StopGracePeriod: 90 * time.Second,
	}
}

// SetDefaults registers DefaultSettings with v so unset keys resolve.
func SetDefaults(v *viper.Viper) {
	d := DefaultSettings()
	v.SetDefault("listen_address", d.ListenAddress)
	v.SetDefault("environment_url", d.EnvironmentURL)
	v.SetDefault("gafaelfawr_token", "")
	v.SetDefault("slack_webhook", "")
	v.SetDefault("status_schedule", d.StatusSchedule)
	v.SetDefault("autostart_path", "")
	v.SetDefault("notebook_path", "")
	v.SetDefault("log_level", d.LogLevel)
	v.SetDefault("log_format", d.LogFormat)
	v.SetDefault("http_timeout", d.HTTPTimeout)
	v.SetDefault("stop_grace_period", d.StopGracePeriod)
}

// Load reads settings from v. If configFile is non-empty it is read first;
// MOBU_* environment variables override file values.
func Load(v *viper.Viper, configFile string) (Settings, error) {
	SetDefaults(v)

	v.SetEnvPrefix(EnvPrefix)
	v.SetEnvKeyReplacer(strings.NewReplacer("-", "_", ".", "_"))
	v.AutomaticEnv()

	if configFile != "" {
		v.SetConfigFile(configFile)
		if err := v.ReadInConfig(); err != nil {
			return Settings{}, fmt.Errorf("failed to read config file: %w", err)
		}
	}

	var s Settings
	if err := v.Unmarshal(&s); err != nil {
		return Settings{}, fmt.Errorf("failed to decode settings: %w", err)
	}
	s.EnvironmentURL = strings.TrimRight(s.EnvironmentURL, "/")

	if err := s.Validate(); err != nil {
		return Settings{}, err
	}
	return s, nil
}
