// Package config loads program configuration with viper.
//
// Precedence, highest first: environment variables with the
// SMARTEVENT_ prefix, the config file, built-in defaults.  The config
// file lives at ~/.config/smartevent/config.yaml unless overridden.
package config

import (
	"os"
	"path/filepath"
	"time"

	"github.com/pkg/errors"
	"github.com/spf13/viper"
)

// Config is the top-level program configuration.
type Config struct {
	// CredentialsPath is the OAuth client secret file downloaded
	// from the Google Cloud console.
	CredentialsPath string `mapstructure:"credentials_path"`

	// TokenPath caches the OAuth token between runs.
	TokenPath string `mapstructure:"token_path"`

	// CalendarID selects the calendar events are created on.
	// Empty means the account's primary calendar.
	CalendarID string `mapstructure:"calendar_id"`

	// ProjectID is the Google Cloud project used for Vertex AI.
	ProjectID string `mapstructure:"project_id"`

	// Location is the Vertex AI region.
	Location string `mapstructure:"location"`

	// Model is the Vertex AI model name.
	Model string `mapstructure:"model"`

	// DBPath is the workflow database file.
	DBPath string `mapstructure:"db_path"`

	// ParseTimeout bounds one model call.
	ParseTimeout time.Duration `mapstructure:"parse_timeout"`
}

// DefaultConfigPath returns ~/.config/smartevent/config.yaml, or a
// relative fallback when the home directory is unknown.
func DefaultConfigPath() string {
	home, err := os.UserHomeDir()
	if err != nil {
		return filepath.Join(".", "config.yaml")
	}
	return filepath.Join(home, ".config", "smartevent", "config.yaml")
}

func dataPath(name string) string {
	home, err := os.UserHomeDir()
	if err != nil {
		return name
	}
	return filepath.Join(home, ".config", "smartevent", name)
}

// Load reads the configuration from path.  A missing file is not an
// error; defaults and environment variables still apply.
func Load(path string) (*Config, error) {
	v := viper.New()
	v.SetConfigFile(path)
	v.SetConfigType("yaml")

	v.SetDefault("credentials_path", dataPath("credentials.json"))
	v.SetDefault("token_path", dataPath("token.json"))
	v.SetDefault("calendar_id", "")
	v.SetDefault("project_id", "")
	v.SetDefault("location", "us-central1")
	v.SetDefault("model", "gemini-1.0-pro")
	v.SetDefault("db_path", dataPath("workflows.db"))
	v.SetDefault("parse_timeout", time.Minute)

	v.SetEnvPrefix("SMARTEVENT")
	v.AutomaticEnv()

	if err := v.ReadInConfig(); err != nil {
		if _, ok := err.(*os.PathError); !ok {
			if _, ok := err.(viper.ConfigFileNotFoundError); !ok {
				return nil, errors.Wrapf(err, "reading config %s", path)
			}
		}
	}

	var cfg Config
	if err := v.Unmarshal(&cfg); err != nil {
		return nil, errors.Wrapf(err, "parsing config %s", path)
	}
	return &cfg, nil
}
