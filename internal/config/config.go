package config

import (
	"errors"
	"fmt"
	"os"
	"path/filepath"
	"strings"
	"time"

	"github.com/spf13/viper"
)

type ServerConfig struct {
	Port int `mapstructure:"port"`
}

type StorageConfig struct {
	DBPath string `mapstructure:"db_path"`
}

type VMConfig struct {
	MaxCallStackSize int           `mapstructure:"max_call_stack"`
	ExecTimeout      time.Duration `mapstructure:"exec_timeout"`
	FlushInterval    time.Duration `mapstructure:"flush_interval"`
}

type TutorConfig struct {
	BaseURL string `mapstructure:"base_url"`
	APIKey  string `mapstructure:"api_key"`
	Model   string `mapstructure:"model"`
}

type SessionConfig struct {
	DefaultLanguage string `mapstructure:"default_language"`
}

type Config struct {
	Server  ServerConfig  `mapstructure:"server"`
	Storage StorageConfig `mapstructure:"storage"`
	VM      VMConfig      `mapstructure:"vm"`
	Tutor   TutorConfig   `mapstructure:"tutor"`
	Session SessionConfig `mapstructure:"session"`
}

func Load() (*Config, error) {
	v := viper.New()
	v.SetConfigName("blocklab")
	v.SetConfigType("yaml")
	v.AddConfigPath(".")
	v.AddConfigPath("$HOME/.blocklab")

	v.SetDefault("server.port", 8080)
	v.SetDefault("storage.db_path", filepath.Join(os.Getenv("HOME"), ".blocklab", "blocklab.db"))
	v.SetDefault("vm.max_call_stack", 2048)
	v.SetDefault("vm.exec_timeout", 0)
	v.SetDefault("session.default_language", "en")

	if err := v.ReadInConfig(); err != nil {
		// Config file is optional; defaults cover local use.
		var notFound viper.ConfigFileNotFoundError
		if !errors.As(err, &notFound) {
			return nil, fmt.Errorf("reading config: %w", err)
		}
	}

	var cfg Config
	if err := v.Unmarshal(&cfg); err != nil {
		return nil, fmt.Errorf("parsing config: %w", err)
	}

	// Expand environment variables in the API key
	if strings.HasPrefix(cfg.Tutor.APIKey, "${") && strings.HasSuffix(cfg.Tutor.APIKey, "}") {
		envVar := cfg.Tutor.APIKey[2 : len(cfg.Tutor.APIKey)-1]
		cfg.Tutor.APIKey = os.Getenv(envVar)
	}

	return &cfg, nil
}

// HasTutor reports whether a tutor provider is configured.
func (c *Config) HasTutor() bool {
	return c.Tutor.BaseURL != "" && c.Tutor.Model != ""
}
