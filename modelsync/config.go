package modelsync

import (
	"fmt"
	"os"
	"time"

	"github.com/caarlos0/env/v11"
	"gopkg.in/yaml.v3"
)

// file config overridden by environment. the zero path loads pure
// defaults + environment.
type Config struct {
	PlatformUrl string `yaml:"platform_url" env:"MODELSYNC_PLATFORM_URL"`
	StorePath   string `yaml:"store_path" env:"MODELSYNC_STORE_PATH"`
	// PEM-encoded ed25519 private key, supplied externally
	KeyFile    string `yaml:"key_file" env:"MODELSYNC_KEY_FILE"`
	UserName   string `yaml:"user_name" env:"MODELSYNC_USER_NAME"`
	AppVersion string `yaml:"app_version" env:"MODELSYNC_APP_VERSION"`

	StageTimeout   time.Duration `yaml:"stage_timeout" env:"MODELSYNC_STAGE_TIMEOUT"`
	StageAttempts  int           `yaml:"stage_attempts" env:"MODELSYNC_STAGE_ATTEMPTS"`
	CoalesceWindow time.Duration `yaml:"coalesce_window" env:"MODELSYNC_COALESCE_WINDOW"`
}

func DefaultConfig() *Config {
	sessionSettings := DefaultSessionSettings()
	rollupSettings := DefaultRollupSettings()
	return &Config{
		PlatformUrl:    "wss://repo.stellarkit.io/bus",
		StorePath:      "modelsync.db",
		AppVersion:     "0.0.0",
		StageTimeout:   sessionSettings.StageTimeout,
		StageAttempts:  sessionSettings.StageAttempts,
		CoalesceWindow: rollupSettings.CoalesceWindow,
	}
}

// file keys mirror Config, with durations written as strings like "30s"
type yamlConfig struct {
	PlatformUrl *string `yaml:"platform_url"`
	StorePath   *string `yaml:"store_path"`
	KeyFile     *string `yaml:"key_file"`
	UserName    *string `yaml:"user_name"`
	AppVersion  *string `yaml:"app_version"`

	StageTimeout   *string `yaml:"stage_timeout"`
	StageAttempts  *int    `yaml:"stage_attempts"`
	CoalesceWindow *string `yaml:"coalesce_window"`
}

func LoadConfig(path string) (*Config, error) {
	config := DefaultConfig()
	if path != "" {
		data, err := os.ReadFile(path)
		if err != nil {
			return nil, fmt.Errorf("read config: %w", err)
		}
		var fileConfig yamlConfig
		if err := yaml.Unmarshal(data, &fileConfig); err != nil {
			return nil, fmt.Errorf("parse config: %w", err)
		}
		if fileConfig.PlatformUrl != nil {
			config.PlatformUrl = *fileConfig.PlatformUrl
		}
		if fileConfig.StorePath != nil {
			config.StorePath = *fileConfig.StorePath
		}
		if fileConfig.KeyFile != nil {
			config.KeyFile = *fileConfig.KeyFile
		}
		if fileConfig.UserName != nil {
			config.UserName = *fileConfig.UserName
		}
		if fileConfig.AppVersion != nil {
			config.AppVersion = *fileConfig.AppVersion
		}
		if fileConfig.StageAttempts != nil {
			config.StageAttempts = *fileConfig.StageAttempts
		}
		if fileConfig.StageTimeout != nil {
			if config.StageTimeout, err = time.ParseDuration(*fileConfig.StageTimeout); err != nil {
				return nil, fmt.Errorf("config stage_timeout: %w", err)
			}
		}
		if fileConfig.CoalesceWindow != nil {
			if config.CoalesceWindow, err = time.ParseDuration(*fileConfig.CoalesceWindow); err != nil {
				return nil, fmt.Errorf("config coalesce_window: %w", err)
			}
		}
	}
	if err := env.Parse(config); err != nil {
		return nil, fmt.Errorf("config env: %w", err)
	}
	return config, nil
}

func (self *Config) ClientSettings() *ClientSettings {
	settings := DefaultClientSettings()
	settings.SessionSettings.StageTimeout = self.StageTimeout
	settings.SessionSettings.StageAttempts = self.StageAttempts
	settings.RollupSettings.CoalesceWindow = self.CoalesceWindow
	return settings
}
