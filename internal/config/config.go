// Package config loads the daemon configuration from a yaml file, with
// UNMAIL_* environment overrides and sensible defaults.
package config

import (
	"errors"
	"fmt"
	"path/filepath"
	"strings"
	"time"

	"github.com/spf13/viper"
)

type Config struct {
	Logger      LoggerConfig      `mapstructure:"logger"`
	Database    DatabaseConfig    `mapstructure:"database"`
	Credentials CredentialsConfig `mapstructure:"credentials"`
	Scan        ScanConfig        `mapstructure:"scan"`
	Queue       QueueConfig       `mapstructure:"queue"`
	Server      ServerConfig      `mapstructure:"server"`
}

type LoggerConfig struct {
	Level string `mapstructure:"level"`
}

type DatabaseConfig struct {
	Path string `mapstructure:"path"`
}

type CredentialsConfig struct {
	// Dir holds client_secret.json plus one token-<userID>.json per user.
	Dir string `mapstructure:"dir"`
}

type ScanConfig struct {
	MaxMessages int `mapstructure:"maxMessages"`
}

type QueueConfig struct {
	ScanConcurrency        int           `mapstructure:"scanConcurrency"`
	UnsubscribeConcurrency int           `mapstructure:"unsubscribeConcurrency"`
	UnsubscribeMaxAttempts int           `mapstructure:"unsubscribeMaxAttempts"`
	BackoffBase            time.Duration `mapstructure:"backoffBase"`
	ScanTimeout            time.Duration `mapstructure:"scanTimeout"`
	UnsubscribeTimeout     time.Duration `mapstructure:"unsubscribeTimeout"`
}

type ServerConfig struct {
	Host string `mapstructure:"host"`
	Port int    `mapstructure:"port"`
}

// Load reads the config file at path (optional; defaults apply when missing)
// and merges environment overrides.
func Load(path string) (*Config, error) {
	v := viper.New()

	v.SetDefault("logger.level", "info")
	v.SetDefault("database.path", "unmail.db")
	v.SetDefault("credentials.dir", "credentials")
	v.SetDefault("scan.maxMessages", 300)
	v.SetDefault("queue.scanConcurrency", 2)
	v.SetDefault("queue.unsubscribeConcurrency", 5)
	v.SetDefault("queue.unsubscribeMaxAttempts", 3)
	v.SetDefault("queue.backoffBase", 2*time.Second)
	v.SetDefault("queue.scanTimeout", 5*time.Minute)
	v.SetDefault("queue.unsubscribeTimeout", 60*time.Second)
	v.SetDefault("server.host", "127.0.0.1")
	v.SetDefault("server.port", 8090)

	v.SetEnvPrefix("UNMAIL")
	v.SetEnvKeyReplacer(strings.NewReplacer(".", "_"))
	v.AutomaticEnv()

	if path != "" {
		filename := filepath.Base(path)
		v.AddConfigPath(filepath.Dir(path))
		v.SetConfigName(strings.TrimSuffix(filename, filepath.Ext(filename)))
		v.SetConfigType("yaml")
		if err := v.ReadInConfig(); err != nil {
			var notFound viper.ConfigFileNotFoundError
			if !errors.As(err, &notFound) {
				return nil, fmt.Errorf("read config: %w", err)
			}
		}
	}

	var conf Config
	if err := v.Unmarshal(&conf); err != nil {
		return nil, fmt.Errorf("unable to decode into config struct: %w", err)
	}
	return &conf, nil
}
