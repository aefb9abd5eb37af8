package config

import (
	"errors"
	"os"
	"strings"
	"time"

	"github.com/spf13/viper"
)

// Config holds the application configuration
type Config struct {
	Server  ServerConfig
	Log     LogConfig
	Storage StorageConfig
	Chat    ChatConfig
	Sync    SyncConfig
	Auth    AuthConfig
}

// ServerConfig holds the HTTP server configuration
type ServerConfig struct {
	Host string `mapstructure:"host"`
	Port string `mapstructure:"port"`
}

// LogConfig holds the logger configuration
type LogConfig struct {
	Level string `mapstructure:"level"`
}

// StorageConfig selects and configures the key-value backend.
// Driver is one of memory, sqlite, redis, postgres or mongo.
type StorageConfig struct {
	Driver     string        `mapstructure:"driver"`
	Path       string        `mapstructure:"path"`
	URL        string        `mapstructure:"url"`
	Database   string        `mapstructure:"database"`
	Collection string        `mapstructure:"collection"`
	Timeout    time.Duration `mapstructure:"timeout"`
}

// ChatConfig holds the conversation store behaviour switches
type ChatConfig struct {
	CountSenderUnread bool          `mapstructure:"count_sender_unread"`
	WriteRetries      int           `mapstructure:"write_retries"`
	// ReconcileInterval is how often suspect conversations are repaired. Zero disables it.
	ReconcileInterval time.Duration `mapstructure:"reconcile_interval"`
}

// SyncConfig holds the polling cadence of the conversation and thread watchers
type SyncConfig struct {
	ConversationPollInterval time.Duration `mapstructure:"conversation_poll_interval"`
	ThreadPollInterval       time.Duration `mapstructure:"thread_poll_interval"`
	MinRefreshInterval       time.Duration `mapstructure:"min_refresh_interval"`
}

// AuthConfig holds the bearer token configuration
type AuthConfig struct {
	JWTSecret string `mapstructure:"jwt_secret"`
}

func setDefaults(v *viper.Viper) {
	v.SetDefault("server.host", "0.0.0.0")
	v.SetDefault("server.port", "8080")
	v.SetDefault("log.level", "info")
	v.SetDefault("storage.driver", "sqlite")
	v.SetDefault("storage.path", "chat.db")
	v.SetDefault("storage.url", "")
	v.SetDefault("storage.database", "psique")
	v.SetDefault("storage.collection", "kv")
	v.SetDefault("storage.timeout", 3*time.Second)
	v.SetDefault("chat.count_sender_unread", false)
	v.SetDefault("chat.write_retries", 1)
	v.SetDefault("chat.reconcile_interval", 5*time.Minute)
	v.SetDefault("sync.conversation_poll_interval", 60*time.Second)
	v.SetDefault("sync.thread_poll_interval", 30*time.Second)
	v.SetDefault("sync.min_refresh_interval", 3*time.Second)
	v.SetDefault("auth.jwt_secret", "")
}

// Load loads the configuration from config.yaml (or the file named by CONFIG_PATH),
// applying PSIQUE_* environment overrides on top of the defaults.
func Load() (*Config, error) {
	v := viper.New()
	setDefaults(v)

	v.SetEnvPrefix("psique")
	v.SetEnvKeyReplacer(strings.NewReplacer(".", "_"))
	v.AutomaticEnv()

	if path := os.Getenv("CONFIG_PATH"); path != "" {
		v.SetConfigFile(path)
		if err := v.ReadInConfig(); err != nil {
			return nil, err
		}
	} else {
		v.SetConfigName("config")
		v.SetConfigType("yaml")
		v.AddConfigPath(".")
		if err := v.ReadInConfig(); err != nil {
			var notFound viper.ConfigFileNotFoundError
			if !errors.As(err, &notFound) {
				return nil, err
			}
		}
	}

	var config Config
	if err := v.Unmarshal(&config); err != nil {
		return nil, err
	}

	if config.Chat.WriteRetries < 0 {
		config.Chat.WriteRetries = 0
	}

	return &config, nil
}
