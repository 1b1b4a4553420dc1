package config

import (
	"fmt"
	"strings"
	"time"

	"github.com/spf13/viper"
)

const (
	envPrefix                 = "BEATBOUND"
	defaultHTTPAddress        = "0.0.0.0:8080"
	defaultDatabasePath       = "beatbound.db"
	defaultLogLevel           = "info"
	defaultTokenTTLMinutes    = 60
	defaultKeepAliveSeconds   = 30
	defaultVoteWindowSeconds  = 60
	defaultVotesPerWindow     = 20
	defaultLeaderboardTTLSecs = 5
)

// AppConfig captures runtime configuration for the API server.
type AppConfig struct {
	HTTPAddress        string
	DatabasePath       string
	SigningSecret      string
	LogLevel           string
	TokenTTL           time.Duration
	FeedKeepAlive      time.Duration
	VoteRateWindow     time.Duration
	VotesPerWindow     int
	LeaderboardTTL     time.Duration
	AllowedCORSOrigins []string
}

// NewViper returns a viper instance with defaults and env bindings configured.
func NewViper() *viper.Viper {
	configViper := viper.New()
	ApplyDefaults(configViper)
	return configViper
}

// ApplyDefaults configures defaults and env bindings on the provided viper instance.
func ApplyDefaults(configViper *viper.Viper) {
	configViper.SetEnvPrefix(envPrefix)
	configViper.SetEnvKeyReplacer(strings.NewReplacer(".", "_"))
	configViper.AutomaticEnv()

	configViper.SetDefault("http.address", defaultHTTPAddress)
	configViper.SetDefault("database.path", defaultDatabasePath)
	configViper.SetDefault("log.level", defaultLogLevel)
	configViper.SetDefault("token.ttl_minutes", defaultTokenTTLMinutes)
	configViper.SetDefault("feed.keepalive_seconds", defaultKeepAliveSeconds)
	configViper.SetDefault("votes.rate_window_seconds", defaultVoteWindowSeconds)
	configViper.SetDefault("votes.per_window", defaultVotesPerWindow)
	configViper.SetDefault("leaderboard.cache_ttl_seconds", defaultLeaderboardTTLSecs)
	configViper.SetDefault("http.cors_origins", []string{"*"})
}

// Load parses runtime configuration from viper.
func Load(configViper *viper.Viper) (AppConfig, error) {
	cfg := AppConfig{
		HTTPAddress:        configViper.GetString("http.address"),
		DatabasePath:       configViper.GetString("database.path"),
		SigningSecret:      configViper.GetString("auth.signing_secret"),
		LogLevel:           configViper.GetString("log.level"),
		TokenTTL:           time.Duration(configViper.GetInt("token.ttl_minutes")) * time.Minute,
		FeedKeepAlive:      time.Duration(configViper.GetInt("feed.keepalive_seconds")) * time.Second,
		VoteRateWindow:     time.Duration(configViper.GetInt("votes.rate_window_seconds")) * time.Second,
		VotesPerWindow:     configViper.GetInt("votes.per_window"),
		LeaderboardTTL:     time.Duration(configViper.GetInt("leaderboard.cache_ttl_seconds")) * time.Second,
		AllowedCORSOrigins: configViper.GetStringSlice("http.cors_origins"),
	}

	if err := cfg.validate(); err != nil {
		return AppConfig{}, err
	}

	return cfg, nil
}

func (c AppConfig) validate() error {
	if strings.TrimSpace(c.SigningSecret) == "" {
		return fmt.Errorf("auth.signing_secret is required")
	}
	if strings.TrimSpace(c.DatabasePath) == "" {
		return fmt.Errorf("database.path is required")
	}
	if c.TokenTTL <= 0 {
		return fmt.Errorf("token.ttl_minutes must be positive")
	}
	if c.FeedKeepAlive <= 0 {
		return fmt.Errorf("feed.keepalive_seconds must be positive")
	}
	if c.VotesPerWindow <= 0 {
		return fmt.Errorf("votes.per_window must be positive")
	}
	return nil
}
