package config

import (
	"fmt"
	"strings"
	"time"

	"github.com/joho/godotenv"
	"github.com/spf13/viper"
)

// Config holds runtime configuration values for the inbox gateway.
type Config struct {
	AppName     string
	AppEnv      string
	AppPort     string
	CORSOrigins string

	PortalBaseURL    string
	PortalTimeout    time.Duration
	PortalRetryCount int

	RedisURL    string
	NATSURL     string
	ChannelBase string

	JWTSecret string

	SyncInterval    time.Duration
	FeedPageSize    int
	CommentCacheTTL time.Duration
	EngineIdleTTL   time.Duration
	EngineReapSpec  string
	StreamKeepAlive time.Duration
	SendRateLimit   int
}

// HTTPAddress returns the address the HTTP server should listen on.
func (c Config) HTTPAddress() string {
	if strings.HasPrefix(c.AppPort, ":") {
		return c.AppPort
	}

	return fmt.Sprintf(":%s", c.AppPort)
}

// Load reads configuration values from environment variables and optional .env file.
func Load() (Config, error) {
	_ = godotenv.Load()

	v := viper.New()
	v.SetEnvPrefix("GEMA")
	v.AutomaticEnv()
	v.SetEnvKeyReplacer(strings.NewReplacer(".", "_"))

	v.SetDefault("app.name", "GEMA Inbox")
	v.SetDefault("app.env", "development")
	v.SetDefault("app.port", "8080")
	v.SetDefault("cors.origins", "*")
	v.SetDefault("portal.timeout", "10s")
	v.SetDefault("portal.retry_count", 1)
	v.SetDefault("channel.base", "gema")
	v.SetDefault("sync.interval", "3s")
	v.SetDefault("feed.page_size", 50)
	v.SetDefault("comment.cache_ttl", "30s")
	v.SetDefault("engine.idle_ttl", "15m")
	v.SetDefault("engine.reap_spec", "@every 1m")
	v.SetDefault("stream.keepalive", "30s")
	v.SetDefault("send.rate_limit", 20)

	durations := map[string]*time.Duration{}
	cfg := Config{
		AppName:          v.GetString("app.name"),
		AppEnv:           v.GetString("app.env"),
		AppPort:          v.GetString("app.port"),
		CORSOrigins:      v.GetString("cors.origins"),
		PortalBaseURL:    strings.TrimRight(strings.TrimSpace(v.GetString("portal.base_url")), "/"),
		PortalRetryCount: v.GetInt("portal.retry_count"),
		RedisURL:         v.GetString("redis.url"),
		NATSURL:          v.GetString("nats.url"),
		ChannelBase:      v.GetString("channel.base"),
		JWTSecret:        v.GetString("jwt.secret"),
		FeedPageSize:     v.GetInt("feed.page_size"),
		EngineReapSpec:   v.GetString("engine.reap_spec"),
		SendRateLimit:    v.GetInt("send.rate_limit"),
	}
	durations["portal.timeout"] = &cfg.PortalTimeout
	durations["sync.interval"] = &cfg.SyncInterval
	durations["comment.cache_ttl"] = &cfg.CommentCacheTTL
	durations["engine.idle_ttl"] = &cfg.EngineIdleTTL
	durations["stream.keepalive"] = &cfg.StreamKeepAlive

	for key, target := range durations {
		parsed, err := time.ParseDuration(v.GetString(key))
		if err != nil {
			return Config{}, fmt.Errorf("invalid %s: %w", key, err)
		}
		if parsed <= 0 {
			return Config{}, fmt.Errorf("invalid %s: must be positive", key)
		}
		*target = parsed
	}

	if cfg.PortalBaseURL == "" {
		return Config{}, fmt.Errorf("portal base url must be provided")
	}
	if cfg.JWTSecret == "" {
		return Config{}, fmt.Errorf("jwt secret must be provided")
	}

	if cfg.FeedPageSize <= 0 {
		cfg.FeedPageSize = 50
	}
	if cfg.PortalRetryCount < 0 {
		cfg.PortalRetryCount = 0
	}
	if cfg.SendRateLimit <= 0 {
		cfg.SendRateLimit = 20
	}

	return cfg, nil
}
