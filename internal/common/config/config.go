// internal/common/config/config.go
package config

// Config is the main application configuration struct.
type Config struct {
	App           AppConfig          `mapstructure:"app"`
	API           APIConfig          `mapstructure:"api"`
	Channel       ChannelConfig      `mapstructure:"channel"`
	Cache         CacheConfig        `mapstructure:"cache"`
	Engine        EngineConfig       `mapstructure:"engine"`
	Redis         RedisConfig        `mapstructure:"redis"`
	Notifications NotificationConfig `mapstructure:"notifications"`
	Logging       LoggingConfig      `mapstructure:"logging"`
}

// --- Core App/Infrastructure Config ---
type AppConfig struct {
	Name        string `mapstructure:"name"`
	Version     string `mapstructure:"version"`
	Environment string `mapstructure:"environment"`
	UserID      string `mapstructure:"user_id"`
}

// APIConfig holds settings for the outbound request layer.
type APIConfig struct {
	BaseURL            string   `mapstructure:"base_url"`
	DiscoveryEndpoints []string `mapstructure:"discovery_endpoints"`
	Timeout            int      `mapstructure:"timeout"`             // milliseconds
	RateLimitMaxWait   int      `mapstructure:"rate_limit_max_wait"` // milliseconds
}

// ChannelConfig holds settings for the persistent push-event connection.
type ChannelConfig struct {
	Endpoint             string `mapstructure:"endpoint"`
	MaxReconnectAttempts int    `mapstructure:"max_reconnect_attempts"`
	ReconnectDelay       int    `mapstructure:"reconnect_delay"`   // milliseconds, base
	HandshakeTimeout     int    `mapstructure:"handshake_timeout"` // milliseconds
	LogSuppressAfter     int    `mapstructure:"log_suppress_after"`
}

// CacheConfig holds settings for GET response caching/deduplication.
type CacheConfig struct {
	TTL           int `mapstructure:"ttl"`            // milliseconds
	SweepInterval int `mapstructure:"sweep_interval"` // milliseconds
}

// EngineConfig holds settings for the status transition engine.
type EngineConfig struct {
	NotificationTTL int `mapstructure:"notification_ttl"` // milliseconds
}

// RedisConfig holds settings for the write-through entity cache.
type RedisConfig struct {
	Enabled  bool   `mapstructure:"enabled"`
	Address  string `mapstructure:"address"`
	Password string `mapstructure:"password"`
	DB       int    `mapstructure:"db"`
}

// NotificationConfig holds settings for the best-effort side-effect channels.
type NotificationConfig struct {
	Email struct {
		Enabled   bool   `mapstructure:"enabled"`
		FromEmail string `mapstructure:"from_email"`
	} `mapstructure:"email"`
	SMS struct {
		Enabled  bool   `mapstructure:"enabled"`
		SenderID string `mapstructure:"sender_id"`
	} `mapstructure:"sms"`
	AWS struct {
		Region string `mapstructure:"region"`
	} `mapstructure:"aws"`
}

// LoggingConfig holds logging settings.
type LoggingConfig struct {
	Level  string `mapstructure:"level"`
	Format string `mapstructure:"format"`
	Output string `mapstructure:"output"`
}
