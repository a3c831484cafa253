// Package config provides centralized configuration management for the
// mirror. It loads configuration from environment variables with sensible
// defaults and validates all settings on startup to fail fast on
// misconfiguration.
package config

import "time"

// Config holds all application configuration.
// All settings can be configured via environment variables.
type Config struct {
	IGDB    IGDBConfig
	Data    DataConfig
	Server  ServerConfig
	Logging LoggingConfig
}

// IGDBConfig holds the remote API credentials and request pacing.
type IGDBConfig struct {
	// ClientID is the Twitch developer application id (required)
	ClientID string `env:"IGDB_CLIENT_ID" envAlt:"TWITCH_CLIENT_ID" required:"true"`

	// ClientSecret is the Twitch developer application secret (required)
	ClientSecret string `env:"IGDB_CLIENT_SECRET" envAlt:"TWITCH_CLIENT_SECRET" required:"true"`

	// APIURL is the IGDB API base URL
	APIURL string `env:"IGDB_API_URL" default:"https://api.igdb.com/v4"`

	// AuthURL is the Twitch OAuth token endpoint
	AuthURL string `env:"IGDB_AUTH_URL" default:"https://id.twitch.tv/oauth2/token"`

	// RequestInterval is the minimum delay between API requests (default: 250ms)
	RequestInterval time.Duration `env:"IGDB_REQUEST_INTERVAL" default:"250ms"`

	// PageLimit is the rows requested per page, capped at 500 by the API (default: 500)
	PageLimit int `env:"IGDB_PAGE_LIMIT" default:"500"`
}

// DataConfig holds the local mirror layout and import tuning.
type DataConfig struct {
	// Dir is the root of the local mirror: table files, images,
	// watermarks and the sync journal live under it (default: ./data)
	Dir string `env:"DATA_DIR" default:"./data"`

	// ConfigDir holds igdbsources.json and countries.json (default: ./config)
	ConfigDir string `env:"CONFIG_DIR" default:"./config"`

	// BigTableSize is the remote row count from which a first import is
	// chunked and checkpointed (default: 100000)
	BigTableSize int `env:"DATA_BIG_TABLE_SIZE" default:"100000"`

	// ChunkSize is the number of imported rows between checkpoints (default: 50000)
	ChunkSize int `env:"DATA_CHUNK_SIZE" default:"50000"`

	// DownloadImages controls whether image columns fetch the asset
	// files or only record path and URL (default: true)
	DownloadImages bool `env:"DATA_DOWNLOAD_IMAGES" default:"true"`
}

// ServerConfig holds HTTP status server settings.
type ServerConfig struct {
	// Host is the interface to bind to (default: 0.0.0.0)
	Host string `env:"SERVER_HOST" default:"0.0.0.0"`

	// Port is the port to listen on (default: 8080)
	Port int `env:"SERVER_PORT" default:"8080"`

	// ReadTimeout is the maximum duration for reading request body (default: 15s)
	ReadTimeout time.Duration `env:"SERVER_READ_TIMEOUT" default:"15s"`

	// WriteTimeout is the maximum duration for writing response (default: 30s)
	WriteTimeout time.Duration `env:"SERVER_WRITE_TIMEOUT" default:"30s"`

	// IdleTimeout is the keep-alive timeout (default: 60s)
	IdleTimeout time.Duration `env:"SERVER_IDLE_TIMEOUT" default:"60s"`

	// ShutdownTimeout is the maximum duration to wait for graceful shutdown (default: 30s)
	ShutdownTimeout time.Duration `env:"SERVER_SHUTDOWN_TIMEOUT" default:"30s"`
}

// LoggingConfig holds logging settings.
type LoggingConfig struct {
	// Level is the minimum log level: debug, info, warn, error (default: info)
	Level string `env:"LOG_LEVEL" default:"info"`

	// Format is the log format: text or json (default: text)
	Format string `env:"LOG_FORMAT" default:"text"`
}

// Addr returns the server listen address in host:port format.
func (c *ServerConfig) Addr() string {
	if c.Host == "" {
		return ":" + itoa(c.Port)
	}
	return c.Host + ":" + itoa(c.Port)
}

// itoa converts an int to string without importing strconv in this file.
func itoa(i int) string {
	if i == 0 {
		return "0"
	}
	var b [20]byte
	n := len(b)
	neg := i < 0
	if neg {
		i = -i
	}
	for i > 0 {
		n--
		b[n] = byte('0' + i%10)
		i /= 10
	}
	if neg {
		n--
		b[n] = '-'
	}
	return string(b[n:])
}
