package config

import (
	"fmt"
	"net"
	"os"
	"strconv"
	"strings"
	"time"
)

// Config holds listener, catalog and streaming settings.
// Load from env; cmd/vidcat lets subcommand flags override individual fields.
type Config struct {
	// Listener
	Host string // bind host, e.g. 0.0.0.0
	Port int    // bind port

	// Paths
	VideosDir   string // base directory streamed files must live under
	CatalogPath string // optional JSON seed file; "" = built-in seed list

	// Request handling
	RequestTimeout time.Duration // bound on catalog responses and on waiting for a stream slot
	StreamWorkers  int           // concurrent file reads allowed across all stream requests
	MaxConns       int           // 0 = unlimited; >0 caps accepted connections
	CORSOrigin     string        // "" = no CORS headers; "*" or an explicit origin

	// Logging
	LogLevel  string // debug | info | warn | error
	LogFormat string // text | json
}

const (
	DefaultPort           = 5000
	DefaultStreamWorkers  = 16
	DefaultRequestTimeout = 30 * time.Second
)

// Load reads config from environment. Call LoadEnvFile(".env") before Load() to use a .env file.
func Load() *Config {
	c := &Config{
		Host:           getEnv("VIDCAT_HOST", "0.0.0.0"),
		Port:           getEnvInt("VIDCAT_PORT", DefaultPort),
		VideosDir:      getEnv("VIDCAT_VIDEOS_DIR", "videos"),
		CatalogPath:    os.Getenv("VIDCAT_CATALOG"),
		RequestTimeout: getEnvDuration("VIDCAT_REQUEST_TIMEOUT", DefaultRequestTimeout),
		StreamWorkers:  getEnvInt("VIDCAT_STREAM_WORKERS", DefaultStreamWorkers),
		MaxConns:       getEnvInt("VIDCAT_MAX_CONNS", 0),
		CORSOrigin:     strings.TrimSpace(os.Getenv("VIDCAT_CORS_ORIGIN")),
		LogLevel:       strings.ToLower(getEnv("VIDCAT_LOG_LEVEL", "info")),
		LogFormat:      getEnvLogFormat("VIDCAT_LOG_FORMAT", "text"),
	}
	if c.RequestTimeout <= 0 {
		c.RequestTimeout = DefaultRequestTimeout
	}
	if c.StreamWorkers <= 0 {
		c.StreamWorkers = DefaultStreamWorkers
	}
	if c.MaxConns < 0 {
		c.MaxConns = 0
	}
	return c
}

// Addr returns the listen address built from Host and Port.
func (c *Config) Addr() string {
	return net.JoinHostPort(c.Host, strconv.Itoa(c.Port))
}

// Validate reports settings the server cannot start with.
func (c *Config) Validate() error {
	if c.Port <= 0 || c.Port > 65535 {
		return fmt.Errorf("port out of range: %d", c.Port)
	}
	if strings.TrimSpace(c.VideosDir) == "" {
		return fmt.Errorf("videos dir is empty")
	}
	if c.StreamWorkers <= 0 {
		return fmt.Errorf("stream workers must be positive: %d", c.StreamWorkers)
	}
	return nil
}

func getEnv(key, defaultVal string) string {
	if v := strings.TrimSpace(os.Getenv(key)); v != "" {
		return v
	}
	return defaultVal
}

func getEnvInt(key string, defaultVal int) int {
	if v := strings.TrimSpace(os.Getenv(key)); v != "" {
		n, err := strconv.Atoi(v)
		if err != nil {
			return defaultVal
		}
		return n
	}
	return defaultVal
}

func getEnvDuration(key string, defaultVal time.Duration) time.Duration {
	if v := os.Getenv(key); v != "" {
		if d, err := time.ParseDuration(v); err == nil {
			return d
		}
	}
	return defaultVal
}

// getEnvLogFormat returns "json" or "text"; anything else falls back to defaultVal.
func getEnvLogFormat(key, defaultVal string) string {
	switch strings.TrimSpace(strings.ToLower(os.Getenv(key))) {
	case "json":
		return "json"
	case "text", "plain":
		return "text"
	}
	return defaultVal
}
