// Package config loads client settings for FluentCypher.
//
// Settings are resolved in this order, later sources winning:
//
//  1. Built-in defaults (LoadDefaults)
//  2. A YAML config file (LoadFromFile)
//  3. Environment variables
//
// Environment variables:
//
//	FLUENTCYPHER_PROTOCOL       bolt or http (default bolt)
//	FLUENTCYPHER_URI            server address (falls back to NEO4J_URI)
//	FLUENTCYPHER_USERNAME       user name
//	FLUENTCYPHER_PASSWORD       password
//	NEO4J_AUTH                  "user/password" or "none", used when the two above are unset
//	FLUENTCYPHER_DATABASE       target database
//	FLUENTCYPHER_QUERY_TIMEOUT  per-request timeout, e.g. 30s
//	FLUENTCYPHER_CACHE_SIZE     compiled template cache capacity
//	FLUENTCYPHER_LOG_LEVEL      debug, info, warn or error
//	FLUENTCYPHER_LOG_FORMAT     text or json
//
// Example:
//
//	path := config.FindConfigFile()
//	cfg, err := config.LoadFromFile(path)
//	if err != nil {
//		return err
//	}
//	if err := cfg.Validate(); err != nil {
//		return err
//	}
package config

import (
	"fmt"
	"os"
	"path/filepath"
	"strconv"
	"strings"
	"time"

	"gopkg.in/yaml.v3"
)

// Supported connection protocols.
const (
	ProtocolBolt = "bolt"
	ProtocolHTTP = "http"
)

// Config holds all client settings.
type Config struct {
	Connection ConnectionConfig
	Query      QueryConfig
	Logging    LoggingConfig
}

// ConnectionConfig describes how to reach the graph server.
type ConnectionConfig struct {
	// Protocol is "bolt" or "http".
	Protocol string
	// URI is the server address, e.g. bolt://localhost:7687.
	URI      string
	Username string
	Password string
	// Database is empty for the server default.
	Database string
}

// QueryConfig holds compile and execution settings.
type QueryConfig struct {
	// Timeout bounds each request. Zero disables the bound.
	Timeout time.Duration
	// CacheSize is the compiled template cache capacity.
	CacheSize int
}

// LoggingConfig holds logger settings.
type LoggingConfig struct {
	// Level is debug, info, warn or error.
	Level string
	// Format is text or json.
	Format string
}

// YAMLConfig mirrors the on-disk layout of the config file.
type YAMLConfig struct {
	Connection struct {
		Protocol string `yaml:"protocol"`
		URI      string `yaml:"uri"`
		Username string `yaml:"username"`
		Password string `yaml:"password"`
		Database string `yaml:"database"`
	} `yaml:"connection"`
	Query struct {
		Timeout   string `yaml:"timeout"`
		CacheSize int    `yaml:"cache_size"`
	} `yaml:"query"`
	Logging struct {
		Level  string `yaml:"level"`
		Format string `yaml:"format"`
	} `yaml:"logging"`
}

// LoadDefaults returns a Config populated with built-in defaults only.
func LoadDefaults() *Config {
	config := &Config{}

	config.Connection.Protocol = ProtocolBolt
	config.Connection.URI = "bolt://localhost:7687"
	config.Connection.Username = "neo4j"

	config.Query.Timeout = 30 * time.Second
	config.Query.CacheSize = 10000

	config.Logging.Level = "info"
	config.Logging.Format = "text"

	return config
}

// LoadFromEnv returns the defaults overlaid with environment variables.
func LoadFromEnv() *Config {
	config := LoadDefaults()
	applyEnvVars(config)
	return config
}

// LoadFromFile loads the YAML file at path over the defaults and then
// applies environment overrides. A missing file, or an empty path, yields
// the defaults with environment overrides.
func LoadFromFile(path string) (*Config, error) {
	config := LoadDefaults()

	if path != "" {
		data, err := os.ReadFile(path)
		switch {
		case os.IsNotExist(err):
		case err != nil:
			return nil, fmt.Errorf("reading config file %s: %w", path, err)
		default:
			var yamlCfg YAMLConfig
			if err := yaml.Unmarshal(data, &yamlCfg); err != nil {
				return nil, fmt.Errorf("parsing config file %s: %w", path, err)
			}
			if err := applyYAML(config, &yamlCfg); err != nil {
				return nil, fmt.Errorf("config file %s: %w", path, err)
			}
		}
	}

	applyEnvVars(config)
	return config, nil
}

func applyYAML(config *Config, yamlCfg *YAMLConfig) error {
	if yamlCfg.Connection.Protocol != "" {
		config.Connection.Protocol = yamlCfg.Connection.Protocol
	}
	if yamlCfg.Connection.URI != "" {
		config.Connection.URI = yamlCfg.Connection.URI
	}
	if yamlCfg.Connection.Username != "" {
		config.Connection.Username = yamlCfg.Connection.Username
	}
	if yamlCfg.Connection.Password != "" {
		config.Connection.Password = yamlCfg.Connection.Password
	}
	if yamlCfg.Connection.Database != "" {
		config.Connection.Database = yamlCfg.Connection.Database
	}

	if yamlCfg.Query.Timeout != "" {
		d, err := time.ParseDuration(yamlCfg.Query.Timeout)
		if err != nil {
			return fmt.Errorf("query.timeout: %w", err)
		}
		config.Query.Timeout = d
	}
	if yamlCfg.Query.CacheSize != 0 {
		config.Query.CacheSize = yamlCfg.Query.CacheSize
	}

	if yamlCfg.Logging.Level != "" {
		config.Logging.Level = yamlCfg.Logging.Level
	}
	if yamlCfg.Logging.Format != "" {
		config.Logging.Format = yamlCfg.Logging.Format
	}
	return nil
}

func applyEnvVars(config *Config) {
	config.Connection.Protocol = getEnv("FLUENTCYPHER_PROTOCOL", config.Connection.Protocol)
	config.Connection.URI = getEnv("FLUENTCYPHER_URI", getEnv("NEO4J_URI", config.Connection.URI))

	// NEO4J_AUTH is the Neo4j container convention: "user/password" or "none".
	if auth := os.Getenv("NEO4J_AUTH"); auth != "" {
		if auth == "none" {
			config.Connection.Username = ""
			config.Connection.Password = ""
		} else if user, pass, ok := strings.Cut(auth, "/"); ok {
			config.Connection.Username = user
			config.Connection.Password = pass
		}
	}
	config.Connection.Username = getEnv("FLUENTCYPHER_USERNAME", config.Connection.Username)
	config.Connection.Password = getEnv("FLUENTCYPHER_PASSWORD", config.Connection.Password)
	config.Connection.Database = getEnv("FLUENTCYPHER_DATABASE", config.Connection.Database)

	config.Query.Timeout = getEnvDuration("FLUENTCYPHER_QUERY_TIMEOUT", config.Query.Timeout)
	config.Query.CacheSize = getEnvInt("FLUENTCYPHER_CACHE_SIZE", config.Query.CacheSize)

	config.Logging.Level = getEnv("FLUENTCYPHER_LOG_LEVEL", config.Logging.Level)
	config.Logging.Format = getEnv("FLUENTCYPHER_LOG_FORMAT", config.Logging.Format)
}

// Validate checks the configuration for invalid values.
func (c *Config) Validate() error {
	switch c.Connection.Protocol {
	case ProtocolBolt, ProtocolHTTP:
	default:
		return fmt.Errorf("invalid protocol %q: must be %q or %q", c.Connection.Protocol, ProtocolBolt, ProtocolHTTP)
	}
	if c.Connection.URI == "" {
		return fmt.Errorf("connection URI must not be empty")
	}
	if c.Connection.Password != "" && c.Connection.Username == "" {
		return fmt.Errorf("password set without a username")
	}

	if c.Query.Timeout < 0 {
		return fmt.Errorf("invalid query timeout: %v", c.Query.Timeout)
	}
	if c.Query.CacheSize <= 0 {
		return fmt.Errorf("invalid cache size: %d", c.Query.CacheSize)
	}

	switch strings.ToLower(c.Logging.Level) {
	case "debug", "info", "warn", "warning", "error":
	default:
		return fmt.Errorf("invalid log level %q", c.Logging.Level)
	}
	switch strings.ToLower(c.Logging.Format) {
	case "text", "json":
	default:
		return fmt.Errorf("invalid log format %q", c.Logging.Format)
	}
	return nil
}

// String returns a representation safe for logs. The password is redacted.
func (c *Config) String() string {
	password := ""
	if c.Connection.Password != "" {
		password = "[REDACTED]"
	}
	return fmt.Sprintf("Config{Protocol: %s, URI: %s, Username: %s, Password: %s, Database: %s, Timeout: %v, CacheSize: %d, LogLevel: %s}",
		c.Connection.Protocol, c.Connection.URI, c.Connection.Username, password,
		c.Connection.Database, c.Query.Timeout, c.Query.CacheSize, c.Logging.Level)
}

// FindConfigFile searches the standard locations and returns the first
// config file found, or an empty string.
//
// Search order:
//  1. ~/.fluentcypher/config.yaml
//  2. config.yaml next to the executable
//  3. fluentcypher.yaml or config.yaml in the working directory
//  4. $XDG_CONFIG_HOME/fluentcypher/config.yaml
func FindConfigFile() string {
	var candidates []string

	if home, err := os.UserHomeDir(); err == nil {
		candidates = append(candidates, filepath.Join(home, ".fluentcypher", "config.yaml"))
	}
	if exe, err := os.Executable(); err == nil {
		candidates = append(candidates, filepath.Join(filepath.Dir(exe), "config.yaml"))
	}
	candidates = append(candidates, "fluentcypher.yaml", "config.yaml")
	if xdg := os.Getenv("XDG_CONFIG_HOME"); xdg != "" {
		candidates = append(candidates, filepath.Join(xdg, "fluentcypher", "config.yaml"))
	}

	for _, path := range candidates {
		if info, err := os.Stat(path); err == nil && !info.IsDir() {
			return path
		}
	}
	return ""
}

func getEnv(key, defaultVal string) string {
	if val := os.Getenv(key); val != "" {
		return val
	}
	return defaultVal
}

func getEnvInt(key string, defaultVal int) int {
	if val := os.Getenv(key); val != "" {
		if i, err := strconv.Atoi(val); err == nil {
			return i
		}
	}
	return defaultVal
}

func getEnvDuration(key string, defaultVal time.Duration) time.Duration {
	if val := os.Getenv(key); val != "" {
		if d, err := time.ParseDuration(val); err == nil {
			return d
		}
		// Bare numbers are seconds.
		if secs, err := strconv.Atoi(val); err == nil {
			return time.Duration(secs) * time.Second
		}
	}
	return defaultVal
}
