// Package config provides configuration management for the schema registry.
package config

import (
	"fmt"
	"os"
	"strconv"
	"strings"

	"gopkg.in/yaml.v3"
)

// Config represents the schema registry configuration.
type Config struct {
	Server        ServerConfig        `yaml:"server"`
	Kafka         KafkaConfig         `yaml:"kafka"`
	Election      ElectionConfig      `yaml:"election"`
	SchemaCache   SchemaCacheConfig   `yaml:"schema_cache"`
	Compatibility CompatibilityConfig `yaml:"compatibility"`
	Mode          ModeConfig          `yaml:"mode"`
	Logging       LoggingConfig       `yaml:"logging"`
}

// ServerConfig represents HTTP server configuration.
type ServerConfig struct {
	Host         string `yaml:"host"`
	Port         int    `yaml:"port"`
	ReadTimeout  int    `yaml:"read_timeout"`
	WriteTimeout int    `yaml:"write_timeout"`

	// AdvertisedHost and AdvertisedPort form the identity other nodes use
	// to forward writes to this node. They default to Host and Port.
	AdvertisedHost string `yaml:"advertised_host"`
	AdvertisedPort int    `yaml:"advertised_port"`
	// Scheme is the protocol peers use to reach this node (http or https).
	Scheme string `yaml:"scheme"`
	// LeaderEligibility controls whether this node takes part in the
	// election. Ineligible nodes serve reads and forward writes.
	LeaderEligibility bool `yaml:"leader_eligibility"`
}

// KafkaConfig represents the Kafka log store configuration.
type KafkaConfig struct {
	BootstrapServers  []string `yaml:"bootstrap_servers"`
	Topic             string   `yaml:"topic"`
	ReplicationFactor int16    `yaml:"replication_factor"`
	Timeout           int      `yaml:"timeout"`      // seconds, per store operation
	InitTimeout       int      `yaml:"init_timeout"` // seconds, startup replay
	// WriteMaxRetries bounds the id-collision retry loop around log writes.
	WriteMaxRetries int `yaml:"write_max_retries"`

	SASLMechanism string `yaml:"sasl_mechanism"` // PLAIN, SCRAM-SHA-256, SCRAM-SHA-512
	SASLUser      string `yaml:"sasl_user"`
	SASLPassword  string `yaml:"sasl_password"`
	TLSEnabled    bool   `yaml:"tls_enabled"`
	TLSSkipVerify bool   `yaml:"tls_skip_verify"`
}

// ElectionConfig represents leader election configuration.
type ElectionConfig struct {
	Topic   string `yaml:"topic"`
	GroupID string `yaml:"group_id"`
	Timeout int    `yaml:"timeout"` // seconds
	// Delay postpones joining the election group after startup (seconds).
	Delay int `yaml:"delay"`
}

// SchemaCacheConfig bounds the parsed-schema cache.
type SchemaCacheConfig struct {
	Size       int `yaml:"size"`
	ExpirySecs int `yaml:"expiry_secs"` // 0 means no expiry
}

// CompatibilityConfig represents compatibility checking configuration.
type CompatibilityConfig struct {
	DefaultLevel string `yaml:"default_level"`
}

// ModeConfig represents mode handling configuration.
type ModeConfig struct {
	// Mutability controls whether the mode endpoints accept changes.
	Mutability bool `yaml:"mutability"`
}

// LoggingConfig represents logging configuration.
type LoggingConfig struct {
	Level  string `yaml:"level"`
	Format string `yaml:"format"` // json, text
}

// DefaultConfig returns a configuration with default values.
func DefaultConfig() *Config {
	return &Config{
		Server: ServerConfig{
			Host:              "0.0.0.0",
			Port:              8081,
			ReadTimeout:       30,
			WriteTimeout:      30,
			Scheme:            "http",
			LeaderEligibility: true,
		},
		Kafka: KafkaConfig{
			BootstrapServers:  []string{"localhost:9092"},
			Topic:             "_schemas",
			ReplicationFactor: 3,
			Timeout:           10,
			InitTimeout:       60,
			WriteMaxRetries:   5,
		},
		Election: ElectionConfig{
			Topic:   "_schema_registry_leader",
			GroupID: "schema-registry",
			Timeout: 30,
		},
		SchemaCache: SchemaCacheConfig{
			Size: 1000,
		},
		Compatibility: CompatibilityConfig{
			DefaultLevel: "BACKWARD",
		},
		Mode: ModeConfig{
			Mutability: true,
		},
		Logging: LoggingConfig{
			Level:  "info",
			Format: "json",
		},
	}
}

// Load loads configuration from a YAML file and environment variables.
// Environment variables override file configuration.
func Load(path string) (*Config, error) {
	cfg := DefaultConfig()

	if path != "" {
		// #nosec G304 -- path is from command-line argument, user-controlled input is expected
		data, err := os.ReadFile(path)
		if err != nil {
			return nil, fmt.Errorf("failed to read config file: %w", err)
		}

		// Expand environment variables in the config file
		expanded := os.ExpandEnv(string(data))

		if err := yaml.Unmarshal([]byte(expanded), cfg); err != nil {
			return nil, fmt.Errorf("failed to parse config file: %w", err)
		}
	}

	cfg.applyEnvOverrides()

	if err := cfg.Validate(); err != nil {
		return nil, fmt.Errorf("invalid configuration: %w", err)
	}

	return cfg, nil
}

// applyEnvOverrides applies environment variable overrides.
func (c *Config) applyEnvOverrides() {
	if v := os.Getenv("SCHEMA_REGISTRY_HOST"); v != "" {
		c.Server.Host = v
	}
	if v := os.Getenv("SCHEMA_REGISTRY_PORT"); v != "" {
		if port, err := strconv.Atoi(v); err == nil {
			c.Server.Port = port
		}
	}
	if v := os.Getenv("SCHEMA_REGISTRY_ADVERTISED_HOST"); v != "" {
		c.Server.AdvertisedHost = v
	}
	if v := os.Getenv("SCHEMA_REGISTRY_ADVERTISED_PORT"); v != "" {
		if port, err := strconv.Atoi(v); err == nil {
			c.Server.AdvertisedPort = port
		}
	}
	if v := os.Getenv("SCHEMA_REGISTRY_LEADER_ELIGIBILITY"); v != "" {
		c.Server.LeaderEligibility = isTrue(v)
	}

	if v := os.Getenv("SCHEMA_REGISTRY_KAFKA_BOOTSTRAP_SERVERS"); v != "" {
		c.Kafka.BootstrapServers = splitAndTrim(v)
	}
	if v := os.Getenv("SCHEMA_REGISTRY_KAFKA_TOPIC"); v != "" {
		c.Kafka.Topic = v
	}
	if v := os.Getenv("SCHEMA_REGISTRY_KAFKA_REPLICATION_FACTOR"); v != "" {
		if rf, err := strconv.Atoi(v); err == nil {
			c.Kafka.ReplicationFactor = int16(rf)
		}
	}
	if v := os.Getenv("SCHEMA_REGISTRY_KAFKA_WRITE_MAX_RETRIES"); v != "" {
		if n, err := strconv.Atoi(v); err == nil {
			c.Kafka.WriteMaxRetries = n
		}
	}
	if v := os.Getenv("SCHEMA_REGISTRY_KAFKA_SASL_MECHANISM"); v != "" {
		c.Kafka.SASLMechanism = v
	}
	if v := os.Getenv("SCHEMA_REGISTRY_KAFKA_SASL_USER"); v != "" {
		c.Kafka.SASLUser = v
	}
	if v := os.Getenv("SCHEMA_REGISTRY_KAFKA_SASL_PASSWORD"); v != "" {
		c.Kafka.SASLPassword = v
	}
	if v := os.Getenv("SCHEMA_REGISTRY_KAFKA_TLS_ENABLED"); v != "" {
		c.Kafka.TLSEnabled = isTrue(v)
	}

	if v := os.Getenv("SCHEMA_REGISTRY_ELECTION_TOPIC"); v != "" {
		c.Election.Topic = v
	}
	if v := os.Getenv("SCHEMA_REGISTRY_ELECTION_GROUP_ID"); v != "" {
		c.Election.GroupID = v
	}
	if v := os.Getenv("SCHEMA_REGISTRY_ELECTION_DELAY"); v != "" {
		if d, err := strconv.Atoi(v); err == nil {
			c.Election.Delay = d
		}
	}

	if v := os.Getenv("SCHEMA_REGISTRY_COMPATIBILITY_LEVEL"); v != "" {
		c.Compatibility.DefaultLevel = v
	}
	if v := os.Getenv("SCHEMA_REGISTRY_MODE_MUTABILITY"); v != "" {
		c.Mode.Mutability = isTrue(v)
	}
	if v := os.Getenv("SCHEMA_REGISTRY_LOG_LEVEL"); v != "" {
		c.Logging.Level = v
	}
	if v := os.Getenv("SCHEMA_REGISTRY_LOG_FORMAT"); v != "" {
		c.Logging.Format = v
	}
}

// Validate validates the configuration.
func (c *Config) Validate() error {
	if c.Server.Port < 1 || c.Server.Port > 65535 {
		return fmt.Errorf("invalid server port: %d", c.Server.Port)
	}
	if c.Server.Scheme != "http" && c.Server.Scheme != "https" {
		return fmt.Errorf("invalid scheme: %s", c.Server.Scheme)
	}

	if len(c.Kafka.BootstrapServers) == 0 {
		return fmt.Errorf("kafka bootstrap servers are required")
	}
	if c.Kafka.Topic == "" {
		return fmt.Errorf("kafka topic is required")
	}
	if c.Kafka.Topic == c.Election.Topic {
		return fmt.Errorf("kafka topic and election topic must differ")
	}
	if c.Kafka.WriteMaxRetries < 0 {
		return fmt.Errorf("kafka write max retries must not be negative: %d", c.Kafka.WriteMaxRetries)
	}
	if c.Election.Delay < 0 {
		return fmt.Errorf("election delay must not be negative: %d", c.Election.Delay)
	}
	if c.SchemaCache.Size < 0 {
		return fmt.Errorf("schema cache size must not be negative: %d", c.SchemaCache.Size)
	}

	switch c.Kafka.SASLMechanism {
	case "", "PLAIN", "SCRAM-SHA-256", "SCRAM-SHA-512":
	default:
		return fmt.Errorf("invalid SASL mechanism: %s", c.Kafka.SASLMechanism)
	}

	validCompatibility := map[string]bool{
		"NONE":                true,
		"BACKWARD":            true,
		"BACKWARD_TRANSITIVE": true,
		"FORWARD":             true,
		"FORWARD_TRANSITIVE":  true,
		"FULL":                true,
		"FULL_TRANSITIVE":     true,
	}
	level := strings.ToUpper(c.Compatibility.DefaultLevel)
	if !validCompatibility[level] {
		return fmt.Errorf("invalid compatibility level: %s", c.Compatibility.DefaultLevel)
	}

	return nil
}

// Address returns the server listen address string.
func (c *Config) Address() string {
	return fmt.Sprintf("%s:%d", c.Server.Host, c.Server.Port)
}

// AdvertisedHost returns the host peers should use to reach this node.
func (c *Config) AdvertisedHost() string {
	if c.Server.AdvertisedHost != "" {
		return c.Server.AdvertisedHost
	}
	if c.Server.Host != "" && c.Server.Host != "0.0.0.0" {
		return c.Server.Host
	}
	host, err := os.Hostname()
	if err != nil {
		return "localhost"
	}
	return host
}

// AdvertisedPort returns the port peers should use to reach this node.
func (c *Config) AdvertisedPort() int {
	if c.Server.AdvertisedPort != 0 {
		return c.Server.AdvertisedPort
	}
	return c.Server.Port
}

func isTrue(v string) bool {
	return strings.ToLower(v) == "true" || v == "1"
}

func splitAndTrim(v string) []string {
	parts := strings.Split(v, ",")
	out := make([]string, 0, len(parts))
	for _, p := range parts {
		if t := strings.TrimSpace(p); t != "" {
			out = append(out, t)
		}
	}
	return out
}
