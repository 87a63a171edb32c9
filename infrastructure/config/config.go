// Package config loads application configuration from the environment, with
// an optional YAML file underneath it.
package config

import (
	"fmt"
	"os"
	"strconv"
	"time"

	"gopkg.in/yaml.v3"
)

// Storage backends
const (
	StorageMemory   = "memory"
	StorageDynamoDB = "dynamodb"
	StorageBadger   = "badger"
)

// Policy sources
const (
	PolicySourceMemory   = "memory"
	PolicySourceDynamoDB = "dynamodb"
	PolicySourceFile     = "file"
	// Stored next to the graphs in the badger database
	PolicySourceBadger   = "badger"
)

// Shared policy tiers
const (
	SharedTierNone     = "none"
	SharedTierDynamoDB = "dynamodb"
)

// PolicyConfig configures the policy cache and its source
type PolicyConfig struct {
	Source        string        `yaml:"source"`
	File          string        `yaml:"file"`
	SharedTier    string        `yaml:"shared_tier"`
	CacheTTL      time.Duration `yaml:"cache_ttl"`
	SourceTimeout time.Duration `yaml:"source_timeout"`
	// Entries kept by the in-process tier, 0 for unbounded
	LocalEntries int `yaml:"local_entries"`
}

// Config holds all application configuration
type Config struct {
	// Server configuration
	ServerAddress string `yaml:"server_address"`
	Environment   string `yaml:"environment"`

	// Storage
	StorageBackend   string `yaml:"storage_backend"`
	BadgerPath       string `yaml:"badger_path"`
	AWSRegion        string `yaml:"aws_region"`
	TableName        string `yaml:"table_name"`
	DynamoDBEndpoint string `yaml:"dynamodb_endpoint"`
	EventBusName     string `yaml:"event_bus_name"`

	Policy PolicyConfig `yaml:"policy"`

	// Logging
	LogLevel string `yaml:"log_level"`

	// Feature flags
	EnableMetrics bool   `yaml:"enable_metrics"`
	EnableTracing bool   `yaml:"enable_tracing"`
	OTLPEndpoint  string `yaml:"otlp_endpoint"`
	EnableCORS    bool   `yaml:"enable_cors"`
	EnableEvents  bool   `yaml:"enable_events"`

	// Where the overlay came from, if any
	LoadedFrom string `yaml:"-"`
}

// defaultConfig is the development configuration
func defaultConfig() *Config {
	return &Config{
		ServerAddress:  ":8080",
		Environment:    "development",
		StorageBackend: StorageMemory,
		BadgerPath:     "./data/designgraph",
		AWSRegion:      "us-west-2",
		TableName:      "designgraph",
		EventBusName:   "designgraph-events",
		Policy: PolicyConfig{
			Source:        PolicySourceMemory,
			SharedTier:    SharedTierNone,
			CacheTTL:      60 * time.Second,
			SourceTimeout: 2 * time.Second,
			LocalEntries:  10000,
		},
		LogLevel:      "info",
		EnableMetrics: true,
		EnableCORS:    true,
	}
}

// LoadConfig loads the YAML file named by CONFIG_FILE, if set, and then
// applies environment variables on top of it.
func LoadConfig() (*Config, error) {
	cfg := defaultConfig()

	if path := os.Getenv("CONFIG_FILE"); path != "" {
		if err := cfg.loadFile(path); err != nil {
			return nil, err
		}
	}
	cfg.applyEnvironment()

	if err := cfg.Validate(); err != nil {
		return nil, err
	}
	return cfg, nil
}

func (c *Config) loadFile(path string) error {
	data, err := os.ReadFile(path)
	if err != nil {
		return fmt.Errorf("failed to read config file %s: %w", path, err)
	}
	if err := yaml.Unmarshal(data, c); err != nil {
		return fmt.Errorf("failed to parse config file %s: %w", path, err)
	}
	c.LoadedFrom = path
	return nil
}

// applyEnvironment overrides every field whose variable is set
func (c *Config) applyEnvironment() {
	c.ServerAddress = getEnv("SERVER_ADDRESS", c.ServerAddress)
	c.Environment = getEnv("ENVIRONMENT", c.Environment)

	c.StorageBackend = getEnv("STORAGE_BACKEND", c.StorageBackend)
	c.BadgerPath = getEnv("BADGER_PATH", c.BadgerPath)
	c.AWSRegion = getEnv("AWS_REGION", c.AWSRegion)
	c.TableName = getEnv("TABLE_NAME", c.TableName)
	c.DynamoDBEndpoint = getEnv("DYNAMODB_ENDPOINT", c.DynamoDBEndpoint)
	c.EventBusName = getEnv("EVENT_BUS_NAME", c.EventBusName)

	c.Policy.Source = getEnv("POLICY_SOURCE", c.Policy.Source)
	c.Policy.File = getEnv("POLICY_FILE", c.Policy.File)
	c.Policy.SharedTier = getEnv("POLICY_SHARED_TIER", c.Policy.SharedTier)
	c.Policy.CacheTTL = getEnvDuration("POLICY_CACHE_TTL", c.Policy.CacheTTL)
	c.Policy.SourceTimeout = getEnvDuration("POLICY_SOURCE_TIMEOUT", c.Policy.SourceTimeout)
	c.Policy.LocalEntries = getEnvInt("POLICY_LOCAL_ENTRIES", c.Policy.LocalEntries)

	c.LogLevel = getEnv("LOG_LEVEL", c.LogLevel)
	c.EnableMetrics = getEnvBool("ENABLE_METRICS", c.EnableMetrics)
	c.EnableTracing = getEnvBool("ENABLE_TRACING", c.EnableTracing)
	c.OTLPEndpoint = getEnv("OTLP_ENDPOINT", c.OTLPEndpoint)
	c.EnableCORS = getEnvBool("ENABLE_CORS", c.EnableCORS)
	c.EnableEvents = getEnvBool("ENABLE_EVENTS", c.EnableEvents)
}

// Validate checks that the selected backends have what they need
func (c *Config) Validate() error {
	switch c.StorageBackend {
	case StorageMemory:
	case StorageBadger:
		if c.BadgerPath == "" {
			return fmt.Errorf("BADGER_PATH is required for the badger backend")
		}
	case StorageDynamoDB:
		if c.TableName == "" {
			return fmt.Errorf("TABLE_NAME is required for the dynamodb backend")
		}
	default:
		return fmt.Errorf("unknown STORAGE_BACKEND %q", c.StorageBackend)
	}

	switch c.Policy.Source {
	case PolicySourceMemory, PolicySourceDynamoDB:
	case PolicySourceBadger:
		if c.StorageBackend != StorageBadger {
			return fmt.Errorf("POLICY_SOURCE=badger requires STORAGE_BACKEND=badger")
		}
	case PolicySourceFile:
		if c.Policy.File == "" {
			return fmt.Errorf("POLICY_FILE is required when POLICY_SOURCE=file")
		}
	default:
		return fmt.Errorf("unknown POLICY_SOURCE %q", c.Policy.Source)
	}

	switch c.Policy.SharedTier {
	case SharedTierNone, SharedTierDynamoDB:
	default:
		return fmt.Errorf("unknown POLICY_SHARED_TIER %q", c.Policy.SharedTier)
	}

	if c.Policy.CacheTTL <= 0 {
		return fmt.Errorf("POLICY_CACHE_TTL must be positive")
	}
	if c.Policy.SourceTimeout <= 0 {
		return fmt.Errorf("POLICY_SOURCE_TIMEOUT must be positive")
	}

	if c.IsProduction() {
		if c.StorageBackend == StorageMemory {
			return fmt.Errorf("the memory backend is not allowed in production")
		}
		if c.EnableEvents && c.EventBusName == "" {
			return fmt.Errorf("EVENT_BUS_NAME is required")
		}
	}
	return nil
}

// UsesDynamoDB reports whether any component needs a DynamoDB client
func (c *Config) UsesDynamoDB() bool {
	return c.StorageBackend == StorageDynamoDB ||
		c.Policy.Source == PolicySourceDynamoDB ||
		c.Policy.SharedTier == SharedTierDynamoDB
}

// IsDevelopment checks if running in development mode
func (c *Config) IsDevelopment() bool {
	return c.Environment == "development"
}

// IsProduction checks if running in production mode
func (c *Config) IsProduction() bool {
	return c.Environment == "production"
}

func getEnv(key, defaultValue string) string {
	if value := os.Getenv(key); value != "" {
		return value
	}
	return defaultValue
}

func getEnvBool(key string, defaultValue bool) bool {
	value := os.Getenv(key)
	if value == "" {
		return defaultValue
	}
	return value == "true" || value == "1" || value == "yes"
}

func getEnvInt(key string, defaultValue int) int {
	if value := os.Getenv(key); value != "" {
		if intVal, err := strconv.Atoi(value); err == nil {
			return intVal
		}
	}
	return defaultValue
}

// getEnvDuration accepts Go durations ("90s") or plain seconds ("90")
func getEnvDuration(key string, defaultValue time.Duration) time.Duration {
	value := os.Getenv(key)
	if value == "" {
		return defaultValue
	}
	if d, err := time.ParseDuration(value); err == nil {
		return d
	}
	if secs, err := strconv.Atoi(value); err == nil {
		return time.Duration(secs) * time.Second
	}
	return defaultValue
}
