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

type Config struct {
	// Server
	ServerPort     string
	ServerHost     string
	ReadTimeout    time.Duration
	WriteTimeout   time.Duration
	MaxRequestBody int64

	// Configuration store
	StoreBackend string // "file" or "postgres"
	StoreDir     string

	// Database
	PostgresHost     string
	PostgresPort     string
	PostgresUser     string
	PostgresPassword string
	PostgresDB       string
	PostgresSSLMode  string

	// Redis
	RedisHost     string
	RedisPort     string
	RedisPassword string
	RedisDB       int
	RedisEnabled  bool
	CacheTTL      time.Duration

	// Kafka
	KafkaBrokers      []string
	KafkaGroupID      string
	KafkaEnabled      bool
	SamplesTopic      string
	ConfigEventsTopic string

	// Reference data
	CatalogPath       string
	SemanticPathsPath string
	SignatureRules    string
	DLPRulesPath      string

	// Analysis
	AnalyzerWorkers  int
	MinConfidence    float64
	MaxBatchMessages int
}

// fileOverlay is the on-disk YAML structure read from PROFILER_CONFIG_FILE.
// Only the keys that operators usually tune per deployment are exposed.
type fileOverlay struct {
	StoreBackend      string   `yaml:"store_backend"`
	StoreDir          string   `yaml:"store_dir"`
	CatalogPath       string   `yaml:"catalog_path"`
	SemanticPathsPath string   `yaml:"semantic_paths_path"`
	SignatureRules    string   `yaml:"signature_rules_path"`
	DLPRulesPath      string   `yaml:"dlp_rules_path"`
	AnalyzerWorkers   int      `yaml:"analyzer_workers"`
	MinConfidence     *float64 `yaml:"min_confidence"`
	KafkaBrokers      []string `yaml:"kafka_brokers"`
}

func Load() *Config {
	return &Config{
		ServerPort:     getEnv("SERVER_PORT", "8090"),
		ServerHost:     getEnv("SERVER_HOST", "0.0.0.0"),
		ReadTimeout:    getDuration("READ_TIMEOUT", 30*time.Second),
		WriteTimeout:   getDuration("WRITE_TIMEOUT", 30*time.Second),
		MaxRequestBody: int64(getIntEnv("MAX_REQUEST_BODY_BYTES", 16*1024*1024)),

		StoreBackend: getEnv("STORE_BACKEND", "file"),
		StoreDir:     getEnv("STORE_DIR", "./vendor-configs"),

		PostgresHost:     getEnv("POSTGRES_HOST", "localhost"),
		PostgresPort:     getEnv("POSTGRES_PORT", "5432"),
		PostgresUser:     getEnv("POSTGRES_USER", "synaptica"),
		PostgresPassword: getEnv("POSTGRES_PASSWORD", "synaptica123"),
		PostgresDB:       getEnv("POSTGRES_DB", "synaptica"),
		PostgresSSLMode:  getEnv("POSTGRES_SSLMODE", "disable"),

		RedisHost:     getEnv("REDIS_HOST", "localhost"),
		RedisPort:     getEnv("REDIS_PORT", "6379"),
		RedisPassword: getEnv("REDIS_PASSWORD", ""),
		RedisDB:       getIntEnv("REDIS_DB", 0),
		RedisEnabled:  getBoolEnv("REDIS_ENABLED", false),
		CacheTTL:      getDuration("CONFIG_CACHE_TTL", 10*time.Minute),

		KafkaBrokers:      getStringSliceEnv("KAFKA_BROKERS", []string{"localhost:9092"}),
		KafkaGroupID:      getEnv("KAFKA_GROUP_ID", "vendor-profiler"),
		KafkaEnabled:      getBoolEnv("KAFKA_ENABLED", false),
		SamplesTopic:      getEnv("SAMPLES_TOPIC", "interchange-samples"),
		ConfigEventsTopic: getEnv("CONFIG_EVENTS_TOPIC", "vendor-configurations"),

		CatalogPath:       getEnv("CATALOG_PATH", ""),
		SemanticPathsPath: getEnv("SEMANTIC_PATHS_PATH", ""),
		SignatureRules:    getEnv("SIGNATURE_RULES_PATH", ""),
		DLPRulesPath:      getEnv("DLP_RULES_PATH", ""),

		AnalyzerWorkers:  getIntEnv("ANALYZER_WORKERS", 0),
		MinConfidence:    getFloatEnv("MIN_CONFIDENCE", 0.6),
		MaxBatchMessages: getIntEnv("MAX_BATCH_MESSAGES", 10000),
	}
}

// LoadWithOverlay loads the environment config and then applies the YAML file named by
// PROFILER_CONFIG_FILE, if set.
func LoadWithOverlay() (*Config, error) {
	cfg := Load()
	path := os.Getenv("PROFILER_CONFIG_FILE")
	if path == "" {
		return cfg, nil
	}
	if err := cfg.LoadFromFile(path); err != nil {
		return nil, err
	}
	return cfg, nil
}

// LoadFromFile merges non-empty values of a YAML overlay into c.
func (c *Config) LoadFromFile(path string) error {
	data, err := os.ReadFile(filepath.Clean(path))
	if err != nil {
		return fmt.Errorf("read config file: %w", err)
	}
	var overlay fileOverlay
	if err := yaml.Unmarshal(data, &overlay); err != nil {
		return fmt.Errorf("parse config file: %w", err)
	}
	if overlay.StoreBackend != "" {
		c.StoreBackend = overlay.StoreBackend
	}
	if overlay.StoreDir != "" {
		c.StoreDir = overlay.StoreDir
	}
	if overlay.CatalogPath != "" {
		c.CatalogPath = overlay.CatalogPath
	}
	if overlay.SemanticPathsPath != "" {
		c.SemanticPathsPath = overlay.SemanticPathsPath
	}
	if overlay.SignatureRules != "" {
		c.SignatureRules = overlay.SignatureRules
	}
	if overlay.DLPRulesPath != "" {
		c.DLPRulesPath = overlay.DLPRulesPath
	}
	if overlay.AnalyzerWorkers > 0 {
		c.AnalyzerWorkers = overlay.AnalyzerWorkers
	}
	if overlay.MinConfidence != nil {
		c.MinConfidence = *overlay.MinConfidence
	}
	if len(overlay.KafkaBrokers) > 0 {
		c.KafkaBrokers = overlay.KafkaBrokers
	}
	return c.Validate()
}

func (c *Config) Validate() error {
	switch c.StoreBackend {
	case "file", "postgres":
	default:
		return fmt.Errorf("unknown store backend %q", c.StoreBackend)
	}
	if c.StoreBackend == "file" && c.StoreDir == "" {
		return fmt.Errorf("store dir required for file backend")
	}
	if c.MinConfidence < 0 || c.MinConfidence > 1 {
		return fmt.Errorf("min confidence %.2f outside [0,1]", c.MinConfidence)
	}
	return nil
}

func (c *Config) PostgresDSN() string {
	return fmt.Sprintf(
		"host=%s user=%s password=%s dbname=%s port=%s sslmode=%s",
		c.PostgresHost,
		c.PostgresUser,
		c.PostgresPassword,
		c.PostgresDB,
		c.PostgresPort,
		c.PostgresSSLMode,
	)
}

func getEnv(key, defaultValue string) string {
	if value := os.Getenv(key); value != "" {
		return value
	}
	return defaultValue
}

func getIntEnv(key string, defaultValue int) int {
	if value := os.Getenv(key); value != "" {
		if intValue, err := strconv.Atoi(value); err == nil {
			return intValue
		}
	}
	return defaultValue
}

func getFloatEnv(key string, defaultValue float64) float64 {
	if value := os.Getenv(key); value != "" {
		if f, err := strconv.ParseFloat(value, 64); err == nil {
			return f
		}
	}
	return defaultValue
}

func getBoolEnv(key string, defaultValue bool) bool {
	if value := os.Getenv(key); value != "" {
		if b, err := strconv.ParseBool(value); err == nil {
			return b
		}
	}
	return defaultValue
}

func getStringSliceEnv(key string, defaultValue []string) []string {
	if value := os.Getenv(key); value != "" {
		var out []string
		for _, part := range strings.Split(value, ",") {
			if trimmed := strings.TrimSpace(part); trimmed != "" {
				out = append(out, trimmed)
			}
		}
		if len(out) > 0 {
			return out
		}
	}
	return defaultValue
}

func getDuration(key string, defaultValue time.Duration) time.Duration {
	if value := os.Getenv(key); value != "" {
		if duration, err := time.ParseDuration(value); err == nil {
			return duration
		}
	}
	return defaultValue
}
