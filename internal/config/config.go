package config

import (
	"fmt"
	"os"
	"strconv"
)

type Config struct {
	Server ServerConfig `json:"server"`

	// MongoDB Configuration (the document store)
	MongoDB MongoDBConfig `json:"mongodb"`

	// Sync Configuration (live subscription engine)
	Sync SyncConfig `json:"sync"`

	// Logging Configuration
	Logging LoggingConfig `json:"logging"`
}

// ServerConfig contains server-related configuration
type ServerConfig struct {
	Host        string `json:"host"`
	Port        string `json:"port"`
	Environment string `json:"environment"` // development, staging, production
}

// MongoDBConfig contains document store connection configuration
type MongoDBConfig struct {
	Host     string `json:"host"`
	Port     string `json:"port"`
	Username string `json:"username"`
	Password string `json:"password"`
	Database string `json:"database"`
}

// SyncConfig contains live subscription engine configuration
type SyncConfig struct {
	// EventBuffer is the engine's pending-event channel capacity.
	EventBuffer int `json:"event_buffer"`

	// UseMemoryStore swaps the Mongo store for the in-process one;
	// development only.
	UseMemoryStore bool `json:"use_memory_store"`
}

// LoggingConfig contains logging configuration
type LoggingConfig struct {
	Level  string `json:"level"`  // debug, info, warn, error
	Format string `json:"format"` // json, text
}

func LoadConfig() *Config {
	return &Config{
		Server: ServerConfig{
			Host:        getEnv("SERVER_HOST", ""),
			Port:        getEnv("SERVER_PORT", "7002"),
			Environment: getEnv("ENVIRONMENT", "development"),
		},
		MongoDB: MongoDBConfig{
			Host:     getEnv("MONGO_HOST", "localhost"),
			Port:     getEnv("MONGO_PORT", "27017"),
			Username: getEnv("MONGO_USER", ""),
			Password: getEnv("MONGO_PASSWORD", ""),
			Database: getEnv("MONGO_DB", "snapgram"),
		},
		Sync: SyncConfig{
			EventBuffer:    getEnvInt("SYNC_EVENT_BUFFER", 256),
			UseMemoryStore: getEnv("STORE_DRIVER", "mongo") == "memory",
		},
		Logging: LoggingConfig{
			Level:  getEnv("LOG_LEVEL", "info"),
			Format: getEnv("LOG_FORMAT", "text"),
		},
	}
}

// GetMongoURI builds the connection string for the document store.
func (cfg *Config) GetMongoURI() string {
	if cfg.MongoDB.Username != "" && cfg.MongoDB.Password != "" {
		return fmt.Sprintf("mongodb://%s:%s@%s:%s/%s?authSource=admin",
			cfg.MongoDB.Username,
			cfg.MongoDB.Password,
			cfg.MongoDB.Host,
			cfg.MongoDB.Port,
			cfg.MongoDB.Database,
		)
	}
	return fmt.Sprintf("mongodb://%s:%s/%s",
		cfg.MongoDB.Host,
		cfg.MongoDB.Port,
		cfg.MongoDB.Database,
	)
}

func getEnv(key, defaultValue string) string {
	if v := os.Getenv(key); v != "" {
		return v
	}
	return defaultValue
}

func getEnvInt(key string, defaultValue int) int {
	if v := os.Getenv(key); v != "" {
		if n, err := strconv.Atoi(v); err == nil {
			return n
		}
	}
	return defaultValue
}
