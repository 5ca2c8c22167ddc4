// Package config provides common configuration loading and management
// utilities for depictio services. This package includes standard environment
// variable loading, validation, and configuration patterns used across the
// backend: HTTP server, metadata store, object store, Redis and event bus.
package config

import (
	"fmt"
	"os"
	"strconv"
	"strings"
	"time"
)

// EnvConfig provides utilities for loading configuration from environment variables
type EnvConfig struct {
	prefix string // Optional prefix for all environment variables
}

// NewEnvConfig creates a new environment configuration loader
func NewEnvConfig(prefix string) *EnvConfig {
	return &EnvConfig{
		prefix: prefix,
	}
}

// GetString retrieves a string value from environment with optional default
func (ec *EnvConfig) GetString(key, defaultValue string) string {
	fullKey := ec.buildKey(key)
	if value := os.Getenv(fullKey); value != "" {
		return value
	}
	return defaultValue
}

// MustGetString retrieves a required string value from environment or panics
func (ec *EnvConfig) MustGetString(key string) string {
	fullKey := ec.buildKey(key)
	value := os.Getenv(fullKey)
	if value == "" {
		panic(fmt.Sprintf("required environment variable %s not set", fullKey))
	}
	return value
}

// GetInt retrieves an integer value from environment with optional default
func (ec *EnvConfig) GetInt(key string, defaultValue int) int {
	fullKey := ec.buildKey(key)
	if value := os.Getenv(fullKey); value != "" {
		if intValue, err := strconv.Atoi(value); err == nil {
			return intValue
		}
	}
	return defaultValue
}

// GetBool retrieves a boolean value from environment with optional default
func (ec *EnvConfig) GetBool(key string, defaultValue bool) bool {
	fullKey := ec.buildKey(key)
	if value := os.Getenv(fullKey); value != "" {
		boolValue, err := strconv.ParseBool(value)
		if err == nil {
			return boolValue
		}
	}
	return defaultValue
}

// GetDuration retrieves a duration value from environment with optional default
func (ec *EnvConfig) GetDuration(key string, defaultValue time.Duration) time.Duration {
	fullKey := ec.buildKey(key)
	if value := os.Getenv(fullKey); value != "" {
		duration, err := time.ParseDuration(value)
		if err == nil {
			return duration
		}
	}
	return defaultValue
}

// GetStringSlice retrieves a comma-separated string slice from environment
func (ec *EnvConfig) GetStringSlice(key string, defaultValue []string) []string {
	fullKey := ec.buildKey(key)
	if value := os.Getenv(fullKey); value != "" {
		parts := strings.Split(value, ",")
		result := make([]string, 0, len(parts))
		for _, part := range parts {
			if trimmed := strings.TrimSpace(part); trimmed != "" {
				result = append(result, trimmed)
			}
		}
		return result
	}
	return defaultValue
}

// buildKey builds the full environment variable key with optional prefix
func (ec *EnvConfig) buildKey(key string) string {
	if ec.prefix != "" {
		return ec.prefix + "_" + key
	}
	return key
}

// ServerConfig contains HTTP server configuration
type ServerConfig struct {
	Port            int
	Host            string
	ReadTimeout     time.Duration
	WriteTimeout    time.Duration
	ShutdownTimeout time.Duration
	Debug           bool
}

// LoadServerConfig loads server configuration from environment
func LoadServerConfig(prefix string) ServerConfig {
	env := NewEnvConfig(prefix)
	return ServerConfig{
		Port:            env.GetInt("PORT", 8058),
		Host:            env.GetString("HOST", "0.0.0.0"),
		ReadTimeout:     env.GetDuration("READ_TIMEOUT", 30*time.Second),
		WriteTimeout:    env.GetDuration("WRITE_TIMEOUT", 30*time.Second),
		ShutdownTimeout: env.GetDuration("SHUTDOWN_TIMEOUT", 10*time.Second),
		Debug:           env.GetBool("DEBUG", false),
	}
}

// MetastoreConfig contains document-store (metadata store) configuration
type MetastoreConfig struct {
	URL             string
	Database        string
	Username        string
	Password        string
	Timeout         time.Duration
	CreateIfMissing bool
}

// LoadMetastoreConfig loads metadata store configuration from environment
func LoadMetastoreConfig(prefix string) MetastoreConfig {
	env := NewEnvConfig(prefix)
	return MetastoreConfig{
		URL:             env.GetString("URL", "http://localhost:5984"),
		Database:        env.GetString("DATABASE", "depictio"),
		Username:        env.GetString("USERNAME", ""),
		Password:        env.GetString("PASSWORD", ""),
		Timeout:         env.GetDuration("TIMEOUT", 30*time.Second),
		CreateIfMissing: env.GetBool("CREATE_IF_MISSING", true),
	}
}

// S3Config contains object-store configuration for Delta table persistence
type S3Config struct {
	Endpoint  string // Custom endpoint for MinIO or other S3-compatible stores
	Region    string
	Bucket    string
	AccessKey string
	SecretKey string
	UseSSL    bool
	Timeout   time.Duration
}

// LoadS3Config loads object store configuration from environment
func LoadS3Config(prefix string) S3Config {
	env := NewEnvConfig(prefix)
	return S3Config{
		Endpoint:  env.GetString("ENDPOINT", "http://localhost:9000"),
		Region:    env.GetString("REGION", "us-east-1"),
		Bucket:    env.GetString("BUCKET", "depictio-bucket"),
		AccessKey: env.GetString("ACCESS_KEY", ""),
		SecretKey: env.GetString("SECRET_KEY", ""),
		UseSSL:    env.GetBool("USE_SSL", false),
		Timeout:   env.GetDuration("TIMEOUT", 60*time.Second),
	}
}

// RedisConfig contains Redis configuration for the lock manager
type RedisConfig struct {
	URL            string
	LockTTL        time.Duration
	ConnectTimeout time.Duration
}

// LoadRedisConfig loads Redis configuration from environment
func LoadRedisConfig(prefix string) RedisConfig {
	env := NewEnvConfig(prefix)
	return RedisConfig{
		URL:            env.GetString("URL", "redis://localhost:6379/0"),
		LockTTL:        env.GetDuration("LOCK_TTL", 30*time.Second),
		ConnectTimeout: env.GetDuration("CONNECT_TIMEOUT", 2*time.Second),
	}
}

// EventBusConfig contains event bus configuration
type EventBusConfig struct {
	SubscriberBuffer int           // Per-subscriber queue depth before messages are dropped
	PingInterval     time.Duration // WebSocket keepalive interval
	WriteTimeout     time.Duration
}

// LoadEventBusConfig loads event bus configuration from environment
func LoadEventBusConfig(prefix string) EventBusConfig {
	env := NewEnvConfig(prefix)
	return EventBusConfig{
		SubscriberBuffer: env.GetInt("SUBSCRIBER_BUFFER", 64),
		PingInterval:     env.GetDuration("PING_INTERVAL", 30*time.Second),
		WriteTimeout:     env.GetDuration("WRITE_TIMEOUT", 10*time.Second),
	}
}

// AuthConfig contains the JWT verification boundary configuration
type AuthConfig struct {
	SigningKey string
	TokenTTL   time.Duration
}

// LoadAuthConfig loads authentication configuration from environment
func LoadAuthConfig(prefix string) AuthConfig {
	env := NewEnvConfig(prefix)
	return AuthConfig{
		SigningKey: env.GetString("SIGNING_KEY", ""),
		TokenTTL:   env.GetDuration("TOKEN_TTL", 24*time.Hour),
	}
}

// ServiceConfig contains common service configuration
type ServiceConfig struct {
	Name        string
	Environment string
	LogLevel    string
	LogFormat   string
}

// LoadServiceConfig loads service configuration from environment
func LoadServiceConfig(prefix string) ServiceConfig {
	env := NewEnvConfig(prefix)
	return ServiceConfig{
		Name:        env.GetString("NAME", "depictio"),
		Environment: env.GetString("ENVIRONMENT", "development"),
		LogLevel:    env.GetString("LOG_LEVEL", "info"),
		LogFormat:   env.GetString("LOG_FORMAT", "text"),
	}
}

// Validator provides configuration validation utilities
type Validator struct {
	errors []string
}

// NewValidator creates a new configuration validator
func NewValidator() *Validator {
	return &Validator{
		errors: make([]string, 0),
	}
}

// RequireString validates that a string field is not empty
func (v *Validator) RequireString(field, value string) {
	if value == "" {
		v.errors = append(v.errors, fmt.Sprintf("%s is required", field))
	}
}

// RequirePositiveInt validates that an integer field is positive
func (v *Validator) RequirePositiveInt(field string, value int) {
	if value <= 0 {
		v.errors = append(v.errors, fmt.Sprintf("%s must be positive", field))
	}
}

// RequireURL validates that a string is a valid URL
func (v *Validator) RequireURL(field, value string) {
	if value == "" {
		v.errors = append(v.errors, fmt.Sprintf("%s is required", field))
		return
	}
	if !strings.HasPrefix(value, "http://") && !strings.HasPrefix(value, "https://") &&
		!strings.HasPrefix(value, "redis://") && !strings.HasPrefix(value, "rediss://") {
		v.errors = append(v.errors, fmt.Sprintf("%s must be a valid URL", field))
	}
}

// RequireOneOf validates that a value is one of the allowed options
func (v *Validator) RequireOneOf(field, value string, allowed []string) {
	if value == "" {
		v.errors = append(v.errors, fmt.Sprintf("%s is required", field))
		return
	}
	for _, option := range allowed {
		if value == option {
			return
		}
	}
	v.errors = append(v.errors, fmt.Sprintf("%s must be one of: %s", field, strings.Join(allowed, ", ")))
}

// IsValid returns true if there are no validation errors
func (v *Validator) IsValid() bool {
	return len(v.errors) == 0
}

// Errors returns all validation errors
func (v *Validator) Errors() []string {
	return v.errors
}

// ErrorString returns all validation errors as a single string
func (v *Validator) ErrorString() string {
	if len(v.errors) == 0 {
		return ""
	}
	return strings.Join(v.errors, "; ")
}

// Validate runs validation and returns error if invalid
func (v *Validator) Validate() error {
	if !v.IsValid() {
		return fmt.Errorf("configuration validation failed: %s", v.ErrorString())
	}
	return nil
}

// AllConfig aggregates every backend configuration section
type AllConfig struct {
	Server    ServerConfig
	Metastore MetastoreConfig
	S3        S3Config
	Redis     RedisConfig
	Events    EventBusConfig
	Auth      AuthConfig
	Service   ServiceConfig
}

// LoadAll loads all configuration sections under a shared prefix
// (e.g. DEPICTIO → DEPICTIO_PORT, DEPICTIO_DB_URL, DEPICTIO_S3_BUCKET, ...)
func LoadAll(prefix string) (*AllConfig, error) {
	cfg := &AllConfig{
		Server:    LoadServerConfig(prefix),
		Metastore: LoadMetastoreConfig(prefix + "_DB"),
		S3:        LoadS3Config(prefix + "_S3"),
		Redis:     LoadRedisConfig(prefix + "_REDIS"),
		Events:    LoadEventBusConfig(prefix + "_EVENTS"),
		Auth:      LoadAuthConfig(prefix + "_AUTH"),
		Service:   LoadServiceConfig(prefix),
	}

	validator := NewValidator()
	validator.RequirePositiveInt("Server.Port", cfg.Server.Port)
	validator.RequireURL("Metastore.URL", cfg.Metastore.URL)
	validator.RequireString("Metastore.Database", cfg.Metastore.Database)
	validator.RequireURL("Redis.URL", cfg.Redis.URL)
	validator.RequireOneOf("Service.LogLevel", cfg.Service.LogLevel,
		[]string{"debug", "info", "warn", "error"})

	if err := validator.Validate(); err != nil {
		return nil, err
	}
	return cfg, nil
}
