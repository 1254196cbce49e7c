package config

import (
	"crypto/rand"
	"encoding/hex"
	"fmt"
	"log"
	"os"
	"strings"
	"time"

	"github.com/joho/godotenv"
	"github.com/kelseyhightower/envconfig"
)

// Config holds all application configuration.
type Config struct {
	Port           string        `envconfig:"PORT" default:"8080"`
	GeminiModel    string        `envconfig:"GEMINI_MODEL" default:"gemini-2.5-flash-image"`
	RestoreTimeout time.Duration `envconfig:"RESTORE_TIMEOUT" default:"5m"`
	TickInterval   time.Duration `envconfig:"TICK_INTERVAL" default:"500ms"`
	SessionTTL     time.Duration `envconfig:"SESSION_TTL" default:"60m"`
	SessionSecret  string        `envconfig:"SESSION_SECRET"`
	MaxUploadMB    int64         `envconfig:"MAX_UPLOAD_MB" default:"20"`

	LogLevel string `envconfig:"LOG_LEVEL" default:"info"`
	LogDev   bool   `envconfig:"LOG_DEV" default:"false"`

	// Optional archive sinks. Empty values disable them.
	MongoURI      string `envconfig:"MONGO_URI"`
	MongoDatabase string `envconfig:"MONGO_DATABASE" default:"restorer"`
	AWSRegion     string `envconfig:"AWS_REGION" default:"us-east-1"`
	AWSBucketName string `envconfig:"AWS_BUCKET_NAME"`
}

// LoadConfig loads environment variables from .env file and the process environment.
func LoadConfig() (*Config, error) {
	if err := godotenv.Load(); err != nil {
		log.Println("No .env file found, using default values or system environment variables")
	}
	return Load()
}

// Load reads configuration from the process environment only.
func Load() (*Config, error) {
	var cfg Config
	if err := envconfig.Process("", &cfg); err != nil {
		return nil, fmt.Errorf("failed to load config: %w", err)
	}

	if cfg.SessionSecret == "" {
		secret, err := randomSecret()
		if err != nil {
			return nil, err
		}
		cfg.SessionSecret = secret
	}

	if err := cfg.Validate(); err != nil {
		return nil, fmt.Errorf("invalid configuration: %w", err)
	}
	return &cfg, nil
}

// Validate checks that all required configuration fields are sane.
func (c *Config) Validate() error {
	if c.Port == "" {
		return fmt.Errorf("PORT cannot be empty")
	}
	if c.GeminiModel == "" {
		return fmt.Errorf("GEMINI_MODEL cannot be empty")
	}
	if c.TickInterval <= 0 {
		return fmt.Errorf("TICK_INTERVAL must be > 0")
	}
	if c.RestoreTimeout <= 0 {
		return fmt.Errorf("RESTORE_TIMEOUT must be > 0")
	}
	if c.SessionTTL <= 0 {
		return fmt.Errorf("SESSION_TTL must be > 0")
	}
	if c.MaxUploadMB <= 0 {
		return fmt.Errorf("MAX_UPLOAD_MB must be > 0")
	}
	return nil
}

// MaxUploadBytes returns the upload limit in bytes.
func (c *Config) MaxUploadBytes() int64 {
	return c.MaxUploadMB << 20
}

// ArchiveEnabled reports whether any archive sink is configured.
func (c *Config) ArchiveEnabled() bool {
	return c.MongoURI != "" || c.AWSBucketName != ""
}

// APIKey returns the Gemini credential. It is read on every call so a key
// exported after startup is picked up by the next restoration.
func APIKey() string {
	if key := strings.TrimSpace(os.Getenv("API_KEY")); key != "" {
		return key
	}
	return strings.TrimSpace(os.Getenv("GEMINI_API_KEY"))
}

func randomSecret() (string, error) {
	buf := make([]byte, 32)
	if _, err := rand.Read(buf); err != nil {
		return "", fmt.Errorf("generate session secret: %w", err)
	}
	return hex.EncodeToString(buf), nil
}
