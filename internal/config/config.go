package config

import (
	"fmt"
	"os"
	"strconv"
)

// Config holds all configuration for the application
type Config struct {
	// Server configuration
	Port  string
	Debug bool

	// Schedule configuration
	RunSchedule string // "daily" or "weekly"
	TimeZone    string

	// Analysis configuration
	WindowDays       int     // rolling analysis window for trends/clustering
	MinClusterSize   int     // minimum categorized mentions before clustering
	DominanceCutoff  float64 // exclusive lower bound on dominance ratio
	ExternalMinRatio float64 // required share of externally-anchored content angles

	// Storage configuration
	DatabasePath string

	// Mention archive (Azure Blob) configuration; archiving is disabled
	// when StorageAccount is empty.
	StorageAccount   string
	StorageContainer string

	// External collaborators
	CategorizerURL string
	GeneratorURL   string

	// Notification configuration
	TeamsWebhookURL   string
	NotificationEmail string
	SMTPHost          string
	SMTPPort          int
	SMTPUsername      string
	SMTPPassword      string

	// Target roster
	TargetsFile string
}

// Load loads configuration from environment variables
func Load() (*Config, error) {
	cfg := &Config{
		Port:        getEnv("PORT", "8080"),
		Debug:       getBoolEnv("DEBUG", false),
		RunSchedule: getEnv("RUN_SCHEDULE", "daily"),
		TimeZone:    getEnv("TIMEZONE", "UTC"),

		WindowDays:       getIntEnv("WINDOW_DAYS", 30),
		MinClusterSize:   getIntEnv("MIN_CLUSTER_SIZE", 4),
		DominanceCutoff:  getFloatEnv("DOMINANCE_CUTOFF", 0.5),
		ExternalMinRatio: getFloatEnv("EXTERNAL_MIN_RATIO", 0.8),

		DatabasePath: getEnv("DATABASE_PATH", "signals.db"),

		StorageAccount:   getEnv("AZURE_STORAGE_ACCOUNT", ""),
		StorageContainer: getEnv("AZURE_STORAGE_CONTAINER", "mentions"),

		CategorizerURL: getEnv("CATEGORIZER_URL", ""),
		GeneratorURL:   getEnv("GENERATOR_URL", ""),

		TeamsWebhookURL:   getEnv("TEAMS_WEBHOOK_URL", ""),
		NotificationEmail: getEnv("NOTIFICATION_EMAIL", ""),
		SMTPHost:          getEnv("SMTP_HOST", ""),
		SMTPPort:          getIntEnv("SMTP_PORT", 587),
		SMTPUsername:      getEnv("SMTP_USERNAME", ""),
		SMTPPassword:      getEnv("SMTP_PASSWORD", ""),

		TargetsFile: getEnv("TARGETS_FILE", "targets.yaml"),
	}

	if err := cfg.validate(); err != nil {
		return nil, fmt.Errorf("configuration validation failed: %w", err)
	}

	return cfg, nil
}

func (c *Config) validate() error {
	if c.RunSchedule != "daily" && c.RunSchedule != "weekly" {
		return fmt.Errorf("RUN_SCHEDULE must be 'daily' or 'weekly'")
	}

	if c.WindowDays <= 0 {
		return fmt.Errorf("WINDOW_DAYS must be positive")
	}

	if c.DominanceCutoff <= 0 || c.DominanceCutoff >= 1 {
		return fmt.Errorf("DOMINANCE_CUTOFF must be between 0 and 1 exclusive")
	}

	if c.ExternalMinRatio < 0 || c.ExternalMinRatio > 1 {
		return fmt.Errorf("EXTERNAL_MIN_RATIO must be between 0 and 1")
	}

	if c.NotificationEmail != "" {
		if c.SMTPHost == "" || c.SMTPUsername == "" || c.SMTPPassword == "" {
			return fmt.Errorf("SMTP configuration is required when NOTIFICATION_EMAIL is set")
		}
	}

	return nil
}

// Helper functions for environment variable parsing
func getEnv(key, defaultValue string) string {
	if value := os.Getenv(key); value != "" {
		return value
	}
	return defaultValue
}

func getBoolEnv(key string, defaultValue bool) bool {
	if value := os.Getenv(key); value != "" {
		if parsed, err := strconv.ParseBool(value); err == nil {
			return parsed
		}
	}
	return defaultValue
}

func getIntEnv(key string, defaultValue int) int {
	if value := os.Getenv(key); value != "" {
		if parsed, err := strconv.Atoi(value); err == nil {
			return parsed
		}
	}
	return defaultValue
}

func getFloatEnv(key string, defaultValue float64) float64 {
	if value := os.Getenv(key); value != "" {
		if parsed, err := strconv.ParseFloat(value, 64); err == nil {
			return parsed
		}
	}
	return defaultValue
}
