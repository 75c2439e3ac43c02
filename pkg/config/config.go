package config

import (
	"fmt"
	"os"
	"strconv"
	"time"

	"github.com/spf13/viper"
)

// Config holds the configuration of the studies report
type Config struct {
	// General settings
	AppName  string `mapstructure:"app_name"`
	LogLevel string `mapstructure:"log_level"`
	Timezone string `mapstructure:"timezone"`

	// Server settings
	Host       string        `mapstructure:"host"`
	Port       int           `mapstructure:"port"`
	PerPage    int           `mapstructure:"per_page"`
	SessionTTL time.Duration `mapstructure:"session_ttl"`

	// Storage settings
	DatabasePath string `mapstructure:"database_path"`
	AllowPHI     bool   `mapstructure:"allow_phi"`
	// AuditUser is the actor recorded when a study detail page is viewed
	AuditUser string `mapstructure:"audit_user"`

	// UI settings
	ChartLibrary    bool   `mapstructure:"chart_library"`
	QuickFilterDays int    `mapstructure:"quick_filter_days"`
	BannerEnabled   bool   `mapstructure:"banner_enabled"`
	BannerText      string `mapstructure:"banner_text"`
	ThemePath       string `mapstructure:"theme_path"`
}

// NewConfig creates a new configuration with default values
func NewConfig() *Config {
	return &Config{
		AppName:         "qCT Dashboard",
		LogLevel:        "info",
		Timezone:        "UTC",
		Host:            "localhost",
		Port:            8080,
		PerPage:         10,
		SessionTTL:      2 * time.Hour,
		DatabasePath:    "qct.db",
		AllowPHI:        false,
		AuditUser:       "demo",
		ChartLibrary:    true,
		QuickFilterDays: 30,
		BannerEnabled:   true,
		BannerText:      "",
		ThemePath:       "default",
	}
}

// LoadConfig loads configuration from a well-known file, then the environment
func LoadConfig() (*Config, error) {
	cfg := NewConfig()

	configPaths := []string{
		"qct-report.yml",
		"qct-report.yaml",
		"qct-report.json",
	}

	for _, path := range configPaths {
		if _, err := os.Stat(path); err == nil {
			if err := cfg.LoadFromFile(path); err != nil {
				return nil, fmt.Errorf("failed to load %s: %w", path, err)
			}
			break
		}
	}

	cfg.LoadFromEnv()
	return cfg, cfg.Validate()
}

// LoadFromFile loads configuration from a file (YAML, JSON, or TOML)
func (c *Config) LoadFromFile(path string) error {
	v := viper.New()
	v.SetConfigFile(path)

	if err := v.ReadInConfig(); err != nil {
		return err
	}

	return v.Unmarshal(c)
}

// LoadFromEnv loads configuration from environment variables
func (c *Config) LoadFromEnv() {
	if path := os.Getenv("QCT_DB_PATH"); path != "" {
		c.DatabasePath = path
	}

	if lib := os.Getenv("QCT_CHART_LIBRARY"); lib != "" {
		if enabled, err := strconv.ParseBool(lib); err == nil {
			c.ChartLibrary = enabled
		}
	}

	if enabled := os.Getenv("QCT_BANNER_ENABLED"); enabled == "false" {
		c.BannerEnabled = false
	}

	if text := os.Getenv("QCT_BANNER_TEXT"); text != "" {
		c.BannerText = text
	}

	if phi := os.Getenv("QCT_ALLOW_PHI"); phi == "true" {
		c.AllowPHI = true
	}

	if user := os.Getenv("QCT_AUDIT_USER"); user != "" {
		c.AuditUser = user
	}

	if level := os.Getenv("QCT_LOG_LEVEL"); level != "" {
		c.LogLevel = level
	}
}

// Save saves the configuration to a file
func (c *Config) Save(path string) error {
	v := viper.New()
	v.SetConfigFile(path)

	v.Set("app_name", c.AppName)
	v.Set("log_level", c.LogLevel)
	v.Set("timezone", c.Timezone)
	v.Set("host", c.Host)
	v.Set("port", c.Port)
	v.Set("per_page", c.PerPage)
	v.Set("session_ttl", c.SessionTTL.String())
	v.Set("database_path", c.DatabasePath)
	v.Set("allow_phi", c.AllowPHI)
	v.Set("audit_user", c.AuditUser)
	v.Set("chart_library", c.ChartLibrary)
	v.Set("quick_filter_days", c.QuickFilterDays)
	v.Set("banner_enabled", c.BannerEnabled)
	v.Set("banner_text", c.BannerText)
	v.Set("theme_path", c.ThemePath)

	return v.WriteConfig()
}

// Validate checks if the configuration is valid
func (c *Config) Validate() error {
	if c.Port <= 0 || c.Port > 65535 {
		return fmt.Errorf("invalid port %d", c.Port)
	}
	if c.PerPage < 1 || c.PerPage > 100 {
		return fmt.Errorf("per_page must be between 1 and 100, got %d", c.PerPage)
	}
	if c.QuickFilterDays < 1 {
		return fmt.Errorf("quick_filter_days must be positive, got %d", c.QuickFilterDays)
	}
	if c.AuditUser == "" {
		return fmt.Errorf("audit_user must not be empty")
	}
	if _, err := time.LoadLocation(c.Timezone); err != nil {
		return fmt.Errorf("invalid timezone %q: %w", c.Timezone, err)
	}
	return nil
}

// Location returns the configured time zone, falling back to UTC
func (c *Config) Location() *time.Location {
	loc, err := time.LoadLocation(c.Timezone)
	if err != nil {
		return time.UTC
	}
	return loc
}
