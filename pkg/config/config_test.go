package config

import (
	"os"
	"path/filepath"
	"testing"
	"time"
)

func TestNewConfig_Defaults(t *testing.T) {
	cfg := NewConfig()

	if cfg.QuickFilterDays != 30 {
		t.Errorf("QuickFilterDays = %v, want %v", cfg.QuickFilterDays, 30)
	}
	if !cfg.ChartLibrary {
		t.Error("ChartLibrary = false, want true")
	}
	if !cfg.BannerEnabled {
		t.Error("BannerEnabled = false, want true")
	}
	if err := cfg.Validate(); err != nil {
		t.Errorf("Validate() on defaults = %v, want nil", err)
	}
}

func TestConfig_LoadFromFile(t *testing.T) {
	path := filepath.Join(t.TempDir(), "qct-report.yml")
	content := "port: 9090\nchart_library: false\nbanner_text: Maintenance tonight\nsession_ttl: 30m\n"
	if err := os.WriteFile(path, []byte(content), 0644); err != nil {
		t.Fatalf("Failed to write config: %v", err)
	}

	cfg := NewConfig()
	if err := cfg.LoadFromFile(path); err != nil {
		t.Fatalf("LoadFromFile() error = %v", err)
	}

	if cfg.Port != 9090 {
		t.Errorf("Port = %v, want %v", cfg.Port, 9090)
	}
	if cfg.ChartLibrary {
		t.Error("ChartLibrary = true, want false")
	}
	if cfg.BannerText != "Maintenance tonight" {
		t.Errorf("BannerText = %v, want %v", cfg.BannerText, "Maintenance tonight")
	}
	if cfg.SessionTTL != 30*time.Minute {
		t.Errorf("SessionTTL = %v, want %v", cfg.SessionTTL, 30*time.Minute)
	}
	if cfg.QuickFilterDays != 30 {
		t.Errorf("QuickFilterDays = %v, want default %v", cfg.QuickFilterDays, 30)
	}
}

func TestConfig_LoadFromEnv(t *testing.T) {
	t.Setenv("QCT_CHART_LIBRARY", "false")
	t.Setenv("QCT_BANNER_ENABLED", "false")
	t.Setenv("QCT_DB_PATH", "/tmp/studies.db")
	t.Setenv("QCT_AUDIT_USER", "radiologist")

	cfg := NewConfig()
	cfg.LoadFromEnv()

	if cfg.ChartLibrary {
		t.Error("ChartLibrary = true, want false")
	}
	if cfg.BannerEnabled {
		t.Error("BannerEnabled = true, want false")
	}
	if cfg.DatabasePath != "/tmp/studies.db" {
		t.Errorf("DatabasePath = %v, want %v", cfg.DatabasePath, "/tmp/studies.db")
	}
	if cfg.AuditUser != "radiologist" {
		t.Errorf("AuditUser = %v, want %v", cfg.AuditUser, "radiologist")
	}
}

func TestConfig_Validate(t *testing.T) {
	tests := []struct {
		name    string
		mutate  func(c *Config)
		wantErr bool
	}{
		{name: "defaults", mutate: func(c *Config) {}, wantErr: false},
		{name: "bad port", mutate: func(c *Config) { c.Port = 0 }, wantErr: true},
		{name: "per page too large", mutate: func(c *Config) { c.PerPage = 101 }, wantErr: true},
		{name: "zero window", mutate: func(c *Config) { c.QuickFilterDays = 0 }, wantErr: true},
		{name: "empty audit user", mutate: func(c *Config) { c.AuditUser = "" }, wantErr: true},
		{name: "unknown timezone", mutate: func(c *Config) { c.Timezone = "Mars/Olympus" }, wantErr: true},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			cfg := NewConfig()
			tt.mutate(cfg)
			err := cfg.Validate()
			if (err != nil) != tt.wantErr {
				t.Errorf("Validate() error = %v, wantErr %v", err, tt.wantErr)
			}
		})
	}
}
