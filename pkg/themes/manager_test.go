package themes

import (
	"net/http/httptest"
	"os"
	"path/filepath"
	"testing"

	"github.com/lirany1/qct-report/pkg/config"
)

func writeTheme(t *testing.T) string {
	t.Helper()
	theme := t.TempDir()
	css := filepath.Join(theme, "assets", "static", "css")
	if err := os.MkdirAll(css, 0755); err != nil {
		t.Fatal(err)
	}
	if err := os.WriteFile(filepath.Join(css, "main.css"), []byte("body{}"), 0644); err != nil {
		t.Fatal(err)
	}
	return theme
}

func TestManager_CopyAssets(t *testing.T) {
	cfg := config.NewConfig()
	cfg.ThemePath = writeTheme(t)
	out := t.TempDir()

	if _, err := NewManager(cfg).CopyAssets(out); err != nil {
		t.Fatalf("CopyAssets() error = %v", err)
	}

	data, err := os.ReadFile(filepath.Join(out, "static", "css", "main.css"))
	if err != nil {
		t.Fatalf("asset not mirrored: %v", err)
	}
	if string(data) != "body{}" {
		t.Errorf("main.css = %q, want %q", data, "body{}")
	}
}

func TestManager_MissingTheme(t *testing.T) {
	cfg := config.NewConfig()
	cfg.ThemePath = filepath.Join(t.TempDir(), "nope")
	m := NewManager(cfg)

	if m.AssetsDir() != "" {
		t.Errorf("AssetsDir() = %v, want empty", m.AssetsDir())
	}
	files, err := m.CopyAssets(t.TempDir())
	if err != nil || len(files) != 0 {
		t.Errorf("CopyAssets() = %v, %v", files, err)
	}

	rec := httptest.NewRecorder()
	m.Handler().ServeHTTP(rec, httptest.NewRequest("GET", "/static/css/main.css", nil))
	if rec.Code != 404 {
		t.Errorf("Handler() status = %v, want 404", rec.Code)
	}
}

func TestManager_Handler(t *testing.T) {
	cfg := config.NewConfig()
	cfg.ThemePath = writeTheme(t)

	rec := httptest.NewRecorder()
	NewManager(cfg).Handler().ServeHTTP(rec, httptest.NewRequest("GET", "/static/css/main.css", nil))
	if rec.Code != 200 || rec.Body.String() != "body{}" {
		t.Errorf("Handler() = %v %q", rec.Code, rec.Body.String())
	}
}
