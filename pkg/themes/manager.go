package themes

import (
	"net/http"
	"os"
	"path/filepath"

	"github.com/getgauge/common"
	"github.com/lirany1/qct-report/pkg/config"
	"github.com/lirany1/qct-report/pkg/logger"
)

// Manager resolves the configured theme and its static assets
type Manager struct {
	config *config.Config
}

// NewManager creates a new theme manager
func NewManager(cfg *config.Config) *Manager {
	return &Manager{config: cfg}
}

// AssetsDir returns the assets directory of the configured theme, or ""
// when the theme has none
func (m *Manager) AssetsDir() string {
	assetsPath := filepath.Join(m.themePath(m.config.ThemePath), "assets")
	if info, err := os.Stat(assetsPath); err != nil || !info.IsDir() {
		return ""
	}
	return assetsPath
}

// CopyAssets mirrors the theme assets into the output directory and
// returns the copied files
func (m *Manager) CopyAssets(outputDir string) ([]string, error) {
	assetsPath := m.AssetsDir()
	if assetsPath == "" {
		logger.Debugf("Theme %q has no assets, skipping", m.config.ThemePath)
		return nil, nil
	}

	return common.MirrorDir(assetsPath, outputDir)
}

// Handler serves the theme assets. Without assets every request is a 404.
func (m *Manager) Handler() http.Handler {
	assetsPath := m.AssetsDir()
	if assetsPath == "" {
		return http.NotFoundHandler()
	}
	return http.FileServer(http.Dir(assetsPath))
}

// themePath returns the full path to a theme
func (m *Manager) themePath(themeName string) string {
	if filepath.IsAbs(themeName) {
		return themeName
	}

	// A relative directory wins over a theme name
	if info, err := os.Stat(themeName); err == nil && info.IsDir() && filepath.Base(themeName) != themeName {
		return themeName
	}

	return filepath.Join("themes", themeName)
}
