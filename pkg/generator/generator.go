package generator

import (
	"bytes"
	"errors"
	"fmt"
	"os"
	"path/filepath"
	"sync"
	"time"

	"github.com/lirany1/qct-report/pkg/charts"
	"github.com/lirany1/qct-report/pkg/config"
	"github.com/lirany1/qct-report/pkg/export"
	"github.com/lirany1/qct-report/pkg/logger"
	"github.com/lirany1/qct-report/pkg/markup"
	"github.com/lirany1/qct-report/pkg/models"
	"github.com/lirany1/qct-report/pkg/page"
	"github.com/lirany1/qct-report/pkg/renderer"
	"github.com/lirany1/qct-report/pkg/themes"
	"github.com/natefinch/atomic"
)

// Options controls an offline render
type Options struct {
	// Query holds the URL query the page was captured with
	Query models.Query
	// QuickFilter activates the last 30 days filter before writing
	QuickFilter bool
	// Formats lists the export formats written next to the page
	Formats []string
}

// Generator renders saved studies pages offline
type Generator struct {
	config   *config.Config
	renderer *renderer.Renderer
	themes   *themes.Manager
	now      func() time.Time
}

// NewGenerator creates a new offline generator
func NewGenerator(cfg *config.Config) *Generator {
	return &Generator{
		config:   cfg,
		renderer: renderer.NewRenderer(cfg),
		themes:   themes.NewManager(cfg),
		now:      time.Now,
	}
}

// GenerateFromFile reads a saved page and renders it into outputDir
func (g *Generator) GenerateFromFile(inputFile, outputDir string, opts Options) error {
	logger.Infof("Reading studies page from %s", inputFile)

	doc, err := markup.ParseFile(inputFile, opts.Query)
	if err != nil {
		return fmt.Errorf("failed to read input file: %w", err)
	}

	return g.Generate(doc, outputDir, opts)
}

// Generate runs the page-ready sequence on doc and writes the projected page
// and its exports
func (g *Generator) Generate(doc *page.Document, outputDir string, opts Options) error {
	startTime := g.now()
	logger.Info("Starting studies page generation...")

	if err := os.MkdirAll(outputDir, 0755); err != nil {
		return fmt.Errorf("failed to create output directory: %w", err)
	}

	logger.Info("Copying theme assets...")
	if _, err := g.themes.CopyAssets(outputDir); err != nil {
		return fmt.Errorf("failed to copy theme assets: %w", err)
	}

	controller := page.NewController(doc, charts.Select(g.config.ChartLibrary),
		page.WithClock(g.now),
		page.WithWindowDays(g.config.QuickFilterDays),
		page.WithLocation(g.config.Location()),
	)

	if err := controller.Ready(); err != nil {
		logger.Warnf("Page initialized with errors: %v", err)
	}

	if opts.QuickFilter {
		if _, ok := controller.ToggleQuickFilter(); !ok {
			logger.Warnf("Page has no quick filter, rendering all rows")
		}
	}

	logger.Info("Rendering HTML page...")
	if err := g.renderIndex(doc, outputDir); err != nil {
		return fmt.Errorf("failed to render page: %w", err)
	}

	if len(opts.Formats) > 0 {
		logger.Info("Exporting visible studies...")
		if err := g.exportToFormats(controller, outputDir, opts.Formats); err != nil {
			logger.Warnf("Failed to export to some formats: %v", err)
		}
	}

	logger.Infof("✓ Page generated successfully in %v", g.now().Sub(startTime))
	logger.Infof("Open: file://%s/index.html", outputDir)

	return nil
}

func (g *Generator) renderIndex(doc *page.Document, outputDir string) error {
	var buf bytes.Buffer
	view := renderer.StudiesView{
		Doc:        doc,
		ExportHref: export.FileName(g.now(), export.FormatCSV),
	}
	if err := g.renderer.RenderStudies(&buf, view); err != nil {
		return err
	}
	return atomic.WriteFile(filepath.Join(outputDir, "index.html"), &buf)
}

// exportToFormats writes one export file per format. Every format is
// attempted and write failures are joined.
func (g *Generator) exportToFormats(c *page.Controller, outputDir string, formats []string) error {
	if !c.Exportable() {
		return page.ErrExportUnavailable
	}

	// The controller is single-threaded; only the writes run in parallel
	files := make(map[string]*bytes.Buffer, len(formats))
	for _, format := range formats {
		var buf bytes.Buffer
		if err := c.Export(&buf, format); err != nil {
			logger.Warnf("Failed to export to %s: %v", format, err)
			continue
		}
		files[export.FileName(g.now(), format)] = &buf
	}

	var wg sync.WaitGroup
	errs := make(chan error, len(files))
	for name, buf := range files {
		wg.Add(1)
		go func(name string, buf *bytes.Buffer) {
			defer wg.Done()
			if err := atomic.WriteFile(filepath.Join(outputDir, name), buf); err != nil {
				errs <- fmt.Errorf("write %s: %w", name, err)
				return
			}
			logger.Infof("Exported %s", name)
		}(name, buf)
	}

	wg.Wait()
	close(errs)

	var all []error
	for err := range errs {
		all = append(all, err)
	}
	return errors.Join(all...)
}
