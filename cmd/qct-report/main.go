package main

import (
	"bytes"
	"context"
	"fmt"
	"net/url"
	"os"
	"os/signal"
	"syscall"
	"time"

	"github.com/lirany1/qct-report/pkg/charts"
	"github.com/lirany1/qct-report/pkg/config"
	"github.com/lirany1/qct-report/pkg/export"
	"github.com/lirany1/qct-report/pkg/generator"
	"github.com/lirany1/qct-report/pkg/logger"
	"github.com/lirany1/qct-report/pkg/models"
	"github.com/lirany1/qct-report/pkg/page"
	"github.com/lirany1/qct-report/pkg/server"
	"github.com/lirany1/qct-report/pkg/storage"
	"github.com/natefinch/atomic"
	"github.com/spf13/cobra"
)

var (
	version = "1.0.0"
	commit  = "dev"
	date    = "unknown"
)

func main() {
	var rootCmd = &cobra.Command{
		Use:   "qct-report",
		Short: "qCT studies dashboard and report generator",
		Long: `qCT studies dashboard

Serves the overview and studies pages from a SQLite database, renders saved
studies pages offline and exports the visible studies to CSV or JSON.`,
		Version:       fmt.Sprintf("%s (commit: %s, built: %s)", version, commit, date),
		SilenceUsage:  true,
		SilenceErrors: true,
	}
	rootCmd.PersistentFlags().StringP("config", "c", "", "Path to configuration file")
	rootCmd.PersistentFlags().String("db", "", "SQLite database path")
	rootCmd.PersistentFlags().Bool("chart-library", true, "Render charts with the chart library instead of the fallback")
	rootCmd.PersistentFlags().String("log-level", "", "Log level (debug, info, warn, error)")

	// Serve command
	var serveCmd = &cobra.Command{
		Use:   "serve",
		Short: "Start the dashboard server",
		Long:  "Serve the overview and studies pages with live quick filter and CSV export.",
		RunE:  runServe,
	}
	serveCmd.Flags().IntP("port", "p", 8080, "Port to run server on")
	serveCmd.Flags().StringP("host", "H", "localhost", "Host to bind server to")

	// Render command
	var renderCmd = &cobra.Command{
		Use:   "render",
		Short: "Render a saved studies page offline",
		Long:  "Read a saved studies page, run the page-ready sequence and write the result with its exports.",
		RunE:  runRender,
	}
	renderCmd.Flags().StringP("input", "i", "", "Saved studies page (required)")
	renderCmd.Flags().StringP("output", "o", "", "Output directory (required)")
	renderCmd.Flags().Bool("quick-filter", false, "Apply the recent-studies quick filter before writing")
	renderCmd.Flags().StringSliceP("formats", "f", []string{export.FormatCSV}, "Export formats (csv, json)")
	renderCmd.Flags().StringP("query", "q", "", "URL query the page was captured with, e.g. status=ready&risk=high")

	// Export command
	var exportCmd = &cobra.Command{
		Use:   "export",
		Short: "Export studies from the database",
		Long:  "Export the studies matching the filters, optionally limited to the quick filter window.",
		RunE:  runExport,
	}
	exportCmd.Flags().StringP("output", "o", "", "Output file, - for stdout (default: dated file name)")
	exportCmd.Flags().StringP("format", "f", export.FormatCSV, "Export format (csv, json)")
	exportCmd.Flags().StringP("query", "q", "", "Study filters as a URL query, e.g. status=ready&risk=high")
	exportCmd.Flags().Bool("quick-filter", false, "Only export studies inside the quick filter window (quick_filter_days)")

	// Seed command
	var seedCmd = &cobra.Command{
		Use:   "seed",
		Short: "Fill the database with demo studies",
		RunE:  runSeed,
	}
	seedCmd.Flags().Int("patients", 5, "Patients per site")
	seedCmd.Flags().Int64("seed", 42, "Random seed")

	rootCmd.AddCommand(serveCmd, renderCmd, exportCmd, seedCmd)

	if err := rootCmd.Execute(); err != nil {
		logger.Error(err)
		os.Exit(1)
	}
}

// loadConfig reads the config file, the environment, then command-line flags
func loadConfig(cmd *cobra.Command) (*config.Config, error) {
	configFile, _ := cmd.Flags().GetString("config")

	var cfg *config.Config
	if configFile != "" {
		cfg = config.NewConfig()
		if err := cfg.LoadFromFile(configFile); err != nil {
			return nil, fmt.Errorf("failed to load config: %w", err)
		}
		cfg.LoadFromEnv()
		if err := cfg.Validate(); err != nil {
			return nil, err
		}
	} else {
		var err error
		if cfg, err = config.LoadConfig(); err != nil {
			return nil, fmt.Errorf("failed to load config: %w", err)
		}
	}

	if cmd.Flags().Changed("db") {
		cfg.DatabasePath, _ = cmd.Flags().GetString("db")
	}
	if cmd.Flags().Changed("chart-library") {
		cfg.ChartLibrary, _ = cmd.Flags().GetBool("chart-library")
	}
	if cmd.Flags().Changed("log-level") {
		cfg.LogLevel, _ = cmd.Flags().GetString("log-level")
	}
	logger.SetLevel(cfg.LogLevel)

	return cfg, nil
}

func parseQuery(raw string) (models.Query, error) {
	values, err := url.ParseQuery(raw)
	if err != nil {
		return models.Query{}, fmt.Errorf("invalid query %q: %w", raw, err)
	}
	return models.QueryFromValues(values), nil
}

func runServe(cmd *cobra.Command, args []string) error {
	cfg, err := loadConfig(cmd)
	if err != nil {
		return err
	}
	if cmd.Flags().Changed("port") {
		cfg.Port, _ = cmd.Flags().GetInt("port")
	}
	if cmd.Flags().Changed("host") {
		cfg.Host, _ = cmd.Flags().GetString("host")
	}

	db, err := storage.NewDatabase(cfg.DatabasePath)
	if err != nil {
		return fmt.Errorf("failed to open database: %w", err)
	}
	defer db.Close()

	logger.Infof("Starting dashboard on %s:%d", cfg.Host, cfg.Port)
	logger.Infof("Database: %s", cfg.DatabasePath)

	ctx, stop := signal.NotifyContext(context.Background(), os.Interrupt, syscall.SIGTERM)
	defer stop()

	return server.NewServer(cfg, db).Start(ctx)
}

func runRender(cmd *cobra.Command, args []string) error {
	inputFile, _ := cmd.Flags().GetString("input")
	outputDir, _ := cmd.Flags().GetString("output")
	quick, _ := cmd.Flags().GetBool("quick-filter")
	formats, _ := cmd.Flags().GetStringSlice("formats")
	rawQuery, _ := cmd.Flags().GetString("query")

	if inputFile == "" || outputDir == "" {
		return fmt.Errorf("both --input and --output flags are required")
	}

	cfg, err := loadConfig(cmd)
	if err != nil {
		return err
	}
	query, err := parseQuery(rawQuery)
	if err != nil {
		return err
	}

	logger.Infof("Input: %s", inputFile)
	logger.Infof("Output: %s", outputDir)

	gen := generator.NewGenerator(cfg)
	opts := generator.Options{Query: query, QuickFilter: quick, Formats: formats}
	if err := gen.GenerateFromFile(inputFile, outputDir, opts); err != nil {
		return fmt.Errorf("failed to render page: %w", err)
	}
	return nil
}

func runExport(cmd *cobra.Command, args []string) error {
	output, _ := cmd.Flags().GetString("output")
	format, _ := cmd.Flags().GetString("format")
	rawQuery, _ := cmd.Flags().GetString("query")
	quick, _ := cmd.Flags().GetBool("quick-filter")

	cfg, err := loadConfig(cmd)
	if err != nil {
		return err
	}
	query, err := parseQuery(rawQuery)
	if err != nil {
		return err
	}

	db, err := storage.NewDatabase(cfg.DatabasePath)
	if err != nil {
		return fmt.Errorf("failed to open database: %w", err)
	}
	defer db.Close()

	studies, err := db.ListStudies(models.StudyFilter{Status: query.Status, Risk: query.Risk, Search: query.Q}, 0, 0)
	if err != nil {
		return fmt.Errorf("failed to list studies: %w", err)
	}

	doc := page.NewStudiesDocument(cfg.AppName+" | Studies", studies, query, cfg.AllowPHI, cfg.QuickFilterDays)
	c := page.NewController(doc, charts.Select(cfg.ChartLibrary),
		page.WithWindowDays(cfg.QuickFilterDays),
		page.WithLocation(cfg.Location()),
	)
	if err := c.Ready(); err != nil {
		logger.Warnf("Page initialized with errors: %v", err)
	}
	if quick {
		c.ToggleQuickFilter()
	}

	var buf bytes.Buffer
	if err := c.Export(&buf, format); err != nil {
		return fmt.Errorf("failed to export: %w", err)
	}

	if output == "-" {
		_, err := buf.WriteTo(os.Stdout)
		return err
	}
	if output == "" {
		output = c.Exporter().FileName(format)
	}
	if err := atomic.WriteFile(output, &buf); err != nil {
		return fmt.Errorf("failed to write %s: %w", output, err)
	}

	logger.Infof("✓ Exported %d studies to %s", len(doc.Table.VisibleRows()), output)
	return nil
}

func runSeed(cmd *cobra.Command, args []string) error {
	patients, _ := cmd.Flags().GetInt("patients")
	seed, _ := cmd.Flags().GetInt64("seed")

	cfg, err := loadConfig(cmd)
	if err != nil {
		return err
	}

	db, err := storage.NewDatabase(cfg.DatabasePath)
	if err != nil {
		return fmt.Errorf("failed to open database: %w", err)
	}
	defer db.Close()

	start := time.Now()
	count, err := db.Seed(storage.SeedOptions{PatientsPerSite: patients, Seed: seed, Now: start})
	if err != nil {
		return fmt.Errorf("failed to seed database: %w", err)
	}

	logger.Infof("✓ Seeded %d studies into %s in %v", count, cfg.DatabasePath, time.Since(start))
	return nil
}
