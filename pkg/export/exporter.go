package export

import (
	"encoding/json"
	"fmt"
	"io"
	"net/http"
	"os"
	"strings"
	"time"

	"github.com/lirany1/qct-report/pkg/logger"
	"github.com/lirany1/qct-report/pkg/models"
)

// Supported export formats
const (
	FormatCSV  = "csv"
	FormatJSON = "json"
)

// Exporter serializes the currently visible studies
type Exporter struct {
	now     func() time.Time
	tempDir string
}

// Option configures an Exporter
type Option func(*Exporter)

// WithClock overrides the time source used for file names
func WithClock(now func() time.Time) Option {
	return func(e *Exporter) {
		e.now = now
	}
}

// WithTempDir sets where download files are staged
func WithTempDir(dir string) Option {
	return func(e *Exporter) {
		e.tempDir = dir
	}
}

// NewExporter creates a new exporter
func NewExporter(opts ...Option) *Exporter {
	e := &Exporter{now: time.Now}
	for _, opt := range opts {
		opt(e)
	}
	return e
}

// Export writes the visible rows of the table in the given format
func (e *Exporter) Export(w io.Writer, table *models.Table, format string) error {
	switch format {
	case FormatCSV:
		return WriteCSV(w, table)
	case FormatJSON:
		return WriteJSON(w, table)
	default:
		return fmt.Errorf("unsupported export format %q", format)
	}
}

// FileName returns the download name for the given instant
func (e *Exporter) FileName(format string) string {
	return FileName(e.now(), format)
}

// FileName builds studies_export_<YYYY-MM-DD>.<ext> using the UTC date
func FileName(now time.Time, format string) string {
	return fmt.Sprintf("studies_export_%s.%s", now.UTC().Format("2006-01-02"), format)
}

// WriteCSV writes headers and visible rows, quoting every field
func WriteCSV(w io.Writer, table *models.Table) error {
	_, err := io.WriteString(w, CSV(table))
	return err
}

// CSV renders the header row and the visible body rows. Every field is
// quoted; rows are joined by a single newline.
func CSV(table *models.Table) string {
	if table == nil {
		return ""
	}
	lines := make([]string, 0, len(table.Rows)+1)
	lines = append(lines, csvLine(table.Headers))
	for _, row := range table.VisibleRows() {
		lines = append(lines, csvLine(row.Cells))
	}
	return strings.Join(lines, "\n")
}

func csvLine(fields []string) string {
	quoted := make([]string, len(fields))
	for i, f := range fields {
		quoted[i] = EscapeField(f)
	}
	return strings.Join(quoted, ",")
}

// EscapeField normalizes whitespace and wraps the value in double quotes
func EscapeField(value string) string {
	return `"` + strings.ReplaceAll(Normalize(value), `"`, `""`) + `"`
}

// Normalize trims the value and collapses whitespace runs to one space
func Normalize(value string) string {
	return strings.Join(strings.Fields(value), " ")
}

// WriteJSON writes visible rows as objects keyed by header
func WriteJSON(w io.Writer, table *models.Table) error {
	records := make([]map[string]string, 0)
	if table != nil {
		for _, row := range table.VisibleRows() {
			record := make(map[string]string, len(row.Cells))
			for i, cell := range row.Cells {
				key := fmt.Sprintf("column_%d", i+1)
				if i < len(table.Headers) && Normalize(table.Headers[i]) != "" {
					key = Normalize(table.Headers[i])
				}
				record[key] = Normalize(cell)
			}
			records = append(records, record)
		}
	}

	enc := json.NewEncoder(w)
	enc.SetIndent("", "  ")
	return enc.Encode(records)
}

// Download stages the CSV in a temporary file, streams it as an attachment
// and removes the file afterwards whatever the client did with it.
func (e *Exporter) Download(w http.ResponseWriter, r *http.Request, table *models.Table) error {
	f, err := os.CreateTemp(e.tempDir, "studies_export_*.csv")
	if err != nil {
		return fmt.Errorf("failed to stage export: %w", err)
	}
	defer release(f)

	if err := WriteCSV(f, table); err != nil {
		return fmt.Errorf("failed to write export: %w", err)
	}
	if _, err := f.Seek(0, io.SeekStart); err != nil {
		return fmt.Errorf("failed to rewind export: %w", err)
	}

	now := e.now()
	name := FileName(now, FormatCSV)
	w.Header().Set("Content-Type", "text/csv;charset=utf-8")
	w.Header().Set("Content-Disposition", fmt.Sprintf(`attachment; filename="%s"`, name))
	http.ServeContent(w, r, name, now, f)
	return nil
}

// release closes and removes a staged export file, logging each failure
func release(f *os.File) {
	if err := f.Close(); err != nil {
		logger.Warnf("Failed to close export file %s: %v", f.Name(), err)
	}
	if err := os.Remove(f.Name()); err != nil {
		logger.Warnf("Failed to release export file %s: %v", f.Name(), err)
	}
}
