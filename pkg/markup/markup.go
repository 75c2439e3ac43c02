// Package markup reads a server-rendered studies page into a page.Document.
package markup

import (
	"encoding/json"
	"fmt"
	"io"
	"os"
	"strings"

	"github.com/PuerkitoBio/goquery"
	"github.com/lirany1/qct-report/pkg/banner"
	"github.com/lirany1/qct-report/pkg/charts"
	"github.com/lirany1/qct-report/pkg/models"
	"github.com/lirany1/qct-report/pkg/page"
)

const (
	snapshotScriptID = "qct-data"
	snapshotGlobal   = "window.QCT_DATA"
	hiddenClass      = "is-hidden"
)

// ParseFile reads a saved page from disk
func ParseFile(path string, query models.Query) (*page.Document, error) {
	f, err := os.Open(path)
	if err != nil {
		return nil, fmt.Errorf("failed to open page: %w", err)
	}
	defer f.Close()

	return Parse(f, query)
}

// Parse builds a document from HTML. Elements the page does not carry stay
// nil so the features depending on them are skipped.
func Parse(r io.Reader, query models.Query) (*page.Document, error) {
	doc, err := goquery.NewDocumentFromReader(r)
	if err != nil {
		return nil, fmt.Errorf("parse page HTML: %w", err)
	}

	snapshot, err := parseSnapshot(doc)
	if err != nil {
		return nil, err
	}

	d := page.NewDocument()
	d.Title = strings.TrimSpace(doc.Find("title").First().Text())
	d.Query = query
	d.Snapshot = snapshot
	d.Table = parseTable(doc)
	d.Banner = parseBanner(doc)
	d.Charts = charts.Mounts{
		Risk:           parseMount(doc, page.RiskChartID),
		RiskFallback:   parseMount(doc, page.RiskFallbackID),
		Volume:         parseMount(doc, page.VolumeChartID),
		VolumeFallback: parseMount(doc, page.VolumeFallbackID),
	}

	for _, id := range page.TextElementIDs {
		sel := byID(doc, id)
		if sel.Length() == 0 {
			continue
		}
		el := d.AddElement(id, strings.TrimSpace(sel.Text()))
		el.Hidden = isHidden(sel)
	}

	d.QuickFilter = parseTrigger(doc, `[data-quick-filter="last30"]`)
	d.ClearQuickFilter = parseTrigger(doc, "[data-clear-quick-filter]")
	d.Export = parseTrigger(doc, `[data-export="studies"]`)

	return d, nil
}

func parseTable(doc *goquery.Document) *models.Table {
	sel := doc.Find("table.table").First()
	if sel.Length() == 0 {
		return nil
	}

	table := &models.Table{}
	sel.Find("thead th").Each(func(_ int, th *goquery.Selection) {
		table.Headers = append(table.Headers, strings.TrimSpace(th.Text()))
	})

	sel.Find("tbody tr").Each(func(i int, tr *goquery.Selection) {
		row := &models.StudyRow{
			ID:         attr(tr, "data-study-id"),
			HasImage:   attr(tr, "data-has-image") == "true",
			HasSummary: attr(tr, "data-has-summary") == "true",
			Hidden:     isHidden(tr),
		}
		if row.ID == "" {
			row.ID = fmt.Sprintf("row-%d", i+1)
		}
		row.StudyDate, row.Tracked = tr.Attr("data-study-date")
		tr.Find("td").Each(func(_ int, td *goquery.Selection) {
			row.Cells = append(row.Cells, td.Text())
		})
		table.Rows = append(table.Rows, row)
	})

	return table
}

// parseSnapshot reads the chart data from a JSON script block or from a
// "window.QCT_DATA = {...};" assignment
func parseSnapshot(doc *goquery.Document) (*models.Snapshot, error) {
	var raw string
	if sel := byID(doc, snapshotScriptID); sel.Length() > 0 {
		raw = sel.Text()
	} else {
		doc.Find("script").EachWithBreak(func(_ int, s *goquery.Selection) bool {
			text := strings.TrimSpace(s.Text())
			idx := strings.Index(text, snapshotGlobal)
			if idx < 0 {
				return true
			}
			rest := strings.TrimSpace(text[idx+len(snapshotGlobal):])
			if !strings.HasPrefix(rest, "=") {
				return true
			}
			raw = strings.TrimSuffix(strings.TrimSpace(rest[1:]), ";")
			return false
		})
	}

	raw = strings.TrimSpace(raw)
	if raw == "" {
		return nil, nil
	}

	var snapshot models.Snapshot
	if err := json.Unmarshal([]byte(raw), &snapshot); err != nil {
		return nil, fmt.Errorf("invalid chart data: %w", err)
	}
	return &snapshot, nil
}

func parseBanner(doc *goquery.Document) *banner.Banner {
	sel := doc.Find(".banner").First()
	if sel.Length() == 0 {
		return nil
	}
	return &banner.Banner{
		EnabledAttr: attr(sel, "data-banner-enabled"),
		TextAttr:    attr(sel, "data-banner-text"),
		Text:        strings.TrimSpace(sel.Text()),
		Hidden:      isHidden(sel),
	}
}

func parseMount(doc *goquery.Document, id string) *charts.Mount {
	sel := byID(doc, id)
	if sel.Length() == 0 {
		return nil
	}
	return &charts.Mount{ID: id, Hidden: isHidden(sel)}
}

func parseTrigger(doc *goquery.Document, selector string) *page.Trigger {
	sel := doc.Find(selector).First()
	if sel.Length() == 0 {
		return nil
	}
	return &page.Trigger{
		Label:  strings.TrimSpace(sel.Text()),
		Active: sel.HasClass("active"),
	}
}

func byID(doc *goquery.Document, id string) *goquery.Selection {
	return doc.Find("#" + id).First()
}

func attr(sel *goquery.Selection, name string) string {
	v, _ := sel.Attr(name)
	return v
}

func isHidden(sel *goquery.Selection) bool {
	if sel.HasClass(hiddenClass) {
		return true
	}
	style := strings.ReplaceAll(attr(sel, "style"), " ", "")
	return strings.Contains(style, "display:none")
}
