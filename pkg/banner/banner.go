package banner

// Banner is the page notice element and its static attributes
type Banner struct {
	// EnabledAttr is the raw data-banner-enabled value
	EnabledAttr string
	// TextAttr is the raw data-banner-text value
	TextAttr string

	Text   string
	Hidden bool
}

// New builds a banner from configuration values
func New(enabled bool, text, defaultText string) *Banner {
	attr := "true"
	if !enabled {
		attr = "false"
	}
	return &Banner{EnabledAttr: attr, TextAttr: text, Text: defaultText}
}

// Enabled is true unless the attribute is exactly "false"
func (b *Banner) Enabled() bool {
	return b.EnabledAttr != "false"
}

// Apply reflects the attributes onto the banner. A nil banner is ignored.
func Apply(b *Banner) {
	if b == nil {
		return
	}
	if !b.Enabled() {
		b.Hidden = true
		return
	}
	if b.TextAttr != "" {
		b.Text = b.TextAttr
	}
}
