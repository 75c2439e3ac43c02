// Package filter implements the page-local "last 30 days" quick filter.
//
// The engine owns no rows. It mutates the visibility of a table it is
// handed and describes, as a Transition, which derived views must be
// refreshed afterwards; the page controller executes those commands.
package filter

import (
	"strings"
	"time"

	"github.com/araddon/dateparse"
	"github.com/lirany1/qct-report/pkg/models"
)

// DefaultWindowDays is the quick filter window
const DefaultWindowDays = 30

// Phase is the state of the quick filter
type Phase int

const (
	// Inactive shows every row
	Inactive Phase = iota
	// Active shows recent rows and rows with unparseable dates
	Active
)

func (p Phase) String() string {
	if p == Active {
		return "active"
	}
	return "inactive"
}

// Command is a view update required after a transition
type Command int

const (
	ApplyVisibility Command = iota
	SyncEmptyState
	RefreshQuality
	RefreshMeta
	SyncTrigger
)

func (c Command) String() string {
	switch c {
	case ApplyVisibility:
		return "apply-visibility"
	case SyncEmptyState:
		return "sync-empty-state"
	case RefreshQuality:
		return "refresh-quality"
	case RefreshMeta:
		return "refresh-meta"
	case SyncTrigger:
		return "sync-trigger"
	default:
		return "unknown"
	}
}

// Visibility must be applied before anything derived from it is refreshed.
var transitionCommands = []Command{
	ApplyVisibility,
	SyncEmptyState,
	RefreshQuality,
	RefreshMeta,
	SyncTrigger,
}

// Transition describes a state change and the view updates it requires
type Transition struct {
	From     Phase
	To       Phase
	Commands []Command
}

// Changed reports whether the phase actually changed
func (t Transition) Changed() bool {
	return t.From != t.To
}

// Engine is the quick filter state machine
type Engine struct {
	state    *models.UIState
	window   int
	now      func() time.Time
	location *time.Location
}

// Option configures an Engine
type Option func(*Engine)

// WithClock overrides the time source
func WithClock(now func() time.Time) Option {
	return func(e *Engine) {
		e.now = now
	}
}

// WithWindowDays overrides the filter window
func WithWindowDays(days int) Option {
	return func(e *Engine) {
		if days > 0 {
			e.window = days
		}
	}
}

// WithLocation sets the zone for dates without an explicit offset
func WithLocation(loc *time.Location) Option {
	return func(e *Engine) {
		if loc != nil {
			e.location = loc
		}
	}
}

// NewEngine creates an engine operating on the given state
func NewEngine(state *models.UIState, opts ...Option) *Engine {
	e := &Engine{
		state:    state,
		window:   DefaultWindowDays,
		now:      time.Now,
		location: time.UTC,
	}
	for _, opt := range opts {
		opt(e)
	}
	return e
}

// Phase returns the current phase
func (e *Engine) Phase() Phase {
	if e.state.QuickLast30 {
		return Active
	}
	return Inactive
}

// Init establishes baseline visibility without changing state
func (e *Engine) Init() Transition {
	phase := e.Phase()
	return e.transition(phase, phase)
}

// Toggle flips the filter between inactive and active
func (e *Engine) Toggle() Transition {
	from := e.Phase()
	e.state.QuickLast30 = !e.state.QuickLast30
	return e.transition(from, e.Phase())
}

// Clear deactivates the filter from any phase
func (e *Engine) Clear() Transition {
	from := e.Phase()
	e.state.QuickLast30 = false
	return e.transition(from, Inactive)
}

func (e *Engine) transition(from, to Phase) Transition {
	commands := make([]Command, len(transitionCommands))
	copy(commands, transitionCommands)
	return Transition{From: from, To: to, Commands: commands}
}

// Cutoff is the oldest date kept while the filter is active
func (e *Engine) Cutoff() time.Time {
	return e.now().AddDate(0, 0, -e.window)
}

// IsVisible decides a single row against the current state. Rows whose
// date cannot be parsed are never hidden.
func (e *Engine) IsVisible(row *models.StudyRow, cutoff time.Time) bool {
	if !e.state.QuickLast30 {
		return true
	}
	date, ok := ParseDate(row.StudyDate, e.location)
	if !ok {
		return true
	}
	return !date.Before(cutoff)
}

// ApplyVisibility updates every tracked row and returns how many stay visible
func (e *Engine) ApplyVisibility(table *models.Table) int {
	if table == nil {
		return 0
	}
	cutoff := e.Cutoff()
	visible := 0
	for _, row := range table.TrackedRows() {
		row.Hidden = !e.IsVisible(row, cutoff)
		if !row.Hidden {
			visible++
		}
	}
	return visible
}

// EmptyStateHidden reports whether the "no results" placeholder stays hidden
func (e *Engine) EmptyStateHidden(visible int) bool {
	return !e.state.QuickLast30 || visible > 0
}

// ParseDate leniently parses a study date
func ParseDate(value string, loc *time.Location) (time.Time, bool) {
	value = strings.TrimSpace(value)
	if value == "" {
		return time.Time{}, false
	}
	t, err := dateparse.ParseIn(value, loc)
	if err != nil {
		return time.Time{}, false
	}
	return t, true
}
