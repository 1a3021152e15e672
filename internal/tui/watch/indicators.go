package watch

import (
	"strings"
	"time"
)

const (
	pulseDots = 5
	pulseStep = 2 * time.Second
)

// Ticker alternates its glyph on every UI tick, so a frozen glyph means
// the dashboard itself has stalled.
type Ticker struct {
	odd bool
}

func NewTicker() Ticker { return Ticker{} }

func (t *Ticker) Tick() { t.odd = !t.odd }

func (t Ticker) Current() string {
	if t.odd {
		return "⟳"
	}
	return "⟲"
}

// Spinner is an activity meter: every event lights all dots and one dot
// goes dark per pulseStep of silence.
type Spinner struct {
	dots      int
	lastEvent time.Time
}

func NewSpinner() Spinner { return Spinner{} }

func (s *Spinner) OnEvent() {
	s.lastEvent = time.Now()
	s.dots = pulseDots
}

// Decay recomputes the lit dots from the time since the last event.
func (s *Spinner) Decay() {
	if s.lastEvent.IsZero() {
		return
	}
	s.dots = max(0, pulseDots-int(time.Since(s.lastEvent)/pulseStep))
}

func (s Spinner) Render(theme Theme) string {
	var b strings.Builder
	for i := 0; i < pulseDots; i++ {
		if i < s.dots {
			b.WriteString(theme.TickerActive.Render("●"))
			continue
		}
		b.WriteString(theme.TickerInactive.Render("○"))
	}
	return b.String()
}

func (s Spinner) LastEvent() time.Time { return s.lastEvent }
