package progress

import (
	"fmt"
	"io"
	"sync"
	"time"

	"github.com/briandowns/spinner"
	"github.com/mattn/go-runewidth"
)

// Spinner renders progress on a terminal line. It is the display used when
// the caller supplies no callbacks of its own.
type Spinner struct {
	mu    sync.Mutex
	s     *spinner.Spinner
	files int
	last  string
}

func NewSpinner(w io.Writer) *Spinner {
	s := spinner.New(spinner.CharSets[9], 100*time.Millisecond, spinner.WithWriter(w))
	s.Suffix = " starting"
	return &Spinner{s: s}
}

func (sp *Spinner) Start() { sp.s.Start() }

// Stop clears the spinner line and prints a final message.
func (sp *Spinner) Stop(final string) {
	sp.s.FinalMSG = final
	sp.s.Stop()
}

// OnFile is a FileFunc.
func (sp *Spinner) OnFile(filename, _ string) {
	sp.mu.Lock()
	defer sp.mu.Unlock()
	sp.files++
	sp.last = runewidth.Truncate(filename, 48, "...")
}

// OnTotal is a TotalFunc.
func (sp *Spinner) OnTotal(ev Event) {
	sp.mu.Lock()
	defer sp.mu.Unlock()
	sp.s.Lock()
	sp.s.Suffix = " " + FormatEvent(ev, sp.last)
	sp.s.Unlock()
}

// FormatEvent renders an event as a single status line.
func FormatEvent(ev Event, lastFile string) string {
	count := fmt.Sprintf("%d", ev.Current)
	if ev.Total > 0 {
		count = fmt.Sprintf("%d/%d", ev.Current, ev.Total)
	}
	line := fmt.Sprintf("[%s] %s saved", ev.Stage, count)
	if ev.Rate > 0 {
		line += fmt.Sprintf(" (%.2f/s)", ev.Rate)
	}
	if ev.Status != "" {
		line += " " + runewidth.Truncate(ev.Status, 60, "...")
	}
	if lastFile != "" {
		line += " | " + lastFile
	}
	return line
}
