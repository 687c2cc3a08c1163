// Package render draws a highlight snapshot for a terminal.
package render

import (
	"fmt"
	"strings"

	"github.com/charmbracelet/lipgloss"
	"github.com/loqalabs/loqa-highlight/internal/controller"
)

var (
	ColorSpoken  = lipgloss.Color("#FFFFFF")
	ColorCurrent = lipgloss.Color("#5096FF")
	ColorPending = lipgloss.Color("#666666")
	ColorError   = lipgloss.Color("#FF0000")
)

// Class is how a token is drawn.
type Class int

const (
	Pending Class = iota
	Spoken
	Current
)

// Classify places token index i relative to the speech cursor.
func Classify(i int, snap controller.Snapshot) Class {
	switch {
	case i == snap.CurrentlySpeaking:
		return Current
	case i <= snap.LastSpoken:
		return Spoken
	default:
		return Pending
	}
}

type Renderer struct {
	Spoken  lipgloss.Style
	Current lipgloss.Style
	Pending lipgloss.Style
	Status  lipgloss.Style
	Error   lipgloss.Style
}

func New() *Renderer {
	return &Renderer{
		Spoken:  lipgloss.NewStyle().Foreground(ColorSpoken),
		Current: lipgloss.NewStyle().Foreground(ColorCurrent).Bold(true),
		Pending: lipgloss.NewStyle().Foreground(ColorPending).Faint(true),
		Status:  lipgloss.NewStyle().Foreground(ColorPending),
		Error:   lipgloss.NewStyle().Foreground(ColorError).Bold(true),
	}
}

// Transcript renders every token with the style of its class.
func (r *Renderer) Transcript(snap controller.Snapshot) string {
	var b strings.Builder
	for _, tok := range snap.Tokens {
		switch Classify(tok.Index, snap) {
		case Current:
			b.WriteString(r.Current.Render(tok.Text))
		case Spoken:
			b.WriteString(r.Spoken.Render(tok.Text))
		default:
			b.WriteString(r.Pending.Render(tok.Text))
		}
	}
	return b.String()
}

// StatusLine summarizes the session state.
func (r *Renderer) StatusLine(snap controller.Snapshot) string {
	if snap.Error != "" {
		return r.Error.Render("error: " + snap.Error)
	}
	state := snap.State
	if snap.Speaking {
		state = "speaking"
	}
	return r.Status.Render(fmt.Sprintf("[%s] %d/%d tokens spoken", state, snap.LastSpoken+1, len(snap.Tokens)))
}
