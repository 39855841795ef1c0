package formatter

import (
	"fmt"
	"io"
	"strings"

	"github.com/charmbracelet/lipgloss"
	"github.com/desertthunder/crowdspot/internal/models"
	"github.com/desertthunder/crowdspot/internal/shared"
)

// DefaultPalette is the terminal color scheme.
var DefaultPalette = NewPalette("#1DB954", "#04B575", "#FF0000", "#FFA500", "#626262")

// Palette is a simple stylesheet built with named [lipgloss.Style] fields
type Palette struct {
	title lipgloss.Style
	ok    lipgloss.Style
	err   lipgloss.Style
	warn  lipgloss.Style
	help  lipgloss.Style
}

func NewPalette(t, s, e, w, h string) *Palette {
	return &Palette{
		title: NewBold(t).MarginBottom(1),
		ok:    NewBold(s),
		err:   NewBold(e),
		warn:  NewStyle(w),
		help:  NewEm(h),
	}
}

func NewStyle(fg string) lipgloss.Style {
	return lipgloss.NewStyle().Foreground(lipgloss.Color(fg))
}

func NewBold(fg string) lipgloss.Style {
	return NewStyle(fg).Bold(true)
}

func NewEm(fg string) lipgloss.Style {
	return NewStyle(fg).Italic(true)
}

func (p *Palette) Title(s string) string { return p.title.Render(s) }
func (p *Palette) OK(s string) string    { return p.ok.Render(s) }
func (p *Palette) Err(s string) string   { return p.err.Render(s) }
func (p *Palette) Warn(s string) string  { return p.warn.Render(s) }
func (p *Palette) Help(s string) string  { return p.help.Render(s) }

// kindMarker distinguishes items the user can open from items they can play.
func kindMarker(k models.Kind) string {
	switch k {
	case models.KindCollection:
		return "»"
	case models.KindContainer:
		return "▸"
	default:
		return "♪"
	}
}

// RenderListing writes a styled, numbered listing to w.
//
// Each row shows the kind marker, the item, its duration and a heart for liked tracks;
// the id is printed dimmed so it can be passed back to drill-down commands.
func (p *Palette) RenderListing(w io.Writer, l *Listing) error {
	var b strings.Builder

	b.WriteString(p.Title(l.Title))
	b.WriteByte('\n')

	if len(l.Items) == 0 {
		b.WriteString(p.Help("No items."))
		b.WriteByte('\n')
		_, err := io.WriteString(w, b.String())
		return err
	}

	width := len(fmt.Sprint(len(l.Items)))
	for i, item := range l.Items {
		fmt.Fprintf(&b, "%*d. %s %s", width, i+1, kindMarker(item.Kind), describe(item))
		if d := shared.FormatDuration(item.Duration); d != "" {
			b.WriteString(" " + p.Help(d))
		}
		if item.IsLiked() {
			b.WriteString(" " + p.OK("♥"))
		}
		b.WriteString("  " + p.Help(item.ID))
		b.WriteByte('\n')
	}

	_, err := io.WriteString(w, b.String())
	return err
}
