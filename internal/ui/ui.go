// Package ui renders CLI output. Styled output is used only when stdout
// is a terminal; pipes get plain text.
package ui

import (
	"fmt"
	"io"
	"os"

	"github.com/charmbracelet/lipgloss"
	"github.com/mattn/go-isatty"
)

var (
	titleStyle = lipgloss.NewStyle().Bold(true).Foreground(lipgloss.Color("12"))
	idStyle    = lipgloss.NewStyle().Bold(true)
	scoreStyle = lipgloss.NewStyle().Foreground(lipgloss.Color("10"))
	dimStyle   = lipgloss.NewStyle().Foreground(lipgloss.Color("8"))
	errStyle   = lipgloss.NewStyle().Bold(true).Foreground(lipgloss.Color("9"))
)

// Printer writes CLI output, styled or plain.
type Printer struct {
	out    io.Writer
	styled bool
}

// NewPrinter creates a printer for w. Styling is enabled only when w is a
// terminal.
func NewPrinter(w io.Writer) *Printer {
	styled := false
	if f, ok := w.(*os.File); ok {
		styled = isatty.IsTerminal(f.Fd()) || isatty.IsCygwinTerminal(f.Fd())
	}
	return &Printer{out: w, styled: styled}
}

// NewPlainPrinter creates a printer that never styles.
func NewPlainPrinter(w io.Writer) *Printer {
	return &Printer{out: w}
}

// Title prints a section heading.
func (p *Printer) Title(text string) {
	if p.styled {
		fmt.Fprintln(p.out, titleStyle.Render(text))
		return
	}
	fmt.Fprintln(p.out, text)
}

// Result prints one ranked hit.
func (p *Printer) Result(rank int, id string, score float64, detail string) {
	if p.styled {
		fmt.Fprintf(p.out, "%2d. %s %s\n", rank, idStyle.Render(id), scoreStyle.Render(fmt.Sprintf("(%.3f)", score)))
		if detail != "" {
			fmt.Fprintf(p.out, "    %s\n", dimStyle.Render(detail))
		}
		return
	}
	fmt.Fprintf(p.out, "%2d. %s (%.3f)\n", rank, id, score)
	if detail != "" {
		fmt.Fprintf(p.out, "    %s\n", detail)
	}
}

// KeyValue prints an aligned key/value line.
func (p *Printer) KeyValue(key, value string) {
	if p.styled {
		fmt.Fprintf(p.out, "%s %s\n", dimStyle.Render(key+":"), value)
		return
	}
	fmt.Fprintf(p.out, "%s: %s\n", key, value)
}

// Line prints plain text.
func (p *Printer) Line(format string, args ...any) {
	fmt.Fprintf(p.out, format+"\n", args...)
}

// Error prints an error line.
func (p *Printer) Error(format string, args ...any) {
	msg := fmt.Sprintf(format, args...)
	if p.styled {
		fmt.Fprintln(p.out, errStyle.Render("error: ")+msg)
		return
	}
	fmt.Fprintln(p.out, "error: "+msg)
}
