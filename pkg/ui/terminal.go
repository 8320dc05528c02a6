// Package ui renders job progress and listings for the terminal.
package ui

import (
	"fmt"
	"io"
	"os"

	"golang.org/x/term"
)

const (
	ansiCyan    = "\033[36m%s\033[0m"
	ansiYellow  = "\033[33m%s\033[0m"
	ansiRed     = "\033[31m%s\033[0m"
	ansiGreen   = "\033[32m%s\033[0m"
	ansiMagenta = "\033[35m%s\033[0m"
	ansiDim     = "\033[2m%s\033[0m"
)

// Printer writes styled lines to w. Color is dropped when disabled.
type Printer struct {
	w     io.Writer
	color bool
}

// NewPrinter returns a printer to w with color on only when w is a terminal
func NewPrinter(w io.Writer) *Printer {
	color := false
	if f, ok := w.(*os.File); ok {
		color = term.IsTerminal(int(f.Fd())) && os.Getenv("NO_COLOR") == ""
	}
	return &Printer{w: w, color: color}
}

// NewPlainPrinter returns a printer that never emits ANSI codes
func NewPlainPrinter(w io.Writer) *Printer {
	return &Printer{w: w}
}

func (p *Printer) paint(format, text string) string {
	if !p.color {
		return text
	}
	return fmt.Sprintf(format, text)
}

func (p *Printer) Cyan(s string) string    { return p.paint(ansiCyan, s) }
func (p *Printer) Yellow(s string) string  { return p.paint(ansiYellow, s) }
func (p *Printer) Red(s string) string     { return p.paint(ansiRed, s) }
func (p *Printer) Green(s string) string   { return p.paint(ansiGreen, s) }
func (p *Printer) Magenta(s string) string { return p.paint(ansiMagenta, s) }
func (p *Printer) Dim(s string) string     { return p.paint(ansiDim, s) }

// Error prints an error message in red
func (p *Printer) Error(msg string, err error) {
	if err != nil {
		msg = msg + ": " + err.Error()
	}
	fmt.Fprintln(p.w, p.Red(msg))
}

func (p *Printer) Success(msg string) {
	fmt.Fprintln(p.w, p.Green(msg))
}

func (p *Printer) Warning(msg string) {
	fmt.Fprintln(p.w, p.Yellow(msg))
}

// Info prints a label: value line
func (p *Printer) Info(label, value string) {
	fmt.Fprintf(p.w, "%s: %s\n", p.Cyan(label), p.Yellow(value))
}
