// Package output renders flock state for the terminal.
package output

import (
	"os"

	"github.com/fatih/color"
	"github.com/mattn/go-isatty"
)

// ColorScheme defines the colors used for different elements in the output
type ColorScheme struct {
	Name      *color.Color
	Business  *color.Color
	Healthy   *color.Color
	Degraded  *color.Color
	Failed    *color.Color
	Muted     *color.Color
	Success   *color.Color
	Error     *color.Color
	Highlight *color.Color
}

// DefaultColorScheme returns the default color scheme
func DefaultColorScheme() *ColorScheme {
	return &ColorScheme{
		Name:      color.New(color.FgCyan, color.Bold),
		Business:  color.New(color.FgBlue),
		Healthy:   color.New(color.FgGreen, color.Bold),
		Degraded:  color.New(color.FgYellow, color.Bold),
		Failed:    color.New(color.FgRed, color.Bold),
		Muted:     color.New(color.FgHiBlack),
		Success:   color.New(color.FgGreen),
		Error:     color.New(color.FgRed),
		Highlight: color.New(color.FgMagenta, color.Bold),
	}
}

// NoColorScheme returns a color scheme with all colors disabled
func NoColorScheme() *ColorScheme {
	scheme := DefaultColorScheme()
	for _, c := range []*color.Color{
		scheme.Name, scheme.Business, scheme.Healthy, scheme.Degraded,
		scheme.Failed, scheme.Muted, scheme.Success, scheme.Error, scheme.Highlight,
	} {
		c.DisableColor()
	}
	return scheme
}

// SchemeFor picks the color scheme for writing to f.
func SchemeFor(f *os.File, noColor bool) *ColorScheme {
	if noColor || !IsTerminal(f) {
		return NoColorScheme()
	}
	scheme := DefaultColorScheme()
	for _, c := range []*color.Color{
		scheme.Name, scheme.Business, scheme.Healthy, scheme.Degraded,
		scheme.Failed, scheme.Muted, scheme.Success, scheme.Error, scheme.Highlight,
	} {
		c.EnableColor()
	}
	return scheme
}

// IsTerminal reports whether f is an interactive terminal.
func IsTerminal(f *os.File) bool {
	if f == nil {
		return false
	}
	return isatty.IsTerminal(f.Fd()) || isatty.IsCygwinTerminal(f.Fd())
}

// SuccessIcon returns a checkmark symbol with appropriate color
func SuccessIcon(noColor bool) string {
	if noColor {
		return "✓"
	}
	return color.New(color.FgGreen).Sprint("✓")
}

// ErrorIcon returns an X symbol with appropriate color
func ErrorIcon(noColor bool) string {
	if noColor {
		return "✗"
	}
	return color.New(color.FgRed).Sprint("✗")
}
