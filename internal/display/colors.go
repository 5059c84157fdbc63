package display

import (
	"os"

	"github.com/fatih/color"
	"github.com/mattn/go-isatty"
	"github.com/muesli/termenv"
)

// colorSystem applies semantic colors to output, degrading to plain text
// when the terminal does not support color
type colorSystem struct {
	supported bool
	profile   termenv.Profile

	success *color.Color
	warning *color.Color
	errc    *color.Color
	info    *color.Color
	muted   *color.Color
}

// newColorSystem creates a color system with terminal detection. noColor
// forces plain output regardless of the terminal.
func newColorSystem(noColor bool) *colorSystem {
	cs := &colorSystem{
		supported: !noColor && detectColorSupport(),
		profile:   termenv.ColorProfile(),
		success:   color.New(color.FgGreen),
		warning:   color.New(color.FgYellow),
		errc:      color.New(color.FgRed),
		info:      color.New(color.FgCyan),
		muted:     color.New(color.FgHiBlack),
	}
	if !cs.supported {
		color.NoColor = true
	}
	return cs
}

// detectColorSupport checks if the terminal supports colors
func detectColorSupport() bool {
	if !isatty.IsTerminal(os.Stdout.Fd()) && !isatty.IsCygwinTerminal(os.Stdout.Fd()) {
		return false
	}

	if os.Getenv("NO_COLOR") != "" || os.Getenv("TERM") == "dumb" {
		return false
	}

	if os.Getenv("FORCE_COLOR") != "" {
		return true
	}

	return true
}

func (cs *colorSystem) colorize(c *color.Color, text string) string {
	if !cs.supported {
		return text
	}
	return c.Sprint(text)
}

func (cs *colorSystem) Success(text string) string { return cs.colorize(cs.success, text) }
func (cs *colorSystem) Warning(text string) string { return cs.colorize(cs.warning, text) }
func (cs *colorSystem) Error(text string) string   { return cs.colorize(cs.errc, text) }
func (cs *colorSystem) Info(text string) string    { return cs.colorize(cs.info, text) }
func (cs *colorSystem) Muted(text string) string   { return cs.colorize(cs.muted, text) }
