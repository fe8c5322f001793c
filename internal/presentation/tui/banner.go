package tui

import (
	"fmt"
	"io"

	"github.com/muesli/termenv"
)

// PrintBanner writes the tool name and version.
func PrintBanner(w io.Writer, version string, styled bool) {
	out := output(w, styled)
	name := out.String("ratchet").Bold().Foreground(out.Color("#818cf8"))
	ver := out.String(version).Foreground(out.Color("#a78bfa"))
	fmt.Fprintf(w, "%s %s\n", name, ver)
}

func output(w io.Writer, styled bool) *termenv.Output {
	if !styled {
		return termenv.NewOutput(w, termenv.WithProfile(termenv.Ascii))
	}
	return termenv.NewOutput(w, termenv.WithProfile(termenv.EnvColorProfile()))
}
