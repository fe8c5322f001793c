package tui

import (
	"fmt"
	"io"
	"os"
	"strings"

	"github.com/aretw0/ratchet/internal/runtime"
	"github.com/aretw0/ratchet/pkg/domain"
	"github.com/aretw0/ratchet/pkg/ports"
	"github.com/jedib0t/go-pretty/v6/table"
	"github.com/muesli/termenv"
	"golang.org/x/term"
)

var phaseColors = map[domain.Phase]string{
	domain.PhaseUninitialized:       "#9ca3af",
	domain.PhaseBranchCut:           "#f59e0b",
	domain.PhaseCandidateInProgress: "#3b82f6",
	domain.PhaseFinished:            "#10b981",
}

// Printer renders command results as tables, styled on a terminal and plain
// otherwise.
type Printer struct {
	w      io.Writer
	out    *termenv.Output
	styled bool
	width  int
}

// IsTerminal reports whether w is an interactive terminal.
func IsTerminal(w io.Writer) bool {
	f, ok := w.(*os.File)
	return ok && term.IsTerminal(int(f.Fd()))
}

// NewPrinter detects whether w is a terminal.
func NewPrinter(w io.Writer) *Printer {
	p := &Printer{w: w, styled: IsTerminal(w)}
	if p.styled {
		if width, _, err := term.GetSize(int(w.(*os.File).Fd())); err == nil {
			p.width = width
		}
	}
	p.out = output(w, p.styled)
	return p
}

// Styled reports whether escape codes are emitted.
func (p *Printer) Styled() bool {
	return p.styled
}

// Phase colours a phase name.
func (p *Printer) Phase(ph domain.Phase) string {
	return p.out.String(string(ph)).Foreground(p.out.Color(phaseColors[ph])).String()
}

func (p *Printer) table(header table.Row) table.Writer {
	tw := table.NewWriter()
	tw.SetOutputMirror(p.w)
	if p.styled {
		tw.SetStyle(table.StyleLight)
	}
	tw.AppendHeader(header)
	return tw
}

// Notes renders release notes markdown.
func (p *Printer) Notes(markdown string) error {
	out, err := NewRenderer(p.styled, p.width)(markdown)
	if err != nil {
		return err
	}
	_, err = io.WriteString(p.w, out)
	return err
}

// Outcome summarises a lifecycle intent.
func (p *Printer) Outcome(intent runtime.Intent, o *runtime.Outcome) {
	s := o.State
	fmt.Fprintf(p.w, "%s %s: %s\n", intent, s.Version.Tag(), p.Phase(s.Phase))
	if o.Adopted {
		fmt.Fprintln(p.w, "adopted from the remotes")
	}
	tw := p.table(table.Row{"Repository", "Tag", "Commit", ""})
	for _, t := range o.Tags {
		note := ""
		if t.Skipped {
			note = "already tagged"
		}
		tw.AppendRow(table.Row{t.Repo, t.Tag, short(t.Commit), note})
	}
	tw.Render()
	if o.Archived != "" {
		fmt.Fprintf(p.w, "state archived as %s\n", o.Archived)
	}
}

// Status renders a status report.
func (p *Printer) Status(r *runtime.Report) {
	if r.State == nil {
		fmt.Fprintln(p.w, "No release in progress in this workspace.")
		return
	}
	s := r.State
	fmt.Fprintf(p.w, "Release %s: %s", s.Version.Tag(), p.Phase(s.Phase))
	if r.Adopted || r.Local == nil {
		fmt.Fprint(p.w, " (remote)")
	}
	fmt.Fprintln(p.w)
	if s.Phase != domain.PhaseFinished {
		fmt.Fprintf(p.w, "Next candidate: %s\n", s.Version.WithCandidate(r.Next).Tag())
	}

	tw := p.table(table.Row{"Repository", "Branch", "Local", "Remote", "Commit"})
	for _, o := range r.Observation.Repos {
		name := o.Repo.Name
		branch := "-"
		if o.BranchExists {
			branch = o.Branch
		}
		local := "-"
		if r.Local != nil && r.Local.Version.Equal(s.Version) && r.Local.Repos[name].LastTag != "" {
			local = r.Local.Repos[name].LastTag
		}
		remote := "-"
		if o.FinalCommit != "" {
			remote = s.Version.Tag()
		} else if n, _, ok := o.Latest(); ok {
			remote = s.Version.WithCandidate(n).Tag()
		}
		tw.AppendRow(table.Row{name, branch, local, remote, short(s.Repos[name].LastCommit)})
	}
	tw.Render()

	for _, err := range r.Problems {
		fmt.Fprintf(p.w, "%s %v\n", p.out.String("problem:").Foreground(p.out.Color("#ef4444")), err)
	}
}

// Plan renders a dry run.
func (p *Printer) Plan(pl *runtime.Plan) {
	fmt.Fprintf(p.w, "%s %s: %s -> %s\n", pl.Intent, pl.Version.Tag(), p.Phase(pl.From), p.Phase(pl.To))
	if pl.Adopted {
		fmt.Fprintln(p.w, "the release would be adopted from the remotes")
	}
	tw := p.table(table.Row{"#", "Repository", "Action", "Ref", "Commit", ""})
	for i, op := range pl.Ops {
		tw.AppendRow(table.Row{i + 1, op.Repo, op.Action, op.Ref, short(op.Commit), op.Detail})
	}
	tw.Render()
}

// Releases renders the releases visible on the umbrella.
func (p *Printer) Releases(rs []runtime.ReleaseSummary) {
	if len(rs) == 0 {
		fmt.Fprintln(p.w, "No releases found.")
		return
	}
	tw := p.table(table.Row{"Release", "Candidates", "Final"})
	for _, r := range rs {
		cands := make([]string, len(r.Candidates))
		for i, n := range r.Candidates {
			cands[i] = fmt.Sprintf("rc%d", n)
		}
		final := ""
		if r.Final {
			final = "yes"
		}
		tw.AppendRow(table.Row{r.Version.Tag(), strings.Join(cands, " "), final})
	}
	tw.Render()
}

// Journal renders audit entries.
func (p *Printer) Journal(entries []ports.JournalEntry) {
	tw := p.table(table.Row{"Time", "Invocation", "Repository", "Action", "Ref", "Commit", "Detail"})
	for _, e := range entries {
		tw.AppendRow(table.Row{
			e.Time.Local().Format("2006-01-02 15:04:05"),
			clip(e.InvocationID, 8),
			e.Repo, e.Action, e.Ref, short(e.Commit), e.Detail,
		})
	}
	tw.Render()
}

func short(sha string) string {
	return clip(sha, 12)
}

func clip(s string, n int) string {
	if len(s) > n {
		return s[:n]
	}
	return s
}
