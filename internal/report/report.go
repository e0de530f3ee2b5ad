// Package report renders the end-of-run summary.
package report

import (
	"fmt"
	"io"
	"strings"
	"time"

	"github.com/charmbracelet/lipgloss"
	"github.com/dustin/go-humanize/english"

	"github.com/hochfrequenz/ob1/internal/domain"
	"github.com/hochfrequenz/ob1/internal/observer"
)

// SummaryHeader opens the summary block
const SummaryHeader = "--- Run Summary ---"

// Summary is everything the end-of-run report shows
type Summary struct {
	Run      *domain.Run
	Outcomes []domain.Outcome
	Metrics  observer.Metrics
	Snapshot *domain.StashSnapshot // retained snapshot, nil if none or dropped
	Elapsed  time.Duration
}

type styles struct {
	header  lipgloss.Style
	success lipgloss.Style
	failure lipgloss.Style
	detail  lipgloss.Style
}

func newStyles(w io.Writer) styles {
	// Colors only reach terminals; the renderer downgrades to plain text otherwise
	r := lipgloss.NewRenderer(w)
	return styles{
		header:  r.NewStyle().Bold(true),
		success: r.NewStyle().Foreground(lipgloss.Color("42")),
		failure: r.NewStyle().Foreground(lipgloss.Color("196")),
		detail:  r.NewStyle().Foreground(lipgloss.Color("245")),
	}
}

// Render writes the summary: one "Success: <agent>" or "Failure: <agent>"
// line per pipeline in roster order, then totals
func Render(w io.Writer, s Summary) error {
	st := newStyles(w)
	var b strings.Builder

	b.WriteString("\n" + st.header.Render(SummaryHeader) + "\n")
	for _, out := range s.Outcomes {
		if out.Succeeded() {
			b.WriteString(st.success.Render(out.String()) + "\n")
		} else {
			b.WriteString(st.failure.Render(out.String()) + "\n")
		}
		if detail := outcomeDetail(out); detail != "" {
			b.WriteString(st.detail.Render("   "+detail) + "\n")
		}
	}

	if footer := metricsFooter(s); footer != "" {
		b.WriteString("\n" + st.detail.Render(footer) + "\n")
	}
	if s.Snapshot != nil {
		b.WriteString(st.detail.Render(fmt.Sprintf(
			"Your uncommitted changes are kept in the stash as %q; restore them with 'git stash apply %s'.",
			s.Snapshot.Label, s.Snapshot.Ref)) + "\n")
	}

	_, err := io.WriteString(w, b.String())
	return err
}

func outcomeDetail(out domain.Outcome) string {
	var parts []string
	switch {
	case out.Err != nil:
		parts = append(parts, "error: "+out.Err.Error())
	case out.PRURL != "":
		parts = append(parts, "PR: "+out.PRURL)
	case out.Published:
		parts = append(parts, "published "+out.Branch)
	case out.State == domain.StateSkipped:
		parts = append(parts, "no changes")
	}
	if out.ApplyFailed {
		parts = append(parts, "ran without your uncommitted changes")
	}
	return strings.Join(parts, "; ")
}

func metricsFooter(s Summary) string {
	m := s.Metrics
	if m.TotalCompleted == 0 {
		return ""
	}
	footer := fmt.Sprintf("%d succeeded, %d failed, %s opened",
		m.TotalSucceeded, m.TotalFailed, english.Plural(m.TotalPublished, "pull request", ""))
	if m.FilesTouched > 0 {
		footer += ", " + english.Plural(m.FilesTouched, "path", "") + " touched"
	}
	footer += fmt.Sprintf(" (avg %s, slowest %s", round(m.AvgDuration), round(m.MaxDuration))
	if s.Elapsed > 0 {
		footer += fmt.Sprintf(", total %s", round(s.Elapsed))
	}
	return footer + ")"
}

func round(d time.Duration) time.Duration {
	if d < time.Second {
		return d.Round(time.Millisecond)
	}
	return d.Round(time.Second)
}
