// Package report renders score reports, simulation summaries and listings
// for the terminal.
package report

import (
	"fmt"
	"maps"
	"slices"
	"strings"
	"time"

	"charm.land/lipgloss/v2"
	"charm.land/lipgloss/v2/table"

	"github.com/abhisek/adaptiq/internal/coach"
	"github.com/abhisek/adaptiq/internal/scoring"
	"github.com/abhisek/adaptiq/internal/simulate"
	"github.com/abhisek/adaptiq/internal/stopping"
	"github.com/abhisek/adaptiq/internal/ui/components"
	"github.com/abhisek/adaptiq/internal/ui/theme"
)

// DefaultWidth is used when the caller passes a width < 40.
const DefaultWidth = 72

// Attempt renders a score report and, when non-nil, its study plan.
func Attempt(r scoring.ScoreReport, plan *coach.Plan, width int) string {
	width = fitWidth(width)
	var parts []string

	parts = append(parts,
		theme.Title.Render("Assessment report"),
		theme.Subtitle.Render(r.AttemptID),
		"",
		field("Level", levelStyle(r.Level).Render(string(r.Level))),
		field("Ability", fmt.Sprintf("%+.2f ± %.2f", r.Theta, r.SE)),
		field("95% CI", fmt.Sprintf("[%+.2f, %+.2f]", r.CI95[0], r.CI95[1])),
		field("Score", fmt.Sprintf("%d/%d correct (%.0f%%)", r.TotalCorrect, r.TotalItems, r.Normalized)),
		field("Stopped", stopLabel(r.StopReason)),
	)
	if r.MaxPoints > 0 {
		pts := fmt.Sprintf("%.0f/%.0f (%.0f%%)", r.PointsEarned, r.MaxPoints, r.PointsPercent)
		if r.HintsUsed > 0 {
			pts += fmt.Sprintf(", hints used %d", r.HintsUsed)
		}
		parts = append(parts, field("Points", pts))
	}
	if r.BestStreak > 0 {
		parts = append(parts, field("Best streak", fmt.Sprintf("%d", r.BestStreak)))
	}
	if r.AvgResponseTime > 0 {
		parts = append(parts, field("Avg time", r.AvgResponseTime.Round(100*time.Millisecond).String()))
	}

	if len(r.Categories) > 0 {
		parts = append(parts, theme.Section.Render("Categories"))
		labelWidth := 0
		for _, c := range r.Categories {
			labelWidth = max(labelWidth, lipgloss.Width(c.Category))
		}
		for _, c := range r.Categories {
			bar := components.NewProgressBar(c.Category, c.Percent/100, true, width)
			bar.LabelWidth = labelWidth
			parts = append(parts, bar.View())
		}
	}

	if len(r.Trajectory) > 0 {
		parts = append(parts, theme.Section.Render("Responses"), trajectory(r.Trajectory))
	}

	if plan != nil {
		parts = append(parts, planView(*plan, width)...)
	}
	return lipgloss.JoinVertical(lipgloss.Left, parts...)
}

// Simulation renders the summary of a simulation run.
func Simulation(s simulate.Summary, width int) string {
	width = fitWidth(width)
	parts := []string{
		theme.Title.Render("Simulation"),
		"",
		field("Attempts", fmt.Sprintf("%d", s.Attempts)),
		field("Bias", fmt.Sprintf("%+.3f", s.Bias)),
		field("RMSE", fmt.Sprintf("%.3f", s.RMSE)),
		field("Mean items", fmt.Sprintf("%.1f", s.MeanItems)),
		field("Max exposure", fmt.Sprintf("%.0f%%", s.MaxExposure*100)),
	}

	if len(s.StopReasons) > 0 {
		parts = append(parts, theme.Section.Render("Stop reasons"))
		for _, reason := range slices.Sorted(maps.Keys(s.StopReasons)) {
			share := float64(s.StopReasons[reason]) / float64(max(s.Attempts, 1))
			bar := components.NewProgressBar(string(reason), share, true, width)
			bar.LabelWidth = len(stopping.PrecisionReached)
			parts = append(parts, bar.View())
		}
	}

	if len(s.MeanSE) > 0 {
		parts = append(parts, theme.Section.Render("Mean SE by position"))
		top := s.MeanSE[0]
		for i, se := range s.MeanSE {
			frac := 0.0
			if top > 0 {
				frac = se / top
			}
			bar := components.NewProgressBar(fmt.Sprintf("%3d", i+1), frac, false, width-8)
			parts = append(parts, bar.View()+theme.Label.Render(fmt.Sprintf("  %.3f", se)))
		}
	}
	return lipgloss.JoinVertical(lipgloss.Left, parts...)
}

// Table renders rows under headers.
func Table(headers []string, rows [][]string) string {
	t := table.New().
		Border(lipgloss.RoundedBorder()).
		BorderStyle(lipgloss.NewStyle().Foreground(theme.Border)).
		StyleFunc(func(row, _ int) lipgloss.Style {
			if row == table.HeaderRow {
				return theme.Value.Padding(0, 1)
			}
			return lipgloss.NewStyle().Foreground(theme.Text).Padding(0, 1)
		}).
		Headers(headers...).
		Rows(rows...)
	return t.String()
}

func planView(p coach.Plan, width int) []string {
	parts := []string{theme.Section.Render(fmt.Sprintf("Study plan (%s)", p.Source))}
	if p.Summary != "" {
		parts = append(parts, lipgloss.NewStyle().Width(width).Render(p.Summary))
	}
	parts = append(parts, field("Direction", string(p.Direction)))
	for _, f := range p.FocusAreas {
		line := fmt.Sprintf("• %s (%.0f%%)", f.Category, f.Percent)
		if f.Reason != "" {
			line += " " + theme.Hint.Render(f.Reason)
		}
		parts = append(parts, line)
	}
	for i, step := range p.NextSteps {
		parts = append(parts, fmt.Sprintf("%d. %s", i+1, step))
	}
	return parts
}

func trajectory(points []scoring.TrajectoryPoint) string {
	var b strings.Builder
	for i, p := range points {
		if i > 0 {
			b.WriteString(" ")
		}
		if p.Correct {
			b.WriteString(theme.Correct.Render("✓"))
		} else {
			b.WriteString(theme.Incorrect.Render("✗"))
		}
	}
	return b.String()
}

func field(label, value string) string {
	return theme.Label.Width(14).Render(label) + theme.Value.Render(value)
}

func levelStyle(l scoring.Level) lipgloss.Style {
	switch l {
	case scoring.Beginner:
		return theme.Warning
	case scoring.Expert, scoring.Advanced:
		return theme.Correct
	}
	return theme.Value
}

func stopLabel(r stopping.Reason) string {
	switch r {
	case stopping.PrecisionReached:
		return "precision reached"
	case stopping.MaxItems:
		return "item limit reached"
	case stopping.PoolExhausted:
		return "item pool exhausted"
	}
	return string(r)
}

func fitWidth(w int) int {
	if w < 40 {
		return DefaultWidth
	}
	return w
}
