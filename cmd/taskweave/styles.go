package main

import (
	"fmt"
	"io"
	"strings"
	"time"

	"github.com/charmbracelet/lipgloss/v2"
	"github.com/fatih/color"

	"github.com/aristath/taskweave/internal/scheduler"
)

// Status styles
var (
	styleRunning = lipgloss.NewStyle().
			Foreground(lipgloss.Color("3")).
			Bold(true)

	styleSucceeded = lipgloss.NewStyle().
			Foreground(lipgloss.Color("2")).
			Bold(true)

	styleFailed = lipgloss.NewStyle().
			Foreground(lipgloss.Color("1")).
			Bold(true)

	styleWaiting = lipgloss.NewStyle().
			Foreground(lipgloss.Color("5")).
			Bold(true)

	stylePending = lipgloss.NewStyle().
			Foreground(lipgloss.Color("240"))
)

// UI element styles
var (
	styleTitle = lipgloss.NewStyle().
			Bold(true).
			Padding(0, 1)

	styleHeader = lipgloss.NewStyle().
			Bold(true).
			Underline(true)

	styleHelp = lipgloss.NewStyle().
			Foreground(lipgloss.Color("241"))

	styleBox = lipgloss.NewStyle().
			Border(lipgloss.RoundedBorder()).
			BorderForeground(lipgloss.Color("62")).
			Padding(0, 1)
)

func okMark() string   { return color.GreenString("✓") }
func failMark() string { return color.RedString("✗") }
func warnMark() string { return color.YellowString("!") }
func infoMark() string { return color.CyanString("•") }

func stateStyle(s scheduler.TaskState) lipgloss.Style {
	switch s {
	case scheduler.StateRunning:
		return styleRunning
	case scheduler.StateSucceeded:
		return styleSucceeded
	case scheduler.StateFailed:
		return styleFailed
	case scheduler.StateWaitingReview, scheduler.StateWaitingHuman:
		return styleWaiting
	default:
		return stylePending
	}
}

func runStatusStyle(s scheduler.RunStatus) lipgloss.Style {
	switch s {
	case scheduler.RunCompleted:
		return styleSucceeded
	case scheduler.RunFailed:
		return styleFailed
	case scheduler.RunCancelled:
		return styleWaiting
	default:
		return styleRunning
	}
}

// pad renders styled text left-aligned in a column of width cells.
func pad(style lipgloss.Style, text string, width int) string {
	return style.Width(width).Render(text)
}

func truncate(s string, n int) string {
	s = strings.Join(strings.Fields(s), " ")
	if len(s) <= n {
		return s
	}
	return s[:n-3] + "..."
}

// renderRun prints a run summary followed by one line per task.
func renderRun(w io.Writer, st scheduler.RunState) {
	header := fmt.Sprintf("Run %s", st.ID)
	if st.Project != "" {
		header += " · " + st.Project
	}
	fmt.Fprintln(w, styleTitle.Render(header))

	elapsed := ""
	if !st.StartTime.IsZero() {
		end := st.EndTime
		if end.IsZero() {
			end = time.Now()
		}
		elapsed = end.Sub(st.StartTime).Round(time.Second).String()
	}
	counts := st.Counts()
	fmt.Fprintln(w, styleBox.Render(fmt.Sprintf(
		"status   %s\nelapsed  %s\ntasks    %d succeeded, %d failed, %d waiting, %d pending\ncost     $%.4f (%d in / %d out tokens)",
		runStatusStyle(st.Status).Render(string(st.Status)), elapsed,
		counts[scheduler.StateSucceeded], counts[scheduler.StateFailed],
		counts[scheduler.StateWaitingReview]+counts[scheduler.StateWaitingHuman],
		counts[scheduler.StatePending]+counts[scheduler.StateRunning],
		st.CostUSD, st.InputTokens, st.OutputTokens,
	)))

	fmt.Fprintf(w, "%s %s %s %s %s\n",
		pad(styleHeader, "TASK", 20), pad(styleHeader, "STATE", 15),
		pad(styleHeader, "RETRIES", 8), pad(styleHeader, "MODEL", 16), styleHeader.Render("NOTE"))
	for _, t := range st.Tasks {
		note := t.Error
		if t.Note != "" {
			note = t.Note
		}
		fmt.Fprintf(w, "%s %s %s %s %s\n",
			pad(lipgloss.NewStyle(), truncate(t.ID, 20), 20),
			pad(stateStyle(t.State), string(t.State), 15),
			pad(lipgloss.NewStyle(), fmt.Sprintf("%d/%d", t.RetryCount, t.MaxRetries()), 8),
			pad(lipgloss.NewStyle(), truncate(t.AssignedModel, 16), 16),
			truncate(note, 60))
	}
}
