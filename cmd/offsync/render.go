package main

import (
	"fmt"
	"strings"

	"github.com/charmbracelet/lipgloss"

	"github.com/maintrack/offsync/pkg/offsync"
)

var (
	labelStyle = lipgloss.NewStyle().Foreground(lipgloss.Color("8")).Width(14)
	boxStyle   = lipgloss.NewStyle().
			Border(lipgloss.RoundedBorder()).
			BorderForeground(lipgloss.Color("8")).
			Padding(0, 1)

	stateStyles = map[offsync.ConnectivityState]lipgloss.Style{
		offsync.Online:   lipgloss.NewStyle().Bold(true).Foreground(lipgloss.Color("10")),
		offsync.Degraded: lipgloss.NewStyle().Bold(true).Foreground(lipgloss.Color("11")),
		offsync.Offline:  lipgloss.NewStyle().Bold(true).Foreground(lipgloss.Color("9")),
	}
	warnStyle = lipgloss.NewStyle().Foreground(lipgloss.Color("11"))
)

func renderStatus(state offsync.ConnectivityState, phase offsync.Phase, stats offsync.Stats) string {
	row := func(label, value string) string {
		return lipgloss.JoinHorizontal(lipgloss.Top, labelStyle.Render(label), value)
	}
	dead := fmt.Sprint(stats.DeadLetters)
	if stats.DeadLetters > 0 {
		dead = warnStyle.Render(dead + " (offsync dead-letters list)")
	}
	rows := []string{
		row("connectivity", stateStyles[state].Render(state.String())),
		row("phase", phase.String()),
		row("pending", fmt.Sprint(stats.Pending)),
		row("dead letters", dead),
		row("discards", fmt.Sprint(stats.Discards)),
		row("cache", fmt.Sprintf("%d pages, %s of %s", stats.Pages, humanBytes(stats.CacheBytes), humanBytes(stats.CacheBudget))),
	}
	return boxStyle.Render(strings.Join(rows, "\n"))
}

func humanBytes(n int64) string {
	const unit = 1024
	if n < unit {
		return fmt.Sprintf("%d B", n)
	}
	div, exp := int64(unit), 0
	for m := n / unit; m >= unit; m /= unit {
		div *= unit
		exp++
	}
	return fmt.Sprintf("%.1f %ciB", float64(n)/float64(div), "KMGTPE"[exp])
}
