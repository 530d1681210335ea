package watch

import (
	"fmt"
	"strings"
	"time"

	"github.com/charmbracelet/lipgloss"
)

// HealthState tracks server health from /healthz polling.
type HealthState struct {
	Status             string
	UptimeSeconds      int64
	Services           []string
	TranscriberBusy    bool
	TranscriberHolder  string
	TranscriberWaiting int64
	Connected          bool
	LastCheck          time.Time
}

func renderHeader(health HealthState, ticker Ticker, spinner Spinner, theme Theme, width int) string {
	innerWidth := width - 4

	statusText := theme.OK.Render("HEALTHY")
	if !health.Connected {
		statusText = theme.Alert.Render("CONNECTING")
	} else if health.Status != "ok" && health.Status != "" {
		statusText = theme.Alert.Render("DEGRADED")
	}

	uptime := formatDuration(time.Duration(health.UptimeSeconds) * time.Second)

	lastEventStr := "never"
	if !spinner.LastEvent().IsZero() {
		lastEventStr = fmt.Sprintf("%s ago", time.Since(spinner.LastEvent()).Round(time.Second))
	}

	tickerStr := theme.Highlight.Render(ticker.Current())
	clock := theme.Dim.Render(time.Now().Format("15:04:05"))
	titleText := fmt.Sprintf(" MEDIAFLOW WATCH %s", tickerStr)

	pad := innerWidth - lipgloss.Width(titleText) - lipgloss.Width(clock) - 4
	if pad < 1 {
		pad = 1
	}
	titleLine := titleText + strings.Repeat(" ", pad) + clock + " "

	transcriber := theme.Dim.Render("idle")
	if health.TranscriberBusy {
		holder := health.TranscriberHolder
		if len(holder) > 8 {
			holder = holder[:8]
		}
		transcriber = theme.Busy.Render("busy " + holder)
	}

	statsLine := fmt.Sprintf(" %s  up %s  services: %s",
		statusText,
		uptime,
		strings.Join(health.Services, ", "),
	)
	guardLine := fmt.Sprintf(" transcriber: %s  waiting: %d", transcriber, health.TranscriberWaiting)
	activityLine := fmt.Sprintf(" last event: %s %s", lastEventStr, spinner.Render(theme))

	content := lipgloss.JoinVertical(lipgloss.Left,
		titleLine,
		statsLine,
		guardLine,
		activityLine,
	)

	return theme.Border.Width(innerWidth).Render(content)
}

func formatDuration(d time.Duration) string {
	if d < time.Minute {
		return fmt.Sprintf("%ds", int(d.Seconds()))
	}
	if d < time.Hour {
		return fmt.Sprintf("%dm %ds", int(d.Minutes()), int(d.Seconds())%60)
	}
	return fmt.Sprintf("%dh %dm", int(d.Hours()), int(d.Minutes())%60)
}
