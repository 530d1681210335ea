package watch

import (
	"encoding/json"
	"fmt"
	"sort"
	"strings"
	"time"

	"github.com/charmbracelet/bubbles/progress"
	"github.com/charmbracelet/lipgloss"

	"github.com/mattjoyce/mediaflow/internal/events"
)

// BatchState is the watcher's view of one client's work on one service,
// rebuilt from events.
type BatchState struct {
	Client      string
	Service     string
	BatchID     string
	TotalFiles  int
	Processed   int
	Failed      int
	Canceled    int
	CurrentFile string
	CurrentPage int
	TotalPages  int
	Status      string
	Reason      string
	Updated     time.Time
}

// Done counts files that reached an outcome.
func (b *BatchState) Done() int {
	return b.Processed + b.Failed + b.Canceled
}

// Percent is the batch completion ratio in [0, 1]. Page progress of the
// running file counts as a fraction of one file.
func (b *BatchState) Percent() float64 {
	if b.TotalFiles == 0 {
		return 0
	}
	done := float64(b.Done())
	if b.TotalPages > 0 && b.Status == "processing" {
		done += float64(b.CurrentPage) / float64(b.TotalPages)
	}
	return min(done/float64(b.TotalFiles), 1)
}

func batchKey(client, service string) string {
	return service + "/" + client
}

// updateBatchState folds e into batches.
func updateBatchState(batches map[string]*BatchState, e events.Event) {
	if e.Client == "" || e.Service == "" {
		return
	}
	data := make(map[string]any)
	_ = json.Unmarshal(e.Data, &data)

	key := batchKey(e.Client, e.Service)
	b, ok := batches[key]
	if !ok {
		if e.Type == events.SessionEvicted {
			return
		}
		b = &BatchState{Client: e.Client, Service: e.Service}
		batches[key] = b
	}
	b.Updated = e.At

	switch e.Type {
	case events.BatchSubmitted:
		*b = BatchState{Client: e.Client, Service: e.Service, Updated: e.At, Status: "queued"}
		b.BatchID, _ = data["batch_id"].(string)
		b.TotalFiles = intField(data, "total_files")
	case events.JobStarted:
		b.Status = "processing"
		b.CurrentFile, _ = data["file"].(string)
	case events.JobProgress:
		b.CurrentPage = intField(data, "current_page")
		b.TotalPages = intField(data, "total_pages")
	case events.JobCompleted:
		b.Processed++
	case events.JobFailed:
		b.Failed++
		b.Reason, _ = data["reason"].(string)
	case events.JobCanceled:
		b.Canceled++
	case events.BatchCanceled:
		b.Status = "canceled"
		b.CurrentFile = ""
	case events.BatchFinished:
		b.Status, _ = data["status"].(string)
		b.Processed = intField(data, "processed_files")
		b.Failed = intField(data, "failed_files")
		b.Reason, _ = data["reason"].(string)
		b.CurrentFile = ""
	case events.SessionEvicted:
		delete(batches, key)
	}
}

func intField(data map[string]any, key string) int {
	v, _ := data[key].(float64)
	return int(v)
}

func renderBatches(batches map[string]*BatchState, selected int, bar progress.Model, theme Theme, width int) string {
	innerWidth := width - 4

	if len(batches) == 0 {
		content := lipgloss.JoinVertical(lipgloss.Left,
			theme.Title.Render("BATCHES"),
			theme.Dim.Render("  No uploads yet"),
		)
		return theme.Border.Width(innerWidth).Render(content)
	}

	keys := make([]string, 0, len(batches))
	for k := range batches {
		keys = append(keys, k)
	}
	sort.Slice(keys, func(i, j int) bool {
		return batches[keys[i]].Updated.After(batches[keys[j]].Updated)
	})

	bar.Width = max(innerWidth/3, 10)

	var lines []string
	for i, k := range keys {
		b := batches[k]
		cursor := "  "
		if i == selected {
			cursor = theme.Highlight.Render("> ")
		}
		label := fmt.Sprintf("%-10s %-18s", b.Service, truncate(b.Client, 18))
		counts := fmt.Sprintf("%d/%d", b.Done(), b.TotalFiles)
		if b.Failed > 0 {
			counts += theme.Alert.Render(fmt.Sprintf(" (%d failed)", b.Failed))
		}
		lines = append(lines, fmt.Sprintf("%s%s %s %s %s", cursor, label, bar.ViewAs(b.Percent()), theme.Status(b.Status).Render(fmt.Sprintf("%-10s", b.Status)), counts))

		if i == selected {
			if b.CurrentFile != "" {
				page := ""
				if b.TotalPages > 0 {
					page = fmt.Sprintf(" page %d/%d", b.CurrentPage, b.TotalPages)
				}
				lines = append(lines, theme.Dim.Render(fmt.Sprintf("    %s%s", b.CurrentFile, page)))
			}
			if b.Reason != "" {
				lines = append(lines, theme.Alert.Render("    "+truncate(b.Reason, innerWidth-6)))
			}
		}
	}

	content := lipgloss.JoinVertical(lipgloss.Left,
		theme.Title.Render("BATCHES"),
		lipgloss.NewStyle().Padding(0, 1).Render(strings.Join(lines, "\n")),
	)
	return theme.Border.Width(innerWidth).Render(content)
}

func truncate(s string, n int) string {
	if n <= 3 || len(s) <= n {
		return s
	}
	return s[:n-3] + "..."
}
