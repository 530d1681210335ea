package watch

import (
	"bufio"
	"encoding/json"
	"net/http"
	"strconv"
	"strings"
	"time"

	tea "github.com/charmbracelet/bubbletea"

	"github.com/mattjoyce/mediaflow/internal/events"
)

// --- Message types ---

type eventMsg events.Event

type healthMsg struct {
	Status        string   `json:"status"`
	UptimeSeconds int64    `json:"uptime_seconds"`
	Services      []string `json:"services"`
	Transcriber   *struct {
		InUse   bool   `json:"in_use"`
		Holder  string `json:"holder"`
		Waiting int64  `json:"waiting"`
	} `json:"transcriber"`
}

type tickMsg time.Time

type errMsg error

type sseDisconnectedMsg struct{}
type reconnectMsg struct{}

// --- Commands ---

// subscribeToEvents connects to the SSE /events endpoint and feeds events
// into the provided channel. Returns sseDisconnectedMsg when the connection drops.
func subscribeToEvents(apiURL string, all bool, ch chan<- events.Event) tea.Cmd {
	return func() tea.Msg {
		url := apiURL + "/events"
		if all {
			url += "?all=1"
		}
		resp, err := http.Get(url)
		if err != nil {
			return sseDisconnectedMsg{}
		}
		defer resp.Body.Close()

		scanner := bufio.NewScanner(resp.Body)
		scanner.Buffer(make([]byte, 0, 64*1024), 1<<20)
		var current struct {
			id   int64
			typ  string
			data string
		}

		for scanner.Scan() {
			line := scanner.Text()

			if line == "" {
				if current.data != "" {
					ch <- parseEvent(current.id, current.typ, current.data)
				}
				current.id, current.typ, current.data = 0, "", ""
				continue
			}

			switch {
			case strings.HasPrefix(line, "id: "):
				if id, err := strconv.ParseInt(line[4:], 10, 64); err == nil {
					current.id = id
				}
			case strings.HasPrefix(line, "event: "):
				current.typ = line[7:]
			case strings.HasPrefix(line, "data: "):
				current.data = line[6:]
			}
		}

		return sseDisconnectedMsg{}
	}
}

// parseEvent decodes one SSE frame. The data line carries the full event;
// id and type from the frame win if the payload is not an event.
func parseEvent(id int64, typ, data string) events.Event {
	var ev events.Event
	if err := json.Unmarshal([]byte(data), &ev); err != nil || ev.Type == "" {
		ev = events.Event{Data: json.RawMessage(data)}
	}
	if ev.ID == 0 {
		ev.ID = id
	}
	if ev.Type == "" {
		ev.Type = typ
	}
	if ev.At.IsZero() {
		ev.At = time.Now()
	}
	return ev
}

// receiveNextEvent waits for the next event from the channel.
func receiveNextEvent(ch <-chan events.Event) tea.Cmd {
	return func() tea.Msg {
		return eventMsg(<-ch)
	}
}

// fetchHealth queries the /healthz endpoint.
func fetchHealth(apiURL string) tea.Msg {
	client := &http.Client{Timeout: 2 * time.Second}
	resp, err := client.Get(apiURL + "/healthz")
	if err != nil {
		return errMsg(err)
	}
	defer resp.Body.Close()

	var h healthMsg
	if err := json.NewDecoder(resp.Body).Decode(&h); err != nil {
		return errMsg(err)
	}
	return h
}
