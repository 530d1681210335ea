package media

import (
	"context"
	"encoding/json"
	"fmt"
	"os"
	"strconv"
	"strings"
	"time"
)

// Segment is one timed piece of transcript.
type Segment struct {
	Start time.Duration
	End   time.Duration
	Text  string
}

// Whisper runs whisper.cpp on one audio chunk at a time.
type Whisper struct {
	Bin       string
	ModelPath string
	Language  string
	Threads   int
	Runner    CommandRunner
}

type whisperOutput struct {
	Transcription []struct {
		Offsets struct {
			From int64 `json:"from"`
			To   int64 `json:"to"`
		} `json:"offsets"`
		Text string `json:"text"`
	} `json:"transcription"`
}

// Transcribe returns the segments of chunk shifted onto the source timeline.
func (w *Whisper) Transcribe(ctx context.Context, chunk AudioChunk) ([]Segment, error) {
	base := strings.TrimSuffix(chunk.Path, ".wav")
	args := []string{
		"-m", w.ModelPath,
		"-f", chunk.Path,
		"-of", base,
		"-oj",
		"-np",
	}
	if lang := normalizeLanguage(w.Language); lang != "" {
		args = append(args, "-l", lang)
	}
	if w.Threads > 0 {
		args = append(args, "-t", strconv.Itoa(w.Threads))
	}
	if _, err := run(ctx, w.Runner, w.Bin, args...); err != nil {
		return nil, err
	}

	data, err := os.ReadFile(base + ".json")
	if err != nil {
		return nil, fmt.Errorf("read whisper output: %w", err)
	}
	defer os.Remove(base + ".json")
	return parseWhisperJSON(data, chunk.Start)
}

func parseWhisperJSON(data []byte, offset time.Duration) ([]Segment, error) {
	var out whisperOutput
	if err := json.Unmarshal(data, &out); err != nil {
		return nil, fmt.Errorf("decode whisper output: %w", err)
	}
	segs := make([]Segment, 0, len(out.Transcription))
	for _, t := range out.Transcription {
		text := strings.TrimSpace(t.Text)
		if text == "" {
			continue
		}
		segs = append(segs, Segment{
			Start: offset + time.Duration(t.Offsets.From)*time.Millisecond,
			End:   offset + time.Duration(t.Offsets.To)*time.Millisecond,
			Text:  text,
		})
	}
	return segs, nil
}

// normalizeLanguage maps "auto" and empty language to no CLI override.
func normalizeLanguage(raw string) string {
	lang := strings.TrimSpace(raw)
	if lang == "" || strings.EqualFold(lang, "auto") {
		return ""
	}
	return lang
}
