package media

import (
	"context"
	"fmt"
	"math"
	"os"
	"path/filepath"
	"sort"
	"strconv"
	"strings"
	"time"

	"github.com/mattjoyce/mediaflow/internal/jobs"
)

// AudioChunk is one slice of the prepared audio, positioned on the source
// timeline.
type AudioChunk struct {
	Index int
	Path  string
	Start time.Duration
	End   time.Duration
}

// FFmpeg prepares audio for transcription.
type FFmpeg struct {
	Bin        string
	ProbeBin   string
	SampleRate int
	MaxSegment time.Duration
	Filter     string
	Runner     CommandRunner
}

// Duration probes the media length of path.
func (f *FFmpeg) Duration(ctx context.Context, path string) (time.Duration, error) {
	res, err := run(ctx, f.Runner, f.ProbeBin,
		"-v", "error",
		"-show_entries", "format=duration",
		"-of", "default=noprint_wrappers=1:nokey=1",
		path,
	)
	if err != nil {
		return 0, err
	}
	secs, err := strconv.ParseFloat(strings.TrimSpace(res.Stdout), 64)
	if err != nil || secs <= 0 || math.IsNaN(secs) {
		return 0, fmt.Errorf("ffprobe returned no duration for %s", filepath.Base(path))
	}
	return time.Duration(secs * float64(time.Second)), nil
}

// Prepare extracts mono audio at the configured sample rate, denoising and
// normalizing it in windows of MaxSegment, and joins the windows into one
// WAV file in workDir. canceled is polled between windows.
func (f *FFmpeg) Prepare(ctx context.Context, input, workDir string, canceled func() bool) (string, error) {
	total, err := f.Duration(ctx, input)
	if err != nil {
		return "", err
	}
	if err := os.MkdirAll(workDir, 0o755); err != nil {
		return "", fmt.Errorf("create audio work dir: %w", err)
	}

	windows := int(math.Ceil(float64(total) / float64(f.MaxSegment)))
	parts := make([]string, 0, windows)
	for i := 0; i < windows; i++ {
		if canceled != nil && canceled() {
			return "", jobs.Canceled("prepare_audio")
		}
		start := time.Duration(i) * f.MaxSegment
		length := min(f.MaxSegment, total-start)
		part := filepath.Join(workDir, fmt.Sprintf("prepared_%04d.wav", i))
		if _, err := run(ctx, f.Runner, f.Bin, f.windowArgs(input, part, start, length)...); err != nil {
			return "", err
		}
		parts = append(parts, part)
	}

	out := filepath.Join(workDir, "prepared.wav")
	if len(parts) == 1 {
		if err := os.Rename(parts[0], out); err != nil {
			return "", fmt.Errorf("finalize prepared audio: %w", err)
		}
		return out, nil
	}

	list := filepath.Join(workDir, "concat.txt")
	var b strings.Builder
	for _, p := range parts {
		fmt.Fprintf(&b, "file '%s'\n", strings.ReplaceAll(p, "'", `'\''`))
	}
	if err := os.WriteFile(list, []byte(b.String()), 0o644); err != nil {
		return "", fmt.Errorf("write concat list: %w", err)
	}
	if _, err := run(ctx, f.Runner, f.Bin,
		"-hide_banner", "-nostdin", "-y",
		"-f", "concat", "-safe", "0",
		"-i", list,
		"-c", "copy",
		out,
	); err != nil {
		return "", err
	}
	for _, p := range append(parts, list) {
		_ = os.Remove(p)
	}
	return out, nil
}

func (f *FFmpeg) windowArgs(input, output string, start, length time.Duration) []string {
	args := []string{
		"-hide_banner", "-nostdin", "-y",
		"-ss", formatSeconds(start),
		"-t", formatSeconds(length),
		"-i", input,
		"-vn",
		"-ac", "1",
		"-ar", strconv.Itoa(f.SampleRate),
	}
	if f.Filter != "" {
		args = append(args, "-af", f.Filter)
	}
	return append(args, "-c:a", "pcm_s16le", output)
}

// Segment slices wav into chunks of length using the segment muxer.
func (f *FFmpeg) Segment(ctx context.Context, wav, dir string, length time.Duration) ([]AudioChunk, error) {
	total, err := f.Duration(ctx, wav)
	if err != nil {
		return nil, err
	}
	if err := os.MkdirAll(dir, 0o755); err != nil {
		return nil, fmt.Errorf("create chunk dir: %w", err)
	}
	if _, err := run(ctx, f.Runner, f.Bin,
		"-hide_banner", "-nostdin", "-y",
		"-i", wav,
		"-f", "segment",
		"-segment_time", formatSeconds(length),
		"-c", "copy",
		filepath.Join(dir, "chunk_%04d.wav"),
	); err != nil {
		return nil, err
	}

	paths, err := filepath.Glob(filepath.Join(dir, "chunk_*.wav"))
	if err != nil {
		return nil, err
	}
	sort.Strings(paths)

	chunks := make([]AudioChunk, 0, len(paths))
	for i, p := range paths {
		start := time.Duration(i) * length
		if start >= total {
			break
		}
		chunks = append(chunks, AudioChunk{
			Index: i,
			Path:  p,
			Start: start,
			End:   min(start+length, total),
		})
	}
	if len(chunks) == 0 {
		return nil, fmt.Errorf("ffmpeg produced no audio chunks")
	}
	return chunks, nil
}

func formatSeconds(d time.Duration) string {
	return strconv.FormatFloat(d.Seconds(), 'f', 3, 64)
}
