package media

import (
	"bytes"
	"context"
	"errors"
	"fmt"
	"os"
	"path/filepath"
	"strings"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/mattjoyce/mediaflow/internal/jobs"
)

type call struct {
	name string
	args []string
}

type fakeRunner struct {
	calls  []call
	handle func(name string, args []string) (CommandResult, error)
}

func (f *fakeRunner) Run(_ context.Context, name string, args ...string) (CommandResult, error) {
	f.calls = append(f.calls, call{name: name, args: args})
	if f.handle == nil {
		return CommandResult{}, nil
	}
	return f.handle(name, args)
}

// touchOutput creates the last argument as a file, mimicking ffmpeg.
func touchOutput(args []string) error {
	return os.WriteFile(args[len(args)-1], []byte("RIFF"), 0o644)
}

func newFFmpeg(r CommandRunner) *FFmpeg {
	return &FFmpeg{
		Bin:        "ffmpeg",
		ProbeBin:   "ffprobe",
		SampleRate: 16000,
		MaxSegment: 300 * time.Second,
		Filter:     "afftdn=nf=-25",
		Runner:     r,
	}
}

func TestExecRunnerCapturesExitCode(t *testing.T) {
	res, err := ExecRunner{}.Run(context.Background(), "sh", "-c", "echo out; echo err >&2; exit 3")
	require.Error(t, err)
	assert.Equal(t, 3, res.ExitCode)
	assert.Equal(t, "out\n", res.Stdout)
	assert.Equal(t, "err\n", res.Stderr)
}

func TestFFmpegPrepareWindows(t *testing.T) {
	dir := t.TempDir()
	r := &fakeRunner{handle: func(name string, args []string) (CommandResult, error) {
		if name == "ffprobe" {
			return CommandResult{Stdout: "700.5\n"}, nil
		}
		return CommandResult{}, touchOutput(args)
	}}
	f := newFFmpeg(r)

	out, err := f.Prepare(context.Background(), "/in/clip.mp4", dir, nil)
	require.NoError(t, err)
	assert.Equal(t, filepath.Join(dir, "prepared.wav"), out)

	// probe + 3 windows + concat
	require.Len(t, r.calls, 5)
	first := strings.Join(r.calls[1].args, " ")
	assert.Contains(t, first, "-ss 0.000 -t 300.000 -i /in/clip.mp4 -vn -ac 1 -ar 16000 -af afftdn=nf=-25 -c:a pcm_s16le")
	last := strings.Join(r.calls[3].args, " ")
	assert.Contains(t, last, "-ss 600.000 -t 100.500")
	assert.Contains(t, strings.Join(r.calls[4].args, " "), "-f concat -safe 0")
}

func TestFFmpegPrepareStopsWhenCanceled(t *testing.T) {
	r := &fakeRunner{handle: func(name string, args []string) (CommandResult, error) {
		if name == "ffprobe" {
			return CommandResult{Stdout: "900"}, nil
		}
		return CommandResult{}, touchOutput(args)
	}}
	windows := 0
	_, err := newFFmpeg(r).Prepare(context.Background(), "in.mp4", t.TempDir(), func() bool {
		windows++
		return windows > 1
	})
	require.Error(t, err)
	assert.True(t, jobs.IsCanceled(err))
	assert.Len(t, r.calls, 2)
}

func TestFFmpegCommandError(t *testing.T) {
	r := &fakeRunner{handle: func(name string, args []string) (CommandResult, error) {
		return CommandResult{ExitCode: 1, Stderr: "line one\nInvalid data found"}, errors.New("exit status 1")
	}}
	_, err := newFFmpeg(r).Duration(context.Background(), "bad.mp4")
	var cmdErr *CommandError
	require.ErrorAs(t, err, &cmdErr)
	assert.Equal(t, "ffprobe exited with code 1: Invalid data found", err.Error())
}

func TestFFmpegSegment(t *testing.T) {
	dir := t.TempDir()
	r := &fakeRunner{handle: func(name string, args []string) (CommandResult, error) {
		if name == "ffprobe" {
			return CommandResult{Stdout: "65"}, nil
		}
		for i := 0; i < 3; i++ {
			if err := os.WriteFile(filepath.Join(dir, fmt.Sprintf("chunk_%04d.wav", i)), nil, 0o644); err != nil {
				return CommandResult{}, err
			}
		}
		return CommandResult{}, nil
	}}

	chunks, err := newFFmpeg(r).Segment(context.Background(), "prepared.wav", dir, 30*time.Second)
	require.NoError(t, err)
	require.Len(t, chunks, 3)
	assert.Equal(t, 60*time.Second, chunks[2].Start)
	assert.Equal(t, 65*time.Second, chunks[2].End)
}

func TestWhisperTranscribeOffsets(t *testing.T) {
	dir := t.TempDir()
	chunk := AudioChunk{Index: 1, Path: filepath.Join(dir, "chunk_0001.wav"), Start: 30 * time.Second}
	r := &fakeRunner{handle: func(name string, args []string) (CommandResult, error) {
		body := `{"transcription":[
			{"offsets":{"from":0,"to":1500},"text":" hello "},
			{"offsets":{"from":1500,"to":2000},"text":"  "},
			{"offsets":{"from":2000,"to":4250},"text":"world"}]}`
		return CommandResult{}, os.WriteFile(filepath.Join(dir, "chunk_0001.json"), []byte(body), 0o644)
	}}
	w := &Whisper{Bin: "whisper-cli", ModelPath: "m.bin", Language: "auto", Threads: 4, Runner: r}

	segs, err := w.Transcribe(context.Background(), chunk)
	require.NoError(t, err)
	require.Len(t, segs, 2)
	assert.Equal(t, Segment{Start: 30 * time.Second, End: 31500 * time.Millisecond, Text: "hello"}, segs[0])
	assert.Equal(t, 34250*time.Millisecond, segs[1].End)

	args := strings.Join(r.calls[0].args, " ")
	assert.Contains(t, args, "-m m.bin -f "+chunk.Path)
	assert.Contains(t, args, "-oj")
	assert.NotContains(t, args, "-l ")
	assert.Contains(t, args, "-t 4")
}

func TestFormatTimestamp(t *testing.T) {
	tests := []struct {
		in   time.Duration
		want string
	}{
		{0, "00:00:00,000"},
		{1500 * time.Millisecond, "00:00:01,500"},
		{time.Hour + 2*time.Minute + 3*time.Second + 45*time.Millisecond, "01:02:03,045"},
		{-time.Second, "00:00:00,000"},
	}
	for _, tt := range tests {
		assert.Equal(t, tt.want, FormatTimestamp(tt.in))
	}
}

func TestWriteSRTAndText(t *testing.T) {
	segs := []Segment{
		{Start: 0, End: 2 * time.Second, Text: "first"},
		{Start: 2 * time.Second, End: 3 * time.Second, Text: "second"},
	}
	var srt, txt bytes.Buffer
	require.NoError(t, WriteSRT(&srt, segs))
	require.NoError(t, WriteText(&txt, segs))

	assert.Equal(t, "1\n00:00:00,000 --> 00:00:02,000\nfirst\n\n2\n00:00:02,000 --> 00:00:03,000\nsecond\n\n", srt.String())
	assert.Equal(t, "first\nsecond\n", txt.String())
}
