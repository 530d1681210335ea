package media

import (
	"bufio"
	"fmt"
	"io"
	"time"
)

// FormatTimestamp renders d as an SRT timestamp, HH:MM:SS,mmm.
func FormatTimestamp(d time.Duration) string {
	if d < 0 {
		d = 0
	}
	ms := d.Milliseconds()
	h := ms / 3_600_000
	ms -= h * 3_600_000
	m := ms / 60_000
	ms -= m * 60_000
	s := ms / 1000
	ms -= s * 1000
	return fmt.Sprintf("%02d:%02d:%02d,%03d", h, m, s, ms)
}

// WriteSRT writes segs as numbered SubRip cues.
func WriteSRT(w io.Writer, segs []Segment) error {
	bw := bufio.NewWriter(w)
	for i, s := range segs {
		fmt.Fprintf(bw, "%d\n%s --> %s\n%s\n\n", i+1, FormatTimestamp(s.Start), FormatTimestamp(s.End), s.Text)
	}
	return bw.Flush()
}

// WriteText writes one line per segment.
func WriteText(w io.Writer, segs []Segment) error {
	bw := bufio.NewWriter(w)
	for _, s := range segs {
		fmt.Fprintln(bw, s.Text)
	}
	return bw.Flush()
}
