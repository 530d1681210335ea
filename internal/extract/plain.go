package extract

import (
	"bufio"
	"bytes"
	"context"
	"os"
	"strings"
	"unicode/utf8"
)

var utf8BOM = []byte{0xEF, 0xBB, 0xBF}

func plainText(_ context.Context, p string) (string, error) {
	data, err := os.ReadFile(p)
	if err != nil {
		return "", err
	}
	return decodeText(data), nil
}

func decodeText(data []byte) string {
	data = bytes.TrimPrefix(data, utf8BOM)
	if utf8.Valid(data) {
		return string(data)
	}
	return strings.ToValidUTF8(string(data), "\uFFFD")
}

// srtText keeps only cue text, one line per cue.
func srtText(ctx context.Context, p string) (string, error) {
	raw, err := plainText(ctx, p)
	if err != nil {
		return "", err
	}
	return parseSRT(raw), nil
}

func parseSRT(raw string) string {
	var out strings.Builder
	var cue []string
	flush := func() {
		if len(cue) > 0 {
			out.WriteString(strings.Join(cue, " "))
			out.WriteByte('\n')
			cue = cue[:0]
		}
	}

	sc := bufio.NewScanner(strings.NewReader(strings.ReplaceAll(raw, "\r\n", "\n")))
	sc.Buffer(make([]byte, 0, 64*1024), 1<<20)
	for sc.Scan() {
		line := strings.TrimSpace(sc.Text())
		switch {
		case line == "":
			flush()
		case strings.Contains(line, "-->"):
			continue
		case isDigits(line) && len(cue) == 0:
			continue
		default:
			cue = append(cue, line)
		}
	}
	flush()
	return out.String()
}

func isDigits(s string) bool {
	for _, r := range s {
		if r < '0' || r > '9' {
			return false
		}
	}
	return s != ""
}
