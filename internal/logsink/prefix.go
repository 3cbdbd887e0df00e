package logsink

import (
	"bytes"
	"io"
	"strings"
	"sync"
	"time"
)

// lineWriter prefixes every line written through it with a timestamp.
type lineWriter struct {
	mu        sync.Mutex
	w         io.Writer
	layout    string
	now       func() time.Time
	lineStart bool
}

func newLineWriter(w io.Writer, layout string, now func() time.Time) *lineWriter {
	return &lineWriter{w: w, layout: layout, now: now, lineStart: true}
}

func (l *lineWriter) Write(p []byte) (int, error) {
	l.mu.Lock()
	defer l.mu.Unlock()

	var buf bytes.Buffer
	rest := p
	for len(rest) > 0 {
		if l.lineStart {
			buf.WriteString(l.now().Format(l.layout))
			buf.WriteString(": ")
			l.lineStart = false
		}
		idx := bytes.IndexByte(rest, '\n')
		if idx < 0 {
			buf.Write(rest)
			break
		}
		buf.Write(rest[:idx+1])
		rest = rest[idx+1:]
		l.lineStart = true
	}
	if _, err := l.w.Write(buf.Bytes()); err != nil {
		return 0, err
	}
	return len(p), nil
}

// moment-style tokens, longest first so "YYYY" wins over "YY".
var dateTokens = []struct {
	token  string
	layout string
}{
	{"YYYY", "2006"},
	{"YY", "06"},
	{"MMMM", "January"},
	{"MMM", "Jan"},
	{"MM", "01"},
	{"M", "1"},
	{"dddd", "Monday"},
	{"ddd", "Mon"},
	{"DD", "02"},
	{"D", "2"},
	{"HH", "15"},
	{"hh", "03"},
	{"h", "3"},
	{"mm", "04"},
	{"m", "4"},
	{"ss", "05"},
	{"s", "5"},
	{"SSS", "000"},
	{"ZZ", "-0700"},
	{"Z", "-07:00"},
	{"A", "PM"},
	{"a", "pm"},
}

// ConvertDateFormat translates a moment.js style format (as used by
// ecosystem files, e.g. "YYYY-MM-DD HH:mm:ss Z") into a Go time layout.
// Text wrapped in square brackets is copied literally.
func ConvertDateFormat(format string) string {
	var b strings.Builder
	for i := 0; i < len(format); {
		if format[i] == '[' {
			if end := strings.IndexByte(format[i:], ']'); end > 0 {
				b.WriteString(format[i+1 : i+end])
				i += end + 1
				continue
			}
		}
		matched := false
		for _, tok := range dateTokens {
			if strings.HasPrefix(format[i:], tok.token) {
				b.WriteString(tok.layout)
				i += len(tok.token)
				matched = true
				break
			}
		}
		if !matched {
			b.WriteByte(format[i])
			i++
		}
	}
	return b.String()
}
