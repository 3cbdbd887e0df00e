// Package logsink routes a child's stdout and stderr to append-only files.
package logsink

import (
	"errors"
	"fmt"
	"io"
	"os"
	"path/filepath"
	"sync"
	"time"

	"github.com/Paintersrp/procsup/internal/spec"
)

const (
	dirPerm  = 0o755
	filePerm = 0o644
)

// SinkError reports a log file that could not be opened. The spawn attempt
// that needed it is abandoned.
type SinkError struct {
	Name string
	Path string
	Err  error
}

func (e *SinkError) Error() string {
	return fmt.Sprintf("open log sink %s for %s: %v", e.Path, e.Name, e.Err)
}

func (e *SinkError) Unwrap() error { return e.Err }

// Option configures a Router.
type Option func(*Router)

// WithClock overrides the time source used for line prefixes.
func WithClock(now func() time.Time) Option {
	return func(r *Router) {
		if now != nil {
			r.now = now
		}
	}
}

// Router opens log sinks for process specs.
type Router struct {
	now  func() time.Time
	open func(path string) (io.WriteCloser, error)
}

// NewRouter constructs a Router that opens files on the local filesystem.
func NewRouter(opts ...Option) *Router {
	r := &Router{now: time.Now, open: openAppend}
	for _, opt := range opts {
		opt(r)
	}
	return r
}

func openAppend(path string) (io.WriteCloser, error) {
	if err := os.MkdirAll(filepath.Dir(path), dirPerm); err != nil {
		return nil, err
	}
	return os.OpenFile(path, os.O_APPEND|os.O_CREATE|os.O_WRONLY, filePerm)
}

// Sinks holds the two output streams of one process handle.
type Sinks struct {
	Stdout io.Writer
	Stderr io.Writer

	closeOnce sync.Once
	closeErr  error
	closers   []io.Closer
}

// Close releases the underlying files. It is safe to call more than once.
func (s *Sinks) Close() error {
	if s == nil {
		return nil
	}
	s.closeOnce.Do(func() {
		var errs []error
		for _, c := range s.closers {
			if err := c.Close(); err != nil {
				errs = append(errs, err)
			}
		}
		s.closeErr = errors.Join(errs...)
	})
	return s.closeErr
}

// Open acquires the stdout and stderr sinks declared by s. When the second
// sink cannot be opened the first is released before the error is returned.
func (r *Router) Open(s spec.ProcessSpec) (*Sinks, error) {
	sinks := &Sinks{}

	stdout, err := r.open(s.StdoutPath)
	if err != nil {
		return nil, &SinkError{Name: s.Name, Path: s.StdoutPath, Err: err}
	}
	sinks.closers = append(sinks.closers, stdout)

	var outW, errW io.Writer
	if filepath.Clean(s.StderrPath) == filepath.Clean(s.StdoutPath) {
		shared := &lockedWriter{w: stdout}
		outW, errW = shared, shared
	} else {
		stderr, err := r.open(s.StderrPath)
		if err != nil {
			_ = sinks.Close()
			return nil, &SinkError{Name: s.Name, Path: s.StderrPath, Err: err}
		}
		sinks.closers = append(sinks.closers, stderr)
		outW, errW = stdout, stderr
	}

	if s.LogDateFormat != "" {
		layout := ConvertDateFormat(s.LogDateFormat)
		outW = newLineWriter(outW, layout, r.now)
		errW = newLineWriter(errW, layout, r.now)
	}
	sinks.Stdout = outW
	sinks.Stderr = errW
	return sinks, nil
}

type lockedWriter struct {
	mu sync.Mutex
	w  io.Writer
}

func (l *lockedWriter) Write(p []byte) (int, error) {
	l.mu.Lock()
	defer l.mu.Unlock()
	return l.w.Write(p)
}
