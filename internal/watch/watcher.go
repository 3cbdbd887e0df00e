// Package watch restarts processes when files in their working directory
// change.
package watch

import (
	"context"
	"errors"
	"fmt"
	"io/fs"
	"log/slog"
	"os"
	"path/filepath"
	"time"

	"github.com/fsnotify/fsnotify"
	"vawter.tech/stopper"

	"github.com/Paintersrp/procsup/internal/engine"
	"github.com/Paintersrp/procsup/internal/spec"
)

// Supervisor is the part of engine.Supervisor the watcher drives.
type Supervisor interface {
	Status(ctx context.Context, name string) (engine.Handle, error)
	Restart(ctx context.Context, name string) error
}

// Watcher owns one fsnotify watcher per process with watching enabled.
type Watcher struct {
	sup     Supervisor
	logger  *slog.Logger
	targets []*target
}

type target struct {
	spec    spec.ProcessSpec
	root    string
	ignore  *matcher
	fs      *fsnotify.Watcher
	logger  *slog.Logger
	restart func(ctx context.Context) error
}

// New prepares watchers for every spec with watching enabled. Nothing is
// observed until Run is called.
func New(sup Supervisor, specs []spec.ProcessSpec, logger *slog.Logger) (*Watcher, error) {
	if logger == nil {
		logger = slog.Default()
	}
	w := &Watcher{sup: sup, logger: logger.With("component", "watch")}
	for _, ps := range specs {
		if !ps.Watch.Enabled {
			continue
		}
		t, err := w.newTarget(ps)
		if err != nil {
			w.close()
			return nil, fmt.Errorf("watch %s: %w", ps.Name, err)
		}
		w.targets = append(w.targets, t)
	}
	return w, nil
}

// Len reports how many processes are watched.
func (w *Watcher) Len() int {
	return len(w.targets)
}

func (w *Watcher) newTarget(ps spec.ProcessSpec) (*target, error) {
	ignore, err := newMatcher(ps.Watch.Ignore)
	if err != nil {
		return nil, err
	}
	ignore.ignoreFile(ps.StdoutPath)
	ignore.ignoreFile(ps.StderrPath)
	ignore.ignoreFile(ps.PidFile)

	fsw, err := fsnotify.NewWatcher()
	if err != nil {
		return nil, err
	}
	t := &target{
		spec:   ps,
		root:   ps.Cwd,
		ignore: ignore,
		fs:     fsw,
		logger: w.logger.With("process", ps.Name),
	}
	t.restart = func(ctx context.Context) error { return w.restart(ctx, ps.Name) }

	paths := ps.Watch.Paths
	if len(paths) == 0 {
		paths = []string{"."}
	}
	for _, p := range paths {
		if !filepath.IsAbs(p) {
			p = filepath.Join(ps.Cwd, p)
		}
		if err := t.addTree(p); err != nil {
			_ = fsw.Close()
			return nil, err
		}
	}
	return t, nil
}

// Run watches until ctx is cancelled.
func (w *Watcher) Run(ctx context.Context) error {
	if len(w.targets) == 0 {
		<-ctx.Done()
		return nil
	}
	sctx := stopper.WithContext(ctx)
	for _, t := range w.targets {
		t := t
		sctx.Defer(func() { _ = t.fs.Close() })
		sctx.Go(func(sctx *stopper.Context) error {
			return t.loop(ctx, sctx)
		})
		t.logger.Info("watching for changes", "root", t.root, "delay", t.spec.Watch.Delay)
	}
	<-ctx.Done()
	sctx.Stop(time.Second)
	return sctx.Wait()
}

func (w *Watcher) close() {
	for _, t := range w.targets {
		_ = t.fs.Close()
	}
}

// restart skips processes that were stopped on purpose or gave up.
func (w *Watcher) restart(ctx context.Context, name string) error {
	h, err := w.sup.Status(ctx, name)
	if err != nil {
		return err
	}
	if h.State == engine.StateStopped || h.State == engine.StateFailed {
		return nil
	}
	return w.sup.Restart(ctx, name)
}

func (t *target) loop(ctx context.Context, sctx *stopper.Context) error {
	var timer *time.Timer
	var timerC <-chan time.Time
	defer func() {
		if timer != nil {
			timer.Stop()
		}
	}()

	for !sctx.IsStopping() {
		select {
		case <-sctx.Stopping():
			return nil

		case event, ok := <-t.fs.Events:
			if !ok {
				return nil
			}
			if !t.relevant(event) {
				continue
			}
			if event.Op&fsnotify.Create != 0 {
				if info, err := os.Stat(event.Name); err == nil && info.IsDir() {
					if err := t.addTree(event.Name); err != nil {
						t.logger.Warn("watch new directory", "path", event.Name, "error", err)
					}
				}
			}
			t.logger.Debug("change detected", "path", event.Name, "op", event.Op.String())
			if timer != nil {
				timer.Stop()
			}
			timer = time.NewTimer(t.spec.Watch.Delay)
			timerC = timer.C

		case <-timerC:
			timerC = nil
			t.logger.Info("files changed, restarting")
			if err := t.restart(ctx); err != nil && !errors.Is(err, context.Canceled) {
				t.logger.Warn("restart after change failed", "error", err)
			}

		case err, ok := <-t.fs.Errors:
			if !ok {
				return nil
			}
			t.logger.Warn("watcher error", "error", err)
		}
	}
	return nil
}

func (t *target) relevant(event fsnotify.Event) bool {
	if event.Op == fsnotify.Chmod {
		return false
	}
	return !t.ignore.Match(t.root, event.Name)
}

// addTree adds root and every non-ignored directory below it; fsnotify
// watches are not recursive.
func (t *target) addTree(root string) error {
	info, err := os.Stat(root)
	if err != nil {
		return err
	}
	if !info.IsDir() {
		return t.fs.Add(root)
	}
	return filepath.WalkDir(root, func(path string, d fs.DirEntry, err error) error {
		if err != nil {
			if path == root {
				return err
			}
			return nil
		}
		if !d.IsDir() {
			return nil
		}
		if path != root && t.ignore.Match(t.root, path) {
			return filepath.SkipDir
		}
		return t.fs.Add(path)
	})
}
