package cli

import (
	stdcontext "context"
	"encoding/json"
	"errors"
	"fmt"
	"log/slog"
	"os"
	"path/filepath"
	"sync/atomic"
	"time"

	"github.com/coreos/go-systemd/v22/daemon"
	"github.com/spf13/cobra"
	"golang.org/x/term"
	"vawter.tech/stopper"

	"github.com/Paintersrp/procsup/internal/cliutil"
	"github.com/Paintersrp/procsup/internal/engine"
	"github.com/Paintersrp/procsup/internal/events"
	"github.com/Paintersrp/procsup/internal/logging"
	"github.com/Paintersrp/procsup/internal/metrics"
	"github.com/Paintersrp/procsup/internal/runtime"
	_ "github.com/Paintersrp/procsup/internal/runtime/process"
	"github.com/Paintersrp/procsup/internal/statefile"
	"github.com/Paintersrp/procsup/internal/tui"
	"github.com/Paintersrp/procsup/internal/watch"
)

type startOptions struct {
	tui             bool
	eventsJSON      bool
	noWatch         bool
	stateFile       string
	metricsTextfile string
	metricsInterval time.Duration
	stopTimeout     time.Duration
}

func newStartCmd(ctx *context) *cobra.Command {
	opts := startOptions{
		metricsInterval: 15 * time.Second,
		stopTimeout:     30 * time.Second,
	}
	cmd := &cobra.Command{
		Use:   "start [name...]",
		Short: "Start the ecosystem processes and supervise them until interrupted",
		RunE: func(cmd *cobra.Command, args []string) error {
			if opts.tui && !supportsInteractiveOutput(cmd) {
				return fmt.Errorf("--tui requires an interactive terminal")
			}
			return runStart(cmd, ctx, opts, args)
		},
	}
	flags := cmd.Flags()
	flags.BoolVar(&opts.tui, "tui", false, "Show the interactive dashboard")
	flags.BoolVar(&opts.eventsJSON, "events-json", false, "Print lifecycle events to stdout as JSON lines")
	flags.BoolVar(&opts.noWatch, "no-watch", false, "Ignore watch settings in the ecosystem file")
	flags.StringVar(&opts.stateFile, "state-file", "", "Where to write the process table (default <home>/state.json)")
	flags.StringVar(&opts.metricsTextfile, "metrics-textfile", "", "Write Prometheus metrics to this file for the node_exporter textfile collector")
	flags.DurationVar(&opts.metricsInterval, "metrics-interval", opts.metricsInterval, "How often the metrics textfile is rewritten")
	flags.DurationVar(&opts.stopTimeout, "stop-timeout", opts.stopTimeout, "Maximum time to wait for processes to stop on shutdown")
	return cmd
}

func supportsInteractiveOutput(cmd *cobra.Command) bool {
	f, ok := cmd.OutOrStdout().(*os.File)
	if !ok {
		return false
	}
	return term.IsTerminal(int(f.Fd()))
}

func runStart(cmd *cobra.Command, ctx *context, opts startOptions, names []string) error {
	runCtx := cmd.Context()
	if runCtx == nil {
		runCtx = stdcontext.Background()
	}

	eco, err := ctx.loadEcosystem()
	if err != nil {
		return err
	}
	specs, err := selectSpecs(eco.Specs, eco.Apps, names)
	if err != nil {
		return &ExitError{Code: exitError, Err: err}
	}

	logger := ctx.log()
	if opts.tui {
		closeLog, tuiLogger, err := fileLogger(ctx)
		if err != nil {
			return err
		}
		defer closeLog()
		logger = tuiLogger
	}

	statePath := opts.stateFile
	if statePath == "" {
		statePath = statefile.DefaultPath(ctx.home)
	}

	bus := events.New()
	defer bus.Close()

	tracker := statefile.NewTracker(eco.Path, specs)
	var anyFailed atomic.Bool
	bus.Tap(tracker.Apply)
	bus.Tap(metrics.Apply)
	bus.Tap(func(evt engine.Event) {
		if evt.Type == engine.EventTypeFailed {
			anyFailed.Store(true)
		}
	})
	stateLog := logging.Module(logger, "statefile")
	unsubState := bus.Subscribe(func(engine.Event) {
		if err := statefile.Write(statePath, tracker.Snapshot()); err != nil {
			stateLog.Warn("write state file", "path", statePath, "error", err)
		}
	})
	defer unsubState()

	if opts.eventsJSON {
		enc := json.NewEncoder(cmd.OutOrStdout())
		errOut := cmd.ErrOrStderr()
		unsub := bus.Subscribe(func(evt engine.Event) {
			cliutil.EncodeEvent(enc, errOut, evt)
		})
		defer unsub()
	}

	var ui *tui.UI
	eventCh := make(chan engine.Event, 64)
	sup := engine.New(runtime.NewRegistry(),
		engine.WithLogger(logging.Module(logger, "engine")),
		engine.WithEvents(eventCh),
	)
	pumped := make(chan struct{})
	go func() {
		defer close(pumped)
		bus.Pump(eventCh, sup.Done())
	}()

	if opts.tui {
		ui = tui.New(tui.WithController(sup))
		sink := ui.EventSink()
		unsub := bus.Subscribe(func(evt engine.Event) {
			select {
			case sink <- evt:
			case <-ui.Done():
			}
		})
		defer unsub()
	}

	if err := sup.Load(runCtx, specs); err != nil {
		_ = sup.Shutdown(stdcontext.Background())
		<-pumped
		return &ExitError{Code: exitError, Err: err}
	}

	workerCtx, cancelWorkers := stdcontext.WithCancel(runCtx)
	defer cancelWorkers()
	workers := stopper.WithContext(workerCtx)
	if !opts.noWatch {
		watcher, err := watch.New(sup, specs, logging.Module(logger, "watch"))
		if err != nil {
			_ = sup.Shutdown(stdcontext.Background())
			<-pumped
			return &ExitError{Code: exitError, Err: err}
		}
		if watcher.Len() > 0 {
			workers.Go(func(*stopper.Context) error {
				return watcher.Run(workerCtx)
			})
		}
	}
	if opts.metricsTextfile != "" {
		metrics.EmitBuildInfo()
		sampler := metrics.NewSampler()
		metricsLog := logging.Module(logger, "metrics")
		workers.Go(func(sctx *stopper.Context) error {
			writeMetrics(opts.metricsTextfile, sampler, tracker, metricsLog)
			ticker := time.NewTicker(opts.metricsInterval)
			defer ticker.Stop()
			for {
				select {
				case <-sctx.Stopping():
					return nil
				case <-workerCtx.Done():
					return nil
				case <-ticker.C:
					writeMetrics(opts.metricsTextfile, sampler, tracker, metricsLog)
				}
			}
		})
	}

	if err := sup.StartAll(runCtx); err != nil {
		logger.Warn("some processes did not start", "error", err)
	}
	notifySystemd(logger, daemon.SdNotifyReady)

	if ui != nil {
		if err := ui.Run(runCtx); err != nil {
			logger.Error("dashboard failed", "error", err)
		}
	} else {
		<-runCtx.Done()
	}

	notifySystemd(logger, daemon.SdNotifyStopping)
	cancelWorkers()
	workers.Stop(time.Second)
	if err := workers.Wait(); err != nil {
		logger.Warn("background worker failed", "error", err)
	}

	logger.Info("shutting down", "timeout", opts.stopTimeout)
	shutdownCtx, cancel := stdcontext.WithTimeout(stdcontext.Background(), opts.stopTimeout)
	defer cancel()
	shutdownErr := sup.Shutdown(shutdownCtx)
	<-pumped

	if err := statefile.Write(statePath, tracker.Snapshot()); err != nil {
		stateLog.Warn("write state file", "path", statePath, "error", err)
	}
	if opts.metricsTextfile != "" {
		writeMetrics(opts.metricsTextfile, metrics.NewSampler(), tracker, logging.Module(logger, "metrics"))
	}
	if errors.Is(shutdownErr, stdcontext.DeadlineExceeded) {
		logger.Warn("processes did not stop in time and were killed", "timeout", opts.stopTimeout)
	} else if shutdownErr != nil {
		return shutdownErr
	}
	if anyFailed.Load() {
		return &ExitError{Code: exitFailed}
	}
	return nil
}

func writeMetrics(path string, sampler *metrics.Sampler, tracker *statefile.Tracker, logger *slog.Logger) {
	pids := make(map[string]int)
	for _, p := range tracker.Snapshot().Processes {
		if p.PID > 0 {
			pids[p.Name] = p.PID
		}
	}
	sampler.Sample(pids)
	if err := metrics.WriteTextfile(path); err != nil {
		logger.Warn("write metrics textfile", "path", path, "error", err)
	}
}

func notifySystemd(logger *slog.Logger, state string) {
	sent, err := daemon.SdNotify(false, state)
	if err != nil {
		logger.Warn("systemd notify failed", "state", state, "error", err)
		return
	}
	if sent {
		logger.Debug("notified systemd", "state", state)
	}
}

// fileLogger sends supervisor logs to <home>/procsup.log while the dashboard
// owns the terminal.
func fileLogger(ctx *context) (func(), *slog.Logger, error) {
	path := filepath.Join(ctx.home, "procsup.log")
	if err := os.MkdirAll(ctx.home, 0o755); err != nil {
		return nil, nil, err
	}
	f, err := os.OpenFile(path, os.O_APPEND|os.O_CREATE|os.O_WRONLY, 0o644)
	if err != nil {
		return nil, nil, err
	}
	format := ctx.logFormat.Format
	if format == logging.FormatJournal {
		format = logging.FormatText
	}
	logger, err := logging.New(logging.Config{Level: ctx.logLevel.Level, Format: format}, f)
	if err != nil {
		_ = f.Close()
		return nil, nil, err
	}
	return func() { _ = f.Close() }, logger, nil
}
