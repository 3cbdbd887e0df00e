package cli

import (
	stdcontext "context"
	"errors"
	"fmt"
	"log/slog"
	"os"
	"os/signal"
	"strconv"
	"syscall"

	"github.com/spf13/cobra"

	"github.com/Paintersrp/procsup/internal/config"
	"github.com/Paintersrp/procsup/internal/logging"
	"github.com/Paintersrp/procsup/internal/spec"
)

const (
	exitOK     = 0
	exitError  = 1
	exitFailed = 3

	defaultEcosystemFile = "ecosystem.config.yaml"
)

// ExitError carries a process exit code out of a command.
type ExitError struct {
	Code int
	Err  error
}

func (e *ExitError) Error() string {
	if e.Err == nil {
		return fmt.Sprintf("exit status %d", e.Code)
	}
	return e.Err.Error()
}

func (e *ExitError) Unwrap() error { return e.Err }

// ExitCode maps a command error to the process exit status.
func ExitCode(err error) int {
	if err == nil {
		return exitOK
	}
	var exitErr *ExitError
	if errors.As(err, &exitErr) {
		return exitErr.Code
	}
	return exitError
}

func NewRootCmd() *cobra.Command {
	root, _ := newRootCommand()
	return root
}

func newRootCommand() (*cobra.Command, *context) {
	ctx := &context{
		file: envOr("PROCSUP_FILE", defaultEcosystemFile),
		home: config.DefaultHome(),
	}
	if value := os.Getenv("PROCSUP_LOG_LEVEL"); value != "" {
		_ = ctx.logLevel.Set(value)
	}
	if value := os.Getenv("PROCSUP_LOG_FORMAT"); value != "" {
		_ = ctx.logFormat.Set(value)
	}

	root := &cobra.Command{
		Use:   "procsup",
		Short: "Single-node process supervisor",
		PersistentPreRunE: func(cmd *cobra.Command, args []string) error {
			logger, err := logging.New(logging.Config{
				Level:  ctx.logLevel.Level,
				Format: ctx.logFormat.Format,
			}, cmd.ErrOrStderr())
			if err != nil {
				return err
			}
			ctx.logger = logger
			return nil
		},
	}

	flags := root.PersistentFlags()
	flags.StringVarP(&ctx.file, "file", "f", ctx.file, "Path to the ecosystem file")
	flags.StringVar(&ctx.home, "home", ctx.home, "Directory for default log, pid and state files (env PROCSUP_HOME)")
	flags.Var(&ctx.logLevel, "log-level", "Supervisor log level: debug, info, warn or error")
	flags.Var(&ctx.logFormat, "log-format", "Supervisor log format: text, json or journal")

	root.AddCommand(newStartCmd(ctx))
	root.AddCommand(newValidateCmd(ctx))
	root.AddCommand(newDescribeCmd(ctx))
	root.AddCommand(newStatusCmd(ctx))
	root.AddCommand(newLogsCmd(ctx))

	root.SilenceUsage = true
	root.SilenceErrors = true

	return root, ctx
}

// Execute runs the CLI entrypoint.
func Execute() {
	ctx, stop := signal.NotifyContext(stdcontext.Background(), os.Interrupt, syscall.SIGTERM)
	defer stop()

	root := NewRootCmd()
	root.SetContext(ctx)

	err := root.ExecuteContext(ctx)
	if err != nil {
		var exitErr *ExitError
		if !errors.As(err, &exitErr) || exitErr.Err != nil {
			fmt.Fprintln(os.Stderr, err)
		}
	}
	stop()
	os.Exit(ExitCode(err))
}

// context holds the global flags shared by every command.
type context struct {
	file      string
	home      string
	logLevel  logging.LevelValue
	logFormat logging.FormatValue
	logger    *slog.Logger
}

func (c *context) log() *slog.Logger {
	if c.logger == nil {
		return slog.Default()
	}
	return c.logger
}

func (c *context) loadEcosystem() (*config.Ecosystem, error) {
	eco, err := config.Load(c.file, config.Options{Home: c.home})
	if err != nil {
		return nil, &ExitError{Code: exitError, Err: err}
	}
	return eco, nil
}

// selectSpecs returns the specs named by names, or every spec when names is
// empty. An app name with several instances selects all of them.
func selectSpecs(specs []spec.ProcessSpec, apps []config.App, names []string) ([]spec.ProcessSpec, error) {
	if len(names) == 0 {
		return specs, nil
	}
	groups := make(map[string][]string, len(apps))
	for _, app := range apps {
		if app.Instances == nil || *app.Instances <= 1 {
			continue
		}
		for i := 0; i < *app.Instances; i++ {
			groups[app.Name] = append(groups[app.Name], app.Name+"-"+strconv.Itoa(i))
		}
	}

	byName := make(map[string]spec.ProcessSpec, len(specs))
	for _, ps := range specs {
		byName[ps.Name] = ps
	}

	selected := make(map[string]bool)
	var errs []error
	for _, name := range names {
		members, ok := groups[name]
		if !ok {
			members = []string{name}
		}
		for _, member := range members {
			if _, ok := byName[member]; !ok {
				errs = append(errs, fmt.Errorf("unknown process %q", member))
				continue
			}
			selected[member] = true
		}
	}
	if len(errs) > 0 {
		return nil, errors.Join(errs...)
	}

	var out []spec.ProcessSpec
	for _, ps := range specs {
		if selected[ps.Name] {
			out = append(out, ps)
		}
	}
	return out, nil
}

func envOr(key, def string) string {
	if value := os.Getenv(key); value != "" {
		return value
	}
	return def
}
