package cli

import (
	"encoding/json"
	"errors"
	"fmt"
	"io/fs"
	"os"
	"strconv"
	"text/tabwriter"
	"time"

	units "github.com/docker/go-units"
	"github.com/shirou/gopsutil/v4/process"
	"github.com/spf13/cobra"

	"github.com/Paintersrp/procsup/internal/engine"
	"github.com/Paintersrp/procsup/internal/metrics"
	"github.com/Paintersrp/procsup/internal/statefile"
)

func newStatusCmd(ctx *context) *cobra.Command {
	var (
		stateFile string
		output    string
		noUsage   bool
	)

	cmd := &cobra.Command{
		Use:   "status",
		Short: "Show the process table of the running supervisor",
		Args:  cobra.NoArgs,
		RunE: func(cmd *cobra.Command, args []string) error {
			path := stateFile
			if path == "" {
				path = statefile.DefaultPath(ctx.home)
			}
			snap, err := statefile.Read(path)
			if errors.Is(err, fs.ErrNotExist) {
				return &ExitError{Code: exitError, Err: fmt.Errorf("no state file at %s; is procsup start running?", path)}
			}
			if err != nil {
				return err
			}

			out := cmd.OutOrStdout()
			if output == "json" {
				enc := json.NewEncoder(out)
				enc.SetIndent("", "  ")
				return enc.Encode(snap)
			}

			alive := supervisorAlive(snap.SupervisorPID)
			now := time.Now()
			w := tabwriter.NewWriter(out, 0, 4, 2, ' ', 0)
			fmt.Fprintln(w, "NAME\tSTATE\tPID\tUPTIME\tRESTARTS\tFAST FAILS\tCPU\tMEM\tLOGS\tMESSAGE")
			for _, p := range snap.Processes {
				pid := "-"
				uptime := "-"
				cpu := "-"
				mem := "-"
				if p.PID > 0 {
					pid = strconv.Itoa(p.PID)
				}
				if d := p.Uptime(now); d > 0 && alive {
					uptime = units.HumanDuration(d)
				}
				if alive && p.PID > 0 && !noUsage {
					if usage, err := metrics.ReadUsage(p.PID); err == nil {
						cpu = fmt.Sprintf("%.1f%%", usage.CPUPercent)
						mem = units.BytesSize(float64(usage.RSS))
					}
				}
				message := truncateMessage(p.Message, 80)
				fmt.Fprintf(w, "%s\t%s\t%s\t%s\t%d\t%d\t%s\t%s\t%s\t%s\n",
					p.Name, formatState(p.State, alive), pid, uptime, p.Restarts, p.FastFailures,
					cpu, mem, logSizes(p), message)
			}
			if err := w.Flush(); err != nil {
				return err
			}

			fmt.Fprintf(out, "\nEcosystem: %s\n", snap.Ecosystem)
			if alive {
				fmt.Fprintf(out, "Supervisor pid %d, updated %s ago\n", snap.SupervisorPID, units.HumanDuration(now.Sub(snap.UpdatedAt)))
			} else {
				fmt.Fprintf(out, "Supervisor pid %d is not running; showing the last recorded state from %s\n",
					snap.SupervisorPID, snap.UpdatedAt.Format(time.RFC3339))
			}
			return nil
		},
	}
	cmd.Flags().StringVar(&stateFile, "state-file", "", "State file written by procsup start (default <home>/state.json)")
	cmd.Flags().StringVarP(&output, "output", "o", "table", "Output format: table or json")
	cmd.Flags().BoolVar(&noUsage, "no-usage", false, "Skip sampling CPU and memory of running processes")
	return cmd
}

// truncateMessage shortens s to at most limit runes, ending in "...".
func truncateMessage(s string, limit int) string {
	if s == "" {
		return "-"
	}
	runes := []rune(s)
	if len(runes) <= limit {
		return s
	}
	return string(runes[:limit-3]) + "..."
}

func supervisorAlive(pid int) bool {
	if pid <= 0 {
		return false
	}
	alive, err := process.PidExists(int32(pid))
	return err == nil && alive
}

func formatState(st engine.State, alive bool) string {
	if !alive && st.Active() {
		return st.String() + " (stale)"
	}
	return st.String()
}

func logSizes(p statefile.Process) string {
	size := func(path string) string {
		if path == "" {
			return "-"
		}
		info, err := os.Stat(path)
		if err != nil {
			return "-"
		}
		return units.HumanSize(float64(info.Size()))
	}
	if p.StdoutPath == p.StderrPath {
		return size(p.StdoutPath)
	}
	return size(p.StdoutPath) + "/" + size(p.StderrPath)
}
