package cli

import (
	"encoding/json"
	"fmt"
	"sort"
	"strings"

	"github.com/spf13/cobra"
	"gopkg.in/yaml.v3"

	"github.com/Paintersrp/procsup/internal/cliutil"
	"github.com/Paintersrp/procsup/internal/spec"
)

// describedProcess is the printable form of a resolved spec.
type describedProcess struct {
	Name          string            `json:"name" yaml:"name"`
	Command       string            `json:"command" yaml:"command"`
	Args          []string          `json:"args,omitempty" yaml:"args,omitempty"`
	Cwd           string            `json:"cwd" yaml:"cwd"`
	Env           map[string]string `json:"env,omitempty" yaml:"env,omitempty"`
	Stdout        string            `json:"stdout" yaml:"stdout"`
	Stderr        string            `json:"stderr" yaml:"stderr"`
	LogDateFormat string            `json:"log_date_format,omitempty" yaml:"log_date_format,omitempty"`
	PidFile       string            `json:"pid_file" yaml:"pid_file"`
	ExecMode      string            `json:"exec_mode" yaml:"exec_mode"`
	AutoRestart   bool              `json:"autorestart" yaml:"autorestart"`
	MaxRestarts   int               `json:"max_restarts" yaml:"max_restarts"`
	MinUptime     string            `json:"min_uptime" yaml:"min_uptime"`
	RestartDelay  string            `json:"restart_delay" yaml:"restart_delay"`
	KillTimeout   string            `json:"kill_timeout" yaml:"kill_timeout"`
	StopExitCodes []int             `json:"stop_exit_codes,omitempty" yaml:"stop_exit_codes,omitempty"`
	Watch         *describedWatch   `json:"watch,omitempty" yaml:"watch,omitempty"`
}

type describedWatch struct {
	Paths  []string `json:"paths,omitempty" yaml:"paths,omitempty"`
	Ignore []string `json:"ignore,omitempty" yaml:"ignore,omitempty"`
	Delay  string   `json:"delay" yaml:"delay"`
}

func describe(ps spec.ProcessSpec, showSecrets bool) describedProcess {
	env := ps.Env
	if !showSecrets {
		env = cliutil.RedactEnv(env)
	}
	d := describedProcess{
		Name:          ps.Name,
		Command:       ps.Command,
		Args:          ps.Args,
		Cwd:           ps.Cwd,
		Env:           env,
		Stdout:        ps.StdoutPath,
		Stderr:        ps.StderrPath,
		LogDateFormat: ps.LogDateFormat,
		PidFile:       ps.PidFile,
		ExecMode:      string(ps.ExecMode),
		AutoRestart:   ps.Restart.AutoRestart,
		MaxRestarts:   ps.Restart.MaxRestarts,
		MinUptime:     ps.Restart.MinUptime.String(),
		RestartDelay:  ps.Restart.RestartDelay.String(),
		KillTimeout:   ps.KillTimeout.String(),
		StopExitCodes: ps.Restart.StopExitCodes,
	}
	if ps.Watch.Enabled {
		d.Watch = &describedWatch{
			Paths:  ps.Watch.Paths,
			Ignore: ps.Watch.Ignore,
			Delay:  ps.Watch.Delay.String(),
		}
	}
	return d
}

func newDescribeCmd(ctx *context) *cobra.Command {
	var (
		output      string
		showSecrets bool
	)
	cmd := &cobra.Command{
		Use:   "describe [name...]",
		Short: "Print the resolved definition of processes",
		RunE: func(cmd *cobra.Command, args []string) error {
			eco, err := ctx.loadEcosystem()
			if err != nil {
				return err
			}
			specs, err := selectSpecs(eco.Specs, eco.Apps, args)
			if err != nil {
				return err
			}
			described := make([]describedProcess, 0, len(specs))
			for _, ps := range specs {
				described = append(described, describe(ps, showSecrets))
			}

			out := cmd.OutOrStdout()
			switch strings.ToLower(output) {
			case "json":
				enc := json.NewEncoder(out)
				enc.SetIndent("", "  ")
				return enc.Encode(described)
			case "yaml", "":
				enc := yaml.NewEncoder(out)
				enc.SetIndent(2)
				if err := enc.Encode(described); err != nil {
					return err
				}
				return enc.Close()
			case "env":
				for _, d := range described {
					keys := make([]string, 0, len(d.Env))
					for k := range d.Env {
						keys = append(keys, k)
					}
					sort.Strings(keys)
					for _, k := range keys {
						fmt.Fprintf(out, "%s\t%s=%s\n", d.Name, k, d.Env[k])
					}
				}
				return nil
			default:
				return fmt.Errorf("unknown output format %q (want yaml, json or env)", output)
			}
		},
	}
	cmd.Flags().StringVarP(&output, "output", "o", "yaml", "Output format: yaml, json or env")
	cmd.Flags().BoolVar(&showSecrets, "show-secrets", false, "Print sensitive environment values")
	return cmd
}
