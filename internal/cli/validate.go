package cli

import (
	"errors"
	"fmt"
	"strings"
	"text/tabwriter"

	"github.com/spf13/cobra"

	"github.com/Paintersrp/procsup/internal/spec"
)

func newValidateCmd(ctx *context) *cobra.Command {
	var quiet bool
	cmd := &cobra.Command{
		Use:   "validate",
		Short: "Validate the ecosystem file without starting anything",
		Args:  cobra.NoArgs,
		RunE: func(cmd *cobra.Command, args []string) error {
			eco, err := ctx.loadEcosystem()
			if err != nil {
				var cerr *spec.ConfigError
				if errors.As(err, &cerr) {
					fmt.Fprintln(cmd.ErrOrStderr(), cerr.Error())
					return &ExitError{Code: exitError}
				}
				return err
			}

			out := cmd.OutOrStdout()
			fmt.Fprintf(out, "%s: OK\n", eco.Path)
			if quiet {
				return nil
			}
			w := tabwriter.NewWriter(out, 0, 4, 2, ' ', 0)
			fmt.Fprintln(w, "NAME\tCOMMAND\tAUTORESTART\tMAX RESTARTS\tMIN UPTIME\tDELAY\tWATCH")
			for _, ps := range eco.Specs {
				command := strings.TrimSpace(ps.Command + " " + strings.Join(ps.Args, " "))
				watch := "-"
				if ps.Watch.Enabled {
					watch = "yes"
				}
				fmt.Fprintf(w, "%s\t%s\t%t\t%d\t%s\t%s\t%s\n",
					ps.Name, command, ps.Restart.AutoRestart, ps.Restart.MaxRestarts,
					ps.Restart.MinUptime, ps.Restart.RestartDelay, watch)
			}
			return w.Flush()
		},
	}
	cmd.Flags().BoolVarP(&quiet, "quiet", "q", false, "Only report whether the file is valid")
	return cmd
}
