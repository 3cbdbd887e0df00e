package cli

import (
	"bufio"
	stdcontext "context"
	"errors"
	"fmt"
	"io"
	"os"

	"github.com/fsnotify/fsnotify"
	"github.com/spf13/cobra"
)

func newLogsCmd(ctx *context) *cobra.Command {
	var (
		lines      int
		follow     bool
		stdoutOnly bool
		stderrOnly bool
	)
	cmd := &cobra.Command{
		Use:   "logs <name>",
		Short: "Print the tail of a process's log files",
		Args:  cobra.ExactArgs(1),
		RunE: func(cmd *cobra.Command, args []string) error {
			if stdoutOnly && stderrOnly {
				return errors.New("--out and --err are mutually exclusive")
			}
			eco, err := ctx.loadEcosystem()
			if err != nil {
				return err
			}
			specs, err := selectSpecs(eco.Specs, eco.Apps, args)
			if err != nil {
				return err
			}

			var paths []string
			seen := make(map[string]bool)
			for _, ps := range specs {
				for _, path := range []string{ps.StdoutPath, ps.StderrPath} {
					if seen[path] {
						continue
					}
					if (stdoutOnly && path != ps.StdoutPath) || (stderrOnly && path != ps.StderrPath) {
						continue
					}
					seen[path] = true
					paths = append(paths, path)
				}
			}

			out := cmd.OutOrStdout()
			offsets := make(map[string]int64, len(paths))
			for _, path := range paths {
				if len(paths) > 1 {
					fmt.Fprintf(out, "==> %s <==\n", path)
				}
				end, err := tailFile(out, path, lines)
				if err != nil && !errors.Is(err, os.ErrNotExist) {
					return err
				}
				offsets[path] = end
			}
			if !follow {
				return nil
			}
			runCtx := cmd.Context()
			if runCtx == nil {
				runCtx = stdcontext.Background()
			}
			return followFiles(runCtx, out, offsets, len(paths) > 1)
		},
	}
	cmd.Flags().IntVarP(&lines, "lines", "n", 20, "Number of lines to print from the end of each file")
	cmd.Flags().BoolVarP(&follow, "follow", "F", false, "Keep printing lines as they are appended")
	cmd.Flags().BoolVar(&stdoutOnly, "out", false, "Only show the stdout log")
	cmd.Flags().BoolVar(&stderrOnly, "err", false, "Only show the stderr log")
	return cmd
}

// tailFile writes the last n lines of path to w and returns the file size.
func tailFile(w io.Writer, path string, n int) (int64, error) {
	f, err := os.Open(path)
	if err != nil {
		return 0, err
	}
	defer f.Close()

	ring := make([]string, 0, n)
	scanner := bufio.NewScanner(f)
	scanner.Buffer(make([]byte, 64*1024), 1024*1024)
	for scanner.Scan() {
		if n <= 0 {
			continue
		}
		if len(ring) == n {
			ring = append(ring[:0], ring[1:]...)
		}
		ring = append(ring, scanner.Text())
	}
	if err := scanner.Err(); err != nil {
		return 0, fmt.Errorf("read %s: %w", path, err)
	}
	for _, line := range ring {
		fmt.Fprintln(w, line)
	}
	info, err := f.Stat()
	if err != nil {
		return 0, err
	}
	return info.Size(), nil
}

// followFiles copies bytes appended to each file after its recorded offset
// until ctx ends.
func followFiles(ctx stdcontext.Context, w io.Writer, offsets map[string]int64, labelled bool) error {
	watcher, err := fsnotify.NewWatcher()
	if err != nil {
		return err
	}
	defer watcher.Close()
	for path := range offsets {
		if err := watcher.Add(path); err != nil {
			if errors.Is(err, os.ErrNotExist) {
				continue
			}
			return fmt.Errorf("watch %s: %w", path, err)
		}
	}

	last := ""
	for {
		select {
		case <-ctx.Done():
			return nil
		case event, ok := <-watcher.Events:
			if !ok {
				return nil
			}
			if !event.Has(fsnotify.Write) {
				continue
			}
			offset, tracked := offsets[event.Name]
			if !tracked {
				continue
			}
			if labelled && last != event.Name {
				fmt.Fprintf(w, "==> %s <==\n", event.Name)
				last = event.Name
			}
			next, err := copyFrom(w, event.Name, offset)
			if err != nil {
				return err
			}
			offsets[event.Name] = next
		case err, ok := <-watcher.Errors:
			if !ok {
				return nil
			}
			return err
		}
	}
}

func copyFrom(w io.Writer, path string, offset int64) (int64, error) {
	f, err := os.Open(path)
	if err != nil {
		return offset, err
	}
	defer f.Close()
	info, err := f.Stat()
	if err != nil {
		return offset, err
	}
	if info.Size() < offset {
		offset = 0
	}
	if _, err := f.Seek(offset, io.SeekStart); err != nil {
		return offset, err
	}
	n, err := io.Copy(w, f)
	return offset + n, err
}
