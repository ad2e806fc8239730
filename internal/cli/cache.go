package cli

import (
	"bufio"
	"errors"
	"fmt"
	"io"
	"io/fs"
	"os"
	"path/filepath"
	"sort"
	"strings"
	"time"

	"github.com/dustin/go-humanize"
	"github.com/spf13/cobra"
	"golang.org/x/sys/unix"

	"toolup/internal/fetch"
	"toolup/internal/ui"
)

func newPruneCommand(a *app) *cobra.Command {
	var (
		olderThan time.Duration
		dryRun    bool
		yes       bool
	)
	cmd := &cobra.Command{
		Use:   "prune",
		Short: "Remove unused sources, archives and logs from the cache",
		Args:  exactArgs(0, "prune"),
		RunE: func(cmd *cobra.Command, args []string) error {
			root := a.env.CacheDir()
			candidates, err := fetch.Prune(root, olderThan, true, a.now())
			if err != nil {
				return err
			}
			if len(candidates) == 0 {
				a.logger.Info("nothing to prune", "cache", root)
				return nil
			}
			for _, p := range candidates {
				fmt.Fprintf(a.stdout, "%s  %s\n", p.LastUsed.Format("2006-01-02"), p.Path)
			}
			if dryRun {
				return nil
			}
			if !yes && !confirm(a.stdin, a.stdout, fmt.Sprintf("Remove %d cache entries?", len(candidates))) {
				a.logger.Info("prune cancelled")
				return nil
			}
			removed, err := fetch.Prune(root, olderThan, false, a.now())
			if err != nil {
				return err
			}
			a.logger.Info("cache pruned", "removed", len(removed))
			return nil
		},
	}
	f := cmd.Flags()
	f.DurationVar(&olderThan, "older-than", 0, "Only remove entries unused for this long (0 removes everything)")
	f.BoolVar(&dryRun, "dry-run", false, "List what would be removed")
	f.BoolVarP(&yes, "yes", "y", false, "Do not ask for confirmation")
	return cmd
}

// confirm asks a yes/no question. Only an explicit yes confirms; an empty
// answer and end of input mean no.
func confirm(in io.Reader, out io.Writer, question string) bool {
	r := bufio.NewReader(in)
	for {
		fmt.Fprintf(out, "%s [y/N]: ", question)
		answer, err := r.ReadString('\n')
		answer = strings.ToLower(strings.TrimSpace(answer))
		switch {
		case answer == "y", answer == "yes":
			return true
		case answer == "", answer == "n", answer == "no", err != nil:
			return false
		}
	}
}

func newCacheCommand(a *app) *cobra.Command {
	var usage bool
	cmd := &cobra.Command{
		Use:   "cache",
		Short: "Print the cache directory",
		Args:  exactArgs(0, "cache"),
		RunE: func(cmd *cobra.Command, args []string) error {
			dir := a.env.CacheDir()
			if !usage {
				_, err := fmt.Fprintln(a.stdout, dir)
				return err
			}
			used, err := dirSize(dir)
			if err != nil {
				return err
			}
			free, err := freeSpace(dir)
			if err != nil {
				return err
			}
			_, err = fmt.Fprintf(a.stdout, "%s\nused: %s\nfree: %s\n", dir, humanize.IBytes(used), humanize.IBytes(free))
			return err
		},
	}
	cmd.Flags().BoolVar(&usage, "usage", false, "Also report disk usage and free space")
	return cmd
}

func dirSize(dir string) (uint64, error) {
	var total uint64
	err := filepath.WalkDir(dir, func(_ string, d fs.DirEntry, err error) error {
		if err != nil {
			if errors.Is(err, fs.ErrNotExist) {
				return nil
			}
			return err
		}
		if d.Type().IsRegular() {
			info, err := d.Info()
			if err != nil {
				return err
			}
			total += uint64(info.Size())
		}
		return nil
	})
	return total, err
}

// freeSpace reports the space available to unprivileged users on the file
// system holding path or its nearest existing parent.
func freeSpace(path string) (uint64, error) {
	var st unix.Statfs_t
	for {
		err := unix.Statfs(path, &st)
		if err == nil {
			return st.Bavail * uint64(st.Bsize), nil
		}
		parent := filepath.Dir(path)
		if !errors.Is(err, unix.ENOENT) || parent == path {
			return 0, fmt.Errorf("statfs %s: %w", path, err)
		}
		path = parent
	}
}

type logFile struct {
	path string
	mod  time.Time
}

func listLogs(dir string) ([]logFile, error) {
	entries, err := os.ReadDir(dir)
	if errors.Is(err, fs.ErrNotExist) {
		return nil, nil
	}
	if err != nil {
		return nil, err
	}
	var logs []logFile
	for _, e := range entries {
		if e.IsDir() || filepath.Ext(e.Name()) != ".log" {
			continue
		}
		info, err := e.Info()
		if err != nil {
			return nil, err
		}
		logs = append(logs, logFile{path: filepath.Join(dir, e.Name()), mod: info.ModTime()})
	}
	sort.Slice(logs, func(i, j int) bool { return logs[i].mod.After(logs[j].mod) })
	return logs, nil
}

func newLogsCommand(a *app) *cobra.Command {
	var latest bool
	cmd := &cobra.Command{
		Use:   "logs",
		Short: "List command logs, newest first, or show the newest one",
		Args:  exactArgs(0, "logs"),
		RunE: func(cmd *cobra.Command, args []string) error {
			logs, err := listLogs(a.env.LogsDir())
			if err != nil {
				return err
			}
			if len(logs) == 0 {
				a.logger.Info("no logs yet", "dir", a.env.LogsDir())
				return nil
			}
			if !latest {
				for _, l := range logs {
					fmt.Fprintf(a.stdout, "%s  %s\n", l.mod.Format("2006-01-02 15:04:05"), l.path)
				}
				return nil
			}
			data, err := os.ReadFile(logs[0].path)
			if err != nil {
				return err
			}
			lines := strings.Split(strings.TrimSuffix(string(data), "\n"), "\n")
			return ui.Page(a.stdout, filepath.Base(logs[0].path), lines)
		},
	}
	cmd.Flags().BoolVar(&latest, "latest", false, "Show the most recent log")
	return cmd
}
