// Package cli is the toolup command tree.
package cli

import (
	"context"
	"errors"
	"fmt"
	"io"
	"log/slog"
	"os"
	"os/signal"
	"syscall"
	"time"

	"github.com/spf13/cobra"

	"toolup/internal/build"
	"toolup/internal/config"
	"toolup/internal/env"
	"toolup/internal/fetch"
	"toolup/internal/kernel"
	"toolup/internal/logging"
	"toolup/internal/rootfs"
	"toolup/internal/runner"
	"toolup/internal/target"
	"toolup/internal/toolchain"
)

// Main runs toolup with the process arguments and exits.
func Main() {
	var level slog.LevelVar
	level.Set(slog.LevelInfo)
	logger := logging.NewCLI(os.Stderr, &level)
	slog.SetDefault(logger)

	ctx, stop := signal.NotifyContext(context.Background(), os.Interrupt, syscall.SIGTERM)
	defer stop()

	a := &app{logger: logger, level: &level, stdin: os.Stdin, stdout: os.Stdout, stderr: os.Stderr}
	root := newRootCommand(a)
	root.SetArgs(os.Args[1:])
	if err := root.ExecuteContext(ctx); err != nil {
		if errors.Is(err, context.Canceled) {
			logger.Warn("interrupted")
			stop()
			os.Exit(130)
		}
		logger.Error(err.Error())
		stop()
		os.Exit(1)
	}
}

// app holds what every command needs. Fields left nil are filled from the
// process environment before the first command runs.
type app struct {
	logger *slog.Logger
	level  *slog.LevelVar
	env    *env.Env
	runner runner.Runner
	source build.Sources

	stdin  io.Reader
	stdout io.Writer
	stderr io.Writer
	now    func() time.Time

	debug bool
}

func (a *app) init() error {
	if a.env == nil {
		e, err := env.FromOS()
		if err != nil {
			return err
		}
		a.env = e
	}
	if a.debug || a.env.Debug {
		if a.level != nil {
			a.level.Set(slog.LevelDebug)
		}
	}
	if a.runner == nil {
		a.runner = runner.New(a.env.LogsDir(), a.stderr, a.logger)
	}
	if a.source == nil {
		a.source = fetch.New(a.env, a.stderr, a.logger)
	}
	if a.now == nil {
		a.now = time.Now
	}
	return nil
}

func (a *app) jobs(flag int) int {
	switch {
	case flag > 0:
		return flag
	case a.env.Jobs > 0:
		return a.env.Jobs
	}
	return a.env.DefaultJobs()
}

func (a *app) pipeline(jobs int, force bool) *build.Pipeline {
	return &build.Pipeline{Env: a.env, Runner: a.runner, Sources: a.source, Jobs: a.jobs(jobs), Force: force, Logger: a.logger}
}

func (a *app) kernelBuilder(jobs int) *kernel.Builder {
	return &kernel.Builder{Env: a.env, Runner: a.runner, Sources: a.source, Jobs: a.jobs(jobs), Logger: a.logger}
}

func (a *app) rootfsBuilder(jobs int) *rootfs.Builder {
	return &rootfs.Builder{Env: a.env, Runner: a.runner, Sources: a.source, Jobs: a.jobs(jobs), Logger: a.logger}
}

// resolve parses triple and looks up its configured toolchain; non-empty
// fields of override replace the configured versions.
func (a *app) resolve(ctx context.Context, triple string, override toolchain.Spec) (toolchain.Toolchain, config.Resolution, error) {
	t, err := target.Parse(triple)
	if err != nil {
		return toolchain.Toolchain{}, config.Resolution{}, err
	}
	r := &config.Resolver{Env: a.env, Logger: a.logger}
	res, err := r.Resolve(ctx, t)
	if err != nil {
		return toolchain.Toolchain{}, res, err
	}
	a.logger.Debug("resolved toolchain", "target", triple, "source", res.Source.String(), "path", res.Path)

	spec := res.Toolchain.Spec()
	if override.GCC != "" {
		spec.GCC = override.GCC
	}
	if override.Binutils != "" {
		spec.Binutils = override.Binutils
	}
	if override.Libc != "" {
		spec.Libc = override.Libc
	}
	if override.Kernel != "" {
		spec.Kernel = override.Kernel
	}
	if spec == res.Toolchain.Spec() {
		return res.Toolchain, res, nil
	}
	tc, err := toolchain.New(t, spec)
	return tc, res, err
}

func newRootCommand(a *app) *cobra.Command {
	root := &cobra.Command{
		Use:           "toolup",
		Short:         "Build cross-compilation toolchains, kernels and boot them",
		SilenceErrors: true,
		SilenceUsage:  true,
		PersistentPreRunE: func(cmd *cobra.Command, args []string) error {
			return a.init()
		},
	}
	root.PersistentFlags().BoolVar(&a.debug, "debug", false, "Enable debug logging")
	root.SetIn(a.stdin)
	root.SetOut(a.stdout)
	root.SetErr(a.stderr)

	root.AddCommand(
		newInstallCommand(a),
		newShowCommand(a),
		newKernelCommand(a),
		newRunCommand(a),
		newPruneCommand(a),
		newCacheCommand(a),
		newLogsCommand(a),
	)
	return root
}

func exactArgs(n int, usage string) cobra.PositionalArgs {
	return func(cmd *cobra.Command, args []string) error {
		if len(args) != n {
			return fmt.Errorf("usage: toolup %s", usage)
		}
		return nil
	}
}
