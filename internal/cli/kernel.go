package cli

import (
	"context"
	"fmt"

	"github.com/kballard/go-shellquote"
	"github.com/spf13/cobra"

	"toolup/internal/kernel"
	"toolup/internal/qemu"
	"toolup/internal/toolchain"
	"toolup/internal/version"
)

// installed resolves and, when needed, installs the toolchain for triple.
func (a *app) installed(ctx context.Context, triple string, jobs int) (toolchain.Toolchain, error) {
	tc, _, err := a.resolve(ctx, triple, toolchain.Spec{})
	if err != nil {
		return toolchain.Toolchain{}, err
	}
	if _, err := a.pipeline(jobs, false).Install(ctx, tc); err != nil {
		return toolchain.Toolchain{}, err
	}
	return tc, nil
}

func newKernelCommand(a *app) *cobra.Command {
	var (
		jobs     int
		opts     kernel.Options
		makeArgs string
	)
	cmd := &cobra.Command{
		Use:   "kernel <target> <version>",
		Short: "Build a Linux kernel image with the target's toolchain",
		Args:  exactArgs(2, "kernel <target> <version>"),
		RunE: func(cmd *cobra.Command, args []string) error {
			ctx := cmd.Context()
			v, err := version.Parse(args[1], version.Kernel)
			if err != nil {
				return err
			}
			if opts.MakeArgs, err = shellquote.Split(makeArgs); err != nil {
				return fmt.Errorf("--make-args: %w", err)
			}
			tc, err := a.installed(ctx, args[0], jobs)
			if err != nil {
				return err
			}
			img, err := a.kernelBuilder(jobs).BuildImage(ctx, tc, v, opts)
			if err != nil {
				return err
			}
			_, err = fmt.Fprintln(a.stdout, img.Path)
			return err
		},
	}
	f := cmd.Flags()
	f.IntVarP(&jobs, "jobs", "j", 0, "Parallel make jobs (default: number of CPUs)")
	f.BoolVar(&opts.Menuconfig, "menuconfig", false, "Edit the kernel configuration interactively before building")
	f.BoolVar(&opts.Defconfig, "defconfig", false, "Start over from the architecture's default configuration")
	f.StringVar(&makeArgs, "make-args", "", "Extra arguments for the kernel make invocation")
	return cmd
}

func newRunCommand(a *app) *cobra.Command {
	var (
		jobs   int
		dryRun bool
	)
	cmd := &cobra.Command{
		Use:   "run <target> <kernel-version>",
		Short: "Boot a kernel and a BusyBox root filesystem in QEMU",
		Args:  exactArgs(2, "run <target> <kernel-version>"),
		RunE: func(cmd *cobra.Command, args []string) error {
			ctx := cmd.Context()
			v, err := version.Parse(args[1], version.Kernel)
			if err != nil {
				return err
			}
			tc, err := a.installed(ctx, args[0], jobs)
			if err != nil {
				return err
			}
			if !qemu.Supported(tc.Target) {
				return fmt.Errorf("no emulator configuration for %s", tc.Triple())
			}
			img, err := a.kernelBuilder(jobs).BuildImage(ctx, tc, v, kernel.Options{})
			if err != nil {
				return err
			}
			fs, err := a.rootfsBuilder(jobs).Build(ctx, tc)
			if err != nil {
				return err
			}
			boot, err := qemu.Command(tc.Target, img.Path, fs.Path)
			if err != nil {
				return err
			}
			if dryRun {
				_, err := fmt.Fprintln(a.stdout, boot.String())
				return err
			}
			a.logger.Info("starting emulator", "command", boot.Name)
			return a.runner.Interactive(ctx, boot)
		},
	}
	cmd.Flags().IntVarP(&jobs, "jobs", "j", 0, "Parallel make jobs (default: number of CPUs)")
	cmd.Flags().BoolVar(&dryRun, "dry-run", false, "Print the emulator command instead of running it")
	return cmd
}
