package cli

import (
	"fmt"
	"io"
	"os"
	"strings"

	"github.com/goccy/go-json"
	"github.com/spf13/cobra"
	"gopkg.in/yaml.v3"

	"toolup/internal/target"
	"toolup/internal/toolchain"
)

func newInstallCommand(a *app) *cobra.Command {
	var (
		override toolchain.Spec
		jobs     int
		force    bool
	)
	cmd := &cobra.Command{
		Use:   "install <target>",
		Short: "Build and install the cross toolchain for a target",
		Args:  exactArgs(1, "install <target>"),
		RunE: func(cmd *cobra.Command, args []string) error {
			ctx := cmd.Context()
			tc, _, err := a.resolve(ctx, args[0], override)
			if err != nil {
				return err
			}
			a.logger.Info("installing toolchain", "toolchain", tc.ID())
			res, err := a.pipeline(jobs, force).Install(ctx, tc)
			if err != nil {
				return err
			}
			if !res.AlreadyInstalled {
				a.logger.Info("toolchain installed", "prefix", res.Layout.Prefix)
			}
			return printExports(a.stdout, tc, res.Layout)
		},
	}
	f := cmd.Flags()
	f.StringVar(&override.GCC, "gcc", "", "GCC version")
	f.StringVar(&override.Binutils, "binutils", "", "binutils version")
	f.StringVar(&override.Libc, "libc", "", "glibc or musl version, depending on the target")
	f.StringVar(&override.Kernel, "kernel-headers", "", "Linux version whose headers populate the sysroot")
	f.IntVarP(&jobs, "jobs", "j", 0, "Parallel make jobs (default: number of CPUs)")
	f.BoolVar(&force, "force", false, "Rebuild every stage even if already installed")
	return cmd
}

func printExports(w io.Writer, tc toolchain.Toolchain, l toolchain.Layout) error {
	hosted := tc.Target.Classify() == target.LinuxHosted
	_, err := fmt.Fprintln(w, strings.Join(l.Exports(hosted), "\n"))
	return err
}

type toolchainView struct {
	ID            string   `json:"id" yaml:"id"`
	Target        string   `json:"target" yaml:"target"`
	Class         string   `json:"class" yaml:"class"`
	Binutils      string   `json:"binutils" yaml:"binutils"`
	GCC           string   `json:"gcc" yaml:"gcc"`
	Libc          string   `json:"libc,omitempty" yaml:"libc,omitempty"`
	KernelHeaders string   `json:"kernel_headers,omitempty" yaml:"kernel_headers,omitempty"`
	Prefix        string   `json:"prefix" yaml:"prefix"`
	Sysroot       string   `json:"sysroot,omitempty" yaml:"sysroot,omitempty"`
	Installed     bool     `json:"installed" yaml:"installed"`
	InstalledAt   string   `json:"installed_at,omitempty" yaml:"installed_at,omitempty"`
	Config        string   `json:"config" yaml:"config"`
	ConfigPath    string   `json:"config_path" yaml:"config_path"`
	Exports       []string `json:"exports" yaml:"exports"`
}

func newShowCommand(a *app) *cobra.Command {
	var output string
	cmd := &cobra.Command{
		Use:   "show <target>",
		Short: "Show the configured toolchain for a target and where it is installed",
		Args:  exactArgs(1, "show <target>"),
		RunE: func(cmd *cobra.Command, args []string) error {
			tc, res, err := a.resolve(cmd.Context(), args[0], toolchain.Spec{})
			if err != nil {
				return err
			}
			l := tc.Layout(a.env)
			class := tc.Target.Classify()
			v := toolchainView{
				ID:         tc.ID(),
				Target:     tc.Triple(),
				Class:      class.String(),
				Binutils:   tc.Binutils.String(),
				GCC:        tc.GCC.String(),
				Prefix:     l.Prefix,
				Config:     res.Source.String(),
				ConfigPath: res.Path,
				Exports:    l.Exports(class == target.LinuxHosted),
			}
			if class == target.LinuxHosted {
				v.Libc = tc.Libc.String()
				v.KernelHeaders = tc.KernelHeaders().String()
				v.Sysroot = l.Sysroot
			}
			if _, err := os.Stat(l.GCC()); err == nil {
				v.Installed = true
			}
			if m, err := toolchain.ReadManifest(l); err == nil {
				v.InstalledAt = m.InstalledAt.Format("2006-01-02 15:04:05 MST")
			}
			return writeView(a.stdout, output, v)
		},
	}
	cmd.Flags().StringVarP(&output, "output", "o", "text", "Output format: text, json or yaml")
	return cmd
}

func writeView(w io.Writer, format string, v toolchainView) error {
	switch format {
	case "json":
		data, err := json.MarshalIndent(v, "", "  ")
		if err != nil {
			return err
		}
		_, err = fmt.Fprintln(w, string(data))
		return err
	case "yaml":
		enc := yaml.NewEncoder(w)
		enc.SetIndent(2)
		if err := enc.Encode(v); err != nil {
			return err
		}
		return enc.Close()
	case "text", "":
	default:
		return fmt.Errorf("unknown output format %q: expected text, json or yaml", format)
	}

	rows := [][2]string{
		{"toolchain", v.ID},
		{"target", v.Target + " (" + v.Class + ")"},
		{"binutils", v.Binutils},
		{"gcc", v.GCC},
	}
	if v.Libc != "" {
		rows = append(rows, [2]string{"libc", v.Libc}, [2]string{"kernel headers", v.KernelHeaders})
	}
	rows = append(rows, [2]string{"prefix", v.Prefix})
	if v.Sysroot != "" {
		rows = append(rows, [2]string{"sysroot", v.Sysroot})
	}
	state := "no"
	if v.Installed {
		state = "yes"
		if v.InstalledAt != "" {
			state += ", " + v.InstalledAt
		}
	}
	rows = append(rows, [2]string{"installed", state}, [2]string{"config", v.Config + ", " + v.ConfigPath})
	for _, r := range rows {
		if _, err := fmt.Fprintf(w, "%-15s %s\n", r[0]+":", r[1]); err != nil {
			return err
		}
	}
	return nil
}
