// Package rootfs builds a minimal initramfs for booting a freshly built
// kernel: a static BusyBox, the toolchain's runtime libraries and an init
// script that drops into a shell.
package rootfs

import (
	"context"
	"fmt"
	"log/slog"
	"os"
	"path/filepath"
	"strconv"
	"strings"

	cp "github.com/otiai10/copy"

	"toolup/internal/env"
	"toolup/internal/logging"
	"toolup/internal/runner"
	"toolup/internal/target"
	"toolup/internal/toolchain"
)

const (
	busyboxURL = "https://github.com/mirror/busybox/archive/refs/tags/1_36_1.tar.gz"
	busyboxDir = "busybox-1_36_1"
)

// InitScript is installed as /init.
const InitScript = `#!/bin/sh
mount -t proc proc /proc
mount -t sysfs sysfs /sys
mount -t devtmpfs devtmpfs /dev 2>/dev/null || mount -t tmpfs tmpfs /dev
[ -c /dev/console ] || mknod -m 600 /dev/console c 5 1
exec setsid cttyhack /bin/sh
`

// Sources provides extracted upstream source trees.
type Sources interface {
	DownloadAndDecompress(ctx context.Context, url, dirName string, useCache bool) (string, error)
}

// Builder produces <cache>/rootfs-<toolchain-id>.cpio.gz.
type Builder struct {
	Env     *env.Env
	Runner  runner.Runner
	Sources Sources
	Jobs    int
	Logger  *slog.Logger
}

// Image is a packed root filesystem.
type Image struct {
	Path   string
	Cached bool
}

// ImagePath is where the archive for tc is written. It is keyed by identity
// because the runtime libraries come from tc's sysroot.
func (b *Builder) ImagePath(tc toolchain.Toolchain) string {
	return filepath.Join(b.Env.CacheDir(), "rootfs-"+tc.ID()+".cpio.gz")
}

// Build returns the packed root filesystem for tc, building it when no
// archive exists yet. tc must already be installed.
func (b *Builder) Build(ctx context.Context, tc toolchain.Toolchain) (Image, error) {
	if tc.Target.Classify() != target.LinuxHosted {
		return Image{}, fmt.Errorf("%s: a root filesystem needs a Linux target", tc.Triple())
	}
	out := b.ImagePath(tc)
	if _, err := os.Stat(out); err == nil {
		return Image{Path: out, Cached: true}, nil
	}

	log := logging.Ensure(b.Logger).With("target", tc.Triple())
	src, err := b.Sources.DownloadAndDecompress(ctx, busyboxURL, busyboxDir, true)
	if err != nil {
		return Image{}, fmt.Errorf("busybox sources: %w", err)
	}

	l := tc.Layout(b.Env)
	obj := filepath.Join(b.Env.CacheDir(), "busybox-"+tc.ID())
	root := filepath.Join(b.Env.CacheDir(), "rootfs-"+tc.ID())
	for _, d := range []string{obj, root, filepath.Join(root, "proc"), filepath.Join(root, "sys"), filepath.Join(root, "dev"), filepath.Join(root, "etc")} {
		if err := os.MkdirAll(d, 0o755); err != nil {
			return Image{}, fmt.Errorf("create %s: %w", d, err)
		}
	}

	environ := b.Env.Environ(b.Env.PathWith(l.BinDir()))
	mk := func(title string, args ...string) runner.Command {
		base := []string{"O=" + obj, "CROSS_COMPILE=" + tc.Triple() + "-"}
		return runner.Command{Title: title, Dir: src, Name: "make", Args: append(base, args...), Env: environ}
	}

	log.Info("building busybox")
	if err := b.Runner.Run(ctx, mk("busybox-defconfig", "defconfig")); err != nil {
		return Image{}, err
	}
	if err := FixConfig(filepath.Join(obj, ".config")); err != nil {
		return Image{}, err
	}
	if err := b.Runner.Run(ctx, mk("busybox-make", "-j", strconv.Itoa(max(b.Jobs, 1)))); err != nil {
		return Image{}, err
	}
	if err := b.Runner.Run(ctx, mk("busybox-install", "CONFIG_PREFIX="+root, "install")); err != nil {
		return Image{}, err
	}

	if err := copyRuntime(l.Sysroot, root); err != nil {
		return Image{}, err
	}
	if err := os.WriteFile(filepath.Join(root, "init"), []byte(InitScript), 0o755); err != nil {
		return Image{}, fmt.Errorf("write init: %w", err)
	}
	// WriteFile keeps the mode of an existing file.
	if err := os.Chmod(filepath.Join(root, "init"), 0o755); err != nil {
		return Image{}, err
	}

	log.Info("packing root filesystem", "path", out)
	if err := Pack(root, out); err != nil {
		return Image{}, err
	}
	return Image{Path: out}, nil
}

// FixConfig forces a static BusyBox without the tc applet, which does not
// build against recent kernel headers.
func FixConfig(path string) error {
	data, err := os.ReadFile(path)
	if err != nil {
		return fmt.Errorf("read busybox config: %w", err)
	}
	var out strings.Builder
	for _, line := range strings.Split(strings.TrimSuffix(string(data), "\n"), "\n") {
		switch {
		case strings.HasPrefix(line, "CONFIG_STATIC="), line == "# CONFIG_STATIC is not set":
			continue
		case strings.HasPrefix(line, "CONFIG_TC="), line == "# CONFIG_TC is not set":
			continue
		}
		out.WriteString(line)
		out.WriteByte('\n')
	}
	out.WriteString("CONFIG_STATIC=y\n")
	out.WriteString("# CONFIG_TC is not set\n")
	return os.WriteFile(path, []byte(out.String()), 0o644)
}

// copyRuntime copies the sysroot's library and usr trees into root. Symlinks
// are copied as links so the loader paths stay intact.
func copyRuntime(sysroot, root string) error {
	opts := cp.Options{
		OnSymlink:     func(string) cp.SymlinkAction { return cp.Shallow },
		PreserveTimes: true,
	}
	for _, d := range []string{"lib", "lib64", "usr"} {
		src := filepath.Join(sysroot, d)
		if _, err := os.Lstat(src); err != nil {
			continue
		}
		if err := cp.Copy(src, filepath.Join(root, d), opts); err != nil {
			return fmt.Errorf("copy %s into root filesystem: %w", d, err)
		}
	}
	return nil
}
