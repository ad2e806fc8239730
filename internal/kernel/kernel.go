package kernel

import (
	"context"
	"encoding/hex"
	"errors"
	"fmt"
	"io"
	"log/slog"
	"os"
	"path/filepath"
	"strconv"

	"github.com/google/renameio"
	"github.com/minio/sha256-simd"

	"toolup/internal/env"
	"toolup/internal/logging"
	"toolup/internal/runner"
	"toolup/internal/toolchain"
	"toolup/internal/version"
)

// Sources provides extracted upstream source trees.
type Sources interface {
	DownloadAndDecompress(ctx context.Context, url, dirName string, useCache bool) (string, error)
}

// Builder drives the kernel's own build system.
type Builder struct {
	Env     *env.Env
	Runner  runner.Runner
	Sources Sources
	Jobs    int
	Logger  *slog.Logger
}

// Options control BuildImage.
type Options struct {
	// Defconfig regenerates .config from the architecture default.
	Defconfig bool
	// Menuconfig opens the interactive configuration editor before building.
	Menuconfig bool
	// MakeArgs are appended to the final make invocation.
	MakeArgs []string
}

// Image is a built kernel image.
type Image struct {
	Path string
	// Cached is set when no build was needed.
	Cached bool
	// ConfigDigest is the hex sha256 of the .config the image was built from.
	ConfigDigest string
}

func (b *Builder) logger() *slog.Logger { return logging.Ensure(b.Logger) }

// SourceURL is the kernel.org tarball of v.
func SourceURL(v version.Version) string {
	return fmt.Sprintf("https://cdn.kernel.org/pub/linux/kernel/v%d.x/linux-%s.tar.xz", v.Major, v)
}

// SourceDir is the top-level directory of the tarball of v.
func SourceDir(v version.Version) string { return "linux-" + v.String() }

func (b *Builder) source(ctx context.Context, v version.Version) (string, error) {
	src, err := b.Sources.DownloadAndDecompress(ctx, SourceURL(v), SourceDir(v), true)
	if err != nil {
		return "", fmt.Errorf("linux %s sources: %w", v, err)
	}
	return src, nil
}

// ImageDir is where images of one target and version are built and cached.
func (b *Builder) ImageDir(tc toolchain.Toolchain, v version.Version) string {
	return filepath.Join(b.Env.LinuxImagesDir(), tc.Triple()+"-"+v.String())
}

// InstallHeaders installs the UAPI headers of tc's kernel version into
// sysroot/usr. The build happens in an object directory owned by tc's
// identity so the shared source tree stays clean.
func (b *Builder) InstallHeaders(ctx context.Context, tc toolchain.Toolchain, sysroot string) error {
	karch, ok := tc.Target.Arch.KernelArch()
	if !ok {
		return fmt.Errorf("%s has no Linux port", tc.Target.Arch)
	}
	v := tc.KernelHeaders()
	src, err := b.source(ctx, v)
	if err != nil {
		return err
	}
	obj := b.HeadersDir(tc)
	return b.Runner.Run(ctx, runner.Command{
		Title: "linux-" + v.String() + "-headers",
		Dir:   src,
		Name:  "make",
		Args: []string{
			"ARCH=" + karch,
			"O=" + obj,
			"headers_install",
			"INSTALL_HDR_PATH=" + filepath.Join(sysroot, "usr"),
		},
		Env: b.Env.Environ(),
	})
}

// HeadersDir is the headers_install object directory of tc.
func (b *Builder) HeadersDir(tc toolchain.Toolchain) string {
	return filepath.Join(b.Env.CacheDir(), "linux-headers-"+tc.KernelHeaders().String()+"-"+tc.ID())
}

// BuildImage builds (or reuses) a kernel image of version v for tc. The
// result is stored under a name suffixed with the digest of the resolved
// .config, and that path is always what is returned.
func (b *Builder) BuildImage(ctx context.Context, tc toolchain.Toolchain, v version.Version, opts Options) (Image, error) {
	karch, ok := tc.Target.Arch.KernelArch()
	if !ok {
		return Image{}, fmt.Errorf("%s has no Linux port", tc.Target.Arch)
	}
	rel, err := imagePath(tc.Target.Arch)
	if err != nil {
		return Image{}, err
	}

	src, err := b.source(ctx, v)
	if err != nil {
		return Image{}, err
	}
	flags := ResolveFlags(v)
	for _, p := range flags.Patches {
		if err := b.applyPatch(ctx, src, p); err != nil {
			return Image{}, err
		}
	}

	out := b.ImageDir(tc, v)
	if err := os.MkdirAll(out, 0o755); err != nil {
		return Image{}, fmt.Errorf("create %s: %w", out, err)
	}
	layout := tc.Layout(b.Env)
	cmdEnv := b.Env.Environ(b.Env.PathWith(layout.BinDir()))
	base := []string{"ARCH=" + karch, "O=" + out, "CROSS_COMPILE=" + tc.Triple() + "-"}
	mk := func(title string, args ...string) runner.Command {
		return runner.Command{Title: title, Dir: src, Name: "make", Args: args, Env: cmdEnv}
	}
	title := "linux-" + v.String()

	config := filepath.Join(out, ".config")
	if _, err := os.Stat(config); opts.Defconfig || err != nil {
		b.logger().Info("configuring kernel", "version", v.String(), "defconfig", defconfigName(tc.Target.Arch))
		if err := b.Runner.Run(ctx, mk(title+"-mrproper", "ARCH="+karch, "mrproper")); err != nil {
			return Image{}, err
		}
		args := append(append([]string{}, base...), flags.MakeVars()...)
		if err := b.Runner.Run(ctx, mk(title+"-defconfig", append(args, defconfigName(tc.Target.Arch))...)); err != nil {
			return Image{}, err
		}
	}
	if opts.Menuconfig {
		args := append(append([]string{}, base...), flags.MakeVars()...)
		if err := b.Runner.Interactive(ctx, mk(title+"-menuconfig", append(args, "menuconfig")...)); err != nil {
			return Image{}, err
		}
	}

	digest, err := fileDigest(config)
	if err != nil {
		return Image{}, err
	}
	cached := filepath.Join(out, filepath.Base(rel)+"-"+digest)
	if _, err := os.Stat(cached); err == nil {
		b.logger().Info("kernel image up to date", "path", cached)
		return Image{Path: cached, Cached: true, ConfigDigest: digest}, nil
	}

	b.logger().Info("building kernel", "version", v.String(), "target", tc.Triple())
	args := append(append([]string{}, base...), flags.MakeVars()...)
	args = append(args, opts.MakeArgs...)
	args = append(args, "-j"+strconv.Itoa(max(b.Jobs, 1)))
	if err := b.Runner.Run(ctx, mk(title, args...)); err != nil {
		return Image{}, err
	}

	if err := copyFile(filepath.Join(out, rel), cached); err != nil {
		return Image{}, err
	}
	return Image{Path: cached, ConfigDigest: digest}, nil
}

func (b *Builder) applyPatch(ctx context.Context, src string, p Patch) error {
	marker := filepath.Join(src, ".toolup-"+p.Name+".applied")
	if _, err := os.Stat(marker); err == nil {
		return nil
	}
	patchFile := filepath.Join(src, ".toolup-"+p.Name+".patch")
	if err := os.WriteFile(patchFile, []byte(p.Diff), 0o644); err != nil {
		return fmt.Errorf("write patch %s: %w", p.Name, err)
	}
	git := func(title string, args ...string) runner.Command {
		return runner.Command{Title: title, Dir: src, Name: "git", Args: append(args, patchFile), Env: b.Env.Environ()}
	}

	// Stable releases carry some of these fixes already; such a tree is left alone.
	err := b.Runner.Run(ctx, git("patch-"+p.Name+"-check", "apply", "--check", "-p1"))
	var cerr *runner.CommandError
	switch {
	case errors.As(err, &cerr) && ctx.Err() == nil:
		b.logger().Info("kernel source already fixed", "patch", p.Name)
	case err != nil:
		return err
	default:
		b.logger().Info("patching kernel source", "patch", p.Name)
		if err := b.Runner.Run(ctx, git("patch-"+p.Name, "apply", "-p1")); err != nil {
			return err
		}
	}
	return os.WriteFile(marker, nil, 0o644)
}

func fileDigest(path string) (string, error) {
	f, err := os.Open(path)
	if err != nil {
		if errors.Is(err, os.ErrNotExist) {
			return "", fmt.Errorf("kernel configuration %s missing after configure", path)
		}
		return "", err
	}
	defer f.Close()
	h := sha256.New()
	if _, err := io.Copy(h, f); err != nil {
		return "", fmt.Errorf("hash %s: %w", path, err)
	}
	return hex.EncodeToString(h.Sum(nil)), nil
}

func copyFile(src, dst string) error {
	in, err := os.Open(src)
	if err != nil {
		return fmt.Errorf("kernel image: %w", err)
	}
	defer in.Close()
	out, err := renameio.TempFile(filepath.Dir(dst), dst)
	if err != nil {
		return err
	}
	defer out.Cleanup()
	if _, err := io.Copy(out, in); err != nil {
		return fmt.Errorf("copy %s: %w", src, err)
	}
	if err := out.Chmod(0o644); err != nil {
		return err
	}
	return out.CloseAtomicallyReplace()
}
