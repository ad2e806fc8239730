package build

import (
	"context"
	"errors"
	"os"
	"path/filepath"
	"slices"
	"strings"
	"testing"
	"time"

	"toolup/internal/env"
	"toolup/internal/fetch/fetchtest"
	"toolup/internal/runner"
	"toolup/internal/runner/runnertest"
	"toolup/internal/target"
	"toolup/internal/toolchain"
)

func newPipeline(t *testing.T) (*Pipeline, *runnertest.Recorder, *fetchtest.Sources) {
	t.Helper()
	home := t.TempDir()
	e, err := env.New(home, home, []string{"PATH=/usr/bin", "HOME=" + home})
	if err != nil {
		t.Fatalf("env.New() error = %v", err)
	}
	rec := &runnertest.Recorder{Outputs: map[string]string{"config.guess": "x86_64-pc-linux-gnu"}}
	src := &fetchtest.Sources{Root: e.CacheDir()}
	p := &Pipeline{
		Env:     e,
		Runner:  rec,
		Sources: src,
		Jobs:    8,
		now:     func() time.Time { return time.Date(2025, 11, 1, 0, 0, 0, 0, time.UTC) },
	}
	return p, rec, src
}

func mustDefault(t *testing.T, triple string, spec toolchain.Spec) toolchain.Toolchain {
	t.Helper()
	tc, err := toolchain.New(target.MustParse(triple), spec)
	if err != nil {
		t.Fatalf("toolchain.New(%s) error = %v", triple, err)
	}
	return tc
}

func touch(t *testing.T, path string) {
	t.Helper()
	if err := os.MkdirAll(filepath.Dir(path), 0o755); err != nil {
		t.Fatalf("MkdirAll() error = %v", err)
	}
	if err := os.WriteFile(path, nil, 0o755); err != nil {
		t.Fatalf("WriteFile() error = %v", err)
	}
}

func find(t *testing.T, cmds []runner.Command, title string) runner.Command {
	t.Helper()
	for _, c := range cmds {
		if c.Title == title {
			return c
		}
	}
	t.Fatalf("no command titled %q", title)
	return runner.Command{}
}

func TestInstallAlreadyInstalledRunsNothing(t *testing.T) {
	t.Parallel()

	p, rec, _ := newPipeline(t)
	tc := mustDefault(t, "aarch64-unknown-linux-gnu", toolchain.Spec{})
	touch(t, tc.Layout(p.Env).GCC())

	res, err := p.Install(context.Background(), tc)
	if err != nil {
		t.Fatalf("Install() error = %v", err)
	}
	if !res.AlreadyInstalled || len(rec.Commands()) != 0 {
		t.Fatalf("Install() = %+v, commands %v", res, rec.Titles())
	}
}

func TestInstallFreestanding(t *testing.T) {
	t.Parallel()

	p, rec, src := newPipeline(t)
	tc := mustDefault(t, "riscv64-elf", toolchain.Spec{})
	res, err := p.Install(context.Background(), tc)
	if err != nil {
		t.Fatalf("Install() error = %v", err)
	}

	want := []string{
		"binutils-2.45-configure", "binutils-2.45-make", "binutils-2.45-install",
		"gcc-15.2.0-stage1-configure", "gcc-15.2.0-stage1-all-gcc", "gcc-15.2.0-stage1-install-gcc",
		"gcc-15.2.0-stage1-all-target-libgcc", "gcc-15.2.0-stage1-install-target-libgcc",
	}
	if got := rec.Titles(); !slices.Equal(got, want) {
		t.Fatalf("commands = %v\nwant %v", got, want)
	}
	if !slices.Equal(res.Ran, []string{"binutils", "gcc"}) {
		t.Fatalf("Ran = %v", res.Ran)
	}

	l := tc.Layout(p.Env)
	cfg := rec.Commands()[3]
	if prefix, _ := runnertest.Arg(cfg, "--prefix"); prefix != l.Prefix {
		t.Fatalf("--prefix = %q, want %q", prefix, l.Prefix)
	}
	for _, flag := range []string{"--without-headers", "--disable-shared", "--disable-multilib"} {
		if !slices.Contains(cfg.Args, flag) {
			t.Fatalf("gcc configure %v missing %s", cfg.Args, flag)
		}
	}
	if _, ok := runnertest.Arg(cfg, "--with-as"); ok {
		t.Fatalf("freestanding gcc should use the prefix assembler: %v", cfg.Args)
	}
	if path, _ := runnertest.EnvVar(cfg, "PATH"); !strings.HasPrefix(path, l.BinDir()+":") {
		t.Fatalf("PATH = %q", path)
	}
	for _, u := range src.URLs() {
		if strings.Contains(u, "linux") || strings.Contains(u, "glibc") {
			t.Fatalf("freestanding install fetched %s", u)
		}
	}

	m, err := toolchain.ReadManifest(l)
	if err != nil {
		t.Fatalf("ReadManifest() error = %v", err)
	}
	if m.ID != tc.ID() {
		t.Fatalf("manifest ID = %q, want %q", m.ID, tc.ID())
	}
}

func TestInstallGlibc(t *testing.T) {
	t.Parallel()

	p, rec, _ := newPipeline(t)
	tc := mustDefault(t, "x86_64-unknown-linux-gnu", toolchain.Spec{})
	if _, err := p.Install(context.Background(), tc); err != nil {
		t.Fatalf("Install() error = %v", err)
	}
	l := tc.Layout(p.Env)
	cmds := rec.Commands()

	titles := rec.Titles()
	order := []string{"binutils-2.45-install", "linux-6.17.7-headers", "gcc-15.2.0-stage1-configure", "config.guess", "glibc-2.42-configure", "glibc-2.42-install", "gcc-15.2.0-final-configure", "gcc-15.2.0-final-install"}
	last := -1
	for _, title := range order {
		i := slices.Index(titles, title)
		if i <= last {
			t.Fatalf("%s out of order in %v", title, titles)
		}
		last = i
	}
	if slices.ContainsFunc(titles, func(s string) bool { return strings.HasPrefix(s, "make-") }) {
		t.Fatalf("glibc 2.42 should not build make: %v", titles)
	}

	stage1 := find(t, cmds, "gcc-15.2.0-stage1-configure")
	if prefix, _ := runnertest.Arg(stage1, "--prefix"); prefix != l.Stage1 {
		t.Fatalf("stage1 --prefix = %q, want %q", prefix, l.Stage1)
	}
	if as, _ := runnertest.Arg(stage1, "--with-as"); as != l.Bin("as") {
		t.Fatalf("stage1 --with-as = %q", as)
	}

	glibc := find(t, cmds, "glibc-2.42-configure")
	checks := map[string]string{
		"--host":         "x86_64-unknown-linux-gnu",
		"--build":        "x86_64-pc-linux-gnu",
		"--prefix":       "/usr",
		"--libdir":       "/usr/lib64",
		"--with-headers": filepath.Join(l.Sysroot, "usr", "include"),
		"--with-sysroot": l.Sysroot,
	}
	for k, want := range checks {
		if got, _ := runnertest.Arg(glibc, k); got != want {
			t.Fatalf("glibc %s = %q, want %q", k, got, want)
		}
	}
	if cc, _ := runnertest.EnvVar(glibc, "CC"); cc != "x86_64-unknown-linux-gnu-gcc" {
		t.Fatalf("CC = %q", cc)
	}
	if cc, _ := runnertest.EnvVar(glibc, "BUILD_CC"); cc != "gcc" {
		t.Fatalf("BUILD_CC = %q", cc)
	}
	path, _ := runnertest.EnvVar(glibc, "PATH")
	if !strings.HasPrefix(path, filepath.Join(l.Stage1, "bin")+":"+l.BinDir()+":") {
		t.Fatalf("glibc PATH = %q", path)
	}
	install := find(t, cmds, "glibc-2.42-install")
	if dest, _ := runnertest.Arg(install, "DESTDIR"); dest != l.Sysroot {
		t.Fatalf("DESTDIR = %q", dest)
	}

	final := find(t, cmds, "gcc-15.2.0-final-configure")
	if sysroot, _ := runnertest.Arg(final, "--with-sysroot"); sysroot != l.Sysroot {
		t.Fatalf("final --with-sysroot = %q", sysroot)
	}
	if slices.Contains(final.Args, "--without-headers") {
		t.Fatalf("final gcc configured without headers: %v", final.Args)
	}
}

func TestInstallOldGlibcBuildsMake(t *testing.T) {
	t.Parallel()

	p, rec, src := newPipeline(t)
	tc := mustDefault(t, "aarch64-unknown-linux-gnu", toolchain.Spec{Libc: "2.30"})
	if _, err := p.Install(context.Background(), tc); err != nil {
		t.Fatalf("Install() error = %v", err)
	}
	l := tc.Layout(p.Env)
	titles := rec.Titles()
	mk, glibc := slices.Index(titles, "make-4.3-install"), slices.Index(titles, "glibc-2.30-configure")
	if mk < 0 || glibc < mk {
		t.Fatalf("make 4.3 must be installed before glibc: %v", titles)
	}
	if !slices.Contains(src.URLs(), "https://ftp.gnu.org/gnu/make/make-4.3.tar.gz") {
		t.Fatalf("URLs = %v", src.URLs())
	}
	cfg := find(t, rec.Commands(), "glibc-2.30-configure")
	if path, _ := runnertest.EnvVar(cfg, "PATH"); !strings.HasPrefix(path, filepath.Join(l.HostTools, "bin")+":") {
		t.Fatalf("glibc PATH = %q", path)
	}
	if libdir, _ := runnertest.Arg(cfg, "--libdir"); libdir != "/usr/lib" {
		t.Fatalf("--libdir = %q", libdir)
	}
}

func TestInstallMusl(t *testing.T) {
	t.Parallel()

	p, rec, src := newPipeline(t)
	tc := mustDefault(t, "riscv64-unknown-linux-musl", toolchain.Spec{})
	if _, err := p.Install(context.Background(), tc); err != nil {
		t.Fatalf("Install() error = %v", err)
	}
	titles := rec.Titles()
	if slices.Contains(titles, "config.guess") {
		t.Fatalf("musl does not need a build triple: %v", titles)
	}
	cfg := find(t, rec.Commands(), "musl-1.2.5-configure")
	if lib, _ := runnertest.Arg(cfg, "--syslibdir"); lib != "/lib" {
		t.Fatalf("--syslibdir = %q", lib)
	}
	if !slices.Contains(src.URLs(), "https://musl.libc.org/releases/musl-1.2.5.tar.gz") {
		t.Fatalf("URLs = %v", src.URLs())
	}
}

func TestInstallResumesAfterLastArtifact(t *testing.T) {
	t.Parallel()

	p, rec, _ := newPipeline(t)
	tc := mustDefault(t, "aarch64-unknown-linux-musl", toolchain.Spec{})
	l := tc.Layout(p.Env)
	touch(t, l.Bin("ld"))
	touch(t, filepath.Join(l.Sysroot, "usr", "include", "linux", "version.h"))
	touch(t, l.Stage1GCC())

	res, err := p.Install(context.Background(), tc)
	if err != nil {
		t.Fatalf("Install() error = %v", err)
	}
	if !slices.Equal(res.Skipped, []string{"binutils", "linux-headers", "gcc-stage1"}) {
		t.Fatalf("Skipped = %v", res.Skipped)
	}
	if !slices.Equal(res.Ran, []string{"musl", "gcc-final"}) {
		t.Fatalf("Ran = %v", res.Ran)
	}
	if titles := rec.Titles(); titles[0] != "musl-1.2.5-configure" {
		t.Fatalf("first command = %s", titles[0])
	}
}

func TestInstallForceRebuilds(t *testing.T) {
	t.Parallel()

	p, rec, _ := newPipeline(t)
	p.Force = true
	tc := mustDefault(t, "armv7-unknown-linux-gnueabihf", toolchain.Spec{})
	l := tc.Layout(p.Env)
	touch(t, l.GCC())
	touch(t, l.Bin("ld"))

	res, err := p.Install(context.Background(), tc)
	if err != nil {
		t.Fatalf("Install() error = %v", err)
	}
	if res.AlreadyInstalled || len(res.Skipped) != 0 || rec.Titles()[0] != "binutils-2.45-configure" {
		t.Fatalf("forced install = %+v", res)
	}
}

func TestInstallStopsOnFailure(t *testing.T) {
	t.Parallel()

	p, rec, _ := newPipeline(t)
	boom := errors.New("boom")
	rec.Hook = func(c runner.Command) error {
		if c.Title == "linux-6.17.7-headers" {
			return boom
		}
		return nil
	}
	tc := mustDefault(t, "aarch64-unknown-linux-gnu", toolchain.Spec{})
	_, err := p.Install(context.Background(), tc)
	if !errors.Is(err, boom) || !strings.HasPrefix(err.Error(), "linux-headers:") {
		t.Fatalf("Install() error = %v", err)
	}
	if titles := rec.Titles(); titles[len(titles)-1] != "linux-6.17.7-headers" {
		t.Fatalf("pipeline continued after failure: %v", titles)
	}
	if _, err := toolchain.ReadManifest(tc.Layout(p.Env)); err == nil {
		t.Fatalf("manifest written for a failed install")
	}
}

func TestInstallRejectsUnsupported(t *testing.T) {
	t.Parallel()

	p, rec, _ := newPipeline(t)
	tc := toolchain.Toolchain{Target: target.MustParse("x86_64-unknown-linux-gnux32")}
	_, err := p.Install(context.Background(), tc)
	var uerr *target.UnsupportedError
	if !errors.As(err, &uerr) || len(rec.Commands()) != 0 {
		t.Fatalf("Install() error = %v, commands %v", err, rec.Titles())
	}
}
