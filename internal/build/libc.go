package build

import (
	"context"
	"fmt"
	"path/filepath"

	"toolup/internal/runner"
	"toolup/internal/target"
	"toolup/internal/toolchain"
)

func glibcLibdir(a target.Arch) string {
	if a.Lib64() {
		return "/usr/lib64"
	}
	return "/usr/lib"
}

// crossEnv points a C library build at the bootstrap compiler.
func (p *Pipeline) crossEnv(tc toolchain.Toolchain, l toolchain.Layout, extraPath ...string) []string {
	tool := tc.Tool
	path := append(extraPath, filepath.Join(l.Stage1, "bin"), l.BinDir())
	return p.Env.Environ(
		"BUILD_CC=gcc",
		"BUILD_CXX=g++",
		"BUILD_AR=ar",
		"BUILD_RANLIB=ranlib",
		"CC="+tool("gcc"),
		"CXX="+tool("g++"),
		"AR="+tool("ar"),
		"RANLIB="+tool("ranlib"),
		"LD="+tool("ld"),
		"READELF="+tool("readelf"),
		p.Env.PathWith(path...),
	)
}

func (p *Pipeline) installGlibc(ctx context.Context, tc toolchain.Toolchain, l toolchain.Layout) error {
	src, err := p.fetch(ctx, glibcSource(tc.Libc.Version))
	if err != nil {
		return err
	}
	obj, err := objDir(src, "glibc", tc)
	if err != nil {
		return err
	}

	build, err := p.Runner.Output(ctx, runner.Command{
		Title: "config.guess",
		Dir:   src,
		Name:  filepath.Join(src, "scripts", "config.guess"),
		Env:   p.Env.Environ(),
	})
	if err != nil {
		return fmt.Errorf("detect build system: %w", err)
	}
	if build == "" {
		return fmt.Errorf("detect build system: config.guess printed nothing")
	}

	var extraPath []string
	if tc.Libc.Version.AtMost(lastOldMakeGlibc) {
		extraPath = append(extraPath, filepath.Join(l.HostTools, "bin"))
	}
	environ := p.crossEnv(tc, l, extraPath...)
	title := "glibc-" + tc.Libc.Version.String()
	return p.runAll(ctx,
		withEnv(runner.Configure(title+"-configure", obj,
			"--host="+tc.Triple(),
			"--build="+build,
			"--prefix=/usr",
			"--libdir="+glibcLibdir(tc.Target.Arch),
			"--with-headers="+filepath.Join(l.Sysroot, "usr", "include"),
			"--with-sysroot="+l.Sysroot,
			"--disable-werror",
		), environ),
		makeCmd(title+"-make", obj, environ, "-j", p.jobs()),
		makeCmd(title+"-install", obj, environ, "install", "DESTDIR="+l.Sysroot, "-j", p.jobs()),
	)
}

func (p *Pipeline) installMusl(ctx context.Context, tc toolchain.Toolchain, l toolchain.Layout) error {
	src, err := p.fetch(ctx, muslSource(tc.Libc.Version))
	if err != nil {
		return err
	}
	obj, err := objDir(src, "musl", tc)
	if err != nil {
		return err
	}

	environ := p.crossEnv(tc, l)
	title := "musl-" + tc.Libc.Version.String()
	return p.runAll(ctx,
		withEnv(runner.Configure(title+"-configure", obj,
			"--host="+tc.Triple(),
			"--prefix=/usr",
			"--syslibdir=/lib",
			"--disable-werror",
		), environ),
		makeCmd(title+"-make", obj, environ, "-j", p.jobs()),
		makeCmd(title+"-install", obj, environ, "install", "DESTDIR="+l.Sysroot, "-j", p.jobs()),
	)
}

// installHostMake builds GNU make into the toolchain's host-tools prefix
// with the host compiler. make is built in its source tree.
func (p *Pipeline) installHostMake(ctx context.Context, l toolchain.Layout) error {
	src, err := p.fetch(ctx, makeSource(hostMake))
	if err != nil {
		return err
	}
	environ := p.Env.Environ()
	title := "make-" + hostMake.String()
	return p.runAll(ctx,
		runner.Command{
			Title: title + "-configure",
			Dir:   src,
			Name:  filepath.Join(src, "configure"),
			Args:  []string{"--prefix=" + l.HostTools},
			Env:   environ,
		},
		makeCmd(title+"-make", src, environ, "-j", p.jobs()),
		makeCmd(title+"-install", src, environ, "install"),
	)
}
