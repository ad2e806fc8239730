package build

import (
	"context"

	"toolup/internal/runner"
	"toolup/internal/toolchain"
)

func (p *Pipeline) binutilsStage(tc toolchain.Toolchain, l toolchain.Layout) stage {
	return stage{
		name:     "binutils",
		artifact: l.Bin("ld"),
		run: func(ctx context.Context) error {
			src, err := p.fetch(ctx, binutilsSource(tc.Binutils))
			if err != nil {
				return err
			}
			obj, err := objDir(src, "binutils", tc)
			if err != nil {
				return err
			}
			environ := p.Env.Environ()
			title := "binutils-" + tc.Binutils.String()
			return p.runAll(ctx,
				withEnv(runner.Configure(title+"-configure", obj,
					"--target="+tc.Triple(),
					"--prefix="+l.Prefix,
					"--disable-nls",
					"--disable-werror",
				), environ),
				makeCmd(title+"-make", obj, environ, "-j", p.jobs()),
				makeCmd(title+"-install", obj, environ, "install", "-j", p.jobs()),
			)
		},
	}
}

// bootstrapGCC builds a C compiler and libgcc without any target headers.
// For freestanding targets this is the final compiler; hosted targets use it
// only to build their C library.
func (p *Pipeline) bootstrapGCC(ctx context.Context, tc toolchain.Toolchain, l toolchain.Layout, prefix string) error {
	src, err := p.fetch(ctx, gccSource(tc.GCC))
	if err != nil {
		return err
	}
	obj, err := objDir(src, "stage1", tc)
	if err != nil {
		return err
	}

	args := []string{
		"--target=" + tc.Triple(),
		"--prefix=" + prefix,
		"--disable-nls",
		"--enable-languages=c,c++",
		"--without-headers",
		"--disable-threads",
		"--disable-shared",
		"--disable-libssp",
		"--disable-libgomp",
		"--disable-libquadmath",
		"--disable-multilib",
	}
	if prefix != l.Prefix {
		args = append(args, "--with-as="+l.Bin("as"), "--with-ld="+l.Bin("ld"))
	}

	environ := p.Env.Environ(p.Env.PathWith(l.BinDir()))
	title := "gcc-" + tc.GCC.String() + "-stage1"
	return p.runAll(ctx,
		withEnv(runner.Configure(title+"-configure", obj, args...), environ),
		makeCmd(title+"-all-gcc", obj, environ, "all-gcc", "-j", p.jobs()),
		makeCmd(title+"-install-gcc", obj, environ, "install-gcc", "-j", p.jobs()),
		makeCmd(title+"-all-target-libgcc", obj, environ, "all-target-libgcc", "-j", p.jobs()),
		makeCmd(title+"-install-target-libgcc", obj, environ, "install-target-libgcc", "-j", p.jobs()),
	)
}

func (p *Pipeline) finalGCC(ctx context.Context, tc toolchain.Toolchain, l toolchain.Layout) error {
	src, err := p.fetch(ctx, gccSource(tc.GCC))
	if err != nil {
		return err
	}
	obj, err := objDir(src, "final", tc)
	if err != nil {
		return err
	}

	environ := p.Env.Environ(p.Env.PathWith(l.BinDir()))
	title := "gcc-" + tc.GCC.String() + "-final"
	return p.runAll(ctx,
		withEnv(runner.Configure(title+"-configure", obj,
			"--target="+tc.Triple(),
			"--prefix="+l.Prefix,
			"--disable-nls",
			"--enable-languages=c,c++",
			"--disable-multilib",
			"--with-sysroot="+l.Sysroot,
		), environ),
		makeCmd(title+"-make", obj, environ, "-j", p.jobs()),
		makeCmd(title+"-install", obj, environ, "install", "-j", p.jobs()),
	)
}
