// Package build sequences the configure and make steps that produce a cross
// toolchain: binutils, then either a freestanding GCC or a sysroot (kernel
// headers, bootstrap GCC, C library) followed by the final GCC.
package build

import (
	"context"
	"fmt"
	"log/slog"
	"os"
	"path/filepath"
	"strconv"
	"time"

	"toolup/internal/env"
	"toolup/internal/kernel"
	"toolup/internal/logging"
	"toolup/internal/runner"
	"toolup/internal/target"
	"toolup/internal/toolchain"
)

// Sources provides extracted upstream source trees.
type Sources interface {
	DownloadAndDecompress(ctx context.Context, url, dirName string, useCache bool) (string, error)
}

// Pipeline installs toolchains. Stages run strictly in order; each is
// skipped when its output artifact already exists unless Force is set.
type Pipeline struct {
	Env     *env.Env
	Runner  runner.Runner
	Sources Sources
	Jobs    int
	Force   bool
	Logger  *slog.Logger

	now func() time.Time
}

// Result describes a finished Install.
type Result struct {
	Toolchain toolchain.Toolchain
	Layout    toolchain.Layout
	// AlreadyInstalled is set when the final compiler existed and nothing ran.
	AlreadyInstalled bool
	// Ran and Skipped list stage names.
	Ran     []string
	Skipped []string
}

type stage struct {
	name     string
	artifact string
	run      func(ctx context.Context) error
}

func (p *Pipeline) logger() *slog.Logger { return logging.Ensure(p.Logger) }

func (p *Pipeline) jobs() string { return strconv.Itoa(max(p.Jobs, 1)) }

func (p *Pipeline) kernel() *kernel.Builder {
	return &kernel.Builder{Env: p.Env, Runner: p.Runner, Sources: p.Sources, Jobs: p.Jobs, Logger: p.Logger}
}

// Install builds tc. A rerun after a failure resumes at the first stage
// whose artifact is missing.
func (p *Pipeline) Install(ctx context.Context, tc toolchain.Toolchain) (Result, error) {
	l := tc.Layout(p.Env)
	res := Result{Toolchain: tc, Layout: l}
	log := p.logger().With("target", tc.Triple())

	class := tc.Target.Classify()
	if class == target.Unsupported {
		return res, &target.UnsupportedError{Target: tc.Target}
	}

	if !p.Force && exists(l.GCC()) {
		log.Info("toolchain is already installed", "prefix", l.Prefix)
		res.AlreadyInstalled = true
		return res, nil
	}

	var stages []stage
	if class == target.Freestanding {
		stages = p.freestanding(tc, l)
	} else {
		stages = p.hosted(tc, l)
	}

	for _, s := range stages {
		if err := ctx.Err(); err != nil {
			return res, err
		}
		if !p.Force && s.artifact != "" && exists(s.artifact) {
			log.Debug("stage already satisfied", "stage", s.name, "artifact", s.artifact)
			res.Skipped = append(res.Skipped, s.name)
			continue
		}
		log.Info("building "+s.name, "toolchain", tc.ID())
		if err := s.run(ctx); err != nil {
			return res, fmt.Errorf("%s: %w", s.name, err)
		}
		res.Ran = append(res.Ran, s.name)
	}

	m := toolchain.NewManifest(tc, l)
	m.InstalledAt = p.clock().UTC()
	if err := toolchain.WriteManifest(m); err != nil {
		return res, err
	}
	return res, nil
}

func (p *Pipeline) clock() time.Time {
	if p.now != nil {
		return p.now()
	}
	return time.Now()
}

func (p *Pipeline) freestanding(tc toolchain.Toolchain, l toolchain.Layout) []stage {
	return []stage{
		p.binutilsStage(tc, l),
		{
			name:     "gcc",
			artifact: l.GCC(),
			run: func(ctx context.Context) error {
				return p.bootstrapGCC(ctx, tc, l, l.Prefix)
			},
		},
	}
}

func (p *Pipeline) hosted(tc toolchain.Toolchain, l toolchain.Layout) []stage {
	stages := []stage{
		p.binutilsStage(tc, l),
		{
			name:     "linux-headers",
			artifact: filepath.Join(l.Sysroot, "usr", "include", "linux", "version.h"),
			run: func(ctx context.Context) error {
				for _, d := range []string{"usr/include", "usr/lib"} {
					if err := os.MkdirAll(filepath.Join(l.Sysroot, d), 0o755); err != nil {
						return fmt.Errorf("create sysroot: %w", err)
					}
				}
				return p.kernel().InstallHeaders(ctx, tc, l.Sysroot)
			},
		},
		{
			name:     "gcc-stage1",
			artifact: l.Stage1GCC(),
			run: func(ctx context.Context) error {
				return p.bootstrapGCC(ctx, tc, l, l.Stage1)
			},
		},
	}

	switch tc.Libc.Kind {
	case target.Glibc:
		if tc.Libc.Version.AtMost(lastOldMakeGlibc) {
			stages = append(stages, stage{
				name:     "make-" + hostMake.String(),
				artifact: filepath.Join(l.HostTools, "bin", "make"),
				run: func(ctx context.Context) error {
					return p.installHostMake(ctx, l)
				},
			})
		}
		stages = append(stages, stage{
			name:     "glibc",
			artifact: filepath.Join(l.Sysroot, glibcLibdir(tc.Target.Arch), "libc.so"),
			run: func(ctx context.Context) error {
				return p.installGlibc(ctx, tc, l)
			},
		})
	case target.MuslLibc:
		stages = append(stages, stage{
			name:     "musl",
			artifact: filepath.Join(l.Sysroot, "usr", "lib", "libc.so"),
			run: func(ctx context.Context) error {
				return p.installMusl(ctx, tc, l)
			},
		})
	}

	return append(stages, stage{
		name:     "gcc-final",
		artifact: l.GCC(),
		run: func(ctx context.Context) error {
			return p.finalGCC(ctx, tc, l)
		},
	})
}

func exists(path string) bool {
	_, err := os.Stat(path)
	return err == nil
}

func objDir(src, stageName string, tc toolchain.Toolchain) (string, error) {
	dir := filepath.Join(src, "objdir-"+stageName+"-"+tc.ID())
	if err := os.MkdirAll(dir, 0o755); err != nil {
		return "", fmt.Errorf("create object directory: %w", err)
	}
	return dir, nil
}

func (p *Pipeline) fetch(ctx context.Context, s source) (string, error) {
	dir, err := p.Sources.DownloadAndDecompress(ctx, s.url, s.dir, true)
	if err != nil {
		return "", fmt.Errorf("%s sources: %w", s.dir, err)
	}
	return dir, nil
}

// runAll stops at the first failing command.
func (p *Pipeline) runAll(ctx context.Context, cmds ...runner.Command) error {
	for _, c := range cmds {
		if err := p.Runner.Run(ctx, c); err != nil {
			return err
		}
	}
	return nil
}

func makeCmd(title, dir string, environ []string, args ...string) runner.Command {
	return runner.Command{Title: title, Dir: dir, Name: "make", Args: args, Env: environ}
}

func withEnv(c runner.Command, environ []string) runner.Command {
	c.Env = environ
	return c
}
