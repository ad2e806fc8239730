// Package toolchain describes one versioned cross toolchain and where it
// lives on disk.
package toolchain

import (
	"fmt"
	"strings"

	"toolup/internal/target"
	"toolup/internal/version"
)

// Default component versions.
var (
	DefaultGCC      = version.New(version.GCC, 15, 2, 0)
	DefaultBinutils = version.New(version.Binutils, 2, 45, 0)
	DefaultGlibc    = version.New(version.Glibc, 2, 42, 0)
	DefaultMusl     = version.New(version.Musl, 1, 2, 5)
	DefaultKernel   = version.New(version.Kernel, 6, 17, 7)
)

// Libc is the C library of a hosted toolchain.
type Libc struct {
	Kind    target.LibcKind
	Version version.Version
}

func (l Libc) String() string {
	if l.Kind == "" {
		return "none"
	}
	return string(l.Kind) + "-" + l.Version.String()
}

// Toolchain is immutable once constructed. Libc is the zero value for
// freestanding targets.
type Toolchain struct {
	Target   target.Target
	Binutils version.Version
	GCC      version.Version
	Libc     Libc
	Kernel   *version.Version
}

// Spec is the textual description of a toolchain as written in config files
// or on the command line. Empty fields take defaults.
type Spec struct {
	GCC      string
	Binutils string
	Libc     string
	Kernel   string
}

// Default returns the pinned toolchain for t.
func Default(t target.Target) (Toolchain, error) {
	return New(t, Spec{})
}

// New parses spec for target t.
func New(t target.Target, spec Spec) (Toolchain, error) {
	class := t.Classify()
	if class == target.Unsupported {
		return Toolchain{}, &target.UnsupportedError{Target: t}
	}

	tc := Toolchain{Target: t, Binutils: DefaultBinutils, GCC: DefaultGCC}
	var err error
	if spec.Binutils != "" {
		if tc.Binutils, err = version.Parse(spec.Binutils, version.Binutils); err != nil {
			return Toolchain{}, err
		}
	}
	if spec.GCC != "" {
		if tc.GCC, err = version.Parse(spec.GCC, version.GCC); err != nil {
			return Toolchain{}, err
		}
	}
	if spec.Kernel != "" {
		k, err := version.Parse(spec.Kernel, version.Kernel)
		if err != nil {
			return Toolchain{}, err
		}
		tc.Kernel = &k
	}

	switch t.Libc() {
	case target.Glibc:
		tc.Libc = Libc{Kind: target.Glibc, Version: DefaultGlibc}
		if spec.Libc != "" {
			if tc.Libc.Version, err = version.Parse(spec.Libc, version.Glibc); err != nil {
				return Toolchain{}, err
			}
		}
	case target.MuslLibc:
		tc.Libc = Libc{Kind: target.MuslLibc, Version: DefaultMusl}
		if spec.Libc != "" {
			if tc.Libc.Version, err = version.Parse(spec.Libc, version.Musl); err != nil {
				return Toolchain{}, err
			}
		}
	}
	return tc, nil
}

// Spec returns the textual form of tc.
func (tc Toolchain) Spec() Spec {
	s := Spec{GCC: tc.GCC.String(), Binutils: tc.Binutils.String()}
	if tc.Libc.Kind != "" {
		s.Libc = tc.Libc.Version.String()
	}
	if tc.Kernel != nil {
		s.Kernel = tc.Kernel.String()
	}
	return s
}

// Triple is the canonical target string.
func (tc Toolchain) Triple() string { return tc.Target.String() }

// Tool returns the prefixed name of a cross tool, e.g. aarch64-elf-gcc.
func (tc Toolchain) Tool(name string) string { return tc.Triple() + "-" + name }

// KernelHeaders is the kernel version whose headers populate the sysroot.
func (tc Toolchain) KernelHeaders() version.Version {
	if tc.Kernel != nil {
		return *tc.Kernel
	}
	return DefaultKernel
}

// ID identifies the toolchain on disk. Components are joined with '+', which
// no target or version string contains, so distinct toolchains never share
// an ID.
func (tc Toolchain) ID() string {
	parts := []string{
		tc.Triple(),
		"binutils-" + tc.Binutils.String(),
		"gcc-" + tc.GCC.String(),
	}
	if tc.Libc.Kind != "" {
		parts = append(parts, tc.Libc.String())
	}
	if tc.Kernel != nil {
		parts = append(parts, "linux-"+tc.Kernel.String())
	}
	return strings.Join(parts, "+")
}

func (tc Toolchain) String() string {
	return fmt.Sprintf("%s (binutils %s, gcc %s, libc %s)", tc.Triple(), tc.Binutils, tc.GCC, tc.Libc)
}
