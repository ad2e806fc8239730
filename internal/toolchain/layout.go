package toolchain

import (
	"path/filepath"

	"toolup/internal/env"
)

// Layout is the set of directories one toolchain occupies.
type Layout struct {
	Triple    string
	Prefix    string
	Stage1    string
	HostTools string
	Sysroot   string
}

// Layout places tc under the directories of e.
func (tc Toolchain) Layout(e *env.Env) Layout {
	prefix := filepath.Join(e.ToolchainsDir(), tc.ID())
	return Layout{
		Triple:    tc.Triple(),
		Prefix:    prefix,
		Stage1:    filepath.Join(prefix, "stage1"),
		HostTools: filepath.Join(prefix, "host-tools"),
		Sysroot:   filepath.Join(e.CacheDir(), "sysroot-"+tc.ID()),
	}
}

// BinDir holds the installed cross tools.
func (l Layout) BinDir() string { return filepath.Join(l.Prefix, "bin") }

// Bin returns the installed path of tool.
func (l Layout) Bin(tool string) string {
	return filepath.Join(l.BinDir(), l.Triple+"-"+tool)
}

// GCC is the final compiler; its presence marks the toolchain as installed.
func (l Layout) GCC() string { return l.Bin("gcc") }

// Stage1GCC is the bootstrap compiler of hosted toolchains.
func (l Layout) Stage1GCC() string {
	return filepath.Join(l.Stage1, "bin", l.Triple+"-gcc")
}

// Exports are the shell lines that put the toolchain to use.
func (l Layout) Exports(hosted bool) []string {
	lines := []string{"export PATH=" + l.BinDir() + ":$PATH"}
	if hosted {
		lines = append(lines,
			"export SYSROOT="+l.Sysroot,
			"export PKG_CONFIG_SYSROOT_DIR="+l.Sysroot,
		)
	}
	return append(lines, "export TARGET="+l.Triple)
}
