// Package config resolves which component versions to use for a target from
// a per-project toolup.toml, falling back to a global file that records a
// default entry for every target it is asked about.
package config

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"os"
	"path/filepath"
	"time"

	"github.com/BurntSushi/toml"
	"github.com/danjacques/gofslock/fslock"
	"github.com/google/renameio"

	"toolup/internal/env"
	"toolup/internal/logging"
	"toolup/internal/target"
	"toolup/internal/toolchain"
)

const tableName = "toolchain"

var (
	errArrayTable   = errors.New("array of tables")
	errUnterminated = errors.New("unterminated quoted key")
	errEmptyKey     = errors.New("empty key")
	errBadKey       = errors.New("malformed dotted key")
)

// Entry is one [toolchain."<target>"] table.
type Entry struct {
	GCC      string `toml:"gcc"`
	Binutils string `toml:"binutils"`
	Libc     string `toml:"libc"`
	Kernel   string `toml:"kernel"`
}

// Spec converts e for toolchain.New.
func (e Entry) Spec() toolchain.Spec {
	return toolchain.Spec{GCC: e.GCC, Binutils: e.Binutils, Libc: e.Libc, Kernel: e.Kernel}
}

// File is the decoded form of a configuration file.
type File struct {
	Toolchain map[string]Entry `toml:"toolchain"`
}

// ParseError reports a configuration file that is not valid TOML or does
// not have the expected shape.
type ParseError struct {
	Path string
	Err  error
}

func (e *ParseError) Error() string {
	return fmt.Sprintf("parse %s: %v (expected [toolchain.\"<target>\"] tables with string keys gcc, binutils, libc)", e.Path, e.Err)
}

func (e *ParseError) Unwrap() error { return e.Err }

// Decode parses a configuration file's contents. Tables other than
// [toolchain] are ignored.
func Decode(path string, data []byte) (File, error) {
	var f File
	if _, err := toml.Decode(string(data), &f); err != nil {
		return File{}, &ParseError{Path: path, Err: err}
	}
	return f, nil
}

// Load reads and decodes path. A missing file is reported with os.ErrNotExist.
func Load(path string) (File, error) {
	data, err := os.ReadFile(path)
	if err != nil {
		return File{}, err
	}
	return Decode(path, data)
}

// Source says where a resolved toolchain came from.
type Source int

const (
	Local Source = iota
	GlobalFound
	GlobalCreated
)

func (s Source) String() string {
	switch s {
	case Local:
		return "local"
	case GlobalFound:
		return "global"
	case GlobalCreated:
		return "global (created)"
	}
	return fmt.Sprintf("Source(%d)", int(s))
}

// Resolution is the result of Resolve.
type Resolution struct {
	Source    Source
	Path      string
	Toolchain toolchain.Toolchain
}

// Resolver looks toolchains up in the local and global configuration files
// named by Env.
type Resolver struct {
	Env    *env.Env
	Logger *slog.Logger
	// LockRetry is how long to wait between attempts to take the global
	// file's lock. Zero means 100ms.
	LockRetry time.Duration
}

var globalHeader = []string{
	"toolup toolchain configuration.",
	"",
	"Each [toolchain.\"<target>\"] table pins the versions used for that target:",
	"gcc, binutils, libc (glibc or musl) and optionally kernel (Linux headers).",
	"toolup adds a table with the current defaults the first time a target is used.",
}

// Resolve returns the toolchain configured for t. A project file in the
// working directory wins; otherwise the global file is consulted and, when it
// has no entry for t, extended with one holding the defaults.
func (r *Resolver) Resolve(ctx context.Context, t target.Target) (Resolution, error) {
	log := logging.Ensure(r.Logger)

	local := r.Env.LocalConfigPath()
	f, err := Load(local)
	switch {
	case err == nil:
		if e, ok := f.Toolchain[t.String()]; ok {
			tc, err := entryToolchain(local, t, e)
			if err != nil {
				return Resolution{}, err
			}
			log.Debug("using project configuration", "path", local)
			return Resolution{Source: Local, Path: local, Toolchain: tc}, nil
		}
	case !errors.Is(err, os.ErrNotExist):
		return Resolution{}, err
	}

	global := r.Env.GlobalConfigPath()
	if err := os.MkdirAll(filepath.Dir(global), 0o755); err != nil {
		return Resolution{}, fmt.Errorf("create config directory: %w", err)
	}
	var res Resolution
	err = fslock.WithBlocking(global+".lock", r.blocker(ctx), func() error {
		var err error
		res, err = r.resolveGlobal(global, t)
		return err
	})
	if err != nil {
		return Resolution{}, err
	}
	if res.Source == GlobalCreated {
		log.Info("added default toolchain to global configuration", "target", t.String(), "path", global)
	}
	return res, nil
}

func (r *Resolver) blocker(ctx context.Context) fslock.Blocker {
	wait := r.LockRetry
	if wait <= 0 {
		wait = 100 * time.Millisecond
	}
	return func() error {
		select {
		case <-ctx.Done():
			return ctx.Err()
		case <-time.After(wait):
			return nil
		}
	}
}

// resolveGlobal runs with the global lock held.
func (r *Resolver) resolveGlobal(path string, t target.Target) (Resolution, error) {
	data, err := os.ReadFile(path)
	if err != nil && !errors.Is(err, os.ErrNotExist) {
		return Resolution{}, err
	}
	created := err != nil

	f, err := Decode(path, data)
	if err != nil {
		return Resolution{}, err
	}
	if e, ok := f.Toolchain[t.String()]; ok {
		tc, err := entryToolchain(path, t, e)
		if err != nil {
			return Resolution{}, err
		}
		return Resolution{Source: GlobalFound, Path: path, Toolchain: tc}, nil
	}

	tc, err := toolchain.Default(t)
	if err != nil {
		return Resolution{}, err
	}
	doc := ParseDocument(data)
	if created {
		doc.AppendComment(globalHeader...)
	}
	doc.SetTable([]string{tableName, t.String()}, EntryFor(tc))
	if err := renameio.WriteFile(path, doc.Bytes(), 0o644); err != nil {
		return Resolution{}, fmt.Errorf("write %s: %w", path, err)
	}
	return Resolution{Source: GlobalCreated, Path: path, Toolchain: tc}, nil
}

// EntryFor lists the keys that describe tc, in file order.
func EntryFor(tc toolchain.Toolchain) []KeyValue {
	s := tc.Spec()
	kvs := []KeyValue{{"gcc", s.GCC}, {"binutils", s.Binutils}}
	if s.Libc != "" {
		kvs = append(kvs, KeyValue{"libc", s.Libc})
	}
	if s.Kernel != "" {
		kvs = append(kvs, KeyValue{"kernel", s.Kernel})
	}
	return kvs
}

func entryToolchain(path string, t target.Target, e Entry) (toolchain.Toolchain, error) {
	tc, err := toolchain.New(t, e.Spec())
	if err != nil {
		return toolchain.Toolchain{}, fmt.Errorf("%s: toolchain %q: %w", path, t.String(), err)
	}
	return tc, nil
}
