package cli

import (
	"bytes"
	"context"
	"io"
	"log/slog"
	"os"
	"path/filepath"
	"strings"
	"testing"
	"time"

	"github.com/goccy/go-json"

	"toolup/internal/env"
	"toolup/internal/fetch/fetchtest"
	"toolup/internal/logging"
	"toolup/internal/runner"
	"toolup/internal/runner/runnertest"
)

func newTestApp(t *testing.T, stdin string) (*app, *runnertest.Recorder, *bytes.Buffer) {
	t.Helper()
	home := t.TempDir()
	e, err := env.New(home, t.TempDir(), []string{"PATH=/usr/bin", "TOOLUP_JOBS=3"})
	if err != nil {
		t.Fatalf("env.New() error = %v", err)
	}
	rec := &runnertest.Recorder{Outputs: map[string]string{"config.guess": "x86_64-pc-linux-gnu"}}
	var out bytes.Buffer
	a := &app{
		logger: logging.NewCLI(io.Discard, slog.LevelInfo),
		env:    e,
		runner: rec,
		source: &fetchtest.Sources{Root: e.CacheDir()},
		stdin:  strings.NewReader(stdin),
		stdout: &out,
		stderr: io.Discard,
		now:    func() time.Time { return time.Date(2025, 11, 1, 12, 0, 0, 0, time.UTC) },
	}
	return a, rec, &out
}

func execute(a *app, args ...string) error {
	root := newRootCommand(a)
	root.SetArgs(args)
	return root.ExecuteContext(context.Background())
}

func TestInstallPrintsExports(t *testing.T) {
	t.Parallel()

	a, rec, out := newTestApp(t, "")
	if err := execute(a, "install", "riscv64-elf", "--gcc", "14.2.0"); err != nil {
		t.Fatalf("install error = %v", err)
	}
	if titles := rec.Titles(); len(titles) != 8 || titles[3] != "gcc-14.2.0-stage1-configure" {
		t.Fatalf("commands = %v", titles)
	}
	if args := rec.Commands()[1].Args; args[len(args)-1] != "3" {
		t.Fatalf("make args = %v, want TOOLUP_JOBS parallelism", args)
	}
	text := out.String()
	if !strings.Contains(text, "export PATH=") || !strings.Contains(text, "export TARGET=riscv64-elf\n") {
		t.Fatalf("output =\n%s", text)
	}
	if strings.Contains(text, "SYSROOT") {
		t.Fatalf("freestanding toolchain printed a sysroot:\n%s", text)
	}

	// the recorder builds nothing; put the final compiler in place
	bin := strings.TrimSuffix(strings.TrimPrefix(strings.Split(text, "\n")[0], "export PATH="), ":$PATH")
	if err := os.MkdirAll(bin, 0o755); err != nil {
		t.Fatalf("MkdirAll() error = %v", err)
	}
	if err := os.WriteFile(filepath.Join(bin, "riscv64-elf-gcc"), nil, 0o755); err != nil {
		t.Fatalf("WriteFile() error = %v", err)
	}

	rec.Reset()
	out.Reset()
	if err := execute(a, "install", "riscv64-elf", "--gcc", "14.2.0"); err != nil {
		t.Fatalf("install error = %v", err)
	}
	if len(rec.Commands()) != 0 {
		t.Fatalf("reinstall ran %v", rec.Titles())
	}
}

func TestShowJSON(t *testing.T) {
	t.Parallel()

	a, _, out := newTestApp(t, "")
	if err := execute(a, "show", "aarch64-unknown-linux-musl", "-o", "json"); err != nil {
		t.Fatalf("show error = %v", err)
	}
	var v toolchainView
	if err := json.Unmarshal(out.Bytes(), &v); err != nil {
		t.Fatalf("Unmarshal() error = %v\n%s", err, out.String())
	}
	if v.Target != "aarch64-unknown-linux-musl" || v.Libc != "musl-1.2.5" || v.Installed || v.Config != "global (created)" {
		t.Fatalf("show = %+v", v)
	}
	if _, err := os.Stat(a.env.GlobalConfigPath()); err != nil {
		t.Fatalf("global config not created: %v", err)
	}
}

func TestShowRejectsBadInput(t *testing.T) {
	t.Parallel()

	a, _, _ := newTestApp(t, "")
	if err := execute(a, "show", "aarch64-unknown-none-elf"); err == nil || !strings.Contains(err.Error(), "aarch64-elf") {
		t.Fatalf("show error = %v", err)
	}
	if err := execute(a, "show", "aarch64-elf", "-o", "xml"); err == nil {
		t.Fatalf("show accepted -o xml")
	}
}

func TestRunDryRun(t *testing.T) {
	t.Parallel()

	a, rec, out := newTestApp(t, "")
	rec.Hook = func(c runner.Command) error {
		obj, _ := runnertest.Arg(c, "O")
		switch {
		case strings.HasSuffix(c.Title, "defconfig"):
			return os.WriteFile(filepath.Join(obj, ".config"), []byte("CONFIG_64BIT=y\n"), 0o644)
		case c.Title == "linux-6.17.7":
			image := filepath.Join(obj, "arch", "x86", "boot", "bzImage")
			if err := os.MkdirAll(filepath.Dir(image), 0o755); err != nil {
				return err
			}
			return os.WriteFile(image, []byte("kernel"), 0o644)
		}
		return nil
	}

	if err := execute(a, "run", "x86_64-unknown-linux-musl", "6.17.7", "--dry-run"); err != nil {
		t.Fatalf("run error = %v", err)
	}
	line := strings.TrimSpace(out.String())
	if !strings.HasPrefix(line, "qemu-system-x86_64 -m 1G") || !strings.Contains(line, "/bzImage-") || !strings.Contains(line, "rootfs-x86_64-unknown-linux-musl+") {
		t.Fatalf("output = %q", line)
	}
	for _, c := range rec.Commands() {
		if strings.HasPrefix(c.Name, "qemu") {
			t.Fatalf("dry run started the emulator")
		}
	}
}

func TestPrune(t *testing.T) {
	t.Parallel()

	a, _, out := newTestApp(t, "n\n")
	cache := a.env.CacheDir()
	for _, d := range []string{"gcc-15.2.0", "sysroot-x"} {
		if err := os.MkdirAll(filepath.Join(cache, d), 0o755); err != nil {
			t.Fatalf("MkdirAll() error = %v", err)
		}
	}

	if err := execute(a, "prune"); err != nil {
		t.Fatalf("prune error = %v", err)
	}
	if !strings.Contains(out.String(), "gcc-15.2.0") || strings.Contains(out.String(), "sysroot-x") {
		t.Fatalf("output =\n%s", out.String())
	}
	if _, err := os.Stat(filepath.Join(cache, "gcc-15.2.0")); err != nil {
		t.Fatalf("declined prune removed entries")
	}

	if err := execute(a, "prune", "--yes"); err != nil {
		t.Fatalf("prune error = %v", err)
	}
	if _, err := os.Stat(filepath.Join(cache, "gcc-15.2.0")); !os.IsNotExist(err) {
		t.Fatalf("gcc sources still present: %v", err)
	}
	if _, err := os.Stat(filepath.Join(cache, "sysroot-x")); err != nil {
		t.Fatalf("sysroot removed: %v", err)
	}
}

func TestPruneEmptyAnswerKeepsEntries(t *testing.T) {
	t.Parallel()

	a, _, out := newTestApp(t, "\n")
	entry := filepath.Join(a.env.CacheDir(), "binutils-2.45")
	if err := os.MkdirAll(entry, 0o755); err != nil {
		t.Fatalf("MkdirAll() error = %v", err)
	}
	if err := execute(a, "prune"); err != nil {
		t.Fatalf("prune error = %v", err)
	}
	if !strings.Contains(out.String(), "[y/N]") {
		t.Fatalf("output =\n%s", out.String())
	}
	if _, err := os.Stat(entry); err != nil {
		t.Fatalf("empty answer removed entries: %v", err)
	}
}

func TestConfirm(t *testing.T) {
	t.Parallel()

	cases := map[string]bool{"\n": false, "yes\n": true, "maybe\nn\n": false, "maybe\ny\n": true, "": false, "Y\n": true}
	for in, want := range cases {
		if got := confirm(strings.NewReader(in), io.Discard, "ok?"); got != want {
			t.Fatalf("confirm(%q) = %v, want %v", in, got, want)
		}
	}
}

func TestCacheAndLogs(t *testing.T) {
	t.Parallel()

	a, _, out := newTestApp(t, "")
	if err := execute(a, "cache"); err != nil {
		t.Fatalf("cache error = %v", err)
	}
	if strings.TrimSpace(out.String()) != a.env.CacheDir() {
		t.Fatalf("cache = %q", out.String())
	}

	out.Reset()
	if err := execute(a, "cache", "--usage"); err != nil {
		t.Fatalf("cache --usage error = %v", err)
	}
	if !strings.Contains(out.String(), "free: ") {
		t.Fatalf("cache --usage =\n%s", out.String())
	}

	logs := a.env.LogsDir()
	if err := os.MkdirAll(logs, 0o755); err != nil {
		t.Fatalf("MkdirAll() error = %v", err)
	}
	older, newer := filepath.Join(logs, "a.log"), filepath.Join(logs, "b.log")
	if err := os.WriteFile(older, []byte("old\n"), 0o644); err != nil {
		t.Fatalf("WriteFile() error = %v", err)
	}
	if err := os.WriteFile(newer, []byte("line one\nline two\n"), 0o644); err != nil {
		t.Fatalf("WriteFile() error = %v", err)
	}
	past := time.Now().Add(-time.Hour)
	if err := os.Chtimes(older, past, past); err != nil {
		t.Fatalf("Chtimes() error = %v", err)
	}

	out.Reset()
	if err := execute(a, "logs"); err != nil {
		t.Fatalf("logs error = %v", err)
	}
	lines := strings.Split(strings.TrimSpace(out.String()), "\n")
	if len(lines) != 2 || !strings.HasSuffix(lines[0], newer) {
		t.Fatalf("logs =\n%s", out.String())
	}

	out.Reset()
	if err := execute(a, "logs", "--latest"); err != nil {
		t.Fatalf("logs --latest error = %v", err)
	}
	if out.String() != "line one\nline two\n" {
		t.Fatalf("logs --latest = %q", out.String())
	}
}
