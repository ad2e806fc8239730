// Package env carries the process state toolup depends on (home directory,
// working directory, environment) as an explicit value so that no other
// package reads the ambient process environment.
package env

import (
	"fmt"
	"os"
	"path/filepath"
	"runtime"
	"strconv"
	"strings"

	"github.com/shirou/gopsutil/cpu"
)

const (
	envPrefix      = "TOOLUP_"
	gnuOriginalURL = "https://ftp.gnu.org/gnu"
)

// Env is captured once per invocation and threaded into every component.
type Env struct {
	Home       string
	ConfigHome string
	WorkDir    string
	GNUMirror  string
	Jobs       int
	Debug      bool

	base []string
}

// FromOS snapshots the running process.
func FromOS() (*Env, error) {
	home, err := os.UserHomeDir()
	if err != nil {
		return nil, fmt.Errorf("resolve home directory: %w", err)
	}
	wd, err := os.Getwd()
	if err != nil {
		return nil, fmt.Errorf("resolve working directory: %w", err)
	}
	return New(home, wd, os.Environ())
}

// New builds an Env from explicit values. environ is a KEY=VALUE list as
// returned by os.Environ; TOOLUP_* entries in it override the other inputs.
func New(home, workDir string, environ []string) (*Env, error) {
	e := &Env{
		Home:    home,
		WorkDir: workDir,
		base:    append([]string(nil), environ...),
	}
	if xdg, ok := e.Lookup("XDG_CONFIG_HOME"); ok && xdg != "" {
		e.ConfigHome = xdg
	}

	overrides := mergeEnvOverrides(environ)
	if v := overrides["TOOLUP_HOME"]; v != "" {
		e.Home = v
	}
	if v := overrides["TOOLUP_CONFIG_HOME"]; v != "" {
		e.ConfigHome = v
	}
	if e.ConfigHome == "" {
		e.ConfigHome = filepath.Join(e.Home, ".config")
	}
	e.GNUMirror = strings.TrimRight(overrides["TOOLUP_GNU_MIRROR"], "/")
	if v := overrides["TOOLUP_JOBS"]; v != "" {
		n, err := strconv.Atoi(v)
		if err != nil || n < 1 {
			return nil, fmt.Errorf("invalid TOOLUP_JOBS %q: expected a positive integer", v)
		}
		e.Jobs = n
	}
	switch strings.ToLower(overrides["TOOLUP_DEBUG"]) {
	case "1", "true", "yes":
		e.Debug = true
	}
	return e, nil
}

// mergeEnvOverrides collects TOOLUP_* variables.
func mergeEnvOverrides(environ []string) map[string]string {
	values := make(map[string]string)
	for _, kv := range environ {
		if !strings.HasPrefix(kv, envPrefix) {
			continue
		}
		parts := strings.SplitN(kv, "=", 2)
		if len(parts) == 2 {
			values[parts[0]] = parts[1]
		}
	}
	return values
}

func (e *Env) CacheDir() string       { return filepath.Join(e.Home, ".cache", "toolup") }
func (e *Env) ArchivesDir() string    { return filepath.Join(e.CacheDir(), "archives") }
func (e *Env) LogsDir() string        { return filepath.Join(e.CacheDir(), "logs") }
func (e *Env) ToolupDir() string      { return filepath.Join(e.Home, ".toolup") }
func (e *Env) ToolchainsDir() string  { return filepath.Join(e.ToolupDir(), "toolchains") }
func (e *Env) LinuxImagesDir() string { return filepath.Join(e.ToolupDir(), "linux-images") }

// LocalConfigPath is the per-project configuration file.
func (e *Env) LocalConfigPath() string { return filepath.Join(e.WorkDir, "toolup.toml") }

// GlobalConfigPath is the per-user configuration file.
func (e *Env) GlobalConfigPath() string { return filepath.Join(e.ConfigHome, "toolup.toml") }

// Lookup returns the captured value of key.
func (e *Env) Lookup(key string) (string, bool) {
	prefix := key + "="
	for i := len(e.base) - 1; i >= 0; i-- {
		if strings.HasPrefix(e.base[i], prefix) {
			return e.base[i][len(prefix):], true
		}
	}
	return "", false
}

// Environ returns the captured environment with the KEY=VALUE overrides
// applied. Overridden keys keep their original position.
func (e *Env) Environ(overrides ...string) []string {
	out := make([]string, 0, len(e.base)+len(overrides))
	index := make(map[string]int, len(e.base))
	for _, kv := range e.base {
		key, _, _ := strings.Cut(kv, "=")
		if i, ok := index[key]; ok {
			out[i] = kv
			continue
		}
		index[key] = len(out)
		out = append(out, kv)
	}
	for _, kv := range overrides {
		key, _, _ := strings.Cut(kv, "=")
		if i, ok := index[key]; ok {
			out[i] = kv
			continue
		}
		index[key] = len(out)
		out = append(out, kv)
	}
	return out
}

// PathWith returns a PATH=... entry with dirs searched before the captured PATH.
func (e *Env) PathWith(dirs ...string) string {
	parts := append([]string(nil), dirs...)
	if p, ok := e.Lookup("PATH"); ok && p != "" {
		parts = append(parts, p)
	}
	return "PATH=" + strings.Join(parts, string(os.PathListSeparator))
}

// MirrorURL rewrites GNU download URLs onto the configured mirror.
func (e *Env) MirrorURL(url string) string {
	if e.GNUMirror == "" || !strings.HasPrefix(url, gnuOriginalURL) {
		return url
	}
	return e.GNUMirror + strings.TrimPrefix(url, gnuOriginalURL)
}

// DefaultJobs is the make parallelism used when none is requested.
func (e *Env) DefaultJobs() int {
	if e.Jobs > 0 {
		return e.Jobs
	}
	if n, err := cpu.Counts(true); err == nil && n > 0 {
		return n
	}
	return runtime.NumCPU()
}
