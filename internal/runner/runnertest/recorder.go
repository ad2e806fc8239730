// Package runnertest provides a Runner that records commands instead of
// executing them.
package runnertest

import (
	"context"
	"path/filepath"
	"strings"
	"sync"

	"toolup/internal/runner"
)

// Recorder implements runner.Runner.
type Recorder struct {
	// Hook runs for every Run and Interactive call and may create the files
	// the real tool would have produced. A returned error fails the call.
	Hook func(c runner.Command) error
	// Outputs maps an executable base name to what Output returns for it.
	Outputs map[string]string

	mu       sync.Mutex
	commands []runner.Command
}

var _ runner.Runner = (*Recorder)(nil)

func (r *Recorder) record(c runner.Command) {
	r.mu.Lock()
	defer r.mu.Unlock()
	r.commands = append(r.commands, c)
}

func (r *Recorder) Run(_ context.Context, c runner.Command) error {
	r.record(c)
	if r.Hook != nil {
		return r.Hook(c)
	}
	return nil
}

func (r *Recorder) Output(_ context.Context, c runner.Command) (string, error) {
	r.record(c)
	return r.Outputs[filepath.Base(c.Name)], nil
}

func (r *Recorder) Interactive(ctx context.Context, c runner.Command) error {
	return r.Run(ctx, c)
}

// Commands returns everything recorded so far.
func (r *Recorder) Commands() []runner.Command {
	r.mu.Lock()
	defer r.mu.Unlock()
	return append([]runner.Command(nil), r.commands...)
}

// Titles returns the title of every recorded command in order.
func (r *Recorder) Titles() []string {
	var out []string
	for _, c := range r.Commands() {
		out = append(out, c.Title)
	}
	return out
}

// Reset forgets recorded commands.
func (r *Recorder) Reset() {
	r.mu.Lock()
	defer r.mu.Unlock()
	r.commands = nil
}

// Arg returns the value of the first NAME=value or --name=value argument.
func Arg(c runner.Command, name string) (string, bool) {
	for _, a := range c.Args {
		if v, ok := strings.CutPrefix(a, name+"="); ok {
			return v, true
		}
	}
	return "", false
}

// EnvVar returns the value of key in c.Env.
func EnvVar(c runner.Command, key string) (string, bool) {
	for i := len(c.Env) - 1; i >= 0; i-- {
		if v, ok := strings.CutPrefix(c.Env[i], key+"="); ok {
			return v, true
		}
	}
	return "", false
}
