// Package runner executes external build tools, keeping their output in a
// per-command log file and showing only a one-line preview while they run.
package runner

import (
	"bufio"
	"context"
	"errors"
	"fmt"
	"io"
	"log/slog"
	"os"
	"os/exec"
	"path/filepath"
	"strings"
	"syscall"
	"time"
	"unicode/utf8"

	"github.com/google/uuid"
	"github.com/kballard/go-shellquote"
	"golang.org/x/sync/errgroup"

	"toolup/internal/logging"
	"toolup/internal/ui"
)

const previewWidth = 80

// Command is one external process invocation.
type Command struct {
	// Title names the step in the status line and the log file name.
	Title string
	Dir   string
	Name  string
	Args  []string
	// Env is the complete environment; nil inherits the process environment.
	Env []string
}

// Configure returns the command running the configure script of the source
// tree that contains objDir.
func Configure(title, objDir string, args ...string) Command {
	return Command{
		Title: title,
		Dir:   objDir,
		Name:  filepath.Join(filepath.Dir(objDir), "configure"),
		Args:  args,
	}
}

// String renders c as a shell command line.
func (c Command) String() string {
	return shellquote.Join(append([]string{c.Name}, c.Args...)...)
}

// Runner runs commands. Implementations other than Exec exist for tests.
type Runner interface {
	// Run executes c with captured output and fails with *CommandError on a
	// non-zero exit.
	Run(ctx context.Context, c Command) error
	// Output executes c and returns its trimmed standard output.
	Output(ctx context.Context, c Command) (string, error)
	// Interactive executes c attached to the terminal.
	Interactive(ctx context.Context, c Command) error
}

// CommandError reports a failed external command.
type CommandError struct {
	Command    Command
	ExitStatus int
	LogPath    string
	Err        error
}

func (e *CommandError) Error() string {
	var b strings.Builder
	fmt.Fprintf(&b, "%s exited with status %d", e.Command.Title, e.ExitStatus)
	if e.ExitStatus < 0 && e.Err != nil {
		fmt.Fprintf(&b, " (%v)", e.Err)
	}
	if e.LogPath != "" {
		fmt.Fprintf(&b, "\nFull output is available at %s", e.LogPath)
	}
	fmt.Fprintf(&b, "\nTo reproduce: cd %s && %s", shellquote.Join(e.Command.Dir), e.Command)
	return b.String()
}

func (e *CommandError) Unwrap() error { return e.Err }

// Exec runs commands on the host.
type Exec struct {
	LogDir string
	// Status receives the live status line; nil discards it.
	Status io.Writer
	Logger *slog.Logger
	now    func() time.Time
}

// New returns an Exec writing logs to logDir.
func New(logDir string, status io.Writer, logger *slog.Logger) *Exec {
	return &Exec{LogDir: logDir, Status: status, Logger: logger}
}

func (r *Exec) logger() *slog.Logger { return logging.Ensure(r.Logger) }

func (r *Exec) clock() time.Time {
	if r.now != nil {
		return r.now()
	}
	return time.Now()
}

// LogName builds the log file name for title at t.
func LogName(title string, t time.Time) string {
	stamp := strings.ReplaceAll(t.UTC().Format("2006-01-02T15:04:05.000Z07:00"), ":", "-")
	return fmt.Sprintf("%s-%s-%s.log", sanitize(title), stamp, uuid.NewString()[:8])
}

func sanitize(title string) string {
	return strings.Map(func(r rune) rune {
		switch r {
		case '/', ' ', '\t', '\n':
			return '_'
		}
		return r
	}, title)
}

func (r *Exec) command(ctx context.Context, c Command) *exec.Cmd {
	cmd := exec.CommandContext(ctx, c.Name, c.Args...)
	cmd.Dir = c.Dir
	cmd.Env = c.Env
	// own process group so cancellation reaches make's children
	cmd.SysProcAttr = &syscall.SysProcAttr{Setpgid: true}
	cmd.Cancel = func() error {
		return syscall.Kill(-cmd.Process.Pid, syscall.SIGKILL)
	}
	cmd.WaitDelay = 5 * time.Second
	return cmd
}

// Run implements Runner.
func (r *Exec) Run(ctx context.Context, c Command) error {
	if err := os.MkdirAll(r.LogDir, 0o755); err != nil {
		return fmt.Errorf("create log directory %s: %w", r.LogDir, err)
	}
	logPath := filepath.Join(r.LogDir, LogName(c.Title, r.clock()))
	logFile, err := os.OpenFile(logPath, os.O_CREATE|os.O_WRONLY|os.O_APPEND, 0o644)
	if err != nil {
		return fmt.Errorf("create log file: %w", err)
	}
	defer logFile.Close()
	fmt.Fprintf(logFile, "$ cd %s && %s\n", shellquote.Join(c.Dir), c)

	r.logger().Debug("running", "title", c.Title, "cmd", c.String(), "dir", c.Dir, "log", logPath)

	cmd := r.command(ctx, c)
	stdout, err := cmd.StdoutPipe()
	if err != nil {
		return err
	}
	stderr, err := cmd.StderrPipe()
	if err != nil {
		return err
	}

	status := ui.NewStatus(r.statusWriter(), c.Title)
	defer status.Finish()

	if err := cmd.Start(); err != nil {
		return &CommandError{Command: c, ExitStatus: -1, LogPath: logPath, Err: err}
	}

	// Two producers drain the pipes; one consumer owns the log file.
	lines := make(chan string, 64)
	var producers errgroup.Group
	producers.Go(func() error { return drain(stdout, lines) })
	producers.Go(func() error { return drain(stderr, lines) })

	consumed := make(chan error, 1)
	go func() {
		var werr error
		for line := range lines {
			if werr == nil {
				_, werr = io.WriteString(logFile, line+"\n")
			}
			status.Set(preview(line))
		}
		consumed <- werr
	}()

	// The pipes must be fully read before Wait closes them.
	readErr := producers.Wait()
	close(lines)
	writeErr := <-consumed
	waitErr := cmd.Wait()

	if waitErr != nil {
		if ctx.Err() != nil {
			return fmt.Errorf("%s aborted: %w", c.Title, ctx.Err())
		}
		ce := &CommandError{Command: c, ExitStatus: -1, LogPath: logPath, Err: waitErr}
		var exitErr *exec.ExitError
		if errors.As(waitErr, &exitErr) {
			ce.ExitStatus = exitErr.ExitCode()
		}
		return ce
	}
	if readErr != nil {
		return fmt.Errorf("read output of %s: %w", c.Title, readErr)
	}
	if writeErr != nil {
		return fmt.Errorf("write log %s: %w", logPath, writeErr)
	}
	return nil
}

func (r *Exec) statusWriter() io.Writer {
	if r.Status == nil {
		return io.Discard
	}
	return r.Status
}

// drain sends every line of rd to lines. bufio.Reader is used instead of a
// Scanner because compiler output lines can exceed any fixed token limit.
func drain(rd io.Reader, lines chan<- string) error {
	br := bufio.NewReader(rd)
	for {
		line, err := br.ReadString('\n')
		if line != "" {
			lines <- strings.TrimRight(line, "\r\n")
		}
		if err == io.EOF {
			return nil
		}
		if err != nil {
			return err
		}
	}
}

func preview(line string) string {
	line = strings.TrimSpace(line)
	if utf8.RuneCountInString(line) <= previewWidth {
		return line
	}
	return string([]rune(line)[:previewWidth])
}

// Output implements Runner.
func (r *Exec) Output(ctx context.Context, c Command) (string, error) {
	cmd := r.command(ctx, c)
	var stderr strings.Builder
	cmd.Stderr = &stderr
	out, err := cmd.Output()
	if err != nil {
		ce := &CommandError{Command: c, ExitStatus: -1, Err: fmt.Errorf("%w: %s", err, strings.TrimSpace(stderr.String()))}
		var exitErr *exec.ExitError
		if errors.As(err, &exitErr) {
			ce.ExitStatus = exitErr.ExitCode()
		}
		return "", ce
	}
	return strings.TrimSpace(string(out)), nil
}

// Interactive implements Runner.
func (r *Exec) Interactive(ctx context.Context, c Command) error {
	cmd := exec.CommandContext(ctx, c.Name, c.Args...)
	cmd.Dir = c.Dir
	cmd.Env = c.Env
	cmd.Stdin = os.Stdin
	cmd.Stdout = os.Stdout
	cmd.Stderr = os.Stderr
	if err := cmd.Run(); err != nil {
		ce := &CommandError{Command: c, ExitStatus: -1, Err: err}
		var exitErr *exec.ExitError
		if errors.As(err, &exitErr) {
			ce.ExitStatus = exitErr.ExitCode()
		}
		return ce
	}
	return nil
}
