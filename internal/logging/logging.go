// Package logging renders slog records in the terse arrow style used by the
// toolup CLI.
package logging

import (
	"context"
	"fmt"
	"io"
	"log/slog"
	"os"
	"strconv"
	"strings"
	"sync"
	"time"

	"github.com/gookit/color"
	"golang.org/x/term"
)

type sprinter interface {
	Sprint(a ...any) string
}

// color helpers
var (
	colArrow   sprinter = color.HEX("#FFEB3B")
	colSuccess sprinter = color.HEX("#1976D2")
	colWarn    sprinter = color.Warn
	colError   sprinter = color.Error
	colNote    sprinter = color.Tag("notice")
)

// NewCLI constructs a logger that emits human-readable records. Colour is
// used only when w is a terminal.
func NewCLI(w io.Writer, level slog.Leveler) *slog.Logger {
	if w == nil {
		panic("logging: writer must not be nil")
	}
	if level == nil {
		level = slog.LevelInfo
	}
	return slog.New(&cliHandler{
		writer:  w,
		level:   level,
		colored: isTerminal(w),
		mu:      new(sync.Mutex),
	})
}

// Ensure returns the provided logger or the process default if nil.
func Ensure(logger *slog.Logger) *slog.Logger {
	if logger != nil {
		return logger
	}
	return slog.Default()
}

func isTerminal(w io.Writer) bool {
	f, ok := w.(*os.File)
	return ok && term.IsTerminal(int(f.Fd()))
}

type cliHandler struct {
	writer  io.Writer
	level   slog.Leveler
	colored bool

	mu     *sync.Mutex
	pre    string
	groups []string
}

func (h *cliHandler) Enabled(_ context.Context, level slog.Level) bool {
	return level >= h.level.Level()
}

func (h *cliHandler) Handle(_ context.Context, record slog.Record) error {
	var b strings.Builder
	b.WriteString(h.paint(colArrow, "-> "))

	msg := record.Message
	switch {
	case record.Level >= slog.LevelError:
		msg = h.paint(colError, msg)
	case record.Level >= slog.LevelWarn:
		msg = h.paint(colWarn, msg)
	case record.Level >= slog.LevelInfo:
		msg = h.paint(colSuccess, msg)
	default:
		msg = h.paint(colNote, msg)
	}
	b.WriteString(msg)

	b.WriteString(h.pre)
	record.Attrs(func(attr slog.Attr) bool {
		h.appendAttr(&b, h.groups, attr)
		return true
	})
	b.WriteByte('\n')

	h.mu.Lock()
	defer h.mu.Unlock()
	_, err := io.WriteString(h.writer, b.String())
	return err
}

func (h *cliHandler) paint(p sprinter, s string) string {
	if !h.colored {
		return s
	}
	return p.Sprint(s)
}

func (h *cliHandler) WithAttrs(attrs []slog.Attr) slog.Handler {
	var b strings.Builder
	b.WriteString(h.pre)
	for _, attr := range attrs {
		h.appendAttr(&b, h.groups, attr)
	}
	clone := *h
	clone.pre = b.String()
	return &clone
}

func (h *cliHandler) WithGroup(name string) slog.Handler {
	if name == "" {
		return h
	}
	clone := *h
	clone.groups = append(append([]string(nil), h.groups...), name)
	return &clone
}

func (h *cliHandler) appendAttr(b *strings.Builder, groups []string, attr slog.Attr) {
	value := attr.Value.Resolve()
	if value.Kind() == slog.KindGroup {
		nested := append(append([]string(nil), groups...), attr.Key)
		for _, a := range value.Group() {
			h.appendAttr(b, nested, a)
		}
		return
	}
	if attr.Key == "" {
		return
	}

	key := attr.Key
	if len(groups) > 0 {
		key = strings.Join(groups, ".") + "." + key
	}
	b.WriteByte(' ')
	b.WriteString(key)
	b.WriteByte('=')
	b.WriteString(formatValue(value))
}

func formatValue(value slog.Value) string {
	switch value.Kind() {
	case slog.KindString:
		s := value.String()
		if s == "" || strings.ContainsAny(s, " \t\n\"") {
			return strconv.Quote(s)
		}
		return s
	case slog.KindDuration:
		return value.Duration().Round(time.Millisecond).String()
	case slog.KindTime:
		return value.Time().UTC().Format(time.RFC3339)
	case slog.KindAny:
		if err, ok := value.Any().(error); ok && err != nil {
			return strconv.Quote(err.Error())
		}
		return fmt.Sprint(value.Any())
	default:
		return value.String()
	}
}
