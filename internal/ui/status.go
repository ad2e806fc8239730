// Package ui draws the transient terminal output of toolup: the one-line
// command status, download progress and the log pager.
package ui

import (
	"io"
	"os"
	"sync"
	"time"

	"github.com/schollz/progressbar/v3"
	"golang.org/x/term"
)

const tickInterval = 80 * time.Millisecond

// IsTerminal reports whether w is attached to a terminal.
func IsTerminal(w io.Writer) bool {
	f, ok := w.(*os.File)
	return ok && term.IsTerminal(int(f.Fd()))
}

// Status is a spinner line showing a title and the latest output preview.
// Nothing is drawn when the writer is not a terminal.
type Status struct {
	title string
	bar   *progressbar.ProgressBar

	stop chan struct{}
	done chan struct{}
	once sync.Once
}

// NewStatus starts a spinner on w.
func NewStatus(w io.Writer, title string) *Status {
	s := &Status{
		title: title,
		bar: progressbar.NewOptions64(-1,
			progressbar.OptionSetWriter(w),
			progressbar.OptionSetVisibility(IsTerminal(w)),
			progressbar.OptionSpinnerType(14),
			progressbar.OptionSetDescription(title),
			progressbar.OptionSetElapsedTime(true),
			progressbar.OptionThrottle(tickInterval),
			progressbar.OptionClearOnFinish(),
		),
		stop: make(chan struct{}),
		done: make(chan struct{}),
	}
	go s.tick()
	return s
}

func (s *Status) tick() {
	defer close(s.done)
	t := time.NewTicker(tickInterval)
	defer t.Stop()
	for {
		select {
		case <-s.stop:
			return
		case <-t.C:
			_ = s.bar.Add(1)
		}
	}
}

// Set replaces the preview text after the title.
func (s *Status) Set(preview string) {
	if preview == "" {
		s.bar.Describe(s.title)
		return
	}
	s.bar.Describe(s.title + ": " + preview)
}

// Finish stops the spinner and clears the line. It is safe to call twice.
func (s *Status) Finish() {
	s.once.Do(func() {
		close(s.stop)
		<-s.done
		_ = s.bar.Finish()
	})
}

// Bytes is a download progress bar.
type Bytes struct {
	bar *progressbar.ProgressBar
}

// NewBytes draws a byte counter on w; total may be -1 when unknown.
func NewBytes(w io.Writer, total int64, desc string) *Bytes {
	return &Bytes{bar: progressbar.NewOptions64(total,
		progressbar.OptionSetWriter(w),
		progressbar.OptionSetVisibility(IsTerminal(w)),
		progressbar.OptionSetDescription(desc),
		progressbar.OptionShowBytes(true),
		progressbar.OptionShowTotalBytes(true),
		progressbar.OptionSetWidth(10),
		progressbar.OptionThrottle(65*time.Millisecond),
		progressbar.OptionShowCount(),
		progressbar.OptionSpinnerType(14),
		progressbar.OptionFullWidth(),
		progressbar.OptionClearOnFinish(),
	)}
}

func (b *Bytes) Write(p []byte) (int, error) { return b.bar.Write(p) }

// Finish clears the bar.
func (b *Bytes) Finish() { _ = b.bar.Finish() }
