// Package fetchtest provides an offline stand-in for the source cache.
package fetchtest

import (
	"context"
	"os"
	"path/filepath"
	"sync"
)

// Sources creates an empty directory for every requested source tree and
// records the URLs asked for.
type Sources struct {
	Root string

	mu   sync.Mutex
	urls []string
}

func (s *Sources) DownloadAndDecompress(_ context.Context, url, dirName string, _ bool) (string, error) {
	s.mu.Lock()
	s.urls = append(s.urls, url)
	s.mu.Unlock()

	dir := filepath.Join(s.Root, dirName)
	if err := os.MkdirAll(dir, 0o755); err != nil {
		return "", err
	}
	return dir, nil
}

// URLs returns the requested URLs in order.
func (s *Sources) URLs() []string {
	s.mu.Lock()
	defer s.mu.Unlock()
	return append([]string(nil), s.urls...)
}
