// Package fetch maintains the shared download and source cache.
package fetch

import (
	"context"
	"encoding/hex"
	"errors"
	"fmt"
	"io"
	"log/slog"
	"net/http"
	"net/url"
	"os"
	"path"
	"path/filepath"
	"time"

	"github.com/google/renameio"
	"lukechampine.com/blake3"

	"toolup/internal/env"
	"toolup/internal/logging"
	"toolup/internal/ui"
)

const (
	hashPrefixLen = 12
	userAgent     = "curl/8.5.0"
)

// Outcome says how a Fetch was satisfied.
type Outcome int

const (
	Cached Outcome = iota
	Created
	Replaced
)

func (o Outcome) String() string {
	switch o {
	case Created:
		return "created"
	case Replaced:
		return "replaced"
	}
	return "cached"
}

// Archive is a downloaded file in the archives directory.
type Archive struct {
	URL     string
	Path    string
	Outcome Outcome
}

// Cache downloads into Root/archives and extracts into Root.
type Cache struct {
	Root     string
	Archives string
	// Mirror rewrites a URL before it is requested. Cache names always
	// derive from the unrewritten URL.
	Mirror func(string) string
	Client *http.Client
	// Progress receives the byte counter and extraction status line.
	Progress io.Writer
	Logger   *slog.Logger
}

// New returns a cache rooted in the cache directory of e.
func New(e *env.Env, progress io.Writer, logger *slog.Logger) *Cache {
	transport := http.DefaultTransport.(*http.Transport).Clone()
	transport.TLSHandshakeTimeout = 30 * time.Second
	return &Cache{
		Root:     e.CacheDir(),
		Archives: e.ArchivesDir(),
		Mirror:   e.MirrorURL,
		Client:   &http.Client{Transport: transport},
		Progress: progress,
		Logger:   logger,
	}
}

func (c *Cache) logger() *slog.Logger { return logging.Ensure(c.Logger) }

func (c *Cache) progress() io.Writer {
	if c.Progress == nil {
		return io.Discard
	}
	return c.Progress
}

// ArchiveName is the cache file name for rawURL: a 12 hex digit blake3
// prefix of the URL followed by the URL's file name.
func ArchiveName(rawURL string) string {
	sum := blake3.Sum256([]byte(rawURL))
	name := path.Base(rawURL)
	if u, err := url.Parse(rawURL); err == nil && u.Path != "" {
		name = path.Base(u.Path)
	}
	return hex.EncodeToString(sum[:])[:hashPrefixLen] + "-" + name
}

// Fetch returns the archive for rawURL, downloading it unless useCache is
// set and it is already present. A download is only visible under its final
// name once it is complete.
func (c *Cache) Fetch(ctx context.Context, rawURL string, useCache bool) (Archive, error) {
	final := filepath.Join(c.Archives, ArchiveName(rawURL))
	_, statErr := os.Stat(final)
	exists := statErr == nil
	if exists && useCache {
		c.logger().Debug("archive cached", "url", rawURL, "path", final)
		return Archive{URL: rawURL, Path: final, Outcome: Cached}, nil
	}

	if err := os.MkdirAll(c.Archives, 0o755); err != nil {
		return Archive{}, fmt.Errorf("create archive directory %s: %w", c.Archives, err)
	}

	source := rawURL
	if c.Mirror != nil {
		source = c.Mirror(rawURL)
	}
	if source != rawURL {
		c.logger().Info("using mirror", "url", source)
	}
	if err := c.download(ctx, rawURL, source, final); err != nil {
		return Archive{}, err
	}

	outcome := Created
	if exists {
		outcome = Replaced
	}
	c.logger().Debug("archive stored", "url", rawURL, "path", final, "outcome", outcome.String())
	return Archive{URL: rawURL, Path: final, Outcome: outcome}, nil
}

func (c *Cache) download(ctx context.Context, rawURL, source, final string) error {
	req, err := http.NewRequestWithContext(ctx, http.MethodGet, source, nil)
	if err != nil {
		return &DownloadError{URL: source, Err: err}
	}
	req.Header.Set("User-Agent", userAgent)

	client := c.Client
	if client == nil {
		client = http.DefaultClient
	}
	resp, err := client.Do(req)
	if err != nil {
		return &DownloadError{URL: source, Err: err}
	}
	defer resp.Body.Close()
	if resp.StatusCode < 200 || resp.StatusCode > 299 {
		return &DownloadError{URL: source, Status: resp.StatusCode}
	}

	tmp, err := renameio.TempFile(c.Archives, final)
	if err != nil {
		return fmt.Errorf("create temporary file for %s: %w", final, err)
	}
	defer tmp.Cleanup()

	bar := ui.NewBytes(c.progress(), resp.ContentLength, "Downloading "+path.Base(final))
	n, err := io.Copy(io.MultiWriter(tmp, bar), resp.Body)
	bar.Finish()
	if err != nil {
		return &DownloadError{URL: source, Err: err}
	}
	if resp.ContentLength >= 0 && n != resp.ContentLength {
		return &DownloadError{URL: source, Err: fmt.Errorf("short body: got %d of %d bytes", n, resp.ContentLength)}
	}
	if err := tmp.CloseAtomicallyReplace(); err != nil {
		return fmt.Errorf("store %s: %w", final, err)
	}
	return nil
}

// DownloadAndDecompress makes Root/dirName available, fetching and
// extracting rawURL only when that directory does not exist yet. The archive
// must contain dirName at its top level.
func (c *Cache) DownloadAndDecompress(ctx context.Context, rawURL, dirName string, useCache bool) (string, error) {
	dir := filepath.Join(c.Root, dirName)
	if _, err := os.Stat(dir); err == nil {
		c.logger().Debug("source tree cached", "dir", dir)
		return dir, nil
	}

	archive, err := c.Fetch(ctx, rawURL, useCache)
	if err != nil {
		return "", err
	}

	if err := os.MkdirAll(c.Root, 0o755); err != nil {
		return "", fmt.Errorf("create cache directory %s: %w", c.Root, err)
	}
	staging, err := os.MkdirTemp(c.Root, ".extract-"+dirName+"-")
	if err != nil {
		return "", fmt.Errorf("create staging directory: %w", err)
	}
	defer os.RemoveAll(staging)

	status := ui.NewStatus(c.progress(), "Extracting "+filepath.Base(archive.Path))
	err = Extract(ctx, archive.Path, staging, status.Set)
	status.Finish()
	if err != nil {
		return "", err
	}

	extracted := filepath.Join(staging, dirName)
	if _, err := os.Stat(extracted); err != nil {
		return "", &ExtractionError{Path: archive.Path, Err: fmt.Errorf("archive has no top-level directory %s", dirName)}
	}
	if err := os.Rename(extracted, dir); err != nil {
		if errors.Is(err, os.ErrExist) {
			return dir, nil
		}
		return "", fmt.Errorf("move %s into place: %w", dir, err)
	}
	c.logger().Info("extracted", "dir", dir)
	return dir, nil
}
