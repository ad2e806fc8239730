package fetch

import (
	"archive/tar"
	"bytes"
	"context"
	"errors"
	"io"
	"net/http"
	"net/http/httptest"
	"os"
	"path/filepath"
	"strings"
	"sync/atomic"
	"testing"
	"time"

	"github.com/klauspost/compress/zstd"
	"github.com/klauspost/pgzip"
	"github.com/pierrec/lz4/v4"
	"github.com/ulikunitz/xz"
)

type entry struct {
	name string
	body string
	link string
}

func writeTar(t *testing.T, w io.Writer, entries []entry) {
	t.Helper()
	tw := tar.NewWriter(w)
	for _, e := range entries {
		hdr := &tar.Header{Name: e.name, Mode: 0o644, ModTime: time.Unix(1700000000, 0)}
		switch {
		case strings.HasSuffix(e.name, "/"):
			hdr.Typeflag = tar.TypeDir
			hdr.Mode = 0o755
		case e.link != "":
			hdr.Typeflag = tar.TypeSymlink
			hdr.Linkname = e.link
		default:
			hdr.Typeflag = tar.TypeReg
			hdr.Size = int64(len(e.body))
		}
		if err := tw.WriteHeader(hdr); err != nil {
			t.Fatalf("WriteHeader() error = %v", err)
		}
		if hdr.Typeflag == tar.TypeReg {
			if _, err := tw.Write([]byte(e.body)); err != nil {
				t.Fatalf("Write() error = %v", err)
			}
		}
	}
	if err := tw.Close(); err != nil {
		t.Fatalf("Close() error = %v", err)
	}
}

func tarGz(t *testing.T, entries []entry) []byte {
	t.Helper()
	var buf bytes.Buffer
	gz := pgzip.NewWriter(&buf)
	writeTar(t, gz, entries)
	if err := gz.Close(); err != nil {
		t.Fatalf("gzip Close() error = %v", err)
	}
	return buf.Bytes()
}

var sample = []entry{
	{name: "pkg-1.0/"},
	{name: "pkg-1.0/configure", body: "#!/bin/sh\n"},
	{name: "pkg-1.0/src/main.c", body: "int main(void) { return 0; }\n"},
	{name: "pkg-1.0/link", link: "configure"},
}

func newTestCache(t *testing.T) *Cache {
	t.Helper()
	root := t.TempDir()
	return &Cache{Root: root, Archives: filepath.Join(root, "archives"), Progress: io.Discard}
}

func TestArchiveName(t *testing.T) {
	t.Parallel()

	a := ArchiveName("https://ftp.gnu.org/gnu/gcc/gcc-15.2.0/gcc-15.2.0.tar.xz")
	b := ArchiveName("https://mirror.example/gnu/gcc/gcc-15.2.0/gcc-15.2.0.tar.xz")
	if !strings.HasSuffix(a, "-gcc-15.2.0.tar.xz") || len(a) != 12+1+len("gcc-15.2.0.tar.xz") {
		t.Fatalf("ArchiveName() = %q", a)
	}
	if a == b {
		t.Fatalf("same file name from different URLs collided: %q", a)
	}
}

func TestDownloadAndDecompressSingleRequest(t *testing.T) {
	t.Parallel()

	payload := tarGz(t, sample)
	var requests atomic.Int32
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		requests.Add(1)
		_, _ = w.Write(payload)
	}))
	defer srv.Close()

	c := newTestCache(t)
	url := srv.URL + "/pkg-1.0.tar.gz"
	for range 2 {
		dir, err := c.DownloadAndDecompress(context.Background(), url, "pkg-1.0", true)
		if err != nil {
			t.Fatalf("DownloadAndDecompress() error = %v", err)
		}
		data, err := os.ReadFile(filepath.Join(dir, "src", "main.c"))
		if err != nil || !strings.Contains(string(data), "main") {
			t.Fatalf("extracted file = %q, %v", data, err)
		}
	}
	if got := requests.Load(); got != 1 {
		t.Fatalf("requests = %d, want 1", got)
	}
	if target, err := os.Readlink(filepath.Join(c.Root, "pkg-1.0", "link")); err != nil || target != "configure" {
		t.Fatalf("symlink = %q, %v", target, err)
	}
	leftovers, _ := filepath.Glob(filepath.Join(c.Root, ".extract-*"))
	if len(leftovers) != 0 {
		t.Fatalf("staging directories left behind: %v", leftovers)
	}
}

func TestFetchOutcomes(t *testing.T) {
	t.Parallel()

	var requests atomic.Int32
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		n := requests.Add(1)
		_, _ = io.WriteString(w, strings.Repeat("x", int(n)))
	}))
	defer srv.Close()

	c := newTestCache(t)
	url := srv.URL + "/a.tar.gz"
	steps := []struct {
		useCache bool
		want     Outcome
		size     int
	}{
		{true, Created, 1},
		{true, Cached, 1},
		{false, Replaced, 2},
	}
	for i, s := range steps {
		a, err := c.Fetch(context.Background(), url, s.useCache)
		if err != nil {
			t.Fatalf("step %d: Fetch() error = %v", i, err)
		}
		if a.Outcome != s.want {
			t.Fatalf("step %d: Outcome = %v, want %v", i, a.Outcome, s.want)
		}
		data, _ := os.ReadFile(a.Path)
		if len(data) != s.size {
			t.Fatalf("step %d: archive size = %d, want %d", i, len(data), s.size)
		}
	}
}

func TestFetchHTTPError(t *testing.T) {
	t.Parallel()

	srv := httptest.NewServer(http.NotFoundHandler())
	defer srv.Close()

	c := newTestCache(t)
	_, err := c.Fetch(context.Background(), srv.URL+"/missing.tar.xz", true)
	var derr *DownloadError
	if !errors.As(err, &derr) || derr.Status != http.StatusNotFound {
		t.Fatalf("Fetch() error = %v, want DownloadError 404", err)
	}
	if !strings.Contains(err.Error(), "/missing.tar.xz") {
		t.Fatalf("error %q does not name the URL", err)
	}
	names, _ := os.ReadDir(c.Archives)
	if len(names) != 0 {
		t.Fatalf("failed download left files: %v", names)
	}
}

func TestFetchUsesMirrorButKeepsName(t *testing.T) {
	t.Parallel()

	var gotPath string
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		gotPath = r.URL.Path
		_, _ = io.WriteString(w, "data")
	}))
	defer srv.Close()

	c := newTestCache(t)
	canonical := "https://ftp.gnu.org/gnu/make/make-4.3.tar.gz"
	c.Mirror = func(u string) string { return srv.URL + strings.TrimPrefix(u, "https://ftp.gnu.org") }

	a, err := c.Fetch(context.Background(), canonical, true)
	if err != nil {
		t.Fatalf("Fetch() error = %v", err)
	}
	if gotPath != "/gnu/make/make-4.3.tar.gz" {
		t.Fatalf("mirror path = %q", gotPath)
	}
	if filepath.Base(a.Path) != ArchiveName(canonical) {
		t.Fatalf("archive name = %q, want %q", filepath.Base(a.Path), ArchiveName(canonical))
	}
}

func TestExtractFormats(t *testing.T) {
	t.Parallel()

	compressors := map[string]func(io.Writer) (io.WriteCloser, error){
		".tar.xz": func(w io.Writer) (io.WriteCloser, error) { return xz.NewWriter(w) },
		".tar.gz": func(w io.Writer) (io.WriteCloser, error) { return pgzip.NewWriter(w), nil },
		".tar.zst": func(w io.Writer) (io.WriteCloser, error) {
			return zstd.NewWriter(w)
		},
		".tar.lz4": func(w io.Writer) (io.WriteCloser, error) { return lz4.NewWriter(w), nil },
	}
	for ext, mk := range compressors {
		dir := t.TempDir()
		archive := filepath.Join(dir, "pkg"+ext)
		f, err := os.Create(archive)
		if err != nil {
			t.Fatalf("Create() error = %v", err)
		}
		cw, err := mk(f)
		if err != nil {
			t.Fatalf("%s: writer error = %v", ext, err)
		}
		writeTar(t, cw, sample)
		if err := cw.Close(); err != nil {
			t.Fatalf("%s: Close() error = %v", ext, err)
		}
		f.Close()

		var seen []string
		dest := filepath.Join(dir, "out")
		if err := Extract(context.Background(), archive, dest, func(p string) { seen = append(seen, p) }); err != nil {
			t.Fatalf("%s: Extract() error = %v", ext, err)
		}
		if len(seen) != len(sample) {
			t.Fatalf("%s: progress saw %v", ext, seen)
		}
		info, err := os.Stat(filepath.Join(dest, "pkg-1.0", "configure"))
		if err != nil {
			t.Fatalf("%s: stat error = %v", ext, err)
		}
		if !info.ModTime().Equal(time.Unix(1700000000, 0)) {
			t.Fatalf("%s: mtime not preserved: %v", ext, info.ModTime())
		}
	}
}

func TestExtractRejectsTraversal(t *testing.T) {
	t.Parallel()

	dir := t.TempDir()
	archive := filepath.Join(dir, "evil.tar.gz")
	if err := os.WriteFile(archive, tarGz(t, []entry{{name: "../escape.txt", body: "x"}}), 0o644); err != nil {
		t.Fatalf("WriteFile() error = %v", err)
	}
	err := Extract(context.Background(), archive, filepath.Join(dir, "out"), nil)
	var eerr *ExtractionError
	if !errors.As(err, &eerr) {
		t.Fatalf("Extract() error = %v, want ExtractionError", err)
	}
	if _, err := os.Stat(filepath.Join(dir, "escape.txt")); err == nil {
		t.Fatalf("traversal entry was written")
	}
}

func TestExtractRejectsSymlinkEscapes(t *testing.T) {
	t.Parallel()

	cases := map[string]func(outside string) []entry{
		"absolute target": func(outside string) []entry {
			return []entry{{name: "pkg-1.0/esc", link: outside}, {name: "pkg-1.0/esc/pwned", body: "x"}}
		},
		"relative target": func(string) []entry {
			return []entry{{name: "pkg-1.0/esc", link: "../../outside"}, {name: "pkg-1.0/esc/pwned", body: "x"}}
		},
		"write through link": func(string) []entry {
			return []entry{{name: "pkg-1.0/up", link: ".."}, {name: "pkg-1.0/up/pwned", body: "x"}}
		},
	}
	for name, entries := range cases {
		t.Run(name, func(t *testing.T) {
			t.Parallel()

			dir := t.TempDir()
			outside := filepath.Join(dir, "outside")
			if err := os.MkdirAll(outside, 0o755); err != nil {
				t.Fatalf("MkdirAll() error = %v", err)
			}
			archive := filepath.Join(dir, "evil.tar.gz")
			if err := os.WriteFile(archive, tarGz(t, entries(outside)), 0o644); err != nil {
				t.Fatalf("WriteFile() error = %v", err)
			}
			dest := filepath.Join(dir, "out")
			err := Extract(context.Background(), archive, dest, nil)
			var eerr *ExtractionError
			if !errors.As(err, &eerr) {
				t.Fatalf("Extract() error = %v, want ExtractionError", err)
			}
			for _, p := range []string{filepath.Join(outside, "pwned"), filepath.Join(dest, "pwned")} {
				if _, err := os.Stat(p); err == nil {
					t.Fatalf("%s was written", p)
				}
			}
		})
	}
}

func TestExtractReplacesSymlinkWithFile(t *testing.T) {
	t.Parallel()

	dir := t.TempDir()
	archive := filepath.Join(dir, "pkg.tar.gz")
	entries := []entry{
		{name: "pkg-1.0/configure", body: "#!/bin/sh\n"},
		{name: "pkg-1.0/alias", link: "configure"},
		{name: "pkg-1.0/alias", body: "replaced"},
	}
	if err := os.WriteFile(archive, tarGz(t, entries), 0o644); err != nil {
		t.Fatalf("WriteFile() error = %v", err)
	}
	dest := filepath.Join(dir, "out")
	if err := Extract(context.Background(), archive, dest, nil); err != nil {
		t.Fatalf("Extract() error = %v", err)
	}
	if got, _ := os.ReadFile(filepath.Join(dest, "pkg-1.0", "configure")); string(got) != "#!/bin/sh\n" {
		t.Fatalf("configure = %q, written through symlink", got)
	}
	info, err := os.Lstat(filepath.Join(dest, "pkg-1.0", "alias"))
	if err != nil || !info.Mode().IsRegular() {
		t.Fatalf("alias = %v, %v; want regular file", info, err)
	}
}

func TestExtractUnsupported(t *testing.T) {
	t.Parallel()

	dir := t.TempDir()
	archive := filepath.Join(dir, "pkg.zip")
	if err := os.WriteFile(archive, []byte("PK"), 0o644); err != nil {
		t.Fatalf("WriteFile() error = %v", err)
	}
	var eerr *ExtractionError
	if err := Extract(context.Background(), archive, dir, nil); !errors.As(err, &eerr) {
		t.Fatalf("Extract() error = %v, want ExtractionError", err)
	}
}

func TestPrune(t *testing.T) {
	t.Parallel()

	root := t.TempDir()
	old := time.Now().Add(-48 * time.Hour)
	mk := func(rel string, stale bool) string {
		p := filepath.Join(root, rel)
		if err := os.MkdirAll(filepath.Dir(p), 0o755); err != nil {
			t.Fatalf("MkdirAll() error = %v", err)
		}
		if err := os.WriteFile(p, []byte("x"), 0o644); err != nil {
			t.Fatalf("WriteFile() error = %v", err)
		}
		if stale {
			if err := os.Chtimes(p, old, old); err != nil {
				t.Fatalf("Chtimes() error = %v", err)
			}
		}
		return p
	}
	staleArchive := mk("archives/aaaa-gcc.tar.xz", true)
	freshArchive := mk("archives/bbbb-binutils.tar.xz", false)
	sysroot := mk("sysroot-x/usr/lib/libc.so", true)
	staleRootfs := mk("rootfs-x.cpio.gz", true)

	got, err := Prune(root, 24*time.Hour, true, time.Now())
	if err != nil {
		t.Fatalf("Prune(dry) error = %v", err)
	}
	if len(got) != 2 {
		t.Fatalf("Prune(dry) = %v, want 2 entries", got)
	}
	if _, err := os.Stat(staleArchive); err != nil {
		t.Fatalf("dry run removed %s", staleArchive)
	}

	if _, err := Prune(root, 24*time.Hour, false, time.Now()); err != nil {
		t.Fatalf("Prune() error = %v", err)
	}
	for _, p := range []string{staleArchive, staleRootfs} {
		if _, err := os.Stat(p); !os.IsNotExist(err) {
			t.Fatalf("%s not pruned", p)
		}
	}
	for _, p := range []string{freshArchive, sysroot} {
		if _, err := os.Stat(p); err != nil {
			t.Fatalf("%s removed: %v", p, err)
		}
	}
}
