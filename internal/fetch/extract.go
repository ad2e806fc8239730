package fetch

import (
	"archive/tar"
	"compress/bzip2"
	"context"
	"errors"
	"fmt"
	"io"
	"os"
	"path/filepath"
	"strings"

	"github.com/klauspost/compress/zstd"
	"github.com/klauspost/pgzip"
	"github.com/pierrec/lz4/v4"
	"github.com/ulikunitz/xz"
	"golang.org/x/sys/unix"
)

// Extract unpacks the tar archive at archivePath into dest one entry at a
// time. progress, when set, receives each entry name. The compression is
// chosen by file extension.
func Extract(ctx context.Context, archivePath, dest string, progress func(string)) error {
	f, err := os.Open(archivePath)
	if err != nil {
		return &ExtractionError{Path: archivePath, Err: err}
	}
	defer f.Close()

	r, closeFn, err := decompressor(archivePath, f)
	if err != nil {
		return &ExtractionError{Path: archivePath, Err: err}
	}
	defer closeFn()

	dest, err = filepath.Abs(dest)
	if err != nil {
		return err
	}
	if err := os.MkdirAll(dest, 0o755); err != nil {
		return fmt.Errorf("create %s: %w", dest, err)
	}

	tr := tar.NewReader(r)
	for {
		if err := ctx.Err(); err != nil {
			return err
		}
		hdr, err := tr.Next()
		if err == io.EOF {
			return nil
		}
		if err != nil {
			return &ExtractionError{Path: archivePath, Err: err}
		}
		if progress != nil {
			progress(hdr.Name)
		}
		if err := writeEntry(tr, hdr, dest); err != nil {
			return &ExtractionError{Path: archivePath, Err: err}
		}
	}
}

func decompressor(name string, r io.Reader) (io.Reader, func(), error) {
	noop := func() {}
	switch {
	case strings.HasSuffix(name, ".tar.xz") || strings.HasSuffix(name, ".txz"):
		xr, err := xz.NewReader(r)
		if err != nil {
			return nil, nil, fmt.Errorf("xz: %w", err)
		}
		return xr, noop, nil
	case strings.HasSuffix(name, ".tar.gz") || strings.HasSuffix(name, ".tgz"):
		gz, err := pgzip.NewReader(r)
		if err != nil {
			return nil, nil, fmt.Errorf("gzip: %w", err)
		}
		return gz, func() { gz.Close() }, nil
	case strings.HasSuffix(name, ".tar.bz2") || strings.HasSuffix(name, ".tbz2"):
		return bzip2.NewReader(r), noop, nil
	case strings.HasSuffix(name, ".tar.zst"):
		zr, err := zstd.NewReader(r)
		if err != nil {
			return nil, nil, fmt.Errorf("zstd: %w", err)
		}
		return zr, zr.Close, nil
	case strings.HasSuffix(name, ".tar.lz4"):
		return lz4.NewReader(r), noop, nil
	case strings.HasSuffix(name, ".tar"):
		return r, noop, nil
	}
	return nil, nil, errors.New("unsupported archive format")
}

// within resolves name below dest, rejecting paths that escape it.
func within(dest, name string) (string, error) {
	target := filepath.Join(dest, name)
	if !inside(dest, target) {
		return "", fmt.Errorf("illegal path in archive: %s", name)
	}
	return target, nil
}

func inside(dest, p string) bool {
	return p == dest || strings.HasPrefix(p, dest+string(os.PathSeparator))
}

// noSymlinkParents fails when a directory between dest and target is a
// symlink, so a later entry cannot be written through an earlier link.
func noSymlinkParents(dest, target string) error {
	rel, err := filepath.Rel(dest, filepath.Dir(target))
	if err != nil || rel == "." {
		return err
	}
	cur := dest
	for _, part := range strings.Split(rel, string(os.PathSeparator)) {
		cur = filepath.Join(cur, part)
		info, err := os.Lstat(cur)
		if errors.Is(err, os.ErrNotExist) {
			return nil
		}
		if err != nil {
			return err
		}
		if info.Mode()&os.ModeSymlink != 0 {
			return fmt.Errorf("illegal path in archive: %s passes through symlink %s", target, cur)
		}
	}
	return nil
}

// linkWithin rejects symlink targets that point outside dest.
func linkWithin(dest, target, link string) error {
	if filepath.IsAbs(link) || !inside(dest, filepath.Join(filepath.Dir(target), link)) {
		return fmt.Errorf("illegal symlink in archive: %s -> %s", target, link)
	}
	return nil
}

func writeEntry(tr *tar.Reader, hdr *tar.Header, dest string) error {
	// git archive writes a global pax header as a pseudo entry
	if hdr.Typeflag == tar.TypeXGlobalHeader || hdr.Typeflag == tar.TypeXHeader {
		return nil
	}
	target, err := within(dest, hdr.Name)
	if err != nil {
		return err
	}
	if err := noSymlinkParents(dest, target); err != nil {
		return err
	}
	if err := os.MkdirAll(filepath.Dir(target), 0o755); err != nil {
		return err
	}

	switch hdr.Typeflag {
	case tar.TypeDir:
		return os.MkdirAll(target, os.FileMode(hdr.Mode).Perm()|0o700)

	case tar.TypeReg:
		if info, err := os.Lstat(target); err == nil && info.Mode()&os.ModeSymlink != 0 {
			if err := os.Remove(target); err != nil {
				return err
			}
		}
		out, err := os.OpenFile(target, os.O_CREATE|os.O_WRONLY|os.O_TRUNC, os.FileMode(hdr.Mode).Perm()|0o600)
		if err != nil {
			return err
		}
		if _, err := io.Copy(out, tr); err != nil {
			out.Close()
			return fmt.Errorf("write %s: %w", target, err)
		}
		if err := out.Close(); err != nil {
			return err
		}
		// autotools compares timestamps; a fresh mtime triggers regeneration
		return os.Chtimes(target, hdr.ModTime, hdr.ModTime)

	case tar.TypeSymlink:
		if err := linkWithin(dest, target, hdr.Linkname); err != nil {
			return err
		}
		_ = os.Remove(target)
		if err := os.Symlink(hdr.Linkname, target); err != nil {
			return fmt.Errorf("symlink %s -> %s: %w", target, hdr.Linkname, err)
		}
		ts := unix.NsecToTimeval(hdr.ModTime.UnixNano())
		_ = unix.Lutimes(target, []unix.Timeval{ts, ts})
		return nil

	case tar.TypeLink:
		source, err := within(dest, hdr.Linkname)
		if err != nil {
			return err
		}
		if err := noSymlinkParents(dest, source); err != nil {
			return err
		}
		_ = os.Remove(target)
		return os.Link(source, target)
	}
	return nil
}
