package rootfs

import (
	"fmt"
	"io"
	"io/fs"
	"os"
	"path/filepath"

	"github.com/cavaliergopher/cpio"
	"github.com/google/renameio"
	"github.com/klauspost/pgzip"
)

// Pack writes the tree at root as a gzip-compressed newc cpio archive, the
// format the kernel unpacks as an initramfs. Entries are owned by root.
func Pack(root, out string) error {
	t, err := renameio.TempFile("", out)
	if err != nil {
		return fmt.Errorf("create %s: %w", out, err)
	}
	defer t.Cleanup()

	gz, err := pgzip.NewWriterLevel(t, pgzip.BestCompression)
	if err != nil {
		return err
	}
	w := cpio.NewWriter(gz)

	err = filepath.WalkDir(root, func(path string, d fs.DirEntry, err error) error {
		if err != nil {
			return err
		}
		if path == root {
			return nil
		}
		rel, err := filepath.Rel(root, path)
		if err != nil {
			return err
		}
		return addEntry(w, path, filepath.ToSlash(rel))
	})
	if err != nil {
		return fmt.Errorf("pack %s: %w", root, err)
	}
	if err := w.Close(); err != nil {
		return fmt.Errorf("pack %s: %w", root, err)
	}
	if err := gz.Close(); err != nil {
		return fmt.Errorf("compress %s: %w", out, err)
	}
	return t.CloseAtomicallyReplace()
}

func addEntry(w *cpio.Writer, path, name string) error {
	fi, err := os.Lstat(path)
	if err != nil {
		return err
	}
	var link string
	if fi.Mode()&fs.ModeSymlink != 0 {
		if link, err = os.Readlink(path); err != nil {
			return err
		}
	}
	hdr, err := cpio.FileInfoHeader(fi, link)
	if err != nil {
		return err
	}
	hdr.Name = name
	if fi.IsDir() {
		hdr.Links = 2
	}

	switch {
	case fi.Mode().IsRegular():
		if err := w.WriteHeader(hdr); err != nil {
			return err
		}
		f, err := os.Open(path)
		if err != nil {
			return err
		}
		defer f.Close()
		_, err = io.Copy(w, f)
		return err
	case link != "":
		// newc stores the link target as the entry's data.
		hdr.Size = int64(len(link))
		if err := w.WriteHeader(hdr); err != nil {
			return err
		}
		_, err := io.WriteString(w, link)
		return err
	default:
		hdr.Size = 0
		return w.WriteHeader(hdr)
	}
}
