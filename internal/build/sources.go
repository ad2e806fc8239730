package build

import (
	"fmt"

	"toolup/internal/version"
)

// source is an upstream release tarball and the directory it unpacks to.
type source struct {
	url string
	dir string
}

var (
	lastGzipBinutils = version.New(version.Binutils, 2, 28, 1)
	lastGzipGCC      = version.New(version.GCC, 10, 1, 0)
	// glibc up to this release fails to build with make 4.4 and later
	lastOldMakeGlibc = version.New(version.Glibc, 2, 30, 0)
	hostMake         = version.New(version.Make, 4, 3, 0)
)

func binutilsSource(v version.Version) source {
	ext := "tar.xz"
	if v.AtMost(lastGzipBinutils) {
		ext = "tar.gz"
	}
	name := "binutils-" + v.String()
	return source{url: fmt.Sprintf("https://ftp.gnu.org/gnu/binutils/%s.%s", name, ext), dir: name}
}

func gccSource(v version.Version) source {
	ext := "tar.xz"
	if v.AtMost(lastGzipGCC) {
		ext = "tar.gz"
	}
	name := "gcc-" + v.String()
	return source{url: fmt.Sprintf("https://ftp.gnu.org/gnu/gcc/%s/%s.%s", name, name, ext), dir: name}
}

func glibcSource(v version.Version) source {
	name := "glibc-" + v.String()
	return source{url: "https://ftp.gnu.org/gnu/glibc/" + name + ".tar.xz", dir: name}
}

func muslSource(v version.Version) source {
	name := "musl-" + v.String()
	return source{url: "https://musl.libc.org/releases/" + name + ".tar.gz", dir: name}
}

func makeSource(v version.Version) source {
	name := "make-" + v.String()
	return source{url: "https://ftp.gnu.org/gnu/make/" + name + ".tar.gz", dir: name}
}
