// Package version implements the dotted major.minor.patch versions used by
// every upstream component toolup builds.
package version

import (
	"cmp"
	"fmt"
	"strconv"
	"strings"
)

// Family selects how a version is displayed. Ordering never depends on it.
type Family int

const (
	Binutils Family = iota
	GCC
	Glibc
	Musl
	Kernel
	Make
)

func (f Family) String() string {
	switch f {
	case Binutils:
		return "binutils"
	case GCC:
		return "gcc"
	case Glibc:
		return "glibc"
	case Musl:
		return "musl"
	case Kernel:
		return "linux"
	case Make:
		return "make"
	}
	return fmt.Sprintf("Family(%d)", int(f))
}

// showPatch reports whether v is displayed with its patch component.
func (f Family) showPatch(v Version) bool {
	if v.Patch != 0 {
		return true
	}
	switch f {
	case GCC, Musl:
		return true
	case Glibc:
		return v.Major == 2 && v.Minor == 16
	}
	return false
}

// Version is an ordered (major, minor, patch) triple.
type Version struct {
	Major, Minor, Patch uint64
	Family              Family
}

// ParseError reports a version string that is not 2 or 3 numeric parts.
type ParseError struct {
	Input  string
	Token  string
	Family Family
}

func (e *ParseError) Error() string {
	if e.Token == "" {
		return fmt.Sprintf("invalid %s version %q: expected MAJOR.MINOR or MAJOR.MINOR.PATCH", e.Family, e.Input)
	}
	return fmt.Sprintf("invalid %s version %q: %q is not a number (expected MAJOR.MINOR[.PATCH])", e.Family, e.Input, e.Token)
}

// Parse reads a 2- or 3-component version; a missing patch is 0.
func Parse(s string, family Family) (Version, error) {
	parts := strings.Split(s, ".")
	if len(parts) < 2 || len(parts) > 3 {
		return Version{}, &ParseError{Input: s, Family: family}
	}
	var nums [3]uint64
	for i, p := range parts {
		n, err := strconv.ParseUint(p, 10, 64)
		if err != nil {
			return Version{}, &ParseError{Input: s, Token: p, Family: family}
		}
		nums[i] = n
	}
	return Version{Major: nums[0], Minor: nums[1], Patch: nums[2], Family: family}, nil
}

// MustParse is like Parse but panics on error.
func MustParse(s string, family Family) Version {
	v, err := Parse(s, family)
	if err != nil {
		panic(err)
	}
	return v
}

// New builds a version directly.
func New(family Family, major, minor, patch uint64) Version {
	return Version{Major: major, Minor: minor, Patch: patch, Family: family}
}

// String formats v according to its family.
func (v Version) String() string {
	if v.Family.showPatch(v) {
		return fmt.Sprintf("%d.%d.%d", v.Major, v.Minor, v.Patch)
	}
	return fmt.Sprintf("%d.%d", v.Major, v.Minor)
}

// Full always shows three components.
func (v Version) Full() string {
	return fmt.Sprintf("%d.%d.%d", v.Major, v.Minor, v.Patch)
}

// Compare orders versions by their triple. 6.1 and 6.1.0 compare equal.
func Compare(a, b Version) int {
	if c := cmp.Compare(a.Major, b.Major); c != 0 {
		return c
	}
	if c := cmp.Compare(a.Minor, b.Minor); c != 0 {
		return c
	}
	return cmp.Compare(a.Patch, b.Patch)
}

// AtMost reports whether v <= limit.
func (v Version) AtMost(limit Version) bool { return Compare(v, limit) <= 0 }

// Less reports whether v < other.
func (v Version) Less(other Version) bool { return Compare(v, other) < 0 }

func (v Version) MarshalText() ([]byte, error) { return []byte(v.String()), nil }
