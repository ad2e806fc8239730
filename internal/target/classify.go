package target

import "fmt"

// Class is the build strategy for a target.
type Class int

const (
	Unsupported Class = iota
	Freestanding
	LinuxHosted
)

func (c Class) String() string {
	switch c {
	case Freestanding:
		return "freestanding"
	case LinuxHosted:
		return "linux-hosted"
	}
	return "unsupported"
}

// LibcKind names the C library a hosted target links against.
type LibcKind string

const (
	Glibc    LibcKind = "glibc"
	MuslLibc LibcKind = "musl"
)

// Classify selects the build strategy for t.
func (t Target) Classify() Class {
	if t.Arch == BPF {
		return Freestanding
	}
	switch t.ABI {
	case ELF, EABI, EABIHF:
		return Freestanding
	case GNU, GNUEABI, GNUEABIHF, Musl:
		return LinuxHosted
	}
	return Unsupported
}

// Libc returns the C library for a LinuxHosted target and "" otherwise.
func (t Target) Libc() LibcKind {
	if t.Classify() != LinuxHosted {
		return ""
	}
	if t.ABI == Musl {
		return MuslLibc
	}
	return Glibc
}

// ParseError reports a malformed target triple.
type ParseError struct {
	Input  string
	Reason string
}

func (e *ParseError) Error() string {
	return fmt.Sprintf("invalid target %q: %s (expected arch-vendor-os-abi, arch-elf or %s)", e.Input, e.Reason, bpfTriple)
}

func parseErr(input, reason string) error {
	return &ParseError{Input: input, Reason: reason}
}

// UnsupportedError is returned when a well-formed target has no build strategy.
type UnsupportedError struct {
	Target Target
}

func (e *UnsupportedError) Error() string {
	return fmt.Sprintf("target %s is not supported: abi %q has no build strategy", e.Target, e.Target.ABI)
}
