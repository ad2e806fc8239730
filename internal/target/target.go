// Package target models compilation target triples.
package target

import (
	"fmt"
	"slices"
	"strings"
)

// Arch is a target CPU architecture.
type Arch string

const (
	X86_64      Arch = "x86_64"
	I686        Arch = "i686"
	AArch64     Arch = "aarch64"
	ARMv7       Arch = "armv7"
	ARM         Arch = "arm"
	RISCV32     Arch = "riscv32"
	RISCV64     Arch = "riscv64"
	PPC64       Arch = "ppc64"
	PPC64LE     Arch = "ppc64le"
	MIPS        Arch = "mips"
	MIPSEL      Arch = "mipsel"
	MIPS64      Arch = "mips64"
	MIPS64EL    Arch = "mips64el"
	S390X       Arch = "s390x"
	LoongArch64 Arch = "loongarch64"
	AVR         Arch = "avr"
	BPF         Arch = "bpf"
	Xtensa      Arch = "xtensa"
)

var arches = []Arch{
	X86_64, I686, AArch64, ARMv7, ARM, RISCV32, RISCV64, PPC64, PPC64LE,
	MIPS, MIPSEL, MIPS64, MIPS64EL, S390X, LoongArch64, AVR, BPF, Xtensa,
}

// Vendor is the vendor field of a triple.
type Vendor string

const (
	Unknown Vendor = "unknown"
	PC      Vendor = "pc"
	ESP32   Vendor = "esp32"
	ESP32S2 Vendor = "esp32s2"
	ESP32S3 Vendor = "esp32s3"
)

// OS is the operating system field of a triple.
type OS string

const (
	Linux OS = "linux"
	None  OS = "none"
)

// ABI is the environment field of a triple.
type ABI string

const (
	GNU        ABI = "gnu"
	GNUEABI    ABI = "gnueabi"
	GNUEABIHF  ABI = "gnueabihf"
	GNUX32     ABI = "gnux32"
	Musl       ABI = "musl"
	MuslEABI   ABI = "musleabi"
	MuslEABIHF ABI = "musleabihf"
	EABI       ABI = "eabi"
	EABIHF     ABI = "eabihf"
	ELF        ABI = "elf"
)

var abis = []ABI{GNU, GNUEABI, GNUEABIHF, GNUX32, Musl, MuslEABI, MuslEABIHF, EABI, EABIHF, ELF}

const bpfTriple = "bpf-unknown-none"

// Target is a parsed, validated target triple. The zero value is not valid.
type Target struct {
	Arch   Arch
	Vendor Vendor
	OS     OS
	ABI    ABI
}

// Supported lists every architecture Parse accepts.
func Supported() []Arch {
	return slices.Clone(arches)
}

// Parse validates s and returns its structured form.
func Parse(s string) (Target, error) {
	if s == bpfTriple {
		return Target{Arch: BPF, Vendor: Unknown, OS: None}, nil
	}

	parts := strings.Split(s, "-")
	switch len(parts) {
	case 2:
		if ABI(parts[1]) != ELF {
			return Target{}, parseErr(s, "two-part targets must end in -elf")
		}
		arch, err := parseArch(s, parts[0])
		if err != nil {
			return Target{}, err
		}
		return checked(s, Target{Arch: arch, Vendor: Unknown, OS: None, ABI: ELF})

	case 3:
		vendor := Vendor(parts[1])
		if Arch(parts[0]) == Xtensa && ABI(parts[2]) == ELF && isESP(vendor) {
			return Target{Arch: Xtensa, Vendor: vendor, OS: None, ABI: ELF}, nil
		}
		return Target{}, parseErr(s, "three-part targets are only xtensa-{esp32,esp32s2,esp32s3}-elf")

	case 4:
		arch, err := parseArch(s, parts[0])
		if err != nil {
			return Target{}, err
		}
		vendor := Vendor(parts[1])
		if vendor != Unknown && vendor != PC {
			return Target{}, parseErr(s, fmt.Sprintf("unknown vendor %q", parts[1]))
		}
		abi := ABI(parts[3])

		if OS(parts[2]) == None {
			switch abi {
			case ELF:
				return Target{}, parseErr(s, fmt.Sprintf("bare-metal ELF targets are written %s-elf", parts[0]))
			case EABI, EABIHF:
				return checked(s, Target{Arch: arch, Vendor: vendor, OS: None, ABI: abi})
			default:
				return Target{}, parseErr(s, fmt.Sprintf("abi %q is not valid without an operating system; use eabi or eabihf", parts[3]))
			}
		}

		if OS(parts[2]) != Linux {
			return Target{}, parseErr(s, fmt.Sprintf("unknown operating system %q", parts[2]))
		}
		if !slices.Contains(abis, abi) {
			return Target{}, parseErr(s, fmt.Sprintf("unknown abi %q", parts[3]))
		}
		return checked(s, Target{Arch: arch, Vendor: vendor, OS: Linux, ABI: abi})
	}

	return Target{}, parseErr(s, "wrong number of components")
}

// MustParse is like Parse but panics on error.
func MustParse(s string) Target {
	t, err := Parse(s)
	if err != nil {
		panic(err)
	}
	return t
}

func parseArch(input, s string) (Arch, error) {
	a := Arch(s)
	if a == BPF {
		return "", parseErr(input, "the only bpf target is "+bpfTriple)
	}
	if !slices.Contains(arches, a) {
		return "", parseErr(input, fmt.Sprintf("unknown architecture %q", s))
	}
	return a, nil
}

// checked rejects combinations the GNU toolchain cannot build.
func checked(input string, t Target) (Target, error) {
	switch {
	case t.OS == Linux && isFreestandingABI(t.ABI):
		return Target{}, parseErr(input, fmt.Sprintf("abi %q has no operating system; use %s", t.ABI, Target{Arch: t.Arch, Vendor: Unknown, OS: None, ABI: ELF}))
	case isARMABI(t.ABI) && !t.Arch.IsARM():
		return Target{}, parseErr(input, fmt.Sprintf("abi %q is only valid for 32-bit arm", t.ABI))
	case t.ABI == GNUX32 && t.Arch != X86_64:
		return Target{}, parseErr(input, "gnux32 requires x86_64")
	case t.OS == Linux && t.Arch == AVR:
		return Target{}, parseErr(input, "avr has no Linux port; use avr-elf")
	}
	return t, nil
}

// String formats t in canonical form; Parse(t.String()) == t.
func (t Target) String() string {
	switch {
	case t.Arch == BPF:
		return bpfTriple
	case t.OS == None && t.ABI == ELF && t.Vendor == Unknown:
		return string(t.Arch) + "-elf"
	case t.OS == None && t.ABI == ELF:
		return string(t.Arch) + "-" + string(t.Vendor) + "-elf"
	}
	return strings.Join([]string{string(t.Arch), string(t.Vendor), string(t.OS), string(t.ABI)}, "-")
}

// IsARM reports whether a is a 32-bit arm variant.
func (a Arch) IsARM() bool { return a == ARM || a == ARMv7 }

// KernelArch is the value passed as ARCH= to the kernel's make.
func (a Arch) KernelArch() (string, bool) {
	switch a {
	case X86_64, I686:
		return "x86", true
	case AArch64:
		return "arm64", true
	case ARM, ARMv7:
		return "arm", true
	case RISCV32, RISCV64:
		return "riscv", true
	case PPC64, PPC64LE:
		return "powerpc", true
	case MIPS, MIPSEL, MIPS64, MIPS64EL:
		return "mips", true
	case S390X:
		return "s390", true
	case LoongArch64:
		return "loongarch", true
	case Xtensa:
		return "xtensa", true
	}
	return "", false
}

// Lib64 reports whether glibc installs into /usr/lib64 on a.
func (a Arch) Lib64() bool {
	switch a {
	case X86_64, PPC64, PPC64LE, S390X:
		return true
	}
	return false
}

func isESP(v Vendor) bool { return v == ESP32 || v == ESP32S2 || v == ESP32S3 }

func isFreestandingABI(a ABI) bool { return a == ELF || a == EABI || a == EABIHF }

func isARMABI(a ABI) bool {
	switch a {
	case GNUEABI, GNUEABIHF, MuslEABI, MuslEABIHF, EABI, EABIHF:
		return true
	}
	return false
}
