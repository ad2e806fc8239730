package kernel

import (
	"fmt"
	"path/filepath"

	"toolup/internal/target"
)

// defconfigName returns the defconfig target used for a.
func defconfigName(a target.Arch) string {
	switch a {
	case target.X86_64:
		return "x86_64_defconfig"
	case target.I686:
		return "i386_defconfig"
	case target.PPC64:
		return "ppc64_defconfig"
	case target.PPC64LE:
		return "ppc64le_defconfig"
	case target.RISCV32:
		return "rv32_defconfig"
	}
	return "defconfig"
}

// imagePath is the build output, relative to the object directory, that is
// booted for a.
func imagePath(a target.Arch) (string, error) {
	karch, ok := a.KernelArch()
	if !ok {
		return "", fmt.Errorf("%s has no Linux port", a)
	}
	switch karch {
	case "x86", "s390":
		return filepath.Join("arch", karch, "boot", "bzImage"), nil
	case "arm":
		return filepath.Join("arch", "arm", "boot", "zImage"), nil
	case "arm64", "riscv":
		return filepath.Join("arch", karch, "boot", "Image"), nil
	}
	return "vmlinux", nil
}
