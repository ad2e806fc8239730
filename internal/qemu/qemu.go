// Package qemu composes the emulator command line used to boot a kernel
// with a root filesystem.
package qemu

import (
	"fmt"

	"toolup/internal/runner"
	"toolup/internal/target"
)

type machine struct {
	binary  string
	args    []string
	console string
}

var machines = map[target.Arch]machine{
	target.X86_64:  {binary: "qemu-system-x86_64", console: "ttyS0"},
	target.I686:    {binary: "qemu-system-i386", console: "ttyS0"},
	target.RISCV64: {binary: "qemu-system-riscv64", args: []string{"-machine", "virt", "-bios", "default"}, console: "ttyS0"},
	target.AArch64: {binary: "qemu-system-aarch64", args: []string{"-M", "virt", "-cpu", "cortex-a57"}, console: "ttyAMA0"},
	target.ARMv7:   {binary: "qemu-system-arm", args: []string{"-M", "virt", "-cpu", "cortex-a15"}, console: "ttyAMA0"},
	target.PPC64:   {binary: "qemu-system-ppc64", args: []string{"-machine", "pseries"}, console: "hvc0"},
	target.PPC64LE: {binary: "qemu-system-ppc64le", args: []string{"-machine", "pseries"}, console: "hvc0"},
}

// Supported reports whether t can be booted.
func Supported(t target.Target) bool {
	_, ok := machines[t.Arch]
	return ok && t.Classify() == target.LinuxHosted
}

// Command returns the emulator invocation booting kernel with initrd.
func Command(t target.Target, kernel, initrd string) (runner.Command, error) {
	m, ok := machines[t.Arch]
	if !ok || t.Classify() != target.LinuxHosted {
		return runner.Command{}, fmt.Errorf("no emulator configuration for %s", t)
	}
	args := append([]string(nil), m.args...)
	args = append(args,
		"-m", "1G",
		"-smp", "2",
		"-nographic",
		"-kernel", kernel,
		"-initrd", initrd,
		"-append", "console="+m.console+",115200 rdinit=/init earlycon",
	)
	return runner.Command{Title: m.binary, Name: m.binary, Args: args}, nil
}
