// Package buildenv detects the host Linux distribution and installs the
// toolchain needed to build and attach the sched_ext scheduling core:
// clang/llvm, libbpf headers, bpftool, and matching kernel headers.
package buildenv

import (
	"fmt"
	"os"
	"os/exec"
	"runtime"
	"strings"
)

// Installer detects the distro and installs build dependencies.
type Installer struct {
	DryRun bool
}

// DistroInfo holds OS and package manager details.
type DistroInfo struct {
	ID         string
	VersionID  string
	PkgManager string
}

// PackageSet defines packages for one installation step.
type PackageSet struct {
	Step     string
	Packages map[string][]string
}

// Run performs the installation.
func (inst *Installer) Run() error {
	if runtime.GOOS != "linux" {
		return fmt.Errorf("pandemonium build-deps is only supported on Linux (current: %s)", runtime.GOOS)
	}
	if os.Geteuid() != 0 {
		return fmt.Errorf("pandemonium build-deps requires root privileges (use sudo)")
	}

	distro, err := DetectDistro()
	if err != nil {
		return fmt.Errorf("detect distro: %w", err)
	}
	fmt.Printf("Detected: %s %s (package manager: %s)\n", distro.ID, distro.VersionID, distro.PkgManager)

	kernel, err := KernelVersion()
	if err == nil {
		fmt.Printf("Kernel: %s\n", kernel)
	}

	if !inst.DryRun {
		fmt.Println("\nUpdating package index...")
		if err := updatePackageIndex(distro.PkgManager); err != nil {
			fmt.Printf("  WARNING: %v\n", err)
		}
	}

	steps := BuildPackageSteps(distro)
	for _, step := range steps {
		pkgs := step.Packages[distro.PkgManager]
		if len(pkgs) == 0 {
			continue
		}
		fmt.Printf("\n[%s] Installing: %s\n", step.Step, strings.Join(pkgs, " "))
		if inst.DryRun {
			fmt.Printf("  (dry-run) Would run: %s install %s\n", distro.PkgManager, strings.Join(pkgs, " "))
			continue
		}
		for _, pkg := range pkgs {
			if err := installPackages(distro.PkgManager, []string{pkg}); err != nil {
				fmt.Printf("  WARNING: failed to install %s: %v\n", pkg, err)
			} else {
				fmt.Printf("  OK: %s\n", pkg)
			}
		}
	}

	fmt.Println("\nInstall complete. Run 'pandemonium check' to verify BTF/sched_ext readiness.")
	return nil
}

// DetectDistro reads /etc/os-release to identify the distribution.
func DetectDistro() (*DistroInfo, error) {
	data, err := os.ReadFile("/etc/os-release")
	if err != nil {
		return nil, fmt.Errorf("read /etc/os-release: %w", err)
	}

	info := &DistroInfo{}
	for _, line := range strings.Split(string(data), "\n") {
		parts := strings.SplitN(line, "=", 2)
		if len(parts) != 2 {
			continue
		}
		key := parts[0]
		val := strings.Trim(parts[1], "\"")
		switch key {
		case "ID":
			info.ID = val
		case "VERSION_ID":
			info.VersionID = val
		}
	}

	switch info.ID {
	case "ubuntu", "debian", "linuxmint", "pop":
		info.PkgManager = "apt"
	case "centos", "rhel", "rocky", "almalinux", "ol":
		info.PkgManager = "yum"
	case "fedora":
		info.PkgManager = "dnf"
	case "arch", "manjaro":
		info.PkgManager = "pacman"
	case "opensuse", "sles":
		info.PkgManager = "zypper"
	default:
		return nil, fmt.Errorf("unsupported distribution: %s", info.ID)
	}

	return info, nil
}

// KernelVersion returns the running kernel version.
func KernelVersion() (string, error) {
	out, err := exec.Command("uname", "-r").Output()
	if err != nil {
		return "", err
	}
	return strings.TrimSpace(string(out)), nil
}

// BuildPackageSteps returns the ordered list of package installations
// needed to build and load the sched_ext core: kernel headers (for
// struct definitions), clang/llvm (BPF C compiler), libbpf + bpftool
// (CO-RE skeleton generation and struct_ops introspection).
func BuildPackageSteps(distro *DistroInfo) []PackageSet {
	kernelVer, _ := KernelVersion()

	aptHeaders := []string{"linux-headers-" + kernelVer}
	if kernelVer != "" {
		aptHeaders = append(aptHeaders, "linux-headers-generic")
	}

	return []PackageSet{
		{
			Step: "kernel-headers",
			Packages: map[string][]string{
				"apt":     aptHeaders,
				"yum":     {"kernel-devel-" + kernelVer, "kernel-devel"},
				"dnf":     {"kernel-devel"},
				"pacman":  {"linux-headers"},
			},
		},
		{
			Step: "bpf-toolchain",
			Packages: map[string][]string{
				"apt":    {"clang", "llvm", "libbpf-dev"},
				"yum":    {"clang", "llvm", "libbpf-devel"},
				"dnf":    {"clang", "llvm", "libbpf-devel"},
				"pacman": {"clang", "llvm", "libbpf"},
			},
		},
		{
			Step: "bpftool",
			Packages: map[string][]string{
				"apt":    {"bpftool", "linux-tools-common", "linux-tools-" + kernelVer},
				"yum":    {"bpftool"},
				"dnf":    {"bpftool"},
				"pacman": {"bpf"},
			},
		},
		{
			Step: "utilities",
			Packages: map[string][]string{
				"apt":    {"iproute2", "procps"},
				"yum":    {"iproute", "procps-ng"},
				"dnf":    {"iproute", "procps-ng"},
				"pacman": {"iproute2", "procps-ng"},
			},
		},
	}
}

func updatePackageIndex(pkgManager string) error {
	var cmd *exec.Cmd
	switch pkgManager {
	case "apt":
		cmd = exec.Command("apt-get", "update", "-qq")
		cmd.Env = append(os.Environ(), "DEBIAN_FRONTEND=noninteractive")
	case "yum":
		cmd = exec.Command("yum", "makecache", "-q")
	case "dnf":
		cmd = exec.Command("dnf", "makecache", "-q")
	case "pacman":
		cmd = exec.Command("pacman", "-Sy")
	default:
		return nil
	}
	cmd.Stdout = os.Stdout
	cmd.Stderr = os.Stderr
	return cmd.Run()
}

func installPackages(pkgManager string, packages []string) error {
	var cmd *exec.Cmd
	switch pkgManager {
	case "apt":
		args := append([]string{"install", "-y", "-qq"}, packages...)
		cmd = exec.Command("apt-get", args...)
		cmd.Env = append(os.Environ(), "DEBIAN_FRONTEND=noninteractive")
	case "yum":
		args := append([]string{"install", "-y"}, packages...)
		cmd = exec.Command("yum", args...)
	case "dnf":
		args := append([]string{"install", "-y"}, packages...)
		cmd = exec.Command("dnf", args...)
	case "pacman":
		args := append([]string{"-S", "--noconfirm"}, packages...)
		cmd = exec.Command("pacman", args...)
	case "zypper":
		args := append([]string{"install", "-y"}, packages...)
		cmd = exec.Command("zypper", args...)
	default:
		return fmt.Errorf("unsupported package manager: %s", pkgManager)
	}
	cmd.Stdout = os.Stdout
	cmd.Stderr = os.Stderr
	return cmd.Run()
}
