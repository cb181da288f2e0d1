// Package bpfcore provides BTF/CO-RE detection and BPF program loading
// for the sched_ext scheduling core. A generic vmlinux header is not
// acceptable here: the build must derive kernel type information from
// the running kernel's BTF, so DetectBTF is also consulted by the build
// tooling, not just the runtime attach path.
package bpfcore

import (
	"fmt"
	"os"
	"strconv"
	"strings"
)

// BTFInfo describes BTF/CO-RE availability on the running host.
type BTFInfo struct {
	Available     bool
	VmlinuxPath   string
	KernelVersion string
	MajorVersion  int
	MinorVersion  int
	SchedExtOK    bool // true if kernel exposes CONFIG_SCHED_CLASS_EXT
}

// DetectBTF checks for BTF availability and sched_ext support.
func DetectBTF() *BTFInfo {
	info := &BTFInfo{}
	info.KernelVersion = readKernelVersion()
	info.MajorVersion, info.MinorVersion = parseKernelVersion(info.KernelVersion)

	if _, err := os.Stat("/sys/kernel/btf/vmlinux"); err == nil {
		info.Available = true
		info.VmlinuxPath = "/sys/kernel/btf/vmlinux"
	}

	// sched_ext landed in mainline at 6.12; CO-RE requires >= 5.8.
	if info.MajorVersion > 6 || (info.MajorVersion == 6 && info.MinorVersion >= 12) {
		info.SchedExtOK = true
	}
	kconfig := readKConfig()
	if kconfig["CONFIG_SCHED_CLASS_EXT"] {
		info.SchedExtOK = true
	}

	return info
}

// DetectCapabilities reports the BPF-related kernel features relevant to
// attaching the scheduling core.
func DetectCapabilities() map[string]bool {
	caps := make(map[string]bool)
	caps["bpf_syscall"] = fileExists("/proc/sys/kernel/unprivileged_bpf_disabled")
	caps["btf_vmlinux"] = fileExists("/sys/kernel/btf/vmlinux")
	caps["bpffs"] = fileExists("/sys/fs/bpf")

	kconfig := readKConfig()
	for _, opt := range []string{
		"CONFIG_BPF",
		"CONFIG_BPF_SYSCALL",
		"CONFIG_BPF_JIT",
		"CONFIG_DEBUG_INFO_BTF",
		"CONFIG_SCHED_CLASS_EXT",
	} {
		caps[strings.ToLower(opt)] = kconfig[opt]
	}
	return caps
}

func readKernelVersion() string {
	data, err := os.ReadFile("/proc/version")
	if err != nil {
		return ""
	}
	fields := strings.Fields(string(data))
	if len(fields) >= 3 {
		return fields[2]
	}
	return ""
}

func parseKernelVersion(version string) (int, int) {
	parts := strings.SplitN(version, ".", 3)
	if len(parts) < 2 {
		return 0, 0
	}
	major, _ := strconv.Atoi(parts[0])
	minorStr := parts[1]
	if idx := strings.IndexAny(minorStr, "-+~"); idx >= 0 {
		minorStr = minorStr[:idx]
	}
	minor, _ := strconv.Atoi(minorStr)
	return major, minor
}

func readKConfig() map[string]bool {
	configs := make(map[string]bool)
	paths := []string{
		fmt.Sprintf("/boot/config-%s", readKernelRelease()),
		"/proc/config.gz",
	}
	for _, path := range paths {
		data, err := os.ReadFile(path)
		if err != nil {
			continue
		}
		for _, line := range strings.Split(string(data), "\n") {
			line = strings.TrimSpace(line)
			if strings.HasPrefix(line, "#") || line == "" {
				continue
			}
			if idx := strings.Index(line, "="); idx >= 0 {
				key := line[:idx]
				val := line[idx+1:]
				configs[key] = val == "y" || val == "m"
			}
		}
		break
	}
	return configs
}

func readKernelRelease() string {
	data, err := os.ReadFile("/proc/sys/kernel/osrelease")
	if err != nil {
		return ""
	}
	return strings.TrimSpace(string(data))
}

func fileExists(path string) bool {
	_, err := os.Stat(path)
	return err == nil
}
