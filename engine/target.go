package engine

import (
	"runtime"
	"strings"

	"golang.org/x/sys/cpu"
)

// CPUFeatures is a set of optional instruction set extensions.
type CPUFeatures uint64

const (
	CPUSSE42 CPUFeatures = 1 << iota
	CPUPOPCNT
	CPUAVX
	CPUAVX2
	CPUBMI1
	CPUBMI2
	CPUASIMD
	CPUATOMICS
	CPUCRC32
)

var cpuFeatureNames = []struct {
	f    CPUFeatures
	name string
}{
	{CPUSSE42, "sse4.2"},
	{CPUPOPCNT, "popcnt"},
	{CPUAVX, "avx"},
	{CPUAVX2, "avx2"},
	{CPUBMI1, "bmi1"},
	{CPUBMI2, "bmi2"},
	{CPUASIMD, "asimd"},
	{CPUATOMICS, "atomics"},
	{CPUCRC32, "crc32"},
}

func (f CPUFeatures) String() string {
	var names []string
	for _, n := range cpuFeatureNames {
		if f&n.f != 0 {
			names = append(names, n.name)
		}
	}
	if len(names) == 0 {
		return "none"
	}
	return strings.Join(names, ",")
}

// ParseCPUFeature parses one name produced by CPUFeatures.String.
func ParseCPUFeature(name string) (CPUFeatures, bool) {
	for _, n := range cpuFeatureNames {
		if n.name == name {
			return n.f, true
		}
	}
	return 0, false
}

// Target is the platform compiled artifacts run on. Artifacts record the
// target triple and CPU features; a host loads only artifacts for its own
// triple whose features it has.
type Target struct {
	Triple      string
	CPUFeatures CPUFeatures
}

// HostTarget describes the running machine.
func HostTarget() Target {
	return Target{Triple: HostTriple(), CPUFeatures: hostCPUFeatures()}
}

// HostTriple returns the triple of the running machine in arch-os form.
func HostTriple() string {
	arch := runtime.GOARCH
	switch arch {
	case "amd64":
		arch = "x86_64"
	case "arm64":
		arch = "aarch64"
	}
	return arch + "-" + runtime.GOOS
}

func hostCPUFeatures() CPUFeatures {
	var f CPUFeatures
	set := func(ok bool, feature CPUFeatures) {
		if ok {
			f |= feature
		}
	}
	set(cpu.X86.HasSSE42, CPUSSE42)
	set(cpu.X86.HasPOPCNT, CPUPOPCNT)
	set(cpu.X86.HasAVX, CPUAVX)
	set(cpu.X86.HasAVX2, CPUAVX2)
	set(cpu.X86.HasBMI1, CPUBMI1)
	set(cpu.X86.HasBMI2, CPUBMI2)
	set(cpu.ARM64.HasASIMD, CPUASIMD)
	set(cpu.ARM64.HasATOMICS, CPUATOMICS)
	set(cpu.ARM64.HasCRC32, CPUCRC32)
	return f
}
