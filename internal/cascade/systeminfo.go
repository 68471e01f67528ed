package cascade

import (
	"runtime"

	"github.com/shirou/gopsutil/v4/load"
	"github.com/shirou/gopsutil/v4/mem"

	"github.com/openportal/mesh/internal/command"
)

// collectSystemInfo samples host load/memory for health and diagnostics
// responses, the supplemented feature grounded on the original's
// systeminfo.rs. Best-effort: a sampling failure yields a zero-valued
// SystemInfo rather than failing the whole health/diagnostics response.
func collectSystemInfo() *command.SystemInfo {
	info := &command.SystemInfo{CPUCount: runtime.NumCPU()}

	if avg, err := load.Avg(); err == nil {
		info.LoadAverage1 = avg.Load1
	}
	if vm, err := mem.VirtualMemory(); err == nil {
		info.MemoryUsedMB = vm.Used / (1 << 20)
		info.MemoryTotalMB = vm.Total / (1 << 20)
	}
	return info
}
