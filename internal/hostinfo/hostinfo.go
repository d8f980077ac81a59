// Package hostinfo gathers facts about the reporting host for event
// metadata. Every probe is best-effort: a key is simply absent when its
// source fails, so collection works the same in containers and on bare
// metal.
package hostinfo

import (
	"os"

	"github.com/shirou/gopsutil/v3/cpu"
	"github.com/shirou/gopsutil/v3/host"
	"github.com/shirou/gopsutil/v3/mem"
)

// Collect returns the host facts available right now. The zero-interval CPU
// probe reports utilization since boot rather than sampling, keeping Collect
// non-blocking.
func Collect() map[string]any {
	facts := map[string]any{
		"pid": os.Getpid(),
	}

	if name, err := os.Hostname(); err == nil {
		facts["hostname"] = name
	}

	if info, err := host.Info(); err == nil {
		facts["os"] = info.OS
		facts["platform"] = info.Platform
		facts["uptime_sec"] = info.Uptime
	}

	if pct, err := cpu.Percent(0, false); err == nil && len(pct) > 0 {
		facts["cpu_percent"] = pct[0]
	}

	if vm, err := mem.VirtualMemory(); err == nil {
		facts["mem_percent"] = vm.UsedPercent
		facts["mem_total"] = vm.Total
	}

	return facts
}
