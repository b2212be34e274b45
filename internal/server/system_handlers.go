package server

import (
	"net/http"
	"runtime"

	"github.com/shirou/gopsutil/v3/cpu"
	"github.com/shirou/gopsutil/v3/disk"
	"github.com/shirou/gopsutil/v3/mem"
)

// SystemStatus reports host resource usage alongside the session registry.
type SystemStatus struct {
	CPUPercent     float64 `json:"cpu_percent"`
	MemoryPercent  float64 `json:"memory_percent"`
	MemoryUsedMB   float64 `json:"memory_used_mb"`
	DiskPercent    float64 `json:"disk_percent"`
	Goroutines     int     `json:"goroutines"`
	ActiveSessions int     `json:"active_sessions"`
}

// handleSystemStatus reports process and host health.
func (s *Server) handleSystemStatus(w http.ResponseWriter, r *http.Request) {
	status := SystemStatus{
		Goroutines:     runtime.NumGoroutine(),
		ActiveSessions: s.manager.Len(),
	}

	if percents, err := cpu.Percent(0, false); err == nil && len(percents) > 0 {
		status.CPUPercent = percents[0]
	}
	if vm, err := mem.VirtualMemory(); err == nil {
		status.MemoryPercent = vm.UsedPercent
		status.MemoryUsedMB = float64(vm.Used) / (1024 * 1024)
	}
	dataDir := "/"
	if s.cfg != nil && s.cfg.DataDir != "" {
		dataDir = s.cfg.DataDir
	}
	if du, err := disk.Usage(dataDir); err == nil {
		status.DiskPercent = du.UsedPercent
	}

	s.writeJSON(w, http.StatusOK, status)
}
