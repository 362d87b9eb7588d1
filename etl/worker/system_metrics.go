package worker

import (
	"fmt"

	"github.com/shirou/gopsutil/v3/mem"

	"github.com/linuxautomates/gitsei-sub052/errors"
)

const bytesPerGB = 1024 * 1024 * 1024

// SystemMetrics tracks resource usage for worker pool monitoring
type SystemMetrics struct {
	WorkersActive int     `json:"workers_active"`  // Workers currently running a job
	WorkersTotal  int     `json:"workers_total"`   // Total configured workers
	JobsProcessed int     `json:"jobs_processed"`  // Jobs run since start
	JobsFailed    int     `json:"jobs_failed"`     // Of those, ended FAILURE
	MemoryUsedGB  float64 `json:"memory_used_gb"`  // Current memory usage in GB
	MemoryTotalGB float64 `json:"memory_total_gb"` // Total system memory in GB
	MemoryPercent float64 `json:"memory_percent"`  // Memory utilization percentage
}

// getMemoryStats returns total and available memory in bytes
func getMemoryStats() (total uint64, available uint64, err error) {
	v, err := mem.VirtualMemory()
	if err != nil {
		return 0, 0, errors.Wrap(err, "failed to get memory stats")
	}
	return v.Total, v.Available, nil
}

// MemoryMetrics reports host memory only, for processes without a pool
func MemoryMetrics() SystemMetrics {
	var m SystemMetrics
	total, available, err := getMemoryStats()
	if err == nil && total > 0 {
		m.MemoryTotalGB = float64(total) / bytesPerGB
		m.MemoryUsedGB = float64(total-available) / bytesPerGB
		m.MemoryPercent = (m.MemoryUsedGB / m.MemoryTotalGB) * 100
	}
	return m
}

// SystemMetrics returns current pool and host resource usage
func (p *Pool) SystemMetrics() SystemMetrics {
	m := MemoryMetrics()

	p.mu.Lock()
	m.WorkersActive = p.activeWorkers
	m.JobsProcessed = p.jobsProcessed
	m.JobsFailed = p.jobsFailed
	p.mu.Unlock()
	m.WorkersTotal = p.cfg.Workers

	return m
}

// minAvailableGBPerWorker covers one buffered output page per worker
const minAvailableGBPerWorker = 0.25

// checkMemoryPressure warns when available memory looks too small for the worker count
func (p *Pool) checkMemoryPressure() string {
	total, available, err := getMemoryStats()
	if err != nil || total == 0 {
		return ""
	}

	availableGB := float64(available) / bytesPerGB
	if need := float64(p.cfg.Workers) * minAvailableGBPerWorker; availableGB < need {
		return fmt.Sprintf("%.2fGB available for %d workers (want at least %.2fGB). Consider reducing workers.",
			availableGB, p.cfg.Workers, need)
	}
	return ""
}
