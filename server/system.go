package server

import (
	"os"

	"github.com/shirou/gopsutil/v3/mem"
	"github.com/shirou/gopsutil/v3/process"

	"github.com/teranos/factwire/errors"
)

// processStats samples this process and the host memory
func processStats() (*ProcessStats, error) {
	p, err := process.NewProcess(int32(os.Getpid()))
	if err != nil {
		return nil, errors.Wrap(err, "failed to open own process")
	}

	out := &ProcessStats{PID: p.Pid}
	if info, err := p.MemoryInfo(); err == nil {
		out.RSSBytes = info.RSS
		out.VMSBytes = info.VMS
	}
	if cpu, err := p.CPUPercent(); err == nil {
		out.CPUPercent = cpu
	}
	if n, err := p.NumThreads(); err == nil {
		out.NumThreads = n
	}

	v, err := mem.VirtualMemory()
	if err != nil {
		return out, errors.Wrap(err, "failed to get memory stats")
	}
	out.SystemTotal = v.Total
	out.SystemAvailable = v.Available
	return out, nil
}
