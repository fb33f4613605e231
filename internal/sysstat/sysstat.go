// Package sysstat samples host load from procfs for the proctor dashboard.
package sysstat

import (
	"bufio"
	"bytes"
	"errors"
	"fmt"
	"io/fs"
	"os"
	"strconv"
	"strings"
	"sync"
	"time"
)

// Host is one reading of the machine running the server.
type Host struct {
	CPUPercent    float64 `json:"cpu_percent"`
	MemUsedBytes  uint64  `json:"mem_used_bytes"`
	MemTotalBytes uint64  `json:"mem_total_bytes"`
	MemPercent    float64 `json:"mem_percent"`
	LoadAvg1      float64 `json:"load_avg_1"`
	RSSBytes      uint64  `json:"app_rss_bytes"`
}

// Sampler reads procfs. CPU usage is the delta since the previous Sample.
type Sampler struct {
	proc fs.FS

	mu        sync.Mutex
	prevIdle  uint64
	prevTotal uint64
}

// NewSampler reads from proc, or the live /proc when nil.
func NewSampler(proc fs.FS) *Sampler {
	if proc == nil {
		proc = os.DirFS("/proc")
	}
	s := &Sampler{proc: proc}
	// Seed so the first Sample has a baseline.
	s.prevIdle, s.prevTotal, _ = s.cpuTimes()
	return s
}

// Sample collects whatever the host exposes. Missing files leave zero values.
func (s *Sampler) Sample() Host {
	var h Host

	if idle, total, err := s.cpuTimes(); err == nil {
		s.mu.Lock()
		if total > s.prevTotal {
			h.CPUPercent = (1 - float64(idle-s.prevIdle)/float64(total-s.prevTotal)) * 100
			s.prevIdle, s.prevTotal = idle, total
		}
		s.mu.Unlock()
	}

	if data, err := fs.ReadFile(s.proc, "meminfo"); err == nil {
		fields := kbFields(data, "MemTotal:", "MemAvailable:")
		if total := fields["MemTotal:"]; total > 0 {
			h.MemTotalBytes = total
			h.MemUsedBytes = total - fields["MemAvailable:"]
			h.MemPercent = float64(h.MemUsedBytes) / float64(total) * 100
		}
	}

	if data, err := fs.ReadFile(s.proc, "loadavg"); err == nil {
		h.LoadAvg1, _ = parseLoadAvg(data)
	}

	if data, err := fs.ReadFile(s.proc, "self/status"); err == nil {
		h.RSSBytes = kbFields(data, "VmRSS:")["VmRSS:"]
	}
	return h
}

func (s *Sampler) cpuTimes() (idle, total uint64, err error) {
	data, err := fs.ReadFile(s.proc, "stat")
	if err != nil {
		return 0, 0, err
	}
	return parseCPU(data)
}

// parseCPU reads the aggregate "cpu user nice system idle ..." line.
func parseCPU(data []byte) (idle, total uint64, err error) {
	line, _, _ := bytes.Cut(data, []byte("\n"))
	fields := strings.Fields(string(line))
	if len(fields) < 5 || fields[0] != "cpu" {
		return 0, 0, errors.New("unexpected stat format")
	}
	for i, f := range fields[1:] {
		v, _ := strconv.ParseUint(f, 10, 64)
		total += v
		if i == 3 {
			idle = v
		}
	}
	return idle, total, nil
}

// kbFields picks "Key:   1234 kB" lines and returns them in bytes.
func kbFields(data []byte, keys ...string) map[string]uint64 {
	out := make(map[string]uint64, len(keys))
	sc := bufio.NewScanner(bytes.NewReader(data))
	for sc.Scan() && len(out) < len(keys) {
		fields := strings.Fields(sc.Text())
		if len(fields) < 2 {
			continue
		}
		for _, k := range keys {
			if fields[0] == k {
				v, _ := strconv.ParseUint(fields[1], 10, 64)
				out[k] = v * 1024
			}
		}
	}
	return out
}

func parseLoadAvg(data []byte) (float64, error) {
	fields := strings.Fields(string(data))
	if len(fields) == 0 {
		return 0, errors.New("unexpected loadavg format")
	}
	return strconv.ParseFloat(fields[0], 64)
}

// FormatUptime renders d as "2d 3h 4m 5s", dropping leading zero units.
func FormatUptime(d time.Duration) string {
	days := int(d.Hours()) / 24
	hours := int(d.Hours()) % 24
	minutes := int(d.Minutes()) % 60
	seconds := int(d.Seconds()) % 60

	switch {
	case days > 0:
		return fmt.Sprintf("%dd %dh %dm %ds", days, hours, minutes, seconds)
	case hours > 0:
		return fmt.Sprintf("%dh %dm %ds", hours, minutes, seconds)
	}
	return fmt.Sprintf("%dm %ds", minutes, seconds)
}
