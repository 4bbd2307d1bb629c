// ABOUTME: Capacity health report for the gateway process
// ABOUTME: Reads kernel limits and process usage, flagging anything past 80%

package health

import (
	"fmt"
	"log/slog"
	"os"
	"path/filepath"
	"strconv"
	"strings"

	"golang.org/x/sys/unix"
)

// warnFraction is the usage fraction past which a limit earns a warning.
const warnFraction = 0.8

// Report is the health payload served on /health. Values that could not be
// read are -1 rather than an error; a half-blind report still beats a 500
// from the thing meant to tell you the process is sick.
type Report struct {
	Status   string    `json:"status"`
	Limits   Limits    `json:"limits"`
	Usage    Usage     `json:"usage"`
	Warnings []Warning `json:"warnings"`
}

type Limits struct {
	UlimitN          int64 `json:"ulimit_n"`
	FsFileMax        int64 `json:"fs_file_max"`
	NfConntrackMax   int64 `json:"nf_conntrack_max"`
	MemoryLimitBytes int64 `json:"memory_limit_bytes"`
}

type Usage struct {
	CurrentOpenFDs             int64 `json:"current_open_fds"`
	MemoryUsageBytes           int64 `json:"memory_usage_bytes"`
	ActiveWebsocketConnections int64 `json:"active_websocket_connections"`
}

type Warning struct {
	Message        string `json:"message"`
	Recommendation string `json:"recommendation"`
}

// Monitor assembles health reports. ConnectionCount is injected so the
// monitor has no dependency on the relay.
type Monitor struct {
	ConnectionCount func() int
	logger          *slog.Logger

	procRoot   string
	cgroupRoot string
	fdLimit    func() int64
}

// New creates a monitor over the live /proc and cgroup trees.
func New(connectionCount func() int, logger *slog.Logger) *Monitor {
	return &Monitor{
		ConnectionCount: connectionCount,
		logger:          logger.With("component", "health"),
		procRoot:        "/proc",
		cgroupRoot:      "/sys/fs/cgroup",
		fdLimit:         rlimitNoFile,
	}
}

// Report gathers the current limits and usage.
func (m *Monitor) Report() Report {
	rep := Report{
		Status: "ok",
		Limits: Limits{
			UlimitN:          m.fdLimit(),
			FsFileMax:        m.readInt(filepath.Join(m.procRoot, "sys/fs/file-max")),
			NfConntrackMax:   m.readInt(filepath.Join(m.procRoot, "sys/net/netfilter/nf_conntrack_max")),
			MemoryLimitBytes: m.memoryLimit(),
		},
		Usage: Usage{
			CurrentOpenFDs:             m.openFDs(),
			MemoryUsageBytes:           m.memoryUsage(),
			ActiveWebsocketConnections: int64(m.ConnectionCount()),
		},
		Warnings: []Warning{},
	}

	if over(rep.Usage.CurrentOpenFDs, rep.Limits.UlimitN) {
		rep.Warnings = append(rep.Warnings, Warning{
			Message:        fmt.Sprintf("open file descriptors at %d of %d", rep.Usage.CurrentOpenFDs, rep.Limits.UlimitN),
			Recommendation: "raise the file descriptor limit (ulimit -n) for the gateway process",
		})
	}
	if over(rep.Usage.ActiveWebsocketConnections, rep.Limits.UlimitN) {
		rep.Warnings = append(rep.Warnings, Warning{
			Message:        fmt.Sprintf("active sessions at %d of %d descriptors", rep.Usage.ActiveWebsocketConnections, rep.Limits.UlimitN),
			Recommendation: "raise the file descriptor limit or add gateway replicas",
		})
	}
	if over(rep.Usage.MemoryUsageBytes, rep.Limits.MemoryLimitBytes) {
		rep.Warnings = append(rep.Warnings, Warning{
			Message:        fmt.Sprintf("memory usage at %d of %d bytes", rep.Usage.MemoryUsageBytes, rep.Limits.MemoryLimitBytes),
			Recommendation: "raise the container memory limit or add gateway replicas",
		})
	}

	if len(rep.Warnings) > 0 {
		rep.Status = "warning"
	}
	return rep
}

func over(usage, limit int64) bool {
	return usage >= 0 && limit > 0 && float64(usage) > warnFraction*float64(limit)
}

func rlimitNoFile() int64 {
	var lim unix.Rlimit
	if err := unix.Getrlimit(unix.RLIMIT_NOFILE, &lim); err != nil {
		return -1
	}
	return int64(lim.Cur)
}

// readInt reads a file holding a single integer, -1 when unreadable.
func (m *Monitor) readInt(path string) int64 {
	data, err := os.ReadFile(path)
	if err != nil {
		return -1
	}
	v, err := strconv.ParseInt(strings.TrimSpace(string(data)), 10, 64)
	if err != nil {
		return -1
	}
	return v
}

// memoryLimit reads the cgroup v2 limit, falling back to v1. "max" (no
// limit configured) reads as -1.
func (m *Monitor) memoryLimit() int64 {
	data, err := os.ReadFile(filepath.Join(m.cgroupRoot, "memory.max"))
	if err == nil {
		s := strings.TrimSpace(string(data))
		if s == "max" {
			return -1
		}
		if v, perr := strconv.ParseInt(s, 10, 64); perr == nil {
			return v
		}
		return -1
	}
	return m.readInt(filepath.Join(m.cgroupRoot, "memory/memory.limit_in_bytes"))
}

// memoryUsage prefers the cgroup's accounting, falling back to the process
// resident set from /proc/self/status.
func (m *Monitor) memoryUsage() int64 {
	if v := m.readInt(filepath.Join(m.cgroupRoot, "memory.current")); v >= 0 {
		return v
	}
	if v := m.readInt(filepath.Join(m.cgroupRoot, "memory/memory.usage_in_bytes")); v >= 0 {
		return v
	}
	return m.vmRSS()
}

// vmRSS parses the VmRSS line from /proc/self/status, in bytes.
func (m *Monitor) vmRSS() int64 {
	data, err := os.ReadFile(filepath.Join(m.procRoot, "self/status"))
	if err != nil {
		return -1
	}
	for _, line := range strings.Split(string(data), "\n") {
		if !strings.HasPrefix(line, "VmRSS:") {
			continue
		}
		fields := strings.Fields(line)
		if len(fields) < 2 {
			return -1
		}
		kb, perr := strconv.ParseInt(fields[1], 10, 64)
		if perr != nil {
			return -1
		}
		return kb * 1024
	}
	return -1
}

// openFDs counts entries in /proc/self/fd.
func (m *Monitor) openFDs() int64 {
	entries, err := os.ReadDir(filepath.Join(m.procRoot, "self/fd"))
	if err != nil {
		return -1
	}
	return int64(len(entries))
}
