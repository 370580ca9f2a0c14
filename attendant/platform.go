// Package attendant implements the per-frame worker: environment build, log
// preparation and rotation, subprocess launch under the target user, wait,
// stat collection, and completion reporting (spec §4.2).
/*
 * Copyright (c) 2018-2026, OpenCue Contributors. All rights reserved.
 */
package attendant

import (
	"os/exec"
	"time"
)

// Topology is what PlatformOps.ProbeTopology reports at daemon construction.
type Topology struct {
	TotalCentiCores int32
	HyperthreadPool []int // logical CPU indices available for pinning
	TotalMemBytes   int64
	Tags            []string
}

// ChildStats is what PlatformOps.ParseStatFile yields after a child exits,
// and what ProbeRunningStats yields for a still-running child. ExitStatus and
// ExitSignal are not filled by either; ParseExitStatus returns those directly.
type ChildStats struct {
	ExitStatus int32
	ExitSignal int32
	RealTime   time.Duration
	UserTime   time.Duration
	SysTime    time.Duration
	MaxRSS     int64 // bytes; only populated by ProbeRunningStats
}

// SpawnSpec is the fully-built description of the subprocess to launch,
// produced by steps 1-6 of spec §4.2 and consumed by PlatformOps.BuildSpawnArgv.
type SpawnSpec struct {
	Command       string   // the materialized command's temp-file path
	UID           int
	GID           int
	Dir           string
	Env           []string // "KEY=VALUE" pairs
	Nice          bool     // true on desktop-classified hosts
	HyperthreadSet []int
	StatFilePath  string
}

// PlatformOps is the small OS-dispatch capability set described in spec §9,
// with concrete posix-linux, posix-mac, and windows variants chosen once at
// daemon construction — never dispatched dynamically per-call.
type PlatformOps interface {
	// BuildSpawnArgv returns the exec.Cmd ready to Start(), wrapped with a
	// wall-clock/user/system-time measurement tool and, when present, a
	// CPU-affinity tool (spec §4.2 step 7).
	BuildSpawnArgv(spec SpawnSpec) (*exec.Cmd, error)

	// ParseExitStatus classifies the *exec.Cmd's wait error into an exit
	// status / signal pair (spec §4.2 step 8).
	ParseExitStatus(waitErr error) (status, signal int32)

	// ParseStatFile parses the wrapper's stat output file into realtime /
	// utime / stime; absence of the file (killed before it wrote) is
	// non-fatal and yields a zero ChildStats.
	ParseStatFile(path string) (ChildStats, error)

	// ProbeRunningStats samples a still-running child's resident set size and
	// cumulative CPU time directly from the OS (spec §4.3's RSS sampler).
	// Absence of the pid (already exited) is non-fatal and yields a zero
	// ChildStats.
	ProbeRunningStats(pid int) (ChildStats, error)

	// SignalSession delivers a terminate signal to the entire session led by
	// pid (spec §4.5, §7: kill-by-session reaches descendants).
	SignalSession(pid int) error

	// ProbeTopology enumerates CPU/memory/tags at daemon construction.
	ProbeTopology() (Topology, error)

	// ProbeUserLoggedIn reports whether an interactive user session is
	// present (used by rebootNow's HostBusy check and the heartbeat's
	// shutdown-when-idle condition).
	ProbeUserLoggedIn() (bool, error)

	// IsDesktop reports whether this host is classified as an interactive
	// workstation (vs. a dedicated render blade) — governs the nice-wrap in
	// spec §4.2 step 7.
	IsDesktop() bool

	// RewriteLogDir applies the platform-specific log-directory override
	// (spec §4.2 step 1: Windows rewrites to a fixed network share).
	RewriteLogDir(logDir string) string
}
