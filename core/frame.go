// Package core provides the frame supervisor's core data model: the
// core-accounting ledger, the frame cache, and the request/running-frame
// record types shared by the attendant, idle-lock controller, and supervisor.
/*
 * Copyright (c) 2018-2026, OpenCue Contributors. All rights reserved.
 */
package core

import (
	"io"
	"sync"
	"time"
)

// ExitUnset is the sentinel exit-status value meaning "killed before the
// child ever reported an exit code" (spec §3).
const ExitUnset int32 = -1

// FrameRequest is the inbound, immutable-once-accepted launch request.
type FrameRequest struct {
	FrameID  string
	JobID    string
	JobName  string
	FrameName string
	Show     string
	Shot     string
	User     string
	UID      int
	GID      int
	Command  string
	CoreCount int32 // centi-cores
	LogDir   string
	Env      map[string]string

	IgnoreIdleLock bool
	Threadable     bool
}

// Valid checks the invariants spec §3 requires before admission.
func (r *FrameRequest) Valid() bool {
	return r.UID > 0 && r.CoreCount > 0
}

// RunningFrame is a FrameRequest plus the mutable fields populated over the
// attendant's lifecycle. Owned exclusively by the frame's attendant after
// admission; other goroutines read it only through Snapshot.
type RunningFrame struct {
	Request *FrameRequest

	StartTime time.Time
	EndTime   time.Time
	RunTime   time.Duration

	PID        int
	ExitStatus int32
	ExitSignal int32

	// statsMu guards MaxRSS/UserTime/SysTime, the three fields both the
	// owning attendant (once, at completion) and the supervisor's RSS
	// sampler (periodically, while the frame runs) write (spec §4.3).
	// Every other field is written exclusively by the attendant.
	statsMu  sync.Mutex
	maxRSS   int64 // bytes
	userTime time.Duration
	sysTime  time.Duration

	KillMessage string

	HyperthreadSet []int

	// LogSink is the open log file; owned by the attendant, never touched by
	// other goroutines.
	LogSink io.WriteCloser

	killed bool
}

// UpdateStats records a fresh sample of resident-set size and cumulative CPU
// time, from either the attendant's final stat-file parse or the
// supervisor's periodic RSS sampler.
func (rf *RunningFrame) UpdateStats(maxRSS int64, userTime, sysTime time.Duration) {
	rf.statsMu.Lock()
	defer rf.statsMu.Unlock()
	rf.maxRSS = maxRSS
	rf.userTime = userTime
	rf.sysTime = sysTime
}

func (rf *RunningFrame) Stats() (maxRSS int64, userTime, sysTime time.Duration) {
	rf.statsMu.Lock()
	defer rf.statsMu.Unlock()
	return rf.maxRSS, rf.userTime, rf.sysTime
}

// Snapshot is an immutable, RPC-safe copy of a RunningFrame's fields. Callers
// outside the attendant must never read RunningFrame fields directly.
type Snapshot struct {
	FrameID     string
	JobName     string
	FrameName   string
	User        string
	PID         int
	StartTime   time.Time
	EndTime     time.Time
	RunTime     time.Duration
	ExitStatus  int32
	ExitSignal  int32
	MaxRSS      int64
	UserTime    time.Duration
	SysTime     time.Duration
	KillMessage string
}

// Snapshot copies RunningFrame's current fields. Fields not yet populated
// (e.g. EndTime before the child exits) are simply zero-valued — callers must
// tolerate partially-populated snapshots per spec §5.
func (rf *RunningFrame) Snapshot() Snapshot {
	maxRSS, userTime, sysTime := rf.Stats()
	return Snapshot{
		FrameID:     rf.Request.FrameID,
		JobName:     rf.Request.JobName,
		FrameName:   rf.Request.FrameName,
		User:        rf.Request.User,
		PID:         rf.PID,
		StartTime:   rf.StartTime,
		EndTime:     rf.EndTime,
		RunTime:     rf.RunTime,
		ExitStatus:  rf.ExitStatus,
		ExitSignal:  rf.ExitSignal,
		MaxRSS:      maxRSS,
		UserTime:    userTime,
		SysTime:     sysTime,
		KillMessage: rf.KillMessage,
	}
}

// MarkKilled idempotently records that a kill was requested; returns true the
// first time it transitions (so callers signal the session exactly once).
func (rf *RunningFrame) MarkKilled(msg string) bool {
	if rf.killed {
		return false
	}
	rf.killed = true
	rf.KillMessage = msg
	return true
}

func (rf *RunningFrame) WasKilled() bool { return rf.killed }
