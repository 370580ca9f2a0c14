// Package super implements the Supervisor: the admission gate for launch
// requests, the daemon's lifecycle flags (when-idle, respawn, reboot), and
// the Frame Servant's kill/status operations (spec §4.3, §4.5).
/*
 * Copyright (c) 2018-2026, OpenCue Contributors. All rights reserved.
 */
package super

import (
	"context"
	"strings"
	"sync"
	"time"

	"github.com/opencue/rqd/attendant"
	"github.com/opencue/rqd/cmn"
	"github.com/opencue/rqd/cmn/cos"
	"github.com/opencue/rqd/cmn/nlog"
	"github.com/opencue/rqd/core"
	"github.com/opencue/rqd/idle"
	"github.com/opencue/rqd/rpc"
	"github.com/opencue/rqd/stats"
)

// killAllDrainInterval is how long killAll yields between sweeps of the
// cache so attendants have a chance to observe their kill and exit (spec
// §4.3: "yielding briefly between passes").
var killAllDrainInterval = 50 * time.Millisecond

// Supervisor is the frame supervisor CORE's admission gate and lifecycle
// owner. It holds no RunningFrame state itself — that lives in the Core
// Ledger and Frame Cache it was constructed with — and never blocks on a
// Frame Attendant; every admitted frame is handed off to a goroutine the
// Supervisor does not wait on.
type Supervisor struct {
	ledger     *core.Ledger
	cache      *core.Cache
	state      *core.DaemonState
	platform   attendant.PlatformOps
	dispatcher rpc.DispatcherClient
	config     *cmn.Config
	hostName   string
	idleCtl    *idle.Controller
	metrics    *stats.Collector

	wg sync.WaitGroup

	// OnShutdownComplete is invoked once, from its own goroutine, after a
	// shutdownNow drains the cache and the configured drain wait elapses.
	// main() wires this to stop accepting RPCs and exit the process.
	OnShutdownComplete func()
}

// New constructs a Supervisor and the Idle Lock Controller wired to it.
func New(ledger *core.Ledger, cache *core.Cache, state *core.DaemonState, platform attendant.PlatformOps, dispatcher rpc.DispatcherClient, config *cmn.Config, hostName string, audit *idle.AuditSink) *Supervisor {
	s := &Supervisor{
		ledger:     ledger,
		cache:      cache,
		state:      state,
		platform:   platform,
		dispatcher: dispatcher,
		config:     config,
		hostName:   hostName,
	}
	s.idleCtl = idle.NewController(state, audit, hostName, s.KillAll, s.sendStatusReport)
	return s
}

func (s *Supervisor) IdleController() *idle.Controller { return s.idleCtl }

// SetMetrics attaches a Prometheus collector; optional, nil-safe if never
// called (a daemon built without a metrics listener simply skips this).
func (s *Supervisor) SetMetrics(m *stats.Collector) { s.metrics = m }

// WaitForDrain blocks until every attendant goroutine this Supervisor has
// launched has returned. Used by tests and by shutdown; never called from
// the admission path itself (the Supervisor never waits on an attendant).
func (s *Supervisor) WaitForDrain() { s.wg.Wait() }

func (s *Supervisor) attendantDeps() *attendant.Deps {
	return &attendant.Deps{
		Ledger:         s.ledger,
		Cache:          s.cache,
		Platform:       s.platform,
		Dispatcher:     s.dispatcher,
		Config:         s.config,
		HostName:       s.hostName,
		IdleLockActive: s.idleCtl.IsLocked,
		HardwareState:  func() string { return s.state.HardwareState().String() },
	}
}

// LaunchFrame implements spec §4.3's admission gate, in the exact rejection
// order the table specifies. On success it reserves cores (with hyperthread
// pinning when threadable) and hands the request to a newly started Frame
// Attendant; it never waits on that attendant.
func (s *Supervisor) LaunchFrame(ctx context.Context, req *core.FrameRequest) error {
	if err := s.admit(req); err != nil {
		if s.metrics != nil {
			s.metrics.IncFramesRejected(cos.KindOf(err).String())
		}
		return err
	}

	reservation, err := s.ledger.Reserve(req.FrameID, req.CoreCount, req.Threadable)
	if err != nil {
		if s.metrics != nil {
			s.metrics.IncFramesRejected(cos.KindOf(err).String())
		}
		return err
	}

	if s.metrics != nil {
		s.metrics.IncFramesAdmitted()
	}

	s.wg.Add(1)
	go func() {
		defer s.wg.Done()
		attendant.Run(context.Background(), s.attendantDeps(), req, reservation.HyperthreadSet)
	}()
	return nil
}

// admit runs the rejection checks that precede the ledger's own Reserve, in
// the exact order spec §4.3's table specifies.
func (s *Supervisor) admit(req *core.FrameRequest) error {
	if s.state.HardwareState() != core.Up {
		return cos.New(cos.KindCoreReservationFailure, "host is not Up")
	}
	if s.state.WhenIdle() {
		return cos.New(cos.KindCoreReservationFailure, "shutdown/restart/reboot pending")
	}
	if s.idleCtl.IsLocked() && !req.IgnoreIdleLock {
		return cos.New(cos.KindCoreReservationFailure, "idle lock is active")
	}
	if s.cache.Get(req.FrameID) != nil {
		return cos.New(cos.KindDuplicateFrame, "frame already running: "+req.FrameID)
	}
	if req.UID <= 0 {
		return cos.New(cos.KindInvalidUser, "uid must be positive")
	}
	if req.CoreCount <= 0 {
		return cos.New(cos.KindCoreReservationFailure, "coreCount must be positive")
	}
	return nil
}

// ReportStatus builds the current host report (spec §6).
func (s *Supervisor) ReportStatus(ctx context.Context) rpc.HostReport {
	return rpc.HostReport{
		HostName:      s.hostName,
		Ledger:        s.ledger.Snapshot(),
		NumRunning:    s.cache.Len(),
		IdleLocked:    s.idleCtl.IsLocked(),
		HardwareState: s.state.HardwareState().String(),
		Tags:          s.state.Tags,
	}
}

func (s *Supervisor) sendStatusReport() {
	ctx, cancel := context.WithTimeout(context.Background(), 10*time.Second)
	defer cancel()
	if err := s.dispatcher.ReportStatus(ctx, s.ReportStatus(ctx)); err != nil {
		nlog.Errorf("super: status report failed (non-fatal): %v", err)
	}
}

// doNow is the common body of shutdownNow/restartNow/rebootNow: lock every
// core, kill every running frame, report, and — once the cache drains —
// invoke OnShutdownComplete (spec §4.3).
func (s *Supervisor) doNow(reason string) {
	s.state.SetHardwareState(core.Down)
	s.ledger.LockAll()
	s.KillAll(reason)
	s.sendStatusReport()
	go s.awaitDrainAndFinish()
}

// doWhenIdle is the common body of shutdownWhenIdle/restartWhenIdle/rebootWhenIdle:
// lock every core, set the deferred intent, report, and promote to "now" if
// the cache is already empty (spec §4.3).
func (s *Supervisor) doWhenIdle(reason string) {
	s.ledger.LockAll()
	s.state.SetWhenIdle(true)
	s.sendStatusReport()
	if s.cache.Len() == 0 {
		s.doNow(reason)
	}
}

func (s *Supervisor) awaitDrainAndFinish() {
	for s.cache.Len() > 0 {
		time.Sleep(killAllDrainInterval)
	}
	time.Sleep(s.config.ShutdownDrainWait)
	if s.OnShutdownComplete != nil {
		s.OnShutdownComplete()
	}
}

func (s *Supervisor) ShutdownRqdNow()  { s.doNow("shutdown") }
func (s *Supervisor) ShutdownRqdIdle() { s.doWhenIdle("shutdown") }

func (s *Supervisor) RestartRqdNow() {
	s.state.SetRespawn(true)
	s.doNow("restart")
}

func (s *Supervisor) RestartRqdIdle() {
	s.state.SetRespawn(true)
	s.doWhenIdle("restart")
}

func (s *Supervisor) RebootNow() error {
	if loggedIn, _ := s.platform.ProbeUserLoggedIn(); loggedIn {
		return cos.New(cos.KindHostBusy, "a user is logged in")
	}
	s.state.SetReboot(true)
	s.doNow("reboot")
	return nil
}

func (s *Supervisor) RebootIdle() {
	s.state.SetReboot(true)
	s.doWhenIdle("reboot")
}

func (s *Supervisor) Lock(n int32)    { s.ledger.Lock(n) }
func (s *Supervisor) LockAll()        { s.ledger.LockAll() }

// Unlock and UnlockAll additionally clear every deferred-intent flag and
// restore hardwareState to Up, sending a status report only if something
// actually changed (spec §4.3).
func (s *Supervisor) Unlock(n int32) {
	s.ledger.Unlock(n, s.idleCtl.IsLocked())
	if s.state.ClearDeferredIntents() {
		s.sendStatusReport()
	}
}

func (s *Supervisor) UnlockAll() {
	s.ledger.UnlockAll(s.idleCtl.IsLocked())
	if s.state.ClearDeferredIntents() {
		s.sendStatusReport()
	}
}

func (s *Supervisor) GetRunningFrame(frameID string) (core.Snapshot, bool) {
	rf := s.cache.Get(frameID)
	if rf == nil {
		return core.Snapshot{}, false
	}
	return rf.Snapshot(), true
}

// KillFrame implements the Frame Servant's kill() (spec §4.5): idempotent,
// tolerant of a race with the attendant's own removal of the frame.
func (s *Supervisor) KillFrame(frameID, reason string) error {
	rf := s.cache.Get(frameID)
	if rf == nil {
		return cos.New(cos.KindFrameNotFound, "no such frame: "+frameID)
	}
	s.killOne(rf, reason)
	return nil
}

// KillAll iterates the cache and kills every frame, skipping frames with
// ignoreIdleLock when reason carries the idle-lock marker (spec §4.3, §4.4,
// §8's "ignoreIdleLock exemption"). It loops until the cache is empty,
// yielding between passes so attendants can drain.
func (s *Supervisor) KillAll(reason string) {
	nimby := strings.HasPrefix(reason, "NIMBY")
	for {
		snap := s.cache.Snapshot()
		killable := make([]*core.RunningFrame, 0, len(snap))
		for _, rf := range snap {
			if nimby && rf.Request.IgnoreIdleLock {
				continue
			}
			killable = append(killable, rf)
		}
		if len(killable) == 0 {
			return
		}
		for _, rf := range killable {
			s.killOne(rf, reason)
		}
		time.Sleep(killAllDrainInterval)
	}
}

func (s *Supervisor) killOne(rf *core.RunningFrame, reason string) {
	if rf.PID <= 0 {
		return
	}
	if !rf.MarkKilled(reason) {
		return
	}
	if err := s.platform.SignalSession(rf.PID); err != nil {
		nlog.Warningf("super: signal session for pid %d failed: %v", rf.PID, err)
	}
}
