package super

import (
	"context"
	"os"
	"os/exec"
	"path/filepath"
	"sync"
	"syscall"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/opencue/rqd/attendant"
	"github.com/opencue/rqd/cmn"
	"github.com/opencue/rqd/cmn/cos"
	"github.com/opencue/rqd/core"
	"github.com/opencue/rqd/rpc"
)

type fakePlatform struct {
	mu       sync.Mutex
	loggedIn bool
}

func (p *fakePlatform) BuildSpawnArgv(spec attendant.SpawnSpec) (*exec.Cmd, error) {
	return exec.Command("/bin/sh", spec.Command), nil
}

func (p *fakePlatform) ParseExitStatus(waitErr error) (int32, int32) {
	if waitErr == nil {
		return 0, 0
	}
	if exitErr, ok := waitErr.(*exec.ExitError); ok {
		if ws, ok := exitErr.Sys().(syscall.WaitStatus); ok {
			if ws.Signaled() {
				return -1, int32(ws.Signal())
			}
			return int32(ws.ExitStatus()), 0
		}
	}
	return -1, 0
}

func (p *fakePlatform) ParseStatFile(path string) (attendant.ChildStats, error) {
	return attendant.ChildStats{}, nil
}

func (p *fakePlatform) ProbeRunningStats(pid int) (attendant.ChildStats, error) {
	return attendant.ChildStats{}, nil
}

func (p *fakePlatform) SignalSession(pid int) error {
	proc, err := os.FindProcess(pid)
	if err != nil {
		return err
	}
	return proc.Kill()
}

func (p *fakePlatform) ProbeTopology() (attendant.Topology, error) { return attendant.Topology{}, nil }

func (p *fakePlatform) ProbeUserLoggedIn() (bool, error) {
	p.mu.Lock()
	defer p.mu.Unlock()
	return p.loggedIn, nil
}

func (p *fakePlatform) setLoggedIn(v bool) {
	p.mu.Lock()
	defer p.mu.Unlock()
	p.loggedIn = v
}

func (p *fakePlatform) IsDesktop() bool                    { return false }
func (p *fakePlatform) RewriteLogDir(logDir string) string { return logDir }

type fakeDispatcher struct {
	mu           sync.Mutex
	reports      []rpc.CompletionReport
	statusCalls  int
}

func (f *fakeDispatcher) ReportStartup(ctx context.Context, r rpc.HostBootReport) error { return nil }

func (f *fakeDispatcher) ReportStatus(ctx context.Context, r rpc.HostReport) error {
	f.mu.Lock()
	defer f.mu.Unlock()
	f.statusCalls++
	return nil
}

func (f *fakeDispatcher) ReportFrameCompletion(ctx context.Context, r rpc.CompletionReport) error {
	f.mu.Lock()
	defer f.mu.Unlock()
	f.reports = append(f.reports, r)
	return nil
}

func (f *fakeDispatcher) numStatusReports() int {
	f.mu.Lock()
	defer f.mu.Unlock()
	return f.statusCalls
}

func (f *fakeDispatcher) all() []rpc.CompletionReport {
	f.mu.Lock()
	defer f.mu.Unlock()
	out := make([]rpc.CompletionReport, len(f.reports))
	copy(out, f.reports)
	return out
}

func newTestSupervisor(t *testing.T, totalCentiCores int32) (*Supervisor, *fakeDispatcher, *fakePlatform, *core.Ledger, *core.Cache) {
	t.Helper()
	attendant.LaunchFailedBackoff = time.Millisecond

	cfg := cmn.Default()
	cfg.TempRoot = t.TempDir()

	ledger := core.NewLedger(totalCentiCores, nil)
	cache := core.NewCache()
	state := core.NewDaemonState()
	platform := &fakePlatform{}
	dispatcher := &fakeDispatcher{}

	s := New(ledger, cache, state, platform, dispatcher, cfg, "render-test", nil)
	return s, dispatcher, platform, ledger, cache
}

func baseRequest(frameID string, coreCount int32, command string) *core.FrameRequest {
	return &core.FrameRequest{
		FrameID:   frameID,
		JobID:     "job-1",
		JobName:   "testjob",
		FrameName: frameID,
		User:      "artist",
		UID:       1001,
		GID:       20,
		CoreCount: coreCount,
		Command:   command,
		LogDir:    filepath.Join(os.TempDir(), "rqd-test-logs", frameID),
	}
}

// Scenario 1 (spec §8): fresh host, single admitted frame, clean exit.
func TestScenario1_FreshHostSingleFrameSucceeds(t *testing.T) {
	s, dispatcher, _, ledger, cache := newTestSupervisor(t, 400)

	err := s.LaunchFrame(context.Background(), baseRequest("F1", 100, "exit 0"))
	require.NoError(t, err)

	assert.Equal(t, core.LedgerSnapshot{Total: 400, Locked: 0, Idle: 300, Booked: 100}, ledger.Snapshot())

	s.WaitForDrain()

	reports := dispatcher.all()
	require.Len(t, reports, 1)
	assert.Equal(t, int32(0), reports[0].Frame.ExitStatus)
	assert.Equal(t, core.LedgerSnapshot{Total: 400, Locked: 0, Idle: 400, Booked: 0}, ledger.Snapshot())
	assert.Equal(t, 0, cache.Len())
}

// Scenario 2 (spec §8): two concurrent launches of the same frame id.
// Exactly one reaches spawn and exits cleanly; the other is rejected inside
// the attendant (cache insert race) and reports launch-failed. Final ledger
// state matches the single-launch case.
func TestScenario2_ConcurrentDuplicateFrameID(t *testing.T) {
	s, dispatcher, _, ledger, _ := newTestSupervisor(t, 400)

	var wg sync.WaitGroup
	errs := make([]error, 2)
	for i := 0; i < 2; i++ {
		wg.Add(1)
		go func(i int) {
			defer wg.Done()
			errs[i] = s.LaunchFrame(context.Background(), baseRequest("F1", 100, "exit 0"))
		}(i)
	}
	wg.Wait()
	s.WaitForDrain()

	for _, err := range errs {
		if err != nil {
			assert.Equal(t, cos.KindDuplicateFrame, cos.KindOf(err))
		}
	}

	reports := dispatcher.all()
	require.Len(t, reports, 2)
	successCount, failedCount := 0, 0
	for _, r := range reports {
		switch r.Frame.ExitStatus {
		case 0:
			successCount++
		case s.config.LaunchFailedExitStatus:
			failedCount++
		}
	}
	assert.Equal(t, 1, successCount)
	assert.Equal(t, 1, failedCount)
	assert.Equal(t, core.LedgerSnapshot{Total: 400, Locked: 0, Idle: 400, Booked: 0}, ledger.Snapshot())
}

// Scenario 3 (spec §8): insufficient idle cores rejects admission outright,
// with no cache entry and no report sent.
func TestScenario3_InsufficientCoresRejectsAdmission(t *testing.T) {
	s, dispatcher, _, ledger, cache := newTestSupervisor(t, 400)
	ledger.Lock(350) // idle now 50 via a lock: (400,350,50,0), same idle as the scenario's (400,0,50,0)
	before := ledger.Snapshot()

	err := s.LaunchFrame(context.Background(), baseRequest("F3", 100, "exit 0"))
	require.Error(t, err)
	assert.Equal(t, cos.KindCoreReservationFailure, cos.KindOf(err))

	assert.Equal(t, before, ledger.Snapshot())
	assert.Equal(t, 0, cache.Len())
	assert.Empty(t, dispatcher.all())
}

// Scenario 4 (spec §8): a running frame without ignoreIdleLock is killed when
// the idle lock engages; its completion report carries the idle-lock
// sentinel and the ledger returns to its pre-launch state.
func TestScenario4_IdleLockKillsRunningFrameAndOverridesExitStatus(t *testing.T) {
	s, dispatcher, _, ledger, _ := newTestSupervisor(t, 400)

	err := s.LaunchFrame(context.Background(), baseRequest("F2", 200, "sleep 5; exit 0"))
	require.NoError(t, err)

	require.Eventually(t, func() bool { return s.cache.Len() == 1 }, time.Second, 10*time.Millisecond)

	s.IdleController().Lock()

	s.WaitForDrain()

	reports := dispatcher.all()
	require.Len(t, reports, 1)
	assert.Equal(t, s.config.KilledByIdleLockExitCode, reports[0].Frame.ExitStatus)
	assert.Equal(t, core.LedgerSnapshot{Total: 400, Locked: 0, Idle: 400, Booked: 0}, ledger.Snapshot())
}

// ignoreIdleLock exemption (spec §8): a frame with ignoreIdleLock=true is
// never among killAll("NIMBY ...")'s victims.
func TestIgnoreIdleLockExemptFromNimbyKill(t *testing.T) {
	s, _, _, _, cache := newTestSupervisor(t, 400)

	req := baseRequest("F-exempt", 100, "sleep 5; exit 0")
	req.IgnoreIdleLock = true
	require.NoError(t, s.LaunchFrame(context.Background(), req))

	require.Eventually(t, func() bool { return cache.Len() == 1 }, time.Second, 10*time.Millisecond)

	s.KillAll("NIMBY: user activity detected")

	rf := cache.Get("F-exempt")
	require.NotNil(t, rf)
	assert.False(t, rf.WasKilled())

	s.KillAll("shutdown")
	s.WaitForDrain()
}

// Scenario 5 (spec §8): shutdownWhenIdle while a frame is running locks
// every core and keeps the daemon up; once that frame completes, the
// heartbeat promotes to shutdownNow.
func TestScenario5_ShutdownWhenIdleThenPromotesOnDrain(t *testing.T) {
	s, _, _, ledger, _ := newTestSupervisor(t, 400)
	require.NoError(t, s.LaunchFrame(context.Background(), baseRequest("F5", 100, "exit 0")))
	require.Eventually(t, func() bool { return s.cache.Len() == 1 }, time.Second, 10*time.Millisecond)

	var shutdownCalled int32
	s.OnShutdownComplete = func() { shutdownCalled = 1 }

	s.ShutdownRqdIdle()
	assert.True(t, s.state.WhenIdle())
	assert.Equal(t, int32(400), ledger.Snapshot().Locked)

	s.WaitForDrain()
	require.Eventually(t, func() bool { return s.cache.Len() == 0 }, time.Second, 10*time.Millisecond)

	s.heartbeat()

	require.Eventually(t, func() bool { return shutdownCalled == 1 }, time.Second, 10*time.Millisecond)
	assert.Equal(t, core.Down, s.state.HardwareState())
}

// Scenario 6 (spec §8): rebootNow fails HostBusy while a user is logged in,
// with no state change.
func TestScenario6_RebootNowFailsHostBusyWhenUserLoggedIn(t *testing.T) {
	s, _, platform, _, _ := newTestSupervisor(t, 400)
	platform.setLoggedIn(true)

	err := s.RebootNow()
	require.Error(t, err)
	assert.Equal(t, cos.KindHostBusy, cos.KindOf(err))
	assert.Equal(t, core.Up, s.state.HardwareState())
	assert.False(t, s.state.Reboot())
}

func TestUnlockAllClearsDeferredIntentsAndReports(t *testing.T) {
	s, dispatcher, _, _, _ := newTestSupervisor(t, 400)
	s.state.SetWhenIdle(true)
	s.state.SetHardwareState(core.Down)

	s.UnlockAll()

	assert.False(t, s.state.WhenIdle())
	assert.Equal(t, core.Up, s.state.HardwareState())
	assert.Equal(t, 1, dispatcher.numStatusReports())
}
