package attendant

import (
	"context"
	"os/exec"
	"path/filepath"
	"sync"
	"syscall"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/opencue/rqd/cmn"
	"github.com/opencue/rqd/core"
	"github.com/opencue/rqd/rpc"
)

// fakePlatform runs the materialized script directly with no nice/taskset
// wrapping and no real stat-file collection, just enough to exercise
// attendant.Run end to end in a test.
type fakePlatform struct{}

func (fakePlatform) BuildSpawnArgv(spec SpawnSpec) (*exec.Cmd, error) {
	return exec.Command("/bin/sh", spec.Command), nil
}

func (fakePlatform) ParseExitStatus(waitErr error) (int32, int32) {
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

func (fakePlatform) ParseStatFile(path string) (ChildStats, error)    { return ChildStats{}, nil }
func (fakePlatform) ProbeRunningStats(pid int) (ChildStats, error)    { return ChildStats{}, nil }
func (fakePlatform) SignalSession(pid int) error                     { return nil }
func (fakePlatform) ProbeTopology() (Topology, error)             { return Topology{}, nil }
func (fakePlatform) ProbeUserLoggedIn() (bool, error)             { return false, nil }
func (fakePlatform) IsDesktop() bool                              { return false }
func (fakePlatform) RewriteLogDir(logDir string) string           { return logDir }

type fakeDispatcher struct {
	mu      sync.Mutex
	reports []rpc.CompletionReport
}

func (f *fakeDispatcher) ReportStartup(ctx context.Context, r rpc.HostBootReport) error { return nil }
func (f *fakeDispatcher) ReportStatus(ctx context.Context, r rpc.HostReport) error      { return nil }
func (f *fakeDispatcher) ReportFrameCompletion(ctx context.Context, r rpc.CompletionReport) error {
	f.mu.Lock()
	defer f.mu.Unlock()
	f.reports = append(f.reports, r)
	return nil
}

func (f *fakeDispatcher) last() rpc.CompletionReport {
	f.mu.Lock()
	defer f.mu.Unlock()
	return f.reports[len(f.reports)-1]
}

func testDeps(t *testing.T) (*Deps, *fakeDispatcher, *core.Ledger, *core.Cache) {
	t.Helper()
	cfg := cmn.Default()
	cfg.TempRoot = t.TempDir()
	cfg.LaunchFailedExitStatus = -1
	cfg.KilledByIdleLockExitCode = -2

	ledger := core.NewLedger(400, nil)
	cache := core.NewCache()
	dispatcher := &fakeDispatcher{}

	deps := &Deps{
		Ledger:         ledger,
		Cache:          cache,
		Platform:       fakePlatform{},
		Dispatcher:     dispatcher,
		Config:         cfg,
		HostName:       "render-test",
		IdleLockActive: func() bool { return false },
		HardwareState:  func() string { return "Up" },
	}
	return deps, dispatcher, ledger, cache
}

func TestRun_SuccessfulFrameReportsExitZero(t *testing.T) {
	deps, dispatcher, ledger, cache := testDeps(t)
	req := &core.FrameRequest{
		FrameID:   "frame-1",
		JobID:     "job-1",
		JobName:   "testjob",
		FrameName: "0001-testlayer",
		User:      "artist",
		UID:       4010,
		GID:       20,
		CoreCount: 100,
		Command:   "exit 0",
		LogDir:    filepath.Join(t.TempDir(), "logs"),
	}
	_, err := ledger.Reserve(req.FrameID, req.CoreCount, req.Threadable)
	require.NoError(t, err)

	Run(context.Background(), deps, req, nil)

	report := dispatcher.last()
	assert.Equal(t, int32(0), report.Frame.ExitStatus)
	assert.Equal(t, "frame-1", report.FrameID)
	assert.Equal(t, 0, cache.Len())
	assert.Equal(t, int32(400), ledger.Snapshot().Idle)
}

func TestRun_NonZeroExit(t *testing.T) {
	deps, dispatcher, ledger, _ := testDeps(t)
	req := &core.FrameRequest{
		FrameID:   "frame-2",
		JobID:     "job-1",
		JobName:   "testjob",
		FrameName: "0002-testlayer",
		User:      "artist",
		UID:       4010,
		GID:       20,
		CoreCount: 200,
		Command:   "exit 17",
		LogDir:    filepath.Join(t.TempDir(), "logs"),
	}
	_, err := ledger.Reserve(req.FrameID, req.CoreCount, req.Threadable)
	require.NoError(t, err)

	Run(context.Background(), deps, req, nil)

	assert.Equal(t, int32(17), dispatcher.last().Frame.ExitStatus)
}

func TestRun_InvalidRequestReportsLaunchFailed(t *testing.T) {
	LaunchFailedBackoff = time.Millisecond // don't actually sleep 10s in a test
	deps, dispatcher, _, _ := testDeps(t)
	req := &core.FrameRequest{
		FrameID:   "frame-3",
		JobID:     "job-1",
		JobName:   "testjob",
		FrameName: "0003-testlayer",
		UID:       0, // invalid: FrameRequest.Valid() requires UID > 0
		CoreCount: 100,
		Command:   "exit 0",
		LogDir:    filepath.Join(t.TempDir(), "logs"),
	}

	Run(context.Background(), deps, req, nil)

	assert.Equal(t, deps.Config.LaunchFailedExitStatus, dispatcher.last().Frame.ExitStatus)
}

func TestRun_IdleLockOverridesExitStatus(t *testing.T) {
	deps, dispatcher, ledger, _ := testDeps(t)
	deps.IdleLockActive = func() bool { return true }
	req := &core.FrameRequest{
		FrameID:        "frame-4",
		JobID:          "job-1",
		JobName:        "testjob",
		FrameName:      "0004-testlayer",
		User:           "artist",
		UID:            4010,
		GID:            20,
		CoreCount:      100,
		Command:        "exit 0",
		LogDir:         filepath.Join(t.TempDir(), "logs"),
		IgnoreIdleLock: false,
	}
	_, err := ledger.Reserve(req.FrameID, req.CoreCount, req.Threadable)
	require.NoError(t, err)

	Run(context.Background(), deps, req, nil)

	assert.Equal(t, deps.Config.KilledByIdleLockExitCode, dispatcher.last().Frame.ExitStatus)
}

func TestRun_IgnoreIdleLockFrameKeepsRealExitStatus(t *testing.T) {
	deps, dispatcher, ledger, _ := testDeps(t)
	deps.IdleLockActive = func() bool { return true }
	req := &core.FrameRequest{
		FrameID:        "frame-5",
		JobID:          "job-1",
		JobName:        "testjob",
		FrameName:      "0005-testlayer",
		User:           "artist",
		UID:            4010,
		GID:            20,
		CoreCount:      100,
		Command:        "exit 0",
		LogDir:         filepath.Join(t.TempDir(), "logs"),
		IgnoreIdleLock: true,
	}
	_, err := ledger.Reserve(req.FrameID, req.CoreCount, req.Threadable)
	require.NoError(t, err)

	Run(context.Background(), deps, req, nil)

	assert.Equal(t, int32(0), dispatcher.last().Frame.ExitStatus)
}
