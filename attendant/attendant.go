package attendant

import (
	"context"
	"fmt"
	"os"
	"path/filepath"
	"time"

	"github.com/teris-io/shortid"

	"github.com/opencue/rqd/cmn"
	"github.com/opencue/rqd/cmn/nlog"
	"github.com/opencue/rqd/core"
	"github.com/opencue/rqd/rpc"
	"github.com/opencue/rqd/tracing"
)

// LaunchFailedBackoff damps pathological re-booking loops at the dispatcher
// when a launch fails catastrophically before any subprocess ever started
// (spec §4.2, final paragraph).
var LaunchFailedBackoff = 10 * time.Second

// Deps bundles everything the attendant needs, all daemon-scoped and
// explicitly constructed at start() — no package-level singletons (spec §9).
type Deps struct {
	Ledger     *core.Ledger
	Cache      *core.Cache
	Platform   PlatformOps
	Dispatcher rpc.DispatcherClient
	Config     *cmn.Config
	HostName   string

	// IdleLockActive reports whether the idle-lock is currently engaged, for
	// step 11's exit-status override (spec §4.2).
	IdleLockActive func() bool

	// HardwareState reports the current daemon state for the completion
	// report's HostReport.
	HardwareState func() string
}

// Run executes one frame's full fixed sequence (spec §4.2, steps 1-12). It is
// meant to be launched with `go attendant.Run(...)` by the supervisor, which
// does not wait on it. pin is the hyperthread set (possibly empty) the
// supervisor already reserved from the Core Ledger before calling Run.
func Run(ctx context.Context, deps *Deps, req *core.FrameRequest, pin []int) {
	ctx, endSpan := tracing.StartFrameSpan(ctx, req.FrameID)
	defer endSpan()

	rf := &core.RunningFrame{
		Request:        req,
		ExitStatus:     core.ExitUnset,
		HyperthreadSet: pin,
		StartTime:      time.Now(),
	}

	var (
		inserted     bool
		launchFailed bool
		tempFiles    []string
	)

	cleanup := func() {
		for _, f := range tempFiles {
			if err := os.Remove(f); err != nil && !os.IsNotExist(err) {
				nlog.Warningf("attendant[%s]: cleanup of %s failed: %v", req.FrameID, f, err)
			}
		}
		if rf.LogSink != nil {
			rf.LogSink.Close()
		}
	}

	defer func() {
		complete(deps, req, rf, launchFailed, inserted)
	}()

	if launchFailed = !req.Valid(); launchFailed {
		nlog.Criticalf("attendant[%s]: invalid request reached the attendant (supervisor bug)", req.FrameID)
		cleanup()
		return
	}

	logDir := deps.Platform.RewriteLogDir(req.LogDir)
	paths := SynthesizePaths(deps.Config.TempRoot, req.JobName, req.FrameName, logDir)

	if err := os.MkdirAll(paths.FrameTempDir, 0o755); err != nil {
		nlog.Criticalf("attendant[%s]: frame temp dir: %v", req.FrameID, err)
	}

	if err := PrepareLogDir(logDir); err != nil {
		nlog.Criticalf("attendant[%s]: %v", req.FrameID, err)
		launchFailed = true
		cleanup()
		return
	}

	logF, err := RotateAndOpen(paths.LogDirFile, deps.Config.MaxLogRotations, deps.Config.CompressAfter)
	if err != nil {
		nlog.Criticalf("attendant[%s]: open log file: %v", req.FrameID, err)
		launchFailed = true
		cleanup()
		return
	}
	rf.LogSink = logF
	if err := os.Chown(paths.LogDirFile, req.UID, req.GID); err != nil {
		nlog.Warningf("attendant[%s]: chown log file: %v (non-fatal)", req.FrameID, err)
	}

	if err := deps.Cache.Insert(req.FrameID, rf); err != nil {
		nlog.Criticalf("attendant[%s]: duplicate frame insert — supervisor admitted twice: %v", req.FrameID, err)
		launchFailed = true
		cleanup()
		return
	}
	inserted = true

	env := BuildEnv(req, deps.HostName, paths.LogDirFile, pin)
	envList := Flatten(env)

	WriteHeader(rf.LogSink, HeaderFields{
		Command:        req.Command,
		UID:            req.UID,
		GID:            req.GID,
		LogDestination: paths.LogDirFile,
		Cwd:            paths.FrameTempDir,
		RenderHost:     deps.HostName,
		JobID:          req.JobID,
		FrameID:        req.FrameID,
		Env:            env,
	}, rf.StartTime)

	scriptPath := filepath.Join(deps.Config.TempRoot, fmt.Sprintf("rqd_%s_%s", req.FrameID, shortid.MustGenerate()))
	if err := os.WriteFile(scriptPath, []byte("#!/bin/sh\n"+req.Command+"\n"), 0o755); err != nil {
		nlog.Criticalf("attendant[%s]: materialize command: %v", req.FrameID, err)
		launchFailed = true
		cleanup()
		return
	}
	tempFiles = append(tempFiles, scriptPath)

	statPath := filepath.Join(deps.Config.TempRoot, fmt.Sprintf("rqd_stat_%s_%s", req.FrameID, shortid.MustGenerate()))
	tempFiles = append(tempFiles, statPath)

	cmd, err := deps.Platform.BuildSpawnArgv(SpawnSpec{
		Command:        scriptPath,
		UID:            req.UID,
		GID:            req.GID,
		Dir:            paths.FrameTempDir,
		Env:            envList,
		Nice:           deps.Platform.IsDesktop(),
		HyperthreadSet: pin,
		StatFilePath:   statPath,
	})
	if err != nil {
		nlog.Criticalf("attendant[%s]: build spawn argv: %v", req.FrameID, err)
		launchFailed = true
		cleanup()
		return
	}

	stdin, err := cmd.StdinPipe()
	if err != nil {
		nlog.Criticalf("attendant[%s]: stdin pipe: %v", req.FrameID, err)
		launchFailed = true
		cleanup()
		return
	}
	cmd.Stdout = rf.LogSink
	cmd.Stderr = rf.LogSink

	if err := cmd.Start(); err != nil {
		nlog.Criticalf("attendant[%s]: spawn failed: %v", req.FrameID, err)
		launchFailed = true
		cleanup()
		return
	}
	stdin.Close()
	rf.PID = cmd.Process.Pid

	waitErr := cmd.Wait()
	rf.EndTime = time.Now()
	rf.RunTime = rf.EndTime.Sub(rf.StartTime)
	rf.ExitStatus, rf.ExitSignal = deps.Platform.ParseExitStatus(waitErr)

	if stats, err := deps.Platform.ParseStatFile(statPath); err != nil {
		nlog.Warningf("attendant[%s]: parse stat file: %v (non-fatal)", req.FrameID, err)
	} else {
		rf.UpdateStats(stats.MaxRSS, stats.UserTime, stats.SysTime)
	}

	maxRSS, utime, stime := rf.Stats()
	WriteFooter(rf.LogSink, FooterFields{
		ExitStatus:  rf.ExitStatus,
		ExitSignal:  rf.ExitSignal,
		KillMessage: rf.KillMessage,
		StartTime:   rf.StartTime,
		EndTime:     rf.EndTime,
		MaxRSS:      maxRSS,
		UTime:       utime,
		STime:       stime,
		RenderHost:  deps.HostName,
	})

	cleanup()
}

// complete implements spec §4.2 steps 11-12, which execute on every exit
// path including admission-stage failures before spawn. Cores reserved by
// the caller before Run was ever invoked are always released here, whether
// or not the frame made it into the cache; the cache entry itself is only
// ours to delete if we are the call that actually inserted it (a losing
// concurrent duplicate must never delete the winner's live entry).
func complete(deps *Deps, req *core.FrameRequest, rf *core.RunningFrame, launchFailed, stillInserted bool) {
	exitStatus := rf.ExitStatus
	switch {
	case launchFailed:
		exitStatus = deps.Config.LaunchFailedExitStatus
	case deps.IdleLockActive() && !req.IgnoreIdleLock:
		exitStatus = deps.Config.KilledByIdleLockExitCode
	}

	report := rpc.CompletionReport{
		FrameID: req.FrameID,
		JobID:   req.JobID,
		Host: rpc.HostReport{
			HostName:      deps.HostName,
			Ledger:        deps.Ledger.Snapshot(),
			NumRunning:    deps.Cache.Len(),
			IdleLocked:    deps.IdleLockActive(),
			HardwareState: deps.HardwareState(),
		},
		Frame: rf.Snapshot(),
	}
	report.Frame.ExitStatus = exitStatus

	ctx, cancel := context.WithTimeout(context.Background(), 10*time.Second)
	defer cancel()
	if err := deps.Dispatcher.ReportFrameCompletion(ctx, report); err != nil {
		nlog.Errorf("attendant[%s]: completion report failed (non-fatal): %v", req.FrameID, err)
	}

	if launchFailed {
		time.Sleep(LaunchFailedBackoff)
	}

	deps.Ledger.Release(req.FrameID, req.CoreCount)
	if stillInserted {
		deps.Cache.Delete(req.FrameID)
	}
}
