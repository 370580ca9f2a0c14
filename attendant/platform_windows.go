//go:build windows

package attendant

import (
	"bufio"
	"fmt"
	"os"
	"os/exec"
	"runtime"
	"strconv"
	"strings"
	"syscall"
	"time"

	"github.com/opencue/rqd/cmn/nlog"
)

// WindowsOps is the Windows PlatformOps variant (spec §4.2 step 1, §9). Per
// spec §9's open-question resolution, this is the only Windows code path:
// the source's empty `runWin32` branch is not carried forward since its
// intent is undocumented.
type WindowsOps struct {
	LogShare string
	Desktop  bool
}

var _ PlatformOps = (*WindowsOps)(nil)

func (w *WindowsOps) BuildSpawnArgv(spec SpawnSpec) (*exec.Cmd, error) {
	cmd := exec.Command("cmd.exe", "/C", spec.Command)
	cmd.Dir = spec.Dir
	cmd.Env = spec.Env
	cmd.SysProcAttr = &syscall.SysProcAttr{
		CreationFlags: syscall.CREATE_NEW_PROCESS_GROUP,
	}
	return cmd, nil
}

func (w *WindowsOps) ParseExitStatus(waitErr error) (status, signal int32) {
	if waitErr == nil {
		return 0, 0
	}
	if exitErr, ok := waitErr.(*exec.ExitError); ok {
		return int32(exitErr.ExitCode()), 0
	}
	return -1, 0
}

func (w *WindowsOps) ParseStatFile(path string) (ChildStats, error) {
	f, err := os.Open(path)
	if err != nil {
		if os.IsNotExist(err) {
			return ChildStats{}, nil
		}
		return ChildStats{}, err
	}
	defer f.Close()
	sc := bufio.NewScanner(f)
	if !sc.Scan() {
		return ChildStats{}, nil
	}
	fields := strings.Fields(sc.Text())
	if len(fields) != 3 {
		return ChildStats{}, fmt.Errorf("attendant: malformed stat file %s", path)
	}
	real, _ := strconv.ParseFloat(fields[0], 64)
	user, _ := strconv.ParseFloat(fields[1], 64)
	sys, _ := strconv.ParseFloat(fields[2], 64)
	return ChildStats{
		RealTime: time.Duration(real * float64(time.Second)),
		UserTime: time.Duration(user * float64(time.Second)),
		SysTime:  time.Duration(sys * float64(time.Second)),
	}, nil
}

// ProbeRunningStats is not implemented on Windows (would require the
// toolhelp/PDH APIs via a cgo or syscall binding not present in this
// module's dependency set); it tolerates its own absence the same way a
// dead pid is tolerated, leaving the RSS sampler's tick a no-op.
func (w *WindowsOps) ProbeRunningStats(pid int) (ChildStats, error) {
	return ChildStats{}, nil
}

func (w *WindowsOps) SignalSession(pid int) error {
	// there is no POSIX session concept on Windows; taskkill /T reaches the
	// whole process tree rooted at pid, the closest analogue.
	return exec.Command("taskkill", "/PID", strconv.Itoa(pid), "/T", "/F").Run()
}

func (w *WindowsOps) ProbeTopology() (Topology, error) {
	return Topology{
		TotalCentiCores: int32(runtime.NumCPU()) * 100,
		Tags:            []string{"windows"},
	}, nil
}

func (w *WindowsOps) ProbeUserLoggedIn() (bool, error) {
	out, err := exec.Command("query", "user").Output()
	if err != nil {
		nlog.Warningf("attendant: query user failed: %v", err)
		return false, nil
	}
	return len(strings.TrimSpace(string(out))) > 0, nil
}

func (w *WindowsOps) IsDesktop() bool { return w.Desktop }

// RewriteLogDir rewrites logDir to the configured network share, per spec
// §4.2 step 1 ("on the Windows platform, logDir is rewritten to the fixed
// network share path") and §9 (treat the path as configuration).
func (w *WindowsOps) RewriteLogDir(logDir string) string {
	if w.LogShare == "" {
		return logDir
	}
	return w.LogShare
}
