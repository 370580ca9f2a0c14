//go:build !windows

package attendant

import (
	"bufio"
	"fmt"
	"os"
	"os/exec"
	"strconv"
	"strings"
	"syscall"
	"time"

	"github.com/klauspost/cpuid/v2"
	"golang.org/x/sys/unix"

	"github.com/opencue/rqd/cmn/nlog"
)

// PosixOps is the posix-linux / posix-mac PlatformOps variant. It shells out
// to /usr/bin/time for wall/user/system time measurement, /usr/bin/nice for
// desktop-host priority lowering, and /usr/bin/taskset for CPU-affinity
// pinning, matching spec §4.2 step 7 verbatim.
type PosixOps struct {
	Desktop bool
}

var _ PlatformOps = (*PosixOps)(nil)

const (
	timeStatFormat = "%e %U %S" // realtime utime stime, seconds
	niceLevel      = "19"
)

func (p *PosixOps) BuildSpawnArgv(spec SpawnSpec) (*exec.Cmd, error) {
	argv := []string{}

	if p.Desktop {
		if path, err := exec.LookPath("nice"); err == nil {
			argv = append(argv, path, "-n", niceLevel)
		}
	}
	if len(spec.HyperthreadSet) > 0 {
		if path, err := exec.LookPath("taskset"); err == nil {
			cpus := make([]string, len(spec.HyperthreadSet))
			for i, c := range spec.HyperthreadSet {
				cpus[i] = strconv.Itoa(c)
			}
			argv = append(argv, path, "-c", strings.Join(cpus, ","))
		}
	}
	if path, err := exec.LookPath("time"); err == nil {
		argv = append(argv, path, "-f", timeStatFormat, "-o", spec.StatFilePath)
	} else {
		nlog.Warningf("attendant: no time(1) found, realtime/utime/stime will be zero for stat file %s", spec.StatFilePath)
	}
	argv = append(argv, spec.Command)

	cmd := exec.Command(argv[0], argv[1:]...)
	cmd.Dir = spec.Dir
	cmd.Env = spec.Env
	cmd.SysProcAttr = &syscall.SysProcAttr{
		Setsid: true, // new session: child is session leader (spec §4.2 step 7)
		Credential: &syscall.Credential{
			Uid: uint32(spec.UID),
			Gid: uint32(spec.GID),
		},
	}
	return cmd, nil
}

func (p *PosixOps) ParseExitStatus(waitErr error) (status, signal int32) {
	if waitErr == nil {
		return 0, 0
	}
	if exitErr, ok := waitErr.(*exec.ExitError); ok {
		if ws, ok := exitErr.Sys().(syscall.WaitStatus); ok {
			if ws.Signaled() {
				return 1, int32(ws.Signal())
			}
			return int32(ws.ExitStatus()), 0
		}
		return int32(exitErr.ExitCode()), 0
	}
	return -1, 0
}

func (p *PosixOps) ParseStatFile(path string) (ChildStats, error) {
	f, err := os.Open(path)
	if err != nil {
		if os.IsNotExist(err) {
			return ChildStats{}, nil // killed before the wrapper wrote — non-fatal
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
		return ChildStats{}, fmt.Errorf("attendant: malformed stat file %s: %q", path, sc.Text())
	}
	real, err1 := strconv.ParseFloat(fields[0], 64)
	user, err2 := strconv.ParseFloat(fields[1], 64)
	sys, err3 := strconv.ParseFloat(fields[2], 64)
	if err1 != nil || err2 != nil || err3 != nil {
		return ChildStats{}, fmt.Errorf("attendant: malformed stat file %s: %q", path, sc.Text())
	}
	return ChildStats{
		RealTime: time.Duration(real * float64(time.Second)),
		UserTime: time.Duration(user * float64(time.Second)),
		SysTime:  time.Duration(sys * float64(time.Second)),
	}, nil
}

// ProbeRunningStats reads /proc/<pid>/status and /proc/<pid>/stat directly,
// for the supervisor's periodic RSS sampler (spec §4.3). Linux-only; absence
// of either file (process already exited, or a non-Linux posix host) is
// tolerated and yields a zero ChildStats.
func (p *PosixOps) ProbeRunningStats(pid int) (ChildStats, error) {
	if pid <= 0 {
		return ChildStats{}, nil
	}
	rss, err := readVmRSSBytes(pid)
	if err != nil {
		if os.IsNotExist(err) {
			return ChildStats{}, nil
		}
		return ChildStats{}, err
	}
	utime, stime, err := readProcStatTimes(pid)
	if err != nil {
		if os.IsNotExist(err) {
			return ChildStats{}, nil
		}
		return ChildStats{}, err
	}
	return ChildStats{MaxRSS: rss, UserTime: utime, SysTime: stime}, nil
}

// SignalSession sends SIGTERM to the whole process group led by pid, reaching
// every descendant spawned under the session (spec §4.5, §7).
func (p *PosixOps) SignalSession(pid int) error {
	if pid <= 0 {
		return nil
	}
	return unix.Kill(-pid, unix.SIGTERM)
}

func (p *PosixOps) ProbeTopology() (Topology, error) {
	logical := cpuid.CPU.LogicalCores
	physical := cpuid.CPU.PhysicalCores
	if physical <= 0 {
		physical = logical
	}
	pool := make([]int, 0, logical)
	if logical > physical {
		// the upper half of the logical CPU range is treated as the
		// hyperthread-sibling pool available for pinning
		for i := physical; i < logical; i++ {
			pool = append(pool, i)
		}
	}

	memBytes, err := readTotalMemBytes()
	if err != nil {
		nlog.Warningf("attendant: failed to probe total memory: %v", err)
	}

	return Topology{
		TotalCentiCores: int32(physical) * 100,
		HyperthreadPool: pool,
		TotalMemBytes:   memBytes,
		Tags:            posixTags(),
	}, nil
}

func (p *PosixOps) ProbeUserLoggedIn() (bool, error) {
	utmp, err := os.Open("/var/run/utmp")
	if err != nil {
		return false, nil // no utmp (e.g. container host) => nobody logged in
	}
	defer utmp.Close()
	stat, err := utmp.Stat()
	if err != nil {
		return false, err
	}
	return stat.Size() > 0, nil
}

func (p *PosixOps) IsDesktop() bool { return p.Desktop }

// RewriteLogDir is a no-op on posix: the Windows network-share rewrite (spec
// §4.2 step 1, §9) only applies to the Windows variant.
func (p *PosixOps) RewriteLogDir(logDir string) string { return logDir }

func posixTags() []string {
	tags := []string{"unix"}
	if unix.Getpagesize() == 4096 {
		tags = append(tags, "64bit")
	}
	return tags
}
