package attendant

import (
	"bufio"
	"fmt"
	"os"
	"strconv"
	"strings"
	"time"

	"golang.org/x/sys/unix"
)

// readTotalMemBytes probes total installed RAM via sysinfo(2) (posix-linux
// variant of PlatformOps.ProbeTopology, spec §9).
func readTotalMemBytes() (int64, error) {
	var si unix.Sysinfo_t
	if err := unix.Sysinfo(&si); err != nil {
		return 0, err
	}
	return int64(si.Totalram) * int64(si.Unit), nil
}

// clockTicksPerSec is sysconf(_SC_CLK_TCK), which is 100 on every mainstream
// Linux build.
const clockTicksPerSec = 100

// readVmRSSBytes reads /proc/<pid>/status's VmRSS line.
func readVmRSSBytes(pid int) (int64, error) {
	f, err := os.Open(fmt.Sprintf("/proc/%d/status", pid))
	if err != nil {
		return 0, err
	}
	defer f.Close()

	sc := bufio.NewScanner(f)
	for sc.Scan() {
		line := sc.Text()
		if !strings.HasPrefix(line, "VmRSS:") {
			continue
		}
		fields := strings.Fields(line)
		if len(fields) < 2 {
			return 0, fmt.Errorf("attendant: malformed VmRSS line %q", line)
		}
		kb, err := strconv.ParseInt(fields[1], 10, 64)
		if err != nil {
			return 0, err
		}
		return kb * 1024, nil
	}
	return 0, nil
}

// readProcStatTimes reads /proc/<pid>/stat's utime/stime fields (14th, 15th,
// in clock ticks) and converts them to durations.
func readProcStatTimes(pid int) (utime, stime time.Duration, err error) {
	b, err := os.ReadFile(fmt.Sprintf("/proc/%d/stat", pid))
	if err != nil {
		return 0, 0, err
	}
	// Field 2 (comm) may contain spaces and is parenthesized; resume parsing
	// after its closing paren.
	s := string(b)
	paren := strings.LastIndex(s, ")")
	if paren < 0 {
		return 0, 0, fmt.Errorf("attendant: malformed /proc/%d/stat", pid)
	}
	fields := strings.Fields(s[paren+1:])
	if len(fields) < 13 {
		return 0, 0, fmt.Errorf("attendant: malformed /proc/%d/stat", pid)
	}
	// fields[0] is field 3 overall (state); utime is field 14 => fields[11].
	utimeTicks, err1 := strconv.ParseInt(fields[11], 10, 64)
	stimeTicks, err2 := strconv.ParseInt(fields[12], 10, 64)
	if err1 != nil || err2 != nil {
		return 0, 0, fmt.Errorf("attendant: malformed /proc/%d/stat time fields", pid)
	}
	return time.Duration(utimeTicks) * time.Second / clockTicksPerSec,
		time.Duration(stimeTicks) * time.Second / clockTicksPerSec,
		nil
}
