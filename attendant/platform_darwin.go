package attendant

import (
	"os"
	"time"

	"golang.org/x/sys/unix"
)

// readTotalMemBytes probes total installed RAM via the hw.memsize sysctl
// (posix-mac variant of PlatformOps.ProbeTopology, spec §9).
func readTotalMemBytes() (int64, error) {
	v, err := unix.SysctlUint64("hw.memsize")
	if err != nil {
		return 0, err
	}
	return int64(v), nil
}

// readVmRSSBytes and readProcStatTimes have no /proc equivalent on darwin
// (would require task_info(2) via cgo); the posix-mac variant tolerates
// their absence the same way it tolerates a process that already exited.
func readVmRSSBytes(pid int) (int64, error) {
	return 0, os.ErrNotExist
}

func readProcStatTimes(pid int) (utime, stime time.Duration, err error) {
	return 0, 0, os.ErrNotExist
}
