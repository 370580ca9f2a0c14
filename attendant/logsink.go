package attendant

import (
	"bufio"
	"errors"
	"fmt"
	"io"
	"os"
	"path/filepath"
	"sort"
	"strconv"
	"strings"
	"time"

	"github.com/karrick/godirwalk"
	"github.com/pierrec/lz4/v3"
	"github.com/teris-io/shortid"

	"github.com/opencue/rqd/cmn/nlog"
)

// ErrLogDirUnwritable is returned by PrepareLogDir when logDir exists but is
// not writable by the target user (spec §4.2 step 2).
var ErrLogDirUnwritable = errors.New("attendant: log directory not writable")

const labelWidth = 21

// Paths holds the synthesized filesystem paths from spec §4.2 step 1.
type Paths struct {
	JobTempDir   string
	FrameTempDir string
	LogFile      string
	LogDirFile   string
}

// SynthesizePaths implements spec §4.2 step 1.
func SynthesizePaths(tempRoot, jobName, frameName, logDir string) Paths {
	jobTempDir := filepath.Join(tempRoot, jobName)
	frameTempDir := filepath.Join(jobTempDir, frameName)
	logFile := fmt.Sprintf("%s.%s.rqlog", jobName, frameName)
	return Paths{
		JobTempDir:   jobTempDir,
		FrameTempDir: frameTempDir,
		LogFile:      logFile,
		LogDirFile:   filepath.Join(logDir, logFile),
	}
}

// PrepareLogDir implements spec §4.2 step 2's directory half: ensure logDir
// exists (tolerating a network-mount creation race) and is writable.
func PrepareLogDir(logDir string) error {
	if err := os.MkdirAll(logDir, 0o777); err != nil {
		if info, statErr := os.Stat(logDir); statErr != nil || !info.IsDir() {
			return fmt.Errorf("attendant: log dir %s unavailable: %w", logDir, err)
		}
		nlog.Warningf("attendant: MkdirAll(%s) failed (%v) but directory is observable; continuing", logDir, err)
	}
	probe := filepath.Join(logDir, ".rqd_write_probe_"+shortid.MustGenerate())
	f, err := os.Create(probe)
	if err != nil {
		return ErrLogDirUnwritable
	}
	f.Close()
	os.Remove(probe)
	return nil
}

// RotateAndOpen implements spec §4.2 step 2's rotation half: if logDirFile
// already exists, it is renamed to one past the highest existing ".N" suffix
// (scanned with godirwalk rather than repeated stats), so higher suffixes are
// newer. Once that count reaches maxRotations, the ".maxRotations" suffix is
// reused and its previous contents are replaced. After the rename,
// compressOldRotation lz4-compresses generation compressAfter+1 if it exists;
// no other generation is compressed. A fresh log file is then opened
// world-readable+writable.
func RotateAndOpen(logDirFile string, maxRotations, compressAfter int) (*os.File, error) {
	if _, err := os.Stat(logDirFile); err == nil {
		next, scanErr := nextRotationSuffix(logDirFile, maxRotations)
		if scanErr != nil {
			return nil, scanErr
		}
		rotated := fmt.Sprintf("%s.%d", logDirFile, next)
		if err := os.Rename(logDirFile, rotated); err != nil {
			return nil, fmt.Errorf("attendant: rotate %s -> %s: %w", logDirFile, rotated, err)
		}
		compressOldRotation(logDirFile, maxRotations, compressAfter)
	}
	return os.OpenFile(logDirFile, os.O_CREATE|os.O_WRONLY|os.O_TRUNC, 0o666)
}

func nextRotationSuffix(logDirFile string, maxRotations int) (int, error) {
	dir := filepath.Dir(logDirFile)
	base := filepath.Base(logDirFile)
	maxSuffix := 0

	err := godirwalk.Walk(dir, &godirwalk.Options{
		Unsorted: true,
		Callback: func(_ string, de *godirwalk.Dirent) error {
			name := de.Name()
			if !strings.HasPrefix(name, base+".") {
				return nil
			}
			suffix := strings.TrimPrefix(name, base+".")
			suffix = strings.TrimSuffix(suffix, ".lz4")
			if n, err := strconv.Atoi(suffix); err == nil && n > maxSuffix {
				maxSuffix = n
			}
			return nil
		},
	})
	if err != nil {
		if os.IsNotExist(err) {
			return 1, nil
		}
		return 0, err
	}

	next := maxSuffix + 1
	if maxRotations > 0 && next > maxRotations {
		next = maxRotations
	}
	return next, nil
}

// compressOldRotation lz4-compresses the rotation generation exactly
// compressAfter+1 once it exists (the first generation past the
// keep-uncompressed window). Generations 1..compressAfter and every
// generation above compressAfter+1 stay uncompressed.
func compressOldRotation(logDirFile string, maxRotations, compressAfter int) {
	if compressAfter <= 0 || compressAfter >= maxRotations {
		return
	}
	target := fmt.Sprintf("%s.%d", logDirFile, compressAfter+1)
	src, err := os.Open(target)
	if err != nil {
		return // nothing to compress yet
	}
	defer src.Close()

	dst, err := os.Create(target + ".lz4")
	if err != nil {
		nlog.Warningf("attendant: could not create %s.lz4: %v", target, err)
		return
	}
	defer dst.Close()

	zw := lz4.NewWriter(dst)
	if _, err := io.Copy(zw, src); err != nil {
		nlog.Warningf("attendant: lz4 compress %s failed: %v", target, err)
		zw.Close()
		os.Remove(target + ".lz4")
		return
	}
	if err := zw.Close(); err != nil {
		nlog.Warningf("attendant: lz4 finalize %s failed: %v", target, err)
		return
	}
	src.Close()
	os.Remove(target)
}

/////////////////////////////
// header / footer format //
/////////////////////////////

// HeaderFields is every field written into the log header (spec §6).
type HeaderFields struct {
	ProxyURL       string
	Command        string
	UID            int
	GID            int
	LogDestination string
	Cwd            string
	RenderHost     string
	JobID          string
	FrameID        string
	Env            map[string]string
}

// FooterFields is every field written into the log footer (spec §6).
type FooterFields struct {
	ExitStatus  int32
	ExitSignal  int32
	KillMessage string
	StartTime   time.Time
	EndTime     time.Time
	MaxRSS      int64
	UTime       time.Duration
	STime       time.Duration
	RenderHost  string
}

func rule() string { return strings.Repeat("=", 59) }

func labelLine(w io.Writer, label, value string) {
	fmt.Fprintf(w, "%-*s%s\n", labelWidth, label+":", value)
}

// WriteHeader implements spec §6's header format exactly: 59-char rule,
// title line with start timestamp, 21-column label lines, one env line per
// variable in key-sorted order, closing rule.
func WriteHeader(w io.Writer, h HeaderFields, startTime time.Time) {
	fmt.Fprintln(w, rule())
	fmt.Fprintf(w, "RenderQ JobSpec    Started at: %s\n", startTime.Format(time.RFC3339))
	labelLine(w, "proxy_url", h.ProxyURL)
	labelLine(w, "command", h.Command)
	labelLine(w, "uid", strconv.Itoa(h.UID))
	labelLine(w, "gid", strconv.Itoa(h.GID))
	labelLine(w, "logDestination", h.LogDestination)
	labelLine(w, "cwd", h.Cwd)
	labelLine(w, "renderHost", h.RenderHost)
	labelLine(w, "jobId", h.JobID)
	labelLine(w, "frameId", h.FrameID)

	keys := make([]string, 0, len(h.Env))
	for k := range h.Env {
		keys = append(keys, k)
	}
	sort.Strings(keys)
	for _, k := range keys {
		fmt.Fprintf(w, "%-*s%s=%s\n", labelWidth, "env:", k, h.Env[k])
	}
	fmt.Fprintln(w, rule())
}

// WriteFooter implements spec §6's footer format exactly.
func WriteFooter(w io.Writer, f FooterFields) {
	fmt.Fprintln(w)
	fmt.Fprintln(w, rule())
	fmt.Fprintln(w, "RenderQ Job Complete")
	labelLine(w, "exitStatus", strconv.Itoa(int(f.ExitStatus)))
	labelLine(w, "exitSignal", strconv.Itoa(int(f.ExitSignal)))
	if f.KillMessage != "" {
		labelLine(w, "killMessage", f.KillMessage)
	}
	labelLine(w, "startTime", f.StartTime.Format(time.RFC3339))
	labelLine(w, "endTime", f.EndTime.Format(time.RFC3339))
	labelLine(w, "maxrss", strconv.FormatInt(f.MaxRSS, 10))
	labelLine(w, "utime", f.UTime.String())
	labelLine(w, "stime", f.STime.String())
	labelLine(w, "renderhost", f.RenderHost)
	fmt.Fprintln(w, rule())
}

// ParseHeader recovers every field WriteHeader wrote (spec §8: "a parser of
// the header/footer format recovers every field written").
func ParseHeader(r io.Reader) (HeaderFields, error) {
	h := HeaderFields{Env: map[string]string{}}
	sc := bufio.NewScanner(r)
	for sc.Scan() {
		line := sc.Text()
		if strings.TrimSpace(line) == rule() || strings.HasPrefix(line, "RenderQ JobSpec") {
			continue
		}
		label, value, ok := splitLabelLine(line)
		if !ok {
			continue
		}
		switch label {
		case "proxy_url":
			h.ProxyURL = value
		case "command":
			h.Command = value
		case "uid":
			h.UID, _ = strconv.Atoi(value)
		case "gid":
			h.GID, _ = strconv.Atoi(value)
		case "logDestination":
			h.LogDestination = value
		case "cwd":
			h.Cwd = value
		case "renderHost":
			h.RenderHost = value
		case "jobId":
			h.JobID = value
		case "frameId":
			h.FrameID = value
		case "env":
			if k, v, ok := strings.Cut(value, "="); ok {
				h.Env[k] = v
			}
		}
	}
	return h, sc.Err()
}

// ParseFooter recovers every field WriteFooter wrote.
func ParseFooter(r io.Reader) (FooterFields, error) {
	var f FooterFields
	sc := bufio.NewScanner(r)
	for sc.Scan() {
		line := sc.Text()
		if line == "" || strings.TrimSpace(line) == rule() || line == "RenderQ Job Complete" {
			continue
		}
		label, value, ok := splitLabelLine(line)
		if !ok {
			continue
		}
		switch label {
		case "exitStatus":
			v, _ := strconv.Atoi(value)
			f.ExitStatus = int32(v)
		case "exitSignal":
			v, _ := strconv.Atoi(value)
			f.ExitSignal = int32(v)
		case "killMessage":
			f.KillMessage = value
		case "startTime":
			f.StartTime, _ = time.Parse(time.RFC3339, value)
		case "endTime":
			f.EndTime, _ = time.Parse(time.RFC3339, value)
		case "maxrss":
			f.MaxRSS, _ = strconv.ParseInt(value, 10, 64)
		case "utime":
			f.UTime, _ = time.ParseDuration(value)
		case "stime":
			f.STime, _ = time.ParseDuration(value)
		case "renderhost":
			f.RenderHost = value
		}
	}
	return f, sc.Err()
}

func splitLabelLine(line string) (label, value string, ok bool) {
	if len(line) < labelWidth {
		return "", "", false
	}
	rawLabel := strings.TrimSpace(line[:labelWidth])
	label = strings.TrimSuffix(rawLabel, ":")
	if label == rawLabel {
		return "", "", false // no ':' => not a label line
	}
	value = line[labelWidth:]
	return label, value, true
}
