package attendant

import (
	"fmt"
	"os"
	"sort"
	"strconv"

	"github.com/opencue/rqd/core"
)

// BuildEnv assembles the spawned child's environment (spec §4.2 step 4): a
// fixed base set overlaid by the request's environment. When the request's
// environment already carries a CUE_THREADS hint and a pin-set is attached,
// CUE_THREADS is raised to the pin-set size (never lowered) and CUE_HT is
// set to mark hyperthreading as engaged; a request with no CUE_THREADS hint
// is left untouched.
func BuildEnv(req *core.FrameRequest, hostName, logFile string, hyperthreadSet []int) map[string]string {
	env := map[string]string{
		"PATH":           "/usr/local/bin:/usr/bin:/bin",
		"TERM":           "linux",
		"TZ":             os.Getenv("TZ"),
		"USER":           req.User,
		"LOGNAME":        req.User,
		"MAIL":           fmt.Sprintf("/var/mail/%s", req.User),
		"HOME":           fmt.Sprintf("/home/%s", req.User),
		"jobid":          req.JobID,
		"jobhost":        hostName,
		"frame":          req.FrameName,
		"logfile":        logFile,
		"CUE_GPU_MEMORY": "0",
		"CUE_IFRAME":     "False",
	}
	for k, v := range req.Env {
		env[k] = v
	}

	if raw, ok := env["CUE_THREADS"]; ok && len(hyperthreadSet) > 0 {
		want := len(hyperthreadSet)
		if have, err := strconv.Atoi(raw); err == nil && have >= want {
			want = have
		}
		env["CUE_THREADS"] = strconv.Itoa(want)
		env["CUE_HT"] = "True"
	}
	return env
}

// Flatten turns the env map into sorted "KEY=VALUE" pairs for exec.Cmd. The
// log header (spec §4.2 step 5) is written from the map by WriteHeader, which
// does its own key sort.
func Flatten(env map[string]string) []string {
	keys := make([]string, 0, len(env))
	for k := range env {
		keys = append(keys, k)
	}
	sort.Strings(keys)
	out := make([]string, 0, len(env))
	for _, k := range keys {
		out = append(out, k+"="+env[k])
	}
	return out
}
