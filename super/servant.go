package super

import "github.com/opencue/rqd/core"

// Servant is the Frame Servant (spec §4.5): a thin, per-frame handle the
// inbound RPC layer uses to query status or request a kill. It holds no
// state of its own beyond the frame id — every call goes back through the
// Supervisor, so it tolerates the attendant removing the frame from the
// cache at any moment.
type Servant struct {
	frameID string
	super   *Supervisor
}

// Servant returns a handle for frameID, or false if no such frame is
// currently live.
func (s *Supervisor) Servant(frameID string) (Servant, bool) {
	if _, ok := s.GetRunningFrame(frameID); !ok {
		return Servant{}, false
	}
	return Servant{frameID: frameID, super: s}, true
}

// Status returns a snapshot of the frame, or false if it has since
// completed and been removed from the cache.
func (sv Servant) Status() (core.Snapshot, bool) {
	return sv.super.GetRunningFrame(sv.frameID)
}

// Kill requests termination, tolerating the frame having already completed.
func (sv Servant) Kill(reason string) error {
	return sv.super.KillFrame(sv.frameID, reason)
}
