package rpc

import (
	"context"
	"net/http"
	"strings"

	"github.com/golang-jwt/jwt/v4"

	"github.com/opencue/rqd/cmn/cos"
	"github.com/opencue/rqd/cmn/nlog"
	"github.com/opencue/rqd/core"
)

// FrameSupervisor is the inbound Frame RPC contract (spec §6) that rpc.Server
// dispatches onto. Defined here (not imported from package super) so the
// transport never depends on the supervisor's concrete type — only on what
// it needs to call.
type FrameSupervisor interface {
	LaunchFrame(ctx context.Context, req *core.FrameRequest) error
	ReportStatus(ctx context.Context) HostReport
	ShutdownRqdNow()
	ShutdownRqdIdle()
	RestartRqdNow()
	RestartRqdIdle()
	RebootNow() error
	RebootIdle()
	Lock(n int32)
	LockAll()
	Unlock(n int32)
	UnlockAll()
	GetRunningFrame(frameID string) (core.Snapshot, bool)
	KillFrame(frameID, reason string) error
}

// Server is the inbound Frame RPC listener: a plain net/http server whose
// handlers deserialize a fast JSON codec and dispatch onto a FrameSupervisor
// (SPEC_FULL.md §6.1).
type Server struct {
	Supervisor  FrameSupervisor
	SigningKey  []byte
	RequireAuth bool

	srv *http.Server
}

func NewServer(addr string, sup FrameSupervisor, signingKey []byte, requireAuth bool) *Server {
	s := &Server{Supervisor: sup, SigningKey: signingKey, RequireAuth: requireAuth}
	mux := http.NewServeMux()
	mux.HandleFunc("/rqd/launchFrame", s.authed(s.handleLaunchFrame))
	mux.HandleFunc("/rqd/reportStatus", s.authed(s.handleReportStatus))
	mux.HandleFunc("/rqd/shutdownRqdNow", s.authed(s.handleShutdownNow))
	mux.HandleFunc("/rqd/shutdownRqdIdle", s.authed(s.handleShutdownIdle))
	mux.HandleFunc("/rqd/restartRqdNow", s.authed(s.handleRestartNow))
	mux.HandleFunc("/rqd/restartRqdIdle", s.authed(s.handleRestartIdle))
	mux.HandleFunc("/rqd/rebootNow", s.authed(s.handleRebootNow))
	mux.HandleFunc("/rqd/rebootIdle", s.authed(s.handleRebootIdle))
	mux.HandleFunc("/rqd/lock", s.authed(s.handleLock))
	mux.HandleFunc("/rqd/lockAll", s.authed(s.handleLockAll))
	mux.HandleFunc("/rqd/unlock", s.authed(s.handleUnlock))
	mux.HandleFunc("/rqd/unlockAll", s.authed(s.handleUnlockAll))
	mux.HandleFunc("/rqd/getRunningFrame", s.authed(s.handleGetRunningFrame))
	mux.HandleFunc("/rqd/killFrame", s.authed(s.handleKillFrame))

	s.srv = &http.Server{Addr: addr, Handler: mux}
	return s
}

func (s *Server) ListenAndServe() error { return s.srv.ListenAndServe() }

func (s *Server) Shutdown(ctx context.Context) error { return s.srv.Shutdown(ctx) }

// WrapHandler replaces the server's handler with wrap(current handler),
// letting main() layer in optional middleware (e.g. tracing's
// NewTraceableHandler) without rpc importing that package.
func (s *Server) WrapHandler(wrap func(http.Handler) http.Handler) {
	s.srv.Handler = wrap(s.srv.Handler)
}

// authed wraps a handler with bearer-JWT verification (SPEC_FULL.md §6.2).
// Disabled via RequireAuth for local/dev use.
func (s *Server) authed(next http.HandlerFunc) http.HandlerFunc {
	return func(w http.ResponseWriter, r *http.Request) {
		if !s.RequireAuth {
			next(w, r)
			return
		}
		auth := r.Header.Get("Authorization")
		tokenStr := strings.TrimPrefix(auth, "Bearer ")
		if tokenStr == auth { // no "Bearer " prefix found
			http.Error(w, "missing bearer token", http.StatusUnauthorized)
			return
		}
		_, err := jwt.Parse(tokenStr, func(t *jwt.Token) (interface{}, error) {
			return s.SigningKey, nil
		})
		if err != nil {
			nlog.Warningf("rpc: rejected request to %s: %v", r.URL.Path, err)
			http.Error(w, "invalid token", http.StatusUnauthorized)
			return
		}
		next(w, r)
	}
}

func writeErr(w http.ResponseWriter, err error) {
	status := http.StatusInternalServerError
	switch cos.KindOf(err) {
	case cos.KindCoreReservationFailure, cos.KindInvalidUser:
		status = http.StatusConflict
	case cos.KindDuplicateFrame:
		status = http.StatusConflict
	case cos.KindHostBusy:
		status = http.StatusLocked
	case cos.KindFrameNotFound:
		status = http.StatusNotFound
	}
	http.Error(w, err.Error(), status)
}

func (s *Server) handleLaunchFrame(w http.ResponseWriter, r *http.Request) {
	var req core.FrameRequest
	if err := json.NewDecoder(r.Body).Decode(&req); err != nil {
		http.Error(w, "bad request body", http.StatusBadRequest)
		return
	}
	if err := s.Supervisor.LaunchFrame(r.Context(), &req); err != nil {
		writeErr(w, err)
		return
	}
	w.WriteHeader(http.StatusAccepted)
}

func (s *Server) handleReportStatus(w http.ResponseWriter, r *http.Request) {
	report := s.Supervisor.ReportStatus(r.Context())
	json.NewEncoder(w).Encode(report)
}

func (s *Server) handleShutdownNow(w http.ResponseWriter, r *http.Request) {
	s.Supervisor.ShutdownRqdNow()
	w.WriteHeader(http.StatusAccepted)
}

func (s *Server) handleShutdownIdle(w http.ResponseWriter, r *http.Request) {
	s.Supervisor.ShutdownRqdIdle()
	w.WriteHeader(http.StatusAccepted)
}

func (s *Server) handleRestartNow(w http.ResponseWriter, r *http.Request) {
	s.Supervisor.RestartRqdNow()
	w.WriteHeader(http.StatusAccepted)
}

func (s *Server) handleRestartIdle(w http.ResponseWriter, r *http.Request) {
	s.Supervisor.RestartRqdIdle()
	w.WriteHeader(http.StatusAccepted)
}

func (s *Server) handleRebootNow(w http.ResponseWriter, r *http.Request) {
	if err := s.Supervisor.RebootNow(); err != nil {
		writeErr(w, err)
		return
	}
	w.WriteHeader(http.StatusAccepted)
}

func (s *Server) handleRebootIdle(w http.ResponseWriter, r *http.Request) {
	s.Supervisor.RebootIdle()
	w.WriteHeader(http.StatusAccepted)
}

type coreCountBody struct {
	Cores int32 `json:"cores"`
}

func (s *Server) handleLock(w http.ResponseWriter, r *http.Request) {
	var body coreCountBody
	if err := json.NewDecoder(r.Body).Decode(&body); err != nil {
		http.Error(w, "bad request body", http.StatusBadRequest)
		return
	}
	s.Supervisor.Lock(body.Cores)
	w.WriteHeader(http.StatusAccepted)
}

func (s *Server) handleLockAll(w http.ResponseWriter, r *http.Request) {
	s.Supervisor.LockAll()
	w.WriteHeader(http.StatusAccepted)
}

func (s *Server) handleUnlock(w http.ResponseWriter, r *http.Request) {
	var body coreCountBody
	if err := json.NewDecoder(r.Body).Decode(&body); err != nil {
		http.Error(w, "bad request body", http.StatusBadRequest)
		return
	}
	s.Supervisor.Unlock(body.Cores)
	w.WriteHeader(http.StatusAccepted)
}

func (s *Server) handleUnlockAll(w http.ResponseWriter, r *http.Request) {
	s.Supervisor.UnlockAll()
	w.WriteHeader(http.StatusAccepted)
}

func (s *Server) handleGetRunningFrame(w http.ResponseWriter, r *http.Request) {
	frameID := r.URL.Query().Get("frame_id")
	snap, ok := s.Supervisor.GetRunningFrame(frameID)
	if !ok {
		http.Error(w, "frame not found", http.StatusNotFound)
		return
	}
	json.NewEncoder(w).Encode(snap)
}

type killBody struct {
	FrameID string `json:"frame_id"`
	Reason  string `json:"reason"`
}

func (s *Server) handleKillFrame(w http.ResponseWriter, r *http.Request) {
	var body killBody
	if err := json.NewDecoder(r.Body).Decode(&body); err != nil {
		http.Error(w, "bad request body", http.StatusBadRequest)
		return
	}
	if err := s.Supervisor.KillFrame(body.FrameID, body.Reason); err != nil {
		writeErr(w, err)
		return
	}
	w.WriteHeader(http.StatusAccepted)
}
