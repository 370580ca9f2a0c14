package super

import (
	"github.com/opencue/rqd/cmn/nlog"
	"github.com/opencue/rqd/cmn/ticker"
)

// StartTimers launches the RSS sampler and heartbeat (spec §4.3), both
// self-re-arming cancellable periodic tasks. Callers must Stop() the
// returned tickers at shutdown.
func (s *Supervisor) StartTimers() (rss, heartbeat *ticker.Ticker) {
	rss = ticker.Start(s.config.RSSUpdateInterval, s.sampleRSS)
	heartbeat = ticker.Start(s.config.PingInterval, s.heartbeat)
	return rss, heartbeat
}

// sampleRSS refreshes maxRss/utime/stime for every live RunningFrame from
// the OS, when the cache is non-empty (spec §4.3).
func (s *Supervisor) sampleRSS() {
	snap := s.cache.Snapshot()
	for frameID, rf := range snap {
		if rf.PID <= 0 {
			continue
		}
		childStats, err := s.platform.ProbeRunningStats(rf.PID)
		if err != nil {
			nlog.Warningf("super: rss sample for %s failed: %v", frameID, err)
			continue
		}
		rf.UpdateStats(childStats.MaxRSS, childStats.UserTime, childStats.SysTime)
	}
}

// heartbeat sends a status report every tick, refreshes the Prometheus
// gauges, and — once the cache is empty, whenIdle is set, and no user is
// logged in — promotes to shutdownNow (spec §4.3).
func (s *Supervisor) heartbeat() {
	s.sendStatusReport()
	s.refreshMetrics()

	if !s.state.WhenIdle() {
		return
	}
	if s.cache.Len() != 0 {
		return
	}
	loggedIn, err := s.platform.ProbeUserLoggedIn()
	if err != nil {
		nlog.Warningf("super: probe user logged in failed: %v", err)
		return
	}
	if loggedIn {
		return
	}
	s.ShutdownRqdNow()
}

func (s *Supervisor) refreshMetrics() {
	if s.metrics == nil {
		return
	}
	s.metrics.UpdateLedger(s.ledger.Snapshot())
	s.metrics.SetFramesRunning(s.cache.Len())
	s.metrics.SetIdleLocked(s.idleCtl.IsLocked())
}
