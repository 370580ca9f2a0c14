package idle

import (
	"path/filepath"
	"sync/atomic"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/opencue/rqd/core"
)

func newTestAudit(t *testing.T) *AuditSink {
	t.Helper()
	path := filepath.Join(t.TempDir(), "audit.db")
	a, err := OpenAuditSink(path, 180*24*time.Hour)
	require.NoError(t, err)
	t.Cleanup(func() { a.Close() })
	return a
}

func TestController_LockTriggersKillAllAndReport(t *testing.T) {
	state := core.NewDaemonState()
	audit := newTestAudit(t)

	var killReason string
	var killCalls, reportCalls int32

	c := NewController(state, audit, "render01", func(reason string) {
		killReason = reason
		atomic.AddInt32(&killCalls, 1)
	}, func() {
		atomic.AddInt32(&reportCalls, 1)
	})

	c.Lock()

	assert.True(t, state.IdleLocked())
	assert.Equal(t, NimbyKillReason, killReason)
	assert.Equal(t, int32(1), atomic.LoadInt32(&killCalls))
	assert.Equal(t, int32(1), atomic.LoadInt32(&reportCalls))

	// audit insert is fire-and-forget async; give it a moment and check the
	// row landed.
	assert.Eventually(t, func() bool {
		events, err := audit.ForDay(time.Now().Format("2006-01-02"))
		return err == nil && len(events) >= 1
	}, time.Second, 10*time.Millisecond)
}

func TestController_UnlockClearsLockAndReports(t *testing.T) {
	state := core.NewDaemonState()
	audit := newTestAudit(t)

	var reportCalls int32
	c := NewController(state, audit, "render01", func(string) {}, func() {
		atomic.AddInt32(&reportCalls, 1)
	})

	c.Lock()
	c.Unlock(nil)

	assert.False(t, state.IdleLocked())
	assert.Equal(t, int32(2), atomic.LoadInt32(&reportCalls))
}
