// Package idle implements the user-presence "idle lock": tracking
// user-present vs. user-idle, the mass-kill-on-lock / unlock-on-idle policy,
// and the fire-and-forget audit callback (spec §4.4).
//
// The actual input-device watcher is an external collaborator (spec §1); this
// package exposes Lock/Unlock as the two control entry points a watcher (or
// an operator/dispatcher RPC) drives.
/*
 * Copyright (c) 2018-2026, OpenCue Contributors. All rights reserved.
 */
package idle

import (
	"time"

	"github.com/opencue/rqd/cmn/nlog"
	"github.com/opencue/rqd/core"
)

// KillAllFunc matches super.Supervisor.KillAll's signature without importing
// package super (which itself imports idle to wire the controller in).
type KillAllFunc func(reason string)

// ReportStatusFunc sends an unconditional status report to the dispatcher.
type ReportStatusFunc func()

// NimbyKillReason is the reason string passed to KillAllFunc on lock,
// identifying idle-lock-triggered kills so killAll can exempt
// ignoreIdleLock frames (spec §4.3, §4.4: "NIMBY …").
const NimbyKillReason = "NIMBY: user activity detected"

// Controller is the Idle Lock Controller (spec §4.4).
type Controller struct {
	state        *core.DaemonState
	audit        *AuditSink
	killAll      KillAllFunc
	reportStatus ReportStatusFunc
	hostName     string
}

func NewController(state *core.DaemonState, audit *AuditSink, hostName string, killAll KillAllFunc, reportStatus ReportStatusFunc) *Controller {
	return &Controller{
		state:        state,
		audit:        audit,
		killAll:      killAll,
		reportStatus: reportStatus,
		hostName:     hostName,
	}
}

// Lock fires when the host transitions from user-idle to user-present. It
// fires the audit event (fire-and-forget), kills every running frame that
// does not carry ignoreIdleLock, and sends a status report (spec §4.4).
func (c *Controller) Lock() {
	c.state.SetIdleLocked(true)
	c.auditAsync(true)
	c.killAll(NimbyKillReason)
	c.reportStatus()
}

// Unlock fires when the host has been idle long enough to resume rendering.
// It fires the audit event and sends a status report; it deliberately does
// NOT credit cores back to the ledger — the operator/dispatcher's explicit
// unlock()/unlockAll() calls on the Core Ledger own that (spec §4.4).
func (c *Controller) Unlock(asOf *time.Time) {
	c.state.SetIdleLocked(false)
	c.auditAsync(false)
	c.reportStatus()
}

func (c *Controller) IsLocked() bool { return c.state.IdleLocked() }

func (c *Controller) auditAsync(locked bool) {
	if c.audit == nil {
		return
	}
	go func() {
		if err := c.audit.Insert(Event{
			Day:      time.Now().Format("2006-01-02"),
			HostName: c.hostName,
			Ts:       time.Now(),
			Locked:   locked,
			Active:   locked,
		}); err != nil {
			nlog.Errorf("idle: audit insert failed (non-fatal): %v", err)
		}
	}()
}
