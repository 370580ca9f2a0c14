// Package rpc implements the outbound Dispatcher Client and the inbound
// Frame RPC transport (spec §6). The transport itself — net/http plus a fast
// JSON codec — is a concrete, swappable stand-in for the production gRPC
// protocol named but not specified by spec.md (see SPEC_FULL.md §6.1): every
// type the CORE depends on is expressed as an interface here so a different
// transport can be dropped in without touching core/attendant/super/idle.
/*
 * Copyright (c) 2018-2026, OpenCue Contributors. All rights reserved.
 */
package rpc

import (
	"context"

	"github.com/opencue/rqd/core"
)

// HostBootReport is sent once via DispatcherClient.ReportStartup (spec §6,
// SPEC_FULL.md §3 supplement).
type HostBootReport struct {
	HostName        string   `json:"host_name"`
	TotalCentiCores int32    `json:"total_centi_cores"`
	TotalMemBytes   int64    `json:"total_mem_bytes"`
	Tags            []string `json:"tags"`
	NimbyEnabled    bool     `json:"nimby_enabled"`
}

// HostReport is sent via DispatcherClient.ReportStatus on every heartbeat
// tick and is also what Frame RPC's ReportStatus() returns to the dispatcher
// on demand (spec §6).
type HostReport struct {
	HostName      string             `json:"host_name"`
	Ledger        core.LedgerSnapshot `json:"ledger"`
	NumRunning    int                `json:"num_running"`
	IdleLocked    bool               `json:"idle_locked"`
	HardwareState string             `json:"hardware_state"`
	Tags          []string           `json:"tags"`
}

// CompletionReport is sent exactly once per admitted frame via
// DispatcherClient.ReportFrameCompletion (spec §4.2 step 11, §8).
type CompletionReport struct {
	Host    HostReport    `json:"host"`
	Frame   core.Snapshot `json:"frame"`
	FrameID string        `json:"frame_id"`
	JobID   string        `json:"job_id"`
}

// DispatcherClient is the outbound RPC contract (spec §6). Implementations
// must tolerate transient transport failure on ReportStatus and
// ReportFrameCompletion by returning an error for the caller to log — they
// must never panic or block indefinitely (spec §6: "logging and continuing;
// retries are the dispatcher's problem").
type DispatcherClient interface {
	ReportStartup(ctx context.Context, r HostBootReport) error
	ReportStatus(ctx context.Context, r HostReport) error
	ReportFrameCompletion(ctx context.Context, r CompletionReport) error
}
