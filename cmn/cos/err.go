// Package cos provides common low-level types and error-classification
// helpers shared by every package in the daemon.
/*
 * Copyright (c) 2018-2026, OpenCue Contributors. All rights reserved.
 */
package cos

import (
	"errors"
	"fmt"

	pkgerrors "github.com/pkg/errors"
)

// Kind enumerates the error categories returned at the RPC boundary (spec §7).
type Kind int

const (
	KindNone Kind = iota
	KindCoreReservationFailure
	KindDuplicateFrame
	KindInvalidUser
	KindHostBusy
	KindFrameNotFound
	KindInternalError
)

func (k Kind) String() string {
	switch k {
	case KindCoreReservationFailure:
		return "CoreReservationFailure"
	case KindDuplicateFrame:
		return "DuplicateFrame"
	case KindInvalidUser:
		return "InvalidUser"
	case KindHostBusy:
		return "HostBusy"
	case KindFrameNotFound:
		return "FrameNotFound"
	case KindInternalError:
		return "InternalError"
	default:
		return "None"
	}
}

// KindError is the boundary error type: a Kind plus a human-readable cause.
type KindError struct {
	Kind Kind
	Msg  string
	err  error
}

func (e *KindError) Error() string {
	if e.err != nil {
		return fmt.Sprintf("%s: %s: %v", e.Kind, e.Msg, e.err)
	}
	return fmt.Sprintf("%s: %s", e.Kind, e.Msg)
}

func (e *KindError) Unwrap() error { return e.err }

// New builds a boundary error of the given kind.
func New(k Kind, msg string) *KindError {
	return &KindError{Kind: k, Msg: msg}
}

// Wrap attaches a Kind to an underlying error, preserving it for errors.Is/As
// and logging (via github.com/pkg/errors, matching the teacher's wrap style).
func Wrap(k Kind, msg string, err error) *KindError {
	return &KindError{Kind: k, Msg: msg, err: pkgerrors.Wrap(err, msg)}
}

// KindOf extracts the Kind of err, or KindNone if err is not a *KindError.
func KindOf(err error) Kind {
	var ke *KindError
	if errors.As(err, &ke) {
		return ke.Kind
	}
	return KindNone
}

// Cause unwraps to the deepest non-KindError cause, mirroring pkg/errors.Cause.
func Cause(err error) error {
	var ke *KindError
	for errors.As(err, &ke) && ke.err != nil {
		err = ke.err
	}
	return pkgerrors.Cause(err)
}
