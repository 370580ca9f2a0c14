// Package ticker provides a dedicated, cancellable periodic task — the
// "timer self-rescheduling" primitive called for in spec §9, used in place
// of ad-hoc goroutines that sleep and loop. A panic inside the task body
// never suppresses the next tick.
/*
 * Copyright (c) 2018-2026, OpenCue Contributors. All rights reserved.
 */
package ticker

import (
	"time"

	"github.com/opencue/rqd/cmn/nlog"
)

// Ticker runs fn every interval until Stop is called. Re-arms itself
// regardless of whether fn panics or the previous tick ran long, matching
// spec §4.3 ("both timers re-arm themselves regardless of whether the body
// succeeds").
type Ticker struct {
	cancel chan struct{}
	done   chan struct{}
}

// Start launches the periodic task in its own goroutine.
func Start(interval time.Duration, fn func()) *Ticker {
	t := &Ticker{cancel: make(chan struct{}), done: make(chan struct{})}
	go t.loop(interval, fn)
	return t
}

func (t *Ticker) loop(interval time.Duration, fn func()) {
	defer close(t.done)
	tk := time.NewTicker(interval)
	defer tk.Stop()
	for {
		select {
		case <-t.cancel:
			return
		case <-tk.C:
			runProtected(fn)
		}
	}
}

func runProtected(fn func()) {
	defer func() {
		if r := recover(); r != nil {
			nlog.Criticalf("ticker: periodic task panicked: %v", r)
		}
	}()
	fn()
}

// Stop cancels the task and waits for the current tick (if any) to finish.
func (t *Ticker) Stop() {
	select {
	case <-t.cancel:
		// already stopped
	default:
		close(t.cancel)
	}
	<-t.done
}
