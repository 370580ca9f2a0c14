package core

import (
	"sync"

	"github.com/opencue/rqd/cmn/cos"
	"github.com/opencue/rqd/cmn/nlog"
)

// LedgerSnapshot is a point-in-time, lock-free copy of the ledger's counters.
type LedgerSnapshot struct {
	Total  int32
	Locked int32
	Idle   int32
	Booked int32
}

func (s LedgerSnapshot) Running() int32 {
	r := s.Total - s.Locked - s.Idle - s.Booked
	if r < 0 {
		return 0
	}
	return r
}

// ReservationResult is returned by Ledger.Reserve on success.
type ReservationResult struct {
	HyperthreadSet []int
}

///////////////
// Ledger //
///////////////

// Ledger is the thread-safe centi-core accountant (spec §3, §4.1). All
// mutators and Snapshot are serialized by a single mutex held only for
// short, non-blocking bookkeeping — never across a filesystem, RPC, or
// subprocess call (spec §5).
type Ledger struct {
	mu sync.Mutex

	total  int32
	locked int32
	idle   int32
	booked int32

	freeHT     map[int]struct{} // free hyperthread CPU indices
	reservedHT map[string][]int // frame-id -> reserved hyperthread set
}

// NewLedger creates a ledger from probed topology: totalCentiCores centi-cores
// and an optional pool of hyperthread sibling indices available for pinning.
func NewLedger(totalCentiCores int32, hyperthreadPool []int) *Ledger {
	free := make(map[int]struct{}, len(hyperthreadPool))
	for _, cpu := range hyperthreadPool {
		free[cpu] = struct{}{}
	}
	return &Ledger{
		total:      totalCentiCores,
		idle:       totalCentiCores,
		freeHT:     free,
		reservedHT: make(map[string][]int),
	}
}

// Snapshot returns a copy of the four counters under the mutex.
func (l *Ledger) Snapshot() LedgerSnapshot {
	l.mu.Lock()
	defer l.mu.Unlock()
	return LedgerSnapshot{Total: l.total, Locked: l.locked, Idle: l.idle, Booked: l.booked}
}

// Reserve books n centi-cores for frameID. Fails with KindCoreReservationFailure
// if idle < n. When threadable, attempts to pin n/100 hyperthread indices from
// the free pool; pinning failure (not enough free HT CPUs) still succeeds the
// reservation with an empty pin-set (spec §4.1).
func (l *Ledger) Reserve(frameID string, n int32, threadable bool) (ReservationResult, error) {
	l.mu.Lock()
	defer l.mu.Unlock()

	if n <= 0 {
		return ReservationResult{}, cos.New(cos.KindCoreReservationFailure, "coreCount must be positive")
	}
	if l.idle < n {
		return ReservationResult{}, cos.New(cos.KindCoreReservationFailure, "insufficient idle cores")
	}

	l.idle -= n
	l.booked += n

	var pinned []int
	if threadable {
		want := int(n / 100)
		pinned = make([]int, 0, want)
		for cpu := range l.freeHT {
			if len(pinned) >= want {
				break
			}
			pinned = append(pinned, cpu)
		}
		if len(pinned) < want {
			pinned = pinned[:0]
		}
		for _, cpu := range pinned {
			delete(l.freeHT, cpu)
		}
		if len(pinned) > 0 {
			l.reservedHT[frameID] = pinned
		}
	}

	l.assertInvariants()
	return ReservationResult{HyperthreadSet: pinned}, nil
}

// Release returns n centi-cores booked for frameID. The asymmetry described in
// spec §4.1 is deliberate: slack = total - locked - idle - booked is credited
// back to idle up to n, absorbing cores that a concurrent lock() stole from
// idle while the frame was running, rather than over-crediting idle.
func (l *Ledger) Release(frameID string, n int32) {
	l.mu.Lock()
	defer l.mu.Unlock()

	l.booked -= n
	if l.booked < 0 {
		l.booked = 0
	}

	slack := l.total - l.locked - l.idle - l.booked
	if slack > 0 {
		credit := slack
		if n < credit {
			credit = n
		}
		l.idle += credit
	}

	if pinned, ok := l.reservedHT[frameID]; ok {
		for _, cpu := range pinned {
			l.freeHT[cpu] = struct{}{}
		}
		delete(l.reservedHT, frameID)
	}

	l.assertInvariants()
}

// Lock moves up to min(total-locked, n) centi-cores into locked, stealing the
// same amount from idle (never below zero).
func (l *Ledger) Lock(n int32) {
	l.mu.Lock()
	defer l.mu.Unlock()
	l.lockLocked(n)
}

func (l *Ledger) LockAll() {
	l.mu.Lock()
	defer l.mu.Unlock()
	l.lockLocked(l.total)
}

func (l *Ledger) lockLocked(n int32) {
	room := l.total - l.locked
	if room < 0 {
		room = 0
	}
	amount := n
	if amount > room {
		amount = room
	}
	l.locked += amount

	idleTake := amount
	if idleTake > l.idle {
		idleTake = l.idle
	}
	l.idle -= idleTake

	l.assertInvariants()
}

// Unlock is the inverse of Lock: it moves up to n centi-cores out of locked,
// and — when idleLockActive is false — credits the unlocked amount back to
// idle (spec §4.1: the Core Ledger's unlock does not itself know about the
// idle-lock state, so the caller, the idle controller, supplies it).
func (l *Ledger) Unlock(n int32, idleLockActive bool) {
	l.mu.Lock()
	defer l.mu.Unlock()
	l.unlockLocked(n, idleLockActive)
}

func (l *Ledger) UnlockAll(idleLockActive bool) {
	l.mu.Lock()
	defer l.mu.Unlock()
	l.unlockLocked(l.locked, idleLockActive)
}

func (l *Ledger) unlockLocked(n int32, idleLockActive bool) {
	amount := n
	if amount > l.locked {
		amount = l.locked
	}
	l.locked -= amount
	if !idleLockActive {
		l.idle += amount
	}
	l.assertInvariants()
}

// assertInvariants clamps and critical-logs a violation rather than crashing
// the daemon (spec §7, §9: the ledger's own invariant check is a logged
// assertion, never a raised exception).
func (l *Ledger) assertInvariants() {
	if l.idle < 0 {
		nlog.Criticalf("ledger: idle went negative (%d); clamping to 0", l.idle)
		l.idle = 0
	}
	if l.booked < 0 {
		nlog.Criticalf("ledger: booked went negative (%d); clamping to 0", l.booked)
		l.booked = 0
	}
	if l.locked < 0 {
		nlog.Criticalf("ledger: locked went negative (%d); clamping to 0", l.locked)
		l.locked = 0
	}
	if l.locked+l.idle+l.booked > l.total {
		nlog.Criticalf("ledger: locked+idle+booked (%d) exceeds total (%d)", l.locked+l.idle+l.booked, l.total)
	}
}
