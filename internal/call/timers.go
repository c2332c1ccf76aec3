package call

import (
	"sync"
	"time"
)

// Timer names. Establish runs on the caller side, offer on the callee
// side, ticker only while connected.
const (
	timerEstablish = "establish"
	timerOffer     = "offer"
	timerTicker    = "ticker"
)

// timerSet is a small set of named, cancelable timers. Every arm and fire
// is tagged with a generation number; reset bumps the generation, so a
// timer goroutine that already left time.AfterFunc can never deliver a
// stale fire into the coordinator. Canceling an unarmed, fired or already
// canceled timer is a no-op.
type timerSet struct {
	mu     sync.Mutex
	gen    uint64
	timers map[string]*time.Timer
	stops  map[string]chan struct{}
}

func newTimerSet() *timerSet {
	return &timerSet{
		timers: make(map[string]*time.Timer),
		stops:  make(map[string]chan struct{}),
	}
}

// arm schedules fn to run once after d. Re-arming a pending timer replaces
// it. fn receives the generation it was armed under; callers pass it back
// to stillArmed to discard stale fires.
func (t *timerSet) arm(name string, d time.Duration, fn func(gen uint64)) {
	t.mu.Lock()
	defer t.mu.Unlock()

	t.stopLocked(name)
	gen := t.gen
	t.timers[name] = time.AfterFunc(d, func() {
		fn(gen)
	})
}

// armRepeat schedules fn every interval until the timer is disarmed or the
// set is reset.
func (t *timerSet) armRepeat(name string, interval time.Duration, fn func(gen uint64)) {
	t.mu.Lock()
	defer t.mu.Unlock()

	t.stopLocked(name)
	gen := t.gen
	stop := make(chan struct{})
	t.stops[name] = stop

	go func() {
		ticker := time.NewTicker(interval)
		defer ticker.Stop()
		for {
			select {
			case <-stop:
				return
			case <-ticker.C:
				fn(gen)
			}
		}
	}()
}

// disarm cancels one named timer. Idempotent.
func (t *timerSet) disarm(name string) {
	t.mu.Lock()
	defer t.mu.Unlock()
	t.stopLocked(name)
}

// reset cancels every timer and invalidates all in-flight fires.
func (t *timerSet) reset() {
	t.mu.Lock()
	defer t.mu.Unlock()
	t.gen++
	for name := range t.timers {
		t.stopLocked(name)
	}
	for name := range t.stops {
		t.stopLocked(name)
	}
}

// stillArmed reports whether a fire tagged with gen is current. A fire
// from before the last reset is stale and must be dropped.
func (t *timerSet) stillArmed(gen uint64) bool {
	t.mu.Lock()
	defer t.mu.Unlock()
	return gen == t.gen
}

// stopLocked must be called with t.mu held.
func (t *timerSet) stopLocked(name string) {
	if tm, ok := t.timers[name]; ok {
		tm.Stop()
		delete(t.timers, name)
	}
	if stop, ok := t.stops[name]; ok {
		close(stop)
		delete(t.stops, name)
	}
}
