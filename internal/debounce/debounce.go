// Package debounce coalesces bursts of fragments into a single deferred
// status notification per quiet period.
package debounce

import (
	"sync"
	"time"

	"listingbot/internal/clock"
)

// DefaultQuietPeriod is long enough to cover a typical album upload.
const DefaultQuietPeriod = 1500 * time.Millisecond

type key struct {
	userID  int64
	burstID string
}

type pending struct {
	timer clock.Timer
	gen   uint64
	fire  func()
}

// Debouncer defers a side effect until fragments for a (user, burst) pair
// have been quiet for the configured period.
type Debouncer struct {
	clock clock.Clock
	quiet time.Duration

	mu      sync.Mutex
	gen     uint64
	pending map[key]*pending
}

// New builds a Debouncer; quiet <= 0 selects DefaultQuietPeriod.
func New(c clock.Clock, quiet time.Duration) *Debouncer {
	if c == nil {
		c = clock.Real()
	}
	if quiet <= 0 {
		quiet = DefaultQuietPeriod
	}
	return &Debouncer{
		clock:   c,
		quiet:   quiet,
		pending: make(map[key]*pending),
	}
}

// QuietPeriod reports the configured quiet period.
func (d *Debouncer) QuietPeriod() time.Duration {
	return d.quiet
}

// Touch records activity for the user's burst and (re)starts its timer.
// fire runs once, after the quiet period elapses with no further Touch for
// the same key.
//
// A fragment without a burst id joins whatever burst the user has pending,
// and a burst fragment absorbs a pending burst-less timer, so one lull yields
// one notification.
func (d *Debouncer) Touch(userID int64, burstID string, fire func()) {
	d.mu.Lock()
	defer d.mu.Unlock()

	k := key{userID: userID, burstID: burstID}
	if burstID == "" {
		if bk, ok := d.latestBurstLocked(userID); ok {
			k = bk
		}
	} else {
		single := key{userID: userID}
		if p, ok := d.pending[single]; ok {
			p.timer.Stop()
			delete(d.pending, single)
		}
	}
	if p, ok := d.pending[k]; ok {
		p.timer.Stop()
	}

	d.gen++
	gen := d.gen
	p := &pending{gen: gen, fire: fire}
	d.pending[k] = p
	p.timer = d.clock.AfterFunc(d.quiet, func() { d.expire(k, gen) })
}

// Cancel drops every pending timer of the user without firing it.
func (d *Debouncer) Cancel(userID int64) {
	d.mu.Lock()
	defer d.mu.Unlock()
	for k, p := range d.pending {
		if k.userID != userID {
			continue
		}
		p.timer.Stop()
		delete(d.pending, k)
	}
}

// Pending reports whether the user has an armed timer.
func (d *Debouncer) Pending(userID int64) bool {
	d.mu.Lock()
	defer d.mu.Unlock()
	for k := range d.pending {
		if k.userID == userID {
			return true
		}
	}
	return false
}

func (d *Debouncer) expire(k key, gen uint64) {
	d.mu.Lock()
	p, ok := d.pending[k]
	if !ok || p.gen != gen {
		// superseded or cancelled after the timer was already running
		d.mu.Unlock()
		return
	}
	delete(d.pending, k)
	d.mu.Unlock()

	if p.fire != nil {
		p.fire()
	}
}

func (d *Debouncer) latestBurstLocked(userID int64) (key, bool) {
	var (
		best    key
		bestGen uint64
		found   bool
	)
	for k, p := range d.pending {
		if k.userID != userID || k.burstID == "" {
			continue
		}
		if !found || p.gen > bestGen {
			best, bestGen, found = k, p.gen, true
		}
	}
	return best, found
}
