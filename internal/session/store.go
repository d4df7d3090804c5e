// Package session keeps the per-user drafts that fragments accumulate into.
//
// The map lock only guards slot lookup; every read or mutation of a draft
// happens under that user's slot lock, so users never contend with each
// other.
package session

import (
	"context"
	"errors"
	"log"
	"sync"
	"time"

	"listingbot/internal/clock"
	"listingbot/internal/models"
)

// ErrNoSession is returned when the user has no draft.
var ErrNoSession = errors.New("no session")

// Mutator changes a draft in place. Returning an error discards the change.
type Mutator func(s *models.Session) error

const (
	DefaultIdleTTL       = time.Hour
	DefaultSweepInterval = 5 * time.Minute
)

type slot struct {
	mu      sync.Mutex
	session *models.Session
	// taken is the draft handed to a running save, kept until the save
	// settles so it can be offered back.
	taken *models.Session
	refs  int
}

// Store is the in-memory session store.
type Store struct {
	clock clock.Clock

	mu     sync.Mutex
	slots  map[int64]*slot
	mirror *Mirror
}

// NewStore builds an empty store; a nil clock selects the wall clock.
func NewStore(c clock.Clock) *Store {
	if c == nil {
		c = clock.Real()
	}
	return &Store{
		clock: c,
		slots: make(map[int64]*slot),
	}
}

// SetMirror attaches a redis mirror; every committed change is forwarded to it.
func (s *Store) SetMirror(m *Mirror) {
	s.mu.Lock()
	s.mirror = m
	s.mu.Unlock()
}

func (s *Store) acquire(userID int64) *slot {
	s.mu.Lock()
	sl := s.slots[userID]
	if sl == nil {
		sl = &slot{}
		s.slots[userID] = sl
	}
	sl.refs++
	s.mu.Unlock()
	sl.mu.Lock()
	return sl
}

func (s *Store) release(userID int64, sl *slot) {
	sl.mu.Unlock()
	s.mu.Lock()
	sl.refs--
	if sl.refs == 0 && sl.session == nil && sl.taken == nil {
		delete(s.slots, userID)
	}
	s.mu.Unlock()
}

func (s *Store) currentMirror() *Mirror {
	s.mu.Lock()
	defer s.mu.Unlock()
	return s.mirror
}

// Get returns a copy of the user's draft, or nil.
func (s *Store) Get(userID int64) *models.Session {
	sl := s.acquire(userID)
	defer s.release(userID, sl)
	return sl.session.Clone()
}

// Upsert creates the draft if absent and applies fn, as one step.
// It returns a copy of the committed draft.
func (s *Store) Upsert(userID int64, fn Mutator) (*models.Session, error) {
	return s.mutate(userID, fn, true)
}

// Update applies fn to an existing draft only.
func (s *Store) Update(userID int64, fn Mutator) (*models.Session, error) {
	return s.mutate(userID, fn, false)
}

func (s *Store) mutate(userID int64, fn Mutator, create bool) (*models.Session, error) {
	sl := s.acquire(userID)
	defer s.release(userID, sl)

	var work *models.Session
	if sl.session != nil {
		work = sl.session.Clone()
	} else if create {
		work = models.NewSession(userID, 0, s.clock.Now())
		// a newer draft supersedes whatever a running save took
		sl.taken = nil
	} else {
		return nil, ErrNoSession
	}
	if fn != nil {
		if err := fn(work); err != nil {
			return nil, err
		}
	}
	sl.session = work
	if m := s.currentMirror(); m != nil {
		m.save(work.Clone())
	}
	return work.Clone(), nil
}

// Remove deletes the draft unconditionally and reports whether one existed.
// A draft taken by a running save can no longer be offered back.
func (s *Store) Remove(userID int64) bool {
	sl := s.acquire(userID)
	defer s.release(userID, sl)
	existed := sl.session != nil
	sl.taken = nil
	s.dropLocked(userID, sl)
	return existed
}

// Take atomically reads and clears the draft. guard may veto the take, in
// which case the draft is left untouched and guard's error is returned.
// A second Take for the same user gets ErrNoSession, on this replica or,
// with a mirror attached, on any other.
//
// The caller must end the take with Settle or Reoffer.
func (s *Store) Take(userID int64, guard func(*models.Session) error) (*models.Session, error) {
	sl := s.acquire(userID)
	defer s.release(userID, sl)

	if sl.session == nil {
		return nil, ErrNoSession
	}
	if guard != nil {
		if err := guard(sl.session.Clone()); err != nil {
			return nil, err
		}
	}
	if m := s.currentMirror(); m != nil {
		won, err := m.claim(sl.session)
		switch {
		case err != nil:
			log.Printf("session claim for user %d failed, saving locally: %v", userID, err)
		case !won:
			// another replica is saving this draft and will announce the drop
			sl.session = nil
			return nil, ErrNoSession
		}
	}
	taken := sl.session
	taken.State = models.StateSaveInFlight
	s.dropLocked(userID, sl)
	sl.taken = taken
	return taken, nil
}

// Reoffer puts a draft returned by Take back after a save that changed
// nothing. It is refused once the user cancelled or started a newer draft,
// or when the take was already settled.
func (s *Store) Reoffer(taken *models.Session) bool {
	if taken == nil {
		return false
	}
	sl := s.acquire(taken.UserID)
	defer s.release(taken.UserID, sl)

	if sl.taken != taken || sl.session != nil {
		return false
	}
	back := sl.taken.Clone()
	sl.taken = nil
	back.State = models.StateCollecting
	back.Attempt++
	back.LastActivity = s.clock.Now()
	sl.session = back
	if m := s.currentMirror(); m != nil {
		m.save(back.Clone())
	}
	return true
}

// Settle ends a take; the taken draft is gone for good.
func (s *Store) Settle(taken *models.Session) {
	if taken == nil {
		return
	}
	sl := s.acquire(taken.UserID)
	defer s.release(taken.UserID, sl)
	if sl.taken == taken {
		sl.taken = nil
	}
}

func (s *Store) dropLocked(userID int64, sl *slot) {
	if sl.session == nil {
		return
	}
	sl.session = nil
	if m := s.currentMirror(); m != nil {
		m.drop(userID)
	}
}

// Len reports how many drafts are held.
func (s *Store) Len() int {
	n := 0
	for _, id := range s.userIDs() {
		sl := s.acquire(id)
		if sl.session != nil {
			n++
		}
		s.release(id, sl)
	}
	return n
}

func (s *Store) userIDs() []int64 {
	s.mu.Lock()
	defer s.mu.Unlock()
	users := make([]int64, 0, len(s.slots))
	for id := range s.slots {
		users = append(users, id)
	}
	return users
}

// Sweep evicts drafts idle for longer than ttl and returns the evicted user ids.
func (s *Store) Sweep(ttl time.Duration) []int64 {
	if ttl <= 0 {
		ttl = DefaultIdleTTL
	}
	cutoff := s.clock.Now().Add(-ttl)

	var evicted []int64
	for _, id := range s.userIDs() {
		sl := s.acquire(id)
		if sl.session != nil && sl.session.LastActivity.Before(cutoff) {
			s.dropLocked(id, sl)
			evicted = append(evicted, id)
		}
		s.release(id, sl)
	}
	return evicted
}

// StartSweeper runs Sweep every interval until ctx is done. onEvict, when
// set, is called for each evicted user.
func (s *Store) StartSweeper(ctx context.Context, interval, ttl time.Duration, onEvict func(userID int64)) {
	if interval <= 0 {
		interval = DefaultSweepInterval
	}
	go s.sweepLoop(ctx, interval, ttl, onEvict)
}

func (s *Store) sweepLoop(ctx context.Context, interval, ttl time.Duration, onEvict func(int64)) {
	ticker := time.NewTicker(interval)
	defer ticker.Stop()
	for {
		select {
		case <-ctx.Done():
			return
		case <-ticker.C:
			evicted := s.Sweep(ttl)
			if len(evicted) > 0 {
				log.Printf("session sweeper evicted %d idle drafts", len(evicted))
			}
			if onEvict != nil {
				for _, id := range evicted {
					onEvict(id)
				}
			}
		}
	}
}

// replace installs a draft received from the mirror without echoing it back.
func (s *Store) replace(userID int64, snap *models.Session) {
	sl := s.acquire(userID)
	defer s.release(userID, sl)
	sl.session = snap
	sl.taken = nil
}
