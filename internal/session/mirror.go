package session

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"log"
	"strconv"
	"strings"
	"sync"
	"time"

	"listingbot/internal/models"
	"listingbot/internal/redis"

	"github.com/google/uuid"
)

const (
	mirrorKeyPrefix     = "listingbot:session:"
	claimKeyPrefix      = "listingbot:claim:"
	mirrorInvalidate    = "listingbot:session:invalidate"
	defaultMirrorTTL    = 24 * time.Hour
	mirrorQueueSize     = 1024
	mirrorWriteDeadline = 3 * time.Second
)

type invalidateMessage struct {
	UserID   int64  `json:"user_id"`
	Instance string `json:"instance"`
}

type mirrorOp struct {
	userID  int64
	session *models.Session // nil means delete
}

// Mirror copies drafts to redis so they survive a restart, and tells other
// replicas when a user's draft changed. Writes are queued and applied in
// order by Run, so store operations never wait on the network.
type Mirror struct {
	client   *redis.Client
	ttl      time.Duration
	instance string
	ops      chan mirrorOp

	quit      chan struct{}
	done      chan struct{}
	closeOnce sync.Once
}

// NewMirror builds a mirror over client; ttl <= 0 keeps snapshots for a day.
func NewMirror(client *redis.Client, ttl time.Duration) *Mirror {
	if ttl <= 0 {
		ttl = defaultMirrorTTL
	}
	return &Mirror{
		client:   client,
		ttl:      ttl,
		instance: uuid.NewString(),
		ops:      make(chan mirrorOp, mirrorQueueSize),
		quit:     make(chan struct{}),
		done:     make(chan struct{}),
	}
}

func mirrorKey(userID int64) string {
	return fmt.Sprintf("%s%d", mirrorKeyPrefix, userID)
}

func (m *Mirror) save(s *models.Session) {
	m.enqueue(mirrorOp{userID: s.UserID, session: s})
}

func (m *Mirror) drop(userID int64) {
	m.enqueue(mirrorOp{userID: userID})
}

func (m *Mirror) enqueue(op mirrorOp) {
	if m == nil || m.client == nil {
		return
	}
	select {
	case m.ops <- op:
	default:
		log.Printf("session mirror queue full, dropping write for user %d", op.userID)
	}
}

// Run applies queued writes until Close drains the queue, or until ctx is
// done, in which case pending writes are abandoned.
func (m *Mirror) Run(ctx context.Context) {
	if m == nil || m.client == nil {
		return
	}
	defer close(m.done)
	for {
		select {
		case <-ctx.Done():
			return
		case <-m.quit:
			for {
				select {
				case op := <-m.ops:
					m.apply(op)
				default:
					return
				}
			}
		case op := <-m.ops:
			m.apply(op)
		}
	}
}

// Close makes Run apply every queued write and return. Call it once nothing
// changes drafts any more, after in-flight saves have finished.
func (m *Mirror) Close(ctx context.Context) error {
	if m == nil || m.client == nil {
		return nil
	}
	m.closeOnce.Do(func() { close(m.quit) })
	select {
	case <-m.done:
		return nil
	case <-ctx.Done():
		return fmt.Errorf("drain session mirror: %w", ctx.Err())
	}
}

func claimKey(s *models.Session) string {
	return fmt.Sprintf("%s%d:%d:%d", claimKeyPrefix, s.UserID, s.CreatedAt.UnixNano(), s.Attempt)
}

// claim marks one save attempt of a draft as owned by this instance. Every
// replica holding the same draft derives the same key, so only one wins.
func (m *Mirror) claim(s *models.Session) (bool, error) {
	if m == nil || m.client == nil {
		return true, nil
	}
	ctx, cancel := context.WithTimeout(context.Background(), mirrorWriteDeadline)
	defer cancel()
	won, err := m.client.SetNX(ctx, claimKey(s), m.instance, m.ttl)
	if err != nil {
		return false, fmt.Errorf("claim draft: %w", err)
	}
	return won, nil
}

func (m *Mirror) apply(op mirrorOp) {
	ctx, cancel := context.WithTimeout(context.Background(), mirrorWriteDeadline)
	defer cancel()

	key := mirrorKey(op.userID)
	if op.session == nil {
		if err := m.client.Del(ctx, key); err != nil && !errors.Is(err, redis.ErrCacheMiss) {
			log.Printf("session mirror delete failed: %v", err)
		}
	} else {
		data, err := json.Marshal(op.session)
		if err != nil {
			log.Printf("session mirror marshal failed: %v", err)
			return
		}
		if err := m.client.Set(ctx, key, data, m.ttl); err != nil {
			log.Printf("session mirror write failed: %v", err)
			return
		}
	}
	m.publish(ctx, op.userID)
}

func (m *Mirror) publish(ctx context.Context, userID int64) {
	payload, err := json.Marshal(invalidateMessage{UserID: userID, Instance: m.instance})
	if err != nil {
		log.Printf("session invalidation marshal failed: %v", err)
		return
	}
	if err := m.client.Publish(ctx, mirrorInvalidate, payload); err != nil {
		log.Printf("session publish invalidation failed: %v", err)
	}
}

// load returns the mirrored draft, or nil with a nil error when redis
// confirms there is none.
func (m *Mirror) load(ctx context.Context, userID int64) (*models.Session, error) {
	raw, err := m.client.Get(ctx, mirrorKey(userID))
	if errors.Is(err, redis.ErrCacheMiss) {
		return nil, nil
	}
	if err != nil {
		return nil, fmt.Errorf("load mirrored draft: %w", err)
	}
	var s models.Session
	if err := json.Unmarshal([]byte(raw), &s); err != nil {
		return nil, fmt.Errorf("decode mirrored draft: %w", err)
	}
	if s.UserID != userID {
		return nil, fmt.Errorf("mirrored draft of user %d stored under user %d", s.UserID, userID)
	}
	return &s, nil
}

// Restore loads every mirrored draft into the store and returns how many
// were restored.
func (s *Store) Restore(ctx context.Context) (int, error) {
	m := s.currentMirror()
	if m == nil || m.client == nil {
		return 0, nil
	}
	keys, err := m.client.Keys(ctx, mirrorKeyPrefix+"*")
	if err != nil {
		return 0, fmt.Errorf("scan mirrored sessions: %w", err)
	}
	restored := 0
	for _, key := range keys {
		userID, err := strconv.ParseInt(strings.TrimPrefix(key, mirrorKeyPrefix), 10, 64)
		if err != nil {
			// not a draft key
			continue
		}
		snap, err := m.load(ctx, userID)
		if err != nil {
			log.Printf("session restore skipped user %d: %v", userID, err)
			continue
		}
		if snap == nil {
			continue
		}
		snap.State = models.StateCollecting
		s.replace(userID, snap)
		restored++
	}
	return restored, nil
}

// Follow applies changes announced by other replicas until ctx is done.
func (s *Store) Follow(ctx context.Context) {
	m := s.currentMirror()
	if m == nil || m.client == nil {
		return
	}
	pubsub := m.client.Subscribe(ctx, mirrorInvalidate)
	if pubsub == nil {
		return
	}
	go func() {
		defer pubsub.Close()
		ch := pubsub.Channel()
		for {
			select {
			case <-ctx.Done():
				return
			case msg, ok := <-ch:
				if !ok {
					return
				}
				var inv invalidateMessage
				if err := json.Unmarshal([]byte(msg.Payload), &inv); err != nil {
					log.Printf("session invalidation decode failed: %v", err)
					continue
				}
				if inv.Instance == m.instance {
					continue
				}
				snap, err := m.load(ctx, inv.UserID)
				s.applyRemote(inv.UserID, snap, err)
			}
		}
	}()
}

// applyRemote installs what another replica announced. Only a confirmed
// value or a confirmed absence replaces the local draft; a failed read
// keeps it.
func (s *Store) applyRemote(userID int64, snap *models.Session, err error) {
	if err != nil {
		log.Printf("session invalidation for user %d not applied: %v", userID, err)
		return
	}
	s.replace(userID, snap)
}
