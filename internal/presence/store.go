// Package presence maintains the authoritative-as-known member list of one
// room, merged from the local warm-start cache, this client's own join, and
// periodic server snapshots.
package presence

import (
	"context"
	"sort"
	"sync"
	"time"

	"github.com/rs/zerolog/log"

	"github.com/dayplan-app/waypoint/internal/domain"
)

const (
	// At most one join notification per burst of snapshots.
	joinChimeInterval = 500 * time.Millisecond
	// Cache poll cadence before the first authoritative snapshot.
	warmPollInterval = 1200 * time.Millisecond
)

// Cache is the warm-start layer the store reads before the network answers
// and writes through after every reconciliation.
type Cache interface {
	Members(ctx context.Context, room domain.RoomKey) ([]*domain.Member, error)
	SaveMember(ctx context.Context, room domain.RoomKey, m *domain.Member) error
	DeleteMember(ctx context.Context, room domain.RoomKey, id domain.MemberID) error
	ReplaceRoom(ctx context.Context, room domain.RoomKey, members []*domain.Member) error
}

// Store is one room's presence state. All mutation is last-write-wins and
// idempotent; callers may interleave snapshot application, local joins and
// color changes in any order.
type Store struct {
	room  domain.RoomKey
	self  domain.MemberID
	cache Cache

	mu            sync.RWMutex
	members       map[domain.MemberID]*domain.Member
	authoritative bool
	lastChime     time.Time
	onJoin        func(*domain.Member)

	now       func() time.Time
	pollEvery time.Duration
}

type Option func(*Store)

// WithJoinNotifier installs the hook fired when a snapshot reveals a new
// member (the notification sound). Rate-limited to one call per 500ms.
func WithJoinNotifier(fn func(*domain.Member)) Option {
	return func(s *Store) { s.onJoin = fn }
}

func WithClock(now func() time.Time) Option {
	return func(s *Store) { s.now = now }
}

func NewStore(room domain.RoomKey, self domain.MemberID, cache Cache, opts ...Option) *Store {
	s := &Store{
		room:      room,
		self:      self,
		cache:     cache,
		members:   make(map[domain.MemberID]*domain.Member),
		now:       time.Now,
		pollEvery: warmPollInterval,
	}
	for _, o := range opts {
		o(s)
	}
	return s
}

// Join inserts or refreshes this client's own member entry. Called once per
// room mount.
func (s *Store) Join(self *domain.Member) {
	cp := *self
	if cp.JoinedAt.IsZero() {
		cp.JoinedAt = s.now()
	}
	s.mu.Lock()
	if known, ok := s.members[cp.ID]; ok {
		cp.JoinedAt = known.JoinedAt
	}
	s.members[cp.ID] = &cp
	s.mu.Unlock()

	if s.cache != nil {
		if err := s.cache.SaveMember(context.Background(), s.room, &cp); err != nil {
			log.Warn().Err(err).Str("module", "presence").Msg("cache save on join")
		}
	}
}

// Leave removes a member. Covers both the graceful unmount path and abrupt
// drops reported by the transport.
func (s *Store) Leave(id domain.MemberID) {
	s.mu.Lock()
	delete(s.members, id)
	s.mu.Unlock()

	if s.cache != nil {
		if err := s.cache.DeleteMember(context.Background(), s.room, id); err != nil {
			log.Warn().Err(err).Str("module", "presence").Msg("cache delete on leave")
		}
	}
}

// ApplyServerSnapshot replaces the working member set with the server's view.
// Each member keeps its first-known JoinedAt: render order is original join
// order, never snapshot-delivery order. Applying the same snapshot twice is
// a no-op.
func (s *Store) ApplyServerSnapshot(list []*domain.Member) {
	s.mu.Lock()
	prev := s.members
	next := make(map[domain.MemberID]*domain.Member, len(list))
	var joined []*domain.Member
	for _, m := range list {
		cp := *m
		if known, ok := prev[cp.ID]; ok {
			cp.JoinedAt = known.JoinedAt
		} else {
			if cp.JoinedAt.IsZero() {
				cp.JoinedAt = s.now()
			}
			if cp.ID != s.self {
				joined = append(joined, &cp)
			}
		}
		next[cp.ID] = &cp
	}
	s.members = next
	s.authoritative = true

	var notify *domain.Member
	if len(joined) > 0 && s.onJoin != nil {
		now := s.now()
		if now.Sub(s.lastChime) >= joinChimeInterval {
			s.lastChime = now
			notify = joined[0]
		}
	}
	snap := s.snapshotLocked()
	s.mu.Unlock()

	if notify != nil {
		s.onJoin(notify)
	}
	if s.cache != nil {
		if err := s.cache.ReplaceRoom(context.Background(), s.room, snap); err != nil {
			log.Warn().Err(err).Str("module", "presence").Msg("cache write-through")
		}
	}
}

// ApplyColor sets a member's color. Unknown ids are ignored; a later
// snapshot will bring the member along with its color.
func (s *Store) ApplyColor(id domain.MemberID, color domain.Color) {
	s.mu.Lock()
	m, ok := s.members[id]
	var cp domain.Member
	if ok {
		m.Color = color
		cp = *m
	}
	s.mu.Unlock()
	if !ok {
		return
	}
	if s.cache != nil {
		if err := s.cache.SaveMember(context.Background(), s.room, &cp); err != nil {
			log.Warn().Err(err).Str("module", "presence").Msg("cache save on color")
		}
	}
}

// Members returns the current member list in join order (ties broken by id
// so the order is deterministic).
func (s *Store) Members() []*domain.Member {
	s.mu.RLock()
	defer s.mu.RUnlock()
	return s.snapshotLocked()
}

func (s *Store) snapshotLocked() []*domain.Member {
	out := make([]*domain.Member, 0, len(s.members))
	for _, m := range s.members {
		cp := *m
		out = append(out, &cp)
	}
	sort.Slice(out, func(i, j int) bool {
		if !out[i].JoinedAt.Equal(out[j].JoinedAt) {
			return out[i].JoinedAt.Before(out[j].JoinedAt)
		}
		return out[i].ID < out[j].ID
	})
	return out
}

func (s *Store) Get(id domain.MemberID) (*domain.Member, bool) {
	s.mu.RLock()
	defer s.mu.RUnlock()
	m, ok := s.members[id]
	if !ok {
		return nil, false
	}
	cp := *m
	return &cp, true
}

// Authoritative reports whether at least one server snapshot has been
// applied.
func (s *Store) Authoritative() bool {
	s.mu.RLock()
	defer s.mu.RUnlock()
	return s.authoritative
}

// WarmPoll reloads cached presence entries on a fixed interval until the
// first authoritative snapshot arrives, so avatars render right after a
// reload without waiting on the network. Blocks; run it in a goroutine and
// cancel via ctx.
func (s *Store) WarmPoll(ctx context.Context) {
	if s.cache == nil {
		return
	}
	ticker := time.NewTicker(s.pollEvery)
	defer ticker.Stop()
	for {
		select {
		case <-ctx.Done():
			return
		case <-ticker.C:
			if s.Authoritative() {
				return
			}
			cached, err := s.cache.Members(ctx, s.room)
			if err != nil {
				log.Warn().Err(err).Str("module", "presence").Msg("warm poll read")
				continue
			}
			s.mergeCached(cached)
		}
	}
}

// mergeCached adds cached entries the working set does not know yet. Live
// state always wins over the cache.
func (s *Store) mergeCached(cached []*domain.Member) {
	s.mu.Lock()
	defer s.mu.Unlock()
	if s.authoritative {
		return
	}
	for _, m := range cached {
		if _, ok := s.members[m.ID]; !ok {
			cp := *m
			s.members[cp.ID] = &cp
		}
	}
}
