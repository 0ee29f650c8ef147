package core

import (
	"sort"
	"sync"
	"time"

	"github.com/rs/zerolog/log"

	"github.com/dayplan-app/waypoint/internal/domain"
)

// roomImpl is a threadsafe in-memory room.
// It never closes adapter-owned resources.
type roomImpl struct {
	key      domain.RoomKey
	mu       sync.RWMutex
	bySID    map[SessionID]MemberSession
	byMember map[domain.MemberID]SessionID
}

func NewRoomService(key domain.RoomKey) RoomService {
	return &roomImpl{
		key:      key,
		bySID:    make(map[SessionID]MemberSession),
		byMember: make(map[domain.MemberID]SessionID),
	}
}

func (r *roomImpl) Key() domain.RoomKey { return r.key }

func (r *roomImpl) MemberCount() int {
	r.mu.RLock()
	defer r.mu.RUnlock()
	return len(r.bySID)
}

func (r *roomImpl) AddMember(sid SessionID, ms MemberSession) {
	m := ms.Meta()
	if m.JoinedAt.IsZero() {
		m.JoinedAt = time.Now()
	}
	r.mu.Lock()
	defer r.mu.Unlock()
	// Same member reconnecting under a new session replaces the old entry;
	// two tabs count as two members only when their ids differ.
	if old, ok := r.byMember[m.ID]; ok && old != sid {
		delete(r.bySID, old)
	}
	r.bySID[sid] = ms
	r.byMember[m.ID] = sid
	log.Info().Str("module", "core.room").Str("sid", string(sid)).Str("member", string(m.ID)).Msg("member added")
}

func (r *roomImpl) RemoveMember(sid SessionID) {
	r.mu.Lock()
	defer r.mu.Unlock()
	if ms, ok := r.bySID[sid]; ok {
		id := ms.Meta().ID
		if r.byMember[id] == sid {
			delete(r.byMember, id)
		}
	}
	delete(r.bySID, sid)
	log.Info().Str("module", "core.room").Str("sid", string(sid)).Msg("member removed")
}

// BroadcastTopic fans data out to every session subscribed to topic, except
// the publisher.
func (r *roomImpl) BroadcastTopic(from SessionID, topic string, data Frame) PublishResult {
	r.mu.RLock()
	defer r.mu.RUnlock()
	res := PublishResult{}
	for sid, m := range r.bySID {
		if sid == from {
			continue
		}
		if !m.Subscribed(topic) {
			continue
		}
		if err := m.Conn().TrySend(data); err != nil {
			res.Dropped = append(res.Dropped, m)
			continue
		}
		res.SentTo++
	}
	log.Debug().Str("module", "core.room").Str("topic", topic).Int("sent_to", res.SentTo).Int("dropped", len(res.Dropped)).Msg("broadcast result")
	return res
}

// MembersSnapshot is the authoritative member list in join order.
func (r *roomImpl) MembersSnapshot() []*domain.Member {
	r.mu.RLock()
	defer r.mu.RUnlock()
	out := make([]*domain.Member, 0, len(r.bySID))
	for _, ms := range r.bySID {
		cp := *ms.Meta()
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
