// Package cursor gives rooms "who is pointing where" awareness: outbound
// pointer sampling with a rate gate, a last-write-wins remote cursor map,
// and transient chat bubbles anchored to cursors.
package cursor

import (
	"context"
	"encoding/json"
	"sync"
	"time"

	"github.com/rs/zerolog/log"

	"github.com/dayplan-app/waypoint/internal/domain"
	"github.com/dayplan-app/waypoint/internal/protocol"
)

const (
	// Minimum spacing between outbound cursor publishes. A plain timestamp
	// gate, not a token bucket: events inside the window are dropped.
	publishGate = 30 * time.Millisecond

	bubbleLifetime = 4 * time.Second
	sweepInterval  = 250 * time.Millisecond

	// Cursors not refreshed within this window are evicted so disconnected
	// members do not leave ghosts.
	defaultStaleAfter = 10 * time.Second
)

type Publisher interface {
	Publish(topic string, payload []byte)
}

// Identity supplies the sender fields stamped onto outbound updates. Color
// can change mid-session, so it is read per publish.
type Identity func() (id domain.MemberID, nickname string, color domain.Color)

type Broadcaster struct {
	room     domain.RoomKey
	identity Identity
	bus      Publisher

	mu       sync.RWMutex
	remote   map[domain.MemberID]*domain.CursorState
	lastSent time.Time

	staleAfter time.Duration
	now        func() time.Time
}

type Option func(*Broadcaster)

func WithStaleAfter(d time.Duration) Option {
	return func(b *Broadcaster) { b.staleAfter = d }
}

func WithClock(now func() time.Time) Option {
	return func(b *Broadcaster) { b.now = now }
}

func NewBroadcaster(room domain.RoomKey, identity Identity, bus Publisher, opts ...Option) *Broadcaster {
	b := &Broadcaster{
		room:       room,
		identity:   identity,
		bus:        bus,
		remote:     make(map[domain.MemberID]*domain.CursorState),
		staleAfter: defaultStaleAfter,
		now:        time.Now,
	}
	for _, o := range opts {
		o(b)
	}
	return b
}

// PointerMoved samples a local pointer position in pixels and publishes it
// normalized to viewport fractions. At most one publish per 30ms; events
// inside the gate are dropped, not queued.
func (b *Broadcaster) PointerMoved(x, y, viewportW, viewportH float64) {
	now := b.now()
	b.mu.Lock()
	if now.Sub(b.lastSent) < publishGate {
		b.mu.Unlock()
		return
	}
	b.lastSent = now
	b.mu.Unlock()

	if viewportW <= 0 || viewportH <= 0 {
		return
	}
	id, nickname, color := b.identity()
	payload, err := json.Marshal(protocol.CursorUpdate{
		MemberID: string(id),
		X:        domain.Clamp01(x / viewportW),
		Y:        domain.Clamp01(y / viewportH),
		Color:    string(color),
		Nickname: nickname,
		TS:       now.UnixMilli(),
	})
	if err != nil {
		log.Error().Err(err).Str("module", "cursor").Msg("marshal cursor update")
		return
	}
	b.bus.Publish(protocol.CursorTopic(b.room), payload)
}

// HandleRemote applies an incoming cursor update. Latest received payload
// replaces state; out-of-order delivery showing a stale position briefly is
// an accepted tradeoff. Coordinates are clamped defensively.
func (b *Broadcaster) HandleRemote(payload []byte) {
	var msg protocol.CursorUpdate
	if err := json.Unmarshal(payload, &msg); err != nil {
		log.Warn().Err(err).Str("module", "cursor").Msg("bad cursor payload, dropped")
		return
	}
	if err := msg.Validate(); err != nil {
		log.Warn().Err(err).Str("module", "cursor").Msg("cursor payload without member id, dropped")
		return
	}
	selfID, _, _ := b.identity()
	id := domain.MemberID(msg.MemberID)
	if id == selfID {
		return
	}

	b.mu.Lock()
	defer b.mu.Unlock()
	st, ok := b.remote[id]
	if !ok {
		st = &domain.CursorState{MemberID: id}
		b.remote[id] = st
	}
	st.X = domain.Clamp01(msg.X)
	st.Y = domain.Clamp01(msg.Y)
	if msg.Color != "" {
		st.Color = domain.Color(msg.Color)
	}
	if msg.Nickname != "" {
		st.Nickname = msg.Nickname
	}
	st.UpdatedAt = b.now()
}

// HandleChat attaches a 4s bubble to the sender's cursor entry. Bubble and
// position are independent: an expired bubble never removes the cursor.
func (b *Broadcaster) HandleChat(msg protocol.ChatMessage) {
	if msg.MemberID == "" || msg.IsControl() {
		return
	}
	id := domain.MemberID(msg.MemberID)
	now := b.now()

	b.mu.Lock()
	defer b.mu.Unlock()
	st, ok := b.remote[id]
	if !ok {
		st = &domain.CursorState{MemberID: id, Nickname: msg.Nickname, UpdatedAt: now}
		b.remote[id] = st
	}
	st.Bubble = &domain.Bubble{Text: msg.Message, Until: now.Add(bubbleLifetime)}
}

// Cursors returns the current render set.
func (b *Broadcaster) Cursors() []domain.CursorState {
	b.mu.RLock()
	defer b.mu.RUnlock()
	out := make([]domain.CursorState, 0, len(b.remote))
	for _, st := range b.remote {
		cp := *st
		if cp.Bubble != nil {
			bcp := *cp.Bubble
			cp.Bubble = &bcp
		}
		out = append(out, cp)
	}
	return out
}

// Evict drops a member's cursor immediately (e.g. on an observed leave).
func (b *Broadcaster) Evict(id domain.MemberID) {
	b.mu.Lock()
	delete(b.remote, id)
	b.mu.Unlock()
}

// Run sweeps expired bubbles and stale cursors every 250ms until ctx ends.
func (b *Broadcaster) Run(ctx context.Context) {
	ticker := time.NewTicker(sweepInterval)
	defer ticker.Stop()
	for {
		select {
		case <-ctx.Done():
			return
		case <-ticker.C:
			b.sweep(b.now())
		}
	}
}

func (b *Broadcaster) sweep(now time.Time) {
	b.mu.Lock()
	defer b.mu.Unlock()
	for id, st := range b.remote {
		if st.Bubble.Expired(now) {
			st.Bubble = nil
		}
		if now.Sub(st.UpdatedAt) > b.staleAfter {
			delete(b.remote, id)
		}
	}
}
