package room

import (
	"context"
	"encoding/json"
	"sync"
	"testing"
	"time"

	"github.com/stretchr/testify/require"

	"github.com/dayplan-app/waypoint/internal/domain"
	"github.com/dayplan-app/waypoint/internal/protocol"
	"github.com/dayplan-app/waypoint/internal/transport"
)

type published struct {
	topic   string
	payload []byte
}

// fakeBus records everything the controller does to the transport and lets
// tests inject frames back through the registered handlers.
type fakeBus struct {
	mu       sync.Mutex
	handlers map[string]transport.Handler
	pubs     []published
	pending  []published
	joins    []protocol.JoinRequest
	leaves   int
	states   chan transport.StateChange
}

func newFakeBus() *fakeBus {
	return &fakeBus{
		handlers: make(map[string]transport.Handler),
		states:   make(chan transport.StateChange, 8),
	}
}

func (b *fakeBus) Subscribe(topic string, handler transport.Handler) *transport.Subscription {
	b.mu.Lock()
	b.handlers[topic] = handler
	b.mu.Unlock()
	return &transport.Subscription{}
}

func (b *fakeBus) Publish(topic string, payload []byte) {
	b.mu.Lock()
	b.pubs = append(b.pubs, published{topic, payload})
	b.mu.Unlock()
}

func (b *fakeBus) PublishPending(topic string, payload []byte) {
	b.mu.Lock()
	b.pending = append(b.pending, published{topic, payload})
	b.mu.Unlock()
}

func (b *fakeBus) Join(req protocol.JoinRequest) {
	b.mu.Lock()
	b.joins = append(b.joins, req)
	b.mu.Unlock()
}

func (b *fakeBus) Leave() {
	b.mu.Lock()
	b.leaves++
	b.mu.Unlock()
}

func (b *fakeBus) StateChanges() <-chan transport.StateChange { return b.states }

func (b *fakeBus) deliver(t *testing.T, topic string, payload any) {
	t.Helper()
	data, err := json.Marshal(payload)
	require.NoError(t, err)
	b.mu.Lock()
	h := b.handlers[topic]
	b.mu.Unlock()
	require.NotNil(t, h, "no handler registered for %s", topic)
	h(data)
}

func (b *fakeBus) published(topic string) []published {
	b.mu.Lock()
	defer b.mu.Unlock()
	var out []published
	for _, p := range b.pubs {
		if p.topic == topic {
			out = append(out, p)
		}
	}
	return out
}

func self() *domain.Member {
	return &domain.Member{ID: "me", Nickname: "mia", Color: "#ff4d4f", JoinedAt: time.Unix(1700000000, 0)}
}

func openController(t *testing.T, bus *fakeBus, opts Options) *Controller {
	t.Helper()
	if opts.Self == nil {
		opts.Self = self()
	}
	opts.Bus = bus
	c := NewController(opts)
	ctx, cancel := context.WithCancel(context.Background())
	t.Cleanup(cancel)
	c.Open(ctx)
	t.Cleanup(c.Close)
	return c
}

func TestOpenJoinsAndSubscribesRoomTopics(t *testing.T) {
	bus := newFakeBus()
	c := openController(t, bus, Options{PlanID: "42"})

	require.Equal(t, domain.RoomKey("plan-42"), c.Key())

	bus.mu.Lock()
	defer bus.mu.Unlock()
	require.Len(t, bus.joins, 1)
	require.Equal(t, "plan-42", bus.joins[0].Room)
	require.Equal(t, "me", bus.joins[0].Member.MemberID)
	for _, topic := range []string{
		protocol.PresenceTopic("plan-42"),
		protocol.ColorTopic("plan-42"),
		protocol.CursorTopic("plan-42"),
		protocol.ChatTopic("plan-42"),
		protocol.CenterTopic("plan-42"),
		protocol.PlaceTopic("plan-42"),
	} {
		require.Contains(t, bus.handlers, topic)
	}
}

func TestLocalSessionWithoutPlan(t *testing.T) {
	bus := newFakeBus()
	c := openController(t, bus, Options{})
	require.Equal(t, domain.RoomKey("local-me"), c.Key())
}

func TestSnapshotEvictsDepartedCursors(t *testing.T) {
	bus := newFakeBus()
	c := openController(t, bus, Options{PlanID: "42"})
	key := c.Key()

	// Two remote cursors arrive.
	bus.deliver(t, protocol.CursorTopic(key), protocol.CursorUpdate{MemberID: "a", X: 0.5, Y: 0.5, TS: 1})
	bus.deliver(t, protocol.CursorTopic(key), protocol.CursorUpdate{MemberID: "b", X: 0.2, Y: 0.2, TS: 1})
	require.Len(t, c.Cursors.Cursors(), 2)

	// Snapshot says only "a" (and self) remain; "b"'s cursor goes with it.
	bus.deliver(t, protocol.PresenceTopic(key), protocol.PresenceSnapshot{Members: []protocol.PresenceEntry{
		{MemberID: "me", Nickname: "mia"},
		{MemberID: "a", Nickname: "ann"},
	}})

	states := c.Cursors.Cursors()
	require.Len(t, states, 1)
	require.Equal(t, domain.MemberID("a"), states[0].MemberID)
	require.True(t, c.Presence.Authoritative())
}

func TestSayPublishesChat(t *testing.T) {
	bus := newFakeBus()
	c := openController(t, bus, Options{PlanID: "42"})

	c.Say("lunch at 1?")

	pubs := bus.published(protocol.ChatTopic(c.Key()))
	require.Len(t, pubs, 1)
	var msg protocol.ChatMessage
	require.NoError(t, json.Unmarshal(pubs[0].payload, &msg))
	require.Equal(t, "lunch at 1?", msg.Message)
	require.Equal(t, "me", msg.MemberID)
	require.False(t, msg.IsControl())
}

func TestChatAttachesBubbleAndSkipsControl(t *testing.T) {
	bus := newFakeBus()
	c := openController(t, bus, Options{PlanID: "42"})
	key := c.Key()

	bus.deliver(t, protocol.CursorTopic(key), protocol.CursorUpdate{MemberID: "a", X: 0.5, Y: 0.5, TS: 1})
	bus.deliver(t, protocol.ChatTopic(key), protocol.ChatMessage{MemberID: "a", Message: "over here"})

	states := c.Cursors.Cursors()
	require.Len(t, states, 1)
	require.NotNil(t, states[0].Bubble)
	require.Equal(t, "over here", states[0].Bubble.Text)

	// Legacy control traffic never becomes a bubble.
	bus.deliver(t, protocol.ChatTopic(key), protocol.ChatMessage{MemberID: "a", Message: "#ffc53d", Sys: protocol.SysColor})
	states = c.Cursors.Cursors()
	require.Equal(t, "over here", states[0].Bubble.Text)
}

func TestLegacySysColorAppliedToPresence(t *testing.T) {
	bus := newFakeBus()
	c := openController(t, bus, Options{PlanID: "42"})
	key := c.Key()

	bus.deliver(t, protocol.PresenceTopic(key), protocol.PresenceSnapshot{Members: []protocol.PresenceEntry{
		{MemberID: "me", Nickname: "mia"},
		{MemberID: "a", Nickname: "ann"},
	}})
	bus.deliver(t, protocol.ChatTopic(key), protocol.ChatMessage{MemberID: "a", Message: "#ffc53d", Sys: protocol.SysColor})

	m, ok := c.Presence.Get("a")
	require.True(t, ok)
	require.Equal(t, domain.Color("#ffc53d"), m.Color)
}

func TestCenterFromSelfIgnored(t *testing.T) {
	bus := newFakeBus()
	var got []protocol.CenterSync
	c := openController(t, bus, Options{PlanID: "42", OnCenter: func(m protocol.CenterSync) {
		got = append(got, m)
	}})
	key := c.Key()

	bus.deliver(t, protocol.CenterTopic(key), protocol.CenterSync{MemberID: "me", Lat: 1, Lng: 2, Zoom: 3})
	bus.deliver(t, protocol.CenterTopic(key), protocol.CenterSync{MemberID: "a", Lat: 4, Lng: 5, Zoom: 6})

	require.Len(t, got, 1)
	require.Equal(t, "a", got[0].MemberID)
}

func TestSyncCenterPublishes(t *testing.T) {
	bus := newFakeBus()
	c := openController(t, bus, Options{PlanID: "42"})

	c.SyncCenter(37.5665, 126.978, 14)

	pubs := bus.published(protocol.CenterTopic(c.Key()))
	require.Len(t, pubs, 1)
	var msg protocol.CenterSync
	require.NoError(t, json.Unmarshal(pubs[0].payload, &msg))
	require.Equal(t, "me", msg.MemberID)
	require.Equal(t, 37.5665, msg.Lat)
}

func TestCloseLeavesBus(t *testing.T) {
	bus := newFakeBus()
	opts := Options{PlanID: "42", Self: self(), Bus: bus}
	c := NewController(opts)
	ctx, cancel := context.WithCancel(context.Background())
	defer cancel()
	c.Open(ctx)

	c.Close()

	bus.mu.Lock()
	defer bus.mu.Unlock()
	require.Equal(t, 1, bus.leaves)
}
