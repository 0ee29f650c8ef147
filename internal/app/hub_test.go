package app

import (
	"encoding/json"
	"errors"
	"testing"
	"time"

	"github.com/stretchr/testify/require"

	"github.com/dayplan-app/waypoint/internal/core"
	"github.com/dayplan-app/waypoint/internal/domain"
	"github.com/dayplan-app/waypoint/internal/protocol"
)

type fakeConn struct {
	frames []core.Frame
	fail   bool
}

func (c *fakeConn) TrySend(f core.Frame) error {
	if c.fail {
		return errors.New("backpressure")
	}
	c.frames = append(c.frames, f)
	return nil
}

func (c *fakeConn) Close() {}

func newHub() *Hub {
	return &Hub{Registry: NewRegistry(), Rooms: NewRoomManager(), Policy: SimplePolicy{}}
}

func bind(h *Hub, sid core.SessionID, memberID string) (core.MemberSession, *fakeConn) {
	conn := &fakeConn{}
	m := &domain.Member{ID: domain.MemberID(memberID), Nickname: memberID, JoinedAt: time.Unix(1700000000, 0)}
	sess := core.NewMemberSession(m, conn)
	h.Registry.Bind(sid, sess, nil)
	return sess, conn
}

func TestJoinBroadcastsSnapshotToSubscribers(t *testing.T) {
	h := newHub()
	key := domain.RoomKey("plan-42")
	presenceTopic := protocol.PresenceTopic(key)

	aSess, aConn := bind(h, "sid-a", "a")
	aSess.Subscribe(presenceTopic)
	h.Join("sid-a", key)

	require.NotEmpty(t, aConn.frames, "joiner hears the membership snapshot")
	var env protocol.Envelope
	require.NoError(t, json.Unmarshal(aConn.frames[len(aConn.frames)-1], &env))
	require.Equal(t, protocol.OpMessage, env.Op)
	require.Equal(t, presenceTopic, env.Topic)

	var snap protocol.PresenceSnapshot
	require.NoError(t, json.Unmarshal(env.Data, &snap))
	require.Len(t, snap.Members, 1)
	require.Equal(t, "a", snap.Members[0].MemberID)
}

func TestPublishRoutedWithinRoomOnly(t *testing.T) {
	h := newHub()
	key := domain.RoomKey("plan-42")
	cursorTopic := protocol.CursorTopic(key)

	aSess, _ := bind(h, "sid-a", "a")
	bSess, bConn := bind(h, "sid-b", "b")
	aSess.Subscribe(cursorTopic)
	bSess.Subscribe(cursorTopic)
	h.Join("sid-a", key)
	h.Join("sid-b", key)
	bConn.frames = nil

	h.OnPublish("sid-a", cursorTopic, core.Frame(`{"op":"message"}`))
	require.Len(t, bConn.frames, 1)

	// Publishing onto another room's topic is dropped.
	bConn.frames = nil
	h.OnPublish("sid-a", protocol.CursorTopic("plan-99"), core.Frame("x"))
	require.Empty(t, bConn.frames)
}

func TestClientCannotPublishPresence(t *testing.T) {
	h := newHub()
	key := domain.RoomKey("plan-42")
	presenceTopic := protocol.PresenceTopic(key)

	aSess, _ := bind(h, "sid-a", "a")
	bSess, bConn := bind(h, "sid-b", "b")
	aSess.Subscribe(presenceTopic)
	bSess.Subscribe(presenceTopic)
	h.Join("sid-a", key)
	h.Join("sid-b", key)
	bConn.frames = nil

	h.OnPublish("sid-a", presenceTopic, core.Frame(`{"members":[]}`))
	require.Empty(t, bConn.frames)
}

func TestLeaveAnnouncesDeparture(t *testing.T) {
	h := newHub()
	key := domain.RoomKey("plan-42")
	presenceTopic := protocol.PresenceTopic(key)

	aSess, _ := bind(h, "sid-a", "a")
	bSess, bConn := bind(h, "sid-b", "b")
	aSess.Subscribe(presenceTopic)
	bSess.Subscribe(presenceTopic)
	h.Join("sid-a", key)
	h.Join("sid-b", key)
	bConn.frames = nil

	h.Leave("sid-a")
	require.NotEmpty(t, bConn.frames)
	var env protocol.Envelope
	require.NoError(t, json.Unmarshal(bConn.frames[len(bConn.frames)-1], &env))
	var snap protocol.PresenceSnapshot
	require.NoError(t, json.Unmarshal(env.Data, &snap))
	require.Len(t, snap.Members, 1)
	require.Equal(t, "b", snap.Members[0].MemberID)
}

func TestDisconnectCleansUp(t *testing.T) {
	h := newHub()
	key := domain.RoomKey("plan-42")
	sess, _ := bind(h, "sid-a", "a")
	h.Join("sid-a", key)

	h.OnDisconnect("sid-a", sess)
	_, ok := h.Registry.GetSession("sid-a")
	require.False(t, ok)
	require.Zero(t, h.Rooms.GetOrCreate(key).MemberCount())
}

func TestStaleDisconnectKeepsReboundSession(t *testing.T) {
	h := newHub()
	key := domain.RoomKey("plan-42")

	oldSess, _ := bind(h, "sid-a", "a")
	h.Join("sid-a", key)

	// Same tab reconnects: the cookie-pinned sid rebinds to a fresh session
	// while the old connection's read pump is still draining.
	newSess, _ := bind(h, "sid-a", "a")
	h.Join("sid-a", key)

	// The old connection finally reports its disconnect. The live session
	// must survive it.
	h.OnDisconnect("sid-a", oldSess)

	got, ok := h.Registry.GetSession("sid-a")
	require.True(t, ok)
	require.Same(t, newSess, got)
	require.Equal(t, 1, h.Rooms.GetOrCreate(key).MemberCount())

	// The live connection's own disconnect still tears everything down.
	h.OnDisconnect("sid-a", newSess)
	_, ok = h.Registry.GetSession("sid-a")
	require.False(t, ok)
	require.Zero(t, h.Rooms.GetOrCreate(key).MemberCount())
}

func TestMoveBetweenRooms(t *testing.T) {
	h := newHub()
	bind(h, "sid-a", "a")
	h.Join("sid-a", "plan-1")
	h.Join("sid-a", "plan-2")

	require.Zero(t, h.Rooms.GetOrCreate("plan-1").MemberCount())
	require.Equal(t, 1, h.Rooms.GetOrCreate("plan-2").MemberCount())
	room, _, ok := h.Registry.RoomOf("sid-a")
	require.True(t, ok)
	require.Equal(t, domain.RoomKey("plan-2"), room)
}
