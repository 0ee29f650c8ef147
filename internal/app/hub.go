package app

import (
	"context"
	"time"

	"github.com/rs/zerolog/log"

	"github.com/dayplan-app/waypoint/internal/core"
	"github.com/dayplan-app/waypoint/internal/domain"
	"github.com/dayplan-app/waypoint/internal/protocol"
)

// Hub routes sessions into rooms and fans published frames out per topic.
// It also owns the authoritative presence snapshots: one broadcast per room
// on every membership change plus a periodic refresh.
type Hub struct {
	Registry *Registry
	Rooms    core.RoomFactory
	Policy   Policy
}

func (h *Hub) Join(sid core.SessionID, key domain.RoomKey) {
	if prev, _, ok := h.Registry.RoomOf(sid); ok {
		h.leaveRoom(sid)
		log.Info().Str("module", "app.hub").Str("sid", string(sid)).Str("room", string(prev)).Msg("moved out of previous room")
	}
	session, ok := h.Registry.GetSession(sid)
	if !ok {
		return
	}
	room := h.Rooms.GetOrCreate(key)
	room.AddMember(sid, session)
	h.Registry.UpdateRoom(sid, key)
	h.BroadcastSnapshot(room)
}

func (h *Hub) Leave(sid core.SessionID) {
	key, _, ok := h.Registry.RoomOf(sid)
	if !ok {
		return
	}
	h.leaveRoom(sid)
	h.BroadcastSnapshot(h.Rooms.GetOrCreate(key))
}

func (h *Hub) leaveRoom(sid core.SessionID) {
	key, _, ok := h.Registry.RoomOf(sid)
	if !ok {
		return
	}
	h.Rooms.GetOrCreate(key).RemoveMember(sid)
	h.Registry.ClearRoom(sid)
}

// OnPublish fans a published frame out to the topic's room. The presence
// topic is server-owned: client publishes on it are dropped.
func (h *Hub) OnPublish(sid core.SessionID, topic string, data core.Frame) {
	key, _, ok := h.Registry.RoomOf(sid)
	if !ok {
		return
	}
	topicRoom, ok := protocol.RoomOfTopic(topic)
	if !ok || topicRoom != key {
		log.Warn().Str("module", "app.hub").Str("sid", string(sid)).Str("topic", topic).Msg("publish outside own room, dropped")
		return
	}
	if topic == protocol.PresenceTopic(key) {
		log.Warn().Str("module", "app.hub").Str("sid", string(sid)).Msg("client publish on presence topic, dropped")
		return
	}

	room := h.Rooms.GetOrCreate(key)
	res := room.BroadcastTopic(sid, topic, data)
	if h.Policy == nil {
		return
	}
	for _, slow := range res.Dropped {
		switch h.Policy.OnBackPressure(room, slow) {
		case KickMember:
			for _, snap := range h.Registry.MembersOfRoom(key) {
				if snap.Session == slow {
					h.Registry.Cancel(snap.SID)
				}
			}
		case MarkSlow, DropFrame, NoAction:
		}
	}
}

// OnDisconnect tears down the reporting connection's binding. The reporter
// identifies itself: when the sid has already been rebound to a newer session
// (same tab reconnecting under its cookie-pinned id), the stale report is a
// no-op so it cannot evict the live session.
func (h *Hub) OnDisconnect(sid core.SessionID, sess core.MemberSession) {
	current, ok := h.Registry.GetSession(sid)
	if !ok || current != sess {
		log.Info().Str("module", "app.hub").Str("sid", string(sid)).Msg("stale disconnect ignored, session rebound")
		return
	}
	key, _, inRoom := h.Registry.RoomOf(sid)
	if inRoom {
		h.Rooms.GetOrCreate(key).RemoveMember(sid)
	}
	h.Registry.Unbind(sid)
	if inRoom {
		h.BroadcastSnapshot(h.Rooms.GetOrCreate(key))
	}
}

// BroadcastSnapshot pushes the authoritative member list to everyone in the
// room listening on the presence topic.
func (h *Hub) BroadcastSnapshot(room core.RoomService) {
	members := room.MembersSnapshot()
	snap := protocol.PresenceSnapshot{Members: make([]protocol.PresenceEntry, 0, len(members))}
	for _, m := range members {
		snap.Members = append(snap.Members, protocol.EntryFromMember(m))
	}
	topic := protocol.PresenceTopic(room.Key())
	frame, err := protocol.Encode(protocol.OpMessage, topic, snap)
	if err != nil {
		log.Error().Err(err).Str("module", "app.hub").Msg("encode presence snapshot")
		return
	}
	room.BroadcastTopic("", topic, frame)
}

// Run refreshes presence snapshots on a fixed cadence so clients recover
// from any missed membership broadcast. Blocks until ctx ends.
func (h *Hub) Run(ctx context.Context, interval time.Duration) {
	ticker := time.NewTicker(interval)
	defer ticker.Stop()
	for {
		select {
		case <-ctx.Done():
			return
		case <-ticker.C:
			for _, info := range h.Rooms.List() {
				if info.MemberCount == 0 {
					h.Rooms.StopRoom(info.Key)
					continue
				}
				h.BroadcastSnapshot(h.Rooms.GetOrCreate(info.Key))
			}
		}
	}
}
