package core

import (
	"github.com/dayplan-app/waypoint/internal/domain"
)

// Frame is one encoded bus envelope ready for the wire.
type Frame []byte

type SessionID string

// BusConnection abstracts the per-session messaging transport.
// Owned by the adapter; the adapter must Close() it.
type BusConnection interface {
	TrySend(Frame) error
	Close()
}

// MemberSession binds a member identity, its transport endpoint and its
// topic subscriptions. This is what a room stores and fans out to.
type MemberSession interface {
	Meta() *domain.Member
	Conn() BusConnection

	Subscribe(topic string)
	Unsubscribe(topic string)
	Subscribed(topic string) bool
}

// PublishResult reports delivery stats/backpressure to the hub.
type PublishResult struct {
	SentTo  int
	Dropped []MemberSession
}

// RoomService is the core-facing API of a room. It owns the membership set
// but never touches transport resources.
type RoomService interface {
	Key() domain.RoomKey
	MemberCount() int
	MembersSnapshot() []*domain.Member

	AddMember(sid SessionID, ms MemberSession)
	RemoveMember(sid SessionID)
	BroadcastTopic(from SessionID, topic string, data Frame) PublishResult
}

type RoomInfo struct {
	Key         domain.RoomKey `json:"key"`
	MemberCount int            `json:"member_count"`
}

type RoomFactory interface {
	GetOrCreate(key domain.RoomKey) RoomService
	List() []RoomInfo
	StopRoom(key domain.RoomKey)
}
