package protocol

import (
	"errors"
	"time"

	"github.com/dayplan-app/waypoint/internal/domain"
)

var ErrNoMemberID = errors.New("payload without member id")

// PresenceEntry is one member as carried on the presence topic. JoinedAt is
// unix milliseconds; zero means the server does not know the join time and
// the receiver keeps whatever it already has.
type PresenceEntry struct {
	MemberID  string `json:"memberId"`
	Nickname  string `json:"nickname"`
	AvatarURL string `json:"profileImage,omitempty"`
	Color     string `json:"color,omitempty"`
	JoinedAt  int64  `json:"joinedAt,omitempty"`
}

// PresenceSnapshot is the authoritative online-member list, server to client.
type PresenceSnapshot struct {
	Members []PresenceEntry `json:"members"`
}

func EntryFromMember(m *domain.Member) PresenceEntry {
	return PresenceEntry{
		MemberID:  string(m.ID),
		Nickname:  m.Nickname,
		AvatarURL: m.AvatarURL,
		Color:     string(m.Color),
		JoinedAt:  m.JoinedAt.UnixMilli(),
	}
}

func (e PresenceEntry) Member() *domain.Member {
	m := &domain.Member{
		ID:        domain.MemberID(e.MemberID),
		Nickname:  e.Nickname,
		AvatarURL: e.AvatarURL,
		Color:     domain.Color(e.Color),
	}
	if e.JoinedAt > 0 {
		m.JoinedAt = time.UnixMilli(e.JoinedAt)
	}
	return m
}

// ColorChange announces one member's new avatar color. A payload without a
// member id is unattributable and must be dropped, never applied.
type ColorChange struct {
	MemberID string `json:"memberId"`
	Color    string `json:"color"`
}

func (c ColorChange) Validate() error {
	if c.MemberID == "" {
		return ErrNoMemberID
	}
	return nil
}

// CursorUpdate carries a pointer position in viewport fractions. Receivers
// clamp X and Y to [0,1]; senders are not trusted.
type CursorUpdate struct {
	MemberID string  `json:"memberId"`
	X        float64 `json:"x"`
	Y        float64 `json:"y"`
	Color    string  `json:"color,omitempty"`
	Nickname string  `json:"nickname,omitempty"`
	TS       int64   `json:"ts"`
}

func (c CursorUpdate) Validate() error {
	if c.MemberID == "" {
		return ErrNoMemberID
	}
	return nil
}

// Legacy __sys tags. Old clients multiplexed control messages onto the chat
// topic; we still decode them but publish on dedicated topics.
const (
	SysColor  = "COLOR"
	SysCenter = "CENTER"
)

type ChatMessage struct {
	Message  string `json:"message"`
	MemberID string `json:"memberId,omitempty"`
	Nickname string `json:"nickname,omitempty"`
	TS       int64  `json:"ts"`
	Sys      string `json:"__sys,omitempty"`
}

// IsControl reports whether this chat payload is a legacy control message
// rather than user chat.
func (c ChatMessage) IsControl() bool { return c.Sys != "" }

// CenterSync shares the sender's map viewport so late joiners land on the
// same spot.
type CenterSync struct {
	MemberID string  `json:"memberId"`
	Lat      float64 `json:"lat"`
	Lng      float64 `json:"lng"`
	Zoom     float64 `json:"zoom"`
}

// PlaceChanged is an opaque trigger: receipt means "refetch the itinerary".
type PlaceChanged struct {
	PlanID string `json:"planId,omitempty"`
}

// JoinRequest binds a connection to a room under a member identity.
type JoinRequest struct {
	Room   string        `json:"room"`
	Member PresenceEntry `json:"member"`
}
