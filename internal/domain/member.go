// Package domain contains entities without logic, just meta-data.
package domain

import (
	"errors"
	"time"

	"github.com/google/uuid"
)

const MaxNicknameLen = 36

var (
	ErrNicknameEmpty   = errors.New("nickname empty")
	ErrNicknameTooLong = errors.New("nickname too long")
)

type MemberID string

// Member is one participant of a room as the presence layer sees it.
// Color is empty until the member picks one.
type Member struct {
	ID        MemberID  `json:"memberId"`
	Nickname  string    `json:"nickname"`
	AvatarURL string    `json:"profileImage,omitempty"`
	Color     Color     `json:"color,omitempty"`
	JoinedAt  time.Time `json:"joinedAt"`
}

// NewMember avoids raw struct literals in adapters and keeps construction obvious.
func NewMember(nickname string) (*Member, error) {
	if len(nickname) == 0 {
		return nil, ErrNicknameEmpty
	}
	if len(nickname) > MaxNicknameLen {
		return nil, ErrNicknameTooLong
	}
	return &Member{
		ID:       MemberID(uuid.NewString()),
		Nickname: nickname,
		JoinedAt: time.Now(),
	}, nil
}
