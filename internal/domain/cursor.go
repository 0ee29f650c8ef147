package domain

import "time"

// CursorState is the last-known pointer position of one member, in viewport
// fractions. Ephemeral: never persisted, evicted when stale.
type CursorState struct {
	MemberID  MemberID
	X         float64
	Y         float64
	Color     Color
	Nickname  string
	UpdatedAt time.Time
	Bubble    *Bubble
}

// Bubble is a transient chat annotation anchored to the owner's cursor.
type Bubble struct {
	Text  string
	Until time.Time
}

func (b *Bubble) Expired(now time.Time) bool {
	return b != nil && !now.Before(b.Until)
}

// Clamp01 bounds incoming viewport fractions; remote senders are not trusted
// to stay inside the viewport.
func Clamp01(v float64) float64 {
	if v < 0 {
		return 0
	}
	if v > 1 {
		return 1
	}
	return v
}
