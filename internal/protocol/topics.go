package protocol

import (
	"fmt"
	"strings"

	"github.com/dayplan-app/waypoint/internal/domain"
)

// One set of topics per room. Each concern gets its own topic; control
// messages are never multiplexed onto the chat topic (the legacy __sys
// tagging survives only as a decode-compatibility field on ChatMessage).
const (
	KindPresence = "presence"
	KindColor    = "color"
	KindCursor   = "cursor"
	KindChat     = "chat"
	KindCenter   = "center"
	KindPlace    = "place"
)

func Topic(key domain.RoomKey, kind string) string {
	return fmt.Sprintf("room.%s.%s", key, kind)
}

func PresenceTopic(key domain.RoomKey) string { return Topic(key, KindPresence) }
func ColorTopic(key domain.RoomKey) string    { return Topic(key, KindColor) }
func CursorTopic(key domain.RoomKey) string   { return Topic(key, KindCursor) }
func ChatTopic(key domain.RoomKey) string     { return Topic(key, KindChat) }
func CenterTopic(key domain.RoomKey) string   { return Topic(key, KindCenter) }
func PlaceTopic(key domain.RoomKey) string    { return Topic(key, KindPlace) }

// RoomOfTopic recovers the room key from a topic name.
func RoomOfTopic(topic string) (domain.RoomKey, bool) {
	parts := strings.Split(topic, ".")
	if len(parts) < 3 || parts[0] != "room" {
		return "", false
	}
	return domain.RoomKey(strings.Join(parts[1:len(parts)-1], ".")), true
}
