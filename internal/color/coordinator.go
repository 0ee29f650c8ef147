// Package color assigns display colors from the fixed palette. The check is
// client-side and optimistic: two members racing for the same free color is
// an accepted cosmetic inconsistency, last broadcast wins per receiver.
package color

import (
	"encoding/json"
	"errors"

	"github.com/rs/zerolog/log"

	"github.com/dayplan-app/waypoint/internal/domain"
	"github.com/dayplan-app/waypoint/internal/presence"
	"github.com/dayplan-app/waypoint/internal/protocol"
)

var ErrUnknownColor = errors.New("color not in palette")

// Publisher is the slice of the transport client the coordinator needs.
type Publisher interface {
	Publish(topic string, payload []byte)
}

type Coordinator struct {
	room  domain.RoomKey
	self  domain.MemberID
	store *presence.Store
	bus   Publisher
}

func NewCoordinator(room domain.RoomKey, self domain.MemberID, store *presence.Store, bus Publisher) *Coordinator {
	return &Coordinator{room: room, self: self, store: store, bus: bus}
}

// UsedColors returns the colors claimed by other present members.
func (c *Coordinator) UsedColors() map[domain.Color]bool {
	used := make(map[domain.Color]bool)
	for _, m := range c.store.Members() {
		if m.ID == c.self || m.Color == "" {
			continue
		}
		used[m.Color] = true
	}
	return used
}

// Suggest returns the first palette color nobody else holds.
func (c *Coordinator) Suggest() domain.Color {
	return domain.FirstFreeColor(c.UsedColors())
}

// Pick claims requested for the local member. Rejected when another present
// member already shows it.
func (c *Coordinator) Pick(requested domain.Color) error {
	if !requested.Valid() {
		return ErrUnknownColor
	}
	if c.UsedColors()[requested] {
		return domain.ErrColorInUse
	}
	c.Apply(c.self, requested)
	return nil
}

// Apply updates the local presence cache immediately, then broadcasts. The
// local state is not rolled back if the broadcast is lost; a later server
// echo overwrites it either way.
func (c *Coordinator) Apply(id domain.MemberID, color domain.Color) {
	c.store.ApplyColor(id, color)
	payload, err := json.Marshal(protocol.ColorChange{MemberID: string(id), Color: string(color)})
	if err != nil {
		log.Error().Err(err).Str("module", "color").Msg("marshal color change")
		return
	}
	c.bus.Publish(protocol.ColorTopic(c.room), payload)
}

// HandleRemote applies a color broadcast from another member. Payloads
// without a member id are unattributable and dropped.
func (c *Coordinator) HandleRemote(payload []byte) {
	var msg protocol.ColorChange
	if err := json.Unmarshal(payload, &msg); err != nil {
		log.Warn().Err(err).Str("module", "color").Msg("bad color payload, dropped")
		return
	}
	if err := msg.Validate(); err != nil {
		log.Warn().Err(err).Str("module", "color").Msg("color payload without member id, dropped")
		return
	}
	c.store.ApplyColor(domain.MemberID(msg.MemberID), domain.Color(msg.Color))
}
