// Package room orchestrates one mounted room view: presence, colors, live
// cursors and plan-change triggers over a single bus connection. One
// Controller per room, created on mount and disposed with Close; no ambient
// global state.
package room

import (
	"context"
	"encoding/json"
	"time"

	"github.com/rs/zerolog/log"

	"github.com/dayplan-app/waypoint/internal/cache"
	"github.com/dayplan-app/waypoint/internal/color"
	"github.com/dayplan-app/waypoint/internal/cursor"
	"github.com/dayplan-app/waypoint/internal/domain"
	"github.com/dayplan-app/waypoint/internal/planapi"
	"github.com/dayplan-app/waypoint/internal/presence"
	"github.com/dayplan-app/waypoint/internal/protocol"
	"github.com/dayplan-app/waypoint/internal/transport"
)

// Bus is the transport surface the controller drives. *transport.Client
// satisfies it; tests substitute their own.
type Bus interface {
	Subscribe(topic string, handler transport.Handler) *transport.Subscription
	Publish(topic string, payload []byte)
	PublishPending(topic string, payload []byte)
	Join(req protocol.JoinRequest)
	Leave()
	StateChanges() <-chan transport.StateChange
}

type Options struct {
	PlanID domain.PlanID // empty for a local-only session
	Self   *domain.Member
	Bus    Bus
	Cache  *cache.Store    // optional warm-start cache
	Plans  planapi.Service // optional; place-changed refetch is skipped without it

	OnPlanChanged func(*planapi.Plan)
	OnCenter      func(protocol.CenterSync)
	OnChat        func(protocol.ChatMessage)
	OnJoinChime   func(*domain.Member)
}

type Controller struct {
	key  domain.RoomKey
	self *domain.Member
	bus  Bus
	opts Options

	Presence *presence.Store
	Colors   *color.Coordinator
	Cursors  *cursor.Broadcaster

	subs   []*transport.Subscription
	cancel context.CancelFunc
	isDown bool
}

func NewController(opts Options) *Controller {
	key := domain.RoomKey("local-" + string(opts.Self.ID))
	if opts.PlanID != "" {
		key = domain.RoomKeyForPlan(opts.PlanID)
	}

	c := &Controller{key: key, self: opts.Self, bus: opts.Bus, opts: opts}

	var cacheLayer presence.Cache
	if opts.Cache != nil {
		cacheLayer = opts.Cache
	}
	storeOpts := []presence.Option{}
	if opts.OnJoinChime != nil {
		storeOpts = append(storeOpts, presence.WithJoinNotifier(opts.OnJoinChime))
	}
	c.Presence = presence.NewStore(key, opts.Self.ID, cacheLayer, storeOpts...)
	c.Colors = color.NewCoordinator(key, opts.Self.ID, c.Presence, opts.Bus)
	c.Cursors = cursor.NewBroadcaster(key, c.identity, opts.Bus)
	return c
}

func (c *Controller) Key() domain.RoomKey { return c.key }

func (c *Controller) identity() (domain.MemberID, string, domain.Color) {
	if m, ok := c.Presence.Get(c.self.ID); ok {
		return m.ID, m.Nickname, m.Color
	}
	return c.self.ID, c.self.Nickname, c.self.Color
}

// Open wires every subscription and timer for this room and announces the
// local member. Must be balanced by Close.
func (c *Controller) Open(ctx context.Context) {
	ctx, c.cancel = context.WithCancel(ctx)

	c.Presence.Join(c.self)

	c.subs = append(c.subs,
		c.bus.Subscribe(protocol.PresenceTopic(c.key), c.handleSnapshot),
		c.bus.Subscribe(protocol.ColorTopic(c.key), c.Colors.HandleRemote),
		c.bus.Subscribe(protocol.CursorTopic(c.key), c.Cursors.HandleRemote),
		c.bus.Subscribe(protocol.ChatTopic(c.key), c.handleChat),
		c.bus.Subscribe(protocol.CenterTopic(c.key), c.handleCenter),
		c.bus.Subscribe(protocol.PlaceTopic(c.key), c.handlePlaceChanged),
	)

	c.bus.Join(protocol.JoinRequest{
		Room:   string(c.key),
		Member: protocol.EntryFromMember(c.self),
	})

	go c.Presence.WarmPoll(ctx)
	go c.Cursors.Run(ctx)
	go c.watchState(ctx)

	c.syncCachedCenter()
}

// Close cancels every subscription and timer and sends the leave message.
// A view that skips this leaves a ghost member until the server timeout
// reclaims it.
func (c *Controller) Close() {
	for _, sub := range c.subs {
		sub.Cancel()
	}
	c.subs = nil
	if c.cancel != nil {
		c.cancel()
	}
	c.bus.Leave()
	c.Presence.Leave(c.self.ID)
}

// syncCachedCenter publishes the last-known map center so late joiners land
// where the room left off. Goes through the pending slot: this one publish
// survives a not-yet-established connection.
func (c *Controller) syncCachedCenter() {
	if c.opts.Cache == nil {
		return
	}
	v, ok, err := c.opts.Cache.Viewport(context.Background(), c.key)
	if err != nil || !ok {
		return
	}
	payload, err := json.Marshal(protocol.CenterSync{
		MemberID: string(c.self.ID), Lat: v.Lat, Lng: v.Lng, Zoom: v.Zoom,
	})
	if err != nil {
		return
	}
	c.bus.PublishPending(protocol.CenterTopic(c.key), payload)
}

func (c *Controller) handleSnapshot(payload []byte) {
	var snap protocol.PresenceSnapshot
	if err := json.Unmarshal(payload, &snap); err != nil {
		log.Warn().Err(err).Str("module", "room").Msg("bad presence snapshot, dropped")
		return
	}
	members := make([]*domain.Member, 0, len(snap.Members))
	present := make(map[domain.MemberID]bool, len(snap.Members))
	for _, e := range snap.Members {
		if e.MemberID == "" {
			continue
		}
		m := e.Member()
		members = append(members, m)
		present[m.ID] = true
	}
	c.Presence.ApplyServerSnapshot(members)

	// Departed members lose their cursor right away rather than waiting for
	// the stale sweep.
	for _, st := range c.Cursors.Cursors() {
		if !present[st.MemberID] {
			c.Cursors.Evict(st.MemberID)
		}
	}
}

func (c *Controller) handleChat(payload []byte) {
	var msg protocol.ChatMessage
	if err := json.Unmarshal(payload, &msg); err != nil {
		log.Warn().Err(err).Str("module", "room").Msg("bad chat payload, dropped")
		return
	}
	if msg.IsControl() {
		// Legacy senders multiplex control onto chat. Honor them at the
		// boundary only.
		switch msg.Sys {
		case protocol.SysColor:
			if msg.MemberID == "" {
				log.Warn().Str("module", "room").Msg("legacy color message without member id, dropped")
				return
			}
			c.Presence.ApplyColor(domain.MemberID(msg.MemberID), domain.Color(msg.Message))
		case protocol.SysCenter:
			// Superseded by the center topic; nothing to apply.
		}
		return
	}
	c.Cursors.HandleChat(msg)
	if c.opts.OnChat != nil {
		c.opts.OnChat(msg)
	}
}

func (c *Controller) handleCenter(payload []byte) {
	var msg protocol.CenterSync
	if err := json.Unmarshal(payload, &msg); err != nil {
		log.Warn().Err(err).Str("module", "room").Msg("bad center payload, dropped")
		return
	}
	if msg.MemberID == string(c.self.ID) {
		return
	}
	if c.opts.Cache != nil {
		v := cache.Viewport{Lat: msg.Lat, Lng: msg.Lng, Zoom: msg.Zoom}
		if err := c.opts.Cache.SaveViewport(context.Background(), c.key, v); err != nil {
			log.Warn().Err(err).Str("module", "room").Msg("cache viewport")
		}
	}
	if c.opts.OnCenter != nil {
		c.opts.OnCenter(msg)
	}
}

// handlePlaceChanged treats the payload as an opaque trigger: refetch the
// itinerary from the CRUD service.
func (c *Controller) handlePlaceChanged([]byte) {
	if c.opts.Plans == nil || c.opts.PlanID == "" || c.opts.OnPlanChanged == nil {
		return
	}
	ctx, cancel := context.WithTimeout(context.Background(), 10*time.Second)
	defer cancel()
	plan, err := c.opts.Plans.FetchPlan(ctx, c.opts.PlanID)
	if err != nil {
		log.Warn().Err(err).Str("module", "room").Msg("plan refetch after place change")
		return
	}
	c.opts.OnPlanChanged(plan)
}

// watchState tracks the transport lifecycle. While reconnecting the room is
// degraded (stale, read-only); no modal error, ambient UI only.
func (c *Controller) watchState(ctx context.Context) {
	changes := c.bus.StateChanges()
	for {
		select {
		case <-ctx.Done():
			return
		case ch, ok := <-changes:
			if !ok {
				return
			}
			switch ch.State {
			case transport.Reconnecting:
				c.isDown = true
				log.Warn().Err(ch.Err).Str("module", "room").Str("room", string(c.key)).Msg("degraded: reconnecting")
			case transport.Connected:
				if c.isDown {
					c.isDown = false
					log.Info().Str("module", "room").Str("room", string(c.key)).Msg("recovered")
				}
			}
		}
	}
}

// Say publishes a user chat message; receivers attach it as a bubble to this
// member's cursor.
func (c *Controller) Say(text string) {
	id, nickname, _ := c.identity()
	payload, err := json.Marshal(protocol.ChatMessage{
		Message:  text,
		MemberID: string(id),
		Nickname: nickname,
		TS:       time.Now().UnixMilli(),
	})
	if err != nil {
		return
	}
	c.bus.Publish(protocol.ChatTopic(c.key), payload)
}

// SyncCenter shares the current map viewport and remembers it locally.
func (c *Controller) SyncCenter(lat, lng, zoom float64) {
	if c.opts.Cache != nil {
		v := cache.Viewport{Lat: lat, Lng: lng, Zoom: zoom}
		if err := c.opts.Cache.SaveViewport(context.Background(), c.key, v); err != nil {
			log.Warn().Err(err).Str("module", "room").Msg("cache viewport")
		}
	}
	payload, err := json.Marshal(protocol.CenterSync{
		MemberID: string(c.self.ID), Lat: lat, Lng: lng, Zoom: zoom,
	})
	if err != nil {
		return
	}
	c.bus.Publish(protocol.CenterTopic(c.key), payload)
}
