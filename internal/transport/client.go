// Package transport provides the one long-lived, reconnecting, multiplexed
// bus connection a room view runs on. Callers see topics; framing, handshake
// and reconnect stay in here.
package transport

import (
	"context"
	"encoding/json"
	"net/http"
	"sync"
	"time"

	"github.com/gorilla/websocket"
	"github.com/rs/zerolog/log"

	"github.com/dayplan-app/waypoint/internal/protocol"
)

const (
	defaultBackoff    = 2 * time.Second
	defaultPingPeriod = 54 * time.Second
	writeWait         = 5 * time.Second
	pongWait          = 60 * time.Second
	sendBuffer        = 64
)

type Options struct {
	URL        string
	AuthToken  string
	Backoff    time.Duration
	PingPeriod time.Duration
}

// pendingPublish is the single-slot buffer reserved for the initial
// center-sync publish. General publishes while disconnected are dropped.
type pendingPublish struct {
	topic   string
	payload []byte
}

type Client struct {
	opts   Options
	dialer *websocket.Dialer

	mu       sync.RWMutex
	state    State
	subs     map[string][]*Subscription
	joined   *protocol.JoinRequest
	pending  *pendingPublish
	send     chan []byte
	watchers []chan StateChange

	cancel context.CancelFunc
	done   chan struct{}
}

func NewClient(opts Options) *Client {
	if opts.Backoff <= 0 {
		opts.Backoff = defaultBackoff
	}
	if opts.PingPeriod <= 0 {
		opts.PingPeriod = defaultPingPeriod
	}
	return &Client{
		opts:   opts,
		dialer: websocket.DefaultDialer,
		subs:   make(map[string][]*Subscription),
		done:   make(chan struct{}),
	}
}

// Connect starts the connection loop and returns immediately. Handshake
// failures are reported on the state stream, never returned here.
func (c *Client) Connect(ctx context.Context) {
	ctx, cancel := context.WithCancel(ctx)
	c.cancel = cancel
	go c.run(ctx)
}

// StateChanges returns a stream of connection transitions. Delivery is
// best-effort: a slow receiver misses intermediate states, never blocks the
// connection loop.
func (c *Client) StateChanges() <-chan StateChange {
	ch := make(chan StateChange, 8)
	c.mu.Lock()
	c.watchers = append(c.watchers, ch)
	c.mu.Unlock()
	return ch
}

func (c *Client) State() State {
	c.mu.RLock()
	defer c.mu.RUnlock()
	return c.state
}

func (c *Client) setState(s State, err error) {
	c.mu.Lock()
	c.state = s
	watchers := c.watchers
	c.mu.Unlock()
	for _, w := range watchers {
		select {
		case w <- StateChange{State: s, Err: err}:
		default:
		}
	}
}

// Subscribe delivers every payload published on topic to handler, in publish
// order per topic. The subscription survives reconnects.
func (c *Client) Subscribe(topic string, handler Handler) *Subscription {
	sub := &Subscription{topic: topic, handler: handler, cancel: c.removeSub}
	c.mu.Lock()
	fresh := len(c.subs[topic]) == 0
	c.subs[topic] = append(c.subs[topic], sub)
	c.mu.Unlock()
	if fresh {
		c.sendEnvelope(protocol.OpSubscribe, topic, nil)
	}
	return sub
}

func (c *Client) removeSub(sub *Subscription) {
	c.mu.Lock()
	list := c.subs[sub.topic]
	for i, s := range list {
		if s == sub {
			c.subs[sub.topic] = append(list[:i], list[i+1:]...)
			break
		}
	}
	empty := len(c.subs[sub.topic]) == 0
	if empty {
		delete(c.subs, sub.topic)
	}
	c.mu.Unlock()
	if empty {
		c.sendEnvelope(protocol.OpUnsubscribe, sub.topic, nil)
	}
}

// Publish is fire-and-forget. While the connection is down the payload is
// dropped silently; best-effort by design.
func (c *Client) Publish(topic string, payload []byte) {
	if !c.sendEnvelope(protocol.OpPublish, topic, payload) {
		log.Debug().Str("module", "transport").Str("topic", topic).Msg("publish dropped while disconnected")
	}
}

// PublishPending publishes now if connected, otherwise parks the payload in
// the single pending slot and sends it on the next connect. Only the initial
// center-sync uses this; a second call overwrites the slot.
func (c *Client) PublishPending(topic string, payload []byte) {
	if c.sendEnvelope(protocol.OpPublish, topic, payload) {
		return
	}
	c.mu.Lock()
	c.pending = &pendingPublish{topic: topic, payload: payload}
	c.mu.Unlock()
}

// Join binds this connection to a room under the given member identity. The
// binding is re-announced automatically after every reconnect.
func (c *Client) Join(req protocol.JoinRequest) {
	c.mu.Lock()
	c.joined = &req
	c.mu.Unlock()
	c.sendJSON(protocol.OpJoin, "", req)
}

// Leave tells the server this member is gone. Called on room teardown so
// other members do not see a ghost until a server timeout reclaims it.
func (c *Client) Leave() {
	c.mu.Lock()
	c.joined = nil
	c.mu.Unlock()
	c.sendEnvelope(protocol.OpLeave, "", nil)
}

// Close tears the connection down with a close handshake and stops the loop.
func (c *Client) Close() {
	c.Leave()
	if c.cancel != nil {
		c.cancel()
	}
	select {
	case <-c.done:
	case <-time.After(writeWait):
	}
}

func (c *Client) sendJSON(op, topic string, payload any) bool {
	b, err := json.Marshal(payload)
	if err != nil {
		log.Error().Err(err).Str("module", "transport").Msg("marshal envelope payload")
		return false
	}
	return c.sendEnvelope(op, topic, b)
}

func (c *Client) sendEnvelope(op, topic string, payload []byte) bool {
	frame, err := json.Marshal(protocol.Envelope{Op: op, Topic: topic, Data: payload})
	if err != nil {
		return false
	}
	c.mu.RLock()
	send := c.send
	c.mu.RUnlock()
	if send == nil {
		return false
	}
	select {
	case send <- frame:
		return true
	default:
		log.Warn().Str("module", "transport").Str("op", op).Msg("send buffer full, frame dropped")
		return false
	}
}

func (c *Client) run(ctx context.Context) {
	defer close(c.done)
	attempt := 0
	for {
		if ctx.Err() != nil {
			c.setState(Disconnected, nil)
			return
		}
		if attempt == 0 {
			c.setState(Connecting, nil)
		}

		header := http.Header{}
		if c.opts.AuthToken != "" {
			header.Set("Authorization", "Bearer "+c.opts.AuthToken)
		}
		conn, resp, err := c.dialer.DialContext(ctx, c.opts.URL, header)
		if err != nil {
			if resp != nil {
				resp.Body.Close()
			}
			log.Warn().Err(err).Str("module", "transport").Int("attempt", attempt).Msg("dial failed")
			c.setState(Reconnecting, err)
			attempt++
			if !sleep(ctx, c.opts.Backoff) {
				c.setState(Disconnected, nil)
				return
			}
			continue
		}

		send := make(chan []byte, sendBuffer)
		c.mu.Lock()
		c.send = send
		c.mu.Unlock()
		c.setState(Connected, nil)
		c.resync()

		connCtx, connCancel := context.WithCancel(ctx)
		go c.writePump(connCtx, conn, send)
		err = c.readLoop(conn)
		connCancel()
		conn.Close()

		c.mu.Lock()
		c.send = nil
		c.mu.Unlock()

		if ctx.Err() != nil {
			c.setState(Disconnected, nil)
			return
		}
		log.Warn().Err(err).Str("module", "transport").Msg("connection lost, reconnecting")
		c.setState(Reconnecting, err)
		attempt++
		if !sleep(ctx, c.opts.Backoff) {
			c.setState(Disconnected, nil)
			return
		}
	}
}

// resync replays room membership, topic subscriptions and the pending slot
// onto a fresh connection.
func (c *Client) resync() {
	c.mu.Lock()
	joined := c.joined
	topics := make([]string, 0, len(c.subs))
	for t := range c.subs {
		topics = append(topics, t)
	}
	pending := c.pending
	c.pending = nil
	c.mu.Unlock()

	if joined != nil {
		c.sendJSON(protocol.OpJoin, "", *joined)
	}
	for _, t := range topics {
		c.sendEnvelope(protocol.OpSubscribe, t, nil)
	}
	if pending != nil {
		c.sendEnvelope(protocol.OpPublish, pending.topic, pending.payload)
	}
}

func (c *Client) readLoop(conn *websocket.Conn) error {
	conn.SetReadDeadline(time.Now().Add(pongWait))
	conn.SetPongHandler(func(string) error {
		conn.SetReadDeadline(time.Now().Add(pongWait))
		return nil
	})
	for {
		_, data, err := conn.ReadMessage()
		if err != nil {
			return err
		}
		var env protocol.Envelope
		if err := json.Unmarshal(data, &env); err != nil {
			log.Warn().Err(err).Str("module", "transport").Msg("bad envelope, dropped")
			continue
		}
		switch env.Op {
		case protocol.OpMessage:
			c.dispatch(env.Topic, env.Data)
		case protocol.OpError:
			log.Warn().Str("module", "transport").RawJSON("data", env.Data).Msg("server error")
		default:
			log.Warn().Str("module", "transport").Str("op", env.Op).Msg("unknown envelope op")
		}
	}
}

func (c *Client) dispatch(topic string, data []byte) {
	c.mu.RLock()
	list := make([]*Subscription, len(c.subs[topic]))
	copy(list, c.subs[topic])
	c.mu.RUnlock()
	for _, sub := range list {
		sub.handler(data)
	}
}

func (c *Client) writePump(ctx context.Context, conn *websocket.Conn, send chan []byte) {
	ticker := time.NewTicker(c.opts.PingPeriod)
	defer ticker.Stop()
	for {
		select {
		case <-ctx.Done():
			conn.SetWriteDeadline(time.Now().Add(writeWait))
			conn.WriteMessage(websocket.CloseMessage,
				websocket.FormatCloseMessage(websocket.CloseNormalClosure, ""))
			return
		case frame := <-send:
			conn.SetWriteDeadline(time.Now().Add(writeWait))
			if err := conn.WriteMessage(websocket.TextMessage, frame); err != nil {
				log.Error().Err(err).Str("module", "transport").Msg("writePump write error")
				return
			}
		case <-ticker.C:
			conn.SetWriteDeadline(time.Now().Add(writeWait))
			if err := conn.WriteMessage(websocket.PingMessage, nil); err != nil {
				return
			}
		}
	}
}

func sleep(ctx context.Context, d time.Duration) bool {
	t := time.NewTimer(d)
	defer t.Stop()
	select {
	case <-ctx.Done():
		return false
	case <-t.C:
		return true
	}
}
