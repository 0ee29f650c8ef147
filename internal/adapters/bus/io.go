package bus

import (
	"context"
	"encoding/json"
	"time"

	"github.com/gorilla/websocket"
	"github.com/rs/zerolog/log"

	"github.com/dayplan-app/waypoint/internal/core"
	"github.com/dayplan-app/waypoint/internal/domain"
	"github.com/dayplan-app/waypoint/internal/protocol"
)

func (ctl *Controller) writePump(ctx context.Context, c *wsBusConn) {
	ticker := time.NewTicker(ctl.PingPeriod)
	defer ticker.Stop()
	for {
		select {
		case <-ctx.Done():
			log.Info().Str("module", "bus").Msg("writePump ctx done")
			return
		case data, ok := <-c.send:
			if !ok {
				log.Warn().Str("module", "bus").Msg("writePump channel closed")
				return
			}
			if err := c.conn.SetWriteDeadline(time.Now().Add(5 * time.Second)); err != nil {
				log.Error().Err(err).Str("module", "bus").Msg("writePump set deadline")
				return
			}
			if err := c.conn.WriteMessage(websocket.TextMessage, data); err != nil {
				log.Error().Err(err).Str("module", "bus").Msg("writePump write error")
				return
			}
		case <-ticker.C:
			c.conn.SetWriteDeadline(time.Now().Add(5 * time.Second))
			if err := c.conn.WriteMessage(websocket.PingMessage, nil); err != nil {
				return
			}
		}
	}
}

func (ctl *Controller) readPump(ctx context.Context, sid core.SessionID, sess core.MemberSession, c *wsBusConn) {
	defer func() {
		log.Info().Str("module", "bus").Str("sid", string(sid)).Msg("readPump closing")
		c.Close()
		ctl.limiter.Forget(sid)
		ctl.Hub.OnDisconnect(sid, sess)
	}()

	if ctl.ReadLimit > 0 {
		c.conn.SetReadLimit(ctl.ReadLimit)
	}
	c.conn.SetReadDeadline(time.Now().Add(60 * time.Second))
	c.conn.SetPongHandler(func(string) error {
		c.conn.SetReadDeadline(time.Now().Add(60 * time.Second))
		return nil
	})

	for {
		select {
		case <-ctx.Done():
			log.Info().Str("module", "bus").Str("sid", string(sid)).Msg("readPump ctx done")
			return
		default:
			_, data, err := c.conn.ReadMessage()
			if err != nil {
				if websocket.IsUnexpectedCloseError(err, websocket.CloseGoingAway, websocket.CloseNormalClosure) {
					log.Error().Err(err).Str("module", "bus").Str("sid", string(sid)).Msg("readPump read error")
				}
				return
			}
			ctl.handleEnvelope(sid, sess, c, data)
		}
	}
}

func (ctl *Controller) handleEnvelope(sid core.SessionID, sess core.MemberSession, c *wsBusConn, data []byte) {
	var env protocol.Envelope
	if err := json.Unmarshal(data, &env); err != nil {
		log.Error().Err(err).Str("module", "bus").Msg("bad envelope json")
		ctl.sendError(c, "bad_payload")
		return
	}

	switch env.Op {
	case protocol.OpJoin:
		ctl.handleJoin(sid, sess, c, env.Data)
	case protocol.OpLeave:
		ctl.Hub.Leave(sid)
	case protocol.OpSubscribe:
		sess.Subscribe(env.Topic)
	case protocol.OpUnsubscribe:
		sess.Unsubscribe(env.Topic)
	case protocol.OpPublish:
		ctl.handlePublish(sid, c, env)
	default:
		log.Warn().Str("module", "bus").Str("op", env.Op).Msg("unknown envelope op")
	}
}

func (ctl *Controller) handleJoin(sid core.SessionID, sess core.MemberSession, c *wsBusConn, data []byte) {
	var req protocol.JoinRequest
	if err := json.Unmarshal(data, &req); err != nil {
		log.Error().Err(err).Str("module", "bus").Msg("bad join payload")
		ctl.sendError(c, "bad_payload")
		return
	}
	if req.Room == "" || req.Member.MemberID == "" {
		ctl.sendError(c, "bad_payload")
		return
	}

	meta := sess.Meta()
	m := req.Member.Member()
	meta.ID = m.ID
	meta.Nickname = m.Nickname
	meta.AvatarURL = m.AvatarURL
	meta.Color = m.Color
	if !m.JoinedAt.IsZero() {
		meta.JoinedAt = m.JoinedAt
	}

	log.Info().Str("module", "bus").Str("sid", string(sid)).Str("room", req.Room).Msg("join")
	ctl.Hub.Join(sid, domain.RoomKey(req.Room))
}

func (ctl *Controller) handlePublish(sid core.SessionID, c *wsBusConn, env protocol.Envelope) {
	if !ctl.limiter.Allow(sid) {
		log.Warn().Str("module", "bus").Str("sid", string(sid)).Msg("publish rate limited, dropped")
		return
	}
	frame, err := protocol.Encode(protocol.OpMessage, env.Topic, env.Data)
	if err != nil {
		log.Error().Err(err).Str("module", "bus").Msg("rewrap publish")
		return
	}
	ctl.Hub.OnPublish(sid, env.Topic, frame)
}

func (ctl *Controller) sendError(c *wsBusConn, msg string) {
	frame, err := protocol.Encode(protocol.OpError, "", map[string]string{"error": msg})
	if err != nil {
		return
	}
	_ = c.TrySend(frame)
}
