package bus

import (
	"context"
	"net/http"
	"time"

	"github.com/gin-gonic/gin"
	"github.com/gorilla/websocket"
	"github.com/rs/zerolog/log"

	"github.com/dayplan-app/waypoint/internal/app"
	"github.com/dayplan-app/waypoint/internal/core"
	"github.com/dayplan-app/waypoint/internal/domain"
)

var upgrader = websocket.Upgrader{
	CheckOrigin: func(r *http.Request) bool { return true },
}

type Controller struct {
	Hub        *app.Hub
	Secret     string
	ReadLimit  int64
	PingPeriod time.Duration

	limiter *PublishRateLimiter
}

func NewController(hub *app.Hub, secret string, readLimit int64, pingPeriod time.Duration) *Controller {
	return &Controller{
		Hub:        hub,
		Secret:     secret,
		ReadLimit:  readLimit,
		PingPeriod: pingPeriod,
		// 60 publishes/s leaves headroom over the client's 30ms cursor gate.
		limiter: NewPublishRateLimiter(60, time.Second),
	}
}

// HandleBus upgrades the connection and runs it until close. One session per
// connection; the member identity arrives with the join envelope.
func (ctl *Controller) HandleBus(ctx context.Context, c *gin.Context) {
	sid := core.SessionID(c.GetString("client_token"))
	log.Info().Str("module", "bus").Str("sid", string(sid)).Msg("new bus connection")

	if err := verifyToken(c.Request, ctl.Secret); err != nil {
		log.Warn().Str("module", "bus").Str("sid", string(sid)).Msg("handshake rejected")
		c.AbortWithStatus(http.StatusUnauthorized)
		return
	}

	ws, err := upgrader.Upgrade(c.Writer, c.Request, nil)
	if err != nil {
		log.Error().Err(err).Str("module", "bus").Msg("ws upgrade")
		return
	}

	conn := &wsBusConn{
		conn: ws,
		send: make(chan core.Frame, 32),
	}

	// Placeholder identity until the join envelope names the member.
	meta := &domain.Member{ID: domain.MemberID(sid), Nickname: "guest", JoinedAt: time.Now()}
	sess := core.NewMemberSession(meta, conn)

	ctx, cancel := context.WithCancel(ctx)
	ctl.Hub.Registry.Bind(sid, sess, cancel)

	go ctl.writePump(ctx, conn)
	go ctl.readPump(ctx, sid, sess, conn)
}
