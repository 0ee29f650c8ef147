// Command bot is a headless room member: it joins a room through the client
// SDK, wanders a cursor around and chats once in a while. Useful for demoing
// presence and for load-testing the bus.
package main

import (
	"context"
	"flag"
	"math/rand"
	"os"
	"os/signal"
	"syscall"
	"time"

	"github.com/rs/zerolog"
	"github.com/rs/zerolog/log"

	"github.com/dayplan-app/waypoint/internal/cache"
	"github.com/dayplan-app/waypoint/internal/config"
	"github.com/dayplan-app/waypoint/internal/domain"
	"github.com/dayplan-app/waypoint/internal/planapi"
	"github.com/dayplan-app/waypoint/internal/room"
	"github.com/dayplan-app/waypoint/internal/transport"
)

func main() {
	ctx, cancel := signal.NotifyContext(context.Background(), syscall.SIGINT, syscall.SIGTERM)
	defer cancel()

	zerolog.TimeFieldFormat = zerolog.TimeFormatUnix
	log.Logger = log.Output(zerolog.ConsoleWriter{Out: os.Stderr})
	zerolog.SetGlobalLevel(zerolog.InfoLevel)

	planID := flag.String("plan", "", "plan id of the room to join")
	nickname := flag.String("name", "", "nickname (overrides config)")
	flag.Parse()

	cfg, err := config.Load()
	if err != nil {
		log.Error().Err(err).Msg("failed to load config")
	}
	name := cfg.Client.Nickname
	if *nickname != "" {
		name = *nickname
	}

	self, err := domain.NewMember(name)
	if err != nil {
		log.Fatal().Err(err).Msg("bad nickname")
	}

	store, err := cache.Open(cfg.Client.CachePath)
	if err != nil {
		log.Warn().Err(err).Msg("cache unavailable, running without warm start")
	}
	if store != nil {
		defer store.Close()
	}

	bus := transport.NewClient(transport.Options{
		URL:       cfg.Client.ServerURL,
		AuthToken: cfg.Client.AuthToken,
		Backoff:   cfg.Client.Backoff,
	})
	bus.Connect(ctx)
	defer bus.Close()

	var plans planapi.Service
	if cfg.Client.PlanAPI != "" {
		plans = planapi.NewClient(cfg.Client.PlanAPI, cfg.Client.AuthToken)
	}

	ctl := room.NewController(room.Options{
		PlanID: domain.PlanID(*planID),
		Self:   self,
		Bus:    bus,
		Cache:  store,
		Plans:  plans,
		OnJoinChime: func(m *domain.Member) {
			log.Info().Str("member", m.Nickname).Msg("someone joined")
		},
		OnPlanChanged: func(p *planapi.Plan) {
			log.Info().Str("plan", string(p.ID)).Int("places", len(p.Places)).Msg("itinerary updated")
		},
	})
	ctl.Open(ctx)
	defer ctl.Close()

	// Pick the first free color once presence settles.
	go func() {
		time.Sleep(2 * time.Second)
		if c := ctl.Colors.Suggest(); c != "" {
			if err := ctl.Colors.Pick(c); err != nil {
				log.Warn().Err(err).Msg("color pick")
			}
		}
	}()

	log.Info().Str("room", string(ctl.Key())).Str("member", string(self.ID)).Msg("bot joined")

	x, y := rand.Float64(), rand.Float64()
	move := time.NewTicker(40 * time.Millisecond)
	chat := time.NewTicker(15 * time.Second)
	defer move.Stop()
	defer chat.Stop()

	for {
		select {
		case <-ctx.Done():
			log.Info().Msg("bot leaving")
			return
		case <-move.C:
			x = domain.Clamp01(x + (rand.Float64()-0.5)*0.05)
			y = domain.Clamp01(y + (rand.Float64()-0.5)*0.05)
			ctl.Cursors.PointerMoved(x*1920, y*1080, 1920, 1080)
		case <-chat.C:
			ctl.Say("still here")
		}
	}
}
