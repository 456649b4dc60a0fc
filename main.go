package main

import (
	"context"
	"net/http"
	"os/signal"
	"syscall"

	"github.com/rs/zerolog/log"

	capx "github.com/ajudei/concierge/engine/capability"
	contractx "github.com/ajudei/concierge/engine/contract"
	convx "github.com/ajudei/concierge/engine/conversation"
	leasex "github.com/ajudei/concierge/engine/lease"
	modelx "github.com/ajudei/concierge/engine/model"
	"github.com/ajudei/concierge/engine/notify"
	tenantx "github.com/ajudei/concierge/engine/tenant"
	"github.com/ajudei/concierge/engine/turn"
	configx "github.com/ajudei/concierge/pkg/config"
	_ "github.com/ajudei/concierge/pkg/logger/autoload"
	postgresx "github.com/ajudei/concierge/pkg/postgres"
	whatsappx "github.com/ajudei/concierge/pkg/whatsapp"
	"github.com/ajudei/concierge/server"
)

func main() {
	ctx, stop := signal.NotifyContext(context.Background(), syscall.SIGINT, syscall.SIGTERM)
	defer stop()

	pgCfg := configx.MustNew[postgresx.Config]("POSTGRES")
	db := postgresx.MustNew(*pgCfg)
	defer db.Close()

	leaseCfg := configx.MustNew[leasex.Config]("LEASE")
	var lease contractx.Lease
	if leaseCfg.URL != "" {
		redisLease, err := leasex.NewRedisLease(*leaseCfg)
		if err != nil {
			log.Fatal().Err(err).Msg("redis lease init failed")
		}
		lease = redisLease
	} else {
		log.Warn().Msg("no lease redis url configured, using in-process lease")
		lease = leasex.NewLocalLease()
	}

	messenger := whatsappx.NewClient(*configx.MustNew[whatsappx.Config]("WHATSAPP"))
	notifier := notify.NewFanout(messenger)

	store := convx.NewPgStore(db)
	tenants := tenantx.NewPgSource(db)
	registry := capx.NewPgRegistry(db)

	dispatcher := capx.NewDispatcher()
	dispatcher.Register(contractx.CapabilityRPC, capx.NewRPCInvoker(db))
	if httpCfg, err := configx.New[capx.HTTPInvokerConfig]("SKILLS"); err == nil {
		httpInvoker, err := capx.NewHTTPInvoker(*httpCfg)
		if err != nil {
			log.Fatal().Err(err).Msg("skill gateway invoker init failed")
		}
		dispatcher.Register(contractx.CapabilityHTTP, httpInvoker)
	} else {
		log.Warn().Err(err).Msg("skill gateway not configured, http capabilities disabled")
	}

	gateway := modelx.NewOpenAIGateway(*configx.MustNew[modelx.Config]("OPENAI"))

	svc, err := turn.New(
		store,
		tenants,
		registry,
		dispatcher,
		gateway,
		messenger,
		notifier,
		lease,
		*configx.MustNew[turn.Config]("TURN"),
	)
	if err != nil {
		log.Fatal().Err(err).Msg("turn service init failed")
	}
	dispatcher.Register(contractx.CapabilitySpecialist, turn.NewSpecialistInvoker(svc))

	srv := server.New(svc, *configx.MustNew[server.Config]("HTTP"))
	if err := srv.Run(ctx); err != nil && err != http.ErrServerClosed {
		log.Fatal().Err(err).Msg("http server exited")
	}
	log.Info().Msg("shutdown complete")
}
