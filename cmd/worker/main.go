package main

import (
	"context"
	"os"
	"os/signal"
	"syscall"
	"time"

	"github.com/prometheus/client_golang/prometheus"
	"github.com/suPer8Hu/autoreply-agent/internal/app"
	"github.com/suPer8Hu/autoreply-agent/internal/config"
	"github.com/suPer8Hu/autoreply-agent/internal/logx"
	"github.com/suPer8Hu/autoreply-agent/internal/store/rabbitmq"
	"github.com/suPer8Hu/autoreply-agent/internal/webhook"
)

const drainTimeout = 90 * time.Second

func main() {
	cfg, err := config.Load()
	if err != nil {
		logx.Fatal().Err(err).Msg("load config")
	}
	logx.Init(cfg.Environment())

	ctx, stop := signal.NotifyContext(context.Background(), os.Interrupt, syscall.SIGTERM)
	defer stop()

	a, err := app.New(ctx, cfg, prometheus.NewRegistry())
	if err != nil {
		logx.Fatal().Err(err).Msg("init app")
	}
	defer a.Close()
	if a.Pipeline == nil {
		logx.Fatal().Err(app.ErrDegraded).Msg("worker needs a database")
	}

	consumer, err := rabbitmq.NewConsumer(cfg.RabbitURL, cfg.RabbitQueue, cfg.WorkerConcurrency)
	if err != nil {
		logx.Fatal().Err(err).Msg("init rabbitmq consumer")
	}
	defer consumer.Close()

	procCtx, cancelProc := context.WithCancel(context.Background())
	defer cancelProc()
	dispatcher := webhook.NewDispatcher(procCtx, webhook.NewRetrier(a.Pipeline, webhook.DefaultRetries, webhook.DefaultRetryBackoff), a.Metrics)

	if err := consumer.Run(ctx, dispatcher); err != nil {
		logx.Error().Err(err).Msg("consumer stopped")
	}

	// unacked deliveries are redelivered by the broker if the drain is cut short
	drained := make(chan struct{})
	go func() {
		dispatcher.Close()
		close(drained)
	}()
	select {
	case <-drained:
	case <-time.After(drainTimeout):
		logx.Warn().Int("lanes", dispatcher.Lanes()).Msg("drain timeout, cancelling in-flight replies")
		cancelProc()
		<-drained
	}
	logx.Info().Msg("worker stopped")
}
