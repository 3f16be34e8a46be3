package main

import (
	"context"
	"errors"
	"net/http"
	"os"
	"os/signal"
	"syscall"
	"time"

	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/collectors"
	"github.com/suPer8Hu/autoreply-agent/internal/app"
	"github.com/suPer8Hu/autoreply-agent/internal/config"
	"github.com/suPer8Hu/autoreply-agent/internal/httpapi"
	"github.com/suPer8Hu/autoreply-agent/internal/httpapi/handlers"
	"github.com/suPer8Hu/autoreply-agent/internal/logx"
	"github.com/suPer8Hu/autoreply-agent/internal/store/rabbitmq"
	"github.com/suPer8Hu/autoreply-agent/internal/webhook"
)

const (
	shutdownTimeout = 15 * time.Second
	drainTimeout    = 90 * time.Second
)

func main() {
	cfg, err := config.Load()
	if err != nil {
		logx.Fatal().Err(err).Msg("load config")
	}
	logx.Init(cfg.Environment())

	ctx, stop := signal.NotifyContext(context.Background(), os.Interrupt, syscall.SIGTERM)
	defer stop()

	reg := prometheus.NewRegistry()
	reg.MustRegister(collectors.NewGoCollector(), collectors.NewProcessCollector(collectors.ProcessCollectorOpts{}))

	a, err := app.New(ctx, cfg, reg)
	if err != nil {
		logx.Fatal().Err(err).Msg("init app")
	}
	defer a.Close()

	// In-flight replies outlive the signal so a shutdown does not cut a
	// response delay short; they get drainTimeout to finish.
	procCtx, cancelProc := context.WithCancel(context.Background())
	defer cancelProc()

	var (
		ingest     handlers.Ingester
		dispatcher *webhook.Dispatcher
	)
	switch {
	case cfg.QueueMode == config.QueueModeRabbitMQ:
		pub, err := rabbitmq.NewPublisher(cfg.RabbitURL, cfg.RabbitQueue)
		if err != nil {
			logx.Fatal().Err(err).Msg("init rabbitmq publisher")
		}
		defer pub.Close()
		ingest = pub
	case a.Pipeline != nil:
		dispatcher = webhook.NewDispatcher(procCtx, webhook.NewRetrier(a.Pipeline, webhook.DefaultRetries, webhook.DefaultRetryBackoff), a.Metrics)
		ingest = dispatcher
	default:
		logx.Warn().Msg("no pipeline available, webhook messages will be acknowledged and dropped")
	}

	srv := &http.Server{
		Addr:              cfg.HTTPAddr,
		Handler:           httpapi.NewRouter(a, ingest, reg),
		ReadHeaderTimeout: 10 * time.Second,
	}

	go func() {
		logx.Info().Str("addr", cfg.HTTPAddr).Str("queue_mode", cfg.QueueMode).Msg("server listening")
		if err := srv.ListenAndServe(); err != nil && !errors.Is(err, http.ErrServerClosed) {
			logx.Fatal().Err(err).Msg("listen")
		}
	}()

	<-ctx.Done()
	logx.Info().Msg("shutting down")

	shutdownCtx, cancel := context.WithTimeout(context.Background(), shutdownTimeout)
	defer cancel()
	if err := srv.Shutdown(shutdownCtx); err != nil {
		logx.Error().Err(err).Msg("http shutdown")
	}

	if dispatcher != nil {
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
	}
	logx.Info().Msg("server stopped")
}
