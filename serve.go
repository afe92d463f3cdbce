package main

import (
	"context"
	"net/http"
	"os/signal"
	"syscall"
	"time"

	"github.com/cockroachdb/errors"
	"github.com/spf13/cobra"
	"golang.org/x/time/rate"

	"decline-notifier/internal/config"
	"decline-notifier/internal/delivery"
	"decline-notifier/internal/handler"
	"decline-notifier/internal/history"
	"decline-notifier/internal/logger"
	"decline-notifier/internal/netcheck"
	"decline-notifier/internal/queue"
	"decline-notifier/internal/request"
	"decline-notifier/internal/worker"
)

var serveCmd = &cobra.Command{
	Use:   "serve",
	Short: "Run the HTTP API and the delivery workers",
	RunE: func(cmd *cobra.Command, args []string) error {
		cfg, err := loadConfig()
		if err != nil {
			return err
		}
		return serve(cmd.Context(), cfg)
	},
}

// stack is the wired set of runtime components.
type stack struct {
	queue      queue.Queue
	history    history.Log
	dispatcher *worker.Dispatcher
	close      func() error
}

func buildStack(cfg *config.Config) *stack {
	log := logger.Named("main")
	s := &stack{}

	switch cfg.Queue.Backend {
	case "memory":
		mq := queue.NewMemoryQueue(cfg.Queue.Size)
		s.queue, s.history, s.close = mq, history.NewMemoryLog(), mq.Close
	default:
		// Use Redis so dedup keys and pending retries survive restarts
		log.Infow("Initializing Redis queue", logger.FieldAddress, cfg.Redis.Addr, "prefix", cfg.Redis.Prefix)
		rq := queue.NewRedisQueue(cfg.Redis.Addr, cfg.Redis.Password, cfg.Redis.DB, cfg.Redis.Prefix).WithLiveTTL(cfg.Redis.LiveTTL)
		s.queue = rq
		s.history = history.NewRedisLog(rq.Client(), cfg.Redis.Prefix, cfg.Redis.HistoryTTL)
		s.close = rq.Close
	}

	job := delivery.NewJob(
		request.NewBuilder(cfg.Variant()),
		delivery.NewHTTPTransport(cfg.Timeouts),
		cfg.Retry,
		delivery.WithLogger(logger.Named("delivery")),
	)

	d := worker.NewDispatcher(cfg.Worker.Pool, s.queue, job)
	d.History = s.history
	d.OfflineDelay = cfg.Worker.OfflineDelay
	if cfg.Worker.NetworkProbe != "" {
		d.Network = netcheck.Probe{Address: cfg.Worker.NetworkProbe, Timeout: cfg.Worker.ProbeTimeout}
	}
	s.dispatcher = d
	return s
}

func serve(parent context.Context, cfg *config.Config) error {
	if parent == nil {
		parent = context.Background()
	}
	ctx, stop := signal.NotifyContext(parent, syscall.SIGINT, syscall.SIGTERM)
	defer stop()

	log := logger.Named("main")
	s := buildStack(cfg)
	defer s.close()

	s.dispatcher.Run(ctx)

	var limiter *rate.Limiter
	if cfg.Server.EnqueueRate > 0 {
		limiter = rate.NewLimiter(rate.Limit(cfg.Server.EnqueueRate), cfg.Server.EnqueueBurst)
	}
	mux := http.NewServeMux()
	handler.NewDeclineHandler(s.queue, s.dispatcher, s.history, limiter).Routes(mux)

	srv := &http.Server{
		Addr:              cfg.Server.Addr,
		Handler:           mux,
		ReadHeaderTimeout: 5 * time.Second,
	}

	errCh := make(chan error, 1)
	go func() {
		log.Infow("Decline notifier started", logger.FieldAddress, cfg.Server.Addr,
			"variant", cfg.Variant(), "max_retries", cfg.Retry.MaxRetries)
		if err := srv.ListenAndServe(); err != nil && !errors.Is(err, http.ErrServerClosed) {
			errCh <- err
		}
		close(errCh)
	}()

	select {
	case err, ok := <-errCh:
		if ok {
			stop()
			s.dispatcher.Wait()
			return err
		}
	case <-ctx.Done():
	}

	log.Infow("Shutting down")
	shutdownCtx, cancel := context.WithTimeout(context.Background(), 10*time.Second)
	defer cancel()
	err := srv.Shutdown(shutdownCtx)
	s.dispatcher.Wait()
	return err
}
