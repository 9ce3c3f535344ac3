package main

import (
	"context"
	"expvar"
	"flag"
	"net/http"
	"os"
	"os/signal"
	"strconv"
	"syscall"
	"time"

	"prmonitor/internal"
	"prmonitor/pkg/api"
	"prmonitor/pkg/hub"
	"prmonitor/pkg/queue"
	"prmonitor/pkg/review"
	"prmonitor/pkg/storage/eventlog"
	"prmonitor/webhook"
)

func main() {
	logger := internal.NewLogger("server")
	configPath := flag.String("config", "config.yaml", "Path to config file")
	flag.Parse()

	cfg, err := internal.LoadConfig(*configPath)
	if err != nil {
		logger.Fatalf("load config: %v", err)
	}

	store, err := eventlog.Open(cfg.Store.Path, cfg.Store.CacheSize)
	if err != nil {
		logger.Fatalf("open event log: %v", err)
	}
	defer store.Close()
	logger.Printf("event log at %s (%d events)", cfg.Store.Path, store.Count())

	ruleEngine, err := internal.NewRuleEngine(cfg.Rules, internal.NewLogger("rules"))
	if err != nil {
		logger.Fatalf("compile rules: %v", err)
	}

	reviewQueue, err := queue.Open(cfg.Queue)
	if err != nil {
		logger.Fatalf("open review queue: %v", err)
	}
	defer reviewQueue.Close()

	ctx, cancel := context.WithCancel(context.Background())
	defer cancel()

	eventHub := hub.New(cfg.Hub.BufferSize, cfg.Hub.SubscriberBuffer, internal.NewLogger("hub"))
	go eventHub.Run(ctx)

	results := review.NewResults(cfg.Review.MaxResults)
	reviewTimeout := time.Duration(cfg.Review.TimeoutMS) * time.Millisecond

	var trigger *review.Trigger
	if cfg.Review.Enabled {
		trigger = &review.Trigger{
			Rules:   ruleEngine,
			Queue:   reviewQueue,
			Topic:   cfg.Queue.Topic,
			Timeout: reviewTimeout,
			Logger:  internal.NewLogger("trigger"),
		}

		worker := &review.Worker{
			Queue: reviewQueue,
			Topic: cfg.Queue.Topic,
			LLM: &review.LLMClient{
				BaseURL: cfg.Review.BaseURL,
				APIKey:  cfg.Review.APIKey,
				Model:   cfg.Review.Model,
			},
			Results: results,
			Timeout: reviewTimeout,
			Logger:  internal.NewLogger("review"),
		}
		if cfg.Review.GitHubToken != "" {
			worker.Fetcher = review.NewFetcher(ctx, cfg.Review.GitHubToken, cfg.Review.MaxFiles)
			if cfg.Review.Comment {
				commenter, err := review.NewCommenter(ctx, cfg.Review.GitHubToken)
				if err != nil {
					logger.Fatalf("commenter: %v", err)
				}
				worker.Commenter = commenter
			}
		}
		go func() {
			if err := worker.Run(ctx); err != nil {
				logger.Printf("review worker stopped: %v", err)
			}
		}()
		logger.Printf("review pipeline enabled model=%s base_url=%s driver=%s", cfg.Review.Model, cfg.Review.BaseURL, cfg.Queue.Driver)
	}

	ghHandler := webhook.NewGitHubHandler(webhook.Config{
		Secret:        cfg.Webhook.Secret,
		AllowUnsigned: cfg.Webhook.AllowUnsigned,
		MaxBodyBytes:  cfg.Server.MaxBodyBytes,
		Store:         store,
		Hub:           eventHub,
		Trigger:       trigger,
		Logger:        internal.NewLogger("webhook"),
	})
	limited := internal.NewRateLimitHandler(ghHandler, cfg.Server.RateLimitRPS, cfg.Server.RateLimitBurst)

	mux := http.NewServeMux()
	mux.Handle(cfg.Webhook.Path, limited)
	mux.Handle(cfg.Webhook.AliasPath, limited)
	mux.Handle("/events", &hub.StreamHandler{Hub: eventHub, Store: store, Logger: internal.NewLogger("stream")})
	mux.Handle("/health", api.HealthHandler{})
	mux.Handle("/stats", &api.StatsHandler{Store: store})
	mux.Handle("/analyses", &review.AnalysesHandler{Results: results})
	mux.Handle("/analyses/last", &review.LastAnalysisHandler{Results: results})
	if cfg.Server.MetricsEnabled {
		mux.Handle(cfg.Server.MetricsPath, expvar.Handler())
	}

	addr := ":" + strconv.Itoa(cfg.Server.Port)
	server := &http.Server{
		Addr:              addr,
		Handler:           mux,
		ReadTimeout:       time.Duration(cfg.Server.ReadTimeoutMS) * time.Millisecond,
		IdleTimeout:       time.Duration(cfg.Server.IdleTimeoutMS) * time.Millisecond,
		ReadHeaderTimeout: time.Duration(cfg.Server.ReadHeaderMS) * time.Millisecond,
		// No WriteTimeout: /events streams until the client disconnects.
	}

	shutdown := make(chan os.Signal, 1)
	signal.Notify(shutdown, syscall.SIGINT, syscall.SIGTERM)

	go func() {
		logger.Printf("listening on %s", addr)
		if err := server.ListenAndServe(); err != nil && err != http.ErrServerClosed {
			logger.Fatalf("listen: %v", err)
		}
	}()

	<-shutdown
	cancel()
	shutdownCtx, shutdownCancel := context.WithTimeout(context.Background(), 10*time.Second)
	defer shutdownCancel()
	if err := server.Shutdown(shutdownCtx); err != nil {
		logger.Printf("shutdown: %v", err)
	}
}
