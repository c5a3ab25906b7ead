package main

import (
	"context"
	"flag"
	"fmt"
	"log"
	"net/http"
	"os"
	"os/signal"
	"syscall"
	"time"

	"orderwatch/config"
	"orderwatch/engine"
	"orderwatch/logging"
	"orderwatch/messaging"
	"orderwatch/store"
	"orderwatch/www"

	"github.com/joho/godotenv"
	"go.uber.org/zap"
)

func main() {
	configPath := flag.String("config", "orderwatch.yaml", "path to config file")
	debug := flag.Bool("debug", false, "enable debug logging")
	port := flag.Int("port", 0, "HTTP port (overrides config)")
	role := flag.String("role", "", "consumer or merchant (overrides config)")
	flag.Parse()

	// .env is optional
	if err := godotenv.Load(); err != nil && !os.IsNotExist(err) {
		log.Printf("load .env: %v", err)
	}

	cfg, err := config.Load(*configPath)
	if err != nil {
		log.Fatalf("load config: %v", err)
	}
	if *port > 0 {
		cfg.Web.Port = *port
	}
	if *role != "" {
		cfg.Role = *role
	}

	logger, err := logging.New(cfg.Log, *debug)
	if err != nil {
		log.Fatalf("logger: %v", err)
	}
	defer logger.Sync()

	db, err := store.Open(&cfg.Database)
	if err != nil {
		logger.Fatal("open database", zap.Error(err))
	}
	defer db.Close()
	logger.Info("database open", zap.String("driver", db.Driver()))

	eng := engine.New(engine.Config{
		AppConfig: cfg,
		DB:        db,
		Logger:    logger,
	})

	startCtx, cancelStart := context.WithTimeout(context.Background(), 30*time.Second)
	err = eng.Start(startCtx)
	cancelStart()
	if err != nil {
		logger.Fatal("start engine", zap.Error(err))
	}
	defer eng.Stop()

	var relayStatus www.Relay
	if cfg.Messaging.Enabled {
		if n, err := db.PurgeSentOutbox(24 * time.Hour); err != nil {
			logger.Warn("purge outbox", zap.Error(err))
		} else if n > 0 {
			logger.Info("purged delivered outbox messages", zap.Int64("count", n))
		}

		msgClient := messaging.NewClient(&cfg.Messaging)
		defer msgClient.Close()
		relayStatus = msgClient
		if err := msgClient.Connect(); err != nil {
			logger.Warn("messaging connect failed, relay will retry via outbox",
				zap.String("backend", msgClient.Backend()), zap.Error(err))
		} else {
			logger.Info("messaging connected", zap.String("backend", msgClient.Backend()))
		}

		relay := messaging.NewRelay(db, cfg.Messaging.NotificationTopic, cfg.NodeID(), cfg.Messaging.NotificationTTL, logger)
		eng.AddNotifier(relay)

		drainer := messaging.NewOutboxDrainer(db, msgClient, cfg.Messaging.OutboxDrainInterval, logger)
		drainer.Start()
		defer drainer.Stop()
	}

	var server *http.Server
	stopWeb := func() {}
	if cfg.Web.Enabled {
		deps := www.DepsFromEngine(eng)
		deps.Relay = relayStatus
		deps.Logger = logger
		var router http.Handler
		router, stopWeb = www.NewRouter(deps)

		addr := fmt.Sprintf("%s:%d", cfg.Web.Host, cfg.Web.Port)
		server = &http.Server{Addr: addr, Handler: router}
		go func() {
			logger.Info("orderwatch listening", zap.String("addr", addr))
			if err := server.ListenAndServe(); err != nil && err != http.ErrServerClosed {
				logger.Fatal("http server", zap.Error(err))
			}
		}()
	}
	defer stopWeb()

	sigCh := make(chan os.Signal, 1)
	signal.Notify(sigCh, syscall.SIGINT, syscall.SIGTERM)
	<-sigCh

	logger.Info("shutting down")

	// Stop SSE event hub first so long-lived connections close
	stopWeb()

	if server != nil {
		ctx, cancel := context.WithTimeout(context.Background(), 10*time.Second)
		defer cancel()
		if err := server.Shutdown(ctx); err != nil {
			logger.Warn("http server shutdown", zap.Error(err))
		}
	}
}
