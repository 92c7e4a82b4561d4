package main

import (
	"context"
	"flag"
	"fmt"
	"net/http"
	"os"
	"os/signal"
	"strconv"
	"syscall"

	"AraChat/internal/backend"
	"AraChat/internal/cache"
	"AraChat/internal/chatbot"
	"AraChat/internal/config"
	"AraChat/internal/feedback"
	"AraChat/internal/geo"
	"AraChat/internal/server"
	"AraChat/internal/telemetry"
)

func floatFlag(name, usage string, dst **float64) {
	flag.Func(name, usage, func(s string) error {
		v, err := strconv.ParseFloat(s, 64)
		if err != nil {
			return err
		}
		*dst = &v
		return nil
	})
}

func main() {
	cfg := config.Default()

	flag.StringVar(&cfg.Model, "model", cfg.Model, "Gemini model name")
	flag.StringVar(&cfg.APIKey, "api-key", "", "Gemini API key (default: $GEMINI_API_KEY or $API_KEY)")
	flag.BoolVar(&cfg.Debug, "debug", false, "Enable debug logging")
	flag.StringVar(&cfg.LogDir, "log-dir", cfg.LogDir, "Directory for log, trace and metric files")
	flag.StringVar(&cfg.DBPath, "db", cfg.DBPath, "SQLite file for collected feedback")
	flag.StringVar(&cfg.Listen, "listen", "", "Serve WebSocket clients on this address instead of running the REPL")
	flag.Float64Var(&cfg.SendRate, "send-rate", cfg.SendRate, "Messages per second allowed per WebSocket client")
	flag.IntVar(&cfg.SendBurst, "send-burst", cfg.SendBurst, "Burst of messages allowed per WebSocket client")
	flag.DurationVar(&cfg.RequestTimeout, "timeout", cfg.RequestTimeout, "Deadline for one assistant call (0 = none)")
	flag.DurationVar(&cfg.CacheTTL, "cache-ttl", 0, "Cache identical requests for this long (0 = off)")
	floatFlag("lat", "Starting latitude for location-aware answers", &cfg.Latitude)
	floatFlag("lng", "Starting longitude for location-aware answers", &cfg.Longitude)

	flag.Parse()

	if err := run(cfg); err != nil {
		fmt.Fprintf(os.Stderr, "Error: %v\n", err)
		os.Exit(1)
	}
}

func run(cfg config.Config) error {
	if err := cfg.LoadEnv(); err != nil {
		return err
	}
	if err := cfg.Validate(); err != nil {
		return fmt.Errorf("invalid configuration: %w", err)
	}

	logger, logFile, err := telemetry.InitLogger(cfg.LogDir, cfg.Debug)
	if err != nil {
		return fmt.Errorf("failed to initialize logger: %w", err)
	}
	defer logFile.Close()

	ctx := context.Background()

	tracer, meter, shutdown, err := telemetry.InitTelemetry(ctx, cfg.LogDir)
	if err != nil {
		return fmt.Errorf("failed to initialize telemetry: %w", err)
	}
	defer shutdown()

	db, err := telemetry.InitDB(cfg.DBPath)
	if err != nil {
		return fmt.Errorf("failed to initialize database: %w", err)
	}
	defer db.Close()

	gemini, err := backend.NewGemini(ctx, cfg.APIKey, cfg.Model, http.DefaultClient, logger, tracer, meter)
	if err != nil {
		return err
	}
	assistant := cache.Wrap(gemini, cfg.CacheTTL, logger, meter)

	coordinator := chatbot.NewCoordinator(assistant, logger, tracer, meter)
	sink := feedback.NewSQLStore(db)
	provider := geo.Static{Location: cfg.Location()}

	newConversation := func() *chatbot.Conversation {
		fix := &geo.Fix{}
		// An unset location resolves to permission denied and simply
		// leaves the fix empty.
		_ = geo.Watch(ctx, provider, fix, logger)
		return chatbot.NewConversation(coordinator, fix, sink, cfg.RequestTimeout, logger, meter)
	}

	logger.Info("starting arachat", "model", cfg.Model, "listen", cfg.Listen, "cache_ttl", cfg.CacheTTL)

	if cfg.Listen != "" {
		ctx, stop := signal.NotifyContext(ctx, os.Interrupt, syscall.SIGTERM)
		defer stop()
		srv := server.New(newConversation, cfg.SendRate, cfg.SendBurst, logger)
		return srv.ListenAndServe(ctx, cfg.Listen)
	}

	bot := chatbot.NewChatBot(newConversation(), cfg.Model, os.Stdin, os.Stdout, logger)
	return bot.Run(ctx)
}
