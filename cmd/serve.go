package cmd

import (
	"context"
	"log/slog"
	"os"
	"os/signal"
	"sync"
	"syscall"
	"time"

	"github.com/spf13/cobra"

	"github.com/threadclaw/threadclaw/internal/bus"
	"github.com/threadclaw/threadclaw/internal/config"
	"github.com/threadclaw/threadclaw/internal/engine"
	"github.com/threadclaw/threadclaw/internal/janitor"
	"github.com/threadclaw/threadclaw/internal/overflow"
	"github.com/threadclaw/threadclaw/internal/platform/discord"
	"github.com/threadclaw/threadclaw/internal/router"
	"github.com/threadclaw/threadclaw/internal/sessions"
	"github.com/threadclaw/threadclaw/internal/state"
	filestate "github.com/threadclaw/threadclaw/internal/state/file"
	sqlitestate "github.com/threadclaw/threadclaw/internal/state/sqlite"
	"github.com/threadclaw/threadclaw/internal/telemetry"
)

// consumerWorkers bounds how many inbound events are handled concurrently.
// Turns on the same thread are still serialized by the router.
const consumerWorkers = 8

func serveCmd() *cobra.Command {
	return &cobra.Command{
		Use:   "serve",
		Short: "Connect to Discord and start routing messages",
		Run: func(cmd *cobra.Command, args []string) {
			runServe()
		},
	}
}

func runServe() {
	setupLogging(nil)

	cfgPath := resolveConfigPath()
	if cfgPath == "" {
		cfgPath = config.DefaultPath()
	}
	cfg, err := config.Load(cfgPath)
	if err != nil {
		slog.Error("failed to load config", "error", err)
		os.Exit(1)
	}
	setupLogging(&cfg.Logging)

	if err := cfg.Validate(); err != nil {
		slog.Error("invalid configuration", "error", err)
		os.Exit(1)
	}

	ctx, cancel := context.WithCancel(context.Background())
	defer cancel()

	tracer, shutdownTracing, err := telemetry.Setup(ctx, cfg.Telemetry.OTLPEndpoint, Version)
	if err != nil {
		slog.Error("telemetry setup failed", "error", err)
		os.Exit(1)
	}
	defer func() {
		shutdownCtx, done := context.WithTimeout(context.Background(), 5*time.Second)
		defer done()
		if err := shutdownTracing(shutdownCtx); err != nil {
			slog.Warn("trace flush failed", "error", err)
		}
	}()

	store, err := openStore(cfg)
	if err != nil {
		slog.Error("failed to open state store", "error", err)
		os.Exit(1)
	}
	defer store.Close()

	table := sessions.NewTable(store, sessions.Mode(cfg.Sessions.Mode))
	runner := engine.NewCLIRunner(cfg.Engine.Command, cfg.Engine.Args, cfg.ProjectWorkdirs())

	msgBus := bus.New()
	rt := router.New(router.Options{
		Store:          store,
		Table:          table,
		Messenger:      nil, // set after the bot exists
		Runner:         runner,
		Projects:       runner,
		Policy:         overflow.Policy(cfg.Overflow.Policy),
		MessageLimit:   cfg.Overflow.Limit,
		DefaultProject: cfg.Discord.DefaultProject,
		Tracer:         tracer,
	})

	bot, err := discord.New(cfg.Discord, msgBus, rt)
	if err != nil {
		slog.Error("failed to create discord bot", "error", err)
		os.Exit(1)
	}
	rt.SetMessenger(bot)

	if err := bot.Start(ctx); err != nil {
		slog.Error("failed to start discord bot", "error", err)
		os.Exit(1)
	}
	defer bot.Stop(context.Background())

	if cfg.Sessions.CleanupSchedule != "" {
		keep := time.Duration(cfg.Sessions.RetentionDays) * 24 * time.Hour
		j, err := janitor.New(table, cfg.Sessions.CleanupSchedule, keep)
		if err != nil {
			slog.Error("invalid cleanup schedule", "error", err)
			os.Exit(1)
		}
		go j.Run(ctx)
	}

	var wg sync.WaitGroup
	for i := 0; i < consumerWorkers; i++ {
		wg.Add(1)
		go func() {
			defer wg.Done()
			consumeInbound(ctx, msgBus, rt)
		}()
	}

	slog.Info("threadclaw running",
		"projects", len(cfg.Projects),
		"backend", cfg.Sessions.Backend,
		"mode", cfg.Sessions.Mode,
	)

	sigCh := make(chan os.Signal, 1)
	signal.Notify(sigCh, syscall.SIGINT, syscall.SIGTERM)
	sig := <-sigCh
	slog.Info("graceful shutdown initiated", "signal", sig)

	cancel()
	wg.Wait()
}

// consumeInbound drains the bus into the router until ctx is done.
func consumeInbound(ctx context.Context, msgBus *bus.Bus, rt *router.Router) {
	for {
		ev, ok := msgBus.ConsumeInbound(ctx)
		if !ok {
			return
		}
		if err := rt.Handle(ctx, ev); err != nil {
			slog.Debug("event not routed",
				"channel_id", ev.ChannelID, "message_id", ev.MessageID, "error", err)
		}
	}
}

func openStore(cfg *config.Config) (state.Store, error) {
	switch cfg.Sessions.Backend {
	case "sqlite":
		return sqlitestate.Open(cfg.StoragePath())
	default:
		return filestate.Open(cfg.StoragePath())
	}
}

// setupLogging configures the default logger. Called once before config
// load with defaults, and again after with the configured level/format.
func setupLogging(lc *config.LoggingConfig) {
	level := slog.LevelInfo
	format := "text"
	if lc != nil {
		switch lc.Level {
		case "debug":
			level = slog.LevelDebug
		case "warn":
			level = slog.LevelWarn
		case "error":
			level = slog.LevelError
		}
		format = lc.Format
	}
	if verbose {
		level = slog.LevelDebug
	}

	opts := &slog.HandlerOptions{Level: level}
	var handler slog.Handler = slog.NewTextHandler(os.Stdout, opts)
	if format == "json" {
		handler = slog.NewJSONHandler(os.Stdout, opts)
	}
	slog.SetDefault(slog.New(handler))
}
