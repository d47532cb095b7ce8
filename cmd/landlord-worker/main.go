package main

import (
	"context"
	"fmt"
	"log/slog"
	"os"
	"os/signal"
	"strings"
	"syscall"
	"time"

	"landlord/internal/config"
	"landlord/internal/db"
	"landlord/internal/game"
	"landlord/internal/notify"
)

func main() {
	ctx, stop := signal.NotifyContext(context.Background(), syscall.SIGINT, syscall.SIGTERM)
	defer stop()

	cfg, err := config.LoadAPIFromEnv()
	if err != nil {
		slog.Error("load config", "err", err)
		os.Exit(1)
	}

	logger := slog.New(slog.NewJSONHandler(os.Stdout, &slog.HandlerOptions{Level: slog.LevelInfo}))
	pool, err := db.Connect(ctx, cfg.DatabaseURL)
	if err != nil {
		logger.Error("db connect failed", "err", err)
		os.Exit(1)
	}
	defer pool.Close()

	if err := db.EnsureSchema(ctx, pool); err != nil {
		logger.Error("schema apply failed", "err", err)
		os.Exit(1)
	}

	svc := game.NewService(pool, logger)
	worldID, err := svc.ActiveWorldID(ctx)
	if err != nil {
		logger.Error("active world init failed", "err", err)
		os.Exit(1)
	}
	if cfg.StartupSeedPool {
		if _, err := svc.ReplenishPool(ctx, worldID, cfg.MinListed); err != nil {
			logger.Error("pool seed failed", "err", err)
			os.Exit(1)
		}
	}
	if err := svc.EnsureBots(ctx, worldID, cfg.BotCount); err != nil {
		logger.Error("bot seed failed", "err", err)
		os.Exit(1)
	}

	dispatcher := buildDispatcher(ctx, cfg, logger)
	defer dispatcher.Close()

	opts := game.TickOptions{
		Mood:      cfg.MarketMood,
		MinListed: cfg.MinListed,
		BotTarget: cfg.BotCount,
	}

	runOnce := strings.EqualFold(strings.TrimSpace(os.Getenv("LANDLORD_WORKER_RUN_ONCE")), "true")
	if runOnce {
		if err := tickAllWorlds(ctx, svc, logger, dispatcher, opts); err != nil {
			logger.Error("tick failed", "err", err)
			os.Exit(1)
		}
		logger.Info("worker run-once completed")
		return
	}

	ticker := time.NewTicker(cfg.TickEvery)
	defer ticker.Stop()

	logger.Info("worker started", "tick_every", cfg.TickEvery.String(), "mood", cfg.MarketMood)
	for {
		select {
		case <-ctx.Done():
			logger.Info("worker shutdown")
			return
		case <-ticker.C:
			if err := tickAllWorlds(ctx, svc, logger, dispatcher, opts); err != nil {
				logger.Error("tick failed", "err", err)
				continue
			}
		}
	}
}

func tickAllWorlds(ctx context.Context, svc *game.Service, logger *slog.Logger, dispatcher *notify.Dispatcher, opts game.TickOptions) error {
	worldIDs, err := svc.WorldIDs(ctx)
	if err != nil {
		return err
	}
	for _, worldID := range worldIDs {
		report, err := svc.RunWorldTick(ctx, worldID, opts)
		if err != nil {
			logger.Error("world tick failed", "world_id", worldID, "err", err)
			continue
		}
		logger.Info("world tick complete",
			"world_id", worldID,
			"game_now", report.GameNow,
			"escrow_events", len(report.Escrows),
			"rent_months", report.RentMonths,
			"rent_micros", report.RentMicros,
			"revalued", report.Revalued,
			"regime", report.Regime,
			"listed", report.Listed,
			"bot_invests", report.BotInvests,
			"bot_divests", report.BotDivests,
		)
		publishReport(ctx, dispatcher, report)
	}
	return nil
}

func publishReport(ctx context.Context, dispatcher *notify.Dispatcher, report game.TickReport) {
	for _, e := range report.Escrows {
		if !e.Terminal() {
			continue
		}
		kind := notify.KindEscrowFailed
		text := fmt.Sprintf("escrow #%d fell through at %s: %s", e.EscrowID, e.Address, e.Note)
		if e.State == game.EscrowCompleted {
			kind = notify.KindEscrowClosed
			text = fmt.Sprintf("escrow #%d closed: %.1f shares of %s", e.EscrowID, game.UnitsToShares(e.Units), e.Address)
		}
		dispatcher.Publish(ctx, notify.Event{Kind: kind, WorldID: report.WorldID, Text: text})
	}
	if report.RentMicros > 0 {
		dispatcher.Publish(ctx, notify.Event{
			Kind:    notify.KindRentDigest,
			WorldID: report.WorldID,
			Text: fmt.Sprintf("rent day: $%.2f paid out across %d property-months",
				float64(report.RentMicros)/float64(game.MicrosPerDollar), report.RentMonths),
		})
	}
	if report.RegimeShift {
		dispatcher.Publish(ctx, notify.Event{
			Kind:    notify.KindRegimeShift,
			WorldID: report.WorldID,
			Text:    fmt.Sprintf("market regime shifted to %s", report.Regime),
		})
	}
	if report.Listed > 0 {
		dispatcher.Publish(ctx, notify.Event{
			Kind:    notify.KindPoolListed,
			WorldID: report.WorldID,
			Text:    fmt.Sprintf("%d new listings hit the market", report.Listed),
		})
	}
}

func buildDispatcher(ctx context.Context, cfg config.APIConfig, logger *slog.Logger) *notify.Dispatcher {
	var sinks []notify.Sink
	if cfg.DiscordToken != "" && cfg.DiscordChannel != "" {
		discord, err := notify.NewDiscord(cfg.DiscordToken, cfg.DiscordChannel)
		if err != nil {
			logger.Error("discord setup failed", "err", err)
		} else {
			sinks = append(sinks, discord)
			logger.Info("discord notifications enabled", "channel_id", cfg.DiscordChannel)
		}
	}
	if cfg.WhatsAppJID != "" {
		wa, err := notify.NewWhatsApp(ctx, cfg.DatabaseURL, cfg.WhatsAppJID)
		if err != nil {
			logger.Error("whatsapp setup failed", "err", err)
		} else {
			sinks = append(sinks, wa)
			logger.Info("whatsapp notifications enabled", "jid", cfg.WhatsAppJID)
		}
	}
	if len(sinks) == 0 {
		return nil
	}
	return notify.NewDispatcher(logger, sinks...)
}
