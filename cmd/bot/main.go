package main

import (
	"context"
	"fmt"
	"log"
	"os"
	"os/signal"
	"syscall"

	"referral-bot/internal/bot"
	"referral-bot/internal/config"
	"referral-bot/internal/database"
	"referral-bot/internal/ledger"
	"referral-bot/internal/lock"
	"referral-bot/internal/membership"
	"referral-bot/internal/storage"
)

func main() {
	if err := run(); err != nil {
		log.Fatalf("Bot exited: %v", err)
	}
}

// run owns every resource it opens, so deferred cleanups run on any error.
func run() error {
	// Load Configuration
	cfg, err := config.LoadConfig()
	if err != nil {
		return fmt.Errorf("invalid configuration: %w", err)
	}

	ctx, stop := signal.NotifyContext(context.Background(), os.Interrupt, syscall.SIGTERM)
	defer stop()

	// Connect to Database
	db, err := database.Connect(cfg)
	if err != nil {
		return fmt.Errorf("could not connect to database: %w", err)
	}
	defer database.Close(db)

	// Redis is optional and only backs the per-user lock
	rdb, err := database.ConnectRedis(ctx, cfg)
	if err != nil {
		return fmt.Errorf("could not connect to redis: %w", err)
	}

	var locker lock.Locker = lock.NewKeyedMutex()
	if rdb != nil {
		defer rdb.Close()
		locker = lock.NewRedisLocker(rdb, cfg.LockTTL)
	}

	tgBot, err := bot.NewClient(cfg.BotToken)
	if err != nil {
		return err
	}

	verifier := membership.NewVerifier(tgBot, cfg.ChannelID, cfg.MembershipTimeout)
	referrals := ledger.New(storage.NewStore(db), verifier, locker, ledger.Options{
		ReferralReward:    cfg.ReferralReward,
		WithdrawThreshold: cfg.WithdrawThreshold,
		LeaderboardSize:   cfg.LeaderboardSize,
	})

	app, err := bot.NewBot(ctx, tgBot, referrals, bot.Options{
		BotUsername:        cfg.BotUsername,
		AdminChatID:        cfg.AdminChatID,
		DropPendingUpdates: cfg.SkipPendingUpdates,
	})
	if err != nil {
		return err
	}

	go func() {
		<-ctx.Done()
		log.Println("Shutting down")
		app.Stop()
	}()

	log.Println("Service started successfully")
	if err := app.Start(ctx); err != nil {
		return fmt.Errorf("bot stopped: %w", err)
	}
	return nil
}
