package bot

import (
	"context"
	"fmt"
	"log"

	"github.com/mymmrac/telego"
	th "github.com/mymmrac/telego/telegohandler"
)

// Bot owns the telegram client and the update loop.
// Lifecycle: NewBot, then Start (blocks), then Stop.
type Bot struct {
	Instance   *telego.Bot
	Dispatcher *Dispatcher
	// DropPendingUpdates discards updates queued while the bot was offline.
	DropPendingUpdates bool
	handler            *th.BotHandler
}

type Options struct {
	BotUsername        string
	AdminChatID        int64
	DropPendingUpdates bool
}

// NewClient creates the telegram API client shared by the bot and the
// membership verifier.
func NewClient(token string) (*telego.Bot, error) {
	tgBot, err := telego.NewBot(token)
	if err != nil {
		return nil, fmt.Errorf("failed to create bot: %w", err)
	}
	return tgBot, nil
}

// NewBot wires the dispatcher. An empty BotUsername is resolved through
// getMe so referral links always point at this bot.
func NewBot(ctx context.Context, tgBot *telego.Bot, ledger Ledger, opts Options) (*Bot, error) {
	botUsername := opts.BotUsername
	if botUsername == "" {
		me, err := tgBot.GetMe(ctx)
		if err != nil {
			return nil, fmt.Errorf("failed to resolve bot username: %w", err)
		}
		botUsername = me.Username
	}
	log.Printf("Authorized as @%s", botUsername)

	return &Bot{
		Instance: tgBot,
		Dispatcher: &Dispatcher{
			Sender:      tgBot,
			Ledger:      ledger,
			BotUsername: botUsername,
			AdminChatID: opts.AdminChatID,
		},
		DropPendingUpdates: opts.DropPendingUpdates,
	}, nil
}

type webhookDeleter interface {
	DeleteWebhook(ctx context.Context, params *telego.DeleteWebhookParams) error
}

// dropPendingUpdates clears the server-side queue so commands sent while the
// bot was down, stale withdrawals included, are not replayed.
func dropPendingUpdates(ctx context.Context, api webhookDeleter) error {
	if err := api.DeleteWebhook(ctx, &telego.DeleteWebhookParams{DropPendingUpdates: true}); err != nil {
		return fmt.Errorf("failed to drop pending updates: %w", err)
	}
	log.Println("Dropped pending updates")
	return nil
}

// Start polls for updates until ctx is cancelled or Stop is called.
func (b *Bot) Start(ctx context.Context) error {
	if b.DropPendingUpdates {
		if err := dropPendingUpdates(ctx, b.Instance); err != nil {
			return err
		}
	}

	updates, err := b.Instance.UpdatesViaLongPolling(ctx, nil)
	if err != nil {
		return fmt.Errorf("failed to start long polling: %w", err)
	}

	handler, err := th.NewBotHandler(b.Instance, updates)
	if err != nil {
		return fmt.Errorf("failed to create update handler: %w", err)
	}
	b.handler = handler

	handler.Use(th.PanicRecovery())

	d := b.Dispatcher
	handler.Handle(onMessage("start", d.HandleStart), th.CommandEqual("start"))
	handler.Handle(onMessage("balance", d.HandleBalance), th.CommandEqual("balance"))
	handler.Handle(onMessage("withdraw", d.HandleWithdraw), th.CommandEqual("withdraw"))
	handler.Handle(onMessage("leaderboard", d.HandleLeaderboard), th.CommandEqual("leaderboard"))
	handler.Handle(onMessage("help", d.HandleHelp), th.CommandEqual("help"))

	log.Println("Bot started, waiting for updates")
	return handler.Start()
}

func (b *Bot) Stop() {
	if b.handler == nil {
		return
	}
	if err := b.handler.Stop(); err != nil {
		log.Printf("Failed to stop update handler: %v", err)
	}
	log.Println("Bot stopped")
}

// onMessage adapts a dispatcher method to a telego handler. Errors are
// logged and swallowed so one failed reply never stops the update loop.
func onMessage(command string, fn func(context.Context, telego.Message) error) th.Handler {
	return func(ctx *th.Context, update telego.Update) error {
		msg := update.Message
		if msg == nil || msg.From == nil {
			return nil
		}
		if err := fn(ctx.Context(), *msg); err != nil {
			log.Printf("Failed to reply to /%s from %d: %v", command, msg.From.ID, err)
		}
		return nil
	}
}
