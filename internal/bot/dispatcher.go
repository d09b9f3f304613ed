package bot

import (
	"context"
	"errors"
	"log"
	"strconv"
	"strings"

	"github.com/mymmrac/telego"
	tu "github.com/mymmrac/telego/telegoutil"

	"referral-bot/internal/ledger"
)

// Sender delivers replies. *telego.Bot satisfies it.
type Sender interface {
	SendMessage(ctx context.Context, params *telego.SendMessageParams) (*telego.Message, error)
}

// Ledger is the set of referral operations the dispatcher routes to.
type Ledger interface {
	Join(ctx context.Context, userID int64, referrerID *int64) (ledger.JoinResult, error)
	GetBalance(ctx context.Context, userID int64) (int64, error)
	Withdraw(ctx context.Context, userID int64) (ledger.Withdrawal, error)
	Leaderboard(ctx context.Context, limit int) ([]ledger.Entry, error)
	Referrals(ctx context.Context, userID int64) (int64, error)
	WithdrawThreshold() int64
}

// Dispatcher turns commands into ledger calls and ledger results into replies.
type Dispatcher struct {
	Sender      Sender
	Ledger      Ledger
	BotUsername string
	AdminChatID int64
}

// ParseReferrer extracts the referrer id from a "/start <payload>" text.
// Anything other than a positive integer payload means no referrer.
func ParseReferrer(text string) *int64 {
	parts := strings.Fields(text)
	if len(parts) < 2 {
		return nil
	}
	id, err := strconv.ParseInt(parts[1], 10, 64)
	if err != nil || id <= 0 {
		return nil
	}
	return &id
}

func (d *Dispatcher) HandleStart(ctx context.Context, msg telego.Message) error {
	userID := msg.From.ID

	_, err := d.Ledger.Join(ctx, userID, ParseReferrer(msg.Text))
	if errors.Is(err, ledger.ErrNotSubscribed) {
		return d.reply(ctx, msg, msgNotSubscribed)
	}
	if err != nil {
		return d.fail(ctx, msg, "start", err)
	}

	invited, err := d.Ledger.Referrals(ctx, userID)
	showInvited := err == nil
	if err != nil {
		log.Printf("Failed to count referrals for %d: %v", userID, err)
	}

	link := ReferralLink(d.BotUsername, userID)
	keyboard := tu.InlineKeyboard(
		tu.InlineKeyboardRow(
			tu.InlineKeyboardButton(btnInvite).WithURL(link),
		),
	)

	_, err = d.Sender.SendMessage(ctx, tu.Message(
		tu.ID(msg.Chat.ID),
		welcomeText(link, invited, showInvited),
	).WithReplyMarkup(keyboard))
	return err
}

func (d *Dispatcher) HandleBalance(ctx context.Context, msg telego.Message) error {
	balance, err := d.Ledger.GetBalance(ctx, msg.From.ID)
	if err != nil {
		return d.fail(ctx, msg, "balance", err)
	}
	return d.reply(ctx, msg, balanceText(balance))
}

func (d *Dispatcher) HandleWithdraw(ctx context.Context, msg telego.Message) error {
	w, err := d.Ledger.Withdraw(ctx, msg.From.ID)
	if errors.Is(err, ledger.ErrInsufficientBalance) {
		return d.reply(ctx, msg, insufficientText(d.Ledger.WithdrawThreshold()))
	}
	if err != nil {
		return d.fail(ctx, msg, "withdraw", err)
	}

	if d.AdminChatID != 0 {
		if _, err := d.Sender.SendMessage(ctx, tu.Message(tu.ID(d.AdminChatID), adminWithdrawalText(w))); err != nil {
			log.Printf("Failed to notify admin about withdrawal %s: %v", w.RequestID, err)
		}
	}

	return d.reply(ctx, msg, msgWithdrawSent)
}

func (d *Dispatcher) HandleLeaderboard(ctx context.Context, msg telego.Message) error {
	entries, err := d.Ledger.Leaderboard(ctx, 0)
	if err != nil {
		return d.fail(ctx, msg, "leaderboard", err)
	}
	return d.reply(ctx, msg, leaderboardText(entries))
}

func (d *Dispatcher) HandleHelp(ctx context.Context, msg telego.Message) error {
	return d.reply(ctx, msg, msgHelp)
}

func (d *Dispatcher) reply(ctx context.Context, msg telego.Message, text string) error {
	_, err := d.Sender.SendMessage(ctx, tu.Message(tu.ID(msg.Chat.ID), text))
	return err
}

// fail logs an unexpected error and sends a generic reply.
func (d *Dispatcher) fail(ctx context.Context, msg telego.Message, command string, err error) error {
	log.Printf("Command /%s failed for user %d: %v", command, msg.From.ID, err)
	return d.reply(ctx, msg, msgGenericFailure)
}
