package bot

import (
	"fmt"
	"strings"

	"referral-bot/internal/ledger"
)

const (
	msgNotSubscribed  = "❌ You must join our Telegram channel to use this bot!"
	msgWithdrawSent   = "✅ Withdrawal request sent! Admin will process your payment soon."
	msgGenericFailure = "⚠️ Something went wrong. Please try again later."
	btnInvite         = "Invite & Earn 💰"

	msgHelp = "🤖 Commands:\n" +
		"/start - get your referral link\n" +
		"/balance - show your balance\n" +
		"/withdraw - request a payout\n" +
		"/leaderboard - top earners"
)

// ReferralLink is the deep link that starts the bot with userID as payload.
func ReferralLink(botUsername string, userID int64) string {
	return fmt.Sprintf("https://t.me/%s?start=%d", botUsername, userID)
}

func welcomeText(link string, invited int64, showInvited bool) string {
	text := fmt.Sprintf("👋 Welcome! Earn money by inviting friends.\n\nYour Referral Link:\n%s", link)
	if showInvited {
		text += fmt.Sprintf("\n\n👥 Invited: %d", invited)
	}
	return text
}

func balanceText(balance int64) string {
	return fmt.Sprintf("💰 Your balance: %d Taka", balance)
}

func insufficientText(threshold int64) string {
	return fmt.Sprintf("❌ You need at least %d Taka to withdraw.", threshold)
}

func leaderboardText(entries []ledger.Entry) string {
	var sb strings.Builder
	sb.WriteString("🏆 Top Earners:\n")
	for _, e := range entries {
		fmt.Fprintf(&sb, "%d. User %d - %d Taka\n", e.Rank, e.UserID, e.Balance)
	}
	return sb.String()
}

func adminWithdrawalText(w ledger.Withdrawal) string {
	return fmt.Sprintf("💸 New withdrawal request\n\nID: %s\nUser: %d\nAmount: %d Taka\nRemaining balance: %d Taka",
		w.RequestID, w.UserID, w.Amount, w.Remaining)
}
