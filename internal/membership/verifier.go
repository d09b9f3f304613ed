package membership

import (
	"context"
	"log"
	"strconv"
	"strings"
	"time"

	"github.com/mymmrac/telego"
	tu "github.com/mymmrac/telego/telegoutil"
)

// ChatMemberGetter is the part of *telego.Bot the verifier uses.
type ChatMemberGetter interface {
	GetChatMember(ctx context.Context, params *telego.GetChatMemberParams) (telego.ChatMember, error)
}

// Verifier checks that a user belongs to the required channel.
type Verifier struct {
	API     ChatMemberGetter
	Channel telego.ChatID
	Timeout time.Duration
}

func NewVerifier(api ChatMemberGetter, channel string, timeout time.Duration) *Verifier {
	return &Verifier{
		API:     api,
		Channel: ParseChatID(channel),
		Timeout: timeout,
	}
}

// ParseChatID accepts either a numeric chat id or a channel @username.
func ParseChatID(channel string) telego.ChatID {
	channel = strings.TrimSpace(channel)
	if id, err := strconv.ParseInt(channel, 10, 64); err == nil {
		return tu.ID(id)
	}
	if !strings.HasPrefix(channel, "@") {
		channel = "@" + channel
	}
	return tu.Username(channel)
}

// IsMember fails closed: any error from the API counts as not a member.
func (v *Verifier) IsMember(ctx context.Context, userID int64) bool {
	if v.Timeout > 0 {
		var cancel context.CancelFunc
		ctx, cancel = context.WithTimeout(ctx, v.Timeout)
		defer cancel()
	}

	member, err := v.API.GetChatMember(ctx, &telego.GetChatMemberParams{
		ChatID: v.Channel,
		UserID: userID,
	})
	if err != nil {
		log.Printf("Membership check failed for %d (verification unavailable): %v", userID, err)
		return false
	}
	if member == nil {
		log.Printf("Membership check for %d returned no member", userID)
		return false
	}

	status := member.MemberStatus()
	switch status {
	case telego.MemberStatusCreator, telego.MemberStatusAdministrator, telego.MemberStatusMember:
		return true
	default:
		log.Printf("User %d is not a channel member (status=%s)", userID, status)
		return false
	}
}
