package telegram

import (
	"errors"
	"fmt"
	"strconv"
	"strings"

	tele "gopkg.in/telebot.v4"

	"github.com/nfrelink/telegram-scheduler-bot/internal/storage"
)

// Channel ownership is proven by posting a one-time code into the channel:
// only someone with posting rights can do that, and the bot sees it because it
// must be a channel admin anyway to deliver posts.

func (a *Adapter) handleAddChannel(c tele.Context) error {
	args := c.Args()
	if len(args) != 1 {
		return c.Send("Usage: /addchannel <@channelname> or /addchannel <chat id>")
	}
	channelID := args[0]
	if !validChannelRef(channelID) {
		return c.Send("That doesn't look like a channel. Use @channelname or a numeric chat ID like -1001234567890.")
	}

	ctx, cancel := opCtx()
	defer cancel()

	if _, err := a.store.ChannelByTelegramID(ctx, channelID); err == nil {
		return c.Send("That channel is already registered.")
	} else if !errors.Is(err, storage.ErrNotFound) {
		return err
	}

	code, err := a.store.CreateVerificationCode(ctx, c.Sender().ID, channelID)
	if err != nil {
		return err
	}
	return c.Send(fmt.Sprintf(
		"To verify you control %s:\n"+
			"1. Add me to the channel as an administrator with posting rights.\n"+
			"2. Post this code in the channel (I'll delete it):\n\n%s\n\n"+
			"The code expires in 10 minutes.",
		channelID, code))
}

// handleChannelPost watches channel posts for outstanding verification codes.
// Everything else in channels is ignored.
func (a *Adapter) handleChannelPost(c tele.Context) error {
	msg := c.Message()
	chat := c.Chat()
	if msg == nil || chat == nil {
		return nil
	}
	code := strings.TrimSpace(msg.Text)
	if !looksLikeCode(code) {
		return nil
	}

	ctx, cancel := opCtx()
	defer cancel()

	// The user may have registered the channel by @name or by numeric ID;
	// try both forms this chat answers to.
	var userID int64
	var matched string
	for _, ref := range chatRefs(chat) {
		id, err := a.store.ConsumeVerificationCode(ctx, code, ref)
		if errors.Is(err, storage.ErrNotFound) {
			continue
		}
		if err != nil {
			return err
		}
		userID = id
		matched = ref
		break
	}
	if matched == "" {
		return nil
	}

	name := chat.Title
	if name == "" {
		name = matched
	}
	dbID, err := a.store.CreateChannel(ctx, userID, matched, name)
	if err != nil {
		return err
	}

	// Best effort; the bot may lack delete rights.
	if err := a.bot.Delete(msg); err != nil {
		a.log.Debug().Err(err).Str("channel", matched).Msg("could not delete verification post")
	}

	a.log.Info().Int64("user_id", userID).Str("channel", matched).Msg("channel verified")
	return a.Notify(ctx, userID, fmt.Sprintf(
		"Channel %s verified and registered as #%d.\n"+
			"Create a schedule for it with /newschedule %d <name> <pattern>.",
		name, dbID, dbID))
}

func chatRefs(chat *tele.Chat) []string {
	refs := []string{strconv.FormatInt(chat.ID, 10)}
	if chat.Username != "" {
		refs = append(refs, "@"+chat.Username)
	}
	return refs
}

func validChannelRef(s string) bool {
	if strings.HasPrefix(s, "@") {
		return len(s) > 1
	}
	n, err := strconv.ParseInt(s, 10, 64)
	return err == nil && n < 0
}

// looksLikeCode filters channel traffic cheaply before hitting the database:
// verification codes are UUIDs.
func looksLikeCode(s string) bool {
	if len(s) != 36 {
		return false
	}
	for i, r := range s {
		switch i {
		case 8, 13, 18, 23:
			if r != '-' {
				return false
			}
		default:
			if !(r >= '0' && r <= '9' || r >= 'a' && r <= 'f' || r >= 'A' && r <= 'F') {
				return false
			}
		}
	}
	return true
}
