// Package telegram is the bot's Telegram surface: it delivers queued posts to
// channels, sends owner notifications, and implements the command interface
// used to manage channels, schedules, and queues.
package telegram

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"strings"
	"time"

	"github.com/rs/zerolog"
	tele "gopkg.in/telebot.v4"

	"github.com/nfrelink/telegram-scheduler-bot/internal/config"
	"github.com/nfrelink/telegram-scheduler-bot/internal/storage"
)

// Adapter owns the telebot instance. It implements scheduler.Deliverer and
// scheduler.Notifier and registers the command handlers.
type Adapter struct {
	bot   *tele.Bot
	store *storage.Store
	cfg   config.Config
	log   zerolog.Logger
}

// New creates the adapter and registers all handlers. The poller is not
// started until Start.
func New(cfg config.Config, store *storage.Store, log zerolog.Logger) (*Adapter, error) {
	if strings.TrimSpace(cfg.Token) == "" {
		return nil, errors.New("telegram token is empty")
	}
	b, err := tele.NewBot(tele.Settings{
		Token:  cfg.Token,
		Poller: &tele.LongPoller{Timeout: 10 * time.Second},
	})
	if err != nil {
		return nil, err
	}

	a := &Adapter{bot: b, store: store, cfg: cfg, log: log}
	a.registerHandlers()
	return a, nil
}

// Start runs the long poller until ctx is done.
func (a *Adapter) Start(ctx context.Context) {
	go func() {
		<-ctx.Done()
		a.bot.Stop()
	}()
	a.log.Info().Str("bot", a.bot.Me.Username).Msg("telegram poller started")
	a.bot.Start()
	a.log.Info().Msg("telegram poller stopped")
}

// recipient adapts a stored channel ID ("@name" or "-100...") to telebot.
type recipient string

func (r recipient) Recipient() string { return string(r) }

// Deliver sends a queued post to a channel. Any error is a delivery failure;
// the engine applies the retry budget.
func (a *Adapter) Deliver(ctx context.Context, telegramChannelID string, post storage.QueuedPost) error {
	to := recipient(telegramChannelID)
	opts := sendOptions(post)

	switch post.MediaType {
	case "photo":
		_, err := a.bot.Send(to, &tele.Photo{File: fileRef(post), Caption: post.Caption}, opts)
		return err
	case "video":
		_, err := a.bot.Send(to, &tele.Video{File: fileRef(post), Caption: post.Caption}, opts)
		return err
	case "document":
		_, err := a.bot.Send(to, &tele.Document{File: fileRef(post), Caption: post.Caption}, opts)
		return err
	case "media_group":
		album, err := decodeAlbum(post.MediaGroupData)
		if err != nil {
			return err
		}
		_, err = a.bot.SendAlbum(to, album, opts)
		return err
	default:
		return fmt.Errorf("unsupported media type %q", post.MediaType)
	}
}

// Notify messages a user. Callers treat failures as best-effort.
func (a *Adapter) Notify(ctx context.Context, userID int64, text string) error {
	_, err := a.bot.Send(tele.ChatID(userID), text)
	return err
}

func fileRef(post storage.QueuedPost) tele.File {
	if post.FileID != "" {
		return tele.File{FileID: post.FileID}
	}
	return tele.FromDisk(post.FilePath)
}

// sendOptions prefers stored caption entities over a parse mode; Telegram
// rejects requests carrying both.
func sendOptions(post storage.QueuedPost) *tele.SendOptions {
	opts := &tele.SendOptions{}
	if ents, err := decodeEntities(post.CaptionEntities); err == nil && len(ents) > 0 {
		opts.Entities = ents
		return opts
	}
	opts.ParseMode = parseMode(post.CaptionParseMode)
	return opts
}

func parseMode(stored string) tele.ParseMode {
	switch strings.ToLower(stored) {
	case "markdownv2":
		return tele.ModeMarkdownV2
	case "html":
		return tele.ModeHTML
	default:
		return tele.ModeDefault
	}
}

func decodeEntities(raw string) (tele.Entities, error) {
	if strings.TrimSpace(raw) == "" {
		return nil, nil
	}
	var ents tele.Entities
	if err := json.Unmarshal([]byte(raw), &ents); err != nil {
		return nil, fmt.Errorf("caption entities: %w", err)
	}
	return ents, nil
}

// albumItem is the stored JSON form of one media-group member.
type albumItem struct {
	Type    string `json:"type"` // "photo" or "video"
	FileID  string `json:"file_id"`
	Caption string `json:"caption,omitempty"`
}

func decodeAlbum(raw string) (tele.Album, error) {
	var items []albumItem
	if err := json.Unmarshal([]byte(raw), &items); err != nil {
		return nil, fmt.Errorf("media group data: %w", err)
	}
	if len(items) == 0 {
		return nil, errors.New("media group is empty")
	}

	album := make(tele.Album, 0, len(items))
	for _, it := range items {
		file := tele.File{FileID: it.FileID}
		switch it.Type {
		case "photo":
			album = append(album, &tele.Photo{File: file, Caption: it.Caption})
		case "video":
			album = append(album, &tele.Video{File: file, Caption: it.Caption})
		default:
			return nil, fmt.Errorf("unsupported media group item type %q", it.Type)
		}
	}
	return album, nil
}
