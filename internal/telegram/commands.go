package telegram

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"strconv"
	"strings"
	"time"

	tele "gopkg.in/telebot.v4"

	"github.com/nfrelink/telegram-scheduler-bot/internal/recurrence"
	"github.com/nfrelink/telegram-scheduler-bot/internal/storage"
)

const opTimeout = 15 * time.Second

const helpText = `Commands:
/addchannel <@channel|chat id> - register a channel you own
/channels - list your channels
/removechannel <channel #> - remove a channel and its schedules

/newschedule <channel #> <name> <pattern> - create a schedule (starts paused)
/schedules - list your schedules
/editschedule <schedule #> <pattern> - replace the pattern
/settimezone <schedule #> <IANA zone> - e.g. Europe/Berlin
/pause <schedule #> | /resume <schedule #>
/deleteschedule <schedule #>

/use <schedule #> - queue your media uploads into this schedule
/queue [schedule #] - show queued posts
/deletepost <post #> - remove a queued post

` + patternUsage

func opCtx() (context.Context, context.CancelFunc) {
	return context.WithTimeout(context.Background(), opTimeout)
}

func (a *Adapter) registerHandlers() {
	a.bot.Handle("/start", a.withUser(a.handleStart))
	a.bot.Handle("/help", a.withUser(a.handleHelp))

	a.bot.Handle("/addchannel", a.withUser(a.handleAddChannel))
	a.bot.Handle("/channels", a.withUser(a.handleChannels))
	a.bot.Handle("/removechannel", a.withUser(a.handleRemoveChannel))

	a.bot.Handle("/newschedule", a.withUser(a.handleNewSchedule))
	a.bot.Handle("/schedules", a.withUser(a.handleSchedules))
	a.bot.Handle("/editschedule", a.withUser(a.handleEditSchedule))
	a.bot.Handle("/settimezone", a.withUser(a.handleSetTimezone))
	a.bot.Handle("/deleteschedule", a.withUser(a.handleDeleteSchedule))
	a.bot.Handle("/pause", a.withUser(a.handlePause))
	a.bot.Handle("/resume", a.withUser(a.handleResume))

	a.bot.Handle("/use", a.withUser(a.handleUse))
	a.bot.Handle("/queue", a.withUser(a.handleQueue))
	a.bot.Handle("/deletepost", a.withUser(a.handleDeletePost))

	a.bot.Handle("/stats", a.withUser(a.handleStats))

	a.bot.Handle(tele.OnPhoto, a.withUser(a.handleMedia))
	a.bot.Handle(tele.OnVideo, a.withUser(a.handleMedia))
	a.bot.Handle(tele.OnDocument, a.withUser(a.handleMedia))

	a.bot.Handle(tele.OnChannelPost, a.handleChannelPost)
}

// withUser upserts the sender and logs handler errors instead of letting
// telebot swallow them.
func (a *Adapter) withUser(next tele.HandlerFunc) tele.HandlerFunc {
	return func(c tele.Context) error {
		sender := c.Sender()
		if sender == nil {
			return nil
		}
		ctx, cancel := opCtx()
		err := a.store.UpsertUser(ctx, storage.User{
			ID:        sender.ID,
			Username:  sender.Username,
			FirstName: sender.FirstName,
			LastName:  sender.LastName,
		})
		cancel()
		if err != nil {
			a.log.Error().Err(err).Int64("user_id", sender.ID).Msg("upsert user failed")
		}

		if err := next(c); err != nil {
			a.log.Error().Err(err).Int64("user_id", sender.ID).Str("text", c.Text()).Msg("handler failed")
			return c.Send("Something went wrong, please try again.")
		}
		return nil
	}
}

func (a *Adapter) handleStart(c tele.Context) error {
	return c.Send("Hi! I deliver your queued media to Telegram channels on a schedule.\n\n" +
		"Start with /addchannel, then /newschedule, then send me photos or videos.\n" +
		"Use /help for the full command list.")
}

func (a *Adapter) handleHelp(c tele.Context) error {
	return c.Send(helpText)
}

func (a *Adapter) handleChannels(c tele.Context) error {
	ctx, cancel := opCtx()
	defer cancel()

	channels, err := a.store.UserChannels(ctx, c.Sender().ID)
	if err != nil {
		return err
	}
	if len(channels) == 0 {
		return c.Send("You have no channels yet. Register one with /addchannel.")
	}

	var b strings.Builder
	b.WriteString("Your channels:\n")
	for _, ch := range channels {
		fmt.Fprintf(&b, "#%d %s (%s)\n", ch.ID, ch.Name, ch.ChannelID)
	}
	return c.Send(b.String())
}

func (a *Adapter) handleRemoveChannel(c tele.Context) error {
	id, err := argID(c, 0)
	if err != nil {
		return c.Send("Usage: /removechannel <channel #> (see /channels)")
	}

	ctx, cancel := opCtx()
	defer cancel()

	ch, err := a.store.ChannelByID(ctx, id)
	if errors.Is(err, storage.ErrNotFound) || (err == nil && ch.UserID != c.Sender().ID) {
		return c.Send("Channel not found.")
	}
	if err != nil {
		return err
	}
	if err := a.store.DeleteChannel(ctx, id); err != nil {
		return err
	}
	return c.Send(fmt.Sprintf("Removed %s along with its schedules and queued posts.", ch.Name))
}

func (a *Adapter) handleNewSchedule(c tele.Context) error {
	args := c.Args()
	if len(args) < 3 {
		return c.Send("Usage: /newschedule <channel #> <name> <pattern>\n\n" + patternUsage)
	}
	channelID, err := strconv.ParseInt(args[0], 10, 64)
	if err != nil {
		return c.Send("The first argument must be a channel # from /channels.")
	}
	name := args[1]

	rule, err := parsePattern(args[2:])
	if err != nil {
		return c.Send(err.Error())
	}
	pattern, err := recurrence.Encode(rule)
	if err != nil {
		return c.Send(err.Error())
	}

	ctx, cancel := opCtx()
	defer cancel()

	ch, err := a.store.ChannelByID(ctx, channelID)
	if errors.Is(err, storage.ErrNotFound) || (err == nil && ch.UserID != c.Sender().ID) {
		return c.Send("Channel not found.")
	}
	if err != nil {
		return err
	}

	id, err := a.store.CreateSchedule(ctx, channelID, name, pattern, a.cfg.DefaultTimezone)
	if err != nil {
		return err
	}
	return c.Send(fmt.Sprintf(
		"Schedule #%d %q created for %s: %s (timezone %s).\n"+
			"It starts paused. Queue posts with /use %d, then activate it with /resume %d.",
		id, name, ch.Name, describeRule(rule), a.cfg.DefaultTimezone, id, id))
}

func (a *Adapter) handleSchedules(c tele.Context) error {
	ctx, cancel := opCtx()
	defer cancel()

	channels, err := a.store.UserChannels(ctx, c.Sender().ID)
	if err != nil {
		return err
	}
	if len(channels) == 0 {
		return c.Send("You have no channels yet. Register one with /addchannel.")
	}

	var b strings.Builder
	total := 0
	for _, ch := range channels {
		schedules, err := a.store.ChannelSchedules(ctx, ch.ID)
		if err != nil {
			return err
		}
		if len(schedules) == 0 {
			continue
		}
		fmt.Fprintf(&b, "%s:\n", ch.Name)
		for _, sc := range schedules {
			total++
			desc := "invalid pattern"
			if rule, err := recurrence.Decode(sc.Pattern); err == nil {
				desc = describeRule(rule)
			}
			count, err := a.store.QueueCount(ctx, sc.ID)
			if err != nil {
				return err
			}
			fmt.Fprintf(&b, "  #%d %s - %s, %s, %d queued [%s]\n",
				sc.ID, sc.Name, desc, sc.Timezone, count, sc.State)
		}
	}
	if total == 0 {
		return c.Send("No schedules yet. Create one with /newschedule.")
	}
	return c.Send(b.String())
}

func (a *Adapter) handleEditSchedule(c tele.Context) error {
	args := c.Args()
	if len(args) < 2 {
		return c.Send("Usage: /editschedule <schedule #> <pattern>\n\n" + patternUsage)
	}
	id, err := strconv.ParseInt(args[0], 10, 64)
	if err != nil {
		return c.Send("The first argument must be a schedule # from /schedules.")
	}

	rule, err := parsePattern(args[1:])
	if err != nil {
		return c.Send(err.Error())
	}
	pattern, err := recurrence.Encode(rule)
	if err != nil {
		return c.Send(err.Error())
	}

	ctx, cancel := opCtx()
	defer cancel()

	sc, err := a.ownedSchedule(ctx, c.Sender().ID, id)
	if errors.Is(err, storage.ErrNotFound) {
		return c.Send("Schedule not found.")
	}
	if err != nil {
		return err
	}
	if err := a.store.SetSchedulePattern(ctx, id, pattern); err != nil {
		return err
	}
	return c.Send(fmt.Sprintf("Schedule #%d %q now runs %s.", id, sc.Name, describeRule(rule)))
}

func (a *Adapter) handleSetTimezone(c tele.Context) error {
	args := c.Args()
	if len(args) != 2 {
		return c.Send("Usage: /settimezone <schedule #> <IANA zone>, e.g. /settimezone 3 Europe/Berlin")
	}
	id, err := strconv.ParseInt(args[0], 10, 64)
	if err != nil {
		return c.Send("The first argument must be a schedule # from /schedules.")
	}
	zone := args[1]
	if _, err := recurrence.LoadLocation(zone); err != nil {
		return c.Send(fmt.Sprintf("Unknown timezone %q. Use an IANA name like Europe/Berlin.", zone))
	}

	ctx, cancel := opCtx()
	defer cancel()

	sc, err := a.ownedSchedule(ctx, c.Sender().ID, id)
	if errors.Is(err, storage.ErrNotFound) {
		return c.Send("Schedule not found.")
	}
	if err != nil {
		return err
	}
	if err := a.store.SetScheduleTimezone(ctx, id, zone); err != nil {
		return err
	}
	return c.Send(fmt.Sprintf("Schedule #%d %q now uses timezone %s.", id, sc.Name, zone))
}

func (a *Adapter) handleDeleteSchedule(c tele.Context) error {
	id, err := argID(c, 0)
	if err != nil {
		return c.Send("Usage: /deleteschedule <schedule #> (see /schedules)")
	}

	ctx, cancel := opCtx()
	defer cancel()

	sc, err := a.ownedSchedule(ctx, c.Sender().ID, id)
	if errors.Is(err, storage.ErrNotFound) {
		return c.Send("Schedule not found.")
	}
	if err != nil {
		return err
	}
	if err := a.store.DeleteSchedule(ctx, id); err != nil {
		return err
	}
	return c.Send(fmt.Sprintf("Schedule #%d %q deleted along with its queue.", id, sc.Name))
}

func (a *Adapter) handlePause(c tele.Context) error {
	return a.setState(c, storage.StatePaused, "pause", "paused")
}

func (a *Adapter) handleResume(c tele.Context) error {
	return a.setState(c, storage.StateActive, "resume", "active")
}

func (a *Adapter) setState(c tele.Context, state storage.ScheduleState, cmd, verb string) error {
	id, err := argID(c, 0)
	if err != nil {
		return c.Send(fmt.Sprintf("Usage: /%s <schedule #> (see /schedules)", cmd))
	}

	ctx, cancel := opCtx()
	defer cancel()

	sc, err := a.ownedSchedule(ctx, c.Sender().ID, id)
	if errors.Is(err, storage.ErrNotFound) {
		return c.Send("Schedule not found.")
	}
	if err != nil {
		return err
	}
	if err := a.store.SetScheduleState(ctx, id, state); err != nil {
		return err
	}

	reply := fmt.Sprintf("Schedule #%d %q is now %s.", id, sc.Name, verb)
	if state == storage.StateActive {
		if head, err := a.store.HeadQueuedPost(ctx, id); err == nil && head.RetryCount > 0 {
			reply += fmt.Sprintf(
				"\nNote: the next post already failed %d times; it will be retried. "+
					"Remove it with /deletepost %d if it keeps failing.",
				head.RetryCount, head.ID)
		}
	}
	return c.Send(reply)
}

func (a *Adapter) handleUse(c tele.Context) error {
	id, err := argID(c, 0)
	if err != nil {
		return c.Send("Usage: /use <schedule #> (see /schedules)")
	}

	ctx, cancel := opCtx()
	defer cancel()

	sc, err := a.ownedSchedule(ctx, c.Sender().ID, id)
	if errors.Is(err, storage.ErrNotFound) {
		return c.Send("Schedule not found.")
	}
	if err != nil {
		return err
	}
	if err := a.store.SelectSchedule(ctx, c.Sender().ID, id); err != nil {
		return err
	}
	return c.Send(fmt.Sprintf(
		"Media you send me now queues into schedule #%d %q (%s).", id, sc.Name, sc.ChannelName))
}

const queuePageSize = 10

func (a *Adapter) handleQueue(c tele.Context) error {
	ctx, cancel := opCtx()
	defer cancel()

	var id int64
	if n, err := argID(c, 0); err == nil {
		id = n
	} else {
		selected, err := a.store.SelectedSchedule(ctx, c.Sender().ID)
		if errors.Is(err, storage.ErrNotFound) {
			return c.Send("No schedule selected. Use /queue <schedule #> or select one with /use.")
		}
		if err != nil {
			return err
		}
		id = selected
	}

	sc, err := a.ownedSchedule(ctx, c.Sender().ID, id)
	if errors.Is(err, storage.ErrNotFound) {
		return c.Send("Schedule not found.")
	}
	if err != nil {
		return err
	}

	posts, err := a.store.QueuedPosts(ctx, id, queuePageSize, 0)
	if err != nil {
		return err
	}
	count, err := a.store.QueueCount(ctx, id)
	if err != nil {
		return err
	}
	if count == 0 {
		return c.Send(fmt.Sprintf("Schedule #%d %q has an empty queue.", id, sc.Name))
	}

	var b strings.Builder
	fmt.Fprintf(&b, "Queue for #%d %q (%d posts):\n", id, sc.Name, count)
	for _, p := range posts {
		fmt.Fprintf(&b, "%d. %s #%d", p.Position+1, p.MediaType, p.ID)
		if p.Caption != "" {
			fmt.Fprintf(&b, " - %s", truncate(p.Caption, 40))
		}
		if p.RetryCount > 0 {
			fmt.Fprintf(&b, " (retries: %d)", p.RetryCount)
		}
		b.WriteString("\n")
	}
	if count > len(posts) {
		fmt.Fprintf(&b, "...and %d more.\n", count-len(posts))
	}
	return c.Send(b.String())
}

func (a *Adapter) handleDeletePost(c tele.Context) error {
	id, err := argID(c, 0)
	if err != nil {
		return c.Send("Usage: /deletepost <post #> (see /queue)")
	}

	ctx, cancel := opCtx()
	defer cancel()

	post, ownerID, err := a.store.QueuedPostWithOwner(ctx, id)
	if errors.Is(err, storage.ErrNotFound) || (err == nil && ownerID != c.Sender().ID) {
		return c.Send("Post not found.")
	}
	if err != nil {
		return err
	}
	if err := a.store.DeleteQueuedPost(ctx, id); err != nil {
		return err
	}
	return c.Send(fmt.Sprintf("Deleted %s #%d from the queue.", post.MediaType, post.ID))
}

func (a *Adapter) handleStats(c tele.Context) error {
	if !a.cfg.IsAdmin(c.Sender().ID) {
		return c.Send("This command is restricted to administrators.")
	}

	ctx, cancel := opCtx()
	defer cancel()

	sys, err := a.store.SystemStats(ctx)
	if err != nil {
		return err
	}
	states, err := a.store.ScheduleStateCounts(ctx)
	if err != nil {
		return err
	}
	week, err := a.store.DeliveryStatsSince(ctx, time.Now().AddDate(0, 0, -7))
	if err != nil {
		return err
	}

	return c.Send(fmt.Sprintf(
		"Users: %d\nActive channels: %d\n"+
			"Schedules: %d active / %d paused / %d empty\n"+
			"Queued posts: %d (%d retrying)\n"+
			"Last 7 days: %d sent, %d failures",
		sys.TotalUsers, sys.ActiveChannels,
		states[storage.StateActive], states[storage.StatePaused], states[storage.StateEmptyPaused],
		sys.QueuedPosts, sys.RetryingPosts,
		week.PostsSent, week.SendFailures))
}

// handleMedia queues an incoming photo, video, or document into the sender's
// selected schedule.
func (a *Adapter) handleMedia(c tele.Context) error {
	msg := c.Message()
	if msg == nil {
		return nil
	}
	post, ok := postFromMessage(msg)
	if !ok {
		return nil
	}

	ctx, cancel := opCtx()
	defer cancel()

	id, err := a.store.SelectedSchedule(ctx, c.Sender().ID)
	if errors.Is(err, storage.ErrNotFound) {
		return c.Send("Select a schedule first with /use <schedule #>, then resend the media.")
	}
	if err != nil {
		return err
	}

	sc, err := a.ownedSchedule(ctx, c.Sender().ID, id)
	if errors.Is(err, storage.ErrNotFound) {
		// Selected schedule was deleted since /use.
		if err := a.store.ClearSelection(ctx, c.Sender().ID); err != nil {
			return err
		}
		return c.Send("Your selected schedule no longer exists. Pick another with /use.")
	}
	if err != nil {
		return err
	}

	if err := a.store.AddQueuedPost(ctx, id, post); err != nil {
		return err
	}
	count, err := a.store.QueueCount(ctx, id)
	if err != nil {
		return err
	}
	return c.Send(fmt.Sprintf("Queued %s at position %d in #%d %q.", post.MediaType, count, id, sc.Name))
}

func postFromMessage(msg *tele.Message) (storage.NewPost, bool) {
	post := storage.NewPost{Caption: msg.Caption}
	switch {
	case msg.Photo != nil:
		post.MediaType = "photo"
		post.FileID = msg.Photo.FileID
	case msg.Video != nil:
		post.MediaType = "video"
		post.FileID = msg.Video.FileID
	case msg.Document != nil:
		post.MediaType = "document"
		post.FileID = msg.Document.FileID
	default:
		return storage.NewPost{}, false
	}
	if len(msg.CaptionEntities) > 0 {
		if data, err := json.Marshal(msg.CaptionEntities); err == nil {
			post.CaptionEntities = string(data)
		}
	}
	return post, true
}

// ownedSchedule loads a schedule and enforces ownership; a foreign schedule is
// indistinguishable from a missing one.
func (a *Adapter) ownedSchedule(ctx context.Context, userID, scheduleID int64) (storage.ActiveSchedule, error) {
	sc, err := a.store.GetScheduleWithOwner(ctx, scheduleID)
	if err != nil {
		return storage.ActiveSchedule{}, err
	}
	if sc.OwnerUserID != userID {
		return storage.ActiveSchedule{}, storage.ErrNotFound
	}
	return sc, nil
}

func argID(c tele.Context, n int) (int64, error) {
	args := c.Args()
	if len(args) <= n {
		return 0, errors.New("missing argument")
	}
	return strconv.ParseInt(args[n], 10, 64)
}

func truncate(s string, max int) string {
	runes := []rune(s)
	if len(runes) <= max {
		return s
	}
	return string(runes[:max-1]) + "…"
}
