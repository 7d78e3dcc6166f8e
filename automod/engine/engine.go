package engine

import (
	"context"
	"fmt"
	"log/slog"
	"strings"
	"time"

	"github.com/clankerbot/clanker/automod/detector"
	"github.com/clankerbot/clanker/automod/enforce"
	"github.com/clankerbot/clanker/automod/event"
	"github.com/clankerbot/clanker/automod/mute"
	"github.com/clankerbot/clanker/automod/notify"
	"github.com/clankerbot/clanker/automod/resolve"
	"github.com/clankerbot/clanker/automod/statestore"

	"github.com/puzpuzpuz/xsync/v3"
)

// runtime for processing inbound chat messages: mute gate, admin commands, violation detection and triggers.
//
// Construct with NewEngine, which hooks the enforcer's background callbacks back in to the engine.
type Engine struct {
	Logger    *slog.Logger
	Store     statestore.Store
	Resolver  *resolve.Resolver
	Detector  *detector.Detector
	Mutes     *mute.Gate
	Messenger *notify.Messenger
	Enforcer  *enforce.Enforcer
	Config    Config

	// quote prefix of the admin command that started an unban, keyed by user id
	unbanReplies *xsync.MapOf[string, string]
	// notice to post once a queued ban goes through, keyed by user id
	queuedNotices *xsync.MapOf[string, queuedBan]
}

// A fixed phrase -> reply pair, matched case-insensitively anywhere in a message.
type Trigger struct {
	Phrase string `json:"phrase"`
	Reply  string `json:"reply"`
}

type Config struct {
	// user ids allowed to run admin commands
	Admins map[string]bool
	// false when the access token or group id is missing; membership commands then answer with a config error
	MembershipConfigured bool

	WelcomeText string
	RemovedText string
	LeftText    string
	// posted for messages with a link and no video attachment; empty disables
	LinkWarning string
	Triggers    []Trigger
}

func DefaultConfig() Config {
	return Config{
		Admins:               map[string]bool{},
		MembershipConfigured: true,
		WelcomeText:          "Welcome! Check the rules and announcement topics before chatting.",
		RemovedText:          "this could be you if you break the rules, watch it. 👀",
		LinkWarning:          "Delete this, links are not allowed, admins have been notified",
		Triggers: []Trigger{
			{Phrase: "clean memes", Reply: "We're the best!"},
			{Phrase: "wsg", Reply: "God is good"},
		},
	}
}

// The components an Engine drives. All are required.
type Components struct {
	Store     statestore.Store
	Resolver  *resolve.Resolver
	Detector  *detector.Detector
	Mutes     *mute.Gate
	Messenger *notify.Messenger
	Enforcer  *enforce.Enforcer
}

func NewEngine(c Components, cfg Config) *Engine {
	if cfg.Admins == nil {
		cfg.Admins = map[string]bool{}
	}
	eng := &Engine{
		Logger:        slog.Default().With("component", "engine"),
		Store:         c.Store,
		Resolver:      c.Resolver,
		Detector:      c.Detector,
		Mutes:         c.Mutes,
		Messenger:     c.Messenger,
		Enforcer:      c.Enforcer,
		Config:        cfg,
		unbanReplies:  xsync.NewMapOf[string, string](),
		queuedNotices: xsync.NewMapOf[string, queuedBan](),
	}
	eng.Enforcer.OnUnban = eng.unbanDone
	eng.Enforcer.OnQueuedBan = eng.queuedBanDone
	return eng
}

func (eng *Engine) IsAdmin(userID string) bool {
	return userID != "" && eng.Config.Admins[userID]
}

// ProcessMessage handles one inbound message. Failures are logged and counted; only unexpected internal errors are returned, and a panic is never propagated.
func (eng *Engine) ProcessMessage(ctx context.Context, msg *event.Message) (err error) {
	// similar to an HTTP server, we want to recover any panics from message handling
	defer func() {
		if r := recover(); r != nil {
			eng.Logger.Error("automod event execution exception", "err", r, "message", msg.ID, "sender", msg.Sender())
			err = fmt.Errorf("panic processing message %s: %v", msg.ID, r)
		}
	}()

	start := time.Now()
	typ := eng.classify(msg)
	defer func() {
		eventProcessDuration.WithLabelValues(typ).Observe(time.Since(start).Seconds())
		eventProcessCount.WithLabelValues(typ).Inc()
		if err != nil {
			eventErrorCount.WithLabelValues(typ).Inc()
		}
	}()

	switch typ {
	case "bot", "empty":
		return nil
	case "system":
		return eng.processSystem(ctx, msg)
	}

	sender := msg.Sender()
	logger := eng.Logger.With("sender", sender, "message", msg.ID)
	logger.Debug("processing message")

	if v := eng.Mutes.Check(ctx, sender); v.Muted {
		eng.suppressMuted(ctx, msg, v)
		return nil
	}

	// a non-admin's command attempt is refused, then moderated like any other message
	if cmd, ok := parseCommand(msg.Text); ok && (!cmd.freeform || eng.IsAdmin(sender)) {
		eng.runCommand(ctx, msg, cmd)
		if eng.IsAdmin(sender) {
			return nil
		}
	}

	banned, err := eng.scan(ctx, msg)
	if err != nil {
		return err
	}
	if banned {
		return nil
	}
	eng.runTriggers(ctx, msg)
	return nil
}

func (eng *Engine) classify(msg *event.Message) string {
	switch {
	case msg.IsBot():
		return "bot"
	case msg.IsSystem():
		return "system"
	case msg.Sender() == "":
		return "empty"
	}
	return "message"
}

func (eng *Engine) suppressMuted(ctx context.Context, msg *event.Message, v mute.Verdict) {
	if err := eng.Messenger.Delete(ctx, msg.ID.String()); err != nil {
		eng.Logger.Warn("failed to delete muted message", "message", msg.ID, "sender", msg.Sender(), "err", err)
	}
	if !v.Notify {
		return
	}
	left := time.Until(v.ExpiresAt).Round(time.Minute)
	if left < time.Minute {
		left = time.Minute
	}
	text := fmt.Sprintf("🔇 %s, you are muted for another %s.", nameOr(msg.Name, msg.Sender()), formatMinutes(left))
	eng.notify(ctx, text)
}

// posts a moderation notice, logging failures
func (eng *Engine) notify(ctx context.Context, text string) {
	if err := eng.Messenger.Moderation(ctx, text); err != nil {
		eng.Logger.Warn("failed to post notice", "err", err)
	}
}

func (eng *Engine) routine(ctx context.Context, text string) {
	if _, err := eng.Messenger.Routine(ctx, text); err != nil {
		eng.Logger.Warn("failed to post message", "err", err)
	}
}

func nameOr(name, fallback string) string {
	if strings.TrimSpace(name) != "" {
		return name
	}
	return fallback
}

func formatMinutes(d time.Duration) string {
	n := int(d.Round(time.Minute) / time.Minute)
	if n == 1 {
		return "1 minute"
	}
	return fmt.Sprintf("%d minutes", n)
}
