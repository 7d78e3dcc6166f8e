package main

import (
	"context"
	"encoding/json"
	"fmt"
	"io"
	"log/slog"
	"net/http"
	"os"
	"path/filepath"
	"strings"
	"time"

	"github.com/clankerbot/clanker/automod/detector"
	"github.com/clankerbot/clanker/automod/enforce"
	"github.com/clankerbot/clanker/automod/engine"
	"github.com/clankerbot/clanker/automod/keyword"
	"github.com/clankerbot/clanker/automod/mute"
	"github.com/clankerbot/clanker/automod/notify"
	"github.com/clankerbot/clanker/automod/resolve"
	"github.com/clankerbot/clanker/automod/statestore"
	"github.com/clankerbot/clanker/groupme"

	cli "github.com/urfave/cli/v2"
)

// Everything the daemon runs, assembled from CLI configuration.
type Bot struct {
	Engine   *engine.Engine
	Store    statestore.Store
	Client   *groupme.Client
	Lexicons keyword.Lexicons
	BotID    string
	// which state backend is in use: file, redis or database
	StoreKind string
	// set when the ban service is used instead of direct removal
	BanServiceURL string

	closeStore func() error
}

func (b *Bot) Close() error {
	if b.closeStore == nil {
		return nil
	}
	return b.closeStore()
}

// picks the state backend: database URL, then redis URL, then the JSON snapshot file
func openStore(cctx *cli.Context) (statestore.Store, string, func() error, error) {
	if dburl := cctx.String("database-url"); dburl != "" {
		db, err := statestore.OpenDatabase(dburl)
		if err != nil {
			return nil, "", nil, fmt.Errorf("opening state database: %w", err)
		}
		store, err := statestore.NewGormStore(db)
		if err != nil {
			return nil, "", nil, err
		}
		closeDB := func() error {
			sqlDB, err := db.DB()
			if err != nil {
				return err
			}
			return sqlDB.Close()
		}
		return store, "database", closeDB, nil
	}
	if redisURL := cctx.String("redis-url"); redisURL != "" {
		store, err := statestore.NewRedisStore(redisURL, "clanker/")
		if err != nil {
			return nil, "", nil, fmt.Errorf("connecting to redis: %w", err)
		}
		return store, "redis", store.Close, nil
	}

	p := cctx.String("state-file")
	if err := os.MkdirAll(filepath.Dir(p), 0o755); err != nil {
		return nil, "", nil, fmt.Errorf("creating state directory: %w", err)
	}
	store, err := statestore.NewFileStore(p)
	if err != nil {
		return nil, "", nil, fmt.Errorf("loading state file: %w", err)
	}
	return store, "file", nil, nil
}

func loadTriggers(p string) ([]engine.Trigger, error) {
	f, err := os.Open(p)
	if err != nil {
		return nil, err
	}
	defer func() { _ = f.Close() }()

	raw, err := io.ReadAll(f)
	if err != nil {
		return nil, err
	}
	var out []engine.Trigger
	if err := json.Unmarshal(raw, &out); err != nil {
		return nil, fmt.Errorf("parsing triggers file: %w", err)
	}
	return out, nil
}

func parseAdminIDs(vals []string) map[string]bool {
	admins := make(map[string]bool)
	for _, v := range vals {
		for _, id := range strings.Split(v, ",") {
			if id = strings.TrimSpace(id); id != "" {
				admins[id] = true
			}
		}
	}
	return admins
}

func NewBot(ctx context.Context, cctx *cli.Context, logger *slog.Logger) (_ *Bot, err error) {
	client := groupme.NewClient(cctx.String("groupme-host"), cctx.String("access-token"), cctx.String("group-id"), cctx.String("bot-id"))
	client.HTTPClient = groupme.NewHTTPClient(groupme.WithHTTPLogger(logger.With("component", "groupme-http")))
	client.Logger = logger.With("component", "groupme")

	if cctx.String("bot-id") == "" {
		logger.Error("no BOT_ID configured; the bot can't post messages")
	}
	if !client.MembershipConfigured() {
		logger.Error("missing ACCESS_TOKEN or GROUP_ID; membership commands are disabled")
	}

	store, kind, closeStore, err := openStore(cctx)
	if err != nil {
		return nil, err
	}
	defer func() {
		if err != nil && closeStore != nil {
			_ = closeStore()
		}
	}()
	bot := &Bot{
		Store:         store,
		Client:        client,
		BotID:         cctx.String("bot-id"),
		StoreKind:     kind,
		BanServiceURL: cctx.String("ban-service-url"),
		closeStore:    closeStore,
	}

	bot.Lexicons = keyword.DefaultLexicons()
	if p := cctx.String("lexicon-file"); p != "" {
		lex, err := keyword.LoadLexiconsJSON(p)
		if err != nil {
			return nil, fmt.Errorf("loading lexicons: %w", err)
		}
		bot.Lexicons = lex
	}

	admins := parseAdminIDs(cctx.StringSlice("admin-ids"))
	botUserID := cctx.String("bot-user-id")
	if botUserID == "" && client.Token != "" {
		if uid, err := client.Me(ctx); err != nil {
			logger.Warn("could not look up the bot's own user id", "err", err)
		} else {
			botUserID = uid
		}
	}

	roster := resolve.NewRosterCache(client, resolve.DefaultRosterTTL)
	gate, err := mute.NewGate(ctx, store, admins, botUserID)
	if err != nil {
		return nil, err
	}

	var backend enforce.BanBackend
	if bot.BanServiceURL != "" {
		backend = enforce.NewDelegatedBackend(bot.BanServiceURL, groupme.NewHTTPClient(groupme.WithTimeout(5*time.Second)))
	}
	enf := enforce.NewEnforcer(client, backend, store, roster, enforce.Config{
		InviteURL: cctx.String("invite-url"),
		Unban:     enforce.DefaultUnbanConfig(),
	})

	msgr := notify.NewMessenger(client, cctx.Duration("cooldown"))
	msgr.SetRoutineDisabled(cctx.Bool("routine-disabled"))
	if hook := cctx.String("slack-webhook-url"); hook != "" {
		slack := notify.NewSlackNotifier(hook)
		slack.Client = &http.Client{Timeout: 5 * time.Second}
		msgr.Mirror = slack
	}

	cfg := engine.DefaultConfig()
	cfg.Admins = admins
	cfg.MembershipConfigured = client.MembershipConfigured()
	cfg.WelcomeText = cctx.String("welcome-text")
	cfg.RemovedText = cctx.String("removed-text")
	cfg.LeftText = cctx.String("left-text")
	cfg.LinkWarning = cctx.String("link-warning")
	if p := cctx.String("triggers-file"); p != "" {
		triggers, err := loadTriggers(p)
		if err != nil {
			return nil, err
		}
		cfg.Triggers = triggers
	}

	resolver := resolve.NewResolver(roster, store, cctx.Int("fuzzy-cutoff"))
	bot.Engine = engine.NewEngine(engine.Components{
		Store:     store,
		Resolver:  resolver,
		Detector:  detector.NewDetector(bot.Lexicons, store, cctx.Int("swear-threshold")),
		Mutes:     gate,
		Messenger: msgr,
		Enforcer:  enf,
	}, cfg)
	bot.Engine.Logger = logger.With("component", "engine")
	return bot, nil
}
