package main

import (
	"context"
	"errors"
	"fmt"
	"io"
	"log/slog"
	"os"
	"os/signal"
	"strings"
	"syscall"
	"time"

	"github.com/clankerbot/clanker/automod/detector"
	"github.com/clankerbot/clanker/automod/engine"
	"github.com/clankerbot/clanker/automod/fuzzy"
	"github.com/clankerbot/clanker/automod/notify"
	"github.com/clankerbot/clanker/groupme"

	"github.com/carlmjohnson/versioninfo"
	_ "github.com/joho/godotenv/autoload"
	cli "github.com/urfave/cli/v2"
	"golang.org/x/sync/errgroup"
)

func main() {
	if err := run(os.Args); err != nil {
		slog.Error("exiting", "err", err)
		os.Exit(-1)
	}
}

func run(args []string) error {

	app := cli.App{
		Name:    "clanker",
		Usage:   "GroupMe moderation bot",
		Version: versioninfo.Short(),
	}

	app.Flags = []cli.Flag{
		&cli.StringFlag{
			Name:    "log-level",
			Usage:   "log verbosity level (eg: warn, info, debug)",
			Value:   "info",
			EnvVars: []string{"CLANKER_LOG_LEVEL", "LOG_LEVEL"},
		},
		&cli.StringFlag{
			Name:    "groupme-host",
			Usage:   "GroupMe v3 API base URL",
			Value:   groupme.DefaultHost,
			EnvVars: []string{"GROUPME_API_HOST"},
		},
		&cli.StringFlag{
			Name:    "bot-id",
			Usage:   "GroupMe bot id used for posting",
			EnvVars: []string{"BOT_ID"},
		},
		&cli.StringFlag{
			Name:    "group-id",
			Usage:   "GroupMe group to moderate",
			EnvVars: []string{"GROUP_ID"},
		},
		&cli.StringFlag{
			Name:    "access-token",
			Usage:   "GroupMe user access token, for roster and membership changes",
			EnvVars: []string{"ACCESS_TOKEN"},
		},
	}

	app.Commands = []*cli.Command{
		runCmd,
	}

	return app.Run(args)
}

var runCmd = &cli.Command{
	Name:  "run",
	Usage: "run the bot (webhook server and background workers)",
	Flags: []cli.Flag{
		&cli.IntFlag{
			Name:    "port",
			Usage:   "port to listen on for the webhook and admin endpoints",
			Value:   5000,
			EnvVars: []string{"PORT"},
		},
		&cli.StringFlag{
			Name:    "metrics-listen",
			Usage:   "IP or address, and port, to listen on for metrics APIs",
			Value:   ":3998",
			EnvVars: []string{"CLANKER_METRICS_LISTEN"},
		},
		&cli.StringSliceFlag{
			Name:    "admin-ids",
			Usage:   "user ids allowed to run admin commands (comma-separated)",
			EnvVars: []string{"ADMIN_IDS"},
		},
		&cli.StringFlag{
			Name:    "bot-user-id",
			Usage:   "user id of the account the bot acts as; looked up from the access token if unset",
			EnvVars: []string{"BOT_USER_ID"},
		},
		&cli.StringFlag{
			Name:    "ban-service-url",
			Usage:   "optional external ban service; bans are made directly through the GroupMe API when unset",
			EnvVars: []string{"BAN_SERVICE_URL"},
		},
		&cli.StringFlag{
			Name:    "invite-url",
			Usage:   "invite link offered when an unban can't be confirmed",
			EnvVars: []string{"INVITE_URL"},
		},
		&cli.StringFlag{
			Name:    "state-file",
			Usage:   "path of the JSON state snapshot (used unless a database or redis URL is set)",
			Value:   "data/clanker/state.json",
			EnvVars: []string{"CLANKER_STATE_FILE"},
		},
		&cli.StringFlag{
			Name:    "redis-url",
			Usage:   "redis server for bot state",
			EnvVars: []string{"REDIS_URL"},
		},
		&cli.StringFlag{
			Name:    "database-url",
			Usage:   "sqlite:// or postgres:// database for bot state",
			EnvVars: []string{"DATABASE_URL"},
		},
		&cli.StringFlag{
			Name:    "lexicon-file",
			Usage:   "JSON file of prohibited words ({\"instant-ban\": [...], \"regular\": [...]})",
			EnvVars: []string{"CLANKER_LEXICON_FILE"},
		},
		&cli.StringFlag{
			Name:    "triggers-file",
			Usage:   "JSON file of trigger replies ([{\"phrase\": ..., \"reply\": ...}])",
			EnvVars: []string{"CLANKER_TRIGGERS_FILE"},
		},
		&cli.IntFlag{
			Name:    "swear-threshold",
			Usage:   "number of warnings before a user is banned",
			Value:   detector.DefaultThreshold,
			EnvVars: []string{"CLANKER_SWEAR_THRESHOLD"},
		},
		&cli.IntFlag{
			Name:    "fuzzy-cutoff",
			Usage:   "minimum name similarity score (0-100) for fuzzy user lookups",
			Value:   fuzzy.DefaultCutoff,
			EnvVars: []string{"CLANKER_FUZZY_CUTOFF"},
		},
		&cli.DurationFlag{
			Name:    "cooldown",
			Usage:   "minimum interval between routine bot messages",
			Value:   notify.DefaultCooldown,
			EnvVars: []string{"CLANKER_COOLDOWN"},
		},
		&cli.BoolFlag{
			Name:    "routine-disabled",
			Usage:   "suppress routine messages (triggers, welcome); moderation notices are still sent",
			EnvVars: []string{"CLANKER_ROUTINE_DISABLED"},
		},
		&cli.StringFlag{
			Name:    "welcome-text",
			Usage:   "message posted when someone joins; empty to disable",
			Value:   engine.DefaultConfig().WelcomeText,
			EnvVars: []string{"CLANKER_WELCOME_TEXT"},
		},
		&cli.StringFlag{
			Name:    "removed-text",
			Usage:   "message posted when someone is removed; empty to disable",
			Value:   engine.DefaultConfig().RemovedText,
			EnvVars: []string{"CLANKER_REMOVED_TEXT"},
		},
		&cli.StringFlag{
			Name:    "left-text",
			Usage:   "message posted when someone leaves",
			EnvVars: []string{"CLANKER_LEFT_TEXT"},
		},
		&cli.StringFlag{
			Name:    "link-warning",
			Usage:   "message posted for links without a video; empty to disable",
			Value:   engine.DefaultConfig().LinkWarning,
			EnvVars: []string{"CLANKER_LINK_WARNING"},
		},
		&cli.StringFlag{
			Name:    "slack-webhook-url",
			Usage:   "Slack incoming webhook mirroring moderation notices",
			EnvVars: []string{"SLACK_WEBHOOK_URL"},
		},
		&cli.StringFlag{
			Name:    "admin-token",
			Usage:   "bearer token required by admin HTTP endpoints; unauthenticated when unset",
			EnvVars: []string{"CLANKER_ADMIN_TOKEN"},
		},
	},
	Action: runBot,
}

func configLogger(cctx *cli.Context, writer io.Writer) *slog.Logger {
	var level slog.Level
	switch strings.ToLower(cctx.String("log-level")) {
	case "error":
		level = slog.LevelError
	case "warn":
		level = slog.LevelWarn
	case "info":
		level = slog.LevelInfo
	case "debug":
		level = slog.LevelDebug
	default:
		level = slog.LevelInfo
	}
	logger := slog.New(slog.NewJSONHandler(writer, &slog.HandlerOptions{
		Level: level,
	}))
	slog.SetDefault(logger)
	return logger
}

func runBot(cctx *cli.Context) error {
	ctx, stop := signal.NotifyContext(cctx.Context, syscall.SIGINT, syscall.SIGTERM)
	defer stop()

	logger := configLogger(cctx, os.Stdout)
	shutdownOTEL := configOTEL("clanker")
	defer func() {
		ctx, cancel := context.WithTimeout(context.Background(), time.Second)
		defer cancel()
		shutdownOTEL(ctx)
	}()

	bot, err := NewBot(ctx, cctx, logger)
	if err != nil {
		return err
	}
	defer func() {
		if err := bot.Close(); err != nil {
			logger.Error("failed to close state store", "err", err)
		}
	}()

	srv := NewServer(bot, ServerConfig{
		Logger:     logger,
		Bind:       fmt.Sprintf(":%d", cctx.Int("port")),
		AdminToken: cctx.String("admin-token"),
	})

	logger.Info("starting clanker",
		"version", versioninfo.Short(),
		"bot_id", bot.BotID != "",
		"membership", bot.Engine.Config.MembershipConfigured,
		"ban_backend", bot.Engine.Enforcer.Backend.Name(),
	)

	g, gctx := errgroup.WithContext(ctx)
	g.Go(func() error {
		return bot.Engine.Enforcer.Run(gctx)
	})
	g.Go(func() error {
		return srv.Run(gctx)
	})
	g.Go(func() error {
		return RunMetrics(gctx, cctx.String("metrics-listen"))
	})

	err = g.Wait()

	// let unbans in flight reach a terminal outcome, within reason
	done := make(chan struct{})
	go func() {
		bot.Engine.Enforcer.Wait()
		close(done)
	}()
	select {
	case <-done:
	case <-time.After(30 * time.Second):
		logger.Warn("gave up waiting for background unbans")
	}

	if err != nil && !errors.Is(err, context.Canceled) {
		return fmt.Errorf("clanker exited: %w", err)
	}
	logger.Info("graceful shutdown complete")
	return nil
}
