// Bans and unbans against the eventually-consistent GroupMe membership API.
//
// Bans run synchronously on the caller's path, with rate-limited attempts handed to a background BanQueue. Unbans always run on a background goroutine, since confirming an add can take many seconds of polling.
package enforce

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"sync"
	"time"

	"github.com/clankerbot/clanker/automod/moderr"
	"github.com/clankerbot/clanker/automod/resolve"
	"github.com/clankerbot/clanker/automod/statestore"

	"github.com/puzpuzpuz/xsync/v3"
	"go.opentelemetry.io/otel"
	"go.opentelemetry.io/otel/attribute"
	"go.opentelemetry.io/otel/codes"
)

var tracer = otel.Tracer("clanker/enforce")

type BanOutcome string

const (
	BanRemoved BanOutcome = "removed"
	BanQueued  BanOutcome = "queued"
	BanFailed  BanOutcome = "failed"
)

type BanResult struct {
	Request  BanRequest
	Outcome  BanOutcome
	Err      error
	Attempts int
}

type Config struct {
	// fixed invite link offered when an unban cannot be confirmed
	InviteURL string

	QueueSize        int
	QueueMinDelay    time.Duration
	QueueMaxAttempts int

	Unban UnbanConfig
}

type Enforcer struct {
	API     Membership
	Backend BanBackend
	Store   statestore.Store
	Roster  *resolve.RosterCache
	Queue   *BanQueue
	Logger  *slog.Logger

	InviteURL   string
	UnbanConfig UnbanConfig

	// called with the terminal result of bans that went through the queue
	OnQueuedBan func(BanResult)
	// called with the terminal result of every unban
	OnUnban func(UnbanResult)

	unbans *xsync.MapOf[string, *UnbanJob]
	wg     sync.WaitGroup
}

func NewEnforcer(api Membership, backend BanBackend, store statestore.Store, roster *resolve.RosterCache, cfg Config) *Enforcer {
	if backend == nil {
		backend = &DirectBackend{API: api}
	}
	e := &Enforcer{
		API:         api,
		Backend:     backend,
		Store:       store,
		Roster:      roster,
		Logger:      slog.Default().With("component", "enforce", "backend", backend.Name()),
		InviteURL:   cfg.InviteURL,
		UnbanConfig: cfg.Unban.withDefaults(),
		unbans:      xsync.NewMapOf[string, *UnbanJob](),
	}
	minDelay := cfg.QueueMinDelay
	if minDelay == 0 {
		minDelay = DefaultQueueMinDelay
	}
	e.Queue = NewBanQueue(cfg.QueueSize, minDelay, cfg.QueueMaxAttempts, func(ctx context.Context, req BanRequest) error {
		return e.Backend.Ban(ctx, req)
	})
	e.Queue.Done = e.queuedBanDone
	return e
}

// Run drives the ban queue until ctx is done.
func (e *Enforcer) Run(ctx context.Context) error {
	return e.Queue.Run(ctx)
}

// Wait blocks until all in-flight unbans have finished.
func (e *Enforcer) Wait() {
	e.wg.Wait()
}

// Ban removes a user. Rate-limited attempts are queued for retry in the background and reported through OnQueuedBan.
func (e *Enforcer) Ban(ctx context.Context, req BanRequest) BanResult {
	ctx, span := tracer.Start(ctx, "Ban")
	defer span.End()
	span.SetAttributes(
		attribute.String("user_id", req.UserID),
		attribute.String("backend", e.Backend.Name()),
	)

	res := BanResult{Request: req, Attempts: 1}
	if e.Queue.Pending(req.UserID) {
		res.Outcome = BanQueued
		return res
	}

	err := e.Backend.Ban(ctx, req)
	switch {
	case err == nil, errors.Is(err, moderr.ErrConflict):
		if rerr := e.recordBan(ctx, req); rerr != nil {
			e.Logger.Error("failed to persist ban", "user", req.UserID, "err", rerr)
		}
		res.Outcome = BanRemoved
	case errors.Is(err, moderr.ErrRateLimited):
		if _, qerr := e.Queue.Enqueue(req, retryAfterOf(err)); qerr != nil {
			res.Outcome = BanFailed
			res.Err = fmt.Errorf("%w: %w", qerr, err)
		} else {
			res.Outcome = BanQueued
			e.Logger.Info("ban rate limited, queued", "user", req.UserID, "retry_after", retryAfterOf(err))
		}
	default:
		res.Outcome = BanFailed
		res.Err = err
	}

	banOutcomeCount.WithLabelValues(e.Backend.Name(), string(res.Outcome)).Inc()
	if res.Err != nil {
		span.RecordError(res.Err)
		span.SetStatus(codes.Error, res.Err.Error())
		e.Logger.Warn("ban failed", "user", req.UserID, "class", moderr.Classify(res.Err), "err", res.Err)
	}
	span.SetAttributes(attribute.String("outcome", string(res.Outcome)))
	return res
}

// persists the ban and clears the user's swear count
func (e *Enforcer) recordBan(ctx context.Context, req BanRequest) error {
	if e.Roster != nil {
		e.Roster.Purge()
	}
	rec := statestore.BanRecord{
		UserID:    req.UserID,
		Nickname:  req.Nickname,
		Reason:    req.Reason,
		CreatedAt: time.Now(),
	}
	if err := e.Store.PutBan(ctx, rec); err != nil {
		return err
	}
	return e.Store.ResetCount(ctx, statestore.CountSwears, req.UserID)
}

func (e *Enforcer) queuedBanDone(res BanResult) {
	// the queue's context may already be winding down; persistence should still complete
	ctx := context.Background()
	if res.Outcome == BanRemoved {
		if err := e.recordBan(ctx, res.Request); err != nil {
			e.Logger.Error("failed to persist queued ban", "user", res.Request.UserID, "err", err)
		}
	}
	banOutcomeCount.WithLabelValues(e.Backend.Name(), string(res.Outcome)).Inc()
	if e.OnQueuedBan != nil {
		e.OnQueuedBan(res)
	}
}

// UnbanPending reports whether an unban for userID is in flight. Joins observed while it is are expected, and must not trigger a re-ban.
func (e *Enforcer) UnbanPending(userID string) bool {
	_, ok := e.unbans.Load(userID)
	return ok
}

// BanPending reports whether a ban for userID is waiting in the retry queue.
func (e *Enforcer) BanPending(userID string) bool {
	return e.Queue.Pending(userID)
}
