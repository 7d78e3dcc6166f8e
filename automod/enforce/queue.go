package enforce

import (
	"context"
	"errors"
	"log/slog"
	"math/rand"
	"time"

	"github.com/clankerbot/clanker/automod/moderr"

	"github.com/puzpuzpuz/xsync/v3"
	"golang.org/x/time/rate"
)

const (
	DefaultQueueSize        = 100
	DefaultQueueMinDelay    = 2 * time.Second
	DefaultQueueMaxAttempts = 5
	// cap for exponential backoff, in seconds
	maxBackoffSeconds = 60
)

var ErrQueueFull = errors.New("ban queue is full")

type banItem struct {
	req BanRequest
	// attempts made so far, including the one that got the item queued
	attempts  int
	notBefore time.Time
}

// BanQueue retries rate-limited bans on a single worker goroutine. Items are handled FIFO, at most one per MinDelay; an item that is rate limited again is requeued with exponential backoff (or the server's Retry-After, if longer) until MaxAttempts is reached.
type BanQueue struct {
	// performs one ban attempt
	Process func(ctx context.Context, req BanRequest) error
	// called once per item with its terminal result
	Done        func(BanResult)
	MaxAttempts int
	// wait before retry number n (1-based)
	Backoff func(n int) time.Duration
	Logger  *slog.Logger

	items   chan *banItem
	pending *xsync.MapOf[string, *banItem]
	limiter *rate.Limiter
}

func NewBanQueue(size int, minDelay time.Duration, maxAttempts int, process func(ctx context.Context, req BanRequest) error) *BanQueue {
	if size <= 0 {
		size = DefaultQueueSize
	}
	if maxAttempts <= 0 {
		maxAttempts = DefaultQueueMaxAttempts
	}
	lim := rate.NewLimiter(rate.Inf, 1)
	if minDelay > 0 {
		lim = rate.NewLimiter(rate.Every(minDelay), 1)
	}
	return &BanQueue{
		Process:     process,
		MaxAttempts: maxAttempts,
		Backoff:     backoff,
		Logger:      slog.Default().With("component", "banqueue"),
		items:       make(chan *banItem, size),
		pending:     xsync.NewMapOf[string, *banItem](),
		limiter:     lim,
	}
}

func backoff(retries int) time.Duration {
	dur := 1 << retries
	if dur > maxBackoffSeconds {
		dur = maxBackoffSeconds
	}

	jitter := time.Millisecond * time.Duration(rand.Intn(1000))
	return time.Second*time.Duration(dur) + jitter
}

// Enqueue schedules a ban no earlier than retryAfter from now. A request for a user who is already queued is collapsed in to the existing item (returns false, nil).
func (q *BanQueue) Enqueue(req BanRequest, retryAfter time.Duration) (bool, error) {
	item := &banItem{
		req:       req,
		attempts:  1,
		notBefore: time.Now().Add(retryAfter),
	}
	if _, loaded := q.pending.LoadOrStore(req.UserID, item); loaded {
		return false, nil
	}
	select {
	case q.items <- item:
		queueDepth.Inc()
		return true, nil
	default:
		q.pending.Delete(req.UserID)
		return false, ErrQueueFull
	}
}

// Pending reports whether a ban for userID is waiting in the queue.
func (q *BanQueue) Pending(userID string) bool {
	_, ok := q.pending.Load(userID)
	return ok
}

func (q *BanQueue) Len() int {
	return q.pending.Size()
}

// Run processes items until ctx is done. Items still queued at shutdown are abandoned.
func (q *BanQueue) Run(ctx context.Context) error {
	for {
		select {
		case <-ctx.Done():
			return nil
		case item := <-q.items:
			queueDepth.Dec()
			if err := q.handle(ctx, item); err != nil {
				// context ended mid-item
				return nil
			}
		}
	}
}

func (q *BanQueue) handle(ctx context.Context, item *banItem) error {
	if err := sleepUntil(ctx, item.notBefore); err != nil {
		return err
	}
	if err := q.limiter.Wait(ctx); err != nil {
		return err
	}

	err := q.Process(ctx, item.req)
	item.attempts++
	if errors.Is(err, moderr.ErrRateLimited) && item.attempts < q.MaxAttempts {
		wait := q.Backoff(item.attempts)
		if ra := retryAfterOf(err); ra > wait {
			wait = ra
		}
		item.notBefore = time.Now().Add(wait)
		q.Logger.Info("ban rate limited, requeueing", "user", item.req.UserID, "attempt", item.attempts, "wait", wait)
		select {
		case q.items <- item:
			queueDepth.Inc()
			return nil
		default:
			err = ErrQueueFull
		}
	}

	q.pending.Delete(item.req.UserID)
	res := BanResult{Request: item.req, Attempts: item.attempts}
	if err == nil || errors.Is(err, moderr.ErrConflict) {
		res.Outcome = BanRemoved
	} else {
		res.Outcome = BanFailed
		res.Err = err
		q.Logger.Warn("queued ban failed", "user", item.req.UserID, "attempts", item.attempts, "err", err)
	}
	if q.Done != nil {
		q.Done(res)
	}
	return nil
}

func sleepUntil(ctx context.Context, t time.Time) error {
	return sleepCtx(ctx, time.Until(t))
}

func sleepCtx(ctx context.Context, d time.Duration) error {
	if d <= 0 {
		return ctx.Err()
	}
	timer := time.NewTimer(d)
	defer timer.Stop()
	select {
	case <-ctx.Done():
		return ctx.Err()
	case <-timer.C:
		return nil
	}
}
