package enforce

import (
	"context"
	"errors"
	"fmt"
	"math"
	"time"

	"github.com/clankerbot/clanker/automod/event"
	"github.com/clankerbot/clanker/automod/keyword"
	"github.com/clankerbot/clanker/automod/moderr"
	"github.com/clankerbot/clanker/automod/resolve"
	"github.com/clankerbot/clanker/automod/statestore"
	"github.com/clankerbot/clanker/groupme"

	"github.com/google/uuid"
	"go.opentelemetry.io/otel/attribute"
	"go.opentelemetry.io/otel/codes"
)

type UnbanOutcome string

const (
	UnbanConfirmed UnbanOutcome = "confirmed"
	// the add was issued but membership could not be confirmed
	UnbanTimedOut UnbanOutcome = "timed-out"
	UnbanFailed   UnbanOutcome = "failed"
)

const (
	maxNicknameRunes = 50
	// GroupMe requires a nickname on add
	placeholderNickname = "Member"
	// overall limit on one unban's background work
	unbanDeadline = 3 * time.Minute
)

type UnbanConfig struct {
	PollAttempts int
	PollInitial  time.Duration
	PollFactor   float64
	PollMax      time.Duration
	// wait before re-checking the roster when polling was inconclusive
	RecheckDelay time.Duration
	// retries of a rate-limited add call
	AddRetries int
}

func DefaultUnbanConfig() UnbanConfig {
	return UnbanConfig{
		PollAttempts: 12,
		PollInitial:  time.Second,
		PollFactor:   1.5,
		PollMax:      4 * time.Second,
		RecheckDelay: 3 * time.Second,
		AddRetries:   3,
	}
}

func (c UnbanConfig) withDefaults() UnbanConfig {
	d := DefaultUnbanConfig()
	if c.PollAttempts <= 0 {
		c.PollAttempts = d.PollAttempts
	}
	if c.PollInitial <= 0 {
		c.PollInitial = d.PollInitial
	}
	if c.PollFactor < 1 {
		c.PollFactor = d.PollFactor
	}
	if c.PollMax <= 0 {
		c.PollMax = d.PollMax
	}
	if c.RecheckDelay <= 0 {
		c.RecheckDelay = d.RecheckDelay
	}
	if c.AddRetries < 0 {
		c.AddRetries = 0
	} else if c.AddRetries == 0 {
		c.AddRetries = d.AddRetries
	}
	return c
}

// delay before poll number n (0-based)
func (c UnbanConfig) pollDelay(n int) time.Duration {
	d := time.Duration(float64(c.PollInitial) * math.Pow(c.PollFactor, float64(n)))
	if d > c.PollMax {
		d = c.PollMax
	}
	return d
}

type UnbanResult struct {
	UserID   string
	Nickname string
	Outcome  UnbanOutcome
	Err      error
	// for anything but Confirmed: how the user can be brought back by hand
	Fallback string
	// number of add calls issued
	Adds int
}

// UnbanJob is an unban running in the background.
type UnbanJob struct {
	UserID string
	done   chan struct{}
	result UnbanResult
}

// Wait blocks until the unban reaches a terminal outcome.
func (j *UnbanJob) Wait() UnbanResult {
	<-j.done
	return j.result
}

// Unban re-adds a banned or departed user on a background goroutine and returns immediately. The target must come from Resolver.ResolveRemoved. A second unban for a user already in flight returns the existing job.
//
// The outcome is delivered through OnUnban and the returned job. Only a Confirmed outcome clears the ban record; anything else leaves it in place and carries a fallback for re-adding the user manually.
func (e *Enforcer) Unban(ctx context.Context, target *resolve.Identity) *UnbanJob {
	key := target.UserID
	if key == "" {
		key = target.Key
	}
	job := &UnbanJob{UserID: key, done: make(chan struct{})}
	if existing, loaded := e.unbans.LoadOrStore(key, job); loaded {
		return existing
	}

	// remote side effects are never cancelled once started
	bg, cancel := context.WithTimeout(context.WithoutCancel(ctx), unbanDeadline)
	e.wg.Add(1)
	go func() {
		defer e.wg.Done()
		defer cancel()
		res := e.runUnban(bg, target)
		job.result = res
		e.unbans.Delete(key)
		close(job.done)
		unbanOutcomeCount.WithLabelValues(string(res.Outcome)).Inc()
		if e.OnUnban != nil {
			e.OnUnban(res)
		}
	}()
	return job
}

func (e *Enforcer) runUnban(ctx context.Context, target *resolve.Identity) UnbanResult {
	ctx, span := tracer.Start(ctx, "Unban")
	defer span.End()
	span.SetAttributes(attribute.String("user_id", target.UserID))

	res := UnbanResult{UserID: target.UserID, Nickname: target.Nickname}
	log := e.Logger.With("user", target.UserID, "nickname", target.Nickname)

	fail := func(outcome UnbanOutcome, err error) UnbanResult {
		res.Outcome = outcome
		res.Err = err
		res.Fallback = e.fallback(ctx)
		if err != nil {
			span.RecordError(err)
		}
		span.SetStatus(codes.Error, string(outcome))
		log.Warn("unban not confirmed", "outcome", outcome, "adds", res.Adds, "err", err)
		return res
	}

	if target.UserID == "" || !event.LooksNumeric(target.UserID) {
		return fail(UnbanFailed, fmt.Errorf("%w: no user id recorded for %s", moderr.ErrNotFound, target.Label()))
	}

	confirm := func() UnbanResult {
		if err := e.clearRecords(ctx, target); err != nil {
			log.Error("failed to clear ban records after unban", "err", err)
		}
		res.Outcome = UnbanConfirmed
		span.SetAttributes(attribute.String("outcome", string(res.Outcome)))
		log.Info("unban confirmed", "adds", res.Adds)
		return res
	}

	if in, err := e.inRoster(ctx, target.UserID); err == nil && in {
		return confirm()
	} else if err != nil {
		log.Warn("roster check before unban failed", "err", err)
	}

	names := []string{keyword.SanitizeNickname(target.Nickname, maxNicknameRunes)}
	if bare := keyword.BareAlphanumeric(names[0]); bare != "" {
		names = append(names, bare)
	} else {
		names = append(names, placeholderNickname)
	}

	var lastErr error
	for round, name := range names {
		if name == "" {
			name = placeholderNickname
		}
		ok, err := e.addAndConfirm(ctx, target.UserID, name, &res)
		if ok {
			return confirm()
		}
		if err != nil {
			lastErr = err
			if !errors.Is(err, moderr.ErrExpired) && !errors.Is(err, moderr.ErrRateLimited) && !errors.Is(err, moderr.ErrTransient) {
				return fail(UnbanFailed, err)
			}
		}
		log.Info("unban add not confirmed", "round", round+1, "err", err)
	}
	return fail(UnbanTimedOut, lastErr)
}

// one add call followed by polling and a roster re-check
func (e *Enforcer) addAndConfirm(ctx context.Context, userID, nickname string, res *UnbanResult) (bool, error) {
	resultsID, err := e.add(ctx, userID, nickname)
	res.Adds++
	if errors.Is(err, moderr.ErrConflict) {
		// already a member
		return true, nil
	}
	if err != nil {
		return false, err
	}

	var pollErr error
	if resultsID != "" {
		confirmed, err := e.poll(ctx, userID, resultsID)
		if confirmed {
			return true, nil
		}
		pollErr = err
	}

	if err := sleepCtx(ctx, e.UnbanConfig.RecheckDelay); err != nil {
		return false, fmt.Errorf("%w: %w", moderr.ErrExpired, err)
	}
	if e.Roster != nil {
		e.Roster.Purge()
	}
	in, err := e.inRoster(ctx, userID)
	if err != nil {
		return false, classifyAPIError(err)
	}
	return in, pollErr
}

// add call, retrying rate limits in place (this always runs in the background)
func (e *Enforcer) add(ctx context.Context, userID, nickname string) (string, error) {
	var err error
	for attempt := 0; attempt <= e.UnbanConfig.AddRetries; attempt++ {
		var rid string
		rid, err = e.API.AddMembers(ctx, []groupme.AddMember{{
			UserID:   userID,
			Nickname: nickname,
			GUID:     uuid.NewString(),
		}})
		err = classifyAPIError(err)
		if !errors.Is(err, moderr.ErrRateLimited) {
			return rid, err
		}
		wait := e.Queue.Backoff(attempt + 1)
		if ra := retryAfterOf(err); ra > 0 {
			wait = ra
		}
		e.Logger.Info("unban add rate limited", "user", userID, "wait", wait)
		if serr := sleepCtx(ctx, wait); serr != nil {
			return "", err
		}
	}
	return "", err
}

// polls member results; a nil error with false means the results did not list the user
func (e *Enforcer) poll(ctx context.Context, userID, resultsID string) (bool, error) {
	for n := 0; n < e.UnbanConfig.PollAttempts; n++ {
		if err := sleepCtx(ctx, e.UnbanConfig.pollDelay(n)); err != nil {
			return false, fmt.Errorf("%w: %w", moderr.ErrExpired, err)
		}
		unbanPollCount.Inc()
		added, err := e.API.MemberResults(ctx, resultsID)
		switch {
		case errors.Is(err, groupme.ErrResultsPending):
			continue
		case errors.Is(err, groupme.ErrResultsExpired):
			return false, fmt.Errorf("%w: member results %s", moderr.ErrExpired, resultsID)
		case err != nil:
			e.Logger.Warn("polling member results failed", "results_id", resultsID, "err", err)
			continue
		}
		for _, m := range added {
			if m.UserID == userID {
				return true, nil
			}
		}
		return false, nil
	}
	return false, fmt.Errorf("%w: member results still pending after %d polls", moderr.ErrExpired, e.UnbanConfig.PollAttempts)
}

func (e *Enforcer) inRoster(ctx context.Context, userID string) (bool, error) {
	var members []groupme.Member
	var err error
	if e.Roster != nil {
		members, err = e.Roster.Fresh(ctx)
	} else {
		members, err = e.API.Roster(ctx)
	}
	if err != nil {
		return false, err
	}
	for _, m := range members {
		if m.UserID == userID {
			return true, nil
		}
	}
	return false, nil
}

func (e *Enforcer) clearRecords(ctx context.Context, target *resolve.Identity) error {
	var errs []error
	errs = append(errs, e.Store.DeleteBan(ctx, target.UserID))
	errs = append(errs, e.Store.DeleteFormerMember(ctx, target.UserID))
	if target.Key != "" && target.Key != target.UserID {
		errs = append(errs, e.Store.DeleteFormerMember(ctx, target.Key))
	}
	if target.Nickname != "" {
		errs = append(errs, e.Store.DeleteFormerMember(ctx, event.GhostKey(target.Nickname)))
	}
	errs = append(errs, e.Store.ResetCount(ctx, statestore.CountSwears, target.UserID))
	return errors.Join(errs...)
}

const manualFallback = "re-add them manually from the group settings"

// fallback is the configured invite link, else the group's share link, else manual instructions.
func (e *Enforcer) fallback(ctx context.Context) string {
	if e.InviteURL != "" {
		return e.InviteURL
	}
	g, err := e.API.GetGroup(ctx)
	if err != nil {
		e.Logger.Warn("could not fetch group share link", "err", err)
		return manualFallback
	}
	if g.ShareURL != "" {
		return g.ShareURL
	}
	return manualFallback
}
