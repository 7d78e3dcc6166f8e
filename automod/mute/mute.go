// Temporary mutes. Consulted before any other processing of an inbound message.
package mute

import (
	"context"
	"fmt"
	"log/slog"
	"sync"
	"time"

	"github.com/clankerbot/clanker/automod/moderr"
	"github.com/clankerbot/clanker/automod/statestore"
	"github.com/clankerbot/clanker/groupme"

	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/promauto"
)

var ErrProtected = fmt.Errorf("%w: administrators and the bot cannot be muted", moderr.ErrUnauthorized)

var suppressedCount = promauto.NewCounter(prometheus.CounterOpts{
	Name: "clanker_mute_suppressed_messages",
	Help: "Number of messages suppressed because the sender was muted",
})

var activeMutes = promauto.NewGauge(prometheus.GaugeOpts{
	Name: "clanker_mute_active",
	Help: "Number of currently muted users",
})

type Verdict struct {
	Muted     bool
	ExpiresAt time.Time
	// first suppressed message of this mute period; the caller posts a notice
	Notify bool
}

// Gate holds mute records in memory, writing changes through to the state store on a best-effort basis.
type Gate struct {
	Store statestore.Store
	// administrator user ids
	Admins map[string]bool
	// the account the bot acts as
	BotUserID string
	Clock     func() time.Time
	Logger    *slog.Logger

	mu    sync.Mutex
	mutes map[string]statestore.MuteRecord
}

// NewGate loads existing mutes from store.
func NewGate(ctx context.Context, store statestore.Store, admins map[string]bool, botUserID string) (*Gate, error) {
	recs, err := store.ListMutes(ctx)
	if err != nil {
		return nil, fmt.Errorf("loading mutes: %w", err)
	}
	g := &Gate{
		Store:     store,
		Admins:    admins,
		BotUserID: botUserID,
		Clock:     time.Now,
		Logger:    slog.Default().With("component", "mute"),
		mutes:     make(map[string]statestore.MuteRecord, len(recs)),
	}
	for _, r := range recs {
		g.mutes[r.UserID] = r
	}
	activeMutes.Set(float64(len(g.mutes)))
	return g, nil
}

// Protected reports whether a user is exempt from mutes. The member (if known) is checked for roster roles.
func (g *Gate) Protected(userID string, m *groupme.Member) bool {
	if g.Admins[userID] {
		return true
	}
	if g.BotUserID != "" && userID == g.BotUserID {
		return true
	}
	return m != nil && m.IsAdmin()
}

func (g *Gate) persistPut(ctx context.Context, rec statestore.MuteRecord) {
	if err := g.Store.PutMute(ctx, rec); err != nil {
		g.Logger.Warn("failed to persist mute", "user", rec.UserID, "err", err)
	}
}

func (g *Gate) persistDelete(ctx context.Context, userID string) {
	if err := g.Store.DeleteMute(ctx, userID); err != nil {
		g.Logger.Warn("failed to persist unmute", "user", userID, "err", err)
	}
}

// must be called with the lock held
func (g *Gate) purgeExpired(ctx context.Context, now time.Time) {
	for uid, rec := range g.mutes {
		if !rec.Active(now) {
			delete(g.mutes, uid)
			g.persistDelete(ctx, uid)
			g.Logger.Info("mute expired", "user", uid)
		}
	}
	activeMutes.Set(float64(len(g.mutes)))
}

// Check reports whether messages from userID must be suppressed.
func (g *Gate) Check(ctx context.Context, userID string) Verdict {
	g.mu.Lock()
	defer g.mu.Unlock()

	g.purgeExpired(ctx, g.Clock())
	rec, ok := g.mutes[userID]
	if !ok {
		return Verdict{}
	}
	suppressedCount.Inc()
	v := Verdict{Muted: true, ExpiresAt: rec.ExpiresAt}
	if !rec.Notified {
		v.Notify = true
		rec.Notified = true
		g.mutes[userID] = rec
		g.persistPut(ctx, rec)
	}
	return v
}

// Mute silences userID for d, replacing any existing mute.
func (g *Gate) Mute(ctx context.Context, userID string, m *groupme.Member, d time.Duration) (statestore.MuteRecord, error) {
	if g.Protected(userID, m) {
		return statestore.MuteRecord{}, ErrProtected
	}
	if d <= 0 {
		return statestore.MuteRecord{}, fmt.Errorf("mute duration must be positive")
	}
	g.mu.Lock()
	defer g.mu.Unlock()

	rec := statestore.MuteRecord{
		UserID:    userID,
		ExpiresAt: g.Clock().Add(d),
	}
	g.mutes[userID] = rec
	g.persistPut(ctx, rec)
	activeMutes.Set(float64(len(g.mutes)))
	return rec, nil
}

// Unmute returns false if the user was not muted.
func (g *Gate) Unmute(ctx context.Context, userID string) bool {
	g.mu.Lock()
	defer g.mu.Unlock()

	g.purgeExpired(ctx, g.Clock())
	if _, ok := g.mutes[userID]; !ok {
		return false
	}
	delete(g.mutes, userID)
	g.persistDelete(ctx, userID)
	activeMutes.Set(float64(len(g.mutes)))
	return true
}

// MuteAll mutes every roster member who is not protected. Returns the number muted.
func (g *Gate) MuteAll(ctx context.Context, members []groupme.Member, d time.Duration) (int, error) {
	if d <= 0 {
		return 0, fmt.Errorf("mute duration must be positive")
	}
	g.mu.Lock()
	defer g.mu.Unlock()

	exp := g.Clock().Add(d)
	n := 0
	for i := range members {
		m := &members[i]
		if m.UserID == "" || g.Protected(m.UserID, m) {
			continue
		}
		rec := statestore.MuteRecord{UserID: m.UserID, ExpiresAt: exp}
		g.mutes[m.UserID] = rec
		g.persistPut(ctx, rec)
		n++
	}
	activeMutes.Set(float64(len(g.mutes)))
	return n, nil
}

// UnmuteAll clears every mute. Returns the number cleared.
func (g *Gate) UnmuteAll(ctx context.Context) int {
	g.mu.Lock()
	defer g.mu.Unlock()

	n := len(g.mutes)
	for uid := range g.mutes {
		g.persistDelete(ctx, uid)
	}
	g.mutes = make(map[string]statestore.MuteRecord)
	activeMutes.Set(0)
	return n
}

// Active returns the unexpired mutes.
func (g *Gate) Active(ctx context.Context) []statestore.MuteRecord {
	g.mu.Lock()
	defer g.mu.Unlock()

	g.purgeExpired(ctx, g.Clock())
	out := make([]statestore.MuteRecord, 0, len(g.mutes))
	for _, rec := range g.mutes {
		out = append(out, rec)
	}
	return out
}
