package mute

import (
	"context"
	"errors"
	"testing"
	"time"

	"github.com/clankerbot/clanker/automod/moderr"
	"github.com/clankerbot/clanker/automod/statestore"
	"github.com/clankerbot/clanker/groupme"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

type fakeClock struct {
	now time.Time
}

func (c *fakeClock) Now() time.Time { return c.now }

func (c *fakeClock) Advance(d time.Duration) { c.now = c.now.Add(d) }

func testGate(t *testing.T, store statestore.Store) (*Gate, *fakeClock) {
	g, err := NewGate(context.Background(), store, map[string]bool{"1": true}, "99")
	require.NoError(t, err)
	clk := &fakeClock{now: time.Date(2024, 5, 1, 10, 0, 0, 0, time.UTC)}
	g.Clock = clk.Now
	return g, clk
}

func TestMuteFiveMinutes(t *testing.T) {
	assert := assert.New(t)
	ctx := context.Background()
	store := statestore.NewMemStore()
	g, clk := testGate(t, store)

	_, err := g.Mute(ctx, "100", nil, 5*time.Minute)
	require.NoError(t, err)

	clk.Advance(4 * time.Minute)
	v := g.Check(ctx, "100")
	assert.True(v.Muted)
	assert.True(v.Notify)

	// notice only once per mute period
	v = g.Check(ctx, "100")
	assert.True(v.Muted)
	assert.False(v.Notify)

	// other users are unaffected
	assert.False(g.Check(ctx, "200").Muted)

	clk.Advance(2 * time.Minute)
	assert.False(g.Check(ctx, "100").Muted)

	// expired record is purged from the store too
	recs, err := store.ListMutes(ctx)
	assert.NoError(err)
	assert.Empty(recs)
}

func TestMuteReplacesAndResetsNotice(t *testing.T) {
	assert := assert.New(t)
	ctx := context.Background()
	g, clk := testGate(t, statestore.NewMemStore())

	_, err := g.Mute(ctx, "100", nil, 10*time.Minute)
	require.NoError(t, err)
	assert.True(g.Check(ctx, "100").Notify)

	// shorter re-mute replaces rather than extends
	rec, err := g.Mute(ctx, "100", nil, time.Minute)
	require.NoError(t, err)
	assert.Equal(clk.now.Add(time.Minute), rec.ExpiresAt)
	assert.True(g.Check(ctx, "100").Notify)

	clk.Advance(2 * time.Minute)
	assert.False(g.Check(ctx, "100").Muted)
}

func TestMuteProtected(t *testing.T) {
	assert := assert.New(t)
	ctx := context.Background()
	g, _ := testGate(t, statestore.NewMemStore())

	_, err := g.Mute(ctx, "1", nil, time.Minute)
	assert.ErrorIs(err, ErrProtected)
	assert.ErrorIs(err, moderr.ErrUnauthorized)

	_, err = g.Mute(ctx, "99", nil, time.Minute)
	assert.ErrorIs(err, ErrProtected)

	_, err = g.Mute(ctx, "5", &groupme.Member{UserID: "5", Roles: []string{"owner"}}, time.Minute)
	assert.ErrorIs(err, ErrProtected)

	_, err = g.Mute(ctx, "5", nil, 0)
	assert.Error(err)
}

func TestMuteAllAndUnmute(t *testing.T) {
	assert := assert.New(t)
	ctx := context.Background()
	store := statestore.NewMemStore()
	g, _ := testGate(t, store)

	roster := []groupme.Member{
		{UserID: "1", Nickname: "Allow-listed Admin"},
		{UserID: "2", Nickname: "Roster Admin", Roles: []string{"admin"}},
		{UserID: "3", Nickname: "Regular"},
		{UserID: "4", Nickname: "Another"},
		{UserID: "99", Nickname: "The Bot"},
	}
	n, err := g.MuteAll(ctx, roster, time.Hour)
	require.NoError(t, err)
	assert.Equal(2, n)
	assert.False(g.Check(ctx, "1").Muted)
	assert.False(g.Check(ctx, "2").Muted)
	assert.True(g.Check(ctx, "3").Muted)
	assert.Len(g.Active(ctx), 2)

	assert.True(g.Unmute(ctx, "3"))
	assert.False(g.Unmute(ctx, "3"))
	assert.False(g.Check(ctx, "3").Muted)

	assert.Equal(1, g.UnmuteAll(ctx))
	assert.False(g.Check(ctx, "4").Muted)
	recs, err := store.ListMutes(ctx)
	assert.NoError(err)
	assert.Empty(recs)
}

type failingStore struct {
	*statestore.MemStore
}

func (failingStore) PutMute(ctx context.Context, rec statestore.MuteRecord) error {
	return errors.New("disk full")
}

func TestMutePersistenceBestEffort(t *testing.T) {
	assert := assert.New(t)
	ctx := context.Background()
	g, _ := testGate(t, failingStore{statestore.NewMemStore()})

	_, err := g.Mute(ctx, "100", nil, time.Minute)
	assert.NoError(err)
	assert.True(g.Check(ctx, "100").Muted)
}

func TestGateLoadsFromStore(t *testing.T) {
	assert := assert.New(t)
	ctx := context.Background()
	store := statestore.NewMemStore()
	require.NoError(t, store.PutMute(ctx, statestore.MuteRecord{UserID: "100", ExpiresAt: time.Now().Add(time.Hour), Notified: true}))

	g, err := NewGate(ctx, store, nil, "")
	require.NoError(t, err)
	v := g.Check(ctx, "100")
	assert.True(v.Muted)
	assert.False(v.Notify)
}
