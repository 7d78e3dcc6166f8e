package enforce

import (
	"context"
	"net/http"
	"testing"
	"time"

	"github.com/clankerbot/clanker/automod/event"
	"github.com/clankerbot/clanker/automod/moderr"
	"github.com/clankerbot/clanker/automod/resolve"
	"github.com/clankerbot/clanker/automod/statestore"
	"github.com/clankerbot/clanker/groupme"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func seedBan(t *testing.T, store statestore.Store, userID, nickname string) {
	ctx := context.Background()
	require.NoError(t, store.PutBan(ctx, statestore.BanRecord{UserID: userID, Nickname: nickname, CreatedAt: time.Now()}))
	require.NoError(t, store.PutFormerMember(ctx, userID, nickname))
	require.NoError(t, store.PutFormerMember(ctx, event.GhostKey(nickname), nickname))
}

func target(userID, nickname string) *resolve.Identity {
	return &resolve.Identity{UserID: userID, Key: userID, Nickname: nickname, Source: resolve.SourceRemoved}
}

func TestUnbanConfirmedByResults(t *testing.T) {
	assert := assert.New(t)
	ctx := context.Background()
	fake := mockGroup(func(f *groupme.MockGroup) {
		f.ResultsMode = groupme.MockResultsConfirm
		f.AddJoins = true
	})
	e, store := testEnforcer(t, fake, Config{})
	seedBan(t, store, "300", "🔥Carol🔥")

	var notified []UnbanResult
	e.OnUnban = func(res UnbanResult) { notified = append(notified, res) }

	job := e.Unban(ctx, target("300", "🔥Carol🔥"))
	res := job.Wait()
	e.Wait()

	assert.Equal(UnbanConfirmed, res.Outcome)
	assert.NoError(res.Err)
	assert.Empty(res.Fallback)
	assert.Equal(1, res.Adds)
	assert.Equal([]string{"Carol"}, addNicknames(fake))
	assert.True(fake.InRoster("300"))
	assert.Len(notified, 1)
	assert.False(e.UnbanPending("300"))

	rec, err := store.GetBan(ctx, "300")
	assert.NoError(err)
	assert.Nil(rec)
	former, err := store.ListFormerMembers(ctx)
	assert.NoError(err)
	assert.Empty(former)
}

func TestUnbanAlreadyMember(t *testing.T) {
	assert := assert.New(t)
	ctx := context.Background()
	fake := mockGroup(nil)
	e, store := testEnforcer(t, fake, Config{})
	seedBan(t, store, "100", "Alice")

	res := e.Unban(ctx, target("100", "Alice")).Wait()
	assert.Equal(UnbanConfirmed, res.Outcome)
	assert.Equal(0, res.Adds)

	rec, err := store.GetBan(ctx, "100")
	assert.NoError(err)
	assert.Nil(rec)
}

func TestUnbanTimedOut(t *testing.T) {
	assert := assert.New(t)
	ctx := context.Background()
	fake := mockGroup(func(f *groupme.MockGroup) {
		f.ResultsMode = groupme.MockResultsPending
	})
	e, store := testEnforcer(t, fake, Config{InviteURL: "https://groupme.com/join_group/g1/invite"})
	seedBan(t, store, "300", "Carol (the 2nd)")

	res := e.Unban(ctx, target("300", "Carol (the 2nd)")).Wait()
	assert.Equal(UnbanTimedOut, res.Outcome)
	assert.ErrorIs(res.Err, moderr.ErrExpired)
	assert.Equal("https://groupme.com/join_group/g1/invite", res.Fallback)

	// bounded polling, then one retry with a plain name
	assert.Equal(2, res.Adds)
	assert.Equal([]string{"Carol the 2nd", "Carol the 2nd"}, addNicknames(fake))
	assert.Equal(6, polls(fake))

	rec, err := store.GetBan(ctx, "300")
	assert.NoError(err)
	assert.NotNil(rec)
	former, err := store.ListFormerMembers(ctx)
	assert.NoError(err)
	assert.Len(former, 2)
}

func TestUnbanExpiredUsesShareURL(t *testing.T) {
	assert := assert.New(t)
	ctx := context.Background()
	fake := mockGroup(func(f *groupme.MockGroup) {
		f.ResultsMode = groupme.MockResultsExpired
		f.ShareURL = "https://groupme.com/join_group/g1/share"
	})
	e, store := testEnforcer(t, fake, Config{})
	seedBan(t, store, "300", "Carol")

	res := e.Unban(ctx, target("300", "Carol")).Wait()
	assert.Equal(UnbanTimedOut, res.Outcome)
	assert.Equal("https://groupme.com/join_group/g1/share", res.Fallback)
	// expired results are not polled again
	assert.Equal(2, polls(fake))
}

func TestUnbanRosterRecheck(t *testing.T) {
	assert := assert.New(t)
	ctx := context.Background()
	fake := mockGroup(func(f *groupme.MockGroup) {
		f.ResultsMode = groupme.MockResultsNone
		f.AddJoins = true
	})
	e, store := testEnforcer(t, fake, Config{})
	seedBan(t, store, "300", "Carol")

	res := e.Unban(ctx, target("300", "Carol")).Wait()
	assert.Equal(UnbanConfirmed, res.Outcome)
	assert.Equal(0, polls(fake))
}

func TestUnbanFailures(t *testing.T) {
	assert := assert.New(t)
	ctx := context.Background()

	// former member known only by display name
	fake := mockGroup(nil)
	e, _ := testEnforcer(t, fake, Config{})
	res := e.Unban(ctx, &resolve.Identity{Key: event.GhostKey("Dave"), Nickname: "Dave"}).Wait()
	assert.Equal(UnbanFailed, res.Outcome)
	assert.ErrorIs(res.Err, moderr.ErrNotFound)
	assert.Equal(manualFallback, res.Fallback)
	assert.Empty(addNicknames(fake))

	// add rejected outright
	fake = mockGroup(func(f *groupme.MockGroup) {
		f.AddStatus = []int{http.StatusForbidden}
	})
	e, store := testEnforcer(t, fake, Config{InviteURL: "https://invite"})
	seedBan(t, store, "300", "Carol")
	res = e.Unban(ctx, target("300", "Carol")).Wait()
	assert.Equal(UnbanFailed, res.Outcome)
	assert.ErrorIs(res.Err, moderr.ErrUnauthorized)
	assert.Equal("https://invite", res.Fallback)
	rec, err := store.GetBan(ctx, "300")
	assert.NoError(err)
	assert.NotNil(rec)

	// rate-limited adds are retried in the background
	fake = mockGroup(func(f *groupme.MockGroup) {
		f.AddStatus = []int{http.StatusTooManyRequests}
		f.ResultsMode = groupme.MockResultsConfirm
		f.AddJoins = true
	})
	e, store = testEnforcer(t, fake, Config{})
	seedBan(t, store, "300", "Carol")
	res = e.Unban(ctx, target("300", "Carol")).Wait()
	assert.Equal(UnbanConfirmed, res.Outcome)
	assert.Len(addNicknames(fake), 2)
}

func TestUnbanPending(t *testing.T) {
	assert := assert.New(t)
	ctx := context.Background()
	fake := mockGroup(func(f *groupme.MockGroup) {
		f.ResultsMode = groupme.MockResultsPending
	})
	e, store := testEnforcer(t, fake, Config{Unban: UnbanConfig{
		PollAttempts: 2,
		PollInitial:  50 * time.Millisecond,
		PollMax:      50 * time.Millisecond,
		RecheckDelay: time.Millisecond,
	}})
	seedBan(t, store, "300", "Carol")

	job := e.Unban(ctx, target("300", "Carol"))
	assert.True(e.UnbanPending("300"))
	// a second request joins the running one
	assert.Same(job, e.Unban(ctx, target("300", "Carol")))

	job.Wait()
	e.Wait()
	assert.False(e.UnbanPending("300"))
}

func TestPollDelay(t *testing.T) {
	assert := assert.New(t)
	c := DefaultUnbanConfig()
	assert.Equal(time.Second, c.pollDelay(0))
	assert.Equal(1500*time.Millisecond, c.pollDelay(1))
	assert.Equal(2250*time.Millisecond, c.pollDelay(2))
	assert.Equal(4*time.Second, c.pollDelay(5))
}
