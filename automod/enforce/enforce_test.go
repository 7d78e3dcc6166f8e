package enforce

import (
	"context"
	"encoding/json"
	"net/http"
	"net/http/httptest"
	"testing"
	"time"

	"github.com/clankerbot/clanker/automod/moderr"
	"github.com/clankerbot/clanker/automod/statestore"
	"github.com/clankerbot/clanker/groupme"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestBanDirect(t *testing.T) {
	assert := assert.New(t)
	ctx := context.Background()
	fake := mockGroup(nil)
	e, store := testEnforcer(t, fake, Config{})

	for i := 0; i < 10; i++ {
		_, err := store.IncrementCount(ctx, statestore.CountSwears, "200")
		require.NoError(t, err)
	}

	res := e.Ban(ctx, BanRequest{UserID: "200", Nickname: "Bob", Reason: "threshold"})
	assert.Equal(BanRemoved, res.Outcome)
	assert.NoError(res.Err)
	assert.Equal(1, removes(fake))
	assert.False(fake.InRoster("200"))

	rec, err := store.GetBan(ctx, "200")
	assert.NoError(err)
	require.NotNil(t, rec)
	assert.Equal("Bob", rec.Nickname)
	assert.Equal("threshold", rec.Reason)

	c, err := store.GetCount(ctx, statestore.CountSwears, "200")
	assert.NoError(err)
	assert.Equal(0, c)
}

func TestBanFailures(t *testing.T) {
	assert := assert.New(t)
	ctx := context.Background()

	// not in roster
	fake := mockGroup(nil)
	e, store := testEnforcer(t, fake, Config{})
	res := e.Ban(ctx, BanRequest{UserID: "999", Nickname: "Ghost"})
	assert.Equal(BanFailed, res.Outcome)
	assert.ErrorIs(res.Err, moderr.ErrNotFound)
	assert.Equal(0, removes(fake))

	// remote failure leaves counters alone and is not retried
	fake = mockGroup(func(f *groupme.MockGroup) {
		f.RemoveStatus = []int{http.StatusInternalServerError}
	})
	e, store = testEnforcer(t, fake, Config{})
	_, err := store.IncrementCount(ctx, statestore.CountSwears, "200")
	require.NoError(t, err)
	res = e.Ban(ctx, BanRequest{UserID: "200"})
	assert.Equal(BanFailed, res.Outcome)
	assert.ErrorIs(res.Err, moderr.ErrTransient)
	assert.Equal(1, removes(fake))
	assert.False(e.BanPending("200"))
	c, err := store.GetCount(ctx, statestore.CountSwears, "200")
	assert.NoError(err)
	assert.Equal(1, c)
	rec, err := store.GetBan(ctx, "200")
	assert.NoError(err)
	assert.Nil(rec)

	// already removed counts as success
	fake = mockGroup(func(f *groupme.MockGroup) {
		f.RemoveStatus = []int{http.StatusNotFound}
	})
	e, store = testEnforcer(t, fake, Config{})
	res = e.Ban(ctx, BanRequest{UserID: "200"})
	assert.Equal(BanRemoved, res.Outcome)
	rec, err = store.GetBan(ctx, "200")
	assert.NoError(err)
	assert.NotNil(rec)
}

func TestBanRateLimitedQueue(t *testing.T) {
	assert := assert.New(t)
	ctx, cancel := context.WithCancel(context.Background())
	defer cancel()

	fake := mockGroup(func(f *groupme.MockGroup) {
		f.RemoveStatus = []int{http.StatusTooManyRequests, http.StatusTooManyRequests}
	})
	e, store := testEnforcer(t, fake, Config{})
	done := make(chan BanResult, 1)
	e.OnQueuedBan = func(res BanResult) { done <- res }

	res := e.Ban(ctx, BanRequest{UserID: "200", Nickname: "Bob"})
	assert.Equal(BanQueued, res.Outcome)
	assert.True(e.BanPending("200"))

	// duplicate requests collapse in to the queued item
	res = e.Ban(ctx, BanRequest{UserID: "200", Nickname: "Bob"})
	assert.Equal(BanQueued, res.Outcome)
	assert.Equal(1, removes(fake))

	go e.Run(ctx)

	select {
	case res = <-done:
	case <-time.After(5 * time.Second):
		t.Fatal("queued ban never finished")
	}
	assert.Equal(BanRemoved, res.Outcome)
	assert.Equal(3, res.Attempts)
	assert.Equal(3, removes(fake))
	assert.False(e.BanPending("200"))

	rec, err := store.GetBan(ctx, "200")
	assert.NoError(err)
	assert.NotNil(rec)
}

func TestBanQueueGivesUp(t *testing.T) {
	assert := assert.New(t)
	ctx, cancel := context.WithCancel(context.Background())
	defer cancel()

	limited := []int{}
	for i := 0; i < 10; i++ {
		limited = append(limited, http.StatusTooManyRequests)
	}
	fake := mockGroup(func(f *groupme.MockGroup) {
		f.RemoveStatus = limited
	})
	e, store := testEnforcer(t, fake, Config{QueueMaxAttempts: 3})
	done := make(chan BanResult, 1)
	e.OnQueuedBan = func(res BanResult) { done <- res }
	go e.Run(ctx)

	res := e.Ban(ctx, BanRequest{UserID: "200"})
	assert.Equal(BanQueued, res.Outcome)

	select {
	case res = <-done:
	case <-time.After(5 * time.Second):
		t.Fatal("queued ban never finished")
	}
	assert.Equal(BanFailed, res.Outcome)
	assert.ErrorIs(res.Err, moderr.ErrRateLimited)
	assert.Equal(3, removes(fake))

	rec, err := store.GetBan(ctx, "200")
	assert.NoError(err)
	assert.Nil(rec)
}

func TestBanQueueFull(t *testing.T) {
	assert := assert.New(t)

	q := NewBanQueue(1, 0, 0, func(ctx context.Context, req BanRequest) error { return nil })
	ok, err := q.Enqueue(BanRequest{UserID: "1"}, 0)
	assert.True(ok)
	assert.NoError(err)
	ok, err = q.Enqueue(BanRequest{UserID: "1"}, 0)
	assert.False(ok)
	assert.NoError(err)
	_, err = q.Enqueue(BanRequest{UserID: "2"}, 0)
	assert.ErrorIs(err, ErrQueueFull)
	assert.Equal(1, q.Len())
	assert.False(q.Pending("2"))
}

func TestBackoff(t *testing.T) {
	assert := assert.New(t)
	assert.GreaterOrEqual(backoff(1), 2*time.Second)
	assert.Less(backoff(1), 3*time.Second)
	assert.GreaterOrEqual(backoff(10), 60*time.Second)
	assert.Less(backoff(10), 61*time.Second)
}

func TestDelegatedBackend(t *testing.T) {
	assert := assert.New(t)
	ctx := context.Background()

	var got delegatedBanBody
	status := http.StatusOK
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		assert.Equal("/ban", r.URL.Path)
		assert.NoError(json.NewDecoder(r.Body).Decode(&got))
		if status == http.StatusTooManyRequests {
			w.Header().Set("Retry-After", "4")
		}
		w.WriteHeader(status)
	}))
	defer srv.Close()

	b := NewDelegatedBackend(srv.URL+"/", nil)
	assert.Equal("delegated", b.Name())
	assert.NoError(b.Ban(ctx, BanRequest{UserID: "200", Nickname: "Bob", Reason: "slur"}))
	assert.Equal(delegatedBanBody{UserID: "200", Username: "Bob", Reason: "slur"}, got)

	status = http.StatusTooManyRequests
	err := b.Ban(ctx, BanRequest{UserID: "200"})
	assert.ErrorIs(err, moderr.ErrRateLimited)
	assert.Equal(4*time.Second, retryAfterOf(err))

	status = http.StatusBadGateway
	assert.ErrorIs(b.Ban(ctx, BanRequest{UserID: "200"}), moderr.ErrTransient)

	status = http.StatusBadRequest
	err = b.Ban(ctx, BanRequest{UserID: "200"})
	assert.Error(err)
	assert.Equal(moderr.ClassOther, moderr.Classify(err))

	assert.ErrorIs(NewDelegatedBackend("", nil).Ban(ctx, BanRequest{UserID: "1"}), moderr.ErrConfigMissing)
}

func TestEnforcerDelegated(t *testing.T) {
	assert := assert.New(t)
	ctx := context.Background()

	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		w.WriteHeader(http.StatusOK)
	}))
	defer srv.Close()

	fake := mockGroup(nil)
	e, store := testEnforcer(t, fake, Config{})
	e.Backend = NewDelegatedBackend(srv.URL, nil)

	res := e.Ban(ctx, BanRequest{UserID: "100", Nickname: "Alice"})
	assert.Equal(BanRemoved, res.Outcome)
	// the roster is not touched directly
	assert.Equal(0, removes(fake))
	rec, err := store.GetBan(ctx, "100")
	assert.NoError(err)
	assert.NotNil(rec)
}
