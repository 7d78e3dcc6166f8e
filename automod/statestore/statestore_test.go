package statestore

import (
	"context"
	"path/filepath"
	"sync"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

// exercises any Store implementation against the same expectations
func testStoreBasics(t *testing.T, s Store) {
	assert := assert.New(t)
	ctx := context.Background()
	t0 := time.Date(2024, 3, 1, 12, 0, 0, 0, time.UTC)

	// bans
	rec, err := s.GetBan(ctx, "100")
	assert.NoError(err)
	assert.Nil(rec)

	assert.NoError(s.PutBan(ctx, BanRecord{UserID: "100", Nickname: "Alice", Reason: "slur", CreatedAt: t0}))
	assert.NoError(s.PutBan(ctx, BanRecord{UserID: "200", Nickname: "Bob", CreatedAt: t0.Add(time.Minute)}))
	// replaces, does not duplicate
	assert.NoError(s.PutBan(ctx, BanRecord{UserID: "100", Nickname: "Alice2", Reason: "slur", CreatedAt: t0}))

	rec, err = s.GetBan(ctx, "100")
	require.NoError(t, err)
	require.NotNil(t, rec)
	assert.Equal("Alice2", rec.Nickname)
	assert.Equal("slur", rec.Reason)
	assert.True(rec.CreatedAt.Equal(t0))

	bans, err := s.ListBans(ctx)
	assert.NoError(err)
	require.Len(t, bans, 2)
	assert.Equal("100", bans[0].UserID)
	assert.Equal("200", bans[1].UserID)

	assert.NoError(s.DeleteBan(ctx, "100"))
	assert.NoError(s.DeleteBan(ctx, "nope"))
	rec, err = s.GetBan(ctx, "100")
	assert.NoError(err)
	assert.Nil(rec)

	// counters
	c, err := s.GetCount(ctx, CountSwears, "100")
	assert.NoError(err)
	assert.Equal(0, c)
	for i := 1; i <= 3; i++ {
		c, err = s.IncrementCount(ctx, CountSwears, "100")
		assert.NoError(err)
		assert.Equal(i, c)
	}
	c, err = s.IncrementCount(ctx, CountStrikes, "100")
	assert.NoError(err)
	assert.Equal(1, c)

	assert.NoError(s.ResetCount(ctx, CountSwears, "100"))
	c, err = s.GetCount(ctx, CountSwears, "100")
	assert.NoError(err)
	assert.Equal(0, c)
	// separate counters are independent
	c, err = s.GetCount(ctx, CountStrikes, "100")
	assert.NoError(err)
	assert.Equal(1, c)

	// former members
	assert.NoError(s.PutFormerMember(ctx, "300", "Carol"))
	assert.NoError(s.PutFormerMember(ctx, "ghost-Dave", "Dave"))
	former, err := s.ListFormerMembers(ctx)
	assert.NoError(err)
	assert.Equal(map[string]string{"300": "Carol", "ghost-Dave": "Dave"}, former)
	assert.NoError(s.DeleteFormerMember(ctx, "ghost-Dave"))
	former, err = s.ListFormerMembers(ctx)
	assert.NoError(err)
	assert.Equal(map[string]string{"300": "Carol"}, former)

	// mutes
	assert.NoError(s.PutMute(ctx, MuteRecord{UserID: "400", ExpiresAt: t0.Add(5 * time.Minute)}))
	assert.NoError(s.PutMute(ctx, MuteRecord{UserID: "400", ExpiresAt: t0.Add(10 * time.Minute), Notified: true}))
	mutes, err := s.ListMutes(ctx)
	assert.NoError(err)
	require.Len(t, mutes, 1)
	assert.True(mutes[0].ExpiresAt.Equal(t0.Add(10 * time.Minute)))
	assert.True(mutes[0].Notified)
	assert.NoError(s.DeleteMute(ctx, "400"))
	mutes, err = s.ListMutes(ctx)
	assert.NoError(err)
	assert.Empty(mutes)
}

func testStoreConcurrentIncrement(t *testing.T, s Store) {
	assert := assert.New(t)
	ctx := context.Background()

	var wg sync.WaitGroup
	for i := 0; i < 4; i++ {
		wg.Add(1)
		go func() {
			defer wg.Done()
			for j := 0; j < 10; j++ {
				_, err := s.IncrementCount(ctx, CountSwears, "500")
				assert.NoError(err)
			}
		}()
	}
	wg.Wait()

	c, err := s.GetCount(ctx, CountSwears, "500")
	assert.NoError(err)
	assert.Equal(40, c)
}

func TestMemStore(t *testing.T) {
	testStoreBasics(t, NewMemStore())
	testStoreConcurrentIncrement(t, NewMemStore())
}

func TestMuteRecordActive(t *testing.T) {
	assert := assert.New(t)
	now := time.Now()
	m := MuteRecord{UserID: "1", ExpiresAt: now.Add(time.Minute)}
	assert.True(m.Active(now))
	assert.False(m.Active(now.Add(time.Minute)))
	assert.False(m.Active(now.Add(2 * time.Minute)))
}

func TestFileStore(t *testing.T) {
	dir := t.TempDir()
	fs, err := NewFileStore(filepath.Join(dir, "state", "state.json"))
	require.NoError(t, err)
	testStoreBasics(t, fs)

	fs2, err := NewFileStore(filepath.Join(dir, "other.json"))
	require.NoError(t, err)
	testStoreConcurrentIncrement(t, fs2)
}
