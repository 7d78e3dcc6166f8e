package notify

import (
	"context"
	"encoding/json"
	"errors"
	"io"
	"net/http"
	"net/http/httptest"
	"strings"
	"sync"
	"testing"
	"time"
	"unicode/utf8"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

type fakeChat struct {
	mu      sync.Mutex
	posts   []string
	deleted []string
	err     error
}

func (c *fakeChat) PostBotMessage(ctx context.Context, text string) error {
	c.mu.Lock()
	defer c.mu.Unlock()
	if c.err != nil {
		return c.err
	}
	c.posts = append(c.posts, text)
	return nil
}

func (c *fakeChat) DeleteMessage(ctx context.Context, id string) error {
	c.mu.Lock()
	defer c.mu.Unlock()
	c.deleted = append(c.deleted, id)
	return nil
}

type fakeMirror struct {
	texts []string
}

func (f *fakeMirror) SendModeration(ctx context.Context, text string) error {
	f.texts = append(f.texts, text)
	return nil
}

func testMessenger() (*Messenger, *fakeChat, *time.Time) {
	chat := &fakeChat{}
	m := NewMessenger(chat, 10*time.Second)
	now := time.Date(2024, 1, 1, 0, 0, 0, 0, time.UTC)
	m.Clock = func() time.Time { return now }
	return m, chat, &now
}

func TestRoutineCooldown(t *testing.T) {
	assert := assert.New(t)
	ctx := context.Background()
	m, chat, now := testMessenger()

	sent, err := m.Routine(ctx, "We're the best!")
	assert.NoError(err)
	assert.True(sent)

	*now = now.Add(5 * time.Second)
	sent, err = m.Routine(ctx, "God is good")
	assert.NoError(err)
	assert.False(sent)

	// moderation bypasses the cooldown, and does not reset it
	assert.NoError(m.Moderation(ctx, "⚠️ warning"))

	*now = now.Add(5 * time.Second)
	sent, err = m.Routine(ctx, "me too bro")
	assert.NoError(err)
	assert.True(sent)

	assert.Equal([]string{"We're the best!", "⚠️ warning", "me too bro"}, chat.posts)
}

func TestRoutineLimiterEdges(t *testing.T) {
	assert := assert.New(t)
	ctx := context.Background()

	// zero cooldown never throttles
	chat := &fakeChat{}
	m := NewMessenger(chat, 0)
	for range 3 {
		sent, err := m.Routine(ctx, "wsg")
		assert.NoError(err)
		assert.True(sent)
	}
	assert.Len(chat.posts, 3)

	// a message dropped while disabled does not use up the slot
	m, chat, now := testMessenger()
	m.SetRoutineDisabled(true)
	sent, err := m.Routine(ctx, "dropped")
	assert.NoError(err)
	assert.False(sent)
	m.SetRoutineDisabled(false)
	sent, err = m.Routine(ctx, "first")
	assert.NoError(err)
	assert.True(sent)

	// a throttled message does not push the window back
	*now = now.Add(9 * time.Second)
	sent, _ = m.Routine(ctx, "too soon")
	assert.False(sent)
	*now = now.Add(time.Second)
	sent, _ = m.Routine(ctx, "second")
	assert.True(sent)
	assert.Equal([]string{"first", "second"}, chat.posts)
}

func TestRoutineDisabled(t *testing.T) {
	assert := assert.New(t)
	ctx := context.Background()
	m, chat, _ := testMessenger()
	mirror := &fakeMirror{}
	m.Mirror = mirror

	m.SetRoutineDisabled(true)
	assert.True(m.RoutineDisabled())
	sent, err := m.Routine(ctx, "hi")
	assert.NoError(err)
	assert.False(sent)

	sent, err = m.Send(ctx, Notice{Kind: KindModeration, Text: "🔨 banned"})
	assert.NoError(err)
	assert.True(sent)
	assert.Equal([]string{"🔨 banned"}, chat.posts)
	assert.Equal([]string{"🔨 banned"}, mirror.texts)

	sent, err = m.Send(ctx, Notice{Kind: KindModeration})
	assert.NoError(err)
	assert.False(sent)
}

func TestSendErrorAndTruncate(t *testing.T) {
	assert := assert.New(t)
	ctx := context.Background()
	m, chat, _ := testMessenger()

	assert.NoError(m.Moderation(ctx, strings.Repeat("é", 1500)))
	require.Len(t, chat.posts, 1)
	assert.Equal(MaxTextLength, utf8.RuneCountInString(chat.posts[0]))

	chat.err = errors.New("bot not found")
	assert.Error(m.Moderation(ctx, "x"))

	assert.NoError(m.Delete(ctx, "m1"))
	assert.NoError(m.Delete(ctx, ""))
	assert.Equal([]string{"m1"}, chat.deleted)
}

func TestSlackNotifier(t *testing.T) {
	assert := assert.New(t)

	var got SlackWebhookBody
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		assert.NoError(json.NewDecoder(r.Body).Decode(&got))
		io.WriteString(w, "ok")
	}))
	defer srv.Close()

	n := NewSlackNotifier(srv.URL)
	assert.NoError(n.SendModeration(context.Background(), "🔨 Bob banned"))
	assert.Contains(got.Text, "🔨 Bob banned")

	bad := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		w.WriteHeader(http.StatusForbidden)
	}))
	defer bad.Close()
	assert.Error(NewSlackNotifier(bad.URL).SendModeration(context.Background(), "x"))
}
