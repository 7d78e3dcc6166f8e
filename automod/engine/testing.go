package engine

import (
	"context"
	"net/http/httptest"
	"time"

	"github.com/clankerbot/clanker/automod/detector"
	"github.com/clankerbot/clanker/automod/enforce"
	"github.com/clankerbot/clanker/automod/fuzzy"
	"github.com/clankerbot/clanker/automod/keyword"
	"github.com/clankerbot/clanker/automod/mute"
	"github.com/clankerbot/clanker/automod/notify"
	"github.com/clankerbot/clanker/automod/resolve"
	"github.com/clankerbot/clanker/automod/statestore"
	"github.com/clankerbot/clanker/groupme"
)

// Admin user id configured by EngineTestFixture.
const TestAdminID = "1"

// An engine wired to an in-memory store and a mock GroupMe group served over httptest.
type TestFixture struct {
	Engine *Engine
	Group  *groupme.MockGroup
	Store  statestore.Store
	Server *httptest.Server
}

func (f *TestFixture) Close() {
	f.Engine.Enforcer.Wait()
	f.Server.Close()
}

func EngineTestFixture(group *groupme.MockGroup) *TestFixture {
	srv := httptest.NewServer(group)
	client := groupme.NewClient(srv.URL, "tok", group.GroupID, "bot1")
	client.HTTPClient = groupme.NewHTTPClient(groupme.WithMaxRetries(0), groupme.WithTimeout(2*time.Second))

	store := statestore.NewMemStore()
	admins := map[string]bool{TestAdminID: true}
	roster := resolve.NewRosterCache(client, time.Minute)

	gate, err := mute.NewGate(context.Background(), store, admins, "")
	if err != nil {
		panic(err)
	}
	enf := enforce.NewEnforcer(client, nil, store, roster, enforce.Config{
		InviteURL:     "https://groupme.com/join_group/test",
		QueueMinDelay: time.Millisecond,
		Unban: enforce.UnbanConfig{
			PollAttempts: 3,
			PollInitial:  time.Millisecond,
			PollFactor:   1.5,
			PollMax:      2 * time.Millisecond,
			RecheckDelay: time.Millisecond,
			AddRetries:   2,
		},
	})
	enf.Queue.Backoff = func(int) time.Duration { return time.Millisecond }

	cfg := DefaultConfig()
	cfg.Admins = admins
	eng := NewEngine(Components{
		Store:     store,
		Resolver:  resolve.NewResolver(roster, store, fuzzy.DefaultCutoff),
		Detector:  detector.NewDetector(keyword.DefaultLexicons(), store, detector.DefaultThreshold),
		Mutes:     gate,
		Messenger: notify.NewMessenger(client, notify.DefaultCooldown),
		Enforcer:  enf,
	}, cfg)

	return &TestFixture{
		Engine: eng,
		Group:  group,
		Store:  store,
		Server: srv,
	}
}

// Posts returns the bot messages the mock group has received so far.
func (f *TestFixture) Posts() []string {
	var out []string
	f.Group.Locked(func(g *groupme.MockGroup) { out = append(out, g.Posts...) })
	return out
}

// LastPost returns the most recent bot message, or "".
func (f *TestFixture) LastPost() string {
	posts := f.Posts()
	if len(posts) == 0 {
		return ""
	}
	return posts[len(posts)-1]
}
