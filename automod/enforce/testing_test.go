package enforce

import (
	"net/http/httptest"
	"testing"
	"time"

	"github.com/clankerbot/clanker/automod/resolve"
	"github.com/clankerbot/clanker/automod/statestore"
	"github.com/clankerbot/clanker/groupme"
)

var testRoster = []groupme.Member{
	{UserID: "100", MembershipID: "m100", Nickname: "Alice"},
	{UserID: "200", MembershipID: "m200", Nickname: "Bob"},
}

// mock group with the test roster, where adds neither join nor confirm unless a test says so
func mockGroup(fn func(f *groupme.MockGroup)) *groupme.MockGroup {
	m := groupme.NewMockGroup("g1", testRoster...)
	m.AddJoins = false
	m.ResultsMode = groupme.MockResultsPending
	if fn != nil {
		fn(m)
	}
	return m
}

func fastUnbanConfig() UnbanConfig {
	return UnbanConfig{
		PollAttempts: 3,
		PollInitial:  time.Millisecond,
		PollFactor:   1.5,
		PollMax:      2 * time.Millisecond,
		RecheckDelay: time.Millisecond,
		AddRetries:   2,
	}
}

func testEnforcer(t *testing.T, mock *groupme.MockGroup, cfg Config) (*Enforcer, statestore.Store) {
	srv := httptest.NewServer(mock)
	t.Cleanup(srv.Close)

	client := groupme.NewClient(srv.URL, "tok", "g1", "bot1")
	client.HTTPClient = groupme.NewHTTPClient(groupme.WithMaxRetries(0), groupme.WithTimeout(2*time.Second))

	if cfg.QueueMinDelay == 0 {
		cfg.QueueMinDelay = time.Millisecond
	}
	if cfg.Unban.PollAttempts == 0 {
		cfg.Unban = fastUnbanConfig()
	}
	store := statestore.NewMemStore()
	e := NewEnforcer(client, nil, store, resolve.NewRosterCache(client, time.Minute), cfg)
	e.Queue.Backoff = func(n int) time.Duration { return time.Millisecond }
	return e, store
}

// reads mock counters under its lock
func removes(m *groupme.MockGroup) int {
	var n int
	m.Locked(func(f *groupme.MockGroup) { n = f.Removes })
	return n
}

func polls(m *groupme.MockGroup) int {
	var n int
	m.Locked(func(f *groupme.MockGroup) { n = f.Polls })
	return n
}

func addNicknames(m *groupme.MockGroup) []string {
	var out []string
	m.Locked(func(f *groupme.MockGroup) { out = append(out, f.AddNicknames...) })
	return out
}
