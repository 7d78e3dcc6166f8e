package resolve

import (
	"context"
	"time"

	"github.com/clankerbot/clanker/groupme"

	"github.com/hashicorp/golang-lru/v2/expirable"
)

const DefaultRosterTTL = 30 * time.Second

// RosterSource is the live membership list (eg, *groupme.Client).
type RosterSource interface {
	Roster(ctx context.Context) ([]groupme.Member, error)
}

const rosterKey = "roster"

// Short-lived cache in front of a RosterSource. The group roster is the only entry.
type RosterCache struct {
	Source RosterSource
	Data   *expirable.LRU[string, []groupme.Member]
}

func NewRosterCache(src RosterSource, ttl time.Duration) *RosterCache {
	if ttl <= 0 {
		ttl = DefaultRosterTTL
	}
	return &RosterCache{
		Source: src,
		Data:   expirable.NewLRU[string, []groupme.Member](1, nil, ttl),
	}
}

// Roster returns the cached roster, fetching it when missing or expired.
func (c *RosterCache) Roster(ctx context.Context) ([]groupme.Member, error) {
	if m, ok := c.Data.Get(rosterKey); ok {
		return m, nil
	}
	return c.Fresh(ctx)
}

// Fresh always fetches the roster, and refreshes the cache with the result.
func (c *RosterCache) Fresh(ctx context.Context) ([]groupme.Member, error) {
	m, err := c.Source.Roster(ctx)
	if err != nil {
		return nil, err
	}
	c.Data.Add(rosterKey, m)
	return m, nil
}

func (c *RosterCache) Purge() {
	c.Data.Purge()
}
