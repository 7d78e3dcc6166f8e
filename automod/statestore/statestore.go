// Durable moderation state: ban records, per-user counters, the former-member index and mute records.
//
// All maps are keyed by user id (or a ghost key for former members without a known id). Every mutation is written through synchronously; there is no transaction log, and concurrent writers to the same record are last-writer-wins. Counter increments are atomic within each backend.
package statestore

import (
	"context"
	"time"
)

const (
	// messages containing regular-lexicon words; reset when the user is banned
	CountSwears = "swears"
	// admin-issued strikes; never reset automatically
	CountStrikes = "strikes"
)

type BanRecord struct {
	UserID    string    `json:"user_id"`
	Nickname  string    `json:"nickname"`
	Reason    string    `json:"reason,omitempty"`
	CreatedAt time.Time `json:"created_at"`
}

type MuteRecord struct {
	UserID    string    `json:"user_id"`
	ExpiresAt time.Time `json:"expires_at"`
	// whether the suppression notice has been posted for this mute period
	Notified bool `json:"notified,omitempty"`
}

func (m MuteRecord) Active(now time.Time) bool {
	return now.Before(m.ExpiresAt)
}

type Store interface {
	// returns nil (and no error) when there is no record
	GetBan(ctx context.Context, userID string) (*BanRecord, error)
	PutBan(ctx context.Context, rec BanRecord) error
	DeleteBan(ctx context.Context, userID string) error
	ListBans(ctx context.Context) ([]BanRecord, error)

	GetCount(ctx context.Context, name, userID string) (int, error)
	// increments and returns the new value
	IncrementCount(ctx context.Context, name, userID string) (int, error)
	ResetCount(ctx context.Context, name, userID string) error

	PutFormerMember(ctx context.Context, key, nickname string) error
	DeleteFormerMember(ctx context.Context, key string) error
	// key -> last known nickname
	ListFormerMembers(ctx context.Context) (map[string]string, error)

	PutMute(ctx context.Context, rec MuteRecord) error
	DeleteMute(ctx context.Context, userID string) error
	ListMutes(ctx context.Context) ([]MuteRecord, error)
}
