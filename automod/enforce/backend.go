package enforce

import (
	"bytes"
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"io"
	"net/http"
	"strings"
	"time"

	"github.com/clankerbot/clanker/automod/moderr"
	"github.com/clankerbot/clanker/groupme"
)

type BanRequest struct {
	UserID   string
	Nickname string
	Reason   string
}

// BanBackend removes a user from the group. A nil error means the user is no longer a member. Errors are classified with moderr; a *RateLimitError is retried by the ban queue.
type BanBackend interface {
	Ban(ctx context.Context, req BanRequest) error
	Name() string
}

// Membership is the subset of the GroupMe API the enforcer uses.
type Membership interface {
	GetGroup(ctx context.Context) (*groupme.Group, error)
	Roster(ctx context.Context) ([]groupme.Member, error)
	RemoveMember(ctx context.Context, membershipID string) error
	AddMembers(ctx context.Context, members []groupme.AddMember) (string, error)
	MemberResults(ctx context.Context, resultsID string) ([]groupme.Member, error)
}

// DirectBackend removes members through the GroupMe API: a fresh roster fetch to find the current membership id, then remove-by-membership-id.
type DirectBackend struct {
	API Membership
}

func (b *DirectBackend) Name() string { return "direct" }

func (b *DirectBackend) Ban(ctx context.Context, req BanRequest) error {
	roster, err := b.API.Roster(ctx)
	if err != nil {
		return fmt.Errorf("fetching roster: %w", classifyAPIError(err))
	}
	var membershipID string
	for _, m := range roster {
		if m.UserID == req.UserID {
			membershipID = m.MembershipID
			break
		}
	}
	if membershipID == "" {
		return fmt.Errorf("%w: user %s is not in the group", moderr.ErrNotFound, req.UserID)
	}

	err = b.API.RemoveMember(ctx, membershipID)
	if groupme.IsStatus(err, http.StatusNotFound) {
		// already removed between roster fetch and remove
		return fmt.Errorf("%w: %w", moderr.ErrConflict, err)
	}
	return classifyAPIError(err)
}

// DelegatedBackend hands bans to an external ban service: POST {URL}/ban with {user_id, username, reason}; 200 means removed.
type DelegatedBackend struct {
	URL    string
	Client *http.Client
}

const delegatedTimeout = 5 * time.Second

func NewDelegatedBackend(serviceURL string, client *http.Client) *DelegatedBackend {
	if client == nil {
		client = &http.Client{Timeout: delegatedTimeout}
	}
	return &DelegatedBackend{
		URL:    strings.TrimRight(serviceURL, "/"),
		Client: client,
	}
}

func (b *DelegatedBackend) Name() string { return "delegated" }

type delegatedBanBody struct {
	UserID   string `json:"user_id"`
	Username string `json:"username"`
	Reason   string `json:"reason"`
}

func (b *DelegatedBackend) Ban(ctx context.Context, req BanRequest) error {
	if b.URL == "" {
		return fmt.Errorf("%w: ban service URL", moderr.ErrConfigMissing)
	}
	body, err := json.Marshal(delegatedBanBody{
		UserID:   req.UserID,
		Username: req.Nickname,
		Reason:   req.Reason,
	})
	if err != nil {
		return err
	}
	ctx, cancel := context.WithTimeout(ctx, delegatedTimeout)
	defer cancel()
	hreq, err := http.NewRequestWithContext(ctx, http.MethodPost, b.URL+"/ban", bytes.NewReader(body))
	if err != nil {
		return err
	}
	hreq.Header.Set("Content-Type", "application/json")

	resp, err := b.Client.Do(hreq)
	if err != nil {
		if moderr.Classify(err) == moderr.ClassTransient || errors.Is(err, context.DeadlineExceeded) {
			return fmt.Errorf("%w: ban service: %w", moderr.ErrTransient, err)
		}
		return fmt.Errorf("ban service: %w", err)
	}
	defer resp.Body.Close()
	msg, _ := io.ReadAll(io.LimitReader(resp.Body, 4096))

	switch {
	case resp.StatusCode == http.StatusOK:
		return nil
	case resp.StatusCode == http.StatusTooManyRequests:
		return &RateLimitError{
			RetryAfter: groupme.ParseRetryAfter(resp.Header.Get("Retry-After"), time.Now()),
			Err:        fmt.Errorf("ban service status %d", resp.StatusCode),
		}
	case resp.StatusCode == http.StatusNotFound:
		return fmt.Errorf("%w: ban service: %s", moderr.ErrNotFound, strings.TrimSpace(string(msg)))
	case resp.StatusCode == http.StatusConflict:
		return fmt.Errorf("%w: ban service: %s", moderr.ErrConflict, strings.TrimSpace(string(msg)))
	case resp.StatusCode >= 500:
		return fmt.Errorf("%w: ban service status %d", moderr.ErrTransient, resp.StatusCode)
	}
	return fmt.Errorf("ban service status %d: %s", resp.StatusCode, strings.TrimSpace(string(msg)))
}
