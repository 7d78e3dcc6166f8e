package groupme

import (
	"bytes"
	"encoding/json"
	"errors"
	"fmt"
	"net/http"
	"strconv"
	"strings"
	"time"
)

// flexString accepts either a JSON string or number.
type flexString string

func (f *flexString) UnmarshalJSON(b []byte) error {
	b = bytes.TrimSpace(b)
	if bytes.Equal(b, []byte("null")) {
		*f = ""
		return nil
	}
	if len(b) > 0 && b[0] == '"' {
		var s string
		if err := json.Unmarshal(b, &s); err != nil {
			return err
		}
		*f = flexString(s)
		return nil
	}
	var n json.Number
	if err := json.Unmarshal(b, &n); err != nil {
		return err
	}
	*f = flexString(n.String())
	return nil
}

// A current member of the group.
//
// MembershipID is the handle for this presence in the group (what removal operates on), distinct from the permanent UserID, and changes whenever the user leaves and rejoins.
type Member struct {
	UserID       string
	MembershipID string
	Nickname     string
	Roles        []string
}

func (m Member) IsAdmin() bool {
	for _, r := range m.Roles {
		if r == "admin" || r == "owner" {
			return true
		}
	}
	return false
}

type memberJSON struct {
	ID       flexString `json:"id"`
	UserID   flexString `json:"user_id"`
	Nickname string     `json:"nickname"`
	Roles    []string   `json:"roles"`
}

func (m memberJSON) member() Member {
	return Member{
		UserID:       string(m.UserID),
		MembershipID: string(m.ID),
		Nickname:     m.Nickname,
		Roles:        m.Roles,
	}
}

type Group struct {
	ID       string
	Name     string
	ShareURL string
	Members  []Member
}

type groupJSON struct {
	ID       flexString   `json:"id"`
	Name     string       `json:"name"`
	ShareURL string       `json:"share_url"`
	Members  []memberJSON `json:"members"`
}

// Entry of an add-members request. GUID is a caller-chosen tag echoed back in results.
type AddMember struct {
	UserID   string `json:"user_id"`
	Nickname string `json:"nickname"`
	GUID     string `json:"guid,omitempty"`
}

type envelope struct {
	Response json.RawMessage `json:"response"`
	Meta     struct {
		Code   int      `json:"code"`
		Errors []string `json:"errors"`
	} `json:"meta"`
}

var (
	// member results are not ready yet (503)
	ErrResultsPending = errors.New("member results pending")
	// member results id is unknown or expired (404)
	ErrResultsExpired = errors.New("member results expired")
)

// Non-2xx response from the API.
type APIError struct {
	StatusCode int
	Errors     []string
	// zero if not provided
	RetryAfter time.Duration
}

func (e *APIError) Error() string {
	if len(e.Errors) > 0 {
		return fmt.Sprintf("groupme API status %d: %s", e.StatusCode, strings.Join(e.Errors, "; "))
	}
	return fmt.Sprintf("groupme API status %d", e.StatusCode)
}

func IsStatus(err error, code int) bool {
	var apiErr *APIError
	if errors.As(err, &apiErr) {
		return apiErr.StatusCode == code
	}
	return false
}

func IsRateLimited(err error) bool {
	return IsStatus(err, http.StatusTooManyRequests)
}

// RetryAfter returns the server-provided Retry-After duration carried by err, if any.
func RetryAfter(err error) time.Duration {
	var apiErr *APIError
	if errors.As(err, &apiErr) {
		return apiErr.RetryAfter
	}
	return 0
}

// ParseRetryAfter parses a Retry-After header value, handling both delta-seconds and HTTP-date forms.
func ParseRetryAfter(v string, now time.Time) time.Duration {
	v = strings.TrimSpace(v)
	if v == "" {
		return 0
	}
	if secs, err := strconv.Atoi(v); err == nil {
		if secs < 0 {
			return 0
		}
		return time.Duration(secs) * time.Second
	}
	if t, err := http.ParseTime(v); err == nil {
		if d := t.Sub(now); d > 0 {
			return d
		}
	}
	return 0
}
