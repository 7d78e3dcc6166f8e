// Client for the GroupMe v3 REST API, limited to what group moderation needs: roster reads, member add/remove (with async add results), bot posts and message deletion.
package groupme

import (
	"bytes"
	"context"
	"encoding/json"
	"fmt"
	"io"
	"log/slog"
	"net/http"
	"net/url"
	"strings"
	"time"
)

const DefaultHost = "https://api.groupme.com/v3"

type Client struct {
	// API base URL, eg "https://api.groupme.com/v3"
	Host string
	// user access token; required for everything except bot posts
	Token string
	// group the bot moderates
	GroupID string
	// bot id used for posting
	BotID string

	HTTPClient *http.Client
	Logger     *slog.Logger
}

func NewClient(host, token, groupID, botID string) *Client {
	if host == "" {
		host = DefaultHost
	}
	return &Client{
		Host:       strings.TrimRight(host, "/"),
		Token:      token,
		GroupID:    groupID,
		BotID:      botID,
		HTTPClient: NewHTTPClient(),
		Logger:     slog.Default().With("component", "groupme"),
	}
}

// MembershipConfigured reports whether roster/membership calls can be made.
func (c *Client) MembershipConfigured() bool {
	return c.Token != "" && c.GroupID != ""
}

func (c *Client) do(ctx context.Context, method, path string, body any, out any) error {
	var rdr io.Reader
	if body != nil {
		b, err := json.Marshal(body)
		if err != nil {
			return err
		}
		rdr = bytes.NewReader(b)
	}
	if method == http.MethodGet {
		ctx = WithIdempotent(ctx)
	}
	req, err := http.NewRequestWithContext(ctx, method, c.Host+path, rdr)
	if err != nil {
		return fmt.Errorf("building request: %w", err)
	}
	if body != nil {
		req.Header.Set("Content-Type", "application/json")
	}
	req.Header.Set("Accept", "application/json")
	if c.Token != "" {
		req.Header.Set("X-Access-Token", c.Token)
	}

	hc := c.HTTPClient
	if hc == nil {
		hc = http.DefaultClient
	}
	resp, err := hc.Do(req)
	if err != nil {
		return fmt.Errorf("groupme %s %s: %w", method, path, err)
	}
	defer resp.Body.Close()

	raw, err := io.ReadAll(io.LimitReader(resp.Body, 4<<20))
	if err != nil {
		return fmt.Errorf("reading groupme response: %w", err)
	}

	if resp.StatusCode < 200 || resp.StatusCode >= 300 {
		apiErr := &APIError{
			StatusCode: resp.StatusCode,
			RetryAfter: ParseRetryAfter(resp.Header.Get("Retry-After"), time.Now()),
		}
		var env envelope
		if json.Unmarshal(raw, &env) == nil {
			apiErr.Errors = env.Meta.Errors
		}
		return apiErr
	}

	if out == nil || len(bytes.TrimSpace(raw)) == 0 {
		return nil
	}
	var env envelope
	if err := json.Unmarshal(raw, &env); err != nil {
		return fmt.Errorf("decoding groupme response: %w", err)
	}
	if len(env.Response) == 0 || string(env.Response) == "null" {
		return nil
	}
	if err := json.Unmarshal(env.Response, out); err != nil {
		return fmt.Errorf("decoding groupme response body: %w", err)
	}
	return nil
}

func (c *Client) groupPath(suffix string) string {
	return "/groups/" + url.PathEscape(c.GroupID) + suffix
}

// GetGroup fetches group metadata including the live roster.
func (c *Client) GetGroup(ctx context.Context) (*Group, error) {
	var gj groupJSON
	if err := c.do(ctx, http.MethodGet, c.groupPath(""), nil, &gj); err != nil {
		return nil, err
	}
	g := &Group{
		ID:       string(gj.ID),
		Name:     gj.Name,
		ShareURL: gj.ShareURL,
		Members:  make([]Member, 0, len(gj.Members)),
	}
	for _, m := range gj.Members {
		g.Members = append(g.Members, m.member())
	}
	return g, nil
}

// Roster returns the current members of the group.
func (c *Client) Roster(ctx context.Context) ([]Member, error) {
	g, err := c.GetGroup(ctx)
	if err != nil {
		return nil, err
	}
	return g.Members, nil
}

// RemoveMember removes a member by membership id (not user id).
func (c *Client) RemoveMember(ctx context.Context, membershipID string) error {
	path := c.groupPath("/members/" + url.PathEscape(membershipID) + "/remove")
	return c.do(ctx, http.MethodPost, path, map[string]any{}, nil)
}

type addResponse struct {
	ResultsID  string `json:"results_id"`
	ResultsID2 string `json:"resultsId"`
	GUID       string `json:"guid"`
}

// AddMembers requests that users be added to the group. The add is processed out of band; the returned results id (possibly empty) can be polled with MemberResults.
func (c *Client) AddMembers(ctx context.Context, members []AddMember) (string, error) {
	var out addResponse
	body := map[string]any{"members": members}
	if err := c.do(ctx, http.MethodPost, c.groupPath("/members/add"), body, &out); err != nil {
		return "", err
	}
	switch {
	case out.ResultsID != "":
		return out.ResultsID, nil
	case out.ResultsID2 != "":
		return out.ResultsID2, nil
	}
	return out.GUID, nil
}

// MemberResults polls an add-members operation. Returns ErrResultsPending while processing, ErrResultsExpired once the results id is no longer known, otherwise the members that were actually added.
func (c *Client) MemberResults(ctx context.Context, resultsID string) ([]Member, error) {
	var out struct {
		Members []memberJSON `json:"members"`
	}
	err := c.do(ctx, http.MethodGet, c.groupPath("/members/results/"+url.PathEscape(resultsID)), nil, &out)
	switch {
	case IsStatus(err, http.StatusServiceUnavailable):
		return nil, ErrResultsPending
	case IsStatus(err, http.StatusNotFound):
		return nil, ErrResultsExpired
	case err != nil:
		return nil, err
	}
	added := make([]Member, 0, len(out.Members))
	for _, m := range out.Members {
		added = append(added, m.member())
	}
	return added, nil
}

// PostBotMessage posts text to the group as the bot.
func (c *Client) PostBotMessage(ctx context.Context, text string) error {
	body := map[string]string{
		"bot_id": c.BotID,
		"text":   text,
	}
	return c.do(ctx, http.MethodPost, "/bots/post", body, nil)
}

// DeleteMessage deletes a message from the group conversation.
func (c *Client) DeleteMessage(ctx context.Context, messageID string) error {
	path := "/conversations/" + url.PathEscape(c.GroupID) + "/messages/" + url.PathEscape(messageID)
	return c.do(ctx, http.MethodDelete, path, nil, nil)
}

// Me returns the user id of the token owner (the account the bot acts as).
func (c *Client) Me(ctx context.Context) (string, error) {
	var out struct {
		ID     flexString `json:"id"`
		UserID flexString `json:"user_id"`
	}
	if err := c.do(ctx, http.MethodGet, "/users/me", nil, &out); err != nil {
		return "", err
	}
	if out.UserID != "" {
		return string(out.UserID), nil
	}
	return string(out.ID), nil
}
