// Maps free-text, reply and mention references to canonical user identities, against the live roster and the ban / former-member records.
package resolve

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"strings"

	"github.com/clankerbot/clanker/automod/event"
	"github.com/clankerbot/clanker/automod/fuzzy"
	"github.com/clankerbot/clanker/automod/moderr"
	"github.com/clankerbot/clanker/automod/statestore"
	"github.com/clankerbot/clanker/groupme"
)

type Source string

const (
	SourceReply        Source = "reply"
	SourceMention      Source = "mention"
	SourceUserID       Source = "user-id"
	SourceRoster       Source = "roster"
	SourceRosterFuzzy  Source = "roster-fuzzy"
	SourceRemoved      Source = "removed"
	SourceRemovedFuzzy Source = "removed-fuzzy"
)

// A reference to a user, as found in an admin command.
type Query struct {
	// free text (nickname, partial nickname, or numeric user id)
	Text string
	// reply reference of the command message, if any
	Reply *event.Attachment
	// mentioned user ids, in order
	Mentions []string
}

func QueryFromMessage(msg *event.Message, text string) Query {
	return Query{
		Text:     text,
		Reply:    msg.Reply(),
		Mentions: msg.Mentions(),
	}
}

type Identity struct {
	// empty for former members only known by display name
	UserID   string
	Nickname string
	// ban / former-member index key; same as UserID unless a ghost key
	Key    string
	Source Source
	// set when the user is in the live roster
	Member *groupme.Member
}

func (i *Identity) InRoster() bool {
	return i.Member != nil
}

// Display name for notices, falling back to the user id.
func (i *Identity) Label() string {
	if i.Nickname != "" {
		return i.Nickname
	}
	if i.UserID != "" {
		return i.UserID
	}
	return i.Key
}

type Resolver struct {
	Roster *RosterCache
	Store  statestore.Store
	// minimum fuzzy score, 0-100
	Cutoff int
	Logger *slog.Logger
}

func NewResolver(roster *RosterCache, store statestore.Store, cutoff int) *Resolver {
	if cutoff <= 0 {
		cutoff = fuzzy.DefaultCutoff
	}
	return &Resolver{
		Roster: roster,
		Store:  store,
		Cutoff: cutoff,
		Logger: slog.Default().With("component", "resolve"),
	}
}

// removed-user candidate, from a ban record or the former-member index
type removedEntry struct {
	key      string
	nickname string
}

func (e removedEntry) identity(src Source) *Identity {
	id := &Identity{
		Nickname: e.nickname,
		Key:      e.key,
		Source:   src,
	}
	if !event.IsGhostKey(e.key) {
		id.UserID = e.key
	}
	return id
}

// ban records first, then former members not already covered
func (r *Resolver) removedEntries(ctx context.Context) ([]removedEntry, error) {
	bans, err := r.Store.ListBans(ctx)
	if err != nil {
		return nil, fmt.Errorf("listing bans: %w", err)
	}
	former, err := r.Store.ListFormerMembers(ctx)
	if err != nil {
		return nil, fmt.Errorf("listing former members: %w", err)
	}
	seen := make(map[string]bool, len(bans))
	out := make([]removedEntry, 0, len(bans)+len(former))
	for _, b := range bans {
		seen[b.UserID] = true
		out = append(out, removedEntry{key: b.UserID, nickname: b.Nickname})
	}
	for _, k := range sortedKeys(former) {
		if seen[k] {
			continue
		}
		out = append(out, removedEntry{key: k, nickname: former[k]})
	}
	return out, nil
}

func cleanQuery(s string) string {
	s = strings.TrimSpace(s)
	s = strings.TrimPrefix(s, "@")
	return strings.TrimSpace(s)
}

func findMember(members []groupme.Member, userID string) *groupme.Member {
	for i := range members {
		if members[i].UserID == userID {
			return &members[i]
		}
	}
	return nil
}

func findRemoved(entries []removedEntry, key string) *removedEntry {
	for i := range entries {
		if entries[i].key == key {
			return &entries[i]
		}
	}
	return nil
}

// Resolve finds a user by, in order of priority: reply reference, mention, literal numeric id, exact roster nickname, fuzzy roster nickname, then exact or fuzzy nickname among banned and former members. Returns moderr.ErrNotFound if nothing matches.
func (r *Resolver) Resolve(ctx context.Context, q Query) (*Identity, error) {
	members, rosterErr := r.Roster.Roster(ctx)
	if rosterErr != nil {
		r.Logger.Warn("roster unavailable for resolution", "err", rosterErr)
	}

	// explicit references short-circuit everything else
	if uid, name, src, ok := explicitRef(q); ok {
		id := &Identity{UserID: uid, Key: uid, Nickname: name, Source: src}
		if m := findMember(members, uid); m != nil {
			id.Member = m
			if id.Nickname == "" {
				id.Nickname = m.Nickname
			}
		} else if id.Nickname == "" {
			r.fillRemovedName(ctx, id)
		}
		return id, nil
	}

	text := cleanQuery(q.Text)
	if text == "" {
		return nil, fmt.Errorf("%w: empty target", moderr.ErrNotFound)
	}

	if event.LooksNumeric(text) {
		id := &Identity{UserID: text, Key: text, Source: SourceUserID}
		if m := findMember(members, text); m != nil {
			id.Member = m
			id.Nickname = m.Nickname
		} else {
			r.fillRemovedName(ctx, id)
		}
		return id, nil
	}

	for i := range members {
		if strings.EqualFold(strings.TrimSpace(members[i].Nickname), text) {
			return memberIdentity(&members[i], SourceRoster), nil
		}
	}
	if m, ok := fuzzy.ExtractOne(text, nicknames(members), r.Cutoff); ok {
		r.Logger.Debug("fuzzy roster match", "query", text, "nickname", m.Candidate, "score", m.Score)
		return memberIdentity(&members[m.Index], SourceRosterFuzzy), nil
	}

	id, err := r.matchRemoved(ctx, text)
	if err == nil {
		// a former member may have rejoined under a new name
		if id.UserID != "" {
			id.Member = findMember(members, id.UserID)
		}
		return id, nil
	}
	if errors.Is(err, moderr.ErrNotFound) && rosterErr != nil {
		return nil, fmt.Errorf("%w: roster unavailable: %w", moderr.ErrTransient, rosterErr)
	}
	return nil, err
}

// ResolveRemoved only considers banned and former members. Used for unban, where the target is by definition not in the roster.
func (r *Resolver) ResolveRemoved(ctx context.Context, q Query) (*Identity, error) {
	entries, err := r.removedEntries(ctx)
	if err != nil {
		return nil, err
	}
	if uid, name, src, ok := explicitRef(q); ok {
		e := findRemoved(entries, uid)
		if e == nil {
			return nil, fmt.Errorf("%w: no ban or departure recorded for %s", moderr.ErrNotFound, labelOr(name, uid))
		}
		return e.identity(src), nil
	}

	text := cleanQuery(q.Text)
	if text == "" {
		return nil, fmt.Errorf("%w: empty target", moderr.ErrNotFound)
	}
	if event.LooksNumeric(text) {
		if e := findRemoved(entries, text); e != nil {
			return e.identity(SourceUserID), nil
		}
		return nil, fmt.Errorf("%w: no ban or departure recorded for %s", moderr.ErrNotFound, text)
	}
	return matchRemovedEntries(entries, text, r.Cutoff)
}

func (r *Resolver) matchRemoved(ctx context.Context, text string) (*Identity, error) {
	entries, err := r.removedEntries(ctx)
	if err != nil {
		return nil, err
	}
	return matchRemovedEntries(entries, text, r.Cutoff)
}

func matchRemovedEntries(entries []removedEntry, text string, cutoff int) (*Identity, error) {
	for _, e := range entries {
		if strings.EqualFold(strings.TrimSpace(e.nickname), text) {
			return e.identity(SourceRemoved), nil
		}
	}
	names := make([]string, len(entries))
	for i, e := range entries {
		names[i] = e.nickname
	}
	if m, ok := fuzzy.ExtractOne(text, names, cutoff); ok {
		return entries[m.Index].identity(SourceRemovedFuzzy), nil
	}
	return nil, fmt.Errorf("%w: no user matching %q", moderr.ErrNotFound, text)
}

func (r *Resolver) fillRemovedName(ctx context.Context, id *Identity) {
	entries, err := r.removedEntries(ctx)
	if err != nil {
		r.Logger.Warn("failed to read removed-member records", "err", err)
		return
	}
	if e := findRemoved(entries, id.UserID); e != nil {
		id.Nickname = e.nickname
	}
}

// reply reference, then first mention
func explicitRef(q Query) (uid, name string, src Source, ok bool) {
	if q.Reply != nil && q.Reply.UserID != "" {
		return q.Reply.UserID.String(), q.Reply.Name, SourceReply, true
	}
	if len(q.Mentions) > 0 {
		return q.Mentions[0], "", SourceMention, true
	}
	return "", "", "", false
}

func memberIdentity(m *groupme.Member, src Source) *Identity {
	return &Identity{
		UserID:   m.UserID,
		Nickname: m.Nickname,
		Key:      m.UserID,
		Source:   src,
		Member:   m,
	}
}

func nicknames(members []groupme.Member) []string {
	out := make([]string, len(members))
	for i, m := range members {
		out[i] = m.Nickname
	}
	return out
}

func labelOr(name, id string) string {
	if name != "" {
		return name
	}
	return id
}
