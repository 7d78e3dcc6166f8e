package event

import (
	"strings"
)

type ChangeKind string

const (
	ChangeJoined  ChangeKind = "joined"
	ChangeLeft    ChangeKind = "left"
	ChangeRemoved ChangeKind = "removed"
)

// A member joining or leaving, derived from a system message.
//
// Users with an empty ID were only identified by display name; callers record those under a ghost key.
type MembershipChange struct {
	Kind  ChangeKind
	Users []EventUser
}

var structuredKinds = map[string]ChangeKind{
	"membership.announce.joined":       ChangeJoined,
	"membership.announce.added":        ChangeJoined,
	"membership.announce.rejoined":     ChangeJoined,
	"membership.notifications.exited":  ChangeLeft,
	"membership.notifications.removed": ChangeRemoved,
}

var subjectSuffixes = []struct {
	suffix string
	kind   ChangeKind
}{
	{" has left the group", ChangeLeft},
	{" has rejoined the group", ChangeJoined},
	{" has joined the group", ChangeJoined},
	{" was added to the group", ChangeJoined},
	{" was removed from the group", ChangeRemoved},
}

// MembershipChange classifies a system message. The structured event type is used when present; the human-readable text patterns are only a fallback. Returns nil for anything else.
func (m *Message) MembershipChange() *MembershipChange {
	if !m.IsSystem() {
		return nil
	}
	if m.Event != nil {
		if kind, ok := structuredKinds[m.Event.Type]; ok {
			mc := &MembershipChange{Kind: kind}
			d := m.Event.Data
			switch {
			case d.RemovedUser != nil:
				mc.Users = append(mc.Users, *d.RemovedUser)
			case len(d.AddedUsers) > 0:
				mc.Users = append(mc.Users, d.AddedUsers...)
			case d.User != nil:
				mc.Users = append(mc.Users, *d.User)
			}
			if len(mc.Users) > 0 {
				return mc
			}
		}
	}
	return parseMembershipText(m.Text)
}

func parseMembershipText(text string) *MembershipChange {
	trimmed := strings.TrimRight(strings.TrimSpace(text), ".!")
	for _, p := range subjectSuffixes {
		if hasSuffixFold(trimmed, p.suffix) {
			subject := strings.TrimSpace(trimmed[:len(trimmed)-len(p.suffix)])
			if subject == "" {
				return nil
			}
			return &MembershipChange{Kind: p.kind, Users: []EventUser{{Nickname: subject}}}
		}
	}

	// "<actor> removed <user> from the group" and "<actor> added <user> to the group"
	if subject := objectBetween(trimmed, " removed ", " from the group"); subject != "" {
		return &MembershipChange{Kind: ChangeRemoved, Users: []EventUser{{Nickname: subject}}}
	}
	if subject := objectBetween(trimmed, " added ", " to the group"); subject != "" {
		return &MembershipChange{Kind: ChangeJoined, Users: []EventUser{{Nickname: subject}}}
	}
	return nil
}

// verbs and suffixes are ASCII, so they are matched directly against the original bytes
func hasSuffixFold(s, suffix string) bool {
	return len(s) >= len(suffix) && strings.EqualFold(s[len(s)-len(suffix):], suffix)
}

func indexFold(s, sub string) int {
	for i := 0; i+len(sub) <= len(s); i++ {
		if strings.EqualFold(s[i:i+len(sub)], sub) {
			return i
		}
	}
	return -1
}

func objectBetween(s, verb, suffix string) string {
	if !hasSuffixFold(s, suffix) {
		return ""
	}
	i := indexFold(s, verb)
	if i <= 0 {
		return ""
	}
	start := i + len(verb)
	end := len(s) - len(suffix)
	if start >= end {
		return ""
	}
	return strings.TrimSpace(s[start:end])
}
