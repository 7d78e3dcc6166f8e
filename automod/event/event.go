package event

import (
	"bytes"
	"encoding/json"
	"strconv"
	"strings"
)

type SenderType string

const (
	SenderUser   SenderType = "user"
	SenderSystem SenderType = "system"
	SenderBot    SenderType = "bot"
)

const (
	AttachmentMentions = "mentions"
	AttachmentReply    = "reply"
	AttachmentImage    = "image"
	AttachmentVideo    = "video"
)

// ID is a user or message identifier. The upstream platform sends these as either JSON strings or numbers depending on the payload, so they are normalized to strings on decode.
type ID string

func (id *ID) UnmarshalJSON(b []byte) error {
	b = bytes.TrimSpace(b)
	if bytes.Equal(b, []byte("null")) {
		*id = ""
		return nil
	}
	if len(b) > 0 && b[0] == '"' {
		var s string
		if err := json.Unmarshal(b, &s); err != nil {
			return err
		}
		*id = ID(s)
		return nil
	}
	var n json.Number
	if err := json.Unmarshal(b, &n); err != nil {
		return err
	}
	*id = ID(n.String())
	return nil
}

func (id ID) String() string {
	return string(id)
}

// Extends a chat message. Attachments carry mention spans, reply references and media markers.
type Attachment struct {
	Type string `json:"type"`
	URL  string `json:"url,omitempty"`

	// mentions
	UserIDs []ID    `json:"user_ids,omitempty"`
	Loci    [][]int `json:"loci,omitempty"`

	// reply reference: UserID is the original sender, ReplyID the original message
	UserID      ID     `json:"user_id,omitempty"`
	Name        string `json:"name,omitempty"`
	ReplyID     ID     `json:"reply_id,omitempty"`
	BaseReplyID ID     `json:"base_reply_id,omitempty"`
}

type EventUser struct {
	ID       ID     `json:"id"`
	Nickname string `json:"nickname"`
}

// Structured membership event, present on system messages when the platform provides one.
type SystemEvent struct {
	Type string `json:"type"`
	Data struct {
		User        *EventUser  `json:"user,omitempty"`
		RemovedUser *EventUser  `json:"removed_user,omitempty"`
		AddedUsers  []EventUser `json:"added_users,omitempty"`
	} `json:"data"`
}

// One inbound chat message, as delivered by the bot callback.
type Message struct {
	ID          ID           `json:"id"`
	GroupID     ID           `json:"group_id"`
	UserID      ID           `json:"user_id"`
	SenderID    ID           `json:"sender_id"`
	Name        string       `json:"name"`
	SenderType  SenderType   `json:"sender_type"`
	Text        string       `json:"text"`
	System      bool         `json:"system"`
	CreatedAt   int64        `json:"created_at"`
	Attachments []Attachment `json:"attachments"`
	Event       *SystemEvent `json:"event,omitempty"`
}

// Normalized sender id: prefers `user_id`, falls back to `sender_id`.
func (m *Message) Sender() string {
	if m.UserID != "" {
		return m.UserID.String()
	}
	return m.SenderID.String()
}

var systemSenderNames = map[string]bool{
	"groupme": true,
	"system":  true,
	"":        true,
}

func (m *Message) IsSystem() bool {
	if m.SenderType == SenderSystem || m.System {
		return true
	}
	if m.SenderType == SenderBot {
		return false
	}
	return systemSenderNames[strings.ToLower(strings.TrimSpace(m.Name))]
}

func (m *Message) IsBot() bool {
	return m.SenderType == SenderBot
}

// Returns the reply reference attachment, or nil.
func (m *Message) Reply() *Attachment {
	for i := range m.Attachments {
		if m.Attachments[i].Type == AttachmentReply && m.Attachments[i].UserID != "" {
			return &m.Attachments[i]
		}
	}
	return nil
}

// Returns user ids from all mention attachments, in order.
func (m *Message) Mentions() []string {
	var out []string
	for _, a := range m.Attachments {
		if a.Type != AttachmentMentions {
			continue
		}
		for _, uid := range a.UserIDs {
			if uid != "" {
				out = append(out, uid.String())
			}
		}
	}
	return out
}

func (m *Message) HasAttachment(typ string) bool {
	for _, a := range m.Attachments {
		if a.Type == typ {
			return true
		}
	}
	return false
}

// GhostKey builds the synthetic former-member key used when a departing user's numeric id is unknown.
func GhostKey(displayName string) string {
	return "ghost-" + strings.TrimSpace(displayName)
}

// IsGhostKey reports whether key was built by GhostKey (and thus carries no usable user id).
func IsGhostKey(key string) bool {
	return strings.HasPrefix(key, "ghost-")
}

// LooksNumeric reports whether s is a plausible literal user id.
func LooksNumeric(s string) bool {
	if s == "" {
		return false
	}
	_, err := strconv.ParseUint(s, 10, 64)
	return err == nil
}
