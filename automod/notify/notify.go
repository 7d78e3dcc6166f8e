// Outbound chat messages, in two lanes.
//
// Routine replies (trigger responses, welcomes) share a global cooldown and can be switched off entirely. Moderation notices (warnings, ban and unban results, strikes) are never throttled or disabled. The lane is chosen by the caller.
package notify

import (
	"context"
	"log/slog"
	"sync"
	"time"
	"unicode/utf8"

	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/promauto"
	"golang.org/x/time/rate"
)

type Kind string

const (
	KindRoutine    Kind = "routine"
	KindModeration Kind = "moderation"
)

const (
	DefaultCooldown = 10 * time.Second
	// GroupMe rejects longer bot posts
	MaxTextLength = 1000
)

type Notice struct {
	Kind Kind
	Text string
}

// Chat is the transport for bot posts (eg, *groupme.Client).
type Chat interface {
	PostBotMessage(ctx context.Context, text string) error
	DeleteMessage(ctx context.Context, messageID string) error
}

// Mirror receives a copy of every moderation notice (eg, a Slack channel).
type Mirror interface {
	SendModeration(ctx context.Context, text string) error
}

var sentCount = promauto.NewCounterVec(prometheus.CounterOpts{
	Name: "clanker_notify_sent",
	Help: "Number of bot messages posted, by lane",
}, []string{"kind"})

var droppedCount = promauto.NewCounterVec(prometheus.CounterOpts{
	Name: "clanker_notify_dropped",
	Help: "Number of bot messages not posted, by lane and reason",
}, []string{"kind", "reason"})

type Messenger struct {
	Chat   Chat
	Mirror Mirror
	Clock  func() time.Time
	Logger *slog.Logger

	// one routine message per cooldown period
	routineLimiter *rate.Limiter

	mu              sync.Mutex
	routineDisabled bool
}

func NewMessenger(chat Chat, cooldown time.Duration) *Messenger {
	if cooldown < 0 {
		cooldown = 0
	}
	return &Messenger{
		Chat:           chat,
		Clock:          time.Now,
		Logger:         slog.Default().With("component", "notify"),
		routineLimiter: rate.NewLimiter(rate.Every(cooldown), 1),
	}
}

func (m *Messenger) SetRoutineDisabled(v bool) {
	m.mu.Lock()
	defer m.mu.Unlock()
	m.routineDisabled = v
}

func (m *Messenger) RoutineDisabled() bool {
	m.mu.Lock()
	defer m.mu.Unlock()
	return m.routineDisabled
}

// reserves the routine lane; false if disabled or cooling down
func (m *Messenger) takeRoutineSlot() (bool, string) {
	if m.RoutineDisabled() {
		return false, "disabled"
	}
	if !m.routineLimiter.AllowN(m.Clock(), 1) {
		return false, "cooldown"
	}
	return true, ""
}

func truncate(text string) string {
	if utf8.RuneCountInString(text) <= MaxTextLength {
		return text
	}
	r := []rune(text)
	return string(r[:MaxTextLength-1]) + "…"
}

// Send posts a notice. Returns false without error when a routine notice is throttled.
func (m *Messenger) Send(ctx context.Context, n Notice) (bool, error) {
	if n.Text == "" {
		return false, nil
	}
	kind := n.Kind
	if kind != KindModeration {
		kind = KindRoutine
		if ok, reason := m.takeRoutineSlot(); !ok {
			droppedCount.WithLabelValues(string(kind), reason).Inc()
			m.Logger.Debug("routine message dropped", "reason", reason)
			return false, nil
		}
	}

	text := truncate(n.Text)
	if err := m.Chat.PostBotMessage(ctx, text); err != nil {
		droppedCount.WithLabelValues(string(kind), "error").Inc()
		return false, err
	}
	sentCount.WithLabelValues(string(kind)).Inc()

	if kind == KindModeration && m.Mirror != nil {
		if err := m.Mirror.SendModeration(ctx, text); err != nil {
			m.Logger.Warn("failed to mirror moderation notice", "err", err)
		}
	}
	return true, nil
}

func (m *Messenger) Routine(ctx context.Context, text string) (bool, error) {
	return m.Send(ctx, Notice{Kind: KindRoutine, Text: text})
}

func (m *Messenger) Moderation(ctx context.Context, text string) error {
	_, err := m.Send(ctx, Notice{Kind: KindModeration, Text: text})
	return err
}

// Delete removes a chat message. Failures (eg, message too old) are for the caller to log.
func (m *Messenger) Delete(ctx context.Context, messageID string) error {
	if messageID == "" {
		return nil
	}
	return m.Chat.DeleteMessage(ctx, messageID)
}
