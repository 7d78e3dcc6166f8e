package engine

import (
	"context"
	"strings"

	"github.com/clankerbot/clanker/automod/event"
)

// posts the reply of the first matching trigger, or the link warning. Routine lane, so subject to the cooldown.
func (eng *Engine) runTriggers(ctx context.Context, msg *event.Message) {
	lower := strings.ToLower(msg.Text)
	for _, t := range eng.Config.Triggers {
		if t.Phrase != "" && strings.Contains(lower, strings.ToLower(t.Phrase)) {
			triggerCount.WithLabelValues(t.Phrase).Inc()
			eng.routine(ctx, t.Reply)
			return
		}
	}
	if eng.Config.LinkWarning != "" && strings.Contains(msg.Text, "https:") && !msg.HasAttachment(event.AttachmentVideo) {
		triggerCount.WithLabelValues("link").Inc()
		eng.routine(ctx, eng.Config.LinkWarning)
	}
}
