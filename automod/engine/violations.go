package engine

import (
	"context"
	"fmt"

	"github.com/clankerbot/clanker/automod/detector"
	"github.com/clankerbot/clanker/automod/enforce"
	"github.com/clankerbot/clanker/automod/event"
)

// runs the violation detector over msg and acts on the decision. Returns true when the sender was banned (or queued for it).
func (eng *Engine) scan(ctx context.Context, msg *event.Message) (bool, error) {
	if msg.Text == "" {
		return false, nil
	}
	sender := msg.Sender()
	name := nameOr(msg.Name, sender)

	dec, err := eng.Detector.Scan(ctx, msg.Text, sender)
	if err != nil {
		return false, fmt.Errorf("scanning message: %w", err)
	}

	switch dec.Kind {
	case detector.KindWarn:
		eng.notify(ctx, fmt.Sprintf("⚠️ %s (%s) - Warning %d/%d for inappropriate language. %d more and you're banned!",
			name, sender, dec.Count, dec.Threshold, dec.Remaining()))
		return false, nil
	case detector.KindInstantBan:
		eng.Logger.Info("instant ban", "sender", sender, "word", dec.Word)
		req := enforce.BanRequest{UserID: sender, Nickname: name, Reason: "Instant ban: " + dec.Word}
		eng.ban(ctx, req, queuedBan{done: fmt.Sprintf("🔨 %s has been permanently banned for using prohibited language.", name)})
		return true, nil
	case detector.KindThresholdBan:
		eng.Logger.Info("threshold ban", "sender", sender, "count", dec.Count)
		req := enforce.BanRequest{UserID: sender, Nickname: name, Reason: fmt.Sprintf("%d strikes - swear words", dec.Threshold)}
		eng.ban(ctx, req, queuedBan{done: fmt.Sprintf("🔨 %s has been banned for repeated inappropriate language (%d strikes).", name, dec.Threshold)})
		return true, nil
	}
	return false, nil
}

// notices for a ban; failed is optional
type queuedBan struct {
	done   string
	failed string
}

// bans and posts the outcome. A rate-limited ban posts once the queue finishes with it.
func (eng *Engine) ban(ctx context.Context, req enforce.BanRequest, n queuedBan) enforce.BanResult {
	res := eng.Enforcer.Ban(ctx, req)
	switch res.Outcome {
	case enforce.BanRemoved:
		eng.notify(ctx, n.done)
	case enforce.BanQueued:
		eng.queuedNotices.Store(req.UserID, n)
	default:
		eng.Logger.Warn("ban failed", "user", req.UserID, "reason", req.Reason, "err", res.Err)
		if n.failed != "" {
			eng.notify(ctx, n.failed)
		}
	}
	return res
}

// called by the enforcer once a rate-limited ban reaches a terminal outcome
func (eng *Engine) queuedBanDone(res enforce.BanResult) {
	n, ok := eng.queuedNotices.LoadAndDelete(res.Request.UserID)
	if !ok {
		return
	}
	ctx := context.Background()
	if res.Outcome == enforce.BanRemoved {
		eng.notify(ctx, n.done)
		return
	}
	eng.Logger.Warn("queued ban failed", "user", res.Request.UserID, "attempts", res.Attempts, "err", res.Err)
	if n.failed != "" {
		eng.notify(ctx, n.failed)
	}
}
