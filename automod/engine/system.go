package engine

import (
	"context"
	"fmt"

	"github.com/clankerbot/clanker/automod/enforce"
	"github.com/clankerbot/clanker/automod/event"
	"github.com/clankerbot/clanker/automod/statestore"
)

// handles membership system messages: departures are indexed for later unbans, banned users who rejoin are removed again, and the welcome / rules notices are posted.
func (eng *Engine) processSystem(ctx context.Context, msg *event.Message) error {
	mc := msg.MembershipChange()
	if mc == nil {
		return nil
	}
	logger := eng.Logger.With("change", mc.Kind)
	systemEventCount.WithLabelValues(string(mc.Kind)).Inc()

	if eng.Resolver != nil && eng.Resolver.Roster != nil {
		eng.Resolver.Roster.Purge()
	}

	switch mc.Kind {
	case event.ChangeLeft, event.ChangeRemoved:
		for _, u := range mc.Users {
			key := u.ID.String()
			if key == "" {
				key = event.GhostKey(u.Nickname)
			}
			if err := eng.Store.PutFormerMember(ctx, key, u.Nickname); err != nil {
				return fmt.Errorf("recording former member: %w", err)
			}
			logger.Info("member departed", "key", key, "nickname", u.Nickname)
		}
		text := eng.Config.LeftText
		if mc.Kind == event.ChangeRemoved {
			text = eng.Config.RemovedText
		}
		if text != "" {
			eng.routine(ctx, text)
		}
	case event.ChangeJoined:
		rebanned := 0
		for _, u := range mc.Users {
			ok, err := eng.rebanIfBanned(ctx, u)
			if err != nil {
				return err
			}
			if ok {
				rebanned++
			}
		}
		if rebanned < len(mc.Users) && eng.Config.WelcomeText != "" {
			eng.routine(ctx, eng.Config.WelcomeText)
		}
	}
	return nil
}

// removes a user with a ban record who showed up in the group again. Joins caused by an unban in flight are left alone.
func (eng *Engine) rebanIfBanned(ctx context.Context, u event.EventUser) (bool, error) {
	uid := u.ID.String()
	if uid == "" {
		return false, nil
	}
	if eng.Enforcer.UnbanPending(uid) {
		return false, nil
	}
	rec, err := eng.Store.GetBan(ctx, uid)
	if err != nil {
		return false, fmt.Errorf("checking ban record: %w", err)
	}
	if rec == nil {
		// back in the group, so no longer a former member
		if err := eng.Store.DeleteFormerMember(ctx, uid); err != nil {
			eng.Logger.Warn("failed to clear former member", "user", uid, "err", err)
		}
		return false, nil
	}

	name := nameOr(u.Nickname, rec.Nickname)
	eng.Logger.Info("banned user rejoined", "user", uid, "nickname", name)
	req := enforce.BanRequest{UserID: uid, Nickname: name, Reason: rejoinReason(rec)}
	eng.ban(ctx, req, queuedBan{done: fmt.Sprintf("🔨 %s is banned and has been removed again.", name)})
	return true, nil
}

func rejoinReason(rec *statestore.BanRecord) string {
	if rec.Reason == "" {
		return "Rejoined while banned"
	}
	return "Rejoined while banned: " + rec.Reason
}
