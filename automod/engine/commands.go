package engine

import (
	"context"
	"errors"
	"fmt"
	"strconv"
	"strings"
	"time"

	"github.com/clankerbot/clanker/automod/enforce"
	"github.com/clankerbot/clanker/automod/event"
	"github.com/clankerbot/clanker/automod/moderr"
	"github.com/clankerbot/clanker/automod/mute"
	"github.com/clankerbot/clanker/automod/resolve"
	"github.com/clankerbot/clanker/automod/statestore"
)

const (
	CmdBan        = "ban"
	CmdUnban      = "unban"
	CmdMute       = "mute"
	CmdUnmute     = "unmute"
	CmdMuteAll    = "muteall"
	CmdUnmuteAll  = "unmuteall"
	CmdStrike     = "strike"
	CmdStrikes    = "strikes"
	CmdDelete     = "delete"
	CmdUserID     = "userid"
	CmdResetCount = "resetcount"
	CmdBanList    = "banlist"
)

type commandSpec struct {
	// needs the access token and group id
	membership bool
	handler    func(eng *Engine, ctx context.Context, c *commandCall) string
}

var commands = map[string]commandSpec{
	CmdBan:        {membership: true, handler: (*Engine).cmdBan},
	CmdUnban:      {membership: true, handler: (*Engine).cmdUnban},
	CmdMute:       {handler: (*Engine).cmdMute},
	CmdUnmute:     {handler: (*Engine).cmdUnmute},
	CmdMuteAll:    {membership: true, handler: (*Engine).cmdMuteAll},
	CmdUnmuteAll:  {handler: (*Engine).cmdUnmuteAll},
	CmdStrike:     {handler: (*Engine).cmdStrike},
	CmdStrikes:    {handler: (*Engine).cmdStrikes},
	CmdDelete:     {membership: true, handler: (*Engine).cmdDelete},
	CmdUserID:     {membership: true, handler: (*Engine).cmdUserID},
	CmdResetCount: {handler: (*Engine).cmdResetCount},
	CmdBanList:    {handler: (*Engine).cmdBanList},
}

type command struct {
	Name string
	Args string
	// from the "what is <name> user id" phrasing rather than a "!" prefix
	freeform bool
}

// parseCommand recognizes "!name args" for known command names, and the free-form query "what is <name> user id" at the start of a message.
func parseCommand(text string) (command, bool) {
	text = strings.TrimSpace(text)
	if strings.HasPrefix(text, "!") {
		name, args, _ := strings.Cut(text[1:], " ")
		name = strings.ToLower(name)
		if _, ok := commands[name]; !ok {
			return command{}, false
		}
		return command{Name: name, Args: strings.TrimSpace(args)}, true
	}

	const prefix = "what is "
	if len(text) < len(prefix) || !strings.EqualFold(text[:len(prefix)], prefix) {
		return command{}, false
	}
	rest := text[len(prefix):]
	j := indexFold(rest, "user id")
	if j < 0 {
		return command{}, false
	}
	target := strings.TrimSpace(rest[:j])
	target = strings.TrimSuffix(strings.TrimSuffix(target, "'s"), "’s")
	return command{Name: CmdUserID, Args: strings.TrimSpace(target), freeform: true}, true
}

// case-insensitive index of an ASCII needle, as a byte offset into s
func indexFold(s, sub string) int {
	for i := 0; i+len(sub) <= len(s); i++ {
		if strings.EqualFold(s[i:i+len(sub)], sub) {
			return i
		}
	}
	return -1
}

// one admin command invocation
type commandCall struct {
	command
	Msg *event.Message
}

func (c *commandCall) query() resolve.Query {
	return resolve.QueryFromMessage(c.Msg, c.Args)
}

// has a target: free text, a reply or a mention
func (c *commandCall) hasTarget() bool {
	q := c.query()
	return q.Text != "" || q.Reply != nil || len(q.Mentions) > 0
}

// quote of the command, prefixed to every answer
func quotePrefix(msg *event.Message) string {
	return fmt.Sprintf("> @%s: %s\n", nameOr(msg.Name, msg.Sender()), msg.Text)
}

func (eng *Engine) runCommand(ctx context.Context, msg *event.Message, cmd command) {
	spec := commands[cmd.Name]
	call := &commandCall{command: cmd, Msg: msg}
	logger := eng.Logger.With("command", cmd.Name, "sender", msg.Sender())

	var reply string
	switch {
	case !eng.IsAdmin(msg.Sender()):
		reply = "Error: Only admins can use this command"
		commandCount.WithLabelValues(cmd.Name, string(moderr.ClassUnauthorized)).Inc()
		logger.Info("admin command from non-admin")
	case spec.membership && !eng.Config.MembershipConfigured:
		reply = "Error: Missing ACCESS_TOKEN or GROUP_ID"
		commandCount.WithLabelValues(cmd.Name, string(moderr.ClassConfigMissing)).Inc()
		logger.Error("membership command without configuration")
	default:
		reply = spec.handler(eng, ctx, call)
		commandCount.WithLabelValues(cmd.Name, "ok").Inc()
		logger.Info("admin command", "args", cmd.Args)
	}
	if reply != "" {
		eng.notify(ctx, quotePrefix(msg)+reply)
	}
}

// resolves the command target, returning an error reply when there is none
func (eng *Engine) target(ctx context.Context, c *commandCall) (*resolve.Identity, string) {
	if !c.hasTarget() {
		return nil, fmt.Sprintf("Error: Usage: !%s <name>", c.Name)
	}
	id, err := eng.Resolver.Resolve(ctx, c.query())
	if err != nil {
		return nil, resolveErrorReply(c.Args, err)
	}
	return id, ""
}

func resolveErrorReply(q string, err error) string {
	if errors.Is(err, moderr.ErrNotFound) {
		return fmt.Sprintf("No user found matching '%s'", q)
	}
	return fmt.Sprintf("Error: Failed to look up '%s'", q)
}

func (eng *Engine) cmdBan(ctx context.Context, c *commandCall) string {
	id, reply := eng.target(ctx, c)
	if id == nil {
		return reply
	}
	name := id.Label()
	if !id.InRoster() {
		return fmt.Sprintf("Error: %s is not in the group", name)
	}
	if eng.Mutes.Protected(id.UserID, id.Member) {
		return fmt.Sprintf("Error: %s is an admin and can't be banned", name)
	}

	prefix := quotePrefix(c.Msg)
	req := enforce.BanRequest{UserID: id.UserID, Nickname: id.Nickname, Reason: "Admin ban command"}
	res := eng.ban(ctx, req, queuedBan{
		done:   prefix + fmt.Sprintf("🔨 %s has been permanently banned by admin command.", name),
		failed: prefix + fmt.Sprintf("Error: Failed to ban %s", name),
	})
	if res.Outcome == enforce.BanQueued {
		return fmt.Sprintf("⏳ Rate limited; %s will be removed shortly.", name)
	}
	// ban posts its own notices
	return ""
}

func (eng *Engine) cmdUnban(ctx context.Context, c *commandCall) string {
	if !c.hasTarget() {
		return "Error: Usage: !unban <name>"
	}
	id, err := eng.Resolver.ResolveRemoved(ctx, c.query())
	if err != nil {
		if errors.Is(err, moderr.ErrNotFound) {
			return fmt.Sprintf("Error: No banned/removed user found matching '%s'", c.Args)
		}
		return fmt.Sprintf("Error: Failed to look up '%s'", c.Args)
	}
	key := id.UserID
	if key == "" {
		key = id.Key
	}
	if eng.Enforcer.UnbanPending(key) {
		return fmt.Sprintf("Unban for %s is already in progress", id.Label())
	}
	prefix := quotePrefix(c.Msg)
	eng.unbanReplies.Store(key, prefix)
	// acknowledge first; the outcome is posted from the background by unbanDone
	eng.notify(ctx, prefix+fmt.Sprintf("Re-adding %s, hang tight...", id.Label()))
	eng.Enforcer.Unban(ctx, id)
	return ""
}

// called by the enforcer when an unban finishes
func (eng *Engine) unbanDone(res enforce.UnbanResult) {
	key := res.UserID
	if key == "" {
		key = event.GhostKey(res.Nickname)
	}
	prefix, _ := eng.unbanReplies.LoadAndDelete(key)
	name := nameOr(res.Nickname, res.UserID)

	var text string
	switch res.Outcome {
	case enforce.UnbanConfirmed:
		text = fmt.Sprintf("✅ %s has been unbanned and re-added to the group", name)
	case enforce.UnbanTimedOut:
		text = fmt.Sprintf("Error: Could not confirm %s is back in the group. Fallback: %s", name, res.Fallback)
	default:
		text = fmt.Sprintf("Error: Failed to unban %s (%s). Fallback: %s", name, moderr.Classify(res.Err), res.Fallback)
	}
	eng.notify(context.Background(), prefix+text)
}

// splits "<target> <minutes>"; the target may be empty when given as a reply or mention
func splitMinutes(args string) (string, int, bool) {
	fields := strings.Fields(args)
	if len(fields) == 0 {
		return "", 0, false
	}
	n, err := strconv.Atoi(fields[len(fields)-1])
	if err != nil || n <= 0 {
		return "", 0, false
	}
	return strings.Join(fields[:len(fields)-1], " "), n, true
}

func (eng *Engine) cmdMute(ctx context.Context, c *commandCall) string {
	who, minutes, ok := splitMinutes(c.Args)
	if !ok {
		return "Error: Usage: !mute <name> <minutes>"
	}
	c.Args = who
	id, reply := eng.target(ctx, c)
	if id == nil {
		return reply
	}
	if id.UserID == "" {
		return fmt.Sprintf("Error: No user id known for %s", id.Label())
	}
	d := time.Duration(minutes) * time.Minute
	if _, err := eng.Mutes.Mute(ctx, id.UserID, id.Member, d); err != nil {
		if errors.Is(err, mute.ErrProtected) {
			return fmt.Sprintf("Error: %s is an admin and can't be muted", id.Label())
		}
		return fmt.Sprintf("Error: Failed to mute %s", id.Label())
	}
	return fmt.Sprintf("🔇 %s has been muted for %s", id.Label(), formatMinutes(d))
}

func (eng *Engine) cmdUnmute(ctx context.Context, c *commandCall) string {
	id, reply := eng.target(ctx, c)
	if id == nil {
		return reply
	}
	if !eng.Mutes.Unmute(ctx, id.UserID) {
		return fmt.Sprintf("%s is not muted", id.Label())
	}
	return fmt.Sprintf("🔊 %s has been unmuted", id.Label())
}

func (eng *Engine) cmdMuteAll(ctx context.Context, c *commandCall) string {
	minutes, err := strconv.Atoi(strings.TrimSpace(c.Args))
	if err != nil || minutes <= 0 {
		return "Error: Usage: !muteall <minutes>"
	}
	members, err := eng.Resolver.Roster.Fresh(ctx)
	if err != nil {
		eng.Logger.Warn("roster fetch failed", "err", err)
		return "Error: Failed to fetch the member list"
	}
	d := time.Duration(minutes) * time.Minute
	n, err := eng.Mutes.MuteAll(ctx, members, d)
	if err != nil {
		return "Error: Failed to mute the group"
	}
	return fmt.Sprintf("🔇 Muted %d members for %s", n, formatMinutes(d))
}

func (eng *Engine) cmdUnmuteAll(ctx context.Context, c *commandCall) string {
	n := eng.Mutes.UnmuteAll(ctx)
	return fmt.Sprintf("🔊 Unmuted %d members", n)
}

func (eng *Engine) cmdStrike(ctx context.Context, c *commandCall) string {
	id, reply := eng.target(ctx, c)
	if id == nil {
		return reply
	}
	n, err := eng.Store.IncrementCount(ctx, statestore.CountStrikes, id.Key)
	if err != nil {
		eng.Logger.Error("failed to record strike", "user", id.Key, "err", err)
		return fmt.Sprintf("Error: Failed to record a strike for %s", id.Label())
	}
	return fmt.Sprintf("⚠️ %s now has %s", id.Label(), plural(n, "strike"))
}

func (eng *Engine) cmdStrikes(ctx context.Context, c *commandCall) string {
	id, reply := eng.target(ctx, c)
	if id == nil {
		return reply
	}
	strikes, err := eng.Store.GetCount(ctx, statestore.CountStrikes, id.Key)
	if err != nil {
		return fmt.Sprintf("Error: Failed to read strikes for %s", id.Label())
	}
	swears, err := eng.Store.GetCount(ctx, statestore.CountSwears, id.Key)
	if err != nil {
		return fmt.Sprintf("Error: Failed to read warnings for %s", id.Label())
	}
	return fmt.Sprintf("%s has %s and %d/%d warnings", id.Label(), plural(strikes, "strike"), swears, eng.Detector.Threshold)
}

func (eng *Engine) cmdDelete(ctx context.Context, c *commandCall) string {
	reply := c.Msg.Reply()
	if reply == nil || reply.ReplyID == "" {
		return "Error: Reply to the message you want deleted"
	}
	if err := eng.Messenger.Delete(ctx, reply.ReplyID.String()); err != nil {
		eng.Logger.Warn("failed to delete message", "message", reply.ReplyID, "err", err)
		return "Error: Failed to delete message"
	}
	// the command itself goes too; best effort
	if err := eng.Messenger.Delete(ctx, c.Msg.ID.String()); err != nil {
		eng.Logger.Debug("failed to delete command message", "message", c.Msg.ID, "err", err)
	}
	return ""
}

func (eng *Engine) cmdUserID(ctx context.Context, c *commandCall) string {
	id, reply := eng.target(ctx, c)
	if id == nil {
		return reply
	}
	if id.UserID == "" {
		return "Error: Could not retrieve user_id"
	}
	return fmt.Sprintf("%s's user_id is %s", id.Label(), id.UserID)
}

func (eng *Engine) cmdResetCount(ctx context.Context, c *commandCall) string {
	id, reply := eng.target(ctx, c)
	if id == nil {
		return reply
	}
	old, err := eng.Store.GetCount(ctx, statestore.CountSwears, id.Key)
	if err == nil {
		err = eng.Store.ResetCount(ctx, statestore.CountSwears, id.Key)
	}
	if err != nil {
		return fmt.Sprintf("Error: Failed to reset the count for %s", id.Label())
	}
	return fmt.Sprintf("Reset %s's warning count (was %d)", id.Label(), old)
}

func (eng *Engine) cmdBanList(ctx context.Context, c *commandCall) string {
	bans, err := eng.Store.ListBans(ctx)
	if err != nil {
		return "Error: Failed to read the ban list"
	}
	if len(bans) == 0 {
		return "No banned users"
	}
	var sb strings.Builder
	sb.WriteString("Banned users:")
	for _, b := range bans {
		fmt.Fprintf(&sb, "\n- %s (%s)", nameOr(b.Nickname, "?"), b.UserID)
	}
	return sb.String()
}

func plural(n int, noun string) string {
	if n == 1 {
		return "1 " + noun
	}
	return fmt.Sprintf("%d %ss", n, noun)
}
