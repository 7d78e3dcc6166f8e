// Moderation and membership-lifecycle engine for a GroupMe chat bot.
//
// This package (`github.com/clankerbot/clanker/automod`) detects policy-violating messages and escalates from warnings to bans, removes and re-admits members against the eventually-consistent GroupMe membership API, enforces temporary mutes, and resolves free-text references ("!ban big bob") to canonical user ids. Counters, bans, mutes and the former-member index are written through a pluggable state store.
//
// The sub-packages are layered leaves-first: `statestore`, `resolve`, `detector`, `mute`, `enforce` and `notify`, tied together by `engine`. See `cmd/clanker` for a daemon built on this package.
package automod
