package automod

import (
	"github.com/clankerbot/clanker/automod/detector"
	"github.com/clankerbot/clanker/automod/enforce"
	"github.com/clankerbot/clanker/automod/engine"
	"github.com/clankerbot/clanker/automod/notify"
	"github.com/clankerbot/clanker/automod/statestore"
)

type Engine = engine.Engine
type EngineConfig = engine.Config
type Components = engine.Components
type Trigger = engine.Trigger

type Store = statestore.Store
type BanRecord = statestore.BanRecord
type MuteRecord = statestore.MuteRecord

type Decision = detector.Decision
type Notice = notify.Notice
type SlackNotifier = notify.SlackNotifier

type BanRequest = enforce.BanRequest
type BanResult = enforce.BanResult
type UnbanResult = enforce.UnbanResult

const (
	CountSwears  = statestore.CountSwears
	CountStrikes = statestore.CountStrikes
)

var (
	NewEngine     = engine.NewEngine
	DefaultConfig = engine.DefaultConfig
)
