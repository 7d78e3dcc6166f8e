// Scans message text against the instant-ban and regular lexicons, and tracks per-user swear counts toward the ban threshold.
package detector

import (
	"context"
	"fmt"

	"github.com/clankerbot/clanker/automod/keyword"
	"github.com/clankerbot/clanker/automod/statestore"

	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/promauto"
)

const DefaultThreshold = 10

type Kind string

const (
	KindNone         Kind = "none"
	KindWarn         Kind = "warn"
	KindInstantBan   Kind = "instant-ban"
	KindThresholdBan Kind = "threshold-ban"
)

type Decision struct {
	Kind Kind
	// the lexicon entry that matched
	Word string
	// swear count after this message; set for Warn and ThresholdBan
	Count     int
	Threshold int
}

// Remaining is how many more offending messages the user can send before being banned.
func (d Decision) Remaining() int {
	if d.Threshold-d.Count < 0 {
		return 0
	}
	return d.Threshold - d.Count
}

var decisionCount = promauto.NewCounterVec(prometheus.CounterOpts{
	Name: "clanker_detector_decisions",
	Help: "Number of scanned messages, by decision",
}, []string{"kind"})

type Detector struct {
	Lexicons  keyword.Lexicons
	Store     statestore.Store
	Threshold int
}

func NewDetector(lex keyword.Lexicons, store statestore.Store, threshold int) *Detector {
	if threshold <= 0 {
		threshold = DefaultThreshold
	}
	return &Detector{
		Lexicons:  lex,
		Store:     store,
		Threshold: threshold,
	}
}

// Scan classifies one message from userID.
//
// An instant-ban hit short-circuits without touching counters. Otherwise the first regular-lexicon hit increments the user's swear count by exactly one, no matter how many offending words the message has.
func (d *Detector) Scan(ctx context.Context, text, userID string) (Decision, error) {
	toks := keyword.TokenizeMessage(text)
	if len(toks) == 0 {
		decisionCount.WithLabelValues(string(KindNone)).Inc()
		return Decision{Kind: KindNone}, nil
	}

	if word, ok := d.Lexicons.InstantBan.Match(toks); ok {
		decisionCount.WithLabelValues(string(KindInstantBan)).Inc()
		return Decision{Kind: KindInstantBan, Word: word}, nil
	}

	word, ok := d.Lexicons.Regular.Match(toks)
	if !ok {
		decisionCount.WithLabelValues(string(KindNone)).Inc()
		return Decision{Kind: KindNone}, nil
	}

	c, err := d.Store.IncrementCount(ctx, statestore.CountSwears, userID)
	if err != nil {
		return Decision{}, fmt.Errorf("incrementing swear count: %w", err)
	}
	dec := Decision{
		Kind:      KindWarn,
		Word:      word,
		Count:     c,
		Threshold: d.Threshold,
	}
	if c >= d.Threshold {
		dec.Kind = KindThresholdBan
	}
	decisionCount.WithLabelValues(string(dec.Kind)).Inc()
	return dec, nil
}
