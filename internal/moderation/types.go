package moderation

import "regexp"

// Tier is a moderation severity level. Lower numbers take priority.
type Tier int

const (
	TierNone      Tier = 0
	TierReflex    Tier = 1
	TierSentiment Tier = 2
	TierConfusion Tier = 3
)

// Action is what the caller should do with a message.
type Action string

const (
	ActionNone         Action = "none"
	ActionDelete       Action = "delete"
	ActionWarn         Action = "warn"
	ActionDisputeNudge Action = "dispute_nudge"
	ActionIntervene    Action = "intervene"
)

// Verdict is the outcome of evaluating one message. It is never stored.
//
// Tier and Action describe the highest-priority finding. Intervene is the
// tier-3 signal and may be set alongside a tier-2 verdict.
type Verdict struct {
	Tier      Tier
	Action    Action
	Text      string
	Flagged   bool
	Intervene bool
	RuleID    string
	Sentiment *Sentiment
}

// Blocked reports whether the message must not be persisted or broadcast.
func (v Verdict) Blocked() bool {
	return v.Tier == TierReflex
}

// Sentiment is the numeric output of a Scorer.
type Sentiment struct {
	Overall     float64 `json:"overall"`
	Comparative float64 `json:"comparative"`
}

// Scorer scores the sentiment of free text.
type Scorer interface {
	Score(text string) (Sentiment, error)
}

// RulesFile is the on-disk layout of the moderation rules.
type RulesFile struct {
	Reflex    ReflexRules    `yaml:"reflex"`
	Sentiment SentimentRules `yaml:"sentiment"`
	Confusion ConfusionRules `yaml:"confusion"`
}

type ReflexRules struct {
	Warning  string `yaml:"warning"`
	Patterns []Rule `yaml:"patterns"`
}

type SentimentRules struct {
	DisputeThreshold float64 `yaml:"dispute_threshold"`
	WarnThreshold    float64 `yaml:"warn_threshold"`
	DisputeText      string  `yaml:"dispute_text"`
	WarnText         string  `yaml:"warn_text"`
	ConflictPhrases  []Rule  `yaml:"conflict_phrases"`
}

type ConfusionRules struct {
	Patterns []Rule `yaml:"patterns"`
}

// Rule is one named pattern. Patterns are always matched case-insensitively.
type Rule struct {
	ID          string `yaml:"id"`
	Description string `yaml:"description"`
	Pattern     string `yaml:"pattern"`

	re *regexp.Regexp
}
