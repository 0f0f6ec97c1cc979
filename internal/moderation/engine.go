// Package moderation classifies chat text into severity tiers.
//
// Tier 1 (reflex) blocks a message outright and short-circuits everything
// else. Tier 2 (sentiment) lets the message through with a moderator
// follow-up. Tier 3 (confusion) asks for an AI intervention and is evaluated
// independently of tier 2.
package moderation

import (
	"errors"
	"fmt"
	"os"
	"regexp"
	"strings"

	"github.com/shravanisdakve/NexusAI-sub002/internal/moderation/rules"
	"gopkg.in/yaml.v3"
)

const (
	DefaultDisputeThreshold = -3
	DefaultWarnThreshold    = -0.5
)

var apostrophes = strings.NewReplacer("’", "'", "‘", "'", "ʼ", "'")

// Engine evaluates messages against a compiled rule set. It holds no
// mutable state and is safe for concurrent use.
type Engine struct {
	reflex     []Rule
	reflexText string

	disputeThreshold float64
	warnThreshold    float64
	disputeText      string
	warnText         string
	conflict         []Rule

	confusion []Rule

	scorer        Scorer
	onScorerError func(error)
}

type Option func(*Engine)

// WithScorer replaces the default lexicon scorer.
func WithScorer(s Scorer) Option {
	return func(e *Engine) { e.scorer = s }
}

// OnScorerError registers a hook called when the scorer fails. The message
// is then evaluated as if it had no tier-2 finding.
func OnScorerError(fn func(error)) Option {
	return func(e *Engine) { e.onScorerError = fn }
}

// NewEngine builds an engine from the embedded rule set.
func NewEngine(opts ...Option) (*Engine, error) {
	return NewEngineFromRules(rules.Moderation, opts...)
}

// NewEngineFromFile builds an engine from a rules file on disk.
func NewEngineFromFile(path string, opts ...Option) (*Engine, error) {
	data, err := os.ReadFile(path)
	if err != nil {
		return nil, fmt.Errorf("read moderation rules: %w", err)
	}
	return NewEngineFromRules(data, opts...)
}

// NewEngineFromRules parses and compiles a YAML rule set.
func NewEngineFromRules(data []byte, opts ...Option) (*Engine, error) {
	var rf RulesFile
	if err := yaml.Unmarshal(data, &rf); err != nil {
		return nil, fmt.Errorf("parse moderation rules: %w", err)
	}
	if rf.Reflex.Warning == "" {
		return nil, errors.New("moderation rules: reflex.warning is required")
	}

	e := &Engine{
		reflexText:       rf.Reflex.Warning,
		disputeThreshold: rf.Sentiment.DisputeThreshold,
		warnThreshold:    rf.Sentiment.WarnThreshold,
		disputeText:      rf.Sentiment.DisputeText,
		warnText:         rf.Sentiment.WarnText,
	}

	if e.disputeThreshold == 0 {
		e.disputeThreshold = DefaultDisputeThreshold
	}
	if e.warnThreshold == 0 {
		e.warnThreshold = DefaultWarnThreshold
	}

	var err error
	if e.reflex, err = compile("reflex", rf.Reflex.Patterns); err != nil {
		return nil, err
	}
	if e.conflict, err = compile("conflict", rf.Sentiment.ConflictPhrases); err != nil {
		return nil, err
	}
	if e.confusion, err = compile("confusion", rf.Confusion.Patterns); err != nil {
		return nil, err
	}

	for _, opt := range opts {
		opt(e)
	}
	if e.scorer == nil {
		if e.scorer, err = NewLexiconScorer(); err != nil {
			return nil, err
		}
	}
	return e, nil
}

func compile(group string, in []Rule) ([]Rule, error) {
	out := make([]Rule, 0, len(in))
	for i, r := range in {
		if r.Pattern == "" {
			return nil, fmt.Errorf("moderation rules: %s[%d] has an empty pattern", group, i)
		}
		re, err := regexp.Compile("(?i)" + r.Pattern)
		if err != nil {
			return nil, fmt.Errorf("moderation rules: %s %q: %w", group, r.ID, err)
		}
		r.re = re
		if r.ID == "" {
			r.ID = fmt.Sprintf("%s-%d", group, i)
		}
		out = append(out, r)
	}
	return out, nil
}

// Evaluate classifies text.
func (e *Engine) Evaluate(text string) Verdict {
	norm := apostrophes.Replace(text)

	if r, ok := firstMatch(e.reflex, norm); ok {
		return Verdict{
			Tier:    TierReflex,
			Action:  ActionDelete,
			Text:    e.reflexText,
			Flagged: true,
			RuleID:  r.ID,
		}
	}

	v := Verdict{Tier: TierNone, Action: ActionNone}

	if s, err := e.score(norm); err != nil {
		if e.onScorerError != nil {
			e.onScorerError(err)
		}
	} else {
		v.Sentiment = &s
		if s.Overall <= e.disputeThreshold {
			if r, ok := firstMatch(e.conflict, norm); ok {
				v.Tier, v.Action, v.Text, v.Flagged, v.RuleID = TierSentiment, ActionDisputeNudge, e.disputeText, true, r.ID
			}
		}
		if v.Tier == TierNone && s.Comparative <= e.warnThreshold {
			v.Tier, v.Action, v.Text, v.Flagged = TierSentiment, ActionWarn, e.warnText, true
		}
	}

	if r, ok := firstMatch(e.confusion, norm); ok {
		v.Intervene = true
		if v.Tier == TierNone {
			v.Tier, v.Action, v.RuleID = TierConfusion, ActionIntervene, r.ID
		}
	}

	return v
}

func (e *Engine) score(text string) (s Sentiment, err error) {
	defer func() {
		if r := recover(); r != nil {
			err = fmt.Errorf("sentiment scorer panic: %v", r)
		}
	}()
	return e.scorer.Score(text)
}

func firstMatch(rs []Rule, text string) (Rule, bool) {
	for _, r := range rs {
		if r.re.MatchString(text) {
			return r, true
		}
	}
	return Rule{}, false
}
