package moderation

import (
	"fmt"
	"regexp"
	"strings"

	"github.com/shravanisdakve/NexusAI-sub002/internal/moderation/rules"
	"gopkg.in/yaml.v3"
)

var tokenPattern = regexp.MustCompile(`[a-z0-9']+`)

var negators = map[string]struct{}{
	"not": {}, "no": {}, "never": {}, "don't": {}, "dont": {}, "doesn't": {}, "doesnt": {},
	"isn't": {}, "isnt": {}, "wasn't": {}, "wasnt": {}, "aren't": {}, "arent": {},
	"can't": {}, "cant": {}, "won't": {}, "wont": {}, "didn't": {}, "didnt": {},
}

// LexiconScorer is a word-valence scorer. Overall is the sum of token
// scores and Comparative is Overall divided by the token count.
type LexiconScorer struct {
	lexicon map[string]float64
}

// NewLexiconScorer builds a scorer from the embedded lexicon.
func NewLexiconScorer() (*LexiconScorer, error) {
	return ParseLexicon(rules.SentimentLexicon)
}

// ParseLexicon builds a scorer from a YAML word->score map.
func ParseLexicon(data []byte) (*LexiconScorer, error) {
	raw := make(map[string]float64)
	if err := yaml.Unmarshal(data, &raw); err != nil {
		return nil, fmt.Errorf("parse sentiment lexicon: %w", err)
	}
	lex := make(map[string]float64, len(raw))
	for w, s := range raw {
		lex[strings.ToLower(w)] = s
	}
	return &LexiconScorer{lexicon: lex}, nil
}

func (s *LexiconScorer) Score(text string) (Sentiment, error) {
	tokens := tokenize(text)
	if len(tokens) == 0 {
		return Sentiment{}, nil
	}

	var total float64
	for i, tok := range tokens {
		v, ok := s.lexicon[tok]
		if !ok {
			continue
		}
		if i > 0 {
			if _, neg := negators[tokens[i-1]]; neg {
				v = -v
			}
		}
		total += v
	}

	return Sentiment{
		Overall:     total,
		Comparative: total / float64(len(tokens)),
	}, nil
}

func tokenize(text string) []string {
	raw := tokenPattern.FindAllString(strings.ToLower(text), -1)
	tokens := raw[:0]
	for _, t := range raw {
		t = strings.Trim(t, "'")
		if t != "" {
			tokens = append(tokens, t)
		}
	}
	return tokens
}
