// Package rules holds the moderation rule set and sentiment lexicon baked
// into the binary.
package rules

import (
	_ "embed"
)

// Moderation is the default content of moderation_rules.yaml.
//
//go:embed moderation_rules.yaml
var Moderation []byte

// SentimentLexicon maps lowercase words to integer valence in [-5, 5].
//
//go:embed sentiment_lexicon.yaml
var SentimentLexicon []byte
