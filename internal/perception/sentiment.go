package perception

import (
	"strings"
)

// =============================================================================
// SENTIMENT
// =============================================================================
//
// Lexicon scoring with negation flips and intensity boosts. The score feeds
// complaint priority derivation (≤ -0.5 and ≤ -0.8 thresholds) and the ops
// queue penalty, so it has to be deterministic and cheap, not clever.

var negativeLexicon = map[string]float64{
	"terrible":      -1.0,
	"awful":         -1.0,
	"horrible":      -1.0,
	"worst":         -1.0,
	"pathetic":      -1.0,
	"disgusting":    -1.0,
	"furious":       -1.0,
	"scam":          -1.0,
	"unacceptable":  -0.9,
	"cheated":       -0.9,
	"angry":         -0.8,
	"rude":          -0.8,
	"useless":       -0.8,
	"damaged":       -0.8,
	"frustrated":    -0.7,
	"frustrating":   -0.7,
	"waste":         -0.7,
	"broken":        -0.6,
	"bad":           -0.6,
	"poor":          -0.6,
	"disappointed":  -0.6,
	"disappointing": -0.6,
	"unhappy":       -0.6,
	"dissatisfied":  -0.6,
	"late":          -0.4,
	"delayed":       -0.4,
	"slow":          -0.4,
}

var positiveLexicon = map[string]float64{
	"excellent":    1.0,
	"amazing":      1.0,
	"awesome":      1.0,
	"perfect":      1.0,
	"fantastic":    1.0,
	"wonderful":    0.9,
	"great":        0.8,
	"love":         0.8,
	"loved":        0.8,
	"happy":        0.7,
	"satisfied":    0.7,
	"impressed":    0.7,
	"good":         0.6,
	"professional": 0.6,
	"helpful":      0.6,
	"nice":         0.5,
	"prompt":       0.5,
	"thanks":       0.4,
	"thank":        0.4,
}

var negationWords = map[string]bool{
	"not": true, "no": true, "never": true, "hardly": true,
	"dont": true, "didnt": true, "wasnt": true, "isnt": true,
	"wont": true, "cant": true, "couldnt": true, "havent": true,
}

var intensifierWords = map[string]bool{
	"very": true, "really": true, "extremely": true, "so": true,
	"totally": true, "absolutely": true, "completely": true, "super": true,
}

// Sentiment scores an utterance in [-1, 1]. 0 means neutral or no signal.
func Sentiment(text string) float64 {
	tokens := sentimentTokens(text)
	if len(tokens) == 0 {
		return 0
	}

	var sum float64
	var hits int
	for i, tok := range tokens {
		weight, ok := negativeLexicon[tok]
		if !ok {
			weight, ok = positiveLexicon[tok]
		}
		if !ok {
			continue
		}

		if negatedAt(tokens, i) {
			weight = -weight
		}
		if intensifiedAt(tokens, i) {
			weight *= 1.5
		}

		sum += weight
		hits++
	}

	if hits == 0 {
		return 0
	}
	score := sum / float64(hits)
	if score > 1 {
		score = 1
	}
	if score < -1 {
		score = -1
	}
	return score
}

// negatedAt reports whether a negation word sits within the two tokens
// before position i.
func negatedAt(tokens []string, i int) bool {
	for j := i - 1; j >= 0 && j >= i-2; j-- {
		if negationWords[tokens[j]] {
			return true
		}
	}
	return false
}

// intensifiedAt reports whether an intensifier sits within the two tokens
// before position i.
func intensifiedAt(tokens []string, i int) bool {
	for j := i - 1; j >= 0 && j >= i-2; j-- {
		if intensifierWords[tokens[j]] {
			return true
		}
	}
	return false
}

// sentimentTokens lowercases and splits text into word tokens, folding
// apostrophes so "didn't" becomes "didnt".
func sentimentTokens(text string) []string {
	lower := strings.ToLower(text)
	lower = strings.ReplaceAll(lower, "'", "")
	lower = strings.ReplaceAll(lower, "’", "")

	return strings.FieldsFunc(lower, func(r rune) bool {
		return !(r >= 'a' && r <= 'z' || r >= '0' && r <= '9')
	})
}
