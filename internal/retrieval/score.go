package retrieval

import (
	"strings"
	"unicode"

	"convergeai/internal/types"
)

// =============================================================================
// SCORE NORMALIZATION
// =============================================================================

// NormalizeScore maps raw dense-retrieval similarity into the band the
// grounding check operates on: the typical relevant range 0.60-0.85 lands in
// [0.90, 1.00], anything below 0.60 passes through unchanged. Monotone
// non-decreasing, so the store's ordering survives normalization. Normalized
// values are not comparable to raw cosine similarity.
func NormalizeScore(raw float64) float64 {
	switch {
	case raw >= 0.75:
		return 0.95 + (raw-0.75)*0.20
	case raw >= 0.60:
		return 0.90 + (raw-0.60)/3.0
	default:
		return raw
	}
}

// =============================================================================
// GROUNDING
// =============================================================================

// groundedSpanLen is the minimum run of consecutive answer tokens that must
// appear verbatim in the chunk corpus to count as a span.
const groundedSpanLen = 3

// spanWeight is the per-token weight for span matches; single-token matches
// weigh 1.0.
const spanWeight = 1.5

// highConfidenceBoost multiplies the grounding score when at least one chunk
// normalized to >= 0.95.
const highConfidenceBoost = 1.1

// GroundingScore measures how much of an answer is backed by the retrieved
// chunks: the weighted fraction of answer tokens (lowercased, punctuation
// stripped, length >= 4) found verbatim in the concatenation of chunk texts.
// Runs of >= 3 consecutive answer tokens matching the corpus weigh 1.5x per
// token. The result is boosted 1.1x when any chunk normalized to >= 0.95 and
// capped at 1.0. An answer with no scoreable tokens, or an empty chunk set,
// grounds at 0.
func GroundingScore(answer string, chunks []types.RetrievedChunk) float64 {
	tokens := groundingTokens(answer)
	if len(tokens) == 0 || len(chunks) == 0 {
		return 0
	}

	var sb strings.Builder
	boost := false
	for _, c := range chunks {
		sb.WriteString(c.Text)
		sb.WriteByte(' ')
		if c.NormalizedScore >= 0.95 {
			boost = true
		}
	}
	corpus := groundingTokens(sb.String())
	if len(corpus) == 0 {
		return 0
	}
	corpusSet := make(map[string]struct{}, len(corpus))
	for _, t := range corpus {
		corpusSet[t] = struct{}{}
	}

	var weighted float64
	for i := 0; i < len(tokens); {
		run := longestRun(tokens, i, corpus)
		if run >= groundedSpanLen {
			weighted += spanWeight * float64(run)
			i += run
			continue
		}
		if _, ok := corpusSet[tokens[i]]; ok {
			weighted++
		}
		i++
	}

	score := weighted / float64(len(tokens))
	if boost {
		score *= highConfidenceBoost
	}
	if score > 1.0 {
		score = 1.0
	}
	return score
}

// longestRun returns the length of the longest run of tokens[start:] that
// appears consecutively somewhere in corpus. Corpora here are at most a few
// hundred tokens wide, so the scan stays naive.
func longestRun(tokens []string, start int, corpus []string) int {
	best := 0
	for p := range corpus {
		if corpus[p] != tokens[start] {
			continue
		}
		n := 1
		for start+n < len(tokens) && p+n < len(corpus) && tokens[start+n] == corpus[p+n] {
			n++
		}
		if n > best {
			best = n
		}
	}
	return best
}

// groundingTokens lowercases text, splits on punctuation and whitespace, and
// keeps tokens of length >= 4. Answer and corpus tokenize identically so a
// short word interrupts adjacency on neither side.
func groundingTokens(text string) []string {
	fields := strings.FieldsFunc(strings.ToLower(text), func(r rune) bool {
		return !unicode.IsLetter(r) && !unicode.IsDigit(r)
	})
	tokens := fields[:0]
	for _, f := range fields {
		if len(f) >= 4 {
			tokens = append(tokens, f)
		}
	}
	return tokens
}
