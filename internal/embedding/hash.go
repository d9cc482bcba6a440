package embedding

import (
	"context"
	"fmt"
	"hash/fnv"
	"math"
	"strings"
	"unicode"
)

// =============================================================================
// DETERMINISTIC HASH EMBEDDING ENGINE
// =============================================================================

// HashEngine produces deterministic embeddings through signed feature
// hashing: every word and every character trigram of the input maps to a
// dimension and a sign, and the resulting vector is L2-normalized. The same
// text always yields the same vector, texts sharing words or word fragments
// land near each other, and no external service is involved. This is the
// default engine for tests and offline runs; it is not a learned model and
// should not be expected to capture synonyms.
type HashEngine struct {
	dims int
}

// NewHashEngine creates a hash embedding engine. dims zero means the
// default of 384.
func NewHashEngine(dims int) (*HashEngine, error) {
	if dims <= 0 {
		dims = 384
	}
	return &HashEngine{dims: dims}, nil
}

// Embed generates a deterministic embedding for a single text.
// Empty or all-punctuation text embeds to the zero vector.
func (e *HashEngine) Embed(ctx context.Context, text string) ([]float32, error) {
	if err := ctx.Err(); err != nil {
		return nil, fmt.Errorf("hash embed: %w", err)
	}

	vec := make([]float32, e.dims)
	for _, token := range hashTokens(text) {
		e.addFeature(vec, "w:"+token)
		// Trigrams give partial-word overlap ("cancelled" vs "cancellation").
		if len(token) >= 3 {
			padded := "^" + token + "$"
			for i := 0; i+3 <= len(padded); i++ {
				e.addFeature(vec, "t:"+padded[i:i+3])
			}
		}
	}

	normalize32(vec)
	return vec, nil
}

// EmbedBatch generates embeddings for multiple texts.
func (e *HashEngine) EmbedBatch(ctx context.Context, texts []string) ([][]float32, error) {
	embeddings := make([][]float32, len(texts))
	for i, text := range texts {
		embedding, err := e.Embed(ctx, text)
		if err != nil {
			return nil, fmt.Errorf("failed to embed text %d: %w", i, err)
		}
		embeddings[i] = embedding
	}
	return embeddings, nil
}

// Dimensions returns the dimensionality of embeddings.
func (e *HashEngine) Dimensions() int {
	return e.dims
}

// Name returns the engine name.
func (e *HashEngine) Name() string {
	return fmt.Sprintf("hash:%d", e.dims)
}

// addFeature folds one feature into the vector. The low bits of the hash
// pick the dimension, bit 63 picks the sign, so collisions tend to cancel
// rather than pile up.
func (e *HashEngine) addFeature(vec []float32, feature string) {
	h := fnv.New64a()
	h.Write([]byte(feature))
	sum := h.Sum64()

	idx := int(sum % uint64(e.dims))
	if sum>>63&1 == 1 {
		vec[idx] -= 1
	} else {
		vec[idx] += 1
	}
}

// hashTokens lowercases the text and splits it on anything that is not a
// letter or digit. Digits stay: pincodes and booking numbers matter here.
func hashTokens(text string) []string {
	return strings.FieldsFunc(strings.ToLower(text), func(r rune) bool {
		return !unicode.IsLetter(r) && !unicode.IsDigit(r)
	})
}

// normalize32 scales vec to unit length in place. Zero vectors stay zero.
func normalize32(vec []float32) {
	var sum float64
	for _, v := range vec {
		sum += float64(v) * float64(v)
	}
	if sum == 0 {
		return
	}
	norm := float32(math.Sqrt(sum))
	for i := range vec {
		vec[i] /= norm
	}
}
