// Package retrieval grounds agent replies in reference documents. The engine
// embeds a query, runs an ANN search over the vector store, and normalizes
// raw similarity into the score band the grounding check operates on.
// Retrieval failure is never fatal: callers get an empty result and an error
// they may ignore (the Policy Agent refuses, everything else degrades).
package retrieval

import (
	"context"
	"fmt"
	"time"

	"convergeai/internal/embedding"
	"convergeai/internal/logging"
	"convergeai/internal/resilience"
	"convergeai/internal/types"
)

const (
	// DefaultTopK is the chunk count when the caller passes k <= 0.
	DefaultTopK = 7

	embedDeadline = 2 * time.Second
	queryDeadline = 3 * time.Second
)

// =============================================================================
// RETRIEVAL ENGINE
// =============================================================================

// Engine retrieves reference chunks for a text query. Both upstream hops run
// under their own circuit breaker with one transient retry; a per-attempt
// deadline keeps a slow collaborator from eating the turn budget.
type Engine struct {
	embedder embedding.EmbeddingEngine
	vectors  types.VectorStore

	embedCB *resilience.Breaker
	queryCB *resilience.Breaker
	retry   resilience.RetryConfig

	topK int
}

// NewEngine builds a retrieval engine. topK <= 0 falls back to DefaultTopK.
func NewEngine(embedder embedding.EmbeddingEngine, vectors types.VectorStore, topK int) *Engine {
	if topK <= 0 {
		topK = DefaultTopK
	}
	return &Engine{
		embedder: embedder,
		vectors:  vectors,
		embedCB: resilience.NewBreaker(resilience.BreakerConfig{
			Name:     "embedding",
			Category: logging.CategoryRetrieval,
		}),
		queryCB: resilience.NewBreaker(resilience.BreakerConfig{
			Name:     "vector-store",
			Category: logging.CategoryRetrieval,
		}),
		retry: resilience.DefaultRetryConfig(),
		topK:  topK,
	}
}

// Retrieve returns the k nearest chunks in a namespace, scored and ordered by
// normalized similarity descending (normalization preserves the store's
// ordering). k <= 0 uses the engine default. The optional filter narrows by
// chunk metadata.
func (e *Engine) Retrieve(ctx context.Context, query, namespace string, k int, filter map[string]string) ([]types.RetrievedChunk, error) {
	timer := logging.StartTimer(logging.CategoryRetrieval, "Retrieve")
	defer timer.Stop()

	if k <= 0 {
		k = e.topK
	}

	vec, err := e.embedQuery(ctx, query)
	if err != nil {
		logging.Get(logging.CategoryRetrieval).Warn("query embedding failed: %v", err)
		return nil, err
	}

	matches, err := e.queryVectors(ctx, namespace, vec, k, filter)
	if err != nil {
		logging.Get(logging.CategoryRetrieval).Warn("vector query failed: %v", err)
		return nil, err
	}

	chunks := make([]types.RetrievedChunk, 0, len(matches))
	for _, m := range matches {
		chunks = append(chunks, types.RetrievedChunk{
			ChunkID:         m.ChunkID,
			RawScore:        m.Score,
			NormalizedScore: NormalizeScore(m.Score),
			Text:            m.Text,
			Metadata:        m.Metadata,
		})
	}

	if len(chunks) > 0 {
		logging.RetrievalDebug("retrieved %d chunks from %s (top raw=%.4f normalized=%.4f)",
			len(chunks), namespace, chunks[0].RawScore, chunks[0].NormalizedScore)
	} else {
		logging.RetrievalDebug("retrieved 0 chunks from %s", namespace)
	}
	return chunks, nil
}

// embedQuery turns the query text into a vector. Failures classify as
// upstream so the retry and breaker treat them as collaborator health.
func (e *Engine) embedQuery(ctx context.Context, query string) ([]float32, error) {
	var vec []float32
	err := e.embedCB.Execute(ctx, types.ErrEmbeddingFailed, func(ctx context.Context) error {
		return resilience.WithRetry(ctx, e.retry, logging.CategoryRetrieval, "embed query", func(ctx context.Context) error {
			attemptCtx, cancel := context.WithTimeout(ctx, embedDeadline)
			defer cancel()

			v, err := e.embedder.Embed(attemptCtx, query)
			if err != nil {
				if ctx.Err() != nil {
					return ctx.Err()
				}
				return fmt.Errorf("%w: %v", types.ErrEmbeddingFailed, err)
			}
			vec = v
			return nil
		})
	})
	if err != nil {
		return nil, err
	}
	return vec, nil
}

func (e *Engine) queryVectors(ctx context.Context, namespace string, vec []float32, k int, filter map[string]string) ([]types.VectorMatch, error) {
	var matches []types.VectorMatch
	err := e.queryCB.Execute(ctx, types.ErrVectorStoreUnavailable, func(ctx context.Context) error {
		return resilience.WithRetry(ctx, e.retry, logging.CategoryRetrieval, "vector query", func(ctx context.Context) error {
			attemptCtx, cancel := context.WithTimeout(ctx, queryDeadline)
			defer cancel()

			got, err := e.vectors.Query(attemptCtx, namespace, vec, k, filter)
			if err != nil {
				if ctx.Err() != nil {
					return ctx.Err()
				}
				return fmt.Errorf("%w: %v", types.ErrVectorStoreUnavailable, err)
			}
			matches = got
			return nil
		})
	})
	if err != nil {
		return nil, err
	}
	return matches, nil
}
