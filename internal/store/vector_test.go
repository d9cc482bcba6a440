package store

import (
	"context"
	"errors"
	"math"
	"testing"

	"convergeai/internal/types"
)

func testChunks() ([]types.PolicyChunk, [][]float32) {
	chunks := []types.PolicyChunk{
		{ID: "cancel-1", Text: "cancellations more than 4 hours before the slot refund in full", Metadata: map[string]string{"topic": "cancellation"}},
		{ID: "cancel-2", Text: "cancellations within 2 hours of the slot are not refunded", Metadata: map[string]string{"topic": "cancellation"}},
		{ID: "refund-1", Text: "refunds settle to the original payment method in 5 to 7 days", Metadata: map[string]string{"topic": "refund"}},
	}
	embeddings := [][]float32{
		{1, 0, 0, 0},
		{0.8, 0.6, 0, 0},
		{0, 0, 1, 0},
	}
	return chunks, embeddings
}

func TestVectorUpsertAndQuery(t *testing.T) {
	st := newTestStore(t)
	index := st.Vectors(4)
	ctx := context.Background()

	chunks, embeddings := testChunks()
	if err := index.Upsert(ctx, "policies", chunks, embeddings); err != nil {
		t.Fatalf("Upsert: %v", err)
	}

	n, err := index.Count(ctx, "policies")
	if err != nil {
		t.Fatalf("Count: %v", err)
	}
	if n != 3 {
		t.Errorf("Count = %d, want 3", n)
	}

	matches, err := index.Query(ctx, "policies", []float32{1, 0, 0, 0}, 2, nil)
	if err != nil {
		t.Fatalf("Query: %v", err)
	}
	if len(matches) != 2 {
		t.Fatalf("Query returned %d matches, want 2", len(matches))
	}
	if matches[0].ChunkID != "cancel-1" {
		t.Errorf("best match = %s, want cancel-1", matches[0].ChunkID)
	}
	if math.Abs(matches[0].Score-1.0) > 1e-6 {
		t.Errorf("identical vector score = %v, want 1.0", matches[0].Score)
	}
	if matches[1].ChunkID != "cancel-2" {
		t.Errorf("second match = %s, want cancel-2", matches[1].ChunkID)
	}
	if math.Abs(matches[1].Score-0.8) > 1e-6 {
		t.Errorf("cancel-2 score = %v, want 0.8", matches[1].Score)
	}
	if matches[0].Text != chunks[0].Text {
		t.Errorf("text lost: %q", matches[0].Text)
	}
	if matches[0].Metadata["topic"] != "cancellation" {
		t.Errorf("metadata lost: %v", matches[0].Metadata)
	}
}

func TestVectorQueryMetadataFilter(t *testing.T) {
	st := newTestStore(t)
	index := st.Vectors(4)
	ctx := context.Background()

	chunks, embeddings := testChunks()
	if err := index.Upsert(ctx, "policies", chunks, embeddings); err != nil {
		t.Fatalf("Upsert: %v", err)
	}

	matches, err := index.Query(ctx, "policies", []float32{1, 0, 0, 0}, 5, map[string]string{"topic": "refund"})
	if err != nil {
		t.Fatalf("Query: %v", err)
	}
	if len(matches) != 1 || matches[0].ChunkID != "refund-1" {
		t.Errorf("filtered matches = %+v, want only refund-1", matches)
	}

	matches, err = index.Query(ctx, "policies", []float32{1, 0, 0, 0}, 5, map[string]string{"topic": "billing"})
	if err != nil {
		t.Fatalf("Query: %v", err)
	}
	if len(matches) != 0 {
		t.Errorf("no chunk carries topic=billing, got %+v", matches)
	}
}

func TestVectorNamespacesAreIsolated(t *testing.T) {
	st := newTestStore(t)
	index := st.Vectors(4)
	ctx := context.Background()

	chunks, embeddings := testChunks()
	if err := index.Upsert(ctx, "policies", chunks, embeddings); err != nil {
		t.Fatalf("Upsert: %v", err)
	}
	if err := index.Upsert(ctx, "services", chunks[:1], embeddings[:1]); err != nil {
		t.Fatalf("Upsert services: %v", err)
	}

	n, err := index.Count(ctx, "services")
	if err != nil {
		t.Fatalf("Count: %v", err)
	}
	if n != 1 {
		t.Errorf("services count = %d, want 1", n)
	}

	matches, err := index.Query(ctx, "services", []float32{0, 0, 1, 0}, 5, nil)
	if err != nil {
		t.Fatalf("Query: %v", err)
	}
	for _, m := range matches {
		if m.ChunkID == "refund-1" {
			t.Error("query leaked across namespaces")
		}
	}
}

func TestVectorUpsertReplacesInPlace(t *testing.T) {
	st := newTestStore(t)
	index := st.Vectors(4)
	ctx := context.Background()

	chunks, embeddings := testChunks()
	if err := index.Upsert(ctx, "policies", chunks, embeddings); err != nil {
		t.Fatalf("Upsert: %v", err)
	}

	updated := []types.PolicyChunk{{ID: "cancel-1", Text: "updated cancellation wording", Metadata: map[string]string{"topic": "cancellation"}}}
	if err := index.Upsert(ctx, "policies", updated, [][]float32{{0, 1, 0, 0}}); err != nil {
		t.Fatalf("Upsert replace: %v", err)
	}

	n, err := index.Count(ctx, "policies")
	if err != nil {
		t.Fatalf("Count: %v", err)
	}
	if n != 3 {
		t.Errorf("Count after replace = %d, want 3 (no duplicate)", n)
	}

	matches, err := index.Query(ctx, "policies", []float32{0, 1, 0, 0}, 1, nil)
	if err != nil {
		t.Fatalf("Query: %v", err)
	}
	if len(matches) != 1 || matches[0].ChunkID != "cancel-1" || matches[0].Text != "updated cancellation wording" {
		t.Errorf("replacement not visible: %+v", matches)
	}
}

func TestVectorDimsMismatch(t *testing.T) {
	st := newTestStore(t)
	index := st.Vectors(4)
	ctx := context.Background()

	chunks := []types.PolicyChunk{{ID: "x", Text: "x"}}
	if err := index.Upsert(ctx, "policies", chunks, [][]float32{{1, 0}}); err == nil {
		t.Error("Upsert with wrong dims should fail")
	}
	if err := index.Upsert(ctx, "policies", chunks, nil); err == nil {
		t.Error("Upsert with missing embeddings should fail")
	}

	_, err := index.Query(ctx, "policies", []float32{1, 0}, 3, nil)
	if !errors.Is(err, types.ErrVectorStoreUnavailable) {
		t.Errorf("Query with wrong dims = %v, want ErrVectorStoreUnavailable", err)
	}
}

func TestEmbeddingBlobCodec(t *testing.T) {
	vec := []float32{0.25, -1.5, 3.0, 0}
	blob := encodeFloat32SliceToBlob(vec)
	if len(blob) != 16 {
		t.Fatalf("blob length = %d, want 16", len(blob))
	}

	got, err := decodeFloat32Blob(blob)
	if err != nil {
		t.Fatalf("decode: %v", err)
	}
	for i := range vec {
		if got[i] != vec[i] {
			t.Errorf("round trip[%d] = %v, want %v", i, got[i], vec[i])
		}
	}

	if _, err := decodeFloat32Blob([]byte{1, 2, 3}); err == nil {
		t.Error("ragged blob should fail to decode")
	}
}

func TestCosineSimilarity(t *testing.T) {
	tests := []struct {
		name string
		a, b []float32
		want float64
	}{
		{"identical", []float32{1, 2, 3}, []float32{1, 2, 3}, 1},
		{"scaled", []float32{1, 2, 3}, []float32{2, 4, 6}, 1},
		{"orthogonal", []float32{1, 0}, []float32{0, 1}, 0},
		{"opposite", []float32{1, 0}, []float32{-1, 0}, -1},
		{"zero vector", []float32{0, 0}, []float32{1, 0}, 0},
		{"length mismatch", []float32{1}, []float32{1, 0}, 0},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			if got := cosineSimilarity32(tt.a, tt.b); math.Abs(got-tt.want) > 1e-9 {
				t.Errorf("cosineSimilarity32(%v, %v) = %v, want %v", tt.a, tt.b, got, tt.want)
			}
		})
	}
}
