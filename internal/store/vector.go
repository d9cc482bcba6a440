package store

import (
	"bytes"
	"context"
	"encoding/binary"
	"encoding/json"
	"fmt"
	"math"
	"sort"
	"time"

	"convergeai/internal/logging"
	"convergeai/internal/types"
)

// =============================================================================
// POLICY CHUNK VECTOR INDEX
// =============================================================================
//
// policy_chunks holds chunk text and the embedding blob; when sqlite-vec is
// available a vec_chunks virtual table mirrors embeddings keyed by the chunk
// rowid and queries rank with vec_distance_cosine in SQL. Without the
// extension (pure-Go builds), queries decode blobs and rank with a cosine
// scan, which is fine at policy-corpus scale.

// VectorIndex implements types.VectorStore.
type VectorIndex struct {
	st   *Store
	dims int
}

// Dims returns the fixed embedding width.
func (v *VectorIndex) Dims() int { return v.dims }

// Upsert stores chunks and their embeddings under a namespace. Existing
// (namespace, chunk id) pairs are replaced in place.
func (v *VectorIndex) Upsert(ctx context.Context, namespace string, chunks []types.PolicyChunk, embeddings [][]float32) error {
	timer := logging.StartTimer(logging.CategoryStore, "VectorIndex.Upsert")
	defer timer.Stop()

	if len(chunks) != len(embeddings) {
		return fmt.Errorf("upsert chunks: %d chunks but %d embeddings", len(chunks), len(embeddings))
	}
	for i, emb := range embeddings {
		if len(emb) != v.dims {
			return fmt.Errorf("upsert chunks: embedding %d has %d dims, index expects %d", i, len(emb), v.dims)
		}
	}

	v.st.mu.Lock()
	defer v.st.mu.Unlock()

	if v.st.vectorExt {
		ddl := fmt.Sprintf("CREATE VIRTUAL TABLE IF NOT EXISTS vec_chunks USING vec0(embedding float[%d])", v.dims)
		if _, err := v.st.db.ExecContext(ctx, ddl); err != nil {
			return dbErr("create vec table", err)
		}
	}

	tx, err := v.st.db.BeginTx(ctx, nil)
	if err != nil {
		return dbErr("upsert chunks", err)
	}
	defer tx.Rollback()

	now := fmtTime(time.Now().UTC())
	for i, chunk := range chunks {
		var metadata any
		if len(chunk.Metadata) > 0 {
			b, err := json.Marshal(chunk.Metadata)
			if err != nil {
				return fmt.Errorf("marshal chunk metadata: %w", err)
			}
			metadata = string(b)
		}
		blob := encodeFloat32SliceToBlob(embeddings[i])

		if _, err := tx.ExecContext(ctx,
			`INSERT INTO policy_chunks (chunk_id, namespace, text, metadata, embedding, dims, created_at)
			 VALUES (?, ?, ?, ?, ?, ?, ?)
			 ON CONFLICT(namespace, chunk_id) DO UPDATE SET
			   text = excluded.text, metadata = excluded.metadata,
			   embedding = excluded.embedding, dims = excluded.dims`,
			chunk.ID, namespace, chunk.Text, metadata, blob, v.dims, now); err != nil {
			return dbErr("upsert chunk", err)
		}

		if v.st.vectorExt {
			var rowID int64
			if err := tx.QueryRowContext(ctx,
				"SELECT id FROM policy_chunks WHERE namespace = ? AND chunk_id = ?",
				namespace, chunk.ID).Scan(&rowID); err != nil {
				return dbErr("upsert chunk", err)
			}
			if _, err := tx.ExecContext(ctx, "DELETE FROM vec_chunks WHERE rowid = ?", rowID); err != nil {
				return dbErr("upsert vec row", err)
			}
			if _, err := tx.ExecContext(ctx,
				"INSERT INTO vec_chunks (rowid, embedding) VALUES (?, ?)", rowID, blob); err != nil {
				return dbErr("upsert vec row", err)
			}
		}
	}

	if err := tx.Commit(); err != nil {
		return dbErr("upsert chunks", err)
	}
	logging.Store("Upserted %d chunk(s) into namespace %q", len(chunks), namespace)
	return nil
}

// Query returns the k nearest chunks by cosine similarity. Metadata filters
// always take the scan path; the ANN path covers the common unfiltered case.
func (v *VectorIndex) Query(ctx context.Context, namespace string, vec []float32, k int, filter map[string]string) ([]types.VectorMatch, error) {
	timer := logging.StartTimer(logging.CategoryStore, "VectorIndex.Query")
	defer timer.Stop()

	if k <= 0 {
		k = 5
	}
	if len(vec) != v.dims {
		return nil, fmt.Errorf("%w: query has %d dims, index expects %d", types.ErrVectorStoreUnavailable, len(vec), v.dims)
	}

	v.st.mu.RLock()
	defer v.st.mu.RUnlock()

	if v.st.vectorExt && len(filter) == 0 {
		return v.queryVec(ctx, namespace, vec, k)
	}
	return v.queryScan(ctx, namespace, vec, k, filter)
}

func (v *VectorIndex) queryVec(ctx context.Context, namespace string, vec []float32, k int) ([]types.VectorMatch, error) {
	queryBlob := encodeFloat32SliceToBlob(vec)

	rows, err := v.st.db.QueryContext(ctx,
		`SELECT c.chunk_id, c.text, c.metadata,
		        vec_distance_cosine(vc.embedding, ?) AS distance
		 FROM vec_chunks vc
		 JOIN policy_chunks c ON c.id = vc.rowid
		 WHERE c.namespace = ?
		 ORDER BY distance ASC
		 LIMIT ?`,
		queryBlob, namespace, k)
	if err != nil {
		return nil, fmt.Errorf("%w: %v", types.ErrVectorStoreUnavailable, err)
	}
	defer rows.Close()

	var matches []types.VectorMatch
	for rows.Next() {
		var (
			m        types.VectorMatch
			metadata []byte
			distance float64
		)
		if err := rows.Scan(&m.ChunkID, &m.Text, &metadata, &distance); err != nil {
			return nil, fmt.Errorf("%w: %v", types.ErrVectorStoreUnavailable, err)
		}
		if len(metadata) > 0 {
			if err := json.Unmarshal(metadata, &m.Metadata); err != nil {
				return nil, fmt.Errorf("decode chunk metadata: %w", err)
			}
		}
		// Cosine distance is 1 - similarity.
		m.Score = 1.0 - distance
		matches = append(matches, m)
	}
	if err := rows.Err(); err != nil {
		return nil, fmt.Errorf("%w: %v", types.ErrVectorStoreUnavailable, err)
	}
	return matches, nil
}

func (v *VectorIndex) queryScan(ctx context.Context, namespace string, vec []float32, k int, filter map[string]string) ([]types.VectorMatch, error) {
	rows, err := v.st.db.QueryContext(ctx,
		"SELECT chunk_id, text, metadata, embedding FROM policy_chunks WHERE namespace = ?", namespace)
	if err != nil {
		return nil, fmt.Errorf("%w: %v", types.ErrVectorStoreUnavailable, err)
	}
	defer rows.Close()

	var matches []types.VectorMatch
	for rows.Next() {
		var (
			m        types.VectorMatch
			metadata []byte
			blob     []byte
		)
		if err := rows.Scan(&m.ChunkID, &m.Text, &metadata, &blob); err != nil {
			return nil, fmt.Errorf("%w: %v", types.ErrVectorStoreUnavailable, err)
		}
		if len(metadata) > 0 {
			if err := json.Unmarshal(metadata, &m.Metadata); err != nil {
				return nil, fmt.Errorf("decode chunk metadata: %w", err)
			}
		}
		if !metadataMatches(m.Metadata, filter) {
			continue
		}
		emb, err := decodeFloat32Blob(blob)
		if err != nil {
			return nil, fmt.Errorf("decode embedding for %s: %w", m.ChunkID, err)
		}
		if len(emb) != len(vec) {
			continue
		}
		m.Score = cosineSimilarity32(vec, emb)
		matches = append(matches, m)
	}
	if err := rows.Err(); err != nil {
		return nil, fmt.Errorf("%w: %v", types.ErrVectorStoreUnavailable, err)
	}

	sort.SliceStable(matches, func(i, j int) bool {
		if matches[i].Score != matches[j].Score {
			return matches[i].Score > matches[j].Score
		}
		return matches[i].ChunkID < matches[j].ChunkID
	})
	if len(matches) > k {
		matches = matches[:k]
	}
	return matches, nil
}

// Count reports how many chunks a namespace holds.
func (v *VectorIndex) Count(ctx context.Context, namespace string) (int, error) {
	v.st.mu.RLock()
	defer v.st.mu.RUnlock()

	var n int
	err := v.st.db.QueryRowContext(ctx,
		"SELECT COUNT(*) FROM policy_chunks WHERE namespace = ?", namespace).Scan(&n)
	if err != nil {
		return 0, fmt.Errorf("%w: %v", types.ErrVectorStoreUnavailable, err)
	}
	return n, nil
}

func metadataMatches(md map[string]string, filter map[string]string) bool {
	for key, want := range filter {
		if md[key] != want {
			return false
		}
	}
	return true
}

// encodeFloat32SliceToBlob encodes a float32 slice as the little-endian
// binary blob sqlite-vec expects.
func encodeFloat32SliceToBlob(vec []float32) []byte {
	buf := new(bytes.Buffer)
	if err := binary.Write(buf, binary.LittleEndian, vec); err != nil {
		return nil
	}
	return buf.Bytes()
}

// decodeFloat32Blob reverses encodeFloat32SliceToBlob.
func decodeFloat32Blob(blob []byte) ([]float32, error) {
	if len(blob)%4 != 0 {
		return nil, fmt.Errorf("embedding blob length %d is not a multiple of 4", len(blob))
	}
	out := make([]float32, len(blob)/4)
	if err := binary.Read(bytes.NewReader(blob), binary.LittleEndian, &out); err != nil {
		return nil, err
	}
	return out, nil
}

// cosineSimilarity32 computes cosine similarity between two vectors.
func cosineSimilarity32(a, b []float32) float64 {
	if len(a) != len(b) {
		return 0
	}
	var dot, normA, normB float64
	for i := range a {
		dot += float64(a[i]) * float64(b[i])
		normA += float64(a[i]) * float64(a[i])
		normB += float64(b[i]) * float64(b[i])
	}
	if normA == 0 || normB == 0 {
		return 0
	}
	return dot / (math.Sqrt(normA) * math.Sqrt(normB))
}
