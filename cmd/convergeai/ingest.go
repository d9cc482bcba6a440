package main

import (
	"context"
	"fmt"
	"io/fs"
	"os"
	"path/filepath"
	"strings"
	"sync/atomic"

	"github.com/spf13/cobra"
	"go.uber.org/zap"
	"golang.org/x/sync/errgroup"
	"gopkg.in/yaml.v3"

	"convergeai/internal/embedding"
	"convergeai/internal/types"
)

var (
	ingestNamespace string
	ingestBatch     int
	ingestChunkLen  int
)

var ingestCmd = &cobra.Command{
	Use:   "ingest [dir]",
	Short: "Embed policy and service documents into the vector store",
	Long: `Walks a directory of reference documents and loads them into the
retrieval index. YAML files carry a "documents" list (id, topic, text);
.md and .txt files are taken whole. Text is chunked on paragraph
boundaries, embedded in batches, and upserted under one namespace.

Example document file:

  documents:
    - id: cancellation-policy
      topic: cancellation
      text: |
        Cancellations more than 4 hours before the slot refund in full. ...`,
	Args: cobra.ExactArgs(1),
	RunE: runIngest,
}

func init() {
	ingestCmd.Flags().StringVar(&ingestNamespace, "namespace", "", "Target namespace (default: retrieval.policy_namespace)")
	ingestCmd.Flags().IntVar(&ingestBatch, "batch", 32, "Chunks per embedding call")
	ingestCmd.Flags().IntVar(&ingestChunkLen, "chunk-len", 1200, "Maximum chunk length in runes")
}

// ingestDocument is one reference document before chunking.
type ingestDocument struct {
	ID    string `yaml:"id"`
	Topic string `yaml:"topic"`
	Text  string `yaml:"text"`

	source string
}

type ingestFile struct {
	Documents []ingestDocument `yaml:"documents"`
}

func runIngest(cmd *cobra.Command, args []string) error {
	a, err := newApp(configPath)
	if err != nil {
		return err
	}
	defer a.Close()

	cfg := a.cfg.Current()
	namespace := ingestNamespace
	if namespace == "" {
		namespace = cfg.Retrieval.PolicyNamespace
	}

	docs, err := loadDocuments(args[0])
	if err != nil {
		return err
	}
	if len(docs) == 0 {
		return fmt.Errorf("no documents found under %s", args[0])
	}

	chunks := buildChunks(docs, ingestChunkLen)
	if len(chunks) == 0 {
		return fmt.Errorf("documents under %s contain no text", args[0])
	}

	// Documents get their own engine instance: the genai provider embeds
	// corpus text with a different task type than queries.
	embedder, err := embedding.NewEngine(embedding.Config{
		Provider:       cfg.Embedding.Provider,
		OllamaEndpoint: cfg.Embedding.OllamaEndpoint,
		OllamaModel:    cfg.Embedding.OllamaModel,
		GenAIAPIKey:    cfg.Embedding.GenAIAPIKey,
		GenAIModel:     cfg.Embedding.GenAIModel,
		TaskType:       embedding.SelectTaskType(embedding.ContentTypePolicy, false),
		Dimensions:     cfg.Embedding.Dimensions,
	})
	if err != nil {
		return err
	}

	batch := ingestBatch
	if batch <= 0 {
		batch = 32
	}

	var stored atomic.Int64
	g, ctx := errgroup.WithContext(cmd.Context())
	g.SetLimit(4)
	for start := 0; start < len(chunks); start += batch {
		end := start + batch
		if end > len(chunks) {
			end = len(chunks)
		}
		part := chunks[start:end]
		g.Go(func() error {
			texts := make([]string, len(part))
			for i, c := range part {
				texts[i] = c.Text
			}
			embs, err := embedder.EmbedBatch(ctx, texts)
			if err != nil {
				return fmt.Errorf("embed batch at %s: %w", part[0].ID, err)
			}
			if err := a.vectors.Upsert(ctx, namespace, part, embs); err != nil {
				return fmt.Errorf("upsert batch at %s: %w", part[0].ID, err)
			}
			stored.Add(int64(len(part)))
			return nil
		})
	}
	if err := g.Wait(); err != nil {
		return err
	}

	total, err := a.vectors.Count(context.Background(), namespace)
	if err != nil {
		total = -1
	}
	logger.Info("Ingest complete",
		zap.Int("documents", len(docs)),
		zap.Int64("chunks", stored.Load()),
		zap.String("namespace", namespace),
		zap.Int("namespace_total", total),
	)
	fmt.Printf("Ingested %d chunks from %d documents into %q (namespace now holds %d)\n",
		stored.Load(), len(docs), namespace, total)
	return nil
}

// loadDocuments walks dir collecting YAML document files and plain text.
func loadDocuments(dir string) ([]ingestDocument, error) {
	var docs []ingestDocument
	err := filepath.WalkDir(dir, func(path string, d fs.DirEntry, err error) error {
		if err != nil {
			return err
		}
		if d.IsDir() {
			return nil
		}
		switch strings.ToLower(filepath.Ext(path)) {
		case ".yaml", ".yml":
			raw, err := os.ReadFile(path)
			if err != nil {
				return err
			}
			var f ingestFile
			if err := yaml.Unmarshal(raw, &f); err != nil {
				return fmt.Errorf("parse %s: %w", path, err)
			}
			for _, doc := range f.Documents {
				if doc.ID == "" {
					return fmt.Errorf("%s: document without id", path)
				}
				doc.source = filepath.Base(path)
				docs = append(docs, doc)
			}
		case ".md", ".txt":
			raw, err := os.ReadFile(path)
			if err != nil {
				return err
			}
			base := filepath.Base(path)
			docs = append(docs, ingestDocument{
				ID:     strings.TrimSuffix(base, filepath.Ext(base)),
				Text:   string(raw),
				source: base,
			})
		}
		return nil
	})
	if err != nil {
		return nil, fmt.Errorf("walk %s: %w", dir, err)
	}
	return docs, nil
}

// buildChunks splits every document and stamps chunk ids and metadata.
func buildChunks(docs []ingestDocument, maxLen int) []types.PolicyChunk {
	var chunks []types.PolicyChunk
	for _, doc := range docs {
		label := embedding.DetectContentType(doc.Text, map[string]string{"type": doc.Topic})
		for i, text := range chunkText(doc.Text, maxLen) {
			meta := map[string]string{
				"source":       doc.source,
				"content_type": string(label),
			}
			if doc.Topic != "" {
				meta["topic"] = doc.Topic
			}
			chunks = append(chunks, types.PolicyChunk{
				ID:       fmt.Sprintf("%s-%d", doc.ID, i),
				Text:     text,
				Metadata: meta,
			})
		}
	}
	return chunks
}

// chunkText packs paragraphs into chunks of at most maxLen runes; a single
// paragraph longer than maxLen is hard-split.
func chunkText(text string, maxLen int) []string {
	if maxLen <= 0 {
		maxLen = 1200
	}

	var pieces [][]rune
	for _, p := range strings.Split(text, "\n\n") {
		p = strings.TrimSpace(p)
		if p == "" {
			continue
		}
		runes := []rune(p)
		for len(runes) > maxLen {
			pieces = append(pieces, runes[:maxLen])
			runes = runes[maxLen:]
		}
		if len(runes) > 0 {
			pieces = append(pieces, runes)
		}
	}

	var chunks []string
	var cur []rune
	for _, p := range pieces {
		if len(cur) > 0 && len(cur)+len(p)+2 > maxLen {
			chunks = append(chunks, string(cur))
			cur = nil
		}
		if len(cur) > 0 {
			cur = append(cur, '\n', '\n')
		}
		cur = append(cur, p...)
	}
	if len(cur) > 0 {
		chunks = append(chunks, string(cur))
	}
	return chunks
}
