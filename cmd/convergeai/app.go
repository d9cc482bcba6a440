package main

import (
	"fmt"

	"convergeai/internal/agent"
	"convergeai/internal/audit"
	"convergeai/internal/catalog"
	"convergeai/internal/config"
	"convergeai/internal/coordinator"
	"convergeai/internal/embedding"
	"convergeai/internal/llm"
	"convergeai/internal/logging"
	"convergeai/internal/ops"
	"convergeai/internal/perception"
	"convergeai/internal/retrieval"
	"convergeai/internal/store"
	"convergeai/internal/types"
	"convergeai/internal/workflow"
)

// app holds the wired dependency graph every command runs against. One-shot
// commands use the watcher's startup snapshot; serve calls cfg.Start() so
// edits to the config file take effect live.
type app struct {
	cfg      *config.Watcher
	st       *store.Store
	llm      types.LLMClient
	embedder embedding.EmbeddingEngine
	vectors  *store.VectorIndex

	coord     *coordinator.Coordinator
	projector *ops.Projector
	alerts    *ops.Engine
}

// newApp opens the store and builds the full pipeline from the config file.
func newApp(path string) (*app, error) {
	cfgw, err := config.NewWatcher(path, 0)
	if err != nil {
		return nil, fmt.Errorf("load config %s: %w", path, err)
	}
	cfg := cfgw.Current()

	if err := logging.Initialize(cfg.Logging.Dir, cfg.Logging.Level, cfg.Logging.Categories); err != nil {
		return nil, fmt.Errorf("initialize logging: %w", err)
	}

	st, err := store.New(cfg.Database.Path)
	if err != nil {
		return nil, fmt.Errorf("open store %s: %w", cfg.Database.Path, err)
	}

	client, err := llm.New(cfg.LLM)
	if err != nil {
		st.Close()
		return nil, err
	}

	embedder, err := embedding.NewEngine(embedding.Config{
		Provider:       cfg.Embedding.Provider,
		OllamaEndpoint: cfg.Embedding.OllamaEndpoint,
		OllamaModel:    cfg.Embedding.OllamaModel,
		GenAIAPIKey:    cfg.Embedding.GenAIAPIKey,
		GenAIModel:     cfg.Embedding.GenAIModel,
		TaskType:       embedding.SelectTaskType(embedding.ContentTypeQuery, true),
		Dimensions:     cfg.Embedding.Dimensions,
	})
	if err != nil {
		st.Close()
		return nil, err
	}

	vectors := st.Vectors(embedder.Dimensions())
	retriever := retrieval.NewEngine(embedder, vectors, cfg.Retrieval.TopK)
	svc := catalog.NewService(st.Catalog(), cfg.CatalogCacheTTL())
	rec := audit.NewRecorder(st.Audit())

	engine := workflow.NewEngine(
		workflow.NewBookingMachine(svc, nil),
		workflow.NewCancellationMachine(st.Bookings(), func() config.RefundSchedule {
			return cfgw.Current().Policies.Refund
		}, nil),
		workflow.NewComplaintMachine(st.Bookings()),
	)
	agents := agent.NewRuntime(
		agent.NewBookingAgent(engine, svc, st.Bookings(), cfgw, rec, nil),
		agent.NewComplaintAgent(engine, st.Complaints(), cfgw, rec, nil),
		agent.NewDiscoveryAgent(svc),
		agent.NewPolicyAgent(retriever, client, cfgw),
	)
	classifier := perception.NewClassifier(svc, client)

	return &app{
		cfg:       cfgw,
		st:        st,
		llm:       client,
		embedder:  embedder,
		vectors:   vectors,
		coord:     coordinator.New(st.Sessions(), agents, classifier, cfgw, rec),
		projector: ops.NewProjector(st.Complaints(), st.Bookings(), cfgw, rec, nil),
		alerts:    ops.NewEngine(st.Alerts(), st.Complaints(), cfgw, rec, nil),
	}, nil
}

// Close releases the store and stops the config watcher if it was started.
func (a *app) Close() {
	a.cfg.Stop()
	if err := a.st.Close(); err != nil {
		logging.Get(logging.CategoryStore).Error("close store: %v", err)
	}
	logging.CloseAll()
}
