package cmd

import (
	"context"
	"fmt"
	"log/slog"
	"os"
	"path/filepath"

	"github.com/tearags/tearagsd/internal/config"
	embed "github.com/tearags/tearagsd/internal/embedder"
	"github.com/tearags/tearagsd/internal/orchestrator"
	"github.com/tearags/tearagsd/internal/vectorstore"
)

// resolveCodebase turns a CLI-provided path into an absolute codebase root,
// preferring the nearest ancestor carrying a .tearagsd.yaml when one exists.
func resolveCodebase(path string) (string, error) {
	abs, err := filepath.Abs(path)
	if err != nil {
		return "", fmt.Errorf("resolve path: %w", err)
	}
	if root, err := config.FindProjectRoot(abs); err == nil {
		return root, nil
	}
	return abs, nil
}

// loadConfig loads .tearagsd.yaml from root, falling back to built-in
// defaults when none is present.
func loadConfig(root string) *config.Config {
	cfg, err := config.Load(root)
	if err != nil {
		return config.NewConfig()
	}
	return cfg
}

// buildEmbedder constructs the embedding collaborator named by
// cfg.Embeddings.Provider, wrapping it in an LRU cache when configured.
func buildEmbedder(ctx context.Context, cfg *config.Config, offline bool) (embed.Embedder, error) {
	if offline {
		return embed.NewStaticEmbedder768(), nil
	}

	var inner embed.Embedder
	switch provider := embed.ParseProvider(cfg.Embeddings.Provider); provider {
	case embed.ProviderStatic:
		inner = embed.NewStaticEmbedder768()
	case embed.ProviderOllama:
		o, err := embed.NewOllamaEmbedder(ctx, embed.OllamaConfig{
			Host:       cfg.Embeddings.OllamaHost,
			Model:      cfg.Embeddings.Model,
			Dimensions: cfg.Embeddings.Dimensions,
			BatchSize:  cfg.Embeddings.BatchSize,
		})
		if err != nil {
			return nil, fmt.Errorf("ollama embedder: %w", err)
		}
		inner = o
	default:
		e, err := embed.NewEmbedder(ctx, provider, cfg.Embeddings.Model)
		if err != nil {
			return nil, fmt.Errorf("embedder: %w", err)
		}
		inner = e
	}

	if cfg.Embeddings.CacheSize > 0 {
		return embed.NewCachedEmbedder(inner, cfg.Embeddings.CacheSize), nil
	}
	return inner, nil
}

// buildStore constructs the vector store collaborator named by
// cfg.VectorStore.Backend.
func buildStore(cfg *config.Config) (vectorstore.Store, error) {
	switch cfg.VectorStore.Backend {
	case "memory":
		return vectorstore.NewMemStore(), nil
	default:
		store, err := vectorstore.NewQdrantStore(cfg.VectorStore.Host, cfg.VectorStore.Port, os.Getenv("TEARAGSD_QDRANT_API_KEY"), false)
		if err != nil {
			return nil, fmt.Errorf("qdrant store: %w", err)
		}
		return store, nil
	}
}

// newOrchestrator wires a config, embedder, and vector store together into
// a ready-to-use Orchestrator for the codebase rooted at path.
func newOrchestrator(ctx context.Context, path string, offline bool) (*orchestrator.Orchestrator, string, *config.Config, error) {
	root, err := resolveCodebase(path)
	if err != nil {
		return nil, "", nil, err
	}
	cfg := loadConfig(root)

	store, err := buildStore(cfg)
	if err != nil {
		return nil, "", nil, err
	}
	embedder, err := buildEmbedder(ctx, cfg, offline)
	if err != nil {
		return nil, "", nil, err
	}

	o, err := orchestrator.New(cfg, store, embedder, slog.Default())
	if err != nil {
		return nil, "", nil, fmt.Errorf("orchestrator: %w", err)
	}
	return o, root, cfg, nil
}
