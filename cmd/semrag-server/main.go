package main

import (
	"flag"
	"fmt"
	"log"
	"log/slog"
	"net/http"
	"os"
	"path/filepath"

	"github.com/joho/godotenv"

	"semrag/internal/api"
	"semrag/internal/chunker"
	"semrag/internal/config"
	"semrag/internal/embedding"
	"semrag/internal/embedding/hash"
	"semrag/internal/embedding/openai"
	"semrag/internal/service"
	"semrag/internal/sidecar"
	"semrag/internal/vectorstore"
	"semrag/internal/vectorstore/flat"
)

func main() {
	_ = godotenv.Load()

	var cfgPath, addr string
	flag.StringVar(&cfgPath, "config", "", "Path to YAML config file (optional)")
	flag.StringVar(&addr, "addr", "", "Listen address (overrides config)")
	flag.Parse()

	var cfg *config.AppConfig
	var err error
	if cfgPath == "" {
		cfg, _, err = config.LoadDefault()
	} else {
		cfg, err = config.Load(cfgPath)
	}
	if err != nil {
		log.Fatalf("failed to load config: %v", err)
	}
	if addr == "" {
		addr = cfg.Server.Addr
	}

	boundary, err := buildEmbedder(cfg.Boundary)
	if err != nil {
		log.Fatalf("boundary embedder: %v", err)
	}
	storage, err := buildEmbedder(cfg.Storage)
	if err != nil {
		log.Fatalf("storage embedder: %v", err)
	}

	ch, err := chunker.NewSemantic(boundary, storage, chunker.Config{
		Policy:     chunker.Policy(cfg.Chunker.BreakpointType),
		Amount:     cfg.Chunker.BreakpointAmount,
		BufferSize: cfg.Chunker.BufferSize,
	})
	if err != nil {
		log.Fatalf("chunker init failed: %v", err)
	}

	store, err := buildStore(cfg.Store, storage.Dimension())
	if err != nil {
		log.Fatalf("vector store init failed: %v", err)
	}
	defer store.Close()
	if err := store.Load(); err != nil {
		log.Fatalf("vector store load failed: %v", err)
	}

	logger := slog.New(slog.NewTextHandler(os.Stderr, nil))
	svc := service.New(ch, store, storage)
	srv := api.NewServer(svc, logger)

	logger.Info("listening", "addr", addr, "store", cfg.Store.Dir,
		"metric", cfg.Store.Metric, "vectors", store.Count())
	if err := http.ListenAndServe(addr, srv.Routes()); err != nil {
		log.Fatal(err)
	}
}

func buildEmbedder(cfg config.EmbedderConfig) (embedding.Embedder, error) {
	switch cfg.Type {
	case "hash", "":
		return hash.New(cfg.Dimension), nil
	case "openai":
		key := os.Getenv(cfg.OpenAI.APIKeyEnv)
		if key == "" {
			return nil, fmt.Errorf("missing API key in env %s", cfg.OpenAI.APIKeyEnv)
		}
		opts := []openai.Option{
			openai.WithModel(cfg.OpenAI.Model),
			openai.WithDimension(cfg.OpenAI.Dimension),
		}
		if cfg.OpenAI.BaseURL != "" {
			opts = append(opts, openai.WithBaseURL(cfg.OpenAI.BaseURL))
		}
		return openai.New(key, opts...), nil
	default:
		return nil, fmt.Errorf("unknown embedder: %s", cfg.Type)
	}
}

func buildStore(cfg config.StoreConfig, dim int) (*flat.Store, error) {
	if err := os.MkdirAll(cfg.Dir, 0o755); err != nil {
		return nil, err
	}
	var side sidecar.Log
	var err error
	switch cfg.Sidecar {
	case "jsonl", "":
		side, err = sidecar.OpenJSONL(filepath.Join(cfg.Dir, "meta.jsonl"))
	case "bolt":
		side, err = sidecar.OpenBolt(filepath.Join(cfg.Dir, "meta.db"))
	default:
		return nil, fmt.Errorf("unknown sidecar backend: %s", cfg.Sidecar)
	}
	if err != nil {
		return nil, err
	}
	return flat.Open(cfg.Dir, dim, vectorstore.Metric(cfg.Metric), side)
}
