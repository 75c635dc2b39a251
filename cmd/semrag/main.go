package main

import (
	"context"
	"flag"
	"fmt"
	"log"
	"os"
	"path/filepath"

	tea "github.com/charmbracelet/bubbletea"
	"github.com/joho/godotenv"

	"semrag/internal/chunker"
	"semrag/internal/config"
	"semrag/internal/embedding"
	"semrag/internal/embedding/hash"
	"semrag/internal/embedding/openai"
	"semrag/internal/service"
	"semrag/internal/sidecar"
	"semrag/internal/tui"
	"semrag/internal/vectorstore"
	"semrag/internal/vectorstore/flat"
)

func main() {
	_ = godotenv.Load()

	var cfgPath string
	flag.StringVar(&cfgPath, "config", "", "Path to YAML config file (optional; uses ~/.config/semrag/config.yaml if not provided)")
	flag.Parse()
	inputs := flag.Args()
	if len(inputs) == 0 {
		fmt.Println("Usage: semrag [--config=config.yaml] file1.txt [file2.pdf ...]")
		os.Exit(1)
	}

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

	svc := service.New(ch, store, storage)
	docs, chunks, err := svc.IngestFiles(context.Background(), inputs)
	if err != nil {
		log.Fatalf("ingest failed: %v", err)
	}

	header := fmt.Sprintf("%d document(s), %d chunk(s) indexed under %q (%s)",
		docs, chunks, cfg.Store.Dir, cfg.Store.Metric)
	m := tui.New(svc, header)
	if _, err := tea.NewProgram(m).Run(); err != nil {
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
