// Package service wires the ingestion and query pipeline: extractor
// output through the chunker into the vector store, and query strings
// through the embedder into search.
package service

import (
	"context"
	"fmt"
	"os"
	"path/filepath"
	"strings"
	"sync"

	"github.com/google/uuid"

	"semrag/internal/domain"
	"semrag/internal/extract"
)

// Service is the pipeline implementation. Ingests are serialized with a
// mutex because the store mutates its index, ID list and sidecar as
// separate steps; queries may run concurrently with each other.
type Service struct {
	chunker  domain.Chunker
	store    domain.VectorStore
	embedder domain.Embedder

	ingestMu sync.Mutex
}

var _ domain.Pipeline = (*Service)(nil)

// New creates the pipeline. embedder is the storage-space embedder, also
// used for queries.
func New(chunker domain.Chunker, store domain.VectorStore, embedder domain.Embedder) *Service {
	return &Service{chunker: chunker, store: store, embedder: embedder}
}

// NewDocID returns a fresh document ID (a dashless UUID).
func NewDocID() string {
	return strings.ReplaceAll(uuid.NewString(), "-", "")
}

// IngestText chunks cleaned text and upserts the result. It returns the
// number of chunks indexed. Empty text indexes nothing and is not an
// error.
func (s *Service) IngestText(ctx context.Context, text, docID string, baseMeta domain.Metadata) (int, error) {
	if docID == "" {
		return 0, fmt.Errorf("service: empty doc ID")
	}
	items, err := s.chunker.Process(ctx, text, docID, baseMeta)
	if err != nil {
		return 0, fmt.Errorf("service: chunk %s: %w", docID, err)
	}
	if len(items) == 0 {
		return 0, nil
	}

	s.ingestMu.Lock()
	defer s.ingestMu.Unlock()
	if err := s.store.Upsert(items); err != nil {
		return 0, fmt.Errorf("service: upsert %s: %w", docID, err)
	}
	return len(items), nil
}

// IngestPDF extracts a PDF, assigns it a fresh document ID and ingests
// the cleaned text. It returns the assigned ID and the chunk count.
func (s *Service) IngestPDF(ctx context.Context, pdfBytes []byte) (string, int, error) {
	docID := NewDocID()
	res, err := extract.FromPDF(pdfBytes, docID)
	if err != nil {
		return "", 0, err
	}
	n, err := s.IngestText(ctx, res.Text, docID, res.Meta)
	return docID, n, err
}

// IngestFiles ingests .txt and .pdf files, expanding glob patterns. It
// returns the number of documents and chunks indexed.
func (s *Service) IngestFiles(ctx context.Context, paths []string) (docs, chunks int, err error) {
	var files []string
	for _, p := range paths {
		matches, _ := filepath.Glob(p)
		if matches == nil {
			matches = []string{p}
		}
		files = append(files, matches...)
	}

	for _, f := range files {
		var n int
		switch strings.ToLower(filepath.Ext(f)) {
		case ".txt":
			data, err := os.ReadFile(f)
			if err != nil {
				return docs, chunks, fmt.Errorf("service: read %s: %w", f, err)
			}
			docID := NewDocID()
			res := extract.FromText(string(data), docID, 0)
			res.Meta["source"] = f
			if n, err = s.IngestText(ctx, res.Text, docID, res.Meta); err != nil {
				return docs, chunks, err
			}
		case ".pdf":
			data, err := os.ReadFile(f)
			if err != nil {
				return docs, chunks, fmt.Errorf("service: read %s: %w", f, err)
			}
			if _, n, err = s.IngestPDF(ctx, data); err != nil {
				return docs, chunks, fmt.Errorf("service: ingest %s: %w", f, err)
			}
		default:
			continue
		}
		docs++
		chunks += n
	}
	if docs == 0 {
		return 0, 0, fmt.Errorf("service: no .txt or .pdf documents found")
	}
	return docs, chunks, nil
}

// Query embeds the query string and returns the topK nearest chunks.
func (s *Service) Query(ctx context.Context, query string, topK int) ([]domain.SearchResult, error) {
	return s.store.SearchByText(ctx, query, s.embedder, topK)
}
