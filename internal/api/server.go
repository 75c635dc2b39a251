// Package api exposes the ingestion and query pipeline over HTTP. The
// handlers are thin: extraction, chunking and storage all happen in the
// service layer.
package api

import (
	"context"
	"encoding/json"
	"errors"
	"io"
	"log/slog"
	"net/http"
	"time"

	"semrag/internal/domain"
	"semrag/internal/extract"
	"semrag/internal/service"
)

// maxUploadBytes caps upload bodies.
const maxUploadBytes = 32 << 20

// Pipeline is the API-facing subset of the service.
type Pipeline interface {
	IngestText(ctx context.Context, text, docID string, baseMeta domain.Metadata) (int, error)
	IngestPDF(ctx context.Context, pdfBytes []byte) (string, int, error)
	Query(ctx context.Context, query string, topK int) ([]domain.SearchResult, error)
}

// Server handles the HTTP surface.
type Server struct {
	pipeline Pipeline
	logger   *slog.Logger
}

// NewServer creates a Server. A nil logger falls back to slog.Default.
func NewServer(pipeline Pipeline, logger *slog.Logger) *Server {
	if logger == nil {
		logger = slog.Default()
	}
	return &Server{pipeline: pipeline, logger: logger}
}

// Routes registers all handlers on a fresh mux.
func (s *Server) Routes() *http.ServeMux {
	mux := http.NewServeMux()
	mux.HandleFunc("/health", s.handleHealth)
	mux.HandleFunc("/upload", s.handleUpload)
	mux.HandleFunc("/upload-pdf", s.handleUploadPDF)
	mux.HandleFunc("/query", s.handleQuery)
	return mux
}

type uploadResponse struct {
	DocID         string `json:"doc_id"`
	ChunksIndexed int    `json:"chunks_indexed"`
	Filename      string `json:"filename,omitempty"`
}

type queryRequest struct {
	Query string `json:"query"`
	TopK  int    `json:"top_k"`
}

type queryResult struct {
	ID       string          `json:"id"`
	Text     string          `json:"text"`
	Metadata domain.Metadata `json:"metadata"`
	Score    float32         `json:"score"`
}

func writeJSON(w http.ResponseWriter, status int, v any) {
	w.Header().Set("Content-Type", "application/json")
	w.WriteHeader(status)
	_ = json.NewEncoder(w).Encode(v)
}

func (s *Server) handleHealth(w http.ResponseWriter, r *http.Request) {
	if r.Method != http.MethodGet {
		http.Error(w, "method not allowed", http.StatusMethodNotAllowed)
		return
	}
	writeJSON(w, http.StatusOK, map[string]any{
		"ok":       true,
		"time_utc": time.Now().UTC().Format(time.RFC3339),
	})
}

// handleUpload ingests a raw text body. An optional doc_id query
// parameter overrides the generated document ID.
func (s *Server) handleUpload(w http.ResponseWriter, r *http.Request) {
	if r.Method != http.MethodPost {
		http.Error(w, "method not allowed", http.StatusMethodNotAllowed)
		return
	}
	r.Body = http.MaxBytesReader(w, r.Body, maxUploadBytes)
	body, err := io.ReadAll(r.Body)
	if err != nil {
		var tooLarge *http.MaxBytesError
		if errors.As(err, &tooLarge) {
			http.Error(w, "body too large", http.StatusRequestEntityTooLarge)
			return
		}
		http.Error(w, "failed to read body", http.StatusBadRequest)
		return
	}
	if len(body) == 0 {
		http.Error(w, "empty body", http.StatusBadRequest)
		return
	}

	docID := r.URL.Query().Get("doc_id")
	if docID == "" {
		docID = service.NewDocID()
	}
	res := extract.FromText(string(body), docID, 0)

	start := time.Now()
	n, err := s.pipeline.IngestText(r.Context(), res.Text, docID, res.Meta)
	if err != nil {
		s.logger.Error("upload failed", "doc_id", docID, "error", err)
		http.Error(w, "ingestion failed", http.StatusInternalServerError)
		return
	}
	s.logger.Info("document indexed", "doc_id", docID, "chunks", n, "took", time.Since(start))
	writeJSON(w, http.StatusOK, uploadResponse{DocID: docID, ChunksIndexed: n})
}

// handleUploadPDF ingests a PDF sent as multipart form field "file".
func (s *Server) handleUploadPDF(w http.ResponseWriter, r *http.Request) {
	if r.Method != http.MethodPost {
		http.Error(w, "method not allowed", http.StatusMethodNotAllowed)
		return
	}
	r.Body = http.MaxBytesReader(w, r.Body, maxUploadBytes)
	if err := r.ParseMultipartForm(maxUploadBytes); err != nil {
		var tooLarge *http.MaxBytesError
		if errors.As(err, &tooLarge) {
			http.Error(w, "body too large", http.StatusRequestEntityTooLarge)
			return
		}
		http.Error(w, "failed to parse form", http.StatusBadRequest)
		return
	}
	file, header, err := r.FormFile("file")
	if err != nil {
		http.Error(w, "missing file field", http.StatusBadRequest)
		return
	}
	defer file.Close()

	data, err := io.ReadAll(file)
	if err != nil {
		http.Error(w, "failed to read file", http.StatusBadRequest)
		return
	}

	start := time.Now()
	docID, n, err := s.pipeline.IngestPDF(r.Context(), data)
	if err != nil {
		s.logger.Error("pdf upload failed", "filename", header.Filename, "error", err)
		http.Error(w, "ingestion failed", http.StatusInternalServerError)
		return
	}
	s.logger.Info("pdf indexed", "doc_id", docID, "filename", header.Filename,
		"chunks", n, "took", time.Since(start))
	writeJSON(w, http.StatusOK, uploadResponse{DocID: docID, ChunksIndexed: n, Filename: header.Filename})
}

// handleQuery embeds the query string and returns the nearest chunks.
func (s *Server) handleQuery(w http.ResponseWriter, r *http.Request) {
	if r.Method != http.MethodPost {
		http.Error(w, "method not allowed", http.StatusMethodNotAllowed)
		return
	}
	var req queryRequest
	if err := json.NewDecoder(r.Body).Decode(&req); err != nil {
		http.Error(w, "invalid json", http.StatusBadRequest)
		return
	}
	if req.Query == "" {
		http.Error(w, "query is required", http.StatusBadRequest)
		return
	}
	if req.TopK == 0 {
		req.TopK = 8
	}
	if req.TopK < 1 {
		http.Error(w, "top_k must be at least 1", http.StatusBadRequest)
		return
	}

	results, err := s.pipeline.Query(r.Context(), req.Query, req.TopK)
	if err != nil {
		s.logger.Error("query failed", "error", err)
		http.Error(w, "query failed", http.StatusInternalServerError)
		return
	}
	out := make([]queryResult, len(results))
	for i, res := range results {
		out[i] = queryResult(res)
	}
	writeJSON(w, http.StatusOK, out)
}
