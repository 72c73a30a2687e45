package api

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"io"
	"net/http"
	"strconv"
	"time"

	"github.com/go-chi/chi/v5"

	"github.com/kalambet/curio/internal/curator"
	"github.com/kalambet/curio/internal/distill"
	"github.com/kalambet/curio/internal/fetch"
	"github.com/kalambet/curio/internal/flow"
	"github.com/kalambet/curio/internal/storage"
	"github.com/kalambet/curio/internal/webscout"
)

const maxRequestBodySize = 1 << 20 // 1MB

// FlowRunner is implemented by *flow.Orchestrator.
type FlowRunner interface {
	DistillFlow(ctx context.Context, in flow.DistillInput) (string, distill.Result, error)
	CurateFlow(ctx context.Context, in flow.CurateInput) (string, curator.Result, error)
	WebScoutFlow(ctx context.Context, opts webscout.Options) (string, webscout.Result, error)
	TopicReportFlow(ctx context.Context, in flow.TopicReportInput) (string, flow.TopicReportResult, error)
	DistillCurateFlow(ctx context.Context, in flow.DistillCurateInput) (string, flow.DistillCurateResult, error)

	StartDistillFlow(in flow.DistillInput) (string, error)
	StartCurateFlow(in flow.CurateInput) (string, error)
	StartWebScoutFlow(opts webscout.Options) (string, error)
	StartTopicReportFlow(in flow.TopicReportInput) (string, error)
	StartDistillCurateFlow(in flow.DistillCurateInput) (string, error)
}

// Fetcher downloads a URL for ingestion.
type Fetcher interface {
	Fetch(ctx context.Context, rawURL string) (fetch.Page, error)
}

// DocumentIndex abstracts vector cleanup for the API layer.
type DocumentIndex interface {
	Remove(ctx context.Context, documentID string) error
}

type Deps struct {
	Store   *storage.Store
	Flows   FlowRunner
	Fetcher Fetcher
	Index   DocumentIndex // optional; if nil, vector cleanup is skipped on delete
	Token   string
}

// NewHandler returns the HTTP API. Everything except /health requires the
// bearer token.
func NewHandler(deps Deps) http.Handler {
	r := chi.NewRouter()
	r.Get("/health", handleHealth)

	r.Group(func(r chi.Router) {
		r.Use(BearerAuth(deps.Token))

		r.Post("/flows/{name}", handleFlow(deps))

		r.Get("/runs", handleListRuns(deps))
		r.Get("/runs/{id}", handleGetRunTrace(deps))

		r.Get("/artifacts", handleListArtifacts(deps))
		r.Get("/artifacts/counts", handleCountArtifacts(deps))
		r.Get("/artifacts/{id}", handleGetArtifact(deps))
		r.Post("/artifacts/{id}/approve", handleReviewArtifact(deps, true))
		r.Post("/artifacts/{id}/reject", handleReviewArtifact(deps, false))

		r.Get("/reports", handleListReports(deps))
		r.Get("/reports/{id}", handleGetReport(deps))

		r.Post("/documents", handleIngest(deps))
		r.Get("/documents", handleListDocuments(deps))
		r.Get("/documents/{id}", handleGetDocument(deps))
		r.Delete("/documents/{id}", handleDeleteDocument(deps))

		r.Get("/watchlist", handleListWatchSources(deps))
		r.Post("/watchlist", handleAddWatchSource(deps))
		r.Post("/watchlist/checkout", handleCheckoutWatchSources(deps))
		r.Patch("/watchlist/{id}", handleUpdateWatchSource(deps))
		r.Delete("/watchlist/{id}", handleDeleteWatchSource(deps))
	})

	return r
}

func handleHealth(w http.ResponseWriter, r *http.Request) {
	writeJSON(w, http.StatusOK, map[string]string{"status": "ok"})
}

func writeJSON(w http.ResponseWriter, code int, v any) {
	w.Header().Set("Content-Type", "application/json")
	w.WriteHeader(code)
	json.NewEncoder(w).Encode(v)
}

func httpError(w http.ResponseWriter, code int, errType string, format string, args ...any) {
	w.Header().Set("Content-Type", "application/json")
	w.WriteHeader(code)
	msg := fmt.Sprintf(format, args...)
	json.NewEncoder(w).Encode(map[string]any{
		"error": map[string]any{
			"message": msg,
			"type":    errType,
		},
	})
}

// decodeBody decodes an optional JSON body into v. An empty body leaves v
// unchanged. It writes the error response and returns false on failure.
func decodeBody(w http.ResponseWriter, r *http.Request, v any) bool {
	r.Body = http.MaxBytesReader(w, r.Body, maxRequestBodySize)
	defer r.Body.Close()

	err := json.NewDecoder(r.Body).Decode(v)
	if err != nil && !errors.Is(err, io.EOF) {
		httpError(w, http.StatusBadRequest, "invalid_request_error", "invalid request body: %v", err)
		return false
	}
	return true
}

func parseIntParam(r *http.Request, key string, defaultVal, maxVal int) int {
	s := r.URL.Query().Get(key)
	if s == "" {
		return defaultVal
	}
	v, err := strconv.Atoi(s)
	if err != nil || v < 0 {
		return defaultVal
	}
	if maxVal > 0 && v > maxVal {
		return maxVal
	}
	return v
}

// dayParam returns the day query parameter, defaulting to today.
func dayParam(r *http.Request) (string, error) {
	day := r.URL.Query().Get("day")
	if day == "" {
		return time.Now().Format("2006-01-02"), nil
	}
	if _, err := time.Parse("2006-01-02", day); err != nil {
		return "", fmt.Errorf("day must be YYYY-MM-DD")
	}
	return day, nil
}
