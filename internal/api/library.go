package api

import (
	"context"
	"encoding/json"
	"errors"
	"net/http"
	"strings"
	"time"

	"github.com/go-chi/chi/v5"

	"github.com/kalambet/curio/internal/curator"
	"github.com/kalambet/curio/internal/jobs"
	"github.com/kalambet/curio/internal/storage"
)

const maxIngestBodySize = 10 << 20 // 10MB

type IngestRequest struct {
	Title   string   `json:"title"`
	Source  string   `json:"source"`
	Content string   `json:"content"`
	URL     string   `json:"url"`
	Tags    []string `json:"tags"`
}

type IngestResponse struct {
	ID      string `json:"id"`
	Created bool   `json:"created"`
	Status  string `json:"status"`
}

// ingestDocument stores a document in the vault and queues its embedding.
// When only a URL is given the page is fetched and its text extracted.
func ingestDocument(ctx context.Context, deps Deps, req IngestRequest) (IngestResponse, error) {
	if req.Content == "" && req.URL != "" {
		if deps.Fetcher == nil {
			return IngestResponse{}, errors.New("url ingestion is not configured")
		}
		fetchCtx, cancel := context.WithTimeout(ctx, 30*time.Second)
		defer cancel()
		page, err := deps.Fetcher.Fetch(fetchCtx, req.URL)
		if err != nil {
			return IngestResponse{}, err
		}
		req.Content = page.Text
		if req.Title == "" {
			req.Title = page.Title
		}
	}
	if req.Source == "" {
		req.Source = req.URL
	}
	if req.Title == "" {
		req.Title = req.Source
	}

	res, err := deps.Store.InsertDocument(req.Title, req.Source, req.Content)
	if err != nil {
		return IngestResponse{}, err
	}
	if !res.Created {
		return IngestResponse{ID: res.ID, Status: "duplicate"}, nil
	}

	if tags := curator.NormalizeTags(req.Tags); len(tags) > 0 {
		if err := deps.Store.SetDocumentTags(res.ID, tags); err != nil {
			return IngestResponse{}, err
		}
	}
	if err := jobs.EnqueueEnrich(deps.Store, res.ID); err != nil {
		return IngestResponse{}, err
	}
	return IngestResponse{ID: res.ID, Created: true, Status: "queued"}, nil
}

func handleIngest(deps Deps) http.HandlerFunc {
	return func(w http.ResponseWriter, r *http.Request) {
		r.Body = http.MaxBytesReader(w, r.Body, maxIngestBodySize)
		defer r.Body.Close()

		var req IngestRequest
		if err := json.NewDecoder(r.Body).Decode(&req); err != nil {
			httpError(w, http.StatusBadRequest, "invalid_request_error", "invalid request body: %v", err)
			return
		}
		if strings.TrimSpace(req.Content) == "" && req.URL == "" {
			httpError(w, http.StatusBadRequest, "invalid_request_error", "at least one of content or url is required")
			return
		}

		resp, err := ingestDocument(r.Context(), deps, req)
		if err != nil {
			httpError(w, http.StatusBadGateway, "api_error", "failed to ingest document: %v", err)
			return
		}
		code := http.StatusCreated
		if !resp.Created {
			code = http.StatusOK
		}
		writeJSON(w, code, resp)
	}
}

func handleListDocuments(deps Deps) http.HandlerFunc {
	return func(w http.ResponseWriter, r *http.Request) {
		limit := parseIntParam(r, "limit", 20, 100)

		var docs []storage.Document
		var err error
		if tag := r.URL.Query().Get("tag"); tag != "" {
			docs, err = deps.Store.ListDocumentsByTag(strings.ToLower(tag), limit)
		} else {
			docs, err = deps.Store.ListRecentDocuments(limit)
		}
		if err != nil {
			httpError(w, http.StatusInternalServerError, "api_error", "failed to list documents: %v", err)
			return
		}
		if docs == nil {
			docs = []storage.Document{}
		}
		writeJSON(w, http.StatusOK, docs)
	}
}

func handleGetDocument(deps Deps) http.HandlerFunc {
	return func(w http.ResponseWriter, r *http.Request) {
		doc, err := deps.Store.GetDocument(chi.URLParam(r, "id"))
		if errors.Is(err, storage.ErrNotFound) {
			httpError(w, http.StatusNotFound, "not_found", "document not found")
			return
		}
		if err != nil {
			httpError(w, http.StatusInternalServerError, "api_error", "failed to get document: %v", err)
			return
		}
		writeJSON(w, http.StatusOK, doc)
	}
}

func handleDeleteDocument(deps Deps) http.HandlerFunc {
	return func(w http.ResponseWriter, r *http.Request) {
		id := chi.URLParam(r, "id")

		if deps.Index != nil {
			if err := deps.Index.Remove(r.Context(), id); err != nil {
				httpError(w, http.StatusInternalServerError, "api_error", "failed to remove document vector: %v", err)
				return
			}
		}

		err := deps.Store.DeleteDocument(id)
		if errors.Is(err, storage.ErrNotFound) {
			httpError(w, http.StatusNotFound, "not_found", "document not found")
			return
		}
		if err != nil {
			httpError(w, http.StatusInternalServerError, "api_error", "failed to delete document: %v", err)
			return
		}
		writeJSON(w, http.StatusOK, map[string]string{"status": "deleted"})
	}
}

type watchSourceRequest struct {
	URL                string `json:"url"`
	Label              string `json:"label"`
	Kind               string `json:"kind"`
	CheckIntervalHours int    `json:"check_interval_hours"`
}

func handleListWatchSources(deps Deps) http.HandlerFunc {
	return func(w http.ResponseWriter, r *http.Request) {
		items, err := deps.Store.ListWatchSources()
		if err != nil {
			httpError(w, http.StatusInternalServerError, "api_error", "failed to list watchlist: %v", err)
			return
		}
		if items == nil {
			items = []storage.SourceWatchItem{}
		}
		writeJSON(w, http.StatusOK, items)
	}
}

func handleAddWatchSource(deps Deps) http.HandlerFunc {
	return func(w http.ResponseWriter, r *http.Request) {
		var req watchSourceRequest
		if !decodeBody(w, r, &req) {
			return
		}
		if req.URL == "" {
			httpError(w, http.StatusBadRequest, "invalid_request_error", "url is required")
			return
		}
		item, err := deps.Store.AddWatchSource(req.URL, req.Label, req.Kind, req.CheckIntervalHours)
		if err != nil {
			httpError(w, http.StatusBadRequest, "invalid_request_error", "%v", err)
			return
		}
		writeJSON(w, http.StatusCreated, item)
	}
}

func handleUpdateWatchSource(deps Deps) http.HandlerFunc {
	return func(w http.ResponseWriter, r *http.Request) {
		var patch storage.WatchSourcePatch
		if !decodeBody(w, r, &patch) {
			return
		}
		item, err := deps.Store.UpdateWatchSource(chi.URLParam(r, "id"), patch)
		if errors.Is(err, storage.ErrNotFound) {
			httpError(w, http.StatusNotFound, "not_found", "watch source not found")
			return
		}
		if err != nil {
			httpError(w, http.StatusBadRequest, "invalid_request_error", "%v", err)
			return
		}
		writeJSON(w, http.StatusOK, item)
	}
}

func handleDeleteWatchSource(deps Deps) http.HandlerFunc {
	return func(w http.ResponseWriter, r *http.Request) {
		err := deps.Store.DeleteWatchSource(chi.URLParam(r, "id"))
		if errors.Is(err, storage.ErrNotFound) {
			httpError(w, http.StatusNotFound, "not_found", "watch source not found")
			return
		}
		if err != nil {
			httpError(w, http.StatusInternalServerError, "api_error", "failed to delete watch source: %v", err)
			return
		}
		writeJSON(w, http.StatusOK, map[string]string{"status": "deleted"})
	}
}

// handleCheckoutWatchSources claims due sources. Claimed sources are not
// due again until their interval elapses.
func handleCheckoutWatchSources(deps Deps) http.HandlerFunc {
	return func(w http.ResponseWriter, r *http.Request) {
		items, err := deps.Store.CheckoutDueSources(parseIntParam(r, "limit", 8, 100))
		if err != nil {
			httpError(w, http.StatusInternalServerError, "api_error", "failed to check out sources: %v", err)
			return
		}
		if items == nil {
			items = []storage.SourceWatchItem{}
		}
		writeJSON(w, http.StatusOK, items)
	}
}
