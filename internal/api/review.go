package api

import (
	"errors"
	"net/http"

	"github.com/go-chi/chi/v5"

	"github.com/kalambet/curio/internal/artifact"
	"github.com/kalambet/curio/internal/storage"
)

func handleListRuns(deps Deps) http.HandlerFunc {
	return func(w http.ResponseWriter, r *http.Request) {
		runs, err := deps.Store.ListRuns(parseIntParam(r, "limit", 20, 200))
		if err != nil {
			httpError(w, http.StatusInternalServerError, "api_error", "failed to list runs: %v", err)
			return
		}
		if runs == nil {
			runs = []storage.Run{}
		}
		writeJSON(w, http.StatusOK, runs)
	}
}

func handleGetRunTrace(deps Deps) http.HandlerFunc {
	return func(w http.ResponseWriter, r *http.Request) {
		trace, err := deps.Store.GetRunTrace(chi.URLParam(r, "id"))
		if err != nil {
			httpError(w, http.StatusInternalServerError, "api_error", "failed to get run: %v", err)
			return
		}
		if trace == nil {
			httpError(w, http.StatusNotFound, "not_found", "run not found")
			return
		}
		writeJSON(w, http.StatusOK, trace)
	}
}

// artifactView is an artifact with its payload decoded by (agent, kind).
type artifactView struct {
	storage.Artifact
	Payload any `json:"payload,omitempty"`
}

func viewArtifact(a storage.Artifact) artifactView {
	v := artifactView{Artifact: a}
	if payload, err := artifact.DecodeContent(a.Agent, a.Kind, a.Content); err == nil {
		v.Payload = payload
	}
	return v
}

// handleListArtifacts lists the day's inbox (proposed, the default) or its
// active (approved) artifacts.
func handleListArtifacts(deps Deps) http.HandlerFunc {
	return func(w http.ResponseWriter, r *http.Request) {
		day, err := dayParam(r)
		if err != nil {
			httpError(w, http.StatusBadRequest, "invalid_request_error", "%v", err)
			return
		}

		var list []storage.Artifact
		switch status := r.URL.Query().Get("status"); status {
		case "", string(storage.ArtifactProposed):
			list, err = deps.Store.ListInboxArtifacts(day)
		case string(storage.ArtifactApproved):
			list, err = deps.Store.ListActiveArtifacts(day)
		default:
			httpError(w, http.StatusBadRequest, "invalid_request_error", "status must be proposed or approved")
			return
		}
		if err != nil {
			httpError(w, http.StatusInternalServerError, "api_error", "failed to list artifacts: %v", err)
			return
		}

		views := make([]artifactView, len(list))
		for i, a := range list {
			views[i] = viewArtifact(a)
		}
		writeJSON(w, http.StatusOK, views)
	}
}

func handleCountArtifacts(deps Deps) http.HandlerFunc {
	return func(w http.ResponseWriter, r *http.Request) {
		day, err := dayParam(r)
		if err != nil {
			httpError(w, http.StatusBadRequest, "invalid_request_error", "%v", err)
			return
		}
		counts, err := deps.Store.CountArtifactsByStatus(day)
		if err != nil {
			httpError(w, http.StatusInternalServerError, "api_error", "failed to count artifacts: %v", err)
			return
		}
		writeJSON(w, http.StatusOK, counts)
	}
}

func handleGetArtifact(deps Deps) http.HandlerFunc {
	return func(w http.ResponseWriter, r *http.Request) {
		a, err := deps.Store.GetArtifact(chi.URLParam(r, "id"))
		if errors.Is(err, storage.ErrNotFound) {
			httpError(w, http.StatusNotFound, "not_found", "artifact not found")
			return
		}
		if err != nil {
			httpError(w, http.StatusInternalServerError, "api_error", "failed to get artifact: %v", err)
			return
		}
		writeJSON(w, http.StatusOK, viewArtifact(a))
	}
}

// handleReviewArtifact approves or rejects an artifact. A missing or
// already reviewed artifact is a no-op reported as changed=false.
func handleReviewArtifact(deps Deps, approve bool) http.HandlerFunc {
	return func(w http.ResponseWriter, r *http.Request) {
		id := chi.URLParam(r, "id")
		review := deps.Store.RejectArtifact
		if approve {
			review = deps.Store.ApproveArtifact
		}
		changed, err := review(id)
		if err != nil {
			httpError(w, http.StatusInternalServerError, "api_error", "failed to review artifact: %v", err)
			return
		}
		writeJSON(w, http.StatusOK, map[string]any{"id": id, "changed": changed})
	}
}

func handleListReports(deps Deps) http.HandlerFunc {
	return func(w http.ResponseWriter, r *http.Request) {
		reports, err := deps.Store.ListReports(r.URL.Query().Get("day"), parseIntParam(r, "limit", 20, 100))
		if err != nil {
			httpError(w, http.StatusInternalServerError, "api_error", "failed to list reports: %v", err)
			return
		}
		writeJSON(w, http.StatusOK, reports)
	}
}

func handleGetReport(deps Deps) http.HandlerFunc {
	return func(w http.ResponseWriter, r *http.Request) {
		report, err := deps.Store.GetReport(chi.URLParam(r, "id"))
		if errors.Is(err, storage.ErrNotFound) {
			httpError(w, http.StatusNotFound, "not_found", "report not found")
			return
		}
		if err != nil {
			httpError(w, http.StatusInternalServerError, "api_error", "failed to get report: %v", err)
			return
		}
		if r.URL.Query().Get("format") == "markdown" {
			w.Header().Set("Content-Type", "text/markdown; charset=utf-8")
			w.Write([]byte(report.Content))
			return
		}
		writeJSON(w, http.StatusOK, report)
	}
}
