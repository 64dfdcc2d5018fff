package api

import (
	"encoding/json"
	"fmt"
	"net/http"

	"github.com/go-chi/chi/v5"
)

// StartRequest selects which library items a conversion job covers.
// Exactly one selector is used: explicit keys win over a collection, which
// wins over the recent-items default.
type StartRequest struct {
	ItemKeys      []string `json:"item_keys"`
	CollectionKey string   `json:"collection_key"`
	Limit         int      `json:"limit"`
	Force         bool     `json:"force"`
	Recent        bool     `json:"recent"`
}

func (s *Server) handleStartJob(w http.ResponseWriter, r *http.Request) {
	r.Body = http.MaxBytesReader(w, r.Body, 1<<20)

	var req StartRequest
	if err := json.NewDecoder(r.Body).Decode(&req); err != nil {
		jsonError(w, "invalid request body: "+err.Error(), http.StatusBadRequest)
		return
	}
	if len(req.ItemKeys) == 0 && req.CollectionKey == "" && !req.Recent {
		jsonError(w, "one of item_keys, collection_key or recent is required", http.StatusBadRequest)
		return
	}

	job := s.orchestrator.NewJob()
	job.ItemKeys = req.ItemKeys
	job.CollectionKey = req.CollectionKey
	job.Limit = req.Limit
	job.Force = req.Force

	if err := s.orchestrator.Submit(job); err != nil {
		jsonError(w, err.Error(), http.StatusServiceUnavailable)
		return
	}

	w.Header().Set("Content-Type", "application/json")
	w.WriteHeader(http.StatusAccepted)
	json.NewEncoder(w).Encode(map[string]any{
		"job_id":   job.ID,
		"status":   job.Snapshot().Status,
		"poll_url": fmt.Sprintf("/api/jobs/%s", job.ID),
	})
}

func (s *Server) handleJobStatus(w http.ResponseWriter, r *http.Request) {
	jobID := chi.URLParam(r, "jobID")
	job := s.orchestrator.GetJob(jobID)
	if job == nil {
		jsonError(w, "job not found", http.StatusNotFound)
		return
	}
	w.Header().Set("Content-Type", "application/json")
	json.NewEncoder(w).Encode(job.Snapshot())
}

func (s *Server) handleListJobs(w http.ResponseWriter, r *http.Request) {
	w.Header().Set("Content-Type", "application/json")
	json.NewEncoder(w).Encode(map[string]any{
		"jobs":        s.orchestrator.ListJobs(),
		"queue_depth": s.orchestrator.QueueDepth(),
	})
}

func (s *Server) handleCancelJob(w http.ResponseWriter, r *http.Request) {
	jobID := chi.URLParam(r, "jobID")
	if err := s.orchestrator.CancelJob(jobID); err != nil {
		jsonError(w, err.Error(), http.StatusNotFound)
		return
	}
	w.Header().Set("Content-Type", "application/json")
	json.NewEncoder(w).Encode(map[string]string{"job_id": jobID, "status": "cancelled"})
}

func (s *Server) handleItemContent(w http.ResponseWriter, r *http.Request) {
	itemKey := chi.URLParam(r, "itemKey")
	content, err := s.orchestrator.ContentWorker().Content(r.Context(), itemKey)
	if err != nil {
		jsonError(w, err.Error(), http.StatusNotFound)
		return
	}
	w.Header().Set("Content-Type", "application/json")
	json.NewEncoder(w).Encode(map[string]string{
		"item_key": itemKey,
		"content":  content,
	})
}

func jsonError(w http.ResponseWriter, msg string, code int) {
	w.Header().Set("Content-Type", "application/json")
	w.WriteHeader(code)
	json.NewEncoder(w).Encode(map[string]string{"error": msg})
}
