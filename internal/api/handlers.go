package api

import (
	"errors"
	"fmt"
	"io"
	"net/http"
	"strconv"
	"strings"

	"github.com/go-chi/chi/v5"

	"github.com/JakeFAU/batchcrawl/internal/batchfile"
	"github.com/JakeFAU/batchcrawl/internal/crawler"
	"github.com/JakeFAU/batchcrawl/internal/errclass"
	"github.com/JakeFAU/batchcrawl/internal/export"
	"github.com/JakeFAU/batchcrawl/internal/store"
)

const (
	defaultListLimit = 50
	maxListLimit     = 500
)

// batchView is a batch with its derived progress and, on detail reads, its items.
type batchView struct {
	crawler.BatchJob
	Progress  int                 `json:"progress_percentage"`
	Remaining int                 `json:"remaining_urls"`
	Active    bool                `json:"active"`
	Items     []crawler.BatchItem `json:"items,omitempty"`
}

func (s *Server) view(batch crawler.BatchJob) batchView {
	return batchView{
		BatchJob:  batch,
		Progress:  batch.ProgressPercentage(),
		Remaining: batch.RemainingURLs(),
		Active:    s.batches.Active(batch.ID),
	}
}

type itemErrorResponse struct {
	ItemID  string        `json:"item_id"`
	BatchID string        `json:"batch_id"`
	URL     string        `json:"url"`
	Status  string        `json:"status"`
	Error   errclass.Info `json:"error"`
	Detail  string        `json:"detail"`
}

// createBatch accepts a JSON batch definition and merges it over the configured defaults.
func (s *Server) createBatch(w http.ResponseWriter, r *http.Request) {
	body, err := io.ReadAll(http.MaxBytesReader(w, r.Body, maxBodyBytes))
	if err != nil {
		writeError(w, http.StatusBadRequest, "request body too large or unreadable")
		return
	}
	def, err := batchfile.Decode(body, ".json")
	if err != nil {
		writeError(w, http.StatusBadRequest, "invalid JSON")
		return
	}
	spec, err := def.Spec(s.defaults)
	if err != nil {
		s.fail(w, r, err)
		return
	}
	batch, err := s.batches.Create(r.Context(), spec)
	if err != nil {
		s.fail(w, r, err)
		return
	}
	writeJSON(w, http.StatusCreated, s.view(batch))
}

func (s *Server) listBatches(w http.ResponseWriter, r *http.Request) {
	filter := store.BatchFilter{Limit: defaultListLimit}
	if raw := strings.TrimSpace(r.URL.Query().Get("status")); raw != "" {
		status := crawler.BatchStatus(strings.ToLower(raw))
		if !status.Valid() {
			writeError(w, http.StatusBadRequest, fmt.Sprintf("unknown status %q", raw))
			return
		}
		filter.Status = status
	}
	if raw := r.URL.Query().Get("limit"); raw != "" {
		limit, err := strconv.Atoi(raw)
		if err != nil || limit < 1 {
			writeError(w, http.StatusBadRequest, "limit must be a positive integer")
			return
		}
		filter.Limit = min(limit, maxListLimit)
	}
	batches, err := s.store.ListBatches(r.Context(), filter)
	if err != nil {
		s.fail(w, r, err)
		return
	}
	views := make([]batchView, 0, len(batches))
	for _, b := range batches {
		views = append(views, s.view(b))
	}
	writeJSON(w, http.StatusOK, map[string]any{"batches": views})
}

func (s *Server) getBatch(w http.ResponseWriter, r *http.Request) {
	batch, ok := s.loadBatch(w, r)
	if !ok {
		return
	}
	items, err := s.store.ListItems(r.Context(), batch.ID, "")
	if err != nil {
		s.fail(w, r, err)
		return
	}
	v := s.view(batch)
	v.Items = items
	writeJSON(w, http.StatusOK, v)
}

func (s *Server) deleteBatch(w http.ResponseWriter, r *http.Request) {
	if err := s.batches.Delete(r.Context(), chi.URLParam(r, "batch_id")); err != nil {
		s.fail(w, r, err)
		return
	}
	w.WriteHeader(http.StatusNoContent)
}

func (s *Server) startBatch(w http.ResponseWriter, r *http.Request) {
	if err := s.batches.Start(r.Context(), chi.URLParam(r, "batch_id")); err != nil {
		s.fail(w, r, err)
		return
	}
	s.acceptedBatch(w, r)
}

// pauseBatch returns while in-flight items drain; the batch reads running until they finish.
func (s *Server) pauseBatch(w http.ResponseWriter, r *http.Request) {
	if err := s.batches.Pause(r.Context(), chi.URLParam(r, "batch_id")); err != nil {
		s.fail(w, r, err)
		return
	}
	s.acceptedBatch(w, r)
}

func (s *Server) acceptedBatch(w http.ResponseWriter, r *http.Request) {
	batch, ok := s.loadBatch(w, r)
	if !ok {
		return
	}
	writeJSON(w, http.StatusAccepted, s.view(batch))
}

func (s *Server) retryFailed(w http.ResponseWriter, r *http.Request) {
	id := chi.URLParam(r, "batch_id")
	n, err := s.batches.RetryFailed(r.Context(), id)
	if err != nil {
		s.fail(w, r, err)
		return
	}
	writeJSON(w, http.StatusOK, map[string]any{"batch_id": id, "reset": n})
}

func (s *Server) exportBatch(w http.ResponseWriter, r *http.Request) {
	id := chi.URLParam(r, "batch_id")
	doc, err := s.exporter.Export(r.Context(), id)
	if err != nil {
		s.fail(w, r, err)
		return
	}
	w.Header().Set("Content-Disposition", fmt.Sprintf("attachment; filename=%q", export.Filename(id)))
	writeJSON(w, http.StatusOK, doc)
}

func (s *Server) retryItem(w http.ResponseWriter, r *http.Request) {
	item, err := s.batches.RetryItem(r.Context(), chi.URLParam(r, "item_id"))
	if err != nil {
		s.fail(w, r, err)
		return
	}
	writeJSON(w, http.StatusOK, item)
}

func (s *Server) itemError(w http.ResponseWriter, r *http.Request) {
	item, err := s.store.GetItem(r.Context(), chi.URLParam(r, "item_id"))
	if err != nil {
		s.fail(w, r, err)
		return
	}
	if item.ErrorType == "" && item.ErrorMessage == "" {
		writeError(w, http.StatusNotFound, "item has no recorded error")
		return
	}
	writeJSON(w, http.StatusOK, itemErrorResponse{
		ItemID:  item.ID,
		BatchID: item.BatchID,
		URL:     item.URL,
		Status:  string(item.Status),
		Error:   errclass.Lookup(errclass.Type(item.ErrorType)),
		Detail:  item.ErrorMessage,
	})
}

func (s *Server) loadBatch(w http.ResponseWriter, r *http.Request) (crawler.BatchJob, bool) {
	batch, err := s.store.GetBatch(r.Context(), chi.URLParam(r, "batch_id"))
	if err != nil {
		if errors.Is(err, store.ErrNotFound) {
			writeError(w, http.StatusNotFound, "batch not found")
			return crawler.BatchJob{}, false
		}
		s.fail(w, r, err)
		return crawler.BatchJob{}, false
	}
	return batch, true
}
