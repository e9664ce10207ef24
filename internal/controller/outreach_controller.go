// internal/controller/outreach_controller.go
package controller

import (
	"context"
	"encoding/json"
	"errors"
	"log"
	"net/http"
	"strconv"

	"github.com/go-chi/chi/v5"

	appErrors "github.com/brightreach/outreach-backend/internal/errors"
	"github.com/brightreach/outreach-backend/internal/model"
	"github.com/brightreach/outreach-backend/internal/scheduler"
	"github.com/brightreach/outreach-backend/internal/selector"
	"github.com/brightreach/outreach-backend/internal/sequence"
)

// AttemptLister reads a lead's ledger history for the API surface.
type AttemptLister interface {
	ListForLead(ctx context.Context, leadID string) ([]model.CampaignAttempt, error)
}

type OutreachController struct {
	Scheduler *scheduler.Scheduler
	Selector  *selector.Selector
	Machine   *sequence.Machine
	Attempts  AttemptLister
}

// Routes mounts the operational API.
func (c *OutreachController) Routes(r chi.Router) {
	r.Post("/runs/force", c.ForceRun)
	r.Get("/runs/stats", c.RunStats)
	r.Get("/teams/{teamID}/progress", c.TeamProgress)
	r.Get("/teams/{teamID}/preview", c.TeamPreview)
	r.Post("/leads/{leadID}/pause", c.PauseLead)
	r.Post("/leads/{leadID}/resume", c.ResumeLead)
	r.Post("/leads/{leadID}/convert", c.ConvertLead)
	r.Get("/leads/{leadID}/attempts", c.LeadAttempts)
}

func (c *OutreachController) ForceRun(w http.ResponseWriter, r *http.Request) {
	summary, err := c.Scheduler.ForceRun(r.Context())
	if err != nil {
		log.Println("❌ Forced run failed:", err)
		http.Error(w, "run failed: "+err.Error(), http.StatusInternalServerError)
		return
	}

	w.Header().Set("Content-Type", "application/json")
	json.NewEncoder(w).Encode(summary)
}

func (c *OutreachController) RunStats(w http.ResponseWriter, r *http.Request) {
	w.Header().Set("Content-Type", "application/json")
	json.NewEncoder(w).Encode(c.Scheduler.Stats())
}

func (c *OutreachController) TeamProgress(w http.ResponseWriter, r *http.Request) {
	teamID := chi.URLParam(r, "teamID")

	progress, err := c.Selector.GetProgress(r.Context(), teamID)
	if err != nil {
		writeError(w, err)
		return
	}

	w.Header().Set("Content-Type", "application/json")
	json.NewEncoder(w).Encode(progress)
}

// TeamPreview returns the cohort the next run would pick, without tagging or
// dispatching anything.
func (c *OutreachController) TeamPreview(w http.ResponseWriter, r *http.Request) {
	teamID := chi.URLParam(r, "teamID")

	limit := 20
	if limitStr := r.URL.Query().Get("limit"); limitStr != "" {
		if n, err := strconv.Atoi(limitStr); err == nil {
			limit = n
		}
	}

	sel, err := c.Selector.Preview(r.Context(), teamID, limit)
	if err != nil {
		writeError(w, err)
		return
	}

	w.Header().Set("Content-Type", "application/json")
	json.NewEncoder(w).Encode(sel)
}

func (c *OutreachController) PauseLead(w http.ResponseWriter, r *http.Request) {
	leadID := chi.URLParam(r, "leadID")
	if err := c.Machine.Pause(r.Context(), leadID); err != nil {
		writeError(w, err)
		return
	}
	writeStatus(w, leadID, model.StatusPaused)
}

func (c *OutreachController) ResumeLead(w http.ResponseWriter, r *http.Request) {
	leadID := chi.URLParam(r, "leadID")
	if err := c.Machine.Resume(r.Context(), leadID); err != nil {
		writeError(w, err)
		return
	}
	writeStatus(w, leadID, model.StatusActive)
}

func (c *OutreachController) ConvertLead(w http.ResponseWriter, r *http.Request) {
	leadID := chi.URLParam(r, "leadID")
	if err := c.Machine.MarkConverted(r.Context(), leadID); err != nil {
		writeError(w, err)
		return
	}
	writeStatus(w, leadID, model.StatusConverted)
}

func (c *OutreachController) LeadAttempts(w http.ResponseWriter, r *http.Request) {
	leadID := chi.URLParam(r, "leadID")

	attempts, err := c.Attempts.ListForLead(r.Context(), leadID)
	if err != nil {
		writeError(w, err)
		return
	}

	w.Header().Set("Content-Type", "application/json")
	json.NewEncoder(w).Encode(map[string]interface{}{
		"lead_id":  leadID,
		"attempts": attempts,
	})
}

func writeStatus(w http.ResponseWriter, leadID, status string) {
	w.Header().Set("Content-Type", "application/json")
	json.NewEncoder(w).Encode(map[string]string{
		"lead_id": leadID,
		"status":  status,
	})
}

// writeError maps domain errors to HTTP statuses.
func writeError(w http.ResponseWriter, err error) {
	var notFound *appErrors.ErrLeadNotFound
	var notActive *appErrors.ErrLeadNotActive
	var stale *appErrors.ErrStaleProgress
	var unknownTeam *appErrors.ErrUnknownTeam
	var badBatch *appErrors.ErrInvalidBatchSize

	switch {
	case errors.As(err, &notFound):
		http.Error(w, err.Error(), http.StatusNotFound)
	case errors.As(err, &notActive), errors.As(err, &stale):
		http.Error(w, err.Error(), http.StatusConflict)
	case errors.As(err, &unknownTeam), errors.As(err, &badBatch):
		http.Error(w, err.Error(), http.StatusBadRequest)
	default:
		http.Error(w, err.Error(), http.StatusInternalServerError)
	}
}
