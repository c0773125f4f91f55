package api

import (
	"context"
	"encoding/json"
	"errors"
	"io"
	"net/http"
	"time"

	"github.com/go-chi/chi/v5"

	"github.com/propertypulse/campaign-engine/internal/analytics"
	"github.com/propertypulse/campaign-engine/internal/domain"
	"github.com/propertypulse/campaign-engine/internal/pkg/logger"
	"github.com/propertypulse/campaign-engine/internal/provider"
	"github.com/propertypulse/campaign-engine/internal/service/campaign"
)

// Handlers contains all HTTP handlers
type Handlers struct {
	campaigns  *campaign.Service
	analytics  *analytics.Service
	deliveries campaign.DeliveryRepository

	// executeTimeout bounds one background campaign run. Generous because
	// smart-timed sends may legitimately hold for hours.
	executeTimeout time.Duration
}

// NewHandlers creates a new Handlers instance
func NewHandlers(campaigns *campaign.Service, an *analytics.Service, deliveries campaign.DeliveryRepository) *Handlers {
	return &Handlers{
		campaigns:      campaigns,
		analytics:      an,
		deliveries:     deliveries,
		executeTimeout: 24 * time.Hour,
	}
}

// Response helpers

func respondJSON(w http.ResponseWriter, status int, data interface{}) {
	w.Header().Set("Content-Type", "application/json")
	w.WriteHeader(status)
	json.NewEncoder(w).Encode(map[string]interface{}{
		"success": true,
		"data":    data,
	})
}

func respondError(w http.ResponseWriter, err error) {
	status := http.StatusInternalServerError
	code := "internal"
	switch {
	case errors.Is(err, campaign.ErrNotFound):
		status, code = http.StatusNotFound, "not_found"
	case errors.Is(err, campaign.ErrInvalidTransition):
		status, code = http.StatusConflict, "invalid_transition"
	case campaign.IsValidation(err):
		status, code = http.StatusBadRequest, "validation"
	case errors.Is(err, analytics.ErrUnknownTracking):
		status, code = http.StatusNotFound, "unknown_tracking"
	}
	w.Header().Set("Content-Type", "application/json")
	w.WriteHeader(status)
	json.NewEncoder(w).Encode(map[string]interface{}{
		"success": false,
		"error":   map[string]string{"code": code, "message": err.Error()},
	})
}

func badRequest(w http.ResponseWriter, message string) {
	w.Header().Set("Content-Type", "application/json")
	w.WriteHeader(http.StatusBadRequest)
	json.NewEncoder(w).Encode(map[string]interface{}{
		"success": false,
		"error":   map[string]string{"code": "bad_request", "message": message},
	})
}

// HealthCheck reports liveness.
func (h *Handlers) HealthCheck(w http.ResponseWriter, r *http.Request) {
	respondJSON(w, http.StatusOK, map[string]string{"status": "ok"})
}

// CreateCampaign validates and creates a campaign.
func (h *Handlers) CreateCampaign(w http.ResponseWriter, r *http.Request) {
	var cfg domain.CampaignConfig
	if err := json.NewDecoder(r.Body).Decode(&cfg); err != nil {
		badRequest(w, "invalid JSON body")
		return
	}
	c, err := h.campaigns.Create(r.Context(), cfg)
	if err != nil {
		respondError(w, err)
		return
	}
	respondJSON(w, http.StatusCreated, c)
}

// GetCampaign returns one campaign.
func (h *Handlers) GetCampaign(w http.ResponseWriter, r *http.Request) {
	c, err := h.campaigns.Get(r.Context(), chi.URLParam(r, "id"))
	if err != nil {
		respondError(w, err)
		return
	}
	respondJSON(w, http.StatusOK, c)
}

// ListCampaigns returns campaigns matching query filters.
func (h *Handlers) ListCampaigns(w http.ResponseWriter, r *http.Request) {
	q := r.URL.Query()
	filter := campaign.ListFilter{
		Status: q.Get("status"),
		Type:   q.Get("type"),
	}
	out, err := h.campaigns.List(r.Context(), filter)
	if err != nil {
		respondError(w, err)
		return
	}
	if out == nil {
		out = []domain.Campaign{}
	}
	respondJSON(w, http.StatusOK, out)
}

// ExecuteCampaign starts a campaign run in the background and returns 202.
// Runs can legitimately take hours when send-time optimization holds
// messages, so the request never waits for completion.
func (h *Handlers) ExecuteCampaign(w http.ResponseWriter, r *http.Request) {
	id := chi.URLParam(r, "id")

	// Surface immediate state errors synchronously.
	c, err := h.campaigns.Get(r.Context(), id)
	if err != nil {
		respondError(w, err)
		return
	}
	if c.IsTerminal() {
		respondError(w, campaign.ErrInvalidTransition)
		return
	}

	go func() {
		ctx, cancel := context.WithTimeout(context.Background(), h.executeTimeout)
		defer cancel()
		if err := h.campaigns.Execute(ctx, id); err != nil {
			logger.Error("campaign execution failed", "campaign_id", id, "error", err.Error())
		}
	}()

	respondJSON(w, http.StatusAccepted, map[string]string{"campaign_id": id, "status": "executing"})
}

// PauseCampaign stops new batches.
func (h *Handlers) PauseCampaign(w http.ResponseWriter, r *http.Request) {
	h.transition(w, r, h.campaigns.Pause)
}

// ResumeCampaign continues a paused campaign. The caller re-executes to
// resume dispatch.
func (h *Handlers) ResumeCampaign(w http.ResponseWriter, r *http.Request) {
	h.transition(w, r, h.campaigns.Resume)
}

// CancelCampaign stops the campaign permanently.
func (h *Handlers) CancelCampaign(w http.ResponseWriter, r *http.Request) {
	h.transition(w, r, h.campaigns.Cancel)
}

func (h *Handlers) transition(w http.ResponseWriter, r *http.Request, op func(context.Context, string) error) {
	id := chi.URLParam(r, "id")
	if err := op(r.Context(), id); err != nil {
		respondError(w, err)
		return
	}
	c, err := h.campaigns.Get(r.Context(), id)
	if err != nil {
		respondError(w, err)
		return
	}
	respondJSON(w, http.StatusOK, c)
}

// CampaignMetrics returns one campaign's aggregate metrics plus derived
// rates.
func (h *Handlers) CampaignMetrics(w http.ResponseWriter, r *http.Request) {
	m, err := h.campaigns.Metrics(r.Context(), chi.URLParam(r, "id"))
	if err != nil {
		respondError(w, err)
		return
	}
	respondJSON(w, http.StatusOK, map[string]interface{}{
		"metrics":         m,
		"open_rate":       m.OpenRate(),
		"click_rate":      m.ClickRate(),
		"conversion_rate": m.ConversionRate(),
	})
}

// Overview returns cross-campaign aggregate stats.
func (h *Handlers) Overview(w http.ResponseWriter, r *http.Request) {
	o, err := h.campaigns.Overview(r.Context())
	if err != nil {
		respondError(w, err)
		return
	}
	respondJSON(w, http.StatusOK, o)
}

// ListDeliveries returns a campaign's delivery records.
func (h *Handlers) ListDeliveries(w http.ResponseWriter, r *http.Request) {
	id := chi.URLParam(r, "id")
	if _, err := h.campaigns.Get(r.Context(), id); err != nil {
		respondError(w, err)
		return
	}
	recs, err := h.deliveries.ListByCampaign(r.Context(), id)
	if err != nil {
		respondError(w, err)
		return
	}
	if recs == nil {
		recs = []domain.DeliveryRecord{}
	}
	respondJSON(w, http.StatusOK, recs)
}

// IngestEvent accepts a pre-normalized delivery or engagement event.
func (h *Handlers) IngestEvent(w http.ResponseWriter, r *http.Request) {
	var ev domain.DeliveryEvent
	if err := json.NewDecoder(r.Body).Decode(&ev); err != nil {
		badRequest(w, "invalid JSON body")
		return
	}
	if ev.TrackingID == "" || ev.Type == "" {
		badRequest(w, "tracking_id and type are required")
		return
	}
	if ev.Timestamp.IsZero() {
		ev.Timestamp = time.Now()
	}
	if err := h.analytics.Apply(r.Context(), ev); err != nil {
		respondError(w, err)
		return
	}
	respondJSON(w, http.StatusOK, map[string]string{"tracking_id": ev.TrackingID})
}

// SESWebhook ingests SES configuration-set event notifications. Events we
// cannot normalize are acknowledged and dropped so SES does not retry them
// forever.
func (h *Handlers) SESWebhook(w http.ResponseWriter, r *http.Request) {
	payload, err := io.ReadAll(r.Body)
	if err != nil {
		badRequest(w, "unreadable body")
		return
	}
	ev, err := provider.ParseSESEvent(payload)
	if err != nil {
		logger.Warn("dropping ses event", "error", err.Error())
		respondJSON(w, http.StatusOK, map[string]string{"status": "dropped"})
		return
	}
	if err := h.analytics.Apply(r.Context(), ev); err != nil {
		if errors.Is(err, analytics.ErrUnknownTracking) {
			logger.Warn("ses event for unknown tracking id", "tracking_id", ev.TrackingID)
			respondJSON(w, http.StatusOK, map[string]string{"status": "dropped"})
			return
		}
		respondError(w, err)
		return
	}
	respondJSON(w, http.StatusOK, map[string]string{"tracking_id": ev.TrackingID})
}

// TwilioWebhook ingests Twilio message status callbacks.
func (h *Handlers) TwilioWebhook(w http.ResponseWriter, r *http.Request) {
	if err := r.ParseForm(); err != nil {
		badRequest(w, "invalid form body")
		return
	}
	ev, err := provider.ParseTwilioCallback(r.URL.Query(), r.PostForm)
	if err != nil {
		logger.Warn("dropping twilio callback", "error", err.Error())
		respondJSON(w, http.StatusOK, map[string]string{"status": "dropped"})
		return
	}
	if err := h.analytics.Apply(r.Context(), ev); err != nil {
		if errors.Is(err, analytics.ErrUnknownTracking) {
			respondJSON(w, http.StatusOK, map[string]string{"status": "dropped"})
			return
		}
		respondError(w, err)
		return
	}
	respondJSON(w, http.StatusOK, map[string]string{"tracking_id": ev.TrackingID})
}
