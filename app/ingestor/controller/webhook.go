package controller

import (
	"context"
	"net/http"

	"github.com/canopy-network/ingestx/pkg/event"
	"github.com/canopy-network/ingestx/pkg/metrics"
	"github.com/canopy-network/ingestx/pkg/utils"
	"go.uber.org/zap"
)

const (
	webhookOK     = "Webhook received and processed"
	webhookFailed = "Error processing webhook event"
)

type webhookResponse struct {
	Success bool   `json:"success"`
	Message string `json:"message"`
}

// HandleWebhook receives provider deliveries. Processing errors are reported in the body
// with a 200 so the provider does not redeliver; only a bad shared secret is rejected.
func (c *Controller) HandleWebhook(w http.ResponseWriter, r *http.Request) {
	defer func() { _ = utils.DrainAndClose(r.Body) }()

	if c.WebhookAuth != "" && r.Header.Get("Authorization") != c.WebhookAuth {
		metrics.WebhookRequests.WithLabelValues("unauthorized").Inc()
		writeError(w, http.StatusUnauthorized, "unauthorized")
		return
	}

	utils.LimitBody(w, r, c.MaxBodyBytes)
	events, err := event.DecodeBatch(r.Body)
	if err != nil {
		c.Logger.Warn("Rejected webhook body", zap.Error(err))
		metrics.WebhookRequests.WithLabelValues("invalid").Inc()
		writeJSON(w, http.StatusOK, webhookResponse{Success: false, Message: webhookFailed})
		return
	}
	metrics.WebhookEvents.Add(float64(len(events)))

	// Writes continue when the provider hangs up; the batch timeout bounds them instead.
	ctx, cancel := context.WithTimeout(context.WithoutCancel(r.Context()), c.BatchTimeout)
	defer cancel()

	summary, err := c.Ingest.HandleBatch(ctx, events)
	if err != nil {
		c.Logger.Error("Error processing webhook", zap.Int("events", len(events)), zap.Error(err))
		metrics.WebhookRequests.WithLabelValues("error").Inc()
		writeJSON(w, http.StatusOK, webhookResponse{Success: false, Message: webhookFailed})
		return
	}

	c.Logger.Debug("Webhook processed",
		zap.Int("events", summary.Events),
		zap.Int("indexers", summary.Indexers),
		zap.Int("succeeded", summary.Succeeded),
		zap.Int("failed", summary.Failed),
		zap.Int64("inserted", summary.Inserted))
	metrics.WebhookRequests.WithLabelValues("ok").Inc()
	writeJSON(w, http.StatusOK, webhookResponse{Success: true, Message: webhookOK})
}
