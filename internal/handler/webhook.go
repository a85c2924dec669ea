package handler

import (
	"io"
	"log/slog"
	"net/http"

	"github.com/go-chi/chi/v5"
)

// maxWebhookBody caps webhook payload reads. Provider events are a few KB;
// anything near the cap is garbage.
const maxWebhookBody = 1 << 20

// handleWebhook ingests one provider delivery. The response code is the
// retry contract: 2xx acknowledges, 4xx tells the provider the delivery
// itself is bad, 5xx asks for a retry.
func (h *Handler) handleWebhook(w http.ResponseWriter, r *http.Request) {
	name := chi.URLParam(r, "provider")
	adapter, ok := h.adapters[name]
	if !ok {
		respondError(w, http.StatusNotFound, "Unknown provider")
		return
	}

	body, err := io.ReadAll(io.LimitReader(r.Body, maxWebhookBody))
	if err != nil {
		respondError(w, http.StatusBadRequest, "Failed to read request body")
		return
	}

	if err := adapter.Verify(body, r.Header); err != nil {
		h.log.WarnContext(r.Context(), "webhook signature rejected",
			slog.String("provider", name),
			slog.Any("error", err),
		)
		respondError(w, http.StatusUnauthorized, "Invalid signature")
		return
	}

	ev, err := adapter.ParseEvent(body, r.Header)
	if err != nil {
		h.log.WarnContext(r.Context(), "webhook payload rejected",
			slog.String("provider", name),
			slog.Any("error", err),
		)
		respondError(w, http.StatusBadRequest, "Malformed payload")
		return
	}

	if err := h.reconciler.Apply(r.Context(), ev); err != nil {
		h.log.ErrorContext(r.Context(), "failed to process webhook event",
			slog.String("provider", name),
			slog.String("event_type", ev.Type),
			slog.Any("error", err),
		)
		respondError(w, http.StatusInternalServerError, "Failed to process event")
		return
	}

	respondJSON(w, http.StatusOK, map[string]bool{"success": true})
}
