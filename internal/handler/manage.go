package handler

import (
	"encoding/json"
	"errors"
	"log/slog"
	"net/http"
	"strings"

	"github.com/google/uuid"

	"github.com/docuforge/billing/pkg/jwt"
	"github.com/docuforge/billing/pkg/subscription"
)

type manageRequest struct {
	Action        string `json:"action"`
	Plan          string `json:"plan,omitempty"`
	BillingPeriod string `json:"billingPeriod,omitempty"`
}

// handleManage serves the authenticated management actions: get-details,
// change-plan and cancel.
func (h *Handler) handleManage(w http.ResponseWriter, r *http.Request) {
	userID, err := h.authenticate(r)
	if err != nil {
		respondError(w, http.StatusUnauthorized, "Invalid or expired token")
		return
	}

	var req manageRequest
	if err := json.NewDecoder(r.Body).Decode(&req); err != nil {
		respondError(w, http.StatusBadRequest, "Invalid request body")
		return
	}

	switch req.Action {
	case "get-details":
		details, err := h.manager.GetDetails(r.Context(), userID)
		if err != nil {
			h.respondActionError(w, r, req.Action, err)
			return
		}
		respondJSON(w, http.StatusOK, details)

	case "change-plan":
		plan, ok := subscription.ParseTier(req.Plan)
		if !ok {
			respondError(w, http.StatusBadRequest, "Unknown plan")
			return
		}
		period := subscription.PeriodMonthly
		if req.BillingPeriod != "" {
			period, ok = subscription.ParseBillingPeriod(req.BillingPeriod)
			if !ok {
				respondError(w, http.StatusBadRequest, "Unknown billing period")
				return
			}
		}
		result, err := h.manager.ChangePlan(r.Context(), userID, plan, period)
		if err != nil {
			h.respondActionError(w, r, req.Action, err)
			return
		}
		respondJSON(w, http.StatusOK, result)

	case "cancel":
		result, err := h.manager.Cancel(r.Context(), userID)
		if err != nil {
			h.respondActionError(w, r, req.Action, err)
			return
		}
		respondJSON(w, http.StatusOK, result)

	default:
		respondError(w, http.StatusBadRequest, "Unknown action")
	}
}

// authenticate extracts and validates the bearer token, returning the user
// ID from the subject claim.
func (h *Handler) authenticate(r *http.Request) (uuid.UUID, error) {
	auth := r.Header.Get("Authorization")
	token, ok := strings.CutPrefix(auth, "Bearer ")
	if !ok || token == "" {
		return uuid.Nil, jwt.ErrInvalidToken
	}

	var claims jwt.StandardClaims
	if err := h.tokens.Parse(token, &claims); err != nil {
		return uuid.Nil, err
	}
	userID, err := uuid.Parse(claims.Subject)
	if err != nil {
		return uuid.Nil, jwt.ErrInvalidToken
	}
	return userID, nil
}

func (h *Handler) respondActionError(w http.ResponseWriter, r *http.Request, action string, err error) {
	var provErr *subscription.ProviderError
	switch {
	case errors.Is(err, subscription.ErrUnknownPlan), errors.Is(err, subscription.ErrUnknownBillingPeriod):
		respondError(w, http.StatusBadRequest, err.Error())
	case errors.Is(err, subscription.ErrSubscriptionNotFound):
		respondError(w, http.StatusNotFound, "No subscription found")
	case errors.Is(err, subscription.ErrProviderUnavailable):
		respondError(w, http.StatusServiceUnavailable, "Provider-mediated actions are not available")
	case errors.As(err, &provErr):
		// Pass the provider's verdict through so the client sees the
		// same status and details the provider returned.
		respondJSON(w, provErr.StatusCode, map[string]any{
			"error":   "Provider request failed",
			"details": provErr.Body,
		})
	default:
		h.log.ErrorContext(r.Context(), "management action failed",
			slog.String("action", action),
			slog.Any("error", err),
		)
		respondError(w, http.StatusInternalServerError, "Internal error")
	}
}
