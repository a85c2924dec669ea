// Package handler exposes the webhook ingestion and subscription management
// HTTP endpoints.
package handler

import (
	"context"
	"log/slog"

	"github.com/go-chi/chi/v5"
	"github.com/go-chi/chi/v5/middleware"

	"github.com/docuforge/billing/pkg/httpserver"
	"github.com/docuforge/billing/pkg/jwt"
	"github.com/docuforge/billing/pkg/subscription"
)

// Handler wires the HTTP surface to the subscription services.
type Handler struct {
	adapters   map[string]subscription.ProviderAdapter
	reconciler *subscription.Reconciler
	manager    *subscription.Manager
	tokens     *jwt.Service
	log        *slog.Logger
}

func New(
	reconciler *subscription.Reconciler,
	manager *subscription.Manager,
	tokens *jwt.Service,
	log *slog.Logger,
	adapters ...subscription.ProviderAdapter,
) *Handler {
	if reconciler == nil {
		panic("handler: reconciler is required")
	}
	if manager == nil {
		panic("handler: manager is required")
	}
	if tokens == nil {
		panic("handler: jwt service is required")
	}
	if log == nil {
		log = slog.New(slog.DiscardHandler)
	}
	byName := make(map[string]subscription.ProviderAdapter, len(adapters))
	for _, a := range adapters {
		byName[a.Name()] = a
	}
	return &Handler{
		adapters:   byName,
		reconciler: reconciler,
		manager:    manager,
		tokens:     tokens,
		log:        log,
	}
}

// Router builds the service routes. The health endpoint runs the given
// readiness checks.
func (h *Handler) Router(healthChecks ...func(context.Context) error) chi.Router {
	r := chi.NewRouter()
	r.Use(middleware.Recoverer)
	r.Use(middleware.RealIP)

	r.Post("/webhooks/{provider}", h.handleWebhook)
	r.Post("/subscription/manage", h.handleManage)
	r.Get("/health", httpserver.HealthCheckHandler(context.Background(), h.log, healthChecks...))

	return r
}
