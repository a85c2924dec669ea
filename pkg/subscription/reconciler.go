package subscription

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"time"

	"github.com/google/uuid"

	"github.com/docuforge/billing/pkg/dedup"
	"github.com/docuforge/billing/pkg/notifier"
)

// IdentityMissPolicy controls what happens when an event cannot be matched to
// a user.
type IdentityMissPolicy int

const (
	// IdentityMissAck logs the miss and acknowledges the delivery. Default:
	// retrying will not resolve a customer that does not exist here.
	IdentityMissAck IdentityMissPolicy = iota
	// IdentityMissRetry surfaces the miss as an error so the provider
	// redelivers. Useful when profile creation can lag behind checkout.
	IdentityMissRetry
)

// dedupTTL bounds how long a delivery ID is remembered. Providers stop
// retrying well inside a day.
const dedupTTL = 24 * time.Hour

// Reconciler applies normalized provider events to subscription records.
// It is the only writer for provider-backed records.
type Reconciler struct {
	store    Store
	resolver *IdentityResolver
	catalog  *Catalog
	profiles ProfileStore

	seen     dedup.Store
	events   EventLog
	notify   notifier.Notifier
	log      *slog.Logger
	now      func() time.Time
	onMiss   func(ctx context.Context, ev *Event)
	missMode IdentityMissPolicy
}

// ReconcilerOption customizes optional reconciler collaborators.
type ReconcilerOption func(*Reconciler)

// WithDedup enables delivery deduplication for events that carry an ID.
func WithDedup(s dedup.Store) ReconcilerOption {
	return func(r *Reconciler) { r.seen = s }
}

// WithEventLog records every applied event for auditing.
func WithEventLog(l EventLog) ReconcilerOption {
	return func(r *Reconciler) { r.events = l }
}

// WithNotifier sends user-facing notifications for holds and cancellations.
func WithNotifier(n notifier.Notifier) ReconcilerOption {
	return func(r *Reconciler) { r.notify = n }
}

// WithReconcilerLogger sets the logger.
func WithReconcilerLogger(log *slog.Logger) ReconcilerOption {
	return func(r *Reconciler) { r.log = log }
}

// WithIdentityMissPolicy overrides the default ack-and-log behavior.
func WithIdentityMissPolicy(p IdentityMissPolicy) ReconcilerOption {
	return func(r *Reconciler) { r.missMode = p }
}

// WithIdentityMissHook installs a callback fired on every unresolved event,
// regardless of policy. Use it to page or enqueue manual review.
func WithIdentityMissHook(fn func(ctx context.Context, ev *Event)) ReconcilerOption {
	return func(r *Reconciler) { r.onMiss = fn }
}

// WithClock overrides the reconciler's clock. Tests only.
func WithClock(now func() time.Time) ReconcilerOption {
	return func(r *Reconciler) { r.now = now }
}

func NewReconciler(store Store, profiles ProfileStore, catalog *Catalog, opts ...ReconcilerOption) *Reconciler {
	if store == nil {
		panic("subscription: store is required")
	}
	if profiles == nil {
		panic("subscription: profile store is required")
	}
	if catalog == nil {
		catalog = DefaultCatalog()
	}
	r := &Reconciler{
		store:    store,
		profiles: profiles,
		resolver: NewIdentityResolver(profiles, store),
		catalog:  catalog,
		log:      slog.New(slog.DiscardHandler),
		now:      time.Now,
	}
	for _, opt := range opts {
		opt(r)
	}
	return r
}

// Apply folds one provider event into the subscription state. A nil return
// acknowledges the delivery; a non-nil return asks the provider to retry, so
// only store failures and (under IdentityMissRetry) unresolved identities
// propagate.
func (r *Reconciler) Apply(ctx context.Context, ev *Event) error {
	log := r.log.With(
		slog.String("provider", ev.Provider),
		slog.String("event_type", ev.Type),
		slog.String("event_id", ev.ID),
		slog.String("provider_subscription_id", ev.SubscriptionID),
	)

	var dedupKey string
	if r.seen != nil && ev.ID != "" {
		dedupKey = ev.Provider + ":" + ev.ID
		already, err := r.seen.MarkSeen(ctx, dedupKey, dedupTTL)
		if err != nil {
			// Dedup is an optimization; processing is idempotent anyway.
			log.WarnContext(ctx, "dedup check failed, processing anyway", slog.Any("error", err))
			dedupKey = ""
		} else if already {
			log.InfoContext(ctx, "duplicate delivery acknowledged")
			return nil
		}
	}

	err := r.process(ctx, log, ev)
	if err != nil && dedupKey != "" {
		// A non-nil return answers 500 and the provider redelivers with
		// the same ID. The key must not swallow that retry.
		if ferr := r.seen.Forget(ctx, dedupKey); ferr != nil {
			log.WarnContext(ctx, "failed to release dedup key after error", slog.Any("error", ferr))
		}
	}
	return err
}

func (r *Reconciler) process(ctx context.Context, log *slog.Logger, ev *Event) error {
	switch ev.Class {
	case ClassPayment:
		log.InfoContext(ctx, "payment event acknowledged, no state change")
		return nil
	case ClassUnknown:
		log.WarnContext(ctx, "unhandled event type acknowledged")
		return nil
	case ClassCanceled:
		return r.applyTransition(ctx, log, ev, StatusCanceled)
	case ClassOnHold:
		return r.applyTransition(ctx, log, ev, StatusOnHold)
	}

	return r.applyLifecycle(ctx, log, ev)
}

func (r *Reconciler) applyLifecycle(ctx context.Context, log *slog.Logger, ev *Event) error {
	userID, err := r.resolver.Resolve(ctx, ev)
	if err != nil {
		if errors.Is(err, ErrIdentityNotResolved) {
			return r.handleIdentityMiss(ctx, log, ev)
		}
		return fmt.Errorf("resolve identity: %w", err)
	}
	log = log.With(slog.String("user_id", userID.String()))

	plan := r.catalog.ResolveTier(ev)
	status := r.statusFor(ev)

	update := Update{
		UserID:             userID,
		Plan:               plan,
		Status:             status,
		ProviderCustomerID: ev.CustomerID,
		ProviderSubID:      ev.SubscriptionID,
		PeriodStart:        ev.PeriodStart,
		PeriodEnd:          ev.PeriodEnd,
		TrialStart:         ev.TrialStart,
		TrialEnd:           ev.TrialEnd,
	}
	if status == StatusTrialing && update.TrialStart == nil {
		now := r.now()
		update.TrialStart = &now
	}

	r.warnIfStale(ctx, log, ev, userID)

	if err := r.store.Apply(ctx, update); err != nil {
		return fmt.Errorf("apply subscription update: %w", err)
	}
	log.InfoContext(ctx, "subscription updated",
		slog.String("plan", string(plan)),
		slog.String("status", string(status)),
	)

	activePlan := TierNone
	if status == StatusTrialing || status == StatusActive {
		activePlan = plan
	}
	r.mirrorProfilePlan(ctx, log, userID, activePlan)
	r.audit(ctx, log, ev, userID)

	if status == StatusOnHold {
		r.send(ctx, log, transitionMessage(userID, ev.CustomerEmail, status))
	}
	return nil
}

// applyTransition handles the cancel and hold event classes. Both look the
// record up by provider subscription ID (these events commonly omit user
// context) and both honor the trial-grace rule on the active plan.
func (r *Reconciler) applyTransition(ctx context.Context, log *slog.Logger, ev *Event, status Status) error {
	c := Cancellation{
		ProviderSubID: ev.SubscriptionID,
		Status:        status,
	}
	if status == StatusCanceled {
		c.CanceledAt = ev.CanceledAt
	}
	err := r.store.Cancel(ctx, c)
	if errors.Is(err, ErrSubscriptionNotFound) {
		// Event for a subscription this system never recorded. Nothing to
		// roll back; acknowledge so the provider stops retrying.
		log.WarnContext(ctx, "transition for unknown subscription acknowledged")
		return nil
	}
	if err != nil {
		return fmt.Errorf("apply %s transition: %w", status, err)
	}
	log.InfoContext(ctx, "subscription transitioned", slog.String("status", string(status)))

	if rec, err := r.store.GetByProviderSubID(ctx, ev.SubscriptionID); err == nil {
		r.mirrorProfilePlan(ctx, log, rec.UserID, rec.ActivePlan)
		r.audit(ctx, log, ev, rec.UserID)
		r.send(ctx, log, transitionMessage(rec.UserID, ev.CustomerEmail, status))
	}
	return nil
}

func transitionMessage(userID uuid.UUID, email string, status Status) notifier.Message {
	if status == StatusOnHold {
		return notifier.Message{
			UserID:  userID,
			Email:   email,
			Subject: "Payment issue with your subscription",
			Body:    "We could not process your latest payment. Please update your payment method to keep your plan.",
		}
	}
	return notifier.Message{
		UserID:  userID,
		Email:   email,
		Subject: "Your subscription has been canceled",
		Body:    "Your subscription has been canceled. You can resubscribe at any time.",
	}
}

func (r *Reconciler) handleIdentityMiss(ctx context.Context, log *slog.Logger, ev *Event) error {
	log.WarnContext(ctx, "cannot resolve user for event",
		slog.String("customer_email", ev.CustomerEmail),
		slog.String("customer_id", ev.CustomerID),
	)
	if r.onMiss != nil {
		r.onMiss(ctx, ev)
	}
	if r.missMode == IdentityMissRetry {
		return ErrIdentityNotResolved
	}
	return nil
}

// statusFor maps the provider's status string onto the internal status set.
func (r *Reconciler) statusFor(ev *Event) Status {
	switch ev.ProviderStatus {
	case "trialing":
		return StatusTrialing
	case "on_hold", "past_due":
		return StatusOnHold
	default:
		return StatusActive
	}
}

// warnIfStale flags deliveries that arrive after a newer write. They are
// still applied; last write wins and providers send a fresh snapshot in every
// event, but the log line makes reordering observable.
func (r *Reconciler) warnIfStale(ctx context.Context, log *slog.Logger, ev *Event, userID uuid.UUID) {
	if ev.OccurredAt.IsZero() {
		return
	}
	rec, err := r.store.Get(ctx, userID)
	if err != nil {
		return
	}
	if ev.OccurredAt.Before(rec.UpdatedAt) {
		log.WarnContext(ctx, "event older than current record, applying anyway",
			slog.Time("event_time", ev.OccurredAt),
			slog.Time("record_time", rec.UpdatedAt),
		)
	}
}

// mirrorProfilePlan copies the effective active plan onto the user profile
// for display. Records without an entitling plan show as basic.
func (r *Reconciler) mirrorProfilePlan(ctx context.Context, log *slog.Logger, userID uuid.UUID, activePlan Tier) {
	if activePlan == TierNone {
		activePlan = TierBasic
	}
	if err := r.profiles.SetPlan(ctx, userID, activePlan); err != nil {
		log.WarnContext(ctx, "failed to mirror plan to profile", slog.Any("error", err))
	}
}

func (r *Reconciler) audit(ctx context.Context, log *slog.Logger, ev *Event, userID uuid.UUID) {
	if r.events == nil {
		return
	}
	if err := r.events.Append(ctx, ev, userID); err != nil {
		log.WarnContext(ctx, "failed to record event audit entry", slog.Any("error", err))
	}
}

func (r *Reconciler) send(ctx context.Context, log *slog.Logger, msg notifier.Message) {
	if r.notify == nil {
		return
	}
	if err := r.notify.Notify(ctx, msg); err != nil {
		log.WarnContext(ctx, "failed to send notification", slog.Any("error", err))
	}
}
