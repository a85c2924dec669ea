package subscription

import (
	"context"
	"strings"
	"sync"
	"time"

	"github.com/google/uuid"
)

// MemoryStore is an in-memory Store for tests and local development. It
// enforces the same upsert and ID-ownership rules as the SQL store.
type MemoryStore struct {
	mu      sync.RWMutex
	records map[uuid.UUID]*Record
	now     func() time.Time
}

func NewMemoryStore() *MemoryStore {
	return &MemoryStore{
		records: make(map[uuid.UUID]*Record),
		now:     time.Now,
	}
}

// SetClock overrides the store's clock. Tests only.
func (s *MemoryStore) SetClock(now func() time.Time) { s.now = now }

func (s *MemoryStore) Get(_ context.Context, userID uuid.UUID) (*Record, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()
	rec, ok := s.records[userID]
	if !ok {
		return nil, ErrSubscriptionNotFound
	}
	cp := *rec
	return &cp, nil
}

func (s *MemoryStore) GetByProviderSubID(_ context.Context, providerSubID string) (*Record, error) {
	if providerSubID == "" {
		return nil, ErrSubscriptionNotFound
	}
	s.mu.RLock()
	defer s.mu.RUnlock()
	for _, rec := range s.records {
		if rec.ProviderSubID == providerSubID {
			cp := *rec
			return &cp, nil
		}
	}
	return nil, ErrSubscriptionNotFound
}

func (s *MemoryStore) Apply(_ context.Context, u Update) error {
	s.mu.Lock()
	defer s.mu.Unlock()

	if u.ProviderSubID != "" {
		for id, rec := range s.records {
			if rec.ProviderSubID == u.ProviderSubID && id != u.UserID {
				return ErrProviderSubIDReassigned
			}
		}
	}

	now := s.now()
	rec := s.upsertLocked(u.UserID, now)
	if u.Status == StatusTrialing || u.Status == StatusActive {
		rec.ActivePlan = u.Plan
	} else {
		rec.ActivePlan = TierNone
	}
	rec.SelectedPlan = u.Plan
	rec.Status = u.Status
	if u.ProviderCustomerID != "" {
		rec.ProviderCustomerID = u.ProviderCustomerID
	}
	if u.ProviderSubID != "" {
		rec.ProviderSubID = u.ProviderSubID
	}
	rec.PeriodStart = u.PeriodStart
	rec.PeriodEnd = u.PeriodEnd
	rec.TrialStart = u.TrialStart
	rec.TrialEnd = u.TrialEnd
	rec.CanceledAt = nil
	rec.UpdatedAt = now
	return nil
}

func (s *MemoryStore) Cancel(_ context.Context, c Cancellation) error {
	s.mu.Lock()
	defer s.mu.Unlock()

	for _, rec := range s.records {
		if rec.ProviderSubID != c.ProviderSubID || c.ProviderSubID == "" {
			continue
		}
		now := s.now()
		if !rec.StillInTrialAt(now) {
			rec.ActivePlan = TierNone
		}
		rec.Status = c.Status
		if c.Status == StatusCanceled {
			rec.CanceledAt = c.CanceledAt
			if rec.CanceledAt == nil {
				at := now
				rec.CanceledAt = &at
			}
		}
		rec.UpdatedAt = now
		return nil
	}
	return ErrSubscriptionNotFound
}

func (s *MemoryStore) SetPlan(_ context.Context, userID uuid.UUID, plan Tier) error {
	s.mu.Lock()
	defer s.mu.Unlock()

	now := s.now()
	rec := s.upsertLocked(userID, now)
	rec.ActivePlan = plan
	rec.SelectedPlan = plan
	if rec.Status == StatusNone || rec.Status == "" || rec.Status == StatusCanceled || rec.Status == StatusInactive {
		rec.Status = StatusActive
	}
	rec.CanceledAt = nil
	rec.UpdatedAt = now
	return nil
}

func (s *MemoryStore) DirectCancel(_ context.Context, userID uuid.UUID, at time.Time) error {
	s.mu.Lock()
	defer s.mu.Unlock()

	rec, ok := s.records[userID]
	if !ok {
		return ErrSubscriptionNotFound
	}
	rec.ActivePlan = TierNone
	rec.Status = StatusCanceled
	rec.CanceledAt = &at
	rec.UpdatedAt = s.now()
	return nil
}

func (s *MemoryStore) MarkCancelRequested(_ context.Context, userID uuid.UUID, at time.Time) error {
	s.mu.Lock()
	defer s.mu.Unlock()

	rec, ok := s.records[userID]
	if !ok {
		return ErrSubscriptionNotFound
	}
	rec.CanceledAt = &at
	rec.UpdatedAt = s.now()
	return nil
}

func (s *MemoryStore) upsertLocked(userID uuid.UUID, now time.Time) *Record {
	rec, ok := s.records[userID]
	if !ok {
		rec = &Record{UserID: userID, Status: StatusNone, CreatedAt: now}
		s.records[userID] = rec
	}
	return rec
}

// MemoryProfileStore is an in-memory ProfileStore for tests and local
// development.
type MemoryProfileStore struct {
	mu      sync.RWMutex
	byEmail map[string]uuid.UUID
	plans   map[uuid.UUID]Tier
}

func NewMemoryProfileStore() *MemoryProfileStore {
	return &MemoryProfileStore{
		byEmail: make(map[string]uuid.UUID),
		plans:   make(map[uuid.UUID]Tier),
	}
}

// AddProfile registers a profile. Test setup helper.
func (s *MemoryProfileStore) AddProfile(userID uuid.UUID, email string) {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.byEmail[strings.ToLower(email)] = userID
}

func (s *MemoryProfileStore) FindUserIDByEmail(_ context.Context, email string) (uuid.UUID, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()
	userID, ok := s.byEmail[strings.ToLower(email)]
	if !ok {
		return uuid.Nil, ErrProfileNotFound
	}
	return userID, nil
}

func (s *MemoryProfileStore) SetPlan(_ context.Context, userID uuid.UUID, plan Tier) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.plans[userID] = plan
	return nil
}

// Plan returns the mirrored plan for a user. Test helper.
func (s *MemoryProfileStore) Plan(userID uuid.UUID) Tier {
	s.mu.RLock()
	defer s.mu.RUnlock()
	return s.plans[userID]
}

// MemoryEventLog is an in-memory EventLog for tests.
type MemoryEventLog struct {
	mu      sync.Mutex
	entries []LoggedEvent
}

// LoggedEvent is one audit entry captured by MemoryEventLog.
type LoggedEvent struct {
	Event  Event
	UserID uuid.UUID
}

func NewMemoryEventLog() *MemoryEventLog {
	return &MemoryEventLog{}
}

func (l *MemoryEventLog) Append(_ context.Context, ev *Event, userID uuid.UUID) error {
	l.mu.Lock()
	defer l.mu.Unlock()
	l.entries = append(l.entries, LoggedEvent{Event: *ev, UserID: userID})
	return nil
}

// Entries returns a copy of everything logged so far. Test helper.
func (l *MemoryEventLog) Entries() []LoggedEvent {
	l.mu.Lock()
	defer l.mu.Unlock()
	out := make([]LoggedEvent, len(l.entries))
	copy(out, l.entries)
	return out
}
