package auditmem

import (
	"context"
	"errors"
	"sync"
	"time"

	"keyd/internal/domain"
	"keyd/internal/infra/auditchain"

	"github.com/google/uuid"
)

// Store is an in-process audit event chain. It is the default when no database
// is configured and is lost on restart.
type Store struct {
	mu     sync.Mutex
	events []domain.AuditEvent
	now    func() time.Time
}

func New() *Store {
	return NewWithClock(nil)
}

func NewWithClock(now func() time.Time) *Store {
	if now == nil {
		now = time.Now
	}
	return &Store{now: now}
}

func (s *Store) Append(_ context.Context, event domain.AuditEvent) (domain.AuditEvent, error) {
	if event.EventType == "" {
		return domain.AuditEvent{}, errors.New("event_type is required")
	}
	if event.ID == "" {
		event.ID = uuid.NewString()
	}
	if event.CreatedAt.IsZero() {
		event.CreatedAt = s.now()
	}
	event.CreatedAt = event.CreatedAt.UTC().Truncate(time.Microsecond)
	if event.Payload == nil {
		event.Payload = map[string]any{}
	}
	_, payloadHash, err := auditchain.ComputePayload(event.Payload)
	if err != nil {
		return domain.AuditEvent{}, err
	}
	event.PayloadHash = payloadHash

	s.mu.Lock()
	defer s.mu.Unlock()
	event.Seq = int64(len(s.events)) + 1
	event.PrevEventHash = auditchain.ZeroHash
	if len(s.events) > 0 {
		event.PrevEventHash = s.events[len(s.events)-1].EventHash
	}
	hash, err := auditchain.ComputeEventHash(event)
	if err != nil {
		return domain.AuditEvent{}, err
	}
	event.EventHash = hash
	s.events = append(s.events, event)
	return event, nil
}

func (s *Store) List(_ context.Context, afterSeq int64, limit int) ([]domain.AuditEvent, error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	if afterSeq < 0 {
		afterSeq = 0
	}
	if afterSeq >= int64(len(s.events)) {
		return []domain.AuditEvent{}, nil
	}
	tail := s.events[afterSeq:]
	if limit > 0 && len(tail) > limit {
		tail = tail[:limit]
	}
	out := make([]domain.AuditEvent, len(tail))
	copy(out, tail)
	return out, nil
}
