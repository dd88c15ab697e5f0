package usecase

import (
	"context"
	"time"

	"keyd/internal/domain"
)

type Clock func() time.Time

type AuditEventRepository interface {
	Append(ctx context.Context, event domain.AuditEvent) (domain.AuditEvent, error)
	List(ctx context.Context, afterSeq int64, limit int) ([]domain.AuditEvent, error)
}

type OperationObserver interface {
	Observe(op domain.Operation, result string, elapsed time.Duration)
}

// Caller describes who issued a request. Only a hash of ClientIP is ever stored.
type Caller struct {
	ClientIP  string
	RequestID string
}
