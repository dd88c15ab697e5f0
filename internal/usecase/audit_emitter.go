package usecase

import (
	"context"
	"crypto/sha256"
	"encoding/hex"
	"errors"
	"time"

	"keyd/internal/domain"
)

type AuditEmitter struct {
	Repo  AuditEventRepository
	Clock Clock
}

func NewAuditEmitter(repo AuditEventRepository, clock Clock) *AuditEmitter {
	return &AuditEmitter{
		Repo:  repo,
		Clock: clock,
	}
}

func (e *AuditEmitter) Emit(ctx context.Context, event domain.AuditEvent) (domain.AuditEvent, error) {
	if e == nil || e.Repo == nil {
		return domain.AuditEvent{}, errors.New("audit repository required")
	}
	if event.EventType == "" || event.TargetType == "" || event.Result == "" || event.ActorType == "" {
		return domain.AuditEvent{}, errors.New("audit event missing required fields")
	}
	if event.Payload == nil {
		event.Payload = map[string]any{}
	}
	if event.CreatedAt.IsZero() {
		event.CreatedAt = e.now().UTC()
	} else {
		event.CreatedAt = event.CreatedAt.UTC()
	}
	return e.Repo.Append(ctx, event)
}

// EmitKeyEvent records an operation against a single key. extra is merged into
// the payload and must not carry key material, plaintext or signatures.
func (e *AuditEmitter) EmitKeyEvent(ctx context.Context, eventType domain.AuditEventType, caller Caller, id domain.KeyID, result domain.AuditResult, errorCode string, extra map[string]any) error {
	payload := map[string]any{
		"key_id": uint64(id),
	}
	if caller.RequestID != "" {
		payload["request_id"] = caller.RequestID
	}
	for k, v := range extra {
		payload[k] = v
	}
	actorType := domain.AuditActorClient
	if caller.ClientIP == "" {
		actorType = domain.AuditActorSystem
	}
	_, err := e.Emit(ctx, domain.AuditEvent{
		ActorType:   actorType,
		ActorIDHash: hashString(caller.ClientIP),
		EventType:   eventType,
		Payload:     payload,
		TargetType:  domain.AuditTargetKey,
		TargetID:    id.String(),
		Result:      result,
		ErrorCode:   errorCode,
	})
	return err
}

func (e *AuditEmitter) List(ctx context.Context, afterSeq int64, limit int) ([]domain.AuditEvent, error) {
	if e == nil || e.Repo == nil {
		return nil, errors.New("audit repository required")
	}
	return e.Repo.List(ctx, afterSeq, limit)
}

func (e *AuditEmitter) now() time.Time {
	if e.Clock != nil {
		return e.Clock()
	}
	return time.Now()
}

func hashString(value string) string {
	if value == "" {
		return ""
	}
	sum := sha256.Sum256([]byte(value))
	return hex.EncodeToString(sum[:])
}
