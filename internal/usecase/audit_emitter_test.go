package usecase

import (
	"context"
	"encoding/hex"
	"fmt"
	"strings"
	"testing"
	"time"

	"keyd/internal/domain"
)

type auditRepoStub struct {
	events []domain.AuditEvent
	err    error
}

func (r *auditRepoStub) Append(ctx context.Context, event domain.AuditEvent) (domain.AuditEvent, error) {
	if r.err != nil {
		return domain.AuditEvent{}, r.err
	}
	event.Seq = int64(len(r.events)) + 1
	r.events = append(r.events, event)
	return event, nil
}

func (r *auditRepoStub) List(ctx context.Context, afterSeq int64, limit int) ([]domain.AuditEvent, error) {
	out := make([]domain.AuditEvent, 0, len(r.events))
	for _, event := range r.events {
		if event.Seq > afterSeq {
			out = append(out, event)
		}
	}
	return out, nil
}

func TestAuditEmitter_KeyEvent_HashesClientAddress(t *testing.T) {
	repo := &auditRepoStub{}
	emitter := NewAuditEmitter(repo, func() time.Time {
		return time.Date(2026, 10, 15, 10, 0, 0, 0, time.UTC)
	})

	clientIP := "203.0.113.7"
	err := emitter.EmitKeyEvent(context.Background(), domain.AuditEventKeyGenerated, Caller{ClientIP: clientIP, RequestID: "req-1"}, 1000, domain.AuditResultSuccess, "", nil)
	if err != nil {
		t.Fatalf("emit audit event: %v", err)
	}
	if len(repo.events) != 1 {
		t.Fatalf("expected 1 audit event, got %d", len(repo.events))
	}
	event := repo.events[0]
	if event.ActorType != domain.AuditActorClient {
		t.Fatalf("expected client actor, got %s", event.ActorType)
	}
	if _, err := hex.DecodeString(event.ActorIDHash); err != nil || len(event.ActorIDHash) != 64 {
		t.Fatal("actor_id_hash must be lowercase sha256 hex")
	}
	if strings.Contains(fmt.Sprint(event.Payload), clientIP) {
		t.Fatal("payload must not contain the raw client address")
	}
	if event.TargetID != "1000" {
		t.Fatalf("expected target 1000, got %q", event.TargetID)
	}
	if event.Payload["request_id"] != "req-1" {
		t.Fatalf("expected request id in payload, got %v", event.Payload)
	}
	if !event.CreatedAt.Equal(time.Date(2026, 10, 15, 10, 0, 0, 0, time.UTC)) {
		t.Fatalf("expected clock time, got %v", event.CreatedAt)
	}
}

func TestAuditEmitter_SystemActorWithoutClient(t *testing.T) {
	repo := &auditRepoStub{}
	emitter := NewAuditEmitter(repo, nil)

	if err := emitter.EmitKeyEvent(context.Background(), domain.AuditEventKeyDeleted, Caller{}, 1001, domain.AuditResultFailure, "KEY_NOT_FOUND", nil); err != nil {
		t.Fatalf("emit: %v", err)
	}
	event := repo.events[0]
	if event.ActorType != domain.AuditActorSystem || event.ActorIDHash != "" {
		t.Fatalf("expected anonymous system actor, got %s %q", event.ActorType, event.ActorIDHash)
	}
	if event.ErrorCode != "KEY_NOT_FOUND" {
		t.Fatalf("unexpected error code %q", event.ErrorCode)
	}
}

func TestAuditEmitter_RejectsIncompleteEvent(t *testing.T) {
	emitter := NewAuditEmitter(&auditRepoStub{}, nil)
	if _, err := emitter.Emit(context.Background(), domain.AuditEvent{EventType: domain.AuditEventKeyGenerated}); err == nil {
		t.Fatal("expected error for missing fields")
	}
}

func TestAuditEmitter_NilRepo(t *testing.T) {
	var emitter *AuditEmitter
	if _, err := emitter.Emit(context.Background(), domain.AuditEvent{}); err == nil {
		t.Fatal("expected error for nil emitter")
	}
}
