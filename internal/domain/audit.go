package domain

import "time"

const AuditChainVersion = "keyd_audit_chain_v0"

type AuditActorType string

const (
	AuditActorSystem AuditActorType = "system"
	AuditActorClient AuditActorType = "client"
)

type AuditEventType string

const (
	AuditEventKeyGenerated    AuditEventType = "key_generated"
	AuditEventKeyDeleted      AuditEventType = "key_deleted"
	AuditEventPayloadSigned   AuditEventType = "payload_signed"
	AuditEventPayloadVerified AuditEventType = "payload_verified"
)

type AuditTargetType string

const AuditTargetKey AuditTargetType = "key"

type AuditResult string

const (
	AuditResultSuccess AuditResult = "success"
	AuditResultFailure AuditResult = "failure"
)

// AuditEvent is one link of the audit hash chain. Payloads carry identifiers and
// outcomes only; key material, plaintext and signatures are never recorded.
type AuditEvent struct {
	ID            string          `json:"id"`
	Seq           int64           `json:"seq"`
	EventType     AuditEventType  `json:"event_type"`
	Payload       map[string]any  `json:"payload"`
	PayloadHash   string          `json:"payload_hash"`
	ActorType     AuditActorType  `json:"actor_type"`
	ActorIDHash   string          `json:"actor_id_hash,omitempty"`
	TargetType    AuditTargetType `json:"target_type"`
	TargetID      string          `json:"target_id,omitempty"`
	Result        AuditResult     `json:"result"`
	ErrorCode     string          `json:"error_code,omitempty"`
	PrevEventHash string          `json:"prev_event_hash"`
	EventHash     string          `json:"event_hash"`
	CreatedAt     time.Time       `json:"created_at"`
}
