// Package auditchain holds the hashing rules shared by every audit event store.
package auditchain

import (
	"crypto/sha256"
	"encoding/hex"
	"encoding/json"
	"errors"
	"time"

	"keyd/internal/domain"
)

// ZeroHash is the prev_event_hash of the first event in a chain.
const ZeroHash = "0000000000000000000000000000000000000000000000000000000000000000"

// ComputePayload returns the canonical JSON of payload and its hex SHA-256.
// encoding/json sorts map keys, which is all the canonical form needs here.
func ComputePayload(payload map[string]any) ([]byte, string, error) {
	if payload == nil {
		payload = map[string]any{}
	}
	canonical, err := json.Marshal(payload)
	if err != nil {
		return nil, "", err
	}
	sum := sha256.Sum256(canonical)
	return canonical, hex.EncodeToString(sum[:]), nil
}

func ComputeEventHash(event domain.AuditEvent) (string, error) {
	if event.PayloadHash == "" {
		return "", errors.New("payload_hash is required")
	}
	if event.PrevEventHash == "" {
		return "", errors.New("prev_event_hash is required")
	}
	doc := map[string]any{
		"v":               domain.AuditChainVersion,
		"seq":             event.Seq,
		"event_type":      string(event.EventType),
		"target_id":       event.TargetID,
		"result":          string(event.Result),
		"payload_hash":    event.PayloadHash,
		"prev_event_hash": event.PrevEventHash,
		"created_at":      event.CreatedAt.UTC().Format(time.RFC3339Nano),
	}
	canonical, err := json.Marshal(doc)
	if err != nil {
		return "", err
	}
	sum := sha256.Sum256(canonical)
	return hex.EncodeToString(sum[:]), nil
}

// Verify walks events in seq order and reports the first broken link.
func Verify(events []domain.AuditEvent) error {
	prev := ZeroHash
	for i, event := range events {
		if event.Seq != int64(i+1) {
			return errors.New("audit chain has a sequence gap")
		}
		if event.PrevEventHash != prev {
			return errors.New("audit chain prev_event_hash mismatch")
		}
		_, payloadHash, err := ComputePayload(event.Payload)
		if err != nil {
			return err
		}
		if payloadHash != event.PayloadHash {
			return errors.New("audit chain payload_hash mismatch")
		}
		hash, err := ComputeEventHash(event)
		if err != nil {
			return err
		}
		if hash != event.EventHash {
			return errors.New("audit chain event_hash mismatch")
		}
		prev = event.EventHash
	}
	return nil
}
