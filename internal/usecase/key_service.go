package usecase

import (
	"context"
	"errors"
	"fmt"
	"io"
	"slices"
	"strings"
	"time"

	"github.com/sirupsen/logrus"

	"keyd/internal/domain"
)

// Metric result labels.
const (
	ResultOK        = "ok"
	ResultMismatch  = "mismatch"
	ResultNotFound  = "not_found"
	ResultMalformed = "malformed"
	ResultForbidden = "forbidden"
	ResultError     = "error"
)

const (
	errorCodeKeyNotFound        = "KEY_NOT_FOUND"
	errorCodeMalformedSignature = "MALFORMED_SIGNATURE"
	errorCodeMalformedInput     = "MALFORMED_INPUT"
	errorCodeInternal           = "INTERNAL"
)

type KeyService struct {
	Keys    domain.KeyRegistry
	Audit   *AuditEmitter
	Policy  domain.PolicyEvaluator
	Metrics OperationObserver
	Log     logrus.FieldLogger
	Clock   Clock
}

func NewKeyService(keys domain.KeyRegistry, audit *AuditEmitter, policy domain.PolicyEvaluator, metrics OperationObserver, log logrus.FieldLogger) *KeyService {
	return &KeyService{
		Keys:    keys,
		Audit:   audit,
		Policy:  policy,
		Metrics: metrics,
		Log:     log,
	}
}

func (s *KeyService) GenerateKey(ctx context.Context, caller Caller) (id domain.KeyID, err error) {
	start := s.now()
	defer func() { s.observe(domain.OperationGenerate, resultFor(err), start) }()

	if err = s.authorize(ctx, domain.OperationGenerate, nil, 0, caller); err != nil {
		return 0, err
	}
	id, err = s.Keys.Generate(ctx)
	if err != nil {
		return 0, fmt.Errorf("generate key: %w", err)
	}
	s.audit(ctx, domain.AuditEventKeyGenerated, caller, id, nil, map[string]any{
		"algorithm": domain.KeyAlgorithm,
		"bits":      domain.KeyBits,
	})
	s.logger().WithField("key_id", uint64(id)).Info("key generated")
	return id, nil
}

// DeleteKey removes the key. A missing key is reported as domain.ErrKeyNotFound.
func (s *KeyService) DeleteKey(ctx context.Context, caller Caller, id domain.KeyID) (err error) {
	start := s.now()
	defer func() { s.observe(domain.OperationDelete, resultFor(err), start) }()

	if err = s.authorize(ctx, domain.OperationDelete, &id, 0, caller); err != nil {
		return err
	}
	if !s.Keys.Delete(ctx, id) {
		err = domain.ErrKeyNotFound
		s.audit(ctx, domain.AuditEventKeyDeleted, caller, id, err, nil)
		return err
	}
	s.audit(ctx, domain.AuditEventKeyDeleted, caller, id, nil, nil)
	s.logger().WithField("key_id", uint64(id)).Info("key deleted")
	return nil
}

// ListKeys returns the live identifiers in ascending order.
func (s *KeyService) ListKeys(ctx context.Context, caller Caller) (ids []domain.KeyID, err error) {
	start := s.now()
	defer func() { s.observe(domain.OperationList, resultFor(err), start) }()

	if err = s.authorize(ctx, domain.OperationList, nil, 0, caller); err != nil {
		return nil, err
	}
	ids = s.Keys.List(ctx)
	slices.Sort(ids)
	return ids, nil
}

func (s *KeyService) Sign(ctx context.Context, caller Caller, id domain.KeyID, plaintext string) (signature string, err error) {
	start := s.now()
	defer func() { s.observe(domain.OperationSign, resultFor(err), start) }()

	if err = s.authorize(ctx, domain.OperationSign, &id, len(plaintext), caller); err != nil {
		return "", err
	}
	signature, err = s.Keys.Sign(ctx, id, plaintext)
	s.audit(ctx, domain.AuditEventPayloadSigned, caller, id, err, map[string]any{
		"plaintext_bytes": len(plaintext),
	})
	if err != nil {
		return "", err
	}
	return signature, nil
}

func (s *KeyService) Verify(ctx context.Context, caller Caller, id domain.KeyID, plaintext, signature string) (verified bool, err error) {
	start := s.now()
	defer func() {
		result := resultFor(err)
		if err == nil && !verified {
			result = ResultMismatch
		}
		s.observe(domain.OperationVerify, result, start)
	}()

	if err = s.authorize(ctx, domain.OperationVerify, &id, len(plaintext), caller); err != nil {
		return false, err
	}
	verified, err = s.Keys.Verify(ctx, id, plaintext, signature)
	extra := map[string]any{
		"plaintext_bytes": len(plaintext),
	}
	if err == nil {
		extra["verified"] = verified
	}
	s.audit(ctx, domain.AuditEventPayloadVerified, caller, id, err, extra)
	if err != nil {
		return false, err
	}
	return verified, nil
}

// ListAuditEvents pages through the audit chain. A service without an audit
// trail reports domain.ErrNotFound.
func (s *KeyService) ListAuditEvents(ctx context.Context, afterSeq int64, limit int) ([]domain.AuditEvent, error) {
	if s.Audit == nil {
		return nil, domain.ErrNotFound
	}
	if afterSeq < 0 || limit < 0 {
		return nil, fmt.Errorf("%w: negative paging parameters", domain.ErrInvalidArgument)
	}
	return s.Audit.List(ctx, afterSeq, limit)
}

func (s *KeyService) authorize(ctx context.Context, op domain.Operation, id *domain.KeyID, plaintextBytes int, caller Caller) error {
	if s.Policy == nil {
		return nil
	}
	eval, err := s.Policy.Evaluate(ctx, domain.PolicyInput{
		Operation:      op,
		KeyID:          id,
		PlaintextBytes: plaintextBytes,
		ClientIP:       caller.ClientIP,
	})
	if err != nil {
		return fmt.Errorf("evaluate policy: %w", err)
	}
	if eval.Result.Allow {
		return nil
	}
	codes := make([]string, 0, len(eval.Result.Deny))
	for _, deny := range eval.Result.Deny {
		codes = append(codes, deny.Code)
	}
	s.logger().WithFields(logrus.Fields{
		"operation":   op,
		"deny":        codes,
		"module_hash": eval.ModuleHash,
	}).Warn("operation denied by policy")
	if len(codes) == 0 {
		return domain.ErrForbidden
	}
	return fmt.Errorf("%w: %s", domain.ErrForbidden, strings.Join(codes, ","))
}

func (s *KeyService) audit(ctx context.Context, eventType domain.AuditEventType, caller Caller, id domain.KeyID, opErr error, extra map[string]any) {
	if s.Audit == nil {
		return
	}
	result := domain.AuditResultSuccess
	code := ""
	if opErr != nil {
		result = domain.AuditResultFailure
		code = auditErrorCode(opErr)
	}
	if err := s.Audit.EmitKeyEvent(ctx, eventType, caller, id, result, code, extra); err != nil {
		s.logger().WithError(err).WithField("event_type", eventType).Warn("audit append failed")
	}
}

func (s *KeyService) observe(op domain.Operation, result string, start time.Time) {
	if s.Metrics == nil {
		return
	}
	s.Metrics.Observe(op, result, s.now().Sub(start))
}

func (s *KeyService) logger() logrus.FieldLogger {
	if s.Log == nil {
		discard := logrus.New()
		discard.SetOutput(io.Discard)
		return discard
	}
	return s.Log
}

func (s *KeyService) now() time.Time {
	if s.Clock != nil {
		return s.Clock()
	}
	return time.Now()
}

func resultFor(err error) string {
	switch {
	case err == nil:
		return ResultOK
	case errors.Is(err, domain.ErrKeyNotFound):
		return ResultNotFound
	case errors.Is(err, domain.ErrMalformedInput):
		return ResultMalformed
	case errors.Is(err, domain.ErrForbidden):
		return ResultForbidden
	default:
		return ResultError
	}
}

func auditErrorCode(err error) string {
	switch {
	case errors.Is(err, domain.ErrKeyNotFound):
		return errorCodeKeyNotFound
	case errors.Is(err, domain.ErrMalformedSignature):
		return errorCodeMalformedSignature
	case errors.Is(err, domain.ErrMalformedInput):
		return errorCodeMalformedInput
	default:
		return errorCodeInternal
	}
}
