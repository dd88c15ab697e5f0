package http

import (
	"errors"
	"net/http"
	"strconv"

	"keyd/internal/domain"
	"keyd/internal/usecase"

	"github.com/gin-gonic/gin"
)

const (
	greeting = "Welcome to RSA by Rest example"

	defaultAuditPageSize = 100
	maxAuditPageSize     = 1000
)

type errorResponse struct {
	Code    string         `json:"code"`
	Message string         `json:"message"`
	Details map[string]any `json:"details,omitempty"`
}

type generateKeyResponse struct {
	KeyID domain.KeyID `json:"keyId"`
}

type listKeysResponse struct {
	Keys []domain.KeyID `json:"keys"`
}

// Pointers distinguish a missing field from the empty string, which is a valid plaintext.
type signRequest struct {
	Data *string `json:"data"`
}

type signResponse struct {
	Signature string `json:"signature"`
}

type verifyRequest struct {
	Data      *string `json:"data"`
	Signature *string `json:"signature"`
}

type verifyResponse struct {
	Verified bool `json:"verified"`
}

type auditEventsResponse struct {
	Events []domain.AuditEvent `json:"events"`
}

func (s *Server) handleGreeting(c *gin.Context) {
	c.String(http.StatusOK, greeting)
}

func (s *Server) handleGenerateKey(c *gin.Context) {
	id, err := s.keys.GenerateKey(c.Request.Context(), caller(c))
	if err != nil {
		s.writeError(c, err)
		return
	}
	c.JSON(http.StatusCreated, generateKeyResponse{KeyID: id})
}

func (s *Server) handleListKeys(c *gin.Context) {
	ids, err := s.keys.ListKeys(c.Request.Context(), caller(c))
	if err != nil {
		s.writeError(c, err)
		return
	}
	if ids == nil {
		ids = []domain.KeyID{}
	}
	c.JSON(http.StatusOK, listKeysResponse{Keys: ids})
}

func (s *Server) handleDeleteKey(c *gin.Context) {
	id, ok := parseKeyID(c)
	if !ok {
		return
	}
	if err := s.keys.DeleteKey(c.Request.Context(), caller(c), id); err != nil {
		s.writeError(c, err)
		return
	}
	c.Status(http.StatusNoContent)
}

func (s *Server) handleSign(c *gin.Context) {
	id, ok := parseKeyID(c)
	if !ok {
		return
	}
	var req signRequest
	if err := c.ShouldBindJSON(&req); err != nil {
		writeErrorCode(c, http.StatusBadRequest, "INVALID_ARGUMENT", "invalid json body")
		return
	}
	if req.Data == nil {
		writeErrorCode(c, http.StatusBadRequest, "INVALID_ARGUMENT", "data is required")
		return
	}
	signature, err := s.keys.Sign(c.Request.Context(), caller(c), id, *req.Data)
	if err != nil {
		s.writeError(c, err)
		return
	}
	c.JSON(http.StatusOK, signResponse{Signature: signature})
}

func (s *Server) handleVerify(c *gin.Context) {
	id, ok := parseKeyID(c)
	if !ok {
		return
	}
	var req verifyRequest
	if err := c.ShouldBindJSON(&req); err != nil {
		writeErrorCode(c, http.StatusBadRequest, "INVALID_ARGUMENT", "invalid json body")
		return
	}
	if req.Data == nil || req.Signature == nil {
		writeErrorCode(c, http.StatusBadRequest, "INVALID_ARGUMENT", "data and signature are required")
		return
	}
	verified, err := s.keys.Verify(c.Request.Context(), caller(c), id, *req.Data, *req.Signature)
	if err != nil {
		s.writeError(c, err)
		return
	}
	c.JSON(http.StatusOK, verifyResponse{Verified: verified})
}

func (s *Server) handleListAuditEvents(c *gin.Context) {
	afterSeq, err := strconv.ParseInt(c.DefaultQuery("after_seq", "0"), 10, 64)
	if err != nil || afterSeq < 0 {
		writeErrorCode(c, http.StatusBadRequest, "INVALID_ARGUMENT", "after_seq must be a non-negative integer")
		return
	}
	limit, err := strconv.Atoi(c.DefaultQuery("limit", strconv.Itoa(defaultAuditPageSize)))
	if err != nil || limit <= 0 || limit > maxAuditPageSize {
		writeErrorCode(c, http.StatusBadRequest, "INVALID_ARGUMENT", "limit must be between 1 and 1000")
		return
	}
	events, err := s.keys.ListAuditEvents(c.Request.Context(), afterSeq, limit)
	if err != nil {
		s.writeError(c, err)
		return
	}
	if events == nil {
		events = []domain.AuditEvent{}
	}
	c.JSON(http.StatusOK, auditEventsResponse{Events: events})
}

func (s *Server) handleNoRoute(c *gin.Context) {
	writeErrorCode(c, http.StatusNotFound, "NOT_FOUND", "route not found")
}

func parseKeyID(c *gin.Context) (domain.KeyID, bool) {
	raw := c.Param("keyId")
	id, err := strconv.ParseUint(raw, 10, 64)
	if err != nil {
		writeErrorCode(c, http.StatusBadRequest, "INVALID_ARGUMENT", "keyId must be an unsigned integer")
		return 0, false
	}
	return domain.KeyID(id), true
}

func caller(c *gin.Context) usecase.Caller {
	return usecase.Caller{
		ClientIP:  c.ClientIP(),
		RequestID: c.GetString(contextRequestID),
	}
}

func (s *Server) writeError(c *gin.Context, err error) {
	status, code, message := http.StatusInternalServerError, "INTERNAL", "internal error"
	switch {
	case errors.Is(err, domain.ErrKeyNotFound):
		status, code, message = http.StatusNotFound, "KEY_NOT_FOUND", "Key not found"
	case errors.Is(err, domain.ErrMalformedSignature):
		status, code, message = http.StatusBadRequest, "MALFORMED_SIGNATURE", "signature is not valid base64"
	case errors.Is(err, domain.ErrMalformedPlaintext):
		status, code, message = http.StatusBadRequest, "MALFORMED_PLAINTEXT", "data is not valid utf-8"
	case errors.Is(err, domain.ErrMalformedInput):
		status, code, message = http.StatusBadRequest, "INVALID_ARGUMENT", err.Error()
	case errors.Is(err, domain.ErrForbidden):
		status, code, message = http.StatusForbidden, "FORBIDDEN", err.Error()
	case errors.Is(err, domain.ErrNotFound):
		status, code, message = http.StatusNotFound, "NOT_FOUND", "not found"
	case errors.Is(err, domain.ErrCryptoUnavailable):
		status, code, message = http.StatusServiceUnavailable, "CRYPTO_UNAVAILABLE", "random source unavailable"
	}
	if status >= http.StatusInternalServerError {
		s.log.WithError(err).WithField("request_id", c.GetString(contextRequestID)).Error("request failed")
	}
	writeErrorCode(c, status, code, message)
}

func writeErrorCode(c *gin.Context, status int, code, message string) {
	c.AbortWithStatusJSON(status, errorResponse{
		Code:    code,
		Message: message,
	})
}
