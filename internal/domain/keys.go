package domain

import (
	"context"
	"strconv"
)

// KeyID identifies a key pair held by the registry. Ids are never reused.
type KeyID uint64

func (id KeyID) String() string {
	return strconv.FormatUint(uint64(id), 10)
}

const (
	// InitialKeyID is the first identifier handed out by a fresh allocator.
	InitialKeyID KeyID = 1000

	KeyBits      = 2048
	KeyAlgorithm = "RSA"
	SigAlgorithm = "SHA256withRSA"
)

type Operation string

const (
	OperationGenerate Operation = "generate"
	OperationDelete   Operation = "delete"
	OperationList     Operation = "list"
	OperationSign     Operation = "sign"
	OperationVerify   Operation = "verify"
)

// KeyRegistry owns key material and performs all cryptographic operations on it.
// Callers only ever see identifiers and results.
type KeyRegistry interface {
	Generate(ctx context.Context) (KeyID, error)
	Delete(ctx context.Context, id KeyID) bool
	List(ctx context.Context) []KeyID
	Sign(ctx context.Context, id KeyID, plaintext string) (string, error)
	Verify(ctx context.Context, id KeyID, plaintext string, signature string) (bool, error)
}
