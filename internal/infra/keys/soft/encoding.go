package soft

import (
	"crypto/sha256"
	"encoding/base64"
	"fmt"
	"unicode/utf8"

	"keyd/internal/domain"
)

// plaintextDigest returns the SHA-256 digest of the UTF-8 encoding of plaintext.
func plaintextDigest(plaintext string) ([]byte, error) {
	if !utf8.ValidString(plaintext) {
		return nil, domain.ErrMalformedPlaintext
	}
	sum := sha256.Sum256([]byte(plaintext))
	return sum[:], nil
}

// Signatures travel as standard padded base64, never the URL-safe alphabet.
func encodeSignature(sig []byte) string {
	return base64.StdEncoding.EncodeToString(sig)
}

func decodeSignature(value string) ([]byte, error) {
	sig, err := base64.StdEncoding.DecodeString(value)
	if err != nil {
		return nil, fmt.Errorf("%w: %w", domain.ErrMalformedSignature, err)
	}
	return sig, nil
}
