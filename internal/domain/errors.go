package domain

import (
	"errors"
	"fmt"
)

var (
	ErrKeyNotFound       = errors.New("key not found")
	ErrMalformedInput    = errors.New("malformed input")
	ErrCryptoUnavailable = errors.New("crypto unavailable")
	ErrForbidden         = errors.New("forbidden")
	ErrNotFound          = errors.New("not found")

	ErrMalformedSignature = fmt.Errorf("%w: signature is not valid base64", ErrMalformedInput)
	ErrMalformedPlaintext = fmt.Errorf("%w: plaintext is not valid utf-8", ErrMalformedInput)
	ErrInvalidArgument    = fmt.Errorf("%w: invalid argument", ErrMalformedInput)
)
