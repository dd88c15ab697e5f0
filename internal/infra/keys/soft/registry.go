package soft

import (
	"context"
	"crypto"
	"crypto/rand"
	"crypto/rsa"
	"fmt"
	"io"
	"sync"

	"keyd/internal/domain"
)

// Registry keeps RSA key pairs in memory, addressed by allocator-issued ids.
// Stored keys are immutable; the lock only guards the map, never RSA arithmetic.
type Registry struct {
	mu   sync.RWMutex
	keys map[domain.KeyID]*rsa.PrivateKey

	ids    *Allocator
	random io.Reader
	bits   int
}

type Option func(*Registry)

func WithAllocator(a *Allocator) Option {
	return func(r *Registry) {
		if a != nil {
			r.ids = a
		}
	}
}

// WithRandom replaces crypto/rand as the entropy source for key generation.
func WithRandom(random io.Reader) Option {
	return func(r *Registry) {
		if random != nil {
			r.random = random
		}
	}
}

func NewRegistry(opts ...Option) *Registry {
	r := &Registry{
		keys:   make(map[domain.KeyID]*rsa.PrivateKey),
		ids:    NewAllocator(domain.InitialKeyID),
		random: rand.Reader,
		bits:   domain.KeyBits,
	}
	for _, opt := range opts {
		opt(r)
	}
	return r
}

// SelfTest checks that the entropy source is readable.
func (r *Registry) SelfTest() error {
	buf := make([]byte, 32)
	if _, err := io.ReadFull(r.random, buf); err != nil {
		return fmt.Errorf("%w: read random source: %w", domain.ErrCryptoUnavailable, err)
	}
	return nil
}

func (r *Registry) Generate(_ context.Context) (domain.KeyID, error) {
	key, err := rsa.GenerateKey(r.random, r.bits)
	if err != nil {
		return 0, fmt.Errorf("%w: generate rsa key: %w", domain.ErrCryptoUnavailable, err)
	}
	id := r.ids.Next()

	r.mu.Lock()
	r.keys[id] = key
	r.mu.Unlock()
	return id, nil
}

func (r *Registry) Delete(_ context.Context, id domain.KeyID) bool {
	r.mu.Lock()
	defer r.mu.Unlock()
	if _, ok := r.keys[id]; !ok {
		return false
	}
	delete(r.keys, id)
	return true
}

func (r *Registry) List(_ context.Context) []domain.KeyID {
	r.mu.RLock()
	defer r.mu.RUnlock()
	out := make([]domain.KeyID, 0, len(r.keys))
	for id := range r.keys {
		out = append(out, id)
	}
	return out
}

func (r *Registry) Len() int {
	r.mu.RLock()
	defer r.mu.RUnlock()
	return len(r.keys)
}

func (r *Registry) Sign(_ context.Context, id domain.KeyID, plaintext string) (string, error) {
	key := r.lookup(id)
	if key == nil {
		return "", domain.ErrKeyNotFound
	}
	digest, err := plaintextDigest(plaintext)
	if err != nil {
		return "", err
	}
	sig, err := rsa.SignPKCS1v15(nil, key, crypto.SHA256, digest)
	if err != nil {
		return "", fmt.Errorf("sign with key %d: %w", id, err)
	}
	return encodeSignature(sig), nil
}

func (r *Registry) Verify(_ context.Context, id domain.KeyID, plaintext string, signature string) (bool, error) {
	key := r.lookup(id)
	if key == nil {
		return false, domain.ErrKeyNotFound
	}
	digest, err := plaintextDigest(plaintext)
	if err != nil {
		return false, err
	}
	sig, err := decodeSignature(signature)
	if err != nil {
		return false, err
	}
	if err := rsa.VerifyPKCS1v15(&key.PublicKey, crypto.SHA256, digest, sig); err != nil {
		return false, nil
	}
	return true, nil
}

func (r *Registry) lookup(id domain.KeyID) *rsa.PrivateKey {
	r.mu.RLock()
	defer r.mu.RUnlock()
	return r.keys[id]
}

var _ domain.KeyRegistry = (*Registry)(nil)
