package secrets

import (
	"context"
	"errors"
	"fmt"
	"strings"

	"go.uber.org/zap"

	"github.com/Checker-Finance/oneself-console/internal/crypto"
	pkgsecrets "github.com/Checker-Finance/oneself-console/pkg/secrets"
)

// Secret fields holding the login key pair.
const (
	FieldPublicKey  = "public_key"
	FieldPrivateKey = "private_key"
)

var (
	// ErrNoPublicKey is returned when neither the environment nor the secret
	// store provides a public key.
	ErrNoPublicKey = errors.New("no rsa public key configured")
	// ErrKeyMismatch is returned by Verify when the private key cannot read
	// what the public key encrypted.
	ErrKeyMismatch = errors.New("rsa key pair mismatch")
)

const verifyCanary = "oneself-console-key-check"

// KeyResolver supplies the RSA key pair used to encrypt login passwords.
//
// Keys given directly (ONESELF_UI_PUBLIC_KEY and friends) win. Otherwise the
// pair is read from a Secrets Manager entry and cached for the cache TTL.
type KeyResolver struct {
	logger     *zap.Logger
	static     crypto.KeyPair
	secretName string
	provider   pkgsecrets.Provider
	cache      *pkgsecrets.Cache[crypto.KeyPair]
}

// NewKeyResolver builds a resolver. provider and cache may be nil when
// secretName is empty.
func NewKeyResolver(
	logger *zap.Logger,
	static crypto.KeyPair,
	secretName string,
	provider pkgsecrets.Provider,
	cache *pkgsecrets.Cache[crypto.KeyPair],
) *KeyResolver {
	if logger == nil {
		logger = zap.NewNop()
	}
	return &KeyResolver{
		logger:     logger,
		static:     static,
		secretName: strings.TrimSpace(secretName),
		provider:   provider,
		cache:      cache,
	}
}

// KeyPair returns the current key pair.
func (r *KeyResolver) KeyPair(ctx context.Context) (crypto.KeyPair, error) {
	if strings.TrimSpace(r.static.PublicKey) != "" {
		return r.static, nil
	}
	if r.secretName == "" || r.provider == nil {
		return crypto.KeyPair{}, ErrNoPublicKey
	}
	if r.cache == nil {
		return r.fetch(ctx)
	}
	return r.cache.GetOrLoad(r.secretName, func() (crypto.KeyPair, error) {
		return r.fetch(ctx)
	})
}

// PublicKey is a shorthand for KeyPair(ctx).PublicKey.
func (r *KeyResolver) PublicKey(ctx context.Context) (string, error) {
	kp, err := r.KeyPair(ctx)
	if err != nil {
		return "", err
	}
	return kp.PublicKey, nil
}

// Verify encrypts a canary with the public key and decrypts it with the
// private key. It reports false when no private key is configured.
func (r *KeyResolver) Verify(ctx context.Context) (bool, error) {
	kp, err := r.KeyPair(ctx)
	if err != nil {
		return false, err
	}
	if kp.PrivateKey == "" {
		return false, nil
	}
	cipher, err := crypto.EncryptPassword(verifyCanary, kp.PublicKey)
	if err != nil {
		return false, err
	}
	plain, err := crypto.DecryptPassword(cipher, kp.PrivateKey)
	if err != nil {
		return false, fmt.Errorf("%w: %v", ErrKeyMismatch, err)
	}
	if plain != verifyCanary {
		return false, ErrKeyMismatch
	}
	r.logger.Info("keys.pair_verified")
	return true, nil
}

// Rotate drops the cached pair so the next call reads the secret again.
func (r *KeyResolver) Rotate() {
	if r.cache != nil && r.secretName != "" {
		r.cache.Bust(r.secretName)
		r.logger.Info("keys.cache_busted", zap.String("secret", r.secretName))
	}
}

func (r *KeyResolver) fetch(ctx context.Context) (crypto.KeyPair, error) {
	secretMap, err := r.provider.GetSecret(ctx, r.secretName)
	if err != nil {
		r.logger.Warn("aws.secret_fetch_failed",
			zap.String("key", r.secretName),
			zap.Error(err))
		return crypto.KeyPair{}, fmt.Errorf("resolve rsa keys: %w", err)
	}

	kp := crypto.KeyPair{
		PublicKey:  strings.TrimSpace(secretMap[FieldPublicKey]),
		PrivateKey: strings.TrimSpace(secretMap[FieldPrivateKey]),
	}
	if kp.PublicKey == "" {
		return crypto.KeyPair{}, fmt.Errorf("secret %q: %w", r.secretName, ErrNoPublicKey)
	}

	r.logger.Info("aws.rsa_keys_resolved",
		zap.String("secret", r.secretName),
		zap.Bool("has_private_key", kp.PrivateKey != ""))
	return kp, nil
}
