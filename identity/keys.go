package identity

import (
	"crypto/ed25519"
	"crypto/rand"
	"errors"
	"fmt"
	"strings"

	"github.com/mr-tron/base58/base58"
)

var (
	ErrInvalidPublicKey  = errors.New("identity: invalid public key")
	ErrInvalidPrivateKey = errors.New("identity: invalid private key")
	ErrInvalidSignature  = errors.New("identity: invalid signature")
)

// Encode renders raw key or address bytes in base58.
func Encode(raw []byte) string {
	return base58.Encode(raw)
}

// PublicKey decodes a base58 identity into an ed25519 public key.
func PublicKey(id string) (ed25519.PublicKey, error) {
	id = strings.TrimSpace(id)
	if id == "" {
		return nil, fmt.Errorf("%w: empty identity", ErrInvalidPublicKey)
	}
	raw, err := base58.Decode(id)
	if err != nil {
		return nil, fmt.Errorf("%w: %v", ErrInvalidPublicKey, err)
	}
	if len(raw) != ed25519.PublicKeySize {
		return nil, fmt.Errorf("%w: size %d", ErrInvalidPublicKey, len(raw))
	}
	return ed25519.PublicKey(raw), nil
}

func Validate(id string) error {
	_, err := PublicKey(id)
	return err
}

// PrivateKey decodes a base58 ed25519 secret key (64 bytes, seed then public key).
func PrivateKey(secret string) (ed25519.PrivateKey, error) {
	raw, err := base58.Decode(strings.TrimSpace(secret))
	if err != nil {
		return nil, fmt.Errorf("%w: %v", ErrInvalidPrivateKey, err)
	}
	switch len(raw) {
	case ed25519.PrivateKeySize:
		return ed25519.PrivateKey(raw), nil
	case ed25519.SeedSize:
		return ed25519.NewKeyFromSeed(raw), nil
	default:
		return nil, fmt.Errorf("%w: size %d", ErrInvalidPrivateKey, len(raw))
	}
}

func FromPrivateKey(key ed25519.PrivateKey) (string, error) {
	if len(key) != ed25519.PrivateKeySize {
		return "", ErrInvalidPrivateKey
	}
	return Encode(key.Public().(ed25519.PublicKey)), nil
}

// Generate returns a fresh key pair and its base58 identity.
func Generate() (string, ed25519.PrivateKey, error) {
	public, private, err := ed25519.GenerateKey(rand.Reader)
	if err != nil {
		return "", nil, err
	}
	return Encode(public), private, nil
}

func Sign(key ed25519.PrivateKey, message []byte) (string, error) {
	if len(key) != ed25519.PrivateKeySize {
		return "", ErrInvalidPrivateKey
	}
	return Encode(ed25519.Sign(key, message)), nil
}

func Verify(id string, message []byte, signature string) error {
	public, err := PublicKey(id)
	if err != nil {
		return err
	}
	raw, err := base58.Decode(strings.TrimSpace(signature))
	if err != nil || len(raw) != ed25519.SignatureSize {
		return ErrInvalidSignature
	}
	if !ed25519.Verify(public, message, raw) {
		return ErrInvalidSignature
	}
	return nil
}
