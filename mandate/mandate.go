// Package mandate accepts payer-signed settlement mandates, queues them and
// settles them through the custody service on behalf of the agent.
package mandate

import (
	"crypto/ed25519"
	"encoding/json"
	"errors"
	"fmt"
	"strings"

	"github.com/mr-tron/base58/base58"
	"golang.org/x/crypto/blake2b"

	"github.com/goliatone/go-custody/core"
	"github.com/goliatone/go-custody/identity"
)

var (
	ErrInvalidMandate   = errors.New("mandate: invalid mandate")
	ErrInvalidSignature = errors.New("mandate: invalid payer signature")
	ErrDuplicateMandate = errors.New("mandate: mandate already enqueued")
	ErrNotFound         = errors.New("mandate: record not found")
	ErrNotClaimable     = errors.New("mandate: record is not enqueued")
)

// Mandate is the payer's authorization for one settlement. Field order is
// part of the signed encoding.
type Mandate struct {
	Payer     core.Identity `json:"payer"`
	Asset     core.AssetID  `json:"asset"`
	Payee     core.Identity `json:"payee"`
	Amount    uint64        `json:"amount,string"`
	Nonce     uint64        `json:"nonce,string"`
	Deadline  int64         `json:"deadline"`
	Reference string        `json:"ref"`
}

func (m Mandate) Validate() error {
	fields := []struct{ name, value string }{{"payer", m.Payer}, {"asset", m.Asset}, {"payee", m.Payee}}
	for _, field := range fields {
		if err := identity.Validate(field.value); err != nil {
			return fmt.Errorf("%w: %s: %v", ErrInvalidMandate, field.name, err)
		}
	}
	if m.Amount == 0 {
		return fmt.Errorf("%w: amount must be positive", ErrInvalidMandate)
	}
	if _, err := core.ParseReference(m.Reference); err != nil {
		return fmt.Errorf("%w: %v", ErrInvalidMandate, err)
	}
	return nil
}

func (m Mandate) ParsedReference() core.Reference {
	ref, _ := core.ParseReference(m.Reference)
	return ref
}

func (m Mandate) normalized() Mandate {
	m.Payer = strings.TrimSpace(m.Payer)
	m.Asset = strings.TrimSpace(m.Asset)
	m.Payee = strings.TrimSpace(m.Payee)
	m.Reference = strings.ToLower(strings.TrimPrefix(strings.TrimSpace(m.Reference), "0x"))
	return m
}

// CanonicalBytes is the byte string the payer signs.
func (m Mandate) CanonicalBytes() []byte {
	raw, _ := json.Marshal(m.normalized())
	return raw
}

func (m Mandate) Digest() string {
	sum := blake2b.Sum256(m.CanonicalBytes())
	return base58.Encode(sum[:])
}

func (m Mandate) SettleRequest(agent core.Identity) core.SettleRequest {
	m = m.normalized()
	return core.SettleRequest{
		Caller:    agent,
		Payer:     m.Payer,
		Payee:     m.Payee,
		Asset:     m.Asset,
		Amount:    m.Amount,
		Nonce:     m.Nonce,
		Deadline:  m.Deadline,
		Reference: m.ParsedReference(),
	}
}

func Sign(key ed25519.PrivateKey, m Mandate) (string, error) {
	return identity.Sign(key, m.CanonicalBytes())
}

func Verify(m Mandate, signature string) error {
	if err := identity.Verify(m.Payer, m.CanonicalBytes(), signature); err != nil {
		return fmt.Errorf("%w: %v", ErrInvalidSignature, err)
	}
	return nil
}

type SignedMandate struct {
	Mandate   Mandate `json:"mandate"`
	Signature string  `json:"payerSig"`
}

// Receipt is the agent's commitment to settle Digest before EnqueueDeadline.
type Receipt struct {
	Agent           core.Identity `json:"sp"`
	MandateDigest   string        `json:"mandateDigest"`
	EnqueueDeadline int64         `json:"enqueueDeadline"`
	AgentSignature  string        `json:"spEnqueueSig"`
}

func receiptMessage(digest string, deadline int64) []byte {
	return fmt.Appendf(nil, "%s:%d", digest, deadline)
}

func VerifyReceipt(r Receipt) error {
	if err := identity.Verify(r.Agent, receiptMessage(r.MandateDigest, r.EnqueueDeadline), r.AgentSignature); err != nil {
		return fmt.Errorf("%w: receipt: %v", ErrInvalidSignature, err)
	}
	return nil
}
