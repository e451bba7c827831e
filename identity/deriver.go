package identity

import (
	"encoding/binary"
	"fmt"
	"strings"

	"golang.org/x/crypto/blake2b"
)

const DefaultNamespace = "go-custody"

const (
	seedConfig = "wallet_state"
	seedLedger = "user_account"
	seedAgent  = "sp_account"
	seedPool   = "vault"
)

// Deriver maps identities to stable record addresses. Seeds are length
// prefixed before hashing so distinct seed lists never share an encoding.
type Deriver struct {
	namespace []byte
}

func NewDeriver(namespace string) *Deriver {
	namespace = strings.TrimSpace(namespace)
	if namespace == "" {
		namespace = DefaultNamespace
	}
	return &Deriver{namespace: []byte(namespace)}
}

func (d *Deriver) ConfigAddress() (string, error) {
	return d.derive([]byte(seedConfig))
}

func (d *Deriver) LedgerAddress(user string, asset string) (string, error) {
	userKey, err := PublicKey(user)
	if err != nil {
		return "", fmt.Errorf("identity: user: %w", err)
	}
	assetKey, err := PublicKey(asset)
	if err != nil {
		return "", fmt.Errorf("identity: asset: %w", err)
	}
	return d.derive([]byte(seedLedger), userKey, assetKey)
}

func (d *Deriver) AgentAddress(agent string) (string, error) {
	agentKey, err := PublicKey(agent)
	if err != nil {
		return "", fmt.Errorf("identity: agent: %w", err)
	}
	return d.derive([]byte(seedAgent), agentKey)
}

func (d *Deriver) PoolAddress(asset string) (string, error) {
	assetKey, err := PublicKey(asset)
	if err != nil {
		return "", fmt.Errorf("identity: asset: %w", err)
	}
	return d.derive([]byte(seedPool), assetKey)
}

func (d *Deriver) derive(seeds ...[]byte) (string, error) {
	if d == nil {
		return "", fmt.Errorf("identity: deriver is not configured")
	}
	h, err := blake2b.New256(d.namespace)
	if err != nil {
		return "", fmt.Errorf("identity: init hash: %w", err)
	}
	var prefix [4]byte
	for _, seed := range seeds {
		binary.BigEndian.PutUint32(prefix[:], uint32(len(seed)))
		h.Write(prefix[:])
		h.Write(seed)
	}
	return Encode(h.Sum(nil)), nil
}
