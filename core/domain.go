package core

import (
	"encoding/hex"
	"fmt"
	"strings"
	"time"
)

type Identity = string

type AssetID = string

// Reference is the opaque 32 byte correlation tag carried by a mandate.
type Reference [32]byte

func (r Reference) String() string {
	return hex.EncodeToString(r[:])
}

func (r Reference) IsZero() bool {
	return r == Reference{}
}

func ParseReference(value string) (Reference, error) {
	value = strings.TrimPrefix(strings.TrimSpace(value), "0x")
	var ref Reference
	if value == "" {
		return ref, nil
	}
	raw, err := hex.DecodeString(value)
	if err != nil {
		return Reference{}, fmt.Errorf("core: invalid reference encoding: %w", err)
	}
	if len(raw) != len(ref) {
		return Reference{}, fmt.Errorf("core: invalid reference length %d", len(raw))
	}
	copy(ref[:], raw)
	return ref, nil
}

type LockState string

const (
	LockStateIdle   LockState = "idle"
	LockStateLocked LockState = "locked"
)

type WithdrawLock struct {
	LockedAmount uint64
	UnlockTime   int64
}

func (l WithdrawLock) State() LockState {
	if l.LockedAmount == 0 {
		return LockStateIdle
	}
	return LockStateLocked
}

type Ledger struct {
	Address    string
	User       Identity
	Asset      AssetID
	Balance    uint64
	Lock       WithdrawLock
	UsedNonces NonceWindow
	CreatedAt  time.Time
	UpdatedAt  time.Time
}

func NewLedger(address string, user Identity, asset AssetID) Ledger {
	return Ledger{
		Address: strings.TrimSpace(address),
		User:    strings.TrimSpace(user),
		Asset:   strings.TrimSpace(asset),
	}
}

// Clone returns a copy that shares no nonce storage with the receiver.
func (l Ledger) Clone() Ledger {
	cloned := l
	cloned.UsedNonces = l.UsedNonces.Clone()
	return cloned
}

type GlobalConfig struct {
	Address              string
	Admin                Identity
	WithdrawDelaySeconds int64
	CreatedAt            time.Time
}

func (c GlobalConfig) WithdrawDelay() time.Duration {
	return time.Duration(c.WithdrawDelaySeconds) * time.Second
}

type AgentAuthorization struct {
	Address   string
	Agent     Identity
	Enabled   bool
	UpdatedBy Identity
	CreatedAt time.Time
	UpdatedAt time.Time
}

type InitializeRequest struct {
	Caller               Identity
	WithdrawDelaySeconds int64
}

type DepositRequest struct {
	Caller Identity
	Asset  AssetID
	Amount uint64
}

type WithdrawRequest struct {
	Caller Identity
	Asset  AssetID
	Amount uint64
}

type ExecuteWithdrawRequest struct {
	Caller Identity
	Asset  AssetID
}

type SettleRequest struct {
	Caller    Identity
	Payer     Identity
	Payee     Identity
	Asset     AssetID
	Amount    uint64
	Nonce     uint64
	Deadline  int64
	Reference Reference
}

type SetAgentRequest struct {
	Caller  Identity
	Agent   Identity
	Enabled bool
}

type Settlement struct {
	Payer            Identity
	Payee            Identity
	Agent            Identity
	Asset            AssetID
	Amount           uint64
	Nonce            uint64
	Reference        Reference
	RemainingBalance uint64
	SettledAt        time.Time
}
