// Package transfer provides the token subsystem the custody service moves
// funds through. MemoryBank is an in-process ledger of token accounts.
package transfer

import (
	"context"
	"errors"
	"fmt"
	"strings"
	"sync"
	"time"

	"github.com/goliatone/go-custody/core"
)

var (
	ErrUnauthorizedTransfer = errors.New("transfer: signer may not move funds from source account")
	ErrInsufficientFunds    = errors.New("transfer: insufficient funds")
	ErrInvalidTransfer      = errors.New("transfer: invalid transfer")
)

type Record struct {
	From      string
	To        string
	Asset     core.AssetID
	Amount    uint64
	Signer    core.Identity
	Custodial bool
	At        time.Time
}

type accountKey struct {
	owner string
	asset core.AssetID
}

// MemoryBank holds token accounts keyed by owner and asset. A transfer is
// accepted when the signer owns the source account, or when it carries a
// valid custody capability for this bank's authority.
type MemoryBank struct {
	authority core.Identity
	now       func() time.Time

	mu       sync.Mutex
	accounts map[accountKey]uint64
	history  []Record
}

func NewMemoryBank(authority core.Identity) *MemoryBank {
	return &MemoryBank{
		authority: strings.TrimSpace(authority),
		now:       func() time.Time { return time.Now().UTC() },
		accounts:  map[accountKey]uint64{},
	}
}

// Fund mints amount into an account; used for bootstrapping wallets.
func (b *MemoryBank) Fund(owner string, asset core.AssetID, amount uint64) error {
	b.mu.Lock()
	defer b.mu.Unlock()
	key := accountKey{owner: strings.TrimSpace(owner), asset: strings.TrimSpace(asset)}
	next := b.accounts[key] + amount
	if next < amount {
		return core.ErrArithmeticOverflow
	}
	b.accounts[key] = next
	return nil
}

func (b *MemoryBank) Balance(owner string, asset core.AssetID) uint64 {
	b.mu.Lock()
	defer b.mu.Unlock()
	return b.accounts[accountKey{owner: strings.TrimSpace(owner), asset: strings.TrimSpace(asset)}]
}

func (b *MemoryBank) History() []Record {
	b.mu.Lock()
	defer b.mu.Unlock()
	return append([]Record(nil), b.history...)
}

func (b *MemoryBank) Transfer(ctx context.Context, req core.TransferRequest) error {
	if err := ctx.Err(); err != nil {
		return err
	}
	from := strings.TrimSpace(req.From)
	to := strings.TrimSpace(req.To)
	asset := strings.TrimSpace(req.Asset)
	if from == "" || to == "" || asset == "" || req.Amount == 0 {
		return fmt.Errorf("%w: from, to, asset and amount are required", ErrInvalidTransfer)
	}

	custodial := req.Capability != nil
	if custodial {
		if !req.Capability.Valid() || req.Capability.Authority() != b.authority {
			return fmt.Errorf("%w: capability rejected", ErrUnauthorizedTransfer)
		}
	} else if strings.TrimSpace(req.Signer) != from {
		return ErrUnauthorizedTransfer
	}

	b.mu.Lock()
	defer b.mu.Unlock()
	src := accountKey{owner: from, asset: asset}
	dst := accountKey{owner: to, asset: asset}
	if b.accounts[src] < req.Amount {
		return fmt.Errorf("%w: %s holds %d", ErrInsufficientFunds, from, b.accounts[src])
	}
	credited := b.accounts[dst] + req.Amount
	if credited < req.Amount {
		return core.ErrArithmeticOverflow
	}
	b.accounts[src] -= req.Amount
	b.accounts[dst] = credited
	b.history = append(b.history, Record{
		From:      from,
		To:        to,
		Asset:     asset,
		Amount:    req.Amount,
		Signer:    strings.TrimSpace(req.Signer),
		Custodial: custodial,
		At:        b.now(),
	})
	return nil
}

var _ core.Transferer = (*MemoryBank)(nil)
