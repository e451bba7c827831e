package sqlstore

import (
	"github.com/goliatone/go-custody/core"
	"github.com/goliatone/go-custody/mandate"
)

var (
	_ core.Store       = (*LedgerStore)(nil)
	_ core.StateReader = (*LedgerStore)(nil)
	_ core.StoreTx     = (*ledgerTx)(nil)
	_ core.EventOutbox = (*OutboxStore)(nil)
	_ mandate.Store    = (*MandateStore)(nil)
	_ core.Store       = (*CachedStore)(nil)
	_ core.StoreTx     = (*evictingTx)(nil)
)
