package sqlstore

import (
	"context"
	"database/sql"
	"errors"
	"fmt"
	"strings"
	"time"

	"github.com/goliatone/go-custody/core"
	repository "github.com/goliatone/go-repository-bun"
	"github.com/uptrace/bun"
	"github.com/uptrace/bun/dialect"
)

// LedgerStore persists custody state. Each WithinTx call maps to one database
// transaction; on postgres the ledger and agent rows an operation reads are
// locked until it commits and the config row is share-locked. A commit refused by the database after the
// service moved tokens is logged by the service for reconciliation.
type LedgerStore struct {
	db       *bun.DB
	outbox   repository.Repository[*outboxRecord]
	lockRows bool
	now      func() time.Time
}

func NewLedgerStore(db *bun.DB) (*LedgerStore, error) {
	outbox, err := newRepository(db, outboxHandlers(), "outbox")
	if err != nil {
		return nil, err
	}
	return &LedgerStore{
		db:       db,
		outbox:   outbox,
		lockRows: db.Dialect().Name() == dialect.PG,
		now: func() time.Time {
			return time.Now().UTC()
		},
	}, nil
}

func (s *LedgerStore) GetConfig(ctx context.Context) (core.GlobalConfig, error) {
	if s == nil || s.db == nil {
		return core.GlobalConfig{}, fmt.Errorf("sqlstore: ledger store is not configured")
	}
	return loadConfig(ctx, s.db, false)
}

func (s *LedgerStore) GetLedger(ctx context.Context, address string) (core.Ledger, error) {
	if s == nil || s.db == nil {
		return core.Ledger{}, fmt.Errorf("sqlstore: ledger store is not configured")
	}
	return loadLedger(ctx, s.db, address, false)
}

func (s *LedgerStore) GetAgent(ctx context.Context, address string) (core.AgentAuthorization, error) {
	if s == nil || s.db == nil {
		return core.AgentAuthorization{}, fmt.Errorf("sqlstore: ledger store is not configured")
	}
	return loadAgent(ctx, s.db, address, false)
}

func (s *LedgerStore) WithinTx(ctx context.Context, fn func(ctx context.Context, tx core.StoreTx) error) error {
	if s == nil || s.db == nil {
		return fmt.Errorf("sqlstore: ledger store is not configured")
	}
	if fn == nil {
		return fmt.Errorf("sqlstore: transaction callback is required")
	}
	if err := ctx.Err(); err != nil {
		return err
	}
	// database/sql rolls a transaction back when its context ends, so the
	// transaction is begun on a context that cannot be cancelled. Statements
	// inside fn still run on ctx; commit no longer depends on it.
	return s.db.RunInTx(context.WithoutCancel(ctx), nil, func(_ context.Context, tx bun.Tx) error {
		return fn(ctx, &ledgerTx{store: s, tx: tx})
	})
}

type ledgerTx struct {
	store *LedgerStore
	tx    bun.Tx
}

// LoadConfig share-locks the config row. It is written once and read by every
// operation.
func (t *ledgerTx) LoadConfig(ctx context.Context) (core.GlobalConfig, error) {
	return loadConfig(ctx, t.tx, t.store.lockRows)
}

// CreateConfig relies on the unique address column, so two concurrent
// initializations cannot both succeed.
func (t *ledgerTx) CreateConfig(ctx context.Context, cfg core.GlobalConfig) error {
	record := fromConfig(cfg)
	if record.Address == "" {
		return fmt.Errorf("sqlstore: config address is required")
	}
	result, err := t.tx.NewInsert().
		Model(record).
		On("CONFLICT (address) DO NOTHING").
		Exec(ctx)
	if err != nil {
		return err
	}
	affected, err := result.RowsAffected()
	if err != nil {
		return err
	}
	if affected == 0 {
		return core.ErrAlreadyInitialized
	}
	return nil
}

func (t *ledgerTx) LoadLedger(ctx context.Context, address string) (core.Ledger, error) {
	return loadLedger(ctx, t.tx, address, t.store.lockRows)
}

// CreateLedger inserts the first row for an address. When a concurrent
// transaction inserted it first, the insert waits for that commit and the
// locked reload returns the committed row, so SaveLedger always updates a row
// this transaction holds.
func (t *ledgerTx) CreateLedger(ctx context.Context, ledger core.Ledger) (core.Ledger, error) {
	record := fromLedger(ledger)
	if record.Address == "" {
		return core.Ledger{}, fmt.Errorf("sqlstore: ledger address is required")
	}
	if _, err := t.tx.NewInsert().
		Model(record).
		On("CONFLICT (address) DO NOTHING").
		Exec(ctx); err != nil {
		return core.Ledger{}, err
	}
	return loadLedger(ctx, t.tx, record.Address, t.store.lockRows)
}

func (t *ledgerTx) SaveLedger(ctx context.Context, ledger core.Ledger) error {
	record := fromLedger(ledger)
	if record.Address == "" {
		return fmt.Errorf("sqlstore: ledger address is required")
	}
	record.UpdatedAt = t.store.now()
	_, err := t.tx.NewInsert().
		Model(record).
		On("CONFLICT (address) DO UPDATE").
		Set("balance = EXCLUDED.balance").
		Set("locked_amount = EXCLUDED.locked_amount").
		Set("unlock_time = EXCLUDED.unlock_time").
		Set("used_nonces = EXCLUDED.used_nonces").
		Set("updated_at = EXCLUDED.updated_at").
		Exec(ctx)
	return err
}

func (t *ledgerTx) LoadAgent(ctx context.Context, address string) (core.AgentAuthorization, error) {
	return loadAgent(ctx, t.tx, address, t.store.lockRows)
}

func (t *ledgerTx) SaveAgent(ctx context.Context, agent core.AgentAuthorization) error {
	record := fromAgent(agent)
	if record.Address == "" {
		return fmt.Errorf("sqlstore: agent address is required")
	}
	record.UpdatedAt = t.store.now()
	_, err := t.tx.NewInsert().
		Model(record).
		On("CONFLICT (address) DO UPDATE").
		Set("enabled = EXCLUDED.enabled").
		Set("updated_by = EXCLUDED.updated_by").
		Set("updated_at = EXCLUDED.updated_at").
		Exec(ctx)
	return err
}

func (t *ledgerTx) AppendEvent(ctx context.Context, event core.Event) error {
	if strings.TrimSpace(event.ID) == "" || strings.TrimSpace(event.Name) == "" {
		return fmt.Errorf("sqlstore: event id and name are required")
	}
	_, err := t.store.outbox.CreateTx(ctx, t.tx, fromEvent(event, t.store.now()))
	return err
}

func loadConfig(ctx context.Context, db bun.IDB, lock bool) (core.GlobalConfig, error) {
	record := &configRecord{}
	query := db.NewSelect().Model(record).Order("created_at ASC").Limit(1)
	if lock {
		query = query.For("SHARE")
	}
	if err := query.Scan(ctx); err != nil {
		if errors.Is(err, sql.ErrNoRows) {
			return core.GlobalConfig{}, core.ErrConfigNotFound
		}
		return core.GlobalConfig{}, err
	}
	return record.toDomain(), nil
}

func loadLedger(ctx context.Context, db bun.IDB, address string, lock bool) (core.Ledger, error) {
	record := &ledgerRecord{}
	query := db.NewSelect().Model(record).Where("address = ?", strings.TrimSpace(address))
	if lock {
		query = query.For("UPDATE")
	}
	if err := query.Scan(ctx); err != nil {
		if errors.Is(err, sql.ErrNoRows) {
			return core.Ledger{}, core.ErrLedgerNotFound
		}
		return core.Ledger{}, err
	}
	return record.toDomain()
}

func loadAgent(ctx context.Context, db bun.IDB, address string, lock bool) (core.AgentAuthorization, error) {
	record := &agentRecord{}
	query := db.NewSelect().Model(record).Where("address = ?", strings.TrimSpace(address))
	if lock {
		query = query.For("UPDATE")
	}
	if err := query.Scan(ctx); err != nil {
		if errors.Is(err, sql.ErrNoRows) {
			return core.AgentAuthorization{}, core.ErrAgentNotFound
		}
		return core.AgentAuthorization{}, err
	}
	return record.toDomain(), nil
}
