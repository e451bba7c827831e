package sqlstore

import (
	"time"

	"github.com/uptrace/bun"
)

type configRecord struct {
	bun.BaseModel `bun:"table:custody_config,alias:cc"`

	ID                   string    `bun:"id,pk"`
	Address              string    `bun:"address,notnull"`
	Admin                string    `bun:"admin,notnull"`
	WithdrawDelaySeconds int64     `bun:"withdraw_delay_seconds,notnull"`
	CreatedAt            time.Time `bun:"created_at,nullzero,notnull,default:current_timestamp"`
}

// Amounts are stored as decimal text so the full uint64 range survives on
// every dialect.
type ledgerRecord struct {
	bun.BaseModel `bun:"table:custody_ledgers,alias:cl"`

	ID           string    `bun:"id,pk"`
	Address      string    `bun:"address,notnull"`
	UserIdentity string    `bun:"user_identity,notnull"`
	Asset        string    `bun:"asset,notnull"`
	Balance      string    `bun:"balance,notnull"`
	LockedAmount string    `bun:"locked_amount,notnull"`
	UnlockTime   int64     `bun:"unlock_time,notnull"`
	UsedNonces   []string  `bun:"used_nonces,type:jsonb,notnull"`
	CreatedAt    time.Time `bun:"created_at,nullzero,notnull,default:current_timestamp"`
	UpdatedAt    time.Time `bun:"updated_at,nullzero,notnull,default:current_timestamp"`
}

type agentRecord struct {
	bun.BaseModel `bun:"table:custody_agents,alias:ca"`

	ID        string    `bun:"id,pk"`
	Address   string    `bun:"address,notnull"`
	Agent     string    `bun:"agent,notnull"`
	Enabled   bool      `bun:"enabled,notnull"`
	UpdatedBy string    `bun:"updated_by,notnull"`
	CreatedAt time.Time `bun:"created_at,nullzero,notnull,default:current_timestamp"`
	UpdatedAt time.Time `bun:"updated_at,nullzero,notnull,default:current_timestamp"`
}

type outboxRecord struct {
	bun.BaseModel `bun:"table:custody_outbox,alias:co"`

	ID            string         `bun:"id,pk"`
	EventID       string         `bun:"event_id,notnull"`
	EventName     string         `bun:"event_name,notnull"`
	Address       string         `bun:"address,notnull"`
	Payload       map[string]any `bun:"payload,type:jsonb,notnull"`
	Status        string         `bun:"status,notnull"`
	Attempts      int            `bun:"attempts,notnull"`
	NextAttemptAt *time.Time     `bun:"next_attempt_at,nullzero"`
	LastError     string         `bun:"last_error,notnull"`
	OccurredAt    time.Time      `bun:"occurred_at,notnull"`
	CreatedAt     time.Time      `bun:"created_at,nullzero,notnull,default:current_timestamp"`
	UpdatedAt     time.Time      `bun:"updated_at,nullzero,notnull,default:current_timestamp"`
}

type mandateRecord struct {
	bun.BaseModel `bun:"table:custody_mandates,alias:cm"`

	ID              string     `bun:"id,pk"`
	Digest          string     `bun:"digest,notnull"`
	Payer           string     `bun:"payer,notnull"`
	Asset           string     `bun:"asset,notnull"`
	Payee           string     `bun:"payee,notnull"`
	Amount          string     `bun:"amount,notnull"`
	Nonce           string     `bun:"nonce,notnull"`
	Deadline        int64      `bun:"deadline,notnull"`
	Ref             string     `bun:"ref,notnull"`
	PayerSig        string     `bun:"payer_sig,notnull"`
	AgentSig        string     `bun:"agent_sig,notnull"`
	EnqueueDeadline int64      `bun:"enqueue_deadline,notnull"`
	Status          string     `bun:"status,notnull"`
	Retries         int        `bun:"retries,notnull"`
	LastError       string     `bun:"last_error,notnull"`
	EnqueuedAt      time.Time  `bun:"enqueued_at,notnull"`
	SettledAt       *time.Time `bun:"settled_at,nullzero"`
}
