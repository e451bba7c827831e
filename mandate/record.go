package mandate

import (
	"context"
	"time"
)

type Status string

const (
	StatusEnqueued   Status = "enqueued"
	StatusProcessing Status = "processing"
	StatusSettled    Status = "settled"
	StatusFailed     Status = "failed"
)

func (s Status) Terminal() bool {
	return s == StatusSettled || s == StatusFailed
}

// Record is a queued mandate together with its settlement progress.
type Record struct {
	Digest          string
	Mandate         Mandate
	PayerSignature  string
	AgentSignature  string
	EnqueueDeadline int64
	Status          Status
	Retries         int
	LastError       string
	EnqueuedAt      time.Time
	SettledAt       *time.Time
}

func (r Record) Receipt(agent string) Receipt {
	return Receipt{
		Agent:           agent,
		MandateDigest:   r.Digest,
		EnqueueDeadline: r.EnqueueDeadline,
		AgentSignature:  r.AgentSignature,
	}
}

type Stats struct {
	Queued     int `json:"queueLength"`
	Processing int `json:"processing"`
	Settled    int `json:"settled"`
	Failed     int `json:"failed"`
}

// Store persists mandate records. Create must reject a duplicate digest with
// ErrDuplicateMandate and a (payer, asset, nonce) already held by another
// record with core.ErrNonceUsed.
type Store interface {
	Create(ctx context.Context, record Record) error
	Get(ctx context.Context, digest string) (Record, error)
	HasNonce(ctx context.Context, payer string, asset string, nonce uint64) (bool, error)
	Claim(ctx context.Context, digest string) (Record, error)
	ClaimPending(ctx context.Context, limit int) ([]Record, error)
	MarkSettled(ctx context.Context, digest string, settledAt time.Time) error
	MarkRetry(ctx context.Context, digest string, cause error) (Record, error)
	MarkFailed(ctx context.Context, digest string, cause error) error
	Stats(ctx context.Context) (Stats, error)
	Recent(ctx context.Context, limit int) ([]Record, error)
}
