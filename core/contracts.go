package core

import (
	"context"
	"time"

	glog "github.com/goliatone/go-logger/glog"
)

type Logger = glog.Logger

type LoggerProvider = glog.LoggerProvider

type FieldsLogger = glog.FieldsLogger

// MetricsRecorder receives the custody.<operation>.total counters and
// custody.<operation>.duration_ms histograms, tagged by operation and status.
type MetricsRecorder interface {
	IncCounter(ctx context.Context, name string, value int64, tags map[string]string)
	ObserveHistogram(ctx context.Context, name string, value float64, tags map[string]string)
}

// NopMetricsRecorder drops every observation. Services without a recorder use it.
type NopMetricsRecorder struct{}

func (NopMetricsRecorder) IncCounter(context.Context, string, int64, map[string]string) {}

func (NopMetricsRecorder) ObserveHistogram(context.Context, string, float64, map[string]string) {}

var _ MetricsRecorder = NopMetricsRecorder{}

// TransferRequest instructs the token subsystem to move Amount of Asset.
// Deposits are signed by the owner of From; pool payouts carry the custody
// capability instead.
type TransferRequest struct {
	From       string
	To         string
	Asset      AssetID
	Amount     uint64
	Signer     Identity
	Capability *CustodyCapability
}

type Transferer interface {
	Transfer(ctx context.Context, req TransferRequest) error
}

type TransferFunc func(ctx context.Context, req TransferRequest) error

func (f TransferFunc) Transfer(ctx context.Context, req TransferRequest) error {
	return f(ctx, req)
}

type AddressDeriver interface {
	ConfigAddress() (string, error)
	LedgerAddress(user Identity, asset AssetID) (string, error)
	AgentAddress(agent Identity) (string, error)
	PoolAddress(asset AssetID) (string, error)
}

type AgentLimiter interface {
	Allow(key string, now time.Time) bool
}

type StateReader interface {
	GetConfig(ctx context.Context) (GlobalConfig, error)
	GetLedger(ctx context.Context, address string) (Ledger, error)
	GetAgent(ctx context.Context, address string) (AgentAuthorization, error)
}

// StoreTx is the view of the store inside one atomic operation. Nothing
// written through it is visible to other operations until the surrounding
// WithinTx call returns nil.
type StoreTx interface {
	LoadConfig(ctx context.Context) (GlobalConfig, error)
	CreateConfig(ctx context.Context, cfg GlobalConfig) error
	LoadLedger(ctx context.Context, address string) (Ledger, error)
	// CreateLedger stores ledger unless a row already exists for its address
	// and returns whichever row is current, held for the rest of the unit.
	CreateLedger(ctx context.Context, ledger Ledger) (Ledger, error)
	SaveLedger(ctx context.Context, ledger Ledger) error
	LoadAgent(ctx context.Context, address string) (AgentAuthorization, error)
	SaveAgent(ctx context.Context, agent AgentAuthorization) error
	AppendEvent(ctx context.Context, event Event) error
}

// Store runs each custody operation as one unit. WithinTx commits when fn
// returns nil and must not fail afterwards because ctx was cancelled: the
// service moves tokens as the last step of fn, so a commit that is refused
// after that point leaves the external transfer without bookkeeping.
type Store interface {
	StateReader
	WithinTx(ctx context.Context, fn func(ctx context.Context, tx StoreTx) error) error
}

type EventOutbox interface {
	ClaimBatch(ctx context.Context, limit int) ([]Event, error)
	Ack(ctx context.Context, eventID string) error
	Retry(ctx context.Context, eventID string, cause error, nextAttemptAt time.Time) error
}

type EventHandler interface {
	Handle(ctx context.Context, event Event) error
}

type EventHandlerFunc func(ctx context.Context, event Event) error

func (f EventHandlerFunc) Handle(ctx context.Context, event Event) error {
	return f(ctx, event)
}

type JobExecutionMessage struct {
	JobID          string
	ScriptPath     string
	Parameters     map[string]any
	IdempotencyKey string
	DedupPolicy    string
}

type JobNackOptions struct {
	Delay      time.Duration
	Requeue    bool
	DeadLetter bool
	Reason     string
}

type JobEnqueuer interface {
	Enqueue(ctx context.Context, msg *JobExecutionMessage) error
}

type JobDelivery interface {
	Message() *JobExecutionMessage
	Ack(ctx context.Context) error
	Nack(ctx context.Context, opts JobNackOptions) error
}

type JobDequeuer interface {
	Dequeue(ctx context.Context) (JobDelivery, error)
}

type JobWorkerEvent struct {
	Message   *JobExecutionMessage
	Attempt   int
	Delay     time.Duration
	Err       error
	StartedAt time.Time
	Duration  time.Duration
}

type JobWorkerHook interface {
	OnStart(ctx context.Context, event JobWorkerEvent)
	OnSuccess(ctx context.Context, event JobWorkerEvent)
	OnFailure(ctx context.Context, event JobWorkerEvent)
	OnRetry(ctx context.Context, event JobWorkerEvent)
}

const (
	JobIDMandateSettle = "custody.mandate.settle"
	JobIDEventDispatch = "custody.events.dispatch"
)
