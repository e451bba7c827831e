package core

import (
	"context"
	"fmt"
	"strings"
	"sync"
	"time"
)

type outboxEntry struct {
	event         Event
	status        string
	nextAttemptAt time.Time
	lastError     string
}

const (
	outboxStatusPending   = "pending"
	outboxStatusClaimed   = "claimed"
	outboxStatusDelivered = "delivered"
	outboxStatusFailed    = "failed"
)

// MemoryStore keeps custody state in process. WithinTx holds a single lock
// for the whole callback, so operations are serialized and a failed callback
// leaves no trace.
type MemoryStore struct {
	mu      sync.Mutex
	config  *GlobalConfig
	ledgers map[string]Ledger
	agents  map[string]AgentAuthorization
	outbox  []*outboxEntry
	now     func() time.Time
}

func NewMemoryStore() *MemoryStore {
	return &MemoryStore{
		ledgers: map[string]Ledger{},
		agents:  map[string]AgentAuthorization{},
		now: func() time.Time {
			return time.Now().UTC()
		},
	}
}

func (s *MemoryStore) GetConfig(context.Context) (GlobalConfig, error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	if s.config == nil {
		return GlobalConfig{}, ErrConfigNotFound
	}
	return *s.config, nil
}

func (s *MemoryStore) GetLedger(_ context.Context, address string) (Ledger, error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	ledger, ok := s.ledgers[strings.TrimSpace(address)]
	if !ok {
		return Ledger{}, ErrLedgerNotFound
	}
	return ledger.Clone(), nil
}

func (s *MemoryStore) GetAgent(_ context.Context, address string) (AgentAuthorization, error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	agent, ok := s.agents[strings.TrimSpace(address)]
	if !ok {
		return AgentAuthorization{}, ErrAgentNotFound
	}
	return agent, nil
}

func (s *MemoryStore) WithinTx(ctx context.Context, fn func(ctx context.Context, tx StoreTx) error) error {
	if fn == nil {
		return fmt.Errorf("core: transaction callback is required")
	}
	if err := ctx.Err(); err != nil {
		return err
	}
	s.mu.Lock()
	defer s.mu.Unlock()

	tx := &memoryTx{
		store:   s,
		ledgers: map[string]Ledger{},
		agents:  map[string]AgentAuthorization{},
	}
	if err := fn(ctx, tx); err != nil {
		return err
	}
	tx.commit()
	return nil
}

// ClaimBatch marks up to limit due events as claimed, oldest first.
func (s *MemoryStore) ClaimBatch(_ context.Context, limit int) ([]Event, error) {
	if limit <= 0 {
		return nil, fmt.Errorf("core: claim limit must be positive")
	}
	s.mu.Lock()
	defer s.mu.Unlock()

	now := s.now()
	out := make([]Event, 0, limit)
	for _, entry := range s.outbox {
		if len(out) == limit {
			break
		}
		if entry.status != outboxStatusPending {
			continue
		}
		if !entry.nextAttemptAt.IsZero() && entry.nextAttemptAt.After(now) {
			continue
		}
		entry.status = outboxStatusClaimed
		out = append(out, cloneEvent(entry.event))
	}
	return out, nil
}

func (s *MemoryStore) Ack(_ context.Context, eventID string) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	entry, err := s.findEntry(eventID)
	if err != nil {
		return err
	}
	entry.status = outboxStatusDelivered
	entry.lastError = ""
	return nil
}

// Retry records a failed delivery. A zero nextAttemptAt marks the event as
// permanently failed.
func (s *MemoryStore) Retry(_ context.Context, eventID string, cause error, nextAttemptAt time.Time) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	entry, err := s.findEntry(eventID)
	if err != nil {
		return err
	}
	entry.event.Attempts++
	if cause != nil {
		entry.lastError = cause.Error()
	}
	if nextAttemptAt.IsZero() {
		entry.status = outboxStatusFailed
		return nil
	}
	entry.status = outboxStatusPending
	entry.nextAttemptAt = nextAttemptAt.UTC()
	return nil
}

// Events returns every recorded event in append order.
func (s *MemoryStore) Events() []Event {
	s.mu.Lock()
	defer s.mu.Unlock()
	out := make([]Event, 0, len(s.outbox))
	for _, entry := range s.outbox {
		out = append(out, cloneEvent(entry.event))
	}
	return out
}

func (s *MemoryStore) findEntry(eventID string) (*outboxEntry, error) {
	eventID = strings.TrimSpace(eventID)
	for _, entry := range s.outbox {
		if entry.event.ID == eventID {
			return entry, nil
		}
	}
	return nil, fmt.Errorf("core: outbox event %q not found", eventID)
}

type memoryTx struct {
	store   *MemoryStore
	config  *GlobalConfig
	ledgers map[string]Ledger
	agents  map[string]AgentAuthorization
	events  []Event
}

func (tx *memoryTx) LoadConfig(context.Context) (GlobalConfig, error) {
	if tx.config != nil {
		return *tx.config, nil
	}
	if tx.store.config == nil {
		return GlobalConfig{}, ErrConfigNotFound
	}
	return *tx.store.config, nil
}

func (tx *memoryTx) CreateConfig(_ context.Context, cfg GlobalConfig) error {
	if tx.config != nil || tx.store.config != nil {
		return ErrAlreadyInitialized
	}
	staged := cfg
	tx.config = &staged
	return nil
}

func (tx *memoryTx) LoadLedger(_ context.Context, address string) (Ledger, error) {
	address = strings.TrimSpace(address)
	if ledger, ok := tx.ledgers[address]; ok {
		return ledger.Clone(), nil
	}
	ledger, ok := tx.store.ledgers[address]
	if !ok {
		return Ledger{}, ErrLedgerNotFound
	}
	return ledger.Clone(), nil
}

func (tx *memoryTx) CreateLedger(ctx context.Context, ledger Ledger) (Ledger, error) {
	existing, err := tx.LoadLedger(ctx, ledger.Address)
	if err == nil {
		return existing, nil
	}
	if err := tx.SaveLedger(ctx, ledger); err != nil {
		return Ledger{}, err
	}
	return ledger.Clone(), nil
}

func (tx *memoryTx) SaveLedger(_ context.Context, ledger Ledger) error {
	address := strings.TrimSpace(ledger.Address)
	if address == "" {
		return fmt.Errorf("core: ledger address is required")
	}
	tx.ledgers[address] = ledger.Clone()
	return nil
}

func (tx *memoryTx) LoadAgent(_ context.Context, address string) (AgentAuthorization, error) {
	address = strings.TrimSpace(address)
	if agent, ok := tx.agents[address]; ok {
		return agent, nil
	}
	agent, ok := tx.store.agents[address]
	if !ok {
		return AgentAuthorization{}, ErrAgentNotFound
	}
	return agent, nil
}

func (tx *memoryTx) SaveAgent(_ context.Context, agent AgentAuthorization) error {
	address := strings.TrimSpace(agent.Address)
	if address == "" {
		return fmt.Errorf("core: agent address is required")
	}
	tx.agents[address] = agent
	return nil
}

func (tx *memoryTx) AppendEvent(_ context.Context, event Event) error {
	if strings.TrimSpace(event.ID) == "" || strings.TrimSpace(event.Name) == "" {
		return fmt.Errorf("core: event id and name are required")
	}
	tx.events = append(tx.events, cloneEvent(event))
	return nil
}

func (tx *memoryTx) commit() {
	if tx.config != nil {
		tx.store.config = tx.config
	}
	for address, ledger := range tx.ledgers {
		tx.store.ledgers[address] = ledger
	}
	for address, agent := range tx.agents {
		tx.store.agents[address] = agent
	}
	for _, event := range tx.events {
		tx.store.outbox = append(tx.store.outbox, &outboxEntry{
			event:  event,
			status: outboxStatusPending,
		})
	}
}

func cloneEvent(event Event) Event {
	out := event
	out.Payload = cloneFields(event.Payload)
	return out
}

var (
	_ Store       = (*MemoryStore)(nil)
	_ EventOutbox = (*MemoryStore)(nil)
	_ StoreTx     = (*memoryTx)(nil)
)
