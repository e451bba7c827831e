package mandate

import (
	"context"
	"fmt"
	"slices"
	"strings"
	"sync"
	"time"

	"github.com/goliatone/go-custody/core"
)

type nonceKey struct {
	payer string
	asset string
	nonce uint64
}

type MemoryStore struct {
	mu      sync.Mutex
	records map[string]*Record
	order   []string
	nonces  map[nonceKey]string
}

func NewMemoryStore() *MemoryStore {
	return &MemoryStore{
		records: map[string]*Record{},
		nonces:  map[nonceKey]string{},
	}
}

func (s *MemoryStore) Create(_ context.Context, record Record) error {
	digest := strings.TrimSpace(record.Digest)
	if digest == "" {
		return fmt.Errorf("%w: digest is required", ErrInvalidMandate)
	}
	s.mu.Lock()
	defer s.mu.Unlock()
	if _, ok := s.records[digest]; ok {
		return ErrDuplicateMandate
	}
	key := nonceKey{payer: record.Mandate.Payer, asset: record.Mandate.Asset, nonce: record.Mandate.Nonce}
	if _, ok := s.nonces[key]; ok {
		return core.ErrNonceUsed
	}
	if record.Status == "" {
		record.Status = StatusEnqueued
	}
	record.Digest = digest
	s.records[digest] = &record
	s.order = append(s.order, digest)
	s.nonces[key] = digest
	return nil
}

func (s *MemoryStore) Get(_ context.Context, digest string) (Record, error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	record, ok := s.records[strings.TrimSpace(digest)]
	if !ok {
		return Record{}, ErrNotFound
	}
	return *record, nil
}

func (s *MemoryStore) HasNonce(_ context.Context, payer string, asset string, nonce uint64) (bool, error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	_, ok := s.nonces[nonceKey{payer: strings.TrimSpace(payer), asset: strings.TrimSpace(asset), nonce: nonce}]
	return ok, nil
}

func (s *MemoryStore) Claim(_ context.Context, digest string) (Record, error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	record, ok := s.records[strings.TrimSpace(digest)]
	if !ok {
		return Record{}, ErrNotFound
	}
	if record.Status != StatusEnqueued {
		return Record{}, ErrNotClaimable
	}
	record.Status = StatusProcessing
	return *record, nil
}

// ClaimPending claims up to limit enqueued records, oldest first.
func (s *MemoryStore) ClaimPending(_ context.Context, limit int) ([]Record, error) {
	if limit <= 0 {
		return nil, fmt.Errorf("mandate: claim limit must be positive")
	}
	s.mu.Lock()
	defer s.mu.Unlock()
	out := make([]Record, 0, limit)
	for _, digest := range s.order {
		if len(out) == limit {
			break
		}
		record := s.records[digest]
		if record.Status != StatusEnqueued {
			continue
		}
		record.Status = StatusProcessing
		out = append(out, *record)
	}
	return out, nil
}

func (s *MemoryStore) MarkSettled(_ context.Context, digest string, settledAt time.Time) error {
	return s.update(digest, func(record *Record) {
		at := settledAt.UTC()
		record.Status = StatusSettled
		record.SettledAt = &at
		record.LastError = ""
	})
}

func (s *MemoryStore) MarkRetry(_ context.Context, digest string, cause error) (Record, error) {
	var out Record
	err := s.update(digest, func(record *Record) {
		record.Status = StatusEnqueued
		record.Retries++
		record.LastError = errorText(cause)
		out = *record
	})
	return out, err
}

func (s *MemoryStore) MarkFailed(_ context.Context, digest string, cause error) error {
	return s.update(digest, func(record *Record) {
		record.Status = StatusFailed
		record.LastError = errorText(cause)
	})
}

func (s *MemoryStore) Stats(context.Context) (Stats, error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	var stats Stats
	for _, record := range s.records {
		switch record.Status {
		case StatusEnqueued:
			stats.Queued++
		case StatusProcessing:
			stats.Processing++
		case StatusSettled:
			stats.Settled++
		case StatusFailed:
			stats.Failed++
		}
	}
	return stats, nil
}

// Recent returns up to limit records, newest first.
func (s *MemoryStore) Recent(_ context.Context, limit int) ([]Record, error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	if limit <= 0 || limit > len(s.order) {
		limit = len(s.order)
	}
	out := make([]Record, 0, limit)
	for _, digest := range slices.Backward(s.order) {
		if len(out) == limit {
			break
		}
		out = append(out, *s.records[digest])
	}
	return out, nil
}

func (s *MemoryStore) update(digest string, fn func(record *Record)) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	record, ok := s.records[strings.TrimSpace(digest)]
	if !ok {
		return ErrNotFound
	}
	fn(record)
	return nil
}

func errorText(err error) string {
	if err == nil {
		return ""
	}
	return err.Error()
}

var _ Store = (*MemoryStore)(nil)
