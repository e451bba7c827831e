package sqlstore

import (
	"context"
	"database/sql"
	"errors"
	"fmt"
	"slices"
	"strings"
	"time"

	"github.com/goliatone/go-custody/core"
	"github.com/goliatone/go-custody/mandate"
	repository "github.com/goliatone/go-repository-bun"
	"github.com/uptrace/bun"
)

type MandateStore struct {
	db   *bun.DB
	repo repository.Repository[*mandateRecord]
}

func NewMandateStore(db *bun.DB) (*MandateStore, error) {
	repo, err := newRepository(db, mandateHandlers(), "mandate")
	if err != nil {
		return nil, err
	}
	return &MandateStore{db: db, repo: repo}, nil
}

func (s *MandateStore) Create(ctx context.Context, record mandate.Record) error {
	if s == nil || s.repo == nil {
		return fmt.Errorf("sqlstore: mandate store is not configured")
	}
	if strings.TrimSpace(record.Digest) == "" {
		return fmt.Errorf("%w: digest is required", mandate.ErrInvalidMandate)
	}
	if record.Status == "" {
		record.Status = mandate.StatusEnqueued
	}
	row := fromMandate(record)
	return s.db.RunInTx(ctx, nil, func(ctx context.Context, tx bun.Tx) error {
		exists, err := tx.NewSelect().
			Model((*mandateRecord)(nil)).
			Where("digest = ?", row.Digest).
			Exists(ctx)
		if err != nil {
			return err
		}
		if exists {
			return mandate.ErrDuplicateMandate
		}
		used, err := nonceTaken(ctx, tx, row.Payer, row.Asset, row.Nonce)
		if err != nil {
			return err
		}
		if used {
			return core.ErrNonceUsed
		}
		_, err = s.repo.CreateTx(ctx, tx, row)
		return err
	})
}

func (s *MandateStore) Get(ctx context.Context, digest string) (mandate.Record, error) {
	if s == nil || s.repo == nil {
		return mandate.Record{}, fmt.Errorf("sqlstore: mandate store is not configured")
	}
	records, _, err := s.repo.List(ctx,
		repository.SelectBy("digest", "=", strings.TrimSpace(digest)),
		repository.SelectPaginate(1, 0),
	)
	if err != nil {
		return mandate.Record{}, err
	}
	if len(records) == 0 {
		return mandate.Record{}, mandate.ErrNotFound
	}
	return records[0].toDomain()
}

func (s *MandateStore) HasNonce(ctx context.Context, payer string, asset string, nonce uint64) (bool, error) {
	if s == nil || s.db == nil {
		return false, fmt.Errorf("sqlstore: mandate store is not configured")
	}
	return nonceTaken(ctx, s.db, strings.TrimSpace(payer), strings.TrimSpace(asset), formatAmount(nonce))
}

// Claim moves one enqueued record to processing. A record that exists but is
// in any other state yields mandate.ErrNotClaimable.
func (s *MandateStore) Claim(ctx context.Context, digest string) (mandate.Record, error) {
	if s == nil || s.db == nil {
		return mandate.Record{}, fmt.Errorf("sqlstore: mandate store is not configured")
	}
	digest = strings.TrimSpace(digest)
	var out mandate.Record
	err := s.db.RunInTx(ctx, nil, func(ctx context.Context, tx bun.Tx) error {
		result, err := tx.NewUpdate().
			Model((*mandateRecord)(nil)).
			Set("status = ?", string(mandate.StatusProcessing)).
			Where("digest = ?", digest).
			Where("status = ?", string(mandate.StatusEnqueued)).
			Exec(ctx)
		if err != nil {
			return err
		}
		affected, err := result.RowsAffected()
		if err != nil {
			return err
		}
		record, err := loadMandate(ctx, tx, digest)
		if err != nil {
			return err
		}
		if affected == 0 {
			return mandate.ErrNotClaimable
		}
		out = record
		return nil
	})
	return out, err
}

// ClaimPending claims up to limit enqueued records, oldest first.
func (s *MandateStore) ClaimPending(ctx context.Context, limit int) ([]mandate.Record, error) {
	if s == nil || s.db == nil {
		return nil, fmt.Errorf("sqlstore: mandate store is not configured")
	}
	if limit <= 0 {
		return nil, fmt.Errorf("sqlstore: claim limit must be positive")
	}
	var records []mandateRecord
	err := s.db.RunInTx(ctx, nil, func(ctx context.Context, tx bun.Tx) error {
		query := `
WITH claimed AS (
	SELECT id
	FROM custody_mandates
	WHERE status = ?
	ORDER BY enqueued_at ASC
	LIMIT ?
)
UPDATE custody_mandates
SET status = ?
WHERE id IN (SELECT id FROM claimed)
  AND status = ?
RETURNING
	id,
	digest,
	payer,
	asset,
	payee,
	amount,
	nonce,
	deadline,
	ref,
	payer_sig,
	agent_sig,
	enqueue_deadline,
	status,
	retries,
	last_error,
	enqueued_at,
	settled_at
`
		return tx.NewRaw(
			query,
			string(mandate.StatusEnqueued),
			limit,
			string(mandate.StatusProcessing),
			string(mandate.StatusEnqueued),
		).Scan(ctx, &records)
	})
	if err != nil {
		return nil, err
	}
	out := make([]mandate.Record, 0, len(records))
	for _, record := range records {
		converted, err := record.toDomain()
		if err != nil {
			return nil, err
		}
		out = append(out, converted)
	}
	sortRecords(out)
	return out, nil
}

func (s *MandateStore) MarkSettled(ctx context.Context, digest string, settledAt time.Time) error {
	return s.update(ctx, digest, func(query *bun.UpdateQuery) *bun.UpdateQuery {
		return query.
			Set("status = ?", string(mandate.StatusSettled)).
			Set("settled_at = ?", settledAt.UTC()).
			Set("last_error = ?", "")
	})
}

func (s *MandateStore) MarkRetry(ctx context.Context, digest string, cause error) (mandate.Record, error) {
	if s == nil || s.db == nil {
		return mandate.Record{}, fmt.Errorf("sqlstore: mandate store is not configured")
	}
	digest = strings.TrimSpace(digest)
	var out mandate.Record
	err := s.db.RunInTx(ctx, nil, func(ctx context.Context, tx bun.Tx) error {
		if err := updateMandate(ctx, tx, digest, func(query *bun.UpdateQuery) *bun.UpdateQuery {
			return query.
				Set("status = ?", string(mandate.StatusEnqueued)).
				Set("retries = retries + 1").
				Set("last_error = ?", errorText(cause))
		}); err != nil {
			return err
		}
		record, err := loadMandate(ctx, tx, digest)
		if err != nil {
			return err
		}
		out = record
		return nil
	})
	return out, err
}

func (s *MandateStore) MarkFailed(ctx context.Context, digest string, cause error) error {
	return s.update(ctx, digest, func(query *bun.UpdateQuery) *bun.UpdateQuery {
		return query.
			Set("status = ?", string(mandate.StatusFailed)).
			Set("last_error = ?", errorText(cause))
	})
}

func (s *MandateStore) Stats(ctx context.Context) (mandate.Stats, error) {
	if s == nil || s.db == nil {
		return mandate.Stats{}, fmt.Errorf("sqlstore: mandate store is not configured")
	}
	var rows []struct {
		Status string `bun:"status"`
		Total  int    `bun:"total"`
	}
	if err := s.db.NewRaw(
		"SELECT status, COUNT(*) AS total FROM custody_mandates GROUP BY status",
	).Scan(ctx, &rows); err != nil {
		return mandate.Stats{}, err
	}
	var stats mandate.Stats
	for _, row := range rows {
		switch mandate.Status(row.Status) {
		case mandate.StatusEnqueued:
			stats.Queued = row.Total
		case mandate.StatusProcessing:
			stats.Processing = row.Total
		case mandate.StatusSettled:
			stats.Settled = row.Total
		case mandate.StatusFailed:
			stats.Failed = row.Total
		}
	}
	return stats, nil
}

// Recent returns up to limit records, newest first. A non-positive limit
// returns every record.
func (s *MandateStore) Recent(ctx context.Context, limit int) ([]mandate.Record, error) {
	if s == nil || s.repo == nil {
		return nil, fmt.Errorf("sqlstore: mandate store is not configured")
	}
	selectors := []repository.SelectCriteria{
		repository.OrderBy("enqueued_at DESC"),
	}
	if limit > 0 {
		selectors = append(selectors, repository.SelectPaginate(limit, 0))
	}
	records, _, err := s.repo.List(ctx, selectors...)
	if err != nil {
		return nil, err
	}
	out := make([]mandate.Record, 0, len(records))
	for _, record := range records {
		converted, err := record.toDomain()
		if err != nil {
			return nil, err
		}
		out = append(out, converted)
	}
	return out, nil
}

func (s *MandateStore) update(ctx context.Context, digest string, apply func(*bun.UpdateQuery) *bun.UpdateQuery) error {
	if s == nil || s.db == nil {
		return fmt.Errorf("sqlstore: mandate store is not configured")
	}
	return updateMandate(ctx, s.db, strings.TrimSpace(digest), apply)
}

func updateMandate(ctx context.Context, db bun.IDB, digest string, apply func(*bun.UpdateQuery) *bun.UpdateQuery) error {
	query := db.NewUpdate().Model((*mandateRecord)(nil)).Where("digest = ?", digest)
	result, err := apply(query).Exec(ctx)
	if err != nil {
		return err
	}
	affected, err := result.RowsAffected()
	if err != nil {
		return err
	}
	if affected == 0 {
		return mandate.ErrNotFound
	}
	return nil
}

func loadMandate(ctx context.Context, db bun.IDB, digest string) (mandate.Record, error) {
	record := &mandateRecord{}
	if err := db.NewSelect().Model(record).Where("digest = ?", digest).Scan(ctx); err != nil {
		if errors.Is(err, sql.ErrNoRows) {
			return mandate.Record{}, mandate.ErrNotFound
		}
		return mandate.Record{}, err
	}
	return record.toDomain()
}

func nonceTaken(ctx context.Context, db bun.IDB, payer string, asset string, nonce string) (bool, error) {
	return db.NewSelect().
		Model((*mandateRecord)(nil)).
		Where("payer = ?", payer).
		Where("asset = ?", asset).
		Where("nonce = ?", nonce).
		Exists(ctx)
}

func sortRecords(records []mandate.Record) {
	slices.SortStableFunc(records, func(a, b mandate.Record) int {
		return a.EnqueuedAt.Compare(b.EnqueuedAt)
	})
}

func errorText(err error) string {
	if err == nil {
		return ""
	}
	return strings.TrimSpace(err.Error())
}
