package query

import (
	"context"

	"github.com/goliatone/go-custody/core"
	"github.com/goliatone/go-custody/mandate"
)

type StateReader interface {
	GetConfig(ctx context.Context) (core.GlobalConfig, error)
	GetLedger(ctx context.Context, user core.Identity, asset core.AssetID) (core.Ledger, error)
	GetAgent(ctx context.Context, agent core.Identity) (core.AgentAuthorization, error)
}

type MandateReader interface {
	Get(ctx context.Context, digest string) (mandate.Record, error)
	Stats(ctx context.Context) (mandate.Stats, error)
	Recent(ctx context.Context, limit int) ([]mandate.Record, error)
}

// MandateHealth summarizes the settlement queue for one agent.
type MandateHealth struct {
	Agent   core.Identity
	Stats   mandate.Stats
	History []mandate.Record
}

type GetConfigQuery struct {
	reader StateReader
}

func NewGetConfigQuery(reader StateReader) *GetConfigQuery {
	return &GetConfigQuery{reader: reader}
}

func (q *GetConfigQuery) Query(ctx context.Context, _ GetConfigMessage) (core.GlobalConfig, error) {
	if q == nil || q.reader == nil {
		return core.GlobalConfig{}, queryDependencyError("query: state reader is required")
	}
	return q.reader.GetConfig(ctx)
}

type GetLedgerQuery struct {
	reader StateReader
}

func NewGetLedgerQuery(reader StateReader) *GetLedgerQuery {
	return &GetLedgerQuery{reader: reader}
}

func (q *GetLedgerQuery) Query(ctx context.Context, msg GetLedgerMessage) (core.Ledger, error) {
	if q == nil || q.reader == nil {
		return core.Ledger{}, queryDependencyError("query: state reader is required")
	}
	return q.reader.GetLedger(ctx, msg.User, msg.Asset)
}

type GetAgentQuery struct {
	reader StateReader
}

func NewGetAgentQuery(reader StateReader) *GetAgentQuery {
	return &GetAgentQuery{reader: reader}
}

func (q *GetAgentQuery) Query(ctx context.Context, msg GetAgentMessage) (core.AgentAuthorization, error) {
	if q == nil || q.reader == nil {
		return core.AgentAuthorization{}, queryDependencyError("query: state reader is required")
	}
	return q.reader.GetAgent(ctx, msg.Agent)
}

type GetMandateQuery struct {
	reader MandateReader
}

func NewGetMandateQuery(reader MandateReader) *GetMandateQuery {
	return &GetMandateQuery{reader: reader}
}

func (q *GetMandateQuery) Query(ctx context.Context, msg GetMandateMessage) (mandate.Record, error) {
	if q == nil || q.reader == nil {
		return mandate.Record{}, queryDependencyError("query: mandate reader is required")
	}
	return q.reader.Get(ctx, msg.Digest)
}

type MandateHealthQuery struct {
	reader MandateReader
	agent  core.Identity
}

func NewMandateHealthQuery(reader MandateReader, agent core.Identity) *MandateHealthQuery {
	return &MandateHealthQuery{reader: reader, agent: agent}
}

func (q *MandateHealthQuery) Query(ctx context.Context, msg MandateHealthMessage) (MandateHealth, error) {
	if q == nil || q.reader == nil {
		return MandateHealth{}, queryDependencyError("query: mandate reader is required")
	}
	limit := msg.HistoryLimit
	if limit <= 0 {
		limit = DefaultHistoryLimit
	}
	stats, err := q.reader.Stats(ctx)
	if err != nil {
		return MandateHealth{}, err
	}
	history, err := q.reader.Recent(ctx, limit)
	if err != nil {
		return MandateHealth{}, err
	}
	return MandateHealth{Agent: q.agent, Stats: stats, History: history}, nil
}
