package query

import (
	gocmd "github.com/goliatone/go-command"

	"github.com/goliatone/go-custody/core"
	"github.com/goliatone/go-custody/mandate"
)

var (
	_ gocmd.Querier[GetConfigMessage, core.GlobalConfig]      = (*GetConfigQuery)(nil)
	_ gocmd.Querier[GetLedgerMessage, core.Ledger]            = (*GetLedgerQuery)(nil)
	_ gocmd.Querier[GetAgentMessage, core.AgentAuthorization] = (*GetAgentQuery)(nil)
	_ gocmd.Querier[GetMandateMessage, mandate.Record]        = (*GetMandateQuery)(nil)
	_ gocmd.Querier[MandateHealthMessage, MandateHealth]      = (*MandateHealthQuery)(nil)

	_ StateReader   = (*core.Service)(nil)
	_ MandateReader = (*mandate.MemoryStore)(nil)
)
