package transport

import (
	"strconv"
	"time"

	"github.com/goliatone/go-custody/core"
	"github.com/goliatone/go-custody/mandate"
	custodyquery "github.com/goliatone/go-custody/query"
)

// Amounts and nonces are rendered as decimal strings so 64-bit values survive
// JSON clients that parse numbers as doubles.

type configView struct {
	Address              string    `json:"address"`
	Admin                string    `json:"admin"`
	WithdrawDelaySeconds int64     `json:"withdrawDelaySeconds"`
	CreatedAt            time.Time `json:"createdAt"`
}

type lockView struct {
	State        string `json:"state"`
	LockedAmount string `json:"lockedAmount"`
	UnlockTime   int64  `json:"unlockTime"`
}

type ledgerView struct {
	Address    string   `json:"address"`
	User       string   `json:"user"`
	Asset      string   `json:"asset"`
	Balance    string   `json:"balance"`
	Lock       lockView `json:"lock"`
	UsedNonces []string `json:"usedNonces"`
}

type agentView struct {
	Address   string    `json:"address"`
	Agent     string    `json:"agent"`
	Enabled   bool      `json:"enabled"`
	UpdatedBy string    `json:"updatedBy"`
	UpdatedAt time.Time `json:"updatedAt"`
}

type mandateView struct {
	Digest          string     `json:"mandateDigest"`
	Mandate         any        `json:"mandate"`
	Status          string     `json:"status"`
	Retries         int        `json:"retries"`
	LastError       string     `json:"lastError,omitempty"`
	EnqueueDeadline int64      `json:"enqueueDeadline"`
	EnqueuedAt      time.Time  `json:"enqueuedAt"`
	SettledAt       *time.Time `json:"settledAt,omitempty"`
}

type healthView struct {
	Status      string        `json:"status"`
	Agent       string        `json:"sp"`
	QueueLength int           `json:"queueLength"`
	Processing  int           `json:"processing"`
	Settled     int           `json:"settled"`
	Failed      int           `json:"failed"`
	History     []mandateView `json:"history"`
}

type enqueueView struct {
	Success bool            `json:"success"`
	Receipt mandate.Receipt `json:"receipt"`
}

func toConfigView(cfg core.GlobalConfig) configView {
	return configView{
		Address:              cfg.Address,
		Admin:                cfg.Admin,
		WithdrawDelaySeconds: cfg.WithdrawDelaySeconds,
		CreatedAt:            cfg.CreatedAt,
	}
}

func toLedgerView(ledger core.Ledger) ledgerView {
	nonces := ledger.UsedNonces.Values()
	used := make([]string, 0, len(nonces))
	for _, nonce := range nonces {
		used = append(used, strconv.FormatUint(nonce, 10))
	}
	return ledgerView{
		Address: ledger.Address,
		User:    ledger.User,
		Asset:   ledger.Asset,
		Balance: strconv.FormatUint(ledger.Balance, 10),
		Lock: lockView{
			State:        string(ledger.Lock.State()),
			LockedAmount: strconv.FormatUint(ledger.Lock.LockedAmount, 10),
			UnlockTime:   ledger.Lock.UnlockTime,
		},
		UsedNonces: used,
	}
}

func toAgentView(agent core.AgentAuthorization) agentView {
	return agentView{
		Address:   agent.Address,
		Agent:     agent.Agent,
		Enabled:   agent.Enabled,
		UpdatedBy: agent.UpdatedBy,
		UpdatedAt: agent.UpdatedAt,
	}
}

func toMandateView(record mandate.Record) mandateView {
	return mandateView{
		Digest:          record.Digest,
		Mandate:         record.Mandate,
		Status:          string(record.Status),
		Retries:         record.Retries,
		LastError:       record.LastError,
		EnqueueDeadline: record.EnqueueDeadline,
		EnqueuedAt:      record.EnqueuedAt,
		SettledAt:       record.SettledAt,
	}
}

func toHealthView(health custodyquery.MandateHealth) healthView {
	history := make([]mandateView, 0, len(health.History))
	for _, record := range health.History {
		history = append(history, toMandateView(record))
	}
	return healthView{
		Status:      "ok",
		Agent:       health.Agent,
		QueueLength: health.Stats.Queued,
		Processing:  health.Stats.Processing,
		Settled:     health.Stats.Settled,
		Failed:      health.Stats.Failed,
		History:     history,
	}
}
