package transport

import (
	"encoding/json"
	"errors"
	"fmt"
	"io"
	"net/http"
	"strconv"
	"strings"
	"time"

	"github.com/go-chi/chi/v5"
	"github.com/go-chi/chi/v5/middleware"
	goerrors "github.com/goliatone/go-errors"
	glog "github.com/goliatone/go-logger/glog"

	custodycommand "github.com/goliatone/go-custody/command"
	"github.com/goliatone/go-custody/core"
	"github.com/goliatone/go-custody/mandate"
	custodyquery "github.com/goliatone/go-custody/query"
)

const DefaultMaxBodyBytes int64 = 64 << 10

type Config struct {
	Intake       custodycommand.MandateIntake
	State        custodyquery.StateReader
	Mandates     custodyquery.MandateReader
	Agent        core.Identity
	Metrics      http.Handler
	Logger       core.Logger
	MaxBodyBytes int64
	HistoryLimit int
}

type server struct {
	config       *custodyquery.GetConfigQuery
	ledger       *custodyquery.GetLedgerQuery
	agent        *custodyquery.GetAgentQuery
	mandate      *custodyquery.GetMandateQuery
	health       *custodyquery.MandateHealthQuery
	intake       custodycommand.MandateIntake
	logger       core.Logger
	maxBodyBytes int64
	historyLimit int
}

// NewRouter exposes the agent endpoints: mandate intake, queue health and
// read-only custody state.
func NewRouter(cfg Config) (chi.Router, error) {
	if cfg.Intake == nil {
		return nil, fmt.Errorf("transport: mandate intake is required")
	}
	if cfg.State == nil {
		return nil, fmt.Errorf("transport: state reader is required")
	}
	if cfg.Mandates == nil {
		return nil, fmt.Errorf("transport: mandate reader is required")
	}
	if cfg.MaxBodyBytes <= 0 {
		cfg.MaxBodyBytes = DefaultMaxBodyBytes
	}
	s := &server{
		intake:       cfg.Intake,
		config:       custodyquery.NewGetConfigQuery(cfg.State),
		ledger:       custodyquery.NewGetLedgerQuery(cfg.State),
		agent:        custodyquery.NewGetAgentQuery(cfg.State),
		mandate:      custodyquery.NewGetMandateQuery(cfg.Mandates),
		health:       custodyquery.NewMandateHealthQuery(cfg.Mandates, cfg.Agent),
		logger:       glog.Ensure(cfg.Logger),
		maxBodyBytes: cfg.MaxBodyBytes,
		historyLimit: cfg.HistoryLimit,
	}

	r := chi.NewRouter()
	r.Use(middleware.RequestID)
	r.Use(middleware.Recoverer)
	r.Use(s.logRequests)

	r.Post("/enqueue", s.handleEnqueue)
	r.Get("/health", s.handleHealth)
	r.Get("/config", s.handleConfig)
	r.Get("/ledgers/{user}/{asset}", s.handleLedger)
	r.Get("/agents/{agent}", s.handleAgent)
	r.Get("/mandates/{digest}", s.handleMandate)
	if cfg.Metrics != nil {
		r.Method(http.MethodGet, "/metrics", cfg.Metrics)
	}
	return r, nil
}

func (s *server) handleEnqueue(w http.ResponseWriter, r *http.Request) {
	var signed mandate.SignedMandate
	body := http.MaxBytesReader(w, r.Body, s.maxBodyBytes)
	decoder := json.NewDecoder(body)
	if err := decoder.Decode(&signed); err != nil {
		writeError(w, decodeError(err))
		return
	}
	msg := custodycommand.EnqueueMandateMessage{Mandate: signed}
	if err := msg.Validate(); err != nil {
		writeError(w, err)
		return
	}
	receipt, err := s.intake.Enqueue(r.Context(), msg.Mandate)
	if err != nil {
		writeError(w, err)
		return
	}
	writeJSON(w, http.StatusOK, enqueueView{Success: true, Receipt: receipt})
}

func (s *server) handleHealth(w http.ResponseWriter, r *http.Request) {
	msg := custodyquery.MandateHealthMessage{HistoryLimit: s.historyLimit}
	if raw := strings.TrimSpace(r.URL.Query().Get("limit")); raw != "" {
		limit, err := strconv.Atoi(raw)
		if err != nil {
			writeError(w, transportError("limit must be an integer", goerrors.CategoryBadInput, http.StatusBadRequest))
			return
		}
		msg.HistoryLimit = limit
	}
	if err := msg.Validate(); err != nil {
		writeError(w, err)
		return
	}
	health, err := s.health.Query(r.Context(), msg)
	if err != nil {
		writeError(w, err)
		return
	}
	writeJSON(w, http.StatusOK, toHealthView(health))
}

func (s *server) handleConfig(w http.ResponseWriter, r *http.Request) {
	cfg, err := s.config.Query(r.Context(), custodyquery.GetConfigMessage{})
	if err != nil {
		writeError(w, err)
		return
	}
	writeJSON(w, http.StatusOK, toConfigView(cfg))
}

func (s *server) handleLedger(w http.ResponseWriter, r *http.Request) {
	msg := custodyquery.GetLedgerMessage{
		User:  chi.URLParam(r, "user"),
		Asset: chi.URLParam(r, "asset"),
	}
	if err := msg.Validate(); err != nil {
		writeError(w, err)
		return
	}
	ledger, err := s.ledger.Query(r.Context(), msg)
	if err != nil {
		writeError(w, err)
		return
	}
	writeJSON(w, http.StatusOK, toLedgerView(ledger))
}

func (s *server) handleAgent(w http.ResponseWriter, r *http.Request) {
	msg := custodyquery.GetAgentMessage{Agent: chi.URLParam(r, "agent")}
	if err := msg.Validate(); err != nil {
		writeError(w, err)
		return
	}
	agent, err := s.agent.Query(r.Context(), msg)
	if err != nil {
		writeError(w, err)
		return
	}
	writeJSON(w, http.StatusOK, toAgentView(agent))
}

func (s *server) handleMandate(w http.ResponseWriter, r *http.Request) {
	msg := custodyquery.GetMandateMessage{Digest: chi.URLParam(r, "digest")}
	if err := msg.Validate(); err != nil {
		writeError(w, err)
		return
	}
	record, err := s.mandate.Query(r.Context(), msg)
	if err != nil {
		writeError(w, err)
		return
	}
	writeJSON(w, http.StatusOK, toMandateView(record))
}

func (s *server) logRequests(next http.Handler) http.Handler {
	return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		startedAt := time.Now()
		ww := middleware.NewWrapResponseWriter(w, r.ProtoMajor)
		next.ServeHTTP(ww, r)
		s.logger.Info("http request",
			"method", r.Method,
			"path", r.URL.Path,
			"status", ww.Status(),
			"duration_ms", time.Since(startedAt).Milliseconds(),
			"request_id", middleware.GetReqID(r.Context()),
		)
	})
}

func decodeError(err error) error {
	var tooLarge *http.MaxBytesError
	if errors.As(err, &tooLarge) {
		return transportError("request body too large", goerrors.CategoryBadInput, http.StatusRequestEntityTooLarge)
	}
	if errors.Is(err, io.EOF) {
		return transportError("mandate and payerSig are required", goerrors.CategoryBadInput, http.StatusBadRequest)
	}
	return transportError("invalid request body: "+err.Error(), goerrors.CategoryBadInput, http.StatusBadRequest)
}

func writeJSON(w http.ResponseWriter, status int, payload any) {
	w.Header().Set("Content-Type", "application/json")
	w.WriteHeader(status)
	_ = json.NewEncoder(w).Encode(payload)
}
