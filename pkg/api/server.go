package api

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"net/http"
	"time"

	"github.com/rs/zerolog"

	"github.com/cuemby/netledger/pkg/ledger"
	"github.com/cuemby/netledger/pkg/log"
	"github.com/cuemby/netledger/pkg/metrics"
	"github.com/cuemby/netledger/pkg/storage"
	"github.com/cuemby/netledger/pkg/types"
)

// maxBodySize bounds request bodies; an inventory of a few thousand
// resources fits comfortably
const maxBodySize = 8 << 20

// Server exposes a ledger over HTTP with JSON bodies
type Server struct {
	ledger *ledger.Ledger
	node   Leadership
	logger zerolog.Logger
	mux    *http.ServeMux
	http   *http.Server
}

// NewServer creates an API server for l. node may be nil when the ledger
// runs on a local store; health may be nil to leave out /health and /ready.
func NewServer(l *ledger.Ledger, node Leadership, health *metrics.HealthChecker) *Server {
	s := &Server{
		ledger: l,
		node:   node,
		logger: log.WithComponent("api"),
		mux:    http.NewServeMux(),
	}

	mutations := http.NewServeMux()
	mutations.HandleFunc("POST /v1/register", s.handleRegister)
	mutations.HandleFunc("POST /v1/unregister", s.handleUnregister)
	mutations.HandleFunc("POST /v1/allocate", s.handleAllocate)
	mutations.HandleFunc("POST /v1/release", s.handleRelease)
	s.mux.Handle("POST /v1/", leaderOnly(node, mutations))

	s.mux.HandleFunc("GET /v1/resource", s.handleGetResource)
	s.mux.HandleFunc("GET /v1/children", s.handleChildren)
	s.mux.HandleFunc("GET /v1/available", s.handleAvailable)
	s.mux.HandleFunc("GET /v1/allocated", s.handleAllocated)
	s.mux.HandleFunc("GET /v1/availability", s.handleAvailability)
	s.mux.HandleFunc("GET /v1/consumers/{consumer}", s.handleConsumer)

	s.mux.Handle("GET /metrics", metrics.Handler())
	if health != nil {
		s.mux.HandleFunc("GET /health", health.HealthHandler())
		s.mux.HandleFunc("GET /ready", health.ReadyHandler())
	}

	return s
}

// Handler returns the HTTP handler for embedding in other servers
func (s *Server) Handler() http.Handler {
	return logRequests(s.logger, s.mux)
}

// Start serves the API on addr until Stop is called
func (s *Server) Start(addr string) error {
	s.http = &http.Server{
		Addr:              addr,
		Handler:           s.Handler(),
		ReadHeaderTimeout: 5 * time.Second,
		ReadTimeout:       30 * time.Second,
		WriteTimeout:      30 * time.Second,
		IdleTimeout:       60 * time.Second,
	}

	s.logger.Info().Str("addr", addr).Msg("API listening")
	if err := s.http.ListenAndServe(); err != nil && !errors.Is(err, http.ErrServerClosed) {
		return fmt.Errorf("failed to serve API: %w", err)
	}
	return nil
}

// Stop gracefully stops the server
func (s *Server) Stop(ctx context.Context) error {
	if s.http == nil {
		return nil
	}
	return s.http.Shutdown(ctx)
}

func writeJSON(w http.ResponseWriter, status int, body interface{}) {
	w.Header().Set("Content-Type", "application/json")
	w.WriteHeader(status)
	_ = json.NewEncoder(w).Encode(body)
}

func writeError(w http.ResponseWriter, status int, err error) {
	writeJSON(w, status, ErrorResponse{Error: err.Error()})
}

// writeLedgerError maps a storage or transport failure to a status
func (s *Server) writeLedgerError(w http.ResponseWriter, err error) {
	if errors.Is(err, storage.ErrReadOnly) {
		resp := ErrorResponse{Error: err.Error()}
		if s.node != nil {
			resp.Leader = s.node.LeaderAddr()
		}
		writeJSON(w, http.StatusMisdirectedRequest, resp)
		return
	}
	s.logger.Error().Err(err).Msg("ledger request failed")
	writeError(w, http.StatusInternalServerError, err)
}

func decode(w http.ResponseWriter, r *http.Request, v interface{}) bool {
	dec := json.NewDecoder(http.MaxBytesReader(w, r.Body, maxBodySize))
	dec.DisallowUnknownFields()
	if err := dec.Decode(v); err != nil {
		writeError(w, http.StatusBadRequest, fmt.Errorf("invalid request body: %w", err))
		return false
	}
	return true
}

// parseResources parses canonical resource strings. The root is rejected
// here so it never reaches the ledger.
func parseResources(items []string) ([]types.Resource, error) {
	rs := make([]types.Resource, 0, len(items))
	for _, item := range items {
		r, err := types.ParseResource(item)
		if err != nil {
			return nil, err
		}
		if d, ok := r.(types.DiscreteResource); ok && d.ID.IsRoot() {
			return nil, fmt.Errorf("the root resource cannot be used")
		}
		rs = append(rs, r)
	}
	return rs, nil
}

func resourceStrings(rs []types.Resource) []string {
	out := make([]string, len(rs))
	for i, r := range rs {
		out[i] = r.String()
	}
	return out
}

func parentParam(r *http.Request) (types.DiscreteResourceID, error) {
	return types.ParseDiscreteResourceID(r.URL.Query().Get("parent"))
}

func (s *Server) writeResult(w http.ResponseWriter, ok bool, err error) {
	if err != nil {
		s.writeLedgerError(w, err)
		return
	}
	writeJSON(w, http.StatusOK, ResultResponse{OK: ok})
}

func (s *Server) handleRegister(w http.ResponseWriter, r *http.Request) {
	var req RegisterRequest
	if !decode(w, r, &req) {
		return
	}
	rs, err := parseResources(req.Resources)
	if err != nil {
		writeError(w, http.StatusBadRequest, err)
		return
	}
	ok, err := s.ledger.Register(rs)
	s.writeResult(w, ok, err)
}

func (s *Server) handleUnregister(w http.ResponseWriter, r *http.Request) {
	var req UnregisterRequest
	if !decode(w, r, &req) {
		return
	}
	ids := make([]types.ResourceID, 0, len(req.IDs))
	for _, raw := range req.IDs {
		id, err := types.ParseResourceID(raw)
		if err != nil {
			writeError(w, http.StatusBadRequest, err)
			return
		}
		if d, ok := id.(types.DiscreteResourceID); ok && d.IsRoot() {
			writeError(w, http.StatusBadRequest, fmt.Errorf("the root resource cannot be used"))
			return
		}
		ids = append(ids, id)
	}
	ok, err := s.ledger.Unregister(ids)
	s.writeResult(w, ok, err)
}

func (s *Server) handleAllocate(w http.ResponseWriter, r *http.Request) {
	var req AllocateRequest
	if !decode(w, r, &req) {
		return
	}
	if req.Consumer == "" {
		writeError(w, http.StatusBadRequest, fmt.Errorf("consumer is required"))
		return
	}
	rs, err := parseResources(req.Resources)
	if err != nil {
		writeError(w, http.StatusBadRequest, err)
		return
	}
	ok, err := s.ledger.Allocate(types.ConsumerID(req.Consumer), rs...)
	s.writeResult(w, ok, err)
}

func (s *Server) handleRelease(w http.ResponseWriter, r *http.Request) {
	var req ReleaseRequest
	if !decode(w, r, &req) {
		return
	}
	if req.Consumer == "" {
		writeError(w, http.StatusBadRequest, fmt.Errorf("consumer is required"))
		return
	}
	rs, err := parseResources(req.Resources)
	if err != nil {
		writeError(w, http.StatusBadRequest, err)
		return
	}
	allocs := make([]types.Allocation, len(rs))
	for i, res := range rs {
		allocs[i] = types.Allocation{Resource: res, Consumer: types.ConsumerID(req.Consumer)}
	}
	ok, err := s.ledger.Release(allocs)
	s.writeResult(w, ok, err)
}

func (s *Server) handleGetResource(w http.ResponseWriter, r *http.Request) {
	id, err := types.ParseResourceID(r.URL.Query().Get("id"))
	if err != nil {
		writeError(w, http.StatusBadRequest, err)
		return
	}
	res, ok, err := s.ledger.GetResource(id)
	if err != nil {
		s.writeLedgerError(w, err)
		return
	}
	if !ok {
		writeError(w, http.StatusNotFound, fmt.Errorf("%s is not registered", id))
		return
	}
	allocs, err := s.ledger.GetResourceAllocations(id)
	if err != nil {
		s.writeLedgerError(w, err)
		return
	}

	resp := ResourceResponse{Resource: res.String(), Allocations: make([]Allocation, len(allocs))}
	for i, a := range allocs {
		resp.Allocations[i] = Allocation{Resource: a.Resource.String(), Consumer: string(a.Consumer)}
	}
	writeJSON(w, http.StatusOK, resp)
}

func (s *Server) handleChildren(w http.ResponseWriter, r *http.Request) {
	parent, err := parentParam(r)
	if err != nil {
		writeError(w, http.StatusBadRequest, err)
		return
	}
	rs, err := s.ledger.GetChildResources(parent)
	if err != nil {
		s.writeLedgerError(w, err)
		return
	}
	writeJSON(w, http.StatusOK, ResourcesResponse{Resources: resourceStrings(rs)})
}

func (s *Server) handleAvailable(w http.ResponseWriter, r *http.Request) {
	parent, err := parentParam(r)
	if err != nil {
		writeError(w, http.StatusBadRequest, err)
		return
	}
	rs, err := s.ledger.GetAvailableResources(parent)
	if err != nil {
		s.writeLedgerError(w, err)
		return
	}
	writeJSON(w, http.StatusOK, ResourcesResponse{Resources: resourceStrings(rs)})
}

func (s *Server) handleAllocated(w http.ResponseWriter, r *http.Request) {
	parent, err := parentParam(r)
	if err != nil {
		writeError(w, http.StatusBadRequest, err)
		return
	}
	kind, err := types.ParseSegmentKind(r.URL.Query().Get("kind"))
	if err != nil {
		writeError(w, http.StatusBadRequest, err)
		return
	}
	rs, err := s.ledger.GetAllocatedResources(parent, kind)
	if err != nil {
		s.writeLedgerError(w, err)
		return
	}
	writeJSON(w, http.StatusOK, ResourcesResponse{Resources: resourceStrings(rs)})
}

func (s *Server) handleAvailability(w http.ResponseWriter, r *http.Request) {
	rs, err := parseResources([]string{r.URL.Query().Get("resource")})
	if err != nil {
		writeError(w, http.StatusBadRequest, err)
		return
	}
	ok, err := s.ledger.IsAvailable(rs[0])
	if err != nil {
		s.writeLedgerError(w, err)
		return
	}
	writeJSON(w, http.StatusOK, AvailabilityResponse{Available: ok})
}

func (s *Server) handleConsumer(w http.ResponseWriter, r *http.Request) {
	consumer := r.PathValue("consumer")
	rs, err := s.ledger.GetResources(types.ConsumerID(consumer))
	if err != nil {
		s.writeLedgerError(w, err)
		return
	}
	writeJSON(w, http.StatusOK, ResourcesResponse{Resources: resourceStrings(rs)})
}
