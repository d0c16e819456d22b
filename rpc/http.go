package rpc

import (
	"context"
	"encoding/hex"
	"encoding/json"
	"errors"
	"fmt"
	"io"
	"log/slog"
	"mime"
	"net/http"
	"strconv"
	"strings"
	"time"

	"github.com/go-chi/chi/v5"
	chimw "github.com/go-chi/chi/v5/middleware"
	"github.com/prometheus/client_golang/prometheus/promhttp"
	"go.opentelemetry.io/contrib/instrumentation/net/http/otelhttp"
	"gopkg.in/yaml.v3"

	"ledgerengine/core/types"
	"ledgerengine/storage/receipts"
)

// Executor runs submitted transactions.
type Executor interface {
	Execute(ctx context.Context, tx *types.Transaction) (*types.Receipt, error)
}

// StateReader exposes committed substates.
type StateReader interface {
	Get(addr types.SubstateAddress) ([]byte, bool, error)
	ListNode(node types.NodeId) ([]types.SubstateAddress, error)
	Version() (uint64, error)
}

// ReceiptStore looks up archived receipts.
type ReceiptStore interface {
	Get(ctx context.Context, hash types.Hash) (*types.Receipt, error)
	Recent(ctx context.Context, status string, limit int) ([]*types.Receipt, error)
}

// Config captures the dependencies required to construct the server.
type Config struct {
	Network  string
	Executor Executor
	State    StateReader
	// Receipts is optional; receipt routes answer 503 without it.
	Receipts          ReceiptStore
	Logger            *slog.Logger
	MaxBodyBytes      int64
	ReadHeaderTimeout time.Duration
}

// Server is the engine's HTTP API.
type Server struct {
	cfg    Config
	logger *slog.Logger
	router http.Handler
}

const (
	defaultMaxBodyBytes = 1 << 20
	maxRecentReceipts   = 100
)

func New(cfg Config) (*Server, error) {
	if cfg.Executor == nil || cfg.State == nil {
		return nil, errors.New("rpc: executor and state reader required")
	}
	if cfg.MaxBodyBytes <= 0 {
		cfg.MaxBodyBytes = defaultMaxBodyBytes
	}
	if cfg.ReadHeaderTimeout <= 0 {
		cfg.ReadHeaderTimeout = 5 * time.Second
	}
	logger := cfg.Logger
	if logger == nil {
		logger = slog.Default()
	}
	s := &Server{cfg: cfg, logger: logger.With(slog.String("component", "rpc"))}
	s.router = s.buildRouter()
	return s, nil
}

// Handler exposes the configured HTTP router.
func (s *Server) Handler() http.Handler {
	return s.router
}

func (s *Server) buildRouter() http.Handler {
	r := chi.NewRouter()
	r.Use(chimw.RequestID)
	r.Use(chimw.RealIP)
	r.Use(chimw.Recoverer)
	r.Use(s.observe)

	r.Get("/healthz", s.handleHealth)
	r.Get("/status", s.handleStatus)
	r.Post("/transactions", s.handleSubmit)
	r.Get("/receipts", s.handleRecentReceipts)
	r.Get("/receipts/{hash}", s.handleGetReceipt)
	r.Get("/substates/{node}", s.handleListSubstates)
	r.Get("/substates/{node}/{partition}/{key}", s.handleGetSubstate)
	r.Handle("/metrics", promhttp.Handler())

	return otelhttp.NewHandler(r, "ledger.rpc")
}

// Start serves until ctx is cancelled.
func (s *Server) Start(ctx context.Context, addr string) error {
	srv := &http.Server{
		Addr:              addr,
		Handler:           s.router,
		ReadHeaderTimeout: s.cfg.ReadHeaderTimeout,
	}
	errCh := make(chan error, 1)
	go func() {
		s.logger.Info("rpc listening", slog.String("listen", addr))
		errCh <- srv.ListenAndServe()
	}()
	select {
	case err := <-errCh:
		return err
	case <-ctx.Done():
		shutdownCtx, cancel := context.WithTimeout(context.Background(), 5*time.Second)
		defer cancel()
		if err := srv.Shutdown(shutdownCtx); err != nil {
			return err
		}
		if err := <-errCh; !errors.Is(err, http.ErrServerClosed) {
			return err
		}
		return nil
	}
}

type errorResponse struct {
	Error string `json:"error"`
}

func writeJSON(w http.ResponseWriter, status int, v any) {
	w.Header().Set("Content-Type", "application/json")
	w.WriteHeader(status)
	_ = json.NewEncoder(w).Encode(v)
}

func writeError(w http.ResponseWriter, status int, format string, args ...any) {
	writeJSON(w, status, errorResponse{Error: fmt.Sprintf(format, args...)})
}

func (s *Server) handleHealth(w http.ResponseWriter, _ *http.Request) {
	writeJSON(w, http.StatusOK, map[string]string{"status": "ok"})
}

type statusResponse struct {
	Network      string `json:"network"`
	StateVersion uint64 `json:"stateVersion"`
}

func (s *Server) handleStatus(w http.ResponseWriter, _ *http.Request) {
	version, err := s.cfg.State.Version()
	if err != nil {
		writeError(w, http.StatusInternalServerError, "read state version: %v", err)
		return
	}
	writeJSON(w, http.StatusOK, statusResponse{Network: s.cfg.Network, StateVersion: version})
}

// decodeTransaction accepts JSON, or YAML when the content type says so.
func decodeTransaction(r *http.Request, limit int64) (*types.Transaction, error) {
	body, err := io.ReadAll(io.LimitReader(r.Body, limit+1))
	if err != nil {
		return nil, err
	}
	if int64(len(body)) > limit {
		return nil, fmt.Errorf("payload exceeds %d bytes", limit)
	}
	var tx types.Transaction
	mediaType, _, _ := mime.ParseMediaType(r.Header.Get("Content-Type"))
	switch mediaType {
	case "application/yaml", "application/x-yaml", "text/yaml":
		err = yaml.Unmarshal(body, &tx)
	default:
		err = json.Unmarshal(body, &tx)
	}
	if err != nil {
		return nil, err
	}
	if len(tx.Instructions) == 0 {
		return nil, errors.New("transaction has no instructions")
	}
	return &tx, nil
}

func (s *Server) handleSubmit(w http.ResponseWriter, r *http.Request) {
	tx, err := decodeTransaction(r, s.cfg.MaxBodyBytes)
	if err != nil {
		writeError(w, http.StatusBadRequest, "invalid transaction: %v", err)
		return
	}
	receipt, err := s.cfg.Executor.Execute(r.Context(), tx)
	if err != nil {
		s.logger.Error("execute transaction", slog.Any("error", err))
		writeError(w, http.StatusInternalServerError, "execute: %v", err)
		return
	}
	status := http.StatusOK
	if receipt.Status == types.StatusRejected {
		status = http.StatusUnprocessableEntity
	}
	writeJSON(w, status, receipt)
}

func (s *Server) handleGetReceipt(w http.ResponseWriter, r *http.Request) {
	if s.cfg.Receipts == nil {
		writeError(w, http.StatusServiceUnavailable, "receipt archive disabled")
		return
	}
	hash, err := types.ParseHash(chi.URLParam(r, "hash"))
	if err != nil {
		writeError(w, http.StatusBadRequest, "%v", err)
		return
	}
	receipt, err := s.cfg.Receipts.Get(r.Context(), hash)
	switch {
	case errors.Is(err, receipts.ErrNotFound):
		writeError(w, http.StatusNotFound, "receipt %s not found", hash)
	case err != nil:
		writeError(w, http.StatusInternalServerError, "%v", err)
	default:
		writeJSON(w, http.StatusOK, receipt)
	}
}

func (s *Server) handleRecentReceipts(w http.ResponseWriter, r *http.Request) {
	if s.cfg.Receipts == nil {
		writeError(w, http.StatusServiceUnavailable, "receipt archive disabled")
		return
	}
	limit := maxRecentReceipts
	if raw := r.URL.Query().Get("limit"); raw != "" {
		parsed, err := strconv.Atoi(raw)
		if err != nil || parsed <= 0 {
			writeError(w, http.StatusBadRequest, "invalid limit %q", raw)
			return
		}
		limit = min(parsed, maxRecentReceipts)
	}
	list, err := s.cfg.Receipts.Recent(r.Context(), strings.ToLower(r.URL.Query().Get("status")), limit)
	if err != nil {
		writeError(w, http.StatusInternalServerError, "%v", err)
		return
	}
	writeJSON(w, http.StatusOK, list)
}

type substateResponse struct {
	Node      types.NodeId          `json:"node"`
	Partition types.PartitionNumber `json:"partition"`
	Key       string                `json:"key"`
	Value     types.HexBytes        `json:"value,omitempty"`
}

func (s *Server) handleListSubstates(w http.ResponseWriter, r *http.Request) {
	node, err := types.ParseNodeId(chi.URLParam(r, "node"))
	if err != nil {
		writeError(w, http.StatusBadRequest, "%v", err)
		return
	}
	addrs, err := s.cfg.State.ListNode(node)
	if err != nil {
		writeError(w, http.StatusInternalServerError, "%v", err)
		return
	}
	if len(addrs) == 0 {
		writeError(w, http.StatusNotFound, "node %s not found", node)
		return
	}
	out := make([]substateResponse, 0, len(addrs))
	for _, addr := range addrs {
		out = append(out, substateResponse{
			Node:      addr.Node,
			Partition: addr.Partition,
			Key:       hex.EncodeToString([]byte(addr.Key)),
		})
	}
	writeJSON(w, http.StatusOK, out)
}

func (s *Server) handleGetSubstate(w http.ResponseWriter, r *http.Request) {
	node, err := types.ParseNodeId(chi.URLParam(r, "node"))
	if err != nil {
		writeError(w, http.StatusBadRequest, "%v", err)
		return
	}
	partition, err := strconv.ParseUint(chi.URLParam(r, "partition"), 10, 8)
	if err != nil {
		writeError(w, http.StatusBadRequest, "invalid partition: %v", err)
		return
	}
	rawKey, err := hex.DecodeString(chi.URLParam(r, "key"))
	if err != nil {
		writeError(w, http.StatusBadRequest, "invalid key: %v", err)
		return
	}
	addr := types.SubstateAddress{Node: node, Partition: types.PartitionNumber(partition), Key: types.SubstateKey(rawKey)}
	value, ok, err := s.cfg.State.Get(addr)
	switch {
	case err != nil:
		writeError(w, http.StatusInternalServerError, "%v", err)
	case !ok:
		writeError(w, http.StatusNotFound, "substate %s not found", addr)
	default:
		writeJSON(w, http.StatusOK, substateResponse{
			Node:      node,
			Partition: addr.Partition,
			Key:       hex.EncodeToString(rawKey),
			Value:     value,
		})
	}
}
