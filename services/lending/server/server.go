package server

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"io"
	"log/slog"
	"net/http"
	"strings"
	"time"

	"github.com/go-chi/chi/v5"
	chimw "github.com/go-chi/chi/v5/middleware"
	"github.com/prometheus/client_golang/prometheus/promhttp"
	"go.opentelemetry.io/contrib/instrumentation/net/http/otelhttp"

	"isolend/native/lending"
	"isolend/observability"
	"isolend/services/lending/engine"
	"isolend/services/lending/journal"
	"isolend/services/lendingd/config"
)

const (
	maxBodyBytes    = 1 << 20
	maxHistoryLimit = 500
)

// Options configures the HTTP surface.
type Options struct {
	ServiceName string
	Auth        config.AuthConfig
	RateLimit   config.RateLimitConfig
	// History serves the settlement journal; history routes answer 503 when nil.
	History History
}

// History is the read side of the settlement journal.
type History interface {
	Recent(ctx context.Context, limit int) ([]journal.Entry, error)
	ForPosition(ctx context.Context, key string) ([]journal.Entry, error)
}

// Server exposes the lending engine over HTTP/JSON.
type Server struct {
	engine  engine.Engine
	logger  *slog.Logger
	auth    *Authenticator
	limiter *RateLimiter
	history History
	router  http.Handler
}

// New constructs the server and its router.
func New(eng engine.Engine, logger *slog.Logger, opts Options) *Server {
	if logger == nil {
		logger = slog.Default()
	}
	if strings.TrimSpace(opts.ServiceName) == "" {
		opts.ServiceName = "lendingd"
	}
	s := &Server{
		engine:  eng,
		logger:  logger,
		auth:    NewAuthenticator(opts.Auth, logger),
		limiter: NewRateLimiter(opts.RateLimit, logger),
		history: opts.History,
	}
	s.router = otelhttp.NewHandler(s.buildRouter(), opts.ServiceName)
	return s
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
	r.Handle("/metrics", promhttp.Handler())

	r.Route("/v1", func(api chi.Router) {
		api.Group(func(public chi.Router) {
			public.Use(s.limiter.Middleware("public"))
			public.Post("/positions/get", s.handleGetPosition)
			public.Post("/positions/list", s.handleListPositions)
			public.Post("/positions/key", s.handlePositionKey)
			public.Post("/auctions/get", s.handleGetAuction)
			public.Post("/assets/factor", s.handleGetAssetFactor)
			public.Post("/balances/get", s.handleGetBalance)
			public.Post("/history/recent", s.handleRecentHistory)
			public.Post("/history/position", s.handlePositionHistory)
		})
		api.Group(func(protected chi.Router) {
			protected.Use(s.auth.Middleware)
			protected.Use(s.limiter.Middleware("protected"))
			protected.Post("/deposit", s.positionMutation("deposit", engine.Engine.Deposit))
			protected.Post("/withdraw", s.positionMutation("withdraw", engine.Engine.Withdraw))
			protected.Post("/borrow", s.positionMutation("borrow", engine.Engine.Borrow))
			protected.Post("/repay", s.positionMutation("repay", engine.Engine.Repay))
			protected.Post("/liquidations/ready", s.handleLiquidateReady)
			protected.Post("/liquidations/settle", s.handleLiquidate)
			protected.Post("/assets/mint", s.handleMint)
			protected.Post("/assets/approve", s.handleApprove)
			protected.Post("/admin/asset-factor", s.handleSetAssetFactor)
			protected.Post("/admin/price", s.handleSetPrice)
			protected.Post("/admin/owner", s.handleSetOwner)
		})
	})
	return r
}

func (s *Server) handleHealth(w http.ResponseWriter, _ *http.Request) {
	writeJSON(w, http.StatusOK, StatusResponse{Status: "ok"})
}

type positionOp func(eng engine.Engine, ctx context.Context, ref engine.PositionRef, amount string) (engine.Position, error)

func (s *Server) positionMutation(action string, op positionOp) http.HandlerFunc {
	return func(w http.ResponseWriter, r *http.Request) {
		var req PositionRequest
		if !s.decode(w, r, &req) {
			return
		}
		caller, _ := CallerFromContext(r.Context())
		ref := req.ref()
		switch {
		case strings.TrimSpace(ref.Owner) == "":
			ref.Owner = caller
		case !strings.EqualFold(strings.TrimSpace(ref.Owner), caller):
			writeError(w, http.StatusForbidden, "unauthorized", "caller may only act on its own positions")
			return
		}
		pos, err := op(s.engine, r.Context(), ref, req.Amount)
		if err != nil {
			s.writeEngineError(w, action, err)
			return
		}
		writeJSON(w, http.StatusOK, pos)
	}
}

func (s *Server) handleLiquidateReady(w http.ResponseWriter, r *http.Request) {
	var req LiquidateRequest
	if !s.decode(w, r, &req) {
		return
	}
	auction, err := s.engine.LiquidateReady(r.Context(), req.ref())
	if err != nil {
		s.writeEngineError(w, "liquidate_ready", err)
		return
	}
	writeJSON(w, http.StatusOK, auction)
}

func (s *Server) handleLiquidate(w http.ResponseWriter, r *http.Request) {
	var req LiquidateRequest
	if !s.decode(w, r, &req) {
		return
	}
	caller, _ := CallerFromContext(r.Context())
	result, err := s.engine.Liquidate(r.Context(), req.ref(), caller, req.RepayAsset, req.Amount)
	if err != nil {
		s.writeEngineError(w, "liquidate", err)
		return
	}
	writeJSON(w, http.StatusOK, result)
}

func (s *Server) handleGetPosition(w http.ResponseWriter, r *http.Request) {
	var req PositionRequest
	if !s.decode(w, r, &req) {
		return
	}
	pos, err := s.engine.GetPosition(r.Context(), req.ref())
	if err != nil {
		s.writeEngineError(w, "get_position", err)
		return
	}
	writeJSON(w, http.StatusOK, pos)
}

func (s *Server) handleListPositions(w http.ResponseWriter, r *http.Request) {
	var req OwnerRequest
	if !s.decode(w, r, &req) {
		return
	}
	positions, err := s.engine.ListPositions(r.Context(), req.Owner)
	if err != nil {
		s.writeEngineError(w, "list_positions", err)
		return
	}
	writeJSON(w, http.StatusOK, PositionsResponse{Positions: positions})
}

func (s *Server) handlePositionKey(w http.ResponseWriter, r *http.Request) {
	var req PositionRequest
	if !s.decode(w, r, &req) {
		return
	}
	key, err := s.engine.PositionKey(r.Context(), req.ref())
	if err != nil {
		s.writeEngineError(w, "position_key", err)
		return
	}
	writeJSON(w, http.StatusOK, KeyResponse{Key: key})
}

func (s *Server) handleGetAuction(w http.ResponseWriter, r *http.Request) {
	var req KeyRequest
	if !s.decode(w, r, &req) {
		return
	}
	auction, err := s.engine.GetAuction(r.Context(), req.Key)
	if err != nil {
		s.writeEngineError(w, "get_auction", err)
		return
	}
	writeJSON(w, http.StatusOK, auction)
}

func (s *Server) handleGetAssetFactor(w http.ResponseWriter, r *http.Request) {
	var req AssetRequest
	if !s.decode(w, r, &req) {
		return
	}
	factor, err := s.engine.GetAssetFactor(r.Context(), req.Asset)
	if err != nil {
		s.writeEngineError(w, "get_asset_factor", err)
		return
	}
	writeJSON(w, http.StatusOK, factor)
}

func (s *Server) handleGetBalance(w http.ResponseWriter, r *http.Request) {
	var req BalanceRequest
	if !s.decode(w, r, &req) {
		return
	}
	balance, err := s.engine.GetBalance(r.Context(), req.Asset, req.Account)
	if err != nil {
		s.writeEngineError(w, "get_balance", err)
		return
	}
	writeJSON(w, http.StatusOK, balance)
}

func (s *Server) handleRecentHistory(w http.ResponseWriter, r *http.Request) {
	var req HistoryRequest
	if !s.decode(w, r, &req) || !s.requireHistory(w) {
		return
	}
	if req.Limit < 0 || req.Limit > maxHistoryLimit {
		writeError(w, http.StatusBadRequest, "invalid_request", fmt.Sprintf("limit must be between 0 and %d", maxHistoryLimit))
		return
	}
	entries, err := s.history.Recent(r.Context(), req.Limit)
	if err != nil {
		s.writeEngineError(w, "history_recent", err)
		return
	}
	writeJSON(w, http.StatusOK, HistoryResponse{Entries: entries})
}

func (s *Server) handlePositionHistory(w http.ResponseWriter, r *http.Request) {
	var req KeyRequest
	if !s.decode(w, r, &req) || !s.requireHistory(w) {
		return
	}
	if _, err := lending.ParsePositionKey(req.Key); err != nil {
		writeError(w, http.StatusBadRequest, "invalid_request", err.Error())
		return
	}
	entries, err := s.history.ForPosition(r.Context(), req.Key)
	if err != nil {
		s.writeEngineError(w, "history_position", err)
		return
	}
	writeJSON(w, http.StatusOK, HistoryResponse{Entries: entries})
}

func (s *Server) requireHistory(w http.ResponseWriter) bool {
	if s.history == nil {
		writeError(w, http.StatusServiceUnavailable, "unavailable", "settlement journal disabled")
		return false
	}
	return true
}

func (s *Server) handleMint(w http.ResponseWriter, r *http.Request) {
	var req MintRequest
	if !s.decode(w, r, &req) {
		return
	}
	caller, _ := CallerFromContext(r.Context())
	if err := s.engine.Mint(r.Context(), caller, req.Asset, req.To, req.Amount); err != nil {
		s.writeEngineError(w, "mint", err)
		return
	}
	writeJSON(w, http.StatusOK, StatusResponse{Status: "ok"})
}

func (s *Server) handleApprove(w http.ResponseWriter, r *http.Request) {
	var req ApproveRequest
	if !s.decode(w, r, &req) {
		return
	}
	caller, _ := CallerFromContext(r.Context())
	if err := s.engine.Approve(r.Context(), caller, req.Asset, req.Amount); err != nil {
		s.writeEngineError(w, "approve", err)
		return
	}
	writeJSON(w, http.StatusOK, StatusResponse{Status: "ok"})
}

func (s *Server) handleSetAssetFactor(w http.ResponseWriter, r *http.Request) {
	var req engine.AssetFactor
	if !s.decode(w, r, &req) {
		return
	}
	caller, _ := CallerFromContext(r.Context())
	if err := s.engine.SetAssetFactor(r.Context(), caller, req); err != nil {
		s.writeEngineError(w, "set_asset_factor", err)
		return
	}
	writeJSON(w, http.StatusOK, StatusResponse{Status: "ok"})
}

func (s *Server) handleSetPrice(w http.ResponseWriter, r *http.Request) {
	var req PriceRequest
	if !s.decode(w, r, &req) {
		return
	}
	caller, _ := CallerFromContext(r.Context())
	if err := s.engine.SetPrice(r.Context(), caller, req.Asset, req.Price); err != nil {
		s.writeEngineError(w, "set_price", err)
		return
	}
	writeJSON(w, http.StatusOK, StatusResponse{Status: "ok"})
}

func (s *Server) handleSetOwner(w http.ResponseWriter, r *http.Request) {
	var req SetOwnerRequest
	if !s.decode(w, r, &req) {
		return
	}
	caller, _ := CallerFromContext(r.Context())
	if err := s.engine.SetOwner(r.Context(), caller, req.NewOwner); err != nil {
		s.writeEngineError(w, "set_owner", err)
		return
	}
	writeJSON(w, http.StatusOK, StatusResponse{Status: "ok"})
}

func (s *Server) decode(w http.ResponseWriter, r *http.Request, out interface{}) bool {
	if s.engine == nil {
		writeError(w, http.StatusServiceUnavailable, "unavailable", "lending engine unavailable")
		return false
	}
	decoder := json.NewDecoder(http.MaxBytesReader(w, r.Body, maxBodyBytes))
	decoder.DisallowUnknownFields()
	if err := decoder.Decode(out); err != nil {
		msg := "invalid payload"
		if !errors.Is(err, io.EOF) {
			msg = fmt.Sprintf("invalid payload: %v", err)
		}
		writeError(w, http.StatusBadRequest, "invalid_request", msg)
		return false
	}
	return true
}

func (s *Server) writeEngineError(w http.ResponseWriter, action string, err error) {
	status, code := statusFor(err)
	msg := err.Error()
	if status == http.StatusInternalServerError {
		s.logger.Error("lending engine error", "action", action, "error", err)
		msg = "internal error"
	} else {
		s.logger.Debug("lending request rejected", "action", action, "code", code, "error", err)
	}
	writeError(w, status, code, msg)
}

// observe records request metrics against the matched route pattern.
func (s *Server) observe(next http.Handler) http.Handler {
	return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		start := time.Now()
		ww := chimw.NewWrapResponseWriter(w, r.ProtoMajor)
		next.ServeHTTP(ww, r)
		route := ""
		if rctx := chi.RouteContext(r.Context()); rctx != nil {
			route = rctx.RoutePattern()
		}
		status := ww.Status()
		if status == 0 {
			status = http.StatusOK
		}
		elapsed := time.Since(start)
		observability.HTTP().Observe(route, status, elapsed)
		s.logger.Debug("http request",
			"method", r.Method,
			"route", route,
			"status", status,
			"duration", elapsed,
			"request_id", chimw.GetReqID(r.Context()))
	})
}

func writeJSON(w http.ResponseWriter, status int, payload interface{}) {
	w.Header().Set("Content-Type", "application/json")
	w.WriteHeader(status)
	_ = json.NewEncoder(w).Encode(payload)
}

func writeError(w http.ResponseWriter, status int, code, message string) {
	writeJSON(w, status, ErrorResponse{Error: ErrorBody{Code: code, Message: message}})
}
