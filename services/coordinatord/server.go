package coordinatord

import (
	"context"
	"encoding/json"
	"errors"
	"io"
	"log/slog"
	"math/big"
	"net/http"
	"strconv"
	"strings"

	"github.com/go-chi/chi/v5"
	chimw "github.com/go-chi/chi/v5/middleware"
	"github.com/prometheus/client_golang/prometheus/promhttp"

	"github.com/aodhgan/closest-number/coordinator"
)

// RoundService is the slice of the coordinator the HTTP layer depends on.
type RoundService interface {
	SubmitGuess(ctx context.Context, player, guess string, auth coordinator.Authorization) (coordinator.SubmitResult, error)
	PublicState() coordinator.Snapshot
	ResetRound(ctx context.Context) error
	Close(ctx context.Context) error
	Open(ctx context.Context, buyIn *big.Int) error
	RetrySettlement(ctx context.Context) error
	PushBuyIn(ctx context.Context) error
	Withdraw(ctx context.Context, recipient string, amount *big.Int) error
}

// RoundArchive serves superseded rounds.
type RoundArchive interface {
	GetRound(ctx context.Context, id uint64) (*ArchivedRound, error)
}

// ServerConfig bundles the dependencies for the HTTP server.
type ServerConfig struct {
	Service RoundService
	Archive RoundArchive
	Hub     *feedHub
	Limiter *playerLimiter
	Auth    *AdminAuth
	Logger  *slog.Logger
}

// Server is the thin HTTP surface over the coordinator: request shaping only,
// all game logic stays behind RoundService.
type Server struct {
	svc     RoundService
	archive RoundArchive
	hub     *feedHub
	limiter *playerLimiter
	auth    *AdminAuth
	log     *slog.Logger

	router http.Handler
}

func NewServer(cfg ServerConfig) *Server {
	srv := &Server{
		svc:     cfg.Service,
		archive: cfg.Archive,
		hub:     cfg.Hub,
		limiter: cfg.Limiter,
		auth:    cfg.Auth,
		log:     cfg.Logger,
	}
	if srv.log == nil {
		srv.log = slog.Default()
	}
	if srv.hub == nil {
		srv.hub = newFeedHub(srv.log)
	}
	srv.router = srv.buildRouter()
	return srv
}

// Handler exposes the configured HTTP router.
func (s *Server) Handler() http.Handler {
	return s.router
}

// Hub returns the websocket feed hub so it can be wired as the coordinator's
// event sink.
func (s *Server) Hub() *feedHub {
	return s.hub
}

func (s *Server) buildRouter() http.Handler {
	r := chi.NewRouter()
	r.Use(chimw.RequestID)
	r.Use(chimw.RealIP)
	r.Use(chimw.Recoverer)

	r.Get("/healthz", s.handleHealth)
	r.Handle("/metrics", promhttp.Handler())
	r.Get("/round", s.handleRound)
	r.Get("/round/guesses", s.handleGuesses)
	r.Get("/rounds/{id}", s.handleArchivedRound)
	r.Post("/guess", s.handleGuess)
	r.Get("/ws/feed", s.hub.handle)

	r.Route("/admin", func(admin chi.Router) {
		if s.auth != nil {
			admin.Use(s.auth.Middleware)
		}
		admin.Get("/status", s.handleRound)
		admin.Post("/reset", s.handleAdmin("reset", s.svc.ResetRound))
		admin.Post("/close", s.handleAdmin("close", s.svc.Close))
		admin.Post("/settle/retry", s.handleAdmin("settle retry", s.svc.RetrySettlement))
		admin.Post("/buyin", s.handleAdmin("push buy-in", s.svc.PushBuyIn))
		admin.Post("/open", s.handleOpen)
		admin.Post("/withdraw", s.handleWithdraw)
	})
	return r
}

func (s *Server) handleHealth(w http.ResponseWriter, r *http.Request) {
	writeJSON(w, http.StatusOK, map[string]string{"status": "ok"})
}

func (s *Server) handleRound(w http.ResponseWriter, r *http.Request) {
	writeJSON(w, http.StatusOK, s.svc.PublicState())
}

func (s *Server) handleGuesses(w http.ResponseWriter, r *http.Request) {
	snap := s.svc.PublicState()
	writeJSON(w, http.StatusOK, map[string]interface{}{
		"roundId": snap.RoundID,
		"guesses": snap.Guesses,
	})
}

type guessRequest struct {
	Player        string                    `json:"player"`
	Guess         string                    `json:"guess"`
	Authorization coordinator.Authorization `json:"authorization"`
}

func (s *Server) handleGuess(w http.ResponseWriter, r *http.Request) {
	var req guessRequest
	if err := json.NewDecoder(r.Body).Decode(&req); err != nil {
		writeErrorMessage(w, http.StatusBadRequest, "invalid JSON body")
		return
	}
	if s.limiter != nil && !s.limiter.Allow(req.Player) {
		writeErrorMessage(w, http.StatusTooManyRequests, "too many guesses, slow down")
		return
	}
	result, err := s.svc.SubmitGuess(r.Context(), req.Player, req.Guess, req.Authorization)
	if err != nil {
		s.writeError(w, err)
		return
	}
	writeJSON(w, http.StatusOK, result)
}

func (s *Server) handleArchivedRound(w http.ResponseWriter, r *http.Request) {
	if s.archive == nil {
		writeErrorMessage(w, http.StatusNotFound, "round archive not configured")
		return
	}
	id, err := strconv.ParseUint(chi.URLParam(r, "id"), 10, 64)
	if err != nil {
		writeErrorMessage(w, http.StatusBadRequest, "round id must be a positive integer")
		return
	}
	round, err := s.archive.GetRound(r.Context(), id)
	if err != nil {
		if errors.Is(err, ErrRoundNotArchived) {
			writeErrorMessage(w, http.StatusNotFound, "round not archived")
			return
		}
		s.log.Error("load archived round", "round", id, "err", err)
		writeErrorMessage(w, http.StatusInternalServerError, "archive lookup failed")
		return
	}
	writeJSON(w, http.StatusOK, round)
}

// handleAdmin wraps the parameterless admin operations.
func (s *Server) handleAdmin(op string, call func(context.Context) error) http.HandlerFunc {
	return func(w http.ResponseWriter, r *http.Request) {
		if err := call(r.Context()); err != nil {
			s.log.Warn("admin operation failed", "op", op, "err", err)
			s.writeError(w, err)
			return
		}
		writeJSON(w, http.StatusOK, s.svc.PublicState())
	}
}

type openRequest struct {
	BuyIn string `json:"buyIn"`
}

func (s *Server) handleOpen(w http.ResponseWriter, r *http.Request) {
	// The body is optional; absent means the configured initial buy-in.
	var req openRequest
	if err := json.NewDecoder(r.Body).Decode(&req); err != nil && !errors.Is(err, io.EOF) {
		writeErrorMessage(w, http.StatusBadRequest, "invalid JSON body")
		return
	}
	var buyIn *big.Int
	if trimmed := strings.TrimSpace(req.BuyIn); trimmed != "" {
		parsed, ok := new(big.Int).SetString(trimmed, 10)
		if !ok {
			writeErrorMessage(w, http.StatusBadRequest, "buyIn must be a decimal integer")
			return
		}
		buyIn = parsed
	}
	if err := s.svc.Open(r.Context(), buyIn); err != nil {
		s.writeError(w, err)
		return
	}
	writeJSON(w, http.StatusOK, s.svc.PublicState())
}

type withdrawRequest struct {
	Recipient string `json:"recipient"`
	Amount    string `json:"amount"`
}

func (s *Server) handleWithdraw(w http.ResponseWriter, r *http.Request) {
	var req withdrawRequest
	if err := json.NewDecoder(r.Body).Decode(&req); err != nil {
		writeErrorMessage(w, http.StatusBadRequest, "invalid JSON body")
		return
	}
	amount, ok := new(big.Int).SetString(strings.TrimSpace(req.Amount), 10)
	if !ok {
		writeErrorMessage(w, http.StatusBadRequest, "amount must be a decimal integer")
		return
	}
	if err := s.svc.Withdraw(r.Context(), req.Recipient, amount); err != nil {
		s.writeError(w, err)
		return
	}
	writeJSON(w, http.StatusOK, map[string]string{"status": "withdrawn", "amount": amount.String()})
}

// writeError maps coordinator error kinds onto HTTP statuses.
func (s *Server) writeError(w http.ResponseWriter, err error) {
	var (
		valErr    *coordinator.ValidationError
		authErr   *coordinator.AuthorizationError
		replayErr *coordinator.ReplayError
		chainErr  *coordinator.ChainError
		cfgErr    *coordinator.ConfigError
	)
	switch {
	case errors.As(err, &valErr):
		writeErrorMessage(w, http.StatusBadRequest, valErr.Error())
	case errors.As(err, &authErr):
		writeErrorMessage(w, http.StatusUnauthorized, authErr.Error())
	case errors.As(err, &replayErr):
		writeErrorMessage(w, http.StatusConflict, replayErr.Error())
	case errors.As(err, &chainErr):
		status := http.StatusBadGateway
		if chainErr.Timeout {
			status = http.StatusGatewayTimeout
		}
		writeErrorMessage(w, status, chainErr.Error())
	case errors.As(err, &cfgErr):
		writeErrorMessage(w, http.StatusServiceUnavailable, cfgErr.Error())
	default:
		s.log.Error("unhandled error", "err", err)
		writeErrorMessage(w, http.StatusInternalServerError, "internal error")
	}
}

func writeJSON(w http.ResponseWriter, status int, payload interface{}) {
	w.Header().Set("Content-Type", "application/json")
	w.WriteHeader(status)
	_ = json.NewEncoder(w).Encode(payload)
}

func writeErrorMessage(w http.ResponseWriter, status int, message string) {
	writeJSON(w, status, map[string]string{"error": message})
}
