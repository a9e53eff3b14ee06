package api

import (
	"context"
	"encoding/json"
	"errors"
	"net/http"
	"os"
	"sync/atomic"
	"time"

	"github.com/go-chi/chi/v5"
	"go.uber.org/zap"

	"github.com/JakeFAU/statute-crawler/internal/login"
	"github.com/JakeFAU/statute-crawler/internal/metrics"
	"github.com/JakeFAU/statute-crawler/internal/middleware"
	"github.com/JakeFAU/statute-crawler/internal/pool"
	"github.com/JakeFAU/statute-crawler/internal/statute"
)

// PoolService is the slice of the pool manager the server drives.
type PoolService interface {
	Status(ctx context.Context) (pool.Status, error)
	Records(ctx context.Context) ([]pool.Record, error)
	Remove(ctx context.Context, token string) (int64, error)
	SetPrimary(ctx context.Context, token string, ttl time.Duration) error
	Primary(ctx context.Context) (string, bool, error)
	ClearPrimary(ctx context.Context) error
	EnsurePoolSize(ctx context.Context) (bool, error)
	Replenishing() bool
}

// LoginStatus reports progress of the current QR login.
type LoginStatus interface {
	Snapshot() login.Status
	QRCode() (string, bool)
}

// Config controls the admin server.
type Config struct {
	APIKey         string
	RequestTimeout time.Duration
	// LoginTimeout bounds one background replenishment started over HTTP.
	LoginTimeout time.Duration
}

// Server wires HTTP handlers to the pool manager.
type Server struct {
	router  chi.Router
	ctx     context.Context
	pool    PoolService
	logins  LoginStatus
	cfg     Config
	logger  *zap.Logger
	running atomic.Bool
}

// NewServer constructs a Server with middleware and routes. Background
// replenishments started over HTTP stop when ctx is cancelled. logins may
// be nil when the login provider has no QR flow.
func NewServer(ctx context.Context, mgr PoolService, logins LoginStatus, cfg Config, logger *zap.Logger) *Server {
	if logger == nil {
		logger = zap.NewNop()
	}
	if cfg.RequestTimeout <= 0 {
		cfg.RequestTimeout = 30 * time.Second
	}
	s := &Server{
		ctx:    ctx,
		pool:   mgr,
		logins: logins,
		cfg:    cfg,
		logger: logger.Named("api"),
	}

	r := chi.NewRouter()
	r.Use(middleware.RequestID)
	r.Use(middleware.Logging(s.logger))
	r.Use(middleware.Recover(s.logger))
	r.Use(middleware.Metrics)

	r.Get("/healthz", s.healthz)
	r.Handle("/metrics", metrics.Handler())

	r.Route("/api", func(r chi.Router) {
		r.Use(middleware.APIKey(cfg.APIKey))
		r.Use(timeoutMiddleware(cfg.RequestTimeout))
		r.Get("/status", s.status)
		r.Get("/tokens", s.listTokens)
		r.Delete("/tokens", s.removeToken)
		r.Post("/token", s.setPrimary)
		r.Get("/token", s.getPrimary)
		r.Delete("/token", s.clearPrimary)
		r.Post("/login", s.startLogin)
		r.Get("/login", s.loginStatus)
		r.Get("/qrcode", s.qrcode)
	})

	s.router = r
	return s
}

// Handler returns the Router for use with http.Server.
func (s *Server) Handler() http.Handler {
	return s.router
}

func (s *Server) healthz(w http.ResponseWriter, _ *http.Request) {
	writeJSON(w, http.StatusOK, map[string]string{"status": "ok"})
}

type statusResponse struct {
	Pool  pool.Status   `json:"pool"`
	Login *login.Status `json:"login,omitempty"`
}

func (s *Server) status(w http.ResponseWriter, r *http.Request) {
	st, err := s.pool.Status(r.Context())
	if err != nil {
		s.internalError(w, "pool status failed", err)
		return
	}
	resp := statusResponse{Pool: st}
	if s.logins != nil {
		snap := s.logins.Snapshot()
		resp.Login = &snap
	}
	writeJSON(w, http.StatusOK, resp)
}

type tokenView struct {
	Token     string     `json:"token"`
	UserLabel string     `json:"user_label,omitempty"`
	CreatedAt *time.Time `json:"created_at,omitempty"`
	ExpiresAt *time.Time `json:"expires_at,omitempty"`
	Valid     bool       `json:"valid"`
	Expired   bool       `json:"expired"`
}

func (s *Server) listTokens(w http.ResponseWriter, r *http.Request) {
	records, err := s.pool.Records(r.Context())
	if err != nil {
		s.internalError(w, "list tokens failed", err)
		return
	}
	views := make([]tokenView, 0, len(records))
	for _, rec := range records {
		v := tokenView{Valid: rec.Valid, Expired: rec.Expired}
		if rec.Valid {
			v.Token = rec.Credential.Masked()
			v.UserLabel = rec.Credential.UserLabel
			v.CreatedAt = timePtr(rec.Credential.CreatedAt)
			v.ExpiresAt = timePtr(rec.Credential.ExpiresAt)
		}
		views = append(views, v)
	}
	writeJSON(w, http.StatusOK, map[string]any{"count": len(views), "tokens": views})
}

type tokenRequest struct {
	Token      string `json:"token"`
	TTLSeconds int    `json:"ttl_seconds"`
}

func (s *Server) removeToken(w http.ResponseWriter, r *http.Request) {
	var req tokenRequest
	if err := json.NewDecoder(r.Body).Decode(&req); err != nil || req.Token == "" {
		writeError(w, http.StatusBadRequest, "token required")
		return
	}
	removed, err := s.pool.Remove(r.Context(), req.Token)
	if err != nil {
		s.internalError(w, "remove token failed", err)
		return
	}
	if removed == 0 {
		writeError(w, http.StatusNotFound, "token not found")
		return
	}
	writeJSON(w, http.StatusOK, map[string]any{"removed": removed})
}

func (s *Server) setPrimary(w http.ResponseWriter, r *http.Request) {
	var req tokenRequest
	if err := json.NewDecoder(r.Body).Decode(&req); err != nil || req.Token == "" {
		writeError(w, http.StatusBadRequest, "token required")
		return
	}
	if req.TTLSeconds < 0 {
		writeError(w, http.StatusBadRequest, "ttl_seconds must be >= 0")
		return
	}
	ttl := time.Duration(req.TTLSeconds) * time.Second
	if err := s.pool.SetPrimary(r.Context(), req.Token, ttl); err != nil {
		if errors.Is(err, statute.ErrInvalidRecord) {
			writeError(w, http.StatusBadRequest, err.Error())
			return
		}
		s.internalError(w, "set primary failed", err)
		return
	}
	writeJSON(w, http.StatusOK, map[string]string{"token": statute.MaskToken(req.Token)})
}

func (s *Server) getPrimary(w http.ResponseWriter, r *http.Request) {
	token, ok, err := s.pool.Primary(r.Context())
	if err != nil {
		s.internalError(w, "get primary failed", err)
		return
	}
	if !ok {
		writeError(w, http.StatusNotFound, "primary token not set")
		return
	}
	writeJSON(w, http.StatusOK, map[string]string{"token": statute.MaskToken(token)})
}

func (s *Server) clearPrimary(w http.ResponseWriter, r *http.Request) {
	if err := s.pool.ClearPrimary(r.Context()); err != nil {
		s.internalError(w, "clear primary failed", err)
		return
	}
	w.WriteHeader(http.StatusNoContent)
}

// startLogin kicks off one background replenishment.
func (s *Server) startLogin(w http.ResponseWriter, _ *http.Request) {
	if s.pool.Replenishing() || !s.running.CompareAndSwap(false, true) {
		writeError(w, http.StatusConflict, "replenishment already running")
		return
	}
	go s.replenish()
	writeJSON(w, http.StatusAccepted, map[string]string{"status": "started"})
}

func (s *Server) replenish() {
	defer s.running.Store(false)
	ctx := s.ctx
	if s.cfg.LoginTimeout > 0 {
		var cancel context.CancelFunc
		ctx, cancel = context.WithTimeout(ctx, s.cfg.LoginTimeout)
		defer cancel()
	}
	filled, err := s.pool.EnsurePoolSize(ctx)
	if err != nil {
		s.logger.Error("background replenishment failed", zap.Error(err))
		return
	}
	s.logger.Info("background replenishment finished", zap.Bool("filled", filled))
}

func (s *Server) loginStatus(w http.ResponseWriter, _ *http.Request) {
	if s.logins == nil {
		writeError(w, http.StatusNotFound, "login status unavailable")
		return
	}
	writeJSON(w, http.StatusOK, s.logins.Snapshot())
}

func (s *Server) qrcode(w http.ResponseWriter, r *http.Request) {
	if s.logins == nil {
		writeError(w, http.StatusNotFound, "no login in progress")
		return
	}
	path, ok := s.logins.QRCode()
	if !ok {
		writeError(w, http.StatusNotFound, "no login in progress")
		return
	}
	if _, err := os.Stat(path); err != nil {
		writeError(w, http.StatusNotFound, "qr code not captured yet")
		return
	}
	w.Header().Set("Cache-Control", "no-store")
	w.Header().Set("Content-Type", "image/png")
	http.ServeFile(w, r, path)
}

func (s *Server) internalError(w http.ResponseWriter, msg string, err error) {
	s.logger.Error(msg, zap.Error(err))
	writeError(w, http.StatusInternalServerError, msg)
}

func timeoutMiddleware(d time.Duration) func(http.Handler) http.Handler {
	return func(next http.Handler) http.Handler {
		return http.TimeoutHandler(next, d, "request timed out")
	}
}

func timePtr(t time.Time) *time.Time {
	if t.IsZero() {
		return nil
	}
	return &t
}

func writeJSON(w http.ResponseWriter, status int, payload any) {
	w.Header().Set("Content-Type", "application/json")
	w.WriteHeader(status)
	if err := json.NewEncoder(w).Encode(payload); err != nil {
		zap.L().Error("write JSON failed", zap.Error(err))
	}
}

func writeError(w http.ResponseWriter, status int, msg string) {
	writeJSON(w, status, map[string]string{"error": msg})
}
