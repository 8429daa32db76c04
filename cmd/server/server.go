package main

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"net/http"
	"time"

	"github.com/go-chi/chi/v5"
	"github.com/go-chi/chi/v5/middleware"
	"github.com/jmoiron/sqlx"
	"go.uber.org/zap"

	"github.com/Simplici0/pricebook/internal/catalog"
	"github.com/Simplici0/pricebook/internal/channel"
	"github.com/Simplici0/pricebook/internal/events"
	"github.com/Simplici0/pricebook/internal/money"
	"github.com/Simplici0/pricebook/internal/session"
	"github.com/Simplici0/pricebook/internal/store"
)

const maxBodyBytes = 1 << 20

var errInvalidBody = errors.New("invalid request body")

type server struct {
	db          *sqlx.DB
	store       *store.Store
	sessions    *session.Manager
	events      events.Publisher
	logger      *zap.Logger
	saveTimeout time.Duration
}

func newServer(db *sqlx.DB, st *store.Store, sessions *session.Manager, publisher events.Publisher, logger *zap.Logger, saveTimeout time.Duration) *server {
	if logger == nil {
		logger = zap.NewNop()
	}
	if publisher == nil {
		publisher = events.Nop{}
	}
	return &server{
		db:          db,
		store:       st,
		sessions:    sessions,
		events:      publisher,
		logger:      logger,
		saveTimeout: saveTimeout,
	}
}

func (s *server) routes() http.Handler {
	r := chi.NewRouter()
	r.Use(middleware.RequestID)
	r.Use(middleware.Recoverer)
	r.Use(s.requestLogger)

	r.Get("/health", s.handleHealth)

	r.Route("/admin/pricing", func(r chi.Router) {
		r.Get("/data", s.handleData)
		r.Post("/prices", s.handleSavePrices)
		r.Post("/rules", s.handleSaveRules)
		r.Get("/export.xlsx", s.handleExport)

		r.Post("/sessions", s.handleSessionCreate)
		r.Route("/sessions/{id}", func(r chi.Router) {
			r.Use(s.withSession)
			r.Get("/", s.handleSessionGet)
			r.Delete("/", s.handleSessionClose)
			r.Get("/table", s.handleSessionTable)
			r.Put("/drafts", s.handleSessionDraft)
			r.Delete("/drafts", s.handleSessionDiscard)
			r.Get("/updates", s.handleSessionUpdates)
			r.Post("/commit", s.handleSessionCommit)
			r.Post("/save", s.handleSessionSaveAll)
			r.Put("/rules/{channel}", s.handleSessionRule)
			r.Post("/rules/reset", s.handleSessionRulesReset)
			r.Post("/rules/commit", s.handleSessionRulesCommit)
			r.Post("/bulk", s.handleSessionBulk)
			r.Get("/calculator", s.handleCalculatorGet)
			r.Post("/calculator", s.handleCalculator)
			r.Post("/calculator/apply", s.handleCalculatorApply)
			r.Get("/export.xlsx", s.handleSessionExport)
		})
	})

	return r
}

func (s *server) requestLogger(next http.Handler) http.Handler {
	return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		ww := middleware.NewWrapResponseWriter(w, r.ProtoMajor)
		start := time.Now()
		next.ServeHTTP(ww, r)

		s.logger.Debug("request",
			zap.String("method", r.Method),
			zap.String("path", r.URL.Path),
			zap.Int("status", ww.Status()),
			zap.Duration("duration", time.Since(start)),
			zap.String("request_id", middleware.GetReqID(r.Context())),
		)
	})
}

func (s *server) handleHealth(w http.ResponseWriter, r *http.Request) {
	if err := s.db.PingContext(r.Context()); err != nil {
		s.fail(w, r, fmt.Errorf("ping database: %w", err))
		return
	}
	writeJSON(w, http.StatusOK, map[string]any{"ok": true})
}

// saveContext bounds a persistence call.
func (s *server) saveContext(parent context.Context) (context.Context, context.CancelFunc) {
	if s.saveTimeout <= 0 {
		return context.WithCancel(parent)
	}
	return context.WithTimeout(parent, s.saveTimeout)
}

func decodeJSON(w http.ResponseWriter, r *http.Request, dst any) error {
	r.Body = http.MaxBytesReader(w, r.Body, maxBodyBytes)
	if err := json.NewDecoder(r.Body).Decode(dst); err != nil {
		return fmt.Errorf("%w: %v", errInvalidBody, err)
	}
	return nil
}

func writeJSON(w http.ResponseWriter, status int, v any) {
	w.Header().Set("Content-Type", "application/json; charset=utf-8")
	w.WriteHeader(status)
	_ = json.NewEncoder(w).Encode(v)
}

type errorResponse struct {
	OK       bool               `json:"ok"`
	Error    string             `json:"error"`
	Rejected []catalog.Rejected `json:"rejected,omitempty"`
}

func statusFor(err error) int {
	switch {
	case errors.Is(err, session.ErrNotFound):
		return http.StatusNotFound
	case errors.Is(err, session.ErrSaveInProgress):
		return http.StatusConflict
	case errors.Is(err, session.ErrProductNotResolved),
		errors.Is(err, session.ErrNotComputable):
		return http.StatusUnprocessableEntity
	case errors.Is(err, errInvalidBody),
		errors.Is(err, channel.ErrUnknownChannel),
		errors.Is(err, money.ErrInvalidAmount),
		errors.Is(err, catalog.ErrNoValidUpdates),
		errors.Is(err, session.ErrUnknownProduct),
		errors.Is(err, session.ErrInvalidValue),
		errors.Is(err, session.ErrMissingInput),
		errors.Is(err, session.ErrNothingCalculated):
		return http.StatusBadRequest
	case errors.Is(err, context.DeadlineExceeded):
		return http.StatusGatewayTimeout
	default:
		return http.StatusInternalServerError
	}
}

func (s *server) fail(w http.ResponseWriter, r *http.Request, err error) {
	s.failWith(w, r, err, nil)
}

func (s *server) failWith(w http.ResponseWriter, r *http.Request, err error, rejected []catalog.Rejected) {
	status := statusFor(err)
	if status >= http.StatusInternalServerError {
		s.logger.Error("request failed",
			zap.String("method", r.Method),
			zap.String("path", r.URL.Path),
			zap.Error(err),
		)
	}
	writeJSON(w, status, errorResponse{Error: err.Error(), Rejected: rejected})
}
