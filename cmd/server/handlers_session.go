package main

import (
	"bytes"
	"context"
	"encoding/json"
	"fmt"
	"net/http"
	"strconv"
	"strings"

	"github.com/go-chi/chi/v5"
	"go.uber.org/zap"

	"github.com/Simplici0/pricebook/internal/catalog"
	"github.com/Simplici0/pricebook/internal/channel"
	"github.com/Simplici0/pricebook/internal/money"
	"github.com/Simplici0/pricebook/internal/pricing"
	"github.com/Simplici0/pricebook/internal/session"
)

type ctxKey int

const sessionKey ctxKey = iota

func (s *server) withSession(next http.Handler) http.Handler {
	return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		sess, err := s.sessions.Get(r.Context(), chi.URLParam(r, "id"))
		if err != nil {
			s.fail(w, r, err)
			return
		}
		next.ServeHTTP(w, r.WithContext(context.WithValue(r.Context(), sessionKey, sess)))
	})
}

func sessionFrom(r *http.Request) *session.Session {
	return r.Context().Value(sessionKey).(*session.Session)
}

// snapshot stores the unsaved edits of sess. Failures are logged only.
func (s *server) snapshot(r *http.Request, sess *session.Session) {
	if err := s.sessions.Persist(r.Context(), sess); err != nil {
		s.logger.Warn("persist session snapshot", zap.String("session_id", sess.ID()), zap.Error(err))
	}
}

func (s *server) handleSessionCreate(w http.ResponseWriter, r *http.Request) {
	ctx, cancel := s.saveContext(r.Context())
	defer cancel()

	sess, err := s.sessions.Create(ctx)
	if err != nil {
		s.fail(w, r, err)
		return
	}
	s.logger.Info("session created", zap.String("session_id", sess.ID()))
	writeJSON(w, http.StatusCreated, sess.Summary())
}

func (s *server) handleSessionGet(w http.ResponseWriter, r *http.Request) {
	writeJSON(w, http.StatusOK, sessionFrom(r).Summary())
}

func (s *server) handleSessionClose(w http.ResponseWriter, r *http.Request) {
	if err := s.sessions.Close(r.Context(), sessionFrom(r).ID()); err != nil {
		s.fail(w, r, err)
		return
	}
	w.WriteHeader(http.StatusNoContent)
}

// parseFilterChannel maps "" and "all" to every channel.
func parseFilterChannel(raw string) (channel.Channel, error) {
	raw = strings.TrimSpace(raw)
	if raw == "" || strings.EqualFold(raw, "all") {
		return "", nil
	}
	return channel.Parse(raw)
}

func (s *server) handleSessionTable(w http.ResponseWriter, r *http.Request) {
	q := r.URL.Query()

	ch, err := parseFilterChannel(q.Get("channel"))
	if err != nil {
		s.fail(w, r, err)
		return
	}
	var onlyMissing bool
	if raw := q.Get("onlyMissing"); raw != "" {
		onlyMissing, err = strconv.ParseBool(raw)
		if err != nil {
			s.fail(w, r, fmt.Errorf("%w: onlyMissing must be a boolean", errInvalidBody))
			return
		}
	}

	sess := sessionFrom(r)
	rows := sess.Table(session.Filter{Query: q.Get("q"), Channel: ch, OnlyMissing: onlyMissing})
	writeJSON(w, http.StatusOK, map[string]any{
		"rows":       rows,
		"dirtyCount": sess.DirtyCount(),
		"state":      sess.State(),
	})
}

type draftRequest struct {
	ProductID   int64           `json:"productId"`
	Channel     string          `json:"channel"`
	Price       json.RawMessage `json:"price"`
	StrikePrice json.RawMessage `json:"strikePrice"`
}

type draftResponse struct {
	OK         bool               `json:"ok"`
	Entry      catalog.PriceEntry `json:"entry"`
	Dirty      bool               `json:"dirty"`
	DirtyCount int                `json:"dirtyCount"`
}

// parseCellInput reads a cell edit. Strings are read as pt-BR values so
// "19,90" and "R$ 1.234,56" are accepted; an absent field is left unchanged.
func parseCellInput(raw json.RawMessage) (catalog.Field, error) {
	if len(bytes.TrimSpace(raw)) == 0 {
		return catalog.Field{}, nil
	}
	var a money.Amount
	if err := a.UnmarshalJSON(raw); err != nil {
		return catalog.Field{}, err
	}
	return catalog.Set(a), nil
}

func (s *server) handleSessionDraft(w http.ResponseWriter, r *http.Request) {
	var req draftRequest
	if err := decodeJSON(w, r, &req); err != nil {
		s.fail(w, r, err)
		return
	}

	ch, err := channel.Parse(req.Channel)
	if err != nil {
		s.fail(w, r, err)
		return
	}
	price, err := parseCellInput(req.Price)
	if err != nil {
		s.fail(w, r, fmt.Errorf("price: %w", err))
		return
	}
	strike, err := parseCellInput(req.StrikePrice)
	if err != nil {
		s.fail(w, r, fmt.Errorf("strikePrice: %w", err))
		return
	}

	sess := sessionFrom(r)
	entry, err := sess.EditCell(req.ProductID, ch, price, strike)
	if err != nil {
		s.fail(w, r, err)
		return
	}
	s.snapshot(r, sess)

	writeJSON(w, http.StatusOK, draftResponse{
		OK:         true,
		Entry:      entry,
		Dirty:      sess.IsDirty(req.ProductID, ch),
		DirtyCount: sess.DirtyCount(),
	})
}

func (s *server) handleSessionDiscard(w http.ResponseWriter, r *http.Request) {
	sess := sessionFrom(r)
	sess.DiscardAll()
	s.snapshot(r, sess)
	writeJSON(w, http.StatusOK, sess.Summary())
}

func (s *server) handleSessionUpdates(w http.ResponseWriter, r *http.Request) {
	updates := sessionFrom(r).BuildUpdates()
	if updates == nil {
		updates = []catalog.Update{}
	}
	writeJSON(w, http.StatusOK, map[string]any{"updates": updates})
}

type commitResponse struct {
	OK         bool            `json:"ok"`
	Saved      int             `json:"saved"`
	RulesSaved bool            `json:"rulesSaved"`
	Rules      channel.RuleSet `json:"rules"`
	DirtyCount int             `json:"dirtyCount"`
}

func (s *server) commitPrices(r *http.Request, sess *session.Session) (int, error) {
	ctx, cancel := s.saveContext(r.Context())
	defer cancel()

	sent, err := sess.CommitPrices(ctx)
	if err != nil {
		return 0, err
	}
	s.publishPrices(r, sess.ID(), sent)
	return len(sent), nil
}

func (s *server) commitRules(r *http.Request, sess *session.Session) (channel.RuleSet, error) {
	ctx, cancel := s.saveContext(r.Context())
	defer cancel()

	rules, err := sess.CommitRules(ctx)
	if err != nil {
		return nil, err
	}
	s.publishRules(r, sess.ID(), rules)
	return rules, nil
}

func (s *server) handleSessionCommit(w http.ResponseWriter, r *http.Request) {
	sess := sessionFrom(r)
	saved, err := s.commitPrices(r, sess)
	if err != nil {
		s.fail(w, r, err)
		return
	}
	s.snapshot(r, sess)

	writeJSON(w, http.StatusOK, commitResponse{
		OK:         true,
		Saved:      saved,
		Rules:      sess.EffectiveRules(),
		DirtyCount: sess.DirtyCount(),
	})
}

// handleSessionSaveAll saves the rules when they were edited, then the
// prices. A rules failure stops before prices are sent.
func (s *server) handleSessionSaveAll(w http.ResponseWriter, r *http.Request) {
	sess := sessionFrom(r)
	resp := commitResponse{OK: true}

	if sess.RulesDirty() {
		if _, err := s.commitRules(r, sess); err != nil {
			s.fail(w, r, err)
			return
		}
		resp.RulesSaved = true
	}

	saved, err := s.commitPrices(r, sess)
	if err != nil {
		s.snapshot(r, sess)
		s.fail(w, r, err)
		return
	}
	s.snapshot(r, sess)

	resp.Saved = saved
	resp.Rules = sess.EffectiveRules()
	resp.DirtyCount = sess.DirtyCount()
	writeJSON(w, http.StatusOK, resp)
}

func (s *server) handleSessionRule(w http.ResponseWriter, r *http.Request) {
	ch, err := channel.Parse(chi.URLParam(r, "channel"))
	if err != nil {
		s.fail(w, r, err)
		return
	}
	var patch json.RawMessage
	if err := decodeJSON(w, r, &patch); err != nil {
		s.fail(w, r, err)
		return
	}

	// Fields missing from the body keep their current value.
	sess := sessionFrom(r)
	err = sess.EditRule(ch, func(rule *channel.Rule) error {
		if err := json.Unmarshal(patch, rule); err != nil {
			return fmt.Errorf("%w: %v", errInvalidBody, err)
		}
		return nil
	})
	if err != nil {
		s.fail(w, r, err)
		return
	}
	s.snapshot(r, sess)
	writeJSON(w, http.StatusOK, sess.Summary())
}

func (s *server) handleSessionRulesReset(w http.ResponseWriter, r *http.Request) {
	sess := sessionFrom(r)
	sess.ResetRules()
	s.snapshot(r, sess)
	writeJSON(w, http.StatusOK, sess.Summary())
}

func (s *server) handleSessionRulesCommit(w http.ResponseWriter, r *http.Request) {
	sess := sessionFrom(r)
	rules, err := s.commitRules(r, sess)
	if err != nil {
		s.fail(w, r, err)
		return
	}
	s.snapshot(r, sess)
	writeJSON(w, http.StatusOK, rulesResponse{OK: true, Rules: rules})
}

type bulkRequest struct {
	Channel       string `json:"channel"`
	Rounding      string `json:"rounding"`
	Query         string `json:"query"`
	FilterChannel string `json:"filterChannel"`
	OnlyMissing   bool   `json:"onlyMissing"`
	Overwrite     bool   `json:"overwrite"`
}

func (s *server) handleSessionBulk(w http.ResponseWriter, r *http.Request) {
	var req bulkRequest
	if err := decodeJSON(w, r, &req); err != nil {
		s.fail(w, r, err)
		return
	}

	ch, err := channel.Parse(req.Channel)
	if err != nil {
		s.fail(w, r, err)
		return
	}
	mode, err := pricing.ParseRoundingMode(req.Rounding)
	if err != nil {
		s.fail(w, r, fmt.Errorf("%w: %v", errInvalidBody, err))
		return
	}
	filterChannel, err := parseFilterChannel(req.FilterChannel)
	if err != nil {
		s.fail(w, r, err)
		return
	}

	sess := sessionFrom(r)
	res, err := sess.ApplySuggestions(session.BulkOptions{
		Channel:   ch,
		Rounding:  mode,
		Filter:    session.Filter{Query: req.Query, Channel: filterChannel, OnlyMissing: req.OnlyMissing},
		Overwrite: req.Overwrite,
	})
	if err != nil {
		s.fail(w, r, err)
		return
	}
	s.snapshot(r, sess)

	writeJSON(w, http.StatusOK, map[string]any{
		"ok":         true,
		"result":     res,
		"dirtyCount": sess.DirtyCount(),
	})
}

func (s *server) handleCalculatorGet(w http.ResponseWriter, r *http.Request) {
	writeJSON(w, http.StatusOK, sessionFrom(r).Calculator().State())
}

// calculatorRequest runs, in order: reset, the field edits, pull rules and
// calculate.
type calculatorRequest struct {
	Reset     bool `json:"reset"`
	PullRules bool `json:"pullRules"`
	Calculate bool `json:"calculate"`
	session.CalculatorInput
}

func (s *server) handleCalculator(w http.ResponseWriter, r *http.Request) {
	var req calculatorRequest
	if err := decodeJSON(w, r, &req); err != nil {
		s.fail(w, r, err)
		return
	}

	sess := sessionFrom(r)
	calc := sess.Calculator()
	if req.Reset {
		calc.Reset()
	}
	if err := calc.Edit(req.CalculatorInput); err != nil {
		s.fail(w, r, err)
		return
	}
	if req.PullRules {
		calc.PullRules()
	}
	var calcErr error
	if req.Calculate {
		_, calcErr = calc.Calculate()
	}
	s.snapshot(r, sess)

	if calcErr != nil {
		s.fail(w, r, calcErr)
		return
	}
	writeJSON(w, http.StatusOK, calc.State())
}

type applyRequest struct {
	Product string `json:"product"`
}

func (s *server) handleCalculatorApply(w http.ResponseWriter, r *http.Request) {
	var req applyRequest
	if r.ContentLength != 0 {
		if err := decodeJSON(w, r, &req); err != nil {
			s.fail(w, r, err)
			return
		}
	}

	sess := sessionFrom(r)
	calc := sess.Calculator()
	p, err := calc.ApplyToTable(req.Product)
	if err != nil {
		s.fail(w, r, err)
		return
	}
	s.snapshot(r, sess)

	var ch channel.Channel
	if res := calc.State().Result; res != nil {
		ch = res.Channel
	}
	writeJSON(w, http.StatusOK, map[string]any{
		"ok":         true,
		"product":    p,
		"channel":    ch,
		"entry":      sess.Effective(p.ID, ch),
		"dirtyCount": sess.DirtyCount(),
	})
}

func (s *server) handleSessionExport(w http.ResponseWriter, r *http.Request) {
	s.writeWorkbook(w, r, sessionFrom(r).EffectiveBootstrap(), "precos-rascunho.xlsx")
}
