package main

import (
	"bytes"
	"fmt"
	"net/http"

	"go.uber.org/zap"

	"github.com/Simplici0/pricebook/internal/catalog"
	"github.com/Simplici0/pricebook/internal/channel"
	"github.com/Simplici0/pricebook/internal/export"
)

const xlsxContentType = "application/vnd.openxmlformats-officedocument.spreadsheetml.sheet"

func (s *server) handleData(w http.ResponseWriter, r *http.Request) {
	ctx, cancel := s.saveContext(r.Context())
	defer cancel()

	b, err := s.store.Load(ctx)
	if err != nil {
		s.fail(w, r, err)
		return
	}
	writeJSON(w, http.StatusOK, b)
}

type savePricesRequest struct {
	Updates []catalog.RawUpdate `json:"updates"`
}

type savePricesResponse struct {
	OK       bool               `json:"ok"`
	Saved    int                `json:"saved"`
	Rejected []catalog.Rejected `json:"rejected"`
}

func (s *server) handleSavePrices(w http.ResponseWriter, r *http.Request) {
	var req savePricesRequest
	if err := decodeJSON(w, r, &req); err != nil {
		s.fail(w, r, err)
		return
	}

	updates, rejected := catalog.NormalizeUpdates(req.Updates)
	if len(updates) == 0 {
		s.failWith(w, r, catalog.ErrNoValidUpdates, rejected)
		return
	}
	catalog.SortUpdates(updates)

	ctx, cancel := s.saveContext(r.Context())
	defer cancel()
	if err := s.store.SavePrices(ctx, updates); err != nil {
		s.fail(w, r, err)
		return
	}
	s.publishPrices(r, "", updates)

	if rejected == nil {
		rejected = []catalog.Rejected{}
	}
	writeJSON(w, http.StatusOK, savePricesResponse{OK: true, Saved: len(updates), Rejected: rejected})
}

type saveRulesRequest struct {
	Rules map[string]channel.Rule `json:"rules"`
}

type rulesResponse struct {
	OK    bool            `json:"ok"`
	Rules channel.RuleSet `json:"rules"`
}

func (s *server) handleSaveRules(w http.ResponseWriter, r *http.Request) {
	var req saveRulesRequest
	if err := decodeJSON(w, r, &req); err != nil {
		s.fail(w, r, err)
		return
	}

	rules, err := parseRuleSet(req.Rules)
	if err != nil {
		s.fail(w, r, err)
		return
	}

	ctx, cancel := s.saveContext(r.Context())
	defer cancel()
	if err := s.store.SaveRules(ctx, rules); err != nil {
		s.fail(w, r, err)
		return
	}
	clamped := rules.Clamped()
	s.publishRules(r, "", clamped)

	writeJSON(w, http.StatusOK, rulesResponse{OK: true, Rules: clamped})
}

// parseRuleSet validates the channel keys and requires all three channels.
func parseRuleSet(raw map[string]channel.Rule) (channel.RuleSet, error) {
	rules := make(channel.RuleSet, len(raw))
	for key, rule := range raw {
		c, err := channel.Parse(key)
		if err != nil {
			return nil, err
		}
		rules[c] = rule
	}
	if err := rules.Complete(); err != nil {
		return nil, fmt.Errorf("%w: %v", errInvalidBody, err)
	}
	return rules, nil
}

func (s *server) handleExport(w http.ResponseWriter, r *http.Request) {
	ctx, cancel := s.saveContext(r.Context())
	defer cancel()

	b, err := s.store.Load(ctx)
	if err != nil {
		s.fail(w, r, err)
		return
	}
	s.writeWorkbook(w, r, b, "precos.xlsx")
}

func (s *server) writeWorkbook(w http.ResponseWriter, r *http.Request, b catalog.Bootstrap, filename string) {
	var buf bytes.Buffer
	if err := export.Write(&buf, b); err != nil {
		s.fail(w, r, err)
		return
	}

	w.Header().Set("Content-Type", xlsxContentType)
	w.Header().Set("Content-Disposition", fmt.Sprintf("attachment; filename=%q", filename))
	w.WriteHeader(http.StatusOK)
	if _, err := buf.WriteTo(w); err != nil {
		s.logger.Warn("write workbook", zap.Error(err))
	}
}

// publishPrices announces a commit. Failures are logged; the data is
// already saved.
func (s *server) publishPrices(r *http.Request, sessionID string, updates []catalog.Update) {
	if len(updates) == 0 {
		return
	}
	if err := s.events.PricesSaved(r.Context(), sessionID, updates); err != nil {
		s.logger.Warn("publish prices saved", zap.String("session_id", sessionID), zap.Error(err))
	}
}

func (s *server) publishRules(r *http.Request, sessionID string, rules channel.RuleSet) {
	if err := s.events.RulesSaved(r.Context(), sessionID, rules); err != nil {
		s.logger.Warn("publish rules saved", zap.String("session_id", sessionID), zap.Error(err))
	}
}
