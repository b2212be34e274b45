package server

import (
	"net/http"
	"strconv"

	"github.com/go-chi/chi/v5"

	"github.com/systemiq/banknet/internal/bank"
	"github.com/systemiq/banknet/internal/kernel"
	"github.com/systemiq/banknet/internal/ledger"
	"github.com/systemiq/banknet/internal/risk"
	"github.com/systemiq/banknet/internal/session"
)

// handleInit creates a session and initialises its network.
func (s *Server) handleInit(w http.ResponseWriter, r *http.Request) {
	var cfg session.Config
	if !s.decodeBody(w, r, &cfg) {
		return
	}
	if s.cfg != nil {
		if cfg.NumBanks > s.cfg.MaxBanks || len(cfg.Banks) > s.cfg.MaxBanks {
			s.writeJSON(w, http.StatusBadRequest, map[string]string{
				"reason": "bank count exceeds limit " + strconv.Itoa(s.cfg.MaxBanks),
			})
			return
		}
		if cfg.TotalSteps > s.cfg.MaxSteps {
			s.writeJSON(w, http.StatusBadRequest, map[string]string{
				"reason": "step count exceeds limit " + strconv.Itoa(s.cfg.MaxSteps),
			})
			return
		}
		if cfg.Seed == 0 {
			cfg.Seed = s.cfg.DefaultSeed
		}
	}

	sess := s.manager.Create()
	if err := sess.Init(cfg); err != nil {
		_ = s.manager.Destroy(sess.ID)
		s.writeError(w, err)
		return
	}

	s.writeJSON(w, http.StatusCreated, map[string]any{
		"session_id":  sess.ID,
		"state":       sess.State(),
		"total_steps": cfg.TotalSteps,
	})
}

func (s *Server) handleListSessions(w http.ResponseWriter, r *http.Request) {
	s.writeJSON(w, http.StatusOK, map[string]any{"sessions": s.manager.List()})
}

func (s *Server) handleCreateBank(w http.ResponseWriter, r *http.Request) {
	sess := s.session(w, r)
	if sess == nil {
		return
	}
	var bc session.BankConfig
	if !s.decodeBody(w, r, &bc) {
		return
	}
	bk, err := sess.CreateBank(bc)
	if err != nil {
		s.writeError(w, err)
		return
	}
	s.writeJSON(w, http.StatusCreated, map[string]any{"bank_id": bk.ID, "name": bk.Name})
}

func (s *Server) handleUpdateBank(w http.ResponseWriter, r *http.Request) {
	sess := s.session(w, r)
	if sess == nil {
		return
	}
	bankID, err := strconv.Atoi(chi.URLParam(r, "bankID"))
	if err != nil {
		s.writeJSON(w, http.StatusBadRequest, map[string]string{"reason": "invalid bank id"})
		return
	}
	var bc session.BankConfig
	if !s.decodeBody(w, r, &bc) {
		return
	}
	if err := sess.UpdateBank(bankID, bc); err != nil {
		s.writeError(w, err)
		return
	}
	s.writeJSON(w, http.StatusOK, map[string]any{"bank_id": bankID})
}

func (s *Server) handleCreateConnection(w http.ResponseWriter, r *http.Request) {
	sess := s.session(w, r)
	if sess == nil {
		return
	}
	var cc session.ConnectionConfig
	if !s.decodeBody(w, r, &cc) {
		return
	}
	if err := sess.CreateConnection(cc); err != nil {
		s.writeError(w, err)
		return
	}
	s.writeJSON(w, http.StatusCreated, cc)
}

func (s *Server) handleStart(w http.ResponseWriter, r *http.Request) {
	s.lifecycle(w, r, func(sess *session.Session) error { return sess.Start() })
}

func (s *Server) handlePause(w http.ResponseWriter, r *http.Request) {
	s.lifecycle(w, r, func(sess *session.Session) error { return sess.Pause() })
}

func (s *Server) handleResume(w http.ResponseWriter, r *http.Request) {
	s.lifecycle(w, r, func(sess *session.Session) error { return sess.Resume() })
}

func (s *Server) handleStop(w http.ResponseWriter, r *http.Request) {
	s.lifecycle(w, r, func(sess *session.Session) error { return sess.Stop() })
}

func (s *Server) lifecycle(w http.ResponseWriter, r *http.Request, op func(*session.Session) error) {
	sess := s.session(w, r)
	if sess == nil {
		return
	}
	if err := op(sess); err != nil {
		s.writeError(w, err)
		return
	}
	s.writeJSON(w, http.StatusOK, map[string]any{
		"state":        sess.State(),
		"current_step": sess.CurrentStep(),
	})
}

func (s *Server) handleStep(w http.ResponseWriter, r *http.Request) {
	sess := s.session(w, r)
	if sess == nil {
		return
	}
	summary, err := sess.Step()
	if err != nil {
		s.writeError(w, err)
		return
	}
	s.writeJSON(w, http.StatusOK, stepResponse{
		Summary: summary,
		State:   sess.State(),
	})
}

type stepResponse struct {
	kernel.Summary
	State session.State `json:"state"`
}

func (s *Server) handleControl(w http.ResponseWriter, r *http.Request) {
	sess := s.session(w, r)
	if sess == nil {
		return
	}
	var cmd session.Command
	if !s.decodeBody(w, r, &cmd) {
		return
	}
	if err := sess.Control(cmd); err != nil {
		s.writeError(w, err)
		return
	}
	s.writeJSON(w, http.StatusAccepted, map[string]any{"queued": cmd.Type})
}

func (s *Server) handleStatus(w http.ResponseWriter, r *http.Request) {
	sess := s.session(w, r)
	if sess == nil {
		return
	}
	s.writeJSON(w, http.StatusOK, sess.Status())
}

func (s *Server) handleDestroy(w http.ResponseWriter, r *http.Request) {
	id := chi.URLParam(r, "sessionID")
	if err := s.manager.Destroy(id); err != nil {
		s.writeError(w, err)
		return
	}
	s.writeJSON(w, http.StatusOK, map[string]string{"destroyed": id})
}

// handleLedger returns the session ledger, optionally filtered by bank,
// step, or transaction type.
func (s *Server) handleLedger(w http.ResponseWriter, r *http.Request) {
	sess := s.session(w, r)
	if sess == nil {
		return
	}
	led := sess.Ledger()

	var txs []ledger.Transaction
	switch {
	case r.URL.Query().Get("bank") != "":
		bankID, err := strconv.Atoi(r.URL.Query().Get("bank"))
		if err != nil {
			s.writeJSON(w, http.StatusBadRequest, map[string]string{"reason": "invalid bank filter"})
			return
		}
		txs = led.ByBank(bankID)
	case r.URL.Query().Get("step") != "":
		step, err := strconv.Atoi(r.URL.Query().Get("step"))
		if err != nil {
			s.writeJSON(w, http.StatusBadRequest, map[string]string{"reason": "invalid step filter"})
			return
		}
		txs = led.ByTime(step)
	case r.URL.Query().Get("type") != "":
		txs = led.ByType(ledger.TransactionType(r.URL.Query().Get("type")))
	default:
		txs = led.All()
	}

	s.writeJSON(w, http.StatusOK, map[string]any{
		"count":        len(txs),
		"transactions": txs,
	})
}

func (s *Server) handleLedgerSummary(w http.ResponseWriter, r *http.Request) {
	sess := s.session(w, r)
	if sess == nil {
		return
	}
	s.writeJSON(w, http.StatusOK, sess.Ledger().Summarize())
}

// handleRiskAssess scores a feature record with the logistic predictor.
func (s *Server) handleRiskAssess(w http.ResponseWriter, r *http.Request) {
	var features risk.Features
	if !s.decodeBody(w, r, &features) {
		return
	}
	predictor := risk.NewPredictor()
	s.writeJSON(w, http.StatusOK, predictor.Assess(features))
}

// handleBankRisk scores one bank inside a live session, with its centrality
// in the interbank loan graph and current market volatility as features.
func (s *Server) handleBankRisk(w http.ResponseWriter, r *http.Request) {
	sess := s.session(w, r)
	if sess == nil {
		return
	}
	bankID, err := strconv.Atoi(chi.URLParam(r, "bankID"))
	if err != nil {
		s.writeJSON(w, http.StatusBadRequest, map[string]string{"reason": "invalid bank id"})
		return
	}

	banks := sess.Banks()
	borrower := (*bank.Bank)(nil)
	for _, bk := range banks {
		if bk.ID == bankID {
			borrower = bk
			break
		}
	}
	if borrower == nil {
		s.writeJSON(w, http.StatusNotFound, map[string]string{"reason": "unknown bank"})
		return
	}

	volatility := 0.0
	if markets := sess.Markets(); markets != nil && markets.Len() > 0 {
		for _, id := range markets.IDs() {
			volatility += markets.Get(id).Volatility
		}
		volatility /= float64(markets.Len())
	}

	centrality := risk.Centralities(banks)[bankID]
	features := risk.FeaturesFor(borrower, nil, centrality, volatility, borrower.Sheet.Borrowed)

	s.writeJSON(w, http.StatusOK, map[string]any{
		"bank_id":    bankID,
		"features":   features,
		"assessment": risk.NewPredictor().Assess(features),
	})
}

func (s *Server) handleArchiveList(w http.ResponseWriter, r *http.Request) {
	if s.store == nil {
		s.writeJSON(w, http.StatusOK, map[string]any{"sessions": []any{}})
		return
	}
	summaries, err := s.store.List()
	if err != nil {
		s.writeError(w, err)
		return
	}
	s.writeJSON(w, http.StatusOK, map[string]any{"sessions": summaries})
}

func (s *Server) handleArchiveLoad(w http.ResponseWriter, r *http.Request) {
	if s.store == nil {
		s.writeJSON(w, http.StatusNotFound, map[string]string{"reason": "archive disabled"})
		return
	}
	rec, err := s.store.Load(chi.URLParam(r, "sessionID"))
	if err != nil {
		s.writeJSON(w, http.StatusNotFound, map[string]string{"reason": err.Error()})
		return
	}
	s.writeJSON(w, http.StatusOK, rec)
}
