package server

import (
	"math"
	"net/http"

	"github.com/go-chi/chi/v5"
	"github.com/markcheno/go-talib"
)

// Indicator periods. Short lookbacks suit simulation histories, which rarely
// exceed a couple hundred points.
const (
	smaPeriod = 5
	emaPeriod = 5
	rsiPeriod = 14
)

// IndicatorResponse is the technical-analysis view of one market's price
// history. Indicators that need more history than exists are null.
type IndicatorResponse struct {
	MarketID     string   `json:"market_id"`
	Price        float64  `json:"price"`
	Return       float64  `json:"return"`
	HistoryLen   int      `json:"history_len"`
	SMA          *float64 `json:"sma,omitempty"`
	EMA          *float64 `json:"ema,omitempty"`
	RSI          *float64 `json:"rsi,omitempty"`
	MACD         *float64 `json:"macd,omitempty"`
	MACDSignal   *float64 `json:"macd_signal,omitempty"`
	Momentum     float64  `json:"momentum"`
	Volatility   float64  `json:"volatility"`
	TotalFlow    float64  `json:"total_flow"`
	PriceHistory []float64 `json:"price_history"`
}

// handleIndicators computes technical indicators over a market's price
// history.
func (s *Server) handleIndicators(w http.ResponseWriter, r *http.Request) {
	sess := s.session(w, r)
	if sess == nil {
		return
	}
	markets := sess.Markets()
	if markets == nil {
		s.writeJSON(w, http.StatusNotFound, map[string]string{"reason": "session has no markets"})
		return
	}
	m := markets.Get(chi.URLParam(r, "marketID"))
	if m == nil {
		s.writeJSON(w, http.StatusNotFound, map[string]string{"reason": "unknown market"})
		return
	}

	closes := append([]float64(nil), m.PriceHistory...)
	resp := IndicatorResponse{
		MarketID:     m.ID,
		Price:        m.Price,
		Return:       m.Return(),
		HistoryLen:   len(closes),
		Momentum:     m.Momentum(),
		Volatility:   m.Volatility,
		TotalFlow:    m.TotalInvested,
		PriceHistory: closes,
	}

	if len(closes) >= smaPeriod {
		resp.SMA = lastFinite(talib.Sma(closes, smaPeriod))
	}
	if len(closes) >= emaPeriod {
		resp.EMA = lastFinite(talib.Ema(closes, emaPeriod))
	}
	if len(closes) > rsiPeriod {
		resp.RSI = lastFinite(talib.Rsi(closes, rsiPeriod))
	}
	if len(closes) >= 34 {
		macd, signal, _ := talib.Macd(closes, 12, 26, 9)
		resp.MACD = lastFinite(macd)
		resp.MACDSignal = lastFinite(signal)
	}

	s.writeJSON(w, http.StatusOK, resp)
}

// lastFinite returns a pointer to the last finite value of a series, or nil
// when none exists.
func lastFinite(series []float64) *float64 {
	for i := len(series) - 1; i >= 0; i-- {
		v := series[i]
		if v != 0 && !math.IsNaN(v) && !math.IsInf(v, 0) {
			return &v
		}
	}
	return nil
}
