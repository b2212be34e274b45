package session

import (
	"github.com/systemiq/banknet/internal/events"
)

// Record is the final snapshot handed to the archive when a session reaches
// a terminal state.
type Record struct {
	SessionID      string               `msgpack:"session_id" json:"session_id"`
	State          State                `msgpack:"state" json:"state"`
	CurrentStep    int                  `msgpack:"current_step" json:"current_step"`
	TotalSteps     int                  `msgpack:"total_steps" json:"total_steps"`
	TotalDefaults  int                  `msgpack:"total_defaults" json:"total_defaults"`
	SurvivingBanks int                  `msgpack:"surviving_banks" json:"surviving_banks"`
	EventCount     int                  `msgpack:"event_count" json:"event_count"`
	BankStates     []events.BankState   `msgpack:"bank_states" json:"bank_states"`
	MarketStates   []events.MarketState `msgpack:"market_states" json:"market_states"`
}

// recordLocked snapshots the terminal session. Caller holds the lock.
func (s *Session) recordLocked() Record {
	st := s.statusLocked()
	rec := Record{
		SessionID:      s.ID,
		State:          s.state,
		CurrentStep:    st.CurrentStep,
		TotalSteps:     st.TotalSteps,
		TotalDefaults:  st.Defaults,
		SurvivingBanks: st.SurvivingBanks,
		EventCount:     len(s.history),
	}
	for _, bk := range s.banks {
		snap := bk.StateSnapshot()
		rec.BankStates = append(rec.BankStates, events.BankState{
			BankID:      snap.BankID,
			Capital:     snap.Capital,
			Cash:        snap.Cash,
			Investments: snap.Investments,
			LoansGiven:  snap.LoansGiven,
			Borrowed:    snap.Borrowed,
			Leverage:    snap.Leverage,
			IsDefaulted: snap.IsDefaulted,
		})
	}
	if s.markets != nil {
		for _, ms := range s.markets.Snapshots() {
			rec.MarketStates = append(rec.MarketStates, events.MarketState{
				MarketID:      ms.MarketID,
				Name:          ms.Name,
				Price:         ms.Price,
				TotalInvested: ms.TotalInvested,
				Return:        ms.Return,
			})
		}
	}
	return rec
}
