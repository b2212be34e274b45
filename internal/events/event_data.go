package events

import (
	"encoding/json"
)

// EventData is the interface that all event payload types implement.
// This allows for type-safe event payloads while keeping the wire format a
// flat tagged object.
type EventData interface {
	// EventType returns the event type this payload is associated with
	EventType() EventType
}

// BankSummary describes one bank in the init payload.
type BankSummary struct {
	ID          int     `json:"id"`
	Name        string  `json:"name"`
	Capital     float64 `json:"capital"`
	Cash        float64 `json:"cash"`
	IsDefaulted bool    `json:"is_defaulted"`
}

// MarketSummary describes one market in the init payload.
type MarketSummary struct {
	ID            string  `json:"id"`
	Name          string  `json:"name"`
	Price         float64 `json:"price"`
	TotalInvested float64 `json:"total_invested"`
}

// ConnectionSummary describes one interbank loan edge in the init payload.
type ConnectionSummary struct {
	From   int     `json:"from"`
	To     int     `json:"to"`
	Amount float64 `json:"amount"`
}

// InitData is the first event on every stream: the network as configured.
type InitData struct {
	Banks       []BankSummary       `json:"banks"`
	Markets     []MarketSummary     `json:"markets"`
	Connections []ConnectionSummary `json:"connections"`
}

// EventType returns the event type for InitData
func (d *InitData) EventType() EventType { return Init }

// StepStartData marks the beginning of a step.
type StepStartData struct {
	Step int `json:"step"`
}

// EventType returns the event type for StepStartData
func (d *StepStartData) EventType() EventType { return StepStart }

// TransactionData describes one executed bank action.
type TransactionData struct {
	Step       int     `json:"step"`
	FromBank   int     `json:"from_bank"`
	ToBank     *int    `json:"to_bank,omitempty"`
	MarketID   string  `json:"market_id,omitempty"`
	Action     string  `json:"action"`
	Amount     float64 `json:"amount"`
	Reason     string  `json:"reason"`
	CashBefore float64 `json:"cash_before"`
	CashAfter  float64 `json:"cash_after"`
	CashChange float64 `json:"cash_change"`
}

// EventType returns the event type for TransactionData
func (d *TransactionData) EventType() EventType { return Transaction }

// MarketGainData describes a realised gain or loss on a divestment.
type MarketGainData struct {
	Step           int     `json:"step"`
	BankID         int     `json:"bank_id"`
	MarketID       string  `json:"market_id"`
	DivestedAmount float64 `json:"divested_amount"`
	MarketReturn   float64 `json:"market_return"`
	RealizedGain   float64 `json:"realized_gain"`
	NewCash        float64 `json:"new_cash"`
}

// EventType returns the event type for MarketGainData
func (d *MarketGainData) EventType() EventType { return MarketGain }

// ProfitBookingData describes a mark-to-market profit credit.
type ProfitBookingData struct {
	Step   int     `json:"step"`
	BankID int     `json:"bank_id"`
	Profit float64 `json:"profit"`
}

// EventType returns the event type for ProfitBookingData
func (d *ProfitBookingData) EventType() EventType { return ProfitBooking }

// InterestPaymentData describes an interest payment from borrower to lender.
type InterestPaymentData struct {
	Step        int     `json:"step"`
	FromBank    int     `json:"from_bank"`
	ToBank      int     `json:"to_bank"`
	Amount      float64 `json:"amount"`
	LoanBalance float64 `json:"loan_balance"`
}

// EventType returns the event type for InterestPaymentData
func (d *InterestPaymentData) EventType() EventType { return InterestPaid }

// LoanRepaymentData describes a principal repayment.
type LoanRepaymentData struct {
	Step             int     `json:"step"`
	FromBank         int     `json:"from_bank"`
	ToBank           int     `json:"to_bank"`
	Amount           float64 `json:"amount"`
	RemainingBalance float64 `json:"remaining_balance"`
}

// EventType returns the event type for LoanRepaymentData
func (d *LoanRepaymentData) EventType() EventType { return LoanRepayment }

// DefaultData reports a bank default with equity at the point of default.
type DefaultData struct {
	Step   int     `json:"step"`
	BankID int     `json:"bank_id"`
	Equity float64 `json:"equity"`
}

// EventType returns the event type for DefaultData
func (d *DefaultData) EventType() EventType { return Default }

// CascadeData reports contagion triggered by this step's initial defaults.
type CascadeData struct {
	Step            int   `json:"step"`
	InitialDefaults []int `json:"initial_defaults"`
	CascadeCount    int   `json:"cascade_count"`
}

// EventType returns the event type for CascadeData
func (d *CascadeData) EventType() EventType { return Cascade }

// MarketMovementData reports a significant single-step price move.
type MarketMovementData struct {
	Step      int     `json:"step"`
	MarketID  string  `json:"market_id"`
	OldPrice  float64 `json:"old_price"`
	NewPrice  float64 `json:"new_price"`
	ChangePct float64 `json:"change_pct"`
}

// EventType returns the event type for MarketMovementData
func (d *MarketMovementData) EventType() EventType { return MarketMovement }

// BankState is the per-bank record inside a step_end payload.
type BankState struct {
	BankID      int     `json:"bank_id"`
	Capital     float64 `json:"capital"`
	Cash        float64 `json:"cash"`
	Investments float64 `json:"investments"`
	LoansGiven  float64 `json:"loans_given"`
	Borrowed    float64 `json:"borrowed"`
	Leverage    float64 `json:"leverage"`
	IsDefaulted bool    `json:"is_defaulted"`
}

// MarketState is the per-market record inside a step_end payload.
type MarketState struct {
	MarketID      string  `json:"market_id"`
	Name          string  `json:"name"`
	Price         float64 `json:"price"`
	TotalInvested float64 `json:"total_invested"`
	Return        float64 `json:"return"`
}

// StepEndData summarises a completed step.
type StepEndData struct {
	Step          int           `json:"step"`
	TotalDefaults int           `json:"total_defaults"`
	TotalEquity   float64       `json:"total_equity"`
	BankStates    []BankState   `json:"bank_states"`
	MarketStates  []MarketState `json:"market_states"`
}

// EventType returns the event type for StepEndData
func (d *StepEndData) EventType() EventType { return StepEnd }

// LifecycleData is the shared payload for paused, resumed, and stopped.
type LifecycleData struct {
	Kind EventType `json:"-"`
	Step int       `json:"step"`
}

// EventType returns the event type for LifecycleData
func (d *LifecycleData) EventType() EventType { return d.Kind }

// BankDeletedData reports a bank removed via control command.
type BankDeletedData struct {
	Step   int `json:"step"`
	BankID int `json:"bank_id"`
}

// EventType returns the event type for BankDeletedData
func (d *BankDeletedData) EventType() EventType { return BankDeleted }

// CapitalAddedData reports a capital injection.
type CapitalAddedData struct {
	Step       int     `json:"step"`
	BankID     int     `json:"bank_id"`
	Amount     float64 `json:"amount"`
	NewCapital float64 `json:"new_capital"`
}

// EventType returns the event type for CapitalAddedData
func (d *CapitalAddedData) EventType() EventType { return CapitalAdded }

// CompleteData is the terminal summary event.
type CompleteData struct {
	TotalSteps     int `json:"total_steps"`
	TotalDefaults  int `json:"total_defaults"`
	SurvivingBanks int `json:"surviving_banks"`
}

// EventType returns the event type for CompleteData
func (d *CompleteData) EventType() EventType { return Complete }

// Encode marshals a payload into its flat wire form with the "type" field
// injected. Payloads carry no wall-clock values so two identically seeded
// sessions produce byte-identical streams.
func Encode(data EventData) ([]byte, error) {
	raw, err := json.Marshal(data)
	if err != nil {
		return nil, err
	}
	var flat map[string]json.RawMessage
	if err := json.Unmarshal(raw, &flat); err != nil {
		return nil, err
	}
	kind, err := json.Marshal(data.EventType())
	if err != nil {
		return nil, err
	}
	flat["type"] = kind
	return json.Marshal(flat)
}
