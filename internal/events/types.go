// Package events defines the typed event protocol a simulation session emits.
// Every event is a flat JSON object tagged with a "type" field so subscribers
// can dispatch without knowing the full schema up front.
package events

// EventType represents different event types
type EventType string

const (
	Init           EventType = "init"
	StepStart      EventType = "step_start"
	Transaction    EventType = "transaction"
	MarketGain     EventType = "market_gain"
	ProfitBooking  EventType = "profit_booking"
	InterestPaid   EventType = "interest_payment"
	LoanRepayment  EventType = "loan_repayment"
	Default        EventType = "default"
	Cascade        EventType = "cascade"
	MarketMovement EventType = "market_movement"
	StepEnd        EventType = "step_end"
	Paused         EventType = "paused"
	Resumed        EventType = "resumed"
	Stopped        EventType = "stopped"
	BankDeleted    EventType = "bank_deleted"
	CapitalAdded   EventType = "capital_added"
	Complete       EventType = "complete"
)
