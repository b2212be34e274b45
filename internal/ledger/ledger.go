// Package ledger provides the append-only transaction log for a simulation session.
package ledger

// TransactionType classifies a ledger entry.
type TransactionType string

const (
	Loan        TransactionType = "LOAN"
	Repay       TransactionType = "REPAY"
	Invest      TransactionType = "INVEST"
	Divest      TransactionType = "DIVEST"
	DefaultLoss TransactionType = "DEFAULT_LOSS"
)

// Types iterates in a stable order for summaries.
var Types = []TransactionType{Loan, Repay, Invest, Divest, DefaultLoss}

// CounterpartyType identifies what the initiator transacted with.
type CounterpartyType string

const (
	CounterpartyBank   CounterpartyType = "bank"
	CounterpartyMarket CounterpartyType = "market"
	CounterpartySystem CounterpartyType = "system"
	CounterpartySelf   CounterpartyType = "self"
)

// Transaction is one immutable ledger entry. Transactions are created only
// through Ledger.Append and never mutated afterwards.
type Transaction struct {
	TimeStep         int              `json:"time"`
	InitiatorID      int              `json:"initiator"`
	CounterpartyID   *int             `json:"counterparty_id,omitempty"`
	CounterpartyType CounterpartyType `json:"counterparty_type"`
	CounterpartyName string           `json:"counterparty"`
	Type             TransactionType  `json:"type"`
	Amount           float64          `json:"amount"`
	Reason           string           `json:"reason,omitempty"`
}

// TypeSummary aggregates transactions of one type.
type TypeSummary struct {
	Count       int     `json:"count"`
	TotalAmount float64 `json:"total_amount"`
}

// Summary aggregates the whole ledger.
type Summary struct {
	TotalTransactions int                             `json:"total_transactions"`
	ByType            map[TransactionType]TypeSummary `json:"by_type"`
}

// Ledger is an ordered, append-only sequence of transactions. It has no
// internal locking: a session's kernel is the only writer and reads happen
// on the same goroutine or after the session has terminated.
type Ledger struct {
	transactions []Transaction
}

// New creates an empty ledger.
func New() *Ledger {
	return &Ledger{}
}

// Append records a transaction and returns it.
func (l *Ledger) Append(t Transaction) Transaction {
	l.transactions = append(l.transactions, t)
	return t
}

// All returns every transaction in append order.
func (l *Ledger) All() []Transaction {
	out := make([]Transaction, len(l.transactions))
	copy(out, l.transactions)
	return out
}

// Len returns the number of transactions logged so far.
func (l *Ledger) Len() int {
	return len(l.transactions)
}

// ByBank returns transactions the bank initiated or received as a bank counterparty.
func (l *Ledger) ByBank(bankID int) []Transaction {
	var out []Transaction
	for _, t := range l.transactions {
		if t.InitiatorID == bankID {
			out = append(out, t)
			continue
		}
		if t.CounterpartyType == CounterpartyBank && t.CounterpartyID != nil && *t.CounterpartyID == bankID {
			out = append(out, t)
		}
	}
	return out
}

// ByTime returns transactions logged during the given step.
func (l *Ledger) ByTime(step int) []Transaction {
	var out []Transaction
	for _, t := range l.transactions {
		if t.TimeStep == step {
			out = append(out, t)
		}
	}
	return out
}

// ByType returns transactions of the given type.
func (l *Ledger) ByType(kind TransactionType) []Transaction {
	var out []Transaction
	for _, t := range l.transactions {
		if t.Type == kind {
			out = append(out, t)
		}
	}
	return out
}

// Summarize returns per-type counts and totals.
func (l *Ledger) Summarize() Summary {
	s := Summary{
		TotalTransactions: len(l.transactions),
		ByType:            make(map[TransactionType]TypeSummary, len(Types)),
	}
	for _, kind := range Types {
		s.ByType[kind] = TypeSummary{}
	}
	for _, t := range l.transactions {
		agg := s.ByType[t.Type]
		agg.Count++
		agg.TotalAmount += t.Amount
		s.ByType[t.Type] = agg
	}
	return s
}

// Clear drops all transactions.
func (l *Ledger) Clear() {
	l.transactions = l.transactions[:0]
}
