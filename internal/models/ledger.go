package models

// TopUpLabel is the history label for money log entries.
const TopUpLabel = "Guthaben aufgeladen"

// MoneyLogEntry records a single top-up.
type MoneyLogEntry struct {
	Seq       int64  `json:"seq" db:"seq"`
	AccountID string `json:"account_id" db:"account_id"`
	Amount    int64  `json:"amount" db:"amount"`
	Timestamp int64  `json:"timestamp" db:"timestamp"`
}

// PayLogEntry records a single purchase. Drink name, code and price are
// captured at the time of sale so later catalog edits do not rewrite history.
type PayLogEntry struct {
	Seq       int64  `json:"seq" db:"seq"`
	AccountID string `json:"account_id" db:"account_id"`
	DrinkID   string `json:"drink_id" db:"drink_id"`
	DrinkName string `json:"drink_name" db:"drink_name"`
	DrinkCode string `json:"drink_code" db:"drink_code"`
	Price     int64  `json:"price" db:"price"`
	Timestamp int64  `json:"timestamp" db:"timestamp"`
}

// HistoryEntry is one row of the merged transaction history. Amount is
// positive for top-ups and negative for purchases.
type HistoryEntry struct {
	Amount    int64
	Label     string
	Timestamp int64
	DrinkCode string
	Seq       int64
}

// MarshalJSON encodes the entry as [amount, label, timestamp, drink_code].
func (h HistoryEntry) MarshalJSON() ([]byte, error) {
	return marshalTuple(h.Amount, h.Label, h.Timestamp, h.DrinkCode)
}

type EventType string

const (
	// EventTopUp is emitted after a committed Money-Add
	EventTopUp EventType = "topup"

	// EventPurchase is emitted after a committed Payment-Perform
	EventPurchase EventType = "purchase"
)

// LedgerEvent is published after a balance-changing operation commits.
type LedgerEvent struct {
	ID           string    `json:"id" bson:"_id"`
	Type         EventType `json:"type" bson:"type"`
	AccountID    string    `json:"account_id" bson:"account_id"`
	Amount       int64     `json:"amount" bson:"amount"`
	BalanceAfter int64     `json:"balance_after" bson:"balance_after"`
	Label        string    `json:"label" bson:"label"`
	DrinkCode    string    `json:"drink_code,omitempty" bson:"drink_code,omitempty"`
	Timestamp    int64     `json:"timestamp" bson:"timestamp"`
	Seq          int64     `json:"seq" bson:"seq"`
}
