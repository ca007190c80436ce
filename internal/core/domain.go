package core

import (
	"bytes"
	"encoding/json"
	"errors"
	"fmt"
	"time"

	"github.com/shopspring/decimal"
)

const (
	Revenue TransactionType = "revenue"
	Expense TransactionType = "expense"
)

const (
	SeverityError   Severity = "error"
	SeverityWarning Severity = "warning"
	SeveritySuccess Severity = "success"
	SeverityInfo    Severity = "info"
)

type (
	TransactionType string

	// ID is the identifier assigned by the remote store. It is opaque to the
	// client; some stores emit numbers, others strings.
	ID string

	Transaction struct {
		ID          ID
		Type        TransactionType
		Amount      decimal.Decimal
		Description string
		Date        time.Time
	}

	Severity string

	// AdvisoryTip is computed by the remote advisor and displayed as-is.
	AdvisoryTip struct {
		Message    string   `json:"message"`
		Suggestion string   `json:"suggestion"`
		Severity   Severity `json:"severity"`
	}

	// AuditIssue flags a transaction the remote auditor considers suspicious.
	AuditIssue struct {
		TransactionID ID              `json:"transactionId"`
		Issue         string          `json:"issue"`
		Description   string          `json:"description"`
		Type          TransactionType `json:"type"`
		Amount        decimal.Decimal `json:"amount"`
		Date          time.Time       `json:"date"`
	}

	IncomeStatement struct {
		TotalRevenue  decimal.Decimal `json:"totalRevenue"`
		TotalExpenses decimal.Decimal `json:"totalExpenses"`
		NetIncome     decimal.Decimal `json:"netIncome"`
	}
)

var (
	ErrInvalidAmount        = errors.New("invalid amount")
	ErrEmptyDescription     = errors.New("empty description")
	ErrInvalidType          = errors.New("invalid transaction type")
	ErrMalformedTransaction = errors.New("malformed transaction")
)

func (t TransactionType) IsValid() bool {
	return t == Revenue || t == Expense
}

// Sign returns the prefix used when listing a transaction of this type.
func (t TransactionType) Sign() string {
	if t == Revenue {
		return "+"
	}
	return "-"
}

// Tone maps a severity to one of the four display tones. Unknown values
// render as info.
func (s Severity) Tone() string {
	switch s {
	case SeverityError, SeverityWarning, SeveritySuccess:
		return string(s)
	default:
		return string(SeverityInfo)
	}
}

func (id *ID) UnmarshalJSON(data []byte) error {
	data = bytes.TrimSpace(data)
	if bytes.Equal(data, []byte("null")) {
		*id = ""
		return nil
	}
	if len(data) > 0 && data[0] == '"' {
		var s string
		if err := json.Unmarshal(data, &s); err != nil {
			return err
		}
		*id = ID(s)
		return nil
	}
	var n json.Number
	if err := json.Unmarshal(data, &n); err != nil {
		return fmt.Errorf("identifier must be a string or number: %w", err)
	}
	*id = ID(n.String())
	return nil
}

func (id ID) String() string {
	return string(id)
}

type transactionJSON struct {
	StoreID     ID               `json:"_id,omitempty"`
	ID          ID               `json:"id,omitempty"`
	Type        TransactionType  `json:"type"`
	Amount      *decimal.Decimal `json:"amount"`
	Description string           `json:"description"`
	Date        time.Time        `json:"date"`
}

// UnmarshalJSON rejects rows without a known type or without an amount so
// callers can drop them before aggregation.
func (t *Transaction) UnmarshalJSON(data []byte) error {
	var raw transactionJSON
	if err := json.Unmarshal(data, &raw); err != nil {
		return err
	}
	if !raw.Type.IsValid() {
		return fmt.Errorf("%w: type %q", ErrMalformedTransaction, raw.Type)
	}
	if raw.Amount == nil {
		return fmt.Errorf("%w: missing amount", ErrMalformedTransaction)
	}
	id := raw.ID
	if id == "" {
		id = raw.StoreID
	}
	*t = Transaction{
		ID:          id,
		Type:        raw.Type,
		Amount:      *raw.Amount,
		Description: raw.Description,
		Date:        raw.Date,
	}
	return nil
}

func (t Transaction) MarshalJSON() ([]byte, error) {
	return json.Marshal(struct {
		ID          ID              `json:"id"`
		Type        TransactionType `json:"type"`
		Amount      json.Number     `json:"amount"`
		Description string          `json:"description"`
		Date        time.Time       `json:"date"`
	}{
		ID:          t.ID,
		Type:        t.Type,
		Amount:      json.Number(t.Amount.String()),
		Description: t.Description,
		Date:        t.Date,
	})
}

