package amqp

import (
	"encoding/json"
	"time"

	"github.com/shopspring/decimal"

	"accusim/internal/core"
)

// TransactionRecordedMessage announces a transaction the remote API has accepted.
type TransactionRecordedMessage struct {
	ID          core.ID              `json:"id"`
	Type        core.TransactionType `json:"type"`
	Amount      decimal.Decimal      `json:"amount"`
	Description string               `json:"description"`
	Date        time.Time            `json:"date"`
	RecordedAt  time.Time            `json:"recordedAt"`
}

// NewTransactionRecordedMessage creates a message for tx stamped with the current time.
func NewTransactionRecordedMessage(tx core.Transaction) *TransactionRecordedMessage {
	return &TransactionRecordedMessage{
		ID:          tx.ID,
		Type:        tx.Type,
		Amount:      tx.Amount,
		Description: tx.Description,
		Date:        tx.Date,
		RecordedAt:  time.Now(),
	}
}

// ToJSON converts the message to JSON bytes
func (m *TransactionRecordedMessage) ToJSON() ([]byte, error) {
	return json.Marshal(m)
}

// TransactionRecordedMessageFromJSON decodes a message body.
func TransactionRecordedMessageFromJSON(data []byte) (*TransactionRecordedMessage, error) {
	var msg TransactionRecordedMessage
	if err := json.Unmarshal(data, &msg); err != nil {
		return nil, err
	}
	return &msg, nil
}
