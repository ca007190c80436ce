package core

import (
	"encoding/json"
	"errors"
	"strings"
	"time"
)

// MaxDescriptionLength bounds the description accepted from the form.
const MaxDescriptionLength = 200

var ErrDescriptionTooLong = errors.New("description too long (max 200 characters)")

// Draft is the state of the transaction form before it is submitted.
// Amount is kept as typed so a failed submission can be shown back verbatim.
type Draft struct {
	Type        TransactionType
	Amount      string
	Description string
	Date        time.Time
}

// CreateRequest is the body of a create-transaction call.
type CreateRequest struct {
	Type        TransactionType `json:"type"`
	Amount      json.Number     `json:"amount"`
	Description string          `json:"description"`
	Date        time.Time       `json:"date"`
}

// NewDraft returns the default form state: a revenue entry dated now.
func NewDraft(now time.Time) Draft {
	return Draft{Type: Revenue, Date: now}
}

func (d Draft) normalizedType() TransactionType {
	if d.Type == "" {
		return Revenue
	}
	return d.Type
}

func (d Draft) Validate() error {
	if !d.normalizedType().IsValid() {
		return ErrInvalidType
	}
	if _, err := ParseAmount(d.Amount); err != nil {
		return err
	}
	desc := strings.TrimSpace(d.Description)
	if desc == "" {
		return ErrEmptyDescription
	}
	if len(desc) > MaxDescriptionLength {
		return ErrDescriptionTooLong
	}
	if d.Date.IsZero() {
		return errors.New("date cannot be zero")
	}
	return nil
}

// Request validates the draft and builds the create request body.
func (d Draft) Request() (CreateRequest, error) {
	if err := d.Validate(); err != nil {
		return CreateRequest{}, err
	}
	amount, _ := ParseAmount(d.Amount)
	return CreateRequest{
		Type:        d.normalizedType(),
		Amount:      json.Number(amount.String()),
		Description: strings.TrimSpace(d.Description),
		Date:        d.Date,
	}, nil
}
