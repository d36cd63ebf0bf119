// internal/domain/slip.go
package domain

import (
	"time"

	"github.com/shopspring/decimal"
)

// BankFormat identifies the bank whose slip layout was detected.
type BankFormat string

const (
	BankBML     BankFormat = "BML"
	BankMIB     BankFormat = "MIB"
	BankUnknown BankFormat = "UNKNOWN"
)

type SlipStatus string

const (
	SlipSuccess SlipStatus = "SUCCESS"
	SlipFailed  SlipStatus = "FAILED"
	SlipPending SlipStatus = "PENDING"
)

// ParsedSlip holds the fields extracted from OCR text. Any field that could
// not be located is nil.
type ParsedSlip struct {
	Bank            BankFormat       `json:"bank"`
	Amount          *decimal.Decimal `json:"amount,omitempty"`
	Currency        *string          `json:"currency,omitempty"`
	Status          *SlipStatus      `json:"status,omitempty"`
	SuccessKeyword  bool             `json:"success_keyword"`
	Reference       *string          `json:"reference,omitempty"`
	SenderName      *string          `json:"sender_name,omitempty"`
	ReceiverName    *string          `json:"receiver_name,omitempty"`
	ReceiverAccount *string          `json:"receiver_account,omitempty"`
	PayCode         *string          `json:"pay_code,omitempty"`
	TransactionAt   *time.Time       `json:"transaction_at,omitempty"`
	ValueDateAt     *time.Time       `json:"value_date_at,omitempty"`
	RawText         string           `json:"raw_text"`
}

// TransactionISO renders the transaction timestamp with its bank-local offset.
func (s *ParsedSlip) TransactionISO() *string {
	return isoPtr(s.TransactionAt)
}

// ValueDateISO renders the value date with its bank-local offset.
func (s *ParsedSlip) ValueDateISO() *string {
	return isoPtr(s.ValueDateAt)
}

func isoPtr(t *time.Time) *string {
	if t == nil {
		return nil
	}
	v := t.Format(time.RFC3339)
	return &v
}

// OCRResult is the raw output of the text extractor.
type OCRResult struct {
	Text       string
	Confidence float64
}
