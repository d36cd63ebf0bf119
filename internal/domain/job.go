// internal/domain/job.go
package domain

import "time"

// ReceiptJob is the queue payload for one uploaded receipt image.
type ReceiptJob struct {
	UserID      string  `json:"user_id"`
	PaymentID   *string `json:"payment_id,omitempty"`
	StoragePath string  `json:"storage_path"`
	ContentHash string  `json:"content_hash"`
	Attempt     int     `json:"attempt"`
}

// LeasedJob is a job popped from a queue backend. MsgID is the backend's
// handle for ack/retry.
type LeasedJob struct {
	MsgID    string
	Job      ReceiptJob
	LeasedAt time.Time
}

// DeadLetter is a job that exhausted its retry budget.
type DeadLetter struct {
	MsgID     string     `json:"msg_id"`
	Job       ReceiptJob `json:"job"`
	LastError string     `json:"last_error,omitempty"`
	FailedAt  time.Time  `json:"failed_at"`
}
