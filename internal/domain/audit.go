// internal/domain/audit.go
package domain

import (
	"encoding/json"
	"time"
)

type ActorRole string

const (
	RoleAdmin  ActorRole = "admin"
	RoleSystem ActorRole = "system"
	RoleUser   ActorRole = "user"
)

// Actor is whoever triggers an administrative action.
type Actor struct {
	ID   string
	Role ActorRole
}

// SystemActor attributes automated approvals.
var SystemActor = Actor{ID: "system:auto-review", Role: RoleSystem}

const (
	AuditActionApprove     = "approve"
	AuditActionAutoApprove = "auto_approve"
)

// AuditLog is one administrative action on a payment.
type AuditLog struct {
	ID        string
	ActorID   string
	ActorRole ActorRole
	Action    string
	PaymentID string
	Details   json.RawMessage
	CreatedAt time.Time
}
