// internal/usecase/approval.go
package usecase

import (
	"context"
	"encoding/json"
	"errors"
	"time"

	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/promauto"
	"go.uber.org/zap"

	"verification-service/internal/domain"
	"verification-service/pkg/events"
	"verification-service/pkg/notify"
	"verification-service/pkg/xerrors"
)

var approvalsTotal = promauto.NewCounterVec(
	prometheus.CounterOpts{
		Name: "payment_approvals_total",
		Help: "Approval attempts by actor role and result",
	},
	[]string{"role", "result"},
)

// ApprovalResult reports what an approval call did. Approved is true only
// for the call that actually transitioned the payment.
type ApprovalResult struct {
	PaymentID       string `json:"payment_id"`
	Approved        bool   `json:"approved"`
	AlreadyApproved bool   `json:"already_approved"`
}

// Approver is the single approval action shared by admins, the worker and
// the auto-review sweep.
type Approver struct {
	payments  PaymentStore
	audit     AuditStore
	notifier  notify.Notifier
	publisher events.Publisher
	logger    *zap.Logger
	now       func() time.Time
}

func NewApprover(
	payments PaymentStore,
	audit AuditStore,
	notifier notify.Notifier,
	publisher events.Publisher,
	logger *zap.Logger,
) *Approver {
	return &Approver{
		payments:  payments,
		audit:     audit,
		notifier:  notifier,
		publisher: publisher,
		logger:    logger,
		now:       time.Now,
	}
}

// Approve transitions an open payment to approved. Calling it again is a
// no-op reported as AlreadyApproved. System actors need passing evidence
// on record; admins approve manually without it.
func (a *Approver) Approve(ctx context.Context, paymentID string, actor domain.Actor) (*ApprovalResult, error) {
	if actor.Role != domain.RoleAdmin && actor.Role != domain.RoleSystem {
		approvalsTotal.WithLabelValues(string(actor.Role), "forbidden").Inc()
		return nil, xerrors.ErrForbidden
	}

	payment, err := a.payments.GetByID(ctx, paymentID)
	if err != nil {
		return nil, err
	}

	result := &ApprovalResult{PaymentID: paymentID}
	if payment.Status == domain.PaymentStatusApproved {
		approvalsTotal.WithLabelValues(string(actor.Role), "already_approved").Inc()
		result.AlreadyApproved = true
		return result, nil
	}
	if !payment.IsOpen() {
		approvalsTotal.WithLabelValues(string(actor.Role), "not_approvable").Inc()
		return nil, xerrors.ErrNotApprovable
	}
	if actor.Role == domain.RoleSystem && !payment.WebhookData.HasPassing() {
		approvalsTotal.WithLabelValues(string(actor.Role), "no_evidence").Inc()
		return nil, xerrors.ErrNoPassingEvidence
	}

	transitioned, err := a.payments.ApproveConditional(ctx, paymentID)
	if err != nil {
		return nil, err
	}
	if !transitioned {
		// Lost a race with another approver or a rejection.
		current, err := a.payments.GetByID(ctx, paymentID)
		if err != nil {
			return nil, err
		}
		if current.Status != domain.PaymentStatusApproved {
			return nil, xerrors.ErrNotApprovable
		}
		approvalsTotal.WithLabelValues(string(actor.Role), "already_approved").Inc()
		result.AlreadyApproved = true
		return result, nil
	}

	result.Approved = true
	approvalsTotal.WithLabelValues(string(actor.Role), "approved").Inc()

	a.logger.Info("payment approved",
		zap.String("payment_id", paymentID),
		zap.String("actor_id", actor.ID),
		zap.String("actor_role", string(actor.Role)))

	a.recordAudit(ctx, payment, actor)
	a.publisher.Publish(ctx, events.Event{
		Type:       events.TypePaymentApproved,
		Key:        paymentID,
		OccurredAt: a.now(),
		Data: map[string]any{
			"payment_id": paymentID,
			"user_id":    payment.UserID,
			"method":     payment.Method,
			"amount":     payment.Amount.String(),
			"currency":   payment.Currency,
			"actor_id":   actor.ID,
			"actor_role": actor.Role,
		},
	})
	a.notifier.Notify(ctx, payment.UserID, approvedMessage(payment))

	return result, nil
}

func (a *Approver) recordAudit(ctx context.Context, payment *domain.PaymentIntent, actor domain.Actor) {
	action := domain.AuditActionApprove
	if actor.Role == domain.RoleSystem {
		action = domain.AuditActionAutoApprove
	}

	details, _ := json.Marshal(map[string]any{
		"method":        payment.Method,
		"amount":        payment.Amount.String(),
		"currency":      payment.Currency,
		"prior_status":  payment.Status,
		"review_status": payment.ReviewStatus,
	})

	err := a.audit.Insert(ctx, &domain.AuditLog{
		ActorID:   actor.ID,
		ActorRole: actor.Role,
		Action:    action,
		PaymentID: payment.ID,
		Details:   details,
	})
	if err != nil {
		a.logger.Error("failed to write audit log",
			zap.String("payment_id", payment.ID),
			zap.String("action", action),
			zap.Error(err))
	}
}

// isTerminalApprovalError reports approval failures that retrying cannot fix.
func isTerminalApprovalError(err error) bool {
	return errors.Is(err, xerrors.ErrNotApprovable) ||
		errors.Is(err, xerrors.ErrNoPassingEvidence) ||
		errors.Is(err, xerrors.ErrNotFound)
}
