// internal/usecase/messages.go
package usecase

import (
	"fmt"

	"verification-service/internal/domain"
)

const (
	msgQueuedForReview = "🕒 We received your payment receipt. It has been queued for review and you will be notified once it is checked."
	msgNoIntent        = "🕒 We received your receipt but could not match it to a pending payment. Our team will review it shortly."
	msgAlreadyApproved = "✅ This payment has already been verified."
)

func approvedMessage(p *domain.PaymentIntent) string {
	return fmt.Sprintf("✅ Your payment of %s %s has been verified and approved.", p.Amount.StringFixed(2), p.Currency)
}
