// internal/handler/receipt_handler.go
package handler

import (
	"context"
	"encoding/hex"
	"fmt"
	"net/http"
	"strings"
	"time"

	"go.uber.org/zap"

	"verification-service/internal/domain"
	"verification-service/pkg/cache"
	"verification-service/pkg/xerrors"
)

type receiptEnqueuer interface {
	Enqueue(ctx context.Context, job domain.ReceiptJob) (bool, error)
}

type ReceiptHandler struct {
	reconcile receiptEnqueuer
	store     cache.Store
	limit     int64
	window    time.Duration
	logger    *zap.Logger
}

func NewReceiptHandler(reconcile receiptEnqueuer, store cache.Store, limit int64, window time.Duration, logger *zap.Logger) *ReceiptHandler {
	return &ReceiptHandler{
		reconcile: reconcile,
		store:     store,
		limit:     limit,
		window:    window,
		logger:    logger,
	}
}

type uploadReceiptRequest struct {
	UserID      string  `json:"user_id"`
	PaymentID   *string `json:"payment_id,omitempty"`
	StoragePath string  `json:"storage_path"`
	ContentHash string  `json:"content_hash"`
}

func (req *uploadReceiptRequest) validate() error {
	req.UserID = strings.TrimSpace(req.UserID)
	req.StoragePath = strings.TrimSpace(req.StoragePath)
	req.ContentHash = strings.ToLower(strings.TrimSpace(req.ContentHash))

	switch {
	case req.UserID == "":
		return fmt.Errorf("%w: user_id is required", xerrors.ErrInvalidRequest)
	case req.StoragePath == "":
		return fmt.Errorf("%w: storage_path is required", xerrors.ErrInvalidRequest)
	case len(req.ContentHash) != 64:
		return fmt.Errorf("%w: content_hash must be a hex sha256", xerrors.ErrInvalidRequest)
	}
	if _, err := hex.DecodeString(req.ContentHash); err != nil {
		return fmt.Errorf("%w: content_hash must be a hex sha256", xerrors.ErrInvalidRequest)
	}
	return nil
}

// HandleUpload registers an uploaded receipt image for verification
func (h *ReceiptHandler) HandleUpload(w http.ResponseWriter, r *http.Request) {
	ctx := r.Context()

	var req uploadReceiptRequest
	if err := decodeJSON(r, &req); err != nil {
		sendError(w, http.StatusBadRequest, "invalid request body", err)
		return
	}
	if err := req.validate(); err != nil {
		sendError(w, http.StatusBadRequest, "invalid receipt", err)
		return
	}

	allowed, err := cache.Allow(ctx, h.store, "upload:"+req.UserID, h.limit, h.window)
	if err != nil {
		// Rate limiting fails open.
		h.logger.Warn("rate limit check failed", zap.String("user_id", req.UserID), zap.Error(err))
	} else if !allowed {
		sendError(w, http.StatusTooManyRequests, "too many receipt uploads, try again later", xerrors.ErrRateLimited)
		return
	}

	queued, err := h.reconcile.Enqueue(ctx, domain.ReceiptJob{
		UserID:      req.UserID,
		PaymentID:   req.PaymentID,
		StoragePath: req.StoragePath,
		ContentHash: req.ContentHash,
	})
	if err != nil {
		h.logger.Error("failed to enqueue receipt",
			zap.String("user_id", req.UserID),
			zap.String("content_hash", req.ContentHash),
			zap.Error(err))
		sendError(w, errorStatus(err), "failed to queue receipt", err)
		return
	}

	h.logger.Info("receipt registered",
		zap.String("user_id", req.UserID),
		zap.String("content_hash", req.ContentHash),
		zap.Bool("duplicate", !queued))

	message := "receipt queued for verification"
	if !queued {
		message = "receipt already received"
	}
	sendSuccess(w, http.StatusAccepted, message, map[string]interface{}{
		"queued":       queued,
		"duplicate":    !queued,
		"content_hash": req.ContentHash,
	})
}
