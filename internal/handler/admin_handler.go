// internal/handler/admin_handler.go
package handler

import (
	"context"
	"net/http"
	"strconv"

	"github.com/go-chi/chi/v5"
	"go.uber.org/zap"

	"verification-service/internal/domain"
	"verification-service/internal/usecase"
)

type paymentApprover interface {
	Approve(ctx context.Context, paymentID string, actor domain.Actor) (*usecase.ApprovalResult, error)
}

type reconcileRunner interface {
	RunBatch(ctx context.Context, n int) (*usecase.BatchResult, error)
	DeadLetters(ctx context.Context, limit int) ([]domain.DeadLetter, error)
}

type sweepRunner interface {
	Sweep(ctx context.Context) (*usecase.SweepResult, error)
}

type AdminHandler struct {
	approver  paymentApprover
	reconcile reconcileRunner
	sweep     sweepRunner
	logger    *zap.Logger
}

func NewAdminHandler(approver paymentApprover, reconcile reconcileRunner, sweep sweepRunner, logger *zap.Logger) *AdminHandler {
	return &AdminHandler{
		approver:  approver,
		reconcile: reconcile,
		sweep:     sweep,
		logger:    logger,
	}
}

// HandleApprove manually approves a payment
func (h *AdminHandler) HandleApprove(w http.ResponseWriter, r *http.Request) {
	ctx := r.Context()
	paymentID := chi.URLParam(r, "id")

	actor, ok := ActorFromContext(ctx)
	if !ok {
		sendError(w, http.StatusUnauthorized, "missing admin identity", nil)
		return
	}

	res, err := h.approver.Approve(ctx, paymentID, actor)
	if err != nil {
		h.logger.Warn("manual approval failed",
			zap.String("payment_id", paymentID),
			zap.String("actor_id", actor.ID),
			zap.Error(err))
		sendError(w, errorStatus(err), "approval failed", err)
		return
	}

	message := "payment approved"
	if res.AlreadyApproved {
		message = "payment already approved"
	}
	sendSuccess(w, http.StatusOK, message, res)
}

// HandleDeadLetters lists jobs that exhausted their retries
func (h *AdminHandler) HandleDeadLetters(w http.ResponseWriter, r *http.Request) {
	limit := 50
	if v := r.URL.Query().Get("limit"); v != "" {
		n, err := strconv.Atoi(v)
		if err != nil || n <= 0 || n > 500 {
			sendError(w, http.StatusBadRequest, "limit must be between 1 and 500", nil)
			return
		}
		limit = n
	}

	dead, err := h.reconcile.DeadLetters(r.Context(), limit)
	if err != nil {
		h.logger.Error("failed to list dead letters", zap.Error(err))
		sendError(w, errorStatus(err), "failed to list dead letters", err)
		return
	}

	sendSuccess(w, http.StatusOK, "dead letters", map[string]interface{}{
		"count": len(dead),
		"items": dead,
	})
}

// HandleRunWorker processes one receipt batch on demand
func (h *AdminHandler) HandleRunWorker(w http.ResponseWriter, r *http.Request) {
	n := 0
	if v := r.URL.Query().Get("batch"); v != "" {
		parsed, err := strconv.Atoi(v)
		if err != nil || parsed <= 0 {
			sendError(w, http.StatusBadRequest, "batch must be a positive integer", nil)
			return
		}
		n = parsed
	}

	res, err := h.reconcile.RunBatch(r.Context(), n)
	if err != nil {
		h.logger.Error("on-demand batch failed", zap.Error(err))
		sendError(w, errorStatus(err), "worker run failed", err)
		return
	}
	sendSuccess(w, http.StatusOK, "worker run completed", res)
}

// HandleRunSweep runs the auto-review sweep on demand
func (h *AdminHandler) HandleRunSweep(w http.ResponseWriter, r *http.Request) {
	res, err := h.sweep.Sweep(r.Context())
	if err != nil {
		h.logger.Error("on-demand sweep failed", zap.Error(err))
		sendError(w, errorStatus(err), "sweep failed", err)
		return
	}
	sendSuccess(w, http.StatusOK, "sweep completed", res)
}
