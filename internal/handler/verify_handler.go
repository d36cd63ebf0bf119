// internal/handler/verify_handler.go
package handler

import (
	"context"
	"net/http"
	"strings"

	"go.uber.org/zap"

	"verification-service/internal/usecase"
)

type cryptoVerifier interface {
	VerifyTron(ctx context.Context, paymentID, txID string) (*usecase.TransferVerification, error)
	VerifyBinance(ctx context.Context, paymentID, txID string) (*usecase.DepositVerification, error)
}

type VerifyHandler struct {
	crypto cryptoVerifier
	logger *zap.Logger
}

func NewVerifyHandler(crypto cryptoVerifier, logger *zap.Logger) *VerifyHandler {
	return &VerifyHandler{crypto: crypto, logger: logger}
}

type verifyRequest struct {
	PaymentID string `json:"payment_id"`
	TxID      string `json:"tx_id"`
}

// HandleTron checks a TRC20 transfer against a crypto payment
func (h *VerifyHandler) HandleTron(w http.ResponseWriter, r *http.Request) {
	var req verifyRequest
	if err := decodeJSON(r, &req); err != nil {
		sendError(w, http.StatusBadRequest, "invalid request body", err)
		return
	}

	out, err := h.crypto.VerifyTron(r.Context(), strings.TrimSpace(req.PaymentID), strings.TrimSpace(req.TxID))
	if err != nil {
		h.logger.Warn("tron verification failed",
			zap.String("payment_id", req.PaymentID),
			zap.String("tx_id", req.TxID),
			zap.Error(err))
		sendError(w, errorStatus(err), "verification failed", err)
		return
	}

	sendSuccess(w, http.StatusOK, verifyMessage(out.Pass, out.Held), out)
}

// HandleBinance checks an exchange deposit against a binance_pay payment
func (h *VerifyHandler) HandleBinance(w http.ResponseWriter, r *http.Request) {
	var req verifyRequest
	if err := decodeJSON(r, &req); err != nil {
		sendError(w, http.StatusBadRequest, "invalid request body", err)
		return
	}

	out, err := h.crypto.VerifyBinance(r.Context(), strings.TrimSpace(req.PaymentID), strings.TrimSpace(req.TxID))
	if err != nil {
		h.logger.Warn("binance verification failed",
			zap.String("payment_id", req.PaymentID),
			zap.String("tx_id", req.TxID),
			zap.Error(err))
		sendError(w, errorStatus(err), "verification failed", err)
		return
	}

	sendSuccess(w, http.StatusOK, verifyMessage(out.Pass, out.Held), out)
}

func verifyMessage(pass bool, held string) string {
	if pass {
		return "payment verified"
	}
	return "payment held: " + held
}
