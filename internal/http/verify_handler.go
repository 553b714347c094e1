package httpapi

import (
	"errors"
	"fmt"
	"net/http"
	"time"

	"veribill/internal/domain"
	"veribill/internal/service"

	"go.uber.org/zap"
)

// VerifyHandler 校验入口和审计查询
type VerifyHandler struct {
	verifications service.VerificationService
	logger        *zap.Logger
}

func NewVerifyHandler(verifications service.VerificationService, logger *zap.Logger) *VerifyHandler {
	return &VerifyHandler{verifications: verifications, logger: logger}
}

type verifyBillBody struct {
	BillNumber string `json:"bill_number"`
}

// POST /api/v1/verify
func (h *VerifyHandler) VerifyBill(w http.ResponseWriter, r *http.Request) {
	var body verifyBillBody
	if err := readBodyJSON(r, 1<<20, &body); err != nil {
		writeJSON(w, http.StatusBadRequest, Fail("invalid request body"))
		return
	}
	if body.BillNumber == "" {
		writeJSON(w, http.StatusBadRequest, Fail("bill_number is required"))
		return
	}

	verifierID, role := requesterIdentity(r)
	resp, err := h.verifications.VerifyBill(r.Context(), service.VerifyBillRequest{
		VerifierID: verifierID,
		Role:       role,
		BillNumber: body.BillNumber,
		IP:         clientIP(r),
		UserAgent:  r.UserAgent(),
	})
	if err != nil {
		var insufficient *domain.InsufficientBalanceError
		if errors.As(err, &insufficient) {
			writeJSON(w, http.StatusPaymentRequired, FailCode(ResultPaymentRequired, insufficient.Error()))
			return
		}
		if errors.Is(err, domain.ErrUserNotFound) {
			writeJSON(w, http.StatusUnauthorized, Fail("unknown requester"))
			return
		}
		h.logger.Error("VerifyBill failed", zap.String("bill_number", body.BillNumber), zap.Error(err))
		writeJSON(w, http.StatusInternalServerError, Fail("verification failed"))
		return
	}

	writeJSON(w, http.StatusOK, Ok(resp))
}

// GET /api/v1/verify/history?page=&size=
func (h *VerifyHandler) GetHistory(w http.ResponseWriter, r *http.Request) {
	verifierID, _ := requesterIdentity(r)
	if verifierID == nil {
		writeJSON(w, http.StatusUnauthorized, Fail("authentication required"))
		return
	}

	resp, err := h.verifications.GetHistory(r.Context(), service.HistoryRequest{
		VerifierID: *verifierID,
		Page:       parseInt(r.URL.Query().Get("page"), 1),
		Size:       parseInt(r.URL.Query().Get("size"), 20),
	})
	if err != nil {
		h.logger.Error("GetHistory failed", zap.String("verifier_id", *verifierID), zap.Error(err))
		writeJSON(w, http.StatusInternalServerError, Fail("failed to load history"))
		return
	}
	writeJSON(w, http.StatusOK, Ok(resp))
}

// GET /api/v1/verify/stats
func (h *VerifyHandler) GetStats(w http.ResponseWriter, r *http.Request) {
	verifierID, _ := requesterIdentity(r)
	if verifierID == nil {
		writeJSON(w, http.StatusUnauthorized, Fail("authentication required"))
		return
	}

	stats, err := h.verifications.GetStats(r.Context(), *verifierID)
	if err != nil {
		h.logger.Error("GetStats failed", zap.String("verifier_id", *verifierID), zap.Error(err))
		writeJSON(w, http.StatusInternalServerError, Fail("failed to load stats"))
		return
	}
	writeJSON(w, http.StatusOK, Ok(stats))
}

// GET /api/v1/verify/history/export
// 返回 xlsx 附件而不是 JSON 信封
func (h *VerifyHandler) ExportHistory(w http.ResponseWriter, r *http.Request) {
	verifierID, _ := requesterIdentity(r)
	if verifierID == nil {
		writeJSON(w, http.StatusUnauthorized, Fail("authentication required"))
		return
	}

	data, err := h.verifications.ExportHistory(r.Context(), *verifierID)
	if err != nil {
		h.logger.Error("ExportHistory failed", zap.String("verifier_id", *verifierID), zap.Error(err))
		writeJSON(w, http.StatusInternalServerError, Fail("failed to export history"))
		return
	}

	filename := fmt.Sprintf("verifications-%s.xlsx", time.Now().UTC().Format("20060102"))
	w.Header().Set("Content-Type", "application/vnd.openxmlformats-officedocument.spreadsheetml.sheet")
	w.Header().Set("Content-Disposition", fmt.Sprintf(`attachment; filename="%s"`, filename))
	w.WriteHeader(http.StatusOK)
	_, _ = w.Write(data)
}
