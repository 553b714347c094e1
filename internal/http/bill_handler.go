package httpapi

import (
	"errors"
	"net/http"
	"time"

	"veribill/internal/domain"
	"veribill/internal/service"

	"go.uber.org/zap"
)

// BillHandler 机构开票和签发方工作台
type BillHandler struct {
	bills  service.BillService
	logger *zap.Logger
}

func NewBillHandler(bills service.BillService, logger *zap.Logger) *BillHandler {
	return &BillHandler{bills: bills, logger: logger}
}

type createBillBody struct {
	BillType    string         `json:"bill_type"`
	AccessLevel string         `json:"access_level"`
	BillData    map[string]any `json:"bill_data"`
	Amount      float64        `json:"amount"`
	Currency    string         `json:"currency"`
	IssueDate   string         `json:"issue_date"` // YYYY-MM-DD，缺省为当天
}

// POST /api/v1/bills
func (h *BillHandler) CreateBill(w http.ResponseWriter, r *http.Request) {
	issuerID, _ := requesterIdentity(r)
	if issuerID == nil {
		writeJSON(w, http.StatusUnauthorized, Fail("authentication required"))
		return
	}

	var body createBillBody
	if err := readBodyJSON(r, 4<<20, &body); err != nil {
		writeJSON(w, http.StatusBadRequest, Fail("invalid request body"))
		return
	}

	var issueDate time.Time
	if body.IssueDate != "" {
		parsed, err := time.Parse("2006-01-02", body.IssueDate)
		if err != nil {
			writeJSON(w, http.StatusBadRequest, Fail("issue_date must be YYYY-MM-DD"))
			return
		}
		issueDate = parsed
	}

	resp, err := h.bills.CreateBill(r.Context(), service.CreateBillRequest{
		IssuerID:    *issuerID,
		BillType:    domain.BillType(body.BillType),
		AccessLevel: domain.AccessLevel(body.AccessLevel),
		BillData:    body.BillData,
		Amount:      body.Amount,
		Currency:    body.Currency,
		IssueDate:   issueDate,
	})
	if err != nil {
		h.writeCreateError(w, body, err)
		return
	}

	writeJSON(w, http.StatusCreated, Ok(resp))
}

func (h *BillHandler) writeCreateError(w http.ResponseWriter, body createBillBody, err error) {
	var denied *domain.AccessDeniedError
	var insufficient *domain.InsufficientBalanceError
	switch {
	case errors.As(err, &denied):
		writeJSON(w, http.StatusForbidden, Fail(denied.Error()))
	case errors.As(err, &insufficient):
		writeJSON(w, http.StatusPaymentRequired, FailCode(ResultPaymentRequired, insufficient.Error()))
	case errors.Is(err, domain.ErrDuplicateBill):
		writeJSON(w, http.StatusConflict, Fail("a bill with identical content already exists"))
	case errors.Is(err, domain.ErrUserNotFound):
		writeJSON(w, http.StatusUnauthorized, Fail("unknown issuer"))
	default:
		h.logger.Error("CreateBill failed", zap.String("bill_type", body.BillType), zap.Error(err))
		writeJSON(w, http.StatusInternalServerError, Fail("failed to create bill"))
	}
}

// GET /api/v1/bills?page=&size=&bill_type=&start_date=&end_date=
func (h *BillHandler) ListBills(w http.ResponseWriter, r *http.Request) {
	issuerID, _ := requesterIdentity(r)
	if issuerID == nil {
		writeJSON(w, http.StatusUnauthorized, Fail("authentication required"))
		return
	}

	q := r.URL.Query()
	page := parseInt(q.Get("page"), 1)
	size := parseInt(q.Get("size"), 20)

	// 带过滤条件走检索，否则走普通分页
	if q.Get("bill_type") == "" && q.Get("start_date") == "" && q.Get("end_date") == "" {
		resp, err := h.bills.ListBills(r.Context(), *issuerID, page, size)
		if err != nil {
			h.logger.Error("ListBills failed", zap.String("issuer_id", *issuerID), zap.Error(err))
			writeJSON(w, http.StatusInternalServerError, Fail("failed to list bills"))
			return
		}
		writeJSON(w, http.StatusOK, Ok(resp))
		return
	}

	req := service.SearchBillsRequest{IssuerID: *issuerID, Page: page, Size: size}
	if v := q.Get("bill_type"); v != "" {
		bt := domain.BillType(v)
		req.BillType = &bt
	}
	if v := q.Get("start_date"); v != "" {
		parsed, err := time.Parse("2006-01-02", v)
		if err != nil {
			writeJSON(w, http.StatusBadRequest, Fail("start_date must be YYYY-MM-DD"))
			return
		}
		req.StartDate = &parsed
	}
	if v := q.Get("end_date"); v != "" {
		parsed, err := time.Parse("2006-01-02", v)
		if err != nil {
			writeJSON(w, http.StatusBadRequest, Fail("end_date must be YYYY-MM-DD"))
			return
		}
		req.EndDate = &parsed
	}

	resp, err := h.bills.SearchBills(r.Context(), req)
	if err != nil {
		h.logger.Error("SearchBills failed", zap.String("issuer_id", *issuerID), zap.Error(err))
		writeJSON(w, http.StatusInternalServerError, Fail("failed to search bills"))
		return
	}
	writeJSON(w, http.StatusOK, Ok(resp))
}

// GET /api/v1/bills/{id}
func (h *BillHandler) GetBill(w http.ResponseWriter, r *http.Request, billID string) {
	requesterID, role := requesterIdentity(r)
	if requesterID == nil {
		writeJSON(w, http.StatusUnauthorized, Fail("authentication required"))
		return
	}

	detail, err := h.bills.GetBill(r.Context(), *requesterID, role, billID)
	if err != nil {
		h.writeBillError(w, billID, err, "GetBill")
		return
	}
	writeJSON(w, http.StatusOK, Ok(detail))
}

// DELETE /api/v1/bills/{id}
func (h *BillHandler) DeleteBill(w http.ResponseWriter, r *http.Request, billID string) {
	requesterID, role := requesterIdentity(r)
	if requesterID == nil {
		writeJSON(w, http.StatusUnauthorized, Fail("authentication required"))
		return
	}

	var body struct {
		Reason string `json:"reason"`
	}
	_ = readBodyJSON(r, 1<<20, &body)

	if err := h.bills.DeleteBill(r.Context(), *requesterID, role, billID, body.Reason); err != nil {
		h.writeBillError(w, billID, err, "DeleteBill")
		return
	}
	writeJSON(w, http.StatusOK, Ok(map[string]any{"deleted": true}))
}

// GET /api/v1/bills/stats
func (h *BillHandler) GetStats(w http.ResponseWriter, r *http.Request) {
	issuerID, _ := requesterIdentity(r)
	if issuerID == nil {
		writeJSON(w, http.StatusUnauthorized, Fail("authentication required"))
		return
	}

	stats, err := h.bills.GetStats(r.Context(), *issuerID)
	if err != nil {
		h.logger.Error("GetStats failed", zap.String("issuer_id", *issuerID), zap.Error(err))
		writeJSON(w, http.StatusInternalServerError, Fail("failed to load stats"))
		return
	}
	writeJSON(w, http.StatusOK, Ok(stats))
}

func (h *BillHandler) writeBillError(w http.ResponseWriter, billID string, err error, op string) {
	var denied *domain.AccessDeniedError
	switch {
	case errors.Is(err, domain.ErrBillNotFound):
		writeJSON(w, http.StatusNotFound, Fail("bill not found"))
	case errors.As(err, &denied):
		writeJSON(w, http.StatusForbidden, Fail(denied.Error()))
	default:
		h.logger.Error(op+" failed", zap.String("bill_id", billID), zap.Error(err))
		writeJSON(w, http.StatusInternalServerError, Fail("request failed"))
	}
}
