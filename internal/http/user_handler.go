package httpapi

import (
	"errors"
	"net/http"

	"veribill/internal/domain"
	"veribill/internal/service"

	"go.uber.org/zap"
)

// UserHandler 注册、概要和钱包充值
type UserHandler struct {
	users  service.UserService
	logger *zap.Logger
}

func NewUserHandler(users service.UserService, logger *zap.Logger) *UserHandler {
	return &UserHandler{users: users, logger: logger}
}

type registerBody struct {
	Email            string `json:"email"`
	Role             string `json:"role"`
	OrganizationName string `json:"organization_name"`
	WebhookURL       string `json:"webhook_url"`
}

// POST /api/v1/users/register
func (h *UserHandler) Register(w http.ResponseWriter, r *http.Request) {
	var body registerBody
	if err := readBodyJSON(r, 1<<20, &body); err != nil {
		writeJSON(w, http.StatusBadRequest, Fail("invalid request body"))
		return
	}

	resp, err := h.users.Register(r.Context(), service.RegisterRequest{
		Email:            body.Email,
		Role:             domain.UserRole(body.Role),
		OrganizationName: body.OrganizationName,
		WebhookURL:       body.WebhookURL,
	})
	if err != nil {
		h.logger.Error("Register failed", zap.String("email", body.Email), zap.Error(err))
		writeJSON(w, http.StatusBadRequest, Fail(err.Error()))
		return
	}
	writeJSON(w, http.StatusCreated, Ok(resp))
}

// GET /api/v1/users/me
func (h *UserHandler) GetProfile(w http.ResponseWriter, r *http.Request) {
	userID, _ := requesterIdentity(r)
	if userID == nil {
		writeJSON(w, http.StatusUnauthorized, Fail("authentication required"))
		return
	}

	profile, err := h.users.GetProfile(r.Context(), *userID)
	if err != nil {
		if errors.Is(err, domain.ErrUserNotFound) {
			writeJSON(w, http.StatusNotFound, Fail("user not found"))
			return
		}
		h.logger.Error("GetProfile failed", zap.String("user_id", *userID), zap.Error(err))
		writeJSON(w, http.StatusInternalServerError, Fail("failed to load profile"))
		return
	}
	writeJSON(w, http.StatusOK, Ok(profile))
}

type topUpBody struct {
	Amount float64 `json:"amount"`
}

// POST /api/v1/wallet/topup
// 收款本身在支付网关完成，这里只入账
func (h *UserHandler) TopUp(w http.ResponseWriter, r *http.Request) {
	userID, _ := requesterIdentity(r)
	if userID == nil {
		writeJSON(w, http.StatusUnauthorized, Fail("authentication required"))
		return
	}

	var body topUpBody
	if err := readBodyJSON(r, 1<<20, &body); err != nil {
		writeJSON(w, http.StatusBadRequest, Fail("invalid request body"))
		return
	}

	resp, err := h.users.TopUp(r.Context(), *userID, body.Amount)
	if err != nil {
		if errors.Is(err, domain.ErrUserNotFound) {
			writeJSON(w, http.StatusNotFound, Fail("user not found"))
			return
		}
		writeJSON(w, http.StatusBadRequest, Fail(err.Error()))
		return
	}
	writeJSON(w, http.StatusOK, Ok(resp))
}
