package service

import (
	"context"
	"database/sql"
	"fmt"

	"veribill/internal/domain"
	"veribill/internal/repository"

	"go.uber.org/zap"
)

// UserService 用户/钱包服务接口
type UserService interface {
	Register(ctx context.Context, req RegisterRequest) (*RegisterResponse, error)
	GetProfile(ctx context.Context, userID string) (*ProfileResponse, error)

	// TopUp 钱包充值。支付网关在系统边界之外，
	// 这里假定上游已完成收款，只做原子入账
	TopUp(ctx context.Context, userID string, amount float64) (*TopUpResponse, error)
}

// userService 实现
type userService struct {
	usersRepo repository.UsersRepository
	logger    *zap.Logger
}

// NewUserService 创建用户服务
func NewUserService(usersRepo repository.UsersRepository, logger *zap.Logger) UserService {
	return &userService{
		usersRepo: usersRepo,
		logger:    logger,
	}
}

// RegisterRequest 注册请求
type RegisterRequest struct {
	Email            string
	Role             domain.UserRole
	OrganizationName string
	WebhookURL       string // 可选，机构接收校验回调
}

// RegisterResponse 注册结果
type RegisterResponse struct {
	UserID string `json:"user_id"`
}

// ProfileResponse 用户概要（含钱包和忠诚度状态）
type ProfileResponse struct {
	UserID                  string  `json:"user_id"`
	Email                   string  `json:"email"`
	Role                    string  `json:"role"`
	OrganizationName        string  `json:"organization_name"`
	KYCStatus               string  `json:"kyc_status"`
	WalletBalance           float64 `json:"wallet_balance"`
	VerificationCount       int     `json:"verification_count"`
	FreeVerificationsEarned int     `json:"free_verifications_earned"`
}

// TopUpResponse 充值结果
type TopUpResponse struct {
	NewBalance float64 `json:"new_balance"`
}

func (s *userService) Register(ctx context.Context, req RegisterRequest) (*RegisterResponse, error) {
	if req.Email == "" {
		return nil, fmt.Errorf("email is required")
	}
	if req.Role == "" {
		req.Role = domain.RolePublic
	}

	kycStatus := domain.KYCNotNeeded
	if req.Role.IsInstitution() {
		// 机构账号开票前必须先过 KYC
		kycStatus = domain.KYCPending
	}

	user := &domain.User{
		Email:            req.Email,
		Role:             req.Role,
		OrganizationName: req.OrganizationName,
		KYCStatus:        kycStatus,
		IsActive:         true,
	}
	if req.WebhookURL != "" {
		user.WebhookURL = sql.NullString{String: req.WebhookURL, Valid: true}
	}

	userID, err := s.usersRepo.CreateUser(ctx, user)
	if err != nil {
		return nil, fmt.Errorf("failed to create user: %w", err)
	}

	s.logger.Info("User registered",
		zap.String("user_id", userID),
		zap.String("role", string(req.Role)),
	)
	return &RegisterResponse{UserID: userID}, nil
}

func (s *userService) GetProfile(ctx context.Context, userID string) (*ProfileResponse, error) {
	user, err := s.usersRepo.GetUser(ctx, userID)
	if err != nil {
		return nil, err
	}
	return &ProfileResponse{
		UserID:                  user.UserID,
		Email:                   user.Email,
		Role:                    string(user.Role),
		OrganizationName:        user.OrganizationName,
		KYCStatus:               string(user.KYCStatus),
		WalletBalance:           user.WalletBalance,
		VerificationCount:       user.VerificationCount,
		FreeVerificationsEarned: user.FreeVerificationsEarned,
	}, nil
}

func (s *userService) TopUp(ctx context.Context, userID string, amount float64) (*TopUpResponse, error) {
	if amount <= 0 {
		return nil, fmt.Errorf("top-up amount must be positive")
	}

	newBalance, err := s.usersRepo.Credit(ctx, userID, amount)
	if err != nil {
		return nil, err
	}

	s.logger.Info("Wallet credited",
		zap.String("user_id", userID),
		zap.Float64("amount", amount),
		zap.Float64("new_balance", newBalance),
	)
	return &TopUpResponse{NewBalance: newBalance}, nil
}
