package service

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"time"

	"veribill/internal/config"
	"veribill/internal/domain"
	"veribill/internal/hash"
	"veribill/internal/repository"
	"veribill/internal/store"

	"go.uber.org/zap"
)

// BillService 票据签发服务接口
type BillService interface {
	// CreateBill 机构开票：算内容指纹、扣开票手续费、事务内取号落库
	CreateBill(ctx context.Context, req CreateBillRequest) (*CreateBillResponse, error)

	// 签发方工作台
	GetBill(ctx context.Context, requesterID string, role domain.UserRole, billID string) (*BillDetailResponse, error)
	ListBills(ctx context.Context, issuerID string, page, size int) (*ListBillsResponse, error)
	SearchBills(ctx context.Context, req SearchBillsRequest) (*ListBillsResponse, error)
	GetStats(ctx context.Context, issuerID string) (*domain.BillStats, error)

	// DeleteBill 软删除（仅签发方本人或平台管理员）
	DeleteBill(ctx context.Context, requesterID string, role domain.UserRole, billID, reason string) error
}

// billService 实现
type billService struct {
	billsRepo         repository.BillsRepository
	usersRepo         repository.UsersRepository
	verificationsRepo repository.VerificationsRepository
	kv                store.KV
	cfg               *config.Config
	logger            *zap.Logger
}

// NewBillService 创建票据签发服务
func NewBillService(
	billsRepo repository.BillsRepository,
	usersRepo repository.UsersRepository,
	verificationsRepo repository.VerificationsRepository,
	kv store.KV,
	cfg *config.Config,
	logger *zap.Logger,
) BillService {
	return &billService{
		billsRepo:         billsRepo,
		usersRepo:         usersRepo,
		verificationsRepo: verificationsRepo,
		kv:                kv,
		cfg:               cfg,
		logger:            logger,
	}
}

// ============================================
// Request/Response DTOs
// ============================================

// CreateBillRequest 开票请求
type CreateBillRequest struct {
	IssuerID    string
	BillType    domain.BillType
	AccessLevel domain.AccessLevel // 空值按 public 处理
	BillData    map[string]any     // 票面内容，必填
	Amount      float64            // 必须 > 0
	Currency    string             // 空值按 INR 处理
	IssueDate   time.Time
}

// CreateBillResponse 开票结果
type CreateBillResponse struct {
	BillID     string  `json:"bill_id"`
	BillNumber string  `json:"bill_number"`
	DataHash   string  `json:"data_hash"`
	FeeCharged float64 `json:"fee_charged"`
}

// SearchBillsRequest 票据检索请求
type SearchBillsRequest struct {
	IssuerID  string
	BillType  *domain.BillType
	StartDate *time.Time
	EndDate   *time.Time
	Page      int
	Size      int
}

// ListBillsResponse 票据列表响应
type ListBillsResponse struct {
	Bills []*domain.Bill `json:"bills"`
	Total int            `json:"total"`
}

// BillDetailResponse 票据详情（含被查验次数）
type BillDetailResponse struct {
	Bill              *domain.Bill `json:"bill"`
	VerificationCount int          `json:"verification_count"`
}

// ============================================
// 开票
// ============================================

func (s *billService) CreateBill(ctx context.Context, req CreateBillRequest) (*CreateBillResponse, error) {
	if len(req.BillData) == 0 {
		return nil, fmt.Errorf("bill data is required")
	}
	if req.Amount <= 0 {
		return nil, fmt.Errorf("bill amount must be positive")
	}

	issuer, err := s.usersRepo.GetUser(ctx, req.IssuerID)
	if err != nil {
		return nil, fmt.Errorf("failed to get issuer: %w", err)
	}
	if !issuer.Role.IsInstitution() {
		return nil, &domain.AccessDeniedError{Reason: "only institution accounts can issue bills"}
	}
	if issuer.KYCStatus != domain.KYCApproved {
		return nil, &domain.AccessDeniedError{Reason: "institution KYC is not approved"}
	}

	dataHash, err := hash.BillHash(req.BillData)
	if err != nil {
		return nil, fmt.Errorf("failed to hash bill data: %w", err)
	}

	rawData, err := json.Marshal(req.BillData)
	if err != nil {
		return nil, fmt.Errorf("failed to encode bill data: %w", err)
	}

	accessLevel := req.AccessLevel
	if accessLevel == "" {
		accessLevel = domain.AccessLevelPublic
	}
	currency := req.Currency
	if currency == "" {
		currency = "INR"
	}
	issueDate := req.IssueDate
	if issueDate.IsZero() {
		issueDate = time.Now().UTC()
	}

	// 先扣开票手续费，再落库。落库失败时返还，避免白扣
	fee := s.cfg.Pricing.BillGenerationFee
	if err := s.usersRepo.Deduct(ctx, req.IssuerID, fee); err != nil {
		return nil, err
	}

	bill := &domain.Bill{
		BillType:         req.BillType,
		AccessLevel:      accessLevel,
		IssuerID:         req.IssuerID,
		IssuerName:       issuer.OrganizationName,
		BillData:         rawData,
		Amount:           req.Amount,
		Currency:         currency,
		IssueDate:        issueDate,
		DataHash:         dataHash,
		BlockchainStatus: domain.BlockchainPending,
		IsActive:         true,
	}

	if err := s.billsRepo.Create(ctx, bill); err != nil {
		if _, refundErr := s.usersRepo.Credit(ctx, req.IssuerID, fee); refundErr != nil {
			s.logger.Error("Failed to refund generation fee after create failure",
				zap.String("issuer_id", req.IssuerID),
				zap.Float64("fee", fee),
				zap.Error(refundErr),
			)
		}
		if errors.Is(err, domain.ErrDuplicateBill) {
			return nil, err
		}
		return nil, fmt.Errorf("failed to create bill: %w", err)
	}

	s.logger.Info("Bill issued",
		zap.String("bill_id", bill.ID),
		zap.String("bill_number", bill.BillNumber),
		zap.String("issuer_id", req.IssuerID),
		zap.String("bill_type", string(req.BillType)),
	)

	return &CreateBillResponse{
		BillID:     bill.ID,
		BillNumber: bill.BillNumber,
		DataHash:   bill.DataHash,
		FeeCharged: fee,
	}, nil
}

// ============================================
// 签发方工作台
// ============================================

// GetBill 票据详情只开放给签发方本人和平台管理员
// 对外的受控披露走校验接口，不走这里
func (s *billService) GetBill(ctx context.Context, requesterID string, role domain.UserRole, billID string) (*BillDetailResponse, error) {
	bill, err := s.billsRepo.GetByID(ctx, billID)
	if err != nil {
		return nil, err
	}
	if bill.IssuerID != requesterID && role != domain.RoleMasterAdmin {
		return nil, &domain.AccessDeniedError{Reason: "not the issuer of this bill"}
	}

	count, err := s.verificationsRepo.CountByBill(ctx, billID)
	if err != nil {
		return nil, fmt.Errorf("failed to count verifications: %w", err)
	}
	return &BillDetailResponse{Bill: bill, VerificationCount: count}, nil
}

func (s *billService) ListBills(ctx context.Context, issuerID string, page, size int) (*ListBillsResponse, error) {
	if page < 1 {
		page = 1
	}
	if size < 1 {
		size = 20
	}

	bills, err := s.billsRepo.ListByIssuer(ctx, issuerID, size, (page-1)*size)
	if err != nil {
		return nil, fmt.Errorf("failed to list bills: %w", err)
	}
	total, err := s.billsRepo.CountByIssuer(ctx, issuerID)
	if err != nil {
		return nil, fmt.Errorf("failed to count bills: %w", err)
	}
	return &ListBillsResponse{Bills: bills, Total: total}, nil
}

func (s *billService) SearchBills(ctx context.Context, req SearchBillsRequest) (*ListBillsResponse, error) {
	page := req.Page
	if page < 1 {
		page = 1
	}
	size := req.Size
	if size < 1 {
		size = 20
	}

	bills, err := s.billsRepo.Search(ctx, req.IssuerID, req.BillType, req.StartDate, req.EndDate, size, (page-1)*size)
	if err != nil {
		return nil, fmt.Errorf("failed to search bills: %w", err)
	}
	return &ListBillsResponse{Bills: bills, Total: len(bills)}, nil
}

func (s *billService) GetStats(ctx context.Context, issuerID string) (*domain.BillStats, error) {
	return s.billsRepo.GetStatsByIssuer(ctx, issuerID)
}

// ============================================
// 软删除
// ============================================

func (s *billService) DeleteBill(ctx context.Context, requesterID string, role domain.UserRole, billID, reason string) error {
	bill, err := s.billsRepo.GetByID(ctx, billID)
	if err != nil {
		return err
	}
	if bill.IssuerID != requesterID && role != domain.RoleMasterAdmin {
		return &domain.AccessDeniedError{Reason: "not the issuer of this bill"}
	}

	if err := s.billsRepo.SoftDelete(ctx, billID, reason); err != nil {
		return fmt.Errorf("failed to delete bill: %w", err)
	}

	// 删除后让读缓存尽快失效
	if s.kv != nil {
		if err := s.kv.Del(ctx, billCacheKeyPrefix+bill.BillNumber); err != nil {
			s.logger.Warn("Failed to invalidate bill cache",
				zap.String("bill_number", bill.BillNumber),
				zap.Error(err),
			)
		}
	}

	s.logger.Info("Bill soft-deleted",
		zap.String("bill_id", billID),
		zap.String("bill_number", bill.BillNumber),
		zap.String("requester_id", requesterID),
	)
	return nil
}
