package service

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"time"

	"veribill/internal/config"
	"veribill/internal/domain"
	"veribill/internal/repository"
	"veribill/internal/store"

	"go.uber.org/zap"
)

// billCacheKeyPrefix 票据读缓存 key 前缀
const billCacheKeyPrefix = "bill:number:"

// billCacheTTL 票据读缓存 TTL（票据不可变，短 TTL 只为软删除后尽快失效）
const billCacheTTL = 5 * time.Minute

// VerificationService 校验结算服务接口
type VerificationService interface {
	// VerifyBill 单次校验的完整编排：
	// 查票 -> 解析披露级别 -> 定价 -> 钱包结算 -> 审计入档 -> 按披露级别裁剪响应
	VerifyBill(ctx context.Context, req VerifyBillRequest) (*VerifyBillResponse, error)

	// 历史与统计
	GetHistory(ctx context.Context, req HistoryRequest) (*HistoryResponse, error)
	GetStats(ctx context.Context, verifierID string) (*domain.VerificationStats, error)

	// ExportHistory 导出审计记录到 Excel
	ExportHistory(ctx context.Context, verifierID string) ([]byte, error)
}

// verificationService 实现
type verificationService struct {
	billsRepo         repository.BillsRepository
	usersRepo         repository.UsersRepository
	verificationsRepo repository.VerificationsRepository
	kv                store.KV
	notifier          *IssuerNotifier
	cfg               *config.Config
	logger            *zap.Logger
}

// NewVerificationService 创建校验结算服务
// kv 和 notifier 允许为 nil（无 Redis / 禁用回调时退化为直读、不回调）
func NewVerificationService(
	billsRepo repository.BillsRepository,
	usersRepo repository.UsersRepository,
	verificationsRepo repository.VerificationsRepository,
	kv store.KV,
	notifier *IssuerNotifier,
	cfg *config.Config,
	logger *zap.Logger,
) VerificationService {
	return &verificationService{
		billsRepo:         billsRepo,
		usersRepo:         usersRepo,
		verificationsRepo: verificationsRepo,
		kv:                kv,
		notifier:          notifier,
		cfg:               cfg,
		logger:            logger,
	}
}

// ============================================
// Request/Response DTOs
// ============================================

// VerifyBillRequest 校验请求
type VerifyBillRequest struct {
	VerifierID *string         // 认证用户 ID；匿名查询为 nil
	Role       domain.UserRole // 认证中间件解析出的角色；匿名为 RolePublic
	BillNumber string          // 必填
	IP         string          // 可选，写审计
	UserAgent  string          // 可选，写审计
}

// VerifyBillResponse 校验结果（Details 已按披露级别在边界裁剪）
type VerifyBillResponse struct {
	Success    bool           `json:"success"`
	BillNumber string         `json:"bill_number"`
	Status     string         `json:"status"` // valid / restricted / not_found
	IssuerName string         `json:"issuer_name,omitempty"`
	IssueDate  string         `json:"issue_date,omitempty"`
	BillType   string         `json:"bill_type,omitempty"`
	Message    string         `json:"message"`
	Details    map[string]any `json:"details,omitempty"`
	Fee        float64        `json:"fee"`
	WasFree    bool           `json:"was_free"`
}

// HistoryRequest 历史查询请求
type HistoryRequest struct {
	VerifierID string
	Page       int // 默认 1
	Size       int // 默认 20
}

// HistoryItem 历史记录条目
type HistoryItem struct {
	ID         string  `json:"id"`
	BillNumber string  `json:"bill_number"`
	IssuerName string  `json:"issuer_name"`
	BillType   string  `json:"bill_type"`
	Date       string  `json:"verification_date"`
	Result     string  `json:"result"`
	Fee        float64 `json:"fee"`
	WasFree    bool    `json:"was_free"`
}

// HistoryResponse 历史查询响应
type HistoryResponse struct {
	Items []*HistoryItem `json:"items"`
	Total int            `json:"total"`
}

// ============================================
// VerifyBill 编排
// ============================================

func (s *verificationService) VerifyBill(ctx context.Context, req VerifyBillRequest) (*VerifyBillResponse, error) {
	startTime := time.Now()

	bill, err := s.lookupBill(ctx, req.BillNumber)
	if err != nil {
		if errors.Is(err, domain.ErrBillNotFound) {
			return s.handleNotFound(ctx, req, startTime)
		}
		return nil, fmt.Errorf("failed to look up bill: %w", err)
	}

	// 披露级别：决策表 + 签发方/管理员覆盖
	isIssuer := req.VerifierID != nil && *req.VerifierID == bill.IssuerID
	level := ResolveAccess(bill.AccessLevel, req.Role, isIssuer)

	// 定价：免费额度可用性来自无锁读，结算时锁内重查为准
	creditAvailable := false
	if req.VerifierID != nil {
		user, err := s.usersRepo.GetUser(ctx, *req.VerifierID)
		if err != nil {
			return nil, fmt.Errorf("failed to get requester: %w", err)
		}
		creditAvailable = user.FreeVerificationsEarned > 0
	}

	paidFee, _, paidRule := ComputeFee(s.cfg.Pricing, bill.Amount, bill.AccessLevel, false)
	fee, wasFree, rule := paidFee, false, paidRule
	if creditAvailable {
		fee, wasFree, rule = ComputeFee(s.cfg.Pricing, bill.Amount, bill.AccessLevel, true)
	}

	// 结算：认证请求走行锁事务；免费额度被并发用掉时按 paidFee 扣费
	if req.VerifierID != nil {
		settlement, err := s.usersRepo.Settle(ctx, *req.VerifierID, paidFee, wasFree, s.cfg.Pricing.LoyaltyFreeEveryN)
		if err != nil {
			var insufficient *domain.InsufficientBalanceError
			if errors.As(err, &insufficient) {
				// 被拒的尝试也入档：没扣到钱，但争议追溯需要这条痕迹
				s.record(ctx, req, bill, level, 0, false, rule, statusForLevel(level), true, startTime)
				return nil, err
			}
			return nil, fmt.Errorf("failed to settle verification: %w", err)
		}
		if settlement.WasFree != wasFree {
			wasFree = settlement.WasFree
			rule = paidRule
		}
		fee = settlement.FeeCharged
	} else {
		// 匿名查询不扣费（无钱包可扣），费用仅作展示
		wasFree = false
	}

	status := statusForLevel(level)
	response := s.buildResponse(bill, level, fee, wasFree)

	s.record(ctx, req, bill, level, fee, wasFree, rule, status, false, startTime)
	s.notifyIssuer(bill, status, fee)

	return response, nil
}

// handleNotFound 票据未登记：合法终态，不是故障
func (s *verificationService) handleNotFound(ctx context.Context, req VerifyBillRequest, startTime time.Time) (*VerifyBillResponse, error) {
	fee := s.cfg.Pricing.VerificationMinFee

	if req.VerifierID == nil {
		// 匿名查不存在的票据：免费且不入档
		return &VerifyBillResponse{
			Success:    true,
			BillNumber: req.BillNumber,
			Status:     string(domain.VerificationNotFound),
			Message:    "This bill is not registered in the system. It may be fake.",
			Fee:        fee,
		}, nil
	}

	// 认证请求按最低费用结算
	settlement, err := s.usersRepo.Settle(ctx, *req.VerifierID, fee, false, s.cfg.Pricing.LoyaltyFreeEveryN)
	if err != nil {
		var insufficient *domain.InsufficientBalanceError
		if errors.As(err, &insufficient) {
			s.record(ctx, req, nil, domain.DisclosureNone, 0, false, RuleMinimumFee, domain.VerificationNotFound, true, startTime)
			return nil, err
		}
		return nil, fmt.Errorf("failed to settle verification: %w", err)
	}

	s.record(ctx, req, nil, domain.DisclosureNone, settlement.FeeCharged, settlement.WasFree, RuleMinimumFee, domain.VerificationNotFound, false, startTime)

	return &VerifyBillResponse{
		Success:    true,
		BillNumber: req.BillNumber,
		Status:     string(domain.VerificationNotFound),
		Message:    "This bill is not registered in the system. It may be fake.",
		Fee:        settlement.FeeCharged,
		WasFree:    settlement.WasFree,
	}, nil
}

// lookupBill 读缓存 -> 库表
func (s *verificationService) lookupBill(ctx context.Context, billNumber string) (*domain.Bill, error) {
	if s.kv != nil {
		if cached, err := s.kv.Get(ctx, billCacheKeyPrefix+billNumber); err == nil {
			var bill domain.Bill
			if err := json.Unmarshal([]byte(cached), &bill); err == nil {
				return &bill, nil
			}
			// 缓存内容坏了就当 miss 处理
		}
	}

	bill, err := s.billsRepo.GetByNumber(ctx, billNumber)
	if err != nil {
		return nil, err
	}

	if s.kv != nil {
		if raw, err := json.Marshal(bill); err == nil {
			if err := s.kv.Set(ctx, billCacheKeyPrefix+billNumber, string(raw), billCacheTTL); err != nil {
				s.logger.Warn("Failed to cache bill", zap.String("bill_number", billNumber), zap.Error(err))
			}
		}
	}
	return bill, nil
}

// statusForLevel none 披露的成功响应标记为 restricted
func statusForLevel(level domain.DisclosureLevel) domain.VerificationStatus {
	if level == domain.DisclosureNone {
		return domain.VerificationRestricted
	}
	return domain.VerificationValid
}

// buildResponse 在边界按披露级别裁剪，绝不把 full 对象直接外漏
func (s *verificationService) buildResponse(bill *domain.Bill, level domain.DisclosureLevel, fee float64, wasFree bool) *VerifyBillResponse {
	response := &VerifyBillResponse{
		Success:    true,
		BillNumber: bill.BillNumber,
		Status:     string(domain.VerificationValid),
		IssuerName: bill.IssuerName,
		BillType:   string(bill.BillType),
		Message:    "This bill is registered and verified.",
		Fee:        fee,
		WasFree:    wasFree,
	}

	switch level {
	case domain.DisclosureFull:
		response.IssueDate = bill.IssueDate.Format("2006-01-02")
		response.Details = bill.Payload()

	case domain.DisclosureLimited:
		// 白名单字段：金额和币种，新增票面字段默认不外漏
		response.IssueDate = bill.IssueDate.Format("2006-01-02")
		response.Details = map[string]any{
			"amount":   bill.Amount,
			"currency": bill.Currency,
		}

	case domain.DisclosureNone:
		response.Status = string(domain.VerificationRestricted)
		response.Message = "This bill requires institutional verifier access to view full details."
	}

	return response
}

// record 写审计记录：失败只记日志，不回滚已完成的结算
func (s *verificationService) record(
	ctx context.Context,
	req VerifyBillRequest,
	bill *domain.Bill,
	level domain.DisclosureLevel,
	fee float64,
	wasFree bool,
	rule string,
	status domain.VerificationStatus,
	settlementRejected bool,
	startTime time.Time,
) {
	summary := domain.DisclosureSummary(level)
	if settlementRejected {
		summary = map[string]any{
			"fields_shown":  []string{},
			"fields_hidden": []string{"all_details"},
			"reason":        "insufficient_balance",
		}
	}
	revealed, _ := json.Marshal(summary)

	v := &domain.Verification{
		BillNumber:         req.BillNumber,
		VerifierID:         req.VerifierID,
		DisclosureLevel:    level,
		DataRevealed:       revealed,
		AmountCharged:      fee,
		WasFree:            wasFree,
		PricingRuleApplied: rule,
		VerificationStatus: status,
		SettlementRejected: settlementRejected,
		ResponseTimeMs:     int(time.Since(startTime).Milliseconds()),
	}
	if bill != nil {
		v.BillID = &bill.ID
	}
	if req.IP != "" {
		v.VerifierIP = &req.IP
	}
	if req.UserAgent != "" {
		v.VerifierUserAgent = &req.UserAgent
	}

	if err := s.verificationsRepo.Create(ctx, v); err != nil {
		s.logger.Warn("Failed to write verification record",
			zap.String("bill_number", req.BillNumber),
			zap.Error(err),
		)
	}
}

// notifyIssuer 异步回调签发方 webhook（尽力而为）
func (s *verificationService) notifyIssuer(bill *domain.Bill, status domain.VerificationStatus, fee float64) {
	if s.notifier == nil {
		return
	}

	go func() {
		ctx, cancel := context.WithTimeout(context.Background(), time.Duration(s.cfg.Notify.TimeoutSeconds)*time.Second)
		defer cancel()

		issuer, err := s.usersRepo.GetUser(ctx, bill.IssuerID)
		if err != nil || !issuer.WebhookURL.Valid || issuer.WebhookURL.String == "" {
			return
		}

		s.notifier.NotifyVerification(ctx, issuer.WebhookURL.String, VerificationEvent{
			BillNumber: bill.BillNumber,
			BillType:   string(bill.BillType),
			Status:     string(status),
			Fee:        fee,
			VerifiedAt: time.Now().UTC().Format(time.RFC3339),
		})
	}()
}

// ============================================
// 历史与统计
// ============================================

func (s *verificationService) GetHistory(ctx context.Context, req HistoryRequest) (*HistoryResponse, error) {
	page := req.Page
	if page < 1 {
		page = 1
	}
	size := req.Size
	if size < 1 {
		size = 20
	}
	offset := (page - 1) * size

	verifications, err := s.verificationsRepo.ListByVerifier(ctx, req.VerifierID, size, offset)
	if err != nil {
		return nil, fmt.Errorf("failed to list verifications: %w", err)
	}

	total, err := s.verificationsRepo.CountByVerifier(ctx, req.VerifierID)
	if err != nil {
		return nil, fmt.Errorf("failed to count verifications: %w", err)
	}

	items := make([]*HistoryItem, len(verifications))
	for i, v := range verifications {
		issuerName := "Unknown"
		billType := "Unknown"
		if v.BillID != nil {
			if bill, err := s.billsRepo.GetByID(ctx, *v.BillID); err == nil {
				issuerName = bill.IssuerName
				billType = string(bill.BillType)
			}
		}

		items[i] = &HistoryItem{
			ID:         v.ID,
			BillNumber: v.BillNumber,
			IssuerName: issuerName,
			BillType:   billType,
			Date:       v.VerifiedAt.Format(time.RFC3339),
			Result:     string(v.VerificationStatus),
			Fee:        v.AmountCharged,
			WasFree:    v.WasFree,
		}
	}

	return &HistoryResponse{Items: items, Total: total}, nil
}

func (s *verificationService) GetStats(ctx context.Context, verifierID string) (*domain.VerificationStats, error) {
	return s.verificationsRepo.GetStatsByVerifier(ctx, verifierID)
}
