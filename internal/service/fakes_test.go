package service

import (
	"context"
	"fmt"
	"sync"
	"time"

	"veribill/internal/config"
	"veribill/internal/domain"
	"veribill/internal/store"

	"go.uber.org/zap"
)

// ============================================
// 内存版 Repository 实现（单测用）
// ============================================

type fakeUsersRepo struct {
	mu    sync.Mutex
	users map[string]*domain.User
	// 记录 Settle 调用次数，便于断言
	settleCalls int
}

func newFakeUsersRepo() *fakeUsersRepo {
	return &fakeUsersRepo{users: make(map[string]*domain.User)}
}

func (r *fakeUsersRepo) put(u *domain.User) {
	r.mu.Lock()
	defer r.mu.Unlock()
	r.users[u.UserID] = u
}

func (r *fakeUsersRepo) GetUser(ctx context.Context, userID string) (*domain.User, error) {
	r.mu.Lock()
	defer r.mu.Unlock()
	u, ok := r.users[userID]
	if !ok || !u.IsActive {
		return nil, domain.ErrUserNotFound
	}
	copied := *u
	return &copied, nil
}

func (r *fakeUsersRepo) GetUserByEmail(ctx context.Context, email string) (*domain.User, error) {
	r.mu.Lock()
	defer r.mu.Unlock()
	for _, u := range r.users {
		if u.Email == email && u.IsActive {
			copied := *u
			return &copied, nil
		}
	}
	return nil, domain.ErrUserNotFound
}

func (r *fakeUsersRepo) CreateUser(ctx context.Context, user *domain.User) (string, error) {
	r.mu.Lock()
	defer r.mu.Unlock()
	id := fmt.Sprintf("user-%d", len(r.users)+1)
	user.UserID = id
	copied := *user
	r.users[id] = &copied
	return id, nil
}

// Settle 串行执行，模拟行锁事务的语义
func (r *fakeUsersRepo) Settle(ctx context.Context, userID string, fee float64, useCredit bool, loyaltyInterval int) (*domain.Settlement, error) {
	r.mu.Lock()
	defer r.mu.Unlock()
	r.settleCalls++

	u, ok := r.users[userID]
	if !ok || !u.IsActive {
		return nil, domain.ErrUserNotFound
	}

	result := &domain.Settlement{}
	if useCredit && u.FreeVerificationsEarned > 0 {
		u.FreeVerificationsEarned--
		result.WasFree = true
	} else {
		if u.WalletBalance < fee {
			return nil, &domain.InsufficientBalanceError{Required: fee, Available: u.WalletBalance}
		}
		u.WalletBalance -= fee
		result.FeeCharged = fee
	}

	u.VerificationCount++
	if loyaltyInterval > 0 && u.VerificationCount%loyaltyInterval == 0 {
		u.FreeVerificationsEarned++
		result.EarnedFreeCredit = true
	}

	result.NewBalance = u.WalletBalance
	result.VerificationCount = u.VerificationCount
	return result, nil
}

func (r *fakeUsersRepo) Deduct(ctx context.Context, userID string, amount float64) error {
	r.mu.Lock()
	defer r.mu.Unlock()
	u, ok := r.users[userID]
	if !ok || !u.IsActive {
		return domain.ErrUserNotFound
	}
	if u.WalletBalance < amount {
		return &domain.InsufficientBalanceError{Required: amount, Available: u.WalletBalance}
	}
	u.WalletBalance -= amount
	return nil
}

func (r *fakeUsersRepo) Credit(ctx context.Context, userID string, amount float64) (float64, error) {
	r.mu.Lock()
	defer r.mu.Unlock()
	u, ok := r.users[userID]
	if !ok || !u.IsActive {
		return 0, domain.ErrUserNotFound
	}
	u.WalletBalance += amount
	return u.WalletBalance, nil
}

type fakeBillsRepo struct {
	mu    sync.Mutex
	bills map[string]*domain.Bill
	// GetByNumber 调用计数，用于验证缓存命中
	lookupCalls int
	createErr   error
}

func newFakeBillsRepo() *fakeBillsRepo {
	return &fakeBillsRepo{bills: make(map[string]*domain.Bill)}
}

func (r *fakeBillsRepo) put(b *domain.Bill) {
	r.mu.Lock()
	defer r.mu.Unlock()
	r.bills[b.ID] = b
}

func (r *fakeBillsRepo) GetByID(ctx context.Context, id string) (*domain.Bill, error) {
	r.mu.Lock()
	defer r.mu.Unlock()
	b, ok := r.bills[id]
	if !ok || b.IsDeleted {
		return nil, domain.ErrBillNotFound
	}
	copied := *b
	return &copied, nil
}

func (r *fakeBillsRepo) GetByNumber(ctx context.Context, billNumber string) (*domain.Bill, error) {
	r.mu.Lock()
	defer r.mu.Unlock()
	r.lookupCalls++
	for _, b := range r.bills {
		if b.BillNumber == billNumber && !b.IsDeleted {
			copied := *b
			return &copied, nil
		}
	}
	return nil, domain.ErrBillNotFound
}

func (r *fakeBillsRepo) ListByIssuer(ctx context.Context, issuerID string, limit, offset int) ([]*domain.Bill, error) {
	r.mu.Lock()
	defer r.mu.Unlock()
	var out []*domain.Bill
	for _, b := range r.bills {
		if b.IssuerID == issuerID && !b.IsDeleted {
			copied := *b
			out = append(out, &copied)
		}
	}
	return out, nil
}

func (r *fakeBillsRepo) CountByIssuer(ctx context.Context, issuerID string) (int, error) {
	bills, _ := r.ListByIssuer(ctx, issuerID, 0, 0)
	return len(bills), nil
}

func (r *fakeBillsRepo) GetStatsByIssuer(ctx context.Context, issuerID string) (*domain.BillStats, error) {
	bills, _ := r.ListByIssuer(ctx, issuerID, 0, 0)
	stats := &domain.BillStats{TotalBills: len(bills)}
	for _, b := range bills {
		stats.TotalAmount += b.Amount
		if b.IsActive {
			stats.ActiveBills++
		}
	}
	return stats, nil
}

func (r *fakeBillsRepo) Search(ctx context.Context, issuerID string, billType *domain.BillType, startDate, endDate *time.Time, limit, offset int) ([]*domain.Bill, error) {
	bills, _ := r.ListByIssuer(ctx, issuerID, limit, offset)
	if billType == nil {
		return bills, nil
	}
	var out []*domain.Bill
	for _, b := range bills {
		if b.BillType == *billType {
			out = append(out, b)
		}
	}
	return out, nil
}

func (r *fakeBillsRepo) Create(ctx context.Context, bill *domain.Bill) error {
	r.mu.Lock()
	defer r.mu.Unlock()
	if r.createErr != nil {
		return r.createErr
	}
	for _, b := range r.bills {
		if b.DataHash == bill.DataHash {
			return domain.ErrDuplicateBill
		}
	}
	bill.ID = fmt.Sprintf("bill-%d", len(r.bills)+1)
	bill.BillNumber = fmt.Sprintf("INV-202609-%05d", len(r.bills)+1)
	copied := *bill
	r.bills[bill.ID] = &copied
	return nil
}

func (r *fakeBillsRepo) SoftDelete(ctx context.Context, id, reason string) error {
	r.mu.Lock()
	defer r.mu.Unlock()
	b, ok := r.bills[id]
	if !ok || b.IsDeleted {
		return domain.ErrBillNotFound
	}
	b.IsDeleted = true
	b.IsActive = false
	b.DeletionReason = &reason
	return nil
}

type fakeVerificationsRepo struct {
	mu      sync.Mutex
	records []*domain.Verification
	// 设置后 Create 返回该错误（测试审计失败不阻断主流程）
	createErr error
}

func newFakeVerificationsRepo() *fakeVerificationsRepo {
	return &fakeVerificationsRepo{}
}

func (r *fakeVerificationsRepo) Create(ctx context.Context, v *domain.Verification) error {
	r.mu.Lock()
	defer r.mu.Unlock()
	if r.createErr != nil {
		return r.createErr
	}
	v.ID = fmt.Sprintf("ver-%d", len(r.records)+1)
	v.VerifiedAt = time.Now().UTC()
	copied := *v
	r.records = append(r.records, &copied)
	return nil
}

func (r *fakeVerificationsRepo) all() []*domain.Verification {
	r.mu.Lock()
	defer r.mu.Unlock()
	out := make([]*domain.Verification, len(r.records))
	copy(out, r.records)
	return out
}

func (r *fakeVerificationsRepo) ListByVerifier(ctx context.Context, verifierID string, limit, offset int) ([]*domain.Verification, error) {
	r.mu.Lock()
	defer r.mu.Unlock()
	var matched []*domain.Verification
	for _, v := range r.records {
		if v.VerifierID != nil && *v.VerifierID == verifierID {
			copied := *v
			matched = append(matched, &copied)
		}
	}
	if offset >= len(matched) {
		return nil, nil
	}
	matched = matched[offset:]
	if limit > 0 && len(matched) > limit {
		matched = matched[:limit]
	}
	return matched, nil
}

func (r *fakeVerificationsRepo) CountByVerifier(ctx context.Context, verifierID string) (int, error) {
	r.mu.Lock()
	defer r.mu.Unlock()
	count := 0
	for _, v := range r.records {
		if v.VerifierID != nil && *v.VerifierID == verifierID {
			count++
		}
	}
	return count, nil
}

func (r *fakeVerificationsRepo) CountByBill(ctx context.Context, billID string) (int, error) {
	r.mu.Lock()
	defer r.mu.Unlock()
	count := 0
	for _, v := range r.records {
		if v.BillID != nil && *v.BillID == billID {
			count++
		}
	}
	return count, nil
}

func (r *fakeVerificationsRepo) GetStatsByVerifier(ctx context.Context, verifierID string) (*domain.VerificationStats, error) {
	r.mu.Lock()
	defer r.mu.Unlock()
	stats := &domain.VerificationStats{}
	for _, v := range r.records {
		if v.VerifierID == nil || *v.VerifierID != verifierID {
			continue
		}
		stats.TotalVerifications++
		stats.TotalSpent += v.AmountCharged
		switch v.VerificationStatus {
		case domain.VerificationValid:
			stats.ValidCount++
		case domain.VerificationRestricted:
			stats.RestrictedCount++
		default:
			stats.InvalidCount++
		}
	}
	if stats.TotalVerifications > 0 {
		stats.SuccessRate = float64(stats.ValidCount) / float64(stats.TotalVerifications) * 100
	}
	return stats, nil
}

// fakeKV 内存 KV（验证缓存行为时用）
type fakeKV struct {
	mu   sync.Mutex
	data map[string]string
}

func newFakeKV() *fakeKV {
	return &fakeKV{data: make(map[string]string)}
}

func (k *fakeKV) Get(ctx context.Context, key string) (string, error) {
	k.mu.Lock()
	defer k.mu.Unlock()
	v, ok := k.data[key]
	if !ok {
		return "", store.ErrMiss
	}
	return v, nil
}

func (k *fakeKV) Set(ctx context.Context, key, value string, ttl time.Duration) error {
	k.mu.Lock()
	defer k.mu.Unlock()
	k.data[key] = value
	return nil
}

func (k *fakeKV) Del(ctx context.Context, keys ...string) error {
	k.mu.Lock()
	defer k.mu.Unlock()
	for _, key := range keys {
		delete(k.data, key)
	}
	return nil
}

// ============================================
// 公共测试构造
// ============================================

func testPricingConfig() config.PricingConfig {
	return config.PricingConfig{
		BillGenerationFee:      0.50,
		VerificationMinFee:     1.00,
		VerificationMaxFee:     10.00,
		VerificationPercentage: 0.01,
		PercentageDamping:      0.5,
		LoyaltyFreeEveryN:      10,
	}
}

func testConfig() *config.Config {
	return &config.Config{
		Pricing: testPricingConfig(),
		Notify:  config.NotifyConfig{Enabled: false, TimeoutSeconds: 2, RetryCount: 0},
	}
}

func testServiceLogger() *zap.Logger {
	return zap.NewNop()
}

func testVerifier(id string, balance float64, credits int) *domain.User {
	return &domain.User{
		UserID:                  id,
		Email:                   id + "@example.com",
		Role:                    domain.RoleVerifier,
		OrganizationName:        "Test Verifier Org",
		KYCStatus:               domain.KYCNotNeeded,
		WalletBalance:           balance,
		FreeVerificationsEarned: credits,
		IsActive:                true,
	}
}

func testBill(id, number string, issuerID string, amount float64, level domain.AccessLevel) *domain.Bill {
	return &domain.Bill{
		ID:          id,
		BillNumber:  number,
		BillType:    domain.BillTypeSalesInvoice,
		AccessLevel: level,
		IssuerID:    issuerID,
		IssuerName:  "Acme Corp",
		BillData:    []byte(`{"invoice_no":"A-17","customer":"Globex","amount":` + fmt.Sprintf("%.2f", amount) + `}`),
		Amount:      amount,
		Currency:    "INR",
		IssueDate:   time.Date(2026, 8, 15, 0, 0, 0, 0, time.UTC),
		DataHash:    "hash-" + id,
		IsActive:    true,
	}
}
