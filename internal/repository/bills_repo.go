package repository

import (
	"context"
	"time"

	"veribill/internal/domain"
)

// BillsRepository 票据 Repository 接口
// 票据签发后不可变，只有软删除一个写路径
type BillsRepository interface {
	// ========== 查询 ==========
	GetByID(ctx context.Context, id string) (*domain.Bill, error)
	GetByNumber(ctx context.Context, billNumber string) (*domain.Bill, error)
	ListByIssuer(ctx context.Context, issuerID string, limit, offset int) ([]*domain.Bill, error)
	CountByIssuer(ctx context.Context, issuerID string) (int, error)
	GetStatsByIssuer(ctx context.Context, issuerID string) (*domain.BillStats, error)
	Search(ctx context.Context, issuerID string, billType *domain.BillType, startDate, endDate *time.Time, limit, offset int) ([]*domain.Bill, error)

	// ========== 签发 ==========
	// Create 在单事务内取号并落库：
	// bill_number_seq 按 (bill_type, 年, 月) 维护单调序号，编号格式 前缀-YYYYMM-00001。
	// 内容指纹撞 UNIQUE 约束时返回 domain.ErrDuplicateBill。
	Create(ctx context.Context, bill *domain.Bill) error

	// ========== 软删除 ==========
	SoftDelete(ctx context.Context, id, reason string) error
}
