package repository

import (
	"context"

	"veribill/internal/domain"
)

// VerificationsRepository 校验审计记录 Repository 接口
// 只追加：没有 update / delete 方法，争议追溯依赖这份不可变档案
type VerificationsRepository interface {
	Create(ctx context.Context, v *domain.Verification) error

	ListByVerifier(ctx context.Context, verifierID string, limit, offset int) ([]*domain.Verification, error)
	CountByVerifier(ctx context.Context, verifierID string) (int, error)
	CountByBill(ctx context.Context, billID string) (int, error)
	GetStatsByVerifier(ctx context.Context, verifierID string) (*domain.VerificationStats, error)
}
