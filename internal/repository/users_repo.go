package repository

import (
	"context"

	"veribill/internal/domain"
)

// UsersRepository 用户/钱包 Repository 接口
// 使用强类型领域模型，不使用 map[string]any
// 钱包余额和忠诚度计数是全系统唯一的共享可变状态：
// 所有修改都必须走 Settle / Deduct / Credit 这三个事务入口，不提供裸 update
type UsersRepository interface {
	// ========== 查询 ==========
	GetUser(ctx context.Context, userID string) (*domain.User, error)
	GetUserByEmail(ctx context.Context, email string) (*domain.User, error)

	// ========== 创建 ==========
	CreateUser(ctx context.Context, user *domain.User) (string, error)

	// ========== 钱包事务（唯一的余额修改入口）==========

	// Settle 校验结算：单事务内行锁读余额，免费额度消耗或扣费，
	// verification_count +1，计数到达 loyaltyInterval 整数倍时 free_verifications_earned +1。
	// useCredit 表示调用方定价时认为可用免费额度；锁内重查为准，额度被并发用掉则回退为扣费。
	// 余额不足返回 *domain.InsufficientBalanceError，事务整体回滚。
	Settle(ctx context.Context, userID string, fee float64, useCredit bool, loyaltyInterval int) (*domain.Settlement, error)

	// Deduct 非校验类扣费（开票手续费），与 Settle 相同的原子性约定
	Deduct(ctx context.Context, userID string, amount float64) error

	// Credit 钱包充值（支付网关是外部桩，这里只做原子入账）
	Credit(ctx context.Context, userID string, amount float64) (float64, error)
}
