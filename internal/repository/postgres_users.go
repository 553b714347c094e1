package repository

import (
	"context"
	"database/sql"
	"fmt"

	"veribill/internal/domain"
)

// PostgresUsersRepository 用户/钱包 Repository 实现
// Settle/Deduct 用 SELECT ... FOR UPDATE 行锁串行化同一用户的并发结算：
// 后到的事务在锁上等待，读到的是前一笔提交后的余额，余额不会被并发扣成负数
type PostgresUsersRepository struct {
	db *sql.DB
}

// NewPostgresUsersRepository 创建用户 Repository
func NewPostgresUsersRepository(db *sql.DB) *PostgresUsersRepository {
	return &PostgresUsersRepository{db: db}
}

// 确保实现了接口
var _ UsersRepository = (*PostgresUsersRepository)(nil)

const userColumns = `
	user_id::text,
	email,
	role,
	organization_name,
	kyc_status,
	webhook_url,
	wallet_balance,
	verification_count,
	free_verifications_earned,
	is_active,
	created_at,
	updated_at
`

// GetUser 获取用户基本信息（含钱包快照，读不加锁）
func (r *PostgresUsersRepository) GetUser(ctx context.Context, userID string) (*domain.User, error) {
	if userID == "" {
		return nil, domain.ErrUserNotFound
	}

	query := `SELECT ` + userColumns + ` FROM users WHERE user_id = $1 AND is_active = true`

	user, err := scanUser(r.db.QueryRowContext(ctx, query, userID))
	if err != nil {
		if err == sql.ErrNoRows {
			return nil, domain.ErrUserNotFound
		}
		return nil, fmt.Errorf("failed to get user: %w", err)
	}
	return user, nil
}

// GetUserByEmail 按邮箱获取用户
func (r *PostgresUsersRepository) GetUserByEmail(ctx context.Context, email string) (*domain.User, error) {
	query := `SELECT ` + userColumns + ` FROM users WHERE email = $1 AND is_active = true`

	user, err := scanUser(r.db.QueryRowContext(ctx, query, email))
	if err != nil {
		if err == sql.ErrNoRows {
			return nil, domain.ErrUserNotFound
		}
		return nil, fmt.Errorf("failed to get user by email: %w", err)
	}
	return user, nil
}

// CreateUser 创建用户（注册时余额为 0）
func (r *PostgresUsersRepository) CreateUser(ctx context.Context, user *domain.User) (string, error) {
	query := `
		INSERT INTO users (
			email, role, organization_name, kyc_status, webhook_url,
			wallet_balance, verification_count, free_verifications_earned, is_active
		) VALUES ($1, $2, $3, $4, $5, 0, 0, 0, true)
		RETURNING user_id::text
	`

	var id string
	err := r.db.QueryRowContext(ctx, query,
		user.Email,
		user.Role,
		user.OrganizationName,
		user.KYCStatus,
		user.WebhookURL,
	).Scan(&id)
	if err != nil {
		return "", fmt.Errorf("failed to create user: %w", err)
	}
	return id, nil
}

// Settle 校验结算（唯一会同时动余额和忠诚度计数的路径）
func (r *PostgresUsersRepository) Settle(ctx context.Context, userID string, fee float64, useCredit bool, loyaltyInterval int) (*domain.Settlement, error) {
	if loyaltyInterval <= 0 {
		loyaltyInterval = 10
	}

	tx, err := r.db.BeginTx(ctx, nil)
	if err != nil {
		return nil, fmt.Errorf("failed to begin transaction: %w", err)
	}
	defer tx.Rollback()

	// 行锁读：并发 Settle 在此串行化
	lockQuery := `
		SELECT wallet_balance, verification_count, free_verifications_earned
		FROM users
		WHERE user_id = $1 AND is_active = true
		FOR UPDATE
	`

	var balance float64
	var count, credits int
	err = tx.QueryRowContext(ctx, lockQuery, userID).Scan(&balance, &count, &credits)
	if err != nil {
		if err == sql.ErrNoRows {
			return nil, domain.ErrUserNotFound
		}
		return nil, fmt.Errorf("failed to lock user row: %w", err)
	}

	result := &domain.Settlement{NewBalance: balance}

	// 免费额度在锁内重查：定价时看到的额度可能已被并发请求消耗
	if useCredit && credits > 0 {
		credits--
		result.WasFree = true
	} else {
		if balance < fee {
			return nil, &domain.InsufficientBalanceError{Required: fee, Available: balance}
		}
		balance -= fee
		result.NewBalance = balance
		result.FeeCharged = fee
	}

	// 计数每次完成的认证校验都 +1（含免费），到达整数倍时记一次免费额度
	count++
	if count%loyaltyInterval == 0 {
		credits++
		result.EarnedFreeCredit = true
	}
	result.VerificationCount = count

	updateQuery := `
		UPDATE users
		SET wallet_balance = $2,
		    verification_count = $3,
		    free_verifications_earned = $4,
		    updated_at = NOW()
		WHERE user_id = $1
	`
	if _, err := tx.ExecContext(ctx, updateQuery, userID, balance, count, credits); err != nil {
		return nil, fmt.Errorf("failed to update wallet: %w", err)
	}

	if err := tx.Commit(); err != nil {
		return nil, fmt.Errorf("failed to commit settlement: %w", err)
	}
	return result, nil
}

// Deduct 非校验类扣费（开票手续费），不动忠诚度计数
func (r *PostgresUsersRepository) Deduct(ctx context.Context, userID string, amount float64) error {
	tx, err := r.db.BeginTx(ctx, nil)
	if err != nil {
		return fmt.Errorf("failed to begin transaction: %w", err)
	}
	defer tx.Rollback()

	lockQuery := `
		SELECT wallet_balance
		FROM users
		WHERE user_id = $1 AND is_active = true
		FOR UPDATE
	`

	var balance float64
	err = tx.QueryRowContext(ctx, lockQuery, userID).Scan(&balance)
	if err != nil {
		if err == sql.ErrNoRows {
			return domain.ErrUserNotFound
		}
		return fmt.Errorf("failed to lock user row: %w", err)
	}

	if balance < amount {
		return &domain.InsufficientBalanceError{Required: amount, Available: balance}
	}

	updateQuery := `UPDATE users SET wallet_balance = $2, updated_at = NOW() WHERE user_id = $1`
	if _, err := tx.ExecContext(ctx, updateQuery, userID, balance-amount); err != nil {
		return fmt.Errorf("failed to update wallet: %w", err)
	}

	if err := tx.Commit(); err != nil {
		return fmt.Errorf("failed to commit deduction: %w", err)
	}
	return nil
}

// Credit 钱包充值（单语句原子加，不需要显式行锁）
func (r *PostgresUsersRepository) Credit(ctx context.Context, userID string, amount float64) (float64, error) {
	query := `
		UPDATE users
		SET wallet_balance = wallet_balance + $2, updated_at = NOW()
		WHERE user_id = $1 AND is_active = true
		RETURNING wallet_balance
	`

	var newBalance float64
	err := r.db.QueryRowContext(ctx, query, userID, amount).Scan(&newBalance)
	if err != nil {
		if err == sql.ErrNoRows {
			return 0, domain.ErrUserNotFound
		}
		return 0, fmt.Errorf("failed to credit wallet: %w", err)
	}
	return newBalance, nil
}

// scanUser 扫描一行用户数据
func scanUser(row *sql.Row) (*domain.User, error) {
	var user domain.User
	err := row.Scan(
		&user.UserID,
		&user.Email,
		&user.Role,
		&user.OrganizationName,
		&user.KYCStatus,
		&user.WebhookURL,
		&user.WalletBalance,
		&user.VerificationCount,
		&user.FreeVerificationsEarned,
		&user.IsActive,
		&user.CreatedAt,
		&user.UpdatedAt,
	)
	if err != nil {
		return nil, err
	}
	return &user, nil
}
