package repository

import (
	"context"
	"database/sql"
	"fmt"

	"veribill/internal/domain"
)

// PostgresVerificationsRepository 校验审计记录 Repository 实现
// 表上没有 UPDATE/DELETE 路径，记录写入即定稿
type PostgresVerificationsRepository struct {
	db *sql.DB
}

// NewPostgresVerificationsRepository 创建校验记录 Repository
func NewPostgresVerificationsRepository(db *sql.DB) *PostgresVerificationsRepository {
	return &PostgresVerificationsRepository{db: db}
}

// 确保实现了接口
var _ VerificationsRepository = (*PostgresVerificationsRepository)(nil)

const verificationColumns = `
	id::text,
	bill_id::text,
	bill_number,
	verifier_id::text,
	verifier_ip,
	verifier_user_agent,
	disclosure_level,
	data_revealed,
	amount_charged,
	was_free,
	pricing_rule_applied,
	verification_status,
	settlement_rejected,
	response_time_ms,
	verified_at
`

// Create 追加一条审计记录
func (r *PostgresVerificationsRepository) Create(ctx context.Context, v *domain.Verification) error {
	query := `
		INSERT INTO verifications (
			bill_id, bill_number, verifier_id, verifier_ip, verifier_user_agent,
			disclosure_level, data_revealed, amount_charged, was_free,
			pricing_rule_applied, verification_status, settlement_rejected, response_time_ms
		) VALUES ($1, $2, $3, $4, $5, $6, $7, $8, $9, $10, $11, $12, $13)
		RETURNING id::text, verified_at
	`

	err := r.db.QueryRowContext(ctx, query,
		v.BillID,
		v.BillNumber,
		v.VerifierID,
		v.VerifierIP,
		v.VerifierUserAgent,
		v.DisclosureLevel,
		v.DataRevealed,
		v.AmountCharged,
		v.WasFree,
		v.PricingRuleApplied,
		v.VerificationStatus,
		v.SettlementRejected,
		v.ResponseTimeMs,
	).Scan(&v.ID, &v.VerifiedAt)
	if err != nil {
		return fmt.Errorf("failed to create verification record: %w", err)
	}
	return nil
}

// ListByVerifier 请求方历史记录（按时间倒序分页）
func (r *PostgresVerificationsRepository) ListByVerifier(ctx context.Context, verifierID string, limit, offset int) ([]*domain.Verification, error) {
	query := `
		SELECT ` + verificationColumns + `
		FROM verifications
		WHERE verifier_id = $1
		ORDER BY verified_at DESC
		LIMIT $2 OFFSET $3
	`

	rows, err := r.db.QueryContext(ctx, query, verifierID, limit, offset)
	if err != nil {
		return nil, fmt.Errorf("failed to list verifications: %w", err)
	}
	defer rows.Close()

	var out []*domain.Verification
	for rows.Next() {
		v, err := scanVerification(rows)
		if err != nil {
			return nil, fmt.Errorf("failed to scan verification: %w", err)
		}
		out = append(out, v)
	}
	return out, rows.Err()
}

// CountByVerifier 请求方记录总数
func (r *PostgresVerificationsRepository) CountByVerifier(ctx context.Context, verifierID string) (int, error) {
	var count int
	query := `SELECT COUNT(*) FROM verifications WHERE verifier_id = $1`
	if err := r.db.QueryRowContext(ctx, query, verifierID).Scan(&count); err != nil {
		return 0, fmt.Errorf("failed to count verifications: %w", err)
	}
	return count, nil
}

// CountByBill 某张票据被校验的次数
func (r *PostgresVerificationsRepository) CountByBill(ctx context.Context, billID string) (int, error) {
	var count int
	query := `SELECT COUNT(*) FROM verifications WHERE bill_id = $1`
	if err := r.db.QueryRowContext(ctx, query, billID).Scan(&count); err != nil {
		return 0, fmt.Errorf("failed to count bill verifications: %w", err)
	}
	return count, nil
}

// GetStatsByVerifier 请求方维度统计
func (r *PostgresVerificationsRepository) GetStatsByVerifier(ctx context.Context, verifierID string) (*domain.VerificationStats, error) {
	stats := &domain.VerificationStats{}

	query := `
		SELECT
			COUNT(*),
			COALESCE(SUM(amount_charged), 0),
			COUNT(*) FILTER (WHERE verification_status = 'valid'),
			COUNT(*) FILTER (WHERE verification_status IN ('invalid', 'not_found')),
			COUNT(*) FILTER (WHERE verification_status = 'restricted')
		FROM verifications
		WHERE verifier_id = $1
	`
	err := r.db.QueryRowContext(ctx, query, verifierID).Scan(
		&stats.TotalVerifications,
		&stats.TotalSpent,
		&stats.ValidCount,
		&stats.InvalidCount,
		&stats.RestrictedCount,
	)
	if err != nil {
		return nil, fmt.Errorf("failed to get verification stats: %w", err)
	}

	if stats.TotalVerifications > 0 {
		stats.SuccessRate = float64(stats.ValidCount) / float64(stats.TotalVerifications) * 100
	}
	return stats, nil
}

// scanVerification 扫描一行审计记录
func scanVerification(row scanner) (*domain.Verification, error) {
	var v domain.Verification
	var billID, verifierID, ip, userAgent sql.NullString

	err := row.Scan(
		&v.ID,
		&billID,
		&v.BillNumber,
		&verifierID,
		&ip,
		&userAgent,
		&v.DisclosureLevel,
		&v.DataRevealed,
		&v.AmountCharged,
		&v.WasFree,
		&v.PricingRuleApplied,
		&v.VerificationStatus,
		&v.SettlementRejected,
		&v.ResponseTimeMs,
		&v.VerifiedAt,
	)
	if err != nil {
		return nil, err
	}

	if billID.Valid {
		v.BillID = &billID.String
	}
	if verifierID.Valid {
		v.VerifierID = &verifierID.String
	}
	if ip.Valid {
		v.VerifierIP = &ip.String
	}
	if userAgent.Valid {
		v.VerifierUserAgent = &userAgent.String
	}
	return &v, nil
}
