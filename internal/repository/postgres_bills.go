package repository

import (
	"context"
	"database/sql"
	"fmt"
	"time"

	"veribill/internal/domain"

	"github.com/lib/pq"
)

// PostgresBillsRepository 票据 Repository 实现
type PostgresBillsRepository struct {
	db *sql.DB
}

// NewPostgresBillsRepository 创建票据 Repository
func NewPostgresBillsRepository(db *sql.DB) *PostgresBillsRepository {
	return &PostgresBillsRepository{db: db}
}

// 确保实现了接口
var _ BillsRepository = (*PostgresBillsRepository)(nil)

// billNumberPrefix 票据编号前缀（按票据类型）
var billNumberPrefix = map[domain.BillType]string{
	domain.BillTypeSalarySlip:      "SAL",
	domain.BillTypeSalesInvoice:    "INV",
	domain.BillTypeMedicalBill:     "MED",
	domain.BillTypePurchaseInvoice: "PUR",
	domain.BillTypeRentalAgreement: "RNT",
	domain.BillTypeEducationFee:    "EDU",
	domain.BillTypeRentReceipt:     "RCT",
	domain.BillTypeReimbursement:   "RMB",
	domain.BillTypeLoanStatement:   "LON",
	domain.BillTypeTaxReceipt:      "TAX",
	domain.BillTypeInsurancePolicy: "INS",
	domain.BillTypeOther:           "OTH",
}

const billColumns = `
	id::text,
	bill_number,
	bill_type,
	access_level,
	issuer_id::text,
	issuer_name,
	bill_data,
	amount,
	currency,
	issue_date,
	data_hash,
	blockchain_status,
	is_active,
	is_deleted,
	deletion_reason,
	deleted_at,
	created_at,
	updated_at
`

// GetByID 按内部 id 获取票据（软删除的不返回）
func (r *PostgresBillsRepository) GetByID(ctx context.Context, id string) (*domain.Bill, error) {
	query := `SELECT ` + billColumns + ` FROM bills WHERE id = $1 AND is_deleted = false`
	return r.getOne(ctx, query, id)
}

// GetByNumber 按票据编号获取票据
func (r *PostgresBillsRepository) GetByNumber(ctx context.Context, billNumber string) (*domain.Bill, error) {
	query := `SELECT ` + billColumns + ` FROM bills WHERE bill_number = $1 AND is_deleted = false`
	return r.getOne(ctx, query, billNumber)
}

func (r *PostgresBillsRepository) getOne(ctx context.Context, query string, arg any) (*domain.Bill, error) {
	bill, err := scanBill(r.db.QueryRowContext(ctx, query, arg))
	if err != nil {
		if err == sql.ErrNoRows {
			return nil, domain.ErrBillNotFound
		}
		return nil, fmt.Errorf("failed to get bill: %w", err)
	}
	return bill, nil
}

// Create 在单事务内取号并落库
func (r *PostgresBillsRepository) Create(ctx context.Context, bill *domain.Bill) error {
	tx, err := r.db.BeginTx(ctx, nil)
	if err != nil {
		return fmt.Errorf("failed to begin transaction: %w", err)
	}
	defer tx.Rollback()

	// 取号：bill_number_seq 按 (bill_type, 年, 月) 维护计数
	// ON CONFLICT 的行锁保证同一 (类型, 年月) 的并发取号串行化，序号单调不重复
	now := time.Now().UTC()
	seqQuery := `
		INSERT INTO bill_number_seq (bill_type, year, month, last_value)
		VALUES ($1, $2, $3, 1)
		ON CONFLICT (bill_type, year, month)
		DO UPDATE SET last_value = bill_number_seq.last_value + 1
		RETURNING last_value
	`

	var seq int
	if err := tx.QueryRowContext(ctx, seqQuery, bill.BillType, now.Year(), int(now.Month())).Scan(&seq); err != nil {
		return fmt.Errorf("failed to allocate bill number: %w", err)
	}

	prefix, ok := billNumberPrefix[bill.BillType]
	if !ok {
		prefix = billNumberPrefix[domain.BillTypeOther]
	}
	bill.BillNumber = fmt.Sprintf("%s-%04d%02d-%05d", prefix, now.Year(), int(now.Month()), seq)

	insertQuery := `
		INSERT INTO bills (
			bill_number, bill_type, access_level, issuer_id, issuer_name,
			bill_data, amount, currency, issue_date, data_hash,
			blockchain_status, is_active
		) VALUES ($1, $2, $3, $4, $5, $6, $7, $8, $9, $10, $11, true)
		RETURNING id::text, created_at, updated_at
	`

	err = tx.QueryRowContext(ctx, insertQuery,
		bill.BillNumber,
		bill.BillType,
		bill.AccessLevel,
		bill.IssuerID,
		bill.IssuerName,
		bill.BillData,
		bill.Amount,
		bill.Currency,
		bill.IssueDate,
		bill.DataHash,
		bill.BlockchainStatus,
	).Scan(&bill.ID, &bill.CreatedAt, &bill.UpdatedAt)
	if err != nil {
		// data_hash 唯一约束：同一内容不能重复登记
		if pqErr, ok := err.(*pq.Error); ok && pqErr.Code == "23505" {
			return domain.ErrDuplicateBill
		}
		return fmt.Errorf("failed to create bill: %w", err)
	}

	if err := tx.Commit(); err != nil {
		return fmt.Errorf("failed to commit bill creation: %w", err)
	}
	bill.IsActive = true
	return nil
}

// ListByIssuer 按签发方分页查询
func (r *PostgresBillsRepository) ListByIssuer(ctx context.Context, issuerID string, limit, offset int) ([]*domain.Bill, error) {
	query := `
		SELECT ` + billColumns + `
		FROM bills
		WHERE issuer_id = $1 AND is_deleted = false
		ORDER BY created_at DESC
		LIMIT $2 OFFSET $3
	`

	rows, err := r.db.QueryContext(ctx, query, issuerID, limit, offset)
	if err != nil {
		return nil, fmt.Errorf("failed to list bills: %w", err)
	}
	defer rows.Close()

	var bills []*domain.Bill
	for rows.Next() {
		bill, err := scanBill(rows)
		if err != nil {
			return nil, fmt.Errorf("failed to scan bill: %w", err)
		}
		bills = append(bills, bill)
	}
	return bills, rows.Err()
}

// CountByIssuer 签发方票据总数
func (r *PostgresBillsRepository) CountByIssuer(ctx context.Context, issuerID string) (int, error) {
	var count int
	query := `SELECT COUNT(*) FROM bills WHERE issuer_id = $1 AND is_deleted = false`
	if err := r.db.QueryRowContext(ctx, query, issuerID).Scan(&count); err != nil {
		return 0, fmt.Errorf("failed to count bills: %w", err)
	}
	return count, nil
}

// GetStatsByIssuer 签发方工作台统计
func (r *PostgresBillsRepository) GetStatsByIssuer(ctx context.Context, issuerID string) (*domain.BillStats, error) {
	stats := &domain.BillStats{}

	query := `
		SELECT
			COUNT(*),
			COUNT(*) FILTER (WHERE DATE_TRUNC('month', created_at) = DATE_TRUNC('month', NOW())),
			COUNT(*) FILTER (WHERE is_active = true),
			COALESCE(SUM(amount), 0)
		FROM bills
		WHERE issuer_id = $1 AND is_deleted = false
	`
	err := r.db.QueryRowContext(ctx, query, issuerID).Scan(
		&stats.TotalBills,
		&stats.ThisMonthBills,
		&stats.ActiveBills,
		&stats.TotalAmount,
	)
	if err != nil {
		return nil, fmt.Errorf("failed to get bill stats: %w", err)
	}

	query = `
		SELECT COUNT(*)
		FROM verifications v
		JOIN bills b ON v.bill_id = b.id
		WHERE b.issuer_id = $1
	`
	if err := r.db.QueryRowContext(ctx, query, issuerID).Scan(&stats.TotalVerifications); err != nil {
		return nil, fmt.Errorf("failed to get verification total: %w", err)
	}

	return stats, nil
}

// Search 组合条件查询
func (r *PostgresBillsRepository) Search(ctx context.Context, issuerID string, billType *domain.BillType, startDate, endDate *time.Time, limit, offset int) ([]*domain.Bill, error) {
	query := `SELECT ` + billColumns + ` FROM bills WHERE issuer_id = $1 AND is_deleted = false`
	args := []any{issuerID}

	if billType != nil {
		args = append(args, *billType)
		query += fmt.Sprintf(" AND bill_type = $%d", len(args))
	}
	if startDate != nil {
		args = append(args, *startDate)
		query += fmt.Sprintf(" AND issue_date >= $%d", len(args))
	}
	if endDate != nil {
		args = append(args, *endDate)
		query += fmt.Sprintf(" AND issue_date <= $%d", len(args))
	}

	args = append(args, limit, offset)
	query += fmt.Sprintf(" ORDER BY created_at DESC LIMIT $%d OFFSET $%d", len(args)-1, len(args))

	rows, err := r.db.QueryContext(ctx, query, args...)
	if err != nil {
		return nil, fmt.Errorf("failed to search bills: %w", err)
	}
	defer rows.Close()

	var bills []*domain.Bill
	for rows.Next() {
		bill, err := scanBill(rows)
		if err != nil {
			return nil, fmt.Errorf("failed to scan bill: %w", err)
		}
		bills = append(bills, bill)
	}
	return bills, rows.Err()
}

// SoftDelete 软删除（票据本体不可变，删除只打标记）
func (r *PostgresBillsRepository) SoftDelete(ctx context.Context, id, reason string) error {
	query := `
		UPDATE bills
		SET is_deleted = true,
		    is_active = false,
		    deletion_reason = $2,
		    deleted_at = NOW(),
		    updated_at = NOW()
		WHERE id = $1 AND is_deleted = false
	`

	result, err := r.db.ExecContext(ctx, query, id, reason)
	if err != nil {
		return fmt.Errorf("failed to delete bill: %w", err)
	}
	rows, err := result.RowsAffected()
	if err != nil {
		return fmt.Errorf("failed to get rows affected: %w", err)
	}
	if rows == 0 {
		return domain.ErrBillNotFound
	}
	return nil
}

// scanner 兼容 *sql.Row 和 *sql.Rows
type scanner interface {
	Scan(dest ...any) error
}

// scanBill 扫描一行票据数据
func scanBill(row scanner) (*domain.Bill, error) {
	var bill domain.Bill
	var deletionReason sql.NullString
	var deletedAt sql.NullTime

	err := row.Scan(
		&bill.ID,
		&bill.BillNumber,
		&bill.BillType,
		&bill.AccessLevel,
		&bill.IssuerID,
		&bill.IssuerName,
		&bill.BillData,
		&bill.Amount,
		&bill.Currency,
		&bill.IssueDate,
		&bill.DataHash,
		&bill.BlockchainStatus,
		&bill.IsActive,
		&bill.IsDeleted,
		&deletionReason,
		&deletedAt,
		&bill.CreatedAt,
		&bill.UpdatedAt,
	)
	if err != nil {
		return nil, err
	}

	if deletionReason.Valid {
		bill.DeletionReason = &deletionReason.String
	}
	if deletedAt.Valid {
		bill.DeletedAt = &deletedAt.Time
	}
	return &bill, nil
}
