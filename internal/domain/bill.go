package domain

import (
	"encoding/json"
	"time"
)

// BillType 票据类型
type BillType string

const (
	BillTypeSalarySlip      BillType = "salary_slip"
	BillTypeSalesInvoice    BillType = "sales_invoice"
	BillTypeMedicalBill     BillType = "medical_bill"
	BillTypePurchaseInvoice BillType = "purchase_invoice"
	BillTypeRentalAgreement BillType = "rental_agreement"
	BillTypeEducationFee    BillType = "education_fee"
	BillTypeRentReceipt     BillType = "rent_receipt"
	BillTypeReimbursement   BillType = "reimbursement"
	BillTypeLoanStatement   BillType = "loan_statement"
	BillTypeTaxReceipt      BillType = "tax_receipt"
	BillTypeInsurancePolicy BillType = "insurance_policy"
	BillTypeOther           BillType = "other"
)

// AccessLevel 票据声明的访问级别（披露策略）
type AccessLevel string

const (
	AccessLevelPublic     AccessLevel = "public"
	AccessLevelRestricted AccessLevel = "restricted"
	AccessLevelGovernment AccessLevel = "government"
	AccessLevelFinancial  AccessLevel = "financial"
)

// BlockchainStatus 链上锚定状态（仅占位，不参与校验逻辑）
type BlockchainStatus string

const (
	BlockchainPending   BlockchainStatus = "pending"
	BlockchainConfirmed BlockchainStatus = "confirmed"
	BlockchainFailed    BlockchainStatus = "failed"
)

// Bill 票据领域模型（对应 bills 表）
// 签发后不可变，只允许软删除
type Bill struct {
	// 主键和编号
	ID         string   `db:"id"`          // UUID, PRIMARY KEY
	BillNumber string   `db:"bill_number"` // NOT NULL, UNIQUE，前缀+年月+序号
	BillType   BillType `db:"bill_type"`   // NOT NULL

	// 披露策略
	AccessLevel AccessLevel `db:"access_level"` // NOT NULL, DEFAULT 'public'

	// 签发方
	IssuerID   string `db:"issuer_id"`   // UUID, NOT NULL, REFERENCES users(user_id)
	IssuerName string `db:"issuer_name"` // NOT NULL

	// 票据内容
	BillData json.RawMessage `db:"bill_data"` // JSONB, NOT NULL
	Amount   float64         `db:"amount"`    // NUMERIC(12,2), CHECK > 0
	Currency string          `db:"currency"`  // DEFAULT 'INR'

	// 日期
	IssueDate time.Time `db:"issue_date"` // DATE, NOT NULL

	// 完整性指纹和链上占位
	DataHash         string           `db:"data_hash"`         // SHA-256 hex, NOT NULL, UNIQUE
	BlockchainStatus BlockchainStatus `db:"blockchain_status"` // DEFAULT 'pending'

	// 软删除
	IsActive       bool       `db:"is_active"`       // DEFAULT true
	IsDeleted      bool       `db:"is_deleted"`      // DEFAULT false
	DeletionReason *string    `db:"deletion_reason"` // nullable
	DeletedAt      *time.Time `db:"deleted_at"`      // nullable

	// 时间戳
	CreatedAt time.Time `db:"created_at"`
	UpdatedAt time.Time `db:"updated_at"`
}

// Payload 解码票据内容（解码失败返回 nil，由调用方决定是否降级）
func (b *Bill) Payload() map[string]any {
	if len(b.BillData) == 0 {
		return nil
	}
	var m map[string]any
	if err := json.Unmarshal(b.BillData, &m); err != nil {
		return nil
	}
	return m
}

// BillStats 签发方工作台统计
type BillStats struct {
	TotalBills         int     `json:"total_bills"`
	ThisMonthBills     int     `json:"this_month_bills"`
	ActiveBills        int     `json:"active_bills"`
	TotalVerifications int     `json:"total_verifications"`
	TotalAmount        float64 `json:"total_amount"`
}
