package domain

import (
	"database/sql"
	"time"
)

// UserRole 用户角色
type UserRole string

const (
	RolePublic           UserRole = "public"
	RoleInstitutionUser  UserRole = "institution_user"
	RoleInstitutionAdmin UserRole = "institution_admin"
	RoleVerifier         UserRole = "verifier"
	RoleMasterAdmin      UserRole = "master_admin"
)

// IsInstitution 是否机构账号（可开票）
func (r UserRole) IsInstitution() bool {
	return r == RoleInstitutionUser || r == RoleInstitutionAdmin
}

// KYCStatus KYC 审核状态
type KYCStatus string

const (
	KYCPending   KYCStatus = "pending"
	KYCApproved  KYCStatus = "approved"
	KYCRejected  KYCStatus = "rejected"
	KYCNotNeeded KYCStatus = "not_needed"
)

// User 用户领域模型（对应 users 表）
// 钱包余额和忠诚度计数只能通过 UsersRepo 的事务操作（Settle/Deduct/Credit）修改
type User struct {
	// 主键
	UserID string `db:"user_id"` // UUID, PRIMARY KEY

	// 账号信息
	Email            string         `db:"email"`             // NOT NULL, UNIQUE
	Role             UserRole       `db:"role"`              // NOT NULL
	OrganizationName string         `db:"organization_name"` // NOT NULL
	KYCStatus        KYCStatus      `db:"kyc_status"`        // DEFAULT 'not_needed'
	WebhookURL       sql.NullString `db:"webhook_url"`       // nullable，校验结果回调地址

	// 钱包
	WalletBalance float64 `db:"wallet_balance"` // NUMERIC(12,2), NOT NULL, CHECK >= 0

	// 忠诚度
	VerificationCount       int `db:"verification_count"`        // NOT NULL, DEFAULT 0
	FreeVerificationsEarned int `db:"free_verifications_earned"` // NOT NULL, DEFAULT 0

	// 账号状态（只做软停用，不删除）
	IsActive bool `db:"is_active"` // DEFAULT true

	// 时间戳
	CreatedAt time.Time `db:"created_at"`
	UpdatedAt time.Time `db:"updated_at"`
}

// Settlement 一次校验结算的事务结果
// FeeCharged/WasFree 为行锁内的实际结果，以此为准写审计记录
type Settlement struct {
	NewBalance        float64 // 扣费后余额
	FeeCharged        float64 // 实际扣费（免费时为 0）
	WasFree           bool    // 是否消耗了免费额度
	VerificationCount int     // 结算后的校验计数
	EarnedFreeCredit  bool    // 本次是否刚好赚到一次免费额度
}
