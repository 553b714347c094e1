package domain

import (
	"encoding/json"
	"time"
)

// DisclosureLevel 针对某次请求实际解析出来的披露级别
type DisclosureLevel string

const (
	DisclosureFull    DisclosureLevel = "full"    // 完整票面
	DisclosureLimited DisclosureLevel = "limited" // 仅金额和币种
	DisclosureNone    DisclosureLevel = "none"    // 仅存在性、签发方、票据类型
)

// VerificationStatus 校验结果状态
type VerificationStatus string

const (
	VerificationValid      VerificationStatus = "valid"
	VerificationInvalid    VerificationStatus = "invalid"
	VerificationSuspicious VerificationStatus = "suspicious"
	VerificationNotFound   VerificationStatus = "not_found"
	VerificationRestricted VerificationStatus = "restricted"
)

// Verification 校验审计记录（对应 verifications 表）
// 只追加，写入后不再修改或删除
type Verification struct {
	// 主键
	ID string `db:"id"` // UUID, PRIMARY KEY

	// 关联（票据不存在时 BillID 为空；匿名查询时 VerifierID 为空）
	BillID     *string `db:"bill_id"`     // UUID, nullable, REFERENCES bills(id)
	BillNumber string  `db:"bill_number"` // NOT NULL，按请求原样记录
	VerifierID *string `db:"verifier_id"` // UUID, nullable, REFERENCES users(user_id)

	// 请求来源
	VerifierIP        *string `db:"verifier_ip"`         // nullable
	VerifierUserAgent *string `db:"verifier_user_agent"` // nullable

	// 披露和计费
	DisclosureLevel    DisclosureLevel `db:"disclosure_level"`     // NOT NULL
	DataRevealed       json.RawMessage `db:"data_revealed"`        // JSONB，披露/隐藏字段摘要
	AmountCharged      float64         `db:"amount_charged"`       // NUMERIC(12,2), NOT NULL
	WasFree            bool            `db:"was_free"`             // DEFAULT false
	PricingRuleApplied string          `db:"pricing_rule_applied"` // NOT NULL

	// 结果
	VerificationStatus VerificationStatus `db:"verification_status"` // NOT NULL
	SettlementRejected bool               `db:"settlement_rejected"` // 余额不足被拒的尝试也入档

	// 延迟和时间
	ResponseTimeMs int       `db:"response_time_ms"` // NOT NULL
	VerifiedAt     time.Time `db:"verified_at"`      // DEFAULT NOW()
}

// DisclosureSummary 构造 data_revealed 摘要
func DisclosureSummary(level DisclosureLevel) map[string]any {
	switch level {
	case DisclosureFull:
		return map[string]any{
			"fields_shown":  []string{"all"},
			"fields_hidden": []string{},
		}
	case DisclosureLimited:
		return map[string]any{
			"fields_shown":  []string{"bill_number", "issuer_name", "issue_date", "bill_type", "amount", "currency"},
			"fields_hidden": []string{"recipient_details", "line_items", "sensitive_data"},
		}
	default:
		return map[string]any{
			"fields_shown":  []string{"bill_number", "issuer_name", "bill_type"},
			"fields_hidden": []string{"all_details"},
		}
	}
}

// VerificationStats 请求方维度的校验统计
type VerificationStats struct {
	TotalVerifications int     `json:"total_verifications"`
	TotalSpent         float64 `json:"total_spent"`
	ValidCount         int     `json:"valid_count"`
	InvalidCount       int     `json:"invalid_count"`
	RestrictedCount    int     `json:"restricted_count"`
	SuccessRate        float64 `json:"success_rate"`
}
