package service

import (
	"veribill/internal/config"
	"veribill/internal/domain"
)

// 计费规则标签（写入审计记录，供对账和争议追溯）
const (
	RuleLoyaltyFree         = "loyalty_free"
	RulePercentage          = "percentage_1_percent"
	RuleMinimumFee          = "minimum_fee"
	RuleMaximumFeeCapped    = "maximum_fee_capped"
	RuleRestrictedPremium   = "restricted_access_premium"
	RuleGovFinancialPremium = "government_financial_premium"
)

// ComputeFee 计算单次校验费用
// 规则顺序：免费额度短路 -> 比例费（带阻尼）-> [min, max] 截断 -> 访问级别加成 -> 再截断。
// 输出永远落在 [0, max]，只有免费额度会产生 0。
func ComputeFee(cfg config.PricingConfig, billAmount float64, level domain.AccessLevel, creditAvailable bool) (fee float64, wasFree bool, rule string) {
	if creditAvailable {
		return 0, true, RuleLoyaltyFree
	}

	minFee := cfg.VerificationMinFee
	maxFee := cfg.VerificationMaxFee

	base := billAmount * cfg.VerificationPercentage * cfg.PercentageDamping

	fee = base
	rule = RulePercentage
	if base < minFee {
		fee = minFee
		rule = RuleMinimumFee
	} else if base > maxFee {
		fee = maxFee
		rule = RuleMaximumFeeCapped
	}

	// 访问级别加成
	switch level {
	case domain.AccessLevelRestricted:
		fee = fee * 1.5
		rule = RuleRestrictedPremium
	case domain.AccessLevelGovernment, domain.AccessLevelFinancial:
		fee = maxFee
		rule = RuleGovFinancialPremium
	}

	// 加成不应越界，这里再压一次边界
	if fee < minFee {
		fee = minFee
	}
	if fee > maxFee {
		fee = maxFee
	}

	return fee, false, rule
}
