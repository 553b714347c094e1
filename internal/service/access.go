package service

import (
	"veribill/internal/domain"
)

// ResolveAccess 解析某次请求的披露级别
// 决策表（票据访问级别 × 请求方角色）是披露范围的唯一依据；
// 签发方本人和 master_admin 无条件 full。
// 全定义域、确定性、无错误分支。
func ResolveAccess(level domain.AccessLevel, role domain.UserRole, isIssuer bool) domain.DisclosureLevel {
	if isIssuer || role == domain.RoleMasterAdmin {
		return domain.DisclosureFull
	}

	switch level {
	case domain.AccessLevelPublic:
		return domain.DisclosureFull

	case domain.AccessLevelRestricted:
		switch role {
		case domain.RoleInstitutionUser, domain.RoleInstitutionAdmin, domain.RoleVerifier:
			return domain.DisclosureFull
		}
		return domain.DisclosureLimited

	case domain.AccessLevelGovernment, domain.AccessLevelFinancial:
		if role == domain.RoleVerifier {
			return domain.DisclosureFull
		}
		return domain.DisclosureNone
	}

	// 未知级别按最保守处理
	return domain.DisclosureNone
}
