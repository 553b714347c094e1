package httpapi

import (
	"net/http"

	"veribill/internal/domain"
)

// 认证网关在上游完成鉴权后注入的身份头
const (
	headerUserID   = "X-User-ID"
	headerUserRole = "X-User-Role"
)

// requesterIdentity 解析上游注入的请求方身份
// 没有身份头的请求按匿名公众处理
func requesterIdentity(r *http.Request) (*string, domain.UserRole) {
	userID := r.Header.Get(headerUserID)
	if userID == "" {
		return nil, domain.RolePublic
	}

	role := domain.UserRole(r.Header.Get(headerUserRole))
	switch role {
	case domain.RolePublic, domain.RoleInstitutionUser, domain.RoleInstitutionAdmin,
		domain.RoleVerifier, domain.RoleMasterAdmin:
	default:
		// 未知角色头按最低权限处理
		role = domain.RolePublic
	}
	return &userID, role
}
