package domain

import (
	"errors"
	"fmt"
)

// 类型化错误：调用方用 errors.Is / errors.As 分支，不再匹配错误文案
var (
	// ErrBillNotFound 票据未登记（对校验流程来说是合法终态，不是故障）
	ErrBillNotFound = errors.New("bill not found")

	// ErrUserNotFound 用户不存在或已停用
	ErrUserNotFound = errors.New("user not found")

	// ErrDuplicateBill 相同内容指纹的票据已登记
	ErrDuplicateBill = errors.New("bill with identical content hash already exists")
)

// InsufficientBalanceError 钱包余额不足，带上所需/可用金额供调用方展示
type InsufficientBalanceError struct {
	Required  float64
	Available float64
}

func (e *InsufficientBalanceError) Error() string {
	return fmt.Sprintf("insufficient wallet balance: required %.2f, available %.2f", e.Required, e.Available)
}

// AccessDeniedError 角色/归属不符（区别于 restricted 披露结果，后者仍是成功响应）
type AccessDeniedError struct {
	Reason string
}

func (e *AccessDeniedError) Error() string {
	return "access denied: " + e.Reason
}
