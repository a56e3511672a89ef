package database

import (
	"fmt"
	"regexp"
	"strings"
)

// ValidateObjectID 驗證 MongoDB ObjectID 格式
func ValidateObjectID(id string) error {
	if len(id) != 24 {
		return fmt.Errorf("無效的 ObjectID 格式")
	}

	// 只允許十六進制字符
	matched, _ := regexp.MatchString("^[a-fA-F0-9]{24}$", id)
	if !matched {
		return fmt.Errorf("無效的 ObjectID 格式")
	}

	return nil
}

// SafeStringValue 消毒字符串值（防止注入）
func SafeStringValue(value string) string {
	// 移除 NULL 字符
	value = strings.ReplaceAll(value, "\x00", "")

	// 移除 MongoDB 特殊字符
	value = strings.ReplaceAll(value, "$", "")
	value = strings.ReplaceAll(value, "{", "")
	value = strings.ReplaceAll(value, "}", "")

	return value
}

// ValidateLimit 驗證並限制查詢數量
func ValidateLimit(limit int) int {
	const maxLimit = 1000
	const defaultLimit = 20

	if limit <= 0 {
		return defaultLimit
	}

	if limit > maxLimit {
		return maxLimit
	}

	return limit
}
