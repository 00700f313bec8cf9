package service

import (
	"sort"
	"strings"
)

// ValidationError 请求校验失败，按字段聚合错误信息
type ValidationError struct {
	Fields map[string][]string
}

// NewValidationError 创建只有一个字段错误的 ValidationError
func NewValidationError(field, message string) *ValidationError {
	v := &ValidationError{}
	v.Add(field, message)
	return v
}

// Add 追加一条字段错误
func (v *ValidationError) Add(field, message string) {
	if v.Fields == nil {
		v.Fields = make(map[string][]string)
	}
	v.Fields[field] = append(v.Fields[field], message)
}

// Empty 是否没有任何错误
func (v *ValidationError) Empty() bool {
	return len(v.Fields) == 0
}

// Err 没有错误时返回 nil，避免返回带类型的 nil 接口
func (v *ValidationError) Err() error {
	if v.Empty() {
		return nil
	}
	return v
}

func (v *ValidationError) Error() string {
	keys := make([]string, 0, len(v.Fields))
	for k := range v.Fields {
		keys = append(keys, k)
	}
	sort.Strings(keys)

	parts := make([]string, 0, len(keys))
	for _, k := range keys {
		parts = append(parts, k+": "+strings.Join(v.Fields[k], "; "))
	}
	return "validation failed: " + strings.Join(parts, ", ")
}
