package domain

import (
	"errors"
	"net/mail"
	"regexp"
	"strings"
)

// 验证相关的错误定义
var (
	ErrInvalidEmail     = errors.New("invalid email format")
	ErrEmailTooLong     = errors.New("email address too long")
	ErrLocalPartTooLong = errors.New("local part too long (max 64 chars)")
	ErrDomainTooLong    = errors.New("domain too long (max 253 chars)")
	ErrInvalidLocalPart = errors.New("invalid local part format")
	ErrInvalidDomain    = errors.New("invalid domain format")
)

// 验证常量
const (
	// RFC 5322 邮箱地址长度限制
	MaxEmailLength     = 254 // 整个邮箱地址最大长度
	MaxLocalPartLength = 64  // 本地部分最大长度(@前面)
	MaxDomainLength    = 253 // 域名最大长度
)

// 域名验证（支持子域名）
var domainRegex = regexp.MustCompile(`^[a-zA-Z0-9][a-zA-Z0-9-]{0,61}[a-zA-Z0-9]?(\.[a-zA-Z0-9][a-zA-Z0-9-]{0,61}[a-zA-Z0-9]?)*$`)

// EmailValidator 邮箱验证器
//
// 只做校验，不做大小写或空白归一化：地址按原样精确匹配用户。
type EmailValidator struct{}

// NewEmailValidator 创建邮箱验证器
func NewEmailValidator() *EmailValidator {
	return &EmailValidator{}
}

// ValidateEmail 完整验证邮箱地址
func (v *EmailValidator) ValidateEmail(email string) error {
	if email == "" {
		return ErrInvalidEmail
	}

	// 长度检查
	if len(email) > MaxEmailLength {
		return ErrEmailTooLong
	}

	// 使用标准库进行基础格式验证，且不允许带显示名
	addr, err := mail.ParseAddress(email)
	if err != nil || addr.Address != email {
		return ErrInvalidEmail
	}

	at := strings.LastIndex(email, "@")
	if at <= 0 || at == len(email)-1 {
		return ErrInvalidEmail
	}

	if err := v.ValidateLocalPart(email[:at]); err != nil {
		return err
	}

	return v.ValidateDomain(email[at+1:])
}

// ValidateLocalPart 验证邮箱本地部分
func (v *EmailValidator) ValidateLocalPart(localPart string) error {
	if localPart == "" {
		return ErrInvalidLocalPart
	}
	if len(localPart) > MaxLocalPartLength {
		return ErrLocalPartTooLong
	}
	if strings.ContainsAny(localPart, " \t\r\n") {
		return ErrInvalidLocalPart
	}
	return nil
}

// ValidateDomain 验证域名
func (v *EmailValidator) ValidateDomain(domain string) error {
	if domain == "" {
		return ErrInvalidDomain
	}

	// 长度检查
	if len(domain) > MaxDomainLength {
		return ErrDomainTooLong
	}

	// 格式检查
	if !domainRegex.MatchString(domain) {
		return ErrInvalidDomain
	}

	// 检查每个标签的长度（不超过63字符）
	for _, label := range strings.Split(domain, ".") {
		if len(label) > 63 {
			return ErrInvalidDomain
		}
	}

	return nil
}

// ValidateEmail 简化的验证函数，返回bool值
func ValidateEmail(email string) bool {
	return NewEmailValidator().ValidateEmail(email) == nil
}
