package domain

import (
	"slices"
	"time"
)

// EmailStatus 邮件投递状态
type EmailStatus string

const (
	StatusPending EmailStatus = "pending" // 已接收，尚未尝试投递
	StatusSent    EmailStatus = "sent"
	StatusFailed  EmailStatus = "failed"
)

// Valid 判断状态值是否合法
func (s EmailStatus) Valid() bool {
	switch s {
	case StatusPending, StatusSent, StatusFailed:
		return true
	}
	return false
}

// 优先级范围，1 最高
const (
	MinPriority = 1
	MaxPriority = 5
)

// Email 表示一封待发送或已尝试发送的邮件。
//
// 创建后主题、正文、发件人、收件人不再变化，只有发送管道会修改 Status。
type Email struct {
	ID        uint        `json:"id" gorm:"primaryKey;autoIncrement"`
	CreatedAt time.Time   `json:"createdAt" gorm:"index"`
	Subject   string      `json:"subject" gorm:"type:text"`
	Body      string      `json:"message" gorm:"type:text"`
	Status    EmailStatus `json:"status" gorm:"type:varchar(16);index;not null"`
	Priority  *int        `json:"priority,omitempty"`
	SenderID  uint        `json:"senderId" gorm:"index;not null"`

	// 关系字段由存储层从关联表填充
	RecipientIDs  []uint `json:"recipientIds" gorm:"-"`
	AttachmentIDs []uint `json:"attachmentIds,omitempty" gorm:"-"`
}

// EmailRecipient 邮件与收件人的多对多关联行
type EmailRecipient struct {
	EmailID uint `gorm:"primaryKey"`
	UserID  uint `gorm:"primaryKey;index"`
}

// HasPriority 判断是否设置了优先级
func (e *Email) HasPriority() bool {
	return e.Priority != nil
}

// ValidPriority 判断优先级是否在 1-5 之间
func ValidPriority(p int) bool {
	return p >= MinPriority && p <= MaxPriority
}

// UniqueIDs 去重并保持首次出现的顺序
func UniqueIDs(ids []uint) []uint {
	out := make([]uint, 0, len(ids))
	for _, id := range ids {
		if !slices.Contains(out, id) {
			out = append(out, id)
		}
	}
	return out
}
