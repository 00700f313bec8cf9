package domain

import "time"

// User 表示一个邮件地址对应的稳定身份，发件人与收件人共用。
type User struct {
	ID           uint      `json:"id" gorm:"primaryKey;autoIncrement"`
	EmailAddress string    `json:"email" gorm:"uniqueIndex;type:varchar(255);not null"`
	CreatedAt    time.Time `json:"createdAt"`
}
