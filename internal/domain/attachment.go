package domain

import "time"

// Attachment 表示上传的附件元数据。
//
// EmailID 为空表示尚未绑定邮件；一旦绑定不可改绑到其他邮件。
type Attachment struct {
	ID          uint      `json:"id" gorm:"primaryKey;autoIncrement"`
	FilePath    string    `json:"filePath" gorm:"type:varchar(500);not null"` // 文件存储路径（相对路径）
	Name        string    `json:"name" gorm:"type:varchar(255)"`              // 原始文件名
	ContentType string    `json:"contentType" gorm:"type:varchar(100)"`       // MIME类型
	Size        int64     `json:"size"`                                       // 大小（字节）
	Checksum    string    `json:"checksum" gorm:"type:varchar(64)"`           // blake2b-256 十六进制摘要
	EmailID     *uint     `json:"emailId,omitempty" gorm:"index"`             // 所属邮件ID
	CreatedAt   time.Time `json:"createdAt"`
}

// BoundTo 判断附件是否已绑定到指定邮件
func (a *Attachment) BoundTo(emailID uint) bool {
	return a.EmailID != nil && *a.EmailID == emailID
}

// AttachmentFile 发送管道解析附件时使用的文件描述
type AttachmentFile struct {
	FilePath    string
	Name        string
	ContentType string
}
