// Package mailer 负责把邮件记录转换成 MIME 报文并交给外发通道。
package mailer

import (
	"bytes"
	"errors"
	"fmt"
	"io"
	"strconv"
	"time"

	"github.com/emersion/go-message/mail"
)

// HeaderPriority 邮件优先级头
const HeaderPriority = "X-Priority"

// Attachment 随邮件发送的附件内容
type Attachment struct {
	Filename    string
	ContentType string
	Content     []byte
}

// Message 外发通道可直接发送的邮件
type Message struct {
	From        string
	To          []string
	Subject     string
	Body        string
	Headers     map[string]string
	Attachments []Attachment
}

// SetPriority 设置 X-Priority 头
func (m *Message) SetPriority(priority int) {
	if m.Headers == nil {
		m.Headers = make(map[string]string)
	}
	m.Headers[HeaderPriority] = strconv.Itoa(priority)
}

// Validate 检查发送所需的最小字段
func (m *Message) Validate() error {
	if m.From == "" {
		return errors.New("message has no sender")
	}
	if len(m.To) == 0 {
		return errors.New("message has no recipients")
	}
	return nil
}

// Build 生成 RFC 5322 报文；无附件时为单段 text/plain，否则为 multipart/mixed
func (m *Message) Build() ([]byte, error) {
	if err := m.Validate(); err != nil {
		return nil, err
	}

	var h mail.Header
	h.SetDate(time.Now().UTC())
	h.SetAddressList("From", []*mail.Address{{Address: m.From}})
	to := make([]*mail.Address, 0, len(m.To))
	for _, addr := range m.To {
		to = append(to, &mail.Address{Address: addr})
	}
	h.SetAddressList("To", to)
	h.SetSubject(m.Subject)
	if err := h.GenerateMessageID(); err != nil {
		return nil, fmt.Errorf("failed to generate message id: %w", err)
	}
	for key, value := range m.Headers {
		h.Set(key, value)
	}

	var buf bytes.Buffer
	if len(m.Attachments) == 0 {
		h.SetContentType("text/plain", map[string]string{"charset": "utf-8"})
		w, err := mail.CreateSingleInlineWriter(&buf, h)
		if err != nil {
			return nil, fmt.Errorf("failed to create message writer: %w", err)
		}
		if _, err := io.WriteString(w, m.Body); err != nil {
			return nil, err
		}
		if err := w.Close(); err != nil {
			return nil, err
		}
		return buf.Bytes(), nil
	}

	mw, err := mail.CreateWriter(&buf, h)
	if err != nil {
		return nil, fmt.Errorf("failed to create message writer: %w", err)
	}
	if err := writeTextPart(mw, m.Body); err != nil {
		return nil, err
	}
	for _, att := range m.Attachments {
		if err := writeAttachment(mw, att); err != nil {
			return nil, err
		}
	}
	if err := mw.Close(); err != nil {
		return nil, err
	}
	return buf.Bytes(), nil
}

func writeTextPart(mw *mail.Writer, body string) error {
	iw, err := mw.CreateInline()
	if err != nil {
		return fmt.Errorf("failed to create inline part: %w", err)
	}
	var th mail.InlineHeader
	th.SetContentType("text/plain", map[string]string{"charset": "utf-8"})
	w, err := iw.CreatePart(th)
	if err != nil {
		return fmt.Errorf("failed to create body part: %w", err)
	}
	if _, err := io.WriteString(w, body); err != nil {
		return err
	}
	if err := w.Close(); err != nil {
		return err
	}
	return iw.Close()
}

func writeAttachment(mw *mail.Writer, att Attachment) error {
	contentType := att.ContentType
	if contentType == "" {
		contentType = "application/octet-stream"
	}

	var ah mail.AttachmentHeader
	ah.Set("Content-Type", contentType)
	ah.SetFilename(att.Filename)
	w, err := mw.CreateAttachment(ah)
	if err != nil {
		return fmt.Errorf("failed to create attachment part %s: %w", att.Filename, err)
	}
	if _, err := w.Write(att.Content); err != nil {
		return err
	}
	return w.Close()
}
