package httptransport

import (
	"time"

	"github.com/gin-gonic/gin"

	"mailrelay/backend/internal/domain"
	"mailrelay/backend/internal/service"
)

// DateLayout 邮件日期的输出格式（UTC）
const DateLayout = "01/02/2006, 15:04:05"

// createEmailRequest 同时接受两种请求形式：
// 按地址（sender_email + receipents_emails）或按用户ID（sender + receipents）。
type createEmailRequest struct {
	Sender          *uint         `json:"sender"`
	SenderEmail     *string       `json:"sender_email"`
	Recipients      DelimitedList `json:"receipents"`
	RecipientEmails DelimitedList `json:"receipents_emails"`
	Subject         string        `json:"subject" binding:"max=998"`
	Message         string        `json:"message"`
	Attachments     DelimitedList `json:"attachments"`
	SendNow         bool          `json:"send_now"`
	Priority        *int          `json:"priority" binding:"omitempty,min=1,max=5"`
}

type createEmailResponse struct {
	ID     uint   `json:"id"`
	Status string `json:"status"`
}

type emailResponse struct {
	ID      uint   `json:"id"`
	Date    string `json:"date"`
	Subject string `json:"subject"`
	Message string `json:"message"`
	Status  string `json:"status"`
}

type dispatchResponse struct {
	Status     string `json:"status"`
	Dispatched *int   `json:"dispatched,omitempty"`
	Sent       *int   `json:"sent,omitempty"`
	Failed     *int   `json:"failed,omitempty"`
	Skipped    *int   `json:"skipped,omitempty"`
	Errored    *int   `json:"errored,omitempty"` // 写回状态失败、仍为 pending 的邮件数
}

// createEmail 创建邮件，send_now 时立即投递
//
// 投递失败不是请求错误：响应仍为 200，status 为 failed。
func (h *Handler) createEmail(c *gin.Context) {
	var req createEmailRequest
	if err := c.ShouldBindJSON(&req); err != nil {
		bindingFailed(c, err)
		return
	}

	input, verr := req.toInput()
	if verr != nil {
		UnprocessableEntity(c, verr.Fields)
		return
	}

	email, err := h.emails.Create(c.Request.Context(), input)
	if err != nil {
		respondError(c, h.log, err)
		return
	}

	Success(c, createEmailResponse{ID: email.ID, Status: string(email.Status)})
}

func (r *createEmailRequest) toInput() (service.CreateEmailInput, *service.ValidationError) {
	v := &service.ValidationError{}

	recipientIDs, err := r.Recipients.IDs()
	if err != nil {
		v.Add(service.FieldRecipients, err.Error())
	}
	attachmentIDs, err := r.Attachments.IDs()
	if err != nil {
		v.Add(service.FieldAttachments, err.Error())
	}
	if !v.Empty() {
		return service.CreateEmailInput{}, v
	}

	return service.CreateEmailInput{
		SenderAddress:      r.SenderEmail,
		SenderID:           r.Sender,
		RecipientAddresses: r.RecipientEmails,
		RecipientIDs:       recipientIDs,
		Subject:            r.Subject,
		Body:               r.Message,
		AttachmentIDs:      attachmentIDs,
		SendNow:            r.SendNow,
		Priority:           r.Priority,
	}, nil
}

// getEmail 获取单封邮件
func (h *Handler) getEmail(c *gin.Context) {
	id, ok := pathID(c)
	if !ok {
		NotFound(c, MsgEmailNotFound)
		return
	}

	email, err := h.emails.Get(c.Request.Context(), id)
	if err != nil {
		respondError(c, h.log, err)
		return
	}
	Success(c, toEmailResponse(email))
}

// listEmails 按ID升序返回全部邮件
func (h *Handler) listEmails(c *gin.Context) {
	emails, err := h.emails.List(c.Request.Context())
	if err != nil {
		respondError(c, h.log, err)
		return
	}

	out := make([]emailResponse, 0, len(emails))
	for i := range emails {
		out = append(out, toEmailResponse(&emails[i]))
	}
	Success(c, out)
}

// sendPending 触发批量派发
//
// POST /emails -> {"status": "ok", dispatched, sent, failed, skipped, errored} 或 {"status": "no pending mails"}
func (h *Handler) sendPending(c *gin.Context) {
	summary, err := h.dispatcher.SendAllPending(c.Request.Context())
	if err != nil {
		respondError(c, h.log, err)
		return
	}

	if summary.Pending == 0 {
		Success(c, dispatchResponse{Status: "no pending mails"})
		return
	}
	Success(c, dispatchResponse{
		Status:     "ok",
		Dispatched: &summary.Dispatched,
		Sent:       &summary.Sent,
		Failed:     &summary.Failed,
		Skipped:    &summary.Skipped,
		Errored:    &summary.Errored,
	})
}

func toEmailResponse(email *domain.Email) emailResponse {
	return emailResponse{
		ID:      email.ID,
		Date:    email.CreatedAt.In(time.UTC).Format(DateLayout),
		Subject: email.Subject,
		Message: email.Body,
		Status:  string(email.Status),
	}
}
