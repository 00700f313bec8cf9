package httptransport

import (
	"errors"
	"net/http"

	"github.com/gin-gonic/gin"
)

// 上传表单字段
const formFieldAttachment = "attachment"

type uploadResponse struct {
	FileID uint `json:"file_id"`
}

// uploadFile 保存上传的附件，返回未绑定的附件ID
//
// POST /file multipart: attachment=<file> -> 200 {"file_id": 1}
func (h *Handler) uploadFile(c *gin.Context) {
	header, err := c.FormFile(formFieldAttachment)
	if err != nil {
		var tooLarge *http.MaxBytesError
		if errors.As(err, &tooLarge) {
			UnprocessableEntity(c, map[string][]string{formFieldAttachment: {"file is too large"}})
			return
		}
		UnprocessableEntity(c, map[string][]string{formFieldAttachment: {"a file is required"}})
		return
	}

	file, err := header.Open()
	if err != nil {
		respondError(c, h.log, err)
		return
	}
	defer file.Close()

	attachment, err := h.attachments.Upload(
		c.Request.Context(),
		header.Filename,
		header.Header.Get("Content-Type"),
		file,
	)
	if err != nil {
		respondError(c, h.log, err)
		return
	}

	Success(c, uploadResponse{FileID: attachment.ID})
}
