package httptransport

import (
	"errors"
	"strconv"

	"github.com/gin-gonic/gin"

	"mailrelay/backend/internal/service"
	"mailrelay/backend/internal/storage"
)

type createUserRequest struct {
	Email string `json:"email" binding:"required"`
}

type createUserResponse struct {
	ID uint `json:"id"`
}

// createUser 注册用户
//
// POST /user {"email": "..."} -> 201 {"id": 1}
func (h *Handler) createUser(c *gin.Context) {
	var req createUserRequest
	if err := c.ShouldBindJSON(&req); err != nil {
		bindingFailed(c, err)
		return
	}

	user, err := h.users.Register(c.Request.Context(), req.Email)
	if err != nil {
		if errors.Is(err, storage.ErrUserExists) {
			UnprocessableEntity(c, service.NewValidationError("email", MsgUserExists).Fields)
			return
		}
		respondError(c, h.log, err)
		return
	}

	Created(c, createUserResponse{ID: user.ID})
}

// getUser 返回用户的邮件地址字符串
func (h *Handler) getUser(c *gin.Context) {
	id, ok := pathID(c)
	if !ok {
		NotFound(c, MsgUserNotFound)
		return
	}

	user, err := h.users.Resolve(c.Request.Context(), id)
	if err != nil {
		respondError(c, h.log, err)
		return
	}
	Success(c, user.EmailAddress)
}

// listUsers 按ID升序返回全部邮件地址
func (h *Handler) listUsers(c *gin.Context) {
	users, err := h.users.List(c.Request.Context())
	if err != nil {
		respondError(c, h.log, err)
		return
	}

	addresses := make([]string, 0, len(users))
	for _, u := range users {
		addresses = append(addresses, u.EmailAddress)
	}
	Success(c, addresses)
}

// pathID 解析路径参数 :id；非法值按不存在处理
func pathID(c *gin.Context) (uint, bool) {
	id, err := strconv.ParseUint(c.Param("id"), 10, 0)
	if err != nil || id == 0 {
		return 0, false
	}
	return uint(id), true
}
