package httptransport

import (
	"net/http"

	"github.com/gin-gonic/gin"
)

// ErrorResponse 非校验类错误的响应体
type ErrorResponse struct {
	Message string `json:"message"`
}

// ValidationResponse 校验失败的响应体，按字段列出错误
type ValidationResponse struct {
	Errors map[string][]string `json:"errors"`
}

// Success 成功响应（200）
func Success(c *gin.Context, data any) {
	c.JSON(http.StatusOK, data)
}

// Created 创建成功响应（201）
func Created(c *gin.Context, data any) {
	c.JSON(http.StatusCreated, data)
}

// BadRequest 请求体无法解析（400）
func BadRequest(c *gin.Context, msg string) {
	Error(c, http.StatusBadRequest, msg)
}

// NotFound 资源不存在（404）
func NotFound(c *gin.Context, msg string) {
	Error(c, http.StatusNotFound, msg)
}

// UnprocessableEntity 校验失败（422）
func UnprocessableEntity(c *gin.Context, fields map[string][]string) {
	c.JSON(http.StatusUnprocessableEntity, ValidationResponse{Errors: fields})
}

// InternalError 服务器内部错误（500）
func InternalError(c *gin.Context, msg string) {
	Error(c, http.StatusInternalServerError, msg)
}

// Error 通用错误响应
func Error(c *gin.Context, httpCode int, msg string) {
	c.JSON(httpCode, ErrorResponse{Message: msg})
}
