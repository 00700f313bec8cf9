package middleware

import (
	"fmt"
	"net/http"
	"strconv"

	"github.com/gin-gonic/gin"
)

const (
	// DefaultBodyLimit 普通 JSON 请求的默认上限
	DefaultBodyLimit = 1 * 1024 * 1024 // 1MB

	// multipart 包装带来的额外开销
	multipartOverhead = 64 * 1024
)

// UploadBodyLimit 根据单个附件上限计算上传请求体上限
func UploadBodyLimit(maxFileSize int64) int64 {
	return maxFileSize + multipartOverhead
}

// BodySizeLimit 限制请求体大小的中间件
func BodySizeLimit(maxBytes int64) gin.HandlerFunc {
	return DynamicBodySizeLimit(nil, maxBytes)
}

// DynamicBodySizeLimit 根据路由动态设置请求体大小限制
func DynamicBodySizeLimit(limits map[string]int64, defaultLimit int64) gin.HandlerFunc {
	return func(c *gin.Context) {
		limit, ok := limits[c.FullPath()]
		if !ok {
			limit = defaultLimit
		}

		if c.Request.ContentLength > limit {
			c.AbortWithStatusJSON(http.StatusRequestEntityTooLarge, gin.H{
				"message": fmt.Sprintf("request body exceeds maximum size of %d bytes", limit),
			})
			return
		}

		c.Request.Body = http.MaxBytesReader(c.Writer, c.Request.Body, limit)
		c.Header("X-Max-Body-Size", strconv.FormatInt(limit, 10))

		c.Next()
	}
}
