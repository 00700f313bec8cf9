package httptransport

import (
	"encoding/json"
	"errors"
	"reflect"
	"strings"
	"sync"

	"github.com/gin-gonic/gin"
	"github.com/gin-gonic/gin/binding"
	"github.com/go-playground/validator/v10"
	"go.uber.org/zap"

	"mailrelay/backend/internal/service"
	"mailrelay/backend/internal/storage"
)

// 通用错误消息
const (
	MsgInvalidRequest     = "request body is malformed"
	MsgUserNotFound       = "user not found"
	MsgEmailNotFound      = "email not found"
	MsgAttachmentNotFound = "attachment not found"
	MsgUserExists         = "user with this email already exists"
	MsgInternalError      = "internal server error"
)

// 错误消息映射表（存储层错误 -> 404 消息）
var notFoundMessages = map[error]string{
	storage.ErrUserNotFound:       MsgUserNotFound,
	storage.ErrEmailNotFound:      MsgEmailNotFound,
	storage.ErrAttachmentNotFound: MsgAttachmentNotFound,
}

var registerTagNames sync.Once

// useJSONFieldNames 让校验错误使用 JSON 字段名
func useJSONFieldNames() {
	registerTagNames.Do(func() {
		v, ok := binding.Validator.Engine().(*validator.Validate)
		if !ok {
			return
		}
		v.RegisterTagNameFunc(func(field reflect.StructField) string {
			name, _, _ := strings.Cut(field.Tag.Get("json"), ",")
			if name == "-" {
				return ""
			}
			if name == "" {
				return field.Name
			}
			return name
		})
	})
}

// bindingFailed 处理 ShouldBindJSON 的错误；校验失败返回 422，格式错误返回 400
func bindingFailed(c *gin.Context, err error) {
	var verrs validator.ValidationErrors
	if errors.As(err, &verrs) {
		fields := make(map[string][]string, len(verrs))
		for _, fe := range verrs {
			fields[fe.Field()] = append(fields[fe.Field()], describe(fe))
		}
		UnprocessableEntity(c, fields)
		return
	}

	var typeErr *json.UnmarshalTypeError
	if errors.As(err, &typeErr) && typeErr.Field != "" {
		UnprocessableEntity(c, map[string][]string{
			typeErr.Field: {"has an invalid type"},
		})
		return
	}

	BadRequest(c, MsgInvalidRequest)
}

func describe(fe validator.FieldError) string {
	switch fe.Tag() {
	case "required":
		return "field is required"
	case "min":
		return "must be at least " + fe.Param()
	case "max":
		return "must be at most " + fe.Param()
	case "email":
		return "not a valid email address"
	}
	return "failed " + fe.Tag() + " validation"
}

// respondError 把服务层错误映射为 HTTP 响应
func respondError(c *gin.Context, log *zap.Logger, err error) {
	var verr *service.ValidationError
	if errors.As(err, &verr) {
		UnprocessableEntity(c, verr.Fields)
		return
	}

	for target, msg := range notFoundMessages {
		if errors.Is(err, target) {
			NotFound(c, msg)
			return
		}
	}

	_ = c.Error(err)
	log.Error("request failed",
		zap.String("method", c.Request.Method),
		zap.String("path", c.FullPath()),
		zap.Error(err),
	)
	InternalError(c, MsgInternalError)
}
