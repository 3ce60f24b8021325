package response

import (
	"net/http"

	"ledgerengine/internal/apperr"

	"github.com/gin-gonic/gin"
)

const (
	CodeSuccess      = 0
	CodeParamError   = 400
	CodeUnauthorized = 401
	CodeNotFound     = 404
	CodeServerError  = 500
)

// 业务错误码
const (
	CodeInsufficientFunds = 1001
	CodeBusy              = 1002
	CodeConflict          = 1003
	CodeStorageFailure    = 1004
)

type Response struct {
	Code    int         `json:"code"`
	Message string      `json:"message"`
	Kind    string      `json:"kind,omitempty"`
	Data    interface{} `json:"data,omitempty"`
}

func Success(c *gin.Context, data interface{}) {
	c.JSON(http.StatusOK, Response{
		Code:    CodeSuccess,
		Message: "success",
		Data:    data,
	})
}

func Created(c *gin.Context, data interface{}) {
	c.JSON(http.StatusCreated, Response{
		Code:    CodeSuccess,
		Message: "success",
		Data:    data,
	})
}

func Error(c *gin.Context, status, code int, message string) {
	c.AbortWithStatusJSON(status, Response{
		Code:    code,
		Message: message,
	})
}

func ParamError(c *gin.Context, message string) {
	Error(c, http.StatusBadRequest, CodeParamError, message)
}

func Unauthorized(c *gin.Context, message string) {
	Error(c, http.StatusUnauthorized, CodeUnauthorized, message)
}

// FromError 按 apperr.Kind 输出错误响应
func FromError(c *gin.Context, err error) {
	kind := apperr.KindOf(err)
	status, code := statusFor(kind)

	message := err.Error()
	if kind == apperr.KindStorageFailure || kind == apperr.KindUnknown {
		message = "服务器内部错误"
	}

	c.AbortWithStatusJSON(status, Response{
		Code:    code,
		Message: message,
		Kind:    kind.String(),
	})
}

func statusFor(kind apperr.Kind) (int, int) {
	switch kind {
	case apperr.KindInvalidRequest:
		return http.StatusBadRequest, CodeParamError
	case apperr.KindNotFound:
		return http.StatusNotFound, CodeNotFound
	case apperr.KindInsufficientFunds:
		return http.StatusUnprocessableEntity, CodeInsufficientFunds
	case apperr.KindBusy:
		return http.StatusServiceUnavailable, CodeBusy
	case apperr.KindConflict:
		return http.StatusConflict, CodeConflict
	case apperr.KindStorageFailure:
		return http.StatusServiceUnavailable, CodeStorageFailure
	default:
		return http.StatusInternalServerError, CodeServerError
	}
}
