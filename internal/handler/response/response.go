package response

import (
	"errors"
	"net/http"

	"github.com/gin-gonic/gin"

	"staking-core/pkg/errno"
)

// Response 统一返回体，HTTP 状态码总是 200，业务结果看 code
type Response struct {
	Code    int    `json:"code"`
	Message string `json:"msg"`
	Data    any    `json:"data"`
}

// Detailer 错误可以附带结构化信息 (例如校验失败的 validator / 所需金额)
type Detailer interface {
	Details() any
}

func Success(c *gin.Context, data any) {
	if data == nil {
		data = gin.H{}
	}
	c.JSON(http.StatusOK, Response{
		Code:    errno.OK.Code,
		Message: errno.OK.Message,
		Data:    data,
	})
}

func Error(c *gin.Context, err error) {
	code, msg := errno.Decode(err)
	var data any = gin.H{}
	var d Detailer
	if errors.As(err, &d) {
		data = d.Details()
	}
	c.JSON(http.StatusOK, Response{
		Code:    code,
		Message: msg,
		Data:    data,
	})
}
