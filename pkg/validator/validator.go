package validator

import (
	"encoding/hex"
	"fmt"
	"strings"

	"github.com/gin-gonic/gin/binding"
	"github.com/go-playground/validator/v10"

	"staking-core/internal/staking"
)

var validate *validator.Validate

// Init 在 gin 的校验引擎上注册自定义 tag，路由初始化前调用一次
func Init() {
	if v, ok := binding.Validator.Engine().(*validator.Validate); ok {
		validate = v
		_ = v.RegisterValidation("staking_program", validProgram)
		_ = v.RegisterValidation("hex_account", validAccount)
	}
}

// validProgram 具体的质押方式 (direct / pool / parachain / mythos)，不接受 any
func validProgram(fl validator.FieldLevel) bool {
	p, err := staking.ParseProgram(fl.Field().String())
	return err == nil && p != staking.ProgramAny
}

// validAccount 0x 前缀的 32 字节公钥或 20 字节地址
func validAccount(fl validator.FieldLevel) bool {
	return IsHexAccount(fl.Field().String())
}

func IsHexAccount(s string) bool {
	if !strings.HasPrefix(s, "0x") {
		return false
	}
	raw := s[2:]
	if len(raw) != 64 && len(raw) != 40 {
		return false
	}
	_, err := hex.DecodeString(raw)
	return err == nil
}

// GetErrorMsg translates validation errors into user-friendly messages
func GetErrorMsg(err error) string {
	if validationErrors, ok := err.(validator.ValidationErrors); ok {
		var errMsgs []string
		for _, e := range validationErrors {
			field := e.Field()
			tag := e.Tag()
			param := e.Param()

			switch tag {
			case "required":
				errMsgs = append(errMsgs, fmt.Sprintf("%s 不能为空", field))
			case "oneof":
				errMsgs = append(errMsgs, fmt.Sprintf("%s 必须是 [%s] 之一", field, param))
			case "staking_program":
				errMsgs = append(errMsgs, fmt.Sprintf("%s 不是有效的质押方式", field))
			case "hex_account":
				errMsgs = append(errMsgs, fmt.Sprintf("%s 必须是 0x 开头的 32 或 20 字节账户", field))
			case "max":
				errMsgs = append(errMsgs, fmt.Sprintf("%s 长度不能超过 %s", field, param))
			default:
				errMsgs = append(errMsgs, fmt.Sprintf("%s 校验失败 (%s)", field, tag))
			}
		}
		return strings.Join(errMsgs, "; ")
	}
	return "请求参数错误"
}
