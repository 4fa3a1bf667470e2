package errno

import (
	"errors"
	"fmt"
)

// Errno defines the error code logic
type Errno struct {
	Code    int
	Message string
}

func (e Errno) Error() string {
	return e.Message
}

// Is 按 Code 比较，使 errors.Is(err, errno.ErrFeeStale) 对包装后的错误同样成立
func (e Errno) Is(target error) bool {
	switch t := target.(type) {
	case Errno:
		return t.Code == e.Code
	case *Errno:
		return t != nil && t.Code == e.Code
	}
	return false
}

// Err 携带错误码和底层原因
type Err struct {
	Errno
	Cause error
}

// Wrap 给一个底层错误挂上错误码
func Wrap(base Errno, cause error) *Err {
	return &Err{Errno: base, Cause: cause}
}

// Wrapf 同 Wrap，原因由格式化字符串生成
func Wrapf(base Errno, format string, args ...any) *Err {
	return &Err{Errno: base, Cause: fmt.Errorf(format, args...)}
}

func (e *Err) Error() string {
	if e.Cause == nil {
		return e.Message
	}
	return fmt.Sprintf("%s: %v", e.Message, e.Cause)
}

func (e *Err) Unwrap() error {
	return e.Cause
}

func (e *Err) Is(target error) bool {
	return e.Errno.Is(target)
}

// Decode tries to convert an error to Errno
func Decode(err error) (int, string) {
	if err == nil {
		return OK.Code, OK.Message
	}

	var wrapped *Err
	if errors.As(err, &wrapped) {
		return wrapped.Code, wrapped.Error()
	}

	switch typed := err.(type) {
	case *Errno:
		return typed.Code, typed.Message
	case Errno:
		return typed.Code, typed.Message
	}

	// 例如校验失败 (*validation.Violation) 包装的 Errno
	var base Errno
	if errors.As(err, &base) {
		return base.Code, err.Error()
	}
	return InternalServerError.Code, err.Error()
}

// Retryable 可以用当前最新的事实重新走一遍流程
func Retryable(err error) bool {
	for _, e := range []Errno{ErrFeeEstimation, ErrFeeNotReceived, ErrEncoding, ErrSigning, ErrConnection} {
		if errors.Is(err, e) {
			return true
		}
	}
	return false
}

// Common Errors
var (
	OK                  = Errno{Code: 0, Message: "Success"}
	InternalServerError = Errno{Code: 10001, Message: "Internal server error"}
	ErrBind             = Errno{Code: 10002, Message: "Error occurred while binding the request body to the struct"}
	ErrNotFound         = Errno{Code: 10004, Message: "Resource not found"}
)

// 事实接入 (30000+)
var (
	ErrFactIngestion = Errno{Code: 30001, Message: "Malformed staking fact"}
)

// 校验
var (
	ErrValidationFailure  = Errno{Code: 30101, Message: "Validation failed"}
	ErrValidationWarning  = Errno{Code: 30102, Message: "Validation warning"}
	ErrFeeNotReceived     = Errno{Code: 30103, Message: "Fee is not available yet"}
	ErrCannotPayFee       = Errno{Code: 30104, Message: "Not enough transferable balance to pay the fee"}
	ErrExistentialDeposit = Errno{Code: 30105, Message: "Account would drop below existential deposit"}
	ErrUnprofitable       = Errno{Code: 30106, Message: "Fee exceeds claimable rewards"}
	ErrNotEnoughBalance   = Errno{Code: 30107, Message: "Not enough transferable balance"}
	ErrUnbondTooMuch      = Errno{Code: 30108, Message: "Amount exceeds active stake"}
)

// 手续费估算
var (
	ErrFeeEstimation = Errno{Code: 30201, Message: "Fee estimation failed"}
	ErrFeeSuperseded = Errno{Code: 30202, Message: "Fee estimation superseded by a newer request"}
	ErrFeeStale      = Errno{Code: 30203, Message: "Fee quote is stale"}
)

// 提交
var (
	ErrEncoding      = Errno{Code: 30301, Message: "Call encoding failed"}
	ErrSigning       = Errno{Code: 30302, Message: "Signing failed"}
	ErrConnection    = Errno{Code: 30303, Message: "Chain connection failed"}
	ErrChainRejected = Errno{Code: 30304, Message: "Extrinsic rejected by chain"}
	ErrDropped       = Errno{Code: 30305, Message: "Extrinsic dropped from pool"}
)

// 状态
var (
	ErrStateInconsistency  = Errno{Code: 30401, Message: "Staking state inconsistency"}
	ErrActionInFlight      = Errno{Code: 30402, Message: "Another action is in flight for this account"}
	ErrDuplicateSubmission = Errno{Code: 30403, Message: "Submission already delivered"}
	ErrUnsupportedAction   = Errno{Code: 30404, Message: "Action not supported for staking program"}
)
