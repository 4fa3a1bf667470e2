package validation

import (
	"context"
	"fmt"

	"github.com/shopspring/decimal"
	"go.uber.org/zap"

	"staking-core/pkg/errno"
	"staking-core/pkg/logger"
)

// Severity 失败阻断流程；警告可以由用户确认后继续
type Severity int

const (
	SeverityFailure Severity = iota
	SeverityWarning
)

func (s Severity) String() string {
	if s == SeverityWarning {
		return "warning"
	}
	return "failure"
}

// Violation 单个校验器的失败结果，带上涉及的金额方便展示
type Violation struct {
	Code      errno.Errno
	Severity  Severity
	Validator string
	Reason    string
	Required  decimal.Decimal
	Available decimal.Decimal
}

func (v *Violation) Error() string {
	return fmt.Sprintf("%s (%s): %s", v.Code.Message, v.Validator, v.Reason)
}

// Details 接口返回体里的 data
func (v *Violation) Details() any {
	return map[string]any{
		"validator": v.Validator,
		"severity":  v.Severity.String(),
		"reason":    v.Reason,
		"required":  v.Required,
		"available": v.Available,
	}
}

// Unwrap 让 errors.Is(err, errno.ErrCannotPayFee) 成立
func (v *Violation) Unwrap() error {
	return v.Code
}

// Validator 一个校验谓词加一个恢复动作
type Validator interface {
	Name() string
	// Validate 通过时返回 nil
	Validate(ctx context.Context) *Violation
	// Recover 在 Validate 失败后调用，返回 true 表示继续执行 (仅对已确认的警告有效)
	Recover(ctx context.Context, v *Violation) bool
}

// Result Run 的执行记录
type Result struct {
	Passed bool
	// 用户确认后放行的警告
	Overridden []*Violation
	// 阻断流程的校验器
	Stopped *Violation
}

// Run 按声明顺序执行校验器
// 全部通过时调用 onSuccess；第一个阻断的失败只调用它自己的恢复动作，之后的校验器不再执行
// onSuccess 和阻断恢复二者恰好发生一个
func Run(ctx context.Context, validators []Validator, onSuccess func(ctx context.Context) error) (Result, error) {
	log := logger.Named("validation")
	var res Result

	for _, v := range validators {
		if err := ctx.Err(); err != nil {
			return res, err
		}
		viol := v.Validate(ctx)
		if viol == nil {
			continue
		}
		if viol.Validator == "" {
			viol.Validator = v.Name()
		}

		proceed := v.Recover(ctx, viol)
		if proceed && viol.Severity == SeverityWarning {
			log.Info("warning overridden", zap.String("validator", viol.Validator), zap.String("reason", viol.Reason))
			res.Overridden = append(res.Overridden, viol)
			continue
		}

		log.Info("validation stopped",
			zap.String("validator", viol.Validator),
			zap.Stringer("severity", viol.Severity),
			zap.String("reason", viol.Reason),
		)
		res.Stopped = viol
		return res, viol
	}

	res.Passed = true
	if onSuccess == nil {
		return res, nil
	}
	return res, onSuccess(ctx)
}
