package validation

import (
	"context"
	"fmt"

	"github.com/shopspring/decimal"

	"staking-core/pkg/errno"
)

// Confirmer 警告的用户确认入口，返回 true 表示 "仍然继续"
type Confirmer interface {
	Confirm(ctx context.Context, v *Violation) bool
}

// Blocker 展示阻断性失败 (只能重试或取消)
type Blocker interface {
	Block(ctx context.Context, v *Violation)
}

type ConfirmFunc func(ctx context.Context, v *Violation) bool

func (f ConfirmFunc) Confirm(ctx context.Context, v *Violation) bool { return f(ctx, v) }

type BlockFunc func(ctx context.Context, v *Violation)

func (f BlockFunc) Block(ctx context.Context, v *Violation) { f(ctx, v) }

// Hooks 恢复动作依赖的外部回调，均可为 nil
// Confirmer 为 nil 时警告视为拒绝
type Hooks struct {
	Confirmer  Confirmer
	Blocker    Blocker
	RefreshFee func(ctx context.Context)
}

func (h Hooks) confirm(ctx context.Context, v *Violation) bool {
	if h.Confirmer == nil {
		return false
	}
	return h.Confirmer.Confirm(ctx, v)
}

func (h Hooks) block(ctx context.Context, v *Violation) {
	if h.Blocker != nil {
		h.Blocker.Block(ctx, v)
	}
}

// FeeFunc 每次校验时读取当前有效的手续费，保证读到的不是过期报价
type FeeFunc func() (decimal.Decimal, bool)

// check 目录里所有校验器的公共实现
type check struct {
	name     string
	validate func(ctx context.Context) *Violation
	recover  func(ctx context.Context, v *Violation) bool
}

func (c *check) Name() string { return c.name }

func (c *check) Validate(ctx context.Context) *Violation { return c.validate(ctx) }

func (c *check) Recover(ctx context.Context, v *Violation) bool { return c.recover(ctx, v) }

func failure(h Hooks) func(ctx context.Context, v *Violation) bool {
	return func(ctx context.Context, v *Violation) bool {
		h.block(ctx, v)
		return false
	}
}

func warning(h Hooks) func(ctx context.Context, v *Violation) bool {
	return h.confirm
}

// FeePresent 手续费还没拿到: 触发刷新，不提示用户
func FeePresent(fee FeeFunc, h Hooks) Validator {
	return &check{
		name: "fee_present",
		validate: func(ctx context.Context) *Violation {
			if _, ok := fee(); ok {
				return nil
			}
			return &Violation{Code: errno.ErrFeeNotReceived, Severity: SeverityFailure, Reason: "fee has not been estimated"}
		},
		recover: func(ctx context.Context, v *Violation) bool {
			if h.RefreshFee != nil {
				h.RefreshFee(ctx)
			}
			return false
		},
	}
}

// CanPayFee fee <= 可转账余额
func CanPayFee(fee FeeFunc, transferable decimal.Decimal, h Hooks) Validator {
	return &check{
		name: "can_pay_fee",
		validate: func(ctx context.Context) *Violation {
			amount, ok := fee()
			if !ok || amount.LessThanOrEqual(transferable) {
				return nil
			}
			return &Violation{
				Code:      errno.ErrCannotPayFee,
				Severity:  SeverityFailure,
				Reason:    fmt.Sprintf("fee %s exceeds transferable %s", amount, transferable),
				Required:  amount,
				Available: transferable,
			}
		},
		recover: failure(h),
	}
}

// ExistentialDepositKept 扣除手续费和支出后 free 余额低于 ED 会导致账户被回收
func ExistentialDepositKept(fee FeeFunc, spend, free, existentialDeposit decimal.Decimal, h Hooks) Validator {
	return &check{
		name: "existential_deposit_kept",
		validate: func(ctx context.Context) *Violation {
			amount, _ := fee()
			left := free.Sub(spend).Sub(amount)
			if left.GreaterThanOrEqual(existentialDeposit) {
				return nil
			}
			return &Violation{
				Code:      errno.ErrExistentialDeposit,
				Severity:  SeverityWarning,
				Reason:    fmt.Sprintf("balance after action %s is below existential deposit %s", left, existentialDeposit),
				Required:  existentialDeposit,
				Available: left,
			}
		},
		recover: warning(h),
	}
}

// ProfitableClaim rewards - fee > 0
func ProfitableClaim(fee FeeFunc, rewards decimal.Decimal, h Hooks) Validator {
	return &check{
		name: "profitable_claim",
		validate: func(ctx context.Context) *Violation {
			amount, _ := fee()
			if rewards.Sub(amount).IsPositive() {
				return nil
			}
			return &Violation{
				Code:      errno.ErrUnprofitable,
				Severity:  SeverityWarning,
				Reason:    fmt.Sprintf("fee %s is not lower than rewards %s", amount, rewards),
				Required:  amount,
				Available: rewards,
			}
		},
		recover: warning(h),
	}
}

// NonEmptyKeys collator 集合为空时不能构造赎回
func NonEmptyKeys(keys []string, h Hooks) Validator {
	return &check{
		name: "non_empty_keys",
		validate: func(ctx context.Context) *Violation {
			if len(keys) > 0 {
				return nil
			}
			return &Violation{Code: errno.ErrStateInconsistency, Severity: SeverityFailure, Reason: "no collators to execute requests for"}
		},
		recover: failure(h),
	}
}

// EnoughToStake amount + fee <= 可转账余额
func EnoughToStake(fee FeeFunc, amount, transferable decimal.Decimal, h Hooks) Validator {
	return &check{
		name: "enough_to_stake",
		validate: func(ctx context.Context) *Violation {
			f, _ := fee()
			need := amount.Add(f)
			if need.LessThanOrEqual(transferable) {
				return nil
			}
			return &Violation{
				Code:      errno.ErrNotEnoughBalance,
				Severity:  SeverityFailure,
				Reason:    fmt.Sprintf("need %s, transferable %s", need, transferable),
				Required:  need,
				Available: transferable,
			}
		},
		recover: failure(h),
	}
}

// UnbondWithinActive 解绑金额不超过活跃质押
func UnbondWithinActive(amount, active decimal.Decimal, h Hooks) Validator {
	return &check{
		name: "unbond_within_active",
		validate: func(ctx context.Context) *Violation {
			if amount.LessThanOrEqual(active) {
				return nil
			}
			return &Violation{
				Code:      errno.ErrUnbondTooMuch,
				Severity:  SeverityFailure,
				Reason:    fmt.Sprintf("unbond %s exceeds active %s", amount, active),
				Required:  amount,
				Available: active,
			}
		},
		recover: failure(h),
	}
}
