package claim

import (
	"context"
	"errors"

	"github.com/shopspring/decimal"
	"go.uber.org/zap"

	"staking-core/internal/service/fee"
	"staking-core/internal/service/observer"
	"staking-core/internal/service/submission"
	"staking-core/internal/service/validation"
	"staking-core/internal/staking"
	"staking-core/pkg/errno"
	"staking-core/pkg/logger"
)

// SnapshotReader 最近一次重建的快照，*observer.FactObserver 实现它
type SnapshotReader interface {
	Latest(key staking.FactKey) (observer.Snapshot, bool)
}

// FeeQuoter *fee.Cache 实现它
type FeeQuoter interface {
	EstimateFee(ctx context.Context, req fee.Request) (fee.Quote, error)
	Current(chain, identifier string) (fee.Quote, bool)
	Invalidate(identifier string)
	Release(scope string)
}

// Submitter *submission.Monitor 实现它
type Submitter interface {
	Submit(ctx context.Context, sub submission.Submission) (*submission.Handle, error)
}

type Config struct {
	// 默认只有提名池领取检查 "奖励 - 手续费 > 0"，打开后直接提名和 Mythos 领取也检查
	ProfitCheckAllClaims bool
}

// Result 一次操作的执行记录
// Handle 为 nil 表示没有提交 (校验被阻断)
type Result struct {
	Request    *staking.ClaimRequest
	Quote      fee.Quote
	Validation validation.Result
	Handle     *submission.Handle
}

// Service 领取 / 赎回 / 追加 / 解绑的流水线:
// 快照 -> 构造请求 -> 估算手续费 -> 校验 -> 提交
type Service struct {
	snapshots SnapshotReader
	fees      FeeQuoter
	submitter Submitter
	cfg       Config
	log       *zap.Logger
}

func NewService(snapshots SnapshotReader, fees FeeQuoter, submitter Submitter, cfg Config) *Service {
	return &Service{
		snapshots: snapshots,
		fees:      fees,
		submitter: submitter,
		cfg:       cfg,
		log:       logger.Named("claim"),
	}
}

// snapshot 只有非 informational 的快照可以用来发起操作
func (s *Service) snapshot(key staking.FactKey) (observer.Snapshot, error) {
	snap, ok := s.snapshots.Latest(key)
	if !ok {
		return observer.Snapshot{}, errno.Wrapf(errno.ErrStateInconsistency, "no staking state for %s", key)
	}
	if snap.Informational {
		return observer.Snapshot{}, errno.Wrapf(errno.ErrActionInFlight, "account %s has a submission in flight", key.AccountKey)
	}
	return snap, nil
}

// ClaimRewards 领取奖励，strategy 只对提名池有意义
func (s *Service) ClaimRewards(ctx context.Context, key staking.FactKey, strategy staking.ClaimStrategy, hooks validation.Hooks) (Result, error) {
	snap, err := s.snapshot(key)
	if err != nil {
		return Result{}, err
	}
	req, err := staking.BuildClaim(snap.State, snap.Facts, strategy)
	if err != nil {
		return Result{}, err
	}

	profit := key.Program == staking.NominationPool || s.cfg.ProfitCheckAllClaims
	return s.run(ctx, snap, req, hooks, func(quoted validation.FeeFunc, h validation.Hooks) []validation.Validator {
		bal := balance(snap.Facts)
		list := []validation.Validator{
			validation.FeePresent(quoted, h),
			validation.CanPayFee(quoted, bal.Transferable, h),
			validation.ExistentialDepositKept(quoted, decimal.Zero, bal.Free, existentialDeposit(snap.Facts), h),
		}
		if profit {
			list = append(list, validation.ProfitableClaim(quoted, req.Rewards(), h))
		}
		return list
	})
}

// Redeem 赎回已到期的解绑
// 可赎回集合为空时直接返回 StateInconsistency，不估算手续费也不提交
func (s *Service) Redeem(ctx context.Context, key staking.FactKey, hooks validation.Hooks) (Result, error) {
	snap, err := s.snapshot(key)
	if err != nil {
		return Result{}, err
	}
	if snap.State.Base().Redeem.IsEmpty() {
		return Result{}, errno.Wrapf(errno.ErrStateInconsistency, "nothing to redeem for %s", key)
	}
	req, err := staking.BuildRedeem(snap.State, snap.Facts)
	if err != nil {
		return Result{}, err
	}

	return s.run(ctx, snap, req, hooks, func(quoted validation.FeeFunc, h validation.Hooks) []validation.Validator {
		bal := balance(snap.Facts)
		list := []validation.Validator{validation.FeePresent(quoted, h)}
		if key.Program.Keyed() {
			list = append(list, validation.NonEmptyKeys(req.Keys(), h))
		}
		return append(list,
			validation.CanPayFee(quoted, bal.Transferable, h),
			validation.ExistentialDepositKept(quoted, decimal.Zero, bal.Free, existentialDeposit(snap.Facts), h),
		)
	})
}

// BondExtra 追加质押，平行链委托需要指定 collator
func (s *Service) BondExtra(ctx context.Context, key staking.FactKey, amount decimal.Decimal, collator string, hooks validation.Hooks) (Result, error) {
	snap, err := s.snapshot(key)
	if err != nil {
		return Result{}, err
	}
	req, err := staking.BuildBondExtra(snap.State, snap.Facts, amount, collator)
	if err != nil {
		return Result{}, err
	}

	return s.run(ctx, snap, req, hooks, func(quoted validation.FeeFunc, h validation.Hooks) []validation.Validator {
		bal := balance(snap.Facts)
		return []validation.Validator{
			validation.FeePresent(quoted, h),
			validation.EnoughToStake(quoted, amount, bal.Transferable, h),
			validation.ExistentialDepositKept(quoted, amount, bal.Free, existentialDeposit(snap.Facts), h),
		}
	})
}

// Unbond 解绑，金额不能超过活跃质押
func (s *Service) Unbond(ctx context.Context, key staking.FactKey, amount decimal.Decimal, collator string, hooks validation.Hooks) (Result, error) {
	snap, err := s.snapshot(key)
	if err != nil {
		return Result{}, err
	}
	req, err := staking.BuildUnbond(snap.State, snap.Facts, amount, collator)
	if err != nil {
		return Result{}, err
	}

	return s.run(ctx, snap, req, hooks, func(quoted validation.FeeFunc, h validation.Hooks) []validation.Validator {
		bal := balance(snap.Facts)
		return []validation.Validator{
			validation.FeePresent(quoted, h),
			validation.CanPayFee(quoted, bal.Transferable, h),
			validation.UnbondWithinActive(amount, snap.State.Base().Active, h),
			validation.ExistentialDepositKept(quoted, decimal.Zero, bal.Free, existentialDeposit(snap.Facts), h),
		}
	})
}

type catalogFunc func(quoted validation.FeeFunc, h validation.Hooks) []validation.Validator

func (s *Service) run(ctx context.Context, snap observer.Snapshot, req *staking.ClaimRequest, hooks validation.Hooks, catalog catalogFunc) (Result, error) {
	res := Result{Request: req}
	chain := req.Key().Chain
	id := req.ReuseIdentifier()
	log := s.log.With(zap.String("key", req.Key().String()), zap.String("identifier", id))
	defer s.fees.Release(req.Scope())

	quote, err := s.fees.EstimateFee(ctx, fee.RequestFor(req))
	switch {
	case err == nil:
		res.Quote = quote
	case errors.Is(err, errno.ErrFeeSuperseded), errors.Is(err, errno.ErrFeeStale), ctx.Err() != nil:
		return res, err
	default:
		// 交给 FeePresent 处理: 它的恢复动作会触发刷新
		log.Warn("fee estimation failed", zap.Error(err))
	}

	// 校验时重新读取，拿到的一定是当前 epoch 的报价
	feeFn := func() (decimal.Decimal, bool) {
		q, ok := s.fees.Current(chain, id)
		return q.Amount, ok
	}
	h := hooks
	h.RefreshFee = func(ctx context.Context) {
		s.fees.Invalidate(id)
		if hooks.RefreshFee != nil {
			hooks.RefreshFee(ctx)
		}
	}

	res.Validation, err = validation.Run(ctx, catalog(feeFn, h), func(ctx context.Context) error {
		handle, err := s.submitter.Submit(ctx, submission.Submission{Request: req, Epoch: res.Quote.Epoch})
		if err != nil {
			return err
		}
		res.Handle = handle
		return nil
	})
	if err != nil {
		return res, err
	}
	log.Info("submitted",
		zap.String("operation", req.Operation().String()),
		zap.String("submission", res.Handle.ID()),
		zap.Int("version", int(snap.Version)),
	)
	return res, nil
}

func balance(f staking.Facts) staking.Balance {
	b, _ := f.Balance.Value()
	return b
}

func existentialDeposit(f staking.Facts) decimal.Decimal {
	ed, _ := f.ExistentialDeposit.Value()
	return ed
}
