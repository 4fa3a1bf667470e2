package staking

import (
	"fmt"
	"sort"
	"strings"

	"github.com/shopspring/decimal"

	"staking-core/pkg/crypto_util"
	"staking-core/pkg/errno"
)

// ---------------------------------------------------------------------------
// 逻辑调用描述，线上编码由 CallEncoder 负责
// ---------------------------------------------------------------------------

// Compact SCALE compact 编码的余额
type Compact struct{ decimal.Decimal }

// U128 定长 128 位余额
type U128 struct{ decimal.Decimal }

// AccountArg MultiAddress::Id 形式的账户参数
type AccountArg string

// RawAccount 裸 AccountId 参数
type RawAccount string

// Variant 枚举参数，Value 为 nil 表示无载荷
type Variant struct {
	Index uint8
	Name  string
	Value any
}

type Arg struct {
	Name  string
	Value any
}

type Call struct {
	Module   string
	Function string
	Args     []Arg
}

func (c Call) String() string {
	parts := make([]string, 0, len(c.Args))
	for _, a := range c.Args {
		parts = append(parts, a.Name+"="+canonical(a.Value))
	}
	return fmt.Sprintf("%s.%s(%s)", c.Module, c.Function, strings.Join(parts, ";"))
}

func canonical(v any) string {
	switch x := v.(type) {
	case nil:
		return "()"
	case Compact:
		return "c" + x.String()
	case U128:
		return "u" + x.String()
	case uint32:
		return fmt.Sprintf("%d", x)
	case AccountArg:
		return "@" + string(x)
	case RawAccount:
		return "#" + string(x)
	case Variant:
		return fmt.Sprintf("%s[%d](%s)", x.Name, x.Index, canonical(x.Value))
	default:
		return fmt.Sprintf("%v", x)
	}
}

// ---------------------------------------------------------------------------
// ClaimRequest
// ---------------------------------------------------------------------------

type Operation int

const (
	OpClaim Operation = iota
	OpRedeem
	OpBondExtra
	OpUnbond
)

func (o Operation) String() string {
	switch o {
	case OpRedeem:
		return "redeem"
	case OpBondExtra:
		return "bond_extra"
	case OpUnbond:
		return "unbond"
	default:
		return "claim"
	}
}

// ClaimStrategy 提名池领取方式
type ClaimStrategy int

const (
	StrategyRestake ClaimStrategy = iota
	StrategyFree
)

func (s ClaimStrategy) String() string {
	if s == StrategyFree {
		return "free"
	}
	return "restake"
}

// ClaimRequest 构造后不可变，只用于一次提交
type ClaimRequest struct {
	key        FactKey
	op         Operation
	strategy   ClaimStrategy
	amount     decimal.Decimal
	rewards    decimal.Decimal
	keys       []string
	calls      []Call
	identifier string
}

func newRequest(key FactKey, op Operation, strategy ClaimStrategy, amount, rewards decimal.Decimal, keys []string, calls []Call) *ClaimRequest {
	r := &ClaimRequest{
		key:      key,
		op:       op,
		strategy: strategy,
		amount:   amount,
		rewards:  rewards,
		keys:     cloneSlice(keys),
		calls:    calls,
	}
	r.identifier = r.reuseIdentifier()
	return r
}

func (r *ClaimRequest) Key() FactKey             { return r.key }
func (r *ClaimRequest) Operation() Operation     { return r.op }
func (r *ClaimRequest) Strategy() ClaimStrategy  { return r.strategy }
func (r *ClaimRequest) Amount() decimal.Decimal  { return r.amount }
func (r *ClaimRequest) Rewards() decimal.Decimal { return r.rewards }
func (r *ClaimRequest) Keys() []string           { return cloneSlice(r.keys) }
func (r *ClaimRequest) Calls() []Call            { return cloneSlice(r.calls) }
func (r *ClaimRequest) ReuseIdentifier() string  { return r.identifier }

// Scope 同一账户同一操作的估算互相取代
func (r *ClaimRequest) Scope() string {
	return r.key.String() + "/" + r.op.String()
}

// reuseIdentifier <program>:<op>:blake3(规范化载荷)
// 策略切换、可赎回集合变化都会得到新的标识
func (r *ClaimRequest) reuseIdentifier() string {
	var b strings.Builder
	b.WriteString(r.key.String())
	b.WriteString("|")
	b.WriteString(r.strategy.String())
	for _, c := range r.calls {
		b.WriteString("|")
		b.WriteString(c.String())
	}
	return fmt.Sprintf("%s:%s:%s", r.key.Program, r.op, crypto_util.CalculateBlake3([]byte(b.String())))
}

// ---------------------------------------------------------------------------
// 各质押方式的请求构造
// ---------------------------------------------------------------------------

func requireStaking(s State) (Common, error) {
	if s == nil || s.Kind() == KindUninitialized {
		return Common{}, errno.Wrapf(errno.ErrStateInconsistency, "account is not staking")
	}
	return s.Base(), nil
}

// BuildClaim 领取奖励
func BuildClaim(s State, f Facts, strategy ClaimStrategy) (*ClaimRequest, error) {
	c, err := requireStaking(s)
	if err != nil {
		return nil, err
	}
	key := c.Key

	switch key.Program {
	case DirectNomination:
		rewards, _ := f.ClaimableRewards.Value()
		payouts := cloneSlice(rewards.Payouts)
		if len(payouts) == 0 {
			return nil, errno.Wrapf(errno.ErrStateInconsistency, "no pending payouts")
		}
		sort.SliceStable(payouts, func(i, j int) bool {
			if payouts[i].Era != payouts[j].Era {
				return payouts[i].Era < payouts[j].Era
			}
			return payouts[i].Validator < payouts[j].Validator
		})
		total := decimal.Zero
		keys := make([]string, 0, len(payouts))
		calls := make([]Call, 0, len(payouts))
		for _, p := range payouts {
			total = total.Add(p.Amount)
			keys = append(keys, fmt.Sprintf("%s@%d", p.Validator, p.Era))
			calls = append(calls, Call{Module: "Staking", Function: "payout_stakers", Args: []Arg{
				{Name: "validator_stash", Value: RawAccount(p.Validator)},
				{Name: "era", Value: p.Era},
			}})
		}
		return newRequest(key, OpClaim, strategy, total, total, keys, calls), nil

	case NominationPool:
		if !c.Claimable.IsPositive() {
			return nil, errno.Wrapf(errno.ErrStateInconsistency, "nothing to claim")
		}
		call := Call{Module: "NominationPools", Function: "claim_payout"}
		if strategy == StrategyRestake {
			call = Call{Module: "NominationPools", Function: "bond_extra", Args: []Arg{
				{Name: "extra", Value: Variant{Index: 1, Name: "Rewards"}},
			}}
		}
		return newRequest(key, OpClaim, strategy, c.Claimable, c.Claimable, nil, []Call{call}), nil

	case CollatorDelegation:
		if !c.Claimable.IsPositive() {
			return nil, errno.Wrapf(errno.ErrStateInconsistency, "nothing to claim")
		}
		call := Call{Module: "CollatorStaking", Function: "claim_rewards"}
		return newRequest(key, OpClaim, strategy, c.Claimable, c.Claimable, TargetsOf(s), []Call{call}), nil
	}
	return nil, errno.Wrapf(errno.ErrUnsupportedAction, "claim on %s", key.Program)
}

// BuildRedeem 赎回已到期的解绑
// 没有可赎回条目时直接返回 StateInconsistency，绝不构造空交易
func BuildRedeem(s State, f Facts) (*ClaimRequest, error) {
	c, err := requireStaking(s)
	if err != nil {
		return nil, err
	}
	r := c.Redeem
	if r.IsEmpty() {
		return nil, errno.Wrapf(errno.ErrStateInconsistency, "nothing to redeem")
	}
	key := c.Key
	if key.Program.Keyed() && len(r.Keys) == 0 {
		return nil, errno.Wrapf(errno.ErrStateInconsistency, "redeemable %s without collators", r.Amount)
	}

	var calls []Call
	switch key.Program {
	case DirectNomination:
		calls = []Call{{Module: "Staking", Function: "withdraw_unbonded", Args: []Arg{
			{Name: "num_slashing_spans", Value: uint32(0)},
		}}}
	case NominationPool:
		calls = []Call{{Module: "NominationPools", Function: "withdraw_unbonded", Args: []Arg{
			{Name: "member_account", Value: AccountArg(key.Account)},
			{Name: "num_slashing_spans", Value: uint32(0)},
		}}}
	case ParachainDelegation:
		for _, collator := range r.Keys {
			calls = append(calls, Call{Module: "ParachainStaking", Function: "execute_delegation_request", Args: []Arg{
				{Name: "delegator", Value: RawAccount(key.Account)},
				{Name: "candidate", Value: RawAccount(collator)},
			}})
		}
	case CollatorDelegation:
		for _, collator := range r.Keys {
			calls = append(calls, Call{Module: "CollatorStaking", Function: "unstake_from", Args: []Arg{
				{Name: "account", Value: RawAccount(collator)},
			}})
		}
		calls = append(calls, Call{Module: "CollatorStaking", Function: "release"})
	default:
		return nil, errno.Wrapf(errno.ErrUnsupportedAction, "redeem on %s", key.Program)
	}
	return newRequest(key, OpRedeem, StrategyFree, r.Amount, decimal.Zero, r.Keys, calls), nil
}

// BuildBondExtra 追加质押，平行链需要指定 collator
func BuildBondExtra(s State, f Facts, amount decimal.Decimal, collator string) (*ClaimRequest, error) {
	c, err := requireStaking(s)
	if err != nil {
		return nil, err
	}
	if !amount.IsPositive() {
		return nil, errno.Wrapf(errno.ErrValidationFailure, "amount must be positive, got %s", amount)
	}
	key := c.Key

	var call Call
	switch key.Program {
	case DirectNomination:
		call = Call{Module: "Staking", Function: "bond_extra", Args: []Arg{
			{Name: "max_additional", Value: Compact{amount}},
		}}
	case NominationPool:
		call = Call{Module: "NominationPools", Function: "bond_extra", Args: []Arg{
			{Name: "extra", Value: Variant{Index: 0, Name: "FreeBalance", Value: U128{amount}}},
		}}
	case ParachainDelegation:
		if err := requireTarget(s, collator); err != nil {
			return nil, err
		}
		call = Call{Module: "ParachainStaking", Function: "delegator_bond_more", Args: []Arg{
			{Name: "candidate", Value: RawAccount(collator)},
			{Name: "more", Value: U128{amount}},
		}}
	case CollatorDelegation:
		call = Call{Module: "CollatorStaking", Function: "lock", Args: []Arg{
			{Name: "amount", Value: U128{amount}},
		}}
	default:
		return nil, errno.Wrapf(errno.ErrUnsupportedAction, "bond extra on %s", key.Program)
	}
	return newRequest(key, OpBondExtra, StrategyFree, amount, decimal.Zero, nonEmpty(collator), []Call{call}), nil
}

// BuildUnbond 解绑，提名池按 points 折算
func BuildUnbond(s State, f Facts, amount decimal.Decimal, collator string) (*ClaimRequest, error) {
	c, err := requireStaking(s)
	if err != nil {
		return nil, err
	}
	if !amount.IsPositive() {
		return nil, errno.Wrapf(errno.ErrValidationFailure, "amount must be positive, got %s", amount)
	}
	key := c.Key

	var call Call
	switch key.Program {
	case DirectNomination:
		call = Call{Module: "Staking", Function: "unbond", Args: []Arg{
			{Name: "value", Value: Compact{amount}},
		}}
	case NominationPool:
		points := amount
		if pos := PositionOf(s); pos.Pool != nil && pos.Pool.Bonded.IsPositive() {
			points = amount.Mul(pos.Pool.Points).Div(pos.Pool.Bonded).Truncate(0)
		}
		call = Call{Module: "NominationPools", Function: "unbond", Args: []Arg{
			{Name: "member_account", Value: AccountArg(key.Account)},
			{Name: "unbonding_points", Value: Compact{points}},
		}}
	case ParachainDelegation:
		if err := requireTarget(s, collator); err != nil {
			return nil, err
		}
		call = Call{Module: "ParachainStaking", Function: "schedule_delegator_bond_less", Args: []Arg{
			{Name: "candidate", Value: RawAccount(collator)},
			{Name: "less", Value: U128{amount}},
		}}
	case CollatorDelegation:
		call = Call{Module: "CollatorStaking", Function: "unlock", Args: []Arg{
			{Name: "maybe_amount", Value: Variant{Index: 1, Name: "Some", Value: U128{amount}}},
		}}
	default:
		return nil, errno.Wrapf(errno.ErrUnsupportedAction, "unbond on %s", key.Program)
	}
	return newRequest(key, OpUnbond, StrategyFree, amount, decimal.Zero, nonEmpty(collator), []Call{call}), nil
}

func requireTarget(s State, collator string) error {
	if collator == "" {
		return errno.Wrapf(errno.ErrValidationFailure, "collator is required")
	}
	for _, t := range TargetsOf(s) {
		if t == collator {
			return nil
		}
	}
	return errno.Wrapf(errno.ErrValidationFailure, "not delegating to collator %s", collator)
}

func nonEmpty(s string) []string {
	if s == "" {
		return nil
	}
	return []string{s}
}
