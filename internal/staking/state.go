package staking

import (
	"fmt"

	"github.com/shopspring/decimal"
)

// Kind 状态变体
type Kind int

const (
	KindUninitialized Kind = iota
	KindPendingBonding
	KindBonded
	KindPendingNomination
	KindNominating
	KindPendingValidating
	KindValidating
)

var kindNames = [...]string{
	"uninitialized",
	"pending_bonding",
	"bonded",
	"pending_nomination",
	"nominating",
	"pending_validating",
	"validating",
}

func (k Kind) String() string {
	if int(k) >= 0 && int(k) < len(kindNames) {
		return kindNames[k]
	}
	return fmt.Sprintf("kind(%d)", int(k))
}

func (k Kind) MarshalText() ([]byte, error) { return []byte(k.String()), nil }

// ViewStatus 提名在当前 era/round 的展示状态
type ViewStatus int

const (
	StatusInactive ViewStatus = iota
	StatusActive
	StatusWaiting
)

func (s ViewStatus) String() string {
	switch s {
	case StatusActive:
		return "active"
	case StatusWaiting:
		return "waiting"
	default:
		return "inactive"
	}
}

func (s ViewStatus) MarshalText() ([]byte, error) { return []byte(s.String()), nil }

type UninitReason int

const (
	ReasonLoading UninitReason = iota
	ReasonNotStaking
)

func (r UninitReason) String() string {
	if r == ReasonNotStaking {
		return "not_staking"
	}
	return "loading"
}

func (r UninitReason) MarshalText() ([]byte, error) { return []byte(r.String()), nil }

// State 封闭的状态变体集合，只有本包内的类型实现
type State interface {
	Kind() Kind
	Base() Common
	sealed()
}

// Common 所有变体共有的部分
type Common struct {
	Key       FactKey            `json:"key"`
	Status    ViewStatus         `json:"status"`
	Active    decimal.Decimal    `json:"active"`
	Claimable decimal.Decimal    `json:"claimable"`
	Redeem    Redeemable         `json:"redeemable"`
	Unbonding []PendingUnbonding `json:"unbonding,omitempty"`
	// 成员和池 / collator 的奖励计数器相等，需要上游刷新奖励数据
	RefreshRewards bool `json:"refresh_rewards,omitempty"`
}

// Position 各质押方式的持仓明细，只有对应方式的字段有值
type Position struct {
	Ledger      *Ledger      `json:"ledger,omitempty"`
	Member      *PoolMember  `json:"member,omitempty"`
	Pool        *RewardPool  `json:"pool,omitempty"`
	Delegations []Delegation `json:"delegations,omitempty"`
}

type Uninitialized struct {
	Common
	Reason UninitReason `json:"reason"`
}

type PendingBonding struct {
	Common
	Position Position `json:"position"`
}

type Bonded struct {
	Common
	Position Position  `json:"position"`
	Round    RoundInfo `json:"round"`
}

type PendingNomination struct {
	Common
	Position Position `json:"position"`
	Targets  []string `json:"targets"`
}

type Nominating struct {
	Common
	Position Position  `json:"position"`
	Targets  []string  `json:"targets"`
	Round    RoundInfo `json:"round"`
}

type PendingValidating struct {
	Common
	Position Position       `json:"position"`
	Prefs    ValidatorPrefs `json:"prefs"`
}

type Validating struct {
	Common
	Position Position       `json:"position"`
	Prefs    ValidatorPrefs `json:"prefs"`
	Round    RoundInfo      `json:"round"`
	Elected  bool           `json:"elected"`
}

func (Uninitialized) Kind() Kind     { return KindUninitialized }
func (PendingBonding) Kind() Kind    { return KindPendingBonding }
func (Bonded) Kind() Kind            { return KindBonded }
func (PendingNomination) Kind() Kind { return KindPendingNomination }
func (Nominating) Kind() Kind        { return KindNominating }
func (PendingValidating) Kind() Kind { return KindPendingValidating }
func (Validating) Kind() Kind        { return KindValidating }

func (s Uninitialized) Base() Common     { return s.Common }
func (s PendingBonding) Base() Common    { return s.Common }
func (s Bonded) Base() Common            { return s.Common }
func (s PendingNomination) Base() Common { return s.Common }
func (s Nominating) Base() Common        { return s.Common }
func (s PendingValidating) Base() Common { return s.Common }
func (s Validating) Base() Common        { return s.Common }

func (Uninitialized) sealed()     {}
func (PendingBonding) sealed()    {}
func (Bonded) sealed()            {}
func (PendingNomination) sealed() {}
func (Nominating) sealed()        {}
func (PendingValidating) sealed() {}
func (Validating) sealed()        {}

// PositionOf 取出状态里的持仓，Uninitialized 返回零值
func PositionOf(s State) Position {
	switch v := s.(type) {
	case PendingBonding:
		return v.Position
	case Bonded:
		return v.Position
	case PendingNomination:
		return v.Position
	case Nominating:
		return v.Position
	case PendingValidating:
		return v.Position
	case Validating:
		return v.Position
	}
	return Position{}
}

// TargetsOf 提名目标 / 委托的 collator
func TargetsOf(s State) []string {
	switch v := s.(type) {
	case PendingNomination:
		return v.Targets
	case Nominating:
		return v.Targets
	}
	return nil
}
