package staking

import (
	"fmt"
	"strings"
	"time"

	"github.com/shopspring/decimal"
)

// Program 质押方式，决定状态变体和领取奖励调用的形状
type Program int

const (
	// ProgramAny 只出现在事实增量上，表示对该 (账户, 链) 的所有质押方式生效
	ProgramAny Program = iota
	DirectNomination
	NominationPool
	ParachainDelegation
	CollatorDelegation // Mythos
)

// Programs 所有具体的质押方式
var Programs = []Program{DirectNomination, NominationPool, ParachainDelegation, CollatorDelegation}

var programNames = map[Program]string{
	ProgramAny:          "any",
	DirectNomination:    "direct",
	NominationPool:      "pool",
	ParachainDelegation: "parachain",
	CollatorDelegation:  "mythos",
}

func (p Program) String() string {
	if s, ok := programNames[p]; ok {
		return s
	}
	return fmt.Sprintf("program(%d)", int(p))
}

// ParseProgram 解析 direct / pool / parachain / mythos
func ParseProgram(s string) (Program, error) {
	s = strings.ToLower(strings.TrimSpace(s))
	for p, name := range programNames {
		if name == s {
			return p, nil
		}
	}
	return ProgramAny, fmt.Errorf("unknown staking program %q", s)
}

func (p Program) MarshalText() ([]byte, error) {
	return []byte(p.String()), nil
}

func (p *Program) UnmarshalText(b []byte) error {
	v, err := ParseProgram(string(b))
	if err != nil {
		return err
	}
	*p = v
	return nil
}

// Keyed 该质押方式的赎回/领取是否按 collator 分批
func (p Program) Keyed() bool {
	return p == ParachainDelegation || p == CollatorDelegation
}

// AccountKey (账户, 链)，事实队列按它划分
type AccountKey struct {
	Account string `json:"account"`
	Chain   string `json:"chain"`
}

func (k AccountKey) String() string {
	return k.Chain + ":" + k.Account
}

// FactKey (账户, 链, 质押方式)，事实快照的独占单位
type FactKey struct {
	AccountKey
	Program Program `json:"program"`
}

func (k FactKey) String() string {
	return k.AccountKey.String() + ":" + k.Program.String()
}

// Field 单个事实槽位: 未加载 / 已加载但链上不存在 / 存在
// 存储的值不可原地修改，只能整体替换
type Field[T any] struct {
	loaded bool
	value  *T
	seq    uint64
}

// Present 构造一个已加载且有值的槽位
func Present[T any](v T) Field[T] {
	return Field[T]{loaded: true, value: &v}
}

// Absent 构造一个已加载但链上不存在的槽位
func Absent[T any]() Field[T] {
	return Field[T]{loaded: true}
}

func (f Field[T]) Loaded() bool { return f.loaded }

func (f Field[T]) Present() bool { return f.value != nil }

func (f Field[T]) Seq() uint64 { return f.seq }

// Value 返回值和是否存在
func (f Field[T]) Value() (T, bool) {
	if f.value == nil {
		var zero T
		return zero, false
	}
	return *f.value, true
}

// set 按字段做 last-writer-wins
// seq == 0 表示没有序号，按到达顺序直接覆盖；带序号的更新只接受更大的序号
func (f *Field[T]) set(v *T, seq uint64) bool {
	if seq != 0 && f.loaded && seq <= f.seq {
		return false
	}
	f.loaded = true
	f.value = v
	if seq > f.seq {
		f.seq = seq
	}
	return true
}

// UnlockChunk 账本里的解绑块，Era 为可赎回的 era
type UnlockChunk struct {
	Value decimal.Decimal `json:"value"`
	Era   uint32          `json:"era"`
}

type Ledger struct {
	Stash     string          `json:"stash"`
	Total     decimal.Decimal `json:"total"`
	Active    decimal.Decimal `json:"active"`
	Unlocking []UnlockChunk   `json:"unlocking,omitempty"`
}

type Nomination struct {
	Targets     []string `json:"targets"`
	SubmittedIn uint32   `json:"submitted_in"`
	Suppressed  bool     `json:"suppressed,omitempty"`
}

type ValidatorPrefs struct {
	Commission decimal.Decimal `json:"commission"` // 0..1
	Blocked    bool            `json:"blocked,omitempty"`
}

// PoolMember 提名池成员，RewardCounter 为 FixedU128 (1e18 = 1)
type PoolMember struct {
	PoolID                    uint32          `json:"pool_id"`
	Points                    decimal.Decimal `json:"points"`
	LastRecordedRewardCounter decimal.Decimal `json:"last_recorded_reward_counter"`
	UnbondingEras             []UnlockChunk   `json:"unbonding_eras,omitempty"`
}

// RewardPool 池级别的奖励计数器和绑定信息
type RewardPool struct {
	PoolID        uint32          `json:"pool_id"`
	RewardCounter decimal.Decimal `json:"reward_counter"`
	Points        decimal.Decimal `json:"points"`
	Bonded        decimal.Decimal `json:"bonded"`
}

// Delegation 平行链 / Mythos 对单个 collator 的委托
// Since 为最近一次变更所在的 round
type Delegation struct {
	Collator                  string          `json:"collator"`
	Amount                    decimal.Decimal `json:"amount"`
	LastRecordedRewardCounter decimal.Decimal `json:"last_recorded_reward_counter"`
	Since                     uint32          `json:"since"`
}

type Delegator struct {
	Delegations []Delegation `json:"delegations"`
}

// CollatorInfo collator 元数据
type CollatorInfo struct {
	ID               string          `json:"id"`
	Selected         bool            `json:"selected"`
	MinRewardedStake decimal.Decimal `json:"min_rewarded_stake"`
	RewardCounter    decimal.Decimal `json:"reward_counter"`
}

type RequestKind int

const (
	RequestUnbond RequestKind = iota
	RequestRevoke
)

func (k RequestKind) String() string {
	if k == RequestRevoke {
		return "revoke"
	}
	return "unbond"
}

func (k RequestKind) MarshalText() ([]byte, error) { return []byte(k.String()), nil }

func (k *RequestKind) UnmarshalText(b []byte) error {
	switch string(b) {
	case "unbond", "":
		*k = RequestUnbond
	case "revoke":
		*k = RequestRevoke
	default:
		return fmt.Errorf("unknown request kind %q", string(b))
	}
	return nil
}

// ScheduledRequest 等待 release round 的解绑/撤销请求
type ScheduledRequest struct {
	Collator  string          `json:"collator"`
	Amount    decimal.Decimal `json:"amount"`
	ReleaseAt uint32          `json:"release_at"`
	Kind      RequestKind     `json:"kind"`
}

// RoundInfo era (中继链) 或 round (平行链) 的编号和时间
type RoundInfo struct {
	Current  uint32        `json:"current"`
	Start    time.Time     `json:"start"`
	Duration time.Duration `json:"duration"`
}

type Backer struct {
	Who   string          `json:"who"`
	Value decimal.Decimal `json:"value"`
}

// Exposure 当选验证人及其支持者
type Exposure struct {
	Validator string   `json:"validator"`
	Backers   []Backer `json:"backers"`
}

// Payout 直接提名待领取的 (验证人, era)
type Payout struct {
	Validator string          `json:"validator"`
	Era       uint32          `json:"era"`
	Amount    decimal.Decimal `json:"amount"`
}

// Rewards 可领取奖励
type Rewards struct {
	Total   decimal.Decimal `json:"total"`
	Payouts []Payout        `json:"payouts,omitempty"`
}

type Balance struct {
	Free         decimal.Decimal `json:"free"`
	Frozen       decimal.Decimal `json:"frozen"`
	Transferable decimal.Decimal `json:"transferable"`
}

// BagListNode bags-list 里的节点，BagUpper 为所在 bag 的上界
type BagListNode struct {
	BagUpper decimal.Decimal `json:"bag_upper"`
	Score    decimal.Decimal `json:"score"`
}

type Proxy struct {
	Delegate string `json:"delegate"`
	Type     string `json:"type"`
	Delay    uint32 `json:"delay,omitempty"`
}

// RewardCounterScale FixedU128 的精度
var RewardCounterScale = decimal.New(1, 18)
