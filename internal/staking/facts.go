package staking

import (
	"github.com/shopspring/decimal"
)

// Facts 单个 (账户, 链, 质押方式) 累积的链上事实
// 只能通过 Apply 修改，其他组件拿到的都是副本
type Facts struct {
	Ledger             Field[Ledger]
	Nomination         Field[Nomination]
	Validator          Field[ValidatorPrefs]
	PoolMember         Field[PoolMember]
	RewardPool         Field[RewardPool]
	Delegator          Field[Delegator]
	Collators          Field[[]CollatorInfo]
	ScheduledRequests  Field[[]ScheduledRequest]
	Round              Field[RoundInfo]
	Exposures          Field[[]Exposure]
	ClaimableRewards   Field[Rewards]
	Price              Field[decimal.Decimal]
	Balance            Field[Balance]
	MinStake           Field[decimal.Decimal]
	ExistentialDeposit Field[decimal.Decimal]
	MaxRewardedBackers Field[uint32]
	BagListNode        Field[BagListNode]
	BagListScoreFactor Field[decimal.Decimal]
	Proxies            Field[[]Proxy]
}

// Clone 槽位里的值不会被原地修改，浅拷贝即可
func (f *Facts) Clone() Facts {
	return *f
}

// Apply 应用一个增量，返回事实是否发生变化
func (f *Facts) Apply(seq uint64, d Delta) bool {
	if d == nil {
		return false
	}
	return d.apply(f, seq)
}

// DeltaKind 增量类型，同时用作消息里的 kind 字段
type DeltaKind string

const (
	KindLedger            DeltaKind = "ledger"
	KindNomination        DeltaKind = "nomination"
	KindValidator         DeltaKind = "validator"
	KindPoolMember        DeltaKind = "pool_member"
	KindRewardPool        DeltaKind = "reward_pool"
	KindDelegator         DeltaKind = "delegator"
	KindCollators         DeltaKind = "collators"
	KindScheduledRequests DeltaKind = "scheduled_requests"
	KindRound             DeltaKind = "round"
	KindExposures         DeltaKind = "exposures"
	KindClaimableRewards  DeltaKind = "claimable_rewards"
	KindPrice             DeltaKind = "price"
	KindBalance           DeltaKind = "balance"
	KindStakingParams     DeltaKind = "staking_params"
	KindBagList           DeltaKind = "bag_list"
	KindProxies           DeltaKind = "proxies"
)

// Delta 一条类型化的事实变更
// 指针为 nil 表示链上不存在 (已加载)，切片类增量总是视为存在
type Delta interface {
	Kind() DeltaKind
	apply(f *Facts, seq uint64) bool
}

// Update 带身份和序号的增量
// Key.Program == ProgramAny 时对该 (账户, 链) 下所有质押方式生效
// Seq 为 0 表示按到达顺序生效
type Update struct {
	Key   FactKey
	Seq   uint64
	Delta Delta
}

type LedgerUpdated struct {
	Ledger *Ledger `json:"ledger"`
}

type NominationUpdated struct {
	Nomination *Nomination `json:"nomination"`
}

type ValidatorUpdated struct {
	Prefs *ValidatorPrefs `json:"prefs"`
}

type PoolMemberUpdated struct {
	Member *PoolMember `json:"member"`
}

type RewardPoolUpdated struct {
	Pool *RewardPool `json:"pool"`
}

type DelegatorUpdated struct {
	Delegator *Delegator `json:"delegator"`
}

type CollatorsUpdated struct {
	Collators []CollatorInfo `json:"collators"`
}

type ScheduledRequestsUpdated struct {
	Requests []ScheduledRequest `json:"requests"`
}

type RoundInfoUpdated struct {
	Round *RoundInfo `json:"round"`
}

type ExposuresUpdated struct {
	Exposures []Exposure `json:"exposures"`
}

type ClaimableRewardsUpdated struct {
	Rewards *Rewards `json:"rewards"`
}

type PriceUpdated struct {
	Price *decimal.Decimal `json:"price"`
}

type BalanceUpdated struct {
	Balance *Balance `json:"balance"`
}

// StakingParamsUpdated 三个独立参数打包下发，nil 的字段保持不变
type StakingParamsUpdated struct {
	MinStake           *decimal.Decimal `json:"min_stake,omitempty"`
	ExistentialDeposit *decimal.Decimal `json:"existential_deposit,omitempty"`
	MaxRewardedBackers *uint32          `json:"max_rewarded_backers,omitempty"`
}

// BagListUpdated Node 为 nil 表示不在 bags-list 中；ScoreFactor 为 nil 时保持不变
type BagListUpdated struct {
	Node        *BagListNode     `json:"node"`
	ScoreFactor *decimal.Decimal `json:"score_factor,omitempty"`
}

type ProxiesUpdated struct {
	Proxies []Proxy `json:"proxies"`
}

func (LedgerUpdated) Kind() DeltaKind            { return KindLedger }
func (NominationUpdated) Kind() DeltaKind        { return KindNomination }
func (ValidatorUpdated) Kind() DeltaKind         { return KindValidator }
func (PoolMemberUpdated) Kind() DeltaKind        { return KindPoolMember }
func (RewardPoolUpdated) Kind() DeltaKind        { return KindRewardPool }
func (DelegatorUpdated) Kind() DeltaKind         { return KindDelegator }
func (CollatorsUpdated) Kind() DeltaKind         { return KindCollators }
func (ScheduledRequestsUpdated) Kind() DeltaKind { return KindScheduledRequests }
func (RoundInfoUpdated) Kind() DeltaKind         { return KindRound }
func (ExposuresUpdated) Kind() DeltaKind         { return KindExposures }
func (ClaimableRewardsUpdated) Kind() DeltaKind  { return KindClaimableRewards }
func (PriceUpdated) Kind() DeltaKind             { return KindPrice }
func (BalanceUpdated) Kind() DeltaKind           { return KindBalance }
func (StakingParamsUpdated) Kind() DeltaKind     { return KindStakingParams }
func (BagListUpdated) Kind() DeltaKind           { return KindBagList }
func (ProxiesUpdated) Kind() DeltaKind           { return KindProxies }

func (d LedgerUpdated) apply(f *Facts, seq uint64) bool {
	return f.Ledger.set(clonePtr(d.Ledger, func(l *Ledger) { l.Unlocking = cloneSlice(l.Unlocking) }), seq)
}

func (d NominationUpdated) apply(f *Facts, seq uint64) bool {
	return f.Nomination.set(clonePtr(d.Nomination, func(n *Nomination) { n.Targets = cloneSlice(n.Targets) }), seq)
}

func (d ValidatorUpdated) apply(f *Facts, seq uint64) bool {
	return f.Validator.set(clonePtr(d.Prefs, nil), seq)
}

func (d PoolMemberUpdated) apply(f *Facts, seq uint64) bool {
	return f.PoolMember.set(clonePtr(d.Member, func(m *PoolMember) { m.UnbondingEras = cloneSlice(m.UnbondingEras) }), seq)
}

func (d RewardPoolUpdated) apply(f *Facts, seq uint64) bool {
	return f.RewardPool.set(clonePtr(d.Pool, nil), seq)
}

func (d DelegatorUpdated) apply(f *Facts, seq uint64) bool {
	return f.Delegator.set(clonePtr(d.Delegator, func(v *Delegator) { v.Delegations = cloneSlice(v.Delegations) }), seq)
}

func (d CollatorsUpdated) apply(f *Facts, seq uint64) bool {
	v := cloneSlice(d.Collators)
	return f.Collators.set(&v, seq)
}

func (d ScheduledRequestsUpdated) apply(f *Facts, seq uint64) bool {
	v := cloneSlice(d.Requests)
	return f.ScheduledRequests.set(&v, seq)
}

func (d RoundInfoUpdated) apply(f *Facts, seq uint64) bool {
	return f.Round.set(clonePtr(d.Round, nil), seq)
}

func (d ExposuresUpdated) apply(f *Facts, seq uint64) bool {
	v := make([]Exposure, len(d.Exposures))
	for i, e := range d.Exposures {
		e.Backers = cloneSlice(e.Backers)
		v[i] = e
	}
	return f.Exposures.set(&v, seq)
}

func (d ClaimableRewardsUpdated) apply(f *Facts, seq uint64) bool {
	return f.ClaimableRewards.set(clonePtr(d.Rewards, func(r *Rewards) { r.Payouts = cloneSlice(r.Payouts) }), seq)
}

func (d PriceUpdated) apply(f *Facts, seq uint64) bool {
	return f.Price.set(clonePtr(d.Price, nil), seq)
}

func (d BalanceUpdated) apply(f *Facts, seq uint64) bool {
	return f.Balance.set(clonePtr(d.Balance, nil), seq)
}

func (d StakingParamsUpdated) apply(f *Facts, seq uint64) bool {
	changed := false
	if d.MinStake != nil {
		changed = f.MinStake.set(clonePtr(d.MinStake, nil), seq) || changed
	}
	if d.ExistentialDeposit != nil {
		changed = f.ExistentialDeposit.set(clonePtr(d.ExistentialDeposit, nil), seq) || changed
	}
	if d.MaxRewardedBackers != nil {
		changed = f.MaxRewardedBackers.set(clonePtr(d.MaxRewardedBackers, nil), seq) || changed
	}
	return changed
}

func (d BagListUpdated) apply(f *Facts, seq uint64) bool {
	changed := f.BagListNode.set(clonePtr(d.Node, nil), seq)
	if d.ScoreFactor != nil {
		changed = f.BagListScoreFactor.set(clonePtr(d.ScoreFactor, nil), seq) || changed
	}
	return changed
}

func (d ProxiesUpdated) apply(f *Facts, seq uint64) bool {
	v := cloneSlice(d.Proxies)
	return f.Proxies.set(&v, seq)
}

// clonePtr 复制一份，防止调用方之后修改原对象影响已存的事实
func clonePtr[T any](v *T, deep func(*T)) *T {
	if v == nil {
		return nil
	}
	c := *v
	if deep != nil {
		deep(&c)
	}
	return &c
}

func cloneSlice[T any](s []T) []T {
	if s == nil {
		return []T{}
	}
	out := make([]T, len(s))
	copy(out, s)
	return out
}
