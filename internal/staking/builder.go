package staking

import (
	"sort"

	"github.com/shopspring/decimal"
)

// Build 由累积的事实投影出状态
// 纯函数: 不阻塞、不 panic，缺少必要事实时给出 Uninitialized / Pending*
// 同样的输入总是得到完全相同的输出
func Build(key FactKey, f Facts) State {
	switch key.Program {
	case DirectNomination:
		return buildDirect(key, f)
	case NominationPool:
		return buildPool(key, f)
	case ParachainDelegation:
		return buildDelegation(key, f, parachainStatus)
	case CollatorDelegation:
		return buildDelegation(key, f, mythosStatus)
	}
	return Uninitialized{Common: Common{Key: key, Active: decimal.Zero, Claimable: decimal.Zero}, Reason: ReasonNotStaking}
}

func newCommon(key FactKey) Common {
	return Common{
		Key:       key,
		Active:    decimal.Zero,
		Claimable: decimal.Zero,
		Redeem:    Redeemable{Amount: decimal.Zero},
	}
}

func uninit(key FactKey, loaded bool) State {
	reason := ReasonLoading
	if loaded {
		reason = ReasonNotStaking
	}
	return Uninitialized{Common: newCommon(key), Reason: reason}
}

// withUnbonding 填充可赎回和未到期的解绑，缺少 round 时两者都为空
func withUnbonding(c *Common, entries []UnbondingEntry, round RoundInfo, hasRound bool) {
	if !hasRound {
		return
	}
	c.Redeem = CalculateRedeemable(entries, round.Current)
	c.Unbonding = PendingUnbondings(entries, round)
}

func sortedCopy(s []string) []string {
	out := make([]string, len(s))
	copy(out, s)
	sort.Strings(out)
	return out
}

// ---------------------------------------------------------------------------
// 直接提名
// ---------------------------------------------------------------------------

func buildDirect(key FactKey, f Facts) State {
	ledger, ok := f.Ledger.Value()
	if !ok {
		return uninit(key, f.Ledger.Loaded())
	}
	ledger.Unlocking = cloneSlice(ledger.Unlocking)

	c := newCommon(key)
	c.Active = ledger.Active
	if r, ok := f.ClaimableRewards.Value(); ok {
		c.Claimable = r.Total
	}
	round, hasRound := f.Round.Value()
	withUnbonding(&c, chunkEntries(ledger.Unlocking), round, hasRound)

	pos := Position{Ledger: &ledger}
	stash := ledger.Stash
	if stash == "" {
		stash = key.Account
	}

	if nom, ok := f.Nomination.Value(); ok {
		targets := sortedCopy(nom.Targets)
		if !hasRound {
			return PendingNomination{Common: c, Position: pos, Targets: targets}
		}
		c.Status = nominatorStatus(stash, nom, round, f.Exposures)
		return Nominating{Common: c, Position: pos, Targets: targets, Round: round}
	}

	if prefs, ok := f.Validator.Value(); ok {
		if !hasRound {
			return PendingValidating{Common: c, Position: pos, Prefs: prefs}
		}
		elected := isElected(stash, f.Exposures)
		c.Status = StatusWaiting
		if elected {
			c.Status = StatusActive
		}
		return Validating{Common: c, Position: pos, Prefs: prefs, Round: round, Elected: elected}
	}

	if f.Nomination.Loaded() && f.Validator.Loaded() && hasRound {
		return Bonded{Common: c, Position: pos, Round: round}
	}
	return PendingBonding{Common: c, Position: pos}
}

// nominatorStatus 本 era 及之后提交的提名要等下一次选举
func nominatorStatus(stash string, nom Nomination, round RoundInfo, exposures Field[[]Exposure]) ViewStatus {
	if nom.SubmittedIn >= round.Current {
		return StatusWaiting
	}
	list, ok := exposures.Value()
	if !ok {
		return StatusInactive
	}
	for _, e := range list {
		for _, b := range e.Backers {
			if b.Who == stash {
				return StatusActive
			}
		}
	}
	return StatusInactive
}

func isElected(stash string, exposures Field[[]Exposure]) bool {
	list, _ := exposures.Value()
	for _, e := range list {
		if e.Validator == stash {
			return true
		}
	}
	return false
}

// ---------------------------------------------------------------------------
// 提名池
// ---------------------------------------------------------------------------

func buildPool(key FactKey, f Facts) State {
	member, ok := f.PoolMember.Value()
	if !ok {
		return uninit(key, f.PoolMember.Loaded())
	}
	member.UnbondingEras = cloneSlice(member.UnbondingEras)

	c := newCommon(key)
	pool, hasPool := f.RewardPool.Value()
	c.Active = memberStake(member, pool, hasPool)

	round, hasRound := f.Round.Value()
	withUnbonding(&c, chunkEntries(member.UnbondingEras), round, hasRound)

	pos := Position{Member: &member}
	if hasPool {
		pos.Pool = &pool
	}

	if hasPool {
		c.Claimable = counterRewards(member.Points, pool.RewardCounter, member.LastRecordedRewardCounter)
	}
	if r, ok := f.ClaimableRewards.Value(); ok {
		c.Claimable = r.Total
	}

	if !member.Points.IsPositive() {
		if !hasRound {
			return PendingBonding{Common: c, Position: pos}
		}
		return Bonded{Common: c, Position: pos, Round: round}
	}

	var targets []string
	nom, hasNom := f.Nomination.Value()
	if hasNom {
		targets = sortedCopy(nom.Targets)
	}
	if !hasRound || !hasPool {
		return PendingNomination{Common: c, Position: pos, Targets: targets}
	}

	switch {
	case hasNom && nom.SubmittedIn >= round.Current:
		c.Status = StatusWaiting
	case pool.RewardCounter.GreaterThan(member.LastRecordedRewardCounter):
		c.Status = StatusActive
	case pool.RewardCounter.Equal(member.LastRecordedRewardCounter):
		// 计数器没动: 奖励数据可能过期，不能当作 0 处理
		c.Status = StatusInactive
		c.RefreshRewards = true
	default:
		c.Status = StatusInactive
	}
	return Nominating{Common: c, Position: pos, Targets: targets, Round: round}
}

// memberStake 成员 points 按池子的 bonded/points 折算，池子信息缺失时按 1:1
func memberStake(m PoolMember, pool RewardPool, hasPool bool) decimal.Decimal {
	if !hasPool || !pool.Points.IsPositive() {
		return m.Points
	}
	return m.Points.Mul(pool.Bonded).Div(pool.Points).Truncate(0)
}

// counterRewards amount * (current - last) / 1e18，向下取整
func counterRewards(amount, current, last decimal.Decimal) decimal.Decimal {
	if !current.GreaterThan(last) {
		return decimal.Zero
	}
	return amount.Mul(current.Sub(last)).Div(RewardCounterScale).Truncate(0)
}

// ---------------------------------------------------------------------------
// 平行链委托 / Mythos
// ---------------------------------------------------------------------------

type delegationStatusFunc func(c *Common, delegations []Delegation, collators map[string]CollatorInfo, round RoundInfo)

func buildDelegation(key FactKey, f Facts, status delegationStatusFunc) State {
	delegator, ok := f.Delegator.Value()
	if !ok {
		return uninit(key, f.Delegator.Loaded())
	}
	delegations := cloneSlice(delegator.Delegations)
	sort.SliceStable(delegations, func(i, j int) bool { return delegations[i].Collator < delegations[j].Collator })

	requests, _ := f.ScheduledRequests.Value()
	c := newCommon(key)
	total := decimal.Zero
	for _, d := range delegations {
		total = total.Add(d.Amount)
	}
	pending := decimal.Zero
	for _, r := range requests {
		pending = pending.Add(r.Amount)
	}
	c.Active = decimal.Max(total.Sub(pending), decimal.Zero)

	round, hasRound := f.Round.Value()
	withUnbonding(&c, requestEntries(requests), round, hasRound)

	collatorList, hasCollators := f.Collators.Value()
	collators := make(map[string]CollatorInfo, len(collatorList))
	for _, ci := range collatorList {
		collators[ci.ID] = ci
	}

	if key.Program == CollatorDelegation {
		for _, d := range delegations {
			if ci, ok := collators[d.Collator]; ok {
				c.Claimable = c.Claimable.Add(counterRewards(d.Amount, ci.RewardCounter, d.LastRecordedRewardCounter))
			}
		}
	}
	if r, ok := f.ClaimableRewards.Value(); ok {
		c.Claimable = r.Total
	}

	pos := Position{Delegations: delegations}
	if len(delegations) == 0 {
		if !hasRound {
			return PendingBonding{Common: c, Position: pos}
		}
		return Bonded{Common: c, Position: pos, Round: round}
	}

	targets := make([]string, 0, len(delegations))
	for _, d := range delegations {
		targets = append(targets, d.Collator)
	}
	targets = sortedCopy(targets)
	if !hasRound || !hasCollators {
		return PendingNomination{Common: c, Position: pos, Targets: targets}
	}
	status(&c, delegations, collators, round)
	return Nominating{Common: c, Position: pos, Targets: targets, Round: round}
}

// parachainStatus 任一委托拿得到奖励即 active
func parachainStatus(c *Common, delegations []Delegation, collators map[string]CollatorInfo, round RoundInfo) {
	waiting := false
	for _, d := range delegations {
		ci, ok := collators[d.Collator]
		if ok && ci.Selected && d.Amount.GreaterThanOrEqual(ci.MinRewardedStake) {
			c.Status = StatusActive
			return
		}
		if d.Since >= round.Current {
			waiting = true
		}
	}
	if waiting {
		c.Status = StatusWaiting
		return
	}
	c.Status = StatusInactive
}

// mythosStatus 任一被选中的 collator 计数器前进即 active
// 任一被选中的 collator 计数器与委托记录相等就请求刷新，和 status 无关
func mythosStatus(c *Common, delegations []Delegation, collators map[string]CollatorInfo, round RoundInfo) {
	active, waiting := false, false
	for _, d := range delegations {
		ci, ok := collators[d.Collator]
		if ok && ci.Selected {
			switch {
			case ci.RewardCounter.GreaterThan(d.LastRecordedRewardCounter):
				active = true
			case ci.RewardCounter.Equal(d.LastRecordedRewardCounter):
				c.RefreshRewards = true
			}
		}
		if d.Since >= round.Current {
			waiting = true
		}
	}
	switch {
	case active:
		c.Status = StatusActive
	case waiting:
		c.Status = StatusWaiting
	default:
		c.Status = StatusInactive
	}
}
