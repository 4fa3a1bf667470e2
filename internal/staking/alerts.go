package staking

import (
	"fmt"
	"sort"

	"github.com/shopspring/decimal"
)

type AlertKind int

const (
	AlertLowStake AlertKind = iota
	AlertNoElectedTargets
	AlertAllOversubscribed
	AlertRedeemUnbonded
	AlertRebag
	AlertWaitingNextEra
)

var alertNames = [...]string{
	"low_stake",
	"no_elected_targets",
	"all_oversubscribed",
	"redeem_unbonded",
	"rebag",
	"waiting_next_era",
}

func (k AlertKind) String() string {
	if int(k) >= 0 && int(k) < len(alertNames) {
		return alertNames[k]
	}
	return fmt.Sprintf("alert(%d)", int(k))
}

func (k AlertKind) MarshalText() ([]byte, error) { return []byte(k.String()), nil }

// Alert 每次重建状态时重新计算，不持久化
type Alert struct {
	Kind AlertKind `json:"kind"`
	// 最小单位金额: LowStake 为差额，RedeemUnbonded 为可赎回金额
	Amount decimal.Decimal `json:"amount"`
	// 代币单位，LowStake 向上取整，其余四舍五入
	Display decimal.Decimal  `json:"display"`
	Fiat    *decimal.Decimal `json:"fiat,omitempty"`
	// AllOversubscribed: 自己不在任何目标的奖励名单内
	Personalized bool `json:"personalized,omitempty"`
}

// AlertContext 资产精度，显式传入而不是读全局设置
type AlertContext struct {
	Precision     int32
	DisplayDigits int32
}

// ToDisplay 最小单位转成代币单位，不取整
func (a AlertContext) ToDisplay(planck decimal.Decimal) decimal.Decimal {
	return planck.Shift(-a.Precision)
}

// DeriveAlerts 固定顺序计算提醒，按类型去重
// 只读，无副作用
func DeriveAlerts(s State, f Facts, ac AlertContext) []Alert {
	if s == nil || s.Kind() == KindUninitialized {
		return nil
	}
	c := s.Base()
	var out []Alert

	if a, ok := lowStakeAlert(c, f, ac); ok {
		out = append(out, a)
	}
	if c.Key.Program == DirectNomination {
		if nom, ok := s.(Nominating); ok && c.Status != StatusWaiting {
			out = append(out, targetAlerts(c, nom.Targets, f)...)
		}
	}
	if c.Redeem.Amount.IsPositive() {
		out = append(out, Alert{
			Kind:    AlertRedeemUnbonded,
			Amount:  c.Redeem.Amount,
			Display: ac.ToDisplay(c.Redeem.Amount).Round(ac.DisplayDigits),
		})
	}
	if NeedsRebag(s, f) {
		out = append(out, Alert{Kind: AlertRebag})
	}
	if c.Status == StatusWaiting {
		out = append(out, Alert{Kind: AlertWaitingNextEra})
	}
	return dedupe(out)
}

// lowStakeAlert 0 < active < minStake，差额向上取整到显示精度，宁可多报
func lowStakeAlert(c Common, f Facts, ac AlertContext) (Alert, bool) {
	min, ok := f.MinStake.Value()
	if !ok || !c.Active.IsPositive() || !c.Active.LessThan(min) {
		return Alert{}, false
	}
	short := min.Sub(c.Active)
	display := ac.ToDisplay(short).RoundCeil(ac.DisplayDigits)
	a := Alert{Kind: AlertLowStake, Amount: short, Display: display}
	if price, ok := f.Price.Value(); ok {
		fiat := display.Mul(price).Round(2)
		a.Fiat = &fiat
	}
	return a, true
}

// targetAlerts 直接提名: 无当选目标 / 所有当选目标都超额
func targetAlerts(c Common, targets []string, f Facts) []Alert {
	exposures, ok := f.Exposures.Value()
	if !ok || len(targets) == 0 {
		return nil
	}
	byValidator := make(map[string]Exposure, len(exposures))
	for _, e := range exposures {
		byValidator[e.Validator] = e
	}

	var elected []Exposure
	for _, t := range targets {
		if e, ok := byValidator[t]; ok {
			elected = append(elected, e)
		}
	}
	if len(elected) == 0 {
		return []Alert{{Kind: AlertNoElectedTargets}}
	}

	max, ok := f.MaxRewardedBackers.Value()
	if !ok {
		return nil
	}
	stash := c.Key.Account
	if l, ok := f.Ledger.Value(); ok && l.Stash != "" {
		stash = l.Stash
	}

	rewardedSomewhere := false
	for _, e := range elected {
		if uint32(len(e.Backers)) <= max {
			return nil
		}
		if inRewarded(stash, e.Backers, max) {
			rewardedSomewhere = true
		}
	}
	return []Alert{{Kind: AlertAllOversubscribed, Personalized: !rewardedSomewhere}}
}

// inRewarded 按质押额降序 (地址升序打破平局) 取前 max 个
func inRewarded(who string, backers []Backer, max uint32) bool {
	ranked := cloneSlice(backers)
	sort.SliceStable(ranked, func(i, j int) bool {
		if c := ranked[i].Value.Cmp(ranked[j].Value); c != 0 {
			return c > 0
		}
		return ranked[i].Who < ranked[j].Who
	})
	for i := 0; i < len(ranked) && uint32(i) < max; i++ {
		if ranked[i].Who == who {
			return true
		}
	}
	return false
}

// NeedsRebag score = floor(active / factor)，超过所在 bag 上界时需要 rebag
func NeedsRebag(s State, f Facts) bool {
	if s == nil || s.Base().Key.Program != DirectNomination {
		return false
	}
	if k := s.Kind(); k != KindNominating && k != KindValidating {
		return false
	}
	node, ok := f.BagListNode.Value()
	if !ok {
		return false
	}
	factor, ok := f.BagListScoreFactor.Value()
	if !ok || !factor.IsPositive() {
		return false
	}
	score := s.Base().Active.Div(factor).Floor()
	return score.GreaterThan(node.BagUpper)
}

func dedupe(in []Alert) []Alert {
	seen := make(map[AlertKind]bool, len(in))
	out := in[:0]
	for _, a := range in {
		if seen[a.Kind] {
			continue
		}
		seen[a.Kind] = true
		out = append(out, a)
	}
	return out
}
