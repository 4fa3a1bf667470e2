package staking

import "fmt"

type ManageAction int

const (
	ActionStakeMore ManageAction = iota
	ActionUnstake
	ActionRedeem
	ActionClaimRewards
	ActionChangeValidators
	ActionRewardDestination
	ActionRebag
	ActionAddProxy
	ActionEditProxies
)

var actionNames = [...]string{
	"stake_more",
	"unstake",
	"redeem",
	"claim_rewards",
	"change_validators",
	"reward_destination",
	"rebag",
	"add_proxy",
	"edit_proxies",
}

func (a ManageAction) String() string {
	if int(a) >= 0 && int(a) < len(actionNames) {
		return actionNames[a]
	}
	return fmt.Sprintf("action(%d)", int(a))
}

func (a ManageAction) MarshalText() ([]byte, error) { return []byte(a.String()), nil }

// DeriveActions 当前状态下合法的管理操作，顺序固定
// Uninitialized 和 Pending* 状态下没有可用操作
func DeriveActions(s State, f Facts) []ManageAction {
	if s == nil {
		return nil
	}
	switch s.Kind() {
	case KindBonded, KindNominating, KindValidating:
	default:
		return nil
	}

	c := s.Base()
	var out []ManageAction
	out = append(out, ActionStakeMore)
	if c.Active.IsPositive() {
		out = append(out, ActionUnstake)
	}
	if !c.Redeem.IsEmpty() {
		out = append(out, ActionRedeem)
	}

	switch c.Key.Program {
	case DirectNomination:
		if c.Claimable.IsPositive() {
			out = append(out, ActionClaimRewards)
		}
		if s.Kind() != KindValidating {
			out = append(out, ActionChangeValidators)
		}
		out = append(out, ActionRewardDestination)
		if NeedsRebag(s, f) {
			out = append(out, ActionRebag)
		}
		if proxies, ok := f.Proxies.Value(); ok && len(proxies) > 0 {
			out = append(out, ActionEditProxies)
		} else {
			out = append(out, ActionAddProxy)
		}
	case NominationPool:
		if c.Claimable.IsPositive() {
			out = append(out, ActionClaimRewards)
		}
	case ParachainDelegation:
		// 平行链奖励自动发放，没有领取操作
		out = append(out, ActionChangeValidators)
	case CollatorDelegation:
		if c.Claimable.IsPositive() {
			out = append(out, ActionClaimRewards)
		}
		out = append(out, ActionChangeValidators)
	}
	return out
}
