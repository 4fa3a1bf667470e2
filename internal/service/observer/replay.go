package observer

import (
	"time"

	"staking-core/internal/event"
	"staking-core/internal/staking"
	"staking-core/pkg/errno"
)

// Replay 离线重放一组事实，得到某个质押方式的快照
// 规则与队列消费一致: ProgramAny 的事实对所有质押方式生效，其他质押方式的事实忽略
// 所有事实必须属于同一个 (账户, 链)
func Replay(events []event.FactEvent, prog staking.Program, ac staking.AlertContext) (Snapshot, error) {
	if prog == staking.ProgramAny {
		return Snapshot{}, errno.Wrapf(errno.ErrBind, "replay needs a concrete staking program")
	}
	if len(events) == 0 {
		return Snapshot{}, errno.Wrapf(errno.ErrFactIngestion, "no facts to replay")
	}

	var (
		account staking.AccountKey
		facts   staking.Facts
		applied uint64
	)
	for i, ev := range events {
		u, err := DecodeFact(ev)
		if err != nil {
			return Snapshot{}, errno.Wrapf(errno.ErrFactIngestion, "fact #%d: %s", i, err)
		}
		if i == 0 {
			account = u.Key.AccountKey
		} else if u.Key.AccountKey != account {
			return Snapshot{}, errno.Wrapf(errno.ErrFactIngestion, "fact #%d belongs to %s, expected %s", i, u.Key.AccountKey, account)
		}
		if u.Key.Program != staking.ProgramAny && u.Key.Program != prog {
			continue
		}
		if facts.Apply(u.Seq, u.Delta) {
			applied++
		}
	}

	key := staking.FactKey{AccountKey: account, Program: prog}
	state := staking.Build(key, facts)
	return Snapshot{
		Key:     key,
		Kind:    state.Kind(),
		State:   state,
		Alerts:  staking.DeriveAlerts(state, facts, ac),
		Actions: staking.DeriveActions(state, facts),
		Version: applied,
		BuiltAt: time.Now(),
		Facts:   facts,
	}, nil
}
