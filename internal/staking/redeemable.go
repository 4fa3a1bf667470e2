package staking

import (
	"sort"
	"time"

	"github.com/shopspring/decimal"
)

// UnbondingEntry 解绑块 / 池解绑 era / 平行链计划请求的统一形式
// Key 为 collator id，直接提名和提名池为空
type UnbondingEntry struct {
	Key       string          `json:"key,omitempty"`
	Amount    decimal.Decimal `json:"amount"`
	ReleaseAt uint32          `json:"release_at"`
}

// Redeemable 当前可赎回的金额和构造调用需要的 collator 集合
type Redeemable struct {
	Amount decimal.Decimal `json:"amount"`
	Keys   []string        `json:"keys,omitempty"`
	// 满足条件的条目数
	Entries int `json:"entries"`
}

// IsEmpty 没有可赎回的条目，调用方必须直接跳过 (不估算手续费，不提交)
func (r Redeemable) IsEmpty() bool {
	return r.Entries == 0 || !r.Amount.IsPositive()
}

// PendingUnbonding 尚未到期的解绑
type PendingUnbonding struct {
	UnbondingEntry
	RoundsLeft uint32        `json:"rounds_left"`
	ETA        time.Duration `json:"eta"`
}

// CalculateRedeemable 过滤 releaseAt <= current 的条目求和
// Keys 按 collator 去重排序，平行链 / Mythos 的赎回调用按 collator 批量构造
func CalculateRedeemable(entries []UnbondingEntry, current uint32) Redeemable {
	r := Redeemable{Amount: decimal.Zero}
	seen := make(map[string]struct{})
	for _, e := range entries {
		if e.ReleaseAt > current {
			continue
		}
		r.Amount = r.Amount.Add(e.Amount)
		r.Entries++
		if e.Key == "" {
			continue
		}
		if _, ok := seen[e.Key]; ok {
			continue
		}
		seen[e.Key] = struct{}{}
		r.Keys = append(r.Keys, e.Key)
	}
	sort.Strings(r.Keys)
	return r
}

// PendingUnbondings 未到期的条目，按到期 round 排序
// ETA 只由 round 时长推算，不读系统时钟
func PendingUnbondings(entries []UnbondingEntry, round RoundInfo) []PendingUnbonding {
	var out []PendingUnbonding
	for _, e := range entries {
		if e.ReleaseAt <= round.Current {
			continue
		}
		left := e.ReleaseAt - round.Current
		out = append(out, PendingUnbonding{
			UnbondingEntry: e,
			RoundsLeft:     left,
			ETA:            time.Duration(left) * round.Duration,
		})
	}
	sort.SliceStable(out, func(i, j int) bool {
		a, b := out[i], out[j]
		if a.ReleaseAt != b.ReleaseAt {
			return a.ReleaseAt < b.ReleaseAt
		}
		if a.Key != b.Key {
			return a.Key < b.Key
		}
		return a.Amount.LessThan(b.Amount)
	})
	return out
}

func chunkEntries(chunks []UnlockChunk) []UnbondingEntry {
	out := make([]UnbondingEntry, 0, len(chunks))
	for _, c := range chunks {
		out = append(out, UnbondingEntry{Amount: c.Value, ReleaseAt: c.Era})
	}
	return out
}

func requestEntries(reqs []ScheduledRequest) []UnbondingEntry {
	out := make([]UnbondingEntry, 0, len(reqs))
	for _, r := range reqs {
		out = append(out, UnbondingEntry{Key: r.Collator, Amount: r.Amount, ReleaseAt: r.ReleaseAt})
	}
	return out
}
