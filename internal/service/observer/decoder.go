package observer

import (
	"encoding/json"
	"fmt"
	"math/big"
	"strings"
	"time"

	"github.com/centrifuge/go-substrate-rpc-client/v4/types"
	"github.com/centrifuge/go-substrate-rpc-client/v4/types/codec"
	"github.com/shopspring/decimal"

	"staking-core/internal/event"
	"staking-core/internal/staking"
	"staking-core/pkg/errno"
)

// ---------------------------------------------------------------------------
// 链上存储的 SCALE 结构 (Staking / NominationPools pallet)
// ---------------------------------------------------------------------------

type scaleUnlockChunk struct {
	Value types.UCompact
	Era   types.UCompact
}

type scaleLedger struct {
	Stash     types.AccountID
	Total     types.UCompact
	Active    types.UCompact
	Unlocking []scaleUnlockChunk
}

type scaleNominations struct {
	Targets     []types.AccountID
	SubmittedIn types.U32
	Suppressed  types.Bool
}

// Commission 为 Compact<Perbill>
type scaleValidatorPrefs struct {
	Commission types.UCompact
	Blocked    types.Bool
}

type scaleUnbondingEra struct {
	Era     types.U32
	Balance types.U128
}

type scalePoolMember struct {
	PoolID                    types.U32
	Points                    types.U128
	LastRecordedRewardCounter types.U128
	UnbondingEras             []scaleUnbondingEra
}

// ActiveEra
type scaleActiveEra struct {
	Index types.U32
	Start types.OptionU64
}

var perbill = decimal.New(1, 9)

// DecodeFact 把 MQ 上的事实事件解析成带类型的增量
// 解析失败返回 FactIngestionError，调用方记录日志后丢弃，不影响其他事实
func DecodeFact(ev event.FactEvent) (staking.Update, error) {
	if ev.Account == "" || ev.Chain == "" {
		return staking.Update{}, errno.Wrapf(errno.ErrFactIngestion, "fact without account or chain")
	}
	program := staking.ProgramAny
	if ev.Program != "" {
		p, err := staking.ParseProgram(ev.Program)
		if err != nil {
			return staking.Update{}, errno.Wrap(errno.ErrFactIngestion, err)
		}
		program = p
	}

	var (
		delta staking.Delta
		err   error
	)
	kind := staking.DeltaKind(ev.Kind)
	switch ev.Encoding {
	case "", event.EncodingJSON:
		delta, err = decodeJSONDelta(kind, ev.Payload)
	case event.EncodingSCALE:
		delta, err = decodeSCALEDelta(kind, ev.Data)
	default:
		err = fmt.Errorf("unknown encoding %q", ev.Encoding)
	}
	if err != nil {
		return staking.Update{}, errno.Wrap(errno.ErrFactIngestion, fmt.Errorf("%s: %w", ev.Kind, err))
	}

	return staking.Update{
		Key: staking.FactKey{
			AccountKey: staking.AccountKey{Account: ev.Account, Chain: ev.Chain},
			Program:    program,
		},
		Seq:   ev.Seq,
		Delta: delta,
	}, nil
}

func decodeAs[T staking.Delta](raw json.RawMessage) (staking.Delta, error) {
	var v T
	if len(raw) == 0 {
		return v, nil
	}
	if err := json.Unmarshal(raw, &v); err != nil {
		return nil, err
	}
	return v, nil
}

var jsonDecoders = map[staking.DeltaKind]func(json.RawMessage) (staking.Delta, error){
	staking.KindLedger:            decodeAs[staking.LedgerUpdated],
	staking.KindNomination:        decodeAs[staking.NominationUpdated],
	staking.KindValidator:         decodeAs[staking.ValidatorUpdated],
	staking.KindPoolMember:        decodeAs[staking.PoolMemberUpdated],
	staking.KindRewardPool:        decodeAs[staking.RewardPoolUpdated],
	staking.KindDelegator:         decodeAs[staking.DelegatorUpdated],
	staking.KindCollators:         decodeAs[staking.CollatorsUpdated],
	staking.KindScheduledRequests: decodeAs[staking.ScheduledRequestsUpdated],
	staking.KindRound:             decodeAs[staking.RoundInfoUpdated],
	staking.KindExposures:         decodeAs[staking.ExposuresUpdated],
	staking.KindClaimableRewards:  decodeAs[staking.ClaimableRewardsUpdated],
	staking.KindPrice:             decodeAs[staking.PriceUpdated],
	staking.KindBalance:           decodeAs[staking.BalanceUpdated],
	staking.KindStakingParams:     decodeAs[staking.StakingParamsUpdated],
	staking.KindBagList:           decodeAs[staking.BagListUpdated],
	staking.KindProxies:           decodeAs[staking.ProxiesUpdated],
}

func decodeJSONDelta(kind staking.DeltaKind, raw json.RawMessage) (staking.Delta, error) {
	dec, ok := jsonDecoders[kind]
	if !ok {
		return nil, fmt.Errorf("unknown fact kind")
	}
	return dec(raw)
}

// decodeSCALEDelta 只支持直接来自存储查询的几类事实
// 空值 (存储项不存在) 解析为 "已加载但不存在"
func decodeSCALEDelta(kind staking.DeltaKind, data string) (staking.Delta, error) {
	data = strings.TrimSpace(data)
	empty := data == "" || data == "0x" || data == "null"

	switch kind {
	case staking.KindLedger:
		if empty {
			return staking.LedgerUpdated{}, nil
		}
		var v scaleLedger
		if err := codec.DecodeFromHex(data, &v); err != nil {
			return nil, err
		}
		l := &staking.Ledger{
			Stash:  accountHex(v.Stash),
			Total:  compact(v.Total),
			Active: compact(v.Active),
		}
		for _, c := range v.Unlocking {
			l.Unlocking = append(l.Unlocking, staking.UnlockChunk{Value: compact(c.Value), Era: uint32(compact(c.Era).IntPart())})
		}
		return staking.LedgerUpdated{Ledger: l}, nil

	case staking.KindNomination:
		if empty {
			return staking.NominationUpdated{}, nil
		}
		var v scaleNominations
		if err := codec.DecodeFromHex(data, &v); err != nil {
			return nil, err
		}
		n := &staking.Nomination{SubmittedIn: uint32(v.SubmittedIn), Suppressed: bool(v.Suppressed)}
		for _, t := range v.Targets {
			n.Targets = append(n.Targets, accountHex(t))
		}
		return staking.NominationUpdated{Nomination: n}, nil

	case staking.KindValidator:
		if empty {
			return staking.ValidatorUpdated{}, nil
		}
		var v scaleValidatorPrefs
		if err := codec.DecodeFromHex(data, &v); err != nil {
			return nil, err
		}
		return staking.ValidatorUpdated{Prefs: &staking.ValidatorPrefs{
			Commission: compact(v.Commission).Div(perbill),
			Blocked:    bool(v.Blocked),
		}}, nil

	case staking.KindPoolMember:
		if empty {
			return staking.PoolMemberUpdated{}, nil
		}
		var v scalePoolMember
		if err := codec.DecodeFromHex(data, &v); err != nil {
			return nil, err
		}
		m := &staking.PoolMember{
			PoolID:                    uint32(v.PoolID),
			Points:                    u128(v.Points),
			LastRecordedRewardCounter: u128(v.LastRecordedRewardCounter),
		}
		for _, e := range v.UnbondingEras {
			m.UnbondingEras = append(m.UnbondingEras, staking.UnlockChunk{Value: u128(e.Balance), Era: uint32(e.Era)})
		}
		return staking.PoolMemberUpdated{Member: m}, nil

	case staking.KindRound:
		if empty {
			return staking.RoundInfoUpdated{}, nil
		}
		var v scaleActiveEra
		if err := codec.DecodeFromHex(data, &v); err != nil {
			return nil, err
		}
		r := &staking.RoundInfo{Current: uint32(v.Index)}
		if ok, ms := v.Start.Unwrap(); ok {
			r.Start = time.UnixMilli(int64(ms)).UTC()
		}
		return staking.RoundInfoUpdated{Round: r}, nil
	}
	return nil, fmt.Errorf("kind is not available as SCALE")
}

func compact(c types.UCompact) decimal.Decimal {
	b := big.Int(c)
	return decimal.NewFromBigInt(&b, 0)
}

func u128(v types.U128) decimal.Decimal {
	if v.Int == nil {
		return decimal.Zero
	}
	return decimal.NewFromBigInt(v.Int, 0)
}

func accountHex(a types.AccountID) string {
	return codec.HexEncodeToString(a[:])
}
