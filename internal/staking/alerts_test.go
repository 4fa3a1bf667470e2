package staking

import (
	"testing"

	"github.com/shopspring/decimal"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func params(min int64, maxBackers uint32) StakingParamsUpdated {
	m := d(min)
	return StakingParamsUpdated{MinStake: &m, MaxRewardedBackers: &maxBackers}
}

func kinds(alerts []Alert) []AlertKind {
	out := make([]AlertKind, 0, len(alerts))
	for _, a := range alerts {
		out = append(out, a.Kind)
	}
	return out
}

func TestLowStakeOnlyAlert(t *testing.T) {
	f := facts(
		LedgerUpdated{Ledger: &Ledger{Stash: stash, Active: d(5)}},
		params(10, 512),
	)
	s := Build(key(DirectNomination), f)

	alerts := DeriveAlerts(s, f, AlertContext{Precision: 10, DisplayDigits: 4})
	require.Len(t, alerts, 1)
	a := alerts[0]
	assert.Equal(t, AlertLowStake, a.Kind)
	assert.True(t, a.Amount.Equal(d(5)))
	assert.Equal(t, "0.0001", a.Display.String())
	assert.Nil(t, a.Fiat)
}

func TestLowStakeFiat(t *testing.T) {
	price := decimal.RequireFromString("7.5")
	f := facts(
		LedgerUpdated{Ledger: &Ledger{Stash: stash, Active: d(5)}},
		params(20, 512),
		PriceUpdated{Price: &price},
	)
	s := Build(key(DirectNomination), f)

	alerts := DeriveAlerts(s, f, AlertContext{Precision: 1, DisplayDigits: 0})
	require.Len(t, alerts, 1)
	assert.Equal(t, "2", alerts[0].Display.String())
	require.NotNil(t, alerts[0].Fiat)
	assert.Equal(t, "15", alerts[0].Fiat.String())
}

func TestNoLowStakeWhenNothingActive(t *testing.T) {
	f := facts(LedgerUpdated{Ledger: &Ledger{Stash: stash, Active: decimal.Zero}}, params(10, 512))
	assert.Empty(t, DeriveAlerts(Build(key(DirectNomination), f), f, AlertContext{}))
}

func TestRoundingAsymmetry(t *testing.T) {
	// 短缺 1.1 向上取整到 2，可赎回 1.4 四舍五入到 1
	f := facts(
		LedgerUpdated{Ledger: &Ledger{Stash: stash, Active: d(9), Unlocking: []UnlockChunk{{Value: d(14), Era: 1}}}},
		params(20, 512),
		round(2),
	)
	alerts := DeriveAlerts(Build(key(DirectNomination), f), f, AlertContext{Precision: 1})

	require.Equal(t, []AlertKind{AlertLowStake, AlertRedeemUnbonded}, kinds(alerts))
	assert.Equal(t, "2", alerts[0].Display.String())
	assert.Equal(t, "1", alerts[1].Display.String())
}

func oversubscribedFacts(own int64) Facts {
	return facts(
		LedgerUpdated{Ledger: &Ledger{Stash: stash, Active: d(own)}},
		NominationUpdated{Nomination: &Nomination{Targets: []string{"v1"}, SubmittedIn: 1}},
		round(5),
		params(1, 2),
		ExposuresUpdated{Exposures: []Exposure{{Validator: "v1", Backers: []Backer{
			{Who: "b1", Value: d(50)},
			{Who: "b2", Value: d(60)},
			{Who: stash, Value: d(own)},
		}}}},
	)
}

func TestAllOversubscribed(t *testing.T) {
	tests := []struct {
		name         string
		own          int64
		personalized bool
	}{
		{"outside rewarded set", 10, true},
		{"inside rewarded set", 100, false},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			f := oversubscribedFacts(tt.own)
			alerts := DeriveAlerts(Build(key(DirectNomination), f), f, AlertContext{})
			require.Equal(t, []AlertKind{AlertAllOversubscribed}, kinds(alerts))
			assert.Equal(t, tt.personalized, alerts[0].Personalized)
		})
	}
}

func TestNotOversubscribedWhenOneTargetHasRoom(t *testing.T) {
	f := oversubscribedFacts(10)
	f.Apply(0, NominationUpdated{Nomination: &Nomination{Targets: []string{"v1", "v2"}, SubmittedIn: 1}})
	f.Apply(0, ExposuresUpdated{Exposures: []Exposure{
		{Validator: "v1", Backers: []Backer{{Who: "b1", Value: d(50)}, {Who: "b2", Value: d(60)}, {Who: stash, Value: d(10)}}},
		{Validator: "v2", Backers: []Backer{{Who: "b3", Value: d(1)}}},
	}})
	assert.Empty(t, DeriveAlerts(Build(key(DirectNomination), f), f, AlertContext{}))
}

func TestNoElectedTargets(t *testing.T) {
	f := facts(
		LedgerUpdated{Ledger: &Ledger{Stash: stash, Active: d(100)}},
		NominationUpdated{Nomination: &Nomination{Targets: []string{"v9"}, SubmittedIn: 1}},
		round(5),
		ExposuresUpdated{Exposures: []Exposure{{Validator: "v1"}}},
	)
	alerts := DeriveAlerts(Build(key(DirectNomination), f), f, AlertContext{})
	assert.Equal(t, []AlertKind{AlertNoElectedTargets}, kinds(alerts))
}

func TestWaitingNextEraSkipsTargetAlerts(t *testing.T) {
	f := facts(
		LedgerUpdated{Ledger: &Ledger{Stash: stash, Active: d(100)}},
		NominationUpdated{Nomination: &Nomination{Targets: []string{"v9"}, SubmittedIn: 5}},
		round(5),
		ExposuresUpdated{Exposures: []Exposure{{Validator: "v1"}}},
	)
	alerts := DeriveAlerts(Build(key(DirectNomination), f), f, AlertContext{})
	assert.Equal(t, []AlertKind{AlertWaitingNextEra}, kinds(alerts))
}

func TestRebag(t *testing.T) {
	factor := d(1)
	f := facts(
		LedgerUpdated{Ledger: &Ledger{Stash: stash, Active: d(100)}},
		NominationUpdated{Nomination: &Nomination{Targets: []string{"v1"}, SubmittedIn: 1}},
		round(5),
		BagListUpdated{Node: &BagListNode{BagUpper: d(50)}, ScoreFactor: &factor},
	)
	s := Build(key(DirectNomination), f)

	assert.True(t, NeedsRebag(s, f))
	assert.Equal(t, []AlertKind{AlertRebag}, kinds(DeriveAlerts(s, f, AlertContext{})))

	f.Apply(0, BagListUpdated{Node: &BagListNode{BagUpper: d(100)}})
	assert.False(t, NeedsRebag(Build(key(DirectNomination), f), f))
}

func TestUninitializedHasNoAlerts(t *testing.T) {
	f := facts(params(10, 1))
	assert.Nil(t, DeriveAlerts(Build(key(DirectNomination), f), f, AlertContext{}))
}

func TestDedupeKeepsFirst(t *testing.T) {
	in := []Alert{{Kind: AlertRebag}, {Kind: AlertLowStake, Amount: d(1)}, {Kind: AlertLowStake, Amount: d(2)}}
	out := dedupe(in)
	require.Len(t, out, 2)
	assert.True(t, out[1].Amount.Equal(d(1)))
}
