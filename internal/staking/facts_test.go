package staking

import (
	"testing"

	"github.com/shopspring/decimal"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestApplyIsIdempotent(t *testing.T) {
	member := &PoolMember{PoolID: 3, Points: d(100), LastRecordedRewardCounter: d(5)}
	delta := PoolMemberUpdated{Member: member}

	var once Facts
	once.Apply(7, delta)

	var twice Facts
	twice.Apply(7, delta)
	changed := twice.Apply(7, delta)

	assert.False(t, changed)
	assert.Equal(t, once, twice)

	// 没有序号的增量重复应用也只是覆盖
	var unseq Facts
	unseq.Apply(0, delta)
	unseq.Apply(0, delta)
	got, ok := unseq.PoolMember.Value()
	require.True(t, ok)
	assert.True(t, got.Points.Equal(d(100)))
}

func TestApplyLastWriterWinsPerField(t *testing.T) {
	var f Facts
	f.Apply(5, LedgerUpdated{Ledger: &Ledger{Active: d(50)}})
	f.Apply(3, NominationUpdated{Nomination: &Nomination{Targets: []string{"v1"}}})

	// 旧序号的账本被丢弃，提名不受影响
	assert.False(t, f.Apply(4, LedgerUpdated{Ledger: &Ledger{Active: d(40)}}))
	assert.True(t, f.Apply(4, NominationUpdated{Nomination: &Nomination{Targets: []string{"v2"}}}))

	l, _ := f.Ledger.Value()
	n, _ := f.Nomination.Value()
	assert.True(t, l.Active.Equal(d(50)))
	assert.Equal(t, []string{"v2"}, n.Targets)
	assert.Equal(t, uint64(5), f.Ledger.Seq())
}

func TestApplyAbsentMarksLoaded(t *testing.T) {
	var f Facts
	assert.False(t, f.Nomination.Loaded())

	f.Apply(0, NominationUpdated{})
	assert.True(t, f.Nomination.Loaded())
	assert.False(t, f.Nomination.Present())
}

func TestApplyCopiesInput(t *testing.T) {
	targets := []string{"v1", "v2"}
	var f Facts
	f.Apply(0, NominationUpdated{Nomination: &Nomination{Targets: targets}})
	targets[0] = "mutated"

	n, _ := f.Nomination.Value()
	assert.Equal(t, "v1", n.Targets[0])
}

func TestStakingParamsLeaveNilFields(t *testing.T) {
	var f Facts
	min := d(10)
	ed := d(1)
	f.Apply(0, StakingParamsUpdated{MinStake: &min, ExistentialDeposit: &ed})

	max := uint32(512)
	f.Apply(0, StakingParamsUpdated{MaxRewardedBackers: &max})

	gotMin, ok := f.MinStake.Value()
	require.True(t, ok)
	assert.True(t, gotMin.Equal(min))
	gotMax, _ := f.MaxRewardedBackers.Value()
	assert.Equal(t, uint32(512), gotMax)

	factor := decimal.NewFromInt(2)
	f.Apply(0, BagListUpdated{Node: &BagListNode{BagUpper: d(10)}, ScoreFactor: &factor})
	f.Apply(0, BagListUpdated{Node: &BagListNode{BagUpper: d(20)}})
	gotFactor, ok := f.BagListScoreFactor.Value()
	require.True(t, ok)
	assert.True(t, gotFactor.Equal(factor))
}

func TestProgramText(t *testing.T) {
	for _, p := range Programs {
		b, err := p.MarshalText()
		require.NoError(t, err)
		var back Program
		require.NoError(t, back.UnmarshalText(b))
		assert.Equal(t, p, back)
	}
	_, err := ParseProgram("solo")
	assert.Error(t, err)
}
