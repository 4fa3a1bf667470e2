package observer

import (
	"context"
	"encoding/json"
	"sync"
	"testing"
	"time"

	"github.com/shopspring/decimal"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"staking-core/internal/event"
	"staking-core/internal/service/mq"
	"staking-core/internal/staking"
)

var alice = staking.AccountKey{Account: "alice", Chain: "polkadot"}

func poolKey() staking.FactKey {
	return staking.FactKey{AccountKey: alice, Program: staking.NominationPool}
}

func anyKey() staking.FactKey {
	return staking.FactKey{AccountKey: alice, Program: staking.ProgramAny}
}

// collector 把快照送进 channel，测试按顺序读取
type collector struct {
	ch chan Snapshot
}

func newCollector() *collector {
	return &collector{ch: make(chan Snapshot, 64)}
}

func (c *collector) OnSnapshot(ctx context.Context, s Snapshot) {
	c.ch <- s
}

func (c *collector) next(t *testing.T) Snapshot {
	t.Helper()
	select {
	case s := <-c.ch:
		return s
	case <-time.After(time.Second):
		t.Fatal("no snapshot")
		return Snapshot{}
	}
}

type refresher struct {
	mu    sync.Mutex
	calls []staking.FactKey
}

func (r *refresher) RequestRefresh(ctx context.Context, key staking.FactKey, kinds []staking.DeltaKind, reason string) {
	r.mu.Lock()
	r.calls = append(r.calls, key)
	r.mu.Unlock()
}

func (r *refresher) count() int {
	r.mu.Lock()
	defer r.mu.Unlock()
	return len(r.calls)
}

func startObserver(t *testing.T, r RefreshRequester, l Listener) *FactObserver {
	t.Helper()
	o := NewFactObserver(Options{Buffer: 4}, r, l)
	require.NoError(t, o.Start(context.Background()))
	t.Cleanup(func() { _ = o.Stop() })
	return o
}

func member(points, counter int64) staking.Delta {
	return staking.PoolMemberUpdated{Member: &staking.PoolMember{
		PoolID:                    1,
		Points:                    decimal.NewFromInt(points),
		LastRecordedRewardCounter: decimal.NewFromInt(counter),
	}}
}

func pool(counter int64) staking.Delta {
	return staking.RewardPoolUpdated{Pool: &staking.RewardPool{
		PoolID:        1,
		RewardCounter: decimal.NewFromInt(counter),
		Points:        decimal.NewFromInt(100),
		Bonded:        decimal.NewFromInt(200),
	}}
}

func TestIngestBeforeStart(t *testing.T) {
	o := NewFactObserver(Options{}, nil)
	err := o.Ingest(context.Background(), staking.Update{Key: poolKey(), Delta: member(1, 0)})
	assert.ErrorIs(t, err, ErrNotRunning)
}

func TestIngestRejectsEmptyDelta(t *testing.T) {
	o := startObserver(t, nil, newCollector())
	err := o.Ingest(context.Background(), staking.Update{Key: poolKey()})
	require.Error(t, err)
}

func TestSharedFactsSeedNewPrograms(t *testing.T) {
	c := newCollector()
	o := startObserver(t, nil, c)
	ctx := context.Background()

	// 只有共享事实时还没有任何质押方式，不产生快照
	require.NoError(t, o.Ingest(ctx, staking.Update{Key: anyKey(), Delta: staking.RoundInfoUpdated{Round: &staking.RoundInfo{Current: 6}}}))
	require.NoError(t, o.Ingest(ctx, staking.Update{Key: poolKey(), Delta: member(100, 0)}))

	s := c.next(t)
	assert.Equal(t, staking.KindPendingNomination, s.Kind, "reward pool not loaded yet")
	assert.Equal(t, uint64(1), s.Version)

	require.NoError(t, o.Ingest(ctx, staking.Update{Key: poolKey(), Delta: pool(1)}))
	s = c.next(t)
	assert.Equal(t, staking.KindNominating, s.Kind)
	assert.Equal(t, uint64(2), s.Version)
	assert.True(t, s.State.Base().Active.Equal(decimal.NewFromInt(200)))
	assert.False(t, s.Informational)

	// 共享事实同样作用于已存在的质押方式
	price := decimal.NewFromInt(5)
	require.NoError(t, o.Ingest(ctx, staking.Update{Key: anyKey(), Delta: staking.PriceUpdated{Price: &price}}))
	s = c.next(t)
	got, ok := s.Facts.Price.Value()
	require.True(t, ok)
	assert.True(t, got.Equal(price))

	latest, ok := o.Latest(poolKey())
	require.True(t, ok)
	assert.Equal(t, uint64(3), latest.Version)
	assert.Len(t, o.Snapshots(alice), 1)
}

func TestUnchangedFactDoesNotRebuild(t *testing.T) {
	c := newCollector()
	o := startObserver(t, nil, c)
	ctx := context.Background()

	require.NoError(t, o.Ingest(ctx, staking.Update{Key: poolKey(), Seq: 2, Delta: member(100, 0)}))
	c.next(t)
	// 旧序号被丢弃
	require.NoError(t, o.Ingest(ctx, staking.Update{Key: poolKey(), Seq: 1, Delta: member(1, 0)}))
	require.NoError(t, o.Ingest(ctx, staking.Update{Key: poolKey(), Seq: 3, Delta: member(50, 0)}))

	s := c.next(t)
	assert.Equal(t, uint64(2), s.Version)
	m, _ := s.Facts.PoolMember.Value()
	assert.True(t, m.Points.Equal(decimal.NewFromInt(50)))
}

func TestPauseMarksInformationalAndResumeRebuilds(t *testing.T) {
	c := newCollector()
	o := startObserver(t, nil, c)
	ctx := context.Background()

	require.NoError(t, o.Ingest(ctx, staking.Update{Key: poolKey(), Delta: member(100, 0)}))
	c.next(t)

	o.Pause(alice)
	require.NoError(t, o.Ingest(ctx, staking.Update{Key: poolKey(), Delta: member(120, 0)}))
	s := c.next(t)
	assert.True(t, s.Informational)

	o.Resume(alice)
	s = c.next(t)
	assert.False(t, s.Informational)
	m, _ := s.Facts.PoolMember.Value()
	assert.True(t, m.Points.Equal(decimal.NewFromInt(120)), "resume rebuilds from the latest facts")
}

func TestPauseStampsLatestWithoutNewFact(t *testing.T) {
	c := newCollector()
	o := startObserver(t, nil, c)
	ctx := context.Background()

	require.NoError(t, o.Ingest(ctx, staking.Update{Key: poolKey(), Delta: member(100, 0)}))
	c.next(t)
	s, ok := o.Latest(poolKey())
	require.True(t, ok)
	require.False(t, s.Informational)

	o.Pause(alice)
	s, ok = o.Latest(poolKey())
	require.True(t, ok)
	assert.True(t, s.Informational)
	assert.Len(t, o.Snapshots(alice), 1)
	assert.True(t, o.Snapshots(alice)[0].Informational)

	o.Resume(alice)
	assert.False(t, c.next(t).Informational)
	s, _ = o.Latest(poolKey())
	assert.False(t, s.Informational)
}

func TestResumeAfterStopIsNoop(t *testing.T) {
	o := NewFactObserver(Options{}, nil)
	require.NoError(t, o.Start(context.Background()))
	o.Pause(alice)
	require.NoError(t, o.Stop())

	assert.NotPanics(t, func() { o.Resume(alice) })
	assert.NoError(t, o.Stop())
}

func TestRefreshRequestedOnceWhenCountersEqual(t *testing.T) {
	c := newCollector()
	r := &refresher{}
	o := startObserver(t, r, c)
	ctx := context.Background()

	require.NoError(t, o.Ingest(ctx, staking.Update{Key: anyKey(), Delta: staking.RoundInfoUpdated{Round: &staking.RoundInfo{Current: 6}}}))
	require.NoError(t, o.Ingest(ctx, staking.Update{Key: poolKey(), Delta: member(100, 5)}))
	c.next(t)
	require.NoError(t, o.Ingest(ctx, staking.Update{Key: poolKey(), Delta: pool(5)}))
	s := c.next(t)
	assert.True(t, s.State.Base().RefreshRewards)
	assert.Equal(t, 1, r.count())

	// 仍然相等，不重复请求
	require.NoError(t, o.Ingest(ctx, staking.Update{Key: anyKey(), Delta: staking.RoundInfoUpdated{Round: &staking.RoundInfo{Current: 7}}}))
	c.next(t)
	assert.Equal(t, 1, r.count())

	// 计数器前进后再次相等，重新请求
	require.NoError(t, o.Ingest(ctx, staking.Update{Key: poolKey(), Delta: pool(9)}))
	assert.False(t, c.next(t).State.Base().RefreshRewards)
	require.NoError(t, o.Ingest(ctx, staking.Update{Key: poolKey(), Delta: member(100, 9)}))
	assert.True(t, c.next(t).State.Base().RefreshRewards)
	assert.Equal(t, 2, r.count())
}

func TestHandleMessage(t *testing.T) {
	c := newCollector()
	o := startObserver(t, nil, c)

	payload, err := json.Marshal(event.FactEvent{
		Account: "alice",
		Chain:   "polkadot",
		Program: "pool",
		Kind:    "pool_member",
		Payload: json.RawMessage(`{"member":{"pool_id":1,"points":"10","last_recorded_reward_counter":"0"}}`),
	})
	require.NoError(t, err)
	require.NoError(t, o.HandleMessage(&mq.Message{ID: "1", Payload: payload}))
	assert.Equal(t, staking.NominationPool, c.next(t).Key.Program)

	// 格式错误的消息被丢弃，不返回错误
	assert.NoError(t, o.HandleMessage(&mq.Message{ID: "2", Payload: []byte("{")}))
	assert.NoError(t, o.HandleMessage(&mq.Message{ID: "3", Payload: []byte(`{"account":"alice","chain":"polkadot","kind":"weather"}`)}))
}

func TestStale(t *testing.T) {
	now := time.Date(2026, 1, 1, 0, 0, 0, 0, time.UTC)
	clock := now
	var mu sync.Mutex
	o := NewFactObserver(Options{Clock: func() time.Time {
		mu.Lock()
		defer mu.Unlock()
		return clock
	}}, nil)
	require.NoError(t, o.Start(context.Background()))
	defer o.Stop()

	require.NoError(t, o.Ingest(context.Background(), staking.Update{Key: poolKey(), Delta: member(1, 0)}))
	assert.Empty(t, o.Stale(time.Minute))

	mu.Lock()
	clock = now.Add(2 * time.Minute)
	mu.Unlock()
	assert.Equal(t, []staking.AccountKey{alice}, o.Stale(time.Minute))
}

func TestPipeCreatedByPauseIsNotStale(t *testing.T) {
	now := time.Date(2026, 1, 1, 0, 0, 0, 0, time.UTC)
	o := NewFactObserver(Options{Clock: func() time.Time { return now }}, nil)
	require.NoError(t, o.Start(context.Background()))
	defer o.Stop()

	o.Pause(alice)
	assert.Equal(t, 1, o.Pipes())
	assert.Empty(t, o.Stale(time.Minute))
}

func TestEvictIdlePipes(t *testing.T) {
	now := time.Date(2026, 1, 1, 0, 0, 0, 0, time.UTC)
	clock := now
	var mu sync.Mutex
	c := newCollector()
	o := NewFactObserver(Options{Clock: func() time.Time {
		mu.Lock()
		defer mu.Unlock()
		return clock
	}}, nil, c)
	require.NoError(t, o.Start(context.Background()))
	defer o.Stop()
	ctx := context.Background()

	bob := staking.AccountKey{Account: "bob", Chain: "polkadot"}
	require.NoError(t, o.Ingest(ctx, staking.Update{Key: poolKey(), Delta: member(1, 0)}))
	c.next(t)
	require.NoError(t, o.Ingest(ctx, staking.Update{Key: staking.FactKey{AccountKey: bob, Program: staking.NominationPool}, Delta: member(2, 0)}))
	c.next(t)
	o.Pause(bob)

	assert.Zero(t, o.Evict(time.Hour))

	mu.Lock()
	clock = now.Add(2 * time.Hour)
	mu.Unlock()

	// bob 暂停中，保留
	assert.Equal(t, 1, o.Evict(time.Hour))
	assert.Equal(t, 1, o.Pipes())
	_, ok := o.Latest(poolKey())
	assert.False(t, ok)
	_, ok = o.Latest(staking.FactKey{AccountKey: bob, Program: staking.NominationPool})
	assert.True(t, ok)

	// 淘汰后的账户收到新事实时重新建队列，版本从头开始
	require.NoError(t, o.Ingest(ctx, staking.Update{Key: poolKey(), Delta: member(3, 0)}))
	s := c.next(t)
	assert.Equal(t, uint64(1), s.Version)
	assert.Equal(t, 2, o.Pipes())
}

func TestStopEndsIngest(t *testing.T) {
	o := NewFactObserver(Options{}, nil)
	require.NoError(t, o.Start(context.Background()))
	require.NoError(t, o.Stop())
	err := o.Ingest(context.Background(), staking.Update{Key: poolKey(), Delta: member(1, 0)})
	assert.ErrorIs(t, err, ErrNotRunning)
}
