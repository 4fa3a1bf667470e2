package service

import (
	"context"
	"errors"
	"sync"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"

	"staking-core/internal/staking"
	"staking-core/pkg/utils/lock"
)

type staleList []staking.AccountKey

func (s staleList) Stale(time.Duration) []staking.AccountKey { return s }

type refreshLog struct {
	mu   sync.Mutex
	keys []staking.FactKey
}

func (r *refreshLog) RequestRefresh(ctx context.Context, key staking.FactKey, kinds []staking.DeltaKind, reason string) {
	r.mu.Lock()
	r.keys = append(r.keys, key)
	r.mu.Unlock()
}

type epochs map[string]staking.Epoch

func (e epochs) CurrentEpoch(ctx context.Context, chain string) (staking.Epoch, error) {
	v, ok := e[chain]
	if !ok {
		return 0, errors.New("unknown chain")
	}
	return v, nil
}

type tracker struct {
	set map[string]staking.Epoch
}

func (t *tracker) Epoch(chain string) (staking.Epoch, bool) {
	e, ok := t.set[chain]
	return e, ok
}

func (t *tracker) SetEpoch(chain string, e staking.Epoch) { t.set[chain] = e }

func TestRefreshStale(t *testing.T) {
	r := &refreshLog{}
	keys := staleList{{Account: "alice", Chain: "polkadot"}, {Account: "bob", Chain: "kusama"}}
	s := NewCronService(lock.NewLocalLock(), keys, r, nil, nil, CronConfig{})

	assert.Equal(t, 2, s.RefreshStale(context.Background()))
	assert.Equal(t, staking.ProgramAny, r.keys[0].Program)
	assert.Equal(t, "bob", r.keys[1].Account)
}

func TestRefreshStaleSkipsWhenLocked(t *testing.T) {
	l := lock.NewLocalLock()
	_, _ = l.Acquire(context.Background(), "cron:lock:stale_facts", time.Minute)

	r := &refreshLog{}
	s := NewCronService(l, staleList{{Account: "alice", Chain: "polkadot"}}, r, nil, nil, CronConfig{})
	assert.Zero(t, s.RefreshStale(context.Background()))
	assert.Empty(t, r.keys)
}

type evictingList struct {
	staleList
	idle []time.Duration
}

func (e *evictingList) Evict(idle time.Duration) int {
	e.idle = append(e.idle, idle)
	return len(e.staleList)
}

func TestEvictIdle(t *testing.T) {
	src := &evictingList{staleList: staleList{{Account: "alice", Chain: "polkadot"}}}
	s := NewCronService(lock.NewLocalLock(), src, &refreshLog{}, nil, nil, CronConfig{EvictAfter: time.Hour})
	assert.Equal(t, 1, s.EvictIdle())
	assert.Equal(t, []time.Duration{time.Hour}, src.idle)

	// 未配置时不释放
	off := &evictingList{staleList: staleList{{Account: "alice", Chain: "polkadot"}}}
	assert.Zero(t, NewCronService(lock.NewLocalLock(), off, &refreshLog{}, nil, nil, CronConfig{}).EvictIdle())
	assert.Empty(t, off.idle)

	// 不支持淘汰的来源
	assert.Zero(t, NewCronService(lock.NewLocalLock(), staleList{}, &refreshLog{}, nil, nil, CronConfig{EvictAfter: time.Hour}).EvictIdle())
}

func TestSyncEpochs(t *testing.T) {
	tr := &tracker{set: map[string]staking.Epoch{"polkadot": 1000}}
	s := NewCronService(lock.NewLocalLock(), staleList{}, &refreshLog{}, epochs{"polkadot": 1001, "kusama": 9}, tr, CronConfig{Chains: []string{"polkadot", "kusama", "westend"}})

	s.SyncEpochs(context.Background())
	assert.Equal(t, staking.Epoch(1001), tr.set["polkadot"])
	assert.Equal(t, staking.Epoch(9), tr.set["kusama"])
	_, ok := tr.set["westend"]
	assert.False(t, ok)
}
