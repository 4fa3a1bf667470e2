package fee

import (
	"context"
	"errors"
	"strings"
	"sync"
	"sync/atomic"
	"testing"
	"time"

	"github.com/shopspring/decimal"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"staking-core/internal/staking"
	"staking-core/pkg/cache"
	"staking-core/pkg/errno"
)

const chain = "polkadot"

type fakeEncoder struct {
	epoch staking.Epoch
}

func (e *fakeEncoder) Encode(ctx context.Context, chain string, calls []staking.Call, epoch staking.Epoch) ([]byte, error) {
	parts := make([]string, 0, len(calls))
	for _, c := range calls {
		parts = append(parts, c.String())
	}
	return []byte(strings.Join(parts, "|")), nil
}

func (e *fakeEncoder) CurrentEpoch(ctx context.Context, chain string) (staking.Epoch, error) {
	return e.epoch, nil
}

// fakeEstimator 调用 "slow" 开头的函数时阻塞到 release 或 ctx 结束
type fakeEstimator struct {
	calls   atomic.Int32
	started chan struct{}
	release chan struct{}
	fail    atomic.Int32
}

func newEstimator() *fakeEstimator {
	return &fakeEstimator{started: make(chan struct{}, 16), release: make(chan struct{})}
}

func (f *fakeEstimator) EstimateFee(ctx context.Context, account staking.AccountKey, call []byte) (decimal.Decimal, error) {
	f.calls.Add(1)
	f.started <- struct{}{}
	if f.fail.Load() > 0 {
		f.fail.Add(-1)
		return decimal.Zero, errors.New("rpc unavailable")
	}
	if strings.Contains(string(call), ".slow") {
		select {
		case <-f.release:
		case <-ctx.Done():
			return decimal.Zero, ctx.Err()
		}
	}
	return decimal.NewFromInt(int64(len(call))), nil
}

func request(id, fn string) Request {
	return Request{
		Scope:      "polkadot:alice/claim",
		Identifier: id,
		Key:        staking.AccountKey{Account: "alice", Chain: chain},
		Calls:      []staking.Call{{Module: "NominationPools", Function: fn}},
	}
}

func newTestCache(est *fakeEstimator) *Cache {
	return NewCache(&fakeEncoder{epoch: 1}, est, cache.NewMemoryCache(time.Minute, time.Minute), time.Minute)
}

func TestConcurrentIdenticalRequestsCollapse(t *testing.T) {
	est := newEstimator()
	c := newTestCache(est)
	req := request("pool:claim:aa", "slow_claim")

	var wg sync.WaitGroup
	quotes := make([]Quote, 2)
	errs := make([]error, 2)
	for i := 0; i < 2; i++ {
		wg.Add(1)
		go func(i int) {
			defer wg.Done()
			quotes[i], errs[i] = c.EstimateFee(context.Background(), req)
		}(i)
		if i == 0 {
			<-est.started
		}
	}
	time.Sleep(20 * time.Millisecond)
	close(est.release)
	wg.Wait()

	require.NoError(t, errs[0])
	require.NoError(t, errs[1])
	assert.Equal(t, int32(1), est.calls.Load())
	assert.Equal(t, 1, c.Flights())
	assert.True(t, quotes[0].Amount.Equal(quotes[1].Amount))

	// 之后的请求直接命中
	q, err := c.EstimateFee(context.Background(), req)
	require.NoError(t, err)
	assert.Equal(t, int32(1), est.calls.Load())
	assert.Equal(t, staking.Epoch(1), q.Epoch)
}

func TestSupersededRequestNeverGetsLateResult(t *testing.T) {
	est := newEstimator()
	c := newTestCache(est)

	done := make(chan error, 1)
	go func() {
		_, err := c.EstimateFee(context.Background(), request("pool:claim:restake", "slow_bond_extra"))
		done <- err
	}()
	<-est.started

	q, err := c.EstimateFee(context.Background(), request("pool:claim:free", "claim_payout"))
	require.NoError(t, err)
	assert.Equal(t, "pool:claim:free", q.Identifier)

	select {
	case err := <-done:
		assert.True(t, errors.Is(err, errno.ErrFeeSuperseded), "got %v", err)
	case <-time.After(time.Second):
		t.Fatal("superseded caller still waiting")
	}

	_, ok := c.Current(chain, "pool:claim:restake")
	assert.False(t, ok)
}

func TestErrorsAreNotCached(t *testing.T) {
	est := newEstimator()
	est.fail.Store(1)
	c := newTestCache(est)
	req := request("pool:claim:bb", "claim_payout")

	_, err := c.EstimateFee(context.Background(), req)
	require.Error(t, err)
	assert.True(t, errors.Is(err, errno.ErrFeeEstimation))
	assert.True(t, errno.Retryable(err))
	_, ok := c.Current(chain, req.Identifier)
	assert.False(t, ok)

	q, err := c.EstimateFee(context.Background(), req)
	require.NoError(t, err)
	assert.True(t, q.Amount.IsPositive())
	assert.Equal(t, int32(2), est.calls.Load())
}

func TestEpochChangeInvalidatesQuotes(t *testing.T) {
	est := newEstimator()
	c := newTestCache(est)
	req := request("pool:claim:cc", "claim_payout")

	_, err := c.EstimateFee(context.Background(), req)
	require.NoError(t, err)
	_, ok := c.Current(chain, req.Identifier)
	require.True(t, ok)

	c.SetEpoch(chain, 2)
	_, ok = c.Current(chain, req.Identifier)
	assert.False(t, ok)

	q, err := c.EstimateFee(context.Background(), req)
	require.NoError(t, err)
	assert.Equal(t, staking.Epoch(2), q.Epoch)
	assert.Equal(t, int32(2), est.calls.Load())

	// 相同 epoch 不触发失效
	c.SetEpoch(chain, 2)
	_, ok = c.Current(chain, req.Identifier)
	assert.True(t, ok)
}

func TestInvalidateDropsQuote(t *testing.T) {
	est := newEstimator()
	c := newTestCache(est)
	req := request("pool:claim:dd", "claim_payout")

	_, err := c.EstimateFee(context.Background(), req)
	require.NoError(t, err)

	c.Invalidate(req.Identifier)
	_, ok := c.Current(chain, req.Identifier)
	assert.False(t, ok)

	q, err := c.EstimateFee(context.Background(), req)
	require.NoError(t, err)
	assert.Equal(t, uint64(1), q.Generation)
	assert.Equal(t, int32(2), est.calls.Load())
}

func TestCallerCancellationDoesNotAbortFlight(t *testing.T) {
	est := newEstimator()
	c := newTestCache(est)
	req := request("pool:claim:ee", "slow_claim")

	ctx, cancel := context.WithCancel(context.Background())
	done := make(chan error, 1)
	go func() {
		_, err := c.EstimateFee(ctx, req)
		done <- err
	}()
	<-est.started
	cancel()
	assert.ErrorIs(t, <-done, context.Canceled)

	close(est.release)
	require.Eventually(t, func() bool {
		_, ok := c.Current(chain, req.Identifier)
		return ok
	}, time.Second, 10*time.Millisecond)
}
