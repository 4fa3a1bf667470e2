package fee

import (
	"context"
	"errors"
	"fmt"
	"strconv"
	"strings"
	"sync"
	"time"

	"github.com/shopspring/decimal"
	"go.uber.org/zap"
	"golang.org/x/sync/singleflight"

	"staking-core/internal/staking"
	"staking-core/pkg/cache"
	"staking-core/pkg/errno"
	"staking-core/pkg/logger"
	"staking-core/pkg/monitor"
)

// Quote 手续费报价，只在 Epoch 和 Generation 都是当前值时有效
type Quote struct {
	Identifier string          `json:"identifier"`
	Chain      string          `json:"chain"`
	Amount     decimal.Decimal `json:"amount"`
	Epoch      staking.Epoch   `json:"epoch"`
	Generation uint64          `json:"generation"`
	ComputedAt time.Time       `json:"computed_at"`
}

// Request 一次估算请求
// Scope 相同而 Identifier 不同的新请求会取代旧请求
type Request struct {
	Scope      string
	Identifier string
	Key        staking.AccountKey
	Calls      []staking.Call
}

// RequestFor 从领取请求构造估算请求
func RequestFor(r *staking.ClaimRequest) Request {
	return Request{
		Scope:      r.Scope(),
		Identifier: r.ReuseIdentifier(),
		Key:        r.Key().AccountKey,
		Calls:      r.Calls(),
	}
}

// scope 一个作用域当前的估算
type scope struct {
	identifier string
	chain      string
	serial     uint64
	ctx        context.Context
	cancel     context.CancelFunc
	// 被取消的原因: ErrFeeSuperseded 或 ErrFeeStale
	reason error
}

// Cache 手续费估算缓存
//   - 相同 identifier 的并发请求合并成一次估算 (singleflight)
//   - 结果存入 pkg/cache，一个 epoch 内每个 identifier 只估算一次
//   - 错误不缓存
type Cache struct {
	encoder   staking.CallEncoder
	estimator staking.FeeEstimator
	store     cache.Cache
	ttl       time.Duration
	now       func() time.Time

	group singleflight.Group

	mu      sync.Mutex
	epochs  map[string]staking.Epoch
	gens    map[string]uint64
	stored  map[string]string // identifier -> 最近一次写入的 store key
	scopes  map[string]*scope
	serial  uint64
	flights int
}

func NewCache(encoder staking.CallEncoder, estimator staking.FeeEstimator, store cache.Cache, ttl time.Duration) *Cache {
	return &Cache{
		encoder:   encoder,
		estimator: estimator,
		store:     store,
		ttl:       ttl,
		now:       time.Now,
		epochs:    make(map[string]staking.Epoch),
		gens:      make(map[string]uint64),
		stored:    make(map[string]string),
		scopes:    make(map[string]*scope),
	}
}

func storeKey(chain string, epoch staking.Epoch, gen uint64, id string) string {
	return fmt.Sprintf("fee:%s:%d:%d:%s", chain, epoch, gen, id)
}

// EstimateFee 返回当前 epoch 下该 identifier 的报价
func (c *Cache) EstimateFee(ctx context.Context, req Request) (Quote, error) {
	chain := req.Key.Chain
	if err := c.ensureEpoch(ctx, chain); err != nil {
		return Quote{}, err
	}

	c.mu.Lock()
	epoch := c.epochs[chain]
	gen := c.gens[req.Identifier]
	key := storeKey(chain, epoch, gen, req.Identifier)
	sc := c.enterScope(req, chain)
	c.mu.Unlock()

	var q Quote
	if err := c.store.Get(ctx, key, &q); err == nil {
		monitor.Staking.FeeHit()
		return q, nil
	}

	// 同一作用域实例内合并；被取代后重新进入的请求不会挂到已取消的旧估算上
	flightKey := key + "#" + strconv.FormatUint(sc.serial, 10)
	ch := c.group.DoChan(flightKey, func() (interface{}, error) {
		return c.estimate(sc.ctx, req, epoch, gen, key)
	})

	select {
	case <-ctx.Done():
		return Quote{}, ctx.Err()
	case <-sc.ctx.Done():
		return Quote{}, c.cancelReason(sc)
	case res := <-ch:
		if res.Err != nil {
			return Quote{}, res.Err
		}
		q = res.Val.(Quote)
	}

	c.mu.Lock()
	defer c.mu.Unlock()
	if cur, ok := c.scopes[req.Scope]; ok && cur.identifier != req.Identifier {
		return Quote{}, errno.Wrapf(errno.ErrFeeSuperseded, "identifier %s", req.Identifier)
	}
	if c.epochs[chain] != epoch || c.gens[req.Identifier] != gen {
		return Quote{}, errno.Wrapf(errno.ErrFeeStale, "identifier %s", req.Identifier)
	}
	return q, nil
}

// enterScope 调用方持有锁
func (c *Cache) enterScope(req Request, chain string) *scope {
	if sc, ok := c.scopes[req.Scope]; ok {
		if sc.identifier == req.Identifier && sc.ctx.Err() == nil {
			return sc
		}
		if sc.identifier != req.Identifier {
			sc.reason = errno.Wrapf(errno.ErrFeeSuperseded, "identifier %s replaced by %s", sc.identifier, req.Identifier)
			sc.cancel()
		}
	}
	ctx, cancel := context.WithCancel(context.Background())
	c.serial++
	sc := &scope{identifier: req.Identifier, chain: chain, serial: c.serial, ctx: ctx, cancel: cancel}
	c.scopes[req.Scope] = sc
	return sc
}

func (c *Cache) cancelReason(sc *scope) error {
	c.mu.Lock()
	defer c.mu.Unlock()
	if sc.reason != nil {
		return sc.reason
	}
	return errno.Wrapf(errno.ErrFeeSuperseded, "identifier %s", sc.identifier)
}

// estimate 真正的估算，运行在作用域的 ctx 上，不受单个调用方取消的影响
func (c *Cache) estimate(ctx context.Context, req Request, epoch staking.Epoch, gen uint64, key string) (Quote, error) {
	log := logger.Named("fee")
	c.mu.Lock()
	c.flights++
	c.mu.Unlock()

	call, err := c.encoder.Encode(ctx, req.Key.Chain, req.Calls, epoch)
	if err != nil {
		return Quote{}, c.failed(ctx, req, err)
	}
	amount, err := c.estimator.EstimateFee(ctx, req.Key, call)
	if err != nil {
		return Quote{}, c.failed(ctx, req, err)
	}
	if ctx.Err() != nil {
		monitor.Staking.FeeEstimated("superseded")
		return Quote{}, errno.Wrapf(errno.ErrFeeSuperseded, "identifier %s", req.Identifier)
	}

	q := Quote{
		Identifier: req.Identifier,
		Chain:      req.Key.Chain,
		Amount:     amount,
		Epoch:      epoch,
		Generation: gen,
		ComputedAt: c.now(),
	}

	c.mu.Lock()
	current := c.epochs[req.Key.Chain] == epoch && c.gens[req.Identifier] == gen
	if current {
		c.stored[req.Identifier] = key
	}
	c.mu.Unlock()
	if !current {
		monitor.Staking.FeeEstimated("stale")
		return Quote{}, errno.Wrapf(errno.ErrFeeStale, "identifier %s", req.Identifier)
	}

	if err := c.store.Set(context.Background(), key, q, c.ttl); err != nil {
		log.Warn("store fee quote failed", zap.String("identifier", req.Identifier), zap.Error(err))
	}
	monitor.Staking.FeeEstimated("ok")
	log.Debug("fee estimated",
		zap.String("identifier", req.Identifier),
		zap.String("amount", amount.String()),
		zap.Uint64("epoch", uint64(epoch)),
	)
	return q, nil
}

func (c *Cache) failed(ctx context.Context, req Request, err error) error {
	if ctx.Err() != nil {
		monitor.Staking.FeeEstimated("superseded")
		return errno.Wrapf(errno.ErrFeeSuperseded, "identifier %s", req.Identifier)
	}
	monitor.Staking.FeeEstimated("error")
	logger.Named("fee").Warn("fee estimation failed", zap.String("identifier", req.Identifier), zap.Error(err))
	if errors.Is(err, errno.ErrFeeEstimation) {
		return err
	}
	return errno.Wrap(errno.ErrFeeEstimation, err)
}

func (c *Cache) ensureEpoch(ctx context.Context, chain string) error {
	c.mu.Lock()
	_, ok := c.epochs[chain]
	c.mu.Unlock()
	if ok {
		return nil
	}
	e, err := c.encoder.CurrentEpoch(ctx, chain)
	if err != nil {
		return errno.Wrap(errno.ErrFeeEstimation, err)
	}
	c.mu.Lock()
	if _, ok := c.epochs[chain]; !ok {
		c.epochs[chain] = e
	}
	c.mu.Unlock()
	return nil
}

// Current 当前有效的报价，校验器通过它读取手续费
func (c *Cache) Current(chain, identifier string) (Quote, bool) {
	c.mu.Lock()
	epoch, ok := c.epochs[chain]
	gen := c.gens[identifier]
	c.mu.Unlock()
	if !ok {
		return Quote{}, false
	}
	var q Quote
	if err := c.store.Get(context.Background(), storeKey(chain, epoch, gen, identifier), &q); err != nil {
		return Quote{}, false
	}
	return q, true
}

// Invalidate 丢弃该 identifier 的报价，进行中的估算结果也不再被接受
func (c *Cache) Invalidate(identifier string) {
	c.mu.Lock()
	c.gens[identifier]++
	key, ok := c.stored[identifier]
	delete(c.stored, identifier)
	c.mu.Unlock()
	if ok {
		_ = c.store.Delete(context.Background(), key)
	}
}

// SetEpoch 运行时版本变化: 该链所有报价作废，进行中的估算被取消
func (c *Cache) SetEpoch(chain string, e staking.Epoch) {
	c.mu.Lock()
	if old, ok := c.epochs[chain]; ok && old == e {
		c.mu.Unlock()
		return
	}
	c.epochs[chain] = e
	var drop []string
	prefix := "fee:" + chain + ":"
	for id, key := range c.stored {
		if !strings.HasPrefix(key, prefix) {
			continue
		}
		drop = append(drop, key)
		delete(c.stored, id)
	}
	for name, sc := range c.scopes {
		if sc.chain != chain {
			continue
		}
		sc.reason = errno.Wrapf(errno.ErrFeeStale, "runtime epoch changed to %d", e)
		sc.cancel()
		delete(c.scopes, name)
	}
	c.mu.Unlock()

	for _, key := range drop {
		_ = c.store.Delete(context.Background(), key)
	}
	logger.Named("fee").Info("fee epoch changed", zap.String("chain", chain), zap.Uint64("epoch", uint64(e)))
}

// Epoch 当前记录的运行时版本
func (c *Cache) Epoch(chain string) (staking.Epoch, bool) {
	c.mu.Lock()
	defer c.mu.Unlock()
	e, ok := c.epochs[chain]
	return e, ok
}

// Release 动作结束后释放作用域
func (c *Cache) Release(scopeName string) {
	c.mu.Lock()
	defer c.mu.Unlock()
	if sc, ok := c.scopes[scopeName]; ok {
		sc.cancel()
		delete(c.scopes, scopeName)
	}
}

// Flights 实际发起的估算次数
func (c *Cache) Flights() int {
	c.mu.Lock()
	defer c.mu.Unlock()
	return c.flights
}
