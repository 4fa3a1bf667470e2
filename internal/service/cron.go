package service

import (
	"context"
	"time"

	"github.com/robfig/cron/v3"
	"go.uber.org/zap"

	"staking-core/internal/service/fee"
	"staking-core/internal/service/observer"
	"staking-core/internal/staking"
	"staking-core/pkg/logger"
	"staking-core/pkg/utils/lock"
)

// StaleSource 能列出长时间没有收到事实的账户
type StaleSource interface {
	Stale(olderThan time.Duration) []staking.AccountKey
}

// Evictor 能释放长时间空闲的队列，*observer.FactObserver 实现它
type Evictor interface {
	Evict(idle time.Duration) int
}

// EpochSource 当前 runtime 版本
type EpochSource interface {
	CurrentEpoch(ctx context.Context, chain string) (staking.Epoch, error)
}

// EpochTracker 记录每条链的版本，*fee.Cache 实现它
type EpochTracker interface {
	Epoch(chain string) (staking.Epoch, bool)
	SetEpoch(chain string, e staking.Epoch)
}

var _ EpochTracker = (*fee.Cache)(nil)

type CronConfig struct {
	// 过期检查的调度表达式，例如 "@every 1m"
	StaleSpec  string
	StaleAfter time.Duration
	// 空闲超过 EvictAfter 的队列被释放，0 表示不释放
	EvictAfter time.Duration
	// runtime 版本检查，为空时不注册
	EpochSpec string
	Chains    []string
}

// CronService 定时任务:
// 1. 事实过期的账户请求上游重新拉取
// 2. 轮询 runtime 版本，升级后清空手续费缓存
// 多实例部署时用分布式锁保证只有一个节点执行
type CronService struct {
	cron      *cron.Cron
	locker    lock.DistributedLock
	stale     StaleSource
	refresher observer.RefreshRequester
	epochs    EpochSource
	fees      EpochTracker
	cfg       CronConfig
}

func NewCronService(locker lock.DistributedLock, stale StaleSource, refresher observer.RefreshRequester, epochs EpochSource, fees EpochTracker, cfg CronConfig) *CronService {
	if cfg.StaleSpec == "" {
		cfg.StaleSpec = "@every 1m"
	}
	if cfg.StaleAfter <= 0 {
		cfg.StaleAfter = 10 * time.Minute
	}
	return &CronService{
		cron:      cron.New(),
		locker:    locker,
		stale:     stale,
		refresher: refresher,
		epochs:    epochs,
		fees:      fees,
		cfg:       cfg,
	}
}

func (s *CronService) Start() error {
	if _, err := s.cron.AddFunc(s.cfg.StaleSpec, func() {
		s.RefreshStale(context.Background())
		s.EvictIdle()
	}); err != nil {
		return err
	}
	if s.cfg.EpochSpec != "" && s.epochs != nil && s.fees != nil {
		if _, err := s.cron.AddFunc(s.cfg.EpochSpec, func() { s.SyncEpochs(context.Background()) }); err != nil {
			return err
		}
	}

	s.cron.Start()
	logger.Info("Cron Service started", zap.String("stale_spec", s.cfg.StaleSpec), zap.String("epoch_spec", s.cfg.EpochSpec))
	return nil
}

func (s *CronService) Stop() {
	<-s.cron.Stop().Done()
	logger.Info("Cron Service stopped")
}

// withLock 获取分布式锁，获取失败说明有其他节点在运行，跳过
func (s *CronService) withLock(ctx context.Context, key string, ttl time.Duration, fn func()) {
	locked, err := s.locker.Acquire(ctx, key, ttl)
	if err != nil || !locked {
		logger.Debug("cron job skipped, lock held elsewhere", zap.String("lock", key), zap.Error(err))
		return
	}
	defer s.locker.Release(ctx, key)
	fn()
}

// RefreshStale 对所有质押方式请求刷新全部事实
func (s *CronService) RefreshStale(ctx context.Context) int {
	var n int
	s.withLock(ctx, "cron:lock:stale_facts", 30*time.Second, func() {
		for _, key := range s.stale.Stale(s.cfg.StaleAfter) {
			s.refresher.RequestRefresh(ctx, staking.FactKey{AccountKey: key, Program: staking.ProgramAny}, nil, "stale_facts")
			n++
		}
	})
	if n > 0 {
		logger.Info("requested refresh for stale accounts", zap.Int("count", n))
	}
	return n
}

// EvictIdle 每个节点各自的内存队列，不需要分布式锁
func (s *CronService) EvictIdle() int {
	ev, ok := s.stale.(Evictor)
	if !ok || s.cfg.EvictAfter <= 0 {
		return 0
	}
	return ev.Evict(s.cfg.EvictAfter)
}

// SyncEpochs 版本变化时 fee.Cache.SetEpoch 会丢弃该链的所有报价
func (s *CronService) SyncEpochs(ctx context.Context) {
	for _, chain := range s.cfg.Chains {
		e, err := s.epochs.CurrentEpoch(ctx, chain)
		if err != nil {
			logger.Warn("read runtime version failed", zap.String("chain", chain), zap.Error(err))
			continue
		}
		if prev, ok := s.fees.Epoch(chain); !ok || prev != e {
			s.fees.SetEpoch(chain, e)
			logger.Info("runtime upgraded, fee quotes dropped", zap.String("chain", chain), zap.Uint64("from", uint64(prev)), zap.Uint64("to", uint64(e)))
		}
	}
}
