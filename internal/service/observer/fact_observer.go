package observer

import (
	"context"
	"encoding/json"
	"errors"
	"sort"
	"sync"
	"sync/atomic"
	"time"

	"go.uber.org/zap"

	"staking-core/internal/event"
	"staking-core/internal/service/mq"
	"staking-core/internal/staking"
	"staking-core/pkg/errno"
	"staking-core/pkg/logger"
	"staking-core/pkg/monitor"
)

// ErrNotRunning Start 之前或 Stop 之后调用
var ErrNotRunning = errors.New("fact observer is not running")

type Options struct {
	// 每个 (账户, 链) 队列的长度
	Buffer int
	// 按链给出资产精度
	AlertContext func(chain string) staking.AlertContext
	Clock        func() time.Time
}

// FactObserver 事实接入中心
// 核心设计:
// 1. 每个 (账户, 链) 一个有界 channel，Ingest 是生产者，满了就阻塞 (背压)
// 2. 每个 channel 只有一个消费协程，独占该账户的 Facts，按到达顺序应用
// 3. 每次事实变化后重建状态，把快照推给 Listener
type FactObserver struct {
	opts      Options
	listeners []Listener
	refresher RefreshRequester
	log       *zap.Logger

	mu     sync.RWMutex
	ctx    context.Context
	cancel context.CancelFunc
	pipes  map[staking.AccountKey]*pipe
	latest map[staking.FactKey]Snapshot
	wg     sync.WaitGroup
}

// pipe 单个 (账户, 链) 的队列和它独占的事实
type pipe struct {
	key    staking.AccountKey
	ch     chan command
	paused atomic.Bool
	// 创建或最近一次接收增量的时间 (unix nano)
	touched atomic.Int64
	// 淘汰时只停这一个消费协程
	ctx    context.Context
	cancel context.CancelFunc

	// 以下字段只由消费协程访问
	base      staking.Facts
	facts     map[staking.Program]*staking.Facts
	versions  map[staking.Program]uint64
	refreshed map[staking.Program]bool
}

type command struct {
	update  *staking.Update
	rebuild bool
}

func NewFactObserver(opts Options, refresher RefreshRequester, listeners ...Listener) *FactObserver {
	if opts.Buffer <= 0 {
		opts.Buffer = 64
	}
	if opts.Clock == nil {
		opts.Clock = time.Now
	}
	if opts.AlertContext == nil {
		opts.AlertContext = func(string) staking.AlertContext { return staking.AlertContext{} }
	}
	return &FactObserver{
		opts:      opts,
		listeners: listeners,
		refresher: refresher,
		log:       logger.Named("observer"),
		pipes:     make(map[staking.AccountKey]*pipe),
		latest:    make(map[staking.FactKey]Snapshot),
	}
}

// Start 启动后队列按需创建
func (o *FactObserver) Start(ctx context.Context) error {
	o.mu.Lock()
	defer o.mu.Unlock()
	if o.ctx != nil && o.ctx.Err() == nil {
		return nil
	}
	o.ctx, o.cancel = context.WithCancel(ctx)
	o.log.Info("fact observer started", zap.Int("buffer", o.opts.Buffer))
	return nil
}

// Stop 通知所有消费协程退出并等待
func (o *FactObserver) Stop() error {
	o.mu.Lock()
	cancel := o.cancel
	o.mu.Unlock()
	if cancel != nil {
		cancel()
	}
	o.wg.Wait()
	return nil
}

func (o *FactObserver) running() (context.Context, bool) {
	o.mu.RLock()
	defer o.mu.RUnlock()
	if o.ctx == nil || o.ctx.Err() != nil {
		return nil, false
	}
	return o.ctx, true
}

// pipeFor 取出或创建队列，创建时启动消费协程
// touch 为 true 表示收到了增量，刷新过期计时
func (o *FactObserver) pipeFor(key staking.AccountKey, touch bool) (*pipe, error) {
	o.mu.Lock()
	defer o.mu.Unlock()
	if o.ctx == nil || o.ctx.Err() != nil {
		return nil, ErrNotRunning
	}
	p, ok := o.pipes[key]
	if !ok {
		p = &pipe{
			key:       key,
			ch:        make(chan command, o.opts.Buffer),
			facts:     make(map[staking.Program]*staking.Facts),
			versions:  make(map[staking.Program]uint64),
			refreshed: make(map[staking.Program]bool),
		}
		p.ctx, p.cancel = context.WithCancel(o.ctx)
		o.pipes[key] = p
		monitor.Staking.PipeOpened()

		o.wg.Add(1)
		go o.consume(p)
	}
	if touch || !ok {
		p.touched.Store(o.opts.Clock().UnixNano())
	}
	return p, nil
}

// Ingest 放入队列，满了阻塞到有空位或 ctx 结束
func (o *FactObserver) Ingest(ctx context.Context, u staking.Update) error {
	if u.Delta == nil {
		monitor.Staking.FactRejected("empty_delta")
		return errno.Wrapf(errno.ErrFactIngestion, "empty delta for %s", u.Key)
	}
	if u.Key.Account == "" || u.Key.Chain == "" {
		monitor.Staking.FactRejected("missing_key")
		return errno.Wrapf(errno.ErrFactIngestion, "fact without account or chain")
	}
	for {
		p, err := o.pipeFor(u.Key.AccountKey, true)
		if err != nil {
			return err
		}
		select {
		case p.ch <- command{update: &u}:
			return nil
		case <-ctx.Done():
			return ctx.Err()
		case <-p.ctx.Done():
			// 队列被淘汰，重新取一次；observer 已停止时 pipeFor 返回 ErrNotRunning
		}
	}
}

func (o *FactObserver) consume(p *pipe) {
	defer o.wg.Done()
	defer monitor.Staking.PipeClosed()

	ctx := p.ctx
	for {
		select {
		case <-ctx.Done():
			return
		case cmd := <-p.ch:
			if cmd.update != nil {
				o.apply(ctx, p, *cmd.update)
			}
			if cmd.rebuild {
				for _, prog := range p.programs() {
					o.rebuild(ctx, p, prog)
				}
			}
		}
	}
}

// programs 已经出现过专属增量的质押方式，按固定顺序
func (p *pipe) programs() []staking.Program {
	out := make([]staking.Program, 0, len(p.facts))
	for prog := range p.facts {
		out = append(out, prog)
	}
	sort.Slice(out, func(i, j int) bool { return out[i] < out[j] })
	return out
}

// apply ProgramAny 的增量写入共享基线和所有已存在的质押方式
// 新出现的质押方式从基线的副本开始
func (o *FactObserver) apply(ctx context.Context, p *pipe, u staking.Update) {
	kind := string(u.Delta.Kind())
	monitor.Staking.FactIngested(kind)

	if u.Key.Program == staking.ProgramAny {
		p.base.Apply(u.Seq, u.Delta)
		for _, prog := range p.programs() {
			if p.facts[prog].Apply(u.Seq, u.Delta) {
				o.rebuild(ctx, p, prog)
			}
		}
		return
	}

	f, ok := p.facts[u.Key.Program]
	if !ok {
		clone := p.base.Clone()
		f = &clone
		p.facts[u.Key.Program] = f
	}
	if f.Apply(u.Seq, u.Delta) || !ok {
		o.rebuild(ctx, p, u.Key.Program)
	} else {
		o.log.Debug("fact unchanged", zap.String("key", u.Key.String()), zap.String("kind", kind), zap.Uint64("seq", u.Seq))
	}
}

func (o *FactObserver) rebuild(ctx context.Context, p *pipe, prog staking.Program) {
	key := staking.FactKey{AccountKey: p.key, Program: prog}
	facts := p.facts[prog].Clone()

	state := staking.Build(key, facts)
	alerts := staking.DeriveAlerts(state, facts, o.opts.AlertContext(key.Chain))
	actions := staking.DeriveActions(state, facts)

	p.versions[prog]++
	snap := Snapshot{
		Key:     key,
		Kind:    state.Kind(),
		State:   state,
		Alerts:  alerts,
		Actions: actions,
		Version: p.versions[prog],
		BuiltAt: o.opts.Clock(),
		Facts:   facts,
	}

	// 在锁内读 paused，和 Pause 的补标记互斥
	o.mu.Lock()
	snap.Informational = p.paused.Load()
	o.latest[key] = snap
	o.mu.Unlock()

	monitor.Staking.Rebuilt(prog.String(), state.Kind().String())
	for _, a := range alerts {
		monitor.Staking.Alert(a.Kind.String())
	}
	for _, l := range o.listeners {
		l.OnSnapshot(ctx, snap)
	}

	// 计数器相等只在状态变成需要刷新时请求一次
	need := state.Base().RefreshRewards
	if need && !p.refreshed[prog] && o.refresher != nil {
		o.refresher.RequestRefresh(ctx, key, []staking.DeltaKind{staking.KindClaimableRewards, staking.KindRewardPool, staking.KindCollators}, "reward_counters_equal")
	}
	p.refreshed[prog] = need
}

// Pause 提交进行中: 已有快照立即改为 informational，之后的重建也一样
// 不通知 Listener，Listener 只在消费协程里调用
func (o *FactObserver) Pause(key staking.AccountKey) {
	p, err := o.pipeFor(key, false)
	if err != nil {
		return
	}
	p.paused.Store(true)

	o.mu.Lock()
	for _, prog := range staking.Programs {
		k := staking.FactKey{AccountKey: key, Program: prog}
		if snap, ok := o.latest[k]; ok {
			snap.Informational = true
			o.latest[k] = snap
		}
	}
	o.mu.Unlock()
	o.log.Debug("pipe paused", zap.String("account", key.String()))
}

// Resume 恢复并用最新事实重建 (不是提交前的快照)
// 入队放在独立协程里，调用方不会因为队列满而阻塞
// 重建完成之前快照仍是 informational
func (o *FactObserver) Resume(key staking.AccountKey) {
	p, err := o.pipeFor(key, false)
	if err != nil {
		return
	}
	p.paused.Store(false)

	// wg.Add 和运行检查在同一把锁里，不会和 Stop 的 wg.Wait 交错
	o.mu.Lock()
	if o.ctx == nil || o.ctx.Err() != nil {
		o.mu.Unlock()
		return
	}
	o.wg.Add(1)
	o.mu.Unlock()

	go func() {
		defer o.wg.Done()
		select {
		case p.ch <- command{rebuild: true}:
		case <-p.ctx.Done():
		}
	}()
	o.log.Debug("pipe resumed", zap.String("account", key.String()))
}

// Latest 最近一次快照
func (o *FactObserver) Latest(key staking.FactKey) (Snapshot, bool) {
	o.mu.RLock()
	defer o.mu.RUnlock()
	s, ok := o.latest[key]
	return s, ok
}

// Snapshots 某个账户所有质押方式的最近快照
func (o *FactObserver) Snapshots(key staking.AccountKey) []Snapshot {
	o.mu.RLock()
	defer o.mu.RUnlock()
	var out []Snapshot
	for _, prog := range staking.Programs {
		if s, ok := o.latest[staking.FactKey{AccountKey: key, Program: prog}]; ok {
			out = append(out, s)
		}
	}
	return out
}

// Pipes 当前的 (账户, 链) 队列数
func (o *FactObserver) Pipes() int {
	o.mu.RLock()
	defer o.mu.RUnlock()
	return len(o.pipes)
}

// Stale 超过 olderThan 没有收到任何增量的账户
func (o *FactObserver) Stale(olderThan time.Duration) []staking.AccountKey {
	cutoff := o.opts.Clock().Add(-olderThan).UnixNano()
	o.mu.RLock()
	defer o.mu.RUnlock()
	var out []staking.AccountKey
	for key, p := range o.pipes {
		if p.touched.Load() < cutoff {
			out = append(out, key)
		}
	}
	sort.Slice(out, func(i, j int) bool { return out[i].String() < out[j].String() })
	return out
}

// Evict 停掉超过 idle 没有收到增量的队列，连同它的快照
// 暂停中或还有积压命令的队列保留
func (o *FactObserver) Evict(idle time.Duration) int {
	cutoff := o.opts.Clock().Add(-idle).UnixNano()
	o.mu.Lock()
	defer o.mu.Unlock()
	var n int
	for key, p := range o.pipes {
		if p.paused.Load() || len(p.ch) > 0 || p.touched.Load() >= cutoff {
			continue
		}
		p.cancel()
		delete(o.pipes, key)
		for _, prog := range staking.Programs {
			delete(o.latest, staking.FactKey{AccountKey: key, Program: prog})
		}
		n++
	}
	if n > 0 {
		o.log.Info("evicted idle pipes", zap.Int("count", n), zap.Duration("idle", idle))
	}
	return n
}

// HandleMessage MQ 消费回调
// 格式错误的事实只记录日志和指标，返回 nil 防止整条队列被卡住重试
func (o *FactObserver) HandleMessage(msg *mq.Message) error {
	root, ok := o.running()
	if !ok {
		return ErrNotRunning
	}
	var ev event.FactEvent
	if err := json.Unmarshal(msg.Payload, &ev); err != nil {
		o.reject(msg, errno.Wrap(errno.ErrFactIngestion, err))
		return nil
	}
	u, err := DecodeFact(ev)
	if err != nil {
		o.reject(msg, err)
		return nil
	}
	if err := o.Ingest(root, u); err != nil {
		if errors.Is(err, errno.ErrFactIngestion) {
			return nil
		}
		return err
	}
	return nil
}

func (o *FactObserver) reject(msg *mq.Message, err error) {
	monitor.Staking.FactRejected("malformed")
	o.log.Warn("drop malformed fact",
		zap.String("msg_id", msg.ID),
		zap.String("key", msg.Key),
		zap.Error(err),
	)
}
