package submission

import (
	"context"
	"errors"
	"fmt"
	"sync"
	"time"

	lru "github.com/hashicorp/golang-lru/v2"
	"go.uber.org/zap"

	"staking-core/internal/staking"
	"staking-core/pkg/errno"
	"staking-core/pkg/logger"
	"staking-core/pkg/monitor"
	"staking-core/pkg/safe_random"
	"staking-core/pkg/utils/lock"
)

// Pauser 提交期间暂停该账户的事实触发，终态后恢复并重建
type Pauser interface {
	Pause(key staking.AccountKey)
	Resume(key staking.AccountKey)
}

// OutcomeSink 终态结果的下游 (MQ / 指标)，每个 ID 只调用一次
type OutcomeSink interface {
	Deliver(ctx context.Context, o Outcome)
}

// Submission 一次提交
type Submission struct {
	// 为空时自动生成
	ID      string
	Request *staking.ClaimRequest
	Epoch   staking.Epoch
}

type Config struct {
	WaitFinalized bool
	LockTTL       time.Duration
	HistorySize   int
	EventBuffer   int
}

// Monitor 提交交易并观察到终态
type Monitor struct {
	encoder staking.CallEncoder
	signer  staking.Signer
	conn    staking.ChainConnection
	locker  lock.DistributedLock
	pauser  Pauser
	sinks   []OutcomeSink
	cfg     Config
	now     func() time.Time

	mu       sync.Mutex
	history  *lru.Cache[string, Outcome]
	inflight map[string]*Handle
	wg       sync.WaitGroup
}

func NewMonitor(encoder staking.CallEncoder, signer staking.Signer, conn staking.ChainConnection, locker lock.DistributedLock, pauser Pauser, cfg Config, sinks ...OutcomeSink) (*Monitor, error) {
	if cfg.HistorySize <= 0 {
		cfg.HistorySize = 4096
	}
	if cfg.EventBuffer <= 0 {
		cfg.EventBuffer = 8
	}
	history, err := lru.New[string, Outcome](cfg.HistorySize)
	if err != nil {
		return nil, err
	}
	return &Monitor{
		encoder:  encoder,
		signer:   signer,
		conn:     conn,
		locker:   locker,
		pauser:   pauser,
		sinks:    sinks,
		cfg:      cfg,
		now:      time.Now,
		history:  history,
		inflight: make(map[string]*Handle),
	}, nil
}

func lockKey(k staking.AccountKey) string {
	return "staking:action:" + k.String()
}

// Submit 编码、签名、广播，然后在后台观察链上状态
// 拿到账户锁之后的任何失败都通过 Handle 交付终态结果，error 只用于锁和重复提交
func (m *Monitor) Submit(ctx context.Context, sub Submission) (*Handle, error) {
	if sub.Request == nil {
		return nil, errno.Wrapf(errno.ErrStateInconsistency, "nothing to submit")
	}
	if sub.ID == "" {
		id, err := safe_random.RequestID(sub.Request.Operation().String())
		if err != nil {
			return nil, err
		}
		sub.ID = id
	}

	m.mu.Lock()
	_, delivered := m.history.Get(sub.ID)
	_, running := m.inflight[sub.ID]
	m.mu.Unlock()
	if delivered || running {
		return nil, errno.Wrapf(errno.ErrDuplicateSubmission, "submission %s", sub.ID)
	}

	key := sub.Request.Key()
	ok, err := m.locker.Acquire(ctx, lockKey(key.AccountKey), m.cfg.LockTTL)
	if err != nil {
		return nil, errno.Wrap(errno.ErrActionInFlight, err)
	}
	if !ok {
		return nil, errno.Wrapf(errno.ErrActionInFlight, "account %s", key.AccountKey)
	}

	h := newHandle(sub.ID, key, sub.Request.Operation(), m.cfg.EventBuffer, m.now())
	m.mu.Lock()
	m.inflight[sub.ID] = h
	m.mu.Unlock()
	if m.pauser != nil {
		m.pauser.Pause(key.AccountKey)
	}

	log := logger.Named("submission").With(zap.String("id", sub.ID), zap.String("key", key.String()))
	h.emit(Event{Phase: PhaseBuilt})

	call, err := m.encoder.Encode(ctx, key.Chain, sub.Request.Calls(), sub.Epoch)
	if err != nil {
		m.finish(h, failure(PhaseFailed, errno.ErrEncoding, err))
		return h, nil
	}
	signed, err := m.signer.Sign(ctx, key.AccountKey, call)
	if err != nil {
		m.finish(h, failure(PhaseFailed, errno.ErrSigning, err))
		return h, nil
	}
	h.emit(Event{Phase: PhaseSigned})

	txHash, statuses, err := m.conn.Submit(ctx, key.Chain, signed)
	if err != nil {
		m.finish(h, failure(PhaseFailed, errno.ErrConnection, err))
		return h, nil
	}
	h.setTx(txHash)
	h.emit(Event{Phase: PhaseBroadcast, TxHash: txHash})
	log.Info("extrinsic broadcast", zap.String("tx_hash", txHash))

	// 广播之后不可取消，调用方离开也要观察到终态
	m.wg.Add(1)
	go func() {
		defer m.wg.Done()
		m.watch(context.WithoutCancel(ctx), h, statuses)
	}()
	return h, nil
}

func (m *Monitor) watch(ctx context.Context, h *Handle, statuses <-chan staking.TxStatus) {
	log := logger.Named("submission").With(zap.String("id", h.id))
	for st := range statuses {
		log.Debug("tx status", zap.Stringer("status", st.Kind), zap.String("block", st.BlockHash))
		switch st.Kind {
		case staking.TxReady, staking.TxBroadcast, staking.TxRetracted:
			// 等待下一次出块
		case staking.TxInBlock:
			if st.DispatchError != "" {
				m.finish(h, chainFailure(st))
				return
			}
			h.emit(Event{Phase: PhaseInBlock, BlockHash: st.BlockHash})
			if !m.cfg.WaitFinalized {
				m.finish(h, success(PhaseInBlock, st.BlockHash))
				return
			}
		case staking.TxFinalized:
			if st.DispatchError != "" {
				m.finish(h, chainFailure(st))
				return
			}
			m.finish(h, success(PhaseFinalized, st.BlockHash))
			return
		case staking.TxFinalityTimeout, staking.TxUsurped, staking.TxDropped:
			m.finish(h, failure(PhaseDropped, errno.ErrDropped, fmt.Errorf("extrinsic %s", st.Kind)))
			return
		case staking.TxInvalid:
			m.finish(h, failure(PhaseFailed, errno.ErrChainRejected, errors.New("extrinsic invalid")))
			return
		}
	}
	m.finish(h, failure(PhaseFailed, errno.ErrConnection, errors.New("status stream closed before terminal status")))
}

type terminal struct {
	phase     Phase
	success   bool
	blockHash string
	err       error
}

func success(p Phase, block string) terminal {
	return terminal{phase: p, success: true, blockHash: block}
}

func failure(p Phase, code errno.Errno, cause error) terminal {
	return terminal{phase: p, err: errno.Wrap(code, cause)}
}

func chainFailure(st staking.TxStatus) terminal {
	return terminal{
		phase:     PhaseFailed,
		blockHash: st.BlockHash,
		err:       errno.Wrapf(errno.ErrChainRejected, "dispatch error: %s", st.DispatchError),
	}
}

// finish 每个 Handle 只会执行一次
func (m *Monitor) finish(h *Handle, t terminal) {
	h.once.Do(func() {
		o := Outcome{
			ID:        h.id,
			Key:       h.key,
			Operation: h.op.String(),
			Success:   t.success,
			Phase:     t.phase,
			TxHash:    h.txHash,
			BlockHash: t.blockHash,
			Err:       t.err,
		}
		if t.err != nil {
			o.Code, o.Message = errno.Decode(t.err)
		}

		m.mu.Lock()
		m.history.Add(h.id, o)
		delete(m.inflight, h.id)
		m.mu.Unlock()

		if err := m.locker.Release(context.Background(), lockKey(h.key.AccountKey)); err != nil {
			logger.Named("submission").Warn("release action lock failed", zap.String("id", h.id), zap.Error(err))
		}
		if m.pauser != nil {
			m.pauser.Resume(h.key.AccountKey)
		}

		label := "success"
		if !o.Success {
			label = o.Phase.String()
		}
		monitor.Staking.Submitted(h.key.Chain, label, m.now().Sub(h.started))
		logger.Named("submission").Info("submission finished",
			zap.String("id", h.id),
			zap.Bool("success", o.Success),
			zap.Stringer("phase", o.Phase),
			zap.Error(o.Err),
		)

		for _, s := range m.sinks {
			s.Deliver(context.Background(), o)
		}
		h.complete(o)
	})
}

// Outcome 查询已交付的结果
func (m *Monitor) Outcome(id string) (Outcome, bool) {
	m.mu.Lock()
	defer m.mu.Unlock()
	return m.history.Get(id)
}

// InFlight 当前未到终态的提交数
func (m *Monitor) InFlight() int {
	m.mu.Lock()
	defer m.mu.Unlock()
	return len(m.inflight)
}

// Wait 等待所有后台观察结束 (优雅退出)
func (m *Monitor) Wait(ctx context.Context) error {
	done := make(chan struct{})
	go func() {
		m.wg.Wait()
		close(done)
	}()
	select {
	case <-done:
		return nil
	case <-ctx.Done():
		return ctx.Err()
	}
}
