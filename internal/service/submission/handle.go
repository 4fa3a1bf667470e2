package submission

import (
	"context"
	"fmt"
	"sync"
	"time"

	"staking-core/internal/staking"
)

// Phase Built -> Signed -> Broadcast -> (InBlock | Finalized | Failed | Dropped)
type Phase int

const (
	PhaseBuilt Phase = iota
	PhaseSigned
	PhaseBroadcast
	PhaseInBlock
	PhaseFinalized
	PhaseFailed
	PhaseDropped
)

var phaseNames = [...]string{"built", "signed", "broadcast", "in_block", "finalized", "failed", "dropped"}

func (p Phase) String() string {
	if int(p) >= 0 && int(p) < len(phaseNames) {
		return phaseNames[p]
	}
	return fmt.Sprintf("phase(%d)", int(p))
}

func (p Phase) MarshalText() ([]byte, error) { return []byte(p.String()), nil }

// Outcome 每个提交 ID 恰好交付一次
type Outcome struct {
	ID        string          `json:"id"`
	Key       staking.FactKey `json:"key"`
	Operation string          `json:"operation"`
	Success   bool            `json:"success"`
	Phase     Phase           `json:"phase"`
	TxHash    string          `json:"tx_hash,omitempty"`
	BlockHash string          `json:"block_hash,omitempty"`
	Code      int             `json:"code,omitempty"`
	Message   string          `json:"message,omitempty"`
	Err       error           `json:"-"`
}

type Event struct {
	ID        string    `json:"id"`
	Phase     Phase     `json:"phase"`
	TxHash    string    `json:"tx_hash,omitempty"`
	BlockHash string    `json:"block_hash,omitempty"`
	At        time.Time `json:"at"`
	Outcome   *Outcome  `json:"outcome,omitempty"`
}

// Handle 调用方持有的提交句柄
// 中间事件在没人读时丢弃，终态事件总有一个预留位置
type Handle struct {
	id      string
	key     staking.FactKey
	op      staking.Operation
	started time.Time
	txHash  string

	events  chan Event
	done    chan struct{}
	once    sync.Once
	outcome Outcome
}

func newHandle(id string, key staking.FactKey, op staking.Operation, buffer int, started time.Time) *Handle {
	return &Handle{
		id:      id,
		key:     key,
		op:      op,
		started: started,
		events:  make(chan Event, buffer+1),
		done:    make(chan struct{}),
	}
}

func (h *Handle) ID() string { return h.id }

// Events 状态事件，终态事件之后关闭
func (h *Handle) Events() <-chan Event { return h.events }

// Done 终态后关闭
func (h *Handle) Done() <-chan struct{} { return h.done }

// Wait 阻塞到终态，ctx 结束不会影响后台观察
func (h *Handle) Wait(ctx context.Context) (Outcome, error) {
	select {
	case <-h.done:
		return h.outcome, nil
	case <-ctx.Done():
		return Outcome{}, ctx.Err()
	}
}

func (h *Handle) setTx(hash string) { h.txHash = hash }

// emit 只由提交流程 / 观察协程顺序调用，单生产者
func (h *Handle) emit(e Event) {
	if len(h.events) >= cap(h.events)-1 {
		return
	}
	e.ID = h.id
	if e.At.IsZero() {
		e.At = time.Now()
	}
	h.events <- e
}

func (h *Handle) complete(o Outcome) {
	h.outcome = o
	h.events <- Event{ID: h.id, Phase: o.Phase, TxHash: o.TxHash, BlockHash: o.BlockHash, At: time.Now(), Outcome: &o}
	close(h.events)
	close(h.done)
}
