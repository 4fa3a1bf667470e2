package observer

import (
	"context"
	"time"

	"staking-core/internal/staking"
)

// Observer 事实接入的通用行为
type Observer interface {
	// Start 启动，ctx 控制优雅退出
	Start(ctx context.Context) error

	// Stop 停止所有队列并等待消费者退出
	Stop() error

	// Ingest 把一个增量放入对应 (账户, 链) 的队列，队列满时阻塞
	Ingest(ctx context.Context, u staking.Update) error
}

// Snapshot 一次重建的结果，推送给视图层 / MQ
type Snapshot struct {
	Key     staking.FactKey        `json:"key"`
	Kind    staking.Kind           `json:"kind"`
	State   staking.State          `json:"state"`
	Alerts  []staking.Alert        `json:"alerts"`
	Actions []staking.ManageAction `json:"actions"`
	// 账户有进行中的提交，快照只供展示，不能据此发起新的操作
	Informational bool      `json:"informational,omitempty"`
	Version       uint64    `json:"version"`
	BuiltAt       time.Time `json:"built_at"`

	Facts staking.Facts `json:"-"`
}

// Listener 每次重建成功后被调用，在队列的消费协程里执行，不要阻塞
type Listener interface {
	OnSnapshot(ctx context.Context, s Snapshot)
}

// RefreshRequester 奖励计数器相等 / 事实过期时向上游请求刷新
type RefreshRequester interface {
	RequestRefresh(ctx context.Context, key staking.FactKey, kinds []staking.DeltaKind, reason string)
}

type ListenerFunc func(ctx context.Context, s Snapshot)

func (f ListenerFunc) OnSnapshot(ctx context.Context, s Snapshot) { f(ctx, s) }
