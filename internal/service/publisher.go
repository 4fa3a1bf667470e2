package service

import (
	"context"
	"encoding/json"
	"sort"

	"go.uber.org/zap"

	"staking-core/internal/event"
	"staking-core/internal/service/mq"
	"staking-core/internal/service/observer"
	"staking-core/internal/service/submission"
	"staking-core/internal/staking"
	"staking-core/pkg/logger"
)

// Publisher 把快照、提交结果和刷新请求写到 MQ
// 同时实现 observer.Listener / observer.RefreshRequester / submission.OutcomeSink
type Publisher struct {
	producer mq.Producer
	topics   mq.Topics
	log      *zap.Logger
}

func NewPublisher(producer mq.Producer, topics mq.Topics) *Publisher {
	return &Publisher{producer: producer, topics: topics.WithDefaults(), log: logger.Named("publisher")}
}

// 分区键，同一账户的消息保序
func partitionKey(k staking.AccountKey) string {
	return k.String()
}

func (p *Publisher) publish(ctx context.Context, topic, key string, v any) {
	payload, err := json.Marshal(v)
	if err != nil {
		p.log.Error("marshal failed", zap.String("topic", topic), zap.Error(err))
		return
	}
	// 发布失败只记录日志: 快照会在下一次事实变化时重新发布
	if err := p.producer.Publish(ctx, topic, key, payload); err != nil {
		p.log.Warn("publish failed", zap.String("topic", topic), zap.String("key", key), zap.Error(err))
	}
}

func (p *Publisher) OnSnapshot(ctx context.Context, s observer.Snapshot) {
	body, err := json.Marshal(s)
	if err != nil {
		p.log.Error("marshal snapshot failed", zap.String("key", s.Key.String()), zap.Error(err))
		return
	}
	p.publish(ctx, p.topics.Snapshots, partitionKey(s.Key.AccountKey), event.SnapshotEvent{
		Account:       s.Key.Account,
		Chain:         s.Key.Chain,
		Program:       s.Key.Program.String(),
		Version:       s.Version,
		Informational: s.Informational,
		State:         s.Kind.String(),
		Status:        s.State.Base().Status.String(),
		Snapshot:      body,
		BuiltAt:       s.BuiltAt,
	})
}

func (p *Publisher) RequestRefresh(ctx context.Context, key staking.FactKey, kinds []staking.DeltaKind, reason string) {
	names := make([]string, 0, len(kinds))
	for _, k := range kinds {
		names = append(names, string(k))
	}
	sort.Strings(names)
	p.publish(ctx, p.topics.Refresh, partitionKey(key.AccountKey), event.RefreshRequestedEvent{
		Account: key.Account,
		Chain:   key.Chain,
		Program: key.Program.String(),
		Kinds:   names,
		Reason:  reason,
	})
}

func (p *Publisher) Deliver(ctx context.Context, o submission.Outcome) {
	p.publish(ctx, p.topics.Outcomes, partitionKey(o.Key.AccountKey), event.OutcomeEvent{
		ID:        o.ID,
		Account:   o.Key.Account,
		Chain:     o.Key.Chain,
		Program:   o.Key.Program.String(),
		Operation: o.Operation,
		Success:   o.Success,
		Phase:     o.Phase.String(),
		TxHash:    o.TxHash,
		BlockHash: o.BlockHash,
		Code:      o.Code,
		Message:   o.Message,
	})
}
