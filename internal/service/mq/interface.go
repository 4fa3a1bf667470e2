package mq

import "context"

// Message 代表一条通用的业务消息
type Message struct {
	ID       string            // 消息ID (Redis Stream ID 或 Kafka partition/offset)
	Topic    string            // 主题 (例如 "staking_facts")
	Key      string            // 分区键 (chain:account)，同一账户的事实保序
	Payload  []byte            // 消息体 (JSON)
	Metadata map[string]string // 元数据
}

// Producer 生产者接口
type Producer interface {
	// Publish 发送消息
	// key:用于分区排序 (Partition Key), 例如 chain:account. 传空字符串则随机分区.
	Publish(ctx context.Context, topic string, key string, payload []byte) error
}

// Consumer 消费者接口
type Consumer interface {
	// Subscribe 订阅主题
	// handler: 消息处理函数，返回 error 会触发重试
	Subscribe(ctx context.Context, topic string, handler func(msg *Message) error) error

	// Close 关闭消费者
	Close() error
}

// Topics
const (
	TopicFacts     = "staking_facts"
	TopicSnapshots = "staking_snapshots"
	TopicOutcomes  = "staking_outcomes"
	TopicRefresh   = "staking_refresh"
)

// Topics 主题名，可由配置覆盖，空字段取默认值
type Topics struct {
	Facts     string
	Snapshots string
	Outcomes  string
	Refresh   string
}

func (t Topics) WithDefaults() Topics {
	if t.Facts == "" {
		t.Facts = TopicFacts
	}
	if t.Snapshots == "" {
		t.Snapshots = TopicSnapshots
	}
	if t.Outcomes == "" {
		t.Outcomes = TopicOutcomes
	}
	if t.Refresh == "" {
		t.Refresh = TopicRefresh
	}
	return t
}
