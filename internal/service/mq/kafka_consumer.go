package mq

import (
	"context"
	"fmt"
	"time"

	"github.com/segmentio/kafka-go"
	"go.uber.org/zap"

	"staking-core/pkg/logger"
)

// KafkaConsumer 实现 Consumer 接口
type KafkaConsumer struct {
	brokers []string
	groupID string
	reader  *kafka.Reader
	// 处理失败时的重试次数，用完后提交 Offset 跳过该消息
	maxRetries int
	log        *zap.Logger
}

// NewKafkaConsumer 创建 Kafka 消费者
func NewKafkaConsumer(brokers []string, groupID string) *KafkaConsumer {
	return &KafkaConsumer{
		brokers:    brokers,
		groupID:    groupID,
		maxRetries: 3,
		log:        logger.Named("mq.kafka"),
	}
}

// Subscribe 订阅 Kafka 主题
func (c *KafkaConsumer) Subscribe(ctx context.Context, topic string, handler func(msg *Message) error) error {
	// 核心配置:
	// 1. GroupID: 同组内只有一个消费者能消费到同一分区的消息，同一账户的事实按分区保序
	// 2. StartOffset: 新组从最早的事实开始，状态需要完整回放
	c.reader = kafka.NewReader(kafka.ReaderConfig{
		Brokers:     c.brokers,
		GroupID:     c.groupID,
		Topic:       topic,
		MinBytes:    10e3, // 10KB
		MaxBytes:    10e6, // 10MB
		StartOffset: kafka.FirstOffset,
	})

	c.log.Info("subscribed", zap.String("topic", topic), zap.String("group", c.groupID))

	// 启动消费循环
	go c.consumeLoop(ctx, topic, handler)

	return nil
}

func (c *KafkaConsumer) consumeLoop(ctx context.Context, topic string, handler func(msg *Message) error) {
	defer c.reader.Close()

	for {
		// 1. 读取消息 (阻塞直到有消息)
		m, err := c.reader.FetchMessage(ctx)
		if err != nil {
			if ctx.Err() != nil {
				return // 上下文取消，退出
			}
			c.log.Warn("fetch message failed", zap.Error(err))
			time.Sleep(1 * time.Second)
			continue
		}

		// 2. 构造通用消息
		msg := &Message{
			ID:      fmt.Sprintf("%d-%d", m.Partition, m.Offset),
			Topic:   topic,
			Key:     string(m.Key),
			Payload: m.Value,
		}
		if len(m.Headers) > 0 {
			msg.Metadata = make(map[string]string, len(m.Headers))
			for _, h := range m.Headers {
				msg.Metadata[h.Key] = string(h.Value)
			}
		}

		// 3. 调用业务处理函数
		// 同一分区内必须保序，失败时原地重试而不是跳过
		for attempt := 0; ; attempt++ {
			err := handler(msg)
			if err == nil {
				break
			}
			if attempt >= c.maxRetries || ctx.Err() != nil {
				c.log.Error("handler failed, skipping message",
					zap.String("msg_id", msg.ID), zap.String("key", msg.Key), zap.Int("attempts", attempt+1), zap.Error(err))
				break
			}
			time.Sleep(time.Duration(attempt+1) * 200 * time.Millisecond)
		}

		// 4. 手动提交 Offset (确认消费成功)
		if err := c.reader.CommitMessages(ctx, m); err != nil && ctx.Err() == nil {
			c.log.Warn("commit offset failed", zap.String("msg_id", msg.ID), zap.Error(err))
		}
	}
}

// Close 关闭消费者
func (c *KafkaConsumer) Close() error {
	if c.reader != nil {
		return c.reader.Close()
	}
	return nil
}
