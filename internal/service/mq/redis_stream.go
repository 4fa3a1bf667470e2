package mq

import (
	"context"
	"fmt"
	"strings"
	"sync"
	"time"

	"github.com/redis/go-redis/v9"
	"go.uber.org/zap"

	"staking-core/pkg/logger"
)

// RedisProducer 实现 Producer 接口
type RedisProducer struct {
	client *redis.Client
	// Stream 最大长度 (近似裁剪)，0 表示不裁剪
	maxLen int64
	log    *zap.Logger
}

// NewRedisProducer 创建 Redis 生产者
func NewRedisProducer(client *redis.Client, maxLen int64) *RedisProducer {
	return &RedisProducer{
		client: client,
		maxLen: maxLen,
		log:    logger.Named("mq.redis"),
	}
}

// Publish 发送消息到 Redis Stream
// Stream Name = topic (e.g., "staking_snapshots")
func (p *RedisProducer) Publish(ctx context.Context, topic string, key string, payload []byte) error {
	err := p.client.XAdd(ctx, &redis.XAddArgs{
		Stream: topic,
		MaxLen: p.maxLen,
		Approx: p.maxLen > 0,
		Values: map[string]interface{}{
			"key":     key,
			"payload": payload,
		},
	}).Err()

	if err != nil {
		p.log.Warn("publish failed", zap.String("topic", topic), zap.Error(err))
		return fmt.Errorf("redis xadd error: %w", err)
	}

	return nil
}

// RedisConsumer 实现 Consumer 接口
// 处理失败的消息不 ACK，留在 PEL 里，空闲超过 minIdle 后由 XAUTOCLAIM 重新领取
type RedisConsumer struct {
	client  *redis.Client
	group   string
	name    string
	minIdle time.Duration
	log     *zap.Logger

	done      chan struct{}
	closeOnce sync.Once
}

// NewRedisConsumer 创建 Redis 消费者，client 由调用方管理生命周期
func NewRedisConsumer(client *redis.Client, group, name string) *RedisConsumer {
	return &RedisConsumer{
		client:  client,
		group:   group,
		name:    name,
		minIdle: 30 * time.Second,
		log:     logger.Named("mq.redis"),
		done:    make(chan struct{}),
	}
}

// Subscribe 订阅 Redis Stream，阻塞直到 ctx 结束或 Close
func (c *RedisConsumer) Subscribe(ctx context.Context, topic string, handler func(msg *Message) error) error {
	// XGROUP CREATE <stream> <group> 0 MKSTREAM，新组从头回放事实
	err := c.client.XGroupCreateMkStream(ctx, topic, c.group, "0").Err()
	if err != nil && !strings.HasPrefix(err.Error(), "BUSYGROUP") {
		return fmt.Errorf("创建消费者组失败: %w", err)
	}
	c.log.Info("subscribed", zap.String("topic", topic), zap.String("group", c.group), zap.String("consumer", c.name))

	ctx, cancel := context.WithCancel(ctx)
	defer cancel()
	go func() {
		select {
		case <-c.done:
			cancel()
		case <-ctx.Done():
		}
	}()

	lastClaim := time.Now()
	for ctx.Err() == nil {
		if time.Since(lastClaim) >= c.minIdle {
			c.reclaim(ctx, topic, handler)
			lastClaim = time.Now()
		}

		// XREADGROUP GROUP <group> <consumer> BLOCK 2000 COUNT 16 STREAMS <topic> >
		streams, err := c.client.XReadGroup(ctx, &redis.XReadGroupArgs{
			Group:    c.group,
			Consumer: c.name,
			Streams:  []string{topic, ">"},
			Count:    16,
			Block:    2 * time.Second,
		}).Result()
		if err == redis.Nil {
			continue
		}
		if err != nil {
			if ctx.Err() != nil {
				break
			}
			c.log.Warn("read group failed", zap.Error(err))
			time.Sleep(time.Second)
			continue
		}
		for _, stream := range streams {
			c.dispatch(ctx, topic, stream.Messages, handler)
		}
	}
	return nil
}

// reclaim 领取其他消费者 (或自己) 长时间未 ACK 的消息
func (c *RedisConsumer) reclaim(ctx context.Context, topic string, handler func(msg *Message) error) {
	msgs, _, err := c.client.XAutoClaim(ctx, &redis.XAutoClaimArgs{
		Stream:   topic,
		Group:    c.group,
		Consumer: c.name,
		MinIdle:  c.minIdle,
		Start:    "0",
		Count:    16,
	}).Result()
	if err != nil {
		if ctx.Err() == nil {
			c.log.Warn("autoclaim failed", zap.String("topic", topic), zap.Error(err))
		}
		return
	}
	if len(msgs) > 0 {
		c.log.Info("reclaimed pending messages", zap.String("topic", topic), zap.Int("count", len(msgs)))
		c.dispatch(ctx, topic, msgs, handler)
	}
}

func (c *RedisConsumer) dispatch(ctx context.Context, topic string, msgs []redis.XMessage, handler func(msg *Message) error) {
	for _, x := range msgs {
		val, ok := x.Values["payload"].(string)
		if !ok {
			c.log.Warn("drop message without payload", zap.String("msg_id", x.ID))
			c.ack(ctx, topic, x.ID)
			continue
		}
		key, _ := x.Values["key"].(string)
		msg := &Message{ID: x.ID, Topic: topic, Key: key, Payload: []byte(val)}
		if err := handler(msg); err != nil {
			c.log.Warn("handler failed, left pending", zap.String("msg_id", msg.ID), zap.Error(err))
			continue
		}
		c.ack(ctx, topic, x.ID)
	}
}

func (c *RedisConsumer) ack(ctx context.Context, topic, id string) {
	if err := c.client.XAck(ctx, topic, c.group, id).Err(); err != nil {
		c.log.Warn("ack failed", zap.String("msg_id", id), zap.Error(err))
	}
}

// Close 停止 Subscribe，不关闭共享的 redis client
func (c *RedisConsumer) Close() error {
	c.closeOnce.Do(func() { close(c.done) })
	return nil
}
