package mq

import (
	"context"
	"log"

	"edunotify/internal/config"

	"github.com/IBM/sarama"
)

// EnqueueConsumer 消费业务系统投递的通知请求
//
// 考勤、缴费、考试等业务服务把通知请求发到 notify_request 主题，
// 消费端只负责落库（入队），真正的发送由调度器异步完成
type EnqueueConsumer struct {
	group  sarama.ConsumerGroup
	topic  string
	handle func(ctx context.Context, payload []byte) error
}

// NewEnqueueConsumer 创建通知请求消费者
func NewEnqueueConsumer(cfg *config.KafkaConfig, handle func(ctx context.Context, payload []byte) error) (*EnqueueConsumer, error) {
	kafkaConfig := sarama.NewConfig()
	kafkaConfig.Consumer.Offsets.Initial = sarama.OffsetOldest
	kafkaConfig.Consumer.Return.Errors = true

	group, err := sarama.NewConsumerGroup(cfg.Brokers, cfg.Group, kafkaConfig)
	if err != nil {
		return nil, err
	}

	return &EnqueueConsumer{
		group:  group,
		topic:  cfg.Topic.NotifyRequest,
		handle: handle,
	}, nil
}

// Start 开始消费，阻塞直到 ctx 取消
func (c *EnqueueConsumer) Start(ctx context.Context) {
	log.Printf("[EnqueueConsumer] 开始消费通知请求: topic=%s", c.topic)

	go func() {
		for err := range c.group.Errors() {
			log.Printf("[EnqueueConsumer] 消费错误: %v", err)
		}
	}()

	for {
		// Consume 在 rebalance 后返回，需要循环调用
		if err := c.group.Consume(ctx, []string{c.topic}, &enqueueHandler{handle: c.handle}); err != nil {
			log.Printf("[EnqueueConsumer] 消费会话异常: %v", err)
		}
		if ctx.Err() != nil {
			log.Println("[EnqueueConsumer] 收到停止信号，消费退出")
			return
		}
	}
}

// Close 关闭消费组
func (c *EnqueueConsumer) Close() error {
	return c.group.Close()
}

type enqueueHandler struct {
	handle func(ctx context.Context, payload []byte) error
}

func (h *enqueueHandler) Setup(sarama.ConsumerGroupSession) error   { return nil }
func (h *enqueueHandler) Cleanup(sarama.ConsumerGroupSession) error { return nil }

func (h *enqueueHandler) ConsumeClaim(session sarama.ConsumerGroupSession, claim sarama.ConsumerGroupClaim) error {
	for msg := range claim.Messages() {
		if err := h.handle(session.Context(), msg.Value); err != nil {
			// 入库失败不提交位移，消息会被重新投递；丢通知等价于业务静默失败
			log.Printf("[EnqueueConsumer] 通知请求入库失败: partition=%d offset=%d err=%v",
				msg.Partition, msg.Offset, err)
			continue
		}
		session.MarkMessage(msg, "")
	}
	return nil
}
