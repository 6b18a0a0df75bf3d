package job

import (
	"encoding/json"
	"strconv"
	"time"

	"edunotify/internal/infrastructure/mq"
)

// DeliveryResultEvent 发送结果事件，发布到 Kafka 供业务系统订阅
type DeliveryResultEvent struct {
	MessageID          int64     `json:"message_id"`
	TenantID           string    `json:"tenant_id,omitempty"`
	Category           string    `json:"category"`
	Destination        string    `json:"destination"`
	Status             string    `json:"status"` // SENT 或 FAILED（永久失败）
	TransportMessageID string    `json:"transport_message_id,omitempty"`
	Error              string    `json:"error,omitempty"`
	OccurredAt         time.Time `json:"occurred_at"`
}

// ResultPublisher 结果事件发布能力
type ResultPublisher interface {
	Publish(event *DeliveryResultEvent) error
}

// KafkaResultPublisher 把结果事件发到 notify_result 主题
type KafkaResultPublisher struct {
	topic string
}

func NewKafkaResultPublisher(topic string) *KafkaResultPublisher {
	return &KafkaResultPublisher{topic: topic}
}

func (p *KafkaResultPublisher) Publish(event *DeliveryResultEvent) error {
	payload, err := json.Marshal(event)
	if err != nil {
		return err
	}
	return mq.SendMessage(p.topic, strconv.FormatInt(event.MessageID, 10), string(payload))
}
