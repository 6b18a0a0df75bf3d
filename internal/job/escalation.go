package job

import (
	"context"
	"fmt"
	"log"

	"edunotify/internal/infrastructure/gateway"
	"edunotify/internal/model"
)

// Escalator 永久失败告警
//
// 消息用尽重试额度后，把结构化告警通过同一个网关发给固定的运营接收人。
// 告警本身发送失败只记日志，不入队、不重试、不再次告警，
// 否则网关故障时会滚雪球式地产生告警风暴。
type Escalator struct {
	transport gateway.Transport
	operators []string // 运营接收人的会话ID列表，来自配置
}

func NewEscalator(transport gateway.Transport, operators []string) *Escalator {
	return &Escalator{
		transport: transport,
		operators: operators,
	}
}

// Escalate 对一条永久失败的消息发出告警，尽力而为，不阻断调度周期
func (e *Escalator) Escalate(ctx context.Context, msg *model.MessageLog) {
	if len(e.operators) == 0 {
		return
	}

	alert := fmt.Sprintf(
		"消息永久发送失败\nID: %d\n分类: %s\n目标会话: %s\n重试次数: %d\n最后错误: %s",
		msg.ID, msg.Category, msg.Destination, msg.RetryCount, msg.LastError,
	)

	for _, operator := range e.operators {
		if _, err := e.transport.Send(ctx, operator, alert, nil); err != nil {
			log.Printf("[Escalator] 告警发送失败: operator=%s, message_id=%d, err=%v", operator, msg.ID, err)
		}
	}
}
