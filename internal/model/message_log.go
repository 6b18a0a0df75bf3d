package model

import (
	"time"
)

// 消息状态
const (
	MessageStatusPending  = "PENDING"  // 已入库，等待发送
	MessageStatusRetrying = "RETRYING" // 正在发送（或发送进程中断后遗留）
	MessageStatusSent     = "SENT"     // 发送成功
	MessageStatusFailed   = "FAILED"   // 发送失败（next_retry_at 非空=可重试，为空=终态）
)

// 消息优先级，数值越大越先发送
const (
	PriorityHigh   = 3
	PriorityNormal = 2
	PriorityLow    = 1
)

// 消息分类，仅用于统计和告警展示，调度逻辑不依赖分类
const (
	CategoryAttendance   = "attendance"   // 考勤汇总
	CategoryPayment      = "payment"      // 缴费提醒
	CategoryExamStart    = "exam_start"   // 考试开始
	CategoryAnnouncement = "announcement" // 公告
	CategoryResults      = "results"      // 成绩通知
)

// MessageLog 消息发送日志（Outbox 模式）
//
// 【关键点】FAILED 是双重语义状态：
//   - next_retry_at 非空且重试次数未用尽 -> 可重试失败，到期后会被调度器再次选取
//   - next_retry_at 为空 -> 永久失败，只能由运营人员手动恢复
type MessageLog struct {
	ID                 int64      `gorm:"primaryKey" json:"id"` // 雪花ID，按创建时间单调递增
	Destination        string     `gorm:"type:varchar(64);not null;index" json:"destination"`
	TenantID           string     `gorm:"type:varchar(64);index;default:''" json:"tenant_id"` // 中心ID，空串表示全局消息
	Category           string     `gorm:"type:varchar(32);not null" json:"category"`
	Content            string     `gorm:"type:text;not null" json:"content"`
	Priority           int        `gorm:"not null;default:2;index:idx_msg_selectable,priority:1" json:"priority"`
	Status             string     `gorm:"type:varchar(20);not null;default:PENDING;index:idx_msg_selectable,priority:2" json:"status"`
	RetryCount         int        `gorm:"not null;default:0" json:"retry_count"`
	NextRetryAt        *time.Time `gorm:"index" json:"next_retry_at,omitempty"`
	TransportMessageID string     `gorm:"type:varchar(64)" json:"transport_message_id,omitempty"`
	LastError          string     `gorm:"type:text" json:"last_error,omitempty"`
	CreatedAt          time.Time  `gorm:"autoCreateTime;index" json:"created_at"`
	SentAt             *time.Time `json:"sent_at,omitempty"`
	UpdatedAt          time.Time  `gorm:"autoUpdateTime" json:"updated_at"`
}

func (MessageLog) TableName() string {
	return "message_log"
}

// IsTerminalFailed 是否永久失败
func (m *MessageLog) IsTerminalFailed() bool {
	return m.Status == MessageStatusFailed && m.NextRetryAt == nil
}

// PriorityName 优先级展示名
func PriorityName(p int) string {
	switch p {
	case PriorityHigh:
		return "HIGH"
	case PriorityLow:
		return "LOW"
	default:
		return "NORMAL"
	}
}

// ParsePriority 解析优先级字符串，未识别时返回 NORMAL
func ParsePriority(s string) int {
	switch s {
	case "HIGH", "high":
		return PriorityHigh
	case "LOW", "low":
		return PriorityLow
	default:
		return PriorityNormal
	}
}
