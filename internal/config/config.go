package config

import (
	"log"
	"time"

	"github.com/spf13/viper"
)

// Config 全局配置结构
type Config struct {
	Server   ServerConfig   `mapstructure:"server"`
	MySQL    MySQLConfig    `mapstructure:"mysql"`
	Redis    RedisConfig    `mapstructure:"redis"`
	Kafka    KafkaConfig    `mapstructure:"kafka"`
	Gateway  GatewayConfig  `mapstructure:"gateway"`
	Dispatch DispatchConfig `mapstructure:"dispatch"`
}

type ServerConfig struct {
	Port int `mapstructure:"port"`
}

type MySQLConfig struct {
	Host         string `mapstructure:"host"`
	Port         int    `mapstructure:"port"`
	User         string `mapstructure:"user"`
	Password     string `mapstructure:"password"`
	Database     string `mapstructure:"database"`
	MaxOpenConns int    `mapstructure:"max_open_conns"`
	MaxIdleConns int    `mapstructure:"max_idle_conns"`
}

type RedisConfig struct {
	Host     string `mapstructure:"host"`
	Port     int    `mapstructure:"port"`
	Password string `mapstructure:"password"`
	DB       int    `mapstructure:"db"`
}

type KafkaConfig struct {
	Brokers []string         `mapstructure:"brokers"`
	Group   string           `mapstructure:"group"`
	Topic   KafkaTopicConfig `mapstructure:"topic"`
}

type KafkaTopicConfig struct {
	NotifyRequest string `mapstructure:"notify_request"` // 业务系统投递通知请求的主题
	NotifyResult  string `mapstructure:"notify_result"`  // 发送结果事件主题
}

// GatewayConfig 聊天消息网关（Bot API）配置
type GatewayConfig struct {
	BaseURL        string `mapstructure:"base_url"`
	Token          string `mapstructure:"token"`
	TimeoutSeconds int    `mapstructure:"timeout_seconds"`
}

// DispatchConfig 消息调度配置
type DispatchConfig struct {
	IntervalSeconds     int      `mapstructure:"interval_seconds"`      // 调度周期，默认 30 秒
	BatchSize           int      `mapstructure:"batch_size"`            // 每个周期最多处理的消息数，默认 50
	MaxPerSecond        int      `mapstructure:"max_per_second"`        // 网关限流上限，默认 25 条/秒
	MaxRetries          int      `mapstructure:"max_retries"`           // 最大重试次数，默认 3
	BackoffBaseSeconds  int      `mapstructure:"backoff_base_seconds"`  // 退避基数，默认 60 秒
	SendTimeoutSeconds  int      `mapstructure:"send_timeout_seconds"`  // 单条消息发送超时，默认 5 秒
	CycleTimeoutSeconds int      `mapstructure:"cycle_timeout_seconds"` // 单个周期硬超时，默认 4 倍调度周期
	RetentionDays       int      `mapstructure:"retention_days"`        // SENT 消息保留天数，默认 30
	OperatorChatIDs     []string `mapstructure:"operator_chat_ids"`     // 永久失败告警的运营接收人
}

// Interval 调度周期
func (c *DispatchConfig) Interval() time.Duration {
	if c.IntervalSeconds <= 0 {
		return 30 * time.Second
	}
	return time.Duration(c.IntervalSeconds) * time.Second
}

// SendDelay 相邻两次发送之间的固定间隔
//
// 【关键点】通过 1s/max_per_second 换算，默认 25 条/秒即 40ms，
// 保守地控制在网关的硬限流之下
func (c *DispatchConfig) SendDelay() time.Duration {
	perSecond := c.MaxPerSecond
	if perSecond <= 0 {
		perSecond = 25
	}
	return time.Second / time.Duration(perSecond)
}

// BackoffBase 退避基数
func (c *DispatchConfig) BackoffBase() time.Duration {
	if c.BackoffBaseSeconds <= 0 {
		return time.Minute
	}
	return time.Duration(c.BackoffBaseSeconds) * time.Second
}

// SendTimeout 单条消息发送超时
func (c *DispatchConfig) SendTimeout() time.Duration {
	if c.SendTimeoutSeconds <= 0 {
		return 5 * time.Second
	}
	return time.Duration(c.SendTimeoutSeconds) * time.Second
}

// CycleTimeout 单个调度周期的硬超时，防止卡死的周期无限占用单飞闸
func (c *DispatchConfig) CycleTimeout() time.Duration {
	if c.CycleTimeoutSeconds <= 0 {
		return 4 * c.Interval()
	}
	return time.Duration(c.CycleTimeoutSeconds) * time.Second
}

// Retention SENT 消息保留时长
func (c *DispatchConfig) Retention() time.Duration {
	days := c.RetentionDays
	if days <= 0 {
		days = 30
	}
	return time.Duration(days) * 24 * time.Hour
}

var GlobalConfig *Config

// LoadConfig 加载配置文件
func LoadConfig(configPath string) *Config {
	viper.SetConfigFile(configPath)
	viper.SetConfigType("yaml")

	viper.SetDefault("dispatch.interval_seconds", 30)
	viper.SetDefault("dispatch.batch_size", 50)
	viper.SetDefault("dispatch.max_per_second", 25)
	viper.SetDefault("dispatch.max_retries", 3)
	viper.SetDefault("dispatch.backoff_base_seconds", 60)
	viper.SetDefault("dispatch.send_timeout_seconds", 5)
	viper.SetDefault("dispatch.retention_days", 30)

	if err := viper.ReadInConfig(); err != nil {
		log.Fatalf("读取配置文件失败: %v", err)
	}

	config := &Config{}
	if err := viper.Unmarshal(config); err != nil {
		log.Fatalf("解析配置文件失败: %v", err)
	}

	GlobalConfig = config
	return config
}
