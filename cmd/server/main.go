package main

import (
	"context"
	"fmt"
	"log"
	"net/http"
	"os"
	"os/signal"
	"syscall"
	"time"

	"edunotify/internal/config"
	"edunotify/internal/handler"
	"edunotify/internal/infrastructure/cache"
	"edunotify/internal/infrastructure/database"
	"edunotify/internal/infrastructure/gateway"
	"edunotify/internal/infrastructure/lock"
	"edunotify/internal/infrastructure/mq"
	"edunotify/internal/job"
	"edunotify/internal/repository"
	"edunotify/internal/service"
	"edunotify/pkg/idgen"
)

func main() {
	// 加载配置
	cfg := config.LoadConfig("config/config.yaml")

	// 初始化 ID 生成器
	idgen.Init(1)

	// 初始化 MySQL
	db := database.InitMySQL(&cfg.MySQL)

	// 初始化 Redis
	redisClient := cache.InitRedis(&cfg.Redis)

	// 初始化 Kafka
	mq.InitKafka(&cfg.Kafka)
	defer mq.CloseKafka()

	// 初始化消息网关，启动时探活验证令牌
	gw := gateway.NewChatGateway(&cfg.Gateway)
	probeCtx, probeCancel := context.WithTimeout(context.Background(), 5*time.Second)
	identity, err := gw.GetIdentity(probeCtx)
	probeCancel()
	if err != nil {
		log.Fatalf("消息网关探活失败: %v", err)
	}
	log.Printf("消息网关连接成功: bot=%s", identity.Username)

	// 创建上下文（用于优雅关闭）
	ctx, cancel := context.WithCancel(context.Background())
	defer cancel()

	repo := repository.NewMessageLogRepository(db)
	notifyService := service.NewNotifyService(repo)

	// 组装调度器：告警器 + 跨实例调度锁 + 结果事件发布
	escalator := job.NewEscalator(gw, cfg.Dispatch.OperatorChatIDs)

	hostname, _ := os.Hostname()
	instanceID := fmt.Sprintf("%s-%d", hostname, os.Getpid())
	dispatchLock := lock.NewDispatchLock(redisClient, instanceID, cfg.Dispatch.CycleTimeout())

	var results job.ResultPublisher
	if cfg.Kafka.Topic.NotifyResult != "" {
		results = job.NewKafkaResultPublisher(cfg.Kafka.Topic.NotifyResult)
	}

	dispatcher := job.NewMessageDispatcher(repo, gw, escalator, dispatchLock, results, &cfg.Dispatch)
	go dispatcher.Start(ctx)

	// 启动过期消息清理任务
	sweep := job.NewRetentionSweep(repo, &cfg.Dispatch)
	go sweep.Start(ctx)

	// 启动 Kafka 通知请求消费
	consumer, err := mq.NewEnqueueConsumer(&cfg.Kafka, notifyService.EnqueueFromPayload)
	if err != nil {
		log.Fatalf("创建通知请求消费者失败: %v", err)
	}
	defer consumer.Close()
	go consumer.Start(ctx)

	// 设置路由
	statsService := service.NewStatsService(repo, dispatcher)
	router := handler.SetupRouter(notifyService, statsService)

	// 启动 HTTP 服务
	server := &http.Server{
		Addr:    fmt.Sprintf(":%d", cfg.Server.Port),
		Handler: router,
	}

	// 在 goroutine 中启动服务器
	go func() {
		log.Printf("服务启动，监听端口: %d", cfg.Server.Port)
		if err := server.ListenAndServe(); err != nil && err != http.ErrServerClosed {
			log.Fatalf("服务启动失败: %v", err)
		}
	}()

	// 等待中断信号
	quit := make(chan os.Signal, 1)
	signal.Notify(quit, syscall.SIGINT, syscall.SIGTERM)
	<-quit

	log.Println("正在关闭服务...")

	// 取消上下文，停止后台任务
	cancel()

	// 关闭 HTTP 服务（等待最多5秒）
	shutdownCtx, shutdownCancel := context.WithTimeout(context.Background(), 5*time.Second)
	defer shutdownCancel()

	if err := server.Shutdown(shutdownCtx); err != nil {
		log.Printf("服务关闭异常: %v", err)
	}

	log.Println("服务已关闭")
}
