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

	"settlement/internal/config"
	"settlement/internal/gateway"
	"settlement/internal/handler"
	"settlement/internal/infrastructure/cache"
	"settlement/internal/infrastructure/database"
	"settlement/internal/infrastructure/mq"
	"settlement/internal/job"
	"settlement/internal/service"
	"settlement/internal/taskapi"
	"settlement/pkg/idgen"
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

	// 初始化网关客户端（商户私钥只在进程启动时读一次）
	privateKeyPEM, err := os.ReadFile(cfg.Gateway.PrivateKeyPath)
	if err != nil {
		log.Fatalf("读取商户私钥失败: %v", err)
	}
	signer, err := gateway.NewSigner(cfg.Gateway.MchID, cfg.Gateway.SerialNo, privateKeyPEM)
	if err != nil {
		log.Fatalf("加载商户私钥失败: %v", err)
	}
	gatewayClient := gateway.NewClient(&cfg.Gateway, signer)
	taskClient := taskapi.NewClient(&cfg.TaskAPI)

	// 创建上下文（用于优雅关闭）
	ctx, cancel := context.WithCancel(context.Background())
	defer cancel()

	// 启动后台任务
	settleSvc := service.NewSettleService(db, cfg)

	outboxSender := job.NewOutboxSender(db, cfg)
	outboxSender.Start(ctx)

	payoutMonitor := job.NewPayoutMonitor(db, gatewayClient, settleSvc, cfg)
	payoutMonitor.Start(ctx)

	taskMonitor := job.NewTaskMonitor(db, taskClient, cfg)
	taskMonitor.Start(ctx)

	// 设置路由
	router := handler.SetupRouter(db, redisClient, cfg, gatewayClient)

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

	// 先停后台任务，Stop 会等待在途的一轮执行完，再取消根上下文
	taskMonitor.Stop()
	payoutMonitor.Stop()
	outboxSender.Stop()
	cancel()

	// 关闭 HTTP 服务（等待最多5秒）
	shutdownCtx, shutdownCancel := context.WithTimeout(context.Background(), 5*time.Second)
	defer shutdownCancel()

	if err := server.Shutdown(shutdownCtx); err != nil {
		log.Printf("服务关闭异常: %v", err)
	}

	log.Println("服务已关闭")
}
