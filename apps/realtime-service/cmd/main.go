package main

import (
	"context"
	"log"
	"os"
	"time"

	"github.com/gin-gonic/gin"
	"github.com/google/uuid"

	"marketplace-realtime/apps/realtime-service/handler"
	"marketplace-realtime/apps/realtime-service/service"
	"marketplace-realtime/pkg/lifecycle"
	"marketplace-realtime/pkg/server"
)

func main() {
	serviceName := "realtime-service"

	// 创建应用程序（配置加载、日志、Redis、Kafka、链路追踪）
	app := server.NewApplication(serviceName)
	cfg := app.GetConfig()

	// 实例标识：主机名+随机后缀, 保证扩容副本互不冲突
	hostname, err := os.Hostname()
	if err != nil {
		hostname = "unknown"
	}
	instanceID := serviceName + "-" + hostname + "-" + uuid.NewString()[:8]
	log.Printf("Realtime instance ID: %s", instanceID)

	// 启用HTTP服务器
	app.EnableHTTP()

	// 初始化Service层
	rdb := app.GetRedisClient()
	registry := service.NewInstanceRegistry(instanceID, rdb,
		time.Duration(cfg.Realtime.HeartbeatInterval)*time.Second, app.GetLogger())
	svc := service.NewService(
		instanceID,
		rdb,
		service.NewRedisBus(rdb),
		app.GetKafkaProducer(),
		registry,
		app.GetLogger(),
		time.Duration(cfg.Realtime.TypingTimeout)*time.Second,
		cfg.Kafka.ArchiveTopic,
	)

	// 初始化Handler层
	wsHandler := handler.NewWSHandler(svc, cfg, app.GetLogger())
	httpHandler := handler.NewHTTPHandler(svc, app.GetLogger())

	// 注册路由
	app.RegisterHTTPRoutes(func(engine *gin.Engine) {
		wsHandler.RegisterRoutes(engine)
		httpHandler.RegisterRoutes(engine)
	})

	// 核心服务钩子：先于HTTP服务器启动, 晚于HTTP服务器停止
	app.AddLifecycleHook(lifecycle.Hook{
		Name:     "realtime-core",
		Priority: 50,
		OnStart: func(ctx context.Context) error {
			return svc.Start(context.Background())
		},
		OnStop: func(ctx context.Context) error {
			svc.Stop(ctx)
			return nil
		},
	})

	// 运行应用
	if err := app.Run(); err != nil {
		log.Fatalf("Application run failed: %v", err)
	}
}
