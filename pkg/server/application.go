package server

import (
	"context"
	"fmt"

	"github.com/gin-gonic/gin"
	kratoslog "github.com/go-kratos/kratos/v2/log"

	"marketplace-realtime/pkg/config"
	"marketplace-realtime/pkg/kafka"
	"marketplace-realtime/pkg/lifecycle"
	"marketplace-realtime/pkg/logger"
	"marketplace-realtime/pkg/middleware"
	"marketplace-realtime/pkg/redis"
	"marketplace-realtime/pkg/telemetry"
)

// Application 应用程序框架
type Application struct {
	serviceName    string
	config         *config.Config
	logger         kratoslog.Logger
	originalLogger logger.Logger
	httpServer     *HTTPServerWrapper
	lifecycle      *lifecycle.LifecycleManager

	// 基础设施组件
	redisClient   *redis.RedisClient
	kafkaProducer *kafka.Producer

	// 中间件
	authMiddleware    *middleware.AuthMiddleware
	loggingMiddleware *middleware.LoggingMiddleware

	// 注册函数
	httpRouteRegister func(*gin.Engine)
}

// NewApplication 创建应用程序
// 协调基础设施是服务的生存前提, 任何一项初始化失败都直接panic终止启动
func NewApplication(serviceName string) *Application {
	// 加载配置（缺少JWT密钥等硬性配置时直接失败）
	cfg, err := config.LoadConfig(serviceName)
	if err != nil {
		panic(fmt.Sprintf("Failed to load config: %v", err))
	}

	// 初始化业务日志系统
	if err := logger.Init(cfg.App.LogLevel); err != nil {
		panic(fmt.Sprintf("Failed to initialize logger: %v", err))
	}
	originalLogger := logger.GetLogger()

	// 创建Kratos日志器
	kratosLogger := logger.NewKratosStdLogger(cfg.App.Name, cfg.App.Version)

	// 初始化链路追踪
	if cfg.Realtime.OtelEnabled {
		if err := telemetry.InitGlobal(telemetry.DefaultConfig(cfg.App.Name)); err != nil {
			panic(fmt.Sprintf("Failed to initialize telemetry: %v", err))
		}
	}

	// 创建生命周期管理器
	lifecycleManager := lifecycle.NewLifecycleManager(kratosLogger)

	// 创建中间件
	authMiddleware := middleware.NewAuthMiddleware(kratosLogger, cfg.App.JWTSecret)
	loggingMiddleware := middleware.NewLoggingMiddleware(kratosLogger)

	app := &Application{
		serviceName:       serviceName,
		config:            cfg,
		logger:            kratosLogger,
		originalLogger:    originalLogger,
		lifecycle:         lifecycleManager,
		authMiddleware:    authMiddleware,
		loggingMiddleware: loggingMiddleware,
	}

	// 初始化基础设施
	app.initInfrastructure()

	return app
}

// initInfrastructure 初始化基础设施组件
func (app *Application) initInfrastructure() {
	// 初始化Redis并确认可达（共享在线状态和事件总线都依赖它）
	app.redisClient = redis.NewRedisClient(app.config.Redis.Addr, app.config.Redis.Password, app.config.Redis.DB)
	if err := app.redisClient.Ping(context.Background()); err != nil {
		app.logger.Log(kratoslog.LevelFatal, "msg", "Failed to connect to Redis", "addr", app.config.Redis.Addr, "error", err)
		panic(err)
	}

	// 初始化Kafka生产者（消息归档交接）
	kafkaProducer, err := kafka.InitProducer(app.config.Kafka.Brokers)
	if err != nil {
		app.logger.Log(kratoslog.LevelFatal, "msg", "Failed to connect to Kafka", "error", err)
		panic(err)
	}
	app.kafkaProducer = kafkaProducer
}

// EnableHTTP 启用HTTP服务器
func (app *Application) EnableHTTP() HTTPServer {
	app.httpServer = NewHTTPServerWrapper(app.config, app.logger)

	// 添加中间件
	app.httpServer.RegisterRoutes(func(engine *gin.Engine) {
		engine.Use(app.loggingMiddleware.GinLogging())
		engine.Use(app.loggingMiddleware.GinRecovery())
		engine.Use(app.authMiddleware.GinAuth())
	})

	return app.httpServer
}

// RegisterHTTPRoutes 注册HTTP路由
func (app *Application) RegisterHTTPRoutes(registerFunc func(*gin.Engine)) {
	app.httpRouteRegister = registerFunc
}

// AddLifecycleHook 注册业务生命周期钩子
func (app *Application) AddLifecycleHook(hook lifecycle.Hook) {
	app.lifecycle.AddHook(hook)
}

// GetRedisClient 获取Redis客户端
func (app *Application) GetRedisClient() *redis.RedisClient {
	return app.redisClient
}

// GetKafkaProducer 获取Kafka生产者
func (app *Application) GetKafkaProducer() *kafka.Producer {
	return app.kafkaProducer
}

// GetLogger 获取业务日志器
func (app *Application) GetLogger() logger.Logger {
	return app.originalLogger
}

// GetKratosLogger 获取Kratos日志器
func (app *Application) GetKratosLogger() kratoslog.Logger {
	return app.logger
}

// GetConfig 获取配置
func (app *Application) GetConfig() *config.Config {
	return app.config
}

// Run 运行应用程序
func (app *Application) Run() error {
	// 注册生命周期钩子
	app.registerLifecycleHooks()

	// 启动生命周期管理器
	if err := app.lifecycle.Start(); err != nil {
		return fmt.Errorf("failed to start lifecycle: %w", err)
	}

	// 等待停止信号
	app.lifecycle.Wait()

	return nil
}

// registerLifecycleHooks 注册生命周期钩子
func (app *Application) registerLifecycleHooks() {
	// 注册HTTP路由
	if app.httpRouteRegister != nil && app.httpServer != nil {
		app.httpServer.RegisterRoutes(app.httpRouteRegister)
	}

	// 服务器启动钩子
	if app.httpServer != nil {
		app.lifecycle.AddHook(lifecycle.Hook{
			Name:     "http-server",
			Priority: 100,
			OnStart: func(ctx context.Context) error {
				return app.httpServer.Start(ctx)
			},
			OnStop: func(ctx context.Context) error {
				return app.httpServer.Stop(ctx)
			},
		})
	}

	// 基础设施清理钩子：最先注册、最后停止
	app.lifecycle.AddHook(lifecycle.Hook{
		Name:     "infrastructure",
		Priority: 0,
		OnStop: func(ctx context.Context) error {
			if app.kafkaProducer != nil {
				if err := app.kafkaProducer.Close(); err != nil {
					app.logger.Log(kratoslog.LevelError, "msg", "Failed to close Kafka producer", "error", err)
				}
			}
			if app.redisClient != nil {
				if err := app.redisClient.Close(); err != nil {
					app.logger.Log(kratoslog.LevelError, "msg", "Failed to close Redis", "error", err)
				}
			}
			_ = telemetry.ShutdownGlobal(ctx)
			return nil
		},
	})
}
