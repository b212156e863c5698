package config

import (
	"fmt"
	"strings"

	"github.com/spf13/viper"
)

// Config 应用配置
type Config struct {
	App      AppConfig
	Server   ServerConfig
	Redis    RedisConfig
	Kafka    KafkaConfig
	Realtime RealtimeConfig
}

// AppConfig 应用配置
type AppConfig struct {
	Name      string
	Version   string
	JWTSecret string
	LogLevel  string
}

// ServerConfig 服务器配置
type ServerConfig struct {
	HTTP HTTPConfig
}

// HTTPConfig HTTP服务配置
type HTTPConfig struct {
	Network string
	Addr    string
	Timeout string
}

// RedisConfig Redis配置
type RedisConfig struct {
	Addr     string
	Password string
	DB       int
}

// KafkaConfig Kafka配置
type KafkaConfig struct {
	Brokers      []string
	ArchiveTopic string
}

// RealtimeConfig 实时服务配置
type RealtimeConfig struct {
	AllowedOrigins    []string // 握手阶段允许的Origin白名单，空表示不限制
	TypingTimeout     int      // 输入状态超时时间（秒）
	HeartbeatInterval int      // 实例心跳间隔（秒）
	OtelEnabled       bool
}

// LoadConfig 从环境变量加载配置
// JWT密钥是硬性要求, 缺失时直接返回错误让进程在启动阶段失败
func LoadConfig(serviceName string) (*Config, error) {
	v := viper.New()
	v.AutomaticEnv()

	v.SetDefault("APP_VERSION", "1.0.0")
	v.SetDefault("LOG_LEVEL", "info")
	v.SetDefault("REDIS_ADDR", "localhost:6379")
	v.SetDefault("REDIS_PASSWORD", "")
	v.SetDefault("REDIS_DB", 0)
	v.SetDefault("KAFKA_BROKERS", "localhost:9092")
	v.SetDefault("KAFKA_ARCHIVE_TOPIC", "message_archive")
	v.SetDefault("ALLOWED_ORIGINS", "")
	v.SetDefault("TYPING_TIMEOUT", 5)
	v.SetDefault("HEARTBEAT_INTERVAL", 10)
	v.SetDefault("OTEL_ENABLED", true)

	secret := v.GetString("JWT_SECRET")
	if secret == "" {
		return nil, fmt.Errorf("缺少JWT_SECRET环境变量，服务无法校验连接令牌")
	}

	// 端口：PORT 优先，回退 HTTP_PORT，最后默认端口
	port := v.GetString("PORT")
	if port == "" {
		port = v.GetString("HTTP_PORT")
	}
	if port == "" {
		port = "21006"
	}

	return &Config{
		App: AppConfig{
			Name:      serviceName,
			Version:   v.GetString("APP_VERSION"),
			JWTSecret: secret,
			LogLevel:  v.GetString("LOG_LEVEL"),
		},
		Server: ServerConfig{
			HTTP: HTTPConfig{
				Network: "tcp",
				Addr:    ":" + port,
				Timeout: "30s",
			},
		},
		Redis: RedisConfig{
			Addr:     v.GetString("REDIS_ADDR"),
			Password: v.GetString("REDIS_PASSWORD"),
			DB:       v.GetInt("REDIS_DB"),
		},
		Kafka: KafkaConfig{
			Brokers:      splitList(v.GetString("KAFKA_BROKERS")),
			ArchiveTopic: v.GetString("KAFKA_ARCHIVE_TOPIC"),
		},
		Realtime: RealtimeConfig{
			AllowedOrigins:    splitList(v.GetString("ALLOWED_ORIGINS")),
			TypingTimeout:     v.GetInt("TYPING_TIMEOUT"),
			HeartbeatInterval: v.GetInt("HEARTBEAT_INTERVAL"),
			OtelEnabled:       v.GetBool("OTEL_ENABLED"),
		},
	}, nil
}

// splitList 解析逗号分隔的列表
func splitList(s string) []string {
	if s == "" {
		return nil
	}
	parts := strings.Split(s, ",")
	result := make([]string, 0, len(parts))
	for _, p := range parts {
		if trimmed := strings.TrimSpace(p); trimmed != "" {
			result = append(result, trimmed)
		}
	}
	return result
}
