package config

import (
	"os"
	"testing"
)

func setEnv(t *testing.T, key, value string) {
	t.Helper()
	old, had := os.LookupEnv(key)
	os.Setenv(key, value)
	t.Cleanup(func() {
		if had {
			os.Setenv(key, old)
		} else {
			os.Unsetenv(key)
		}
	})
}

func unsetEnv(t *testing.T, key string) {
	t.Helper()
	old, had := os.LookupEnv(key)
	os.Unsetenv(key)
	t.Cleanup(func() {
		if had {
			os.Setenv(key, old)
		}
	})
}

// TestLoadConfigMissingSecret 测试缺少JWT密钥时启动失败
func TestLoadConfigMissingSecret(t *testing.T) {
	unsetEnv(t, "JWT_SECRET")

	if _, err := LoadConfig("realtime-service"); err == nil {
		t.Errorf("缺少JWT_SECRET应该返回错误")
	}
}

// TestLoadConfigPortFallback 测试端口读取顺序：PORT > HTTP_PORT > 默认
func TestLoadConfigPortFallback(t *testing.T) {
	setEnv(t, "JWT_SECRET", "secret")

	t.Run("默认端口", func(t *testing.T) {
		unsetEnv(t, "PORT")
		unsetEnv(t, "HTTP_PORT")

		cfg, err := LoadConfig("realtime-service")
		if err != nil {
			t.Fatalf("加载配置失败: %v", err)
		}
		if cfg.Server.HTTP.Addr != ":21006" {
			t.Errorf("默认端口不对: %s", cfg.Server.HTTP.Addr)
		}
	})

	t.Run("HTTP_PORT回退", func(t *testing.T) {
		unsetEnv(t, "PORT")
		setEnv(t, "HTTP_PORT", "8081")

		cfg, err := LoadConfig("realtime-service")
		if err != nil {
			t.Fatalf("加载配置失败: %v", err)
		}
		if cfg.Server.HTTP.Addr != ":8081" {
			t.Errorf("HTTP_PORT没有生效: %s", cfg.Server.HTTP.Addr)
		}
	})

	t.Run("PORT优先", func(t *testing.T) {
		setEnv(t, "PORT", "9000")
		setEnv(t, "HTTP_PORT", "8081")

		cfg, err := LoadConfig("realtime-service")
		if err != nil {
			t.Fatalf("加载配置失败: %v", err)
		}
		if cfg.Server.HTTP.Addr != ":9000" {
			t.Errorf("PORT应该优先于HTTP_PORT: %s", cfg.Server.HTTP.Addr)
		}
	})
}

// TestLoadConfigLists 测试逗号分隔列表解析
func TestLoadConfigLists(t *testing.T) {
	setEnv(t, "JWT_SECRET", "secret")
	setEnv(t, "ALLOWED_ORIGINS", "https://app.example.com, https://admin.example.com")
	setEnv(t, "KAFKA_BROKERS", "kafka-1:9092,kafka-2:9092")

	cfg, err := LoadConfig("realtime-service")
	if err != nil {
		t.Fatalf("加载配置失败: %v", err)
	}

	if len(cfg.Realtime.AllowedOrigins) != 2 || cfg.Realtime.AllowedOrigins[1] != "https://admin.example.com" {
		t.Errorf("Origin白名单解析不对: %v", cfg.Realtime.AllowedOrigins)
	}
	if len(cfg.Kafka.Brokers) != 2 || cfg.Kafka.Brokers[0] != "kafka-1:9092" {
		t.Errorf("Kafka broker列表解析不对: %v", cfg.Kafka.Brokers)
	}
}

// TestLoadConfigDefaults 测试实时相关默认值
func TestLoadConfigDefaults(t *testing.T) {
	setEnv(t, "JWT_SECRET", "secret")
	unsetEnv(t, "TYPING_TIMEOUT")
	unsetEnv(t, "HEARTBEAT_INTERVAL")

	cfg, err := LoadConfig("realtime-service")
	if err != nil {
		t.Fatalf("加载配置失败: %v", err)
	}

	if cfg.Realtime.TypingTimeout != 5 {
		t.Errorf("输入超时默认值不对: %d", cfg.Realtime.TypingTimeout)
	}
	if cfg.Realtime.HeartbeatInterval != 10 {
		t.Errorf("心跳间隔默认值不对: %d", cfg.Realtime.HeartbeatInterval)
	}
}
