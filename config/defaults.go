// =============================================================================
// 📦 webpilot 默认配置
// =============================================================================
// 提供所有配置项的合理默认值
// =============================================================================
package config

import (
	"time"

	"github.com/BaSui01/webpilot/agent/browser"
	"github.com/BaSui01/webpilot/agent/decision"
	"github.com/BaSui01/webpilot/agent/loop"
	"github.com/BaSui01/webpilot/agent/memory"
	"github.com/BaSui01/webpilot/agent/persistence"
	"github.com/BaSui01/webpilot/internal/database"
	"github.com/BaSui01/webpilot/llm/embedding"
	"github.com/BaSui01/webpilot/llm/inference"
)

// DefaultConfig 返回默认配置
func DefaultConfig() *Config {
	return &Config{
		Server:    DefaultServerConfig(),
		Log:       DefaultLogConfig(),
		Redis:     DefaultRedisConfig(),
		Store:     DefaultStoreConfig(),
		Dispatch:  DefaultDispatchConfig(),
		Inference: inference.DefaultConfig(),
		Embedding: embedding.DefaultConfig(),
		Memory:    memory.DefaultConfig(),
		Browser:   browser.DefaultConfig(),
		Loop:      DefaultLoopConfig(),
		Telemetry: DefaultTelemetryConfig(),
	}
}

// DefaultServerConfig 返回默认服务器配置
func DefaultServerConfig() ServerConfig {
	return ServerConfig{
		HTTPPort:        8080,
		MetricsPort:     9091,
		ReadTimeout:     30 * time.Second,
		WriteTimeout:    30 * time.Second,
		ShutdownTimeout: 15 * time.Second,
		RateLimitRPS:    50,
		RateLimitBurst:  100,
	}
}

// DefaultRedisConfig 返回默认 Redis 配置
func DefaultRedisConfig() RedisConfig {
	return RedisConfig{
		Addr:         "localhost:6379",
		DB:           0,
		PoolSize:     10,
		MinIdleConns: 2,
		KeyPrefix:    persistence.DefaultStoreConfig().KeyPrefix,
	}
}

// DefaultStoreConfig 返回默认任务存储配置
func DefaultStoreConfig() StoreConfig {
	return StoreConfig{
		Type:             persistence.StoreTypeMemory,
		MaxUpdateRetries: persistence.DefaultStoreConfig().MaxUpdateRetries,
		Database:         DefaultDatabaseConfig(),
	}
}

// DefaultDatabaseConfig 返回默认数据库配置
func DefaultDatabaseConfig() DatabaseConfig {
	return DatabaseConfig{
		Driver:  "postgres",
		Host:    "localhost",
		Port:    5432,
		User:    "webpilot",
		Name:    "webpilot",
		SSLMode: "disable",
		Pool:    database.DefaultPoolConfig(),
	}
}

// DefaultDispatchConfig 返回默认调度配置
func DefaultDispatchConfig() DispatchConfig {
	return DispatchConfig{
		Mode:        DispatchLocal,
		Workers:     4,
		QueueSize:   64,
		PollTimeout: time.Second,
	}
}

// DefaultLoopConfig 返回默认控制循环配置
func DefaultLoopConfig() LoopConfig {
	return LoopConfig{
		HistoryWindow:         decision.DefaultConfig().HistoryWindow,
		MaxConsecutiveRetries: 0,
		HintMaxDistance:       loop.DefaultConfig().HintMaxDistance,
	}
}

// DefaultLogConfig 返回默认日志配置
func DefaultLogConfig() LogConfig {
	return LogConfig{
		Level:            "info",
		Format:           "json",
		OutputPaths:      []string{"stdout"},
		EnableCaller:     true,
		EnableStacktrace: false,
	}
}

// DefaultTelemetryConfig 返回默认遥测配置
func DefaultTelemetryConfig() TelemetryConfig {
	return TelemetryConfig{
		Enabled:      false,
		OTLPEndpoint: "localhost:4317",
		Insecure:     true,
		ServiceName:  "webpilot",
		SampleRate:   0.1,
	}
}
