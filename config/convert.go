package config

import (
	"fmt"

	"github.com/BaSui01/webpilot/agent/decision"
	"github.com/BaSui01/webpilot/agent/lifecycle"
	"github.com/BaSui01/webpilot/agent/loop"
	"github.com/BaSui01/webpilot/agent/persistence"
	"github.com/BaSui01/webpilot/internal/database"
	"github.com/BaSui01/webpilot/internal/pool"
	"github.com/BaSui01/webpilot/internal/server"
	"github.com/BaSui01/webpilot/internal/tlsutil"
	"github.com/redis/go-redis/v9"
)

// 各组件配置的转换，保持组件包不依赖 config。

// ServerManagerConfig 返回 API 服务的 server.Config
func (c *Config) ServerManagerConfig() server.Config {
	cfg := server.DefaultConfig()
	cfg.Addr = fmt.Sprintf(":%d", c.Server.HTTPPort)
	cfg.ReadTimeout = c.Server.ReadTimeout
	cfg.WriteTimeout = c.Server.WriteTimeout
	cfg.ShutdownTimeout = c.Server.ShutdownTimeout
	cfg.MaxConnections = c.Server.MaxConnections
	cfg.TLSCertFile = c.Server.TLSCertFile
	cfg.TLSKeyFile = c.Server.TLSKeyFile
	return cfg
}

// MetricsServerConfig 返回指标服务的 server.Config；端口为 0 时返回 false
func (c *Config) MetricsServerConfig() (server.Config, bool) {
	if c.Server.MetricsPort == 0 {
		return server.Config{}, false
	}
	cfg := server.DefaultConfig()
	cfg.Name = "metrics"
	cfg.Addr = fmt.Sprintf(":%d", c.Server.MetricsPort)
	cfg.ShutdownTimeout = c.Server.ShutdownTimeout
	return cfg, true
}

// TaskStoreConfig 返回任务存储配置
func (c *Config) TaskStoreConfig() persistence.StoreConfig {
	return persistence.StoreConfig{
		Type:             c.Store.Type,
		KeyPrefix:        c.Redis.KeyPrefix,
		MaxUpdateRetries: c.Store.MaxUpdateRetries,
		SkipAutoMigrate:  c.Store.SkipAutoMigrate,
	}
}

// SQLConfig 返回 SQL 存储的数据库配置
func (c *Config) SQLConfig() database.Config {
	return database.Config{
		Driver: c.Store.Database.Driver,
		DSN:    c.Store.Database.ResolveDSN(),
		Pool:   c.Store.Database.Pool,
	}
}

// RedisOptions 返回 go-redis 连接参数
func (c *Config) RedisOptions() *redis.Options {
	opts := &redis.Options{
		Addr:         c.Redis.Addr,
		Password:     c.Redis.Password,
		DB:           c.Redis.DB,
		PoolSize:     c.Redis.PoolSize,
		MinIdleConns: c.Redis.MinIdleConns,
	}
	if c.Redis.TLS {
		opts.TLSConfig = tlsutil.ClientConfig(c.Redis.Addr)
	}
	return opts
}

// NeedsRedis 报告存储或调度是否使用 Redis
func (c *Config) NeedsRedis() bool {
	return c.Store.Type == persistence.StoreTypeRedis || c.Dispatch.Mode == DispatchRedis
}

// LoopRunnerConfig 返回控制循环配置
func (c *Config) LoopRunnerConfig() loop.Config {
	return loop.Config{
		MaxConsecutiveRetries: c.Loop.MaxConsecutiveRetries,
		HintMaxDistance:       c.Loop.HintMaxDistance,
	}
}

// DecisionConfig 返回决策适配器配置
func (c *Config) DecisionConfig() decision.Config {
	return decision.Config{
		HistoryWindow:   c.Loop.HistoryWindow,
		MaxPromptTokens: c.Inference.MaxPromptTokens,
	}
}

// DispatchPoolConfig 返回循环执行池配置
func (c *Config) DispatchPoolConfig() pool.GoroutinePoolConfig {
	cfg := pool.DefaultGoroutinePoolConfig()
	cfg.MaxWorkers = c.Dispatch.Workers
	cfg.QueueSize = c.Dispatch.QueueSize
	return cfg
}

// WorkerConfig 返回 Redis worker 配置
func (c *Config) WorkerConfig() lifecycle.WorkerConfig {
	return lifecycle.WorkerConfig{
		KeyPrefix:   c.Redis.KeyPrefix,
		PollTimeout: c.Dispatch.PollTimeout,
	}
}
