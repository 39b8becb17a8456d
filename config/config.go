package config

import (
	"time"

	"github.com/BaSui01/webpilot/agent/browser"
	"github.com/BaSui01/webpilot/agent/memory"
	"github.com/BaSui01/webpilot/agent/persistence"
	"github.com/BaSui01/webpilot/internal/database"
	"github.com/BaSui01/webpilot/llm/embedding"
	"github.com/BaSui01/webpilot/llm/inference"
)

// DefaultEnvPrefix 环境变量前缀
const DefaultEnvPrefix = "WEBPILOT"

// =============================================================================
// 🎯 核心配置结构
// =============================================================================

// Config 是 webpilot 的完整配置结构
type Config struct {
	// Server HTTP API 与指标服务
	Server ServerConfig `yaml:"server" env:"SERVER"`

	// Log 日志配置
	Log LogConfig `yaml:"log" env:"LOG"`

	// Redis 任务存储 / 分布式调度共用的连接
	Redis RedisConfig `yaml:"redis" env:"REDIS"`

	// Store 任务存储
	Store StoreConfig `yaml:"store" env:"STORE"`

	// Dispatch 循环调度
	Dispatch DispatchConfig `yaml:"dispatch" env:"DISPATCH"`

	// Inference 推理后端
	Inference inference.Config `yaml:"inference" env:"INFERENCE"`

	// Embedding 嵌入向量
	Embedding embedding.Config `yaml:"embedding" env:"EMBEDDING"`

	// Memory 经验记忆
	Memory memory.Config `yaml:"memory" env:"MEMORY"`

	// Browser 浏览器驱动
	Browser browser.Config `yaml:"browser" env:"BROWSER"`

	// Loop 控制循环
	Loop LoopConfig `yaml:"loop" env:"LOOP"`

	// Telemetry 遥测配置
	Telemetry TelemetryConfig `yaml:"telemetry" env:"TELEMETRY"`
}

// ServerConfig 服务器配置
type ServerConfig struct {
	// HTTP 端口
	HTTPPort int `yaml:"http_port" env:"HTTP_PORT"`
	// Metrics 端口
	MetricsPort int `yaml:"metrics_port" env:"METRICS_PORT"`
	// 读取超时
	ReadTimeout time.Duration `yaml:"read_timeout" env:"READ_TIMEOUT"`
	// 写入超时
	WriteTimeout time.Duration `yaml:"write_timeout" env:"WRITE_TIMEOUT"`
	// 优雅关闭超时
	ShutdownTimeout time.Duration `yaml:"shutdown_timeout" env:"SHUTDOWN_TIMEOUT"`
	// API 端口的并发连接上限，0 不限制
	MaxConnections int `yaml:"max_connections" env:"MAX_CONNECTIONS"`
	// TLS 证书，留空使用明文
	TLSCertFile string `yaml:"tls_cert_file" env:"TLS_CERT_FILE"`
	TLSKeyFile  string `yaml:"tls_key_file" env:"TLS_KEY_FILE"`

	// API Key 列表，与 JWT 均为空时关闭认证
	APIKeys []string `yaml:"api_keys" env:"API_KEYS"`
	// 是否允许通过 ?api_key= 传递（websocket 客户端无法设置请求头时使用）
	AllowQueryAPIKey bool `yaml:"allow_query_api_key" env:"ALLOW_QUERY_API_KEY"`
	// JWT HMAC 密钥
	JWTSecret string `yaml:"jwt_secret" env:"JWT_SECRET"`
	// JWT 签发者，留空不校验
	JWTIssuer string `yaml:"jwt_issuer" env:"JWT_ISSUER"`

	// 每个客户端的限流，0 表示关闭
	RateLimitRPS   float64 `yaml:"rate_limit_rps" env:"RATE_LIMIT_RPS"`
	RateLimitBurst int     `yaml:"rate_limit_burst" env:"RATE_LIMIT_BURST"`

	// CORS 允许的来源
	CORSAllowedOrigins []string `yaml:"cors_allowed_origins" env:"CORS_ALLOWED_ORIGINS"`
}

// RedisConfig Redis 配置
type RedisConfig struct {
	// 地址
	Addr string `yaml:"addr" env:"ADDR"`
	// 密码
	Password string `yaml:"password" env:"PASSWORD"`
	// 数据库编号
	DB int `yaml:"db" env:"DB"`
	// 连接池大小
	PoolSize int `yaml:"pool_size" env:"POOL_SIZE"`
	// 最小空闲连接
	MinIdleConns int `yaml:"min_idle_conns" env:"MIN_IDLE_CONNS"`
	// 键前缀，任务存储与调度队列共用
	KeyPrefix string `yaml:"key_prefix" env:"KEY_PREFIX"`
	// 是否启用 TLS
	TLS bool `yaml:"tls" env:"TLS"`
}

// StoreConfig 任务存储配置
type StoreConfig struct {
	// 类型: memory, redis, sql
	Type persistence.StoreType `yaml:"type" env:"TYPE"`
	// 并发更新冲突的重试次数
	MaxUpdateRetries int `yaml:"max_update_retries" env:"MAX_UPDATE_RETRIES"`
	// 跳过启动时的自动建表（postgres/mysql 可改用 webpilot migrate）
	SkipAutoMigrate bool `yaml:"skip_auto_migrate" env:"SKIP_AUTO_MIGRATE"`
	// SQL 存储使用的数据库
	Database DatabaseConfig `yaml:"database" env:"DATABASE"`
}

// DatabaseConfig 数据库配置
type DatabaseConfig struct {
	// 驱动类型: postgres, mysql, sqlite
	Driver string `yaml:"driver" env:"DRIVER"`
	// 完整连接串，设置后忽略下面的分项
	DSN string `yaml:"dsn" env:"DSN"`
	// 主机
	Host string `yaml:"host" env:"HOST"`
	// 端口
	Port int `yaml:"port" env:"PORT"`
	// 用户名
	User string `yaml:"user" env:"USER"`
	// 密码
	Password string `yaml:"password" env:"PASSWORD"`
	// 数据库名；sqlite 为文件路径
	Name string `yaml:"name" env:"NAME"`
	// SSL 模式
	SSLMode string `yaml:"ssl_mode" env:"SSL_MODE"`
	// 连接池
	Pool database.PoolConfig `yaml:"pool" env:"POOL"`
}

// DispatchConfig 调度配置
type DispatchConfig struct {
	// 模式: local（进程内）, redis（队列 + worker）
	Mode string `yaml:"mode" env:"MODE"`
	// 并发循环数
	Workers int `yaml:"workers" env:"WORKERS"`
	// 进程内等待队列长度
	QueueSize int `yaml:"queue_size" env:"QUEUE_SIZE"`
	// worker 阻塞出队的超时
	PollTimeout time.Duration `yaml:"poll_timeout" env:"POLL_TIMEOUT"`
}

// 调度模式
const (
	DispatchLocal = "local"
	DispatchRedis = "redis"
)

// LoopConfig 控制循环配置
type LoopConfig struct {
	// 提示词中保留的最近动作数
	HistoryWindow int `yaml:"history_window" env:"HISTORY_WINDOW"`
	// 连续恢复次数上限，0 表示不限制
	MaxConsecutiveRetries int `yaml:"max_consecutive_retries" env:"MAX_CONSECUTIVE_RETRIES"`
	// 场景提示的最大余弦距离
	HintMaxDistance float32 `yaml:"hint_max_distance" env:"HINT_MAX_DISTANCE"`
	// 页面错误标记词，留空使用内置列表
	ErrorMarkers []string `yaml:"error_markers" env:"ERROR_MARKERS"`
}

// LogConfig 日志配置
type LogConfig struct {
	// 日志级别: debug, info, warn, error
	Level string `yaml:"level" env:"LEVEL"`
	// 输出格式: json, console
	Format string `yaml:"format" env:"FORMAT"`
	// 输出路径
	OutputPaths []string `yaml:"output_paths" env:"OUTPUT_PATHS"`
	// 是否启用调用者信息
	EnableCaller bool `yaml:"enable_caller" env:"ENABLE_CALLER"`
	// 是否启用堆栈跟踪
	EnableStacktrace bool `yaml:"enable_stacktrace" env:"ENABLE_STACKTRACE"`
}

// TelemetryConfig 遥测配置
type TelemetryConfig struct {
	// 是否启用
	Enabled bool `yaml:"enabled" env:"ENABLED"`
	// OTLP 端点
	OTLPEndpoint string `yaml:"otlp_endpoint" env:"OTLP_ENDPOINT"`
	// 是否使用明文 gRPC
	Insecure bool `yaml:"insecure" env:"INSECURE"`
	// 服务名称
	ServiceName string `yaml:"service_name" env:"SERVICE_NAME"`
	// 采样率
	SampleRate float64 `yaml:"sample_rate" env:"SAMPLE_RATE"`
}
