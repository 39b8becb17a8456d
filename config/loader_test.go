// 配置加载器与校验测试。
package config

import (
	"os"
	"path/filepath"
	"testing"
	"time"

	"github.com/BaSui01/webpilot/agent/persistence"
	"github.com/BaSui01/webpilot/llm/inference"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func writeConfig(t *testing.T, content string) string {
	t.Helper()
	path := filepath.Join(t.TempDir(), "config.yaml")
	require.NoError(t, os.WriteFile(path, []byte(content), 0o644))
	return path
}

// --- Loader 测试 ---

func TestLoader_LoadDefaults(t *testing.T) {
	// 不指定配置文件，应该返回默认值
	cfg, err := NewLoader().Load()
	require.NoError(t, err)
	require.NotNil(t, cfg)

	assert.Equal(t, 8080, cfg.Server.HTTPPort)
	assert.Equal(t, persistence.StoreTypeMemory, cfg.Store.Type)
	assert.Equal(t, DispatchLocal, cfg.Dispatch.Mode)
	require.NoError(t, cfg.Validate())
}

func TestLoader_LoadFromYAML(t *testing.T) {
	path := writeConfig(t, `
server:
  http_port: 8888
  api_keys: ["k1", "k2"]
store:
  type: redis
  max_update_retries: 9
dispatch:
  mode: redis
  workers: 2
redis:
  addr: "redis.internal:6379"
  key_prefix: "wp:"
inference:
  backend: openai
  model: gpt-4o-mini
memory:
  reuse_threshold: 0.15
loop:
  history_window: 5
  max_consecutive_retries: 4
log:
  level: debug
`)

	cfg, err := NewLoader().WithConfigPath(path).WithValidator((*Config).Validate).Load()
	require.NoError(t, err)

	assert.Equal(t, 8888, cfg.Server.HTTPPort)
	assert.Equal(t, []string{"k1", "k2"}, cfg.Server.APIKeys)
	assert.Equal(t, persistence.StoreTypeRedis, cfg.Store.Type)
	assert.Equal(t, 9, cfg.Store.MaxUpdateRetries)
	assert.Equal(t, DispatchRedis, cfg.Dispatch.Mode)
	assert.Equal(t, 2, cfg.Dispatch.Workers)
	assert.Equal(t, "wp:", cfg.Redis.KeyPrefix)
	assert.Equal(t, inference.BackendOpenAI, cfg.Inference.Backend)
	assert.Equal(t, "gpt-4o-mini", cfg.Inference.Model)
	assert.InDelta(t, 0.15, cfg.Memory.ReuseThreshold, 1e-6)
	assert.Equal(t, 5, cfg.Loop.HistoryWindow)
	assert.Equal(t, 4, cfg.Loop.MaxConsecutiveRetries)
	assert.Equal(t, "debug", cfg.Log.Level)

	// 未出现在文件里的字段保持默认值
	assert.Equal(t, 9091, cfg.Server.MetricsPort)
	assert.Equal(t, inference.DefaultConfig().Timeout, cfg.Inference.Timeout)
}

func TestLoader_LoadFromEnv(t *testing.T) {
	t.Setenv("WEBPILOT_SERVER_HTTP_PORT", "7070")
	t.Setenv("WEBPILOT_SERVER_API_KEYS", "alpha, beta,,")
	t.Setenv("WEBPILOT_SERVER_RATE_LIMIT_RPS", "2.5")
	t.Setenv("WEBPILOT_REDIS_TLS", "true")
	t.Setenv("WEBPILOT_DISPATCH_POLL_TIMEOUT", "3s")
	t.Setenv("WEBPILOT_STORE_DATABASE_POOL_MAX_OPEN_CONNS", "7")
	t.Setenv("WEBPILOT_BROWSER_HEADLESS", "false")
	t.Setenv("WEBPILOT_LOOP_HINT_MAX_DISTANCE", "0.5")

	cfg, err := NewLoader().Load()
	require.NoError(t, err)

	assert.Equal(t, 7070, cfg.Server.HTTPPort)
	assert.Equal(t, []string{"alpha", "beta"}, cfg.Server.APIKeys)
	assert.InDelta(t, 2.5, cfg.Server.RateLimitRPS, 1e-9)
	assert.True(t, cfg.Redis.TLS)
	assert.Equal(t, 3*time.Second, cfg.Dispatch.PollTimeout)
	assert.Equal(t, 7, cfg.Store.Database.Pool.MaxOpenConns)
	assert.False(t, cfg.Browser.Headless)
	assert.InDelta(t, 0.5, cfg.Loop.HintMaxDistance, 1e-6)
}

func TestLoader_EnvOverridesYAML(t *testing.T) {
	path := writeConfig(t, "server:\n  http_port: 8888\nlog:\n  level: warn\n")
	t.Setenv("WEBPILOT_SERVER_HTTP_PORT", "9999")

	cfg, err := NewLoader().WithConfigPath(path).Load()
	require.NoError(t, err)
	assert.Equal(t, 9999, cfg.Server.HTTPPort)
	assert.Equal(t, "warn", cfg.Log.Level)
}

func TestLoader_CustomEnvPrefix(t *testing.T) {
	t.Setenv("PILOT_SERVER_HTTP_PORT", "6060")

	cfg, err := NewLoader().WithEnvPrefix("PILOT").Load()
	require.NoError(t, err)
	assert.Equal(t, 6060, cfg.Server.HTTPPort)
}

func TestLoader_InvalidEnvValue(t *testing.T) {
	t.Setenv("WEBPILOT_SERVER_HTTP_PORT", "not-a-number")

	_, err := NewLoader().Load()
	require.Error(t, err)
	assert.Contains(t, err.Error(), "WEBPILOT_SERVER_HTTP_PORT")
}

func TestLoader_WithValidator(t *testing.T) {
	path := writeConfig(t, "server:\n  http_port: 0\n")

	_, err := NewLoader().WithConfigPath(path).WithValidator((*Config).Validate).Load()
	require.Error(t, err)
	assert.Contains(t, err.Error(), "invalid HTTP port")
}

func TestLoader_NonExistentFile(t *testing.T) {
	cfg, err := NewLoader().WithConfigPath(filepath.Join(t.TempDir(), "missing.yaml")).Load()
	require.NoError(t, err)
	assert.Equal(t, 8080, cfg.Server.HTTPPort)
}

func TestLoader_InvalidYAML(t *testing.T) {
	path := writeConfig(t, "server: [unclosed")

	_, err := NewLoader().WithConfigPath(path).Load()
	require.Error(t, err)
	assert.Contains(t, err.Error(), "failed to parse config file")
}

// --- 校验测试 ---

func TestConfig_Validate(t *testing.T) {
	tests := []struct {
		name    string
		mutate  func(*Config)
		wantErr string
	}{
		{name: "defaults", mutate: func(*Config) {}},
		{
			name:    "bad http port",
			mutate:  func(c *Config) { c.Server.HTTPPort = 70000 },
			wantErr: "invalid HTTP port",
		},
		{
			name:    "metrics port clash",
			mutate:  func(c *Config) { c.Server.MetricsPort = c.Server.HTTPPort },
			wantErr: "metrics port must differ",
		},
		{
			name:    "tls cert without key",
			mutate:  func(c *Config) { c.Server.TLSCertFile = "cert.pem" },
			wantErr: "must be set together",
		},
		{
			name:    "unknown log level",
			mutate:  func(c *Config) { c.Log.Level = "verbose" },
			wantErr: "unknown log level",
		},
		{
			name:    "unknown store",
			mutate:  func(c *Config) { c.Store.Type = "etcd" },
			wantErr: "unknown store type",
		},
		{
			name: "sql store without driver",
			mutate: func(c *Config) {
				c.Store.Type = persistence.StoreTypeSQL
				c.Store.Database.Driver = ""
			},
			wantErr: "requires store.database.driver",
		},
		{
			name:    "redis dispatch with memory store",
			mutate:  func(c *Config) { c.Dispatch.Mode = DispatchRedis },
			wantErr: "requires a shared store",
		},
		{
			name: "redis dispatch with redis store",
			mutate: func(c *Config) {
				c.Dispatch.Mode = DispatchRedis
				c.Store.Type = persistence.StoreTypeRedis
			},
		},
		{
			name: "redis without addr",
			mutate: func(c *Config) {
				c.Store.Type = persistence.StoreTypeRedis
				c.Redis.Addr = ""
			},
			wantErr: "redis.addr is required",
		},
		{
			name:    "unknown dispatch",
			mutate:  func(c *Config) { c.Dispatch.Mode = "kafka" },
			wantErr: "unknown dispatch mode",
		},
		{
			name:    "no workers",
			mutate:  func(c *Config) { c.Dispatch.Workers = 0 },
			wantErr: "dispatch.workers",
		},
		{
			name:    "unknown backend",
			mutate:  func(c *Config) { c.Inference.Backend = "llamacpp" },
			wantErr: "unknown inference backend",
		},
		{
			name:    "negative retries",
			mutate:  func(c *Config) { c.Loop.MaxConsecutiveRetries = -1 },
			wantErr: "max_consecutive_retries",
		},
		{
			name:    "history window",
			mutate:  func(c *Config) { c.Loop.HistoryWindow = 0 },
			wantErr: "history_window",
		},
		{
			name:    "sample rate",
			mutate:  func(c *Config) { c.Telemetry.SampleRate = 1.5 },
			wantErr: "sample_rate",
		},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			cfg := DefaultConfig()
			tt.mutate(cfg)
			err := cfg.Validate()
			if tt.wantErr == "" {
				assert.NoError(t, err)
				return
			}
			require.Error(t, err)
			assert.Contains(t, err.Error(), tt.wantErr)
		})
	}
}

func TestDatabaseConfig_ResolveDSN(t *testing.T) {
	base := DatabaseConfig{
		Host: "db", Port: 5432, User: "u", Password: "p", Name: "wp", SSLMode: "disable",
	}

	pg := base
	pg.Driver = "postgres"
	assert.Equal(t, "host=db port=5432 user=u password=p dbname=wp sslmode=disable", pg.ResolveDSN())

	my := base
	my.Driver = "mysql"
	my.Port = 3306
	assert.Equal(t, "u:p@tcp(db:3306)/wp?parseTime=true", my.ResolveDSN())

	lite := DatabaseConfig{Driver: "sqlite", Name: "/var/lib/webpilot/tasks.db"}
	assert.Equal(t, "/var/lib/webpilot/tasks.db", lite.ResolveDSN())

	explicit := base
	explicit.Driver = "postgres"
	explicit.DSN = "postgres://override"
	assert.Equal(t, "postgres://override", explicit.ResolveDSN())

	assert.Empty(t, DatabaseConfig{Driver: "oracle"}.ResolveDSN())
}

// --- 转换测试 ---

func TestConfig_Conversions(t *testing.T) {
	cfg := DefaultConfig()
	cfg.Server.HTTPPort = 8181
	cfg.Server.MetricsPort = 0
	cfg.Redis.KeyPrefix = "wp:"
	cfg.Redis.TLS = true
	cfg.Store.MaxUpdateRetries = 3
	cfg.Loop.MaxConsecutiveRetries = 6
	cfg.Dispatch.Workers = 3

	assert.Equal(t, ":8181", cfg.ServerManagerConfig().Addr)
	_, ok := cfg.MetricsServerConfig()
	assert.False(t, ok)

	store := cfg.TaskStoreConfig()
	assert.Equal(t, "wp:", store.KeyPrefix)
	assert.Equal(t, 3, store.MaxUpdateRetries)

	opts := cfg.RedisOptions()
	require.NotNil(t, opts.TLSConfig)
	assert.Equal(t, "localhost", opts.TLSConfig.ServerName)

	assert.Equal(t, 6, cfg.LoopRunnerConfig().MaxConsecutiveRetries)
	assert.Equal(t, cfg.Loop.HistoryWindow, cfg.DecisionConfig().HistoryWindow)
	assert.Equal(t, 3, cfg.DispatchPoolConfig().MaxWorkers)
	assert.Equal(t, "wp:", cfg.WorkerConfig().KeyPrefix)
	assert.False(t, cfg.NeedsRedis())
}

// --- 辅助函数测试 ---

func TestMustLoad(t *testing.T) {
	path := writeConfig(t, "server:\n  http_port: 8123\n")
	assert.Equal(t, 8123, MustLoad(path).Server.HTTPPort)

	bad := writeConfig(t, "server: [")
	assert.Panics(t, func() { MustLoad(bad) })
}

func TestLoadFromEnv_Function(t *testing.T) {
	t.Setenv("WEBPILOT_LOG_LEVEL", "error")
	cfg, err := LoadFromEnv()
	require.NoError(t, err)
	assert.Equal(t, "error", cfg.Log.Level)
}

func TestLoader_RejectsUnknownYAMLField(t *testing.T) {
	path := writeConfig(t, "server:\n  http_prot: 8888\n")

	_, err := NewLoader().WithConfigPath(path).Load()
	require.Error(t, err)
	assert.Contains(t, err.Error(), "http_prot")
}

func TestLoader_EmptyFile(t *testing.T) {
	cfg, err := NewLoader().WithConfigPath(writeConfig(t, "")).Load()
	require.NoError(t, err)
	assert.Equal(t, 8080, cfg.Server.HTTPPort)
}

func TestLoader_ReportsEveryBadEnvValue(t *testing.T) {
	t.Setenv("WEBPILOT_SERVER_HTTP_PORT", "eighty")
	t.Setenv("WEBPILOT_DISPATCH_POLL_TIMEOUT", "soon")

	_, err := NewLoader().Load()
	require.Error(t, err)
	assert.Contains(t, err.Error(), "WEBPILOT_SERVER_HTTP_PORT")
	assert.Contains(t, err.Error(), "WEBPILOT_DISPATCH_POLL_TIMEOUT")
}

func TestDatabaseConfig_ResolveDSN_Quoting(t *testing.T) {
	pg := DatabaseConfig{
		Driver: "postgres", Host: "db", Port: 5432, User: "u", Password: `it's secret`, Name: "wp", SSLMode: "require",
	}
	assert.Equal(t, `host=db port=5432 user=u password='it\'s secret' dbname=wp sslmode=require`, pg.ResolveDSN())

	pg.Password = ""
	assert.Contains(t, pg.ResolveDSN(), "password='' ")
}
