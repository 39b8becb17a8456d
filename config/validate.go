package config

import (
	"fmt"
	"net"
	"strconv"
	"strings"

	"github.com/BaSui01/webpilot/agent/persistence"
	"github.com/BaSui01/webpilot/llm/inference"
	"github.com/go-sql-driver/mysql"
)

// problems 收集校验失败项，按配置段顺序输出
type problems []string

func (p *problems) add(format string, args ...any) {
	*p = append(*p, fmt.Sprintf(format, args...))
}

func (p *problems) check(ok bool, format string, args ...any) {
	if !ok {
		p.add(format, args...)
	}
}

func (p problems) err() error {
	if len(p) == 0 {
		return nil
	}
	return fmt.Errorf("config validation errors: %s", strings.Join(p, "; "))
}

func validPort(port int) bool { return port > 0 && port <= 65535 }

// Validate 检查全部配置段，一次返回所有问题
func (c *Config) Validate() error {
	var p problems
	c.validateServer(&p)
	c.validateStorage(&p)
	c.validateRuntime(&p)
	return p.err()
}

func (c *Config) validateServer(p *problems) {
	s := c.Server
	p.check(validPort(s.HTTPPort), "invalid HTTP port")
	// 0 表示不启动指标端口
	p.check(s.MetricsPort == 0 || validPort(s.MetricsPort), "invalid metrics port")
	p.check(s.MetricsPort == 0 || s.MetricsPort != s.HTTPPort, "metrics port must differ from HTTP port")
	p.check((s.TLSCertFile == "") == (s.TLSKeyFile == ""), "tls_cert_file and tls_key_file must be set together")
	p.check(s.RateLimitRPS >= 0, "rate_limit_rps must not be negative")
	p.check(s.MaxConnections >= 0, "max_connections must not be negative")

	switch strings.ToLower(c.Log.Level) {
	case "debug", "info", "warn", "error":
	default:
		p.add("unknown log level %q", c.Log.Level)
	}
}

func (c *Config) validateStorage(p *problems) {
	switch c.Store.Type {
	case persistence.StoreTypeMemory, persistence.StoreTypeRedis:
	case persistence.StoreTypeSQL:
		p.check(c.Store.Database.Driver != "", "sql store requires store.database.driver")
		if err := c.Store.Database.Pool.Validate(); err != nil {
			p.add("store.database.pool: %v", err)
		}
	default:
		p.add("unknown store type %q", c.Store.Type)
	}

	if c.NeedsRedis() {
		p.check(c.Redis.Addr != "", "redis.addr is required")
	}

	switch c.Dispatch.Mode {
	case DispatchLocal:
	case DispatchRedis:
		// worker 与 API 进程必须共享任务记录
		p.check(c.Store.Type != persistence.StoreTypeMemory, "redis dispatch requires a shared store (redis or sql)")
	default:
		p.add("unknown dispatch mode %q", c.Dispatch.Mode)
	}
	p.check(c.Dispatch.Workers > 0, "dispatch.workers must be positive")
	p.check(c.Dispatch.QueueSize >= 0, "dispatch.queue_size must not be negative")
}

func (c *Config) validateRuntime(p *problems) {
	switch c.Inference.Backend {
	case inference.BackendRunPod, inference.BackendOpenAI:
	default:
		p.add("unknown inference backend %q", c.Inference.Backend)
	}

	// 余弦距离取值 [0, 2]
	p.check(c.Memory.ReuseThreshold >= 0 && c.Memory.ReuseThreshold <= 2, "memory.reuse_threshold must be between 0 and 2")
	p.check(c.Loop.HintMaxDistance >= 0 && c.Loop.HintMaxDistance <= 2, "loop.hint_max_distance must be between 0 and 2")
	p.check(c.Loop.HistoryWindow > 0, "loop.history_window must be positive")
	p.check(c.Loop.MaxConsecutiveRetries >= 0, "loop.max_consecutive_retries must not be negative")

	p.check(c.Telemetry.SampleRate >= 0 && c.Telemetry.SampleRate <= 1, "telemetry.sample_rate must be between 0 and 1")
}

// =============================================================================
// 🗄️ DSN
// =============================================================================

// ResolveDSN 返回数据库连接串。DSN 字段优先，未知驱动返回空串。
func (d DatabaseConfig) ResolveDSN() string {
	if d.DSN != "" {
		return d.DSN
	}
	switch strings.ToLower(d.Driver) {
	case "postgres", "postgresql":
		pairs := []struct{ k, v string }{
			{"host", d.Host},
			{"port", strconv.Itoa(d.Port)},
			{"user", d.User},
			{"password", d.Password},
			{"dbname", d.Name},
			{"sslmode", d.SSLMode},
		}
		parts := make([]string, 0, len(pairs))
		for _, kv := range pairs {
			parts = append(parts, kv.k+"="+libpqQuote(kv.v))
		}
		return strings.Join(parts, " ")
	case "mysql":
		mc := mysql.NewConfig()
		mc.User = d.User
		mc.Passwd = d.Password
		mc.Net = "tcp"
		mc.Addr = net.JoinHostPort(d.Host, strconv.Itoa(d.Port))
		mc.DBName = d.Name
		mc.ParseTime = true
		return mc.FormatDSN()
	case "sqlite", "sqlite3":
		return d.Name
	default:
		return ""
	}
}

// libpqQuote 按 libpq keyword/value 语法转义含空格或引号的值
func libpqQuote(v string) string {
	if v != "" && !strings.ContainsAny(v, ` '\`) {
		return v
	}
	r := strings.NewReplacer(`\`, `\\`, `'`, `\'`)
	return "'" + r.Replace(v) + "'"
}
