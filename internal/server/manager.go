package server

import (
	"context"
	"errors"
	"fmt"
	"net"
	"net/http"
	"sync"
	"time"

	"github.com/BaSui01/webpilot/internal/tlsutil"
	"github.com/prometheus/client_golang/prometheus/promhttp"
	"go.uber.org/zap"
	"golang.org/x/net/netutil"
)

// Config 单个监听端口的配置
type Config struct {
	// Name 出现在日志里，区分 api / metrics
	Name string `yaml:"-"`

	Addr            string        `yaml:"addr"`
	ReadTimeout     time.Duration `yaml:"read_timeout"`
	WriteTimeout    time.Duration `yaml:"write_timeout"` // 事件 websocket 在握手时自行清除
	IdleTimeout     time.Duration `yaml:"idle_timeout"`
	MaxHeaderBytes  int           `yaml:"max_header_bytes"`
	ShutdownTimeout time.Duration `yaml:"shutdown_timeout"`

	// MaxConnections 同时保持的连接上限，0 不限制。事件 websocket 也占用连接。
	MaxConnections int `yaml:"max_connections"`

	// 证书与私钥，均为空时使用明文 HTTP
	TLSCertFile string `yaml:"tls_cert_file"`
	TLSKeyFile  string `yaml:"tls_key_file"`
}

// DefaultConfig 返回 API 端口的默认配置
func DefaultConfig() Config {
	return Config{
		Name:            "api",
		Addr:            ":8080",
		ReadTimeout:     30 * time.Second,
		WriteTimeout:    30 * time.Second,
		IdleTimeout:     120 * time.Second,
		MaxHeaderBytes:  1 << 20,
		ShutdownTimeout: 30 * time.Second,
	}
}

func (c Config) useTLS() bool {
	return c.TLSCertFile != "" || c.TLSKeyFile != ""
}

type state int

const (
	stateIdle state = iota
	stateServing
	stateStopped
)

// =============================================================================
// 🌐 Manager
// =============================================================================

// Manager 管理一个 http.Server 的监听、服务与优雅关闭。
// 生命周期单向推进：idle → serving → stopped，停止后不能再次启动。
type Manager struct {
	cfg    Config
	srv    *http.Server
	logger *zap.Logger

	mu       sync.Mutex
	state    state
	listener net.Listener

	done     chan struct{}
	serveErr error
}

// NewManager 创建管理器；此时不监听端口
func NewManager(handler http.Handler, cfg Config, logger *zap.Logger) *Manager {
	if logger == nil {
		logger = zap.NewNop()
	}
	if cfg.Name == "" {
		cfg.Name = "http"
	}
	return &Manager{
		cfg: cfg,
		srv: &http.Server{
			Handler:           handler,
			ReadTimeout:       cfg.ReadTimeout,
			ReadHeaderTimeout: cfg.ReadTimeout,
			WriteTimeout:      cfg.WriteTimeout,
			IdleTimeout:       cfg.IdleTimeout,
			MaxHeaderBytes:    cfg.MaxHeaderBytes,
		},
		logger: logger.With(zap.String("component", "http_server"), zap.String("server", cfg.Name)),
		done:   make(chan struct{}),
	}
}

// NewMetricsManager 创建只暴露 /metrics 的管理器
func NewMetricsManager(cfg Config, logger *zap.Logger) *Manager {
	if cfg.Name == "" {
		cfg.Name = "metrics"
	}
	mux := http.NewServeMux()
	mux.Handle("GET /metrics", promhttp.Handler())
	return NewManager(mux, cfg, logger)
}

// Start 绑定端口并在后台开始服务
func (m *Manager) Start() error {
	m.mu.Lock()
	defer m.mu.Unlock()

	switch m.state {
	case stateServing:
		return fmt.Errorf("%s server already started", m.cfg.Name)
	case stateStopped:
		return fmt.Errorf("%s server is closed", m.cfg.Name)
	}

	if m.cfg.useTLS() {
		tlsCfg, err := tlsutil.ServerConfig(m.cfg.TLSCertFile, m.cfg.TLSKeyFile)
		if err != nil {
			return err
		}
		m.srv.TLSConfig = tlsCfg
	}

	ln, err := net.Listen("tcp", m.cfg.Addr)
	if err != nil {
		return fmt.Errorf("listen %s: %w", m.cfg.Addr, err)
	}
	if m.cfg.MaxConnections > 0 {
		ln = netutil.LimitListener(ln, m.cfg.MaxConnections)
	}
	m.listener = ln
	m.state = stateServing

	m.logger.Info("server listening",
		zap.String("addr", ln.Addr().String()),
		zap.Bool("tls", m.cfg.useTLS()),
		zap.Int("max_connections", m.cfg.MaxConnections),
	)
	go m.serve(ln)
	return nil
}

func (m *Manager) serve(ln net.Listener) {
	defer close(m.done)

	var err error
	if m.cfg.useTLS() {
		err = m.srv.ServeTLS(ln, "", "")
	} else {
		err = m.srv.Serve(ln)
	}
	if errors.Is(err, http.ErrServerClosed) {
		return
	}
	m.logger.Error("server exited", zap.Error(err))
	m.mu.Lock()
	m.serveErr = err
	m.mu.Unlock()
}

// Run 启动并阻塞到 ctx 结束或服务异常退出，返回前完成优雅关闭
func (m *Manager) Run(ctx context.Context) error {
	if err := m.Start(); err != nil {
		return err
	}
	select {
	case <-ctx.Done():
		return m.Shutdown(context.WithoutCancel(ctx))
	case <-m.done:
		_ = m.Shutdown(context.WithoutCancel(ctx))
		return m.Err()
	}
}

// Shutdown 停止接收新连接并等待在途请求，最多 ShutdownTimeout。
// 重复调用与未启动时调用都返回 nil。
func (m *Manager) Shutdown(ctx context.Context) error {
	m.mu.Lock()
	prev := m.state
	m.state = stateStopped
	m.mu.Unlock()

	if prev != stateServing {
		return nil
	}

	if m.cfg.ShutdownTimeout > 0 {
		var cancel context.CancelFunc
		ctx, cancel = context.WithTimeout(ctx, m.cfg.ShutdownTimeout)
		defer cancel()
	}

	m.logger.Info("server shutting down")
	if err := m.srv.Shutdown(ctx); err != nil {
		m.logger.Warn("graceful shutdown incomplete", zap.Error(err))
		return err
	}
	<-m.done
	m.logger.Info("server stopped")
	return nil
}

// Done 在服务循环退出后关闭
func (m *Manager) Done() <-chan struct{} {
	return m.done
}

// Err 返回导致服务循环异常退出的错误；正常关闭时为 nil
func (m *Manager) Err() error {
	m.mu.Lock()
	defer m.mu.Unlock()
	return m.serveErr
}

// Addr 启动后返回实际绑定的地址，否则返回配置值
func (m *Manager) Addr() string {
	m.mu.Lock()
	defer m.mu.Unlock()
	if m.listener != nil {
		return m.listener.Addr().String()
	}
	return m.cfg.Addr
}

// Serving 报告是否正在服务
func (m *Manager) Serving() bool {
	m.mu.Lock()
	defer m.mu.Unlock()
	return m.state == stateServing
}
