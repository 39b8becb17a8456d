package main

import (
	"crypto/subtle"
	"fmt"
	"net/http"
	"regexp"
	"strings"
	"time"

	"github.com/BaSui01/webpilot/api/handlers"
	"github.com/BaSui01/webpilot/internal/ctxkeys"
	"github.com/BaSui01/webpilot/internal/metrics"
	"github.com/BaSui01/webpilot/internal/telemetry"
	"github.com/BaSui01/webpilot/types"

	"github.com/golang-jwt/jwt/v5"
	"github.com/google/uuid"
	"go.opentelemetry.io/otel"
	"go.opentelemetry.io/otel/attribute"
	"go.opentelemetry.io/otel/codes"
	"go.opentelemetry.io/otel/propagation"
	semconv "go.opentelemetry.io/otel/semconv/v1.26.0"
	"go.opentelemetry.io/otel/trace"
	"go.uber.org/zap"
)

// Middleware 类型定义
type Middleware func(http.Handler) http.Handler

// Chain 将多个中间件串联，第一个中间件在最外层
func Chain(h http.Handler, middlewares ...Middleware) http.Handler {
	for i := len(middlewares) - 1; i >= 0; i-- {
		h = middlewares[i](h)
	}
	return h
}

// publicPaths 不需要认证也不计入限流的路径
var publicPaths = []string{"/health", "/healthz", "/ready", "/readyz", "/version"}

// Recovery panic 恢复中间件
func Recovery(logger *zap.Logger) Middleware {
	return func(next http.Handler) http.Handler {
		return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
			defer func() {
				if err := recover(); err != nil {
					logger.Error("panic recovered", zap.Any("error", err), zap.String("path", r.URL.Path))
					handlers.WriteErrorMessage(w, http.StatusInternalServerError, types.ErrInternalError, "internal server error", logger)
				}
			}()
			next.ServeHTTP(w, r)
		})
	}
}

// RequestID 为每个请求分配 X-Request-ID，客户端已提供时沿用
func RequestID() Middleware {
	return func(next http.Handler) http.Handler {
		return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
			id := r.Header.Get(handlers.RequestIDHeader)
			if id == "" {
				id = uuid.NewString()
				r.Header.Set(handlers.RequestIDHeader, id)
			}
			w.Header().Set(handlers.RequestIDHeader, id)
			next.ServeHTTP(w, r.WithContext(ctxkeys.WithRequestID(r.Context(), id)))
		})
	}
}

// RequestLogger 请求日志中间件
func RequestLogger(logger *zap.Logger) Middleware {
	return func(next http.Handler) http.Handler {
		return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
			start := time.Now()
			rw := handlers.NewResponseWriter(w)
			next.ServeHTTP(rw, r)

			fields := []zap.Field{
				zap.String("method", r.Method),
				zap.String("path", r.URL.Path),
				zap.Int("status", rw.StatusCode),
				zap.Duration("duration", time.Since(start)),
				zap.String("remote_addr", r.RemoteAddr),
			}
			if id, ok := ctxkeys.RequestID(r.Context()); ok {
				fields = append(fields, zap.String("request_id", id))
			}
			logger.Info("request", fields...)
		})
	}
}

// =============================================================================
// 📊 Metrics / Tracing
// =============================================================================

// MetricsMiddleware 通过 metrics.Collector 记录请求耗时、状态与大小。
// 路径中的任务 ID 归一化为 :id，避免 Prometheus 标签基数失控。
func MetricsMiddleware(collector *metrics.Collector) Middleware {
	return func(next http.Handler) http.Handler {
		return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
			start := time.Now()
			rw := handlers.NewResponseWriter(w)
			counter := &countingWriter{ResponseWriter: rw}

			next.ServeHTTP(counter, r)

			requestSize := r.ContentLength
			if requestSize < 0 {
				requestSize = 0
			}
			collector.RecordHTTPRequest(r.Method, normalizePath(r.URL.Path), rw.StatusCode,
				time.Since(start), requestSize, counter.n)
		})
	}
}

type countingWriter struct {
	http.ResponseWriter
	n int64
}

func (w *countingWriter) Write(b []byte) (int, error) {
	n, err := w.ResponseWriter.Write(b)
	w.n += int64(n)
	return n, err
}

// Unwrap 让 http.ResponseController 能找到底层连接（websocket 升级）
func (w *countingWriter) Unwrap() http.ResponseWriter {
	return w.ResponseWriter
}

// taskPath 匹配单个任务及其子路由
var taskPath = regexp.MustCompile(`^/api/v1/tasks/[^/]+(/[a-z]+)?$`)

// normalizePath 把任务路由中的 ID 替换为 :id
//
//	/api/v1/tasks/3f2a...      -> /api/v1/tasks/:id
//	/api/v1/tasks/3f2a.../stop -> /api/v1/tasks/:id/stop
func normalizePath(path string) string {
	if !taskPath.MatchString(path) {
		return path
	}
	rest := strings.TrimPrefix(path, "/api/v1/tasks/")
	if i := strings.IndexByte(rest, '/'); i >= 0 {
		return "/api/v1/tasks/:id" + rest[i:]
	}
	return "/api/v1/tasks/:id"
}

// OTelTracing 为每个请求创建服务端 span，并从请求头提取上游 trace 上下文
func OTelTracing() Middleware {
	return func(next http.Handler) http.Handler {
		return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
			ctx := otel.GetTextMapPropagator().Extract(r.Context(), propagation.HeaderCarrier(r.Header))

			ctx, span := telemetry.Tracer().Start(ctx, r.Method+" "+normalizePath(r.URL.Path),
				trace.WithSpanKind(trace.SpanKindServer),
				trace.WithAttributes(
					semconv.HTTPRequestMethodKey.String(r.Method),
					semconv.URLPath(r.URL.Path),
				),
			)
			defer span.End()

			rw := handlers.NewResponseWriter(w)
			next.ServeHTTP(rw, r.WithContext(ctx))

			span.SetAttributes(attribute.Int("http.response.status_code", rw.StatusCode))
			if rw.StatusCode >= http.StatusInternalServerError {
				span.SetStatus(codes.Error, http.StatusText(rw.StatusCode))
			}
		})
	}
}

// =============================================================================
// 🔐 认证
// =============================================================================

// AuthConfig 认证配置。APIKeys 与 JWTSecret 均为空时不做认证。
type AuthConfig struct {
	APIKeys          []string
	AllowQueryAPIKey bool
	JWTSecret        string
	JWTIssuer        string
	SkipPaths        []string
}

func (c AuthConfig) enabled() bool {
	return len(c.APIKeys) > 0 || c.JWTSecret != ""
}

// Auth 接受 X-API-Key（可选 ?api_key=）或 Authorization: Bearer <HS256 JWT>。
// 认证主体写入 context，供限流与日志使用。
func Auth(cfg AuthConfig, logger *zap.Logger) Middleware {
	if !cfg.enabled() {
		return func(next http.Handler) http.Handler { return next }
	}

	skipSet := make(map[string]struct{}, len(cfg.SkipPaths))
	for _, p := range cfg.SkipPaths {
		skipSet[p] = struct{}{}
	}

	parserOpts := []jwt.ParserOption{jwt.WithValidMethods([]string{"HS256", "HS384", "HS512"})}
	if cfg.JWTIssuer != "" {
		parserOpts = append(parserOpts, jwt.WithIssuer(cfg.JWTIssuer))
	}
	secret := []byte(cfg.JWTSecret)
	keyFunc := func(*jwt.Token) (any, error) { return secret, nil }

	return func(next http.Handler) http.Handler {
		return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
			if _, skip := skipSet[r.URL.Path]; skip {
				next.ServeHTTP(w, r)
				return
			}

			key := r.Header.Get("X-API-Key")
			if key == "" && cfg.AllowQueryAPIKey {
				key = r.URL.Query().Get("api_key")
			}
			if key != "" {
				if idx := matchKey(cfg.APIKeys, key); idx >= 0 {
					ctx := ctxkeys.WithPrincipal(r.Context(), fmt.Sprintf("api_key:%d", idx))
					next.ServeHTTP(w, r.WithContext(ctx))
					return
				}
				unauthorized(w, "invalid API key", logger)
				return
			}

			authHeader := r.Header.Get("Authorization")
			if len(secret) == 0 || !strings.HasPrefix(authHeader, "Bearer ") {
				unauthorized(w, "missing credentials", logger)
				return
			}

			claims := jwt.MapClaims{}
			token, err := jwt.ParseWithClaims(strings.TrimPrefix(authHeader, "Bearer "), claims, keyFunc, parserOpts...)
			if err != nil || !token.Valid {
				logger.Debug("JWT validation failed", zap.Error(err))
				unauthorized(w, "invalid or expired token", logger)
				return
			}

			principal := "jwt"
			if sub, err := claims.GetSubject(); err == nil && sub != "" {
				principal = "jwt:" + sub
			}
			next.ServeHTTP(w, r.WithContext(ctxkeys.WithPrincipal(r.Context(), principal)))
		})
	}
}

// matchKey 以常量时间比较返回匹配的 key 下标，未匹配返回 -1
func matchKey(keys []string, candidate string) int {
	found := -1
	for i, k := range keys {
		if subtle.ConstantTimeCompare([]byte(k), []byte(candidate)) == 1 && found < 0 {
			found = i
		}
	}
	return found
}

func unauthorized(w http.ResponseWriter, msg string, logger *zap.Logger) {
	handlers.WriteErrorMessage(w, http.StatusUnauthorized, types.ErrUnauthorized, msg, logger)
}

// =============================================================================
// 🌐 CORS / 安全头
// =============================================================================

// CORS 跨域中间件。allowedOrigins 为空时不设置 CORS 头，跨域预检返回 403。
func CORS(allowedOrigins []string) Middleware {
	originSet := make(map[string]struct{}, len(allowedOrigins))
	for _, o := range allowedOrigins {
		originSet[o] = struct{}{}
	}
	return func(next http.Handler) http.Handler {
		return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
			origin := r.Header.Get("Origin")
			if origin == "" {
				next.ServeHTTP(w, r)
				return
			}
			_, allowed := originSet[origin]
			if allowed {
				w.Header().Set("Access-Control-Allow-Origin", origin)
				w.Header().Set("Vary", "Origin")
				w.Header().Set("Access-Control-Allow-Methods", "GET, POST, OPTIONS")
				w.Header().Set("Access-Control-Allow-Headers", "Content-Type, X-API-Key, Authorization, X-Request-ID")
				w.Header().Set("Access-Control-Max-Age", "86400")
			}
			if r.Method == http.MethodOptions {
				if !allowed {
					w.WriteHeader(http.StatusForbidden)
					return
				}
				w.WriteHeader(http.StatusNoContent)
				return
			}
			next.ServeHTTP(w, r)
		})
	}
}

// SecurityHeaders adds common security response headers to every request.
func SecurityHeaders() Middleware {
	return func(next http.Handler) http.Handler {
		return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
			w.Header().Set("X-Frame-Options", "DENY")
			w.Header().Set("X-Content-Type-Options", "nosniff")
			w.Header().Set("Referrer-Policy", "strict-origin-when-cross-origin")
			w.Header().Set("Content-Security-Policy", "default-src 'self'")
			next.ServeHTTP(w, r)
		})
	}
}
