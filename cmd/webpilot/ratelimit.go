package main

import (
	"net"
	"net/http"
	"sync"

	"github.com/BaSui01/webpilot/api/handlers"
	"github.com/BaSui01/webpilot/internal/ctxkeys"
	"github.com/BaSui01/webpilot/types"

	lru "github.com/hashicorp/golang-lru/v2"
	"go.uber.org/zap"
	"golang.org/x/time/rate"
)

// maxClients 同时跟踪的客户端数，超出后淘汰最久未访问的
const maxClients = 10_000

// RateLimiter 每个客户端一个令牌桶。客户端按认证主体区分，未认证时按 IP。
// 限额可在运行时通过 SetLimits 调整。
type RateLimiter struct {
	mu      sync.Mutex
	limit   rate.Limit
	burst   int
	clients *lru.Cache[string, *rate.Limiter]

	skip   map[string]struct{}
	logger *zap.Logger
}

// NewRateLimiter rps <= 0 表示不限流
func NewRateLimiter(rps float64, burst int, skipPaths []string, logger *zap.Logger) *RateLimiter {
	clients, err := lru.New[string, *rate.Limiter](maxClients)
	if err != nil {
		panic(err) // 仅在容量非正时发生
	}
	l := &RateLimiter{
		clients: clients,
		skip:    make(map[string]struct{}, len(skipPaths)),
		logger:  logger,
	}
	for _, p := range skipPaths {
		l.skip[p] = struct{}{}
	}
	l.SetLimits(rps, burst)
	return l
}

// SetLimits 更新限额，已跟踪的客户端立即生效
func (l *RateLimiter) SetLimits(rps float64, burst int) {
	limit := rate.Inf
	if rps > 0 {
		limit = rate.Limit(rps)
	}
	burst = max(burst, 1)

	l.mu.Lock()
	defer l.mu.Unlock()
	l.limit, l.burst = limit, burst
	for _, b := range l.clients.Values() {
		b.SetLimit(limit)
		b.SetBurst(burst)
	}
}

func (l *RateLimiter) allow(client string) bool {
	l.mu.Lock()
	if l.limit == rate.Inf {
		l.mu.Unlock()
		return true
	}
	bucket, ok := l.clients.Get(client)
	if !ok {
		bucket = rate.NewLimiter(l.limit, l.burst)
		l.clients.Add(client, bucket)
	}
	l.mu.Unlock()
	return bucket.Allow()
}

// Tracked 当前跟踪的客户端数
func (l *RateLimiter) Tracked() int {
	return l.clients.Len()
}

// Middleware 超限时返回 429，公开路径不计数
func (l *RateLimiter) Middleware() Middleware {
	return func(next http.Handler) http.Handler {
		return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
			if _, skip := l.skip[r.URL.Path]; !skip && !l.allow(clientKey(r)) {
				handlers.WriteError(w, types.NewError(types.ErrRateLimited, "too many requests").WithRetryable(true), l.logger)
				return
			}
			next.ServeHTTP(w, r)
		})
	}
}

func clientKey(r *http.Request) string {
	if p, ok := ctxkeys.Principal(r.Context()); ok {
		return p
	}
	host, _, err := net.SplitHostPort(r.RemoteAddr)
	if err != nil {
		host = r.RemoteAddr
	}
	return "ip:" + host
}
