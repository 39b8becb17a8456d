package handlers

import (
	"bufio"
	"encoding/json"
	"errors"
	"mime"
	"net"
	"net/http"
	"time"

	"github.com/BaSui01/webpilot/agent/lifecycle"
	"github.com/BaSui01/webpilot/agent/persistence"
	"github.com/BaSui01/webpilot/types"
	"go.uber.org/zap"
)

// MaxBodySize 请求体上限（1 MB）
const MaxBodySize = 1 << 20

// =============================================================================
// 📦 通用响应结构
// =============================================================================

// Response 统一 API 响应结构
type Response struct {
	Success   bool       `json:"success"`
	Data      any        `json:"data,omitempty"`
	Error     *ErrorInfo `json:"error,omitempty"`
	Timestamp time.Time  `json:"timestamp"`
	RequestID string     `json:"request_id,omitempty"`
}

// ErrorInfo 错误信息结构
type ErrorInfo struct {
	Code       string `json:"code"`
	Message    string `json:"message"`
	Retryable  bool   `json:"retryable,omitempty"`
	HTTPStatus int    `json:"-"` // 不序列化到 JSON
}

// =============================================================================
// 🎯 响应写出
// =============================================================================

// WriteJSON 写出任意 JSON。响应头写出后编码失败无法再改状态码，只能丢弃错误。
func WriteJSON(w http.ResponseWriter, status int, data any) {
	h := w.Header()
	h.Set("Content-Type", "application/json; charset=utf-8")
	h.Set("X-Content-Type-Options", "nosniff")
	w.WriteHeader(status)
	_ = json.NewEncoder(w).Encode(data)
}

// envelope 填充时间戳与请求 ID（由 RequestID 中间件写入响应头）
func envelope(w http.ResponseWriter, data any, info *ErrorInfo) Response {
	return Response{
		Success:   info == nil,
		Data:      data,
		Error:     info,
		Timestamp: time.Now(),
		RequestID: w.Header().Get(RequestIDHeader),
	}
}

// WriteSuccess 200 成功响应
func WriteSuccess(w http.ResponseWriter, data any) {
	WriteStatus(w, http.StatusOK, data)
}

// WriteStatus 以指定状态码写成功响应，如创建任务的 201
func WriteStatus(w http.ResponseWriter, status int, data any) {
	WriteJSON(w, status, envelope(w, data, nil))
}

// WriteError 写错误响应。状态码优先取 err.HTTPStatus，否则按错误码映射；
// 5xx 记 Error 日志，其余记 Warn。
func WriteError(w http.ResponseWriter, err *types.Error, logger *zap.Logger) {
	status := err.HTTPStatus
	if status == 0 {
		status = mapErrorCodeToHTTPStatus(err.Code)
	}

	if logger != nil {
		fields := []zap.Field{
			zap.String("code", string(err.Code)),
			zap.String("message", err.Message),
			zap.Int("status", status),
			zap.Error(err.Cause),
		}
		if status >= http.StatusInternalServerError {
			logger.Error("API error", fields...)
		} else {
			logger.Warn("API error", fields...)
		}
	}

	WriteJSON(w, status, envelope(w, nil, &ErrorInfo{
		Code:       string(err.Code),
		Message:    err.Message,
		Retryable:  err.Retryable,
		HTTPStatus: status,
	}))
}

// WriteErrorMessage 以显式状态码写错误
func WriteErrorMessage(w http.ResponseWriter, status int, code types.ErrorCode, message string, logger *zap.Logger) {
	WriteError(w, types.NewError(code, message).WithHTTPStatus(status), logger)
}

// =============================================================================
// 🔄 错误映射
// =============================================================================

var errorStatus = map[types.ErrorCode]int{
	types.ErrInvalidRequest:     http.StatusBadRequest,
	types.ErrResumeRejected:     http.StatusBadRequest,
	types.ErrUnauthorized:       http.StatusUnauthorized,
	types.ErrNotFound:           http.StatusNotFound,
	types.ErrConflict:           http.StatusConflict,
	types.ErrRateLimited:        http.StatusTooManyRequests,
	types.ErrUpstreamError:      http.StatusBadGateway,
	types.ErrServiceUnavailable: http.StatusServiceUnavailable,
	types.ErrUpstreamTimeout:    http.StatusGatewayTimeout,
}

func mapErrorCodeToHTTPStatus(code types.ErrorCode) int {
	if status, ok := errorStatus[code]; ok {
		return status
	}
	return http.StatusInternalServerError
}

// toAPIError 把存储与生命周期的哨兵错误翻译为 API 错误码
func toAPIError(err error) *types.Error {
	if apiErr, ok := types.AsError(err); ok {
		return apiErr
	}

	var code types.ErrorCode
	message := err.Error()
	retryable := false
	switch {
	case errors.Is(err, persistence.ErrNotFound):
		code, message = types.ErrNotFound, "task not found"
	case errors.Is(err, lifecycle.ErrResumeRejected):
		code = types.ErrResumeRejected
	case errors.Is(err, lifecycle.ErrInvalidGoal), errors.Is(err, persistence.ErrInvalidInput):
		code = types.ErrInvalidRequest
	case errors.Is(err, lifecycle.ErrIllegalTransition):
		code = types.ErrConflict
	case errors.Is(err, lifecycle.ErrNoDispatcher), errors.Is(err, persistence.ErrStoreClosed):
		code, message, retryable = types.ErrServiceUnavailable, "task execution is unavailable", true
	default:
		code, message = types.ErrInternalError, "internal error"
	}
	return types.NewError(code, message).WithCause(err).WithRetryable(retryable)
}

// =============================================================================
// 🛡️ 请求解析
// =============================================================================

// DecodeJSONBody 解码请求体到 dst：最多 MaxBodySize 字节，拒绝未知字段与尾随数据。
// 失败时已写出错误响应，调用方直接返回即可。
func DecodeJSONBody(w http.ResponseWriter, r *http.Request, dst any, logger *zap.Logger) error {
	reject := func(status int, message string, cause error) error {
		apiErr := types.NewError(types.ErrInvalidRequest, message).WithHTTPStatus(status).WithCause(cause)
		WriteError(w, apiErr, logger)
		return apiErr
	}

	if r.Body == nil || r.Body == http.NoBody {
		return reject(http.StatusBadRequest, "request body is empty", nil)
	}

	r.Body = http.MaxBytesReader(w, r.Body, MaxBodySize)
	dec := json.NewDecoder(r.Body)
	dec.DisallowUnknownFields()

	if err := dec.Decode(dst); err != nil {
		var tooLarge *http.MaxBytesError
		if errors.As(err, &tooLarge) {
			return reject(http.StatusRequestEntityTooLarge, "request body too large", err)
		}
		return reject(http.StatusBadRequest, "invalid JSON body", err)
	}
	if dec.More() {
		return reject(http.StatusBadRequest, "request body must contain a single JSON object", nil)
	}
	return nil
}

// ValidateContentType 只接受 application/json（忽略参数与大小写）
func ValidateContentType(w http.ResponseWriter, r *http.Request, logger *zap.Logger) bool {
	mediaType, _, err := mime.ParseMediaType(r.Header.Get("Content-Type"))
	if err == nil && mediaType == "application/json" {
		return true
	}
	WriteErrorMessage(w, http.StatusUnsupportedMediaType, types.ErrInvalidRequest,
		"Content-Type must be application/json", logger)
	return false
}

// =============================================================================
// 📊 响应包装器（用于捕获状态码）
// =============================================================================

// RequestIDHeader 请求 ID 头
const RequestIDHeader = "X-Request-ID"

// ResponseWriter 包装 http.ResponseWriter 以捕获状态码
type ResponseWriter struct {
	http.ResponseWriter
	StatusCode int
	Written    bool
}

// NewResponseWriter 创建新的 ResponseWriter
func NewResponseWriter(w http.ResponseWriter) *ResponseWriter {
	return &ResponseWriter{
		ResponseWriter: w,
		StatusCode:     http.StatusOK,
	}
}

// WriteHeader 重写 WriteHeader 以捕获状态码
func (rw *ResponseWriter) WriteHeader(code int) {
	if !rw.Written {
		rw.StatusCode = code
		rw.Written = true
		rw.ResponseWriter.WriteHeader(code)
	}
}

// Write 重写 Write 以标记已写入
func (rw *ResponseWriter) Write(b []byte) (int, error) {
	if !rw.Written {
		rw.WriteHeader(http.StatusOK)
	}
	return rw.ResponseWriter.Write(b)
}

// Unwrap 让 http.ResponseController 与 websocket 升级访问底层连接
func (rw *ResponseWriter) Unwrap() http.ResponseWriter {
	return rw.ResponseWriter
}

// Hijack 支持 websocket 升级
func (rw *ResponseWriter) Hijack() (net.Conn, *bufio.ReadWriter, error) {
	return http.NewResponseController(rw.ResponseWriter).Hijack()
}
