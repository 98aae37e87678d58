// Package tracing 生成请求链路追踪用的 trace/span 标识
package tracing

import (
	"encoding/hex"

	"github.com/google/uuid"
)

// NewID 返回 16 位十六进制随机串。
// 只取 UUIDv4 中完全随机的字节（跳过版本位与变体位所在的字节）。
func NewID() string {
	u := uuid.New()
	b := make([]byte, 0, 8)
	b = append(b, u[0:4]...)
	b = append(b, u[12:16]...)
	return hex.EncodeToString(b)
}

// Pair 一次请求使用的 trace/span 标识
type Pair struct {
	TraceID string
	SpanID  string
}

// NewPair 生成一对新的标识
func NewPair() Pair {
	return Pair{TraceID: NewID(), SpanID: NewID()}
}

// Headers 转换为 HTTP 头
func (p Pair) Headers() map[string]string {
	return map[string]string{
		"X-Trace-Id": p.TraceID,
		"X-Span-Id":  p.SpanID,
	}
}
