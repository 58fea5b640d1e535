package provider

import (
	"context"
	"fmt"
)

// Response 是一次 HTTP 调用的原始结果，由 showapi 负责解码。
type Response struct {
	StatusCode int
	Body       []byte
}

func (r *Response) OK() bool {
	return r != nil && r.StatusCode == 200
}

func (r *Response) String() string {
	if r == nil {
		return "<nil>"
	}
	return fmt.Sprintf("status=%d body=%d bytes", r.StatusCode, len(r.Body))
}

// Session 是已登录账号的请求能力，cookie、指纹头和 UA 由实现自行维护。
// 实现必须能被多个任务并发使用。
type Session interface {
	Get(ctx context.Context, url string) (*Response, error)
	Post(ctx context.Context, url string, body any) (*Response, error)
	PostWithHeaders(ctx context.Context, url string, headers map[string]string, body any) (*Response, error)
	Cookie(name string) (string, bool)
}
