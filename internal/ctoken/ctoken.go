// Package ctoken 提供热门项目下单所需的反爬 token。
// token 的推导交给外部签名服务，这里只负责调用约定。
package ctoken

import (
	"context"
	"strings"
	"sync"
	"time"

	"github.com/go-resty/resty/v2"
	"github.com/pkg/errors"
)

type Generator interface {
	// Generate 返回一个 ctoken，isRetry 为 true 表示下单重试阶段。
	Generate(isRetry bool) string
}

// Factory 为一次抢票尝试创建生成器。saleBegin 为开售时间（秒），
// offset 为时间偏移，salt 为随机停留时长。
type Factory func(saleBegin int64, offset, salt int) Generator

type empty struct{}

func (empty) Generate(bool) string { return "" }

// Empty 始终返回空 token，只适用于非热门项目。
func Empty() Factory {
	return func(int64, int, int) Generator { return empty{} }
}

type RemoteOptions struct {
	Endpoint string
	Timeout  time.Duration
	// OnError 在签名服务调用失败时回调，可为空。
	OnError func(err error)
}

// NewFactory 根据配置返回 Remote 或 Empty。
func NewFactory(opts RemoteOptions) Factory {
	if strings.TrimSpace(opts.Endpoint) == "" {
		return Empty()
	}
	if opts.Timeout <= 0 {
		opts.Timeout = 2 * time.Second
	}
	client := resty.New().
		SetTimeout(opts.Timeout).
		SetHeader("Content-Type", "application/json")
	return func(saleBegin int64, offset, salt int) Generator {
		return &Remote{
			client:    client,
			opts:      opts,
			saleBegin: saleBegin,
			offset:    offset,
			salt:      salt,
			created:   time.Now(),
		}
	}
}

// Remote 把生成参数交给签名服务，失败时返回空 token。
type Remote struct {
	client    *resty.Client
	opts      RemoteOptions
	saleBegin int64
	offset    int
	salt      int
	created   time.Time

	mu    sync.Mutex
	calls int
}

type remoteRequest struct {
	SaleBegin int64 `json:"saleBegin"`
	Offset    int   `json:"offset"`
	Salt      int   `json:"salt"`
	IsRetry   bool  `json:"isRetry"`
	// StayMs 是生成器创建至今的停留时长。
	StayMs int64 `json:"stayMs"`
	Seq    int   `json:"seq"`
}

type remoteResponse struct {
	Token string `json:"token"`
}

func (r *Remote) Generate(isRetry bool) string {
	r.mu.Lock()
	r.calls++
	seq := r.calls
	r.mu.Unlock()

	token, err := r.fetch(remoteRequest{
		SaleBegin: r.saleBegin,
		Offset:    r.offset,
		Salt:      r.salt,
		IsRetry:   isRetry,
		StayMs:    time.Since(r.created).Milliseconds(),
		Seq:       seq,
	})
	if err != nil {
		if r.opts.OnError != nil {
			r.opts.OnError(err)
		}
		return ""
	}
	return token
}

func (r *Remote) fetch(body remoteRequest) (string, error) {
	ctx, cancel := context.WithTimeout(context.Background(), r.opts.Timeout)
	defer cancel()

	var out remoteResponse
	resp, err := r.client.R().
		SetContext(ctx).
		SetBody(body).
		ForceContentType("application/json").
		SetResult(&out).
		Post(r.opts.Endpoint)
	if err != nil {
		return "", errors.Wrap(err, "ctoken endpoint")
	}
	if resp.IsError() {
		return "", errors.Errorf("ctoken endpoint: http status %d", resp.StatusCode())
	}
	if out.Token == "" {
		return "", errors.New("ctoken endpoint returned empty token")
	}
	return out.Token, nil
}
