package notify

import (
	"context"
	"errors"
	"fmt"
	"strings"
	"sync"
	"time"

	"github.com/go-resty/resty/v2"

	"ticket_grabber/internal/model"
)

const (
	MethodBark     = "bark"
	MethodPushPlus = "pushplus"
	MethodGotify   = "gotify"
)

var ErrNoPushChannel = errors.New("没有可用的推送渠道")

type PushSettingsSource interface {
	GetPushSettings(ctx context.Context) (model.PushSettings, bool, error)
}

type PushOptions struct {
	BarkBaseURL string
	PushPlusURL string
	Timeout     time.Duration
}

// Push 向 bark、pushplus、gotify 发送下单成功通知，每次发送在后台协程完成。
type Push struct {
	settings PushSettingsSource
	log      Logger
	client   *resty.Client
	opts     PushOptions
	wg       sync.WaitGroup
}

func NewPush(settings PushSettingsSource, log Logger, opts PushOptions) *Push {
	if log == nil {
		log = nopLogger{}
	}
	if opts.BarkBaseURL == "" {
		opts.BarkBaseURL = "https://api.day.app"
	}
	if opts.PushPlusURL == "" {
		opts.PushPlusURL = "http://www.pushplus.plus/send"
	}
	if opts.Timeout <= 0 {
		opts.Timeout = 8 * time.Second
	}
	client := resty.New().
		SetTimeout(opts.Timeout).
		SetHeader("Content-Type", "application/json")
	return &Push{settings: settings, log: log, client: client, opts: opts}
}

func (p *Push) NotifyOrder(_ context.Context, evt OrderEvent) {
	p.wg.Add(1)
	go func() {
		defer p.wg.Done()
		ctx, cancel := context.WithTimeout(context.Background(), 2*p.opts.Timeout)
		defer cancel()

		settings, ok, err := p.settings.GetPushSettings(ctx)
		if err != nil {
			p.log.Log("warn", "读取推送配置失败", map[string]any{"error": err.Error()})
			return
		}
		if !ok || !settings.Enabled {
			return
		}
		if err := p.Send(ctx, settings, evt.Title(), evt.Message(), OrderDetailURL(evt.OrderID)); err != nil {
			p.log.Log("warn", "推送失败", map[string]any{"taskId": evt.TaskID, "error": err.Error()})
			return
		}
		p.log.Log("info", "推送已发送", map[string]any{"taskId": evt.TaskID, "methods": settings.Methods})
	}()
}

// Wait 等待在途推送完成。
func (p *Push) Wait(ctx context.Context) error {
	done := make(chan struct{})
	go func() {
		p.wg.Wait()
		close(done)
	}()
	select {
	case <-done:
		return nil
	case <-ctx.Done():
		return ctx.Err()
	}
}

// Send 向所有启用且配置了 token 的渠道发送，返回各渠道错误的合并。
func (p *Push) Send(ctx context.Context, settings model.PushSettings, title, message, jumpURL string) error {
	var (
		errs []error
		sent int
	)
	try := func(method string, fn func() error) {
		sent++
		if err := fn(); err != nil {
			errs = append(errs, fmt.Errorf("%s: %w", method, err))
		}
	}
	if settings.Has(MethodBark) && settings.BarkToken != "" {
		try(MethodBark, func() error { return p.bark(ctx, settings.BarkToken, title, message, jumpURL) })
	}
	if settings.Has(MethodPushPlus) && settings.PushPlusToken != "" {
		try(MethodPushPlus, func() error { return p.pushPlus(ctx, settings.PushPlusToken, title, message) })
	}
	if settings.Has(MethodGotify) && settings.GotifyURL != "" && settings.GotifyToken != "" {
		try(MethodGotify, func() error {
			return p.gotify(ctx, settings.GotifyURL, settings.GotifyToken, title, message, jumpURL)
		})
	}
	if sent == 0 {
		return ErrNoPushChannel
	}
	return errors.Join(errs...)
}

func (p *Push) bark(ctx context.Context, token, title, message, jumpURL string) error {
	body := map[string]any{
		"title":     title,
		"body":      message,
		"level":     "timeSensitive",
		"badge":     1,
		"group":     "ticket_grabber",
		"isArchive": 1,
	}
	if jumpURL != "" {
		body["url"] = jumpURL
	}
	return p.post(ctx, strings.TrimRight(p.opts.BarkBaseURL, "/")+"/"+token+"/", body, nil)
}

func (p *Push) pushPlus(ctx context.Context, token, title, message string) error {
	return p.post(ctx, p.opts.PushPlusURL, map[string]any{
		"token":   token,
		"title":   title,
		"content": message,
	}, nil)
}

func (p *Push) gotify(ctx context.Context, baseURL, token, title, message, jumpURL string) error {
	if !strings.Contains(baseURL, "http") {
		baseURL = "http://" + baseURL
	}
	body := map[string]any{
		"title":    title,
		"message":  message,
		"priority": 9,
	}
	if jumpURL != "" {
		body["extras"] = map[string]any{
			"client::notification": map[string]any{"click": map[string]any{"url": jumpURL}},
			"android::action":      map[string]any{"onReceive": map[string]any{"intentUrl": jumpURL}},
		}
	}
	return p.post(ctx, strings.TrimRight(baseURL, "/")+"/message", body, map[string]string{
		"Authorization": "Bearer " + token,
	})
}

func (p *Push) post(ctx context.Context, url string, body any, headers map[string]string) error {
	resp, err := p.client.R().
		SetContext(ctx).
		SetHeaders(headers).
		SetBody(body).
		Post(url)
	if err != nil {
		return err
	}
	if resp.IsError() {
		return fmt.Errorf("推送失败，状态码: %d", resp.StatusCode())
	}
	return nil
}
