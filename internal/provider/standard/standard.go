package standard

import (
	"context"
	"errors"
	"net/http"
	"net/http/cookiejar"
	"net/url"
	"strings"

	"github.com/go-resty/resty/v2"
	"golang.org/x/time/rate"

	"ticket_grabber/internal/config"
	"ticket_grabber/internal/logbus"
	"ticket_grabber/internal/model"
	"ticket_grabber/internal/provider"
	"ticket_grabber/internal/utils"
)

type Options struct {
	Provider config.ProviderConfig
	Proxy    config.ProxyConfig
	Limits   config.LimitsConfig
	// Global 为所有会话共享的限速器，可为空。
	Global *rate.Limiter
	Bus    *logbus.Bus
}

// Session 是基于 resty 的账号会话，cookie jar 在会话生命周期内共享。
type Session struct {
	client     *resty.Client
	jar        *cookiejar.Jar
	limiter    *rate.Limiter
	global     *rate.Limiter
	bus        *logbus.Bus
	cookieURLs []*url.URL
}

var _ provider.Session = (*Session)(nil)

func NewGlobalLimiter(cfg config.LimitsConfig) *rate.Limiter {
	if cfg.GlobalQPS <= 0 {
		return nil
	}
	return rate.NewLimiter(rate.Limit(cfg.GlobalQPS), cfg.GlobalBurst)
}

func New(account model.Account, opts Options) (*Session, error) {
	jar, err := cookiejar.New(nil)
	if err != nil {
		return nil, err
	}
	s := &Session{
		jar:    jar,
		global: opts.Global,
		bus:    opts.Bus,
	}
	for _, raw := range []string{opts.Provider.ShowBaseURL, opts.Provider.APIBaseURL} {
		u, err := url.Parse(strings.TrimRight(raw, "/") + "/")
		if err != nil || u.Host == "" {
			return nil, errors.New("invalid provider base url: " + raw)
		}
		s.cookieURLs = append(s.cookieURLs, u)
	}
	for _, entry := range account.Cookies {
		u, err := url.Parse(entry.URL)
		if err != nil {
			continue
		}
		jar.SetCookies(u, model.CookiesToHTTP(entry.Cookies))
	}
	if opts.Limits.SessionQPS > 0 {
		s.limiter = rate.NewLimiter(rate.Limit(opts.Limits.SessionQPS), opts.Limits.SessionBurst)
	}

	client := resty.New().
		SetTimeout(opts.Provider.Timeout()).
		SetCookieJar(jar).
		SetRetryCount(opts.Provider.Retry.Count).
		SetRetryWaitTime(opts.Provider.Retry.Wait()).
		SetRetryMaxWaitTime(opts.Provider.Retry.MaxWait()).
		AddRetryCondition(func(r *resty.Response, err error) bool {
			if err != nil {
				return !errors.Is(err, context.Canceled)
			}
			return r == nil || r.StatusCode() >= 500
		})

	proxy := account.Proxy
	if proxy == "" {
		proxy = opts.Proxy.Global
	}
	if proxy != "" {
		client.SetProxy(proxy)
	}

	show := s.cookieURLs[0]
	client.SetHeaders(map[string]string{
		"User-Agent": utils.NormalizeMobileUserAgent(account.UserAgent, opts.Provider.UserAgent),
		"Referer":    show.String(),
		"Origin":     strings.TrimRight(show.String(), "/"),
		"Accept":     "application/json, text/plain, */*",
	})

	client.OnBeforeRequest(func(_ *resty.Client, req *resty.Request) error {
		if s.bus != nil {
			s.bus.Log("debug", "http request", map[string]any{
				"method": req.Method,
				"url":    req.URL,
			})
		}
		return nil
	})
	s.client = client
	return s, nil
}

func (s *Session) Get(ctx context.Context, rawURL string) (*provider.Response, error) {
	return s.do(ctx, http.MethodGet, rawURL, nil, nil)
}

func (s *Session) Post(ctx context.Context, rawURL string, body any) (*provider.Response, error) {
	return s.do(ctx, http.MethodPost, rawURL, nil, body)
}

func (s *Session) PostWithHeaders(ctx context.Context, rawURL string, headers map[string]string, body any) (*provider.Response, error) {
	return s.do(ctx, http.MethodPost, rawURL, headers, body)
}

func (s *Session) do(ctx context.Context, method, rawURL string, headers map[string]string, body any) (*provider.Response, error) {
	if err := s.wait(ctx); err != nil {
		return nil, err
	}
	req := s.client.R().SetContext(ctx).SetHeaders(headers)
	if body != nil {
		req.SetHeader("Content-Type", "application/json").SetBody(body)
	}
	resp, err := req.Execute(method, rawURL)
	if err != nil {
		return nil, err
	}
	return &provider.Response{StatusCode: resp.StatusCode(), Body: resp.Body()}, nil
}

func (s *Session) wait(ctx context.Context) error {
	if s.global != nil {
		if err := s.global.Wait(ctx); err != nil {
			return err
		}
	}
	if s.limiter != nil {
		return s.limiter.Wait(ctx)
	}
	return nil
}

func (s *Session) Cookie(name string) (string, bool) {
	for _, u := range s.cookieURLs {
		for _, c := range s.jar.Cookies(u) {
			if c.Name == name {
				return c.Value, true
			}
		}
	}
	return "", false
}

// ExportCookies 导出当前 jar，用于把服务端刷新过的 cookie 写回账号。
func (s *Session) ExportCookies() []model.CookieJarEntry {
	out := make([]model.CookieJarEntry, 0, len(s.cookieURLs))
	for _, u := range s.cookieURLs {
		cookies := s.jar.Cookies(u)
		if len(cookies) == 0 {
			continue
		}
		out = append(out, model.CookieJarEntry{URL: u.String(), Cookies: model.CookiesFromHTTP(cookies)})
	}
	return out
}
