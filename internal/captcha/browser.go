package captcha

import (
	"bytes"
	"context"
	"encoding/json"
	"html/template"
	"runtime"
	"strings"
	"sync"
	"sync/atomic"
	"time"

	"github.com/go-rod/rod"
	"github.com/go-rod/rod/lib/launcher"
	"github.com/go-rod/stealth"
	"github.com/pkg/errors"
)

type EngineState string

const (
	EngineStopped  EngineState = "stopped"
	EngineStarting EngineState = "starting"
	EngineReady    EngineState = "ready"
	EngineError    EngineState = "error"
)

type EngineStatus struct {
	State         EngineState `json:"state"`
	StartedAtMs   int64       `json:"startedAtMs"`
	LastError     string      `json:"lastError,omitempty"`
	PagePoolSize  int         `json:"pagePoolSize"`
	SolveCount    int64       `json:"solveCount"`
	TotalSolveMs  int64       `json:"totalSolveMs"`
	LastSolveAtMs int64       `json:"lastSolveAtMs"`
	GoRoutines    int         `json:"goRoutines"`
}

type BrowserOptions struct {
	Headless bool
	// Bin 为空时由 launcher 自动下载或查找浏览器。
	Bin           string
	Timeout       time.Duration
	MaxConcurrent int
	PollInterval  time.Duration
}

// Browser 在本地浏览器里渲染极验组件，由人工完成验证后读取结果。
type Browser struct {
	opts BrowserOptions
	sem  chan struct{}

	mu       sync.Mutex
	browser  *rod.Browser
	launcher *launcher.Launcher
	pool     []*browserPage
	state    EngineState
	started  int64
	lastErr  string

	solveCount  atomic.Int64
	solveMs     atomic.Int64
	lastSolveAt atomic.Int64
}

type browserPage struct {
	incognito *rod.Browser
	page      *rod.Page
}

func NewBrowser(opts BrowserOptions) *Browser {
	if opts.MaxConcurrent <= 0 {
		opts.MaxConcurrent = 1
	}
	if opts.Timeout <= 0 {
		opts.Timeout = 2 * time.Minute
	}
	if opts.PollInterval <= 0 {
		opts.PollInterval = 300 * time.Millisecond
	}
	return &Browser{
		opts:  opts,
		sem:   make(chan struct{}, opts.MaxConcurrent),
		state: EngineStopped,
	}
}

func (b *Browser) Status() EngineStatus {
	b.mu.Lock()
	st := EngineStatus{
		State:        b.state,
		StartedAtMs:  b.started,
		LastError:    b.lastErr,
		PagePoolSize: len(b.pool),
	}
	b.mu.Unlock()
	st.SolveCount = b.solveCount.Load()
	st.TotalSolveMs = b.solveMs.Load()
	st.LastSolveAtMs = b.lastSolveAt.Load()
	st.GoRoutines = runtime.NumGoroutine()
	return st
}

// Warmup 提前启动浏览器，不调用时首次 Solve 会自动启动。
func (b *Browser) Warmup() error {
	_, err := b.ensureBrowser()
	return err
}

func (b *Browser) Close() error {
	b.mu.Lock()
	defer b.mu.Unlock()

	for _, p := range b.pool {
		if p.page != nil {
			_ = p.page.Close()
		}
		if p.incognito != nil {
			_ = p.incognito.Close()
		}
	}
	b.pool = nil

	var firstErr error
	if b.browser != nil {
		firstErr = b.browser.Close()
		b.browser = nil
	}
	if b.launcher != nil {
		b.launcher.Kill()
		b.launcher = nil
	}
	b.state = EngineStopped
	return firstErr
}

func (b *Browser) ensureBrowser() (*rod.Browser, error) {
	b.mu.Lock()
	defer b.mu.Unlock()

	if b.browser != nil {
		return b.browser, nil
	}
	b.state = EngineStarting
	b.started = time.Now().UnixMilli()

	l := launcher.New().Headless(b.opts.Headless)
	if b.opts.Bin != "" {
		l = l.Bin(b.opts.Bin)
	}
	u, err := l.Launch()
	if err != nil {
		l.Kill()
		b.fail(err)
		return nil, errors.Wrap(err, "launch browser")
	}
	rb := rod.New().ControlURL(u)
	if err := rb.Connect(); err != nil {
		l.Kill()
		b.fail(err)
		return nil, errors.Wrap(err, "connect browser")
	}
	b.browser = rb
	b.launcher = l
	b.state = EngineReady
	b.lastErr = ""
	return rb, nil
}

// fail 需要持有 b.mu。
func (b *Browser) fail(err error) {
	b.state = EngineError
	b.lastErr = err.Error()
}

func (b *Browser) acquirePage(ctx context.Context) (*browserPage, *rod.Page, error) {
	b.mu.Lock()
	if n := len(b.pool); n > 0 {
		bp := b.pool[n-1]
		b.pool = b.pool[:n-1]
		b.mu.Unlock()
		return bp, bp.page.Context(ctx), nil
	}
	b.mu.Unlock()

	rb, err := b.ensureBrowser()
	if err != nil {
		return nil, nil, err
	}
	incognito, err := rb.Incognito()
	if err != nil {
		return nil, nil, errors.Wrap(err, "incognito")
	}
	var page *rod.Page
	if err := rod.Try(func() {
		page = stealth.MustPage(incognito)
	}); err != nil {
		_ = incognito.Close()
		return nil, nil, errors.Wrap(err, "open page")
	}
	bp := &browserPage{incognito: incognito, page: page}
	return bp, page.Context(ctx), nil
}

func (b *Browser) releasePage(bp *browserPage) {
	if bp == nil || bp.page == nil {
		return
	}
	_ = rod.Try(func() {
		_ = bp.page.Context(context.Background()).Timeout(2 * time.Second).Navigate("about:blank")
	})
	b.mu.Lock()
	b.pool = append(b.pool, bp)
	b.mu.Unlock()
}

func (b *Browser) Solve(parent context.Context, ch Challenge) (Result, error) {
	ctx, cancel := context.WithTimeout(parent, b.opts.Timeout)
	defer cancel()

	select {
	case b.sem <- struct{}{}:
		defer func() { <-b.sem }()
	case <-ctx.Done():
		return Result{}, timeoutErr(parent, ctx)
	}

	started := time.Now()
	bp, page, err := b.acquirePage(ctx)
	if err != nil {
		return Result{}, err
	}
	defer b.releasePage(bp)

	html, err := renderGeetestPage(ch)
	if err != nil {
		return Result{}, err
	}
	if err := page.Navigate("about:blank"); err != nil {
		return Result{}, errors.Wrap(err, "navigate")
	}
	if err := page.SetDocumentContent(html); err != nil {
		return Result{}, errors.Wrap(err, "render geetest")
	}

	ticker := time.NewTicker(b.opts.PollInterval)
	defer ticker.Stop()
	for {
		select {
		case <-ctx.Done():
			return Result{}, timeoutErr(parent, ctx)
		case <-ticker.C:
		}
		obj, err := page.Eval(`() => window.__geetestResult ? JSON.stringify(window.__geetestResult) : ""`)
		if err != nil {
			if ctx.Err() != nil {
				return Result{}, timeoutErr(parent, ctx)
			}
			continue
		}
		raw := obj.Value.Str()
		if raw == "" {
			continue
		}
		res, err := parsePageResult(raw)
		if err != nil {
			return Result{}, err
		}
		elapsed := time.Since(started).Milliseconds()
		b.solveCount.Add(1)
		b.solveMs.Add(elapsed)
		b.lastSolveAt.Store(time.Now().UnixMilli())
		return res, nil
	}
}

// timeoutErr 区分调用方取消与求解超时。
func timeoutErr(parent, ctx context.Context) error {
	if parent.Err() != nil {
		return parent.Err()
	}
	if errors.Is(ctx.Err(), context.DeadlineExceeded) {
		return ErrTimeout
	}
	return ctx.Err()
}

type pageResult struct {
	Challenge string `json:"geetest_challenge"`
	Validate  string `json:"geetest_validate"`
	Seccode   string `json:"geetest_seccode"`
	Error     string `json:"error"`
}

func parsePageResult(raw string) (Result, error) {
	var pr pageResult
	if err := json.Unmarshal([]byte(raw), &pr); err != nil {
		return Result{}, errors.Wrap(err, "decode geetest result")
	}
	if pr.Error != "" {
		return Result{}, errors.Wrap(ErrRejected, pr.Error)
	}
	res := Result{Challenge: pr.Challenge, Validate: pr.Validate, Seccode: pr.Seccode}
	if !res.Complete() {
		return Result{}, errors.Wrap(ErrRejected, "incomplete geetest result")
	}
	return res, nil
}

var geetestPage = template.Must(template.New("geetest").Parse(`<!doctype html>
<html><head><meta charset="utf-8"><title>风控验证</title>
<script src="https://static.geetest.com/static/js/gt.0.5.0.js"></script>
</head><body>
<p>请完成验证，完成后窗口会自动复用。</p>
<div id="captcha"></div>
<script>
initGeetest({
  gt: {{.GT}},
  challenge: {{.Challenge}},
  offline: false,
  new_captcha: true,
  product: "float",
  width: "100%"
}, function (obj) {
  obj.appendTo("#captcha");
  obj.onSuccess(function () { window.__geetestResult = obj.getValidate(); });
  obj.onError(function (e) { window.__geetestResult = { error: String((e && e.msg) || e) }; });
});
</script>
</body></html>`))

func renderGeetestPage(ch Challenge) (string, error) {
	if strings.TrimSpace(ch.GT) == "" || strings.TrimSpace(ch.Challenge) == "" {
		return "", errors.New("geetest gt and challenge are required")
	}
	var buf bytes.Buffer
	if err := geetestPage.Execute(&buf, ch); err != nil {
		return "", errors.Wrap(err, "render geetest page")
	}
	return buf.String(), nil
}
