// Package captcha 求解风控下发的极验挑战，支持打码平台 ttocr 与本地浏览器两种方式。
package captcha

import (
	"context"

	"github.com/pkg/errors"

	"ticket_grabber/internal/config"
)

var (
	ErrTimeout  = errors.New("captcha solve timed out")
	ErrRejected = errors.New("captcha solver rejected the challenge")
)

// ItemIDGeetestV3 是 ttocr 的极验三代点选类型。
const ItemIDGeetestV3 = 33

type Challenge struct {
	GT        string
	Challenge string
	ItemID    int
	Referer   string
}

type Result struct {
	Challenge string `json:"challenge"`
	Validate  string `json:"validate"`
	Seccode   string `json:"seccode"`
}

func (r Result) Complete() bool {
	return r.Challenge != "" && r.Validate != "" && r.Seccode != ""
}

// Solver 必须能被多个任务并发调用。
type Solver interface {
	Solve(ctx context.Context, ch Challenge) (Result, error)
}

// New 按配置选择求解器。返回的 closer 在进程退出时调用。
func New(cfg config.CaptchaConfig) (Solver, func() error, error) {
	switch cfg.Mode {
	case config.CaptchaModeTTOCR:
		return NewTTOCR(TTOCROptions{
			AppKey:  cfg.TTOCRKey,
			BaseURL: cfg.TTOCRBaseURL,
		}), func() error { return nil }, nil
	case config.CaptchaModeBrowser:
		b := NewBrowser(BrowserOptions{
			Headless:      cfg.Headless,
			Bin:           cfg.BrowserBin,
			Timeout:       cfg.Timeout(),
			MaxConcurrent: cfg.MaxConcurrent,
		})
		return b, b.Close, nil
	default:
		return nil, nil, errors.Errorf("unsupported captcha mode %q", cfg.Mode)
	}
}
