package captcha

import (
	"context"
	"strings"
	"time"

	"github.com/go-resty/resty/v2"
	"github.com/pkg/errors"
)

type TTOCROptions struct {
	AppKey  string
	BaseURL string
	// PollInterval/MaxPolls 控制结果轮询，默认 1 秒共 20 次。
	PollInterval time.Duration
	MaxPolls     int
	HTTPTimeout  time.Duration
}

// TTOCR 调用 ttocr 打码平台：先提交识别，再轮询结果。
type TTOCR struct {
	opts   TTOCROptions
	client *resty.Client
}

func NewTTOCR(opts TTOCROptions) *TTOCR {
	if opts.BaseURL == "" {
		opts.BaseURL = "http://api.ttocr.com"
	}
	if opts.PollInterval <= 0 {
		opts.PollInterval = time.Second
	}
	if opts.MaxPolls <= 0 {
		opts.MaxPolls = 20
	}
	if opts.HTTPTimeout <= 0 {
		opts.HTTPTimeout = 10 * time.Second
	}
	client := resty.New().
		SetBaseURL(strings.TrimRight(opts.BaseURL, "/")).
		SetTimeout(opts.HTTPTimeout).
		SetHeader("Content-Type", "application/json")
	return &TTOCR{opts: opts, client: client}
}

type ttocrRecognizeResp struct {
	Status   int    `json:"status"`
	Msg      string `json:"msg"`
	ResultID string `json:"resultid"`
}

type ttocrResultResp struct {
	Status int    `json:"status"`
	Msg    string `json:"msg"`
	Data   Result `json:"data"`
}

func (t *TTOCR) Solve(ctx context.Context, ch Challenge) (Result, error) {
	itemID := ch.ItemID
	if itemID == 0 {
		itemID = ItemIDGeetestV3
	}
	var rec ttocrRecognizeResp
	resp, err := t.client.R().
		SetContext(ctx).
		SetBody(map[string]any{
			"appkey":    t.opts.AppKey,
			"gt":        ch.GT,
			"challenge": ch.Challenge,
			"itemid":    itemID,
			"referer":   ch.Referer,
		}).
		ForceContentType("application/json").
		SetResult(&rec).
		Post("/api/recognize")
	if err != nil {
		return Result{}, errors.Wrap(err, "ttocr recognize")
	}
	if resp.IsError() {
		return Result{}, errors.Errorf("ttocr recognize: http status %d", resp.StatusCode())
	}
	if rec.Status != 1 || rec.ResultID == "" {
		return Result{}, errors.Wrapf(ErrRejected, "ttocr recognize: %s", rec.Msg)
	}

	ticker := time.NewTicker(t.opts.PollInterval)
	defer ticker.Stop()
	for i := 0; i < t.opts.MaxPolls; i++ {
		select {
		case <-ctx.Done():
			return Result{}, ctx.Err()
		case <-ticker.C:
		}
		var out ttocrResultResp
		resp, err := t.client.R().
			SetContext(ctx).
			SetBody(map[string]any{"appkey": t.opts.AppKey, "resultid": rec.ResultID}).
			ForceContentType("application/json").
			SetResult(&out).
			Post("/api/results")
		if err != nil {
			if ctx.Err() != nil {
				return Result{}, ctx.Err()
			}
			continue
		}
		if resp.IsError() {
			continue
		}
		if out.Status == 1 && out.Data.Complete() {
			return out.Data, nil
		}
	}
	return Result{}, ErrTimeout
}
