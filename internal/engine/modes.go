package engine

import (
	"context"
	"math/rand/v2"
	"slices"
	"strconv"
	"strings"
	"time"

	"ticket_grabber/internal/model"
	"ticket_grabber/internal/showapi"
)

const projectRetryDelay = time.Second

// grabTask 是一个抢票任务的运行期状态，只属于一个 goroutine。
type grabTask struct {
	id      string
	req     GrabRequest
	api     *showapi.Client
	sink    Sink
	metrics *Metrics
	click   ClickSettings
	sleep   func(ctx context.Context, d time.Duration) error
	now     func() time.Time

	countdown     *Countdown
	leakPoll      time.Duration
	leakSaleFlags []int

	// tokenRetries 在捡漏模式的各票种之间共享。
	tokenRetries int
}

// run 返回任务结果；ctx 被取消时返回 ctx.Err()。
func (t *grabTask) run(ctx context.Context) (*model.GrabResult, error) {
	switch t.req.Mode {
	case model.ModeTimed:
		return t.runTimed(ctx)
	case model.ModeDirect:
		return t.runDirect(ctx)
	default:
		return t.runLeak(ctx)
	}
}

func salt() int {
	return 2000 + rand.IntN(8000)
}

func (t *grabTask) runTimed(ctx context.Context) (*model.GrabResult, error) {
	t.sink.Log("debug", "定时抢票模式", nil)
	saleBegin := t.req.SaleBegin
	if saleBegin == 0 {
		t.sink.Log("info", "项目信息缺失，正在自动获取以确定开始时间", nil)
		p, err := t.api.Project(ctx, t.req.ProjectID)
		if err != nil {
			if ctx.Err() != nil {
				return nil, ctx.Err()
			}
			t.sink.Log("error", "自动获取项目详情失败，立即开始抢票", map[string]any{"error": err.Error()})
		} else {
			saleBegin = p.SaleBegin
		}
	}
	if saleBegin > 0 {
		if err := t.countdown.WaitUntilOpen(ctx, saleBegin); err != nil {
			return nil, err
		}
	} else {
		saleBegin = t.now().Unix()
	}
	t.sink.Log("info", "开始抢票", nil)
	return t.single(ctx, saleBegin)
}

func (t *grabTask) runDirect(ctx context.Context) (*model.GrabResult, error) {
	t.sink.Log("debug", "直接抢票模式", nil)
	saleBegin := t.req.SaleBegin
	if saleBegin == 0 {
		saleBegin = t.now().Unix()
	}
	return t.single(ctx, saleBegin)
}

func (t *grabTask) single(ctx context.Context, saleBegin int64) (*model.GrabResult, error) {
	a := t.newAttempt(t.req.ScreenID, t.req.TicketID, t.req.IsHot, saleBegin)
	end, err := a.run(ctx)
	if err != nil {
		return nil, err
	}
	if end.result == nil {
		return &model.GrabResult{TaskID: t.id, UID: t.req.UID, Message: "抢票失败"}, nil
	}
	return end.result, nil
}

func (t *grabTask) newAttempt(screenID, ticketID string, isHot bool, saleBegin int64) *attempt {
	return &attempt{
		task:     t,
		screenID: screenID,
		ticketID: ticketID,
		isHot:    isHot,
		gen:      t.req.Tokens(saleBegin, 0, salt()),
	}
}

func (t *grabTask) runLeak(ctx context.Context) (*model.GrabResult, error) {
	t.sink.Log("debug", "捡漏模式", nil)
	skip := lowerWords(t.req.SkipWords)
	for {
		if err := ctx.Err(); err != nil {
			return nil, err
		}
		p, err := t.api.Project(ctx, t.req.ProjectID)
		if err != nil {
			if ctx.Err() != nil {
				return nil, ctx.Err()
			}
			t.sink.Log("error", "获取项目数据失败", map[string]any{"error": err.Error()})
			if err := t.sleep(ctx, projectRetryDelay); err != nil {
				return nil, err
			}
			continue
		}
		if p.IDBind != 1 && p.IDBind != 2 {
			t.sink.Log("error", "暂不支持抢非实名票捡漏模式", map[string]any{"idBind": p.IDBind})
			return &model.GrabResult{
				TaskID:  t.id,
				UID:     t.req.UID,
				Message: "暂不支持抢非实名票捡漏模式",
			}, nil
		}

		for _, screen := range p.Screens {
			if !screen.Clickable || !t.saleFlagAllowed(screen.SaleFlagNumber) {
				continue
			}
			for _, ticket := range screen.Tickets {
				if !ticket.Clickable {
					continue
				}
				screenName := ticket.ScreenName
				if screenName == "" {
					screenName = screen.Name
				}
				if matchesAny(screenName, skip) {
					t.sink.Log("info", "跳过包含过滤关键词的场次", map[string]any{"screen": screenName})
					continue
				}
				if matchesAny(ticket.Desc, skip) {
					t.sink.Log("info", "跳过包含过滤关键词的票种", map[string]any{"desc": ticket.Desc})
					continue
				}
				t.sink.Log("info", "发现可抢票种，开始抢票", map[string]any{
					"screen": screenName,
					"desc":   ticket.Desc,
					"price":  ticket.Price,
				})
				a := t.newAttempt(
					strconv.FormatInt(screen.ID, 10),
					strconv.FormatInt(ticket.ID, 10),
					p.HotProject,
					screen.SaleStart,
				)
				end, err := a.run(ctx)
				if err != nil {
					return nil, err
				}
				if end.switched {
					continue
				}
				return end.result, nil
			}
		}
		t.sink.Log("info", "所有场次和票种检查完毕，等待后重新检查", map[string]any{"interval": t.leakPoll.String()})
		if err := t.sleep(ctx, t.leakPoll); err != nil {
			return nil, err
		}
	}
}

// saleFlagAllowed 未配置售票标志位时不做限制。
func (t *grabTask) saleFlagAllowed(flag int) bool {
	return len(t.leakSaleFlags) == 0 || slices.Contains(t.leakSaleFlags, flag)
}

func lowerWords(words []string) []string {
	out := make([]string, 0, len(words))
	for _, w := range words {
		if w = strings.ToLower(strings.TrimSpace(w)); w != "" {
			out = append(out, w)
		}
	}
	return out
}

func matchesAny(s string, words []string) bool {
	s = strings.ToLower(s)
	for _, w := range words {
		if strings.Contains(s, w) {
			return true
		}
	}
	return false
}
