package engine

import (
	"context"
	"fmt"
	"strconv"
	"time"

	"ticket_grabber/internal/ctoken"
	"ticket_grabber/internal/model"
	"ticket_grabber/internal/showapi"
)

type step int

const (
	stepAcquireToken step = iota
	stepConfirmOrder
	stepCreateOrder
	stepVerifyNotFake
)

func (s step) String() string {
	switch s {
	case stepAcquireToken:
		return "token"
	case stepConfirmOrder:
		return "confirm"
	case stepCreateOrder:
		return "create"
	case stepVerifyNotFake:
		return "verify"
	default:
		return "unknown"
	}
}

type transitionKind int

const (
	transContinue transitionKind = iota
	transRetry
	transSwitchTarget
	transDone
)

type transition struct {
	kind   transitionKind
	next   step
	delay  time.Duration
	result *model.GrabResult
}

func goTo(next step) transition { return transition{kind: transContinue, next: next} }

func retryAfter(next step, d time.Duration) transition {
	return transition{kind: transRetry, next: next, delay: d}
}

const (
	tokenRetryDelay   = time.Second
	confirmRetryDelay = 300 * time.Millisecond
	fakeRetryDelay    = 500 * time.Millisecond
	// 下单失败达到该次数后改用“再试一次”按钮的点击区域。
	retryButtonAfter = 3
)

// ClickSettings 描述下单时模拟的屏幕。
type ClickSettings struct {
	Width  int
	Height int
	Fast   bool
}

// attemptEnd 是一次尝试的结局：要么有结果，要么换票种。
type attemptEnd struct {
	result   *model.GrabResult
	switched bool
}

// attempt 针对一个票种跑完整的 token → 确认 → 下单 → 验真流程。
type attempt struct {
	task     *grabTask
	screenID string
	ticketID string
	isHot    bool
	gen      ctoken.Generator

	token    string
	ptoken   string
	confirm  *model.ConfirmResult
	orderID  int64
	payToken string

	confirmRetries int
	orderRetries   int
	fakeRetries    int
}

func (a *attempt) run(ctx context.Context) (attemptEnd, error) {
	cur := stepAcquireToken
	for {
		if err := ctx.Err(); err != nil {
			return attemptEnd{}, err
		}
		var tr transition
		switch cur {
		case stepAcquireToken:
			tr = a.acquireToken(ctx)
		case stepConfirmOrder:
			tr = a.confirmOrder(ctx)
		case stepCreateOrder:
			tr = a.createOrder(ctx)
		case stepVerifyNotFake:
			tr = a.verifyNotFake(ctx)
		}

		switch tr.kind {
		case transContinue:
			cur = tr.next
		case transRetry:
			if err := a.task.sleep(ctx, tr.delay); err != nil {
				return attemptEnd{}, err
			}
			cur = tr.next
		case transSwitchTarget:
			return attemptEnd{switched: true}, nil
		case transDone:
			return attemptEnd{result: tr.result}, nil
		}
	}
}

func (a *attempt) leak() bool {
	return a.task.req.Mode == model.ModeLeak
}

func (a *attempt) budget() model.RetryBudget {
	return a.task.req.Budget
}

func (a *attempt) log(level, msg string, fields map[string]any) {
	if fields == nil {
		fields = map[string]any{}
	}
	fields["ticketId"] = a.ticketID
	a.task.sink.Log(level, msg, fields)
}

func (a *attempt) done(success bool, msg string, pay *model.PayParam) transition {
	res := &model.GrabResult{
		TaskID:        a.task.id,
		UID:           a.task.req.UID,
		Success:       success,
		Message:       msg,
		PayToken:      a.payToken,
		ConfirmResult: a.confirm,
		PayResult:     pay,
	}
	if a.orderID != 0 {
		res.OrderID = strconv.FormatInt(a.orderID, 10)
	}
	return transition{kind: transDone, result: res}
}

func (a *attempt) fail(msg string) transition {
	return a.done(false, msg, nil)
}

// switchOr 捡漏模式下换下一个票种，其余模式直接失败。
func (a *attempt) switchOr(msg string) transition {
	if a.leak() {
		a.log("info", msg+"，尝试其他票种", nil)
		return transition{kind: transSwitchTarget}
	}
	return a.fail(msg)
}

func (a *attempt) acquireToken(ctx context.Context) transition {
	params := showapi.PrepareParams{
		ProjectID: a.task.req.ProjectID,
		ScreenID:  a.screenID,
		TicketID:  a.ticketID,
		Count:     a.task.req.Count,
		IsHot:     a.isHot,
	}
	if a.isHot {
		params.CToken = a.gen.Generate(false)
	}

	switch out := a.task.api.PrepareToken(ctx, params).(type) {
	case showapi.TokenGranted:
		a.token, a.ptoken = out.Token, out.PToken
		a.confirm = nil
		a.log("info", "获取抢票token成功", map[string]any{"hot": a.isHot})
		return goTo(stepConfirmOrder)

	case showapi.TokenRiskRequired:
		a.log("warn", "需要验证码，开始处理验证码", map[string]any{"code": out.Risk.Code})
		if err := a.task.verifyRisk(ctx, out.Risk); err != nil {
			if ctx.Err() != nil {
				return retryAfter(stepAcquireToken, 0)
			}
			a.log("error", "验证码处理失败", map[string]any{"error": err.Error()})
			a.task.tokenRetries++
			if a.task.tokenRetries >= a.budget().MaxTokenRetry {
				return a.fail(fmt.Sprintf("验证码处理失败，已达最大重试次数: %v", err))
			}
			return retryAfter(stepAcquireToken, tokenRetryDelay)
		}
		a.log("info", "验证码处理成功", nil)
		return goTo(stepAcquireToken)

	case showapi.TokenRejected:
		if ctx.Err() != nil {
			return retryAfter(stepAcquireToken, 0)
		}
		v := Classify(out.Code)
		if out.Transport {
			v = Verdict{Outcome: RetryImmediate, Reason: "网络或解析错误", Kind: KindTransient}
		}
		a.task.metrics.code(stepAcquireToken.String(), v.Outcome)
		fields := map[string]any{"code": out.Code, "message": out.Message, "reason": v.Reason}
		switch out.Code {
		case 100080, 100082:
			a.log("error", "获取token失败，场次/项目/日期选择有误，请重新提交任务", fields)
		default:
			a.log("warn", "获取token失败", fields)
		}

		failMsg := fmt.Sprintf("获取token失败，错误代码: %d，错误信息：%s", out.Code, out.Message)
		switch {
		case v.Outcome.Retry() || v.Outcome == RefreshToken:
			a.task.tokenRetries++
			if a.task.tokenRetries >= a.budget().MaxTokenRetry {
				return a.fail(failMsg)
			}
			return retryAfter(stepAcquireToken, max(v.Delay, tokenRetryDelay))
		default:
			return a.switchOr(failMsg)
		}
	}
	return a.fail("获取token失败，未知结果")
}

func (a *attempt) confirmOrder(ctx context.Context) transition {
	res, err := a.task.api.ConfirmOrder(ctx, a.task.req.ProjectID, a.token)
	if err != nil {
		if ctx.Err() != nil {
			return retryAfter(stepConfirmOrder, 0)
		}
		a.confirmRetries++
		a.log("error", "确认订单失败，正在重试", map[string]any{"error": err.Error(), "retry": a.confirmRetries})
		if a.confirmRetries >= a.budget().MaxConfirmRetry {
			return a.switchOr("确认订单失败，已达最大重试次数")
		}
		return retryAfter(stepConfirmOrder, confirmRetryDelay)
	}
	a.confirm = &res
	a.log("info", "确认订单成功，准备下单", map[string]any{"payMoney": res.PayMoney, "count": res.Count})
	return goTo(stepCreateOrder)
}

func (a *attempt) createOrder(ctx context.Context) transition {
	kind := showapi.ClickMobile
	if a.orderRetries >= retryButtonAfter {
		kind = showapi.ClickRetryButton
	}
	click := a.task.click
	params := showapi.CreateParams{
		ProjectID:   a.task.req.ProjectID,
		ScreenID:    a.screenID,
		TicketID:    a.ticketID,
		Token:       a.token,
		PToken:      a.ptoken,
		IsHot:       a.isHot,
		IDBind:      a.task.req.IDBind,
		Buyers:      a.task.req.Buyers,
		NoBindBuyer: a.task.req.NoBindBuyer,
		Confirm:     *a.confirm,
		Click:       showapi.RandomClickPosition(kind, click.Fast, click.Width, click.Height, a.task.now()),
	}
	if a.isHot {
		params.CToken = a.gen.Generate(true)
	}

	a.task.metrics.orderSent()
	switch out := a.task.api.CreateOrder(ctx, params).(type) {
	case showapi.OrderPlaced:
		a.orderID, a.payToken = out.OrderID, out.PayToken
		a.fakeRetries = 0
		a.log("info", "下单成功，正在检测是否假票", map[string]any{"orderId": out.OrderID})
		return goTo(stepVerifyNotFake)

	case showapi.OrderRejected:
		if ctx.Err() != nil {
			return retryAfter(stepCreateOrder, 0)
		}
		v := Classify(out.Code)
		a.task.metrics.code(stepCreateOrder.String(), v.Outcome)
		fields := map[string]any{"code": out.Code, "reason": v.Reason, "retry": a.orderRetries}
		if v.Unknown {
			fields["message"] = out.Message
			a.log("error", "下单失败，未知错误码", fields)
		} else if v.Outcome.Retry() {
			a.log("info", "下单失败："+v.Reason, fields)
		} else {
			a.log("warn", "下单失败："+v.Reason, fields)
		}

		switch v.Outcome {
		case RefreshToken:
			return goTo(stepAcquireToken)
		case TerminalFailure:
			return a.fail(fmt.Sprintf("下单失败：%s（错误代码 %d）", v.Reason, out.Code))
		case TerminalSuccess:
			return a.fail(v.Reason)
		case SwitchTarget:
			return a.switchOr(v.Reason)
		default:
			return a.orderRetry(v.Delay + a.budget().RetryInterval())
		}
	}
	return a.fail("下单失败，未知结果")
}

// orderRetry 计一次下单重试，耗尽时捡漏模式换票种，其余模式失败。
func (a *attempt) orderRetry(delay time.Duration) transition {
	a.orderRetries++
	if a.orderRetries >= a.budget().MaxOrderRetry {
		return a.switchOr("下单失败，已达最大重试次数")
	}
	return retryAfter(stepCreateOrder, delay)
}

func (a *attempt) verifyNotFake(ctx context.Context) transition {
	st, err := a.task.api.CheckOrderStatus(ctx, a.task.req.ProjectID, a.payToken, a.orderID)
	if err != nil {
		if ctx.Err() != nil {
			return retryAfter(stepVerifyNotFake, 0)
		}
		a.fakeRetries++
		a.log("error", "检测假票失败", map[string]any{"error": err.Error(), "retry": a.fakeRetries})
		if a.fakeRetries >= a.budget().MaxFakeCheckRetry {
			a.log("warn", "检测假票多次失败，默认下单成功，请前往订单中心支付", nil)
			return a.done(true, "抢票成功，但获取支付信息失败，请前往订单中心支付", nil)
		}
		return retryAfter(stepVerifyNotFake, fakeRetryDelay)
	}
	if st.Errno != 0 {
		a.log("error", "检测到假票，放弃当前订单，继续抢票", map[string]any{"errno": st.Errno})
		a.orderID, a.payToken = 0, ""
		return a.orderRetry(a.budget().RetryInterval())
	}
	a.log("info", "抢票成功", map[string]any{"orderId": a.orderID})
	return a.done(true, "抢票成功", st.Pay)
}
