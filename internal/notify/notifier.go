package notify

import (
	"context"
	"fmt"
	"strings"
	"time"

	"ticket_grabber/internal/model"
)

// Logger 由 *logbus.Bus 实现。
type Logger interface {
	Log(level, message string, fields map[string]any)
}

type nopLogger struct{}

func (nopLogger) Log(string, string, map[string]any) {}

// OrderEvent 是一次成功下单的通知内容。
type OrderEvent struct {
	At          time.Time `json:"at"`
	TaskID      string    `json:"taskId"`
	UID         int64     `json:"uid"`
	Account     string    `json:"account,omitempty"`
	ProjectName string    `json:"projectName,omitempty"`
	ScreenName  string    `json:"screenName,omitempty"`
	TicketName  string    `json:"ticketName,omitempty"`
	Count       int       `json:"count,omitempty"`
	PayMoney    int64     `json:"payMoney,omitempty"`
	OrderID     string    `json:"orderId"`
	PayURL      string    `json:"payUrl,omitempty"`
}

type Notifier interface {
	NotifyOrder(ctx context.Context, evt OrderEvent)
}

// Multi 依次转发给每个通知渠道。
type Multi []Notifier

func (m Multi) NotifyOrder(ctx context.Context, evt OrderEvent) {
	for _, n := range m {
		if n != nil {
			n.NotifyOrder(ctx, evt)
		}
	}
}

// EventFromResult 只为成功结果生成通知。
func EventFromResult(res model.GrabResult, account string) (OrderEvent, bool) {
	if !res.Success {
		return OrderEvent{}, false
	}
	evt := OrderEvent{
		At:      res.At,
		TaskID:  res.TaskID,
		UID:     res.UID,
		Account: account,
		OrderID: res.OrderID,
	}
	if evt.At.IsZero() {
		evt.At = time.Now()
	}
	if c := res.ConfirmResult; c != nil {
		evt.ProjectName = c.ProjectName
		evt.ScreenName = c.ScreenName
		evt.TicketName = c.TicketInfo.Name
		evt.Count = c.Count
		evt.PayMoney = c.PayMoney
	}
	if res.PayResult != nil {
		evt.PayURL = res.PayResult.CodeURL
	}
	return evt, true
}

// OrderDetailURL 是订单详情页的 App 跳转链接。
func OrderDetailURL(orderID string) string {
	return "bilibili://mall/web?url=https://mall.bilibili.com/neul-next/ticket/orderDetail.html?order_id=" + orderID
}

func (e OrderEvent) Title() string {
	return "抢票成功: " + orDefault(e.ProjectName, "未知项目")
}

func (e OrderEvent) Message() string {
	b := new(strings.Builder)
	fmt.Fprintf(b, "项目: %s\n", orDefault(e.ProjectName, "未知项目"))
	fmt.Fprintf(b, "场次: %s\n", orDefault(e.ScreenName, "-"))
	fmt.Fprintf(b, "票种: %s\n", orDefault(e.TicketName, "-"))
	fmt.Fprintf(b, "订单号: %s\n", e.OrderID)
	if e.PayURL == "" {
		b.WriteString("状态: 解析支付信息失败，请前往订单中心支付")
		return b.String()
	}
	fmt.Fprintf(b, "支付链接: %s\n", e.PayURL)
	if e.PayMoney > 0 {
		fmt.Fprintf(b, "请尽快支付%s元，以免支付超时导致票丢失", yuan(e.PayMoney))
	} else {
		b.WriteString("请尽快支付！")
	}
	return b.String()
}

// yuan 把以分为单位的金额格式化为元。
func yuan(cents int64) string {
	if cents%100 == 0 {
		return fmt.Sprintf("%d", cents/100)
	}
	return fmt.Sprintf("%d.%02d", cents/100, cents%100)
}

func orDefault(s, def string) string {
	s = strings.TrimSpace(s)
	if s == "" {
		return def
	}
	return s
}
