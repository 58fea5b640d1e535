package showapi

import (
	"context"
	"encoding/json"
	"net/url"
	"strconv"

	"github.com/pkg/errors"

	"ticket_grabber/internal/model"
)

// ErrNoPayParam 表示订单状态响应缺少支付参数。
var ErrNoPayParam = errors.New("order status has no pay param")

func (c *Client) ConfirmOrder(ctx context.Context, projectID, token string) (model.ConfirmResult, error) {
	q := url.Values{}
	q.Set("token", token)
	q.Set("voucher", "")
	q.Set("project_id", projectID)
	q.Set("requestSource", "neul-next")
	resp, err := c.session.Get(ctx, c.show+"/api/ticket/order/confirmInfo?"+q.Encode())
	if err != nil {
		return model.ConfirmResult{}, errors.Wrap(err, "confirm order")
	}
	env, err := decodeEnvelope(resp.Body)
	if err != nil {
		return model.ConfirmResult{}, errors.Wrapf(err, "confirm order (http %d)", resp.StatusCode)
	}
	if env.Errno.Or(-1) != 0 {
		return model.ConfirmResult{}, &RemoteError{Code: env.ResultCode(), Message: env.Text()}
	}
	var out model.ConfirmResult
	if err := decodeData(env, &out); err != nil {
		return model.ConfirmResult{}, errors.Wrap(err, "confirm order")
	}
	return out, nil
}

type CreateParams struct {
	ProjectID   string
	ScreenID    string
	TicketID    string
	Token       string
	PToken      string
	CToken      string
	IsHot       bool
	IDBind      int
	Buyers      []model.Buyer
	NoBindBuyer *model.NoBindBuyer
	Confirm     model.ConfirmResult
	Click       ClickPosition
}

// CreateOrderOutcome 是 createV2 的结果：OrderPlaced 或 OrderRejected。
type CreateOrderOutcome interface {
	isCreateOrderOutcome()
}

type OrderPlaced struct {
	OrderID  int64
	PayToken string
}

type OrderRejected struct {
	Code    int
	Message string
}

func (OrderPlaced) isCreateOrderOutcome()   {}
func (OrderRejected) isCreateOrderOutcome() {}

type createData struct {
	OrderID lenientInt `json:"orderId"`
	Token   string     `json:"token"`
}

func (c *Client) CreateOrder(ctx context.Context, p CreateParams) CreateOrderOutcome {
	skuID, err := strconv.ParseInt(p.TicketID, 10, 64)
	if err != nil {
		return OrderRejected{Code: CodeInternal, Message: "invalid ticket id " + strconv.Quote(p.TicketID)}
	}
	projectID, _ := strconv.ParseInt(p.ProjectID, 10, 64)
	screenID, _ := strconv.ParseInt(p.ScreenID, 10, 64)

	payload := map[string]any{
		"project_id":    projectID,
		"screen_id":     screenID,
		"sku_id":        skuID,
		"token":         p.Token,
		"clickPosition": p.Click.JSON(),
		"newRisk":       true,
		"requestSource": "neul-next",
		"pay_money":     p.Confirm.PayMoney,
		"count":         p.Confirm.Count,
		"timestamp":     c.now().UnixMilli(),
		"order_type":    1,
	}
	if fp, ok := c.session.Cookie("deviceFingerprint"); ok {
		payload["deviceId"] = fp
	} else {
		payload["deviceId"] = nil
	}

	switch p.IDBind {
	case 0:
		if p.NoBindBuyer == nil {
			return OrderRejected{Code: CodeInternal, Message: "missing non-real-name buyer"}
		}
		payload["buyer"] = p.NoBindBuyer.Name
		payload["tel"] = p.NoBindBuyer.Tel
	case 1, 2:
		buyers := p.Buyers
		if buyers == nil {
			buyers = []model.Buyer{}
		}
		raw, _ := json.Marshal(buyers)
		payload["buyer_info"] = string(raw)
		if p.IsHot {
			payload["ctoken"] = p.CToken
			payload["ptoken"] = p.PToken
		}
	default:
		return OrderRejected{Code: CodeBindInvalid, Message: "unexpected id_bind " + strconv.Itoa(p.IDBind)}
	}

	u := c.show + "/api/ticket/order/createV2?project_id=" + url.QueryEscape(p.ProjectID)
	if p.IsHot {
		u += "&ptoken=" + url.QueryEscape(p.PToken)
	}
	headers := map[string]string{
		"X-Risk-Header": "platform/h5 uid/" + c.cookie("DedeUserID") + " deviceId/" + c.cookie("buvid3"),
	}
	resp, err := c.session.PostWithHeaders(ctx, u, headers, payload)
	if err != nil {
		return OrderRejected{Code: CodeTransport, Message: err.Error()}
	}
	if !resp.OK() {
		return OrderRejected{Code: resp.StatusCode, Message: "http status " + strconv.Itoa(resp.StatusCode)}
	}
	env, err := decodeEnvelope(resp.Body)
	if err != nil {
		return OrderRejected{Code: CodeTransport, Message: err.Error()}
	}
	if code := env.ResultCode(); code != 0 {
		return OrderRejected{Code: code, Message: env.Text()}
	}
	var data createData
	if err := decodeData(env, &data); err != nil {
		return OrderRejected{Code: CodeTransport, Message: err.Error()}
	}
	return OrderPlaced{OrderID: data.OrderID.Or(0), PayToken: data.Token}
}

// OrderStatus 是 createstatus 的结果，Errno 非 0 表示假票。
type OrderStatus struct {
	Errno int
	Pay   *model.PayParam
}

type statusData struct {
	PayParam *model.PayParam `json:"payParam"`
}

// CheckOrderStatus 查询订单是否真实生成。请求或解析失败返回 error，由调用方决定重试。
func (c *Client) CheckOrderStatus(ctx context.Context, projectID, payToken string, orderID int64) (OrderStatus, error) {
	q := url.Values{}
	q.Set("project_id", projectID)
	q.Set("token", payToken)
	q.Set("timestamp", strconv.FormatInt(c.now().Unix(), 10))
	if orderID != 0 {
		q.Set("orderId", strconv.FormatInt(orderID, 10))
	}
	resp, err := c.session.Get(ctx, c.show+"/api/ticket/order/createstatus?"+q.Encode())
	if err != nil {
		return OrderStatus{}, errors.Wrap(err, "check order status")
	}
	env, err := decodeEnvelope(resp.Body)
	if err != nil {
		return OrderStatus{}, errors.Wrapf(err, "check order status (http %d)", resp.StatusCode)
	}
	if errno := env.Errno.Or(0); errno != 0 {
		return OrderStatus{Errno: int(errno)}, nil
	}
	var data statusData
	if err := decodeData(env, &data); err != nil {
		return OrderStatus{}, errors.Wrap(err, "check order status")
	}
	if data.PayParam == nil {
		return OrderStatus{}, ErrNoPayParam
	}
	return OrderStatus{Pay: data.PayParam}, nil
}
