package showapi

import (
	"context"
	"encoding/json"
	"net/url"
	"strconv"

	"ticket_grabber/internal/model"
)

type PrepareParams struct {
	ProjectID string
	ScreenID  string
	TicketID  string
	Count     int
	IsHot     bool
	// CToken 只在热门项目中发送。
	CToken string
}

// TokenOutcome 是 prepare 的结果：TokenGranted、TokenRiskRequired 或 TokenRejected。
type TokenOutcome interface {
	isTokenOutcome()
}

type TokenGranted struct {
	Token  string
	PToken string
}

type TokenRiskRequired struct {
	Risk model.TokenRiskParam
}

type TokenRejected struct {
	Code    int
	Message string
	// Transport 为 true 表示请求或解码失败，Code 固定为 CodeInternal。
	Transport bool
}

func (TokenGranted) isTokenOutcome()      {}
func (TokenRiskRequired) isTokenOutcome() {}
func (TokenRejected) isTokenOutcome()     {}

type prepareBody struct {
	ProjectID     string `json:"project_id"`
	ScreenID      string `json:"screen_id"`
	SkuID         string `json:"sku_id"`
	Count         int    `json:"count"`
	OrderType     int    `json:"order_type"`
	Token         string `json:"token"`
	RequestSource string `json:"requestSource"`
	NewRisk       string `json:"newRisk"`
}

type prepareData struct {
	Token  string `json:"token"`
	PToken string `json:"ptoken"`
	GaData struct {
		RiskParams json.RawMessage `json:"riskParams"`
	} `json:"ga_data"`
}

type riskFields struct {
	Mid          string `json:"mid"`
	DecisionType string `json:"decision_type"`
	Buvid        string `json:"buvid"`
	IP           string `json:"ip"`
	Scene        string `json:"scene"`
	UA           string `json:"ua"`
	VVoucher     string `json:"v_voucher"`
}

func (c *Client) PrepareToken(ctx context.Context, p PrepareParams) TokenOutcome {
	body := prepareBody{
		ProjectID:     p.ProjectID,
		ScreenID:      p.ScreenID,
		SkuID:         p.TicketID,
		Count:         p.Count,
		OrderType:     1,
		RequestSource: "neul-next",
		NewRisk:       "true",
	}
	if p.IsHot {
		body.Token = p.CToken
	}
	u := c.show + "/api/ticket/order/prepare?project_id=" + url.QueryEscape(p.ProjectID)
	resp, err := c.session.Post(ctx, u, body)
	if err != nil {
		return TokenRejected{Code: CodeInternal, Message: err.Error(), Transport: true}
	}
	if !resp.OK() {
		return TokenRejected{Code: CodeInternal, Message: "http status " + strconv.Itoa(resp.StatusCode), Transport: true}
	}
	env, err := decodeEnvelope(resp.Body)
	if err != nil {
		return TokenRejected{Code: CodeInternal, Message: err.Error(), Transport: true}
	}

	var data prepareData
	dataErr := decodeData(env, &data)
	switch code := env.ResultCode(); code {
	case 0:
		if dataErr != nil {
			return TokenRejected{Code: CodeInternal, Message: dataErr.Error(), Transport: true}
		}
		out := TokenGranted{Token: data.Token}
		if p.IsHot {
			out.PToken = data.PToken
		}
		return out
	case 401, -401:
		risk := model.TokenRiskParam{Code: code, Message: env.Text(), Raw: data.GaData.RiskParams}
		var f riskFields
		if len(risk.Raw) > 0 {
			_ = json.Unmarshal(risk.Raw, &f)
		}
		risk.Mid, risk.DecisionType, risk.Buvid = f.Mid, f.DecisionType, f.Buvid
		risk.IP, risk.Scene, risk.UA, risk.VVoucher = f.IP, f.Scene, f.UA, f.VVoucher
		return TokenRiskRequired{Risk: risk}
	default:
		return TokenRejected{Code: code, Message: env.Text()}
	}
}
