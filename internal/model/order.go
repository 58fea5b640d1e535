package model

import "encoding/json"

type ConfirmTicket struct {
	Name  string `json:"name"`
	Count int    `json:"count"`
	Price int64  `json:"price"`
}

// ConfirmResult 是 confirmInfo 返回的下单参数。
type ConfirmResult struct {
	Count       int           `json:"count"`
	PayMoney    int64         `json:"pay_money"`
	ProjectName string        `json:"project_name"`
	ScreenName  string        `json:"screen_name"`
	TicketInfo  ConfirmTicket `json:"ticket_info"`
}

type PayParam struct {
	Sign    string `json:"sign"`
	CodeURL string `json:"code_url"`
}

// TokenRiskParam 在 prepare 返回 401/-401 时携带风控挑战参数。
// Raw 原样提交给 gaia-vgate register。
type TokenRiskParam struct {
	Code         int             `json:"code"`
	Message      string          `json:"message"`
	Mid          string          `json:"mid,omitempty"`
	DecisionType string          `json:"decision_type,omitempty"`
	Buvid        string          `json:"buvid,omitempty"`
	IP           string          `json:"ip,omitempty"`
	Scene        string          `json:"scene,omitempty"`
	UA           string          `json:"ua,omitempty"`
	VVoucher     string          `json:"v_voucher,omitempty"`
	Raw          json.RawMessage `json:"riskParams,omitempty"`
}
