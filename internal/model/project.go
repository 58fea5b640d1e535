package model

// Project 对应 project/getV2 的 data 字段，只保留抢票流程用到的部分。
type Project struct {
	ID             int64    `json:"id"`
	Name           string   `json:"name"`
	IsSale         int      `json:"is_sale"`
	SaleBegin      int64    `json:"sale_begin"`
	SaleEnd        int64    `json:"sale_end"`
	CountDown      int64    `json:"count_down"`
	SaleFlagNumber int      `json:"sale_flag_number"`
	SaleFlag       string   `json:"sale_flag"`
	IDBind         int      `json:"id_bind"`
	HotProject     bool     `json:"hotProject"`
	Screens        []Screen `json:"screen_list"`
}

type SaleFlag struct {
	Number      int    `json:"number"`
	DisplayName string `json:"display_name"`
}

type Screen struct {
	ID             int64    `json:"id"`
	Name           string   `json:"name"`
	StartTime      int64    `json:"start_time"`
	SaleStart      int64    `json:"sale_start"`
	SaleEnd        int64    `json:"sale_end"`
	SaleFlagNumber int      `json:"sale_flag_number"`
	SaleFlag       SaleFlag `json:"sale_flag"`
	Clickable      bool     `json:"clickable"`
	ShowDate       string   `json:"show_date"`
	Tickets        []Ticket `json:"ticket_list"`
}

type Ticket struct {
	ID             int64    `json:"id"`
	ProjectID      int64    `json:"project_id"`
	Price          int64    `json:"price"`
	Desc           string   `json:"desc"`
	ScreenName     string   `json:"screen_name"`
	SaleStart      int64    `json:"saleStart"`
	SaleEnd        int64    `json:"saleEnd"`
	SaleFlagNumber int      `json:"sale_flag_number"`
	SaleFlag       SaleFlag `json:"sale_flag"`
	Clickable      bool     `json:"clickable"`
	Num            int      `json:"num"`
}

// Buyer 是实名购票人，下单时整体序列化进 buyer_info。
type Buyer struct {
	ID                  int64  `json:"id"`
	UID                 int64  `json:"uid"`
	PersonalID          string `json:"personal_id"`
	Name                string `json:"name"`
	Tel                 string `json:"tel"`
	IDType              int64  `json:"id_type"`
	IsDefault           int64  `json:"is_default"`
	IDCardFront         string `json:"id_card_front"`
	IDCardBack          string `json:"id_card_back"`
	VerifyStatus        int64  `json:"verify_status"`
	IsBuyerInfoVerified bool   `json:"isBuyerInfoVerified"`
	IsBuyerValid        bool   `json:"isBuyerValid"`
}

// NoBindBuyer 用于 id_bind=0 的非实名项目。
type NoBindBuyer struct {
	Name string `json:"name"`
	Tel  string `json:"tel"`
	UID  int64  `json:"uid"`
}
