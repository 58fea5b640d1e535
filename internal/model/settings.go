package model

type EmailSettings struct {
	Enabled  bool   `json:"enabled"`
	Email    string `json:"email"`
	AuthCode string `json:"authCode,omitempty"`
}

// PushSettings 推送渠道配置，Methods 中列出的渠道且 token 非空才会发送。
type PushSettings struct {
	Enabled       bool     `json:"enabled"`
	Methods       []string `json:"methods"`
	BarkToken     string   `json:"barkToken,omitempty"`
	PushPlusToken string   `json:"pushplusToken,omitempty"`
	GotifyURL     string   `json:"gotifyUrl,omitempty"`
	GotifyToken   string   `json:"gotifyToken,omitempty"`
}

func (s PushSettings) Has(method string) bool {
	for _, m := range s.Methods {
		if m == method {
			return true
		}
	}
	return false
}
