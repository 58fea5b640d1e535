// Package showapi 是票务平台接口的强类型客户端，所有响应在这里解码一次，
// 缺失或类型不符的字段落为零值或 -1，不会 panic。
package showapi

import (
	"strings"
	"time"

	"ticket_grabber/internal/provider"
)

// 本地合成的错误码，与平台错误码共用分类表。
const (
	CodeTransport   = 412
	CodeBindInvalid = 919
	CodeInternal    = 999
)

type Endpoints struct {
	ShowBaseURL string
	APIBaseURL  string
}

func DefaultEndpoints() Endpoints {
	return Endpoints{
		ShowBaseURL: "https://show.bilibili.com",
		APIBaseURL:  "https://api.bilibili.com",
	}
}

type Client struct {
	session provider.Session
	show    string
	api     string
	now     func() time.Time
}

func New(session provider.Session, ep Endpoints) *Client {
	def := DefaultEndpoints()
	if ep.ShowBaseURL == "" {
		ep.ShowBaseURL = def.ShowBaseURL
	}
	if ep.APIBaseURL == "" {
		ep.APIBaseURL = def.APIBaseURL
	}
	return &Client{
		session: session,
		show:    strings.TrimRight(ep.ShowBaseURL, "/"),
		api:     strings.TrimRight(ep.APIBaseURL, "/"),
		now:     time.Now,
	}
}

func (c *Client) Session() provider.Session {
	return c.session
}

// ValidateURL 是风控验证码的 referer。
func (c *Client) ValidateURL() string {
	return c.api + "/x/gaia-vgate/v1/validate"
}

func (c *Client) cookie(name string) string {
	v, _ := c.session.Cookie(name)
	return v
}
