package model

import "time"

// Account 是一个已登录的平台账号，Cookies 来自登录后的 cookie jar。
type Account struct {
	ID        string           `json:"id"`
	UID       int64            `json:"uid"`
	Name      string           `json:"name,omitempty"`
	CSRF      string           `json:"csrf,omitempty"`
	UserAgent string           `json:"userAgent,omitempty"`
	Proxy     string           `json:"proxy,omitempty"`
	Cookies   []CookieJarEntry `json:"cookies,omitempty"`
	CreatedAt time.Time        `json:"createdAt"`
	UpdatedAt time.Time        `json:"updatedAt"`
}

// ResolveCSRF 返回显式配置的 csrf，未配置时读取 bili_jct cookie。
func (a Account) ResolveCSRF() string {
	if a.CSRF != "" {
		return a.CSRF
	}
	v, _ := CookieValue(a.Cookies, "bili_jct")
	return v
}
