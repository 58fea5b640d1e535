package model

import (
	"net/http"
	"strings"
	"time"
)

type CookieJarEntry struct {
	URL     string   `json:"url"`
	Cookies []Cookie `json:"cookies"`
}

type Cookie struct {
	Name     string `json:"name"`
	Value    string `json:"value"`
	Path     string `json:"path,omitempty"`
	Domain   string `json:"domain,omitempty"`
	Expires  int64  `json:"expires,omitempty"`
	Secure   bool   `json:"secure,omitempty"`
	HttpOnly bool   `json:"httpOnly,omitempty"`
	SameSite string `json:"sameSite,omitempty"`
}

// ParseCookieHeader 把浏览器里复制出来的 "a=1; b=2" 转成 jar 条目。
// 平台的登录态 cookie 都挂在根域上，这里统一写入 Domain=domain, Path=/。
func ParseCookieHeader(rawURL, domain, header string) CookieJarEntry {
	entry := CookieJarEntry{URL: rawURL}
	for _, part := range strings.Split(header, ";") {
		part = strings.TrimSpace(part)
		if part == "" {
			continue
		}
		name, value, ok := strings.Cut(part, "=")
		name = strings.TrimSpace(name)
		if !ok || name == "" {
			continue
		}
		entry.Cookies = append(entry.Cookies, Cookie{
			Name:   name,
			Value:  strings.TrimSpace(value),
			Path:   "/",
			Domain: domain,
		})
	}
	return entry
}

// CookieValue 在所有条目中查找第一个同名 cookie。
func CookieValue(entries []CookieJarEntry, name string) (string, bool) {
	for _, e := range entries {
		for _, c := range e.Cookies {
			if c.Name == name {
				return c.Value, true
			}
		}
	}
	return "", false
}

func CookiesFromHTTP(in []*http.Cookie) []Cookie {
	out := make([]Cookie, 0, len(in))
	for _, c := range in {
		item := Cookie{
			Name:     c.Name,
			Value:    c.Value,
			Path:     c.Path,
			Domain:   c.Domain,
			Secure:   c.Secure,
			HttpOnly: c.HttpOnly,
			SameSite: sameSiteName(c.SameSite),
		}
		if !c.Expires.IsZero() {
			item.Expires = c.Expires.UnixMilli()
		}
		out = append(out, item)
	}
	return out
}

func CookiesToHTTP(in []Cookie) []*http.Cookie {
	out := make([]*http.Cookie, 0, len(in))
	for _, c := range in {
		hc := &http.Cookie{
			Name:     c.Name,
			Value:    c.Value,
			Path:     c.Path,
			Domain:   c.Domain,
			Secure:   c.Secure,
			HttpOnly: c.HttpOnly,
			SameSite: sameSiteMode(c.SameSite),
		}
		if c.Expires > 0 {
			hc.Expires = time.UnixMilli(c.Expires)
		}
		out = append(out, hc)
	}
	return out
}

var sameSiteNames = map[http.SameSite]string{
	http.SameSiteLaxMode:    "lax",
	http.SameSiteStrictMode: "strict",
	http.SameSiteNoneMode:   "none",
}

func sameSiteName(s http.SameSite) string {
	if name, ok := sameSiteNames[s]; ok {
		return name
	}
	return "default"
}

func sameSiteMode(s string) http.SameSite {
	for mode, name := range sameSiteNames {
		if name == s {
			return mode
		}
	}
	return http.SameSiteDefaultMode
}
