package model

import (
	"net/http"
	"testing"
)

func TestParseCookieHeader(t *testing.T) {
	e := ParseCookieHeader("https://show.bilibili.com", ".bilibili.com", " SESSDATA=abc; bili_jct=tok ;broken; DedeUserID=42 ")
	if len(e.Cookies) != 3 {
		t.Fatalf("cookies = %+v", e.Cookies)
	}
	if v, ok := CookieValue([]CookieJarEntry{e}, "DedeUserID"); !ok || v != "42" {
		t.Fatalf("DedeUserID = %q %v", v, ok)
	}
	acc := Account{Cookies: []CookieJarEntry{e}}
	if got := acc.ResolveCSRF(); got != "tok" {
		t.Fatalf("csrf = %q", got)
	}
	acc.CSRF = "explicit"
	if got := acc.ResolveCSRF(); got != "explicit" {
		t.Fatalf("csrf = %q", got)
	}
}

func TestCookiesRoundTripSameSite(t *testing.T) {
	in := []*http.Cookie{{Name: "a", Value: "1", SameSite: http.SameSiteLaxMode}, {Name: "b", Value: "2"}}
	out := CookiesToHTTP(CookiesFromHTTP(in))
	if out[0].SameSite != http.SameSiteLaxMode || out[1].SameSite != http.SameSiteDefaultMode {
		t.Fatalf("unexpected same site: %v %v", out[0].SameSite, out[1].SameSite)
	}
}

func TestRetryBudgetMerge(t *testing.T) {
	def := RetryBudget{MaxTokenRetry: 5, MaxConfirmRetry: 4, MaxOrderRetry: 30, MaxFakeCheckRetry: 5, RetryIntervalMs: 300}
	got := RetryBudget{MaxOrderRetry: 2}.Merge(def)
	if got.MaxOrderRetry != 2 || got.MaxTokenRetry != 5 || got.RetryIntervalMs != 300 {
		t.Fatalf("merge = %+v", got)
	}
}

func TestParseGrabMode(t *testing.T) {
	for in, want := range map[string]GrabMode{"timed": ModeTimed, "1": ModeDirect, "leak": ModeLeak} {
		got, ok := ParseGrabMode(in)
		if !ok || got != want {
			t.Errorf("ParseGrabMode(%q) = %v, %v", in, got, ok)
		}
	}
	if _, ok := ParseGrabMode("scan"); ok {
		t.Errorf("scan should be rejected")
	}
}
