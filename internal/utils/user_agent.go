package utils

import "strings"

const defaultMobileUserAgent = "Mozilla/5.0 (Linux; Android 6.0; Nexus 5 Build/MRA58N) AppleWebKit/537.36 (KHTML, like Gecko) Chrome/134.0.0.0 Mobile Safari/537.36"

func DefaultMobileUserAgent() string {
	return defaultMobileUserAgent
}

// NormalizeMobileUserAgent 下单请求固定以 h5 身份发出，PC UA 会被替换为 fallback。
func NormalizeMobileUserAgent(ua, fallback string) string {
	if strings.TrimSpace(fallback) == "" || !LooksLikeMobileUA(fallback) {
		fallback = defaultMobileUserAgent
	}
	v := strings.TrimSpace(ua)
	if v == "" || !LooksLikeMobileUA(v) {
		return fallback
	}
	return v
}

func LooksLikeMobileUA(ua string) bool {
	s := strings.ToLower(ua)
	for _, marker := range []string{"mobile", "android", "iphone", "ipad"} {
		if strings.Contains(s, marker) {
			return true
		}
	}
	return false
}
