package httpapi

import (
	"net/http"
	"slices"
	"strconv"
	"strings"

	"ticket_grabber/internal/config"
)

const corsMaxAge = 600

var (
	corsAllowHeaders = strings.Join([]string{"Content-Type", "Authorization"}, ", ")
	// API 只用到这几种方法，DELETE 用于删除账号。
	corsAllowMethods = strings.Join([]string{http.MethodGet, http.MethodPost, http.MethodDelete, http.MethodOptions}, ", ")
)

// allowedOrigin 返回应写回的 Allow-Origin，空串表示不放行。
func allowedOrigin(cfg config.CorsConfig, origin string) string {
	if origin == "" {
		return ""
	}
	if slices.Contains(cfg.AllowOrigins, "*") {
		// 带凭据时浏览器不接受 "*"，回显具体来源。
		if cfg.AllowCredentials {
			return origin
		}
		return "*"
	}
	for _, o := range cfg.AllowOrigins {
		if strings.EqualFold(o, origin) {
			return origin
		}
	}
	return ""
}

func corsMiddleware(cfg config.CorsConfig, next http.Handler) http.Handler {
	return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		h := w.Header()
		h.Add("Vary", "Origin")
		if allowed := allowedOrigin(cfg, r.Header.Get("Origin")); allowed != "" {
			h.Set("Access-Control-Allow-Origin", allowed)
			if cfg.AllowCredentials {
				h.Set("Access-Control-Allow-Credentials", "true")
			}
			h.Set("Access-Control-Allow-Headers", corsAllowHeaders)
			h.Set("Access-Control-Allow-Methods", corsAllowMethods)
			h.Set("Access-Control-Max-Age", strconv.Itoa(corsMaxAge))
		}

		if r.Method == http.MethodOptions && r.Header.Get("Access-Control-Request-Method") != "" {
			w.WriteHeader(http.StatusNoContent)
			return
		}
		next.ServeHTTP(w, r)
	})
}
