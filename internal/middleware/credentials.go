package middleware

import (
	"net/http"
)

// QueryCredential 将查询参数中的令牌转为 Authorization 头，并从 URL 中移除，
// 避免令牌出现在访问日志里。请求已带 Authorization 头时只做移除。
func QueryCredential(param string) func(http.Handler) http.Handler {
	return func(next http.Handler) http.Handler {
		return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
			query := r.URL.Query()
			if !query.Has(param) {
				next.ServeHTTP(w, r)
				return
			}

			token := query.Get(param)
			query.Del(param)

			r = r.Clone(r.Context())
			r.URL.RawQuery = query.Encode()
			r.RequestURI = r.URL.RequestURI()
			if token != "" && r.Header.Get("Authorization") == "" {
				r.Header.Set("Authorization", "Bearer "+token)
			}

			next.ServeHTTP(w, r)
		})
	}
}
