package api

import (
	"net"
	"net/http"
	"strings"
)

// 文档注释：获取客户端 IP（/nearby 未携带 ip 字段时使用）
// 背景：多层代理环境下，优先常见反向代理头，最后回退远端地址；确保在复杂链路中得到稳定来源 IP。
// 约束：部署于未经信任的代理链路需配合网关过滤，头部存在伪造风险。
func getClientIP(r *http.Request) string {
	h := r.Header
	if x := h.Get("x-forwarded-for"); x != "" {
		return strings.TrimSpace(strings.Split(x, ",")[0])
	}
	for _, name := range []string{"cf-connecting-ip", "x-real-ip", "x-client-ip"} {
		if x := h.Get(name); x != "" {
			return strings.TrimSpace(x)
		}
	}
	if x := h.Get("forwarded"); x != "" {
		i := strings.Index(strings.ToLower(x), "for=")
		if i >= 0 {
			y := x[i+4:]
			if p := strings.IndexByte(y, ';'); p >= 0 {
				y = y[:p]
			}
			if p := strings.IndexByte(y, ','); p >= 0 {
				y = y[:p]
			}
			y = strings.Trim(y, "\" ")
			y = strings.TrimSuffix(strings.TrimPrefix(y, "["), "]")
			return y
		}
	}
	if host, _, err := net.SplitHostPort(r.RemoteAddr); err == nil {
		return host
	}
	return r.RemoteAddr
}
