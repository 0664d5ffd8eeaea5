package middleware

import (
	"net/http"
	"strings"

	"github.com/contentsquare/hitcounter/config"
)

const (
	xForwardedForHeader = "X-Forwarded-For"
	xRealIPHeader       = "X-Real-Ip"
	forwardedHeader     = "Forwarded"
)

// ClientAddr replaces r.RemoteAddr with the client address reported by
// a reverse proxy, so that allowed_networks apply to the real client.
type ClientAddr struct {
	proxy config.Proxy

	next http.Handler
}

func NewClientAddr(proxy config.Proxy, next http.Handler) *ClientAddr {
	return &ClientAddr{
		proxy: proxy,
		next:  next,
	}
}

func (m *ClientAddr) ServeHTTP(w http.ResponseWriter, r *http.Request) {
	if addr := m.clientAddr(r); len(addr) > 0 {
		r.RemoteAddr = addr
	}
	m.next.ServeHTTP(w, r)
}

// clientAddr returns an empty string when the connection address must be kept.
func (m *ClientAddr) clientAddr(r *http.Request) string {
	if !m.proxy.Enable {
		return ""
	}
	if len(m.proxy.Header) > 0 {
		return firstInList(r.Header.Get(m.proxy.Header))
	}
	if fwd := r.Header.Get(xForwardedForHeader); len(fwd) > 0 {
		return firstInList(fwd)
	}
	if fwd := r.Header.Get(xRealIPHeader); len(fwd) > 0 {
		return firstInList(fwd)
	}
	if fwd := r.Header.Get(forwardedHeader); len(fwd) > 0 {
		// See: https://tools.ietf.org/html/rfc7239.
		return parseForwarded(fwd)
	}
	return ""
}

func firstInList(list string) string {
	first, _, _ := strings.Cut(list, ",")
	return strings.TrimSpace(first)
}

func parseForwarded(fwd string) string {
	// only the element added by the proxy closest to the client matters
	element, _, _ := strings.Cut(fwd, ",")
	for _, pair := range strings.Split(element, ";") {
		k, v, ok := strings.Cut(strings.TrimSpace(pair), "=")
		if !ok || !strings.EqualFold(k, "for") {
			continue
		}
		v = strings.Trim(v, `"`)
		if strings.HasPrefix(v, "[") && strings.HasSuffix(v, "]") {
			v = v[1 : len(v)-1]
		}
		return v
	}
	return ""
}
