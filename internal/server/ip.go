package server

import (
	"net"
	"net/http"
	"net/netip"
	"strings"
)

// ------------------------------------------------------------
// 클라이언트 IP
//
// 로컬 서버도 ngrok 이나 ALB 같은 reverse proxy 뒤에 둘 수 있다.
// 그때는 RemoteAddr 가 프록시 주소이므로 헤더에서 원래 주소를 찾는다.
// 고른 값은 proxy 이벤트의 requestContext.identity.sourceIp 가 된다.
//
// 후보 순서:
//  1. X-Forwarded-For 의 각 항목 (왼쪽부터)
//  2. CloudFront-Viewer-Address ("ip:port", IPv6 는 "a:b::c:port")
//  3. RemoteAddr
//
// 후보 중 처음 나오는 공인 주소를 쓴다.
// ------------------------------------------------------------

func clientIP(r *http.Request) string {
	for _, c := range ipCandidates(r) {
		if addr, ok := parseAddr(c); ok && isPublic(addr) {
			return addr.String()
		}
	}
	return ""
}

func ipCandidates(r *http.Request) []string {
	var out []string
	if xff := r.Header.Get("X-Forwarded-For"); xff != "" {
		out = append(out, strings.Split(xff, ",")...)
	}
	if cf := r.Header.Get("CloudFront-Viewer-Address"); cf != "" {
		// 포트는 항상 마지막 ':' 뒤에 있다
		if i := strings.LastIndexByte(cf, ':'); i > 0 {
			cf = cf[:i]
		}
		out = append(out, cf)
	}
	if host, _, err := net.SplitHostPort(r.RemoteAddr); err == nil {
		out = append(out, host)
	}
	return out
}

func parseAddr(s string) (netip.Addr, bool) {
	addr, err := netip.ParseAddr(strings.TrimSpace(s))
	if err != nil {
		return netip.Addr{}, false
	}
	return addr.Unmap(), true
}

// isPublic 은 private / loopback / link-local / unspecified 가 아니면 true.
func isPublic(a netip.Addr) bool {
	return a.IsValid() &&
		!a.IsPrivate() &&
		!a.IsLoopback() &&
		!a.IsLinkLocalUnicast() &&
		!a.IsLinkLocalMulticast() &&
		!a.IsUnspecified()
}

// sourceIP 는 공인 주소가 없으면 RemoteAddr 의 host 를 그대로 쓴다.
// 로컬에서는 대부분 127.0.0.1 이다.
func sourceIP(r *http.Request) string {
	if ip := clientIP(r); ip != "" {
		return ip
	}
	if host, _, err := net.SplitHostPort(r.RemoteAddr); err == nil {
		return host
	}
	return r.RemoteAddr
}
