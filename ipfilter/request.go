package ipfilter

import (
	"net"
	"net/http"
	"net/netip"
	"strings"
)

// ClientIP resolves the source address of r. Proxy headers are only honoured
// when trustForwarded is set; otherwise RemoteAddr is authoritative. The
// returned address is unmapped and invalid when nothing parses.
func ClientIP(r *http.Request, trustForwarded bool) netip.Addr {
	if trustForwarded {
		if ip := r.Header.Get("X-Real-IP"); ip != "" {
			if addr, err := netip.ParseAddr(strings.TrimSpace(ip)); err == nil {
				return addr.Unmap()
			}
		}
		if fwd := r.Header.Get("X-Forwarded-For"); fwd != "" {
			first := fwd
			if comma := strings.IndexByte(fwd, ','); comma >= 0 {
				first = fwd[:comma]
			}
			if addr, err := netip.ParseAddr(strings.TrimSpace(first)); err == nil {
				return addr.Unmap()
			}
		}
	}

	host, _, err := net.SplitHostPort(r.RemoteAddr)
	if err != nil {
		host = r.RemoteAddr
	}
	addr, err := netip.ParseAddr(host)
	if err != nil {
		return netip.Addr{}
	}
	return addr.Unmap()
}
