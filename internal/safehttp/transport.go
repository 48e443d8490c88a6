// Package safehttp builds HTTP clients that refuse to connect to private,
// loopback or link-local addresses, for webhooks whose URLs come from
// configuration shared with less trusted operators.
package safehttp

import (
	"context"
	"fmt"
	"net"
	"net/http"
	"time"
)

// Denied reports whether ip is in a range outbound webhooks may not reach.
func Denied(ip net.IP) bool {
	return ip.IsLoopback() || ip.IsPrivate() || ip.IsLinkLocalUnicast() ||
		ip.IsLinkLocalMulticast() || ip.IsUnspecified()
}

// NewTransport returns a transport that checks the address it actually
// connected to, so DNS answers pointing at private ranges are caught too.
func NewTransport() *http.Transport {
	t := http.DefaultTransport.(*http.Transport).Clone()
	t.Proxy = nil
	t.DialContext = func(ctx context.Context, network, addr string) (net.Conn, error) {
		dialer := &net.Dialer{Timeout: 5 * time.Second}
		conn, err := dialer.DialContext(ctx, network, addr)
		if err != nil {
			return nil, err
		}

		host, _, _ := net.SplitHostPort(conn.RemoteAddr().String())
		ip := net.ParseIP(host)
		if ip == nil {
			conn.Close()
			return nil, fmt.Errorf("failed to parse remote IP for %q", addr)
		}

		if Denied(ip) {
			conn.Close()
			return nil, fmt.Errorf("access to private IP %s is denied", ip)
		}

		return conn, nil
	}
	return t
}

// NewClient returns a client using NewTransport. A zero timeout means none.
func NewClient(timeout time.Duration) *http.Client {
	return &http.Client{Timeout: timeout, Transport: NewTransport()}
}
