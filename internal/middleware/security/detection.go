// Package security holds the API's request screening and response hardening.
package security

import (
	"net/http"
	"net/netip"
	"strings"
	"sync/atomic"

	"papelflow/internal/log"
)

type DetectionMetrics struct {
	SuspiciousRequests int64
}

// Detector resolves client addresses behind trusted proxies and turns away
// scanner probes before they reach the ledger routes.
type Detector struct {
	suspicious atomic.Int64
	trusted    []netip.Prefix
	logger     *log.Logger
}

// defaultTrusted covers loopback and the private ranges a reverse proxy in
// front of the API normally sits in.
var defaultTrusted = []netip.Prefix{
	netip.MustParsePrefix("127.0.0.0/8"),
	netip.MustParsePrefix("10.0.0.0/8"),
	netip.MustParsePrefix("172.16.0.0/12"),
	netip.MustParsePrefix("192.168.0.0/16"),
	netip.MustParsePrefix("::1/128"),
}

func NewDetector() *Detector {
	return &Detector{
		trusted: defaultTrusted,
		logger:  log.Default(log.ComponentHTTP),
	}
}

var probes = []string{
	"../", "..\\", "%2e%2e", ".env", ".git", "wp-admin", "phpmyadmin",
	"etc/passwd", "<script", "union select",
}

// Suspicious reports path traversal, scanner probes and tunnelling methods.
func (d *Detector) Suspicious(r *http.Request) bool {
	if r.Method == http.MethodTrace || r.Method == http.MethodConnect {
		return true
	}
	target := strings.ToLower(r.URL.Path + "?" + r.URL.RawQuery)
	for _, p := range probes {
		if strings.Contains(target, p) {
			return true
		}
	}
	return false
}

// Middleware rejects suspicious requests before routing. onReject writes the
// response; when nil a plain 400 is written.
func (d *Detector) Middleware(onReject func(http.ResponseWriter, *http.Request)) func(http.Handler) http.Handler {
	return func(next http.Handler) http.Handler {
		return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
			if !d.Suspicious(r) {
				next.ServeHTTP(w, r)
				return
			}
			d.suspicious.Add(1)
			d.logger.WarnContext(r.Context(), "Suspicious request rejected",
				log.FieldMethod, r.Method,
				log.FieldPath, r.URL.Path,
				log.FieldClientIP, d.ExtractClientIP(r))
			if onReject != nil {
				onReject(w, r)
				return
			}
			http.Error(w, "Bad Request", http.StatusBadRequest)
		})
	}
}

// ExtractClientIP returns the connecting address, or the forwarded client
// address when the connection comes from a trusted proxy.
func (d *Detector) ExtractClientIP(r *http.Request) string {
	direct := r.RemoteAddr
	if ap, err := netip.ParseAddrPort(r.RemoteAddr); err == nil {
		direct = ap.Addr().String()
	}
	addr, err := netip.ParseAddr(direct)
	if err != nil || !d.fromTrustedProxy(addr) {
		return direct
	}

	if xff := r.Header.Get("X-Forwarded-For"); xff != "" {
		first, _, _ := strings.Cut(xff, ",")
		if a, err := netip.ParseAddr(strings.TrimSpace(first)); err == nil {
			return a.String()
		}
	}
	if a, err := netip.ParseAddr(strings.TrimSpace(r.Header.Get("X-Real-IP"))); err == nil {
		return a.String()
	}
	return direct
}

func (d *Detector) fromTrustedProxy(addr netip.Addr) bool {
	addr = addr.Unmap()
	for _, p := range d.trusted {
		if p.Contains(addr) {
			return true
		}
	}
	return false
}

func (d *Detector) GetMetrics() DetectionMetrics {
	return DetectionMetrics{SuspiciousRequests: d.suspicious.Load()}
}
