package proxy

import (
	"io"
	"net"
	"net/http"
	"net/url"
	"time"

	"github.com/goodtune/pac-router/internal/logging"
	"github.com/goodtune/pac-router/internal/metrics"
	"github.com/goodtune/pac-router/internal/route"
)

// Hop-by-hop headers that must not be forwarded.
var hopByHopHeaders = []string{
	"Connection",
	"Keep-Alive",
	"Proxy-Authenticate",
	"Proxy-Authorization",
	"Proxy-Connection",
	"TE",
	"Trailers",
	"Transfer-Encoding",
	"Upgrade",
}

func (h *Handler) handleForward(w http.ResponseWriter, r *http.Request) {
	start := time.Now()
	metrics.ActiveConnections.Inc()
	defer metrics.ActiveConnections.Dec()

	host := r.Host
	if host == "" {
		host = r.URL.Host
	}
	domain := hostOnly(host)

	res := h.router.Lookup(r.URL.String(), domain)
	rt := res.Route
	routeLabel := rt.Kind()
	metrics.RuleMatches.WithLabelValues(metrics.RuleLabel(res.Rule)).Inc()

	upstream := "direct"
	if !rt.IsDirect() {
		upstream = rt.Address()
	}

	transport, ok := h.transportFor(rt)
	if !ok {
		h.logger.Error("unsupported upstream scheme", "route", rt.String(), "host", host)
		metrics.UpstreamErrors.WithLabelValues(upstream).Inc()
		http.Error(w, "unsupported upstream scheme", http.StatusBadGateway)
		return
	}

	// Clone the request for forwarding
	outReq := r.Clone(r.Context())
	outReq.RequestURI = ""
	removeHopByHop(outReq.Header)

	resp, err := transport.RoundTrip(outReq)
	if err != nil {
		h.logger.Error("upstream request failed", "error", err, "upstream", upstream)
		if !rt.IsDirect() {
			metrics.UpstreamErrors.WithLabelValues(upstream).Inc()
		}
		http.Error(w, "upstream error", http.StatusBadGateway)
		return
	}
	defer resp.Body.Close()

	removeHopByHop(resp.Header)
	copyHeader(w.Header(), resp.Header)
	w.WriteHeader(resp.StatusCode)
	bytesSent, _ := io.Copy(w, resp.Body)

	duration := time.Since(start)
	domainLabel := metrics.DomainLabel(domain)

	metrics.RequestsTotal.WithLabelValues(r.Method, domainLabel, routeLabel).Inc()
	metrics.RequestDuration.WithLabelValues(r.Method, routeLabel).Observe(duration.Seconds())
	metrics.RequestsByDomain.WithLabelValues(domainLabel, routeLabel).Inc()
	metrics.BytesSent.WithLabelValues(routeLabel).Add(float64(bytesSent))
	if r.ContentLength > 0 {
		metrics.BytesReceived.WithLabelValues(routeLabel).Add(float64(r.ContentLength))
	}

	logging.LogRequest(h.logger, logging.RequestEntry{
		ClientIP:   clientIP(r),
		Method:     r.Method,
		Host:       domain,
		URL:        r.URL.String(),
		Route:      rt.String(),
		Rule:       res.Rule,
		Upstream:   upstream,
		StatusCode: resp.StatusCode,
		Duration:   duration,
		BytesSent:  bytesSent,
		BytesRecv:  max(r.ContentLength, 0),
	})
}

// transportFor returns the pooled transport for rt. SOCKS4 has no support
// in net/http, so it reports false.
func (h *Handler) transportFor(rt route.Route) (*http.Transport, bool) {
	if rt.Scheme == route.SOCKS4 {
		return nil, false
	}
	key := rt.String()
	if t, ok := h.transports.Load(key); ok {
		return t.(*http.Transport), true
	}

	transport := &http.Transport{
		DialContext:         (&net.Dialer{Timeout: h.dialTimeout}).DialContext,
		TLSHandshakeTimeout: h.dialTimeout,
		IdleConnTimeout:     90 * time.Second,
	}
	if !rt.IsDirect() {
		proxyURL := &url.URL{
			Scheme: rt.Scheme.URLScheme(),
			Host:   rt.Address(),
		}
		transport.Proxy = http.ProxyURL(proxyURL)
	}

	t, _ := h.transports.LoadOrStore(key, transport)
	return t.(*http.Transport), true
}

func removeHopByHop(h http.Header) {
	for _, k := range hopByHopHeaders {
		h.Del(k)
	}
}

func copyHeader(dst, src http.Header) {
	for k, vv := range src {
		for _, v := range vv {
			dst.Add(k, v)
		}
	}
}

func hostOnly(hostport string) string {
	h, _, err := net.SplitHostPort(hostport)
	if err != nil {
		return hostport
	}
	return h
}

func clientIP(r *http.Request) string {
	host, _, err := net.SplitHostPort(r.RemoteAddr)
	if err != nil {
		return r.RemoteAddr
	}
	return host
}
