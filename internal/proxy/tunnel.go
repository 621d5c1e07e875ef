package proxy

import (
	"bufio"
	"context"
	"crypto/tls"
	"fmt"
	"io"
	"net"
	"net/http"
	"strings"
	"sync"
	"time"

	xproxy "golang.org/x/net/proxy"

	"github.com/goodtune/pac-router/internal/logging"
	"github.com/goodtune/pac-router/internal/metrics"
	"github.com/goodtune/pac-router/internal/route"
)

// handleTunnel handles CONNECT requests by splicing the client connection
// to the target, either directly or through the routed upstream.
func (h *Handler) handleTunnel(w http.ResponseWriter, r *http.Request) {
	start := time.Now()
	metrics.ActiveConnections.Inc()
	defer metrics.ActiveConnections.Dec()

	target := r.Host
	if target == "" {
		target = r.URL.Host
	}
	domain := hostOnly(target)

	res := h.router.Lookup(connectURL(target), domain)
	rt := res.Route
	routeLabel := rt.Kind()
	metrics.RuleMatches.WithLabelValues(metrics.RuleLabel(res.Rule)).Inc()

	upstream := "direct"
	if !rt.IsDirect() {
		upstream = rt.Address()
	}

	ctx, cancel := context.WithTimeout(r.Context(), h.dialTimeout)
	upConn, err := h.dialVia(ctx, rt, target)
	cancel()
	if err != nil {
		h.logger.Error("tunnel dial failed", "error", err, "target", target, "upstream", upstream)
		if !rt.IsDirect() {
			metrics.UpstreamErrors.WithLabelValues(upstream).Inc()
		}
		http.Error(w, "upstream error", http.StatusBadGateway)
		return
	}
	defer upConn.Close()

	hj, ok := w.(http.Hijacker)
	if !ok {
		http.Error(w, "hijacking not supported", http.StatusInternalServerError)
		return
	}
	clientConn, clientBuf, err := hj.Hijack()
	if err != nil {
		h.logger.Error("hijack failed", "error", err)
		return
	}
	defer clientConn.Close()

	if _, err := io.WriteString(clientConn, "HTTP/1.1 200 Connection established\r\n\r\n"); err != nil {
		return
	}

	var (
		wg        sync.WaitGroup
		bytesRecv int64
	)
	wg.Add(1)
	go func() {
		defer wg.Done()
		// Bytes the client pipelined behind the CONNECT are already buffered.
		bytesRecv, _ = io.Copy(upConn, clientBuf.Reader)
		closeWrite(upConn)
	}()
	bytesSent, _ := io.Copy(clientConn, upConn)
	closeWrite(clientConn)
	wg.Wait()

	duration := time.Since(start)
	domainLabel := metrics.DomainLabel(domain)
	metrics.RequestsTotal.WithLabelValues(r.Method, domainLabel, routeLabel).Inc()
	metrics.RequestDuration.WithLabelValues(r.Method, routeLabel).Observe(duration.Seconds())
	metrics.RequestsByDomain.WithLabelValues(domainLabel, routeLabel).Inc()
	metrics.BytesSent.WithLabelValues(routeLabel).Add(float64(bytesSent))
	metrics.BytesReceived.WithLabelValues(routeLabel).Add(float64(bytesRecv))

	logging.LogRequest(h.logger, logging.RequestEntry{
		ClientIP:   clientIP(r),
		Method:     r.Method,
		Host:       domain,
		URL:        target,
		Route:      rt.String(),
		Rule:       res.Rule,
		Upstream:   upstream,
		StatusCode: http.StatusOK,
		Duration:   duration,
		BytesSent:  bytesSent,
		BytesRecv:  bytesRecv,
	})
}

// connectURL is the URL browsers hand to PAC scripts for a CONNECT to
// target. The default HTTPS port is left out.
func connectURL(target string) string {
	host, port, err := net.SplitHostPort(target)
	if err != nil || port != "443" {
		return "https://" + target + "/"
	}
	if strings.Contains(host, ":") {
		host = "[" + host + "]"
	}
	return "https://" + host + "/"
}

// dialVia opens a connection to target through rt.
func (h *Handler) dialVia(ctx context.Context, rt route.Route, target string) (net.Conn, error) {
	dialer := &net.Dialer{Timeout: h.dialTimeout}

	if rt.IsDirect() {
		return dialer.DialContext(ctx, "tcp", target)
	}

	switch rt.Scheme {
	case route.SOCKS5:
		socks, err := xproxy.SOCKS5("tcp", rt.Address(), nil, dialer)
		if err != nil {
			return nil, err
		}
		if cd, ok := socks.(xproxy.ContextDialer); ok {
			return cd.DialContext(ctx, "tcp", target)
		}
		return socks.Dial("tcp", target)

	case route.HTTP, route.HTTPS:
		conn, err := dialer.DialContext(ctx, "tcp", rt.Address())
		if err != nil {
			return nil, err
		}
		if rt.Scheme == route.HTTPS {
			tlsConn := tls.Client(conn, &tls.Config{ServerName: rt.Host})
			if err := tlsConn.HandshakeContext(ctx); err != nil {
				conn.Close()
				return nil, fmt.Errorf("TLS handshake with %s: %w", rt.Address(), err)
			}
			conn = tlsConn
		}
		return connectThrough(ctx, conn, target)

	default:
		return nil, fmt.Errorf("unsupported upstream scheme %s", rt.Scheme)
	}
}

// connectThrough issues CONNECT target on an open proxy connection.
func connectThrough(ctx context.Context, conn net.Conn, target string) (net.Conn, error) {
	if deadline, ok := ctx.Deadline(); ok {
		conn.SetDeadline(deadline)
		defer conn.SetDeadline(time.Time{})
	}

	if _, err := fmt.Fprintf(conn, "CONNECT %s HTTP/1.1\r\nHost: %s\r\n\r\n", target, target); err != nil {
		conn.Close()
		return nil, err
	}
	br := bufio.NewReader(conn)
	resp, err := http.ReadResponse(br, &http.Request{Method: http.MethodConnect})
	if err != nil {
		conn.Close()
		return nil, fmt.Errorf("reading CONNECT response: %w", err)
	}
	// The body of a successful CONNECT response is the tunnel itself, so it
	// is left unread.
	if resp.StatusCode != http.StatusOK {
		conn.Close()
		return nil, fmt.Errorf("upstream refused CONNECT: %s", resp.Status)
	}
	return &bufferedConn{Conn: conn, r: br}, nil
}

// bufferedConn reads through the reader that consumed the CONNECT
// response, so bytes the upstream sent right after it are not lost.
type bufferedConn struct {
	net.Conn
	r *bufio.Reader
}

func (c *bufferedConn) Read(p []byte) (int, error) {
	return c.r.Read(p)
}

func closeWrite(c net.Conn) {
	switch v := c.(type) {
	case interface{ CloseWrite() error }:
		v.CloseWrite()
	case *bufferedConn:
		closeWrite(v.Conn)
	}
}
