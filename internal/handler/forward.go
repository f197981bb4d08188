package handler

import (
	"context"
	"fmt"
	"io"
	"log/slog"
	"net"
	"strconv"
	"strings"
	"time"

	"github.com/nbrennan/segproxy/internal/domain"
	"github.com/nbrennan/segproxy/internal/httpcodec"
	"github.com/nbrennan/segproxy/internal/tunnel"
)

var hopByHopHeaders = map[string]struct{}{
	"connection":          {},
	"proxy-connection":    {},
	"keep-alive":          {},
	"transfer-encoding":   {},
	"te":                  {},
	"trailer":             {},
	"upgrade":             {},
	"proxy-authenticate":  {},
	"proxy-authorization": {},
}

// handleForward implements §4.7.2: decompose the absolute-form target,
// strip hop-by-hop headers, rewrite Host/Connection, check policy and
// segmentation, then open a direct connection to the resolved upstream
// (bypassing the DNS resolver/cache, per the forward path's own dial step)
// and stream the response back verbatim.
func (h *Handler) handleForward(ctx context.Context, conn net.Conn, req *domain.HTTPRequest, body []byte, idleTimeout time.Duration, log *slog.Logger, cs connState) {
	url, err := httpcodec.SplitAbsoluteHTTPURL(req.Target)
	if err != nil {
		h.sendError(conn, log, cs, req.Method, "", 0, err)
		return
	}
	log = log.With("host", url.Host, "port", url.Port, "path", url.Path)

	wasChunked := isChunked(req)
	headers, names := stripHopByHop(req)

	if wasChunked {
		delete(headers, "content-length")
		names = removeName(names, "content-length")
	}

	hostHeader := url.Host
	if url.Port != 80 {
		hostHeader = net.JoinHostPort(url.Host, strconv.Itoa(url.Port))
	}
	headers, names = setHeader(headers, names, "host", hostHeader)
	headers, names = setHeader(headers, names, "connection", "close")

	if !h.checkPolicy(ctx, conn, log, req.Method, url.Host, url.Port, cs) {
		return
	}

	rctx := domain.RequestContext{
		Method: req.Method,
		Scheme: "http",
		Host:   url.Host,
		Port:   url.Port,
		Path:   url.Path,
	}
	decision, ok := h.decideSegmentation(conn, log, rctx, cs)
	if !ok {
		return
	}

	dialHost, dialPort := url.Host, url.Port
	requestLine := fmt.Sprintf("%s %s %s", req.Method, url.Path, req.Version)
	if decision.Action == domain.ActionUpstream {
		if decision.Upstream == nil {
			log.Warn("segmentation rule selected upstream action with no upstream configured")
			h.logAccess(log, cs, req.Method, url.Host, url.Port, string(decision.Action), "error_502")
			_ = httpcodec.SendHTTPError(conn, 502, "Bad Gateway: no upstream configured")
			return
		}
		dialHost, dialPort = decision.Upstream.Host, decision.Upstream.Port
		requestLine = fmt.Sprintf("%s http://%s/%s %s", req.Method, hostHeader, strings.TrimPrefix(url.Path, "/"), req.Version)
	}

	dialer := net.Dialer{Timeout: h.deps.Settings.ConnectTimeout}
	upstream, err := dialer.DialContext(ctx, "tcp", net.JoinHostPort(dialHost, strconv.Itoa(dialPort)))
	if err != nil {
		h.sendError(conn, log, cs, req.Method, url.Host, url.Port, forwardUpstreamError(dialHost, dialPort, err))
		return
	}
	defer upstream.Close()
	if idleTimeout > 0 {
		_ = upstream.SetDeadline(time.Now().Add(idleTimeout))
	}

	if err := writeForwardRequest(upstream, requestLine, headers, names); err != nil {
		h.sendError(conn, log, cs, req.Method, url.Host, url.Port, forwardUpstreamError(dialHost, dialPort, err))
		return
	}
	if len(body) > 0 {
		if err := tunnel.SendBody(upstream, body, decision.Policy); err != nil {
			h.sendError(conn, log, cs, req.Method, url.Host, url.Port, forwardUpstreamError(dialHost, dialPort, err))
			return
		}
	}

	n, err := io.Copy(conn, upstream)
	if err != nil {
		h.sendError(conn, log, cs, req.Method, url.Host, url.Port, forwardUpstreamError(dialHost, dialPort, err))
		return
	}
	log.Info("forward complete", "bytes", n, "duration_ms", time.Since(cs.started).Milliseconds())
	h.logAccess(log, cs, req.Method, url.Host, url.Port, string(decision.Action), "forwarded")
}

// forwardUpstreamError classifies an upstream dial or I/O failure as a
// timeout or a plain connect/reset error so statusFor maps it to 504 or 502
// the same way handleConnect's upstream errors are mapped.
func forwardUpstreamError(host string, port int, err error) error {
	address := net.JoinHostPort(host, strconv.Itoa(port))
	if ne, ok := err.(net.Error); ok && ne.Timeout() {
		return &domain.UpstreamTimeoutError{Address: address, Stage: "idle", Err: err}
	}
	return &domain.UpstreamConnectError{Address: address, Err: err}
}

func isChunked(req *domain.HTTPRequest) bool {
	te, ok := req.Header("transfer-encoding")
	return ok && strings.EqualFold(strings.TrimSpace(te), "chunked")
}

// stripHopByHop returns a copy of req's headers/names with the fixed
// hop-by-hop set removed, plus every header named in a Connection: token
// list.
func stripHopByHop(req *domain.HTTPRequest) (map[string]string, []string) {
	drop := map[string]struct{}{}
	for k := range hopByHopHeaders {
		drop[k] = struct{}{}
	}
	if conn, ok := req.Header("connection"); ok {
		for _, tok := range strings.Split(conn, ",") {
			tok = strings.ToLower(strings.TrimSpace(tok))
			if tok != "" {
				drop[tok] = struct{}{}
			}
		}
	}

	headers := make(map[string]string, len(req.Headers))
	names := make([]string, 0, len(req.Names))
	for _, name := range req.Names {
		if _, skip := drop[name]; skip {
			continue
		}
		headers[name] = req.Headers[name]
		names = append(names, name)
	}
	return headers, names
}

func setHeader(headers map[string]string, names []string, name, value string) (map[string]string, []string) {
	if _, exists := headers[name]; !exists {
		names = append(names, name)
	}
	headers[name] = value
	return headers, names
}

func removeName(names []string, name string) []string {
	out := names[:0]
	for _, n := range names {
		if n != name {
			out = append(out, n)
		}
	}
	return out
}

func writeForwardRequest(upstream net.Conn, requestLine string, headers map[string]string, names []string) error {
	var b strings.Builder
	b.WriteString(requestLine)
	b.WriteString("\r\n")
	for _, name := range names {
		fmt.Fprintf(&b, "%s: %s\r\n", name, headers[name])
	}
	b.WriteString("\r\n")
	_, err := upstream.Write([]byte(b.String()))
	return err
}
