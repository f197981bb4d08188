package handler

import (
	"context"
	"log/slog"
	"net"
	"time"

	"github.com/nbrennan/segproxy/internal/domain"
	"github.com/nbrennan/segproxy/internal/httpcodec"
	"github.com/nbrennan/segproxy/internal/tunnel"
)

// handleConnect implements §4.7.1: parse the CONNECT target, check policy
// and segmentation, open (and optionally chain through) the upstream, reply
// 200, then hand off to the tunnel relay.
func (h *Handler) handleConnect(ctx context.Context, conn net.Conn, req *domain.HTTPRequest, idleTimeout time.Duration, log *slog.Logger, cs connState) {
	targetHost, targetPort, err := httpcodec.ParseConnectTarget(req.Target)
	if err != nil {
		h.sendError(conn, log, cs, "CONNECT", "", 0, err)
		return
	}
	log = log.With("target_host", targetHost, "target_port", targetPort)

	if !h.checkPolicy(ctx, conn, log, "CONNECT", targetHost, targetPort, cs) {
		return
	}

	rctx := domain.RequestContext{
		Method: "CONNECT",
		Scheme: "https",
		Host:   targetHost,
		Port:   targetPort,
		Path:   "",
	}
	decision, ok := h.decideSegmentation(conn, log, rctx, cs)
	if !ok {
		return
	}

	dialHost, dialPort := targetHost, targetPort
	chained := false
	if decision.Action == domain.ActionUpstream {
		if decision.Upstream == nil {
			log.Warn("segmentation rule selected upstream action with no upstream configured")
			h.logAccess(log, cs, "CONNECT", targetHost, targetPort, string(decision.Action), "error_502")
			_ = httpcodec.SendHTTPError(conn, 502, "Bad Gateway: no upstream configured")
			return
		}
		dialHost, dialPort = decision.Upstream.Host, decision.Upstream.Port
		chained = true
	}

	upstream, err := tunnel.OpenUpstream(ctx, dialHost, dialPort, h.deps.Settings.ConnectTimeout, idleTimeout, h.deps.Resolver)
	if err != nil {
		h.sendError(conn, log, cs, "CONNECT", targetHost, targetPort, err)
		return
	}
	defer upstream.Close()

	if chained {
		if err := tunnel.PerformUpstreamConnect(upstream, targetHost, targetPort, idleTimeout); err != nil {
			h.sendError(conn, log, cs, "CONNECT", targetHost, targetPort, err)
			return
		}
	}

	if _, err := conn.Write([]byte("HTTP/1.1 200 Connection established\r\n\r\n")); err != nil {
		return
	}

	log.Info("tunnel established", "mode", decision.Policy.Mode, "strategy", decision.Policy.Strategy)
	tunnel.RelayTunnel(conn, upstream, decision.Policy, idleTimeout, h.logger)
	log.Info("tunnel closed", "duration_ms", time.Since(cs.started).Milliseconds())
	h.logAccess(log, cs, "CONNECT", targetHost, targetPort, string(decision.Action), "tunnel_closed")
}
