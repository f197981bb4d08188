// Package handler orchestrates one accepted client connection end to end:
// read and parse the request, read its body, consult host policy and the
// segmentation engine, then dispatch to the CONNECT or HTTP-forward path.
package handler

import (
	"context"
	"fmt"
	"log/slog"
	"net"
	"strings"
	"sync/atomic"
	"time"

	"github.com/google/uuid"

	"github.com/nbrennan/segproxy/internal/config"
	"github.com/nbrennan/segproxy/internal/domain"
	"github.com/nbrennan/segproxy/internal/httpcodec"
	"github.com/nbrennan/segproxy/internal/netio"
	"github.com/nbrennan/segproxy/internal/policy"
	"github.com/nbrennan/segproxy/internal/resolver"
	"github.com/nbrennan/segproxy/internal/segmentation"
)

const maxHeaderBytes = 65536

// Deps bundles everything a Handler needs that's shared across every
// connection: immutable settings, the DNS resolver, the compiled
// segmentation engine, and the process logger.
type Deps struct {
	Settings     config.Settings
	Resolver     resolver.Resolver
	Segmentation *segmentation.Engine
	Logger       *slog.Logger
}

// Handler serves accepted connections. It is safe for concurrent use: the
// only mutable state is the connection-id counter.
type Handler struct {
	deps   Deps
	nextID atomic.Uint64
	logger *slog.Logger
}

func New(deps Deps) *Handler {
	if deps.Logger == nil {
		deps.Logger = slog.Default()
	}
	return &Handler{deps: deps, logger: deps.Logger}
}

// connState carries the per-request identifiers and timing used for access
// logging through the rest of the pipeline.
type connState struct {
	connID  uint64
	reqID   string
	started time.Time
}

// Handle runs the full request lifecycle on conn, per §4.7: set the idle
// timeout, read the request line and headers, read the body, branch on
// method, and close the client socket on return. It never panics out to the
// caller's accept loop; callers are expected to recover around it anyway.
func (h *Handler) Handle(conn net.Conn) {
	defer conn.Close()

	cs := connState{
		connID:  h.nextID.Add(1),
		reqID:   uuid.New().String()[:8],
		started: time.Now(),
	}
	log := h.logger.With("conn_id", cs.connID, "rid", cs.reqID)

	idleTimeout := h.deps.Settings.IdleTimeout
	if idleTimeout > 0 {
		_ = conn.SetDeadline(time.Now().Add(idleTimeout))
	}

	raw, err := netio.RecvUntil(conn, []byte("\r\n\r\n"), maxHeaderBytes)
	if err != nil || len(raw) == 0 {
		return
	}

	headerBytes, overread := httpcodec.SplitHeadersAndBody(raw)
	req, err := httpcodec.ParseHTTPRequest(headerBytes)
	if err != nil {
		h.sendError(conn, log, cs, "", "", 0, err)
		return
	}

	body, err := httpcodec.ReadRequestBody(conn, overread, req.Headers)
	if err != nil {
		h.sendError(conn, log, cs, req.Method, "", 0, err)
		return
	}

	log = log.With("method", req.Method, "target", req.Target)

	ctx := context.Background()
	if strings.EqualFold(req.Method, "CONNECT") {
		h.handleConnect(ctx, conn, req, idleTimeout, log, cs)
		return
	}
	h.handleForward(ctx, conn, req, body, idleTimeout, log, cs)
}

// logAccess emits the access log line required by §6 when enabled: one INFO
// line per completed request or tunnel, carrying the request id, method,
// target host/port, the segmentation action taken, and the outcome.
func (h *Handler) logAccess(log *slog.Logger, cs connState, method, host string, port int, action, outcome string) {
	if !h.deps.Settings.AccessLog {
		return
	}
	log.Info("ACCESS",
		"rid", cs.reqID,
		"method", method,
		"host", host,
		"port", port,
		"action", action,
		"outcome", outcome,
		"duration_ms", time.Since(cs.started).Milliseconds(),
	)
}

// checkPolicy applies host allow/deny/private-IP rules and writes a 403 on
// denial. It returns false when the caller should stop processing.
func (h *Handler) checkPolicy(ctx context.Context, conn net.Conn, log *slog.Logger, method, host string, port int, cs connState) bool {
	settings := policy.Settings{
		AllowDomains: h.deps.Settings.AllowDomains,
		DenyDomains:  h.deps.Settings.DenyDomains,
		DenyPrivate:  h.deps.Settings.DenyPrivate,
	}
	decision := policy.Check(ctx, host, settings, h.lookupIPs)
	if decision.Allowed {
		return true
	}
	log.Info("request denied by policy", "reason", decision.Reason)
	h.logAccess(log, cs, method, host, port, "", "denied_policy")
	_ = httpcodec.SendHTTPError(conn, 403, "Forbidden: "+decision.Reason)
	return false
}

func (h *Handler) lookupIPs(ctx context.Context, host string) ([]net.IP, error) {
	result, err := h.deps.Resolver.Resolve(ctx, host, 0)
	if err != nil {
		return nil, err
	}
	ips := make([]net.IP, 0, len(result.Addresses))
	for _, a := range result.Addresses {
		if ip := net.ParseIP(a.IP); ip != nil {
			ips = append(ips, ip)
		}
	}
	return ips, nil
}

// decideSegmentation asks the compiled segmentation engine for a decision
// and writes a 403 when the matched rule's action is block.
func (h *Handler) decideSegmentation(conn net.Conn, log *slog.Logger, rctx domain.RequestContext, cs connState) (domain.SegmentationDecision, bool) {
	decision := h.deps.Segmentation.Decide(rctx)
	if decision.Action == domain.ActionBlock {
		reason := decision.Reason
		if reason == "" {
			reason = "Blocked by segmentation rule"
		}
		log.Info("request blocked by segmentation rule", "reason", reason, "explain", decision.Explain)
		h.logAccess(log, cs, rctx.Method, rctx.Host, rctx.Port, string(decision.Action), "blocked_segmentation")
		_ = httpcodec.SendHTTPError(conn, 403, "Forbidden: "+reason)
		return decision, false
	}
	return decision, true
}

// sendError maps a pipeline error to a status code and writes it, logging
// the failure at Info level.
func (h *Handler) sendError(conn net.Conn, log *slog.Logger, cs connState, method, host string, port int, err error) {
	status, msg := statusFor(err)
	log.Info("request failed", "status", status, "error", err)
	h.logAccess(log, cs, method, host, port, "", fmt.Sprintf("error_%d", status))
	_ = httpcodec.SendHTTPError(conn, status, msg)
}

func statusFor(err error) (int, string) {
	switch e := err.(type) {
	case *domain.ClientProtocolError:
		return 400, "Bad Request: " + e.Reason
	case *domain.PolicyDeniedError:
		return 403, "Forbidden: " + e.Reason
	case *domain.SegmentationBlockedError:
		return 403, "Forbidden: " + e.Reason
	case *domain.UpstreamTimeoutError:
		return 504, "Gateway Timeout"
	case *domain.UpstreamDNSError, *domain.NoAddressesError, *domain.UpstreamConnectError, *domain.UpstreamProtocolError:
		return 502, "Bad Gateway"
	default:
		return 502, "Bad Gateway"
	}
}
