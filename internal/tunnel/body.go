package tunnel

import (
	"net"
	"time"

	"github.com/nbrennan/segproxy/internal/domain"
)

// SendBody writes data to upstream, slicing it per policy when
// policy.Mode == ModeSegmentUpstream and the strategy is fixed or random
// (the same slicer the CONNECT tunnel's client-to-upstream direction uses);
// otherwise it writes the whole body in one call.
func SendBody(upstream net.Conn, data []byte, policy domain.SegmentationPolicy) error {
	if policy.Mode != domain.ModeSegmentUpstream || policy.Strategy == domain.StrategyNone {
		_, err := upstream.Write(data)
		return err
	}
	delay := time.Duration(policy.DelayMs) * time.Millisecond
	return sendSliced(upstream, data, policy, delay)
}
