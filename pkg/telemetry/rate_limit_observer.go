package telemetry

import "github.com/corvidnet/reliant/pkg/ratelimit"

// RateLimitObserver implements ratelimit.Observer, recording metrics
// and logs whenever a connection or handshake is rejected.
type RateLimitObserver struct {
	collector *Collector
	logger    *Logger
}

var _ ratelimit.Observer = (*RateLimitObserver)(nil)

// NewRateLimitObserver creates an observer that records metrics and
// logs rejected connections and handshakes.
func NewRateLimitObserver(collector *Collector, logger *Logger) *RateLimitObserver {
	if collector == nil {
		collector = Global()
	}
	if logger == nil {
		logger = GetLogger()
	}

	return &RateLimitObserver{
		collector: collector,
		logger:    logger.Named("ratelimit"),
	}
}

// OnConnectionRateLimit records a rejected connection due to the
// per-IP or global connection cap.
func (o *RateLimitObserver) OnConnectionRateLimit(remoteIP string) {
	o.collector.RecordConnectionRateLimit()
	if remoteIP != "" {
		o.logger.Warn("connection rate limit exceeded", Fields{"remote_ip": remoteIP})
		return
	}
	o.logger.Warn("connection rate limit exceeded")
}

// OnHandshakeRateLimit records a rejected ClientHello due to the
// handshake token bucket.
func (o *RateLimitObserver) OnHandshakeRateLimit(remoteIP string) {
	o.collector.RecordHandshakeRateLimit()
	if remoteIP != "" {
		o.logger.Warn("handshake rate limit exceeded", Fields{"remote_ip": remoteIP})
		return
	}
	o.logger.Warn("handshake rate limit exceeded")
}
