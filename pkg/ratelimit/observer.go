package ratelimit

// Observer receives notifications when a limiter rejects a connection
// or handshake, so the caller can record metrics or logs without the
// limiter depending on any particular observability stack.
type Observer interface {
	OnConnectionRateLimit(remoteIP string)
	OnHandshakeRateLimit(remoteIP string)
}
