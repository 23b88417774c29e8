// Package errors defines the error kinds used throughout the reliant
// session transport. Sentinel values are stable and intended for
// errors.Is comparisons across package boundaries; the wrapper types add
// operation/phase context without hiding the underlying sentinel.
package errors

import (
	"errors"
	"fmt"
)

// Sentinel errors, one per error kind named by the transport's error
// handling design.
var (
	// ErrHandshakeFailure is returned when a handshake cannot complete for
	// any reason other than the more specific kinds below.
	ErrHandshakeFailure = errors.New("handshake: failure")

	// ErrSignatureInvalid indicates the server identity signature in
	// ServerHello did not verify against the pre-shared server public key.
	ErrSignatureInvalid = errors.New("handshake: invalid server signature")

	// ErrVersionMismatch indicates a ClientHello advertised a protocol
	// version the receiving endpoint does not support.
	ErrVersionMismatch = errors.New("handshake: protocol version mismatch")

	// ErrDecryptFailure indicates AEAD authentication/decryption failed.
	ErrDecryptFailure = errors.New("crypto: decrypt failure")

	// ErrMalformedPacket indicates a packet could not be parsed.
	ErrMalformedPacket = errors.New("wire: malformed packet")

	// ErrUnknownMessageType indicates a decoded message has no registered
	// dispatcher handler.
	ErrUnknownMessageType = errors.New("dispatch: unknown message type")

	// ErrQueueOverflow indicates the pending-ack queue for a session is
	// full and a reliable send was rejected.
	ErrQueueOverflow = errors.New("reliability: pending-ack queue overflow")

	// ErrMessageTooLarge indicates a payload exceeds the configured
	// maximum message size.
	ErrMessageTooLarge = errors.New("wire: message too large")

	// ErrTimeout indicates an operation did not complete within its
	// deadline (handshake timeout, retransmit exhaustion, session idle).
	ErrTimeout = errors.New("transport: timeout")

	// ErrSessionClosed indicates an operation was attempted on a session
	// that has already transitioned to Closed.
	ErrSessionClosed = errors.New("session: closed")

	// ErrIoFailure indicates the underlying Network port returned an
	// error sending or receiving a datagram.
	ErrIoFailure = errors.New("network: io failure")
)

// Additional sentinels used internally by components built on top of the
// kinds above.
var (
	// ErrInvalidPublicKey indicates a public key is malformed or the
	// wrong size for its algorithm.
	ErrInvalidPublicKey = errors.New("crypto: invalid public key")

	// ErrInvalidPrivateKey indicates a private key is malformed or the
	// wrong size for its algorithm.
	ErrInvalidPrivateKey = errors.New("crypto: invalid private key")

	// ErrInvalidKeySize indicates a byte slice is the wrong length for
	// the key type being constructed.
	ErrInvalidKeySize = errors.New("crypto: invalid key size")

	// ErrNonceExhausted indicates the per-direction nonce counter would
	// wrap; the session must be closed rather than reuse a nonce.
	ErrNonceExhausted = errors.New("crypto: nonce space exhausted")

	// ErrUnsupportedCipherSuite indicates neither endpoint offered a
	// cipher suite the other supports.
	ErrUnsupportedCipherSuite = errors.New("handshake: no common cipher suite")

	// ErrMaxConnections indicates the server already holds
	// maxConnections sessions and rejected a new ClientHello.
	ErrMaxConnections = errors.New("server: connection limit reached")

	// ErrUnknownSession indicates a post-handshake packet referenced a
	// SessionId the receiver has no record of.
	ErrUnknownSession = errors.New("session: unknown session id")
)

// CryptoError wraps a cryptographic error with the operation that failed.
type CryptoError struct {
	Op  string
	Err error
}

func (e *CryptoError) Error() string { return fmt.Sprintf("%s: %v", e.Op, e.Err) }
func (e *CryptoError) Unwrap() error { return e.Err }

// NewCryptoError creates a new CryptoError.
func NewCryptoError(op string, err error) *CryptoError {
	return &CryptoError{Op: op, Err: err}
}

// ProtocolError wraps a protocol-phase error with the phase it occurred in.
type ProtocolError struct {
	Phase string
	Err   error
}

func (e *ProtocolError) Error() string { return fmt.Sprintf("protocol %s: %v", e.Phase, e.Err) }
func (e *ProtocolError) Unwrap() error { return e.Err }

// NewProtocolError creates a new ProtocolError.
func NewProtocolError(phase string, err error) *ProtocolError {
	return &ProtocolError{Phase: phase, Err: err}
}

// Is reports whether any error in err's chain matches target.
func Is(err, target error) bool { return errors.Is(err, target) }

// As finds the first error in err's chain that matches target.
func As(err error, target interface{}) bool { return errors.As(err, target) }
