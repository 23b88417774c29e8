// Package reliant provides a reliable, encrypted, session-oriented
// datagram transport for low-latency multiplayer games.
//
// It runs over UDP rather than TCP so that packet loss on one message
// never head-of-line-blocks messages that don't need it: callers choose
// reliable or unreliable delivery per message, and the transport only
// orders and retransmits the reliable ones.
//
// # Quick Start
//
// Server:
//
//	import "github.com/corvidnet/reliant/pkg/server"
//
//	srv, _ := server.New(server.Config{
//		BindAddress: ":7777",
//		Protocol:    registry,
//		Identity:    identity,
//	})
//	srv.OnMessage(moveTag, func(sess *session.Session, msg interface{}) { ... })
//	srv.Start()
//
// Client:
//
//	import "github.com/corvidnet/reliant/pkg/client"
//
//	cli, _ := client.New(client.Config{
//		ServerAddress:  "game.example.com:7777",
//		Protocol:       registry,
//		ServerIdentity: serverPublicKey,
//	})
//	sess, _ := cli.Connect()
//	cli.Send(&Move{X: 1, Y: 2}, true)
//
// # Package Structure
//
//   - pkg/crypto: ephemeral X25519 ECDH, Ed25519 server identity, SHAKE-256
//     KDF, AES-256-GCM/ChaCha20-Poly1305 AEAD
//   - pkg/wire: packet framing and encode/decode for the handshake and
//     session packet types
//   - pkg/session: per-session state machine, encryption, and error budget
//   - pkg/reliability: sequence tracking, selective-ack retransmission,
//     and reorder buffering for reliable messages
//   - pkg/protocol: pluggable application message encoding (CBOR-backed
//     registry with reflection-assigned tags)
//   - pkg/engine: the send/receive/retransmit/heartbeat loop shared by the
//     server and client
//   - pkg/dispatch: routes decoded messages to type-keyed handlers and
//     fires session lifecycle callbacks
//   - pkg/ratelimit: connection and handshake admission control
//   - pkg/network: the datagram substrate (real UDP, or a fault-injecting
//     simulated fabric for tests)
//   - pkg/server, pkg/client: the listening and connecting orchestration
//     layers built on the packages above
//   - pkg/telemetry: structured logging, metrics, and tracing
//   - internal/constants, internal/errors: protocol constants and typed
//     errors
//
// # Security Properties
//
//   - Authenticated server identity: ServerHello is signed with the
//     server's long-term Ed25519 key, verified against a pre-shared
//     public key before any session is trusted.
//   - Forward secrecy: an ephemeral X25519 key pair is generated for
//     every handshake; traffic keys are derived via SHAKE-256 and
//     discarded with the session.
//   - Authenticated encryption: every session packet after the handshake
//     is sealed with AES-256-GCM or ChaCha20-Poly1305.
//
// # Testing
//
//	go test ./...                        # unit and integration tests
//	go test -bench=. ./test/benchmark     # throughput and latency benchmarks
//	go test -fuzz=FuzzDecodeDataBody ./test/fuzz/
package reliant
