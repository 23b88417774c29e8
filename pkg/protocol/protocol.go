// Package protocol defines the pluggable message codec the transport
// decodes application payloads with. The transport itself only ever
// carries opaque tagged byte slices (see pkg/wire.Data.MessageTag); it
// never inspects application message contents. Protocol is the seam an
// application uses to turn its own typed messages into that byte
// sequence and back.
package protocol

// Protocol turns application-level messages into tagged, opaque
// payloads and back. Encode and Decode must agree on a tag assignment
// without coordination between client and server; Registry assigns
// tags deterministically from registered type names so both sides
// derive the same mapping independently.
type Protocol interface {
	// Encode assigns message's registered tag and serializes it to a
	// payload ready to carry in a Data packet.
	Encode(message interface{}) (tag uint16, payload []byte, err error)

	// Decode reconstructs the message registered under tag from payload.
	Decode(tag uint16, payload []byte) (interface{}, error)
}
