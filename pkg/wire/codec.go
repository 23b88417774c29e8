// codec.go implements serialization and parsing of the wire packets
// defined in packets.go.
//
// Every packet begins with a 1-byte type and a 16-byte SessionId (zero
// for the pre-session ClientHello/ServerHello). Handshake packets are
// cleartext and carry a 2-byte protocol version next. Every other packet
// carries an 8-byte cleartext nonce counter followed by an
// authenticated-encrypted body; the type and SessionId bytes are the
// AEAD's associated data, so tampering with either fails decryption.
//
// Encrypted body layouts (post-decryption):
//
//	Data:       seq:4 | flags:1 | tag:2 | payload:rest
//	Ack:        upTo:4 | n:1 | sel[n]:4
//	Heartbeat:  (empty)
//	Disconnect: reasonTag:1 | detailLen:1 | detail:utf8
package wire

import (
	"encoding/binary"

	"github.com/corvidnet/reliant/internal/constants"
	qerrors "github.com/corvidnet/reliant/internal/errors"
)

// Codec provides packet serialization and parsing.
type Codec struct{}

// NewCodec creates a new wire codec.
func NewCodec() *Codec {
	return &Codec{}
}

// EncodePacketHeader builds the shared [type][SessionId] header.
func EncodePacketHeader(pktType PacketType, sessionID []byte) []byte {
	buf := make([]byte, HeaderSize)
	buf[0] = byte(pktType)
	copy(buf[1:], sessionID)
	return buf
}

// ParsePacketHeader splits a packet into its type, SessionId, and the
// remaining bytes following the header.
func ParsePacketHeader(data []byte) (PacketType, []byte, []byte, error) {
	if len(data) < HeaderSize {
		return 0, nil, nil, qerrors.ErrMalformedPacket
	}
	pktType := PacketType(data[0])
	sessionID := data[1:HeaderSize]
	return pktType, sessionID, data[HeaderSize:], nil
}

// EncodeNonceCounter encodes the 8-byte cleartext nonce counter field.
func EncodeNonceCounter(counter uint64) []byte {
	buf := make([]byte, 8)
	binary.BigEndian.PutUint64(buf, counter)
	return buf
}

// DecodeNonceCounter decodes the 8-byte cleartext nonce counter field.
func DecodeNonceCounter(data []byte) (uint64, error) {
	if len(data) < 8 {
		return 0, qerrors.ErrMalformedPacket
	}
	return binary.BigEndian.Uint64(data), nil
}

// AssembleEncryptedPacket builds the full wire bytes for any
// post-handshake packet: header, cleartext nonce counter, ciphertext.
func AssembleEncryptedPacket(pktType PacketType, sessionID []byte, nonceCounter uint64, ciphertext []byte) []byte {
	header := EncodePacketHeader(pktType, sessionID)
	buf := make([]byte, 0, len(header)+8+len(ciphertext))
	buf = append(buf, header...)
	buf = append(buf, EncodeNonceCounter(nonceCounter)...)
	buf = append(buf, ciphertext...)
	return buf
}

// ParseEncryptedPacket splits a post-handshake packet into its type,
// SessionId, nonce counter, and ciphertext. The returned additionalData
// is the header bytes the AEAD must authenticate alongside the
// ciphertext.
func ParseEncryptedPacket(data []byte) (pktType PacketType, sessionID []byte, additionalData []byte, nonceCounter uint64, ciphertext []byte, err error) {
	pktType, sessionID, rest, err := ParsePacketHeader(data)
	if err != nil {
		return 0, nil, nil, 0, nil, err
	}
	nonceCounter, err = DecodeNonceCounter(rest)
	if err != nil {
		return 0, nil, nil, 0, nil, err
	}
	return pktType, sessionID, data[:HeaderSize], nonceCounter, rest[8:], nil
}

// EncodeClientHello serializes a cleartext ClientHello packet.
func (c *Codec) EncodeClientHello(m *ClientHello) ([]byte, error) {
	if err := m.Validate(); err != nil {
		return nil, err
	}

	buf := make([]byte, 0, HeaderSize+2+constants.X25519PublicKeySize+constants.HandshakeRandomSize)
	buf = append(buf, EncodePacketHeader(PacketTypeClientHello, make([]byte, constants.SessionIDSize))...)
	buf = append(buf, m.Version.Bytes()...)
	buf = append(buf, m.EphemeralPublicKey...)
	buf = append(buf, m.Random...)
	return buf, nil
}

// DecodeClientHello parses a cleartext ClientHello packet.
func (c *Codec) DecodeClientHello(data []byte) (*ClientHello, error) {
	pktType, _, rest, err := ParsePacketHeader(data)
	if err != nil {
		return nil, err
	}
	if pktType != PacketTypeClientHello {
		return nil, qerrors.ErrMalformedPacket
	}
	if len(rest) < 2+constants.X25519PublicKeySize+constants.HandshakeRandomSize {
		return nil, qerrors.ErrMalformedPacket
	}

	m := &ClientHello{Version: ParseVersion(rest[:2])}
	offset := 2

	m.EphemeralPublicKey = append([]byte(nil), rest[offset:offset+constants.X25519PublicKeySize]...)
	offset += constants.X25519PublicKeySize

	m.Random = append([]byte(nil), rest[offset:offset+constants.HandshakeRandomSize]...)

	if err := m.Validate(); err != nil {
		return nil, err
	}
	return m, nil
}

// EncodeServerHello serializes a cleartext ServerHello packet.
func (c *Codec) EncodeServerHello(m *ServerHello) ([]byte, error) {
	if err := m.Validate(); err != nil {
		return nil, err
	}

	size := 2 + constants.X25519PublicKeySize + constants.HandshakeRandomSize + constants.SessionIDSize + constants.Ed25519SignatureSize
	buf := make([]byte, 0, HeaderSize+size)
	buf = append(buf, EncodePacketHeader(PacketTypeServerHello, make([]byte, constants.SessionIDSize))...)
	buf = append(buf, m.Version.Bytes()...)
	buf = append(buf, m.EphemeralPublicKey...)
	buf = append(buf, m.Random...)
	buf = append(buf, m.SessionID...)
	buf = append(buf, m.Signature...)
	return buf, nil
}

// DecodeServerHello parses a cleartext ServerHello packet.
func (c *Codec) DecodeServerHello(data []byte) (*ServerHello, error) {
	pktType, _, rest, err := ParsePacketHeader(data)
	if err != nil {
		return nil, err
	}
	if pktType != PacketTypeServerHello {
		return nil, qerrors.ErrMalformedPacket
	}

	minLen := 2 + constants.X25519PublicKeySize + constants.HandshakeRandomSize + constants.SessionIDSize + constants.Ed25519SignatureSize
	if len(rest) < minLen {
		return nil, qerrors.ErrMalformedPacket
	}

	m := &ServerHello{Version: ParseVersion(rest[:2])}
	offset := 2

	m.EphemeralPublicKey = append([]byte(nil), rest[offset:offset+constants.X25519PublicKeySize]...)
	offset += constants.X25519PublicKeySize

	m.Random = append([]byte(nil), rest[offset:offset+constants.HandshakeRandomSize]...)
	offset += constants.HandshakeRandomSize

	m.SessionID = append([]byte(nil), rest[offset:offset+constants.SessionIDSize]...)
	offset += constants.SessionIDSize

	m.Signature = append([]byte(nil), rest[offset:offset+constants.Ed25519SignatureSize]...)

	if err := m.Validate(); err != nil {
		return nil, err
	}
	return m, nil
}

// EncodeClientFinishBody serializes the ClientFinish plaintext body, to
// be sealed by the caller with the session's AEAD.
func (c *Codec) EncodeClientFinishBody(m *ClientFinish) ([]byte, error) {
	if err := m.Validate(); err != nil {
		return nil, err
	}
	return append([]byte(nil), m.VerifyData...), nil
}

// DecodeClientFinishBody parses a decrypted ClientFinish plaintext body.
func (c *Codec) DecodeClientFinishBody(plaintext []byte) (*ClientFinish, error) {
	m := &ClientFinish{VerifyData: append([]byte(nil), plaintext...)}
	if err := m.Validate(); err != nil {
		return nil, err
	}
	return m, nil
}

// EncodeServerWelcomeBody serializes the ServerWelcome plaintext body.
func (c *Codec) EncodeServerWelcomeBody(m *ServerWelcome) ([]byte, error) {
	if err := m.Validate(); err != nil {
		return nil, err
	}
	buf := make([]byte, 0, constants.TranscriptHashSize+len(m.Payload))
	buf = append(buf, m.VerifyData...)
	buf = append(buf, m.Payload...)
	return buf, nil
}

// DecodeServerWelcomeBody parses a decrypted ServerWelcome plaintext body.
func (c *Codec) DecodeServerWelcomeBody(plaintext []byte) (*ServerWelcome, error) {
	if len(plaintext) < constants.TranscriptHashSize {
		return nil, qerrors.ErrMalformedPacket
	}
	m := &ServerWelcome{
		VerifyData: append([]byte(nil), plaintext[:constants.TranscriptHashSize]...),
		Payload:    append([]byte(nil), plaintext[constants.TranscriptHashSize:]...),
	}
	if err := m.Validate(); err != nil {
		return nil, err
	}
	return m, nil
}

// EncodeDataBody serializes the Data plaintext body: seq:4 | flags:1 | tag:2 | payload.
func (c *Codec) EncodeDataBody(m *Data) ([]byte, error) {
	if err := m.Validate(); err != nil {
		return nil, err
	}

	buf := make([]byte, 4+1+2+len(m.Payload))
	binary.BigEndian.PutUint32(buf[0:4], m.Seq)
	if m.Reliable {
		buf[4] = dataFlagReliable
	}
	binary.BigEndian.PutUint16(buf[5:7], m.MessageTag)
	copy(buf[7:], m.Payload)
	return buf, nil
}

// DecodeDataBody parses a decrypted Data plaintext body.
func (c *Codec) DecodeDataBody(plaintext []byte) (*Data, error) {
	if len(plaintext) < 7 {
		return nil, qerrors.ErrMalformedPacket
	}

	m := &Data{
		Seq:        binary.BigEndian.Uint32(plaintext[0:4]),
		Reliable:   plaintext[4]&dataFlagReliable != 0,
		MessageTag: binary.BigEndian.Uint16(plaintext[5:7]),
		Payload:    append([]byte(nil), plaintext[7:]...),
	}
	if err := m.Validate(); err != nil {
		return nil, err
	}
	return m, nil
}

// EncodeAckBody serializes the Ack plaintext body: upTo:4 | n:1 | sel[n]:4.
func (c *Codec) EncodeAckBody(m *Ack) ([]byte, error) {
	if err := m.Validate(); err != nil {
		return nil, err
	}

	buf := make([]byte, 4+1+4*len(m.Selective))
	binary.BigEndian.PutUint32(buf[0:4], m.UpTo)
	buf[4] = byte(len(m.Selective))
	offset := 5
	for _, seq := range m.Selective {
		binary.BigEndian.PutUint32(buf[offset:offset+4], seq)
		offset += 4
	}
	return buf, nil
}

// DecodeAckBody parses a decrypted Ack plaintext body.
func (c *Codec) DecodeAckBody(plaintext []byte) (*Ack, error) {
	if len(plaintext) < 5 {
		return nil, qerrors.ErrMalformedPacket
	}

	upTo := binary.BigEndian.Uint32(plaintext[0:4])
	n := int(plaintext[4])
	if len(plaintext) < 5+4*n {
		return nil, qerrors.ErrMalformedPacket
	}

	selective := make([]uint32, n)
	offset := 5
	for i := range selective {
		selective[i] = binary.BigEndian.Uint32(plaintext[offset : offset+4])
		offset += 4
	}

	m := &Ack{UpTo: upTo, Selective: selective}
	if err := m.Validate(); err != nil {
		return nil, err
	}
	return m, nil
}

// EncodeHeartbeatBody serializes the (empty) Heartbeat plaintext body.
func (c *Codec) EncodeHeartbeatBody() []byte {
	return []byte{}
}

// DecodeHeartbeatBody validates a decrypted Heartbeat plaintext body.
func (c *Codec) DecodeHeartbeatBody(plaintext []byte) error {
	if len(plaintext) != 0 {
		return qerrors.ErrMalformedPacket
	}
	return nil
}

// EncodeDisconnectBody serializes the Disconnect plaintext body:
// reasonTag:1 | detailLen:1 | detail:utf8.
func (c *Codec) EncodeDisconnectBody(reason DisconnectReason) ([]byte, error) {
	m := &Disconnect{Reason: reason}
	if err := m.Validate(); err != nil {
		return nil, err
	}

	buf := make([]byte, 2+len(reason.Detail))
	buf[0] = byte(reason.Tag)
	buf[1] = byte(len(reason.Detail))
	copy(buf[2:], reason.Detail)
	return buf, nil
}

// DecodeDisconnectBody parses a decrypted Disconnect plaintext body.
func (c *Codec) DecodeDisconnectBody(plaintext []byte) (*DisconnectReason, error) {
	if len(plaintext) < 2 {
		return nil, qerrors.ErrMalformedPacket
	}

	detailLen := int(plaintext[1])
	if len(plaintext) < 2+detailLen {
		return nil, qerrors.ErrMalformedPacket
	}

	reason := DisconnectReason{
		Tag:    DisconnectReasonTag(plaintext[0]),
		Detail: string(plaintext[2 : 2+detailLen]),
	}

	m := &Disconnect{Reason: reason}
	if err := m.Validate(); err != nil {
		return nil, err
	}
	return &reason, nil
}

// EncodeCleartextDisconnect serializes a Disconnect packet sent before a
// session exists — rejecting a ClientHello for a version mismatch or
// because the server has no room for a new connection. There is no
// session key yet to encrypt under, so the packet carries its reason in
// the clear with a zero SessionId.
func (c *Codec) EncodeCleartextDisconnect(reason DisconnectReason) ([]byte, error) {
	body, err := c.EncodeDisconnectBody(reason)
	if err != nil {
		return nil, err
	}
	buf := append([]byte(nil), EncodePacketHeader(PacketTypeDisconnect, make([]byte, constants.SessionIDSize))...)
	return append(buf, body...), nil
}

// DecodeCleartextDisconnect parses a pre-session Disconnect packet.
func (c *Codec) DecodeCleartextDisconnect(data []byte) (*DisconnectReason, error) {
	pktType, _, rest, err := ParsePacketHeader(data)
	if err != nil {
		return nil, err
	}
	if pktType != PacketTypeDisconnect {
		return nil, qerrors.ErrMalformedPacket
	}
	return c.DecodeDisconnectBody(rest)
}

// GetPacketType returns the type of a serialized packet.
func (c *Codec) GetPacketType(data []byte) (PacketType, error) {
	if len(data) < 1 {
		return 0, qerrors.ErrMalformedPacket
	}
	return PacketType(data[0]), nil
}
