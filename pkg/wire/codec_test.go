package wire_test

import (
	"bytes"
	"testing"

	"github.com/corvidnet/reliant/internal/constants"
	qerrors "github.com/corvidnet/reliant/internal/errors"
	"github.com/corvidnet/reliant/pkg/crypto"
	"github.com/corvidnet/reliant/pkg/wire"
)

// --- ClientHello Tests ---

func TestEncodeDecodeClientHello(t *testing.T) {
	codec := wire.NewCodec()
	kp, err := crypto.GenerateX25519KeyPair()
	if err != nil {
		t.Fatalf("GenerateX25519KeyPair failed: %v", err)
	}
	random := crypto.MustSecureRandomBytes(constants.HandshakeRandomSize)

	original := &wire.ClientHello{
		Version:            wire.Current,
		EphemeralPublicKey: kp.PublicKeyBytes(),
		Random:             random,
	}

	encoded, err := codec.EncodeClientHello(original)
	if err != nil {
		t.Fatalf("EncodeClientHello failed: %v", err)
	}

	pktType, err := codec.GetPacketType(encoded)
	if err != nil {
		t.Fatalf("GetPacketType failed: %v", err)
	}
	if pktType != wire.PacketTypeClientHello {
		t.Errorf("wrong packet type: got %v, want %v", pktType, wire.PacketTypeClientHello)
	}

	decoded, err := codec.DecodeClientHello(encoded)
	if err != nil {
		t.Fatalf("DecodeClientHello failed: %v", err)
	}

	if decoded.Version != original.Version {
		t.Errorf("version mismatch: got %v, want %v", decoded.Version, original.Version)
	}
	if !bytes.Equal(decoded.Random, original.Random) {
		t.Error("random mismatch")
	}
	if !bytes.Equal(decoded.EphemeralPublicKey, original.EphemeralPublicKey) {
		t.Error("ephemeral public key mismatch")
	}
}

func TestDecodeClientHelloVersionMismatch(t *testing.T) {
	codec := wire.NewCodec()
	kp, _ := crypto.GenerateX25519KeyPair()
	random := crypto.MustSecureRandomBytes(constants.HandshakeRandomSize)

	original := &wire.ClientHello{
		Version:            wire.Version{Major: 1, Minor: 0},
		EphemeralPublicKey: kp.PublicKeyBytes(),
		Random:             random,
	}
	encoded, err := codec.EncodeClientHello(original)
	if err != nil {
		t.Fatalf("EncodeClientHello failed: %v", err)
	}

	// Corrupt the version's major byte so it no longer matches Current.
	encoded[wire.HeaderSize] = 9

	_, err = codec.DecodeClientHello(encoded)
	if !qerrors.Is(err, qerrors.ErrVersionMismatch) {
		t.Errorf("expected ErrVersionMismatch, got %v", err)
	}
}

func TestDecodeClientHelloTruncated(t *testing.T) {
	codec := wire.NewCodec()
	_, err := codec.DecodeClientHello([]byte{byte(wire.PacketTypeClientHello)})
	if err == nil {
		t.Error("expected error decoding truncated ClientHello")
	}
}

// --- ServerHello Tests ---

func TestEncodeDecodeServerHello(t *testing.T) {
	codec := wire.NewCodec()
	kp, _ := crypto.GenerateX25519KeyPair()
	random := crypto.MustSecureRandomBytes(constants.HandshakeRandomSize)
	sessionID := crypto.MustSecureRandomBytes(constants.SessionIDSize)
	signature := crypto.MustSecureRandomBytes(constants.Ed25519SignatureSize)

	original := &wire.ServerHello{
		Version:            wire.Current,
		EphemeralPublicKey: kp.PublicKeyBytes(),
		Random:             random,
		SessionID:          sessionID,
		Signature:          signature,
	}

	encoded, err := codec.EncodeServerHello(original)
	if err != nil {
		t.Fatalf("EncodeServerHello failed: %v", err)
	}

	decoded, err := codec.DecodeServerHello(encoded)
	if err != nil {
		t.Fatalf("DecodeServerHello failed: %v", err)
	}

	if !bytes.Equal(decoded.SessionID, original.SessionID) {
		t.Error("SessionID mismatch")
	}
	if !bytes.Equal(decoded.Signature, original.Signature) {
		t.Error("signature mismatch")
	}
	if !bytes.Equal(decoded.EphemeralPublicKey, original.EphemeralPublicKey) {
		t.Error("ephemeral public key mismatch")
	}
	if !bytes.Equal(decoded.Random, original.Random) {
		t.Error("random mismatch")
	}
}

func TestServerHelloInvalidSignatureSize(t *testing.T) {
	kp, _ := crypto.GenerateX25519KeyPair()
	m := &wire.ServerHello{
		Version:            wire.Current,
		EphemeralPublicKey: kp.PublicKeyBytes(),
		Random:             crypto.MustSecureRandomBytes(constants.HandshakeRandomSize),
		SessionID:          crypto.MustSecureRandomBytes(constants.SessionIDSize),
		Signature:          []byte("short"),
	}
	if err := m.Validate(); !qerrors.Is(err, qerrors.ErrMalformedPacket) {
		t.Errorf("expected ErrMalformedPacket, got %v", err)
	}
}

// --- ClientFinish / ServerWelcome Tests ---

func TestEncodeDecodeClientFinishBody(t *testing.T) {
	codec := wire.NewCodec()
	verifyData := crypto.MustSecureRandomBytes(constants.TranscriptHashSize)

	encoded, err := codec.EncodeClientFinishBody(&wire.ClientFinish{VerifyData: verifyData})
	if err != nil {
		t.Fatalf("EncodeClientFinishBody failed: %v", err)
	}

	decoded, err := codec.DecodeClientFinishBody(encoded)
	if err != nil {
		t.Fatalf("DecodeClientFinishBody failed: %v", err)
	}
	if !bytes.Equal(decoded.VerifyData, verifyData) {
		t.Error("VerifyData mismatch")
	}
}

func TestEncodeDecodeServerWelcomeBody(t *testing.T) {
	codec := wire.NewCodec()
	verifyData := crypto.MustSecureRandomBytes(constants.TranscriptHashSize)
	payload := []byte("welcome aboard")

	encoded, err := codec.EncodeServerWelcomeBody(&wire.ServerWelcome{VerifyData: verifyData, Payload: payload})
	if err != nil {
		t.Fatalf("EncodeServerWelcomeBody failed: %v", err)
	}

	decoded, err := codec.DecodeServerWelcomeBody(encoded)
	if err != nil {
		t.Fatalf("DecodeServerWelcomeBody failed: %v", err)
	}
	if !bytes.Equal(decoded.VerifyData, verifyData) {
		t.Error("VerifyData mismatch")
	}
	if !bytes.Equal(decoded.Payload, payload) {
		t.Error("Payload mismatch")
	}
}

// --- Data Tests ---

func TestEncodeDecodeDataReliable(t *testing.T) {
	codec := wire.NewCodec()
	original := &wire.Data{Seq: 42, Reliable: true, MessageTag: 7, Payload: []byte("hello")}

	encoded, err := codec.EncodeDataBody(original)
	if err != nil {
		t.Fatalf("EncodeDataBody failed: %v", err)
	}

	decoded, err := codec.DecodeDataBody(encoded)
	if err != nil {
		t.Fatalf("DecodeDataBody failed: %v", err)
	}

	if decoded.Seq != original.Seq {
		t.Errorf("seq mismatch: got %d, want %d", decoded.Seq, original.Seq)
	}
	if !decoded.Reliable {
		t.Error("expected Reliable=true")
	}
	if decoded.MessageTag != original.MessageTag {
		t.Errorf("tag mismatch: got %d, want %d", decoded.MessageTag, original.MessageTag)
	}
	if !bytes.Equal(decoded.Payload, original.Payload) {
		t.Error("payload mismatch")
	}
}

func TestEncodeDecodeDataUnreliable(t *testing.T) {
	codec := wire.NewCodec()
	original := &wire.Data{Seq: 0, Reliable: false, MessageTag: 3, Payload: []byte("ping")}

	encoded, err := codec.EncodeDataBody(original)
	if err != nil {
		t.Fatalf("EncodeDataBody failed: %v", err)
	}

	decoded, err := codec.DecodeDataBody(encoded)
	if err != nil {
		t.Fatalf("DecodeDataBody failed: %v", err)
	}
	if decoded.Reliable {
		t.Error("expected Reliable=false")
	}
	if decoded.Seq != 0 {
		t.Errorf("expected seq=0 for unreliable data, got %d", decoded.Seq)
	}
}

func TestDataUnreliableMustHaveZeroSeq(t *testing.T) {
	m := &wire.Data{Seq: 5, Reliable: false, Payload: []byte("x")}
	if err := m.Validate(); !qerrors.Is(err, qerrors.ErrMalformedPacket) {
		t.Errorf("expected ErrMalformedPacket for nonzero seq on unreliable data, got %v", err)
	}
}

func TestDataPayloadTooLarge(t *testing.T) {
	m := &wire.Data{Payload: make([]byte, constants.DefaultMaxMessageSize+1)}
	if err := m.Validate(); !qerrors.Is(err, qerrors.ErrMessageTooLarge) {
		t.Errorf("expected ErrMessageTooLarge, got %v", err)
	}
}

// --- Ack Tests ---

func TestEncodeDecodeAck(t *testing.T) {
	codec := wire.NewCodec()
	original := &wire.Ack{UpTo: 10, Selective: []uint32{12, 14}}

	encoded, err := codec.EncodeAckBody(original)
	if err != nil {
		t.Fatalf("EncodeAckBody failed: %v", err)
	}

	decoded, err := codec.DecodeAckBody(encoded)
	if err != nil {
		t.Fatalf("DecodeAckBody failed: %v", err)
	}

	if decoded.UpTo != original.UpTo {
		t.Errorf("upTo mismatch: got %d, want %d", decoded.UpTo, original.UpTo)
	}
	if len(decoded.Selective) != len(original.Selective) {
		t.Fatalf("selective length mismatch: got %d, want %d", len(decoded.Selective), len(original.Selective))
	}
	for i, seq := range decoded.Selective {
		if seq != original.Selective[i] {
			t.Errorf("selective[%d] mismatch: got %d, want %d", i, seq, original.Selective[i])
		}
	}
}

func TestAckSelectiveBound(t *testing.T) {
	selective := make([]uint32, constants.MaxSelectiveAckEntries+1)
	m := &wire.Ack{UpTo: 1, Selective: selective}
	if err := m.Validate(); !qerrors.Is(err, qerrors.ErrMalformedPacket) {
		t.Errorf("expected ErrMalformedPacket for oversized selective ack, got %v", err)
	}
}

func TestEncodeDecodeAckEmptySelective(t *testing.T) {
	codec := wire.NewCodec()
	original := &wire.Ack{UpTo: 99}

	encoded, err := codec.EncodeAckBody(original)
	if err != nil {
		t.Fatalf("EncodeAckBody failed: %v", err)
	}
	decoded, err := codec.DecodeAckBody(encoded)
	if err != nil {
		t.Fatalf("DecodeAckBody failed: %v", err)
	}
	if len(decoded.Selective) != 0 {
		t.Errorf("expected no selective entries, got %d", len(decoded.Selective))
	}
}

// --- Heartbeat Tests ---

func TestEncodeDecodeHeartbeat(t *testing.T) {
	codec := wire.NewCodec()
	encoded := codec.EncodeHeartbeatBody()
	if err := codec.DecodeHeartbeatBody(encoded); err != nil {
		t.Errorf("DecodeHeartbeatBody failed: %v", err)
	}
}

func TestDecodeHeartbeatRejectsNonEmpty(t *testing.T) {
	codec := wire.NewCodec()
	if err := codec.DecodeHeartbeatBody([]byte{1}); !qerrors.Is(err, qerrors.ErrMalformedPacket) {
		t.Errorf("expected ErrMalformedPacket, got %v", err)
	}
}

// --- Disconnect Tests ---

func TestEncodeDecodeDisconnect(t *testing.T) {
	codec := wire.NewCodec()
	reason := wire.DisconnectReason{Tag: wire.DisconnectReasonKickedByServer, Detail: "too many warnings"}

	encoded, err := codec.EncodeDisconnectBody(reason)
	if err != nil {
		t.Fatalf("EncodeDisconnectBody failed: %v", err)
	}

	decoded, err := codec.DecodeDisconnectBody(encoded)
	if err != nil {
		t.Fatalf("DecodeDisconnectBody failed: %v", err)
	}
	if decoded.Tag != reason.Tag {
		t.Errorf("tag mismatch: got %v, want %v", decoded.Tag, reason.Tag)
	}
	if decoded.Detail != reason.Detail {
		t.Errorf("detail mismatch: got %q, want %q", decoded.Detail, reason.Detail)
	}
}

func TestDisconnectUnknownTag(t *testing.T) {
	m := &wire.Disconnect{Reason: wire.DisconnectReason{Tag: wire.DisconnectReasonTag(0xFF)}}
	if err := m.Validate(); !qerrors.Is(err, qerrors.ErrMalformedPacket) {
		t.Errorf("expected ErrMalformedPacket, got %v", err)
	}
}

// --- Header / nonce counter framing Tests ---

func TestAssembleParseEncryptedPacket(t *testing.T) {
	sessionID := crypto.MustSecureRandomBytes(constants.SessionIDSize)
	ciphertext := []byte("not-really-ciphertext-but-fixed-length")

	packet := wire.AssembleEncryptedPacket(wire.PacketTypeData, sessionID, 7, ciphertext)

	pktType, gotSessionID, additionalData, nonceCounter, gotCiphertext, err := wire.ParseEncryptedPacket(packet)
	if err != nil {
		t.Fatalf("ParseEncryptedPacket failed: %v", err)
	}
	if pktType != wire.PacketTypeData {
		t.Errorf("packet type mismatch: got %v, want %v", pktType, wire.PacketTypeData)
	}
	if !bytes.Equal(gotSessionID, sessionID) {
		t.Error("SessionId mismatch")
	}
	if nonceCounter != 7 {
		t.Errorf("nonce counter mismatch: got %d, want 7", nonceCounter)
	}
	if !bytes.Equal(gotCiphertext, ciphertext) {
		t.Error("ciphertext mismatch")
	}
	if len(additionalData) != wire.HeaderSize {
		t.Errorf("additionalData length mismatch: got %d, want %d", len(additionalData), wire.HeaderSize)
	}
}

func TestParseEncryptedPacketTruncated(t *testing.T) {
	_, _, _, _, _, err := wire.ParseEncryptedPacket([]byte{byte(wire.PacketTypeData)})
	if err == nil {
		t.Error("expected error parsing truncated packet")
	}
}

func TestNonceCounterRoundTrip(t *testing.T) {
	encoded := wire.EncodeNonceCounter(123456789)
	decoded, err := wire.DecodeNonceCounter(encoded)
	if err != nil {
		t.Fatalf("DecodeNonceCounter failed: %v", err)
	}
	if decoded != 123456789 {
		t.Errorf("nonce counter mismatch: got %d, want 123456789", decoded)
	}
}
