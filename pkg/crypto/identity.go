// identity.go implements the server's long-term identity keypair and the
// Ed25519 signature that authenticates a ServerHello.
//
// The signature binds both ephemeral X25519 public keys, both handshake
// randoms, and the newly minted SessionId to the server's long-term
// identity, which is what prevents a man-in-the-middle from substituting
// its own ephemeral key during the handshake. Only the server holds a
// long-term identity key; clients verify against a pre-shared public key
// supplied out of band by a collaborator (key loading is out of scope
// here).
package crypto

import (
	"github.com/cloudflare/circl/sign/ed25519"

	"github.com/corvidnet/reliant/internal/constants"
	qerrors "github.com/corvidnet/reliant/internal/errors"
)

// IdentityKeyPair is the server's long-term Ed25519 signing key.
type IdentityKeyPair struct {
	PublicKey  ed25519.PublicKey
	PrivateKey ed25519.PrivateKey
}

// GenerateIdentityKeyPair generates a new Ed25519 identity key pair.
func GenerateIdentityKeyPair() (*IdentityKeyPair, error) {
	pub, priv, err := ed25519.GenerateKey(Reader)
	if err != nil {
		return nil, qerrors.NewCryptoError("IdentityKeyPair.Generate", err)
	}
	return &IdentityKeyPair{PublicKey: pub, PrivateKey: priv}, nil
}

// NewIdentityKeyPairFromSeed reconstructs an identity key pair from a
// 32-byte seed, matching the encoding collaborators use to persist keys.
func NewIdentityKeyPairFromSeed(seed []byte) (*IdentityKeyPair, error) {
	if len(seed) != ed25519.SeedSize {
		return nil, qerrors.ErrInvalidKeySize
	}
	priv := ed25519.NewKeyFromSeed(seed)
	pub := priv.Public().(ed25519.PublicKey)
	return &IdentityKeyPair{PublicKey: pub, PrivateKey: priv}, nil
}

// ParseIdentityPublicKey parses a raw Ed25519 public key.
func ParseIdentityPublicKey(data []byte) (ed25519.PublicKey, error) {
	if len(data) != constants.Ed25519PublicKeySize {
		return nil, qerrors.ErrInvalidPublicKey
	}
	pub := make(ed25519.PublicKey, len(data))
	copy(pub, data)
	return pub, nil
}

// SignServerHello signs the handshake transcript binding both ephemeral
// public keys, both randoms, and the SessionId to the server's identity.
func SignServerHello(priv ed25519.PrivateKey, clientRandom, serverRandom, clientEphemeral, serverEphemeral, sessionID []byte) []byte {
	transcript := serverHelloTranscript(clientRandom, serverRandom, clientEphemeral, serverEphemeral, sessionID)
	return ed25519.Sign(priv, transcript)
}

// VerifyServerHello verifies a ServerHello signature against the
// pre-shared server identity public key. Returns ErrSignatureInvalid if
// verification fails.
func VerifyServerHello(pub ed25519.PublicKey, clientRandom, serverRandom, clientEphemeral, serverEphemeral, sessionID, signature []byte) error {
	if len(signature) != constants.Ed25519SignatureSize {
		return qerrors.ErrSignatureInvalid
	}
	transcript := serverHelloTranscript(clientRandom, serverRandom, clientEphemeral, serverEphemeral, sessionID)
	if !ed25519.Verify(pub, transcript, signature) {
		return qerrors.ErrSignatureInvalid
	}
	return nil
}

func serverHelloTranscript(clientRandom, serverRandom, clientEphemeral, serverEphemeral, sessionID []byte) []byte {
	transcript := make([]byte, 0, len(clientRandom)+len(serverRandom)+len(clientEphemeral)+len(serverEphemeral)+len(sessionID))
	transcript = append(transcript, clientRandom...)
	transcript = append(transcript, serverRandom...)
	transcript = append(transcript, clientEphemeral...)
	transcript = append(transcript, serverEphemeral...)
	transcript = append(transcript, sessionID...)
	return transcript
}

// Zeroize erases the private key material.
func (kp *IdentityKeyPair) Zeroize() {
	Zeroize(kp.PrivateKey)
	kp.PrivateKey = nil
	kp.PublicKey = nil
}
