// kdf.go implements key derivation using SHAKE-256 (SHA-3 XOF).
//
// SHAKE-256 is an extendable-output function (XOF) based on the Keccak
// sponge construction: it absorbs domain-separated, length-prefixed inputs
// and squeezes an arbitrary-length output. Domain separation strings
// prevent the handshake-secret derivation and the two traffic-key
// derivations from ever colliding even though they share the same
// underlying ECDH output.
package crypto

import (
	"encoding/binary"

	"golang.org/x/crypto/sha3"

	"github.com/corvidnet/reliant/internal/constants"
	qerrors "github.com/corvidnet/reliant/internal/errors"
)

// DeriveKey derives a key using SHAKE-256 with domain separation.
//
//	output = SHAKE-256(len(domain) || domain || len(input) || input, outputLen)
func DeriveKey(domain string, input []byte, outputLen int) ([]byte, error) {
	if outputLen <= 0 || outputLen > 1<<20 {
		return nil, qerrors.NewCryptoError("DeriveKey", qerrors.ErrInvalidKeySize)
	}

	h := sha3.NewShake256()

	domainBytes := []byte(domain)
	lenBuf := make([]byte, 4)
	binary.BigEndian.PutUint32(lenBuf, uint32(len(domainBytes)))
	h.Write(lenBuf)
	h.Write(domainBytes)

	binary.BigEndian.PutUint32(lenBuf, uint32(len(input)))
	h.Write(lenBuf)
	h.Write(input)

	output := make([]byte, outputLen)
	_, _ = h.Read(output) // SHAKE256.Read never fails

	return output, nil
}

// DeriveKeyMultiple derives a key from several inputs with domain separation.
func DeriveKeyMultiple(domain string, inputs [][]byte, outputLen int) ([]byte, error) {
	if outputLen <= 0 || outputLen > 1<<20 {
		return nil, qerrors.NewCryptoError("DeriveKeyMultiple", qerrors.ErrInvalidKeySize)
	}

	h := sha3.NewShake256()
	lenBuf := make([]byte, 4)

	domainBytes := []byte(domain)
	binary.BigEndian.PutUint32(lenBuf, uint32(len(domainBytes)))
	h.Write(lenBuf)
	h.Write(domainBytes)

	binary.BigEndian.PutUint32(lenBuf, uint32(len(inputs)))
	h.Write(lenBuf)

	for _, input := range inputs {
		binary.BigEndian.PutUint32(lenBuf, uint32(len(input)))
		h.Write(lenBuf)
		h.Write(input)
	}

	output := make([]byte, outputLen)
	_, _ = h.Read(output)

	return output, nil
}

// TranscriptHash hashes the ordered handshake transcript components
// (client/server randoms, ephemeral public keys, SessionId) with SHA3-256.
func TranscriptHash(components ...[]byte) []byte {
	h := sha3.New256()
	lenBuf := make([]byte, 4)

	binary.BigEndian.PutUint32(lenBuf, uint32(len(components)))
	h.Write(lenBuf)

	for _, component := range components {
		binary.BigEndian.PutUint32(lenBuf, uint32(len(component)))
		h.Write(lenBuf)
		h.Write(component)
	}

	return h.Sum(nil)
}

// DeriveHandshakeSecret derives the session's shared secret from the
// X25519 ECDH output and the two handshake randoms, binding the secret to
// this specific handshake transcript.
func DeriveHandshakeSecret(ecdhSecret, clientRandom, serverRandom []byte) ([]byte, error) {
	if len(ecdhSecret) != constants.X25519SharedSecretSize {
		return nil, qerrors.NewCryptoError("DeriveHandshakeSecret", qerrors.ErrInvalidKeySize)
	}
	if len(clientRandom) != constants.HandshakeRandomSize || len(serverRandom) != constants.HandshakeRandomSize {
		return nil, qerrors.NewCryptoError("DeriveHandshakeSecret", qerrors.ErrInvalidKeySize)
	}

	return DeriveKeyMultiple(
		constants.DomainSeparatorHandshakeSecret,
		[][]byte{ecdhSecret, clientRandom, serverRandom},
		constants.KDFOutputSize,
	)
}

// DeriveTrafficKeys derives the two directional AEAD keys for session
// traffic from the handshake secret. Client and server each derive the
// same pair and select client/server by role.
func DeriveTrafficKeys(handshakeSecret []byte) (clientKey, serverKey []byte, err error) {
	if len(handshakeSecret) != constants.KDFOutputSize {
		return nil, nil, qerrors.NewCryptoError("DeriveTrafficKeys", qerrors.ErrInvalidKeySize)
	}

	clientKey, err = DeriveKey(constants.DomainSeparatorClientTraffic, handshakeSecret, constants.AESKeySize)
	if err != nil {
		return nil, nil, err
	}
	serverKey, err = DeriveKey(constants.DomainSeparatorServerTraffic, handshakeSecret, constants.AESKeySize)
	if err != nil {
		return nil, nil, err
	}

	return clientKey, serverKey, nil
}
