// aead.go implements the Authenticated Encryption with Associated Data
// used to protect session traffic.
//
// Two AEAD constructions are supported, negotiated during the handshake:
//   - AES-256-GCM: hardware-accelerated on modern CPUs, the restricted-mode
//     default (see fips_enabled.go).
//   - ChaCha20-Poly1305: fast in software, no hardware dependency.
//
// Nonces are derived from a per-direction monotonically increasing 64-bit
// counter, zero-extended to the cipher's 96-bit nonce size. The counter
// itself travels on the wire in cleartext as the packet's 8-byte nonce
// field so the peer can reconstruct it without guessing. Reuse of a
// (key, nonce) pair breaks AEAD security outright, so Seal is the only
// path that advances the counter; callers never choose a nonce by hand.
package crypto

import (
	"crypto/aes"
	"crypto/cipher"
	"encoding/binary"
	"math"
	"sync"

	"golang.org/x/crypto/chacha20poly1305"

	"github.com/corvidnet/reliant/internal/constants"
	qerrors "github.com/corvidnet/reliant/internal/errors"
)

// AEAD encrypts and decrypts one direction of session traffic.
type AEAD struct {
	cipher cipher.AEAD
	suite  constants.CipherSuite

	mu      sync.Mutex
	counter uint64
}

// NewAEAD constructs an AEAD cipher for the given suite and 32-byte key.
func NewAEAD(suite constants.CipherSuite, key []byte) (*AEAD, error) {
	if len(key) != constants.AESKeySize {
		return nil, qerrors.ErrInvalidKeySize
	}

	var aeadCipher cipher.AEAD

	switch suite {
	case constants.CipherSuiteAES256GCM:
		block, err := aes.NewCipher(key)
		if err != nil {
			return nil, qerrors.NewCryptoError("NewAEAD", err)
		}
		aeadCipher, err = cipher.NewGCM(block)
		if err != nil {
			return nil, qerrors.NewCryptoError("NewAEAD", err)
		}

	case constants.CipherSuiteChaCha20Poly1305:
		var err error
		aeadCipher, err = chacha20poly1305.New(key)
		if err != nil {
			return nil, qerrors.NewCryptoError("NewAEAD", err)
		}

	default:
		return nil, qerrors.ErrUnsupportedCipherSuite
	}

	return &AEAD{cipher: aeadCipher, suite: suite}, nil
}

// Seal encrypts and authenticates plaintext, returning the 8-byte nonce
// counter used (to be placed in the packet's cleartext nonce field) and
// the ciphertext (including the authentication tag).
func (a *AEAD) Seal(plaintext, additionalData []byte) (nonceCounter uint64, ciphertext []byte, err error) {
	nonce, counter, err := a.nextNonce()
	if err != nil {
		return 0, nil, err
	}

	ciphertext = a.cipher.Seal(nil, nonce, plaintext, additionalData)
	return counter, ciphertext, nil
}

// Open decrypts and verifies ciphertext sealed with the given nonce
// counter (as read from the packet's cleartext nonce field).
func (a *AEAD) Open(nonceCounter uint64, ciphertext, additionalData []byte) ([]byte, error) {
	if len(ciphertext) < a.cipher.Overhead() {
		return nil, qerrors.ErrDecryptFailure
	}

	nonce := encodeNonce(nonceCounter)
	plaintext, err := a.cipher.Open(nil, nonce, ciphertext, additionalData)
	if err != nil {
		return nil, qerrors.ErrDecryptFailure
	}

	return plaintext, nil
}

func encodeNonce(counter uint64) []byte {
	nonce := make([]byte, constants.AESNonceSize)
	binary.BigEndian.PutUint64(nonce[constants.AESNonceSize-8:], counter)
	return nonce
}

// nextNonce returns the next nonce and advances the counter. Returns an
// error once the counter would wrap, rather than ever reusing a nonce.
func (a *AEAD) nextNonce() ([]byte, uint64, error) {
	a.mu.Lock()
	defer a.mu.Unlock()

	if a.counter == math.MaxUint64 {
		return nil, 0, qerrors.ErrNonceExhausted
	}

	counter := a.counter
	a.counter++
	return encodeNonce(counter), counter, nil
}

// Counter returns the current outbound nonce counter value.
func (a *AEAD) Counter() uint64 {
	a.mu.Lock()
	defer a.mu.Unlock()
	return a.counter
}

// Suite returns the negotiated cipher suite identifier.
func (a *AEAD) Suite() constants.CipherSuite {
	return a.suite
}

// Overhead returns the authentication tag size in bytes added by Seal.
func (a *AEAD) Overhead() int {
	return a.cipher.Overhead()
}
