// buffer_pool.go provides buffer pooling to reduce allocations during
// encryption/decryption, which matters on the hot path of a session
// moving many small datagrams per second. The pool uses size classes
// sized for typical packet bodies rather than one-size-fits-all.
package crypto

import (
	"math"
	"sync"

	"github.com/corvidnet/reliant/internal/constants"
	qerrors "github.com/corvidnet/reliant/internal/errors"
)

// BufferPool provides pooled byte slices for cryptographic operations.
type BufferPool struct {
	nonce sync.Pool

	// Small ciphertext buffers (typical datagram payloads, up to ~1KB)
	small sync.Pool

	// Medium ciphertext buffers (up to 16KB)
	medium sync.Pool

	// Large ciphertext buffers (up to 64KB, the message size ceiling)
	large sync.Pool
}

// Buffer size class thresholds for crypto operations.
const (
	nonceBufferSize        = constants.AESNonceSize
	smallCryptoBufferSize  = 1024 + constants.AESTagSize
	mediumCryptoBufferSize = 16*1024 + constants.AESTagSize
	largeCryptoBufferSize  = 64*1024 + constants.AESTagSize
)

// globalCryptoPool is the default crypto buffer pool instance.
var globalCryptoPool = NewCryptoBufferPool()

// NewCryptoBufferPool creates a new crypto buffer pool.
func NewCryptoBufferPool() *BufferPool {
	return &BufferPool{
		nonce: sync.Pool{
			New: func() any {
				buf := make([]byte, nonceBufferSize)
				return &buf
			},
		},
		small: sync.Pool{
			New: func() any {
				buf := make([]byte, smallCryptoBufferSize)
				return &buf
			},
		},
		medium: sync.Pool{
			New: func() any {
				buf := make([]byte, mediumCryptoBufferSize)
				return &buf
			},
		},
		large: sync.Pool{
			New: func() any {
				buf := make([]byte, largeCryptoBufferSize)
				return &buf
			},
		},
	}
}

// GetNonce returns a zeroed nonce-sized buffer from the pool.
func (p *BufferPool) GetNonce() []byte {
	bufPtr := p.nonce.Get().(*[]byte)
	buf := *bufPtr
	for i := range buf {
		buf[i] = 0
	}
	return buf
}

// PutNonce returns a nonce buffer to the pool.
func (p *BufferPool) PutNonce(buf []byte) {
	if buf == nil || cap(buf) != nonceBufferSize {
		return
	}
	buf = buf[:cap(buf)]
	for i := range buf {
		buf[i] = 0
	}
	p.nonce.Put(&buf)
}

// GetCiphertext returns a ciphertext buffer of at least the requested size.
func (p *BufferPool) GetCiphertext(size int) []byte {
	if size <= 0 {
		return nil
	}

	var bufPtr *[]byte

	switch {
	case size <= smallCryptoBufferSize:
		bufPtr = p.small.Get().(*[]byte)
	case size <= mediumCryptoBufferSize:
		bufPtr = p.medium.Get().(*[]byte)
	case size <= largeCryptoBufferSize:
		bufPtr = p.large.Get().(*[]byte)
	default:
		return make([]byte, size)
	}

	return (*bufPtr)[:size]
}

// PutCiphertext returns a ciphertext buffer to the pool, zeroing it first
// since it may have held plaintext or key-derived material.
func (p *BufferPool) PutCiphertext(buf []byte) {
	if buf == nil {
		return
	}

	bufCap := cap(buf)
	if bufCap == 0 {
		return
	}

	buf = buf[:bufCap]
	for i := range buf {
		buf[i] = 0
	}

	bufPtr := &buf

	switch bufCap {
	case smallCryptoBufferSize:
		p.small.Put(bufPtr)
	case mediumCryptoBufferSize:
		p.medium.Put(bufPtr)
	case largeCryptoBufferSize:
		p.large.Put(bufPtr)
	}
}

// GetCryptoBuffer returns a buffer from the global crypto pool.
func GetCryptoBuffer(size int) []byte {
	return globalCryptoPool.GetCiphertext(size)
}

// PutCryptoBuffer returns a buffer to the global crypto pool.
func PutCryptoBuffer(buf []byte) {
	globalCryptoPool.PutCiphertext(buf)
}

// GetNonceBuffer returns a nonce buffer from the global pool.
func GetNonceBuffer() []byte {
	return globalCryptoPool.GetNonce()
}

// PutNonceBuffer returns a nonce buffer to the global pool.
func PutNonceBuffer(buf []byte) {
	globalCryptoPool.PutNonce(buf)
}

// SealPooled encrypts using a pooled ciphertext buffer, returning the
// nonce counter (for the packet's cleartext nonce field) and the
// ciphertext. The caller must call PutCryptoBuffer on the returned
// ciphertext once it has been written to the wire.
func (a *AEAD) SealPooled(plaintext, additionalData []byte) (nonceCounter uint64, ciphertext []byte, err error) {
	nonce, counter, err := a.nextNoncePooled()
	if err != nil {
		return 0, nil, err
	}
	defer PutNonceBuffer(nonce)

	ciphertext = GetCryptoBuffer(len(plaintext) + a.cipher.Overhead())
	a.cipher.Seal(ciphertext[:0], nonce, plaintext, additionalData)

	return counter, ciphertext, nil
}

// nextNoncePooled generates the next nonce using a pooled buffer.
func (a *AEAD) nextNoncePooled() ([]byte, uint64, error) {
	a.mu.Lock()
	defer a.mu.Unlock()

	if a.counter == math.MaxUint64 {
		return nil, 0, qerrors.ErrNonceExhausted
	}

	counter := a.counter
	a.counter++

	nonce := GetNonceBuffer()
	nonce[4] = byte(counter >> 56)
	nonce[5] = byte(counter >> 48)
	nonce[6] = byte(counter >> 40)
	nonce[7] = byte(counter >> 32)
	nonce[8] = byte(counter >> 24)
	nonce[9] = byte(counter >> 16)
	nonce[10] = byte(counter >> 8)
	nonce[11] = byte(counter)

	return nonce, counter, nil
}
