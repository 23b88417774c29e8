package crypto_test

import (
	"bytes"
	"testing"

	"github.com/corvidnet/reliant/internal/constants"
	"github.com/corvidnet/reliant/pkg/crypto"
)

// --- Random Tests ---

func TestSecureRandom(t *testing.T) {
	buf := make([]byte, 32)
	if err := crypto.SecureRandom(buf); err != nil {
		t.Fatalf("SecureRandom failed: %v", err)
	}

	allZeros := true
	for _, b := range buf {
		if b != 0 {
			allZeros = false
			break
		}
	}
	if allZeros {
		t.Error("SecureRandom returned all zeros")
	}
}

func TestSecureRandomBytes(t *testing.T) {
	sizes := []int{16, 32, 64, 128}
	for _, size := range sizes {
		buf, err := crypto.SecureRandomBytes(size)
		if err != nil {
			t.Fatalf("SecureRandomBytes(%d) failed: %v", size, err)
		}
		if len(buf) != size {
			t.Errorf("SecureRandomBytes(%d) returned %d bytes", size, len(buf))
		}
	}
}

func TestConstantTimeCompare(t *testing.T) {
	a := []byte("hello world")
	b := []byte("hello world")
	c := []byte("hello worle")
	d := []byte("hello")

	if !crypto.ConstantTimeCompare(a, b) {
		t.Error("Equal slices should compare equal")
	}
	if crypto.ConstantTimeCompare(a, c) {
		t.Error("Different slices should not compare equal")
	}
	if crypto.ConstantTimeCompare(a, d) {
		t.Error("Different length slices should not compare equal")
	}
}

func TestZeroize(t *testing.T) {
	buf := []byte{1, 2, 3, 4, 5}
	crypto.Zeroize(buf)

	for i, b := range buf {
		if b != 0 {
			t.Errorf("Zeroize failed at index %d: got %d, want 0", i, b)
		}
	}
}

func TestMustSecureRandom(t *testing.T) {
	buf := make([]byte, 32)
	crypto.MustSecureRandom(buf)

	allZeros := true
	for _, b := range buf {
		if b != 0 {
			allZeros = false
			break
		}
	}
	if allZeros {
		t.Error("MustSecureRandom returned all zeros")
	}
}

func TestMustSecureRandomBytes(t *testing.T) {
	buf := crypto.MustSecureRandomBytes(32)

	if len(buf) != 32 {
		t.Errorf("MustSecureRandomBytes returned %d bytes, want 32", len(buf))
	}

	allZeros := true
	for _, b := range buf {
		if b != 0 {
			allZeros = false
			break
		}
	}
	if allZeros {
		t.Error("MustSecureRandomBytes returned all zeros")
	}
}

// --- X25519 Tests ---

func TestX25519KeyGeneration(t *testing.T) {
	kp, err := crypto.GenerateX25519KeyPair()
	if err != nil {
		t.Fatalf("GenerateX25519KeyPair failed: %v", err)
	}

	if len(kp.PublicKeyBytes()) != constants.X25519PublicKeySize {
		t.Errorf("Public key size: got %d, want %d", len(kp.PublicKeyBytes()), constants.X25519PublicKeySize)
	}

	if len(kp.PrivateKeyBytes()) != constants.X25519PrivateKeySize {
		t.Errorf("Private key size: got %d, want %d", len(kp.PrivateKeyBytes()), constants.X25519PrivateKeySize)
	}
}

func TestX25519KeyExchange(t *testing.T) {
	alice, err := crypto.GenerateX25519KeyPair()
	if err != nil {
		t.Fatalf("GenerateX25519KeyPair failed for Alice: %v", err)
	}

	bob, err := crypto.GenerateX25519KeyPair()
	if err != nil {
		t.Fatalf("GenerateX25519KeyPair failed for Bob: %v", err)
	}

	secretAlice, err := crypto.X25519(alice.PrivateKey, bob.PublicKey)
	if err != nil {
		t.Fatalf("X25519 failed for Alice: %v", err)
	}

	secretBob, err := crypto.X25519(bob.PrivateKey, alice.PublicKey)
	if err != nil {
		t.Fatalf("X25519 failed for Bob: %v", err)
	}

	if !bytes.Equal(secretAlice, secretBob) {
		t.Error("X25519 shared secrets do not match")
	}

	if len(secretAlice) != constants.X25519SharedSecretSize {
		t.Errorf("Shared secret size: got %d, want %d", len(secretAlice), constants.X25519SharedSecretSize)
	}
}

func TestX25519ParsePublicKey(t *testing.T) {
	kp, err := crypto.GenerateX25519KeyPair()
	if err != nil {
		t.Fatalf("GenerateX25519KeyPair failed: %v", err)
	}

	parsed, err := crypto.ParseX25519PublicKey(kp.PublicKeyBytes())
	if err != nil {
		t.Fatalf("ParseX25519PublicKey failed: %v", err)
	}

	if !bytes.Equal(parsed.Bytes(), kp.PublicKeyBytes()) {
		t.Error("Parsed public key does not match original")
	}

	_, err = crypto.ParseX25519PublicKey([]byte("short"))
	if err == nil {
		t.Error("Expected error for invalid public key size")
	}
}

func TestX25519KeyPairFromBytes(t *testing.T) {
	original, err := crypto.GenerateX25519KeyPair()
	if err != nil {
		t.Fatalf("GenerateX25519KeyPair failed: %v", err)
	}

	kp, err := crypto.NewX25519KeyPairFromBytes(original.PrivateKeyBytes())
	if err != nil {
		t.Fatalf("NewX25519KeyPairFromBytes failed: %v", err)
	}

	if !bytes.Equal(kp.PublicKeyBytes(), original.PublicKeyBytes()) {
		t.Error("Key pair from bytes should have same public key")
	}

	_, err = crypto.NewX25519KeyPairFromBytes([]byte("short"))
	if err == nil {
		t.Error("Expected error for invalid private key size")
	}
}

func TestX25519Zeroize(t *testing.T) {
	kp, err := crypto.GenerateX25519KeyPair()
	if err != nil {
		t.Fatalf("GenerateX25519KeyPair failed: %v", err)
	}

	kp.Zeroize()

	if kp.PublicKey != nil {
		t.Error("PublicKey should be nil after Zeroize")
	}
	if kp.PrivateKey != nil {
		t.Error("PrivateKey should be nil after Zeroize")
	}
}

func TestX25519NilKeys(t *testing.T) {
	_, err := crypto.X25519(nil, nil)
	if err == nil {
		t.Error("Expected error for nil private key")
	}

	kp, _ := crypto.GenerateX25519KeyPair()
	_, err = crypto.X25519(kp.PrivateKey, nil)
	if err == nil {
		t.Error("Expected error for nil public key")
	}
}

// --- Identity (Ed25519) Tests ---

func TestIdentityKeyGeneration(t *testing.T) {
	kp, err := crypto.GenerateIdentityKeyPair()
	if err != nil {
		t.Fatalf("GenerateIdentityKeyPair failed: %v", err)
	}

	if len(kp.PublicKey) != constants.Ed25519PublicKeySize {
		t.Errorf("Public key size: got %d, want %d", len(kp.PublicKey), constants.Ed25519PublicKeySize)
	}
	if len(kp.PrivateKey) != constants.Ed25519PrivateKeySize {
		t.Errorf("Private key size: got %d, want %d", len(kp.PrivateKey), constants.Ed25519PrivateKeySize)
	}
}

func TestIdentitySignAndVerify(t *testing.T) {
	kp, err := crypto.GenerateIdentityKeyPair()
	if err != nil {
		t.Fatalf("GenerateIdentityKeyPair failed: %v", err)
	}

	clientRandom := crypto.MustSecureRandomBytes(constants.HandshakeRandomSize)
	serverRandom := crypto.MustSecureRandomBytes(constants.HandshakeRandomSize)
	clientEphemeral := crypto.MustSecureRandomBytes(constants.X25519PublicKeySize)
	serverEphemeral := crypto.MustSecureRandomBytes(constants.X25519PublicKeySize)
	sessionID := crypto.MustSecureRandomBytes(constants.SessionIDSize)

	sig := crypto.SignServerHello(kp.PrivateKey, clientRandom, serverRandom, clientEphemeral, serverEphemeral, sessionID)
	if len(sig) != constants.Ed25519SignatureSize {
		t.Errorf("Signature size: got %d, want %d", len(sig), constants.Ed25519SignatureSize)
	}

	if err := crypto.VerifyServerHello(kp.PublicKey, clientRandom, serverRandom, clientEphemeral, serverEphemeral, sessionID, sig); err != nil {
		t.Errorf("VerifyServerHello failed on a valid signature: %v", err)
	}

	// Tampered transcript field should not verify.
	tampered := append([]byte(nil), sessionID...)
	tampered[0] ^= 0xFF
	if err := crypto.VerifyServerHello(kp.PublicKey, clientRandom, serverRandom, clientEphemeral, serverEphemeral, tampered, sig); err == nil {
		t.Error("Expected verification failure for tampered SessionId")
	}

	// Wrong key should not verify.
	other, err := crypto.GenerateIdentityKeyPair()
	if err != nil {
		t.Fatalf("GenerateIdentityKeyPair failed: %v", err)
	}
	if err := crypto.VerifyServerHello(other.PublicKey, clientRandom, serverRandom, clientEphemeral, serverEphemeral, sessionID, sig); err == nil {
		t.Error("Expected verification failure for wrong public key")
	}
}

func TestIdentityKeyPairFromSeed(t *testing.T) {
	seed := crypto.MustSecureRandomBytes(32)

	kp1, err := crypto.NewIdentityKeyPairFromSeed(seed)
	if err != nil {
		t.Fatalf("NewIdentityKeyPairFromSeed failed: %v", err)
	}
	kp2, err := crypto.NewIdentityKeyPairFromSeed(seed)
	if err != nil {
		t.Fatalf("NewIdentityKeyPairFromSeed failed: %v", err)
	}
	if !bytes.Equal(kp1.PublicKey, kp2.PublicKey) {
		t.Error("Same seed should produce same public key")
	}

	_, err = crypto.NewIdentityKeyPairFromSeed([]byte("short"))
	if err == nil {
		t.Error("Expected error for invalid seed size")
	}
}

func TestIdentityParsePublicKey(t *testing.T) {
	kp, err := crypto.GenerateIdentityKeyPair()
	if err != nil {
		t.Fatalf("GenerateIdentityKeyPair failed: %v", err)
	}

	parsed, err := crypto.ParseIdentityPublicKey(kp.PublicKey)
	if err != nil {
		t.Fatalf("ParseIdentityPublicKey failed: %v", err)
	}
	if !bytes.Equal(parsed, kp.PublicKey) {
		t.Error("Parsed public key does not match original")
	}

	_, err = crypto.ParseIdentityPublicKey([]byte("short"))
	if err == nil {
		t.Error("Expected error for invalid public key size")
	}
}

func TestIdentityZeroize(t *testing.T) {
	kp, err := crypto.GenerateIdentityKeyPair()
	if err != nil {
		t.Fatalf("GenerateIdentityKeyPair failed: %v", err)
	}

	kp.Zeroize()

	if kp.PublicKey != nil {
		t.Error("PublicKey should be nil after Zeroize")
	}
	if kp.PrivateKey != nil {
		t.Error("PrivateKey should be nil after Zeroize")
	}
}

// --- KDF Tests ---

func TestDeriveKey(t *testing.T) {
	domain := "test-domain"
	input := []byte("test input data")

	key1, err := crypto.DeriveKey(domain, input, 32)
	if err != nil {
		t.Fatalf("DeriveKey failed: %v", err)
	}
	if len(key1) != 32 {
		t.Errorf("Derived key size: got %d, want 32", len(key1))
	}

	key2, err := crypto.DeriveKey(domain, input, 32)
	if err != nil {
		t.Fatalf("DeriveKey failed: %v", err)
	}
	if !bytes.Equal(key1, key2) {
		t.Error("DeriveKey not deterministic")
	}

	key3, err := crypto.DeriveKey("different-domain", input, 32)
	if err != nil {
		t.Fatalf("DeriveKey failed: %v", err)
	}
	if bytes.Equal(key1, key3) {
		t.Error("Different domains should produce different keys")
	}
}

func TestDeriveKeyMultiple(t *testing.T) {
	domain := "test-domain"
	inputs := [][]byte{
		[]byte("input1"),
		[]byte("input2"),
		[]byte("input3"),
	}

	key, err := crypto.DeriveKeyMultiple(domain, inputs, 32)
	if err != nil {
		t.Fatalf("DeriveKeyMultiple failed: %v", err)
	}
	if len(key) != 32 {
		t.Errorf("Derived key size: got %d, want 32", len(key))
	}
}

func TestTranscriptHash(t *testing.T) {
	components := [][]byte{
		[]byte("component1"),
		[]byte("component2"),
		[]byte("component3"),
	}

	hash := crypto.TranscriptHash(components...)
	if len(hash) != 32 {
		t.Errorf("Transcript hash size: got %d, want 32", len(hash))
	}

	hash2 := crypto.TranscriptHash(components...)
	if !bytes.Equal(hash, hash2) {
		t.Error("TranscriptHash not deterministic")
	}
}

func TestDeriveHandshakeSecret(t *testing.T) {
	ecdhSecret := crypto.MustSecureRandomBytes(constants.X25519SharedSecretSize)
	clientRandom := crypto.MustSecureRandomBytes(constants.HandshakeRandomSize)
	serverRandom := crypto.MustSecureRandomBytes(constants.HandshakeRandomSize)

	secret, err := crypto.DeriveHandshakeSecret(ecdhSecret, clientRandom, serverRandom)
	if err != nil {
		t.Fatalf("DeriveHandshakeSecret failed: %v", err)
	}
	if len(secret) != constants.KDFOutputSize {
		t.Errorf("Handshake secret size: got %d, want %d", len(secret), constants.KDFOutputSize)
	}

	// Swapping randoms must change the derived secret.
	swapped, err := crypto.DeriveHandshakeSecret(ecdhSecret, serverRandom, clientRandom)
	if err != nil {
		t.Fatalf("DeriveHandshakeSecret failed: %v", err)
	}
	if bytes.Equal(secret, swapped) {
		t.Error("Swapping client/server randoms should change the handshake secret")
	}
}

func TestDeriveHandshakeSecretInvalidSizes(t *testing.T) {
	good := crypto.MustSecureRandomBytes(constants.X25519SharedSecretSize)
	goodRandom := crypto.MustSecureRandomBytes(constants.HandshakeRandomSize)

	if _, err := crypto.DeriveHandshakeSecret([]byte("short"), goodRandom, goodRandom); err == nil {
		t.Error("Expected error for invalid ECDH secret size")
	}
	if _, err := crypto.DeriveHandshakeSecret(good, []byte("short"), goodRandom); err == nil {
		t.Error("Expected error for invalid client random size")
	}
	if _, err := crypto.DeriveHandshakeSecret(good, goodRandom, []byte("short")); err == nil {
		t.Error("Expected error for invalid server random size")
	}
}

func TestDeriveTrafficKeys(t *testing.T) {
	handshakeSecret := crypto.MustSecureRandomBytes(constants.KDFOutputSize)

	clientKey, serverKey, err := crypto.DeriveTrafficKeys(handshakeSecret)
	if err != nil {
		t.Fatalf("DeriveTrafficKeys failed: %v", err)
	}
	if len(clientKey) != constants.AESKeySize {
		t.Errorf("Client key size: got %d, want %d", len(clientKey), constants.AESKeySize)
	}
	if len(serverKey) != constants.AESKeySize {
		t.Errorf("Server key size: got %d, want %d", len(serverKey), constants.AESKeySize)
	}
	if bytes.Equal(clientKey, serverKey) {
		t.Error("Client and server traffic keys must differ")
	}
}

func TestDeriveTrafficKeysInvalidSize(t *testing.T) {
	_, _, err := crypto.DeriveTrafficKeys([]byte("short"))
	if err == nil {
		t.Error("Expected error for invalid handshake secret size")
	}
}

// --- AEAD Tests ---

func TestAEADAES256GCM(t *testing.T) {
	key := make([]byte, 32)
	_ = crypto.SecureRandom(key)

	aead, err := crypto.NewAEAD(constants.CipherSuiteAES256GCM, key)
	if err != nil {
		t.Fatalf("NewAEAD failed: %v", err)
	}

	plaintext := []byte("hello from a reliable session")
	additionalData := []byte("additional data")

	counter, ciphertext, err := aead.Seal(plaintext, additionalData)
	if err != nil {
		t.Fatalf("Seal failed: %v", err)
	}

	decrypted, err := aead.Open(counter, ciphertext, additionalData)
	if err != nil {
		t.Fatalf("Open failed: %v", err)
	}

	if !bytes.Equal(plaintext, decrypted) {
		t.Error("Decrypted plaintext does not match original")
	}
}

func TestAEADChaCha20Poly1305(t *testing.T) {
	key := make([]byte, 32)
	_ = crypto.SecureRandom(key)

	aead, err := crypto.NewAEAD(constants.CipherSuiteChaCha20Poly1305, key)
	if err != nil {
		t.Fatalf("NewAEAD failed: %v", err)
	}

	plaintext := []byte("hello from a reliable session")
	additionalData := []byte("additional data")

	counter, ciphertext, err := aead.Seal(plaintext, additionalData)
	if err != nil {
		t.Fatalf("Seal failed: %v", err)
	}

	decrypted, err := aead.Open(counter, ciphertext, additionalData)
	if err != nil {
		t.Fatalf("Open failed: %v", err)
	}

	if !bytes.Equal(plaintext, decrypted) {
		t.Error("Decrypted plaintext does not match original")
	}
}

func TestAEADTamperedCiphertext(t *testing.T) {
	key := make([]byte, 32)
	_ = crypto.SecureRandom(key)

	aead, err := crypto.NewAEAD(constants.CipherSuiteAES256GCM, key)
	if err != nil {
		t.Fatalf("NewAEAD failed: %v", err)
	}

	plaintext := []byte("hello from a reliable session")
	additionalData := []byte("additional data")

	counter, ciphertext, err := aead.Seal(plaintext, additionalData)
	if err != nil {
		t.Fatalf("Seal failed: %v", err)
	}

	ciphertext[len(ciphertext)-1] ^= 0xFF

	_, err = aead.Open(counter, ciphertext, additionalData)
	if err == nil {
		t.Error("Expected error for tampered ciphertext")
	}
}

func TestAEADWrongAAD(t *testing.T) {
	key := make([]byte, 32)
	_ = crypto.SecureRandom(key)

	aead, err := crypto.NewAEAD(constants.CipherSuiteAES256GCM, key)
	if err != nil {
		t.Fatalf("NewAEAD failed: %v", err)
	}

	plaintext := []byte("hello from a reliable session")
	additionalData := []byte("additional data")
	wrongAAD := []byte("wrong data")

	counter, ciphertext, err := aead.Seal(plaintext, additionalData)
	if err != nil {
		t.Fatalf("Seal failed: %v", err)
	}

	_, err = aead.Open(counter, ciphertext, wrongAAD)
	if err == nil {
		t.Error("Expected error for wrong AAD")
	}
}

func TestAEADWrongNonceCounter(t *testing.T) {
	key := make([]byte, 32)
	_ = crypto.SecureRandom(key)

	aead, err := crypto.NewAEAD(constants.CipherSuiteAES256GCM, key)
	if err != nil {
		t.Fatalf("NewAEAD failed: %v", err)
	}

	plaintext := []byte("hello from a reliable session")
	counter, ciphertext, err := aead.Seal(plaintext, nil)
	if err != nil {
		t.Fatalf("Seal failed: %v", err)
	}

	_, err = aead.Open(counter+1, ciphertext, nil)
	if err == nil {
		t.Error("Expected error when opening with the wrong nonce counter")
	}
}

func TestAEADNonceCounterAdvances(t *testing.T) {
	key := make([]byte, 32)
	_ = crypto.SecureRandom(key)

	aead, err := crypto.NewAEAD(constants.CipherSuiteAES256GCM, key)
	if err != nil {
		t.Fatalf("NewAEAD failed: %v", err)
	}

	if aead.Counter() != 0 {
		t.Errorf("Initial counter: got %d, want 0", aead.Counter())
	}

	for i := 0; i < 10; i++ {
		counter, _, err := aead.Seal([]byte("test"), nil)
		if err != nil {
			t.Fatalf("Seal failed: %v", err)
		}
		if counter != uint64(i) {
			t.Errorf("Seal #%d returned counter %d, want %d", i, counter, i)
		}
	}

	if aead.Counter() != 10 {
		t.Errorf("Counter after 10 encryptions: got %d, want 10", aead.Counter())
	}
}

func TestAEADInvalidKeySize(t *testing.T) {
	invalidKey := make([]byte, 16) // Should be 32

	_, err := crypto.NewAEAD(constants.CipherSuiteAES256GCM, invalidKey)
	if err == nil {
		t.Error("Expected error for invalid key size")
	}
}

func TestAEADSuite(t *testing.T) {
	key := make([]byte, 32)
	_ = crypto.SecureRandom(key)

	aead, err := crypto.NewAEAD(constants.CipherSuiteAES256GCM, key)
	if err != nil {
		t.Fatalf("NewAEAD failed: %v", err)
	}

	if aead.Suite() != constants.CipherSuiteAES256GCM {
		t.Errorf("Suite: got %d, want %d", aead.Suite(), constants.CipherSuiteAES256GCM)
	}

	aead2, err := crypto.NewAEAD(constants.CipherSuiteChaCha20Poly1305, key)
	if err != nil {
		t.Fatalf("NewAEAD failed: %v", err)
	}

	if aead2.Suite() != constants.CipherSuiteChaCha20Poly1305 {
		t.Errorf("Suite: got %d, want %d", aead2.Suite(), constants.CipherSuiteChaCha20Poly1305)
	}
}

func TestAEADOverhead(t *testing.T) {
	key := make([]byte, 32)
	_ = crypto.SecureRandom(key)

	aead, err := crypto.NewAEAD(constants.CipherSuiteAES256GCM, key)
	if err != nil {
		t.Fatalf("NewAEAD failed: %v", err)
	}

	overhead := aead.Overhead()
	if overhead != constants.AESTagSize {
		t.Errorf("Overhead: got %d, want %d", overhead, constants.AESTagSize)
	}
}

func TestAEADUnsupportedCipherSuite(t *testing.T) {
	key := make([]byte, 32)
	_ = crypto.SecureRandom(key)

	_, err := crypto.NewAEAD(constants.CipherSuite(0xFF), key)
	if err == nil {
		t.Error("Expected error for unsupported cipher suite")
	}
}

func TestAEADShortCiphertext(t *testing.T) {
	key := make([]byte, 32)
	_ = crypto.SecureRandom(key)

	aead, err := crypto.NewAEAD(constants.CipherSuiteAES256GCM, key)
	if err != nil {
		t.Fatalf("NewAEAD failed: %v", err)
	}

	_, err = aead.Open(0, []byte("short"), nil)
	if err == nil {
		t.Error("Expected error for short ciphertext")
	}
}
