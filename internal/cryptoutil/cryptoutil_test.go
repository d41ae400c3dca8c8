package cryptoutil

import (
	"bytes"
	"testing"
)

func TestPublicKeyRoundTrip(t *testing.T) {
	kp, err := GenerateECDSAP256()
	if err != nil {
		t.Fatalf("GenerateECDSAP256: %v", err)
	}
	encoded := PublicKeyToBytes(&kp.Private.PublicKey)
	if len(encoded) != 65 {
		t.Fatalf("expected 65-byte uncompressed point, got %d", len(encoded))
	}
	decoded, err := BytesToPublicKey(encoded)
	if err != nil {
		t.Fatalf("BytesToPublicKey: %v", err)
	}
	if decoded.X.Cmp(kp.Private.PublicKey.X) != 0 || decoded.Y.Cmp(kp.Private.PublicKey.Y) != 0 {
		t.Fatal("round-tripped public key does not match original")
	}
}

func TestECDHSharedSecretAgrees(t *testing.T) {
	a, err := GenerateEphemeralECDH()
	if err != nil {
		t.Fatalf("GenerateEphemeralECDH: %v", err)
	}
	b, err := GenerateEphemeralECDH()
	if err != nil {
		t.Fatalf("GenerateEphemeralECDH: %v", err)
	}
	secretFromA, err := ECDHSharedSecret(a, ECDHPublicKeyBytes(b))
	if err != nil {
		t.Fatalf("ECDHSharedSecret (a): %v", err)
	}
	secretFromB, err := ECDHSharedSecret(b, ECDHPublicKeyBytes(a))
	if err != nil {
		t.Fatalf("ECDHSharedSecret (b): %v", err)
	}
	if !bytes.Equal(secretFromA, secretFromB) {
		t.Fatal("ECDH shared secrets disagree")
	}
}

func TestECDSASignVerify(t *testing.T) {
	kp, err := GenerateECDSAP256()
	if err != nil {
		t.Fatalf("GenerateECDSAP256: %v", err)
	}
	msg := []byte("client verify signature payload")
	sig, err := ECDSASign(kp.Private, msg)
	if err != nil {
		t.Fatalf("ECDSASign: %v", err)
	}
	if !ECDSAVerify(&kp.Private.PublicKey, sig, msg) {
		t.Fatal("expected signature to verify")
	}
	if ECDSAVerify(&kp.Private.PublicKey, sig, []byte("tampered")) {
		t.Fatal("signature verified against tampered message")
	}
}

func TestECDSAVerifyPrehashedMatchesVerify(t *testing.T) {
	kp, err := GenerateECDSAP256()
	if err != nil {
		t.Fatalf("GenerateECDSAP256: %v", err)
	}
	msg := []byte("transcript digest extended by auth data")
	sig, err := ECDSASign(kp.Private, msg)
	if err != nil {
		t.Fatalf("ECDSASign: %v", err)
	}
	digest := SHA256(msg)
	if !ECDSAVerifyPrehashed(&kp.Private.PublicKey, sig, digest) {
		t.Fatal("expected prehashed verify to accept digest of signed message")
	}
}

func TestAESGCM128RoundTrip(t *testing.T) {
	key := bytes.Repeat([]byte{0x11}, 16)
	nonce := bytes.Repeat([]byte{0x22}, 12)
	plaintext := []byte("unlock command payload")

	ciphertext, err := AESGCM128Encrypt(key, nonce, plaintext, nil)
	if err != nil {
		t.Fatalf("AESGCM128Encrypt: %v", err)
	}
	if len(ciphertext) != len(plaintext)+16 {
		t.Fatalf("expected ciphertext len %d, got %d", len(plaintext)+16, len(ciphertext))
	}
	decrypted, err := AESGCM128Decrypt(key, nonce, ciphertext, nil)
	if err != nil {
		t.Fatalf("AESGCM128Decrypt: %v", err)
	}
	if !bytes.Equal(decrypted, plaintext) {
		t.Fatalf("round trip mismatch: got %q want %q", decrypted, plaintext)
	}

	ciphertext[0] ^= 0xFF
	if _, err := AESGCM128Decrypt(key, nonce, ciphertext, nil); err == nil {
		t.Fatal("expected tag mismatch error on tampered ciphertext")
	}
}

func TestDeriveKeysDeterministic(t *testing.T) {
	shared := []byte("shared-secret-material-32-bytes")
	hash := SHA256([]byte("hello transcript"))

	k1, iv1 := DeriveKeys(shared, "ptlss hs traffic", hash)
	k2, iv2 := DeriveKeys(shared, "ptlss hs traffic", hash)
	if !bytes.Equal(k1, k2) || !bytes.Equal(iv1, iv2) {
		t.Fatal("DeriveKeys is not deterministic for identical inputs")
	}
	if len(k1) != 16 {
		t.Fatalf("expected 16-byte key, got %d", len(k1))
	}
	if len(iv1) != 12 {
		t.Fatalf("expected 12-byte iv, got %d", len(iv1))
	}

	kOther, ivOther := DeriveKeys(shared, "ptlsc hs traffic", hash)
	if bytes.Equal(k1, kOther) && bytes.Equal(iv1, ivOther) {
		t.Fatal("different labels produced identical key material")
	}
}

func TestMakeNonceOnlyTouchesLastTwoBytes(t *testing.T) {
	base := make([]byte, 12)
	for i := range base {
		base[i] = byte(i + 1)
	}
	counter := uint64(0x1234)
	nonce := MakeNonce(base, counter)

	for i := 0; i < 10; i++ {
		if nonce[i] != base[i] {
			t.Fatalf("byte %d changed: got %x want %x", i, nonce[i], base[i])
		}
	}
	if nonce[10] != base[10]^0x12 {
		t.Fatalf("byte 10: got %x want %x", nonce[10], base[10]^0x12)
	}
	if nonce[11] != base[11]^0x34 {
		t.Fatalf("byte 11: got %x want %x", nonce[11], base[11]^0x34)
	}
}

func TestMakeNonceZeroCounterIsBaseIV(t *testing.T) {
	base := bytes.Repeat([]byte{0xAB}, 12)
	nonce := MakeNonce(base, 0)
	if !bytes.Equal(nonce, base) {
		t.Fatal("counter 0 should leave the base IV unmodified")
	}
}
