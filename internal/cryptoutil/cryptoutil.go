// Package cryptoutil provides the pure cryptographic primitives the PTLS
// handshake and record layer are built from: P-256 ECDH and ECDSA,
// AES-GCM-128 sealing, and the HMAC-SHA256 based key derivation PTLS uses
// in place of full TLS 1.3 HKDF.
package cryptoutil

import (
	"crypto/aes"
	"crypto/cipher"
	"crypto/ecdh"
	"crypto/ecdsa"
	"crypto/elliptic"
	"crypto/hmac"
	"crypto/rand"
	"crypto/sha256"
	"errors"
	"fmt"
)

// KeyPair is an ECDSA P-256 long-term or ephemeral identity.
type KeyPair struct {
	Private *ecdsa.PrivateKey
}

// PublicKeyBytes is a 65-byte uncompressed SEC1 point (0x04 || X || Y).
type PublicKeyBytes [65]byte

// GenerateECDSAP256 creates a new ECDSA P-256 key pair.
func GenerateECDSAP256() (*KeyPair, error) {
	priv, err := ecdsa.GenerateKey(elliptic.P256(), rand.Reader)
	if err != nil {
		return nil, fmt.Errorf("generate ecdsa p256 key: %w", err)
	}
	return &KeyPair{Private: priv}, nil
}

// PublicKeyToBytes encodes a P-256 public key as a 65-byte uncompressed point.
func PublicKeyToBytes(pub *ecdsa.PublicKey) []byte {
	return elliptic.Marshal(elliptic.P256(), pub.X, pub.Y)
}

// BytesToPublicKey decodes a 65-byte uncompressed SEC1 point into a P-256
// public key.
func BytesToPublicKey(data []byte) (*ecdsa.PublicKey, error) {
	curve := elliptic.P256()
	x, y := elliptic.Unmarshal(curve, data)
	if x == nil {
		return nil, errors.New("cryptoutil: invalid uncompressed P-256 point")
	}
	return &ecdsa.PublicKey{Curve: curve, X: x, Y: y}, nil
}

// GenerateEphemeralECDH creates a fresh ephemeral P-256 ECDH key pair for a
// single handshake.
func GenerateEphemeralECDH() (*ecdh.PrivateKey, error) {
	priv, err := ecdh.P256().GenerateKey(rand.Reader)
	if err != nil {
		return nil, fmt.Errorf("generate ephemeral ecdh key: %w", err)
	}
	return priv, nil
}

// ECDHSharedSecret computes the raw X-coordinate shared secret between a
// local ephemeral private key and a peer's 65-byte uncompressed public
// point, exactly mirroring the vendor's "X coordinate only" convention.
func ECDHSharedSecret(priv *ecdh.PrivateKey, peerPublic []byte) ([]byte, error) {
	peerKey, err := ecdh.P256().NewPublicKey(peerPublic)
	if err != nil {
		return nil, fmt.Errorf("parse peer ecdh public key: %w", err)
	}
	secret, err := priv.ECDH(peerKey)
	if err != nil {
		return nil, fmt.Errorf("ecdh exchange: %w", err)
	}
	return secret, nil
}

// ECDHPublicKeyBytes returns the 65-byte uncompressed point for an ECDH
// public key.
func ECDHPublicKeyBytes(priv *ecdh.PrivateKey) []byte {
	return priv.PublicKey().Bytes()
}

// ECDSASign signs msg with ECDSA P-256 over SHA-256, returning a DER
// (ASN.1) encoded signature.
func ECDSASign(priv *ecdsa.PrivateKey, msg []byte) ([]byte, error) {
	digest := sha256.Sum256(msg)
	sig, err := ecdsa.SignASN1(rand.Reader, priv, digest[:])
	if err != nil {
		return nil, fmt.Errorf("ecdsa sign: %w", err)
	}
	return sig, nil
}

// ECDSAVerify verifies a DER signature over SHA-256(msg).
func ECDSAVerify(pub *ecdsa.PublicKey, sig, msg []byte) bool {
	digest := sha256.Sum256(msg)
	return ecdsa.VerifyASN1(pub, digest[:], sig)
}

// ECDSAVerifyPrehashed verifies a DER signature over an already-computed
// 32-byte digest. The device's server-verify signature is produced over a
// transcript digest rather than raw bytes, so this is the primitive the
// handshake actually calls.
func ECDSAVerifyPrehashed(pub *ecdsa.PublicKey, sig, digest []byte) bool {
	return ecdsa.VerifyASN1(pub, digest, sig)
}

// ECDSASignPrehashed signs an already-computed 32-byte digest directly,
// the counterpart to ECDSAVerifyPrehashed. The client side of this module
// never calls this (it only verifies server signatures); it exists for
// test fixtures that play the device role.
func ECDSASignPrehashed(priv *ecdsa.PrivateKey, digest []byte) ([]byte, error) {
	sig, err := ecdsa.SignASN1(rand.Reader, priv, digest)
	if err != nil {
		return nil, fmt.Errorf("ecdsa sign prehashed: %w", err)
	}
	return sig, nil
}

// AESGCM128Encrypt seals plaintext under a 16-byte key and 12-byte nonce,
// returning ciphertext with a 16-byte tag appended. aad may be nil.
func AESGCM128Encrypt(key, nonce, plaintext, aad []byte) ([]byte, error) {
	gcm, err := newGCM(key)
	if err != nil {
		return nil, err
	}
	if len(nonce) != gcm.NonceSize() {
		return nil, fmt.Errorf("cryptoutil: nonce must be %d bytes, got %d", gcm.NonceSize(), len(nonce))
	}
	return gcm.Seal(nil, nonce, plaintext, aad), nil
}

// AESGCM128Decrypt opens a ciphertext (with trailing 16-byte tag) produced
// by AESGCM128Encrypt.
func AESGCM128Decrypt(key, nonce, ciphertext, aad []byte) ([]byte, error) {
	gcm, err := newGCM(key)
	if err != nil {
		return nil, err
	}
	if len(nonce) != gcm.NonceSize() {
		return nil, fmt.Errorf("cryptoutil: nonce must be %d bytes, got %d", gcm.NonceSize(), len(nonce))
	}
	plaintext, err := gcm.Open(nil, nonce, ciphertext, aad)
	if err != nil {
		return nil, fmt.Errorf("aes-gcm open: %w", err)
	}
	return plaintext, nil
}

func newGCM(key []byte) (cipher.AEAD, error) {
	if len(key) != 16 {
		return nil, fmt.Errorf("cryptoutil: key must be 16 bytes, got %d", len(key))
	}
	block, err := aes.NewCipher(key)
	if err != nil {
		return nil, fmt.Errorf("new aes cipher: %w", err)
	}
	gcm, err := cipher.NewGCM(block)
	if err != nil {
		return nil, fmt.Errorf("new gcm: %w", err)
	}
	return gcm, nil
}

// DeriveKeys computes the PTLS key schedule: the first 16 bytes of
// HMAC-SHA256(sharedSecret, label || transcriptHash) become the AES-GCM-128
// key, the next 12 bytes the IV base. This is a deliberate simplification
// of the TLS 1.3 HKDF schedule; see the handshake labels in package ptls.
func DeriveKeys(sharedSecret []byte, label string, transcriptHash []byte) (key, iv []byte) {
	mac := hmac.New(sha256.New, sharedSecret)
	mac.Write([]byte(label))
	mac.Write(transcriptHash)
	material := mac.Sum(nil)
	return material[:16], material[16:28]
}

// MakeNonce builds a 12-byte AES-GCM nonce by XORing a 16-bit big-endian
// counter into bytes [10] and [11] of baseIV. Counters above 2^16 are
// outside the protocol's valid range for a single session.
func MakeNonce(baseIV []byte, counter uint64) []byte {
	nonce := make([]byte, len(baseIV))
	copy(nonce, baseIV)
	nonce[10] ^= byte((counter >> 8) & 0xFF)
	nonce[11] ^= byte(counter & 0xFF)
	return nonce
}

// SHA256 hashes data and returns the 32-byte digest.
func SHA256(data []byte) []byte {
	digest := sha256.Sum256(data)
	return digest[:]
}
