// Package ptls implements the PTLS ("Protocol-TLS") handshake and record
// layer: a reduced TLS-1.3-like secure channel used over a point-to-point
// BLE link, with ephemeral ECDH key agreement, certificate-based mutual
// ECDSA-P256 authentication, a transcript hash accumulated across
// handshake payloads, an HMAC-SHA256 key schedule, and AES-GCM-128 record
// encryption with counter-derived nonces.
package ptls

import (
	"crypto/ecdh"
	"crypto/ecdsa"
	"log/slog"
	"sync"

	"github.com/smartlock-go/ptlslock/internal/cryptoutil"
	"github.com/smartlock-go/ptlslock/internal/transport"
)

// Identity is the long-term device identity used to authenticate a
// session: the mobile's own ECDSA-P256 private key, its cloud-issued
// certificate, and the lock's long-term ECDSA-P256 public key used to
// verify the device's server-verify signature.
type Identity struct {
	PrivateKey  *ecdsa.PrivateKey
	Certificate []byte
	DevicePub   *ecdsa.PublicKey
}

// Session is a single PTLS connection's cryptographic state. It is the
// sole holder of handshake scratch and, once established, of the
// send/receive keys, IVs, and counters. A dedicated mutex serializes the
// receive (decrypt) path, since the command-response reader and the
// notification reader share one GCM receive counter.
type Session struct {
	transport transport.Transport
	identity  Identity
	log       *slog.Logger

	state State

	// Handshake scratch.
	transcript   []byte
	ephemeral    *ecdh.PrivateKey
	serverMTU    int
	clientRandom []byte // 35 bytes: header(3) + random(32)
	clientEphPub []byte // 65 bytes
	encRandom    []byte // 48 zero bytes (resumption material, unused)
	sessionCache []byte // 4 zero bytes (session-id cache, unused)
	serverRandom []byte // 35 bytes
	serverEphPub []byte // 65 bytes
	serverAuth   []byte
	serverSig    []byte
	helloHash    []byte
	sharedSecret []byte

	// Established state.
	sessionID   []byte
	sendKey     []byte
	sendIV      []byte
	recvKey     []byte
	recvIV      []byte
	sendCounter uint64
	recvCounter uint64

	recvMu sync.Mutex
}

// New creates a Session bound to transport t and the given long-term
// identity. Handshake must be called before any record-layer operation.
func New(t transport.Transport, identity Identity, log *slog.Logger) *Session {
	if log == nil {
		log = slog.Default()
	}
	return &Session{
		transport: t,
		identity:  identity,
		log:       log.With("component", "ptls"),
		state:     Init,
	}
}

// State returns the session's current position in the handshake/record
// state machine.
func (s *Session) State() State { return s.state }

// IsEstablished reports whether the record layer is ready for use.
func (s *Session) IsEstablished() bool { return s.state == Established }

// SessionID returns the 4-byte session identifier assigned by the device
// at the end of the handshake. Empty before establishment.
func (s *Session) SessionID() []byte { return s.sessionID }

func (s *Session) transcriptUpdate(data []byte) {
	s.transcript = append(s.transcript, data...)
}

// transcriptSnapshot returns the SHA-256 digest of the transcript
// accumulated so far without consuming or otherwise mutating it — the Go
// equivalent of the reference implementation's running-hash ".copy()".
func (s *Session) transcriptSnapshot() []byte {
	return cryptoutil.SHA256(s.transcript)
}

func (s *Session) fail(state State) { s.state = state }
