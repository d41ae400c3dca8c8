package ptls

import (
	"fmt"

	"github.com/smartlock-go/ptlslock/internal/cryptoutil"
)

// Encrypt seals plaintext for the device under the session's current send
// key/IV/counter and returns the on-wire bytes: a 0x01 header followed by
// the AES-GCM-128 ciphertext and 16-byte tag. The send counter is
// incremented after a successful call.
func (s *Session) Encrypt(plaintext []byte) ([]byte, error) {
	if !s.IsEstablished() {
		return nil, ErrNotEstablished
	}
	nonce := cryptoutil.MakeNonce(s.sendIV, s.sendCounter)
	ciphertext, err := cryptoutil.AESGCM128Encrypt(s.sendKey, nonce, plaintext, nil)
	if err != nil {
		return nil, fmt.Errorf("ptls: encrypt: %w", err)
	}
	s.log.Debug("encrypt", "counter", s.sendCounter, "plaintext_len", len(plaintext))
	s.sendCounter++
	return append([]byte{recordEncrypted}, ciphertext...), nil
}

// Decrypt processes one record-layer frame from the device: an alert frame
// returns *AlertError; a plaintext frame (header 0x00) returns its body
// unchanged; an encrypted frame (header 0x01) is opened under the
// session's receive key/IV/counter, which is incremented after success.
// An alert or an encrypted frame that fails authentication moves the
// session to Closed.
//
// Decrypt is called from two logical sites — the command-response reader
// and the notification reader — which is why it is internally serialized:
// the receive counter must advance in exactly the order bytes arrived on
// the wire, regardless of which goroutine observes them first.
func (s *Session) Decrypt(wire []byte) ([]byte, error) {
	if !s.IsEstablished() {
		return nil, ErrNotEstablished
	}
	if len(wire) == 0 {
		return nil, fmt.Errorf("ptls: decrypt: empty frame")
	}

	s.recvMu.Lock()
	defer s.recvMu.Unlock()

	header := headerNibble(wire[0])
	switch header {
	case msgAlert:
		code := AlertCode(0xFF)
		if len(wire) > 1 {
			code = AlertCode(wire[1])
		}
		s.fail(Closed)
		return nil, &AlertError{Code: code}
	case recordPlaintext:
		return wire[1:], nil
	case recordEncrypted:
		nonce := cryptoutil.MakeNonce(s.recvIV, s.recvCounter)
		s.log.Debug("decrypt", "counter", s.recvCounter, "ciphertext_len", len(wire)-1)
		plaintext, err := cryptoutil.AESGCM128Decrypt(s.recvKey, nonce, wire[1:], nil)
		if err != nil {
			s.fail(Closed)
			return nil, fmt.Errorf("ptls: decrypt: %w", err)
		}
		s.recvCounter++
		return plaintext, nil
	default:
		return nil, fmt.Errorf("ptls: decrypt: unexpected header 0x%02x", wire[0])
	}
}
