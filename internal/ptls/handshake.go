package ptls

import (
	"context"
	"crypto/rand"
	"encoding/binary"
	"fmt"
	"time"

	"github.com/smartlock-go/ptlslock/internal/cryptoutil"
)

// DefaultReadTimeout is the per-step handshake read deadline, matching the
// reference implementation's 10-second asyncio.wait_for default.
const DefaultReadTimeout = 10 * time.Second

// handshakeReadTimeout is the deadline applied to each individual handshake read.
// Overridable for tests; defaults to DefaultReadTimeout.
var handshakeReadTimeout = DefaultReadTimeout

// Handshake runs the full six-phase PTLS handshake over the session's
// transport. On success the session transitions to Established and the
// record layer (Encrypt/Decrypt) becomes usable. On an alert frame from
// the device, it returns an *AlertError; any other failure returns a
// *HandshakeError.
func (s *Session) Handshake(ctx context.Context) error {
	s.log.Info("starting ptls handshake")

	helloHash, err := s.helloExchange(ctx)
	if err != nil {
		return err
	}
	s.helloHash = helloHash
	s.state = HelloComplete
	s.log.Debug("hello exchange complete")

	if err := s.serverVerify(ctx, helloHash); err != nil {
		return err
	}
	s.state = ServerVerified
	s.log.Debug("server verification complete")

	if err := s.clientVerify(ctx, helloHash); err != nil {
		return err
	}
	s.state = ClientVerifySent
	s.log.Debug("client verification sent")

	if err := s.waitInitialized(ctx); err != nil {
		return err
	}
	s.state = Established
	s.log.Info("ptls session established", "session_id", fmt.Sprintf("%x", s.sessionID))
	return nil
}

func (s *Session) readFrame(ctx context.Context) ([]byte, error) {
	rctx, cancel := context.WithTimeout(ctx, handshakeReadTimeout)
	defer cancel()
	return s.transport.ReadHandshake(rctx)
}

func (s *Session) writeFrame(ctx context.Context, payload []byte) error {
	wctx, cancel := context.WithTimeout(ctx, handshakeReadTimeout)
	defer cancel()
	return s.transport.WriteHandshake(wctx, payload)
}

// asAlert parses an alert frame and closes the session: any alert from
// the device ends the handshake for good, never just the current step.
func (s *Session) asAlert(frame []byte) error {
	code := AlertCode(0xFF)
	if len(frame) > 1 {
		code = AlertCode(frame[1])
	}
	s.fail(Closed)
	return &AlertError{Code: code}
}

func (s *Session) helloExchange(ctx context.Context) ([]byte, error) {
	ephemeral, err := cryptoutil.GenerateEphemeralECDH()
	if err != nil {
		return nil, newHandshakeError("hello: generate ephemeral key", err)
	}
	s.ephemeral = ephemeral
	ephPub := cryptoutil.ECDHPublicKeyBytes(ephemeral)

	mtu := s.transport.MTU()
	if mtu > 255 {
		mtu = 255
	}
	randomData := make([]byte, 32)
	if _, err := rand.Read(randomData); err != nil {
		return nil, newHandshakeError("hello: generate random", err)
	}

	payload := make([]byte, 0, 152)
	payload = append(payload, ptlsVersion, byte(mtu), 0x00)
	payload = append(payload, randomData...)
	payload = append(payload, ephPub...)
	payload = append(payload, make([]byte, 48)...) // encrypted_random, always zero
	payload = append(payload, make([]byte, 4)...)  // session_id_cache, always zero
	if len(payload) != 152 {
		return nil, newHandshakeError("hello: build payload", fmt.Errorf("expected 152 bytes, got %d", len(payload)))
	}

	s.clientRandom = payload[0:35]
	s.clientEphPub = ephPub
	s.encRandom = payload[100:148]
	s.sessionCache = payload[148:152]

	s.transcriptUpdate(payload)

	frame := append([]byte{msgHello}, payload...)
	if err := s.writeFrame(ctx, frame); err != nil {
		return nil, newHandshakeError("hello: write", err)
	}
	s.state = HelloSent

	response, err := s.readFrame(ctx)
	if err != nil {
		return nil, newHandshakeError("hello: read server hello", err)
	}
	if len(response) == 0 {
		return nil, newHandshakeError("hello", fmt.Errorf("empty server hello frame"))
	}
	header := headerNibble(response[0])
	if header == msgAlert {
		return nil, s.asAlert(response)
	}
	if header != msgHello {
		return nil, newHandshakeError("hello", fmt.Errorf("expected server hello (0x03), got 0x%02x", header))
	}

	serverPayload := response[1:]
	if len(serverPayload) < 100 {
		return nil, newHandshakeError("hello", fmt.Errorf("server hello too short: %d bytes", len(serverPayload)))
	}
	serverMTU := int(serverPayload[1])
	serverEphPub := serverPayload[35:100]

	s.serverMTU = serverMTU
	s.serverRandom = serverPayload[0:35]
	s.serverEphPub = serverEphPub

	s.transcriptUpdate(serverPayload)
	helloHash := s.transcriptSnapshot()

	sharedSecret, err := cryptoutil.ECDHSharedSecret(s.ephemeral, serverEphPub)
	if err != nil {
		return nil, newHandshakeError("hello: ecdh", err)
	}
	s.sharedSecret = sharedSecret

	return helloHash, nil
}

func (s *Session) serverVerify(ctx context.Context, helloHash []byte) error {
	authData := make([]byte, 8)
	binary.BigEndian.PutUint64(authData, uint64(time.Now().UnixMilli()))

	if err := s.writeFrame(ctx, append([]byte{msgServerVerify}, authData...)); err != nil {
		return newHandshakeError("server-verify: write challenge", err)
	}

	srvKey, srvIV := cryptoutil.DeriveKeys(s.sharedSecret, "ptlss hs traffic", helloHash)

	response, err := s.readFrame(ctx)
	if err != nil {
		return newHandshakeError("server-verify: read", err)
	}
	if len(response) == 0 {
		return newHandshakeError("server-verify", fmt.Errorf("empty response"))
	}
	header := headerNibble(response[0])
	if header == msgAlert {
		return s.asAlert(response)
	}
	if header != msgServerVerify {
		return newHandshakeError("server-verify", fmt.Errorf("expected 0x05, got 0x%02x", header))
	}

	nonce := cryptoutil.MakeNonce(srvIV, 0)
	decrypted, err := cryptoutil.AESGCM128Decrypt(srvKey, nonce, response[1:], nil)
	if err != nil {
		return newHandshakeError("server-verify: decrypt", err)
	}

	recvAuth, pos, err := readLP(decrypted, 0)
	if err != nil {
		return newHandshakeError("server-verify: parse auth_data", err)
	}
	serverSig, pos, err := readLP(decrypted, pos)
	if err != nil {
		return newHandshakeError("server-verify: parse signature", err)
	}
	recvHelloHash, _, err := readLP(decrypted, pos)
	if err != nil {
		return newHandshakeError("server-verify: parse hello_hash", err)
	}

	s.serverAuth = recvAuth
	s.serverSig = serverSig

	if !bytesEqual(recvAuth, authData) {
		return newHandshakeError("server-verify", fmt.Errorf("auth_data mismatch"))
	}
	if !bytesEqual(recvHelloHash, helloHash) {
		return newHandshakeError("server-verify", fmt.Errorf("hello_hash mismatch"))
	}

	sigTranscript := append(append([]byte{}, s.transcript...), appendLP(nil, recvAuth)...)
	sigDigest := cryptoutil.SHA256(sigTranscript)
	if !cryptoutil.ECDSAVerifyPrehashed(s.identity.DevicePub, serverSig, sigDigest) {
		return newHandshakeError("server-verify", fmt.Errorf("server signature verification failed"))
	}

	s.transcriptUpdate(decrypted)
	return nil
}

func (s *Session) clientVerify(ctx context.Context, helloHash []byte) error {
	helloVerifyHash := s.transcriptSnapshot()

	signData := make([]byte, 0, 256+len(s.identity.Certificate))
	signData = append(signData, s.clientRandom...)
	signData = append(signData, s.clientEphPub...)
	signData = append(signData, s.encRandom...)
	signData = append(signData, s.sessionCache...)
	signData = append(signData, s.serverRandom...)
	signData = append(signData, s.serverEphPub...)
	signData = appendLP(signData, s.serverAuth)
	signData = appendLP(signData, s.serverSig)
	signData = appendLP(signData, helloHash)
	signData = appendLP(signData, s.identity.Certificate)

	signature, err := cryptoutil.ECDSASign(s.identity.PrivateKey, signData)
	if err != nil {
		return newHandshakeError("client-verify: sign", err)
	}

	payload := appendLP(nil, s.identity.Certificate)
	payload = appendLP(payload, signature)
	payload = appendLP(payload, helloVerifyHash)

	s.transcriptUpdate(payload)

	cliKey, cliIV := cryptoutil.DeriveKeys(s.sharedSecret, "ptlsc hs traffic", helloHash)
	nonce := cryptoutil.MakeNonce(cliIV, 0)
	encrypted, err := cryptoutil.AESGCM128Encrypt(cliKey, nonce, payload, nil)
	if err != nil {
		return newHandshakeError("client-verify: encrypt", err)
	}

	mtu := s.serverMTU - 1
	if mtu <= 0 {
		return newHandshakeError("client-verify", fmt.Errorf("invalid server mtu %d", s.serverMTU))
	}

	if len(encrypted) <= mtu {
		if err := s.writeFrame(ctx, append([]byte{msgClientVerifyI}, encrypted...)); err != nil {
			return newHandshakeError("client-verify: write part 1", err)
		}
		if err := s.writeFrame(ctx, []byte{msgClientVerifyII}); err != nil {
			return newHandshakeError("client-verify: write part 2", err)
		}
		return nil
	}

	part1 := append([]byte{msgClientVerifyI}, encrypted[:mtu]...)
	part2 := append([]byte{msgClientVerifyII}, encrypted[mtu:]...)
	if err := s.writeFrame(ctx, part1); err != nil {
		return newHandshakeError("client-verify: write part 1", err)
	}
	if err := s.writeFrame(ctx, part2); err != nil {
		return newHandshakeError("client-verify: write part 2", err)
	}
	return nil
}

func (s *Session) waitInitialized(ctx context.Context) error {
	response, err := s.readFrame(ctx)
	if err != nil {
		return newHandshakeError("initialized: read", err)
	}
	if len(response) == 0 {
		return newHandshakeError("initialized", fmt.Errorf("empty response"))
	}
	header := headerNibble(response[0])
	if header == msgAlert {
		return s.asAlert(response)
	}
	if header != msgInitialized {
		return newHandshakeError("initialized", fmt.Errorf("expected 0x08, got 0x%02x", header))
	}
	if len(response) < 5 {
		return newHandshakeError("initialized", fmt.Errorf("session id frame too short"))
	}
	s.sessionID = append([]byte{}, response[1:5]...)

	finishedHash := s.transcriptSnapshot()
	s.sendKey, s.sendIV = cryptoutil.DeriveKeys(s.sharedSecret, "ptlsc ap traffic", finishedHash)
	s.recvKey, s.recvIV = cryptoutil.DeriveKeys(s.sharedSecret, "ptlss ap traffic", finishedHash)
	s.sendCounter = 0
	s.recvCounter = 0
	s.sharedSecret = nil

	return nil
}

func bytesEqual(a, b []byte) bool {
	if len(a) != len(b) {
		return false
	}
	for i := range a {
		if a[i] != b[i] {
			return false
		}
	}
	return true
}
