package ptls

import (
	"bytes"
	"context"
	"crypto/ecdsa"
	"encoding/binary"
	"log/slog"
	"testing"
	"time"

	"github.com/smartlock-go/ptlslock/internal/cryptoutil"
	"github.com/smartlock-go/ptlslock/internal/transport"
)

// deviceSim plays the lock's side of the handshake and record layer over
// a transport.Loopback peer, so the client-side Session can be exercised
// end to end without a real BLE device.
type deviceSim struct {
	peer        *transport.Loopback
	longTermKey *ecdsa.PrivateKey // matches the Identity.DevicePub the client trusts

	transcript []byte
	shared     []byte
	helloHash  []byte

	sendKey, sendIV []byte // device -> client (client's recvKey/IV)
	recvKey, recvIV []byte // client -> device (client's sendKey/IV)
}

func (d *deviceSim) hash() []byte { return cryptoutil.SHA256(d.transcript) }

func (d *deviceSim) run(t *testing.T, ctx context.Context) {
	t.Helper()

	clientHelloFrame, err := d.peer.ReadHandshake(ctx)
	if err != nil {
		t.Errorf("device: read client hello: %v", err)
		return
	}
	if headerNibble(clientHelloFrame[0]) != msgHello {
		t.Errorf("device: expected client hello header, got 0x%02x", clientHelloFrame[0])
		return
	}
	clientPayload := clientHelloFrame[1:]
	d.transcript = append(d.transcript, clientPayload...)
	clientEphPub := clientPayload[35:100]

	serverEph, err := cryptoutil.GenerateEphemeralECDH()
	if err != nil {
		t.Errorf("device: generate ephemeral: %v", err)
		return
	}
	serverEphPub := cryptoutil.ECDHPublicKeyBytes(serverEph)

	serverPayload := make([]byte, 0, 100)
	serverPayload = append(serverPayload, ptlsVersion, byte(d.peer.MTU()), 0x00)
	serverPayload = append(serverPayload, make([]byte, 32)...)
	serverPayload = append(serverPayload, serverEphPub...)

	d.transcript = append(d.transcript, serverPayload...)
	d.helloHash = d.hash()

	if err := d.peer.WriteHandshake(ctx, append([]byte{msgHello}, serverPayload...)); err != nil {
		t.Errorf("device: write server hello: %v", err)
		return
	}

	shared, err := cryptoutil.ECDHSharedSecret(serverEph, clientEphPub)
	if err != nil {
		t.Errorf("device: ecdh: %v", err)
		return
	}
	d.shared = shared

	challenge, err := d.peer.ReadHandshake(ctx)
	if err != nil {
		t.Errorf("device: read server-verify challenge: %v", err)
		return
	}
	if headerNibble(challenge[0]) != msgServerVerify {
		t.Errorf("device: expected server-verify challenge, got 0x%02x", challenge[0])
		return
	}
	authData := challenge[1:]

	srvKey, srvIV := cryptoutil.DeriveKeys(d.shared, "ptlss hs traffic", d.helloHash)

	sigTranscript := append(append([]byte{}, d.transcript...), appendLP(nil, authData)...)
	sigDigest := cryptoutil.SHA256(sigTranscript)
	serverSig, err := cryptoutil.ECDSASignPrehashed(d.longTermKey, sigDigest)
	if err != nil {
		t.Errorf("device: sign: %v", err)
		return
	}

	plaintext := appendLP(nil, authData)
	plaintext = appendLP(plaintext, serverSig)
	plaintext = appendLP(plaintext, d.helloHash)

	nonce := cryptoutil.MakeNonce(srvIV, 0)
	ciphertext, err := cryptoutil.AESGCM128Encrypt(srvKey, nonce, plaintext, nil)
	if err != nil {
		t.Errorf("device: encrypt server-verify: %v", err)
		return
	}
	if err := d.peer.WriteHandshake(ctx, append([]byte{msgServerVerify}, ciphertext...)); err != nil {
		t.Errorf("device: write server-verify response: %v", err)
		return
	}
	d.transcript = append(d.transcript, plaintext...)

	part1, err := d.peer.ReadHandshake(ctx)
	if err != nil {
		t.Errorf("device: read client-verify part 1: %v", err)
		return
	}
	part2, err := d.peer.ReadHandshake(ctx)
	if err != nil {
		t.Errorf("device: read client-verify part 2: %v", err)
		return
	}
	if headerNibble(part1[0]) != msgClientVerifyI || headerNibble(part2[0]) != msgClientVerifyII {
		t.Errorf("device: unexpected client-verify headers: 0x%02x 0x%02x", part1[0], part2[0])
		return
	}
	clientCiphertext := append(append([]byte{}, part1[1:]...), part2[1:]...)

	cliKey, cliIV := cryptoutil.DeriveKeys(d.shared, "ptlsc hs traffic", d.helloHash)
	clientNonce := cryptoutil.MakeNonce(cliIV, 0)
	clientPlaintext, err := cryptoutil.AESGCM128Decrypt(cliKey, clientNonce, clientCiphertext, nil)
	if err != nil {
		t.Errorf("device: decrypt client-verify: %v", err)
		return
	}
	d.transcript = append(d.transcript, clientPlaintext...)

	sessionID := []byte{0xDE, 0xAD, 0xBE, 0xEF}
	if err := d.peer.WriteHandshake(ctx, append([]byte{msgInitialized}, sessionID...)); err != nil {
		t.Errorf("device: write initialized: %v", err)
		return
	}

	finishedHash := d.hash()
	d.sendKey, d.sendIV = cryptoutil.DeriveKeys(d.shared, "ptlss ap traffic", finishedHash)
	d.recvKey, d.recvIV = cryptoutil.DeriveKeys(d.shared, "ptlsc ap traffic", finishedHash)
}

func newDeviceIdentity(t *testing.T) (clientIdentity Identity, device *deviceSim) {
	t.Helper()
	mobileKP, err := cryptoutil.GenerateECDSAP256()
	if err != nil {
		t.Fatalf("generate mobile key: %v", err)
	}
	deviceKP, err := cryptoutil.GenerateECDSAP256()
	if err != nil {
		t.Fatalf("generate device key: %v", err)
	}
	cert := []byte("fake-certificate-bytes")
	identity := Identity{
		PrivateKey:  mobileKP.Private,
		Certificate: cert,
		DevicePub:   &deviceKP.Private.PublicKey,
	}
	return identity, &deviceSim{longTermKey: deviceKP.Private}
}

func TestHandshakeEndToEnd(t *testing.T) {
	identity, device := newDeviceIdentity(t)
	client, peer := transport.NewLoopbackPair(200)
	defer client.Close()
	defer peer.Close()
	device.peer = peer

	session := New(client, identity, nil)

	ctx, cancel := context.WithTimeout(context.Background(), 2*time.Second)
	defer cancel()

	done := make(chan struct{})
	go func() {
		device.run(t, ctx)
		close(done)
	}()

	if err := session.Handshake(ctx); err != nil {
		t.Fatalf("Handshake: %v", err)
	}
	<-done

	if session.State() != Established {
		t.Fatalf("expected Established, got %s", session.State())
	}
	if len(session.SessionID()) != 4 {
		t.Fatalf("expected 4-byte session id, got %d", len(session.SessionID()))
	}
	if !bytes.Equal(session.sendKey, device.recvKey) || !bytes.Equal(session.sendIV, device.recvIV) {
		t.Fatal("client send keys do not match device recv keys")
	}
	if !bytes.Equal(session.recvKey, device.sendKey) || !bytes.Equal(session.recvIV, device.sendIV) {
		t.Fatal("client recv keys do not match device send keys")
	}
}

func TestEncryptDecryptRoundTripAfterHandshake(t *testing.T) {
	identity, device := newDeviceIdentity(t)
	client, peer := transport.NewLoopbackPair(200)
	defer client.Close()
	defer peer.Close()
	device.peer = peer

	session := New(client, identity, nil)
	ctx, cancel := context.WithTimeout(context.Background(), 2*time.Second)
	defer cancel()

	done := make(chan struct{})
	go func() { device.run(t, ctx); close(done) }()
	if err := session.Handshake(ctx); err != nil {
		t.Fatalf("Handshake: %v", err)
	}
	<-done

	plaintext := []byte{0x5A} // GET_STATE opcode
	wire, err := session.Encrypt(plaintext)
	if err != nil {
		t.Fatalf("Encrypt: %v", err)
	}
	if wire[0] != recordEncrypted {
		t.Fatalf("expected encrypted header 0x01, got 0x%02x", wire[0])
	}

	deviceNonce := cryptoutil.MakeNonce(device.recvIV, 0)
	decryptedByDevice, err := cryptoutil.AESGCM128Decrypt(device.recvKey, deviceNonce, wire[1:], nil)
	if err != nil {
		t.Fatalf("device decrypt: %v", err)
	}
	if !bytes.Equal(decryptedByDevice, plaintext) {
		t.Fatalf("device decrypted %x, want %x", decryptedByDevice, plaintext)
	}
	if session.sendCounter != 1 {
		t.Fatalf("expected send counter 1 after one encrypt, got %d", session.sendCounter)
	}

	response := []byte{0x5A, 0x00, 0x06, 0x00} // echo_opcode, SUCCESS, LOCKED, status OK
	deviceSendNonce := cryptoutil.MakeNonce(device.sendIV, 0)
	ciphertext, err := cryptoutil.AESGCM128Encrypt(device.sendKey, deviceSendNonce, response, nil)
	if err != nil {
		t.Fatalf("device encrypt: %v", err)
	}
	wireFromDevice := append([]byte{recordEncrypted}, ciphertext...)

	decrypted, err := session.Decrypt(wireFromDevice)
	if err != nil {
		t.Fatalf("Decrypt: %v", err)
	}
	if !bytes.Equal(decrypted, response) {
		t.Fatalf("got %x, want %x", decrypted, response)
	}
	if session.recvCounter != 1 {
		t.Fatalf("expected recv counter 1 after one decrypt, got %d", session.recvCounter)
	}
}

func TestDecryptRejectsBeforeEstablishment(t *testing.T) {
	identity, _ := newDeviceIdentity(t)
	client, peer := transport.NewLoopbackPair(200)
	defer client.Close()
	defer peer.Close()

	session := New(client, identity, nil)
	if _, err := session.Decrypt([]byte{0x01, 0x00}); err != ErrNotEstablished {
		t.Fatalf("expected ErrNotEstablished, got %v", err)
	}
	if _, err := session.Encrypt([]byte{0x5A}); err != ErrNotEstablished {
		t.Fatalf("expected ErrNotEstablished, got %v", err)
	}
}

func TestDecryptPlaintextRecordPassesThrough(t *testing.T) {
	session := &Session{state: Established, log: slog.Default()}
	body := []byte{0xE2, 0x01, 0x02}
	got, err := session.Decrypt(append([]byte{recordPlaintext}, body...))
	if err != nil {
		t.Fatalf("Decrypt: %v", err)
	}
	if !bytes.Equal(got, body) {
		t.Fatalf("got %x, want %x", got, body)
	}
}

func TestDecryptAlertFrame(t *testing.T) {
	session := &Session{state: Established, log: slog.Default()}
	_, err := session.Decrypt([]byte{recordPlaintext | 0x04, byte(AlertSessionTimeout)})
	var alertErr *AlertError
	if err == nil {
		t.Fatal("expected alert error")
	}
	if !asAlertErr(err, &alertErr) {
		t.Fatalf("expected *AlertError, got %T: %v", err, err)
	}
	if alertErr.Code != AlertSessionTimeout {
		t.Fatalf("expected AlertSessionTimeout, got %v", alertErr.Code)
	}
}

func asAlertErr(err error, target **AlertError) bool {
	if ae, ok := err.(*AlertError); ok {
		*target = ae
		return true
	}
	return false
}

func TestMakeNonceWiring(t *testing.T) {
	// Sanity check that the handshake's direct nonce-at-counter-0 calls
	// really do leave the base IV untouched, matching make_nonce(iv, 0).
	iv := make([]byte, 12)
	binary.BigEndian.PutUint16(iv[10:], 0xABCD)
	nonce := cryptoutil.MakeNonce(iv, 0)
	if !bytes.Equal(nonce, iv) {
		t.Fatal("nonce at counter 0 should equal the base IV")
	}
}
