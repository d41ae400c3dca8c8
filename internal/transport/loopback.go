package transport

import (
	"context"
	"sync"
)

// Loopback is an in-memory reference Transport implementation used by this
// module's own tests and as a template for a real BLE-backed Transport.
// It models the three GATT characteristics of the original device (a
// handshake characteristic, an api-command characteristic, and a
// notification characteristic) as three independent queues, mirroring the
// reference implementation's per-characteristic asyncio.Queue design.
type Loopback struct {
	mtu int

	handshakeOut chan []byte
	handshakeIn  chan []byte
	commandOut   chan []byte
	commandIn    chan []byte
	notifyIn     chan []byte
	notifyOut    chan []byte

	mu     sync.Mutex
	closed bool
	onDisc DisconnectFunc
}

// NewLoopbackPair returns two Loopback transports wired to each other's
// queues: writes on one side arrive as reads on the other. "client" is the
// side the PTLS session/coordinator drive; "peer" is driven by a test
// fixture emulating device behaviour and uses SendNotification to push
// unsolicited payloads to the client.
func NewLoopbackPair(mtu int) (client, peer *Loopback) {
	hToDevice := make(chan []byte, 16)
	hToClient := make(chan []byte, 16)
	cToDevice := make(chan []byte, 16)
	cToClient := make(chan []byte, 16)
	notifyToClient := make(chan []byte, 16)

	client = &Loopback{
		mtu:          mtu,
		handshakeOut: hToDevice,
		handshakeIn:  hToClient,
		commandOut:   cToDevice,
		commandIn:    cToClient,
		notifyIn:     notifyToClient,
	}
	peer = &Loopback{
		mtu:          mtu,
		handshakeOut: hToClient,
		handshakeIn:  hToDevice,
		commandOut:   cToClient,
		commandIn:    cToDevice,
		notifyOut:    notifyToClient,
	}
	return client, peer
}

// SendNotification delivers payload to the other half of the pair's
// notification channel. Intended to be called on the "peer" half.
func (l *Loopback) SendNotification(payload []byte) {
	cp := make([]byte, len(payload))
	copy(cp, payload)
	l.notifyOut <- cp
}

// OnDisconnect registers a callback invoked when Close is called. Intended
// to be wired by a Dialer implementation before returning the Transport.
func (l *Loopback) OnDisconnect(fn DisconnectFunc) {
	l.mu.Lock()
	defer l.mu.Unlock()
	l.onDisc = fn
}

func (l *Loopback) WriteHandshake(ctx context.Context, payload []byte) error {
	return l.send(ctx, l.handshakeOut, payload)
}

func (l *Loopback) ReadHandshake(ctx context.Context) ([]byte, error) {
	return l.recv(ctx, l.handshakeIn)
}

func (l *Loopback) WriteCommand(ctx context.Context, payload []byte) error {
	return l.send(ctx, l.commandOut, payload)
}

func (l *Loopback) ReadCommandResponse(ctx context.Context) ([]byte, error) {
	return l.recv(ctx, l.commandIn)
}

func (l *Loopback) ReadNotification(ctx context.Context) ([]byte, error) {
	return l.recv(ctx, l.notifyIn)
}

func (l *Loopback) MTU() int { return l.mtu }

func (l *Loopback) Close() error {
	l.mu.Lock()
	defer l.mu.Unlock()
	if l.closed {
		return nil
	}
	l.closed = true
	if l.onDisc != nil {
		l.onDisc()
	}
	return nil
}

func (l *Loopback) send(ctx context.Context, ch chan<- []byte, payload []byte) error {
	l.mu.Lock()
	closed := l.closed
	l.mu.Unlock()
	if closed {
		return ErrClosed
	}
	cp := make([]byte, len(payload))
	copy(cp, payload)
	select {
	case ch <- cp:
		return nil
	case <-ctx.Done():
		return NewError("write", ctx.Err())
	}
}

func (l *Loopback) recv(ctx context.Context, ch <-chan []byte) ([]byte, error) {
	select {
	case payload, ok := <-ch:
		if !ok {
			return nil, ErrClosed
		}
		return payload, nil
	case <-ctx.Done():
		return nil, NewError("read", ctx.Err())
	}
}
