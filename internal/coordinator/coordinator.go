package coordinator

import (
	"context"
	"fmt"
	"log/slog"
	"sync"
	"time"

	"github.com/smartlock-go/ptlslock/internal/cloud"
	"github.com/smartlock-go/ptlslock/internal/config"
	"github.com/smartlock-go/ptlslock/internal/cryptoutil"
	"github.com/smartlock-go/ptlslock/internal/lockproto"
	"github.com/smartlock-go/ptlslock/internal/ptls"
	"github.com/smartlock-go/ptlslock/internal/store"
	"github.com/smartlock-go/ptlslock/internal/transport"
)

// Coordinator owns one lock's connection lifecycle: it dials the
// transport, runs the PTLS handshake (with alert-triggered retry-once
// recovery), serializes commands, listens for notifications, and
// reconnects on disconnect following the configured fixed backoff
// schedule.
type Coordinator struct {
	dialer   transport.Dialer
	cloudAPI cloud.Client
	creds    store.CredentialStore
	cfg      *config.Config
	deviceID int64
	log      *slog.Logger

	connectMu sync.Mutex
	cmdMu     sync.Mutex

	transport transport.Transport
	session   *ptls.Session

	broker *stateBroker

	reconnectMu      sync.Mutex
	reconnectRunning bool
	reconnectAttempt int

	lastCertCheck time.Time
	lastActivity  time.Time

	shuttingDown bool

	ctx    context.Context
	cancel context.CancelFunc
	wg     sync.WaitGroup
}

// New creates a Coordinator for deviceID. cfg may be nil, in which case
// config.Default() is used.
func New(dialer transport.Dialer, cloudAPI cloud.Client, creds store.CredentialStore, deviceID int64, cfg *config.Config, log *slog.Logger) *Coordinator {
	if cfg == nil {
		cfg = config.Default()
	}
	if log == nil {
		log = slog.Default()
	}
	ctx, cancel := context.WithCancel(context.Background())
	return &Coordinator{
		dialer:   dialer,
		cloudAPI: cloudAPI,
		creds:    creds,
		cfg:      cfg,
		deviceID: deviceID,
		log:      log.With("component", "coordinator", "device_id", deviceID),
		broker:   newStateBroker(State{LockState: lockproto.LockStateUnknown, DoorState: lockproto.DoorStateUnknown}),
		ctx:      ctx,
		cancel:   cancel,
	}
}

// State returns the coordinator's current observable snapshot.
func (c *Coordinator) State() State { return c.broker.get() }

// Subscribe returns a channel of state changes and a cancel func to stop
// receiving them. The channel is buffered 1; a slow reader only misses
// intermediate values, never falls behind indefinitely.
func (c *Coordinator) Subscribe() (<-chan State, func()) {
	return c.broker.subscribe()
}

// IsConnected reports whether the transport and PTLS session are both
// live.
func (c *Coordinator) IsConnected() bool {
	return c.transport != nil && c.session != nil && c.session.IsEstablished()
}

// Start connects to the lock and begins the background notification and
// keep-alive loop. It blocks until the initial connection (including any
// certificate refresh) succeeds or ctx is done.
func (c *Coordinator) Start(ctx context.Context) error {
	if err := c.connect(ctx); err != nil {
		return fmt.Errorf("coordinator: start: %w", err)
	}
	c.wg.Add(1)
	go c.pollLoop()
	return nil
}

// Stop tears down the connection and background loops. Idempotent.
func (c *Coordinator) Stop() {
	c.shuttingDown = true
	c.cancel()
	c.disconnect()
	c.wg.Wait()
}

func (c *Coordinator) setAvailable(available bool) {
	s := c.broker.get()
	s.Available = available
	s.UpdatedAt = time.Now()
	c.broker.set(s)
}

// connect runs the full sequence: certificate refresh check, transport
// dial, PTLS handshake (including the two recoverable-alert retry
// paths), pending-notification drain, and an initial state/battery
// snapshot.
func (c *Coordinator) connect(ctx context.Context) error {
	c.connectMu.Lock()
	defer c.connectMu.Unlock()

	if c.IsConnected() {
		return nil
	}

	if err := c.refreshCertificateIfNeeded(ctx); err != nil {
		return fmt.Errorf("certificate refresh: %w", err)
	}

	if err := c.dialAndHandshake(ctx); err != nil {
		return err
	}

	c.drainPendingNotifications(ctx)
	c.refreshInitialSnapshot(ctx)

	c.setAvailable(true)
	c.reconnectAttempt = 0

	c.wg.Add(1)
	go c.notificationLoop()

	c.log.Info("connected")
	return nil
}

// dialAndHandshake dials the transport and performs the handshake,
// retrying exactly once when the device reports a recoverable alert:
// INVALID_CERTIFICATE forces a certificate refresh, NO_TRUSTED_TIME
// fetches fresh signed time and sends SET_SIGNED_DATETIME once the new
// handshake is up.
func (c *Coordinator) dialAndHandshake(ctx context.Context) error {
	needsSignedTime := false

	t, session, err := c.dialOnce(ctx)
	if err != nil {
		return fmt.Errorf("dial: %w", err)
	}

	err = session.Handshake(ctx)
	if err != nil {
		var alertErr *ptls.AlertError
		if !asPTLSAlert(err, &alertErr) || !alertErr.Recoverable() {
			t.Close()
			return fmt.Errorf("handshake: %w", err)
		}

		t.Close()
		switch alertErr.Code {
		case ptls.AlertInvalidCertificate:
			c.log.Warn("certificate rejected, forcing refresh")
			if err := c.forceRefreshCertificate(ctx); err != nil {
				return fmt.Errorf("handshake retry: refresh certificate: %w", err)
			}
		case ptls.AlertNoTrustedTime:
			c.log.Warn("lock has no trusted time, fetching and retrying")
			if err := c.refreshSignedTime(ctx); err != nil {
				return fmt.Errorf("handshake retry: refresh signed time: %w", err)
			}
			needsSignedTime = true
		}

		t, session, err = c.dialOnce(ctx)
		if err != nil {
			return fmt.Errorf("dial (retry): %w", err)
		}
		if err := session.Handshake(ctx); err != nil {
			t.Close()
			return fmt.Errorf("handshake (retry): %w", err)
		}
	}

	c.transport = t
	c.session = session

	if needsSignedTime {
		if err := c.setSignedDateTimeLocked(ctx); err != nil {
			c.log.Warn("failed to set signed datetime after retry", "err", err)
		}
	}
	return nil
}

func (c *Coordinator) dialOnce(ctx context.Context) (transport.Transport, *ptls.Session, error) {
	t, err := c.dialer.Connect(ctx, c.onDisconnect)
	if err != nil {
		return nil, nil, err
	}
	identity, err := c.loadIdentity(ctx)
	if err != nil {
		t.Close()
		return nil, nil, err
	}
	session := ptls.New(t, identity, c.log)
	return t, session, nil
}

func (c *Coordinator) loadIdentity(ctx context.Context) (ptls.Identity, error) {
	creds, err := c.creds.Load(ctx, c.deviceID)
	if err != nil {
		return ptls.Identity{}, fmt.Errorf("load credentials: %w", err)
	}
	if creds.PrivateKey == nil || !creds.HasCertificate() || len(creds.DevicePublicKey) == 0 {
		return ptls.Identity{}, fmt.Errorf("incomplete credentials for device %d", c.deviceID)
	}
	devicePub, err := cryptoutil.BytesToPublicKey(creds.DevicePublicKey)
	if err != nil {
		return ptls.Identity{}, fmt.Errorf("parse stored device public key: %w", err)
	}
	return ptls.Identity{
		PrivateKey:  creds.PrivateKey,
		Certificate: creds.Certificate,
		DevicePub:   devicePub,
	}, nil
}

func (c *Coordinator) disconnect() {
	if c.transport != nil {
		c.transport.Close()
		c.transport = nil
	}
	c.session = nil
}

func (c *Coordinator) onDisconnect() {
	c.log.Warn("transport disconnected")
	c.setAvailable(false)
	if !c.shuttingDown {
		c.scheduleReconnect()
	}
}

func (c *Coordinator) scheduleReconnect() {
	c.reconnectMu.Lock()
	if c.reconnectRunning {
		c.reconnectMu.Unlock()
		return
	}
	c.reconnectRunning = true
	delay := c.cfg.ReconnectDelay(c.reconnectAttempt)
	c.reconnectAttempt++
	c.reconnectMu.Unlock()

	c.log.Info("scheduling reconnect", "delay", delay, "attempt", c.reconnectAttempt)
	c.wg.Add(1)
	go c.reconnectAfter(delay)
}

func (c *Coordinator) reconnectAfter(delay time.Duration) {
	defer c.wg.Done()
	defer func() {
		c.reconnectMu.Lock()
		c.reconnectRunning = false
		c.reconnectMu.Unlock()
	}()

	select {
	case <-time.After(delay):
	case <-c.ctx.Done():
		return
	}

	c.disconnect()
	if err := c.connect(c.ctx); err != nil {
		c.log.Warn("reconnect failed", "err", err)
		if !c.shuttingDown {
			c.scheduleReconnect()
		}
	}
}

func asPTLSAlert(err error, target **ptls.AlertError) bool {
	ae, ok := err.(*ptls.AlertError)
	if ok {
		*target = ae
	}
	return ok
}
