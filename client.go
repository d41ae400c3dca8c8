// Package ptlslock is the public entry point for controlling a lock over
// its BLE PTLS secure channel: handshake, command/notification protocol,
// and connection lifecycle are composed here from internal/coordinator,
// internal/cloud, and internal/store into a single client a caller
// constructs once per lock.
package ptlslock

import (
	"context"
	"fmt"
	"log/slog"

	"github.com/smartlock-go/ptlslock/internal/cloud"
	"github.com/smartlock-go/ptlslock/internal/config"
	"github.com/smartlock-go/ptlslock/internal/coordinator"
	"github.com/smartlock-go/ptlslock/internal/lockproto"
	"github.com/smartlock-go/ptlslock/internal/store"
	"github.com/smartlock-go/ptlslock/internal/transport"
)

// State is the observable snapshot of a lock's last known condition.
type State = coordinator.State

// UnlockMode and LockMode select the lock's physical locking behavior.
type UnlockMode = lockproto.UnlockMode
type LockMode = lockproto.LockMode

const (
	UnlockNormal = lockproto.UnlockNormal
	LockNormal   = lockproto.LockNormal
)

// Client controls one lock: it owns the coordinator that drives the PTLS
// handshake, command queue, and reconnect/credential-refresh loop for a
// single device id.
type Client struct {
	coord *coordinator.Coordinator
	log   *slog.Logger
}

// Option configures a Client at construction time.
type Option func(*options)

type options struct {
	cfg *config.Config
	log *slog.Logger
}

// WithConfig overrides the default connection tunables (backoff,
// timeouts, polling intervals).
func WithConfig(cfg *config.Config) Option {
	return func(o *options) { o.cfg = cfg }
}

// WithLogger sets the slog.Logger used for this client's log output.
// Defaults to slog.Default().
func WithLogger(log *slog.Logger) Option {
	return func(o *options) { o.log = log }
}

// New creates a Client for deviceID. dialer opens the BLE transport;
// cloudAPI and creds are the vendor cloud client and the credential
// store backing certificate/signed-time/user-map persistence.
func New(dialer transport.Dialer, cloudAPI cloud.Client, creds store.CredentialStore, deviceID int64, opts ...Option) (*Client, error) {
	if dialer == nil {
		return nil, fmt.Errorf("ptlslock: dialer is required")
	}
	if cloudAPI == nil {
		return nil, fmt.Errorf("ptlslock: cloud client is required")
	}
	if creds == nil {
		return nil, fmt.Errorf("ptlslock: credential store is required")
	}

	o := &options{}
	for _, opt := range opts {
		opt(o)
	}
	if o.log == nil {
		o.log = slog.Default()
	}

	coord := coordinator.New(dialer, cloudAPI, creds, deviceID, o.cfg, o.log)
	return &Client{coord: coord, log: o.log}, nil
}

// Start connects to the lock and begins the background notification and
// polling loops. It blocks until the initial connection succeeds,
// including any required certificate refresh, or ctx is done.
func (c *Client) Start(ctx context.Context) error {
	return c.coord.Start(ctx)
}

// Stop tears down the connection and all background loops. Idempotent.
func (c *Client) Stop() {
	c.coord.Stop()
}

// State returns the client's current observable snapshot of the lock.
func (c *Client) State() State {
	return c.coord.State()
}

// Subscribe returns a channel of state changes and a cancel func to stop
// receiving them.
func (c *Client) Subscribe() (<-chan State, func()) {
	return c.coord.Subscribe()
}

// IsConnected reports whether the client currently has a live PTLS
// session with the lock.
func (c *Client) IsConnected() bool {
	return c.coord.IsConnected()
}

// Lock sends a LOCK command.
func (c *Client) Lock(ctx context.Context, mode LockMode) error {
	return c.coord.Lock(ctx, mode)
}

// Unlock sends an UNLOCK command. When autoPull is set, it then waits
// for the lock to report UNLOCKED and sends PULL_SPRING automatically.
func (c *Client) Unlock(ctx context.Context, mode UnlockMode, autoPull bool) error {
	return c.coord.Unlock(ctx, mode, autoPull)
}

// PullSpring sends a PULL_SPRING command.
func (c *Client) PullSpring(ctx context.Context) error {
	return c.coord.PullSpring(ctx)
}

// GetState actively fetches the lock's current state, updating State().
func (c *Client) GetState(ctx context.Context) (lockproto.StateResult, error) {
	return c.coord.GetState(ctx)
}

// GetBattery actively fetches the lock's battery level, updating
// State().
func (c *Client) GetBattery(ctx context.Context) (lockproto.BatteryResult, error) {
	return c.coord.GetBattery(ctx)
}
