package coordinator

import (
	"context"
	"fmt"
	"time"

	"github.com/smartlock-go/ptlslock/internal/lockproto"
)

// sendCommand encrypts and sends a command, decrypts the response, and
// strips the record-layer framing, returning the opcode-echo-stripped
// response body. Callers must already hold cmdMu.
func (c *Coordinator) sendCommand(ctx context.Context, op lockproto.Opcode, payload []byte) ([]byte, error) {
	if !c.IsConnected() {
		return nil, fmt.Errorf("coordinator: not connected")
	}
	cctx, cancel := context.WithTimeout(ctx, c.cfg.CommandTimeout)
	defer cancel()

	wire, err := c.session.Encrypt(payload)
	if err != nil {
		return nil, fmt.Errorf("encrypt command: %w", err)
	}
	if err := c.transport.WriteCommand(cctx, wire); err != nil {
		return nil, fmt.Errorf("write command: %w", err)
	}
	response, err := c.transport.ReadCommandResponse(cctx)
	if err != nil {
		return nil, fmt.Errorf("read command response: %w", err)
	}
	decrypted, err := c.session.Decrypt(response)
	if err != nil {
		return nil, fmt.Errorf("decrypt command response: %w", err)
	}
	return lockproto.ParseCommandResponse(op, decrypted)
}

func (c *Coordinator) recordActivity() {
	c.lastActivity = time.Now()
}

// Lock sends a LOCK command.
func (c *Coordinator) Lock(ctx context.Context, mode lockproto.LockMode) error {
	c.cmdMu.Lock()
	defer c.cmdMu.Unlock()
	_, err := c.sendCommand(ctx, lockproto.OpLock, lockproto.BuildLock(mode))
	if err != nil {
		return fmt.Errorf("lock: %w", err)
	}
	c.recordActivity()
	return nil
}

// Unlock sends an UNLOCK command. When autoPull is set, it then polls
// the observed state for up to cfg.AutoUnlockPullWait for the lock to
// report UNLOCKED before sending PULL_SPRING — mirroring the "wait for
// the notification loop, don't poll BLE directly" original behavior.
func (c *Coordinator) Unlock(ctx context.Context, mode lockproto.UnlockMode, autoPull bool) error {
	c.cmdMu.Lock()
	_, err := c.sendCommand(ctx, lockproto.OpUnlock, lockproto.BuildUnlock(mode))
	c.cmdMu.Unlock()
	if err != nil {
		return fmt.Errorf("unlock: %w", err)
	}
	c.recordActivity()

	if !autoPull {
		return nil
	}

	deadline := time.Now().Add(c.cfg.AutoUnlockPullWait)
	for time.Now().Before(deadline) {
		if c.State().LockState == lockproto.LockStateUnlocked {
			return c.PullSpring(ctx)
		}
		if !c.IsConnected() {
			break
		}
		select {
		case <-ctx.Done():
			return ctx.Err()
		case <-time.After(c.cfg.AutoUnlockPullPollInterval):
		}
	}
	c.log.Warn("auto-pull: lock did not reach unlocked state in time", "wait", c.cfg.AutoUnlockPullWait)
	return nil
}

// PullSpring sends a PULL_SPRING command.
func (c *Coordinator) PullSpring(ctx context.Context) error {
	c.cmdMu.Lock()
	defer c.cmdMu.Unlock()
	_, err := c.sendCommand(ctx, lockproto.OpPullSpring, lockproto.BuildPullSpring())
	if err != nil {
		return fmt.Errorf("pull_spring: %w", err)
	}
	c.recordActivity()
	return nil
}

// GetState sends a GET_STATE command and updates the observable state.
func (c *Coordinator) GetState(ctx context.Context) (lockproto.StateResult, error) {
	c.cmdMu.Lock()
	body, err := c.sendCommand(ctx, lockproto.OpGetState, lockproto.BuildGetState())
	c.cmdMu.Unlock()
	if err != nil {
		return lockproto.StateResult{}, fmt.Errorf("get_state: %w", err)
	}
	res, err := lockproto.ParseGetState(body)
	if err != nil {
		return lockproto.StateResult{}, fmt.Errorf("get_state: %w", err)
	}
	c.recordActivity()

	s := c.State()
	s.LockState = res.LockState
	s.Status = res.Status
	s.UpdatedAt = time.Now()
	c.broker.set(s)
	return res, nil
}

// GetBattery sends a GET_BATTERY command and updates the observable
// state.
func (c *Coordinator) GetBattery(ctx context.Context) (lockproto.BatteryResult, error) {
	c.cmdMu.Lock()
	body, err := c.sendCommand(ctx, lockproto.OpGetBattery, lockproto.BuildGetBattery())
	c.cmdMu.Unlock()
	if err != nil {
		return lockproto.BatteryResult{}, fmt.Errorf("get_battery: %w", err)
	}
	res, err := lockproto.ParseBattery(body)
	if err != nil {
		return lockproto.BatteryResult{}, fmt.Errorf("get_battery: %w", err)
	}
	c.recordActivity()

	s := c.State()
	s.BatteryPercent = res.LevelPercent
	s.BatteryCharging = res.Charging
	s.UpdatedAt = time.Now()
	c.broker.set(s)
	return res, nil
}

// setSignedDateTimeLocked sends SET_SIGNED_DATETIME using the
// currently-stored signed-time blob. Called with cmdMu already free;
// takes it itself.
func (c *Coordinator) setSignedDateTimeLocked(ctx context.Context) error {
	creds, err := c.creds.Load(ctx, c.deviceID)
	if err != nil {
		return fmt.Errorf("load signed time: %w", err)
	}
	if len(creds.SignedTimeDateTime) == 0 {
		return fmt.Errorf("no signed time available")
	}
	c.cmdMu.Lock()
	defer c.cmdMu.Unlock()
	_, err = c.sendCommand(ctx, lockproto.OpSetSignedDateTime, lockproto.BuildSetSignedDateTime(creds.SignedTimeDateTime, creds.SignedTimeSig))
	if err != nil {
		return fmt.Errorf("set_signed_datetime: %w", err)
	}
	c.recordActivity()
	return nil
}
