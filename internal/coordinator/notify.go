package coordinator

import (
	"context"
	"time"

	"github.com/smartlock-go/ptlslock/internal/lockproto"
	"github.com/smartlock-go/ptlslock/internal/ptls"
)

// drainPendingNotifications discards any notification frames buffered
// from before this connection was established, mirroring the reference
// client's brief post-connect settle-and-drain.
func (c *Coordinator) drainPendingNotifications(ctx context.Context) {
	time.Sleep(300 * time.Millisecond)
	for {
		dctx, cancel := context.WithTimeout(ctx, 300*time.Millisecond)
		_, err := c.transport.ReadNotification(dctx)
		cancel()
		if err != nil {
			return
		}
	}
}

// refreshInitialSnapshot fetches the lock's current state and battery
// right after connecting. Failures are logged, not fatal — the
// notification loop will fill them in as data arrives.
func (c *Coordinator) refreshInitialSnapshot(ctx context.Context) {
	if _, err := c.GetState(ctx); err != nil {
		c.log.Warn("failed to get initial lock state", "err", err)
	}
	if _, err := c.GetBattery(ctx); err != nil {
		c.log.Warn("failed to get initial battery", "err", err)
	}
}

// notificationLoop listens for async notifications and, failing that,
// sends a keep-alive get_state before the lock's own BLE idle timeout
// fires. It exits when the connection drops or the coordinator shuts
// down.
func (c *Coordinator) notificationLoop() {
	defer c.wg.Done()
	c.lastActivity = time.Now()

	for c.IsConnected() {
		elapsed := time.Since(c.lastActivity)
		wait := c.cfg.KeepAliveInterval - elapsed
		if wait < time.Second {
			wait = time.Second
		}

		nctx, cancel := context.WithTimeout(c.ctx, wait)
		data, err := c.transport.ReadNotification(nctx)
		cancel()

		if err != nil {
			if c.ctx.Err() != nil {
				return
			}
			if _, err := c.GetState(c.ctx); err != nil {
				c.log.Warn("keep-alive failed", "err", err)
				if c.IsConnected() {
					c.disconnect()
				}
				return
			}
			continue
		}

		c.lastActivity = time.Now()
		c.handleNotification(data)
	}
}

func (c *Coordinator) handleNotification(wire []byte) {
	body, err := c.session.Decrypt(wire)
	if err != nil {
		var alertErr *ptls.AlertError
		if asPTLSAlert(err, &alertErr) {
			// The device alerted (e.g. a 24h-enforced session timeout per
			// AlertSessionTimeout); the session is now Closed and dead.
			// Tearing down the transport fires the dialer's onDisconnect
			// callback, which marks us unavailable and schedules a
			// reconnect — mirror that instead of waiting for IsConnected
			// to ever notice on its own.
			c.log.Warn("session closed by device alert", "code", alertErr.Code)
			c.disconnect()
			return
		}
		c.log.Warn("failed to decrypt notification", "err", err)
		return
	}
	c.dispatchNotification(body)
}

// dispatchNotification parses an already-decrypted notification body and
// applies its effect to observable state or the connection, split out
// from handleNotification so it can be exercised without a live session.
func (c *Coordinator) dispatchNotification(body []byte) {
	n := lockproto.ParseNotification(body)
	if n == nil {
		return
	}

	switch v := n.(type) {
	case lockproto.LockStatusChange:
		s := c.State()
		s.LockState = v.LockState
		s.Status = v.Status
		s.LastTrigger = v.Trigger
		if v.DoorState != lockproto.DoorStateUnknown {
			s.DoorState = v.DoorState
		}
		if v.AccessID != 0 {
			s.LastUser = c.resolveAccessID(v.AccessID)
		} else {
			s.LastUser = ""
		}
		s.UpdatedAt = time.Now()
		c.broker.set(s)

	case lockproto.NeedDateTime:
		c.log.Info("lock requests time sync")
		if err := c.refreshSignedTime(c.ctx); err != nil {
			c.log.Warn("failed to refresh signed time", "err", err)
			return
		}
		if err := c.setSignedDateTimeLocked(c.ctx); err != nil {
			c.log.Warn("failed to sync time", "err", err)
		}

	case lockproto.SignedDateTimeAck:
		if v.Result != lockproto.ResultSuccess {
			c.log.Warn("signed datetime rejected", "result", v.Result)
		}

	case lockproto.DeviceStats:
		c.log.Debug("device stats notification", "bytes", len(v.Data))

	case lockproto.UnknownNotification:
		c.log.Debug("unknown notification", "id", v.ID)
	}
}

func (c *Coordinator) resolveAccessID(accessID uint32) string {
	creds, err := c.creds.Load(c.ctx, c.deviceID)
	if err == nil && creds.UserMap != nil {
		if name, ok := creds.UserMap[accessID]; ok {
			return name
		}
	}
	return c.resolveUnknownUser(c.ctx, accessID)
}
