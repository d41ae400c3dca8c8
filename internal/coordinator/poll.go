package coordinator

import (
	"context"
	"time"
)

// pollLoop is the active-polling fallback: every cfg.PollInterval it
// checks certificate freshness (throttled to cfg.CertCheckInterval) and,
// when connected, refreshes state and battery directly rather than
// waiting on a notification. It also reconnects if disconnected and no
// reconnect is already scheduled.
func (c *Coordinator) pollLoop() {
	defer c.wg.Done()

	ticker := time.NewTicker(c.cfg.PollInterval)
	defer ticker.Stop()

	for {
		select {
		case <-c.ctx.Done():
			return
		case <-ticker.C:
		}

		if time.Since(c.lastCertCheck) >= c.cfg.CertCheckInterval {
			c.lastCertCheck = time.Now()
			if err := c.refreshCertificateIfNeeded(c.ctx); err != nil {
				c.log.Warn("periodic certificate check failed", "err", err)
			}
		}

		if !c.IsConnected() {
			c.reconnectMu.Lock()
			scheduled := c.reconnectRunning
			c.reconnectMu.Unlock()
			if !scheduled && !c.shuttingDown {
				c.scheduleReconnect()
			}
			continue
		}

		pctx, cancel := context.WithTimeout(c.ctx, c.cfg.CommandTimeout)
		if _, err := c.GetState(pctx); err != nil {
			c.log.Warn("poll get_state failed", "err", err)
		}
		if _, err := c.GetBattery(pctx); err != nil {
			c.log.Warn("poll get_battery failed", "err", err)
		}
		cancel()
	}
}
