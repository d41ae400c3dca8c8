package coordinator

import (
	"context"
	"fmt"
	"time"
)

// refreshCertificateIfNeeded checks the stored certificate's remaining
// validity against the configured threshold and refreshes it from the
// cloud only when necessary.
func (c *Coordinator) refreshCertificateIfNeeded(ctx context.Context) error {
	creds, err := c.creds.Load(ctx, c.deviceID)
	if err != nil {
		return fmt.Errorf("load credentials: %w", err)
	}
	if creds.HasCertificate() && creds.CertificateExpires.Sub(time.Now()) >= c.cfg.CertRefreshThreshold {
		return nil
	}
	return c.forceRefreshCertificate(ctx)
}

// forceRefreshCertificate fetches a fresh certificate and user map from
// the cloud and persists both, regardless of current expiry.
func (c *Coordinator) forceRefreshCertificate(ctx context.Context) error {
	creds, err := c.creds.Load(ctx, c.deviceID)
	if err != nil {
		return fmt.Errorf("load credentials: %w", err)
	}
	if creds.MobileID == "" {
		return fmt.Errorf("no mobile id registered for device %d", c.deviceID)
	}

	c.log.Info("refreshing certificate")
	cert, err := c.cloudAPI.GetDeviceCertificate(ctx, creds.MobileID, c.deviceID)
	if err != nil {
		return fmt.Errorf("get device certificate: %w", err)
	}
	userMap, err := c.cloudAPI.GetUserMap(ctx, c.deviceID)
	if err != nil {
		c.log.Warn("failed to refresh user map alongside certificate", "err", err)
		userMap = nil
	}

	if err := c.creds.Store(ctx, c.deviceID, certificateUpdate(cert, userMap)); err != nil {
		return fmt.Errorf("store refreshed certificate: %w", err)
	}
	c.log.Info("certificate refreshed", "expires", cert.ExpirationDate)
	return nil
}

// refreshSignedTime fetches a fresh signed-time blob from the cloud and
// persists it.
func (c *Coordinator) refreshSignedTime(ctx context.Context) error {
	signed, err := c.cloudAPI.GetSignedTime(ctx)
	if err != nil {
		return fmt.Errorf("get signed time: %w", err)
	}
	return c.creds.Store(ctx, c.deviceID, signedTimeUpdate(signed))
}

// resolveUnknownUser refreshes the user map from the cloud when a
// LOCK_STATUS_CHANGE notification reports an access id this coordinator
// has not seen before, returning its name if resolved.
func (c *Coordinator) resolveUnknownUser(ctx context.Context, accessID uint32) string {
	userMap, err := c.cloudAPI.GetUserMap(ctx, c.deviceID)
	if err != nil {
		c.log.Debug("failed to refresh user map for unknown access id", "access_id", accessID, "err", err)
		return fmt.Sprintf("%d", accessID)
	}
	if err := c.creds.Store(ctx, c.deviceID, userMapUpdate(userMap)); err != nil {
		c.log.Debug("failed to persist refreshed user map", "err", err)
	}
	if name, ok := userMap[accessID]; ok {
		return name
	}
	return fmt.Sprintf("%d", accessID)
}
