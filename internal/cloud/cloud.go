// Package cloud defines the vendor cloud HTTP API as a small set of typed
// operations: mobile registration, BLE access-certificate issuance,
// signed-time retrieval, and activity-log based user-id resolution. The
// Client interface fixes the shape of that boundary; HTTPClient is a
// net/http implementation of it.
package cloud

import (
	"context"
	"fmt"
	"time"
)

// Device is one lock entry returned by the device-listing endpoint.
type Device struct {
	ID           int64
	SerialNumber string
	Name         string
}

// Certificate is a mobile's BLE access certificate for one device.
type Certificate struct {
	Raw            []byte
	ExpirationDate time.Time
	// DevicePublicKey is the lock's long-term ECDSA-P256 public key (SEC1
	// uncompressed point), issued alongside the certificate so the
	// handshake can verify the device's server-verify signature.
	DevicePublicKey []byte
}

// NeedsRefresh reports whether fewer than threshold remain before
// ExpirationDate. A zero ExpirationDate (never populated) always needs
// refresh.
func (c Certificate) NeedsRefresh(now time.Time, threshold time.Duration) bool {
	if c.ExpirationDate.IsZero() {
		return true
	}
	return c.ExpirationDate.Sub(now) < threshold
}

// SignedTime is an opaque, cloud-signed timestamp blob the lock requires
// before it will trust its own clock.
type SignedTime struct {
	DateTime  []byte
	Signature []byte
}

// UserMap resolves a device's numeric access ids to display names,
// derived from recent activity log entries. Unresolved ids are simply
// absent from the map; callers display the raw id in that case.
type UserMap map[uint32]string

// APIError wraps a non-2xx cloud response.
type APIError struct {
	StatusCode int
	Message    string
}

func (e *APIError) Error() string {
	return fmt.Sprintf("cloud: http %d: %s", e.StatusCode, e.Message)
}

// Client is the cloud operations the coordinator depends on. HTTPClient
// in this package implements it; other implementations (such as test
// fakes) can be supplied in its place.
type Client interface {
	// RegisterMobile registers a mobile's ECDSA-P256 public key (SEC1
	// uncompressed point, already base64-encoded by the caller) with the
	// cloud and returns the assigned mobile id.
	RegisterMobile(ctx context.Context, publicKeyB64, name string) (mobileID string, err error)

	// GetDeviceCertificate fetches the BLE access certificate binding
	// mobileID to deviceID.
	GetDeviceCertificate(ctx context.Context, mobileID string, deviceID int64) (Certificate, error)

	// GetSignedTime fetches a fresh signed-time blob for the lock's
	// SET_SIGNED_DATETIME command.
	GetSignedTime(ctx context.Context) (SignedTime, error)

	// GetUserMap builds the userId -> username lookup for deviceID from
	// its recent activity log.
	GetUserMap(ctx context.Context, deviceID int64) (UserMap, error)

	// ListDevices returns every lock visible to the authenticated
	// account.
	ListDevices(ctx context.Context) ([]Device, error)

	// FindDeviceID resolves a device by its printed serial number.
	// Returns (0, false, nil) if no device matches.
	FindDeviceID(ctx context.Context, serial string) (id int64, found bool, err error)

	// DeleteMobile revokes a previously registered mobile id, e.g. during
	// credential rotation or uninstall.
	DeleteMobile(ctx context.Context, mobileID string) error
}
