// Package store persists the long-lived credentials a lock client needs
// across restarts: its own ECDSA-P256 keypair, the cloud-assigned mobile
// id, the device access certificate and its expiry, the last signed-time
// blob, and the resolved user-id-to-name map. Loading, saving, and
// config-file handling for anything beyond these fields belongs to the
// caller.
package store

import (
	"context"
	"crypto/ecdsa"
	"time"

	"github.com/smartlock-go/ptlslock/internal/cloud"
)

// Credentials is the full set of persisted state for one lock
// connection.
type Credentials struct {
	PrivateKey         *ecdsa.PrivateKey
	MobileID           string
	Certificate        []byte
	CertificateExpires time.Time
	DevicePublicKey    []byte
	SignedTimeDateTime []byte
	SignedTimeSig      []byte
	UserMap            cloud.UserMap
}

// HasCertificate reports whether a device certificate has ever been
// stored.
func (c Credentials) HasCertificate() bool {
	return len(c.Certificate) > 0
}

// Update is a partial set of fields to merge into existing credentials.
// A nil or zero field leaves the corresponding stored value unchanged,
// so a caller can refresh just the certificate, or just the signed time,
// without clobbering the rest.
type Update struct {
	PrivateKey         *ecdsa.PrivateKey
	MobileID           *string
	Certificate        []byte
	CertificateExpires *time.Time
	DevicePublicKey    []byte
	SignedTimeDateTime []byte
	SignedTimeSig      []byte
	UserMap            cloud.UserMap
}

// CredentialStore loads and durably persists Credentials for one device.
// Store applies Update merge semantics: unset fields in the update leave
// the corresponding stored field untouched. Observe lets a caller react
// to external changes (e.g. a UI) without polling.
type CredentialStore interface {
	Load(ctx context.Context, deviceID int64) (Credentials, error)
	Store(ctx context.Context, deviceID int64, update Update) error
	Observe(ctx context.Context, deviceID int64) (<-chan Credentials, func(), error)
}
