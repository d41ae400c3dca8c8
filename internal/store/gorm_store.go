package store

import (
	"context"
	"crypto/x509"
	"encoding/json"
	"fmt"
	"strings"
	"sync"
	"time"

	"gorm.io/driver/sqlite"
	"gorm.io/gorm"
	"gorm.io/gorm/logger"

	"github.com/smartlock-go/ptlslock/internal/cloud"
)

// credentialRow is the GORM model backing CredentialStore. Binary fields
// are stored as raw blobs; ECDSA private keys use SEC1/X9.62 DER via
// crypto/x509 and are parsed back into *ecdsa.PrivateKey on load.
type credentialRow struct {
	DeviceID           int64  `gorm:"primarykey"`
	PrivateKeyDER      []byte `gorm:"column:private_key_der"`
	MobileID           string
	Certificate        []byte
	CertificateExpires time.Time
	DevicePublicKey    []byte
	SignedTimeDateTime []byte
	SignedTimeSig      []byte
	UserMapJSON        string
	UpdatedAt          time.Time
}

func (credentialRow) TableName() string { return "credentials" }

// GormStore is a GORM/SQLite-backed CredentialStore.
type GormStore struct {
	db *gorm.DB

	mu          sync.Mutex
	subscribers map[int64][]chan Credentials
}

// OpenSQLite opens (creating if needed) a SQLite-backed credential
// store at path and runs its migration.
func OpenSQLite(path string) (*GormStore, error) {
	db, err := gorm.Open(sqlite.Open(path), &gorm.Config{
		Logger: logger.Default.LogMode(logger.Warn),
	})
	if err != nil {
		return nil, fmt.Errorf("store: open sqlite %s: %w", path, err)
	}
	if err := db.AutoMigrate(&credentialRow{}); err != nil {
		return nil, fmt.Errorf("store: migrate: %w", err)
	}
	return &GormStore{db: db, subscribers: make(map[int64][]chan Credentials)}, nil
}

// Load implements CredentialStore. A device with no stored row yet
// returns a zero-value Credentials and no error.
func (s *GormStore) Load(ctx context.Context, deviceID int64) (Credentials, error) {
	var row credentialRow
	err := s.db.WithContext(ctx).First(&row, "device_id = ?", deviceID).Error
	if err == gorm.ErrRecordNotFound {
		return Credentials{}, nil
	}
	if err != nil {
		return Credentials{}, fmt.Errorf("store: load device %d: %w", deviceID, err)
	}
	return rowToCredentials(row)
}

// Store implements CredentialStore, merging update into any existing row
// inside one transaction.
func (s *GormStore) Store(ctx context.Context, deviceID int64, update Update) error {
	var merged credentialRow
	err := s.db.WithContext(ctx).Transaction(func(tx *gorm.DB) error {
		var existing credentialRow
		err := tx.First(&existing, "device_id = ?", deviceID).Error
		if err != nil && err != gorm.ErrRecordNotFound {
			return fmt.Errorf("load existing row: %w", err)
		}
		existing.DeviceID = deviceID

		if update.PrivateKey != nil {
			der, err := x509.MarshalECPrivateKey(update.PrivateKey)
			if err != nil {
				return fmt.Errorf("marshal private key: %w", err)
			}
			existing.PrivateKeyDER = der
		}
		if update.MobileID != nil {
			existing.MobileID = *update.MobileID
		}
		if update.Certificate != nil {
			existing.Certificate = update.Certificate
		}
		if update.CertificateExpires != nil {
			existing.CertificateExpires = *update.CertificateExpires
		}
		if update.DevicePublicKey != nil {
			existing.DevicePublicKey = update.DevicePublicKey
		}
		if update.SignedTimeDateTime != nil {
			existing.SignedTimeDateTime = update.SignedTimeDateTime
		}
		if update.SignedTimeSig != nil {
			existing.SignedTimeSig = update.SignedTimeSig
		}
		if update.UserMap != nil {
			encoded, err := json.Marshal(update.UserMap)
			if err != nil {
				return fmt.Errorf("marshal user map: %w", err)
			}
			existing.UserMapJSON = string(encoded)
		}
		existing.UpdatedAt = time.Now()

		if err := tx.Save(&existing).Error; err != nil {
			return fmt.Errorf("save row: %w", err)
		}
		merged = existing
		return nil
	})
	if err != nil {
		return fmt.Errorf("store: update device %d: %w", deviceID, err)
	}

	creds, err := rowToCredentials(merged)
	if err != nil {
		return err
	}
	s.notify(deviceID, creds)
	return nil
}

// Observe implements CredentialStore. The returned cancel func must be
// called to stop receiving updates and release the channel.
func (s *GormStore) Observe(ctx context.Context, deviceID int64) (<-chan Credentials, func(), error) {
	ch := make(chan Credentials, 1)
	s.mu.Lock()
	s.subscribers[deviceID] = append(s.subscribers[deviceID], ch)
	s.mu.Unlock()

	cancel := func() {
		s.mu.Lock()
		defer s.mu.Unlock()
		subs := s.subscribers[deviceID]
		for i, c := range subs {
			if c == ch {
				s.subscribers[deviceID] = append(subs[:i], subs[i+1:]...)
				close(ch)
				break
			}
		}
	}
	return ch, cancel, nil
}

func (s *GormStore) notify(deviceID int64, creds Credentials) {
	s.mu.Lock()
	defer s.mu.Unlock()
	for _, ch := range s.subscribers[deviceID] {
		select {
		case ch <- creds:
		default:
			// Drop the stale pending value and replace it, so a slow
			// observer always sees the most recent credentials.
			select {
			case <-ch:
			default:
			}
			select {
			case ch <- creds:
			default:
			}
		}
	}
}

func rowToCredentials(row credentialRow) (Credentials, error) {
	creds := Credentials{
		MobileID:           row.MobileID,
		Certificate:        row.Certificate,
		CertificateExpires: row.CertificateExpires,
		DevicePublicKey:    row.DevicePublicKey,
		SignedTimeDateTime: row.SignedTimeDateTime,
		SignedTimeSig:      row.SignedTimeSig,
	}
	if len(row.PrivateKeyDER) > 0 {
		priv, err := x509.ParseECPrivateKey(row.PrivateKeyDER)
		if err != nil {
			return Credentials{}, fmt.Errorf("store: parse stored private key: %w", err)
		}
		creds.PrivateKey = priv
	}
	if strings.TrimSpace(row.UserMapJSON) != "" {
		var userMap cloud.UserMap
		if err := json.Unmarshal([]byte(row.UserMapJSON), &userMap); err != nil {
			return Credentials{}, fmt.Errorf("store: parse stored user map: %w", err)
		}
		creds.UserMap = userMap
	}
	return creds, nil
}
