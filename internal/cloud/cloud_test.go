package cloud

import (
	"context"
	"testing"
	"time"

	"github.com/smartlock-go/ptlslock/internal/cloud/cloudtest"
)

func TestCertificateNeedsRefresh(t *testing.T) {
	now := time.Date(2026, 1, 1, 0, 0, 0, 0, time.UTC)
	threshold := 5 * 24 * time.Hour

	cases := []struct {
		name string
		cert Certificate
		want bool
	}{
		{"zero expiration always refreshes", Certificate{}, true},
		{"far future does not need refresh", Certificate{ExpirationDate: now.Add(30 * 24 * time.Hour)}, false},
		{"inside threshold needs refresh", Certificate{ExpirationDate: now.Add(2 * 24 * time.Hour)}, true},
		{"already expired needs refresh", Certificate{ExpirationDate: now.Add(-time.Hour)}, true},
	}
	for _, c := range cases {
		t.Run(c.name, func(t *testing.T) {
			if got := c.cert.NeedsRefresh(now, threshold); got != c.want {
				t.Errorf("got %v, want %v", got, c.want)
			}
		})
	}
}

func TestHTTPClientListAndFindDevice(t *testing.T) {
	srv := cloudtest.NewServer("test-key")
	defer srv.Close()
	srv.AddLock(cloudtest.Lock{ID: 1, SerialNumber: "SN-001", Name: "Front Door"})
	srv.AddLock(cloudtest.Lock{ID: 2, SerialNumber: "SN-002", Name: "Back Door"})

	client := NewHTTPClient(srv.URL, "test-key", nil)
	ctx := context.Background()

	devices, err := client.ListDevices(ctx)
	if err != nil {
		t.Fatalf("ListDevices: %v", err)
	}
	if len(devices) != 2 {
		t.Fatalf("expected 2 devices, got %d", len(devices))
	}

	id, found, err := client.FindDeviceID(ctx, "SN-002")
	if err != nil {
		t.Fatalf("FindDeviceID: %v", err)
	}
	if !found || id != 2 {
		t.Fatalf("expected found=true id=2, got found=%v id=%d", found, id)
	}

	_, found, err = client.FindDeviceID(ctx, "missing")
	if err != nil {
		t.Fatalf("FindDeviceID: %v", err)
	}
	if found {
		t.Fatal("expected not found")
	}
}

func TestHTTPClientRegisterAndDeleteMobile(t *testing.T) {
	srv := cloudtest.NewServer("")
	defer srv.Close()
	client := NewHTTPClient(srv.URL, "", nil)
	ctx := context.Background()

	mobileID, err := client.RegisterMobile(ctx, "base64pubkey", "test-mobile")
	if err != nil {
		t.Fatalf("RegisterMobile: %v", err)
	}
	if mobileID == "" {
		t.Fatal("expected non-empty mobile id")
	}

	if err := client.DeleteMobile(ctx, mobileID); err != nil {
		t.Fatalf("DeleteMobile: %v", err)
	}
	if !srv.WasDeleted(mobileID) {
		t.Fatal("expected server to record deletion")
	}
}

func TestHTTPClientGetDeviceCertificate(t *testing.T) {
	srv := cloudtest.NewServer("")
	defer srv.Close()
	expiry := time.Now().Add(48 * time.Hour).Truncate(time.Second)
	srv.SetCertificateExpiry(expiry)

	client := NewHTTPClient(srv.URL, "", nil)
	cert, err := client.GetDeviceCertificate(context.Background(), "mobile-1", 1)
	if err != nil {
		t.Fatalf("GetDeviceCertificate: %v", err)
	}
	if len(cert.Raw) == 0 {
		t.Fatal("expected non-empty certificate bytes")
	}
	if !cert.ExpirationDate.Equal(expiry) {
		t.Fatalf("expiration = %v, want %v", cert.ExpirationDate, expiry)
	}
}

func TestHTTPClientGetSignedTime(t *testing.T) {
	srv := cloudtest.NewServer("")
	defer srv.Close()
	client := NewHTTPClient(srv.URL, "", nil)
	st, err := client.GetSignedTime(context.Background())
	if err != nil {
		t.Fatalf("GetSignedTime: %v", err)
	}
	if len(st.DateTime) == 0 || len(st.Signature) == 0 {
		t.Fatal("expected non-empty datetime/signature")
	}
}

func TestHTTPClientGetUserMapDedupesFirstSeen(t *testing.T) {
	srv := cloudtest.NewServer("")
	defer srv.Close()
	srv.SetActivity(1, []cloudtest.Activity{
		{UserID: 42, Username: "alice"},
		{UserID: 42, Username: "alice-stale-duplicate"},
		{UserID: 7, Username: "bob"},
		{UserID: 0, Username: "ignored"},
	})

	client := NewHTTPClient(srv.URL, "", nil)
	userMap, err := client.GetUserMap(context.Background(), 1)
	if err != nil {
		t.Fatalf("GetUserMap: %v", err)
	}
	if userMap[42] != "alice" {
		t.Errorf("userMap[42] = %q, want alice (first occurrence wins)", userMap[42])
	}
	if userMap[7] != "bob" {
		t.Errorf("userMap[7] = %q, want bob", userMap[7])
	}
	if _, ok := userMap[0]; ok {
		t.Error("expected userId 0 to be skipped")
	}
}

func TestHTTPClientRejectsWrongAPIKey(t *testing.T) {
	srv := cloudtest.NewServer("correct-key")
	defer srv.Close()
	client := NewHTTPClient(srv.URL, "wrong-key", nil)
	_, err := client.ListDevices(context.Background())
	if err == nil {
		t.Fatal("expected error for wrong api key")
	}
	apiErr, ok := err.(*APIError)
	if !ok {
		t.Fatalf("expected *APIError, got %T: %v", err, err)
	}
	if apiErr.StatusCode != 401 {
		t.Fatalf("expected 401, got %d", apiErr.StatusCode)
	}
}
