package cloud

import (
	"bytes"
	"context"
	"encoding/base64"
	"encoding/json"
	"fmt"
	"io"
	"log/slog"
	"net/http"
	"net/url"
	"strconv"
	"time"
)

// DefaultBaseURL is the vendor cloud API's base path.
const DefaultBaseURL = "https://api.tedee.com/api/v37"

// DefaultTimeout bounds any single cloud request.
const DefaultTimeout = 30 * time.Second

// HTTPClient is a Client implementation backed by net/http. No
// third-party HTTP client exists anywhere in the surrounding stack, so
// this is one of the few components built directly on the standard
// library rather than an imported package.
type HTTPClient struct {
	baseURL    string
	apiKey     string
	httpClient *http.Client
	log        *slog.Logger
}

// NewHTTPClient builds a cloud client authenticated with a personal
// access key. baseURL defaults to DefaultBaseURL when empty.
func NewHTTPClient(baseURL, apiKey string, log *slog.Logger) *HTTPClient {
	if baseURL == "" {
		baseURL = DefaultBaseURL
	}
	if log == nil {
		log = slog.Default()
	}
	return &HTTPClient{
		baseURL:    baseURL,
		apiKey:     apiKey,
		httpClient: &http.Client{Timeout: DefaultTimeout},
		log:        log.With("component", "cloud"),
	}
}

type envelope struct {
	Result        json.RawMessage `json:"result"`
	ErrorMessages []string        `json:"errorMessages"`
}

func (c *HTTPClient) do(ctx context.Context, method, path string, query url.Values, body any) (json.RawMessage, error) {
	var reqBody io.Reader
	if body != nil {
		encoded, err := json.Marshal(body)
		if err != nil {
			return nil, fmt.Errorf("cloud: encode request: %w", err)
		}
		reqBody = bytes.NewReader(encoded)
	}

	u := c.baseURL + path
	if len(query) > 0 {
		u += "?" + query.Encode()
	}
	req, err := http.NewRequestWithContext(ctx, method, u, reqBody)
	if err != nil {
		return nil, fmt.Errorf("cloud: build request: %w", err)
	}
	req.Header.Set("Authorization", "PersonalKey "+c.apiKey)
	if body != nil {
		req.Header.Set("Content-Type", "application/json")
	}

	resp, err := c.httpClient.Do(req)
	if err != nil {
		return nil, fmt.Errorf("cloud: %s %s: %w", method, path, err)
	}
	defer resp.Body.Close()

	raw, err := io.ReadAll(resp.Body)
	if err != nil {
		return nil, fmt.Errorf("cloud: read response: %w", err)
	}

	if resp.StatusCode >= 400 {
		var env envelope
		msg := string(raw)
		if json.Unmarshal(raw, &env) == nil && len(env.ErrorMessages) > 0 {
			msg = fmt.Sprintf("%v", env.ErrorMessages)
		}
		return nil, &APIError{StatusCode: resp.StatusCode, Message: msg}
	}

	var env envelope
	if err := json.Unmarshal(raw, &env); err != nil {
		return nil, fmt.Errorf("cloud: decode response: %w", err)
	}
	return env.Result, nil
}

type deviceDetailsResult struct {
	Locks []struct {
		ID           int64  `json:"id"`
		SerialNumber string `json:"serialNumber"`
		Name         string `json:"name"`
	} `json:"locks"`
}

// ListDevices implements Client.
func (c *HTTPClient) ListDevices(ctx context.Context) ([]Device, error) {
	result, err := c.do(ctx, http.MethodGet, "/my/device/details", nil, nil)
	if err != nil {
		return nil, err
	}
	var parsed deviceDetailsResult
	if err := json.Unmarshal(result, &parsed); err != nil {
		return nil, fmt.Errorf("cloud: decode device list: %w", err)
	}
	devices := make([]Device, 0, len(parsed.Locks))
	for _, l := range parsed.Locks {
		devices = append(devices, Device{ID: l.ID, SerialNumber: l.SerialNumber, Name: l.Name})
	}
	return devices, nil
}

// FindDeviceID implements Client.
func (c *HTTPClient) FindDeviceID(ctx context.Context, serial string) (int64, bool, error) {
	devices, err := c.ListDevices(ctx)
	if err != nil {
		return 0, false, err
	}
	for _, d := range devices {
		if d.SerialNumber == serial {
			return d.ID, true, nil
		}
	}
	return 0, false, nil
}

// RegisterMobile implements Client.
func (c *HTTPClient) RegisterMobile(ctx context.Context, publicKeyB64, name string) (string, error) {
	if name == "" {
		name = "ptlslock"
	}
	result, err := c.do(ctx, http.MethodPost, "/my/mobile", nil, map[string]any{
		"name":            name,
		"operatingSystem": 3, // Other/Linux
		"publicKey":       publicKeyB64,
	})
	if err != nil {
		return "", err
	}
	var parsed struct {
		ID string `json:"id"`
	}
	if err := json.Unmarshal(result, &parsed); err != nil {
		return "", fmt.Errorf("cloud: decode register_mobile response: %w", err)
	}
	c.log.Info("registered mobile device", "mobile_id", parsed.ID)
	return parsed.ID, nil
}

// GetDeviceCertificate implements Client.
func (c *HTTPClient) GetDeviceCertificate(ctx context.Context, mobileID string, deviceID int64) (Certificate, error) {
	query := url.Values{"mobileId": {mobileID}, "deviceId": {strconv.FormatInt(deviceID, 10)}}
	result, err := c.do(ctx, http.MethodGet, "/my/devicecertificate/getformobile", query, nil)
	if err != nil {
		return Certificate{}, err
	}
	var parsed struct {
		CertificateB64  string `json:"certificate"`
		ExpirationDate  string `json:"expirationDate"`
		DevicePublicKey string `json:"devicePublicKey"`
	}
	if err := json.Unmarshal(result, &parsed); err != nil {
		return Certificate{}, fmt.Errorf("cloud: decode certificate response: %w", err)
	}
	raw, err := base64.StdEncoding.DecodeString(parsed.CertificateB64)
	if err != nil {
		return Certificate{}, fmt.Errorf("cloud: decode certificate bytes: %w", err)
	}
	devicePub, err := base64.StdEncoding.DecodeString(parsed.DevicePublicKey)
	if err != nil {
		return Certificate{}, fmt.Errorf("cloud: decode device public key: %w", err)
	}
	expiration, err := time.Parse(time.RFC3339, parsed.ExpirationDate)
	if err != nil {
		return Certificate{}, fmt.Errorf("cloud: parse expiration date: %w", err)
	}
	c.log.Info("got device certificate", "expires", expiration)
	return Certificate{Raw: raw, ExpirationDate: expiration, DevicePublicKey: devicePub}, nil
}

// GetSignedTime implements Client.
func (c *HTTPClient) GetSignedTime(ctx context.Context) (SignedTime, error) {
	result, err := c.do(ctx, http.MethodGet, "/datetime/getsignedtime", nil, nil)
	if err != nil {
		return SignedTime{}, err
	}
	var parsed struct {
		DateTime  string `json:"datetime"`
		Signature string `json:"signature"`
	}
	if err := json.Unmarshal(result, &parsed); err != nil {
		return SignedTime{}, fmt.Errorf("cloud: decode signed time response: %w", err)
	}
	dt, err := base64.StdEncoding.DecodeString(parsed.DateTime)
	if err != nil {
		return SignedTime{}, fmt.Errorf("cloud: decode signed datetime bytes: %w", err)
	}
	sig, err := base64.StdEncoding.DecodeString(parsed.Signature)
	if err != nil {
		return SignedTime{}, fmt.Errorf("cloud: decode signed time signature: %w", err)
	}
	return SignedTime{DateTime: dt, Signature: sig}, nil
}

// DeleteMobile implements Client.
func (c *HTTPClient) DeleteMobile(ctx context.Context, mobileID string) error {
	_, err := c.do(ctx, http.MethodDelete, "/my/mobile/"+url.PathEscape(mobileID), nil, nil)
	if err != nil {
		return err
	}
	c.log.Info("deleted mobile device", "mobile_id", mobileID)
	return nil
}

type activityEntry struct {
	UserID   uint32 `json:"userId"`
	Username string `json:"username"`
}

// GetUserMap implements Client.
func (c *HTTPClient) GetUserMap(ctx context.Context, deviceID int64) (UserMap, error) {
	query := url.Values{"DeviceId": {strconv.FormatInt(deviceID, 10)}, "Elements": {"200"}}
	result, err := c.do(ctx, http.MethodGet, "/my/deviceactivity", query, nil)
	if err != nil {
		return nil, err
	}
	var entries []activityEntry
	if err := json.Unmarshal(result, &entries); err != nil {
		return nil, fmt.Errorf("cloud: decode activity log: %w", err)
	}
	userMap := make(UserMap)
	for _, e := range entries {
		if e.UserID == 0 || e.Username == "" {
			continue
		}
		if _, exists := userMap[e.UserID]; !exists {
			userMap[e.UserID] = e.Username
		}
	}
	return userMap, nil
}
