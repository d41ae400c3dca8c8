// Package cloudtest provides a gin-based fake implementation of the
// vendor cloud HTTP API for tests, mirroring the real API's envelope
// shape closely enough to exercise internal/cloud.HTTPClient end to end
// without a network.
package cloudtest

import (
	"encoding/base64"
	"net/http"
	"net/http/httptest"
	"strconv"
	"sync"
	"time"

	"github.com/gin-gonic/gin"
)

// Lock is one device served by the fake cloud.
type Lock struct {
	ID           int64
	SerialNumber string
	Name         string
}

// Activity is one device activity log entry.
type Activity struct {
	UserID   uint32
	Username string
}

// Server is an in-process stand-in for the cloud API.
type Server struct {
	*httptest.Server

	mu              sync.Mutex
	locks           []Lock
	activity        map[int64][]Activity
	certExpiry      time.Time
	devicePublicKey []byte
	nextMobile      int
	deleted         map[string]bool
	apiKey          string
}

// NewServer starts a fake cloud server. apiKey, when non-empty, is
// required on every request's Authorization header.
func NewServer(apiKey string) *Server {
	gin.SetMode(gin.TestMode)
	s := &Server{
		activity:        make(map[int64][]Activity),
		certExpiry:      time.Now().Add(30 * 24 * time.Hour),
		devicePublicKey: make([]byte, 65),
		deleted:         make(map[string]bool),
		apiKey:          apiKey,
	}

	r := gin.New()
	r.Use(s.authMiddleware)
	r.GET("/my/device/details", s.handleDeviceDetails)
	r.POST("/my/mobile", s.handleRegisterMobile)
	r.DELETE("/my/mobile/:id", s.handleDeleteMobile)
	r.GET("/my/devicecertificate/getformobile", s.handleGetCertificate)
	r.GET("/datetime/getsignedtime", s.handleGetSignedTime)
	r.GET("/my/deviceactivity", s.handleDeviceActivity)

	s.Server = httptest.NewServer(r)
	return s
}

func (s *Server) authMiddleware(c *gin.Context) {
	if s.apiKey == "" {
		c.Next()
		return
	}
	want := "PersonalKey " + s.apiKey
	if c.GetHeader("Authorization") != want {
		c.AbortWithStatusJSON(http.StatusUnauthorized, gin.H{"errorMessages": []string{"invalid api key"}})
		return
	}
	c.Next()
}

// AddLock registers a lock the fake cloud will report back.
func (s *Server) AddLock(l Lock) {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.locks = append(s.locks, l)
}

// SetActivity replaces the activity log backing GetUserMap for deviceID.
func (s *Server) SetActivity(deviceID int64, entries []Activity) {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.activity[deviceID] = entries
}

// SetCertificateExpiry controls the expirationDate returned by
// GetDeviceCertificate, letting tests exercise refresh-threshold logic.
func (s *Server) SetCertificateExpiry(t time.Time) {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.certExpiry = t
}

// SetDevicePublicKey controls the devicePublicKey bytes returned by
// GetDeviceCertificate.
func (s *Server) SetDevicePublicKey(pub []byte) {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.devicePublicKey = pub
}

// WasDeleted reports whether DeleteMobile was called for mobileID.
func (s *Server) WasDeleted(mobileID string) bool {
	s.mu.Lock()
	defer s.mu.Unlock()
	return s.deleted[mobileID]
}

func (s *Server) handleDeviceDetails(c *gin.Context) {
	s.mu.Lock()
	defer s.mu.Unlock()
	locks := make([]gin.H, 0, len(s.locks))
	for _, l := range s.locks {
		locks = append(locks, gin.H{"id": l.ID, "serialNumber": l.SerialNumber, "name": l.Name})
	}
	c.JSON(http.StatusOK, gin.H{"result": gin.H{"locks": locks}})
}

func (s *Server) handleRegisterMobile(c *gin.Context) {
	s.mu.Lock()
	s.nextMobile++
	id := strconv.Itoa(s.nextMobile)
	s.mu.Unlock()
	c.JSON(http.StatusOK, gin.H{"result": gin.H{"id": id}})
}

func (s *Server) handleDeleteMobile(c *gin.Context) {
	id := c.Param("id")
	s.mu.Lock()
	s.deleted[id] = true
	s.mu.Unlock()
	c.JSON(http.StatusOK, gin.H{"result": nil})
}

func (s *Server) handleGetCertificate(c *gin.Context) {
	s.mu.Lock()
	expiry := s.certExpiry
	devicePub := s.devicePublicKey
	s.mu.Unlock()
	cert := base64.StdEncoding.EncodeToString([]byte("fake-device-certificate"))
	c.JSON(http.StatusOK, gin.H{"result": gin.H{
		"certificate":     cert,
		"expirationDate":  expiry.UTC().Format(time.RFC3339),
		"devicePublicKey": base64.StdEncoding.EncodeToString(devicePub),
	}})
}

func (s *Server) handleGetSignedTime(c *gin.Context) {
	dt := base64.StdEncoding.EncodeToString([]byte("fake-signed-datetime"))
	sig := base64.StdEncoding.EncodeToString([]byte("fake-signature"))
	c.JSON(http.StatusOK, gin.H{"result": gin.H{"datetime": dt, "signature": sig}})
}

func (s *Server) handleDeviceActivity(c *gin.Context) {
	deviceID, _ := strconv.ParseInt(c.Query("DeviceId"), 10, 64)
	s.mu.Lock()
	entries := s.activity[deviceID]
	s.mu.Unlock()
	result := make([]gin.H, 0, len(entries))
	for _, e := range entries {
		result = append(result, gin.H{"userId": e.UserID, "username": e.Username})
	}
	c.JSON(http.StatusOK, gin.H{"result": result})
}
