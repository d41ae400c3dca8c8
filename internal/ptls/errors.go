package ptls

import "fmt"

// AlertCode identifies a PTLS alert, sent by the device to abort a
// handshake or an established session.
type AlertCode byte

const (
	AlertOK                 AlertCode = 0x00
	AlertGeneric            AlertCode = 0x01
	AlertNoTrustedTime      AlertCode = 0x02
	AlertSessionTimeout     AlertCode = 0x03
	AlertDisconnected       AlertCode = 0x04
	AlertInvalidCertificate AlertCode = 0x05
	AlertDeviceUnregistered AlertCode = 0x06
)

var alertNames = map[AlertCode]string{
	AlertOK:                 "ok",
	AlertGeneric:            "generic error",
	AlertNoTrustedTime:      "no trusted time",
	AlertSessionTimeout:     "session timeout (24h)",
	AlertDisconnected:       "disconnected",
	AlertInvalidCertificate: "invalid certificate",
	AlertDeviceUnregistered: "device unregistered",
}

func (c AlertCode) String() string {
	if name, ok := alertNames[c]; ok {
		return name
	}
	return fmt.Sprintf("unknown alert 0x%02x", byte(c))
}

// AlertError is raised whenever the device sends an alert frame, during the
// handshake or on the established record layer.
type AlertError struct {
	Code AlertCode
}

func (e *AlertError) Error() string {
	return fmt.Sprintf("ptls: alert: %s", e.Code)
}

// Recoverable reports whether the coordinator should retry the handshake
// exactly once after taking corrective action (refreshing the certificate
// or signed time) for this alert.
func (e *AlertError) Recoverable() bool {
	return e.Code == AlertInvalidCertificate || e.Code == AlertNoTrustedTime
}

// HandshakeError wraps any non-alert handshake failure: malformed frames,
// transcript/auth-data mismatches, or signature verification failure. It is
// always fatal for the current session.
type HandshakeError struct {
	Step string
	Err  error
}

func (e *HandshakeError) Error() string {
	return fmt.Sprintf("ptls: handshake: %s: %v", e.Step, e.Err)
}

func (e *HandshakeError) Unwrap() error { return e.Err }

func newHandshakeError(step string, err error) error {
	return &HandshakeError{Step: step, Err: err}
}

// errNotEstablished is the type of ErrNotEstablished.
type errNotEstablished struct{}

func (errNotEstablished) Error() string { return "ptls: session not established" }

// ErrNotEstablished is the sentinel value record-layer operations return
// before Handshake has completed.
var ErrNotEstablished error = errNotEstablished{}
