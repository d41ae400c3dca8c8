package lockproto

import "encoding/binary"

// Notification is the parsed payload of one async device notification.
// The concrete type identifies which notification id was received.
type Notification interface {
	isNotification()
}

// LockStatusChange reports a change in the lock mechanism or door sensor.
// access_id is only meaningful when non-zero; it is the raw numeric user
// id the device reports, resolved to a name by a higher layer via the
// cloud's user map.
type LockStatusChange struct {
	LockState LockState
	Status    Status
	Trigger   Trigger
	AccessID  uint32
	DoorState DoorState
}

func (LockStatusChange) isNotification() {}

// Jammed reports whether this status change left the mechanism jammed.
func (n LockStatusChange) Jammed() bool { return n.Status.Jammed() }

// NeedDateTime signals the device has no trusted time and a
// SET_SIGNED_DATETIME command must be sent before other commands will
// succeed.
type NeedDateTime struct{}

func (NeedDateTime) isNotification() {}

// SignedDateTimeAck acknowledges a previously-sent SET_SIGNED_DATETIME
// command.
type SignedDateTimeAck struct {
	Result Result
}

func (SignedDateTimeAck) isNotification() {}

// DeviceStats carries an opaque vendor telemetry blob. Decoding its
// contents is out of scope; callers needing it get the raw bytes.
type DeviceStats struct {
	Data []byte
}

func (DeviceStats) isNotification() {}

// UnknownNotification is returned for any notification id this package
// does not recognize.
type UnknownNotification struct {
	ID   byte
	Data []byte
}

func (UnknownNotification) isNotification() {}

// ParseNotification parses the header-stripped, decrypted body of one
// notification frame. It returns nil for an empty body, matching
// the device's occasional empty keep-alive frames.
func ParseNotification(data []byte) Notification {
	if len(data) == 0 {
		return nil
	}

	notifyID := data[0]
	switch notifyID {
	case notifyLockStatusChange:
		n := LockStatusChange{
			LockState: LockStateUnknown,
			DoorState: DoorStateUnknown,
		}
		if len(data) > 1 {
			n.LockState = LockState(data[1])
		}
		if len(data) > 2 {
			n.Status = Status(data[2])
		}
		if len(data) > 3 {
			n.Trigger = Trigger(data[3])
		}
		if len(data) > 7 {
			n.AccessID = binary.BigEndian.Uint32(data[4:8])
		}
		if len(data) > 8 {
			n.DoorState = DoorState(data[8])
		}
		return n

	case notifyNeedDateTime:
		return NeedDateTime{}

	case notifySignedDateTimeAck:
		res := Result(0xFF)
		if len(data) > 1 {
			res = Result(data[1])
		}
		return SignedDateTimeAck{Result: res}

	case notifyDeviceStats:
		return DeviceStats{Data: append([]byte{}, data[1:]...)}

	default:
		return UnknownNotification{ID: notifyID, Data: append([]byte{}, data...)}
	}
}
