// Package lockproto implements the lock's opcode-based command/response
// protocol and notification parsing, carried as plaintext payloads over
// the encrypted PTLS record layer.
package lockproto

import "fmt"

// Opcode identifies a command sent to the lock.
type Opcode byte

const (
	OpGetBattery        Opcode = 0x0C
	OpLock              Opcode = 0x50
	OpUnlock            Opcode = 0x51
	OpPullSpring        Opcode = 0x52
	OpGetState          Opcode = 0x5A
	OpSetSignedDateTime Opcode = 0x71
)

func (o Opcode) String() string {
	switch o {
	case OpGetBattery:
		return "GET_BATTERY"
	case OpLock:
		return "LOCK"
	case OpUnlock:
		return "UNLOCK"
	case OpPullSpring:
		return "PULL_SPRING"
	case OpGetState:
		return "GET_STATE"
	case OpSetSignedDateTime:
		return "SET_SIGNED_DATETIME"
	default:
		return fmt.Sprintf("opcode(0x%02x)", byte(o))
	}
}

// UnlockMode parameterizes an UNLOCK command.
type UnlockMode byte

const (
	UnlockNormal UnlockMode = 0x00
	UnlockAuto   UnlockMode = 0x01
	UnlockForce  UnlockMode = 0x02
)

// LockMode parameterizes a LOCK command.
type LockMode byte

const (
	LockNormal LockMode = 0x00
	LockForce  LockMode = 0x02
)

// Result is the device's per-command result code, echoed as the second
// byte of every command response.
type Result byte

const (
	ResultSuccess                 Result = 0x00
	ResultInvalidParam            Result = 0x01
	ResultError                   Result = 0x02
	ResultBusy                    Result = 0x03
	ResultNotCalibrated           Result = 0x05
	ResultAutounlockConflict      Result = 0x06
	ResultNotConfigured           Result = 0x08
	ResultDismounted              Result = 0x09
	ResultOtherOperationInFlight  Result = 0x0A
)

var resultNames = map[Result]string{
	ResultSuccess:                "SUCCESS",
	ResultInvalidParam:           "INVALID_PARAM",
	ResultError:                  "ERROR",
	ResultBusy:                   "BUSY",
	ResultNotCalibrated:          "NOT_CALIBRATED",
	ResultAutounlockConflict:     "AUTOUNLOCK_CONFLICT",
	ResultNotConfigured:          "NOT_CONFIGURED",
	ResultDismounted:             "DISMOUNTED",
	ResultOtherOperationInFlight: "OTHER_OPERATION_IN_PROGRESS",
}

func (r Result) String() string {
	if name, ok := resultNames[r]; ok {
		return name
	}
	return fmt.Sprintf("result(0x%02x)", byte(r))
}

// CommandError wraps a non-zero result code returned by the device. It
// surfaces to the caller without tearing down the session.
type CommandError struct {
	Opcode Opcode
	Result Result
}

func (e *CommandError) Error() string {
	return fmt.Sprintf("lockproto: %s command failed: %s", e.Opcode, e.Result)
}

// LockState is the device's reported lock mechanism state.
type LockState byte

const (
	LockStateUncalibrated        LockState = 0x00
	LockStateCalibration         LockState = 0x01
	LockStateUnlocked            LockState = 0x02
	LockStatePartiallyUnlocked   LockState = 0x03
	LockStateUnlocking           LockState = 0x04
	LockStateLocking             LockState = 0x05
	LockStateLocked              LockState = 0x06
	LockStatePullSpring          LockState = 0x07
	LockStatePulling             LockState = 0x08
	LockStateUnknown             LockState = 0x09
)

var lockStateNames = map[LockState]string{
	LockStateUncalibrated:      "UNCALIBRATED",
	LockStateCalibration:       "CALIBRATION",
	LockStateUnlocked:          "UNLOCKED",
	LockStatePartiallyUnlocked: "PARTIALLY_UNLOCKED",
	LockStateUnlocking:         "UNLOCKING",
	LockStateLocking:           "LOCKING",
	LockStateLocked:            "LOCKED",
	LockStatePullSpring:        "PULL_SPRING",
	LockStatePulling:           "PULLING",
	LockStateUnknown:           "UNKNOWN",
}

func (s LockState) String() string {
	if name, ok := lockStateNames[s]; ok {
		return name
	}
	return fmt.Sprintf("lock_state(0x%02x)", byte(s))
}

// Status reports whether the last state change completed cleanly or the
// mechanism jammed.
type Status byte

const (
	StatusOK     Status = 0x00
	StatusJammed Status = 0x01
)

func (s Status) Jammed() bool { return s == StatusJammed }

// DoorState is the sticky door-sensor reading, updated only by
// notifications (command responses carry no door field).
type DoorState byte

const (
	DoorStateUnknown DoorState = 0x00
	DoorStateOpen    DoorState = 0x02
	DoorStateClosed  DoorState = 0x03
)

var doorStateNames = map[DoorState]string{
	DoorStateUnknown: "UNKNOWN",
	DoorStateOpen:    "OPEN",
	DoorStateClosed:  "CLOSED",
}

func (d DoorState) String() string {
	if name, ok := doorStateNames[d]; ok {
		return name
	}
	return fmt.Sprintf("door_state(0x%02x)", byte(d))
}

// Trigger identifies what caused a LOCK_STATUS_CHANGE notification.
type Trigger byte

const (
	TriggerButton    Trigger = 0x01
	TriggerRemote    Trigger = 0x02
	TriggerAutoLock  Trigger = 0x04
	TriggerDoorSensor Trigger = 0x10
)

var triggerNames = map[Trigger]string{
	TriggerButton:     "button",
	TriggerRemote:     "remote",
	TriggerAutoLock:   "auto_lock",
	TriggerDoorSensor: "door_sensor",
}

func (t Trigger) String() string {
	if name, ok := triggerNames[t]; ok {
		return name
	}
	return fmt.Sprintf("trigger(0x%02x)", byte(t))
}

// Notification ids, the first byte of a parsed (header-stripped /
// decrypted) notification body.
const (
	notifyLockStatusChange byte = 0xBA
	notifyNeedDateTime     byte = 0xA4
	notifySignedDateTimeAck byte = 0x7B
	notifyDeviceStats      byte = 0xE2
)
