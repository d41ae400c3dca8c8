package lockproto

import "fmt"

// BuildUnlock encodes an UNLOCK command with the given mode.
func BuildUnlock(mode UnlockMode) []byte {
	return []byte{byte(OpUnlock), byte(mode)}
}

// BuildLock encodes a LOCK command with the given mode.
func BuildLock(mode LockMode) []byte {
	return []byte{byte(OpLock), byte(mode)}
}

// BuildPullSpring encodes a PULL_SPRING command.
func BuildPullSpring() []byte {
	return []byte{byte(OpPullSpring)}
}

// BuildGetState encodes a GET_STATE command.
func BuildGetState() []byte {
	return []byte{byte(OpGetState)}
}

// BuildGetBattery encodes a GET_BATTERY command.
func BuildGetBattery() []byte {
	return []byte{byte(OpGetBattery)}
}

// BuildSetSignedDateTime encodes a SET_SIGNED_DATETIME command from the raw
// datetime and signature blobs returned by the cloud's signed-time
// endpoint.
func BuildSetSignedDateTime(datetime, signature []byte) []byte {
	payload := make([]byte, 0, 1+len(datetime)+len(signature))
	payload = append(payload, byte(OpSetSignedDateTime))
	payload = append(payload, datetime...)
	payload = append(payload, signature...)
	return payload
}

// StateResult is the parsed response to a GET_STATE command.
type StateResult struct {
	LockState LockState
	Status    Status
}

// ParseCommandResponse strips the leading echoed opcode from a decrypted
// command response and checks the result byte, returning a *CommandError
// if the device reported failure.
func ParseCommandResponse(op Opcode, response []byte) ([]byte, error) {
	if len(response) == 0 {
		return nil, fmt.Errorf("lockproto: empty %s response", op)
	}
	body := response[1:]
	if len(body) == 0 {
		return nil, fmt.Errorf("lockproto: %s response missing result byte", op)
	}
	result := Result(body[0])
	if result != ResultSuccess {
		return nil, &CommandError{Opcode: op, Result: result}
	}
	return body[1:], nil
}

// ParseGetState parses the data following the result byte of a GET_STATE
// response: lock_state is required, status defaults to StatusOK when the
// device omits it (fewer than 2 bytes of data).
func ParseGetState(data []byte) (StateResult, error) {
	if len(data) < 1 {
		return StateResult{}, fmt.Errorf("lockproto: get_state response missing lock_state")
	}
	res := StateResult{LockState: LockState(data[0]), Status: StatusOK}
	if len(data) > 1 {
		res.Status = Status(data[1])
	}
	return res, nil
}

// BatteryResult is the parsed response to a GET_BATTERY command.
type BatteryResult struct {
	LevelPercent int
	Charging     bool
}

// ParseBattery parses the data following the result byte of a GET_BATTERY
// response: charging defaults to false when the device omits it.
func ParseBattery(data []byte) (BatteryResult, error) {
	if len(data) < 1 {
		return BatteryResult{}, fmt.Errorf("lockproto: get_battery response missing level")
	}
	res := BatteryResult{LevelPercent: int(data[0])}
	if len(data) > 1 {
		res.Charging = data[1] == 0x01
	}
	return res, nil
}
