package plc_modbus

import (
	"errors"
	"fmt"
)

var (
	ErrNotConnected       = errors.New("plc_modbus: transport not connected")
	ErrIncomplete         = errors.New("plc_modbus: incomplete reply frame")
	ErrChecksumFailed     = errors.New("plc_modbus: crc check failed")
	ErrTimeout            = errors.New("plc_modbus: request timed out")
	ErrUnexpectedReply    = errors.New("plc_modbus: unexpected reply")
	ErrInvalidQuantity    = errors.New("plc_modbus: invalid register quantity")
	ErrUnknownStatus      = errors.New("plc_modbus: unknown status code")
	ErrUnknownAlarm       = errors.New("plc_modbus: unknown alarm code")
	ErrShortRegisterBlock = errors.New("plc_modbus: register block too short")
)

// ConnectError is returned when the device cannot be reached. Callers retry on a later tick.
type ConnectError struct {
	Target string
	Err    error
}

func (e *ConnectError) Error() string {
	return fmt.Sprintf("plc_modbus: connect to %s: %v", e.Target, e.Err)
}

func (e *ConnectError) Unwrap() error {
	return e.Err
}

// ExceptionError is a well-formed exception reply sent by the slave.
type ExceptionError struct {
	Function byte
	Code     byte
}

func (e *ExceptionError) Error() string {
	return fmt.Sprintf("plc_modbus: exception 0x%02x (%s) for function 0x%02x", e.Code, exceptionName(e.Code), e.Function)
}

func exceptionName(code byte) string {
	switch code {
	case 0x01:
		return "illegal function"
	case 0x02:
		return "illegal data address"
	case 0x03:
		return "illegal data value"
	case 0x04:
		return "server device failure"
	case 0x05:
		return "acknowledge"
	case 0x06:
		return "server device busy"
	case 0x0A:
		return "gateway path unavailable"
	case 0x0B:
		return "gateway target failed to respond"
	default:
		return "unknown"
	}
}

// IsSoftError reports whether err is tick-local: the next tick may simply retry.
func IsSoftError(err error) bool {
	if err == nil {
		return false
	}
	var connErr *ConnectError
	var excErr *ExceptionError
	return errors.Is(err, ErrIncomplete) ||
		errors.Is(err, ErrChecksumFailed) ||
		errors.Is(err, ErrTimeout) ||
		errors.Is(err, ErrUnexpectedReply) ||
		errors.Is(err, ErrNotConnected) ||
		errors.As(err, &connErr) ||
		errors.As(err, &excErr)
}
