package plc_modbus

import "fmt"

type Coil uint16

const (
	COIL_REMOTE_START Coil = 0
	COIL_REMOTE_STOP  Coil = 1
	COIL_DOOR_LOCK    Coil = 2
	COIL_ALARM_RESET  Coil = 3
)

var coilNames = map[Coil]string{
	COIL_REMOTE_START: "remote_start",
	COIL_REMOTE_STOP:  "remote_stop",
	COIL_DOOR_LOCK:    "door_lock",
	COIL_ALARM_RESET:  "alarm_reset",
}

func (c Coil) Address() uint16 {
	return uint16(c)
}

func (c Coil) String() string {
	if name, ok := coilNames[c]; ok {
		return name
	}
	return fmt.Sprintf("coil_%d", uint16(c))
}

func ParseCoil(name string) (Coil, error) {
	for c, n := range coilNames {
		if n == name {
			return c, nil
		}
	}
	return 0, fmt.Errorf("plc_modbus: unknown coil %q", name)
}
