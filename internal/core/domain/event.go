package domain

import (
	"fmt"
	"time"

	"github.com/berfenger/wastemon/pkg/plc_modbus"
)

type DeviceEventMixIn struct {
	Device string
}

type DeviceEvent interface {
	DeviceEvent() string
	DeviceSerial() string
}

func (e DeviceEventMixIn) DeviceEvent() string {
	return fmt.Sprintf("%T", e)
}

func (e DeviceEventMixIn) DeviceSerial() string {
	return e.Device
}

type TelemetryEvent struct {
	DeviceEventMixIn
	Reading plc_modbus.Reading
}

type AlertEvent struct {
	DeviceEventMixIn
	Alert Alert
}

type DeviceStatusEvent struct {
	DeviceEventMixIn
	Status DeviceStatus
	At     time.Time
}
