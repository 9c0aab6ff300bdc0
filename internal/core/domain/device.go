package domain

import (
	"time"

	"github.com/berfenger/wastemon/pkg/plc_modbus"
)

type DeviceStatus string

const (
	DEVICE_STATUS_ONLINE  DeviceStatus = "online"
	DEVICE_STATUS_OFFLINE DeviceStatus = "offline"
	DEVICE_STATUS_ERROR   DeviceStatus = "error"
)

const DEFAULT_POLL_INTERVAL = 5 * time.Second

// DeviceProfile is the immutable snapshot a polling loop is started with.
type DeviceProfile struct {
	Serial       string
	Name         string
	Class        plc_modbus.DeviceClass
	Connection   plc_modbus.ConnectionConfig
	PollInterval time.Duration
}

func (d DeviceProfile) Interval() time.Duration {
	if d.PollInterval <= 0 {
		return DEFAULT_POLL_INTERVAL
	}
	return d.PollInterval
}

type CycleRef string

type ReadingID string

type AlertID string
