package domain

import (
	"time"

	"github.com/berfenger/wastemon/pkg/plc_modbus"
)

type AlertKind string

const (
	ALERT_TEMP_HIGH       AlertKind = "temp_high"
	ALERT_TEMP_LOW        AlertKind = "temp_low"
	ALERT_PRESSURE_HIGH   AlertKind = "pressure_high"
	ALERT_PRESSURE_LOW    AlertKind = "pressure_low"
	ALERT_CO_HIGH         AlertKind = "co_high"
	ALERT_NOX_HIGH        AlertKind = "nox_high"
	ALERT_SO2_HIGH        AlertKind = "so2_high"
	ALERT_SENSOR          AlertKind = "sensor"
	ALERT_CONNECTION_LOST AlertKind = "connection_lost"
)

type Alert struct {
	Id        AlertID             `json:"id,omitempty"`
	Device    string              `json:"device"`
	Cycle     *CycleRef           `json:"cycle,omitempty"`
	Kind      AlertKind           `json:"kind"`
	Severity  plc_modbus.Severity `json:"severity"`
	Message   string              `json:"message"`
	Value     float64             `json:"value"`
	Threshold *float64            `json:"threshold,omitempty"`
	CreatedAt time.Time           `json:"created_at"`
	Resolved  bool                `json:"resolved"`
}
