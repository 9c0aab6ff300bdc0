package plc_modbus

import (
	"fmt"
	"math"
	"time"
)

// Holding register layout of the sterilizer/incinerator PLC.
const (
	REG_TEMPERATURE uint16 = iota
	REG_PRESSURE
	REG_STEAM_FLOW
	REG_WATER_LEVEL
	REG_POWER
	REG_STATUS
	REG_DOOR_LOCKED
	REG_HEATER_ON
	REG_PUMP_ON
	REG_CYCLE_NUMBER
	REG_TOTAL_CYCLES
	REG_ALARM_CODE
	REG_COMBUSTION_TEMPERATURE
	REG_EXHAUST_TEMPERATURE
	REG_CO
	REG_NOX
	REG_SO2
	REG_CO2
	REG_FUEL_FLOW
)

const (
	PRESSURE_VESSEL_REGISTER_COUNT uint16 = 12
	COMBUSTION_REGISTER_COUNT      uint16 = 19
)

const (
	SCALE_TEMPERATURE = 10.0
	SCALE_PRESSURE    = 100.0
	SCALE_STEAM_FLOW  = 10.0
	SCALE_WATER_LEVEL = 1.0
	SCALE_POWER       = 10.0
	SCALE_COMBUSTION  = 1.0
	SCALE_GAS         = 1.0
	SCALE_FUEL_FLOW   = 10.0
)

type DeviceClass string

const (
	CLASS_PRESSURE_VESSEL DeviceClass = "autoclave"
	CLASS_COMBUSTION      DeviceClass = "incinerator"
)

func (c DeviceClass) Valid() bool {
	return c == CLASS_PRESSURE_VESSEL || c == CLASS_COMBUSTION
}

// RegisterCount is the size of the register block polled for a device class.
func RegisterCount(class DeviceClass) uint16 {
	if class == CLASS_COMBUSTION {
		return COMBUSTION_REGISTER_COUNT
	}
	return PRESSURE_VESSEL_REGISTER_COUNT
}

type Status string

const (
	STATUS_IDLE        Status = "idle"
	STATUS_HEATING     Status = "heating"
	STATUS_STERILIZING Status = "sterilizing"
	STATUS_COOLING     Status = "cooling"
	STATUS_COMPLETE    Status = "complete"
	STATUS_ERROR       Status = "error"
)

var statusByCode = []Status{
	STATUS_IDLE,
	STATUS_HEATING,
	STATUS_STERILIZING,
	STATUS_COOLING,
	STATUS_COMPLETE,
	STATUS_ERROR,
}

func StatusFromCode(code uint16) (Status, error) {
	if int(code) >= len(statusByCode) {
		return "", fmt.Errorf("%w: %d", ErrUnknownStatus, code)
	}
	return statusByCode[code], nil
}

func (s Status) Code() uint16 {
	for i := range statusByCode {
		if statusByCode[i] == s {
			return uint16(i)
		}
	}
	return uint16(len(statusByCode) - 1)
}

// Running reports whether a processing cycle is in progress.
func (s Status) Running() bool {
	return s == STATUS_HEATING || s == STATUS_STERILIZING || s == STATUS_COOLING
}

// Reading is one decoded sample. Combustion-only metrics and steam flow are nil
// when the device does not expose them.
type Reading struct {
	Timestamp      time.Time `json:"timestamp"`
	Temperature    float64   `json:"temperature_c"`
	Pressure       float64   `json:"pressure_bar"`
	SteamFlow      *float64  `json:"steam_flow_kg_h,omitempty"`
	WaterLevel     float64   `json:"water_level_pct"`
	Power          float64   `json:"power_kw"`
	Status         Status    `json:"status"`
	DoorLocked     bool      `json:"door_locked"`
	HeaterOn       bool      `json:"heater_on"`
	PumpOn         bool      `json:"pump_on"`
	CycleNumber    uint16    `json:"cycle_number"`
	TotalCycles    uint16    `json:"total_cycles"`
	AlarmCode      uint16    `json:"alarm_code"`
	CombustionTemp *float64  `json:"combustion_temp_c,omitempty"`
	ExhaustTemp    *float64  `json:"exhaust_temp_c,omitempty"`
	CO             *float64  `json:"co_ppm,omitempty"`
	NOx            *float64  `json:"nox_ppm,omitempty"`
	SO2            *float64  `json:"so2_ppm,omitempty"`
	CO2            *float64  `json:"co2_ppm,omitempty"`
	FuelFlow       *float64  `json:"fuel_flow_l_h,omitempty"`
}

// Alarm returns the alarm table entry for the captured alarm code.
func (r Reading) Alarm() Alarm {
	return LookupAlarm(r.AlarmCode)
}

// DecodeRegisters maps a register block starting at address 0 to a Reading.
func DecodeRegisters(regs []uint16, at time.Time) (Reading, error) {
	if len(regs) < int(PRESSURE_VESSEL_REGISTER_COUNT) {
		return Reading{}, fmt.Errorf("%w: %d registers", ErrShortRegisterBlock, len(regs))
	}
	status, err := StatusFromCode(regs[REG_STATUS])
	if err != nil {
		return Reading{}, err
	}
	r := Reading{
		Timestamp:   at,
		Temperature: scaled(regs[REG_TEMPERATURE], SCALE_TEMPERATURE),
		Pressure:    scaled(regs[REG_PRESSURE], SCALE_PRESSURE),
		SteamFlow:   ptr(scaled(regs[REG_STEAM_FLOW], SCALE_STEAM_FLOW)),
		WaterLevel:  scaled(regs[REG_WATER_LEVEL], SCALE_WATER_LEVEL),
		Power:       scaled(regs[REG_POWER], SCALE_POWER),
		Status:      status,
		DoorLocked:  regs[REG_DOOR_LOCKED] != 0,
		HeaterOn:    regs[REG_HEATER_ON] != 0,
		PumpOn:      regs[REG_PUMP_ON] != 0,
		CycleNumber: regs[REG_CYCLE_NUMBER],
		TotalCycles: regs[REG_TOTAL_CYCLES],
		AlarmCode:   regs[REG_ALARM_CODE],
	}
	if len(regs) >= int(COMBUSTION_REGISTER_COUNT) {
		r.CombustionTemp = ptr(scaled(regs[REG_COMBUSTION_TEMPERATURE], SCALE_COMBUSTION))
		r.ExhaustTemp = ptr(scaled(regs[REG_EXHAUST_TEMPERATURE], SCALE_COMBUSTION))
		r.CO = ptr(scaled(regs[REG_CO], SCALE_GAS))
		r.NOx = ptr(scaled(regs[REG_NOX], SCALE_GAS))
		r.SO2 = ptr(scaled(regs[REG_SO2], SCALE_GAS))
		r.CO2 = ptr(scaled(regs[REG_CO2], SCALE_GAS))
		r.FuelFlow = ptr(scaled(regs[REG_FUEL_FLOW], SCALE_FUEL_FLOW))
	}
	return r, nil
}

// EncodeRegisters is the inverse of DecodeRegisters. Values are rounded to the
// register resolution and clamped to the uint16 range.
func EncodeRegisters(r Reading) []uint16 {
	n := PRESSURE_VESSEL_REGISTER_COUNT
	if r.CombustionTemp != nil {
		n = COMBUSTION_REGISTER_COUNT
	}
	regs := make([]uint16, n)
	regs[REG_TEMPERATURE] = unscaled(r.Temperature, SCALE_TEMPERATURE)
	regs[REG_PRESSURE] = unscaled(r.Pressure, SCALE_PRESSURE)
	regs[REG_STEAM_FLOW] = unscaled(deref(r.SteamFlow), SCALE_STEAM_FLOW)
	regs[REG_WATER_LEVEL] = unscaled(r.WaterLevel, SCALE_WATER_LEVEL)
	regs[REG_POWER] = unscaled(r.Power, SCALE_POWER)
	regs[REG_STATUS] = r.Status.Code()
	regs[REG_DOOR_LOCKED] = boolRegister(r.DoorLocked)
	regs[REG_HEATER_ON] = boolRegister(r.HeaterOn)
	regs[REG_PUMP_ON] = boolRegister(r.PumpOn)
	regs[REG_CYCLE_NUMBER] = r.CycleNumber
	regs[REG_TOTAL_CYCLES] = r.TotalCycles
	regs[REG_ALARM_CODE] = r.AlarmCode
	if n == COMBUSTION_REGISTER_COUNT {
		regs[REG_COMBUSTION_TEMPERATURE] = unscaled(deref(r.CombustionTemp), SCALE_COMBUSTION)
		regs[REG_EXHAUST_TEMPERATURE] = unscaled(deref(r.ExhaustTemp), SCALE_COMBUSTION)
		regs[REG_CO] = unscaled(deref(r.CO), SCALE_GAS)
		regs[REG_NOX] = unscaled(deref(r.NOx), SCALE_GAS)
		regs[REG_SO2] = unscaled(deref(r.SO2), SCALE_GAS)
		regs[REG_CO2] = unscaled(deref(r.CO2), SCALE_GAS)
		regs[REG_FUEL_FLOW] = unscaled(deref(r.FuelFlow), SCALE_FUEL_FLOW)
	}
	return regs
}

func scaled(raw uint16, scale float64) float64 {
	return float64(raw) / scale
}

func unscaled(value float64, scale float64) uint16 {
	v := math.Round(value * scale)
	if v < 0 {
		return 0
	}
	if v > math.MaxUint16 {
		return math.MaxUint16
	}
	return uint16(v)
}

func boolRegister(b bool) uint16 {
	if b {
		return 1
	}
	return 0
}

func ptr(v float64) *float64 {
	return &v
}

func deref(v *float64) float64 {
	if v == nil {
		return 0
	}
	return *v
}
