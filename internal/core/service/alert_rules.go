package service

import (
	"fmt"

	"github.com/berfenger/wastemon/internal/core/domain"
	"github.com/berfenger/wastemon/pkg/plc_modbus"
)

type Comparison int

const (
	CMP_ABOVE Comparison = iota
	CMP_BELOW
)

func (c Comparison) String() string {
	if c == CMP_BELOW {
		return "below"
	}
	return "above"
}

type AlertRule struct {
	Kind      domain.AlertKind
	Metric    string
	Unit      string
	Value     func(r plc_modbus.Reading) *float64
	Cmp       Comparison
	Threshold float64
	Severity  plc_modbus.Severity
	// Guard restricts the rule to some readings, nil means always
	Guard func(r plc_modbus.Reading) bool
}

// Breached returns the observed value when the rule fires. Rules on a
// missing metric never fire.
func (rule AlertRule) Breached(r plc_modbus.Reading) (float64, bool) {
	if rule.Guard != nil && !rule.Guard(r) {
		return 0, false
	}
	v := rule.Value(r)
	if v == nil {
		return 0, false
	}
	switch rule.Cmp {
	case CMP_ABOVE:
		return *v, *v > rule.Threshold
	case CMP_BELOW:
		return *v, *v < rule.Threshold
	}
	return *v, false
}

func (rule AlertRule) Message(value float64) string {
	return fmt.Sprintf("%s %.2f %s %s limit %.2f %s", rule.Metric, value, rule.Unit, rule.Cmp, rule.Threshold, rule.Unit)
}

func temperature(r plc_modbus.Reading) *float64 { return &r.Temperature }
func pressure(r plc_modbus.Reading) *float64    { return &r.Pressure }
func combustionTemp(r plc_modbus.Reading) *float64 {
	return r.CombustionTemp
}
func carbonMonoxide(r plc_modbus.Reading) *float64 { return r.CO }
func nitrogenOxides(r plc_modbus.Reading) *float64 { return r.NOx }
func sulfurDioxide(r plc_modbus.Reading) *float64  { return r.SO2 }

func sterilizing(r plc_modbus.Reading) bool {
	return r.Status == plc_modbus.STATUS_STERILIZING
}

var PressureVesselRules = []AlertRule{
	{Kind: domain.ALERT_TEMP_HIGH, Metric: "temperature", Unit: "°C", Value: temperature, Cmp: CMP_ABOVE, Threshold: 140, Severity: plc_modbus.SEVERITY_CRITICAL},
	{Kind: domain.ALERT_TEMP_LOW, Metric: "temperature", Unit: "°C", Value: temperature, Cmp: CMP_BELOW, Threshold: 115, Severity: plc_modbus.SEVERITY_WARNING, Guard: sterilizing},
	{Kind: domain.ALERT_PRESSURE_HIGH, Metric: "pressure", Unit: "bar", Value: pressure, Cmp: CMP_ABOVE, Threshold: 2.5, Severity: plc_modbus.SEVERITY_CRITICAL},
	{Kind: domain.ALERT_PRESSURE_LOW, Metric: "pressure", Unit: "bar", Value: pressure, Cmp: CMP_BELOW, Threshold: 0.8, Severity: plc_modbus.SEVERITY_WARNING, Guard: sterilizing},
}

var CombustionRules = []AlertRule{
	{Kind: domain.ALERT_TEMP_HIGH, Metric: "combustion temperature", Unit: "°C", Value: combustionTemp, Cmp: CMP_ABOVE, Threshold: 1200, Severity: plc_modbus.SEVERITY_CRITICAL},
	{Kind: domain.ALERT_TEMP_LOW, Metric: "combustion temperature", Unit: "°C", Value: combustionTemp, Cmp: CMP_BELOW, Threshold: 850, Severity: plc_modbus.SEVERITY_WARNING, Guard: sterilizing},
	{Kind: domain.ALERT_CO_HIGH, Metric: "CO", Unit: "ppm", Value: carbonMonoxide, Cmp: CMP_ABOVE, Threshold: 100, Severity: plc_modbus.SEVERITY_CRITICAL},
	{Kind: domain.ALERT_NOX_HIGH, Metric: "NOx", Unit: "ppm", Value: nitrogenOxides, Cmp: CMP_ABOVE, Threshold: 400, Severity: plc_modbus.SEVERITY_WARNING},
	{Kind: domain.ALERT_SO2_HIGH, Metric: "SO2", Unit: "ppm", Value: sulfurDioxide, Cmp: CMP_ABOVE, Threshold: 200, Severity: plc_modbus.SEVERITY_WARNING},
}

func RulesFor(class plc_modbus.DeviceClass) []AlertRule {
	if class == plc_modbus.CLASS_COMBUSTION {
		return CombustionRules
	}
	return PressureVesselRules
}
