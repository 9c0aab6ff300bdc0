package domain

import (
	"time"

	"github.com/berfenger/wastemon/pkg/plc_modbus"
	"github.com/shopspring/decimal"
)

const DEFAULT_CARBON_FACTOR = 0.592 // kg CO2 per kWh

// EnergySample is the slice of a reading the integrator needs.
type EnergySample struct {
	Timestamp time.Time
	Power     *float64 // kW
	SteamFlow *float64 // kg/h, taken 1:1 as liters of water
	FuelFlow  *float64 // L/h
}

type Tariff struct {
	Name              string          `json:"name"`
	ElectricityPerKWh decimal.Decimal `json:"electricity_per_kwh"`
	WaterPerLiter     decimal.Decimal `json:"water_per_liter"`
	FuelPerLiter      decimal.Decimal `json:"fuel_per_liter"`
	EffectiveFrom     time.Time       `json:"effective_from"`
	EffectiveTo       *time.Time      `json:"effective_to,omitempty"`
}

type EnergyRecord struct {
	Cycle           CycleRef        `json:"cycle"`
	ElectricityKWh  float64         `json:"electricity_kwh"`
	WaterLiters     float64         `json:"water_liters"`
	FuelLiters      float64         `json:"fuel_liters"`
	ElectricityCost decimal.Decimal `json:"electricity_cost"`
	WaterCost       decimal.Decimal `json:"water_cost"`
	FuelCost        decimal.Decimal `json:"fuel_cost"`
	TotalCost       decimal.Decimal `json:"total_cost"`
	CarbonKg        float64         `json:"carbon_kg"`
	CostPerKg       decimal.Decimal `json:"cost_per_kg"`
	Tariff          *Tariff         `json:"tariff,omitempty"`
	ComputedAt      time.Time       `json:"computed_at"`
}

// EmptyEnergyRecord is the result for cycles with fewer than two samples.
func EmptyEnergyRecord(cycle CycleRef) EnergyRecord {
	return EnergyRecord{
		Cycle:           cycle,
		ElectricityCost: decimal.Zero,
		WaterCost:       decimal.Zero,
		FuelCost:        decimal.Zero,
		TotalCost:       decimal.Zero,
		CostPerKg:       decimal.Zero,
	}
}

// SampleOf extracts the integrated metrics of a reading.
func SampleOf(r plc_modbus.Reading) EnergySample {
	power := r.Power
	s := EnergySample{Timestamp: r.Timestamp, Power: &power}
	if r.SteamFlow != nil {
		v := *r.SteamFlow
		s.SteamFlow = &v
	}
	if r.FuelFlow != nil {
		v := *r.FuelFlow
		s.FuelFlow = &v
	}
	return s
}
