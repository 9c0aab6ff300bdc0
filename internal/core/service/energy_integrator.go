package service

import (
	"errors"
	"fmt"
	"math"
	"time"

	"github.com/berfenger/wastemon/internal/core/domain"
	"github.com/shopspring/decimal"
)

var ErrUnorderedSamples = errors.New("energy: samples are not ordered by timestamp")

const (
	KWH_PRECISION    = 3
	LITER_PRECISION  = 2
	CARBON_PRECISION = 3
	COST_PRECISION   = 2
)

// IntegrateCycle reconstructs the consumption of one cycle from its samples
// with the trapezoidal rule. A sample pair missing a metric on either side
// contributes nothing to that metric.
func IntegrateCycle(cycle domain.CycleRef, samples []domain.EnergySample, wasteKg float64, tariff *domain.Tariff, carbonFactor float64) (domain.EnergyRecord, error) {
	for i := 1; i < len(samples); i++ {
		if samples[i].Timestamp.Before(samples[i-1].Timestamp) {
			return domain.EnergyRecord{}, fmt.Errorf("%w: sample %d at %s", ErrUnorderedSamples, i, samples[i].Timestamp.Format(time.RFC3339))
		}
	}
	if len(samples) < 2 {
		return domain.EmptyEnergyRecord(cycle), nil
	}

	var kwh, water, fuel float64
	for i := 1; i < len(samples); i++ {
		prev, cur := samples[i-1], samples[i]
		hours := cur.Timestamp.Sub(prev.Timestamp).Hours()
		kwh += trapezoid(prev.Power, cur.Power, hours)
		water += trapezoid(prev.SteamFlow, cur.SteamFlow, hours)
		fuel += trapezoid(prev.FuelFlow, cur.FuelFlow, hours)
	}

	rec := domain.EmptyEnergyRecord(cycle)
	rec.ElectricityKWh = round(kwh, KWH_PRECISION)
	rec.WaterLiters = round(water, LITER_PRECISION)
	rec.FuelLiters = round(fuel, LITER_PRECISION)
	rec.CarbonKg = round(kwh*carbonFactor, CARBON_PRECISION)

	// costs use the unrounded quantities
	if tariff != nil {
		t := *tariff
		rec.Tariff = &t
		rec.ElectricityCost = decimal.NewFromFloat(kwh).Mul(t.ElectricityPerKWh).Round(COST_PRECISION)
		rec.WaterCost = decimal.NewFromFloat(water).Mul(t.WaterPerLiter).Round(COST_PRECISION)
		rec.FuelCost = decimal.NewFromFloat(fuel).Mul(t.FuelPerLiter).Round(COST_PRECISION)
		rec.TotalCost = rec.ElectricityCost.Add(rec.WaterCost).Add(rec.FuelCost)
	}
	if wasteKg > 0 {
		rec.CostPerKg = rec.TotalCost.Div(decimal.NewFromFloat(wasteKg)).Round(COST_PRECISION)
	}
	return rec, nil
}

func trapezoid(a, b *float64, hours float64) float64 {
	if a == nil || b == nil {
		return 0
	}
	return (*a + *b) / 2 * hours
}

func round(v float64, places int) float64 {
	p := math.Pow10(places)
	return math.Round(v*p) / p
}

// SelectTariff picks the most recent tariff in effect at now.
func SelectTariff(tariffs []domain.Tariff, now time.Time) *domain.Tariff {
	var selected *domain.Tariff
	for i := range tariffs {
		t := &tariffs[i]
		if t.EffectiveFrom.After(now) {
			continue
		}
		if t.EffectiveTo != nil && !t.EffectiveTo.After(now) {
			continue
		}
		if selected == nil || t.EffectiveFrom.After(selected.EffectiveFrom) {
			selected = t
		}
	}
	if selected == nil {
		return nil
	}
	out := *selected
	return &out
}
