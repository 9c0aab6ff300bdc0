package service

import (
	"context"
	"fmt"
	"time"

	"github.com/berfenger/wastemon/internal/core/domain"
	"github.com/berfenger/wastemon/internal/core/port"
	"go.uber.org/zap"
)

type EnergyStorage interface {
	port.CycleStore
	port.CycleLifecycle
	port.EnergyStore
}

type EnergyService struct {
	Storage      EnergyStorage
	Tariffs      port.TariffProvider
	CarbonFactor float64
	Logger       *zap.Logger
	Now          func() time.Time
}

func NewEnergyService(storage EnergyStorage, tariffs port.TariffProvider, carbonFactor float64, logger *zap.Logger) *EnergyService {
	if carbonFactor <= 0 {
		carbonFactor = domain.DEFAULT_CARBON_FACTOR
	}
	return &EnergyService{
		Storage:      storage,
		Tariffs:      tariffs,
		CarbonFactor: carbonFactor,
		Logger:       logger,
		Now:          time.Now,
	}
}

// CompleteCycle closes a cycle and computes its energy record.
func (s *EnergyService) CompleteCycle(ctx context.Context, cycle domain.CycleRef) (domain.EnergyRecord, error) {
	if err := s.Storage.CompleteCycle(ctx, cycle, s.Now()); err != nil {
		return domain.EnergyRecord{}, fmt.Errorf("energy: complete cycle %s: %w", cycle, err)
	}
	return s.ComputeCycle(ctx, cycle)
}

// ComputeCycle integrates the stored samples of a cycle and upserts its energy record.
func (s *EnergyService) ComputeCycle(ctx context.Context, cycle domain.CycleRef) (domain.EnergyRecord, error) {
	samples, err := s.Storage.CycleSamples(ctx, cycle)
	if err != nil {
		return domain.EnergyRecord{}, fmt.Errorf("energy: load samples of cycle %s: %w", cycle, err)
	}
	weight, err := s.Storage.CycleWasteWeight(ctx, cycle)
	if err != nil {
		return domain.EnergyRecord{}, fmt.Errorf("energy: load waste weight of cycle %s: %w", cycle, err)
	}
	var tariff *domain.Tariff
	if s.Tariffs != nil {
		if tariff, err = s.Tariffs.CurrentTariff(ctx); err != nil {
			return domain.EnergyRecord{}, fmt.Errorf("energy: tariff: %w", err)
		}
	}

	record, err := IntegrateCycle(cycle, samples, weight, tariff, s.CarbonFactor)
	if err != nil {
		return domain.EnergyRecord{}, err
	}
	record.ComputedAt = s.Now()
	if err := s.Storage.UpsertEnergyRecord(ctx, record); err != nil {
		return domain.EnergyRecord{}, fmt.Errorf("energy: save record of cycle %s: %w", cycle, err)
	}
	s.Logger.Info("cycle energy computed", zap.String("cycle", string(cycle)), zap.Int("samples", len(samples)),
		zap.Float64("kwh", record.ElectricityKWh), zap.String("total_cost", record.TotalCost.StringFixed(COST_PRECISION)))
	return record, nil
}
