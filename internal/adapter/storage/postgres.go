package storage

import (
	"context"
	"database/sql"
	"errors"
	"fmt"
	"time"

	"github.com/berfenger/wastemon/internal/core/domain"
	"github.com/berfenger/wastemon/internal/core/port"
	"github.com/berfenger/wastemon/pkg/plc_modbus"
	"github.com/google/uuid"
	_ "github.com/lib/pq"
	"go.uber.org/zap"
)

const schema = `
CREATE TABLE IF NOT EXISTS devices (
	serial     TEXT PRIMARY KEY,
	status     TEXT NOT NULL,
	last_seen  TIMESTAMPTZ
);
CREATE TABLE IF NOT EXISTS cycles (
	id            UUID PRIMARY KEY,
	device_serial TEXT NOT NULL,
	waste_kg      DOUBLE PRECISION NOT NULL DEFAULT 0,
	started_at    TIMESTAMPTZ NOT NULL,
	completed_at  TIMESTAMPTZ
);
CREATE INDEX IF NOT EXISTS cycles_open_idx ON cycles (device_serial, started_at DESC) WHERE completed_at IS NULL;
CREATE TABLE IF NOT EXISTS readings (
	id              UUID PRIMARY KEY,
	device_serial   TEXT NOT NULL,
	cycle_id        UUID,
	ts              TIMESTAMPTZ NOT NULL,
	temperature_c   DOUBLE PRECISION NOT NULL,
	pressure_bar    DOUBLE PRECISION NOT NULL,
	steam_flow      DOUBLE PRECISION,
	water_level     DOUBLE PRECISION NOT NULL,
	power_kw        DOUBLE PRECISION NOT NULL,
	status          TEXT NOT NULL,
	door_locked     BOOLEAN NOT NULL,
	heater_on       BOOLEAN NOT NULL,
	pump_on         BOOLEAN NOT NULL,
	cycle_number    INTEGER NOT NULL,
	total_cycles    INTEGER NOT NULL,
	alarm_code      INTEGER NOT NULL,
	combustion_temp DOUBLE PRECISION,
	exhaust_temp    DOUBLE PRECISION,
	co_ppm          DOUBLE PRECISION,
	nox_ppm         DOUBLE PRECISION,
	so2_ppm         DOUBLE PRECISION,
	co2_ppm         DOUBLE PRECISION,
	fuel_flow       DOUBLE PRECISION
);
CREATE INDEX IF NOT EXISTS readings_cycle_idx ON readings (cycle_id, ts);
CREATE TABLE IF NOT EXISTS alerts (
	id            UUID PRIMARY KEY,
	device_serial TEXT NOT NULL,
	cycle_id      UUID,
	kind          TEXT NOT NULL,
	severity      TEXT NOT NULL,
	message       TEXT NOT NULL,
	value         DOUBLE PRECISION NOT NULL,
	threshold     DOUBLE PRECISION,
	created_at    TIMESTAMPTZ NOT NULL,
	resolved      BOOLEAN NOT NULL DEFAULT FALSE
);
CREATE INDEX IF NOT EXISTS alerts_open_idx ON alerts (device_serial, kind) WHERE NOT resolved;
CREATE TABLE IF NOT EXISTS energy_records (
	cycle_id         UUID PRIMARY KEY,
	electricity_kwh  DOUBLE PRECISION NOT NULL,
	water_liters     DOUBLE PRECISION NOT NULL,
	fuel_liters      DOUBLE PRECISION NOT NULL,
	electricity_cost NUMERIC(14,2) NOT NULL,
	water_cost       NUMERIC(14,2) NOT NULL,
	fuel_cost        NUMERIC(14,2) NOT NULL,
	total_cost       NUMERIC(14,2) NOT NULL,
	carbon_kg        DOUBLE PRECISION NOT NULL,
	cost_per_kg      NUMERIC(14,2) NOT NULL,
	tariff_name      TEXT,
	computed_at      TIMESTAMPTZ NOT NULL
);
CREATE TABLE IF NOT EXISTS tariffs (
	name                TEXT PRIMARY KEY,
	electricity_per_kwh NUMERIC(14,4) NOT NULL,
	water_per_liter     NUMERIC(14,4) NOT NULL,
	fuel_per_liter      NUMERIC(14,4) NOT NULL,
	effective_from      TIMESTAMPTZ NOT NULL,
	effective_to        TIMESTAMPTZ
);
`

type PostgresStorage struct {
	db     *sql.DB
	logger *zap.Logger
}

func NewPostgresStorage(ctx context.Context, dsn string, logger *zap.Logger) (*PostgresStorage, error) {
	db, err := sql.Open("postgres", dsn)
	if err != nil {
		return nil, fmt.Errorf("%w: open database: %v", port.ErrStorage, err)
	}

	db.SetMaxOpenConns(10)
	db.SetMaxIdleConns(5)
	db.SetConnMaxLifetime(5 * time.Minute)

	if err := db.PingContext(ctx); err != nil {
		_ = db.Close()
		return nil, fmt.Errorf("%w: ping database: %v", port.ErrStorage, err)
	}
	return &PostgresStorage{db: db, logger: logger}, nil
}

func (s *PostgresStorage) Migrate(ctx context.Context) error {
	if _, err := s.db.ExecContext(ctx, schema); err != nil {
		return wrap("migrate", err)
	}
	s.logger.Info("database schema ready")
	return nil
}

func (s *PostgresStorage) Close() error {
	return s.db.Close()
}

func wrap(op string, err error) error {
	return fmt.Errorf("%w: %s: %v", port.ErrStorage, op, err)
}

func nullCycle(cycle *domain.CycleRef) sql.NullString {
	if cycle == nil {
		return sql.NullString{}
	}
	return sql.NullString{String: string(*cycle), Valid: true}
}

func (s *PostgresStorage) SaveReading(ctx context.Context, device string, cycle *domain.CycleRef, r plc_modbus.Reading) (domain.ReadingID, error) {
	id := uuid.NewString()
	_, err := s.db.ExecContext(ctx,
		`INSERT INTO readings (id, device_serial, cycle_id, ts, temperature_c, pressure_bar, steam_flow, water_level, power_kw,
			status, door_locked, heater_on, pump_on, cycle_number, total_cycles, alarm_code,
			combustion_temp, exhaust_temp, co_ppm, nox_ppm, so2_ppm, co2_ppm, fuel_flow)
		 VALUES ($1, $2, $3, $4, $5, $6, $7, $8, $9, $10, $11, $12, $13, $14, $15, $16, $17, $18, $19, $20, $21, $22, $23)`,
		id, device, nullCycle(cycle), r.Timestamp, r.Temperature, r.Pressure, r.SteamFlow, r.WaterLevel, r.Power,
		string(r.Status), r.DoorLocked, r.HeaterOn, r.PumpOn, int(r.CycleNumber), int(r.TotalCycles), int(r.AlarmCode),
		r.CombustionTemp, r.ExhaustTemp, r.CO, r.NOx, r.SO2, r.CO2, r.FuelFlow,
	)
	if err != nil {
		return "", wrap("save reading", err)
	}
	return domain.ReadingID(id), nil
}

func (s *PostgresStorage) SaveAlert(ctx context.Context, a domain.Alert) (domain.AlertID, error) {
	id := uuid.NewString()
	_, err := s.db.ExecContext(ctx,
		`INSERT INTO alerts (id, device_serial, cycle_id, kind, severity, message, value, threshold, created_at, resolved)
		 VALUES ($1, $2, $3, $4, $5, $6, $7, $8, $9, $10)`,
		id, a.Device, nullCycle(a.Cycle), string(a.Kind), string(a.Severity), a.Message, a.Value, a.Threshold, a.CreatedAt, a.Resolved,
	)
	if err != nil {
		return "", wrap("save alert", err)
	}
	return domain.AlertID(id), nil
}

func (s *PostgresStorage) HasOpenAlert(ctx context.Context, device string, kind domain.AlertKind) (bool, error) {
	var open bool
	err := s.db.QueryRowContext(ctx,
		`SELECT EXISTS (SELECT 1 FROM alerts WHERE device_serial = $1 AND kind = $2 AND NOT resolved)`,
		device, string(kind),
	).Scan(&open)
	if err != nil {
		return false, wrap("has open alert", err)
	}
	return open, nil
}

func (s *PostgresStorage) ResolveAlert(ctx context.Context, id domain.AlertID) error {
	if _, err := s.db.ExecContext(ctx, `UPDATE alerts SET resolved = TRUE WHERE id = $1`, string(id)); err != nil {
		return wrap("resolve alert", err)
	}
	return nil
}

func (s *PostgresStorage) CurrentOpenCycle(ctx context.Context, device string) (*domain.CycleRef, error) {
	var id string
	err := s.db.QueryRowContext(ctx,
		`SELECT id FROM cycles WHERE device_serial = $1 AND completed_at IS NULL ORDER BY started_at DESC LIMIT 1`,
		device,
	).Scan(&id)
	if errors.Is(err, sql.ErrNoRows) {
		return nil, nil
	}
	if err != nil {
		return nil, wrap("current open cycle", err)
	}
	cycle := domain.CycleRef(id)
	return &cycle, nil
}

func (s *PostgresStorage) CycleSamples(ctx context.Context, cycle domain.CycleRef) ([]domain.EnergySample, error) {
	rows, err := s.db.QueryContext(ctx,
		`SELECT ts, power_kw, steam_flow, fuel_flow FROM readings WHERE cycle_id = $1 ORDER BY ts`,
		string(cycle),
	)
	if err != nil {
		return nil, wrap("cycle samples", err)
	}
	defer rows.Close()

	var samples []domain.EnergySample
	for rows.Next() {
		var sample domain.EnergySample
		var power float64
		var steam, fuel sql.NullFloat64
		if err := rows.Scan(&sample.Timestamp, &power, &steam, &fuel); err != nil {
			return nil, wrap("scan sample", err)
		}
		sample.Power = &power
		if steam.Valid {
			sample.SteamFlow = &steam.Float64
		}
		if fuel.Valid {
			sample.FuelFlow = &fuel.Float64
		}
		samples = append(samples, sample)
	}
	if err := rows.Err(); err != nil {
		return nil, wrap("cycle samples", err)
	}
	return samples, nil
}

func (s *PostgresStorage) CycleWasteWeight(ctx context.Context, cycle domain.CycleRef) (float64, error) {
	var weight float64
	err := s.db.QueryRowContext(ctx, `SELECT waste_kg FROM cycles WHERE id = $1`, string(cycle)).Scan(&weight)
	if err != nil {
		return 0, wrap("cycle waste weight", err)
	}
	return weight, nil
}

func (s *PostgresStorage) OpenCycle(ctx context.Context, device string, wasteKg float64, startedAt time.Time) (domain.CycleRef, error) {
	id := uuid.NewString()
	_, err := s.db.ExecContext(ctx,
		`INSERT INTO cycles (id, device_serial, waste_kg, started_at) VALUES ($1, $2, $3, $4)`,
		id, device, wasteKg, startedAt,
	)
	if err != nil {
		return "", wrap("open cycle", err)
	}
	return domain.CycleRef(id), nil
}

func (s *PostgresStorage) CompleteCycle(ctx context.Context, cycle domain.CycleRef, completedAt time.Time) error {
	_, err := s.db.ExecContext(ctx,
		`UPDATE cycles SET completed_at = $2 WHERE id = $1 AND completed_at IS NULL`,
		string(cycle), completedAt,
	)
	if err != nil {
		return wrap("complete cycle", err)
	}
	return nil
}

func (s *PostgresStorage) UpdateDeviceStatus(ctx context.Context, device string, status domain.DeviceStatus, seenAt time.Time) error {
	var err error
	if status == domain.DEVICE_STATUS_OFFLINE {
		_, err = s.db.ExecContext(ctx,
			`INSERT INTO devices (serial, status) VALUES ($1, $2)
			 ON CONFLICT (serial) DO UPDATE SET status = EXCLUDED.status`,
			device, string(status))
	} else {
		_, err = s.db.ExecContext(ctx,
			`INSERT INTO devices (serial, status, last_seen) VALUES ($1, $2, $3)
			 ON CONFLICT (serial) DO UPDATE SET status = EXCLUDED.status, last_seen = EXCLUDED.last_seen`,
			device, string(status), seenAt)
	}
	if err != nil {
		return wrap("update device status", err)
	}
	return nil
}

func (s *PostgresStorage) UpsertEnergyRecord(ctx context.Context, r domain.EnergyRecord) error {
	var tariffName sql.NullString
	if r.Tariff != nil {
		tariffName = sql.NullString{String: r.Tariff.Name, Valid: true}
	}
	_, err := s.db.ExecContext(ctx,
		`INSERT INTO energy_records (cycle_id, electricity_kwh, water_liters, fuel_liters, electricity_cost, water_cost,
			fuel_cost, total_cost, carbon_kg, cost_per_kg, tariff_name, computed_at)
		 VALUES ($1, $2, $3, $4, $5, $6, $7, $8, $9, $10, $11, $12)
		 ON CONFLICT (cycle_id) DO UPDATE SET
			electricity_kwh = EXCLUDED.electricity_kwh,
			water_liters = EXCLUDED.water_liters,
			fuel_liters = EXCLUDED.fuel_liters,
			electricity_cost = EXCLUDED.electricity_cost,
			water_cost = EXCLUDED.water_cost,
			fuel_cost = EXCLUDED.fuel_cost,
			total_cost = EXCLUDED.total_cost,
			carbon_kg = EXCLUDED.carbon_kg,
			cost_per_kg = EXCLUDED.cost_per_kg,
			tariff_name = EXCLUDED.tariff_name,
			computed_at = EXCLUDED.computed_at`,
		string(r.Cycle), r.ElectricityKWh, r.WaterLiters, r.FuelLiters, r.ElectricityCost, r.WaterCost,
		r.FuelCost, r.TotalCost, r.CarbonKg, r.CostPerKg, tariffName, r.ComputedAt,
	)
	if err != nil {
		return wrap("upsert energy record", err)
	}
	return nil
}

// CurrentTariff serves the tariffs table as a TariffProvider.
func (s *PostgresStorage) CurrentTariff(ctx context.Context) (*domain.Tariff, error) {
	var t domain.Tariff
	var to sql.NullTime
	err := s.db.QueryRowContext(ctx,
		`SELECT name, electricity_per_kwh, water_per_liter, fuel_per_liter, effective_from, effective_to
		 FROM tariffs
		 WHERE effective_from <= now() AND (effective_to IS NULL OR effective_to > now())
		 ORDER BY effective_from DESC LIMIT 1`,
	).Scan(&t.Name, &t.ElectricityPerKWh, &t.WaterPerLiter, &t.FuelPerLiter, &t.EffectiveFrom, &to)
	if errors.Is(err, sql.ErrNoRows) {
		return nil, nil
	}
	if err != nil {
		return nil, wrap("current tariff", err)
	}
	if to.Valid {
		t.EffectiveTo = &to.Time
	}
	return &t, nil
}

func (s *PostgresStorage) SaveTariff(ctx context.Context, t domain.Tariff) error {
	_, err := s.db.ExecContext(ctx,
		`INSERT INTO tariffs (name, electricity_per_kwh, water_per_liter, fuel_per_liter, effective_from, effective_to)
		 VALUES ($1, $2, $3, $4, $5, $6)
		 ON CONFLICT (name) DO UPDATE SET
			electricity_per_kwh = EXCLUDED.electricity_per_kwh,
			water_per_liter = EXCLUDED.water_per_liter,
			fuel_per_liter = EXCLUDED.fuel_per_liter,
			effective_from = EXCLUDED.effective_from,
			effective_to = EXCLUDED.effective_to`,
		t.Name, t.ElectricityPerKWh, t.WaterPerLiter, t.FuelPerLiter, t.EffectiveFrom, t.EffectiveTo,
	)
	if err != nil {
		return wrap("save tariff", err)
	}
	return nil
}
