package port

import (
	"context"
	"errors"
	"time"

	"github.com/berfenger/wastemon/internal/core/domain"
	"github.com/berfenger/wastemon/pkg/plc_modbus"
)

// ErrStorage wraps every failure reported by a storage adapter.
var ErrStorage = errors.New("storage error")

type ReadingStore interface {
	SaveReading(ctx context.Context, device string, cycle *domain.CycleRef, reading plc_modbus.Reading) (domain.ReadingID, error)
}

type AlertStore interface {
	SaveAlert(ctx context.Context, alert domain.Alert) (domain.AlertID, error)
	HasOpenAlert(ctx context.Context, device string, kind domain.AlertKind) (bool, error)
}

type CycleStore interface {
	CurrentOpenCycle(ctx context.Context, device string) (*domain.CycleRef, error)
	CycleSamples(ctx context.Context, cycle domain.CycleRef) ([]domain.EnergySample, error)
	CycleWasteWeight(ctx context.Context, cycle domain.CycleRef) (float64, error)
}

// CycleLifecycle opens and closes treatment cycles. CompleteCycle is
// idempotent.
type CycleLifecycle interface {
	OpenCycle(ctx context.Context, device string, wasteKg float64, startedAt time.Time) (domain.CycleRef, error)
	CompleteCycle(ctx context.Context, cycle domain.CycleRef, completedAt time.Time) error
}

type DeviceStore interface {
	UpdateDeviceStatus(ctx context.Context, device string, status domain.DeviceStatus, seenAt time.Time) error
}

type EnergyStore interface {
	UpsertEnergyRecord(ctx context.Context, record domain.EnergyRecord) error
}

type Storage interface {
	ReadingStore
	AlertStore
	CycleStore
	CycleLifecycle
	DeviceStore
	EnergyStore
}
