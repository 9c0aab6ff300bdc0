package port

import (
	"context"
	"time"

	"github.com/berfenger/wastemon/internal/core/domain"
	"github.com/berfenger/wastemon/pkg/plc_modbus"
)

// Publisher is fire-and-forget: implementations must not block the polling loop.
type Publisher interface {
	PublishReading(device string, reading plc_modbus.Reading)
	PublishAlert(device string, alert domain.Alert)
	PublishStatus(device string, status domain.DeviceStatus, at time.Time)
}

type TariffProvider interface {
	CurrentTariff(ctx context.Context) (*domain.Tariff, error)
}
