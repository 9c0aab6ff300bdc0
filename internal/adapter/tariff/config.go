package tariff

import (
	"context"
	"time"

	"github.com/berfenger/wastemon/internal/core/domain"
	"github.com/berfenger/wastemon/internal/core/service"
)

// StaticProvider serves tariffs loaded from configuration.
type StaticProvider struct {
	tariffs []domain.Tariff
	now     func() time.Time
}

func NewStaticProvider(tariffs []domain.Tariff) *StaticProvider {
	return &StaticProvider{tariffs: tariffs, now: time.Now}
}

func (p *StaticProvider) CurrentTariff(ctx context.Context) (*domain.Tariff, error) {
	return service.SelectTariff(p.tariffs, p.now()), nil
}
