package tariff

import (
	"context"
	"testing"
	"time"

	"github.com/berfenger/wastemon/internal/core/domain"
	"github.com/shopspring/decimal"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestStaticProviderPicksTariffInEffect(t *testing.T) {

	assert := assert.New(t)

	jan := time.Date(2024, 1, 1, 0, 0, 0, 0, time.UTC)
	apr := time.Date(2024, 4, 1, 0, 0, 0, 0, time.UTC)
	p := NewStaticProvider([]domain.Tariff{
		{Name: "winter", ElectricityPerKWh: decimal.RequireFromString("0.15"), EffectiveFrom: jan, EffectiveTo: &apr},
		{Name: "spring", ElectricityPerKWh: decimal.RequireFromString("0.12"), EffectiveFrom: apr},
	})

	p.now = func() time.Time { return jan.AddDate(0, 1, 0) }
	tariff, err := p.CurrentTariff(context.Background())
	require.NoError(t, err)
	require.NotNil(t, tariff)
	assert.Equal("winter", tariff.Name)

	p.now = func() time.Time { return apr }
	tariff, _ = p.CurrentTariff(context.Background())
	require.NotNil(t, tariff)
	assert.Equal("spring", tariff.Name)

	p.now = func() time.Time { return jan.AddDate(-1, 0, 0) }
	tariff, _ = p.CurrentTariff(context.Background())
	assert.Nil(tariff)
}
