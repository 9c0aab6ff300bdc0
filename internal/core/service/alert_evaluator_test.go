package service

import (
	"context"
	"testing"

	"github.com/berfenger/wastemon/internal/adapter/publish"
	"github.com/berfenger/wastemon/internal/adapter/storage"
	"github.com/berfenger/wastemon/internal/core/domain"
	"github.com/berfenger/wastemon/pkg/plc_modbus"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"go.uber.org/zap"
)

func breachedKinds(class plc_modbus.DeviceClass, r plc_modbus.Reading) []domain.AlertKind {
	var kinds []domain.AlertKind
	for _, rule := range RulesFor(class) {
		if _, ok := rule.Breached(r); ok {
			kinds = append(kinds, rule.Kind)
		}
	}
	return kinds
}

func TestPressureVesselRules(t *testing.T) {

	assert := assert.New(t)

	assert.Empty(breachedKinds(plc_modbus.CLASS_PRESSURE_VESSEL,
		plc_modbus.Reading{Temperature: 121, Pressure: 1.5, Status: plc_modbus.STATUS_STERILIZING}))
	assert.Equal([]domain.AlertKind{domain.ALERT_TEMP_LOW, domain.ALERT_PRESSURE_LOW}, breachedKinds(plc_modbus.CLASS_PRESSURE_VESSEL,
		plc_modbus.Reading{Temperature: 110, Pressure: 0.5, Status: plc_modbus.STATUS_STERILIZING}))
	assert.Empty(breachedKinds(plc_modbus.CLASS_PRESSURE_VESSEL,
		plc_modbus.Reading{Temperature: 60, Pressure: 0.2, Status: plc_modbus.STATUS_COOLING}), "low limits only apply while sterilizing")
	assert.Equal([]domain.AlertKind{domain.ALERT_TEMP_HIGH, domain.ALERT_PRESSURE_HIGH}, breachedKinds(plc_modbus.CLASS_PRESSURE_VESSEL,
		plc_modbus.Reading{Temperature: 141, Pressure: 2.6, Status: plc_modbus.STATUS_HEATING}))
	assert.Empty(breachedKinds(plc_modbus.CLASS_PRESSURE_VESSEL,
		plc_modbus.Reading{Temperature: 140, Pressure: 2.5, Status: plc_modbus.STATUS_HEATING}), "limits are exclusive")
}

func TestCombustionRules(t *testing.T) {

	assert := assert.New(t)

	burning := plc_modbus.Reading{
		Status:         plc_modbus.STATUS_STERILIZING,
		CombustionTemp: fp(800),
		CO:             fp(120),
		NOx:            fp(450),
		SO2:            fp(250),
	}
	assert.Equal([]domain.AlertKind{domain.ALERT_TEMP_LOW, domain.ALERT_CO_HIGH, domain.ALERT_NOX_HIGH, domain.ALERT_SO2_HIGH},
		breachedKinds(plc_modbus.CLASS_COMBUSTION, burning))

	missing := plc_modbus.Reading{Status: plc_modbus.STATUS_STERILIZING, Temperature: 2000}
	assert.Empty(breachedKinds(plc_modbus.CLASS_COMBUSTION, missing), "missing metrics never fire")

	assert.Equal([]domain.AlertKind{domain.ALERT_TEMP_HIGH},
		breachedKinds(plc_modbus.CLASS_COMBUSTION, plc_modbus.Reading{Status: plc_modbus.STATUS_HEATING, CombustionTemp: fp(1250)}))
}

func TestEvaluatorSkipsOpenAlerts(t *testing.T) {

	assert := assert.New(t)
	ctx := context.Background()

	store := storage.NewMemoryStorage()
	recorder := publish.NewRecorder()
	raised := map[domain.AlertKind]int{}
	e := NewAlertEvaluator(store, recorder, &PollInstrument{
		RecordAlert: func(device string, kind domain.AlertKind) { raised[kind]++ },
	}, zap.NewNop())

	cycle := domain.CycleRef("c1")
	r := plc_modbus.Reading{Status: plc_modbus.STATUS_HEATING, CombustionTemp: fp(900), CO: fp(150)}
	alerts, err := e.Evaluate(ctx, "INC-1", plc_modbus.CLASS_COMBUSTION, &cycle, r)
	require.NoError(t, err)
	require.Len(t, alerts, 1)
	assert.Equal(domain.ALERT_CO_HIGH, alerts[0].Kind)
	assert.Equal(plc_modbus.SEVERITY_CRITICAL, alerts[0].Severity)
	assert.Equal("CO 150.00 ppm above limit 100.00 ppm", alerts[0].Message)
	assert.Equal(cycle, *alerts[0].Cycle)
	assert.NotEmpty(alerts[0].Id)

	alerts, err = e.Evaluate(ctx, "INC-1", plc_modbus.CLASS_COMBUSTION, &cycle, r)
	require.NoError(t, err)
	assert.Empty(alerts)
	assert.Len(recorder.Alerts("INC-1"), 1)
	assert.Equal(1, raised[domain.ALERT_CO_HIGH])

	alerts, _ = e.Evaluate(ctx, "INC-2", plc_modbus.CLASS_COMBUSTION, nil, r)
	assert.Len(alerts, 1, "open alerts are per device")
}
