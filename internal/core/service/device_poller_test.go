package service

import (
	"context"
	"errors"
	"testing"
	"time"

	"github.com/berfenger/wastemon/internal/adapter/publish"
	"github.com/berfenger/wastemon/internal/adapter/storage"
	"github.com/berfenger/wastemon/internal/core/domain"
	"github.com/berfenger/wastemon/internal/core/port"
	"github.com/berfenger/wastemon/pkg/plc_modbus"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"go.uber.org/zap"
)

const TEST_DEVICE = "AC-1001"

type pollerFixture struct {
	poller    *DevicePoller
	transport *plc_modbus.ScriptedTransport
	store     *storage.MemoryStorage
	published *publish.Recorder
	now       time.Time
	ticks     map[TickOutcome]int
}

func newPollerFixture(class plc_modbus.DeviceClass, steps ...plc_modbus.ScriptedStep) *pollerFixture {
	f := &pollerFixture{
		transport: plc_modbus.NewScriptedTransport(steps...),
		store:     storage.NewMemoryStorage(),
		published: publish.NewRecorder(),
		now:       t0,
		ticks:     make(map[TickOutcome]int),
	}
	instrument := &PollInstrument{
		RecordTick: func(device string, outcome TickOutcome) {
			f.ticks[outcome]++
		},
	}
	device := domain.DeviceProfile{
		Serial:       TEST_DEVICE,
		Class:        class,
		Connection:   plc_modbus.ConnectionConfig{Kind: plc_modbus.CONNECTION_SIMULATED, Class: class},
		PollInterval: 5 * time.Second,
	}
	f.poller = NewDevicePoller(device, f.transport, f.store, f.published, instrument, PollerConfig{}, zap.NewNop())
	f.poller.Now = func() time.Time { return f.now }
	f.poller.Evaluator.Now = f.poller.Now
	return f
}

func (f *pollerFixture) tick(t *testing.T) (TickResult, error) {
	res, err := f.poller.Tick(context.Background())
	f.now = f.now.Add(5 * time.Second)
	return res, err
}

func block(r plc_modbus.Reading) plc_modbus.ScriptedStep {
	return plc_modbus.ScriptedStep{Registers: plc_modbus.EncodeRegisters(r)}
}

func kindsOf(alerts []domain.Alert) []domain.AlertKind {
	var kinds []domain.AlertKind
	for _, a := range alerts {
		kinds = append(kinds, a.Kind)
	}
	return kinds
}

func TestPollerAlarmDeduplication(t *testing.T) {

	assert := assert.New(t)

	f := newPollerFixture(plc_modbus.CLASS_PRESSURE_VESSEL, plc_modbus.AlarmScript(0, 0, 3, 3, 3, 0, 3)...)
	for i := 0; i < 7; i++ {
		_, err := f.tick(t)
		require.NoError(t, err)
	}

	alerts := f.store.Alerts(TEST_DEVICE)
	assert.Len(alerts, 2)
	for _, a := range alerts {
		assert.Equal(domain.ALERT_SENSOR, a.Kind)
		assert.Equal(3.0, a.Value)
		assert.Equal("under-pressure", a.Message)
		assert.Equal(plc_modbus.SEVERITY_WARNING, a.Severity)
	}
	assert.Len(f.published.Alerts(TEST_DEVICE), 2)
	assert.Len(f.published.Readings(TEST_DEVICE), 7)
	assert.Len(f.store.Readings(TEST_DEVICE), 7)
	assert.Equal(7, f.ticks[TICK_OK])
}

func TestPollerUnknownAlarmIsStillAReading(t *testing.T) {

	assert := assert.New(t)

	f := newPollerFixture(plc_modbus.CLASS_PRESSURE_VESSEL, plc_modbus.AlarmScript(77)...)
	res, err := f.tick(t)
	require.NoError(t, err)
	require.NotNil(t, res.Reading)
	require.Len(t, res.Alerts, 1)
	assert.Equal(plc_modbus.SEVERITY_CRITICAL, res.Alerts[0].Severity)
	assert.Contains(res.Alerts[0].Message, "77")
}

func TestPollerAlarmSaveFailureIsRetried(t *testing.T) {

	assert := assert.New(t)

	f := newPollerFixture(plc_modbus.CLASS_PRESSURE_VESSEL, plc_modbus.AlarmScript(3, 3)...)
	f.store.FailWith(storage.OP_SAVE_ALERT, errors.New("down"))
	_, err := f.tick(t)
	assert.ErrorIs(err, port.ErrStorage)
	assert.Equal(uint16(0), f.poller.LastAlarm())

	f.store.FailWith(storage.OP_SAVE_ALERT, nil)
	_, err = f.tick(t)
	require.NoError(t, err)
	assert.Len(f.store.Alerts(TEST_DEVICE), 1)
	assert.Equal(uint16(3), f.poller.LastAlarm())
}

func TestPollerOpenAlertDeduplication(t *testing.T) {

	assert := assert.New(t)

	hot := block(plc_modbus.Reading{Temperature: 145, Pressure: 1.5, Status: plc_modbus.STATUS_HEATING})
	f := newPollerFixture(plc_modbus.CLASS_PRESSURE_VESSEL, hot)
	for i := 0; i < 3; i++ {
		_, err := f.tick(t)
		require.NoError(t, err)
	}
	alerts := f.store.Alerts(TEST_DEVICE)
	require.Len(t, alerts, 1)
	assert.Equal(domain.ALERT_TEMP_HIGH, alerts[0].Kind)
	assert.Equal(145.0, alerts[0].Value)
	require.NotNil(t, alerts[0].Threshold)
	assert.Equal(140.0, *alerts[0].Threshold)

	f.store.ResolveAlert(alerts[0].Id)
	res, err := f.tick(t)
	require.NoError(t, err)
	assert.Equal([]domain.AlertKind{domain.ALERT_TEMP_HIGH}, kindsOf(res.Alerts))
	assert.Len(f.store.Alerts(TEST_DEVICE), 2)
}

func TestPollerAssociatesOpenCycle(t *testing.T) {

	assert := assert.New(t)
	ctx := context.Background()

	f := newPollerFixture(plc_modbus.CLASS_PRESSURE_VESSEL, block(plc_modbus.Reading{Temperature: 30, Status: plc_modbus.STATUS_IDLE, Power: 2}))
	_, err := f.tick(t)
	require.NoError(t, err)
	cycle, err := f.store.OpenCycle(ctx, TEST_DEVICE, 30, t0)
	require.NoError(t, err)
	_, err = f.tick(t)
	require.NoError(t, err)

	readings := f.store.Readings(TEST_DEVICE)
	require.Len(t, readings, 2)
	assert.Nil(readings[0].Cycle)
	require.NotNil(t, readings[1].Cycle)
	assert.Equal(cycle, *readings[1].Cycle)

	d, ok := f.store.Device(TEST_DEVICE)
	assert.True(ok)
	assert.Equal(domain.DEVICE_STATUS_ONLINE, d.Status)
}

func TestPollerOpensCycleWhenHeatingStarts(t *testing.T) {

	assert := assert.New(t)
	ctx := context.Background()

	f := newPollerFixture(plc_modbus.CLASS_PRESSURE_VESSEL,
		block(plc_modbus.Reading{Temperature: 30, Status: plc_modbus.STATUS_IDLE}),
		block(plc_modbus.Reading{Temperature: 60, Status: plc_modbus.STATUS_HEATING, Power: 18}),
		block(plc_modbus.Reading{Temperature: 90, Status: plc_modbus.STATUS_HEATING, Power: 18}),
	)
	_, err := f.tick(t)
	require.NoError(t, err)
	open, err := f.store.CurrentOpenCycle(ctx, TEST_DEVICE)
	require.NoError(t, err)
	assert.Nil(open, "idle does not open a cycle")

	_, err = f.tick(t)
	require.NoError(t, err)
	open, err = f.store.CurrentOpenCycle(ctx, TEST_DEVICE)
	require.NoError(t, err)
	require.NotNil(t, open)
	c, ok := f.store.Cycle(*open)
	require.True(t, ok)
	assert.Equal(t0.Add(5*time.Second), c.StartedAt)

	// closing the cycle while still heating does not reopen it
	require.NoError(t, f.store.CompleteCycle(ctx, *open, t0.Add(6*time.Second)))
	_, err = f.tick(t)
	require.NoError(t, err)
	current, err := f.store.CurrentOpenCycle(ctx, TEST_DEVICE)
	require.NoError(t, err)
	assert.Nil(current)

	readings := f.store.Readings(TEST_DEVICE)
	require.Len(t, readings, 3)
	assert.Nil(readings[0].Cycle)
	require.NotNil(t, readings[1].Cycle)
	assert.Equal(*open, *readings[1].Cycle)
	assert.Nil(readings[2].Cycle)
}

func TestPollerCycleOpenFailure(t *testing.T) {

	f := newPollerFixture(plc_modbus.CLASS_PRESSURE_VESSEL, block(plc_modbus.Reading{Temperature: 60, Status: plc_modbus.STATUS_HEATING}))
	f.store.FailWith(storage.OP_START_CYCLE, errors.New("down"))

	res, err := f.tick(t)
	assert.ErrorIs(t, err, port.ErrStorage)
	require.NotNil(t, res.Reading)
	readings := f.store.Readings(TEST_DEVICE)
	require.Len(t, readings, 1)
	assert.Nil(t, readings[0].Cycle)

	f.store.FailWith(storage.OP_START_CYCLE, nil)
	_, err = f.tick(t)
	require.NoError(t, err)
	readings = f.store.Readings(TEST_DEVICE)
	require.Len(t, readings, 2)
	assert.NotNil(t, readings[1].Cycle, "opening is retried")
}

func TestPollerPublishesStatusChanges(t *testing.T) {

	assert := assert.New(t)

	f := newPollerFixture(plc_modbus.CLASS_PRESSURE_VESSEL,
		block(plc_modbus.Reading{Temperature: 30, Status: plc_modbus.STATUS_IDLE}),
		block(plc_modbus.Reading{Temperature: 30, Status: plc_modbus.STATUS_IDLE}),
		plc_modbus.ScriptedStep{Err: plc_modbus.ErrTimeout},
	)
	for i := 0; i < 2; i++ {
		_, err := f.tick(t)
		require.NoError(t, err)
	}
	assert.Equal([]domain.DeviceStatus{domain.DEVICE_STATUS_ONLINE}, f.published.Statuses(TEST_DEVICE),
		"unchanged status is published once")

	for i := 0; i < DEFAULT_OFFLINE_AFTER_FAILURES+1; i++ {
		_, err := f.tick(t)
		assert.ErrorIs(err, plc_modbus.ErrTimeout)
	}
	assert.True(f.poller.Offline())
	assert.Equal([]domain.DeviceStatus{domain.DEVICE_STATUS_ONLINE, domain.DEVICE_STATUS_OFFLINE},
		f.published.Statuses(TEST_DEVICE))
}

func TestPollerErrorStatus(t *testing.T) {

	f := newPollerFixture(plc_modbus.CLASS_PRESSURE_VESSEL, block(plc_modbus.Reading{Temperature: 30, Status: plc_modbus.STATUS_ERROR}))
	_, err := f.tick(t)
	require.NoError(t, err)
	d, _ := f.store.Device(TEST_DEVICE)
	assert.Equal(t, domain.DEVICE_STATUS_ERROR, d.Status)
}

func TestPollerStorageFailuresDoNotStopTick(t *testing.T) {

	assert := assert.New(t)

	f := newPollerFixture(plc_modbus.CLASS_PRESSURE_VESSEL, block(plc_modbus.Reading{Temperature: 150, Pressure: 3, Status: plc_modbus.STATUS_HEATING}))
	f.store.FailWith(storage.OP_SAVE_READING, errors.New("down"))
	f.store.FailWith(storage.OP_OPEN_CYCLE, errors.New("down"))

	res, err := f.tick(t)
	require.Error(t, err)
	assert.ErrorIs(err, port.ErrStorage)
	require.NotNil(t, res.Reading)
	assert.Equal([]domain.AlertKind{domain.ALERT_TEMP_HIGH, domain.ALERT_PRESSURE_HIGH}, kindsOf(res.Alerts))
	assert.Len(f.published.Readings(TEST_DEVICE), 1)
	d, _ := f.store.Device(TEST_DEVICE)
	assert.Equal(domain.DEVICE_STATUS_ONLINE, d.Status)
	assert.Equal(1, f.ticks[TICK_DEGRADED])
}

func TestPollerReadFailure(t *testing.T) {

	assert := assert.New(t)

	f := newPollerFixture(plc_modbus.CLASS_PRESSURE_VESSEL,
		plc_modbus.ScriptedStep{Err: plc_modbus.ErrTimeout},
		block(plc_modbus.Reading{Temperature: 30, Status: plc_modbus.STATUS_IDLE}),
	)
	res, err := f.tick(t)
	assert.ErrorIs(err, plc_modbus.ErrTimeout)
	assert.Nil(res.Reading)
	assert.Equal(1, f.poller.ConsecutiveFailures())
	assert.Empty(f.published.Readings(TEST_DEVICE))

	_, err = f.tick(t)
	require.NoError(t, err)
	assert.Equal(0, f.poller.ConsecutiveFailures())
}

func TestPollerReconnectBackoffAndOffline(t *testing.T) {

	assert := assert.New(t)

	f := newPollerFixture(plc_modbus.CLASS_PRESSURE_VESSEL, block(plc_modbus.Reading{Temperature: 30, Status: plc_modbus.STATUS_IDLE}))
	f.transport.SetConnectErr(errors.New("no route to host"))
	ctx := context.Background()
	at := func(d time.Duration) (TickResult, error) {
		f.now = t0.Add(d)
		return f.poller.Tick(ctx)
	}

	_, err := at(0)
	var connErr *plc_modbus.ConnectError
	assert.ErrorAs(err, &connErr)

	res, err := at(time.Second)
	assert.NoError(err)
	assert.True(res.Skipped, "waiting one interval")

	_, err = at(5 * time.Second)
	assert.Error(err)
	res, _ = at(10 * time.Second)
	assert.True(res.Skipped, "waiting two intervals")

	_, err = at(15 * time.Second)
	assert.Error(err)
	assert.Equal(3, f.transport.Connects)

	d, _ := f.store.Device(TEST_DEVICE)
	assert.Equal(domain.DEVICE_STATUS_OFFLINE, d.Status)
	assert.Equal([]domain.AlertKind{domain.ALERT_CONNECTION_LOST}, kindsOf(f.store.Alerts(TEST_DEVICE)))

	_, err = at(40 * time.Second)
	assert.Error(err)
	assert.Len(f.store.Alerts(TEST_DEVICE), 1, "connection lost is raised once")

	f.transport.SetConnectErr(nil)
	res, err = at(200 * time.Second)
	require.NoError(t, err)
	require.NotNil(t, res.Reading)
	d, _ = f.store.Device(TEST_DEVICE)
	assert.Equal(domain.DEVICE_STATUS_ONLINE, d.Status)
	assert.Equal(2, f.ticks[TICK_SKIPPED])
}

func TestPollerWriteCoil(t *testing.T) {

	f := newPollerFixture(plc_modbus.CLASS_PRESSURE_VESSEL)
	require.NoError(t, f.poller.WriteCoil(context.Background(), plc_modbus.COIL_REMOTE_START, true))
	assert.Equal(t, []plc_modbus.CoilWrite{{Addr: 0, Value: true}}, f.transport.Coils)
}
