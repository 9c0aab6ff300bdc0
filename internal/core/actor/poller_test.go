package actor

import (
	"errors"
	"testing"
	"time"

	"github.com/berfenger/wastemon/internal/core/domain"
	"github.com/berfenger/wastemon/pkg/plc_modbus"

	"github.com/asynkron/protoactor-go/actor"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestPollerActorTicks(t *testing.T) {

	assert := assert.New(t)

	f := newActorFixture(t)
	transport := plc_modbus.NewScriptedTransport(plc_modbus.AlarmScript(0, 0, 3, 3, 3, 0)...)
	poller := NewPollerActor(f.newPoller(testProfile(TEST_DEVICE), transport), PollerActorConfig{}, f.logger)
	pid := f.root.Spawn(actor.PropsFromProducer(func() actor.Actor { return poller }))

	assert.Eventually(func() bool {
		return len(f.storage.Readings(TEST_DEVICE)) >= 8
	}, 3*time.Second, 20*time.Millisecond)

	res, err := f.root.RequestFuture(pid, domain.ActorHealthRequest{}, time.Second).Result()
	require.NoError(t, err)
	health := res.(domain.ActorHealthResponse)
	assert.True(health.Healthy)
	assert.Equal(domain.PollerActorId(TEST_DEVICE), health.Id)

	require.NoError(t, f.root.StopFuture(pid).Wait())
	assert.False(transport.Connected(), "transport closed on stop")

	// alarm 3 raised once while it stays active
	alerts := f.recorder.Alerts(TEST_DEVICE)
	require.Len(t, alerts, 1)
	assert.Equal(domain.ALERT_SENSOR, alerts[0].Kind)
	assert.Equal(1, transport.Connects)
}

func TestPollerActorCommand(t *testing.T) {

	assert := assert.New(t)

	f := newActorFixture(t)
	transport := plc_modbus.NewScriptedTransport(plc_modbus.AlarmScript(0)...)
	poller := NewPollerActor(f.newPoller(testProfile(TEST_DEVICE), transport), PollerActorConfig{}, f.logger)
	pid := f.root.Spawn(actor.PropsFromProducer(func() actor.Actor { return poller }))

	res, err := f.root.RequestFuture(pid, domain.DeviceCommandRequest{
		Device: TEST_DEVICE,
		Coil:   plc_modbus.COIL_ALARM_RESET,
		Value:  true,
	}, 2*time.Second).Result()
	require.NoError(t, err)
	resp := res.(domain.DeviceCommandResponse)
	assert.False(resp.HasResponseError())
	assert.Equal(TEST_DEVICE, resp.Device)

	require.NoError(t, f.root.StopFuture(pid).Wait())
	assert.Contains(transport.Coils, plc_modbus.CoilWrite{Addr: plc_modbus.COIL_ALARM_RESET.Address(), Value: true})
}

func TestPollerActorGoesOffline(t *testing.T) {

	assert := assert.New(t)

	f := newActorFixture(t)
	transport := plc_modbus.NewScriptedTransport(plc_modbus.AlarmScript(0)...)
	transport.SetConnectErr(errors.New("no route to host"))
	device := testProfile(TEST_DEVICE)
	device.PollInterval = 10 * time.Millisecond
	poller := NewPollerActor(f.newPoller(device, transport), PollerActorConfig{}, f.logger)
	pid := f.root.Spawn(actor.PropsFromProducer(func() actor.Actor { return poller }))

	assert.Eventually(func() bool {
		res, err := f.root.RequestFuture(pid, domain.ActorHealthRequest{}, time.Second).Result()
		if err != nil {
			return false
		}
		return !res.(domain.ActorHealthResponse).Healthy
	}, 3*time.Second, 20*time.Millisecond)

	state, ok := f.storage.Device(TEST_DEVICE)
	require.True(t, ok)
	assert.Equal(domain.DEVICE_STATUS_OFFLINE, state.Status)

	kinds := []domain.AlertKind{}
	for _, a := range f.recorder.Alerts(TEST_DEVICE) {
		kinds = append(kinds, a.Kind)
	}
	assert.Equal([]domain.AlertKind{domain.ALERT_CONNECTION_LOST}, kinds)
}

func TestPollerActorStopWaitsForTick(t *testing.T) {

	assert := assert.New(t)

	f := newActorFixture(t)
	transport := newStallingTransport(true)
	poller := NewPollerActor(f.newPoller(testProfile(TEST_DEVICE), transport), PollerActorConfig{StopTimeout: time.Second}, f.logger)
	pid := f.root.Spawn(actor.PropsFromProducer(func() actor.Actor { return poller }))

	select {
	case <-transport.entered:
	case <-time.After(2 * time.Second):
		t.Fatal("tick never started")
	}

	res, err := f.root.RequestFuture(pid, stopLoopRequest{}, 2*time.Second).Result()
	require.NoError(t, err)
	assert.False(res.(stopLoopResponse).Abandoned, "cancelled tick finished in time")

	res, err = f.root.RequestFuture(pid, domain.ActorHealthRequest{}, time.Second).Result()
	require.NoError(t, err)
	assert.Equal("stopped", res.(domain.ActorHealthResponse).State)

	res, err = f.root.RequestFuture(pid, domain.DeviceCommandRequest{Device: TEST_DEVICE, Coil: plc_modbus.COIL_REMOTE_STOP, Value: true}, time.Second).Result()
	require.NoError(t, err)
	assert.ErrorIs(res.(domain.DeviceCommandResponse).ResponseError, ErrPollerStopped)
}

func TestPollerActorStopAbandonsStuckTick(t *testing.T) {

	assert := assert.New(t)

	f := newActorFixture(t)
	transport := newStallingTransport(false)
	t.Cleanup(func() { close(transport.release) })
	poller := NewPollerActor(f.newPoller(testProfile(TEST_DEVICE), transport), PollerActorConfig{StopTimeout: 200 * time.Millisecond}, f.logger)
	pid := f.root.Spawn(actor.PropsFromProducer(func() actor.Actor { return poller }))

	select {
	case <-transport.entered:
	case <-time.After(2 * time.Second):
		t.Fatal("tick never started")
	}

	started := time.Now()
	res, err := f.root.RequestFuture(pid, stopLoopRequest{}, 2*time.Second).Result()
	require.NoError(t, err)
	assert.True(res.(stopLoopResponse).Abandoned)
	assert.Less(time.Since(started), time.Second, "stop is bounded")
}

func TestPollerActorDropsOverrunTicks(t *testing.T) {

	f := newActorFixture(t)
	transport := newStallingTransport(false)
	poller := NewPollerActor(f.newPoller(testProfile(TEST_DEVICE), transport), PollerActorConfig{StopTimeout: 200 * time.Millisecond}, f.logger)
	f.root.Spawn(actor.PropsFromProducer(func() actor.Actor { return poller }))

	select {
	case <-transport.entered:
	case <-time.After(2 * time.Second):
		t.Fatal("tick never started")
	}
	// several intervals pass while the first read is stuck
	time.Sleep(200 * time.Millisecond)
	close(transport.release)

	time.Sleep(15 * time.Millisecond)
	assert.LessOrEqual(t, transport.ReadCount(), 2, "overrun ticks are not replayed")
}
