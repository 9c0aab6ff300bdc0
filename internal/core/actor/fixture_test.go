package actor

import (
	"context"
	"sync"
	"testing"
	"time"

	"github.com/berfenger/wastemon/internal/adapter/publish"
	"github.com/berfenger/wastemon/internal/adapter/storage"
	"github.com/berfenger/wastemon/internal/core/domain"
	"github.com/berfenger/wastemon/internal/core/service"
	"github.com/berfenger/wastemon/internal/util"
	"github.com/berfenger/wastemon/internal/util/actorutil"
	"github.com/berfenger/wastemon/pkg/plc_modbus"

	"github.com/asynkron/protoactor-go/actor"
	"go.uber.org/zap"
)

const TEST_DEVICE = "AC-1001"

type actorFixture struct {
	system     *actor.ActorSystem
	root       *actor.RootContext
	storage    *storage.MemoryStorage
	recorder   *publish.Recorder
	logger     *zap.Logger
	mu         sync.Mutex
	transports map[string][]*plc_modbus.ScriptedTransport
	// script replaces the idle script handed to new transports
	script []plc_modbus.ScriptedStep
}

func newActorFixture(t *testing.T) *actorFixture {
	cfg := util.LoadTestConfig()
	logCfg := zap.NewDevelopmentConfig()
	logCfg.Level = zap.NewAtomicLevelAt(cfg.LogLevel)
	logger := zap.Must(logCfg.Build())

	system := actorutil.NewActorSystemWithZapLogger(logger)
	t.Cleanup(system.Shutdown)

	return &actorFixture{
		system:     system,
		root:       system.Root,
		storage:    storage.NewMemoryStorage(),
		recorder:   publish.NewRecorder(),
		logger:     logger,
		transports: map[string][]*plc_modbus.ScriptedTransport{},
	}
}

func testProfile(serial string) domain.DeviceProfile {
	return domain.DeviceProfile{
		Serial: serial,
		Name:   serial,
		Class:  plc_modbus.CLASS_PRESSURE_VESSEL,
		Connection: plc_modbus.ConnectionConfig{
			Kind:  plc_modbus.CONNECTION_SIMULATED,
			Class: plc_modbus.CLASS_PRESSURE_VESSEL,
		},
		PollInterval: 30 * time.Millisecond,
	}
}

func (f *actorFixture) newPoller(device domain.DeviceProfile, transport plc_modbus.Transport) *service.DevicePoller {
	return service.NewDevicePoller(device, transport, f.storage, f.recorder, nil, service.PollerConfig{}, f.logger)
}

// pollerProvider hands every poller a fresh scripted transport.
func (f *actorFixture) pollerProvider(device domain.DeviceProfile) (*PollerActor, error) {
	f.mu.Lock()
	script := f.script
	if script == nil {
		script = plc_modbus.AlarmScript(0)
	}
	transport := plc_modbus.NewScriptedTransport(script...)
	f.transports[device.Serial] = append(f.transports[device.Serial], transport)
	f.mu.Unlock()
	return NewPollerActor(f.newPoller(device, transport), PollerActorConfig{StopTimeout: 300 * time.Millisecond}, f.logger), nil
}

func (f *actorFixture) transportsOf(serial string) []*plc_modbus.ScriptedTransport {
	f.mu.Lock()
	defer f.mu.Unlock()
	return append([]*plc_modbus.ScriptedTransport(nil), f.transports[serial]...)
}

func (f *actorFixture) energyProvider(retryCount int, retryDelay time.Duration, store service.EnergyStorage) EnergyActorProvider {
	return func() *EnergyActor {
		svc := service.NewEnergyService(store, nil, 0, f.logger)
		return NewEnergyActor(svc, EnergyActorConfig{RetryCount: retryCount, RetryDelay: retryDelay}, f.logger)
	}
}

// stallingTransport blocks every read until released. With honorCtx unset it
// also ignores cancellation.
type stallingTransport struct {
	*plc_modbus.ScriptedTransport
	honorCtx bool
	release  chan struct{}
	entered  chan struct{}
	once     sync.Once
}

func newStallingTransport(honorCtx bool) *stallingTransport {
	return &stallingTransport{
		ScriptedTransport: plc_modbus.NewScriptedTransport(plc_modbus.AlarmScript(0)...),
		honorCtx:          honorCtx,
		release:           make(chan struct{}),
		entered:           make(chan struct{}),
	}
}

func (t *stallingTransport) ReadRegisters(ctx context.Context, start, count uint16) ([]uint16, error) {
	t.once.Do(func() { close(t.entered) })
	if t.honorCtx {
		select {
		case <-t.release:
		case <-ctx.Done():
			return nil, ctx.Err()
		}
	} else {
		<-t.release
	}
	return t.ScriptedTransport.ReadRegisters(ctx, start, count)
}
