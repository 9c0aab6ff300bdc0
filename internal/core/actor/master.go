package actor

import (
	"errors"
	"fmt"
	"sort"
	"strings"
	"time"

	adactor "github.com/berfenger/wastemon/internal/adapter/actor"
	"github.com/berfenger/wastemon/internal/config"
	"github.com/berfenger/wastemon/internal/core/domain"
	. "github.com/berfenger/wastemon/internal/util/actorutil"

	"github.com/asynkron/protoactor-go/actor"
	"github.com/asynkron/protoactor-go/eventstream"
	"go.uber.org/zap"
)

type MQTTActorProvider func(*eventstream.EventStream) *adactor.MQTTActor

type PollerActorProvider func(device domain.DeviceProfile) (*PollerActor, error)

type EnergyActorProvider func() *EnergyActor

var ErrUnknownDevice = errors.New("device is not being polled")

// MasterActor is the polling registry: it owns one poller child per device
// and routes commands and energy requests to the right child.
type MasterActor struct {
	config   config.Config
	behavior actor.Behavior
	stash    *Stash

	currentHealthCheck healthCheckResult
	eventStream        *eventstream.EventStream
	pollers            map[string]*actor.PID
	retired            map[string]int
	energyActor        *actor.PID
	mqttActor          *actor.PID
	pollerProvider     PollerActorProvider
	energyProvider     EnergyActorProvider
	mqttProvider       MQTTActorProvider
	logger             *zap.Logger
}

type healthCheckResult struct {
	expected  int
	received  int
	unhealthy []string
	respondTo *actor.PID
}

// NewMasterActor builds the registry. A nil mqttProvider disables the MQTT
// bridge.
func NewMasterActor(config config.Config, eventStream *eventstream.EventStream, pollerProvider PollerActorProvider,
	energyProvider EnergyActorProvider, mqttProvider MQTTActorProvider, logger *zap.Logger) *MasterActor {
	act := &MasterActor{
		config:         config,
		behavior:       actor.NewBehavior(),
		stash:          &Stash{},
		eventStream:    eventStream,
		pollers:        map[string]*actor.PID{},
		retired:        map[string]int{},
		pollerProvider: pollerProvider,
		energyProvider: energyProvider,
		mqttProvider:   mqttProvider,
		logger:         ActorLogger(domain.ACTOR_ID_MASTER, logger),
	}
	act.behavior.Become(act.StartingReceive)
	return act
}

func (state *MasterActor) Receive(context actor.Context) {
	state.behavior.Receive(context)
}

func (state *MasterActor) StartingReceive(ctx actor.Context) {
	switch msg := ctx.Message().(type) {
	case *actor.Started:
		state.logger.Debug("master@starting started")

		// start energy child
		energyActorPID, err := state.startEnergyActor(ctx)
		if err != nil {
			panic(err)
		}
		state.energyActor = energyActorPID

		// start MQTT child
		if state.mqttProvider != nil {
			mqttActorPID, err := state.startMQTTActor(ctx)
			if err != nil {
				panic(err)
			}
			state.mqttActor = mqttActorPID
		}

		state.behavior.Become(state.DefaultReceive)
		state.stash.UnstashAll(ctx)
	default:
		state.logger.Debug("master@starting stash", zap.String("type", fmt.Sprintf("%T", msg)))
		state.stash.Stash(ctx, msg)
	}
}

func (state *MasterActor) DefaultReceive(ctx actor.Context) {
	switch msg := ctx.Message().(type) {
	case domain.StartPollingRequest:
		state.logger.Debug("master@default StartPollingRequest", zap.String("device", msg.Device.Serial))
		pid, replaced, err := state.startPolling(ctx, msg.Device)
		ForRequest(msg).Respond(ctx, domain.StartPollingResponse{
			ActorResponseMixIn: domain.ResponseError(err),
			Device:             msg.Device.Serial,
			Poller:             pid,
			Replaced:           replaced,
		})
	case domain.StopPollingRequest:
		state.logger.Debug("master@default StopPollingRequest", zap.String("device", msg.Device))
		resp := domain.StopPollingResponse{Device: msg.Device}
		if pid, ok := state.pollers[msg.Device]; ok {
			resp.Abandoned = state.stopPoller(ctx, msg.Device, pid)
			resp.Stopped = true
		}
		ForRequest(msg).Respond(ctx, resp)
	case domain.ListPollersRequest:
		pollers := make(map[string]*actor.PID, len(state.pollers))
		for serial, pid := range state.pollers {
			pollers[serial] = pid
		}
		ForRequest(msg).Respond(ctx, domain.ListPollersResponse{Pollers: pollers})
	case domain.DeviceCommandRequest:
		pid, ok := state.pollers[msg.Device]
		if !ok {
			ForRequest(msg).Respond(ctx, domain.DeviceCommandResponse{
				ActorResponseMixIn: domain.ResponseError(fmt.Errorf("%w: %s", ErrUnknownDevice, msg.Device)),
				Device:             msg.Device,
			})
			return
		}
		ctx.Forward(pid)
	case domain.ComputeCycleEnergyRequest:
		ctx.Forward(state.energyActor)
	case adactor.ParsedCommand:
		// redirect parsedCommand to the owning actor
		state.logger.Debug("master@default parsedCommand", zap.Any("command", msg.Command))
		if msg.Command == nil {
			return
		}
		req, err := ParsedMQTTCommandToRequest(*msg.Command)
		if err != nil {
			state.logger.Warn("master@default invalid command", zap.Any("command", msg.Command), zap.Error(err))
			return
		}
		switch cmd := req.(type) {
		case domain.DeviceCommandRequest:
			if pid, ok := state.pollers[cmd.Device]; ok {
				ctx.Request(pid, cmd)
			} else {
				state.logger.Warn("master@default command for unknown device", zap.String("device", cmd.Device))
			}
		case domain.ComputeCycleEnergyRequest:
			ctx.Request(state.energyActor, cmd)
		}
	case domain.DeviceCommandResponse:
		if msg.HasResponseError() {
			state.logger.Error("master@default device command failed", zap.String("device", msg.Device), zap.Error(msg.ResponseError))
		}
	case domain.ComputeCycleEnergyResponse:
		if msg.HasResponseError() {
			state.logger.Error("master@default energy computation failed", zap.Error(msg.ResponseError))
		}
	case domain.ActorHealthRequest:
		state.logger.Debug("master@default ActorHealthRequest")
		state.startHealthCheck(ctx, ForRequest(msg).ReplyTo(ctx))
	case *actor.Terminated:
		// a replaced loop reuses its predecessor's name
		if state.retired[msg.Who.Id] > 0 {
			state.retired[msg.Who.Id]--
			return
		}
		for serial, pid := range state.pollers {
			if pid.Equal(msg.Who) {
				state.logger.Warn("master@default poller terminated", zap.String("device", serial))
				delete(state.pollers, serial)
			}
		}
	case *actor.Stopping:
		state.logger.Debug("master@default stopping", zap.Int("pollers", len(state.pollers)))
	case *actor.Stopped, *actor.Restarting:
	default:
		state.logger.Debug("master@default unhandled", zap.String("type", fmt.Sprintf("%T", msg)))
	}
}

func (state *MasterActor) HealthCheckReceive(ctx actor.Context) {
	switch msg := ctx.Message().(type) {
	case *actor.ReceiveTimeout:
		// if some actor does not respond to healthCheck, assume not healthy
		ctx.CancelReceiveTimeout()
		state.currentHealthCheck.respond(ctx)
		state.behavior.UnbecomeStacked()
		state.stash.UnstashAll(ctx)
	case domain.ActorHealthResponse:
		state.logger.Debug("master@healthcheck ActorHealthResponse", zap.String("sender", msg.Id), zap.Bool("healthy", msg.Healthy))
		state.currentHealthCheck.received++
		if !msg.Healthy {
			state.currentHealthCheck.unhealthy = append(state.currentHealthCheck.unhealthy, msg.Id)
		}
		if state.currentHealthCheck.allReceived() {
			ctx.CancelReceiveTimeout()
			state.currentHealthCheck.respond(ctx)
			state.behavior.UnbecomeStacked()
			state.stash.UnstashAll(ctx)
		}
	default:
		state.logger.Debug("master@healthcheck stash", zap.String("type", fmt.Sprintf("%T", msg)))
		state.stash.Stash(ctx, msg)
	}
}

func (state *MasterActor) startHealthCheck(ctx actor.Context, respondTo *actor.PID) {
	children := map[string]*actor.PID{domain.ACTOR_ID_ENERGY: state.energyActor}
	if state.mqttActor != nil {
		children[domain.ACTOR_ID_MQTT] = state.mqttActor
	}
	for serial, pid := range state.pollers {
		children[domain.PollerActorId(serial)] = pid
	}

	state.currentHealthCheck = healthCheckResult{expected: len(children), respondTo: respondTo}
	for id, pid := range children {
		PipeToSelfWithRecover(ctx, ctx.RequestFuture(pid, domain.ActorHealthRequest{}, 500*time.Millisecond), func(err error) any {
			return domain.ActorHealthResponse{
				Id:      id,
				Healthy: false,
			}
		})
	}

	ctx.SetReceiveTimeout(1 * time.Second)

	state.behavior.BecomeStacked(state.HealthCheckReceive)
}

// startPolling spawns the loop of a device, replacing the running one if any.
func (state *MasterActor) startPolling(ctx actor.Context, device domain.DeviceProfile) (*actor.PID, bool, error) {
	first, err := state.pollerProvider(device)
	if err != nil {
		return nil, false, err
	}

	replaced := false
	if pid, ok := state.pollers[device.Serial]; ok {
		if state.stopPoller(ctx, device.Serial, pid) {
			state.logger.Warn("master: previous loop abandoned", zap.String("device", device.Serial))
		}
		replaced = true
	}

	decider := func(reason interface{}) actor.Directive {
		state.logger.Error("handling failure for poller", zap.String("device", device.Serial), zap.Any("reason", reason))
		return actor.RestartDirective
	}
	supervisor := actor.NewOneForOneStrategy(1, 10*time.Second, decider)

	logger := state.logger
	props := actor.PropsFromProducer(func() actor.Actor {
		if first != nil {
			act := first
			first = nil
			return act
		}
		act, err := state.pollerProvider(device)
		if err != nil {
			logger.Error("master: could not rebuild poller", zap.String("device", device.Serial), zap.Error(err))
			return NewStoppedPollerActor(device, logger)
		}
		return act
	}, actor.WithSupervisor(supervisor))
	pid, err := ctx.SpawnNamed(props, domain.PollerActorId(device.Serial))
	if err != nil {
		return nil, replaced, err
	}
	state.pollers[device.Serial] = pid
	state.logger.Info("polling started", zap.String("device", device.Serial), zap.Bool("replaced", replaced))
	return pid, replaced, nil
}

// stopPoller ends a loop and waits a bounded time for its in flight work.
// It reports whether that work had to be abandoned.
func (state *MasterActor) stopPoller(ctx actor.Context, serial string, pid *actor.PID) bool {
	delete(state.pollers, serial)

	abandoned := false
	res, err := ctx.RequestFuture(pid, stopLoopRequest{}, state.config.Polling.StopTimeout()+time.Second).Result()
	if err != nil {
		abandoned = true
	} else if resp, ok := res.(stopLoopResponse); ok {
		abandoned = resp.Abandoned
	}
	state.retired[pid.Id]++
	if err := ctx.StopFuture(pid).Wait(); err != nil {
		state.logger.Warn("master: poller did not stop in time", zap.String("device", serial), zap.Error(err))
	}
	state.logger.Info("polling stopped", zap.String("device", serial), zap.Bool("abandoned", abandoned))
	return abandoned
}

func (state *MasterActor) startEnergyActor(ctx actor.Context) (*actor.PID, error) {

	decider := func(reason interface{}) actor.Directive {
		state.logger.Error("handling failure for energy", zap.Any("reason", reason))
		return actor.RestartDirective
	}
	supervisor := actor.NewOneForOneStrategy(1, 10*time.Second, decider)

	energyProps := actor.PropsFromProducer(func() actor.Actor {
		return state.energyProvider()
	}, actor.WithSupervisor(supervisor))
	return ctx.SpawnNamed(energyProps, domain.ACTOR_ID_ENERGY)
}

func (state *MasterActor) startMQTTActor(ctx actor.Context) (*actor.PID, error) {

	supervisor := actor.NewExponentialBackoffStrategy(10*time.Second, 1*time.Second)

	mqttProps := actor.PropsFromProducer(func() actor.Actor {
		return state.mqttProvider(state.eventStream)
	}, actor.WithSupervisor(supervisor))
	return ctx.SpawnNamed(mqttProps, domain.ACTOR_ID_MQTT)
}

func (state *healthCheckResult) allReceived() bool {
	return state.received >= state.expected
}

func (state *healthCheckResult) respond(ctx actor.Context) {
	resp := domain.ActorHealthResponse{
		Id:      domain.ACTOR_ID_MASTER,
		Healthy: state.allReceived() && len(state.unhealthy) == 0,
		State:   "ok",
	}
	if !resp.Healthy {
		sort.Strings(state.unhealthy)
		resp.State = fmt.Sprintf("unhealthy: %s (%d/%d responded)", strings.Join(state.unhealthy, ","), state.received, state.expected)
	}
	if state.respondTo != nil {
		ctx.Send(state.respondTo, resp)
	}
}
