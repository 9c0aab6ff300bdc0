package actor

import (
	"context"
	"errors"
	"fmt"
	"time"

	"github.com/berfenger/wastemon/internal/core/domain"
	"github.com/berfenger/wastemon/internal/core/service"
	. "github.com/berfenger/wastemon/internal/util/actorutil"

	"github.com/asynkron/protoactor-go/actor"
	"github.com/asynkron/protoactor-go/scheduler"
	"go.uber.org/zap"
)

const (
	DEFAULT_STOP_TIMEOUT    = 5 * time.Second
	DEFAULT_COMMAND_TIMEOUT = 3 * time.Second
	DEFAULT_CONNECT_TIMEOUT = 5 * time.Second
)

var ErrPollerStopped = errors.New("polling stopped")

type PollerActorConfig struct {
	StopTimeout    time.Duration
	CommandTimeout time.Duration
	ConnectTimeout time.Duration
}

// PollerActor runs the polling loop of one device. Ticks, connects and coil
// writes run one at a time on a background goroutine; everything else that
// needs the device waits in the stash meanwhile.
type PollerActor struct {
	behavior    actor.Behavior
	stash       *Stash
	scheduler   *scheduler.TimerScheduler
	cancelTicks scheduler.CancelFunc

	device   domain.DeviceProfile
	poller   *service.DevicePoller
	cfg      PollerActorConfig
	job      *pollerJob
	stopping *actor.PID

	failures int
	offline  bool
	ticks    int

	logger *zap.Logger
}

type pollerJob struct {
	name   string
	cancel context.CancelFunc
	done   chan struct{}
}

type pollerTick struct {
}

type tickCompleted struct {
	result service.TickResult
	err    error
}

type connectCompleted struct {
	err error
}

type commandCompleted struct {
	request domain.DeviceCommandRequest
	replyTo *actor.PID
	err     error
}

type stopLoopRequest struct {
}

type stopLoopResponse struct {
	Abandoned bool
}

func NewPollerActor(poller *service.DevicePoller, cfg PollerActorConfig, logger *zap.Logger) *PollerActor {
	if cfg.StopTimeout <= 0 {
		cfg.StopTimeout = DEFAULT_STOP_TIMEOUT
	}
	if cfg.CommandTimeout <= 0 {
		cfg.CommandTimeout = DEFAULT_COMMAND_TIMEOUT
	}
	if cfg.ConnectTimeout <= 0 {
		cfg.ConnectTimeout = DEFAULT_CONNECT_TIMEOUT
	}
	act := &PollerActor{
		behavior: actor.NewBehavior(),
		stash:    &Stash{},
		device:   poller.Device,
		poller:   poller,
		cfg:      cfg,
		logger:   ActorLogger(domain.PollerActorId(poller.Device.Serial), logger),
	}
	act.behavior.Become(act.DefaultReceive)
	return act
}

// NewStoppedPollerActor stands in for a loop that could not be rebuilt. It
// keeps the device registered but never polls.
func NewStoppedPollerActor(device domain.DeviceProfile, logger *zap.Logger) *PollerActor {
	act := &PollerActor{
		behavior: actor.NewBehavior(),
		stash:    &Stash{},
		device:   device,
		cfg:      PollerActorConfig{StopTimeout: DEFAULT_STOP_TIMEOUT},
		offline:  true,
		logger:   ActorLogger(domain.PollerActorId(device.Serial), logger),
	}
	act.behavior.Become(act.StoppedReceive)
	return act
}

func (state *PollerActor) Receive(context actor.Context) {
	state.behavior.Receive(context)
}

func (state *PollerActor) DefaultReceive(ctx actor.Context) {
	switch msg := ctx.Message().(type) {
	case *actor.Started:
		state.logger.Debug("poller@default started", zap.Duration("interval", state.device.Interval()))
		state.scheduler = scheduler.NewTimerScheduler(ctx)
		state.cancelTicks = state.scheduler.SendRepeatedly(state.device.Interval(), state.device.Interval(), ctx.Self(), pollerTick{})

		state.runJob(ctx, "connect", state.cfg.ConnectTimeout, func(jobCtx context.Context) any {
			return connectCompleted{err: state.poller.Connect(jobCtx)}
		}, func(err error) any {
			return connectCompleted{err: err}
		})
	case pollerTick:
		state.runJob(ctx, "tick", 0, func(jobCtx context.Context) any {
			result, err := state.poller.Tick(jobCtx)
			return tickCompleted{result: result, err: err}
		}, func(err error) any {
			return tickCompleted{err: err}
		})
	case domain.DeviceCommandRequest:
		state.logger.Debug("poller@default DeviceCommandRequest", zap.Stringer("coil", msg.Coil), zap.Bool("value", msg.Value))
		replyTo := ForRequest(msg).ReplyTo(ctx)
		state.runJob(ctx, "command", state.cfg.CommandTimeout, func(jobCtx context.Context) any {
			return commandCompleted{request: msg, replyTo: replyTo, err: state.poller.WriteCoil(jobCtx, msg.Coil, msg.Value)}
		}, func(err error) any {
			return commandCompleted{request: msg, replyTo: replyTo, err: err}
		})
	case domain.ActorHealthRequest:
		state.respondHealth(ctx, msg, state.statusLabel())
	case stopLoopRequest:
		state.logger.Debug("poller@default stopLoopRequest")
		state.stopTicks()
		ctx.Respond(stopLoopResponse{})
		state.behavior.Become(state.StoppedReceive)
	case *actor.Stopping:
		state.shutdown(ctx)
	case *actor.Restarting:
		state.shutdown(ctx)
	default:
		state.logger.Debug("poller@default unhandled", zap.String("type", fmt.Sprintf("%T", msg)))
	}
}

func (state *PollerActor) BusyReceive(ctx actor.Context) {
	switch msg := ctx.Message().(type) {
	case tickCompleted:
		state.onTickCompleted(msg)
		state.finishJob(ctx)
	case connectCompleted:
		if msg.err != nil {
			state.logger.Warn("poller@busy initial connect failed", zap.Error(msg.err))
		}
		state.finishJob(ctx)
	case commandCompleted:
		if msg.err != nil {
			state.logger.Error("poller@busy command failed", zap.Stringer("coil", msg.request.Coil), zap.Error(msg.err))
		}
		if msg.replyTo != nil {
			ctx.Send(msg.replyTo, domain.DeviceCommandResponse{
				ActorResponseMixIn: domain.ResponseError(msg.err),
				Device:             state.device.Serial,
			})
		}
		state.finishJob(ctx)
	case pollerTick:
		// the previous job is still running, skip this tick
		state.logger.Debug("poller@busy tick overrun", zap.String("job", state.job.name))
	case domain.ActorHealthRequest:
		state.respondHealth(ctx, msg, state.job.name)
	case stopLoopRequest:
		state.logger.Debug("poller@busy stopLoopRequest", zap.String("job", state.job.name))
		state.stopTicks()
		state.stopping = ctx.Sender()
		state.job.cancel()
		ctx.SetReceiveTimeout(state.cfg.StopTimeout)
	case *actor.ReceiveTimeout:
		ctx.CancelReceiveTimeout()
		if state.stopping != nil {
			state.logger.Warn("poller@busy abandoning running job", zap.String("job", state.job.name))
			ctx.Send(state.stopping, stopLoopResponse{Abandoned: true})
			state.stopping = nil
			state.job = nil
			state.behavior.Become(state.StoppedReceive)
		}
	case *actor.Stopping:
		state.shutdown(ctx)
	case *actor.Restarting:
		state.shutdown(ctx)
	default:
		state.logger.Debug("poller@busy stash", zap.String("type", fmt.Sprintf("%T", msg)))
		state.stash.Stash(ctx, msg)
	}
}

func (state *PollerActor) StoppedReceive(ctx actor.Context) {
	switch msg := ctx.Message().(type) {
	case domain.ActorHealthRequest:
		state.respondHealth(ctx, msg, "stopped")
	case domain.DeviceCommandRequest:
		ForRequest(msg).Respond(ctx, domain.DeviceCommandResponse{
			ActorResponseMixIn: domain.ResponseError(ErrPollerStopped),
			Device:             state.device.Serial,
		})
	case stopLoopRequest:
		ctx.Respond(stopLoopResponse{})
	case *actor.Stopping:
		state.shutdown(ctx)
	default:
		state.logger.Debug("poller@stopped drop", zap.String("type", fmt.Sprintf("%T", msg)))
	}
}

// runJob runs fn on a background goroutine and pipes its result back to the
// actor. onError maps a timeout into the completion message; the context
// passed to fn is cancelled when the timeout fires or the job is cancelled.
func (state *PollerActor) runJob(ctx actor.Context, name string, timeout time.Duration,
	fn func(context.Context) any, onError func(error) any) {

	jobCtx, cancel := context.WithCancel(context.Background())
	job := &pollerJob{name: name, cancel: cancel, done: make(chan struct{})}
	state.job = job

	go NewBackgroundTask(ctx, func(taskCtx context.Context) any {
		defer close(job.done)
		return fn(taskCtx)
	}).WithContext(jobCtx).WithTimeout(timeout).Recover(onError).PipeTo(ctx.Self())

	state.behavior.BecomeStacked(state.BusyReceive)
}

func (state *PollerActor) finishJob(ctx actor.Context) {
	if state.job != nil {
		state.job.cancel()
		state.job = nil
	}
	state.behavior.UnbecomeStacked()
	if state.stopping != nil {
		ctx.CancelReceiveTimeout()
		ctx.Send(state.stopping, stopLoopResponse{})
		state.stopping = nil
		state.behavior.Become(state.StoppedReceive)
	}
	state.stash.UnstashAll(ctx)
}

func (state *PollerActor) onTickCompleted(msg tickCompleted) {
	state.ticks++
	state.failures = state.poller.ConsecutiveFailures()
	state.offline = state.poller.Offline()
	if msg.err != nil {
		state.logger.Warn("poller@busy tick failed", zap.Int("failures", state.failures), zap.Error(msg.err))
		return
	}
	if msg.result.Reading != nil {
		state.logger.Debug("poller@busy tick",
			zap.String("status", string(msg.result.Reading.Status)),
			zap.Int("alerts", len(msg.result.Alerts)))
	}
}

func (state *PollerActor) statusLabel() string {
	if state.offline {
		return string(domain.DEVICE_STATUS_OFFLINE)
	}
	if state.ticks == 0 {
		return "starting"
	}
	return "polling"
}

func (state *PollerActor) respondHealth(ctx actor.Context, req domain.ActorHealthRequest, label string) {
	ForRequest(req).Respond(ctx, domain.ActorHealthResponse{
		Id:      domain.PollerActorId(state.device.Serial),
		Healthy: !state.offline,
		State:   label,
	})
}

func (state *PollerActor) stopTicks() {
	if state.cancelTicks != nil {
		state.cancelTicks()
		state.cancelTicks = nil
	}
}

// shutdown cancels the running job, waits for it a bounded time and releases
// the transport.
func (state *PollerActor) shutdown(ctx actor.Context) {
	state.stopTicks()
	if job := state.job; job != nil {
		job.cancel()
		select {
		case <-job.done:
		case <-time.After(state.cfg.StopTimeout):
			state.logger.Warn("poller: abandoning running job", zap.String("job", job.name))
		}
		state.job = nil
	}
	if state.poller != nil {
		if err := state.poller.Close(); err != nil {
			state.logger.Debug("poller: close transport", zap.Error(err))
		}
	}
	state.stash.Drain(func(msg any, sender *actor.PID) {
		if req, ok := msg.(domain.DeviceCommandRequest); ok {
			replyTo := sender
			if req.ReplyTo() != nil {
				replyTo = (*actor.PID)(req.ReplyTo())
			}
			if replyTo != nil {
				ctx.Send(replyTo, domain.DeviceCommandResponse{
					ActorResponseMixIn: domain.ResponseError(ErrPollerStopped),
					Device:             state.device.Serial,
				})
			}
		}
	})
	state.logger.Debug("poller: stopped")
}
