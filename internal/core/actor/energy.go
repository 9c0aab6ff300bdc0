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

const ENERGY_COMPUTE_TIMEOUT = 30 * time.Second

type EnergyActorConfig struct {
	RetryCount int
	RetryDelay time.Duration
}

// EnergyActor computes cycle energy records in the background and retries
// failed computations after a delay.
type EnergyActor struct {
	behavior  actor.Behavior
	scheduler *scheduler.TimerScheduler
	service   *service.EnergyService
	cfg       EnergyActorConfig
	inflight  int
	logger    *zap.Logger
}

type energyComputed struct {
	request domain.ComputeCycleEnergyRequest
	replyTo *actor.PID
	attempt int
	record  domain.EnergyRecord
	err     error
}

type energyRetry struct {
	request domain.ComputeCycleEnergyRequest
	replyTo *actor.PID
	attempt int
}

func NewEnergyActor(svc *service.EnergyService, cfg EnergyActorConfig, logger *zap.Logger) *EnergyActor {
	if cfg.RetryCount < 0 {
		cfg.RetryCount = 0
	}
	act := &EnergyActor{
		behavior: actor.NewBehavior(),
		service:  svc,
		cfg:      cfg,
		logger:   ActorLogger(domain.ACTOR_ID_ENERGY, logger),
	}
	act.behavior.Become(act.DefaultReceive)
	return act
}

func (state *EnergyActor) Receive(context actor.Context) {
	state.behavior.Receive(context)
}

func (state *EnergyActor) DefaultReceive(ctx actor.Context) {
	switch msg := ctx.Message().(type) {
	case *actor.Started:
		state.logger.Debug("energy@default started")
		state.scheduler = scheduler.NewTimerScheduler(ctx)
	case domain.ComputeCycleEnergyRequest:
		state.logger.Debug("energy@default ComputeCycleEnergyRequest", zap.String("cycle", string(msg.Cycle)),
			zap.Bool("complete", msg.Complete))
		state.compute(ctx, msg, ForRequest(msg).ReplyTo(ctx), 1)
	case energyRetry:
		state.compute(ctx, msg.request, msg.replyTo, msg.attempt)
	case energyComputed:
		state.inflight--
		if msg.err != nil && msg.attempt <= state.cfg.RetryCount && retryable(msg.err) {
			state.logger.Warn("energy@default computation failed, retrying",
				zap.String("cycle", string(msg.request.Cycle)),
				zap.Int("attempt", msg.attempt),
				zap.Duration("delay", state.cfg.RetryDelay),
				zap.Error(msg.err))
			state.scheduler.SendOnce(state.cfg.RetryDelay, ctx.Self(), energyRetry{
				request: msg.request,
				replyTo: msg.replyTo,
				attempt: msg.attempt + 1,
			})
			return
		}
		state.respond(ctx, msg)
	case domain.ActorHealthRequest:
		ForRequest(msg).Respond(ctx, domain.ActorHealthResponse{
			Id:      domain.ACTOR_ID_ENERGY,
			Healthy: true,
			State:   fmt.Sprintf("inflight=%d", state.inflight),
		})
	case *actor.Stopping:
		state.logger.Debug("energy@default stopping", zap.Int("inflight", state.inflight))
	default:
		state.logger.Debug("energy@default unhandled", zap.String("type", fmt.Sprintf("%T", msg)))
	}
}

func (state *EnergyActor) compute(ctx actor.Context, req domain.ComputeCycleEnergyRequest, replyTo *actor.PID, attempt int) {
	state.inflight++
	go NewBackgroundTask(ctx, func(taskCtx context.Context) energyComputed {
		var record domain.EnergyRecord
		var err error
		if req.Complete {
			record, err = state.service.CompleteCycle(taskCtx, req.Cycle)
		} else {
			record, err = state.service.ComputeCycle(taskCtx, req.Cycle)
		}
		return energyComputed{request: req, replyTo: replyTo, attempt: attempt, record: record, err: err}
	}).WithTimeout(ENERGY_COMPUTE_TIMEOUT).Recover(func(err error) energyComputed {
		return energyComputed{request: req, replyTo: replyTo, attempt: attempt, err: err}
	}).PipeTo(ctx.Self())
}

func (state *EnergyActor) respond(ctx actor.Context, msg energyComputed) {
	resp := domain.ComputeCycleEnergyResponse{
		ActorResponseMixIn: domain.ResponseError(msg.err),
	}
	if msg.err != nil {
		state.logger.Error("energy@default computation failed",
			zap.String("cycle", string(msg.request.Cycle)), zap.Int("attempts", msg.attempt), zap.Error(msg.err))
	} else {
		record := msg.record
		resp.Record = &record
		state.logger.Debug("energy@default cycle computed",
			zap.String("cycle", string(msg.request.Cycle)),
			zap.Float64("kwh", record.ElectricityKWh),
			zap.String("total_cost", record.TotalCost.String()))
	}
	if msg.replyTo != nil {
		ctx.Send(msg.replyTo, resp)
	}
}

// retryable reports whether another attempt may succeed.
func retryable(err error) bool {
	return !errors.Is(err, service.ErrUnorderedSamples)
}
