package actorutil

import (
	"errors"
	"log/slog"
	"time"

	"github.com/berfenger/wastemon/internal/core/domain"
	"github.com/berfenger/wastemon/internal/mqtt"
	"github.com/berfenger/wastemon/pkg/plc_modbus"

	"github.com/asynkron/protoactor-go/actor"
	"github.com/lmittmann/tint"
	"go.uber.org/zap"
)

func PipeToSelfWithRecover(ctx actor.Context, future *actor.Future, mapFn func(error) any) {
	ctx.ReenterAfter(future, func(msg any, err error) {
		if err != nil {
			ctx.Send(ctx.Self(), mapFn(err))
			return
		}
		ctx.Send(ctx.Self(), msg)
	})
}

func NewActorSystemWithZapLogger(logger *zap.Logger) *actor.ActorSystem {
	stdOutLogger := zap.NewStdLog(logger)

	var slogLevel slog.Level = slog.LevelInfo

	switch logger.Level() {
	case zap.DebugLevel:
		slogLevel = slog.LevelDebug
	case zap.InfoLevel:
		slogLevel = slog.LevelInfo
	case zap.WarnLevel:
		slogLevel = slog.LevelWarn
	case zap.ErrorLevel:
		slogLevel = slog.LevelError
	case zap.PanicLevel:
		slogLevel = slog.LevelError
	}

	return actor.NewActorSystem(actor.WithLoggerFactory(func(system *actor.ActorSystem) *slog.Logger {

		// create a new logger
		return slog.New(tint.NewHandler(stdOutLogger.Writer(), &tint.Options{
			Level:      slogLevel,
			TimeFormat: time.DateTime,
		}))
	}))
}

func ActorLogger(actorName string, logger *zap.Logger) *zap.Logger {
	return logger.With(zap.String("actor", actorName))
}

// ParsedMQTTCommandToRequest maps a command received from MQTT to the request
// the master actor handles. Unrelated topics map to nil without error.
func ParsedMQTTCommandToRequest(cmd mqtt.ParsedMQTTCommand) (domain.ActorRequest, error) {
	switch cmd.Command {
	case mqtt.COMMAND_COIL:
		coil, err := plc_modbus.ParseCoil(cmd.Param)
		if err != nil {
			return nil, err
		}
		value, err := mqtt.ParseSwitchPayload(cmd.Payload)
		if err != nil {
			return nil, err
		}
		return domain.DeviceCommandRequest{
			Device: cmd.DeviceId,
			Coil:   coil,
			Value:  value,
		}, nil
	case mqtt.COMMAND_CYCLE_COMPLETE:
		if cmd.Param == "" {
			return nil, errors.New("empty cycle id")
		}
		return domain.ComputeCycleEnergyRequest{
			Cycle:    domain.CycleRef(cmd.Param),
			Complete: true,
		}, nil
	}
	return nil, nil
}
