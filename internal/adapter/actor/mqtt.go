package actor

import (
	"encoding/json"
	"fmt"
	"time"

	"github.com/berfenger/wastemon/internal/config"
	"github.com/berfenger/wastemon/internal/core/domain"
	"github.com/berfenger/wastemon/internal/mqtt"
	"github.com/berfenger/wastemon/internal/util/actorutil"

	"github.com/asynkron/protoactor-go/actor"
	"github.com/asynkron/protoactor-go/eventstream"
	pahomqtt "github.com/eclipse/paho.mqtt.golang"
	"go.uber.org/zap"
)

// MQTTActor mirrors device events from the event stream to the broker and
// forwards commands received under the base topic to its parent.
type MQTTActor struct {
	config         *config.Config
	behavior       actor.Behavior
	stash          *actorutil.Stash
	client         *mqtt.MQTTClient
	eventStream    *eventstream.EventStream
	eventStreamSub *eventstream.Subscription
	published      []rawMessage
	logger         *zap.Logger
}

type MQTTConnected struct {
}

type MQTTSubscribed struct {
}

type MQTTConnectionLost struct {
	Error error
}

type onEventStreamMessage struct {
	message any
}

type publishResult struct {
	Error error
}

type ParsedCommand struct {
	Command *mqtt.ParsedMQTTCommand
}

type rawMessage struct {
	topic   string
	message []byte
	retain  bool
}

type publishedMessagesRequest struct{}

func NewMQTTActor(config *config.Config, eventStream *eventstream.EventStream, logger *zap.Logger) *MQTTActor {
	act := &MQTTActor{
		config:      config,
		behavior:    actor.NewBehavior(),
		stash:       &actorutil.Stash{},
		eventStream: eventStream,
		logger:      actorutil.ActorLogger(domain.ACTOR_ID_MQTT, logger),
	}
	act.behavior.Become(act.StartingReceive)
	return act
}

func (state *MQTTActor) Receive(context actor.Context) {
	state.behavior.Receive(context)
}

func (state *MQTTActor) StartingReceive(ctx actor.Context) {
	switch msg := ctx.Message().(type) {
	case *actor.Started:
		state.logger.Debug("mqtt@starting started")

		// create MQTT client
		state.client = mqtt.CreateMQTTClient(state.config, mqtt.OptsFromConfig(state.config), func(_ pahomqtt.Client) {
		}, func(_ pahomqtt.Client, err error) {
			ctx.Send(ctx.Self(), MQTTConnectionLost{Error: err})
		})

		// connect to MQTT server
		state.client.Connect(func(err error) {
			if err != nil {
				ctx.Send(ctx.Self(), MQTTConnectionLost{Error: err})
			} else {
				ctx.Send(ctx.Self(), MQTTConnected{})
			}
		}, 10*time.Second)

	case MQTTConnected:
		state.logger.Debug("mqtt@starting connected")

		state.client.Publish(state.client.BridgeStateTopic(), mqtt.BridgeStatePayload(true), 0, true, func(error) {}, 500*time.Millisecond)

		// subscribe to MQTT command topic
		state.client.SubscribeToCommandTopic(func(c pahomqtt.Client, m pahomqtt.Message) {
			cmd, err := state.client.ParseMQTTCommand(m)
			if err == nil && cmd != nil {
				ctx.Send(ctx.Self(), ParsedCommand{Command: cmd})
			}
		}, func(err error) {
			if err != nil {
				ctx.Send(ctx.Self(), MQTTConnectionLost{Error: err})
			} else {
				ctx.Send(ctx.Self(), MQTTSubscribed{})
			}
		}, 1*time.Second)
	case MQTTSubscribed:
		// init completed, transition to default state
		state.logger.Debug("mqtt@starting subscribed")
		state.subscribeEventStream(ctx)
		state.behavior.Become(state.DefaultReceive)
		state.stash.UnstashAll(ctx)
	case MQTTConnectionLost:
		// if connection lost, stop actor and let supervisor decide
		state.logger.Error("mqtt@starting connection lost", zap.Error(msg.Error))
		panic(msg.Error)
	case *actor.Restarting:
		state.stop()
	case *actor.Stopping:
		state.stop()
	default:
		state.logger.Debug("mqtt@starting stash", zap.String("type", fmt.Sprintf("%T", msg)))
		state.stash.Stash(ctx, msg)
	}
}

func (state *MQTTActor) DefaultReceive(ctx actor.Context) {
	switch msg := ctx.Message().(type) {
	case *actor.Restarting:
		state.stop()
	case *actor.Stopping:
		state.stop()
	case domain.ActorHealthRequest:
		state.logger.Debug("mqtt@default ActorHealthRequest")
		// respond health check request
		actorutil.ForRequest(msg).Respond(ctx, domain.ActorHealthResponse{
			Id:      domain.ACTOR_ID_MQTT,
			Healthy: true,
			State:   "idle",
		})
	case ParsedCommand:
		// route command to parent
		state.logger.Debug("mqtt@default parsedCommand", zap.Any("command", msg.Command))
		ctx.Send(ctx.Parent(), msg)
	case onEventStreamMessage:
		raw, err := state.event2MQTTMessage(msg.message)
		if err != nil {
			state.logger.Error("mqtt@default could not encode event", zap.Error(err))
			return
		}
		if raw != nil {
			state.publish(ctx, *raw)
		}
	case MQTTConnectionLost:
		// if connection lost, stop actor and let supervisor decide
		state.logger.Error("mqtt@default connection lost", zap.Error(msg.Error))
		panic(msg.Error)
	default:
		state.logger.Debug("mqtt@default unhandled", zap.String("type", fmt.Sprintf("%T", msg)))
	}
}

func (state *MQTTActor) PublishResultReceive(ctx actor.Context) {
	switch msg := ctx.Message().(type) {
	case publishResult:
		// log error and return to default state
		if msg.Error != nil {
			state.logger.Error("mqtt@publishing could not publish a message", zap.Error(msg.Error))
		}
		state.behavior.UnbecomeStacked()
		state.stash.UnstashAll(ctx)
	case MQTTConnectionLost:
		state.logger.Error("mqtt@publishing connection lost", zap.Error(msg.Error))
		panic(msg.Error)
	case *actor.Restarting:
		state.stop()
	case *actor.Stopping:
		state.stop()
	default:
		state.logger.Debug("mqtt@publishing stash", zap.String("type", fmt.Sprintf("%T", msg)))
		state.stash.Stash(ctx, msg)
	}
}

func (state *MQTTActor) subscribeEventStream(ctx actor.Context) {
	if state.eventStream == nil || state.eventStreamSub != nil {
		return
	}
	state.eventStreamSub = state.eventStream.SubscribeWithPredicate(func(value any) {
		ctx.Send(ctx.Self(), onEventStreamMessage{message: value})
	}, func(value any) bool {
		_, ok := value.(domain.DeviceEvent)
		return ok
	})
}

func (state *MQTTActor) event2MQTTMessage(event any) (*rawMessage, error) {
	var topic string
	var body any
	retain := false
	switch msg := event.(type) {
	case domain.TelemetryEvent:
		topic = state.client.DeviceReadingTopic(msg.Device)
		body = msg.Reading
	case domain.AlertEvent:
		topic = state.client.DeviceAlertTopic(msg.Device)
		body = msg.Alert
	case domain.DeviceStatusEvent:
		return &rawMessage{
			topic:   state.client.DeviceStatusTopic(msg.Device),
			message: []byte(msg.Status),
			retain:  true,
		}, nil
	default:
		return nil, nil
	}
	payload, err := json.Marshal(body)
	if err != nil {
		return nil, err
	}
	return &rawMessage{topic: topic, message: payload, retain: retain}, nil
}

func (state *MQTTActor) publish(ctx actor.Context, msg rawMessage) {
	state.logger.Debug("mqtt@publish", zap.String("topic", msg.topic), zap.Int("bytes", len(msg.message)))
	state.client.Publish(msg.topic, msg.message, 1, msg.retain, func(err error) {
		ctx.Send(ctx.Self(), publishResult{Error: err})
	}, 5*time.Second)
	state.behavior.BecomeStacked(state.PublishResultReceive)
}

func (state *MQTTActor) stop() {
	if state.eventStreamSub != nil {
		state.eventStream.Unsubscribe(state.eventStreamSub)
		state.eventStreamSub = nil
	}
	if state.client == nil {
		return
	}
	state.logger.Debug("mqtt: disconnect")
	state.client.Publish(state.client.BridgeStateTopic(), mqtt.BridgeStatePayload(false), 0, true, func(error) {}, 500*time.Millisecond)
	state.client.Disconnect(500 * time.Millisecond)
}

// Dummy actor, records outgoing messages instead of talking to a broker
func NewTestMQTTActor(config *config.Config, eventStream *eventstream.EventStream, logger *zap.Logger) *MQTTActor {
	act := &MQTTActor{
		config:      config,
		behavior:    actor.NewBehavior(),
		stash:       &actorutil.Stash{},
		eventStream: eventStream,
		logger:      actorutil.ActorLogger(domain.ACTOR_ID_MQTT, logger),
	}
	act.behavior.Become(act.DummyReceive)
	return act
}

func (state *MQTTActor) DummyReceive(ctx actor.Context) {
	switch msg := ctx.Message().(type) {
	case *actor.Started:
		state.client = mqtt.CreateMQTTClient(state.config, mqtt.OptsFromConfig(state.config), nil, nil)
		state.subscribeEventStream(ctx)
	case *actor.Stopping:
		if state.eventStreamSub != nil {
			state.eventStream.Unsubscribe(state.eventStreamSub)
			state.eventStreamSub = nil
		}
	case domain.ActorHealthRequest:
		state.logger.Debug("mqtt@dummy ActorHealthRequest")
		actorutil.ForRequest(msg).Respond(ctx, domain.ActorHealthResponse{
			Id:      domain.ACTOR_ID_MQTT,
			Healthy: true,
			State:   "idle",
		})
	case ParsedCommand:
		ctx.Send(ctx.Parent(), msg)
	case onEventStreamMessage:
		raw, err := state.event2MQTTMessage(msg.message)
		if err == nil && raw != nil {
			state.published = append(state.published, *raw)
		}
	case publishedMessagesRequest:
		out := make([]rawMessage, len(state.published))
		copy(out, state.published)
		ctx.Respond(out)
	}
}
