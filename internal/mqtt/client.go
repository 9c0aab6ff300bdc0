package mqtt

import (
	"encoding/json"
	"errors"
	"fmt"
	"regexp"
	"strings"
	"time"

	"github.com/berfenger/wastemon/internal/config"

	"github.com/carlmjohnson/versioninfo"
	mqtt "github.com/eclipse/paho.mqtt.golang"
	"github.com/google/uuid"
)

const (
	MQTT_PAYLOAD_ONLINE  = "online"
	MQTT_PAYLOAD_OFFLINE = "offline"
	MQTT_PAYLOAD_ON      = "on"
	MQTT_PAYLOAD_OFF     = "off"
)

const (
	COMMAND_COIL           = "coil"
	COMMAND_CYCLE_COMPLETE = "cycle_complete"
)

func OptsFromConfig(cfg *config.Config) *mqtt.ClientOptions {
	opts := mqtt.NewClientOptions()
	opts.AddBroker(fmt.Sprintf("tcp://%s:%d", cfg.MQTT.Host, cfg.MQTT.Port))
	opts.SetClientID(fmt.Sprintf("wastemon_%s", uuid.NewString()[:8]))
	if cfg.MQTT.Username != "" && cfg.MQTT.Password != "" {
		opts.SetUsername(cfg.MQTT.Username)
		opts.SetPassword(cfg.MQTT.Password)
	}
	opts.WillEnabled = true
	opts.WillPayload = BridgeStatePayload(false)
	opts.WillRetained = true
	opts.WillTopic = bridgeStateTopic(cfg.MQTT.BaseTopic)
	opts.WillQos = 0

	return opts
}

func CreateMQTTClient(cfg *config.Config, opts *mqtt.ClientOptions, onConnectHandler func(client mqtt.Client),
	onConnectionLostHandler func(mqtt.Client, error)) *MQTTClient {
	if onConnectHandler != nil {
		opts.OnConnect = onConnectHandler
	}
	if onConnectionLostHandler != nil {
		opts.OnConnectionLost = onConnectionLostHandler
	}
	return &MQTTClient{
		client:             mqtt.NewClient(opts),
		cfg:                cfg.MQTT,
		coilCommandRegexp:  coilCommandExtractor(cfg.MQTT.BaseTopic),
		cycleCommandRegexp: cycleCompleteExtractor(cfg.MQTT.BaseTopic),
	}
}

type MQTTClient struct {
	client             mqtt.Client
	cfg                config.MQTTConfig
	coilCommandRegexp  *regexp.Regexp
	cycleCommandRegexp *regexp.Regexp
}

type ParsedMQTTCommand struct {
	DeviceId string
	Command  string
	Param    string
	Payload  string
}

func (c *MQTTClient) baseTopic() string {
	return c.cfg.BaseTopic
}

func (c *MQTTClient) BridgeStateTopic() string {
	return bridgeStateTopic(c.baseTopic())
}

func (c *MQTTClient) DeviceReadingTopic(serial string) string {
	return fmt.Sprintf("%s/device/%s/reading", c.baseTopic(), serial)
}

func (c *MQTTClient) DeviceAlertTopic(serial string) string {
	return fmt.Sprintf("%s/device/%s/alert", c.baseTopic(), serial)
}

func (c *MQTTClient) DeviceStatusTopic(serial string) string {
	return fmt.Sprintf("%s/device/%s/status", c.baseTopic(), serial)
}

func (c *MQTTClient) CoilCommandTopic(serial, coil string) string {
	return fmt.Sprintf("%s/device/%s/coil/%s/set", c.baseTopic(), serial, coil)
}

func (c *MQTTClient) ParseMQTTCommand(msg mqtt.Message) (*ParsedMQTTCommand, error) {
	return c.parseCommand(msg.Topic(), string(msg.Payload()))
}

func (c *MQTTClient) parseCommand(topic, payload string) (*ParsedMQTTCommand, error) {
	if matches := c.coilCommandRegexp.FindStringSubmatch(topic); len(matches) == 3 {
		return &ParsedMQTTCommand{
			DeviceId: matches[1],
			Command:  COMMAND_COIL,
			Param:    matches[2],
			Payload:  payload,
		}, nil
	}
	if matches := c.cycleCommandRegexp.FindStringSubmatch(topic); len(matches) == 2 {
		return &ParsedMQTTCommand{
			Command: COMMAND_CYCLE_COMPLETE,
			Param:   matches[1],
			Payload: payload,
		}, nil
	}
	return nil, errors.New("invalid command")
}

// ParseSwitchPayload accepts on/off, true/false and 1/0.
func ParseSwitchPayload(payload string) (bool, error) {
	switch strings.ToLower(strings.TrimSpace(payload)) {
	case MQTT_PAYLOAD_ON, "true", "1":
		return true, nil
	case MQTT_PAYLOAD_OFF, "false", "0":
		return false, nil
	}
	return false, fmt.Errorf("invalid switch payload %q", payload)
}

func (c *MQTTClient) Publish(topic string, payload any, qos byte, retain bool, continuation func(error), timeout time.Duration) {
	token := c.client.Publish(topic, qos, retain, payload)
	go func() {
		didTO := token.WaitTimeout(timeout)
		if !didTO {
			continuation(errors.New("MQTT publish timed out"))
		} else {
			continuation(token.Error())
		}
	}()
}

func (c *MQTTClient) Subscribe(topic string, qos byte, handler mqtt.MessageHandler, continuation func(error), timeout time.Duration) {
	token := c.client.Subscribe(topic, qos, handler)
	go func() {
		didTO := token.WaitTimeout(timeout)
		if !didTO {
			continuation(errors.New("MQTT subscribe timed out"))
		} else {
			continuation(token.Error())
		}
	}()
}

func (c *MQTTClient) SubscribeToCommandTopic(handler mqtt.MessageHandler, continuation func(error), timeout time.Duration) {
	c.Subscribe(c.commandTopic(), 1, handler, continuation, timeout)
}

func (c *MQTTClient) Connect(continuation func(error), timeout time.Duration) {
	token := c.client.Connect()
	go func() {
		didTO := token.WaitTimeout(timeout)
		if !didTO {
			continuation(errors.New("MQTT connect timed out"))
		} else {
			continuation(token.Error())
		}
	}()
}

func (c *MQTTClient) Disconnect(timeout time.Duration) {
	c.client.Disconnect(uint(timeout.Milliseconds()))
}

func (c *MQTTClient) commandTopic() string {
	return fmt.Sprintf("%s/#", c.baseTopic())
}

func coilCommandExtractor(baseTopic string) *regexp.Regexp {
	return regexp.MustCompile(fmt.Sprintf("^%s/device/([A-Za-z0-9_-]+)/coil/([a-z_]+)/set$", regexp.QuoteMeta(baseTopic)))
}

func cycleCompleteExtractor(baseTopic string) *regexp.Regexp {
	return regexp.MustCompile(fmt.Sprintf("^%s/cycle/([A-Za-z0-9_-]+)/complete$", regexp.QuoteMeta(baseTopic)))
}

type bridgeState struct {
	State    string `json:"state"`
	Version  string `json:"version"`
	Revision string `json:"revision,omitempty"`
}

// BridgeStatePayload is the retained document published on the bridge state
// topic, also used as last will.
func BridgeStatePayload(online bool) []byte {
	state := bridgeState{
		State:   MQTT_PAYLOAD_OFFLINE,
		Version: versioninfo.Version,
	}
	if online {
		state.State = MQTT_PAYLOAD_ONLINE
		state.Revision = versioninfo.Revision
	}
	payload, _ := json.Marshal(state)
	return payload
}

func bridgeStateTopic(baseTopic string) string {
	return fmt.Sprintf("%s/bridge/state", baseTopic)
}
