package publish

import (
	"time"

	"github.com/asynkron/protoactor-go/eventstream"
	"github.com/berfenger/wastemon/internal/core/domain"
	"github.com/berfenger/wastemon/pkg/plc_modbus"
)

// StreamPublisher turns readings and alerts into events on the process
// event stream, where the MQTT bridge picks them up.
type StreamPublisher struct {
	stream *eventstream.EventStream
}

func NewStreamPublisher(stream *eventstream.EventStream) *StreamPublisher {
	return &StreamPublisher{stream: stream}
}

func (p *StreamPublisher) PublishReading(device string, reading plc_modbus.Reading) {
	p.stream.Publish(domain.TelemetryEvent{
		DeviceEventMixIn: domain.DeviceEventMixIn{Device: device},
		Reading:          reading,
	})
}

func (p *StreamPublisher) PublishAlert(device string, alert domain.Alert) {
	p.stream.Publish(domain.AlertEvent{
		DeviceEventMixIn: domain.DeviceEventMixIn{Device: device},
		Alert:            alert,
	})
}

func (p *StreamPublisher) PublishStatus(device string, status domain.DeviceStatus, at time.Time) {
	p.stream.Publish(domain.DeviceStatusEvent{
		DeviceEventMixIn: domain.DeviceEventMixIn{Device: device},
		Status:           status,
		At:               at,
	})
}
