package publish

import (
	"sync"
	"time"

	"github.com/berfenger/wastemon/internal/core/domain"
	"github.com/berfenger/wastemon/internal/core/port"
	"github.com/berfenger/wastemon/pkg/plc_modbus"
)

type Fanout []port.Publisher

func (f Fanout) PublishReading(device string, reading plc_modbus.Reading) {
	for _, p := range f {
		p.PublishReading(device, reading)
	}
}

func (f Fanout) PublishAlert(device string, alert domain.Alert) {
	for _, p := range f {
		p.PublishAlert(device, alert)
	}
}

func (f Fanout) PublishStatus(device string, status domain.DeviceStatus, at time.Time) {
	for _, p := range f {
		p.PublishStatus(device, status, at)
	}
}

// Recorder keeps everything published to it.
type Recorder struct {
	mu       sync.Mutex
	readings map[string][]plc_modbus.Reading
	alerts   map[string][]domain.Alert
	statuses map[string][]domain.DeviceStatus
}

func NewRecorder() *Recorder {
	return &Recorder{
		readings: make(map[string][]plc_modbus.Reading),
		alerts:   make(map[string][]domain.Alert),
		statuses: make(map[string][]domain.DeviceStatus),
	}
}

func (r *Recorder) PublishReading(device string, reading plc_modbus.Reading) {
	r.mu.Lock()
	defer r.mu.Unlock()
	r.readings[device] = append(r.readings[device], reading)
}

func (r *Recorder) PublishAlert(device string, alert domain.Alert) {
	r.mu.Lock()
	defer r.mu.Unlock()
	r.alerts[device] = append(r.alerts[device], alert)
}

func (r *Recorder) PublishStatus(device string, status domain.DeviceStatus, at time.Time) {
	r.mu.Lock()
	defer r.mu.Unlock()
	r.statuses[device] = append(r.statuses[device], status)
}

func (r *Recorder) Readings(device string) []plc_modbus.Reading {
	r.mu.Lock()
	defer r.mu.Unlock()
	return append([]plc_modbus.Reading(nil), r.readings[device]...)
}

func (r *Recorder) Alerts(device string) []domain.Alert {
	r.mu.Lock()
	defer r.mu.Unlock()
	return append([]domain.Alert(nil), r.alerts[device]...)
}

func (r *Recorder) Statuses(device string) []domain.DeviceStatus {
	r.mu.Lock()
	defer r.mu.Unlock()
	return append([]domain.DeviceStatus(nil), r.statuses[device]...)
}
