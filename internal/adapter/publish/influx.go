package publish

import (
	"time"

	"github.com/berfenger/wastemon/internal/core/domain"
	"github.com/berfenger/wastemon/pkg/plc_modbus"
	influxdb2 "github.com/influxdata/influxdb-client-go/v2"
	"github.com/influxdata/influxdb-client-go/v2/api"
	"github.com/influxdata/influxdb-client-go/v2/api/write"
	"go.uber.org/zap"
)

type InfluxConfig struct {
	URL    string
	Token  string
	Org    string
	Bucket string
}

// InfluxPublisher writes readings and alerts as points through the
// non-blocking write API.
type InfluxPublisher struct {
	client influxdb2.Client
	writer api.WriteAPI
	logger *zap.Logger
	done   chan struct{}
}

func NewInfluxPublisher(cfg InfluxConfig, logger *zap.Logger) *InfluxPublisher {
	client := influxdb2.NewClient(cfg.URL, cfg.Token)
	p := &InfluxPublisher{
		client: client,
		writer: client.WriteAPI(cfg.Org, cfg.Bucket),
		logger: logger,
		done:   make(chan struct{}),
	}
	go p.logErrors()
	return p
}

func (p *InfluxPublisher) logErrors() {
	errs := p.writer.Errors()
	for {
		select {
		case err := <-errs:
			p.logger.Warn("influx: write failed", zap.Error(err))
		case <-p.done:
			return
		}
	}
}

func ReadingPoint(device string, r plc_modbus.Reading) *write.Point {
	fields := map[string]interface{}{
		"temperature_c":   r.Temperature,
		"pressure_bar":    r.Pressure,
		"water_level_pct": r.WaterLevel,
		"power_kw":        r.Power,
		"door_locked":     r.DoorLocked,
		"heater_on":       r.HeaterOn,
		"pump_on":         r.PumpOn,
		"cycle_number":    int64(r.CycleNumber),
		"total_cycles":    int64(r.TotalCycles),
		"alarm_code":      int64(r.AlarmCode),
	}
	optional := map[string]*float64{
		"steam_flow_kg_h":   r.SteamFlow,
		"combustion_temp_c": r.CombustionTemp,
		"exhaust_temp_c":    r.ExhaustTemp,
		"co_ppm":            r.CO,
		"nox_ppm":           r.NOx,
		"so2_ppm":           r.SO2,
		"co2_ppm":           r.CO2,
		"fuel_flow_l_h":     r.FuelFlow,
	}
	for k, v := range optional {
		if v != nil {
			fields[k] = *v
		}
	}
	tags := map[string]string{
		"device": device,
		"status": string(r.Status),
	}
	return influxdb2.NewPoint("reading", tags, fields, r.Timestamp)
}

func AlertPoint(device string, a domain.Alert) *write.Point {
	fields := map[string]interface{}{
		"value":   a.Value,
		"message": a.Message,
	}
	if a.Threshold != nil {
		fields["threshold"] = *a.Threshold
	}
	tags := map[string]string{
		"device":   device,
		"kind":     string(a.Kind),
		"severity": string(a.Severity),
	}
	return influxdb2.NewPoint("alert", tags, fields, a.CreatedAt)
}

func StatusPoint(device string, status domain.DeviceStatus, at time.Time) *write.Point {
	return influxdb2.NewPoint("device_status",
		map[string]string{"device": device},
		map[string]interface{}{"status": string(status)},
		at)
}

func (p *InfluxPublisher) PublishReading(device string, reading plc_modbus.Reading) {
	p.writer.WritePoint(ReadingPoint(device, reading))
}

func (p *InfluxPublisher) PublishAlert(device string, alert domain.Alert) {
	p.writer.WritePoint(AlertPoint(device, alert))
}

func (p *InfluxPublisher) PublishStatus(device string, status domain.DeviceStatus, at time.Time) {
	p.writer.WritePoint(StatusPoint(device, status, at))
}

func (p *InfluxPublisher) Close() {
	p.writer.Flush()
	close(p.done)
	p.client.Close()
}
