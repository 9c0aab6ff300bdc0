package service

import (
	"context"
	"fmt"
	"time"

	"github.com/berfenger/wastemon/internal/core/domain"
	"github.com/berfenger/wastemon/internal/core/port"
	"github.com/berfenger/wastemon/pkg/plc_modbus"
	"go.uber.org/multierr"
	"go.uber.org/zap"
)

const (
	DEFAULT_MAX_BACKOFF_STEPS      = 8
	DEFAULT_OFFLINE_AFTER_FAILURES = 3
)

type PollerConfig struct {
	// MaxBackoffSteps caps the reconnect delay, in polling intervals
	MaxBackoffSteps      int
	OfflineAfterFailures int
}

func (c PollerConfig) withDefaults() PollerConfig {
	if c.MaxBackoffSteps <= 0 {
		c.MaxBackoffSteps = DEFAULT_MAX_BACKOFF_STEPS
	}
	if c.OfflineAfterFailures <= 0 {
		c.OfflineAfterFailures = DEFAULT_OFFLINE_AFTER_FAILURES
	}
	return c
}

type TickResult struct {
	Reading *plc_modbus.Reading
	Alerts  []domain.Alert
	Skipped bool
}

// DevicePoller holds the per device state of one polling loop. Tick is not
// safe for concurrent use; the owning loop calls it sequentially.
type DevicePoller struct {
	Device     domain.DeviceProfile
	Transport  plc_modbus.Transport
	Storage    port.Storage
	Publisher  port.Publisher
	Evaluator  *AlertEvaluator
	Instrument *PollInstrument
	Logger     *zap.Logger
	Now        func() time.Time

	cfg          PollerConfig
	alarms       alarmTracker
	failures     int
	backoffSteps int
	nextConnect  time.Time
	offline      bool
	status       domain.DeviceStatus
	phase        plc_modbus.Status
}

func NewDevicePoller(device domain.DeviceProfile, transport plc_modbus.Transport, storage port.Storage,
	publisher port.Publisher, instrument *PollInstrument, cfg PollerConfig, logger *zap.Logger) *DevicePoller {
	logger = logger.With(zap.String("device", device.Serial))
	return &DevicePoller{
		Device:     device,
		Transport:  transport,
		Storage:    storage,
		Publisher:  publisher,
		Evaluator:  NewAlertEvaluator(storage, publisher, instrument, logger),
		Instrument: instrument,
		Logger:     logger,
		Now:        time.Now,
		cfg:        cfg.withDefaults(),
	}
}

func (p *DevicePoller) ConsecutiveFailures() int {
	return p.failures
}

func (p *DevicePoller) Offline() bool {
	return p.offline
}

// Connect opens the transport ahead of the first tick. A failure here is not
// counted; the next tick retries.
func (p *DevicePoller) Connect(ctx context.Context) error {
	if p.Transport.Connected() {
		return nil
	}
	if err := p.Transport.Connect(ctx); err != nil {
		return err
	}
	p.Logger.Info("device connected", zap.String("target", p.Device.Connection.Target()))
	return nil
}

func (p *DevicePoller) LastAlarm() uint16 {
	return p.alarms.Last()
}

// Tick performs one poll: connect if needed, read, persist, raise alerts and
// publish. Storage failures do not stop the remaining steps; they are
// returned together once the tick is done.
func (p *DevicePoller) Tick(ctx context.Context) (TickResult, error) {
	now := p.Now()
	serial := p.Device.Serial

	if !p.Transport.Connected() {
		if now.Before(p.nextConnect) {
			p.Instrument.tick(serial, TICK_SKIPPED)
			return TickResult{Skipped: true}, nil
		}
		if err := p.Transport.Connect(ctx); err != nil {
			p.scheduleReconnect(now)
			return p.fail(ctx, now, err)
		}
		p.backoffSteps = 0
		p.Logger.Info("device connected", zap.String("target", p.Device.Connection.Target()))
	}

	reading, err := plc_modbus.ReadReading(ctx, p.Transport, p.Device.Class, now)
	if err != nil {
		return p.fail(ctx, now, err)
	}
	p.failures = 0
	p.offline = false

	res := TickResult{Reading: &reading}
	var errs error

	phase := reading.Status
	cycle, err := p.Storage.CurrentOpenCycle(ctx, serial)
	if err != nil {
		errs = multierr.Append(errs, err)
		cycle = nil
	} else if cycle == nil && reading.Status == plc_modbus.STATUS_HEATING && p.phase != plc_modbus.STATUS_HEATING {
		opened, err := p.Storage.OpenCycle(ctx, serial, 0, now)
		if err != nil {
			// retried on the next tick
			errs = multierr.Append(errs, err)
			phase = p.phase
		} else {
			cycle = &opened
			p.Logger.Info("cycle opened", zap.String("cycle", string(opened)))
		}
	}
	p.phase = phase
	if _, err := p.Storage.SaveReading(ctx, serial, cycle, reading); err != nil {
		errs = multierr.Append(errs, err)
	}

	status := domain.DEVICE_STATUS_ONLINE
	if reading.Status == plc_modbus.STATUS_ERROR {
		status = domain.DEVICE_STATUS_ERROR
	}
	if err := p.setStatus(ctx, status, now); err != nil {
		errs = multierr.Append(errs, err)
	}

	if p.alarms.Observe(reading.AlarmCode) {
		alarm := plc_modbus.LookupAlarm(reading.AlarmCode)
		alert, _, err := p.Evaluator.save(ctx, domain.Alert{
			Device:    serial,
			Cycle:     cycle,
			Kind:      domain.ALERT_SENSOR,
			Severity:  alarm.Severity,
			Message:   alarm.Message,
			Value:     float64(alarm.Code),
			CreatedAt: now,
		})
		if err != nil {
			errs = multierr.Append(errs, err)
		} else {
			p.alarms.Commit(reading.AlarmCode)
			res.Alerts = append(res.Alerts, alert)
		}
	}

	alerts, err := p.Evaluator.Evaluate(ctx, serial, p.Device.Class, cycle, reading)
	if err != nil {
		errs = multierr.Append(errs, err)
	}
	res.Alerts = append(res.Alerts, alerts...)

	p.Publisher.PublishReading(serial, reading)

	if errs != nil {
		p.Instrument.tick(serial, TICK_DEGRADED)
		return res, fmt.Errorf("poll %s: %w", serial, errs)
	}
	p.Instrument.tick(serial, TICK_OK)
	return res, nil
}

func (p *DevicePoller) scheduleReconnect(now time.Time) {
	if p.backoffSteps == 0 {
		p.backoffSteps = 1
	} else {
		p.backoffSteps = min(p.backoffSteps*2, p.cfg.MaxBackoffSteps)
	}
	p.nextConnect = now.Add(time.Duration(p.backoffSteps) * p.Device.Interval())
}

func (p *DevicePoller) fail(ctx context.Context, now time.Time, cause error) (TickResult, error) {
	p.failures++
	p.Instrument.tick(p.Device.Serial, TICK_FAILED)
	err := fmt.Errorf("poll %s: %w", p.Device.Serial, cause)
	if p.failures >= p.cfg.OfflineAfterFailures && !p.offline {
		if offErr := p.markOffline(ctx, now); offErr != nil {
			err = multierr.Append(err, offErr)
		}
	}
	return TickResult{}, err
}

// setStatus stores the device status and publishes it when it differs from
// the last stored one.
func (p *DevicePoller) setStatus(ctx context.Context, status domain.DeviceStatus, now time.Time) error {
	if err := p.Storage.UpdateDeviceStatus(ctx, p.Device.Serial, status, now); err != nil {
		return err
	}
	if status != p.status {
		p.status = status
		p.Publisher.PublishStatus(p.Device.Serial, status, now)
	}
	return nil
}

func (p *DevicePoller) markOffline(ctx context.Context, now time.Time) error {
	if err := p.setStatus(ctx, domain.DEVICE_STATUS_OFFLINE, now); err != nil {
		return err
	}
	_, _, err := p.Evaluator.Raise(ctx, domain.Alert{
		Device:    p.Device.Serial,
		Kind:      domain.ALERT_CONNECTION_LOST,
		Severity:  plc_modbus.SEVERITY_CRITICAL,
		Message:   fmt.Sprintf("no reading from device after %d attempts", p.failures),
		Value:     float64(p.failures),
		CreatedAt: now,
	})
	if err != nil {
		return err
	}
	p.offline = true
	p.Logger.Warn("device offline", zap.Int("failures", p.failures))
	return nil
}

// WriteCoil forwards a remote command to the device.
func (p *DevicePoller) WriteCoil(ctx context.Context, coil plc_modbus.Coil, value bool) error {
	if !p.Transport.Connected() {
		if err := p.Transport.Connect(ctx); err != nil {
			return err
		}
	}
	if err := p.Transport.WriteCoil(ctx, coil.Address(), value); err != nil {
		return fmt.Errorf("write %s on %s: %w", coil, p.Device.Serial, err)
	}
	p.Logger.Info("coil written", zap.String("coil", coil.String()), zap.Bool("value", value))
	return nil
}

func (p *DevicePoller) Close() error {
	return p.Transport.Disconnect()
}
