package service

import (
	"context"
	"time"

	"github.com/berfenger/wastemon/internal/core/domain"
	"github.com/berfenger/wastemon/internal/core/port"
	"github.com/berfenger/wastemon/pkg/plc_modbus"
	"go.uber.org/multierr"
	"go.uber.org/zap"
)

type AlertEvaluator struct {
	Alerts     port.AlertStore
	Publisher  port.Publisher
	Instrument *PollInstrument
	Logger     *zap.Logger
	Now        func() time.Time
}

func NewAlertEvaluator(alerts port.AlertStore, publisher port.Publisher, instrument *PollInstrument, logger *zap.Logger) *AlertEvaluator {
	return &AlertEvaluator{
		Alerts:     alerts,
		Publisher:  publisher,
		Instrument: instrument,
		Logger:     logger,
		Now:        time.Now,
	}
}

// Evaluate checks a reading against the rule table of its device class and
// raises one alert per breached rule unless one of that kind is still open.
func (e *AlertEvaluator) Evaluate(ctx context.Context, device string, class plc_modbus.DeviceClass, cycle *domain.CycleRef, r plc_modbus.Reading) ([]domain.Alert, error) {
	var raised []domain.Alert
	var errs error
	for _, rule := range RulesFor(class) {
		value, breached := rule.Breached(r)
		if !breached {
			continue
		}
		threshold := rule.Threshold
		alert, ok, err := e.Raise(ctx, domain.Alert{
			Device:    device,
			Cycle:     cycle,
			Kind:      rule.Kind,
			Severity:  rule.Severity,
			Message:   rule.Message(value),
			Value:     value,
			Threshold: &threshold,
		})
		if err != nil {
			errs = multierr.Append(errs, err)
			continue
		}
		if ok {
			raised = append(raised, alert)
		}
	}
	return raised, errs
}

// Raise saves and publishes an alert unless one of the same kind is open
// for the device. It reports whether the alert was raised.
func (e *AlertEvaluator) Raise(ctx context.Context, alert domain.Alert) (domain.Alert, bool, error) {
	open, err := e.Alerts.HasOpenAlert(ctx, alert.Device, alert.Kind)
	if err != nil {
		return alert, false, err
	}
	if open {
		e.Logger.Debug("alert already open", zap.String("device", alert.Device), zap.String("kind", string(alert.Kind)))
		return alert, false, nil
	}
	return e.save(ctx, alert)
}

func (e *AlertEvaluator) save(ctx context.Context, alert domain.Alert) (domain.Alert, bool, error) {
	if alert.CreatedAt.IsZero() {
		alert.CreatedAt = e.Now()
	}
	id, err := e.Alerts.SaveAlert(ctx, alert)
	if err != nil {
		return alert, false, err
	}
	alert.Id = id
	e.Logger.Warn("alert raised", zap.String("device", alert.Device), zap.String("kind", string(alert.Kind)),
		zap.String("severity", string(alert.Severity)), zap.String("message", alert.Message))
	e.Publisher.PublishAlert(alert.Device, alert)
	e.Instrument.alert(alert.Device, alert.Kind)
	return alert, true, nil
}
