package plc_modbus

import (
	"context"
	"time"

	"go.uber.org/zap"
)

type Instrument struct {
	RecordTime func(fnName string, elapsed time.Duration, err error)
}

func RecordTimer(name string, instrument []Instrument) func(error) {
	if instrument == nil {
		return func(error) {}
	}

	start := time.Now()
	return func(err error) {
		duration := time.Since(start)
		for i := range instrument {
			instrument[i].RecordTime(name, duration, err)
		}
	}
}

func traceLoggerInstrumentation(logger *zap.Logger) *Instrument {
	return &Instrument{
		RecordTime: func(fnName string, elapsed time.Duration, err error) {
			if err != nil {
				logger.Debug("modbus request failed", zap.String("fn", fnName), zap.Duration("elapsed", elapsed), zap.Error(err))
				return
			}
			logger.Debug("modbus request", zap.String("fn", fnName), zap.Int64("millis", elapsed.Milliseconds()))
		},
	}
}

type instrumentedTransport struct {
	Transport
	instrument []Instrument
}

// WithInstrumentation reports the duration and outcome of every request made through t.
func WithInstrumentation(t Transport, instrument ...Instrument) Transport {
	if len(instrument) == 0 {
		return t
	}
	return &instrumentedTransport{Transport: t, instrument: instrument}
}

func (t *instrumentedTransport) Connect(ctx context.Context) (err error) {
	done := RecordTimer("Connect", t.instrument)
	defer func() { done(err) }()
	return t.Transport.Connect(ctx)
}

func (t *instrumentedTransport) ReadRegisters(ctx context.Context, start, count uint16) (regs []uint16, err error) {
	done := RecordTimer("ReadRegisters", t.instrument)
	defer func() { done(err) }()
	return t.Transport.ReadRegisters(ctx, start, count)
}

func (t *instrumentedTransport) WriteCoil(ctx context.Context, addr uint16, value bool) (err error) {
	done := RecordTimer("WriteCoil", t.instrument)
	defer func() { done(err) }()
	return t.Transport.WriteCoil(ctx, addr, value)
}
