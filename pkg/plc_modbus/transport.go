package plc_modbus

import (
	"context"
	"fmt"
	"time"

	"go.uber.org/zap"
)

// Transport is the capability shared by the RTU, TCP and simulated PLC links.
type Transport interface {
	Connect(ctx context.Context) error
	ReadRegisters(ctx context.Context, start, count uint16) ([]uint16, error)
	WriteCoil(ctx context.Context, addr uint16, value bool) error
	Disconnect() error
	Connected() bool
}

type ConnectionKind string

const (
	CONNECTION_SIMULATED ConnectionKind = "simulated"
	CONNECTION_SERIAL    ConnectionKind = "serial"
	CONNECTION_NETWORK   ConnectionKind = "network"
)

const (
	DEFAULT_TIMEOUT   = 3 * time.Second
	DEFAULT_BAUD_RATE = 9600
	DEFAULT_TCP_PORT  = 502
)

type ConnectionConfig struct {
	Kind       ConnectionKind
	Class      DeviceClass
	SerialPort string
	BaudRate   int
	Host       string
	Port       uint
	SlaveId    uint8
	Timeout    time.Duration
}

func (c ConnectionConfig) Target() string {
	switch c.Kind {
	case CONNECTION_SERIAL:
		return fmt.Sprintf("rtu://%s?slave=%d", c.SerialPort, c.SlaveId)
	case CONNECTION_NETWORK:
		return fmt.Sprintf("tcp://%s:%d?unit=%d", c.Host, c.Port, c.SlaveId)
	default:
		return "sim://" + string(c.Class)
	}
}

// NewTransport selects the transport variant for a device once, at loop start.
func NewTransport(cfg ConnectionConfig, logger *zap.Logger, instrumentation *Instrument) (Transport, error) {
	timeout := cfg.Timeout
	if timeout <= 0 {
		timeout = DEFAULT_TIMEOUT
	}

	var t Transport
	switch cfg.Kind {
	case CONNECTION_SIMULATED:
		t = NewSimulator(cfg.Class)
	case CONNECTION_SERIAL:
		if cfg.SerialPort == "" {
			return nil, fmt.Errorf("plc_modbus: serial connection without port")
		}
		baud := cfg.BaudRate
		if baud <= 0 {
			baud = DEFAULT_BAUD_RATE
		}
		t = NewRTUTransport(RTUConfig{
			Port:     cfg.SerialPort,
			BaudRate: baud,
			SlaveId:  cfg.SlaveId,
			Timeout:  timeout,
		}, logger)
	case CONNECTION_NETWORK:
		if cfg.Host == "" {
			return nil, fmt.Errorf("plc_modbus: network connection without host")
		}
		port := cfg.Port
		if port == 0 {
			port = DEFAULT_TCP_PORT
		}
		t = NewTCPTransport(TCPConfig{
			Host:    cfg.Host,
			Port:    port,
			UnitId:  cfg.SlaveId,
			Timeout: timeout,
		}, logger)
	default:
		return nil, fmt.Errorf("plc_modbus: unknown connection kind %q", cfg.Kind)
	}

	// instrumentation
	var inst []Instrument
	if logger != nil {
		inst = append(inst, *traceLoggerInstrumentation(logger.With(zap.String("target", cfg.Target()))))
	}
	if instrumentation != nil {
		inst = append(inst, *instrumentation)
	}
	return WithInstrumentation(t, inst...), nil
}

// ReadReading polls the register block of a device class and decodes it.
func ReadReading(ctx context.Context, t Transport, class DeviceClass, at time.Time) (Reading, error) {
	regs, err := t.ReadRegisters(ctx, 0, RegisterCount(class))
	if err != nil {
		return Reading{}, err
	}
	return DecodeRegisters(regs, at)
}
