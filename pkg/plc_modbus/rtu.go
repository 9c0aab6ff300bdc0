package plc_modbus

import (
	"context"
	"fmt"
	"io"
	"time"

	"go.bug.st/serial"
	"go.uber.org/zap"
)

// RTU_READ_SLICE bounds each blocking serial read so cancellation is noticed promptly.
const RTU_READ_SLICE = 50 * time.Millisecond

type SerialPort interface {
	io.ReadWriteCloser
	SetReadTimeout(t time.Duration) error
	ResetInputBuffer() error
}

type SerialOpener func(name string, mode *serial.Mode) (SerialPort, error)

func OpenSerialPort(name string, mode *serial.Mode) (SerialPort, error) {
	port, err := serial.Open(name, mode)
	if err != nil {
		return nil, err
	}
	return port, nil
}

type RTUConfig struct {
	Port     string
	BaudRate int
	SlaveId  uint8
	Timeout  time.Duration
	Open     SerialOpener
}

// RTUTransport talks Modbus RTU over a half-duplex RS-485 line. Requests are
// fully serialized; it never reconnects on its own.
type RTUTransport struct {
	cfg    RTUConfig
	lock   requestLock
	link   link[SerialPort]
	logger *zap.Logger
}

func NewRTUTransport(cfg RTUConfig, logger *zap.Logger) *RTUTransport {
	if cfg.Open == nil {
		cfg.Open = OpenSerialPort
	}
	if cfg.Timeout <= 0 {
		cfg.Timeout = DEFAULT_TIMEOUT
	}
	if logger == nil {
		logger = zap.NewNop()
	}
	return &RTUTransport{
		cfg:    cfg,
		lock:   newRequestLock(),
		logger: logger.With(zap.String("port", cfg.Port), zap.Uint8("slave", cfg.SlaveId)),
	}
}

func (t *RTUTransport) Connect(ctx context.Context) error {
	if err := t.lock.acquire(ctx); err != nil {
		return err
	}
	defer t.lock.release()

	if _, ok := t.link.get(); ok {
		return nil
	}
	port, err := t.cfg.Open(t.cfg.Port, &serial.Mode{
		BaudRate: t.cfg.BaudRate,
		DataBits: 8,
		Parity:   serial.NoParity,
		StopBits: serial.OneStopBit,
	})
	if err != nil {
		return &ConnectError{Target: t.cfg.Port, Err: err}
	}
	t.link.up(port)
	t.logger.Info("serial port opened", zap.Int("baud", t.cfg.BaudRate))
	return nil
}

func (t *RTUTransport) Disconnect() error {
	t.lock <- struct{}{}
	defer t.lock.release()
	return t.link.down()
}

func (t *RTUTransport) Connected() bool {
	return t.link.connected.Load()
}

func (t *RTUTransport) ReadRegisters(ctx context.Context, start, count uint16) ([]uint16, error) {
	if err := checkQuantity(count); err != nil {
		return nil, err
	}
	if err := t.lock.acquire(ctx); err != nil {
		return nil, err
	}
	defer t.lock.release()

	port, ok := t.link.get()
	if !ok {
		return nil, ErrNotConnected
	}
	reply, err := t.roundTrip(ctx, port, BuildRTUReadRequest(t.cfg.SlaveId, start, count), RTUReadReplyLength(count))
	if err != nil {
		return nil, err
	}
	return ParseRTUReadReply(t.cfg.SlaveId, count, reply)
}

func (t *RTUTransport) WriteCoil(ctx context.Context, addr uint16, value bool) error {
	if err := t.lock.acquire(ctx); err != nil {
		return err
	}
	defer t.lock.release()

	port, ok := t.link.get()
	if !ok {
		return ErrNotConnected
	}
	req := BuildRTUWriteCoilRequest(t.cfg.SlaveId, addr, value)
	reply, err := t.roundTrip(ctx, port, req, RTU_WRITE_REPLY_LEN)
	if err != nil {
		return err
	}
	return ParseRTUWriteCoilReply(req, reply)
}

// roundTrip writes req and collects up to expected reply bytes before the
// timeout. A short reply is returned as is and rejected by the frame parser.
func (t *RTUTransport) roundTrip(ctx context.Context, port SerialPort, req []byte, expected int) ([]byte, error) {
	if err := port.ResetInputBuffer(); err != nil {
		t.logger.Debug("rtu: could not flush input buffer", zap.Error(err))
	}
	if _, err := port.Write(req); err != nil {
		_ = t.link.down()
		return nil, fmt.Errorf("plc_modbus: serial write: %w", err)
	}

	deadline := time.Now().Add(t.cfg.Timeout)
	if d, ok := ctx.Deadline(); ok && d.Before(deadline) {
		deadline = d
	}

	buf := make([]byte, 0, expected)
	chunk := make([]byte, expected)
	for len(buf) < replyLength(buf, expected) {
		if err := ctx.Err(); err != nil {
			return nil, err
		}
		remaining := time.Until(deadline)
		if remaining <= 0 {
			break
		}
		if remaining > RTU_READ_SLICE {
			remaining = RTU_READ_SLICE
		}
		if err := port.SetReadTimeout(remaining); err != nil {
			_ = t.link.down()
			return nil, fmt.Errorf("plc_modbus: serial timeout: %w", err)
		}
		n, err := port.Read(chunk[:replyLength(buf, expected)-len(buf)])
		if err != nil {
			_ = t.link.down()
			return nil, fmt.Errorf("plc_modbus: serial read: %w", err)
		}
		buf = append(buf, chunk[:n]...)
	}
	if len(buf) == 0 {
		return nil, ErrTimeout
	}
	return buf, nil
}

// replyLength shrinks the expected length once an exception reply is recognized.
func replyLength(buf []byte, expected int) int {
	if len(buf) >= 2 && buf[1]&EXCEPTION_FLAG != 0 {
		return RTU_EXCEPTION_LEN
	}
	return expected
}
