package plc_modbus

import (
	"bytes"
	"context"
	"errors"
	"fmt"
	"io"
	"net"
	"strconv"
	"time"

	"go.uber.org/zap"
)

type Dialer func(ctx context.Context, network, address string) (net.Conn, error)

type TCPConfig struct {
	Host    string
	Port    uint
	UnitId  uint8
	Timeout time.Duration
	Dial    Dialer
}

// TCPTransport talks Modbus TCP over one persistent socket. Any failed
// exchange drops the socket; the next request dials again first.
type TCPTransport struct {
	cfg    TCPConfig
	lock   requestLock
	link   link[net.Conn]
	tid    uint16
	logger *zap.Logger
}

func NewTCPTransport(cfg TCPConfig, logger *zap.Logger) *TCPTransport {
	if cfg.Timeout <= 0 {
		cfg.Timeout = DEFAULT_TIMEOUT
	}
	if cfg.Dial == nil {
		d := &net.Dialer{Timeout: cfg.Timeout}
		cfg.Dial = d.DialContext
	}
	if logger == nil {
		logger = zap.NewNop()
	}
	return &TCPTransport{
		cfg:    cfg,
		lock:   newRequestLock(),
		logger: logger.With(zap.String("address", cfg.address()), zap.Uint8("unit", cfg.UnitId)),
	}
}

func (cfg TCPConfig) address() string {
	return net.JoinHostPort(cfg.Host, strconv.FormatUint(uint64(cfg.Port), 10))
}

func (t *TCPTransport) Connect(ctx context.Context) error {
	if err := t.lock.acquire(ctx); err != nil {
		return err
	}
	defer t.lock.release()
	_, err := t.connect(ctx)
	return err
}

func (t *TCPTransport) connect(ctx context.Context) (net.Conn, error) {
	if conn, ok := t.link.get(); ok {
		return conn, nil
	}
	dialCtx, cancel := context.WithTimeout(ctx, t.cfg.Timeout)
	defer cancel()
	conn, err := t.cfg.Dial(dialCtx, "tcp", t.cfg.address())
	if err != nil {
		return nil, &ConnectError{Target: t.cfg.address(), Err: err}
	}
	t.link.up(conn)
	t.logger.Info("tcp connected")
	return conn, nil
}

func (t *TCPTransport) Disconnect() error {
	t.lock <- struct{}{}
	defer t.lock.release()
	return t.link.down()
}

func (t *TCPTransport) Connected() bool {
	return t.link.connected.Load()
}

func (t *TCPTransport) ReadRegisters(ctx context.Context, start, count uint16) ([]uint16, error) {
	if err := checkQuantity(count); err != nil {
		return nil, err
	}
	if err := t.lock.acquire(ctx); err != nil {
		return nil, err
	}
	defer t.lock.release()

	conn, err := t.connect(ctx)
	if err != nil {
		return nil, err
	}
	pdu, err := t.roundTrip(ctx, conn, readRegistersPDU(start, count))
	if err != nil {
		t.drop(err)
		return nil, err
	}
	regs, err := parseRegistersPDU(pdu, count)
	if err != nil {
		var excErr *ExceptionError
		if !errors.As(err, &excErr) {
			t.drop(err)
		}
		return nil, err
	}
	return regs, nil
}

func (t *TCPTransport) WriteCoil(ctx context.Context, addr uint16, value bool) error {
	if err := t.lock.acquire(ctx); err != nil {
		return err
	}
	defer t.lock.release()

	conn, err := t.connect(ctx)
	if err != nil {
		return err
	}
	req := writeCoilPDU(addr, value)
	reply, err := t.roundTrip(ctx, conn, req)
	if err != nil {
		t.drop(err)
		return err
	}
	if len(reply) >= 2 && reply[0]&EXCEPTION_FLAG != 0 {
		return &ExceptionError{Function: reply[0] &^ EXCEPTION_FLAG, Code: reply[1]}
	}
	if !bytes.Equal(req, reply) {
		t.drop(ErrUnexpectedReply)
		return fmt.Errorf("%w: coil write echo mismatch", ErrUnexpectedReply)
	}
	return nil
}

func (t *TCPTransport) drop(cause error) {
	t.logger.Debug("tcp: dropping connection", zap.Error(cause))
	if err := t.link.down(); err != nil {
		t.logger.Debug("tcp: close", zap.Error(err))
	}
}

func (t *TCPTransport) nextTransactionId() uint16 {
	t.tid++
	return t.tid
}

// roundTrip sends one framed PDU and returns the reply PDU.
func (t *TCPTransport) roundTrip(ctx context.Context, conn net.Conn, pdu []byte) ([]byte, error) {
	deadline := time.Now().Add(t.cfg.Timeout)
	if d, ok := ctx.Deadline(); ok && d.Before(deadline) {
		deadline = d
	}
	if err := conn.SetDeadline(deadline); err != nil {
		return nil, err
	}
	// unblock the pending read when the caller gives up
	stop := context.AfterFunc(ctx, func() {
		_ = conn.SetDeadline(time.Unix(1, 0))
	})
	defer stop()

	tid := t.nextTransactionId()
	if _, err := conn.Write(BuildTCPFrame(tid, t.cfg.UnitId, pdu)); err != nil {
		return nil, t.ioError(ctx, err)
	}

	header := make([]byte, MBAP_HEADER_LEN)
	if _, err := io.ReadFull(conn, header); err != nil {
		return nil, t.ioError(ctx, err)
	}
	h, err := parseMBAPHeader(header)
	if err != nil {
		return nil, err
	}
	if h.tid != tid {
		t.logger.Debug("tcp: transaction id mismatch", zap.Uint16("sent", tid), zap.Uint16("received", h.tid))
	}
	body := make([]byte, h.length-1)
	if _, err := io.ReadFull(conn, body); err != nil {
		return nil, t.ioError(ctx, err)
	}
	return body, nil
}

func (t *TCPTransport) ioError(ctx context.Context, err error) error {
	if ctxErr := ctx.Err(); ctxErr != nil {
		return ctxErr
	}
	var netErr net.Error
	if errors.As(err, &netErr) && netErr.Timeout() {
		return ErrTimeout
	}
	if errors.Is(err, io.ErrUnexpectedEOF) || errors.Is(err, io.EOF) {
		return fmt.Errorf("%w: %v", ErrIncomplete, err)
	}
	return fmt.Errorf("plc_modbus: tcp io: %w", err)
}
