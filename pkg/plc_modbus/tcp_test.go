package plc_modbus

import (
	"context"
	"fmt"
	"net"
	"sync"
	"testing"
	"time"

	"github.com/simonvetter/modbus"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"go.uber.org/zap"
)

// slaveHandler is a Modbus TCP slave backed by a fixed register bank.
type slaveHandler struct {
	mu        sync.Mutex
	registers []uint16
	coils     map[uint16]bool
	unitIds   []uint8
}

func (h *slaveHandler) HandleCoils(req *modbus.CoilsRequest) ([]bool, error) {
	h.mu.Lock()
	defer h.mu.Unlock()
	if req.IsWrite {
		for i, v := range req.Args {
			h.coils[req.Addr+uint16(i)] = v
		}
		return nil, nil
	}
	res := make([]bool, req.Quantity)
	for i := range res {
		res[i] = h.coils[req.Addr+uint16(i)]
	}
	return res, nil
}

func (h *slaveHandler) HandleDiscreteInputs(req *modbus.DiscreteInputsRequest) ([]bool, error) {
	return nil, modbus.ErrIllegalFunction
}

func (h *slaveHandler) HandleHoldingRegisters(req *modbus.HoldingRegistersRequest) ([]uint16, error) {
	h.mu.Lock()
	defer h.mu.Unlock()
	h.unitIds = append(h.unitIds, req.UnitId)
	if req.IsWrite {
		return nil, modbus.ErrIllegalFunction
	}
	if int(req.Addr)+int(req.Quantity) > len(h.registers) {
		return nil, modbus.ErrIllegalDataAddress
	}
	return append([]uint16(nil), h.registers[req.Addr:req.Addr+req.Quantity]...), nil
}

func (h *slaveHandler) HandleInputRegisters(req *modbus.InputRegistersRequest) ([]uint16, error) {
	return nil, modbus.ErrIllegalFunction
}

func freePort(t *testing.T) uint {
	l, err := net.Listen("tcp", "127.0.0.1:0")
	require.NoError(t, err)
	defer l.Close()
	return uint(l.Addr().(*net.TCPAddr).Port)
}

func startSlave(t *testing.T, handler *slaveHandler) (uint, *modbus.ModbusServer) {
	port := freePort(t)
	server, err := modbus.NewServer(&modbus.ServerConfiguration{
		URL:        fmt.Sprintf("tcp://127.0.0.1:%d", port),
		Timeout:    5 * time.Second,
		MaxClients: 4,
	}, handler)
	require.NoError(t, err)
	require.NoError(t, server.Start())
	return port, server
}

func TestTCPReadRegistersAgainstSlave(t *testing.T) {

	assert := assert.New(t)

	handler := &slaveHandler{
		registers: EncodeRegisters(Reading{Temperature: 121.5, Pressure: 1.52, Status: STATUS_STERILIZING, AlarmCode: 3}),
		coils:     map[uint16]bool{},
	}
	port, server := startSlave(t, handler)
	defer server.Stop()

	tcp := NewTCPTransport(TCPConfig{Host: "127.0.0.1", Port: port, UnitId: 5, Timeout: time.Second}, zap.NewNop())
	defer tcp.Disconnect()

	r, err := ReadReading(context.Background(), tcp, CLASS_PRESSURE_VESSEL, time.Now())
	require.NoError(t, err)
	assert.True(tcp.Connected(), "read connects on demand")
	assert.Equal(121.5, r.Temperature)
	assert.Equal(1.52, r.Pressure)
	assert.Equal(STATUS_STERILIZING, r.Status)
	assert.Equal(uint16(3), r.AlarmCode)
	assert.Equal([]uint8{5}, handler.unitIds)

	require.NoError(t, tcp.WriteCoil(context.Background(), COIL_DOOR_LOCK.Address(), true))
	assert.True(handler.coils[COIL_DOOR_LOCK.Address()])

	_, err = tcp.ReadRegisters(context.Background(), 10, 20)
	var excErr *ExceptionError
	assert.ErrorAs(err, &excErr)
	assert.True(tcp.Connected(), "exception replies keep the socket")
}

func TestTCPConnectError(t *testing.T) {

	tcp := NewTCPTransport(TCPConfig{Host: "127.0.0.1", Port: freePort(t), Timeout: 200 * time.Millisecond}, zap.NewNop())

	_, err := tcp.ReadRegisters(context.Background(), 0, 12)
	var connErr *ConnectError
	require.ErrorAs(t, err, &connErr)
	assert.True(t, IsSoftError(err))
	assert.False(t, tcp.Connected())
}

// scriptedTCPSlave accepts connections and answers with the frames in replies, one per request.
func scriptedTCPSlave(t *testing.T, replies ...func(req []byte) []byte) (uint, <-chan []byte) {
	l, err := net.Listen("tcp", "127.0.0.1:0")
	require.NoError(t, err)
	t.Cleanup(func() { l.Close() })

	requests := make(chan []byte, 16)
	go func() {
		i := 0
		for {
			conn, err := l.Accept()
			if err != nil {
				return
			}
			for {
				buf := make([]byte, 12)
				n, err := conn.Read(buf)
				if err != nil || i >= len(replies) {
					conn.Close()
					break
				}
				requests <- buf[:n]
				reply := replies[i](buf[:n])
				i++
				if reply == nil {
					conn.Close()
					break
				}
				conn.Write(reply)
			}
		}
	}()
	return uint(l.Addr().(*net.TCPAddr).Port), requests
}

func echoRegisters(regs ...uint16) func(req []byte) []byte {
	return func(req []byte) []byte {
		pdu := []byte{FUNC_READ_HOLDING_REGISTERS, byte(2 * len(regs))}
		for _, r := range regs {
			pdu = append(pdu, byte(r>>8), byte(r))
		}
		return BuildTCPFrame(uint16(req[0])<<8|uint16(req[1]), req[6], pdu)
	}
}

func TestTCPTransactionIdsAndReconnect(t *testing.T) {

	assert := assert.New(t)

	port, requests := scriptedTCPSlave(t,
		echoRegisters(1),
		func(req []byte) []byte { return nil }, // drop the socket mid request
		echoRegisters(3),
	)
	tcp := NewTCPTransport(TCPConfig{Host: "127.0.0.1", Port: port, UnitId: 1, Timeout: 300 * time.Millisecond}, zap.NewNop())
	defer tcp.Disconnect()

	regs, err := tcp.ReadRegisters(context.Background(), 0, 1)
	require.NoError(t, err)
	assert.Equal([]uint16{1}, regs)
	first := <-requests
	assert.Equal([]byte{0x00, 0x01}, first[:2], "first transaction id is 1")
	assert.Equal([]byte{0x00, 0x00, 0x00, 0x06, 0x01}, first[2:7])

	_, err = tcp.ReadRegisters(context.Background(), 0, 1)
	assert.ErrorIs(err, ErrIncomplete)
	assert.False(tcp.Connected(), "failed exchange drops the socket")
	second := <-requests
	assert.Equal([]byte{0x00, 0x02}, second[:2])

	regs, err = tcp.ReadRegisters(context.Background(), 0, 1)
	require.NoError(t, err, "next read reconnects first")
	assert.Equal([]uint16{3}, regs)
	third := <-requests
	assert.Equal([]byte{0x00, 0x03}, third[:2])
}

func TestTCPTransactionIdWraps(t *testing.T) {

	tcp := NewTCPTransport(TCPConfig{Host: "127.0.0.1", Port: 502}, zap.NewNop())
	tcp.tid = 65535
	assert.Equal(t, uint16(0), tcp.nextTransactionId())
	assert.Equal(t, uint16(1), tcp.nextTransactionId())
}

func TestTCPContextCancelUnblocksRead(t *testing.T) {

	l, err := net.Listen("tcp", "127.0.0.1:0")
	require.NoError(t, err)
	defer l.Close()
	go func() {
		conn, err := l.Accept()
		if err == nil {
			// never answer
			defer conn.Close()
			time.Sleep(2 * time.Second)
		}
	}()

	tcp := NewTCPTransport(TCPConfig{Host: "127.0.0.1", Port: uint(l.Addr().(*net.TCPAddr).Port), Timeout: 5 * time.Second}, zap.NewNop())
	ctx, cancel := context.WithCancel(context.Background())
	go func() {
		time.Sleep(50 * time.Millisecond)
		cancel()
	}()

	start := time.Now()
	_, err = tcp.ReadRegisters(ctx, 0, 12)
	assert.ErrorIs(t, err, context.Canceled)
	assert.Less(t, time.Since(start), time.Second)
}
