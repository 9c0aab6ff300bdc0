package main

import (
	"context"
	"fmt"
	"net"
	"testing"
	"time"

	"github.com/berfenger/wastemon/pkg/plc_modbus"

	"github.com/simonvetter/modbus"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"go.uber.org/zap"
)

func TestHandlerServesSimulator(t *testing.T) {

	assert := assert.New(t)

	sim := plc_modbus.NewSimulator(plc_modbus.CLASS_COMBUSTION)
	require.NoError(t, sim.Connect(context.Background()))

	l, err := net.Listen("tcp", "127.0.0.1:0")
	require.NoError(t, err)
	port := l.Addr().(*net.TCPAddr).Port
	require.NoError(t, l.Close())

	server, err := modbus.NewServer(&modbus.ServerConfiguration{
		URL:        fmt.Sprintf("tcp://127.0.0.1:%d", port),
		Timeout:    5 * time.Second,
		MaxClients: 2,
	}, newSimHandler(sim, 0, zap.NewNop()))
	require.NoError(t, err)
	require.NoError(t, server.Start())
	defer server.Stop()

	transport := plc_modbus.NewTCPTransport(plc_modbus.TCPConfig{
		Host:    "127.0.0.1",
		Port:    uint(port),
		UnitId:  1,
		Timeout: time.Second,
	}, zap.NewNop())
	ctx := context.Background()
	require.NoError(t, transport.Connect(ctx))
	defer transport.Disconnect()

	idle, err := plc_modbus.ReadReading(ctx, transport, plc_modbus.CLASS_COMBUSTION, time.Now())
	require.NoError(t, err)
	assert.Equal(plc_modbus.STATUS_IDLE, idle.Status)
	assert.NotNil(idle.CombustionTemp)

	require.NoError(t, transport.WriteCoil(ctx, plc_modbus.COIL_REMOTE_START.Address(), true))
	assert.Equal(plc_modbus.STATUS_HEATING, sim.Phase())

	err = transport.WriteCoil(ctx, 40, true)
	var excErr *plc_modbus.ExceptionError
	assert.ErrorAs(err, &excErr)
}

func TestHandlerFiltersUnitId(t *testing.T) {

	h := newSimHandler(plc_modbus.NewSimulator(plc_modbus.CLASS_PRESSURE_VESSEL), 3, zap.NewNop())

	_, err := h.HandleHoldingRegisters(&modbus.HoldingRegistersRequest{UnitId: 2, Addr: 0, Quantity: 12})
	assert.ErrorIs(t, err, modbus.ErrIllegalFunction)

	regs, err := h.HandleHoldingRegisters(&modbus.HoldingRegistersRequest{UnitId: 3, Addr: 0, Quantity: 12})
	require.NoError(t, err)
	assert.Len(t, regs, 12)

	_, err = h.HandleHoldingRegisters(&modbus.HoldingRegistersRequest{UnitId: 3, Addr: 10, Quantity: 200})
	assert.ErrorIs(t, err, modbus.ErrIllegalDataAddress)
}
