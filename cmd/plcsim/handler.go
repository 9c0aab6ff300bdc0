package main

import (
	"github.com/berfenger/wastemon/pkg/plc_modbus"

	"github.com/simonvetter/modbus"
	"go.uber.org/zap"
)

// simHandler exposes a Simulator as a Modbus TCP slave: the register bank as
// holding registers and the command coils as writable coils.
type simHandler struct {
	sim    *plc_modbus.Simulator
	unitId uint8
	logger *zap.Logger
}

func newSimHandler(sim *plc_modbus.Simulator, unitId uint8, logger *zap.Logger) *simHandler {
	return &simHandler{sim: sim, unitId: unitId, logger: logger}
}

func (h *simHandler) acceptsUnit(unitId uint8) bool {
	return h.unitId == 0 || unitId == h.unitId
}

func (h *simHandler) HandleCoils(req *modbus.CoilsRequest) ([]bool, error) {
	if !h.acceptsUnit(req.UnitId) {
		return nil, modbus.ErrIllegalFunction
	}
	if !req.IsWrite {
		return nil, modbus.ErrIllegalFunction
	}
	for i, v := range req.Args {
		coil := plc_modbus.Coil(req.Addr + uint16(i))
		if err := h.sim.ApplyCoil(coil, v); err != nil {
			return nil, modbus.ErrIllegalDataAddress
		}
		h.logger.Info("coil written", zap.String("client", req.ClientAddr), zap.String("coil", coil.String()), zap.Bool("value", v))
	}
	return nil, nil
}

func (h *simHandler) HandleDiscreteInputs(req *modbus.DiscreteInputsRequest) ([]bool, error) {
	return nil, modbus.ErrIllegalFunction
}

func (h *simHandler) HandleHoldingRegisters(req *modbus.HoldingRegistersRequest) ([]uint16, error) {
	if !h.acceptsUnit(req.UnitId) || req.IsWrite {
		return nil, modbus.ErrIllegalFunction
	}
	regs := h.sim.Registers()
	if int(req.Addr)+int(req.Quantity) > len(regs) {
		return nil, modbus.ErrIllegalDataAddress
	}
	return regs[req.Addr : req.Addr+req.Quantity], nil
}

func (h *simHandler) HandleInputRegisters(req *modbus.InputRegistersRequest) ([]uint16, error) {
	return nil, modbus.ErrIllegalFunction
}
