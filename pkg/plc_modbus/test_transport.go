package plc_modbus

import (
	"context"
	"sync"
)

type ScriptedStep struct {
	Registers []uint16
	Err       error
}

type CoilWrite struct {
	Addr  uint16
	Value bool
}

// ScriptedTransport replays canned register blocks, one step per read. The
// last step repeats once the script is exhausted.
type ScriptedTransport struct {
	mu         sync.Mutex
	steps      []ScriptedStep
	pos        int
	connected  bool
	ConnectErr error
	Connects   int
	Reads      int
	Coils      []CoilWrite
}

func NewScriptedTransport(steps ...ScriptedStep) *ScriptedTransport {
	return &ScriptedTransport{steps: steps}
}

// AlarmScript returns one idle register block per alarm code.
func AlarmScript(codes ...uint16) []ScriptedStep {
	steps := make([]ScriptedStep, len(codes))
	for i, code := range codes {
		steps[i] = ScriptedStep{Registers: EncodeRegisters(Reading{Temperature: 25, Status: STATUS_IDLE, AlarmCode: code})}
	}
	return steps
}

func (t *ScriptedTransport) Connect(ctx context.Context) error {
	t.mu.Lock()
	defer t.mu.Unlock()
	t.Connects++
	if t.ConnectErr != nil {
		return &ConnectError{Target: "scripted", Err: t.ConnectErr}
	}
	t.connected = true
	return nil
}

func (t *ScriptedTransport) Disconnect() error {
	t.mu.Lock()
	defer t.mu.Unlock()
	t.connected = false
	return nil
}

func (t *ScriptedTransport) Connected() bool {
	t.mu.Lock()
	defer t.mu.Unlock()
	return t.connected
}

func (t *ScriptedTransport) ReadRegisters(ctx context.Context, start, count uint16) ([]uint16, error) {
	t.mu.Lock()
	defer t.mu.Unlock()
	if !t.connected {
		return nil, ErrNotConnected
	}
	t.Reads++
	if len(t.steps) == 0 {
		return nil, ErrTimeout
	}
	step := t.steps[t.pos]
	if t.pos < len(t.steps)-1 {
		t.pos++
	}
	if step.Err != nil {
		return nil, step.Err
	}
	end := int(start) + int(count)
	if end > len(step.Registers) {
		return nil, &ExceptionError{Function: FUNC_READ_HOLDING_REGISTERS, Code: 0x02}
	}
	out := make([]uint16, end-int(start))
	copy(out, step.Registers[start:end])
	return out, nil
}

func (t *ScriptedTransport) WriteCoil(ctx context.Context, addr uint16, value bool) error {
	t.mu.Lock()
	defer t.mu.Unlock()
	if !t.connected {
		return ErrNotConnected
	}
	t.Coils = append(t.Coils, CoilWrite{Addr: addr, Value: value})
	return nil
}

func (t *ScriptedTransport) SetConnectErr(err error) {
	t.mu.Lock()
	defer t.mu.Unlock()
	t.ConnectErr = err
}

func (t *ScriptedTransport) ReadCount() int {
	t.mu.Lock()
	defer t.mu.Unlock()
	return t.Reads
}
