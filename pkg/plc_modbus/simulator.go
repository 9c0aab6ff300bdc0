package plc_modbus

import (
	"context"
	"math"
	"math/rand/v2"
	"sync"
	"time"
)

const (
	SIM_AMBIENT_TEMPERATURE   = 25.0
	SIM_HEATING_RATE          = 0.8 // °C per second
	SIM_HEATING_CEILING       = 121.0
	SIM_STERILIZE_ENTRY       = 120.5
	SIM_STERILIZE_TEMPERATURE = 121.5
	SIM_STERILIZE_PRESSURE    = 1.52
	SIM_STERILIZE_DWELL       = 30 * time.Second
	SIM_COOLING_RATE          = 0.7 // °C per second
	SIM_COOLING_EXIT          = 42.0
	SIM_COOLING_FLOOR         = 40.0
	SIM_COMPLETE_HOLD         = 10 * time.Second
	SIM_INITIAL_TOTAL_CYCLES  = 142

	// SIM_TEMPERATURE_JITTER is the largest deviation from the sterilizing setpoint.
	SIM_TEMPERATURE_JITTER = 0.15

	SIM_BURN_TEMPERATURE = 950.0
)

// Simulator is a phase driven PLC stand-in implementing Transport. Phase
// transitions depend only on the nominal trajectory, never on noise, and at
// most one transition happens per read so every phase is observable.
type Simulator struct {
	mu    sync.Mutex
	class DeviceClass
	clock func() time.Time
	rnd   *rand.Rand

	connected   bool
	phase       Status
	phaseStart  time.Time
	temperature float64
	pressure    float64
	cycleNumber uint16
	totalCycles uint16
	alarm       uint16
	doorLockReq bool
}

func NewSimulator(class DeviceClass) *Simulator {
	return NewSimulatorWithClock(class, time.Now, uint64(time.Now().UnixNano()))
}

func NewSimulatorWithClock(class DeviceClass, clock func() time.Time, seed uint64) *Simulator {
	if !class.Valid() {
		class = CLASS_PRESSURE_VESSEL
	}
	return &Simulator{
		class:       class,
		clock:       clock,
		rnd:         rand.New(rand.NewPCG(seed, seed^0x5DEECE66D)),
		phase:       STATUS_IDLE,
		phaseStart:  clock(),
		temperature: SIM_AMBIENT_TEMPERATURE,
		totalCycles: SIM_INITIAL_TOTAL_CYCLES,
	}
}

func (s *Simulator) Connect(ctx context.Context) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.connected = true
	return nil
}

func (s *Simulator) Disconnect() error {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.connected = false
	return nil
}

func (s *Simulator) Connected() bool {
	s.mu.Lock()
	defer s.mu.Unlock()
	return s.connected
}

func (s *Simulator) ReadRegisters(ctx context.Context, start, count uint16) ([]uint16, error) {
	if err := checkQuantity(count); err != nil {
		return nil, err
	}
	if err := ctx.Err(); err != nil {
		return nil, err
	}
	s.mu.Lock()
	defer s.mu.Unlock()
	if !s.connected {
		return nil, ErrNotConnected
	}
	regs := EncodeRegisters(s.sample())
	if int(start)+int(count) > len(regs) {
		return nil, &ExceptionError{Function: FUNC_READ_HOLDING_REGISTERS, Code: 0x02}
	}
	return regs[start : start+count], nil
}

// Registers advances the simulation and returns the whole register bank.
func (s *Simulator) Registers() []uint16 {
	s.mu.Lock()
	defer s.mu.Unlock()
	return EncodeRegisters(s.sample())
}

func (s *Simulator) WriteCoil(ctx context.Context, addr uint16, value bool) error {
	if err := ctx.Err(); err != nil {
		return err
	}
	s.mu.Lock()
	connected := s.connected
	s.mu.Unlock()
	if !connected {
		return ErrNotConnected
	}
	return s.ApplyCoil(Coil(addr), value)
}

// ApplyCoil executes a coil command without going through a connection.
func (s *Simulator) ApplyCoil(coil Coil, value bool) error {
	switch coil {
	case COIL_REMOTE_START:
		if value {
			s.StartCycle()
		}
	case COIL_REMOTE_STOP:
		if value {
			s.StopCycle()
		}
	case COIL_ALARM_RESET:
		if value {
			s.InjectAlarm(0)
		}
	case COIL_DOOR_LOCK:
		s.mu.Lock()
		s.doorLockReq = value
		s.mu.Unlock()
	default:
		return &ExceptionError{Function: FUNC_WRITE_SINGLE_COIL, Code: 0x02}
	}
	return nil
}

// StartCycle is a no-op unless the simulator is idle or complete.
func (s *Simulator) StartCycle() bool {
	s.mu.Lock()
	defer s.mu.Unlock()
	if s.phase != STATUS_IDLE && s.phase != STATUS_COMPLETE {
		return false
	}
	s.enter(STATUS_HEATING, s.clock())
	s.cycleNumber++
	s.totalCycles++
	return true
}

func (s *Simulator) StopCycle() {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.enter(STATUS_IDLE, s.clock())
}

func (s *Simulator) InjectAlarm(code uint16) {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.alarm = code
}

func (s *Simulator) Phase() Status {
	s.mu.Lock()
	defer s.mu.Unlock()
	return s.phase
}

func (s *Simulator) enter(phase Status, now time.Time) {
	s.phase = phase
	s.phaseStart = now
}

func (s *Simulator) noise() float64 {
	return s.rnd.Float64() - 0.5
}

// advance performs at most one phase transition.
func (s *Simulator) advance(now time.Time) {
	elapsed := now.Sub(s.phaseStart).Seconds()
	switch s.phase {
	case STATUS_HEATING:
		if SIM_AMBIENT_TEMPERATURE+SIM_HEATING_RATE*elapsed >= SIM_STERILIZE_ENTRY {
			s.enter(STATUS_STERILIZING, now)
		}
	case STATUS_STERILIZING:
		if now.Sub(s.phaseStart) >= SIM_STERILIZE_DWELL {
			s.enter(STATUS_COOLING, now)
		}
	case STATUS_COOLING:
		if SIM_STERILIZE_TEMPERATURE-SIM_COOLING_RATE*elapsed <= SIM_COOLING_EXIT {
			s.enter(STATUS_COMPLETE, now)
		}
	case STATUS_COMPLETE:
		if now.Sub(s.phaseStart) >= SIM_COMPLETE_HOLD {
			s.enter(STATUS_IDLE, now)
		}
	}
}

func (s *Simulator) sample() Reading {
	now := s.clock()
	s.advance(now)
	elapsed := now.Sub(s.phaseStart).Seconds()

	r := Reading{
		Timestamp:   now,
		Status:      s.phase,
		WaterLevel:  math.Round(74 + s.noise()*4),
		DoorLocked:  s.doorLockReq || (s.phase != STATUS_IDLE && s.phase != STATUS_COMPLETE),
		HeaterOn:    s.phase == STATUS_HEATING,
		PumpOn:      s.phase == STATUS_HEATING || s.phase == STATUS_STERILIZING,
		CycleNumber: s.cycleNumber,
		TotalCycles: s.totalCycles,
		AlarmCode:   s.alarm,
	}
	steam := 0.0

	switch s.phase {
	case STATUS_IDLE:
		s.temperature = math.Max(SIM_AMBIENT_TEMPERATURE, s.temperature-0.5)
		s.pressure = math.Max(0, s.pressure-0.01)
		r.Temperature = s.temperature + s.noise()
		r.Pressure = s.pressure
	case STATUS_HEATING:
		s.temperature = math.Min(SIM_HEATING_CEILING, SIM_AMBIENT_TEMPERATURE+SIM_HEATING_RATE*elapsed)
		s.pressure = math.Min(1.0, elapsed*0.006)
		r.Temperature = math.Min(SIM_HEATING_CEILING, s.temperature+s.noise())
		r.Pressure = math.Max(0, s.pressure+s.noise()*0.01)
		r.Power = 18 + s.noise()
	case STATUS_STERILIZING:
		s.temperature = SIM_STERILIZE_TEMPERATURE
		s.pressure = SIM_STERILIZE_PRESSURE
		r.Temperature = SIM_STERILIZE_TEMPERATURE + s.noise()*2*SIM_TEMPERATURE_JITTER
		r.Pressure = SIM_STERILIZE_PRESSURE + s.noise()*0.02
		r.Power = 8 + s.noise()
		steam = 8.2 + s.noise()*0.6
	case STATUS_COOLING:
		s.temperature = math.Max(SIM_COOLING_FLOOR, SIM_STERILIZE_TEMPERATURE-SIM_COOLING_RATE*elapsed)
		s.pressure = math.Max(0, SIM_STERILIZE_PRESSURE-0.05*elapsed)
		r.Temperature = s.temperature + s.noise()
		r.Pressure = math.Max(0, s.pressure+s.noise()*0.01)
		r.Power = 0.5 + s.noise()*0.1
	case STATUS_COMPLETE:
		r.Temperature = s.temperature
		r.Pressure = s.pressure
	}
	r.SteamFlow = &steam

	if s.class == CLASS_COMBUSTION {
		s.combustion(&r, elapsed)
	}
	return r
}

func (s *Simulator) combustion(r *Reading, elapsed float64) {
	heatingTime := (SIM_STERILIZE_ENTRY - SIM_AMBIENT_TEMPERATURE) / SIM_HEATING_RATE
	coolingTime := (SIM_STERILIZE_TEMPERATURE - SIM_COOLING_EXIT) / SIM_COOLING_RATE
	burning := s.phase == STATUS_HEATING || s.phase == STATUS_STERILIZING

	var chamber float64
	switch s.phase {
	case STATUS_HEATING:
		chamber = SIM_AMBIENT_TEMPERATURE + (SIM_BURN_TEMPERATURE-SIM_AMBIENT_TEMPERATURE)*math.Min(1, elapsed/heatingTime)
	case STATUS_STERILIZING:
		chamber = SIM_BURN_TEMPERATURE + s.noise()*40
	case STATUS_COOLING:
		chamber = SIM_BURN_TEMPERATURE - (SIM_BURN_TEMPERATURE-60)*math.Min(1, elapsed/coolingTime)
	default:
		chamber = SIM_AMBIENT_TEMPERATURE + s.noise()
	}
	exhaust := chamber * 0.4

	co, nox, so2, co2, fuel := 5.0, 10.0, 2.0, 400.0, 0.0
	if burning {
		co = 30 + s.noise()*20
		nox = 150 + s.noise()*40
		so2 = 50 + s.noise()*20
		co2 = 5000 + s.noise()*400
		fuel = 8 + s.noise()*2
	}
	r.CombustionTemp = &chamber
	r.ExhaustTemp = &exhaust
	r.CO = &co
	r.NOx = &nox
	r.SO2 = &so2
	r.CO2 = &co2
	r.FuelFlow = &fuel
}
