package storage

import (
	"context"
	"fmt"
	"slices"
	"sync"
	"time"

	"github.com/berfenger/wastemon/internal/core/domain"
	"github.com/berfenger/wastemon/internal/core/port"
	"github.com/berfenger/wastemon/pkg/plc_modbus"
	"github.com/google/uuid"
)

const (
	OP_SAVE_READING   = "save_reading"
	OP_SAVE_ALERT     = "save_alert"
	OP_HAS_OPEN_ALERT = "has_open_alert"
	OP_OPEN_CYCLE     = "current_open_cycle"
	OP_START_CYCLE    = "open_cycle"
	OP_COMPLETE_CYCLE = "complete_cycle"
	OP_CYCLE_SAMPLES  = "cycle_samples"
	OP_CYCLE_WEIGHT   = "cycle_waste_weight"
	OP_DEVICE_STATUS  = "update_device_status"
	OP_UPSERT_ENERGY  = "upsert_energy_record"
)

type StoredReading struct {
	Id      domain.ReadingID
	Device  string
	Cycle   *domain.CycleRef
	Reading plc_modbus.Reading
}

type DeviceState struct {
	Status   domain.DeviceStatus
	LastSeen time.Time
}

type Cycle struct {
	Id          domain.CycleRef
	Device      string
	WasteKg     float64
	StartedAt   time.Time
	Completed   bool
	CompletedAt time.Time
}

// MemoryStorage keeps everything in process. Operations can be made to fail
// with FailWith to exercise error paths.
type MemoryStorage struct {
	mu       sync.RWMutex
	readings []StoredReading
	alerts   []domain.Alert
	devices  map[string]DeviceState
	cycles   map[domain.CycleRef]*Cycle
	energy   map[domain.CycleRef]domain.EnergyRecord
	failures map[string]error
}

func NewMemoryStorage() *MemoryStorage {
	return &MemoryStorage{
		devices:  make(map[string]DeviceState),
		cycles:   make(map[domain.CycleRef]*Cycle),
		energy:   make(map[domain.CycleRef]domain.EnergyRecord),
		failures: make(map[string]error),
	}
}

// FailWith makes op return err until cleared with a nil err.
func (s *MemoryStorage) FailWith(op string, err error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	if err == nil {
		delete(s.failures, op)
		return
	}
	s.failures[op] = err
}

func (s *MemoryStorage) failure(op string) error {
	if err, ok := s.failures[op]; ok {
		return fmt.Errorf("%w: %s: %v", port.ErrStorage, op, err)
	}
	return nil
}

func (s *MemoryStorage) SaveReading(ctx context.Context, device string, cycle *domain.CycleRef, reading plc_modbus.Reading) (domain.ReadingID, error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	if err := s.failure(OP_SAVE_READING); err != nil {
		return "", err
	}
	id := domain.ReadingID(uuid.NewString())
	s.readings = append(s.readings, StoredReading{Id: id, Device: device, Cycle: cycle, Reading: reading})
	return id, nil
}

func (s *MemoryStorage) SaveAlert(ctx context.Context, alert domain.Alert) (domain.AlertID, error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	if err := s.failure(OP_SAVE_ALERT); err != nil {
		return "", err
	}
	alert.Id = domain.AlertID(uuid.NewString())
	s.alerts = append(s.alerts, alert)
	return alert.Id, nil
}

func (s *MemoryStorage) HasOpenAlert(ctx context.Context, device string, kind domain.AlertKind) (bool, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()
	if err := s.failure(OP_HAS_OPEN_ALERT); err != nil {
		return false, err
	}
	return slices.ContainsFunc(s.alerts, func(a domain.Alert) bool {
		return a.Device == device && a.Kind == kind && !a.Resolved
	}), nil
}

func (s *MemoryStorage) ResolveAlert(id domain.AlertID) bool {
	s.mu.Lock()
	defer s.mu.Unlock()
	for i := range s.alerts {
		if s.alerts[i].Id == id {
			s.alerts[i].Resolved = true
			return true
		}
	}
	return false
}

func (s *MemoryStorage) CurrentOpenCycle(ctx context.Context, device string) (*domain.CycleRef, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()
	if err := s.failure(OP_OPEN_CYCLE); err != nil {
		return nil, err
	}
	var open *Cycle
	for _, c := range s.cycles {
		if c.Device == device && !c.Completed && (open == nil || c.StartedAt.After(open.StartedAt)) {
			open = c
		}
	}
	if open == nil {
		return nil, nil
	}
	id := open.Id
	return &id, nil
}

// CycleSamples returns the samples of a cycle ordered by timestamp.
func (s *MemoryStorage) CycleSamples(ctx context.Context, cycle domain.CycleRef) ([]domain.EnergySample, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()
	if err := s.failure(OP_CYCLE_SAMPLES); err != nil {
		return nil, err
	}
	var samples []domain.EnergySample
	for _, r := range s.readings {
		if r.Cycle != nil && *r.Cycle == cycle {
			samples = append(samples, domain.SampleOf(r.Reading))
		}
	}
	slices.SortStableFunc(samples, func(a, b domain.EnergySample) int {
		return a.Timestamp.Compare(b.Timestamp)
	})
	return samples, nil
}

func (s *MemoryStorage) CycleWasteWeight(ctx context.Context, cycle domain.CycleRef) (float64, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()
	if err := s.failure(OP_CYCLE_WEIGHT); err != nil {
		return 0, err
	}
	c, ok := s.cycles[cycle]
	if !ok {
		return 0, fmt.Errorf("%w: unknown cycle %s", port.ErrStorage, cycle)
	}
	return c.WasteKg, nil
}

func (s *MemoryStorage) UpdateDeviceStatus(ctx context.Context, device string, status domain.DeviceStatus, seenAt time.Time) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	if err := s.failure(OP_DEVICE_STATUS); err != nil {
		return err
	}
	state := s.devices[device]
	state.Status = status
	if status != domain.DEVICE_STATUS_OFFLINE {
		state.LastSeen = seenAt
	}
	s.devices[device] = state
	return nil
}

func (s *MemoryStorage) UpsertEnergyRecord(ctx context.Context, record domain.EnergyRecord) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	if err := s.failure(OP_UPSERT_ENERGY); err != nil {
		return err
	}
	s.energy[record.Cycle] = record
	return nil
}

// OpenCycle starts a cycle for a device.
func (s *MemoryStorage) OpenCycle(ctx context.Context, device string, wasteKg float64, startedAt time.Time) (domain.CycleRef, error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	if err := s.failure(OP_START_CYCLE); err != nil {
		return "", err
	}
	id := domain.CycleRef(uuid.NewString())
	s.cycles[id] = &Cycle{Id: id, Device: device, WasteKg: wasteKg, StartedAt: startedAt}
	return id, nil
}

// CompleteCycle closes a cycle. Completing an already closed cycle keeps the
// first completion time.
func (s *MemoryStorage) CompleteCycle(ctx context.Context, cycle domain.CycleRef, completedAt time.Time) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	if err := s.failure(OP_COMPLETE_CYCLE); err != nil {
		return err
	}
	c, ok := s.cycles[cycle]
	if !ok {
		return fmt.Errorf("%w: unknown cycle %s", port.ErrStorage, cycle)
	}
	if !c.Completed {
		c.Completed = true
		c.CompletedAt = completedAt
	}
	return nil
}

// Cycle returns a copy of the stored cycle.
func (s *MemoryStorage) Cycle(cycle domain.CycleRef) (Cycle, bool) {
	s.mu.RLock()
	defer s.mu.RUnlock()
	c, ok := s.cycles[cycle]
	if !ok {
		return Cycle{}, false
	}
	return *c, true
}

func (s *MemoryStorage) Readings(device string) []StoredReading {
	s.mu.RLock()
	defer s.mu.RUnlock()
	var out []StoredReading
	for _, r := range s.readings {
		if r.Device == device {
			out = append(out, r)
		}
	}
	return out
}

func (s *MemoryStorage) Alerts(device string) []domain.Alert {
	s.mu.RLock()
	defer s.mu.RUnlock()
	var out []domain.Alert
	for _, a := range s.alerts {
		if a.Device == device {
			out = append(out, a)
		}
	}
	return out
}

func (s *MemoryStorage) Device(device string) (DeviceState, bool) {
	s.mu.RLock()
	defer s.mu.RUnlock()
	d, ok := s.devices[device]
	return d, ok
}

func (s *MemoryStorage) EnergyRecord(cycle domain.CycleRef) (domain.EnergyRecord, bool) {
	s.mu.RLock()
	defer s.mu.RUnlock()
	r, ok := s.energy[cycle]
	return r, ok
}
