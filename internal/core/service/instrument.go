package service

import "github.com/berfenger/wastemon/internal/core/domain"

type TickOutcome string

const (
	TICK_OK       TickOutcome = "ok"
	TICK_DEGRADED TickOutcome = "degraded"
	TICK_FAILED   TickOutcome = "failed"
	TICK_SKIPPED  TickOutcome = "skipped"
)

// PollInstrument receives tick and alert events. Nil hooks are ignored.
type PollInstrument struct {
	RecordTick  func(device string, outcome TickOutcome)
	RecordAlert func(device string, kind domain.AlertKind)
}

func (i *PollInstrument) tick(device string, outcome TickOutcome) {
	if i != nil && i.RecordTick != nil {
		i.RecordTick(device, outcome)
	}
}

func (i *PollInstrument) alert(device string, kind domain.AlertKind) {
	if i != nil && i.RecordAlert != nil {
		i.RecordAlert(device, kind)
	}
}
