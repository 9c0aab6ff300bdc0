package plc_modbus

import "fmt"

type Severity string

const (
	SEVERITY_WARNING  Severity = "warning"
	SEVERITY_CRITICAL Severity = "critical"
)

type AlarmKind int

const (
	// AlarmNone is alarm code 0.
	AlarmNone AlarmKind = iota
	AlarmKnown
	// AlarmUnrecognized is any nonzero code missing from the table. It is reported as critical.
	AlarmUnrecognized
)

type Alarm struct {
	Code     uint16
	Kind     AlarmKind
	Message  string
	Severity Severity
}

func (a Alarm) Active() bool {
	return a.Kind != AlarmNone
}

const ALARM_CODE_UNKNOWN_FAULT uint16 = 99

type alarmEntry struct {
	message  string
	severity Severity
}

var alarmTable = map[uint16]alarmEntry{
	1:                        {"over-temperature", SEVERITY_CRITICAL},
	2:                        {"over-pressure", SEVERITY_CRITICAL},
	3:                        {"under-pressure", SEVERITY_WARNING},
	4:                        {"under-temperature", SEVERITY_WARNING},
	5:                        {"temperature sensor fault", SEVERITY_CRITICAL},
	6:                        {"pressure sensor fault", SEVERITY_CRITICAL},
	7:                        {"door not locked", SEVERITY_WARNING},
	8:                        {"low water level", SEVERITY_WARNING},
	9:                        {"pump short circuit", SEVERITY_CRITICAL},
	10:                       {"heating element short circuit", SEVERITY_CRITICAL},
	11:                       {"HMI communication fault", SEVERITY_WARNING},
	ALARM_CODE_UNKNOWN_FAULT: {"unknown fault", SEVERITY_CRITICAL},
}

// LookupAlarm never fails: codes missing from the table yield an AlarmUnrecognized entry.
func LookupAlarm(code uint16) Alarm {
	if code == 0 {
		return Alarm{Code: 0, Kind: AlarmNone}
	}
	if e, ok := alarmTable[code]; ok {
		return Alarm{Code: code, Kind: AlarmKnown, Message: e.message, Severity: e.severity}
	}
	return Alarm{
		Code:     code,
		Kind:     AlarmUnrecognized,
		Message:  fmt.Sprintf("unknown alarm (code %d)", code),
		Severity: SEVERITY_CRITICAL,
	}
}

// LookupAlarmStrict is LookupAlarm plus ErrUnknownAlarm for unrecognized codes.
func LookupAlarmStrict(code uint16) (Alarm, error) {
	a := LookupAlarm(code)
	if a.Kind == AlarmUnrecognized {
		return a, fmt.Errorf("%w: %d", ErrUnknownAlarm, code)
	}
	return a, nil
}
