package service

// alarmTracker holds the last alarm code an alert was raised for. A code is
// only remembered after Commit, so a failed save is retried next tick.
type alarmTracker struct {
	last uint16
}

func (a *alarmTracker) Observe(code uint16) bool {
	if code == 0 {
		a.last = 0
		return false
	}
	return code != a.last
}

func (a *alarmTracker) Commit(code uint16) {
	a.last = code
}

func (a *alarmTracker) Last() uint16 {
	return a.last
}
