package plc_modbus

import (
	"context"
	"io"
	"sync/atomic"
)

type linkState int

const (
	LINK_DISCONNECTED linkState = iota
	LINK_CONNECTED
)

func (s linkState) String() string {
	if s == LINK_CONNECTED {
		return "connected"
	}
	return "disconnected"
}

// link holds a transport handle in one of two states. up and down are the
// only transitions; the handle is only reachable through get while connected.
type link[H io.Closer] struct {
	state     linkState
	handle    H
	connected atomic.Bool
}

func (l *link[H]) up(h H) {
	l.handle = h
	l.state = LINK_CONNECTED
	l.connected.Store(true)
}

func (l *link[H]) down() error {
	if l.state == LINK_DISCONNECTED {
		return nil
	}
	h := l.handle
	var zero H
	l.handle = zero
	l.state = LINK_DISCONNECTED
	l.connected.Store(false)
	return h.Close()
}

func (l *link[H]) get() (H, bool) {
	return l.handle, l.state == LINK_CONNECTED
}

// requestLock admits one request at a time; waiting callers give up when their context ends.
type requestLock chan struct{}

func newRequestLock() requestLock {
	return make(requestLock, 1)
}

func (l requestLock) acquire(ctx context.Context) error {
	select {
	case l <- struct{}{}:
		return nil
	case <-ctx.Done():
		return ctx.Err()
	}
}

func (l requestLock) release() {
	<-l
}
