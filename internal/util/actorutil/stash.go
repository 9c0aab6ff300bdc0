package actorutil

import (
	"github.com/asynkron/protoactor-go/actor"
)

// Stash holds messages received in a state that cannot handle them, keeping
// the original sender so replies still reach the requester.
type Stash struct {
	stash []stashElem
}

type stashElem struct {
	msg    any
	sender *actor.PID
}

func (stash *Stash) Stash(ctx actor.Context, msg any) {
	stash.stash = append(stash.stash, stashElem{
		msg:    msg,
		sender: ctx.Sender(),
	})
}

func (stash *Stash) UnstashAll(ctx actor.Context) {
	for _, elem := range stash.stash {
		ctx.RequestWithCustomSender(ctx.Self(), elem.msg, elem.sender)
	}
	stash.stash = nil
}

// Drain drops every stashed message, handing each one to fn first.
func (stash *Stash) Drain(fn func(msg any, sender *actor.PID)) {
	for _, elem := range stash.stash {
		fn(elem.msg, elem.sender)
	}
	stash.stash = nil
}
